// Package notify schedules survey invitations and pushes them to devices.
//
// The Dispatcher accepts requests from the engines without blocking, the Scheduler holds a timer
// per pending notification and the Hub carries delivered notifications to the device's
// websocket connections. Every lifecycle step is written to the audit sink.
package notify

import (
	"errors"
	"fmt"
)

var (
	ErrDuplicateIdentifier = errors.New("notification identifier already scheduled")
	ErrUnknownNotification = errors.New("unknown notification")
)

// SchedulingError reports a notification the scheduler refused. It is logged, not retried.
type SchedulingError struct {
	ID  string
	Err error
}

func (e *SchedulingError) Error() string {
	return fmt.Sprintf("schedule %s: %v", e.ID, e.Err)
}

func (e *SchedulingError) Unwrap() error { return e.Err }
