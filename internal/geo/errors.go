package geo

import (
	"errors"
	"fmt"
)

// MalformedAreaError rejects a single area at load time. Other areas in the same load are unaffected.
type MalformedAreaError struct {
	Name   string
	Index  int
	Reason string
}

func (e *MalformedAreaError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("malformed area #%d: %s", e.Index, e.Reason)
	}
	return fmt.Sprintf("malformed area %q (#%d): %s", e.Name, e.Index, e.Reason)
}

// MalformedAreas unpacks every MalformedAreaError joined into err.
func MalformedAreas(err error) []*MalformedAreaError {
	if err == nil {
		return nil
	}
	var out []*MalformedAreaError
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			out = append(out, MalformedAreas(e)...)
		}
		return out
	}
	var m *MalformedAreaError
	if errors.As(err, &m) {
		out = append(out, m)
	}
	return out
}
