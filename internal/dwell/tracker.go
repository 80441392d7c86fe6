// Package dwell tracks how long a device has stayed in its current area.
//
// A Tracker holds at most one current area. Entering a different area discards the previous dwell
// without reporting it, so only a stay that reaches the threshold is ever reported, and each stay is
// reported at most once. Trackers are not safe for concurrent use; the owner serializes access.
package dwell

import "time"

// DefaultThreshold is how long a stay must last before it is reported.
const DefaultThreshold = 5 * time.Minute

// Kind describes what an observation did to the tracker.
type Kind int

const (
	Unchanged Kind = iota // same area as before, or still no area
	Entered               // Idle -> Dwelling
	Switched              // Dwelling(A) -> Dwelling(B)
	Exited                // Dwelling -> Idle
)

func (k Kind) String() string {
	switch k {
	case Entered:
		return "entered"
	case Switched:
		return "switched"
	case Exited:
		return "exited"
	default:
		return "unchanged"
	}
}

// State is a snapshot of the current dwell. Zero value means Idle.
type State struct {
	AreaName   string
	EnteredAt  time.Time
	LastSeenAt time.Time
	Fired      bool
}

// Idle reports whether no area is current.
func (s State) Idle() bool { return s.AreaName == "" }

// Elapsed is the dwell time as of now.
func (s State) Elapsed(now time.Time) time.Duration {
	if s.Idle() {
		return 0
	}
	return now.Sub(s.EnteredAt)
}

// Completion is the dwell-complete signal.
type Completion struct {
	AreaName  string
	EnteredAt time.Time
	At        time.Time
	Elapsed   time.Duration
}

// Transition is the result of one observation.
type Transition struct {
	Kind      Kind
	Previous  string // area left, if any
	Abandoned time.Duration
	// Completion is set when this observation crossed the threshold.
	Completion *Completion
}

type Tracker struct {
	threshold time.Duration
	cur       *State
}

func NewTracker(threshold time.Duration) *Tracker {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Tracker{threshold: threshold}
}

func (t *Tracker) Threshold() time.Duration { return t.threshold }

// State returns a copy of the current dwell.
func (t *Tracker) State() State {
	if t.cur == nil {
		return State{}
	}
	return *t.cur
}

// Observe feeds the area resolved for a sample taken at now. An empty area means the sample
// resolved to no area.
func (t *Tracker) Observe(area string, now time.Time) Transition {
	var tr Transition
	switch {
	case t.cur == nil && area == "":
		return tr
	case t.cur == nil:
		tr.Kind = Entered
		t.cur = &State{AreaName: area, EnteredAt: now, LastSeenAt: now}
	case area == "":
		tr.Kind = Exited
		tr.Previous = t.cur.AreaName
		tr.Abandoned = now.Sub(t.cur.EnteredAt)
		t.cur = nil
		return tr
	case area != t.cur.AreaName:
		tr.Kind = Switched
		tr.Previous = t.cur.AreaName
		tr.Abandoned = now.Sub(t.cur.EnteredAt)
		t.cur = &State{AreaName: area, EnteredAt: now, LastSeenAt: now}
	default:
		if now.After(t.cur.LastSeenAt) {
			t.cur.LastSeenAt = now
		}
	}
	if c, ok := t.Poll(now); ok {
		tr.Completion = &c
	}
	return tr
}

// Poll checks the threshold without a new sample. It reports a Completion exactly once per dwell.
func (t *Tracker) Poll(now time.Time) (Completion, bool) {
	if t.cur == nil || t.cur.Fired {
		return Completion{}, false
	}
	elapsed := now.Sub(t.cur.EnteredAt)
	if elapsed < t.threshold {
		return Completion{}, false
	}
	t.cur.Fired = true
	return Completion{AreaName: t.cur.AreaName, EnteredAt: t.cur.EnteredAt, At: now, Elapsed: elapsed}, true
}

// Reset returns the tracker to Idle, dropping any dwell in progress.
func (t *Tracker) Reset() { t.cur = nil }
