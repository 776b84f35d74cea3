// Package status maps connection lifecycle and node conditions to the
// small vocabulary a flow host renders next to each node.
package status

import (
	"sync"

	"github.com/touchon/flowbus/internal/infrastructure/wsconn"
)

type Severity string

const (
	SeverityOK    Severity = "ok"
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

type Shape string

const (
	ShapeDot  Shape = "dot"
	ShapeRing Shape = "ring"
)

// Status is one rendered node status.
type Status struct {
	Severity Severity `json:"severity"`
	Shape    Shape    `json:"shape"`
	Text     string   `json:"text"`
}

func Connected() Status {
	return Status{Severity: SeverityOK, Shape: ShapeDot, Text: "connected"}
}

func Disconnected() Status {
	return Status{Severity: SeverityWarn, Shape: ShapeRing, Text: "disconnected"}
}

func NoServer() Status {
	return Status{Severity: SeverityWarn, Shape: ShapeRing, Text: "no server"}
}

// FromState maps a connection state; anything but connected reads as
// disconnected.
func FromState(s wsconn.State) Status {
	if s == wsconn.StateConnected {
		return Connected()
	}
	return Disconnected()
}

// FromError reports a local processing failure with the error text.
func FromError(err error) Status {
	text := "error"
	if err != nil {
		text = err.Error()
	}
	return Status{Severity: SeverityError, Shape: ShapeRing, Text: text}
}

// Reporter holds the latest status of one node.
type Reporter struct {
	mu       sync.RWMutex
	current  Status
	revision uint64 // bumped by every Set
	onChange func(Status)
}

// NewReporter starts at initial. onChange, if set, runs after every Set
// that changes the value, outside the Reporter's lock.
func NewReporter(initial Status, onChange func(Status)) *Reporter {
	return &Reporter{current: initial, onChange: onChange}
}

// Set stores s and reports whether it differs from the previous value.
func (r *Reporter) Set(s Status) bool {
	r.mu.Lock()
	r.revision++
	changed := r.current != s
	r.current = s
	fn := r.onChange
	r.mu.Unlock()

	if changed && fn != nil {
		fn(s)
	}
	return changed
}

// Watched is the part of a connection whose lifecycle a Reporter follows.
type Watched interface {
	State() wsconn.State
	OnOpen(fn func()) wsconn.RegistrationID
	OnClose(fn func(error)) wsconn.RegistrationID
}

// Follow keeps r in step with conn's open and close notifications and
// returns the two registrations. The handlers are registered before the
// current state is read, and that read is only applied if no handler has
// reported a transition in the meantime.
func (r *Reporter) Follow(conn Watched) []wsconn.RegistrationID {
	r.mu.RLock()
	mark := r.revision
	r.mu.RUnlock()

	regs := []wsconn.RegistrationID{
		conn.OnOpen(func() { r.Set(Connected()) }),
		conn.OnClose(func(error) { r.Set(Disconnected()) }),
	}

	initial := FromState(conn.State())

	r.mu.Lock()
	if r.revision != mark {
		r.mu.Unlock()
		return regs
	}
	r.revision++
	changed := r.current != initial
	r.current = initial
	fn := r.onChange
	r.mu.Unlock()

	if changed && fn != nil {
		fn(initial)
	}
	return regs
}

// Current returns the latest status.
func (r *Reporter) Current() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}
