package booster

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/GriffinCanCode/booster/internal/jobs/poll"
	"github.com/GriffinCanCode/booster/internal/worker"
)

type (
	// PollSettings configures an AjaxPoller
	PollSettings = poll.Settings
	// Backoff selects a named delay strategy for failed poll cycles
	Backoff = poll.Backoff
	// Record is one completed or failed poll request
	Record = poll.Record
	// Demand is a message to a running poller
	Demand = poll.Demand
)

// Event kinds
const (
	EventMessage = "message"
	EventError   = "error"
	EventSuccess = "success"
)

// ContextFailureStatus marks records synthesized from a failed worker context.
const ContextFailureStatus = -1

var (
	// ErrClosed is returned by methods called after Close
	ErrClosed = worker.ErrClosed
	// ErrUnknownEvent is returned for listener kinds a transport does not emit
	ErrUnknownEvent = errors.New("unknown event kind")
)

// Event is delivered to transport listeners. Socket messages carry Data;
// poller events carry Record; socket errors carry Err.
type Event struct {
	Kind   string
	HostID string
	Data   json.RawMessage
	Record *Record
	Err    error
}

// Decode unmarshals the event payload into v
func (e Event) Decode(v any) error {
	switch {
	case e.Record != nil:
		return json.Unmarshal(e.Record.Payload, v)
	case len(e.Data) > 0:
		return json.Unmarshal(e.Data, v)
	default:
		return fmt.Errorf("%s event has no payload", e.Kind)
	}
}

// Text returns the payload as a string: JSON strings unquoted, anything
// else as JSON text
func (e Event) Text() string {
	if e.Record != nil {
		return e.Record.Text()
	}
	var s string
	if err := json.Unmarshal(e.Data, &s); err == nil {
		return s
	}
	return string(e.Data)
}

// Listener receives transport events
type Listener func(Event)

// Transport is the caller-facing side of a worker-hosted connection
type Transport interface {
	Send(v any) error
	Close() error
	On(kind string, fn Listener)
}

// listenerSet keeps per-kind listeners in registration order.
type listenerSet map[string][]Listener

func (s listenerSet) add(kind string, fn Listener) {
	s[kind] = append(s[kind], fn)
}

func (s listenerSet) snapshot(kind string) []Listener {
	return append([]Listener(nil), s[kind]...)
}
