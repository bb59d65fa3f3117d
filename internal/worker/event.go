package worker

import (
	"encoding/json"
	"fmt"
)

// EventKind names what a listener subscribes to.
type EventKind string

const (
	EventMessage EventKind = "message"
	EventError   EventKind = "error"

	// eventClose carries close acknowledgments to the host's End machinery.
	eventClose EventKind = "close"
)

// Event is delivered to listeners on the host's dispatch goroutine.
type Event struct {
	Kind   EventKind
	HostID string
	Data   json.RawMessage
	Err    error
}

// Decode unmarshals the event payload into v.
func (e Event) Decode(v any) error {
	if e.Kind != EventMessage {
		return fmt.Errorf("cannot decode %s event", e.Kind)
	}
	return decodeBody(e.Data, v)
}

// Listener receives host events.
type Listener func(Event)

// upstream is what the isolated context hands back to its host: either
// encoded message bytes or an out-of-band failure.
type upstream struct {
	data []byte
	err  error
}
