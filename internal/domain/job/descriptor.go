package job

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Kind identifies a job body compiled into the isolated context's dispatcher.
type Kind string

const (
	KindSocketRelay Kind = "socket-relay"
	KindPollClient  Kind = "poll-client"
)

// Descriptor describes a unit of behavior to run inside an isolated context.
// Only the kind and a JSON parameter record cross the boundary, never code.
type Descriptor struct {
	Kind           Kind            `json:"kind"`
	Params         json.RawMessage `json:"params,omitempty"`
	Immediate      bool            `json:"immediate"`
	ParameterNames []string        `json:"parameterNames,omitempty"`
}

// New builds a descriptor for kind from a JSON-serializable settings value.
// The settings are snapshotted at call time; later mutation of the caller's
// value does not reach the descriptor.
func New(kind Kind, settings any, immediate bool) (Descriptor, error) {
	if kind == "" {
		return Descriptor{}, fmt.Errorf("job kind required")
	}

	var raw json.RawMessage
	if settings != nil {
		data, err := json.Marshal(settings)
		if err != nil {
			return Descriptor{}, fmt.Errorf("failed to encode %s params: %w", kind, err)
		}
		raw = data
	}

	return Descriptor{
		Kind:           kind,
		Params:         raw,
		Immediate:      immediate,
		ParameterNames: parameterNames(raw),
	}, nil
}

// Decode unmarshals the descriptor params into v.
func (d Descriptor) Decode(v any) error {
	if len(d.Params) == 0 {
		return nil
	}
	if err := json.Unmarshal(d.Params, v); err != nil {
		return fmt.Errorf("invalid %s params: %w", d.Kind, err)
	}
	return nil
}

// parameterNames lists the top-level keys of an object params record.
func parameterNames(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil
	}
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CommandName identifies a lifecycle command handled by the dispatcher itself.
type CommandName string

const (
	// CommandClose asks the context to shut itself down and acknowledge.
	CommandClose CommandName = "close"
)

// Command is a lifecycle instruction that bypasses the active handler.
type Command struct {
	Name CommandName `json:"name"`
}
