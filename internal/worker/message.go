package worker

import (
	"encoding/json"
	"fmt"

	"github.com/bytedance/sonic"
)

// Label discriminates messages crossing the context boundary.
type Label string

const (
	LabelJob     Label = "job"
	LabelCommand Label = "command"
	LabelPayload Label = "payload"
	LabelClose   Label = "close"
)

// Message is the only value that crosses the boundary, in either direction.
type Message struct {
	Label Label           `json:"label"`
	Body  json.RawMessage `json:"body,omitempty"`
}

// EncodeMessage serializes body under label. A nil body is omitted.
func EncodeMessage(label Label, body any) ([]byte, error) {
	msg := Message{Label: label}
	if body != nil {
		raw, err := encodeBody(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s body: %w", label, err)
		}
		msg.Body = raw
	}
	data, err := sonic.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s message: %w", label, err)
	}
	return data, nil
}

// DecodeMessage parses wire bytes into a Message.
func DecodeMessage(data []byte) (Message, error) {
	var msg Message
	if err := sonic.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("malformed message: %w", err)
	}
	if msg.Label == "" {
		return Message{}, fmt.Errorf("malformed message: missing label")
	}
	return msg, nil
}

func encodeBody(body any) (json.RawMessage, error) {
	switch v := body.(type) {
	case json.RawMessage:
		if len(v) == 0 {
			return json.RawMessage("null"), nil
		}
		if !json.Valid(v) {
			return nil, fmt.Errorf("invalid raw JSON")
		}
		return append(json.RawMessage(nil), v...), nil
	case []byte:
		// Bytes are sent as a JSON string, never shared.
		return sonic.Marshal(string(v))
	default:
		return sonic.Marshal(v)
	}
}

// decodeBody unmarshals a message body with the wire codec.
func decodeBody(body json.RawMessage, v any) error {
	if len(body) == 0 {
		return fmt.Errorf("empty body")
	}
	return sonic.Unmarshal(body, v)
}
