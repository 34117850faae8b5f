package protocol

import (
	"encoding/json"
	"fmt"
)

// DecodeFrame parses a raw inbound frame. It rejects malformed JSON and
// frames without a type, but deliberately accepts unknown types: forward
// compatibility with new event kinds is handled by the dispatcher, not here.
func DecodeFrame(raw []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if f.Type == "" {
		return nil, fmt.Errorf("missing 'type' field")
	}
	return &f, nil
}

// DecodePayload unmarshals a frame's payload into v. A frame with no payload
// is an error for the kinds that require one.
func DecodePayload(f *Frame, v interface{}) error {
	if f.Payload == nil {
		return fmt.Errorf("missing 'payload' field for %s", f.Type)
	}
	if err := json.Unmarshal(f.Payload, v); err != nil {
		return fmt.Errorf("invalid payload for %s: %w", f.Type, err)
	}
	return nil
}

// Encode serializes a frame for the wire.
func (f *Frame) Encode() ([]byte, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("marshal frame: %w", err)
	}
	return data, nil
}
