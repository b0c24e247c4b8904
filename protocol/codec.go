package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type wireMessage struct {
	Header  Header          `json:"header"`
	Payload json.RawMessage `json:"payload"`
}

// Marshal validates msg and encodes it to the wire format.
func Marshal(msg *Message) ([]byte, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(msg.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}

	data, err := json.Marshal(wireMessage{Header: msg.Header, Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	return data, nil
}

// Unmarshal decodes a wire message. The header is decoded first and its
// message type selects the payload schema; the payload must match that
// schema exactly.
func Unmarshal(data []byte) (*Message, error) {
	var wire wireMessage
	if err := strictDecode(data, &wire); err != nil {
		return nil, fmt.Errorf("%w: decode message: %v", ErrPayloadValidation, err)
	}

	if err := wire.Header.Validate(); err != nil {
		return nil, err
	}

	if len(wire.Payload) == 0 || bytes.Equal(bytes.TrimSpace(wire.Payload), []byte("null")) {
		return nil, required("payload")
	}

	payload, err := NewPayload(wire.Header.MessageType)
	if err != nil {
		return nil, err
	}
	if err := strictDecode(wire.Payload, payload); err != nil {
		return nil, fmt.Errorf(
			"%w: decode %s payload: %v",
			ErrPayloadValidation,
			wire.Header.MessageType,
			err,
		)
	}

	msg := &Message{Header: wire.Header, Payload: payload}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return msg, nil
}

// strictDecode rejects unknown fields and keeps numbers held in untyped
// fields as json.Number, so integers of any size survive a round trip.
func strictDecode(data []byte, v any) error {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	decoder.UseNumber()
	if err := decoder.Decode(v); err != nil {
		return err
	}
	if decoder.More() {
		return fmt.Errorf("trailing data after JSON value")
	}
	return nil
}
