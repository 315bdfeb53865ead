package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Version is the only payload protocol version this build speaks.
const Version = 2

// envelope is the JSON wire form of a Status.
type envelope struct {
	Version int    `json:"v"`
	Kind    Kind   `json:"kind"`
	Data    []byte `json:"data,omitempty"`
	Text    string `json:"text,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// Encode serializes a status into a version 2 envelope.
// Pending never travels over the broker and is rejected.
func Encode(s Status) ([]byte, error) {
	env := envelope{Version: Version, Kind: s.Kind}

	switch s.Kind {
	case KindInProgress:
		env.Data = s.Data
	case KindSuccess:
		env.Text = s.Text
	case KindFailure:
		if s.Text == "" {
			return nil, fmt.Errorf("encode failure status: empty reason")
		}
		env.Reason = s.Text
	case KindPending:
		return nil, ErrNotWireStatus
	default:
		return nil, fmt.Errorf("encode status: unknown kind %q", s.Kind)
	}

	b, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode status: %w", err)
	}
	return b, nil
}

// Decode parses a version 2 envelope. Anything else, including raw image
// bytes sent by a version 1 peer, fails with ErrProtocolMismatch.
func Decode(payload []byte) (Status, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()

	var env envelope
	if err := dec.Decode(&env); err != nil {
		return Status{}, fmt.Errorf("%w: payload is not a status envelope: %v", ErrProtocolMismatch, err)
	}
	if dec.More() {
		return Status{}, fmt.Errorf("%w: trailing data after envelope", ErrProtocolMismatch)
	}
	if env.Version != Version {
		return Status{}, fmt.Errorf("%w: got version %d, want %d", ErrProtocolMismatch, env.Version, Version)
	}

	switch env.Kind {
	case KindInProgress:
		if env.Text != "" || env.Reason != "" {
			return Status{}, fmt.Errorf("%w: in_progress envelope carries text", ErrProtocolMismatch)
		}
		return InProgress(env.Data), nil
	case KindSuccess:
		if env.Data != nil || env.Reason != "" {
			return Status{}, fmt.Errorf("%w: malformed success envelope", ErrProtocolMismatch)
		}
		return Success(env.Text), nil
	case KindFailure:
		if env.Reason == "" {
			return Status{}, fmt.Errorf("%w: failure envelope without reason", ErrProtocolMismatch)
		}
		return Failure(env.Reason), nil
	default:
		return Status{}, fmt.Errorf("%w: unexpected kind %q", ErrProtocolMismatch, env.Kind)
	}
}
