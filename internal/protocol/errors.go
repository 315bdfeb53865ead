package protocol

import "errors"

var (
	// ErrProtocolMismatch is returned when a payload cannot be read as a
	// version 2 status envelope. Peers speaking another protocol version land here.
	ErrProtocolMismatch = errors.New("protocol mismatch")

	// ErrNotWireStatus is returned when encoding a status that never travels
	// over the broker (Pending).
	ErrNotWireStatus = errors.New("status cannot be sent over the broker")
)
