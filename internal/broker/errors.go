package broker

import "errors"

// Common errors returned by gateways
var (
	// ErrConnection indicates the broker could not be reached or refused the client.
	ErrConnection = errors.New("broker connection failed")

	// ErrPublish indicates the broker rejected or could not accept a message.
	ErrPublish = errors.New("broker publish failed")

	// ErrQueueNotDeclared is returned when using a queue that was never declared.
	ErrQueueNotDeclared = errors.New("queue not declared")

	// ErrClosed is returned when operating on a closed gateway or channel.
	ErrClosed = errors.New("broker channel closed")
)
