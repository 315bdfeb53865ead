package actor

import "errors"

var (
	// ErrSetup wraps any failure while opening the channel, declaring the
	// queues or starting the consumer. It is fatal for the actor.
	ErrSetup = errors.New("queue actor setup failed")

	// ErrConsumerClosed is returned by Run when the broker ends the delivery stream.
	ErrConsumerClosed = errors.New("delivery stream closed")

	// ErrMissingCorrelationID marks a delivery that cannot be answered.
	ErrMissingCorrelationID = errors.New("delivery has no correlation id")

	// ErrStopped is returned by Send once the run loop has exited.
	ErrStopped = errors.New("queue actor stopped")

	// ErrAlreadyRunning is returned when Run is called twice.
	ErrAlreadyRunning = errors.New("queue actor already running")

	// ErrOutboundClosed is returned when queueing a reply after Close.
	ErrOutboundClosed = errors.New("outbound queue is closed")

	// ErrOutboundFull is returned when the publisher cannot keep up.
	ErrOutboundFull = errors.New("outbound queue is full")
)
