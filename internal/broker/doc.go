// Package broker defines the message broker gateway consumed by the queue
// actor: opening channels, declaring queues, consuming deliveries and
// publishing correlated messages. Concrete gateways live under
// internal/platform; an in-memory gateway is provided here for tests and
// single-process runs.
package broker
