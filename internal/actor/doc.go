// Package actor implements the queue actor: a single consume loop bound to a
// source queue and a target queue that hands each delivery to a pluggable
// Handler and publishes the handler's reply under the original correlation
// id. The same loop also serves direct sends from callers outside the broker,
// such as HTTP handlers, minting a correlation id for each one.
package actor
