// Package task tracks the lifecycle of submitted images. It holds the
// in-memory registry of task records, the submit path that turns an upload
// into a correlated request on the broker, and the result handler that
// applies worker replies to the registry.
package task
