// Package protocol defines the correlation identifier and the message payload
// format shared by the server and worker processes. Every payload that crosses
// the broker is a versioned, tagged status envelope serialized as JSON text.
package protocol
