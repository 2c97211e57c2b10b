// Package transport delivers now-playing updates to clients outside the
// process.
package transport

// Transport defines a generic interface for sending state updates.
// Implementations should be thread-safe.
type Transport interface {
	Send(data any) error
	Close() error
}
