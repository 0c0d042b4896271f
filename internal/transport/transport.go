// Package transport defines the interface for the network front ends of the
// daemon.
//
// Each transport (HTTP/WebSocket, gRPC) owns its listener and serves until
// the context passed to Listen is cancelled. Transports never talk to the
// assistant directly; chat turns go through the chat engine.
package transport

import "context"

// Transport is the interface that every transport adapter must implement.
type Transport interface {
	// Name returns the transport identifier (e.g., "grpc", "http").
	Name() string

	// Listen starts accepting connections. It blocks until the context is
	// cancelled or the listener fails.
	Listen(ctx context.Context) error

	// SetReady reports whether the daemon can serve traffic.
	SetReady(ready bool)

	// Close gracefully shuts down the transport, draining in-flight work.
	Close() error
}
