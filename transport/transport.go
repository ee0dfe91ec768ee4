// Package transport provides the duplex message transports the relay core
// runs over: a dialed WebSocket to the remote inference service and an
// accepted WebSocket standing in for the browser's data channel. The core
// consumes only the narrow Transport interface.
package transport

import (
	"context"
	"errors"
)

// ErrClosed is returned by operations on a closed transport.
var ErrClosed = errors.New("transport: connection closed")

// Transport is a message-oriented duplex channel. Send and Receive may block
// on backpressure; both honor context cancellation. Implementations must
// support one concurrent sender and one concurrent receiver.
type Transport interface {
	// Send writes one message. Safe for concurrent use.
	Send(ctx context.Context, data []byte) error

	// Receive blocks until the next message, context cancellation, or
	// transport failure.
	Receive(ctx context.Context) ([]byte, error)

	// Close tears the connection down. Safe to call multiple times.
	Close() error
}
