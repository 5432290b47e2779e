// Package transport provides the event channel implementations the session
// layers its JSON protocol on: a WebRTC data channel (primary) and a
// WebSocket fallback for hosts that cannot negotiate media.
package transport

import "errors"

// ErrChannelClosed indicates a send was attempted while the channel is not
// open. Callers are expected to gate on connection state; there is no
// queueing.
var ErrChannelClosed = errors.New("transport: event channel is not open")

// EventChannel is a low-latency, ordered, bidirectional message channel.
// Handlers must be registered before the channel opens; implementations
// invoke them from their own receive goroutines.
type EventChannel interface {
	// Send writes one message. Returns ErrChannelClosed if the channel is
	// not open.
	Send(data []byte) error

	// IsOpen reports whether the channel is currently open for sending.
	IsOpen() bool

	// OnOpen registers the open handler.
	OnOpen(fn func())

	// OnClose registers the close handler.
	OnClose(fn func())

	// OnMessage registers the inbound message handler.
	OnMessage(fn func(data []byte))

	// Close tears the channel down. Safe to call more than once.
	Close() error
}
