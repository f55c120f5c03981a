// Package transport implements the Transport contract every Node depends
// on: an authenticated, reliable, per-peer-FIFO point-to-point channel.
// This package provides the two concrete bindings a complete repo needs to
// actually run: an in-memory Memory transport for simulation/property
// tests, and a minimal TCP+gob transport for real multi-process deployment
// (internal/transport/tcp.go).
//
// Transport is deliberately opaque to ProtMsg: it only moves
// (sender, body bytes, mac) envelopes. The rbc package owns message
// (de)serialization and MAC verification.
package transport

import (
	"context"

	"github.com/SohamJog/reliable-broadcast-protocols/core"
)

// Envelope is the wire wrapper around one message: the protocol message is
// kept as opaque, already-serialized bytes. Body is the gob encoding of one
// rbc.ProtMsg, and MAC is HMAC(secret, Body).
type Envelope struct {
	Sender core.ReplicaID
	Body   []byte
	MAC    []byte
}

// CancelHandle lets the caller cancel an in-flight send: every network send
// is an awaitable operation, and the transport returns a cancel handle so a
// graceful shutdown can cancel retransmissions still in flight. Cancel is
// idempotent.
type CancelHandle interface {
	Cancel()
}

// Transport is the consumed interface: per-peer FIFO, best-effort,
// authenticated delivery, plus a single inbound queue shared across all
// peers (a Node has exactly one Transport and reads every peer's messages
// off of it in delivery order).
type Transport interface {
	// Send delivers msg to replica, returning a handle that can cancel the
	// in-flight send, so a Node's graceful shutdown can cancel
	// retransmissions still in flight.
	Send(ctx context.Context, replica core.ReplicaID, msg Envelope) CancelHandle

	// Recv blocks until the next authenticated message is available, or ctx
	// is done.
	Recv(ctx context.Context) (Envelope, error)

	// Close releases transport resources. After Close, Recv returns
	// ErrClosed and Send is a no-op.
	Close() error
}

type cancelFunc func()

func (f cancelFunc) Cancel() {
	if f != nil {
		f()
	}
}
