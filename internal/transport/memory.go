package transport

import (
	"context"
	"errors"
	"sync"

	"github.com/SohamJog/reliable-broadcast-protocols/core"
)

// ErrClosed is returned by Recv once the transport has been closed.
var ErrClosed = errors.New("transport: closed")

// MemoryNetwork wires a fixed set of replicas together in-process with
// per-destination channels: a fully-connected, in-memory fan-out standing
// in for a real network. It is the transport used by cmd/rbcbench and by
// every property test in internal/rbc, letting every
// correctness property be checked against a simulated network without any
// sockets.
type MemoryNetwork struct {
	mu     sync.Mutex
	queues map[core.ReplicaID]*memoryTransport
}

// NewMemoryNetwork creates a fully-connected in-memory network for the
// given replica ids, each with inbound queue capacity bufSize.
func NewMemoryNetwork(ids []core.ReplicaID, bufSize int) *MemoryNetwork {
	n := &MemoryNetwork{queues: make(map[core.ReplicaID]*memoryTransport, len(ids))}
	for _, id := range ids {
		n.queues[id] = &memoryTransport{
			self: id,
			net:  n,
			inCh: make(chan Envelope, bufSize),
		}
	}
	return n
}

// For returns the Transport endpoint owned by replica id.
func (n *MemoryNetwork) For(id core.ReplicaID) Transport {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.queues[id]
}

// Partition drops all future delivery to `to` until Heal is called,
// modeling a network-delayed or crashed peer for scenario tests.
func (n *MemoryNetwork) Partition(to core.ReplicaID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if t, ok := n.queues[to]; ok {
		t.setPartitioned(true)
	}
}

// Heal reverses Partition.
func (n *MemoryNetwork) Heal(to core.ReplicaID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if t, ok := n.queues[to]; ok {
		t.setPartitioned(false)
	}
}

type memoryTransport struct {
	self core.ReplicaID
	net  *MemoryNetwork

	mu          sync.Mutex
	partitioned bool
	closed      bool
	lastSend    map[core.ReplicaID]chan struct{}

	inCh chan Envelope
}

func (t *memoryTransport) setPartitioned(v bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.partitioned = v
}

// Send delivers msg to replica's inbound queue. Each Send to a destination
// waits for the previous Send from this endpoint to that destination to
// finish, so per-sender delivery keeps call order. Send on a closed
// endpoint does nothing.
func (t *memoryTransport) Send(ctx context.Context, replica core.ReplicaID, msg Envelope) CancelHandle {
	done := make(chan struct{})
	cancel := make(chan struct{})
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return cancelFunc(nil)
	}
	if t.lastSend == nil {
		t.lastSend = make(map[core.ReplicaID]chan struct{})
	}
	prev := t.lastSend[replica]
	t.lastSend[replica] = done
	t.mu.Unlock()
	go func() {
		defer close(done)
		if prev != nil {
			select {
			case <-prev:
			case <-ctx.Done():
				return
			case <-cancel:
				return
			}
		}
		t.net.mu.Lock()
		dest, ok := t.net.queues[replica]
		t.net.mu.Unlock()
		if !ok {
			return
		}
		dest.mu.Lock()
		partitioned := dest.partitioned || dest.closed
		dest.mu.Unlock()
		if partitioned {
			return
		}
		select {
		case dest.inCh <- msg:
		case <-ctx.Done():
		case <-cancel:
		}
	}()
	var once sync.Once
	return cancelFunc(func() {
		once.Do(func() { close(cancel) })
	})
}

func (t *memoryTransport) Recv(ctx context.Context) (Envelope, error) {
	select {
	case m, ok := <-t.inCh:
		if !ok {
			return Envelope{}, ErrClosed
		}
		return m, nil
	case <-ctx.Done():
		return Envelope{}, ctx.Err()
	}
}

func (t *memoryTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	close(t.inCh)
	return nil
}
