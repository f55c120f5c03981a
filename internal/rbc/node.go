package rbc

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/SohamJog/reliable-broadcast-protocols/common/log"
	"github.com/SohamJog/reliable-broadcast-protocols/core"
	"github.com/SohamJog/reliable-broadcast-protocols/internal/mac"
	"github.com/SohamJog/reliable-broadcast-protocols/internal/metrics"
	"github.com/SohamJog/reliable-broadcast-protocols/internal/transport"
)

// OnTerminate is the application/driver callback invoked once a broadcast
// instance terminates; the benchmark Syncer uses it to measure latency.
type OnTerminate func(instance core.InstanceID, payload []byte)

// Node is the long-running per-party process: it owns a Transport, an
// instance table (Instances below), a dispatch loop (Run), and the
// primitives its chosen RbcVariant needs. A Node runs exactly one
// RbcVariant for its whole lifetime, selected by the "protocol" config
// option at startup.
//
// Concurrency model: single-threaded cooperative. Run pulls one Envelope at
// a time and runs it to completion (including any handler mutation of
// RBCState) before pulling the next; no locking is needed on RBCState
// itself as a result. Sends are fire-and-forget goroutines whose
// CancelHandles are retained so Shutdown can cancel in-flight
// retransmissions.
type Node struct {
	Self      core.ReplicaID
	Group     *core.Group
	Threshold core.Thresholds
	Transport transport.Transport
	Variant   RbcVariant
	Log       log.Logger
	Metrics   *metrics.Recorder

	// Byzantine, if true, makes StartBroadcast (and every variant's
	// dissemination step) send malformed shards to every peer but itself, a
	// test affordance for exercising the non-originator-honest paths.
	Byzantine bool
	// Crash, if true, makes the Node silent: it never sends, simulating a
	// crashed party.
	Crash bool

	OnTerminate OnTerminate

	// Instances is mutated only from the goroutine running Run: the
	// single-threaded cooperative model means no lock is needed on an
	// RBCState once retrieved. startCh is how StartBroadcast, which may be
	// called from any goroutine (the driver/CLI), gets its work onto that
	// same single thread instead of racing Run's handling of incoming
	// Envelopes.
	Instances map[core.InstanceID]*RBCState
	startCh   chan startRequest

	cancelsMu sync.Mutex
	cancels   []transport.CancelHandle
}

type startRequest struct {
	instance core.InstanceID
	payload  []byte
	done     chan error
}

// NewNode builds a Node for replica self within group, running variant.
func NewNode(self core.ReplicaID, group *core.Group, variant RbcVariant, t transport.Transport, l log.Logger, onTerminate OnTerminate) *Node {
	return &Node{
		Self:        self,
		Group:       group,
		Threshold:   core.ComputeThresholds(group.N(), group.F),
		Transport:   t,
		Variant:     variant,
		Log:         l.Named(variant.Name()),
		Metrics:     metrics.NewRecorder(variant.Name()),
		OnTerminate: onTerminate,
		Instances:   make(map[core.InstanceID]*RBCState),
		startCh:     make(chan startRequest),
	}
}

// stateFor returns the RBCState for instance, creating it lazily on first
// reference. Only ever called from the Run goroutine.
func (n *Node) stateFor(instance core.InstanceID, origin core.ReplicaID) *RBCState {
	st, ok := n.Instances[instance]
	if !ok {
		st = NewRBCState(instance)
		st.Origin = origin
		n.Instances[instance] = st
	}
	return st
}

// StartBroadcast is the entry point for the designated originator of
// instance. It may be called from any goroutine; the actual state mutation
// happens on Run's goroutine via startCh, preserving the
// single-threaded-cooperative discipline of the rest of the Node.
func (n *Node) StartBroadcast(ctx context.Context, instance core.InstanceID, payload []byte) error {
	req := startRequest{instance: instance, payload: payload, done: make(chan error, 1)}
	select {
	case n.startCh <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *Node) doStartBroadcast(ctx context.Context, instance core.InstanceID, payload []byte) error {
	if len(payload) == 0 {
		return fmt.Errorf("rbc: empty payload at start for instance %s", instance)
	}
	st := n.stateFor(instance, n.Self)
	if st.Status != StatusInit && st.Status != StatusWaiting {
		return fmt.Errorf("rbc: start requires status INIT or WAITING, got %s", st.Status)
	}
	st.advance(StatusInit)
	return n.Variant.StartBroadcast(ctx, n, instance, payload)
}

// Run is the dispatcher: it pulls one authenticated Envelope or one
// StartBroadcast request at a time, verifies MACs, deserializes the
// ProtMsg, and dispatches to the handler for n.Variant. It runs until ctx
// is cancelled or the transport closes. Both sources of work funnel
// through this one select loop so RBCState is only ever touched from this
// goroutine.
func (n *Node) Run(ctx context.Context) error {
	envCh := make(chan transport.Envelope)
	recvErrCh := make(chan error, 1)
	go func() {
		for {
			env, err := n.Transport.Recv(ctx)
			if err != nil {
				recvErrCh <- err
				return
			}
			select {
			case envCh <- env:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case env := <-envCh:
			n.handleEnvelope(ctx, env)
		case req := <-n.startCh:
			req.done <- n.doStartBroadcast(ctx, req.instance, req.payload)
		case err := <-recvErrCh:
			if ctx.Err() != nil {
				return nil
			}
			return err
		case <-ctx.Done():
			return nil
		}
	}
}

func (n *Node) handleEnvelope(ctx context.Context, env transport.Envelope) {
	peer, ok := n.Group.By(env.Sender)
	if !ok {
		n.Log.Warnw("dropping message from unknown sender", "sender", env.Sender)
		return
	}
	if !mac.Verify(peer.Secret, env.Body, env.MAC) {
		n.Log.Warnw("dropping message with invalid MAC", "sender", env.Sender)
		n.Metrics.IncDrop("mac")
		return
	}
	msg, err := Deserialize(env.Body)
	if err != nil {
		n.Log.Warnw("dropping unparseable message", "sender", env.Sender, "err", err)
		n.Metrics.IncDrop("parse")
		return
	}

	st := n.stateFor(msg.Instance(), env.Sender)
	if st.Terminated {
		// Once terminated, no further state mutations happen for this
		// instance: incoming messages are simply dropped.
		return
	}

	var handleErr error
	switch m := msg.(type) {
	case *InitMsg:
		handleErr = n.Variant.HandleInit(ctx, n, env.Sender, m)
	case *EchoMsg:
		handleErr = n.Variant.HandleEcho(ctx, n, env.Sender, m)
	case *VoteMsg:
		handleErr = n.Variant.HandleVote(ctx, n, env.Sender, m)
	case *ReadyMsg:
		handleErr = n.Variant.HandleReady(ctx, n, env.Sender, m)
	case *CCSendMsg:
		handleErr = n.Variant.HandleSend(ctx, n, env.Sender, m)
	case *CCEchoMsg:
		handleErr = n.Variant.HandleCCEcho(ctx, n, env.Sender, m)
	case *CCReadyMsg:
		handleErr = n.Variant.HandleCCReady(ctx, n, env.Sender, m)
	default:
		n.Log.Warnw("dropping message of unknown type", "sender", env.Sender)
		return
	}
	if handleErr != nil {
		n.Log.Debugw("handler returned error, dropping trigger", "kind", msg.Kind(), "sender", env.Sender, "err", handleErr)
	}
}

// send computes the envelope and fires the send in a goroutine, retaining
// its CancelHandle. Callers must have already released any RBCState
// reference before calling send: compute all actions and extract clones of
// data to be sent, release the state, then perform the sends.
func (n *Node) send(ctx context.Context, to core.ReplicaID, msg ProtMsg) {
	if n.Crash {
		return
	}
	if _, ok := n.Group.By(to); !ok {
		return
	}
	self, ok := n.Group.By(n.Self)
	if !ok {
		n.Log.Errorw("node's own replica id missing from group")
		return
	}
	body, err := Serialize(msg)
	if err != nil {
		n.Log.Errorw("failed to serialize outgoing message", "to", to, "err", err)
		return
	}
	env := transport.Envelope{
		Sender: n.Self,
		Body:   body,
		MAC:    mac.Compute(self.Secret, body),
	}
	handle := n.Transport.Send(ctx, to, env)
	n.cancelsMu.Lock()
	n.cancels = append(n.cancels, handle)
	n.cancelsMu.Unlock()
}

// broadcast sends msg to every other party in the group over the wire and
// invokes our own handler directly for ourselves.
func (n *Node) broadcast(ctx context.Context, msg ProtMsg) {
	n.deliverLocal(ctx, msg)
	n.sendToOthers(ctx, msg)
}

// sendToOthers sends msg to every party except ourselves.
func (n *Node) sendToOthers(ctx context.Context, msg ProtMsg) {
	for _, p := range n.Group.Sorted() {
		if p.ID == n.Self {
			continue
		}
		n.send(ctx, p.ID, msg)
	}
}

// deliverLocal invokes our own handler directly for a message we just
// produced. The loopback still goes through the ordinary MAC check using
// our own secret, so handleEnvelope's authentication path is
// exercised uniformly for local and remote messages.
func (n *Node) deliverLocal(ctx context.Context, msg ProtMsg) {
	body, err := Serialize(msg)
	if err != nil {
		n.Log.Errorw("failed to serialize local message", "err", err)
		return
	}
	self, ok := n.Group.By(n.Self)
	if !ok {
		n.Log.Errorw("node's own replica id missing from group")
		return
	}
	n.handleEnvelope(ctx, transport.Envelope{
		Sender: n.Self,
		Body:   body,
		MAC:    mac.Compute(self.Secret, body),
	})
}

// Shutdown cancels every in-flight send and closes the transport, so a
// graceful shutdown never blocks on a retransmission that will never be
// observed.
func (n *Node) Shutdown() error {
	n.cancelsMu.Lock()
	for _, c := range n.cancels {
		c.Cancel()
	}
	n.cancels = nil
	n.cancelsMu.Unlock()
	return n.Transport.Close()
}

// RunGroup runs Nodes concurrently until ctx is cancelled, using errgroup to
// propagate the first error and cancel the rest — the same graceful
// shutdown discipline as a single Node, generalized to a whole simulated
// group.
func RunGroup(ctx context.Context, nodes []*Node) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, node := range nodes {
		node := node
		g.Go(func() error { return node.Run(ctx) })
	}
	return g.Wait()
}
