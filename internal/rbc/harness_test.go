package rbc

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/SohamJog/reliable-broadcast-protocols/common/log"
	"github.com/SohamJog/reliable-broadcast-protocols/core"
	"github.com/SohamJog/reliable-broadcast-protocols/internal/transport"
)

func discardLogger() log.Logger {
	return log.New(zapcore.AddSync(io.Discard), log.ErrorLevel, true)
}

func secretFor(id core.ReplicaID) []byte {
	return []byte(fmt.Sprintf("pairwise-secret-%d", id))
}

// newTestGroup builds an n-party group with adversary bound f and a
// distinct MAC secret per party. Addr is left nil: the memory transport
// never dials by address.
func newTestGroup(n, f int) *core.Group {
	parties := make([]core.Party, n)
	for i := 0; i < n; i++ {
		parties[i] = core.Party{ID: core.ReplicaID(i), Secret: secretFor(core.ReplicaID(i))}
	}
	return &core.Group{Parties: parties, F: f}
}

// testCluster wires one Node per party over a shared MemoryNetwork, with
// OnTerminate fanned into a per-replica buffered channel so tests can await
// termination without polling Instances directly.
type testCluster struct {
	group *core.Group
	net   *transport.MemoryNetwork
	nodes map[core.ReplicaID]*Node
	term  map[core.ReplicaID]chan []byte
}

func newTestCluster(t *testing.T, protocol string, n, f int) *testCluster {
	t.Helper()
	group := newTestGroup(n, f)
	require.NoError(t, group.Validate())

	ids := make([]core.ReplicaID, n)
	for i := range ids {
		ids[i] = core.ReplicaID(i)
	}
	net := transport.NewMemoryNetwork(ids, n*16)

	cl := &testCluster{
		group: group,
		net:   net,
		nodes: make(map[core.ReplicaID]*Node, n),
		term:  make(map[core.ReplicaID]chan []byte, n),
	}
	for _, id := range ids {
		variant, err := NewVariant(protocol)
		require.NoError(t, err)
		termCh := make(chan []byte, 1)
		node := NewNode(id, group, variant, net.For(id), discardLogger(), func(_ core.InstanceID, payload []byte) {
			termCh <- payload
		})
		cl.nodes[id] = node
		cl.term[id] = termCh
	}
	return cl
}

// run starts every node's dispatch loop and returns a cancel func that stops
// them all.
func (cl *testCluster) run(ctx context.Context) context.CancelFunc {
	runCtx, cancel := context.WithCancel(ctx)
	for _, node := range cl.nodes {
		node := node
		go func() { _ = node.Run(runCtx) }()
	}
	return cancel
}

// awaitTermination blocks until id's Node terminates instance or timeout
// elapses, returning the delivered payload (nil on non-terminating or
// failed-recovery outcomes) and whether termination was observed at all.
func (cl *testCluster) awaitTermination(t *testing.T, id core.ReplicaID, timeout time.Duration) ([]byte, bool) {
	t.Helper()
	select {
	case payload := <-cl.term[id]:
		return payload, true
	case <-time.After(timeout):
		return nil, false
	}
}

// requireNoTermination asserts id has not terminated within timeout.
func (cl *testCluster) requireNoTermination(t *testing.T, id core.ReplicaID, timeout time.Duration) {
	t.Helper()
	select {
	case <-cl.term[id]:
		t.Fatalf("replica %d terminated, expected it not to within %s", id, timeout)
	case <-time.After(timeout):
	}
}
