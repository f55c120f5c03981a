// Package benchmark implements the benchmark synchronizer (driver): it
// waits for every participant to report ALIVE, starts the broadcast by
// invoking the originator's start, and records wall-clock latency to each
// participant's COMPLETED.
package benchmark

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/SohamJog/reliable-broadcast-protocols/common/log"
	"github.com/SohamJog/reliable-broadcast-protocols/core"
	"github.com/SohamJog/reliable-broadcast-protocols/internal/rbc"
)

// SyncState is the SyncMsg.state enumeration.
type SyncState int

const (
	StateAlive SyncState = iota
	StateStarted
	StateStart
	StateCompleted
	StateStop
)

func (s SyncState) String() string {
	switch s {
	case StateAlive:
		return "ALIVE"
	case StateStarted:
		return "STARTED"
	case StateStart:
		return "START"
	case StateCompleted:
		return "COMPLETED"
	case StateStop:
		return "STOP"
	default:
		return "UNKNOWN"
	}
}

// SyncMsg is the driver's control-plane message: { sender, state, value }.
type SyncMsg struct {
	Sender core.ReplicaID
	State  SyncState
	Value  []byte
}

// Syncer is the benchmark driver: a single control-plane channel shared by
// every participant in the run, independent of the RBC Transport those
// participants use amongst themselves.
type Syncer struct {
	n          int
	instance   core.InstanceID
	originator core.ReplicaID
	log        log.Logger

	inCh chan SyncMsg

	mu        sync.Mutex
	latencies map[core.ReplicaID]time.Duration
	startedAt time.Time
}

// NewSyncer builds a driver expecting n participants to report ALIVE before
// starting instance's broadcast.
func NewSyncer(n int, instance core.InstanceID, originator core.ReplicaID, l log.Logger) *Syncer {
	return &Syncer{
		n:          n,
		instance:   instance,
		originator: originator,
		log:        l.Named("syncer"),
		inCh:       make(chan SyncMsg, n*4),
		latencies:  make(map[core.ReplicaID]time.Duration),
	}
}

// ReportAlive is called once by each participant when it is ready to
// receive the broadcast.
func (s *Syncer) ReportAlive(id core.ReplicaID) {
	s.inCh <- SyncMsg{Sender: id, State: StateAlive}
}

// Attach wires node's OnTerminate callback into a COMPLETED report, so the
// Syncer learns of termination without polling.
func (s *Syncer) Attach(node *rbc.Node) {
	node.OnTerminate = func(instance core.InstanceID, payload []byte) {
		if instance != s.instance {
			return
		}
		s.inCh <- SyncMsg{Sender: node.Self, State: StateCompleted, Value: payload}
	}
}

// Run blocks until every participant has reported ALIVE, invokes start
// (the originator's StartBroadcast, normally), then blocks until every
// participant has reported COMPLETED or ctx is done, returning the
// wall-clock latency from START to each participant's COMPLETED.
func (s *Syncer) Run(ctx context.Context, start func(ctx context.Context) error) (map[core.ReplicaID]time.Duration, error) {
	alive := make(map[core.ReplicaID]bool, s.n)
	for len(alive) < s.n {
		select {
		case msg := <-s.inCh:
			if msg.State == StateAlive {
				alive[msg.Sender] = true
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	s.log.Infow("all participants alive, starting broadcast", "instance", s.instance, "n", s.n)

	s.mu.Lock()
	s.startedAt = time.Now()
	s.mu.Unlock()
	if err := start(ctx); err != nil {
		return nil, fmt.Errorf("benchmark: start broadcast: %w", err)
	}

	completed := make(map[core.ReplicaID]bool, s.n)
	for len(completed) < s.n {
		select {
		case msg := <-s.inCh:
			if msg.State == StateCompleted && !completed[msg.Sender] {
				completed[msg.Sender] = true
				s.mu.Lock()
				s.latencies[msg.Sender] = time.Since(s.startedAt)
				s.mu.Unlock()
			}
		case <-ctx.Done():
			return s.snapshot(), ctx.Err()
		}
	}
	return s.snapshot(), nil
}

func (s *Syncer) snapshot() map[core.ReplicaID]time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[core.ReplicaID]time.Duration, len(s.latencies))
	for k, v := range s.latencies {
		out[k] = v
	}
	return out
}
