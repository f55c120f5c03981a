package benchmark

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/SohamJog/reliable-broadcast-protocols/common/log"
	"github.com/SohamJog/reliable-broadcast-protocols/core"
)

func discardLogger() log.Logger {
	return log.New(zapcore.AddSync(io.Discard), log.ErrorLevel, true)
}

func TestSyncerWaitsForAllAliveThenCompleted(t *testing.T) {
	ids := []core.ReplicaID{0, 1, 2}
	s := NewSyncer(len(ids), "instance-1", 0, discardLogger())

	for _, id := range ids {
		id := id
		go s.ReportAlive(id)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	started := make(chan struct{})
	start := func(context.Context) error {
		close(started)
		for _, id := range ids {
			s.inCh <- SyncMsg{Sender: id, State: StateCompleted, Value: []byte("done")}
		}
		return nil
	}

	latencies, err := s.Run(ctx, start)
	require.NoError(t, err)

	select {
	case <-started:
	default:
		t.Fatal("start was never invoked")
	}
	require.Len(t, latencies, len(ids))
	for _, id := range ids {
		require.Contains(t, latencies, id)
	}
}

func TestSyncerPropagatesStartError(t *testing.T) {
	s := NewSyncer(1, "instance-1", 0, discardLogger())
	go s.ReportAlive(0)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	boom := errors.New("boom")
	_, err := s.Run(ctx, func(context.Context) error { return boom })
	require.ErrorIs(t, err, boom)
}

func TestSyncerContextCancellationUnblocksRun(t *testing.T) {
	s := NewSyncer(2, "instance-1", 0, discardLogger())
	go s.ReportAlive(0)
	// Only one of two expected participants reports alive.

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := s.Run(ctx, func(context.Context) error { return nil })
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
