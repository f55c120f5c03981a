package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/SohamJog/reliable-broadcast-protocols/core"
)

func TestMemoryNetworkDeliversInFIFOOrder(t *testing.T) {
	ids := []core.ReplicaID{0, 1}
	net := NewMemoryNetwork(ids, 8)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	sender := net.For(0)
	receiver := net.For(1)

	for i := 0; i < 5; i++ {
		sender.Send(ctx, 1, Envelope{Sender: 0, Body: []byte{byte(i)}})
	}

	for i := 0; i < 5; i++ {
		env, err := receiver.Recv(ctx)
		require.NoError(t, err)
		require.Equal(t, []byte{byte(i)}, env.Body)
	}
}

func TestMemoryNetworkPartitionDropsThenHealDelivers(t *testing.T) {
	ids := []core.ReplicaID{0, 1}
	net := NewMemoryNetwork(ids, 8)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	net.Partition(1)
	net.For(0).Send(ctx, 1, Envelope{Sender: 0, Body: []byte("dropped")})

	shortCtx, shortCancel := context.WithTimeout(ctx, 100*time.Millisecond)
	_, err := net.For(1).Recv(shortCtx)
	shortCancel()
	require.Error(t, err, "partitioned destination must not receive the send")

	net.Heal(1)
	net.For(0).Send(ctx, 1, Envelope{Sender: 0, Body: []byte("delivered")})

	env, err := net.For(1).Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, []byte("delivered"), env.Body)
}

func TestMemoryTransportCloseUnblocksRecv(t *testing.T) {
	ids := []core.ReplicaID{0}
	net := NewMemoryNetwork(ids, 1)
	endpoint := net.For(0)

	require.NoError(t, endpoint.Close())
	_, err := endpoint.Recv(context.Background())
	require.ErrorIs(t, err, ErrClosed)
}

func TestMemoryTransportSendCancelIsIdempotent(t *testing.T) {
	ids := []core.ReplicaID{0, 1}
	net := NewMemoryNetwork(ids, 1)
	ctx := context.Background()

	handle := net.For(0).Send(ctx, 1, Envelope{Sender: 0, Body: []byte("x")})
	handle.Cancel()
	handle.Cancel()
}
