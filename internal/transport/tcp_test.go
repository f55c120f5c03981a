package transport

import (
	"context"
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

func TestTCPTransportSendRecvRoundTrip(t *testing.T) {
	a, err := NewTCPTransport(0, "127.0.0.1:0", nil, discardLogger())
	require.NoError(t, err)
	defer a.Close()

	b, err := NewTCPTransport(1, "127.0.0.1:0", map[core.ReplicaID]string{0: a.listener.Addr().String()}, discardLogger())
	require.NoError(t, err)
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	env := Envelope{Sender: 1, Body: []byte("payload bytes"), MAC: []byte("mac-bytes")}
	b.Send(ctx, 0, env)

	got, err := a.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, env.Sender, got.Sender)
	require.Equal(t, env.Body, got.Body)
	require.Equal(t, env.MAC, got.MAC)
}

func TestTCPTransportCloseUnblocksRecv(t *testing.T) {
	tr, err := NewTCPTransport(0, "127.0.0.1:0", nil, discardLogger())
	require.NoError(t, err)

	require.NoError(t, tr.Close())
	_, err = tr.Recv(context.Background())
	require.ErrorIs(t, err, ErrClosed)
}
