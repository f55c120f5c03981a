package codec

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeReconstructRoundTrip(t *testing.T) {
	payload := []byte("the quick brown fox jumps over the lazy dog")
	k, parity := 3, 2

	shards, err := Encode(payload, k, parity)
	require.NoError(t, err)
	require.Len(t, shards, k+parity)

	got, err := Reconstruct(shardsCopy(shards), k, parity)
	require.NoError(t, err)
	require.True(t, bytes.Equal(payload, got))
}

func TestReconstructToleratesMissingShards(t *testing.T) {
	payload := make([]byte, 4096)
	_, err := rand.Read(payload)
	require.NoError(t, err)
	k, parity := 4, 3

	shards, err := Encode(payload, k, parity)
	require.NoError(t, err)

	sparse := make([][]byte, len(shards))
	copy(sparse, shards)
	// Drop exactly parity shards, leaving exactly k: reconstruction must
	// still succeed at the boundary.
	for i := 0; i < parity; i++ {
		sparse[i] = nil
	}
	got, err := Reconstruct(sparse, k, parity)
	require.NoError(t, err)
	require.True(t, bytes.Equal(payload, got))
}

func TestReconstructFailsBelowK(t *testing.T) {
	payload := []byte("short payload")
	k, parity := 4, 3
	shards, err := Encode(payload, k, parity)
	require.NoError(t, err)

	sparse := make([][]byte, len(shards))
	copy(sparse, shards)
	// Only k-1 shards present.
	for i := 0; i < parity+1; i++ {
		sparse[i] = nil
	}
	_, err = Reconstruct(sparse, k, parity)
	require.ErrorIs(t, err, ErrNotEnoughShards)
}

func TestEmptyPayloadRoundTrips(t *testing.T) {
	k, parity := 2, 1
	shards, err := Encode([]byte{}, k, parity)
	require.NoError(t, err)

	got, err := Reconstruct(shardsCopy(shards), k, parity)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestVerifyConsistentDetectsTamperedShard(t *testing.T) {
	payload := bytes.Repeat([]byte{0x42}, 1024)
	k, parity := 3, 2
	shards, err := Encode(payload, k, parity)
	require.NoError(t, err)

	ok, err := VerifyConsistent(shardsCopy(shards), k, parity)
	require.NoError(t, err)
	require.True(t, ok)

	tampered := shardsCopy(shards)
	tampered[0] = append([]byte{}, tampered[0]...)
	tampered[0][0] ^= 0xFF
	ok, err = VerifyConsistent(tampered, k, parity)
	require.NoError(t, err)
	require.False(t, ok)
}

func shardsCopy(shards [][]byte) [][]byte {
	out := make([][]byte, len(shards))
	copy(out, shards)
	return out
}
