package mac

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestComputeVerifyRoundTrip(t *testing.T) {
	secret := []byte("pairwise-secret")
	data := []byte("echo payload bytes")

	tag := Compute(secret, data)
	require.Len(t, tag, Size)
	require.True(t, Verify(secret, data, tag))
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	data := []byte("echo payload bytes")
	tag := Compute([]byte("secret-a"), data)
	require.False(t, Verify([]byte("secret-b"), data, tag))
}

func TestVerifyRejectsTamperedData(t *testing.T) {
	secret := []byte("pairwise-secret")
	tag := Compute(secret, []byte("original"))
	require.False(t, Verify(secret, []byte("tampered!"), tag))
}

func TestVerifyRejectsTruncatedTag(t *testing.T) {
	secret := []byte("pairwise-secret")
	data := []byte("echo payload bytes")
	tag := Compute(secret, data)
	require.False(t, Verify(secret, data, tag[:Size-1]))
}
