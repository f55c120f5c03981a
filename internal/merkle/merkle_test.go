package merkle

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func shardsOf(n int) [][]byte {
	out := make([][]byte, n)
	for i := range out {
		out[i] = []byte{byte(i), byte(i * 7), byte(i + 1)}
	}
	return out
}

func TestConstructRejectsEmpty(t *testing.T) {
	_, err := Construct(nil)
	require.Error(t, err)
}

func TestProofRoundTripEveryLeaf(t *testing.T) {
	for _, n := range []int{1, 2, 3, 4, 5, 7, 8, 13} {
		shards := shardsOf(n)
		tree, err := Construct(shards)
		require.NoError(t, err)
		root := tree.Root()

		for i := 0; i < n; i++ {
			proof, err := tree.GenProof(i)
			require.NoError(t, err)
			require.Equal(t, root, proof.Root())
			require.True(t, VerifyProof(shards[i], proof, i), "leaf %d of %d", i, n)
		}
	}
}

func TestGenProofOutOfRange(t *testing.T) {
	tree, err := Construct(shardsOf(4))
	require.NoError(t, err)

	_, err = tree.GenProof(-1)
	require.Error(t, err)
	_, err = tree.GenProof(4)
	require.Error(t, err)
}

func TestVerifyProofRejectsWrongShard(t *testing.T) {
	shards := shardsOf(4)
	tree, err := Construct(shards)
	require.NoError(t, err)

	proof, err := tree.GenProof(1)
	require.NoError(t, err)
	require.False(t, VerifyProof([]byte("not the shard"), proof, 1))
}

func TestVerifyProofRejectsForeignProof(t *testing.T) {
	treeA, err := Construct(shardsOf(4))
	require.NoError(t, err)
	treeB, err := Construct(shardsOf(5)[1:])
	require.NoError(t, err)

	proofB, err := treeB.GenProof(0)
	require.NoError(t, err)
	require.NotEqual(t, treeA.Root(), proofB.Root())

	// A proof generated against treeB must never verify treeA's leaf 0 shard.
	require.False(t, VerifyProof(shardsOf(4)[0], proofB, 0))
}

func TestVerifyProofRejectsIndexMismatch(t *testing.T) {
	shards := shardsOf(4)
	tree, err := Construct(shards)
	require.NoError(t, err)

	proof, err := tree.GenProof(1)
	require.NoError(t, err)

	// A genuine proof for leaf 1 must not verify against a claimed position
	// of 2: the path it encodes only ever authenticates leaf 1.
	require.False(t, VerifyProof(shards[1], proof, 2))
}

func TestRootStableAcrossRebuild(t *testing.T) {
	shards := shardsOf(6)
	t1, err := Construct(shards)
	require.NoError(t, err)
	t2, err := Construct(shards)
	require.NoError(t, err)
	require.Equal(t, t1.Root(), t2.Root())
}
