// Package merkle implements the Merkle-tree commitment and authentication
// path every Merkle-based variant relies on: Construct, Tree.Root,
// Tree.GenProof, and VerifyProof. It is built directly on crypto/sha256
// rather than an ecosystem Merkle library: the wire format of a Proof is a
// protocol-level contract (a valid (shard, proof) must uniquely bind shard
// to its position and root), so this package hand-rolls the standard
// domain-separated binary tree (distinct leaf/internal hash prefixes to
// prevent second-preimage attacks across tree levels).
package merkle

import (
	"crypto/sha256"
	"errors"
	"fmt"
)

// Root is the 32-byte content identifier of a broadcast.
type Root [sha256.Size]byte

func (r Root) Bytes() []byte { return r[:] }

const (
	leafPrefix     = 0x00
	internalPrefix = 0x01
)

func leafHash(shard []byte) [sha256.Size]byte {
	h := sha256.New()
	h.Write([]byte{leafPrefix})
	h.Write(shard)
	var out [sha256.Size]byte
	copy(out[:], h.Sum(nil))
	return out
}

func internalHash(left, right [sha256.Size]byte) [sha256.Size]byte {
	h := sha256.New()
	h.Write([]byte{internalPrefix})
	h.Write(left[:])
	h.Write(right[:])
	var out [sha256.Size]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Tree is a binary Merkle tree over a fixed, ordered list of shards. Odd
// levels duplicate the last node, the common convention for binary Merkle
// trees over an arbitrary leaf count.
type Tree struct {
	levels [][][sha256.Size]byte // levels[0] = leaves, levels[len-1] = {root}
}

// Construct builds a Merkle tree over shards, indexed by replica id: shard
// i is leaf i.
func Construct(shards [][]byte) (*Tree, error) {
	if len(shards) == 0 {
		return nil, errors.New("merkle: cannot build a tree over zero shards")
	}
	level := make([][sha256.Size]byte, len(shards))
	for i, s := range shards {
		level[i] = leafHash(s)
	}
	t := &Tree{levels: [][][sha256.Size]byte{level}}
	for len(level) > 1 {
		next := make([][sha256.Size]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				next = append(next, internalHash(level[i], level[i+1]))
			} else {
				next = append(next, internalHash(level[i], level[i]))
			}
		}
		level = next
		t.levels = append(t.levels, level)
	}
	return t, nil
}

// Root returns the tree's 32-byte root, the content id of this broadcast.
func (t *Tree) Root() Root {
	top := t.levels[len(t.levels)-1]
	return Root(top[0])
}

// Proof is the authentication path for one leaf: the sibling hash at each
// level and which side (left/right) that sibling sits on.
type Proof struct {
	LeafIndex int
	Siblings  [][sha256.Size]byte
	// IsRight[i] is true when Siblings[i] is the right child at that level
	// (i.e. our running hash is the left child).
	IsRight []bool
	// TreeRoot is the root this proof claims to authenticate against.
	// Exported so the struct survives gob encoding across the wire (see
	// internal/rbc/wire.go).
	TreeRoot Root
}

// Root returns the root this proof claims to authenticate against.
func (p Proof) Root() Root { return p.TreeRoot }

// GenProof returns the authentication path for leaf index i.
func (t *Tree) GenProof(index int) (Proof, error) {
	numLeaves := len(t.levels[0])
	if index < 0 || index >= numLeaves {
		return Proof{}, fmt.Errorf("merkle: leaf index %d out of range [0,%d)", index, numLeaves)
	}
	proof := Proof{LeafIndex: index, TreeRoot: t.Root()}
	idx := index
	for lvl := 0; lvl < len(t.levels)-1; lvl++ {
		level := t.levels[lvl]
		var siblingIdx int
		var isRight bool
		if idx%2 == 0 {
			// we are the left child; sibling is to the right (or ourselves,
			// if we're the dangling last node at this level).
			if idx+1 < len(level) {
				siblingIdx = idx + 1
			} else {
				siblingIdx = idx
			}
			isRight = true
		} else {
			siblingIdx = idx - 1
			isRight = false
		}
		proof.Siblings = append(proof.Siblings, level[siblingIdx])
		proof.IsRight = append(proof.IsRight, isRight)
		idx /= 2
	}
	return proof, nil
}

// VerifyProof recomputes the root from (shard, proof) and compares it to
// proof.Root(), and independently re-derives the leaf position proof's
// authentication path actually encodes (from its IsRight sequence, not from
// the self-reported LeafIndex field) and compares that to wantIndex: a
// valid (shard, proof) must uniquely bind shard to both its root and the
// position the caller claims it occupies.
func VerifyProof(shard []byte, proof Proof, wantIndex int) bool {
	running := leafHash(shard)
	derivedIndex := 0
	for i, sibling := range proof.Siblings {
		if proof.IsRight[i] {
			running = internalHash(running, sibling)
		} else {
			running = internalHash(sibling, running)
			derivedIndex |= 1 << i
		}
	}
	return Root(running) == proof.TreeRoot && derivedIndex == wantIndex && proof.LeafIndex == wantIndex
}
