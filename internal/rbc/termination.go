package rbc

import (
	"errors"

	"github.com/SohamJog/reliable-broadcast-protocols/core"
	"github.com/SohamJog/reliable-broadcast-protocols/internal/codec"
	"github.com/SohamJog/reliable-broadcast-protocols/internal/merkle"
)

// errRootMismatch is returned by reconstructAndVerify when the reconstructed
// shards hash to a different root than the one claimed: we must wait for
// more shards rather than trust a mismatched reconstruction.
var errRootMismatch = errors.New("rbc: reconstructed root does not match claimed root")

// reconstructed is the outcome of a successful reconstruct-and-verify pass:
// every shard, our own (shard, proof) pair, and the payload recovered from
// the first k shards.
type reconstructed struct {
	Shards  [][]byte
	Root    merkle.Root
	Own     Fragment
	Message []byte
}

// reconstructAndVerify inverts Encode(payload, k=f+1, n): it erasure-corrects
// senders (a sender->shard map for the claimed root h) into the full
// n-shard set, rebuilds the Merkle tree over it, and aborts with
// errRootMismatch if the recomputed root disagrees with h. On success it
// also derives our own (shard, proof) and the recovered payload.
func (n *Node) reconstructAndVerify(senders map[core.ReplicaID][]byte, h merkle.Root) (*reconstructed, error) {
	total := n.Group.N()
	k := n.Group.K()
	parity := total - k

	shardsOpt := make([][]byte, total)
	for origin, shard := range senders {
		if int(origin) < total {
			shardsOpt[origin] = shard
		}
	}

	shards, err := codec.ReconstructShards(shardsOpt, k, parity)
	if err != nil {
		return nil, err
	}

	tree, err := merkle.Construct(shards)
	if err != nil {
		return nil, err
	}
	if tree.Root() != h {
		return nil, errRootMismatch
	}

	proof, err := tree.GenProof(int(n.Self))
	if err != nil {
		return nil, err
	}
	payload, err := codec.ExtractPayload(shards, k)
	if err != nil {
		return nil, err
	}

	return &reconstructed{
		Shards:  shards,
		Root:    tree.Root(),
		Own:     Fragment{Shard: shards[n.Self], Proof: proof},
		Message: payload,
	}, nil
}

// terminate fires exactly once per instance: it raises status to
// TERMINATED, latches the one-shot flag so later messages for this
// instance are dropped by handleEnvelope, and invokes the application
// callback.
func (n *Node) terminate(st *RBCState, instance core.InstanceID, payload []byte) {
	if st.Terminated {
		return
	}
	st.Terminated = true
	st.advance(StatusTerminated)
	st.Message = payload
	n.Metrics.IncTerminate()
	if n.OnTerminate != nil {
		n.OnTerminate(instance, payload)
	}
}
