package rbc

import (
	"bytes"
	"context"

	"github.com/SohamJog/reliable-broadcast-protocols/core"
	"github.com/SohamJog/reliable-broadcast-protocols/internal/merkle"
)

// borbcVariant layers VOTE and the optimistic/latched early-termination
// thresholds T1-T4 on top of the shared Bracha substrate.
type borbcVariant struct {
	brachaVariant
}

// NewBorbc builds the balanced-optimistic variant: besides the classic
// Bracha ECHO/READY quorum (T5/T6), it races an early VOTE/READY path (T1,
// T2) that can terminate optimistically as soon as ceil((n+2f-2)/2) ECHOs
// agree (T3), or as soon as ceil((n-f+1)/2) agree once a 2f+1 READY quorum
// has separately been seen (T4).
func NewBorbc() RbcVariant {
	return &borbcVariant{brachaVariant{name: "borbc", extended: true}}
}

// HandleVote implements VOTE, borbc's early, lower-quorum echo of the ECHO
// phase. Once ceil((n+f-1)/2) matching VOTEs are seen, a READY is emitted
// exactly once, racing the slower Bracha ECHO/READY path.
func (v *borbcVariant) HandleVote(ctx context.Context, n *Node, sender core.ReplicaID, msg *VoteMsg) error {
	instance := msg.InstanceID
	if sender != msg.Body.Origin {
		n.Log.Errorw("dropping VOTE whose claimed origin does not match its authenticated sender", "sender", sender, "claimed_origin", msg.Body.Origin, "instance", instance)
		n.Metrics.IncDrop("origin-mismatch")
		return nil
	}
	st := n.stateFor(instance, msg.Body.Origin)
	if st.Terminated {
		return nil
	}
	h := msg.Body.Proof.Root()

	if echoShard, ok := st.HasEchoFrom(h, msg.Body.Origin); !ok || !bytes.Equal(echoShard, msg.Body.Shard) {
		if !merkle.VerifyProof(msg.Body.Shard, msg.Body.Proof, int(msg.Body.Origin)) {
			n.Log.Errorw("invalid merkle proof on VOTE", "origin", msg.Body.Origin, "instance", instance)
			n.Metrics.IncDrop("proof")
			return nil
		}
	}
	if !st.RecordVote(h, msg.Body.Origin, msg.Body.Shard) {
		return nil
	}

	if !st.SentReady && len(st.Votes[h]) >= n.Threshold.T2Ready {
		st.SentReady = true
		shard, proof := msg.Body.Shard, msg.Body.Proof
		if st.Fragment != nil {
			shard, proof = st.Fragment.Shard, st.Fragment.Proof
		}
		ready := &ReadyMsg{InstanceID: instance, Body: CTRBC{Shard: shard, Proof: proof, Origin: n.Self}}
		n.broadcast(ctx, ready)
	}
	return nil
}
