package rbc

import (
	"bytes"
	"context"
	"fmt"

	"github.com/SohamJog/reliable-broadcast-protocols/core"
	"github.com/SohamJog/reliable-broadcast-protocols/internal/codec"
	"github.com/SohamJog/reliable-broadcast-protocols/internal/merkle"
)

// brachaVariant is the common substrate shared by addrbc and ctrbc, and
// (with extended=true) the Bracha portion of borbc: Init floods the
// originator's payload to every party, each party independently encodes and
// Merkle-commits it and echoes its own shard, and ECHO/READY follow the
// classic Bracha threshold table. addrbc and ctrbc differ from each other
// only in name for metrics/logging, since they share one message family
// (Init|Echo(CTRBC,i)|Ready(CTRBC,i)); borbc layers VOTE and the
// optimistic/latched ECHO thresholds T1-T4 on top via extended, and
// supplies its own HandleVote (see borbc.go).
type brachaVariant struct {
	baseVariant
	name     string
	extended bool
}

func (v *brachaVariant) Name() string { return v.name }

// StartBroadcast floods Init to every party and does nothing else; status
// bookkeeping lives in Node.doStartBroadcast. The shard/tree construction is shared
// with every other recipient of the flooded Init, so it lives in
// HandleInit/startEcho below.
func (v *brachaVariant) StartBroadcast(ctx context.Context, n *Node, instance core.InstanceID, payload []byte) error {
	msg := &InitMsg{InstanceID: instance, Payload: payload, Origin: n.Self}
	n.broadcast(ctx, msg)
	return nil
}

// HandleInit runs once per recipient of the flooded payload: every party
// (including the originator, via its own self-delivery) runs start_echo
// against it.
func (v *brachaVariant) HandleInit(ctx context.Context, n *Node, sender core.ReplicaID, msg *InitMsg) error {
	st := n.stateFor(msg.InstanceID, msg.Origin)
	if st.Status != StatusInit && st.Status != StatusWaiting {
		return fmt.Errorf("rbc: handle_init requires status INIT or WAITING, got %s", st.Status)
	}
	return v.startEcho(ctx, n, st, msg.InstanceID, msg.Payload)
}

// startEcho is the Bracha/ctrbc half of start_echo: encode the payload,
// build the Merkle tree, store our own (shard, proof) so it is available
// for VOTE/READY dissemination, and disseminate an ECHO of each peer's own
// shard to that peer. A Byzantine node sends every other peer an empty
// shard while echoing its real shard to itself.
func (v *brachaVariant) startEcho(ctx context.Context, n *Node, st *RBCState, instance core.InstanceID, payload []byte) error {
	if len(payload) == 0 {
		return fmt.Errorf("rbc: empty payload reached start_echo for instance %s", instance)
	}
	k := n.Group.K()
	parity := n.Group.N() - k
	shards, err := codec.Encode(payload, k, parity)
	if err != nil {
		return fmt.Errorf("rbc: encode: %w", err)
	}
	tree, err := merkle.Construct(shards)
	if err != nil {
		return fmt.Errorf("rbc: construct merkle tree: %w", err)
	}
	ownProof, err := tree.GenProof(int(n.Self))
	if err != nil {
		return fmt.Errorf("rbc: gen own proof: %w", err)
	}
	st.Fragment = &Fragment{Shard: shards[n.Self], Proof: ownProof}
	st.advance(StatusEcho)

	if !n.Byzantine {
		echoMsg := &EchoMsg{InstanceID: instance, Body: CTRBC{Shard: st.Fragment.Shard, Proof: ownProof, Origin: n.Self}}
		n.broadcast(ctx, echoMsg)
		return nil
	}

	// Byzantine: correct shard to ourselves, an empty shard to everyone else.
	n.deliverLocal(ctx, &EchoMsg{InstanceID: instance, Body: CTRBC{Shard: st.Fragment.Shard, Proof: ownProof, Origin: n.Self}})
	badMsg := &EchoMsg{InstanceID: instance, Body: CTRBC{Shard: []byte{}, Proof: ownProof, Origin: n.Self}}
	n.sendToOthers(ctx, badMsg)
	return nil
}

// HandleEcho is the protocol's heart: the threshold table is evaluated in
// its documented order on every newly-recorded ECHO so a higher
// threshold's one-shot action subsumes lower ones crossed in the same
// step.
func (v *brachaVariant) HandleEcho(ctx context.Context, n *Node, sender core.ReplicaID, msg *EchoMsg) error {
	instance := msg.InstanceID
	if sender != msg.Body.Origin {
		n.Log.Errorw("dropping ECHO whose claimed origin does not match its authenticated sender", "sender", sender, "claimed_origin", msg.Body.Origin, "instance", instance)
		n.Metrics.IncDrop("origin-mismatch")
		return nil
	}
	st := n.stateFor(instance, msg.Body.Origin)
	if st.Terminated {
		return nil
	}
	h := msg.Body.Proof.Root()

	if _, dup := st.HasEchoFrom(h, msg.Body.Origin); dup {
		return nil
	}
	if !merkle.VerifyProof(msg.Body.Shard, msg.Body.Proof, int(msg.Body.Origin)) {
		n.Log.Errorw("invalid merkle proof on ECHO", "origin", msg.Body.Origin, "instance", instance)
		n.Metrics.IncDrop("proof")
		return nil
	}
	if !st.RecordEcho(h, msg.Body.Origin, msg.Body.Shard) {
		return nil
	}
	size := len(st.Echos[h])

	if v.extended {
		th := n.Threshold
		if !st.SentVote && size >= th.T1Vote && st.Fragment != nil {
			st.SentVote = true
			vote := &VoteMsg{InstanceID: instance, Body: CTRBC{Shard: st.Fragment.Shard, Proof: st.Fragment.Proof, Origin: n.Self}}
			n.broadcast(ctx, vote)
		}
		if !st.SentReady && size >= th.T2Ready && st.Fragment != nil {
			st.SentReady = true
			ready := &ReadyMsg{InstanceID: instance, Body: CTRBC{Shard: st.Fragment.Shard, Proof: st.Fragment.Proof, Origin: n.Self}}
			n.broadcast(ctx, ready)
		}
		if !st.Terminated && size >= th.T3Optimistic {
			v.reconstructAndTerminate(ctx, n, st, instance, h, cloneSenders(st.Echos[h]))
		}
		if !st.Terminated && size >= th.T4Latched && st.ReadyQuorumReached {
			v.reconstructAndTerminate(ctx, n, st, instance, h, cloneSenders(st.Echos[h]))
		}
	}

	if st.EchoRoot == nil && size == n.Threshold.T5Bracha {
		v.reconstructAndAmplify(ctx, n, st, instance, h, cloneSenders(st.Echos[h]))
	}

	if st.EchoRoot != nil && size == n.Threshold.T6All && !st.Terminated {
		ready := &ReadyMsg{InstanceID: instance, Body: CTRBC{Shard: st.Fragment.Shard, Proof: st.Fragment.Proof, Origin: n.Self}}
		n.sendToOthers(ctx, ready)
		n.terminate(st, instance, st.Message)
	}
	return nil
}

// reconstructAndAmplify is threshold T5: the classic Bracha quorum. On
// success it does not terminate; it only commits echo_root/fragment and
// amplifies to READY.
func (v *brachaVariant) reconstructAndAmplify(ctx context.Context, n *Node, st *RBCState, instance core.InstanceID, h merkle.Root, senders map[core.ReplicaID][]byte) {
	result, err := n.reconstructAndVerify(senders, h)
	if err != nil {
		n.Log.Debugw("T5 reconstruction did not succeed, waiting for more ECHOs", "instance", instance, "err", err)
		return
	}
	st.EchoRoot = &result.Root
	st.Fragment = &result.Own
	st.Message = result.Message

	ready := &ReadyMsg{InstanceID: instance, Body: CTRBC{Shard: result.Own.Shard, Proof: result.Own.Proof, Origin: n.Self}}
	_ = v.HandleReady(ctx, n, n.Self, ready)
	n.sendToOthers(ctx, ready)
}

// reconstructAndTerminate is the T3/T4/T6 path: reconstruct, verify the
// root, broadcast READY once more (harmless duplication), and terminate.
func (v *brachaVariant) reconstructAndTerminate(ctx context.Context, n *Node, st *RBCState, instance core.InstanceID, h merkle.Root, senders map[core.ReplicaID][]byte) {
	result, err := n.reconstructAndVerify(senders, h)
	if err != nil {
		n.Log.Debugw("optimistic/latched reconstruction did not succeed, waiting for more", "instance", instance, "err", err)
		return
	}
	if st.Fragment == nil {
		st.Fragment = &result.Own
	}
	if st.EchoRoot == nil {
		st.EchoRoot = &result.Root
	}
	ready := &ReadyMsg{InstanceID: instance, Body: CTRBC{Shard: result.Own.Shard, Proof: result.Own.Proof, Origin: n.Self}}
	n.sendToOthers(ctx, ready)
	n.terminate(st, instance, result.Message)
}

// HandleReady is the Merkle-variant READY handler: echo amplification at
// f+1 READYs, termination at n-f, and (borbc only) the ready_quorum_reached
// latch at 2f+1 that unlocks ECHO's T4.
func (v *brachaVariant) HandleReady(ctx context.Context, n *Node, sender core.ReplicaID, msg *ReadyMsg) error {
	instance := msg.InstanceID
	if sender != msg.Body.Origin {
		n.Log.Errorw("dropping READY whose claimed origin does not match its authenticated sender", "sender", sender, "claimed_origin", msg.Body.Origin, "instance", instance)
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
			n.Log.Errorw("invalid merkle proof on READY", "origin", msg.Body.Origin, "instance", instance)
			n.Metrics.IncDrop("proof")
			return nil
		}
	}
	if !st.RecordReady(h, msg.Body.Origin, msg.Body.Shard) {
		return nil
	}
	rsize := len(st.Readys[h])

	if st.EchoRoot == nil && rsize == n.Threshold.ReadyAmplify {
		result, err := n.reconstructAndVerify(cloneSenders(st.Readys[h]), h)
		if err == nil {
			st.EchoRoot = &result.Root
			st.Fragment = &result.Own
			st.Message = result.Message
			if st.RecordReady(h, n.Self, result.Own.Shard) {
				rsize = len(st.Readys[h])
			}
			ready := &ReadyMsg{InstanceID: instance, Body: CTRBC{Shard: result.Own.Shard, Proof: result.Own.Proof, Origin: n.Self}}
			n.sendToOthers(ctx, ready)
		} else {
			n.Log.Debugw("READY amplification reconstruction did not succeed, waiting for more READYs", "instance", instance, "err", err)
		}
	}

	if v.extended && rsize >= n.Threshold.ReadyQuorum {
		st.ReadyQuorumReached = true
	}

	if rsize >= n.Threshold.ReadyTerminate && !st.Terminated {
		message := st.Message
		if message == nil {
			result, err := n.reconstructAndVerify(cloneSenders(st.Readys[h]), h)
			if err != nil {
				n.Log.Debugw("termination reconstruction did not succeed, waiting for more READYs", "instance", instance, "err", err)
				return nil
			}
			message = result.Message
		}
		n.terminate(st, instance, message)
	}
	return nil
}

// cloneSenders copies a sender->shard map so reconstruction doesn't observe
// concurrent map writes performed by RecordReady's self-insertion above.
func cloneSenders(m map[core.ReplicaID][]byte) map[core.ReplicaID][]byte {
	out := make(map[core.ReplicaID][]byte, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
