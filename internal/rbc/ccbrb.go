package rbc

import (
	"context"
	"crypto/sha256"
	"fmt"

	"github.com/SohamJog/reliable-broadcast-protocols/core"
	"github.com/SohamJog/reliable-broadcast-protocols/internal/codec"
	"github.com/SohamJog/reliable-broadcast-protocols/internal/merkle"
)

// ccbrbVariant is the committed-commitment hash-vector variant: parties
// first agree on a vector D of per-shard hashes (and its hash c = H(D))
// via ECHO/READY quorum over Reed-Solomon shards of D itself, then
// reconstruct the payload from whichever payload shards actually hash to
// their declared position in the now-confirmed D. It carries a
// structurally different message set (Send/Echo/Ready keyed by (id, c)
// rather than a Merkle root), so it implements RbcVariant directly instead
// of building on brachaVariant.
type ccbrbVariant struct {
	baseVariant
}

func NewCcbrb() RbcVariant {
	return &ccbrbVariant{}
}

func (v *ccbrbVariant) Name() string { return "ccbrb" }

func (v *ccbrbVariant) HandleInit(context.Context, *Node, core.ReplicaID, *InitMsg) error {
	return nil
}
func (v *ccbrbVariant) HandleEcho(context.Context, *Node, core.ReplicaID, *EchoMsg) error {
	return nil
}
func (v *ccbrbVariant) HandleReady(context.Context, *Node, core.ReplicaID, *ReadyMsg) error {
	return nil
}

// StartBroadcast is the hash-vector variant's send step: encode the
// payload, hash every shard into D, and SEND each peer its own shard
// alongside the full vector D (not just a committed root, since D itself
// hasn't been agreed upon yet).
func (v *ccbrbVariant) StartBroadcast(ctx context.Context, n *Node, instance core.InstanceID, payload []byte) error {
	if len(payload) == 0 {
		return fmt.Errorf("rbc: empty payload at start for instance %s", instance)
	}
	k := n.Group.K()
	parity := n.Group.N() - k
	shards, err := codec.Encode(payload, k, parity)
	if err != nil {
		return fmt.Errorf("rbc: encode: %w", err)
	}
	d := hashShards(shards)

	for _, p := range n.Group.Sorted() {
		dj := shards[p.ID]
		if n.Byzantine && p.ID != n.Self {
			dj = []byte{}
		}
		msg := &CCSendMsg{InstanceID: instance, ID: p.ID, DJ: dj, D: d, Origin: n.Self}
		if p.ID == n.Self {
			n.deliverLocal(ctx, msg)
		} else {
			n.send(ctx, p.ID, msg)
		}
	}
	return nil
}

// HandleSend verifies our own shard hashes to our declared position in D
// before trusting any of it, then runs start_echo.
func (v *ccbrbVariant) HandleSend(ctx context.Context, n *Node, sender core.ReplicaID, msg *CCSendMsg) error {
	st := n.stateFor(msg.InstanceID, msg.Origin)
	if st.Status != StatusInit && st.Status != StatusWaiting {
		return fmt.Errorf("rbc: handle_send requires status INIT or WAITING, got %s", st.Status)
	}
	if int(n.Self) >= len(msg.D) {
		return fmt.Errorf("rbc: hash vector has no entry for replica %d", n.Self)
	}
	if hashOne(msg.DJ) != msg.D[n.Self] {
		n.Log.Errorw("ccbrb SEND shard does not hash to our declared position", "instance", msg.InstanceID)
		n.Metrics.IncDrop("hash-position")
		return nil
	}
	return v.startEcho(ctx, n, st, msg.InstanceID, msg.D, msg.DJ)
}

// startEcho builds our own Reed-Solomon shard of the serialized hash vector
// D (π_i), stores our two shard roles, and disseminates an ECHO carrying
// both our payload shard d_i and π_i. A Byzantine node sends an empty d_i
// to every peer but itself, mirroring the Merkle variants' test affordance.
func (v *ccbrbVariant) startEcho(ctx context.Context, n *Node, st *RBCState, instance core.InstanceID, d []merkle.Root, dSelf []byte) error {
	c := hashVector(d)
	st.CCContentHash = &c
	st.CCOwnDI = dSelf

	k := n.Group.K()
	parity := n.Group.N() - k
	piShards, err := codec.Encode(serializeHashVector(d), k, parity)
	if err != nil {
		return fmt.Errorf("rbc: encode hash vector: %w", err)
	}
	st.CCOwnPiI = piShards[n.Self]
	st.advance(StatusEcho)

	if !n.Byzantine {
		echo := &CCEchoMsg{InstanceID: instance, ID: n.Self, DI: dSelf, PiI: st.CCOwnPiI, C: c, Origin: n.Self}
		n.broadcast(ctx, echo)
		return nil
	}

	n.deliverLocal(ctx, &CCEchoMsg{InstanceID: instance, ID: n.Self, DI: dSelf, PiI: st.CCOwnPiI, C: c, Origin: n.Self})
	bad := &CCEchoMsg{InstanceID: instance, ID: n.Self, DI: []byte{}, PiI: st.CCOwnPiI, C: c, Origin: n.Self}
	n.sendToOthers(ctx, bad)
	return nil
}

// HandleCCEcho records both shard roles ECHO carries (d_i into
// fragments_data, π_i into fragments_hashes) and amplifies to READY once
// n-f ECHOs for this content hash have been seen, mirroring the Bracha
// ECHO/READY amplification pattern used by the Merkle variants.
func (v *ccbrbVariant) HandleCCEcho(ctx context.Context, n *Node, sender core.ReplicaID, msg *CCEchoMsg) error {
	instance := msg.InstanceID
	if sender != msg.ID {
		n.Log.Errorw("dropping ECHO whose claimed shard id does not match its authenticated sender", "sender", sender, "claimed_id", msg.ID, "instance", instance)
		n.Metrics.IncDrop("origin-mismatch")
		return nil
	}
	st := n.stateFor(instance, msg.Origin)
	if st.Terminated {
		return nil
	}
	key := contentKey{Instance: instance, C: msg.C}
	st.RecordFragmentData(key, msg.ID, msg.DI)
	if !st.RecordFragmentHash(key, msg.ID, msg.PiI) {
		return nil
	}
	size := len(st.FragmentsHashes[key])

	if !st.SentReady && size >= n.Threshold.T5Bracha {
		st.SentReady = true
		ready := &CCReadyMsg{InstanceID: instance, ID: n.Self, C: msg.C, PiI: st.CCOwnPiI, Origin: n.Self}
		n.broadcast(ctx, ready)
	}
	return nil
}

// HandleCCReady is the hash-vector READY handler: accumulate π_i's,
// erasure-decode D' once n-f are seen, confirm H(D') == c, keep only data
// shards that actually hash to their declared D' position, require at
// least f+1 of those, decode the payload, and re-verify every shard of a
// fresh encoding against D' before terminating.
func (v *ccbrbVariant) HandleCCReady(ctx context.Context, n *Node, sender core.ReplicaID, msg *CCReadyMsg) error {
	instance := msg.InstanceID
	if sender != msg.ID {
		n.Log.Errorw("dropping READY whose claimed shard id does not match its authenticated sender", "sender", sender, "claimed_id", msg.ID, "instance", instance)
		n.Metrics.IncDrop("origin-mismatch")
		return nil
	}
	st := n.stateFor(instance, msg.Origin)
	if st.Terminated {
		return nil
	}
	key := contentKey{Instance: instance, C: msg.C}
	// READYs are deduplicated per (c, sender) in Readys; the sender's π_i may
	// already be in FragmentsHashes from its ECHO, which is not a duplicate READY.
	if !st.RecordReady(msg.C, msg.ID, msg.PiI) {
		return nil
	}
	st.RecordFragmentHash(key, msg.ID, msg.PiI)
	size := len(st.FragmentsHashes[key])
	if size < n.Threshold.ReadyTerminate {
		return nil
	}

	k := n.Group.K()
	parity := n.Group.N() - k
	total := n.Group.N()

	piOpt := make([][]byte, total)
	for origin, pi := range st.FragmentsHashes[key] {
		if int(origin) < total {
			piOpt[origin] = pi
		}
	}
	serializedD, err := codec.Reconstruct(piOpt, k, parity)
	if err != nil {
		n.Log.Debugw("ccbrb hash-vector decode did not succeed, waiting for more READYs", "instance", instance, "err", err)
		return nil
	}
	dPrime, err := deserializeHashVector(serializedD, total)
	if err != nil {
		n.Log.Debugw("ccbrb hash-vector malformed after decode", "instance", instance, "err", err)
		return nil
	}
	if hashVector(dPrime) != msg.C {
		// Decoded a vector that doesn't hash back to the committed c: the
		// adversary cannot have produced n-f consistent π_i's over a true D,
		// so the broadcast cannot recover a valid payload.
		n.terminate(st, instance, nil)
		return nil
	}

	dataShardsOpt := make([][]byte, total)
	valid := 0
	for origin, data := range st.FragmentsData[key] {
		if int(origin) >= total {
			continue
		}
		if hashOne(data) == dPrime[origin] {
			dataShardsOpt[origin] = data
			valid++
		}
	}
	if valid < n.Threshold.ReadyAmplify {
		n.Log.Debugw("ccbrb not enough hash-confirmed data shards yet", "instance", instance, "valid", valid)
		return nil
	}

	payload, err := codec.Reconstruct(dataShardsOpt, k, parity)
	if err != nil {
		n.Log.Debugw("ccbrb payload decode did not succeed, waiting for more", "instance", instance, "err", err)
		return nil
	}
	reencoded, err := codec.Encode(payload, k, parity)
	if err != nil {
		return fmt.Errorf("rbc: re-encode for verification: %w", err)
	}
	for i, shard := range reencoded {
		if hashOne(shard) != dPrime[i] {
			n.terminate(st, instance, nil)
			return nil
		}
	}
	n.terminate(st, instance, payload)
	return nil
}

// hashOne is H(s): the per-shard hash contributing one entry of D.
func hashOne(shard []byte) merkle.Root {
	return merkle.Root(sha256.Sum256(shard))
}

// hashShards builds D = (H(s_0),...,H(s_{n-1})).
func hashShards(shards [][]byte) []merkle.Root {
	d := make([]merkle.Root, len(shards))
	for i, s := range shards {
		d[i] = hashOne(s)
	}
	return d
}

// hashVector is c = H(D), hashing the concatenation of D's entries in order.
func hashVector(d []merkle.Root) merkle.Root {
	return merkle.Root(sha256.Sum256(serializeHashVector(d)))
}

// serializeHashVector concatenates D's 32-byte entries so it can itself be
// Reed-Solomon encoded as an ordinary byte string.
func serializeHashVector(d []merkle.Root) []byte {
	out := make([]byte, 0, len(d)*sha256.Size)
	for _, r := range d {
		out = append(out, r.Bytes()...)
	}
	return out
}

// deserializeHashVector is serializeHashVector's inverse, reconstructing the
// n-entry hash vector after Reed-Solomon decoding.
func deserializeHashVector(b []byte, n int) ([]merkle.Root, error) {
	if len(b) != n*sha256.Size {
		return nil, fmt.Errorf("rbc: decoded hash vector has %d bytes, want %d", len(b), n*sha256.Size)
	}
	out := make([]merkle.Root, n)
	for i := range out {
		copy(out[i][:], b[i*sha256.Size:(i+1)*sha256.Size])
	}
	return out, nil
}
