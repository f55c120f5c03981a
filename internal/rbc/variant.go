package rbc

import (
	"context"

	"github.com/SohamJog/reliable-broadcast-protocols/core"
)

// RbcVariant is the per-variant strategy: a tagged ProtMsg plus an interface
// with handle_init/handle_echo/handle_vote/handle_ready, letting the
// Dispatcher stay uniform while each variant owns its own RBCState usage. A
// Node picks exactly one RbcVariant at startup (the "protocol" config
// option) and uses it for every instance it ever touches.
type RbcVariant interface {
	// Name identifies the variant for logging/metrics ("addrbc", "ctrbc",
	// "borbc", "ccbrb").
	Name() string

	// StartBroadcast sends the originator's Init/Send to every peer
	// (including local delivery). ccbrb encodes the payload here; the Merkle
	// variants flood the raw payload and encode it in HandleInit.
	StartBroadcast(ctx context.Context, n *Node, instance core.InstanceID, payload []byte) error

	HandleInit(ctx context.Context, n *Node, sender core.ReplicaID, msg *InitMsg) error
	HandleEcho(ctx context.Context, n *Node, sender core.ReplicaID, msg *EchoMsg) error
	HandleVote(ctx context.Context, n *Node, sender core.ReplicaID, msg *VoteMsg) error
	HandleReady(ctx context.Context, n *Node, sender core.ReplicaID, msg *ReadyMsg) error

	// ccbrb carries a structurally different message set; the other three
	// variants leave these as no-ops via baseVariant.
	HandleSend(ctx context.Context, n *Node, sender core.ReplicaID, msg *CCSendMsg) error
	HandleCCEcho(ctx context.Context, n *Node, sender core.ReplicaID, msg *CCEchoMsg) error
	HandleCCReady(ctx context.Context, n *Node, sender core.ReplicaID, msg *CCReadyMsg) error
}

// baseVariant gives every concrete variant a no-op implementation of the
// message kinds it doesn't use, so e.g. ctrbc need not define HandleVote or
// any of the ccbrb handlers.
type baseVariant struct{}

func (baseVariant) HandleVote(context.Context, *Node, core.ReplicaID, *VoteMsg) error { return nil }
func (baseVariant) HandleSend(context.Context, *Node, core.ReplicaID, *CCSendMsg) error {
	return nil
}
func (baseVariant) HandleCCEcho(context.Context, *Node, core.ReplicaID, *CCEchoMsg) error {
	return nil
}
func (baseVariant) HandleCCReady(context.Context, *Node, core.ReplicaID, *CCReadyMsg) error {
	return nil
}
