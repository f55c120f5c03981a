package rbc

import (
	"github.com/SohamJog/reliable-broadcast-protocols/core"
	"github.com/SohamJog/reliable-broadcast-protocols/internal/merkle"
)

// ProtMsg is the tagged union of protocol messages a Node exchanges over the
// wire. Concrete types are registered with gob in wire.go so they can cross
// a transport.Envelope inside a single interface value.
type ProtMsg interface {
	// Instance returns the broadcast instance this message belongs to.
	Instance() core.InstanceID
	// Kind is a short, stable tag used for logging and dispatch.
	Kind() string
}

// CTRBC is the shard+proof+origin triple carried by Echo/Ready (and, for
// borbc, Vote) in the Bracha/Cachin-Tessaro family of variants.
type CTRBC struct {
	Shard  []byte
	Proof  merkle.Proof
	Origin core.ReplicaID
}

// InitMsg is the originator's flooded Init/Send message.
type InitMsg struct {
	InstanceID core.InstanceID
	Payload    []byte
	Origin     core.ReplicaID
}

func (m *InitMsg) Instance() core.InstanceID { return m.InstanceID }
func (m *InitMsg) Kind() string              { return "init" }

// EchoMsg carries one party's echoed shard and Merkle proof.
type EchoMsg struct {
	InstanceID core.InstanceID
	Body       CTRBC
}

func (m *EchoMsg) Instance() core.InstanceID { return m.InstanceID }
func (m *EchoMsg) Kind() string              { return "echo" }

// ReadyMsg carries one party's READY vote.
type ReadyMsg struct {
	InstanceID core.InstanceID
	Body       CTRBC
}

func (m *ReadyMsg) Instance() core.InstanceID { return m.InstanceID }
func (m *ReadyMsg) Kind() string              { return "ready" }

// VoteMsg is borbc's early, lower-quorum alternative to a second ECHO round.
type VoteMsg struct {
	InstanceID core.InstanceID
	Body       CTRBC
}

func (m *VoteMsg) Instance() core.InstanceID { return m.InstanceID }
func (m *VoteMsg) Kind() string              { return "vote" }

// CCSendMsg is ccbrb's Send message: D is the vector of per-shard hashes
// H(s_0)..H(s_{n-1}); DJ is the payload shard owned by the recipient.
type CCSendMsg struct {
	InstanceID core.InstanceID
	ID         core.ReplicaID
	DJ         []byte
	D          []merkle.Root
	Origin     core.ReplicaID
}

func (m *CCSendMsg) Instance() core.InstanceID { return m.InstanceID }
func (m *CCSendMsg) Kind() string              { return "cc-send" }

// CCEchoMsg is ccbrb's Echo message. PiI is the sender's own Reed-Solomon
// shard of the serialized hash-vector D (not of the payload); C is H(D),
// the content hash identifying this broadcast.
type CCEchoMsg struct {
	InstanceID core.InstanceID
	ID         core.ReplicaID
	DI         []byte
	PiI        []byte
	C          merkle.Root
	Origin     core.ReplicaID
}

func (m *CCEchoMsg) Instance() core.InstanceID { return m.InstanceID }
func (m *CCEchoMsg) Kind() string              { return "cc-echo" }

// CCReadyMsg is ccbrb's Ready message: it carries only the content hash c
// and the sender's hash-vector shard, never a payload shard.
type CCReadyMsg struct {
	InstanceID core.InstanceID
	ID         core.ReplicaID
	C          merkle.Root
	PiI        []byte
	Origin     core.ReplicaID
}

func (m *CCReadyMsg) Instance() core.InstanceID { return m.InstanceID }
func (m *CCReadyMsg) Kind() string              { return "cc-ready" }

// AllMessageTypes lists every concrete ProtMsg type, used to register gob
// encodings once, on the first Serialize or Deserialize call (see wire.go).
var AllMessageTypes = []ProtMsg{
	&InitMsg{},
	&EchoMsg{},
	&ReadyMsg{},
	&VoteMsg{},
	&CCSendMsg{},
	&CCEchoMsg{},
	&CCReadyMsg{},
}
