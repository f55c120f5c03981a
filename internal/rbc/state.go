package rbc

import (
	"github.com/SohamJog/reliable-broadcast-protocols/core"
	"github.com/SohamJog/reliable-broadcast-protocols/internal/merkle"
)

// Status is the per-instance lifecycle. It is monotonic: no transition ever
// decreases status.
type Status int

const (
	StatusInit Status = iota
	StatusWaiting
	StatusEcho
	StatusReady
	StatusOutput
	StatusTerminated
)

func (s Status) String() string {
	switch s {
	case StatusInit:
		return "INIT"
	case StatusWaiting:
		return "WAITING"
	case StatusEcho:
		return "ECHO"
	case StatusReady:
		return "READY"
	case StatusOutput:
		return "OUTPUT"
	case StatusTerminated:
		return "TERMINATED"
	default:
		return "UNKNOWN"
	}
}

// Fragment is our own (shard, proof) once known.
type Fragment struct {
	Shard []byte
	Proof merkle.Proof
}

// RBCState is the per-(party,instance) state machine: the union of every
// field used by at least one variant. A single struct serving all four
// variants avoids a parallel hierarchy of near-identical per-variant state
// structs; each variant's handler only touches the subset of fields it
// needs.
type RBCState struct {
	Instance core.InstanceID
	Origin   core.ReplicaID
	Status   Status

	Fragment *Fragment
	Message  []byte

	// Echos/Readys/Votes are keyed by Merkle root (ccbrb keys Readys by its
	// content hash c), then by sender replica, enforcing at most one entry
	// per sender per root per role.
	Echos  map[merkle.Root]map[core.ReplicaID][]byte
	Readys map[merkle.Root]map[core.ReplicaID][]byte
	Votes  map[merkle.Root]map[core.ReplicaID][]byte

	EchoRoot *merkle.Root

	SentEcho   bool
	SentVote   bool
	SentReady  bool
	Terminated bool

	ReadyQuorumReached bool

	// ccbrb-only: fragments_hashes/fragments_data, keyed by (instance,
	// content-hash) via the contentKey below, then by sender.
	FragmentsHashes map[contentKey]map[core.ReplicaID][]byte
	FragmentsData   map[contentKey]map[core.ReplicaID][]byte
	CCContentHash   *merkle.Root

	// CCOwnDI/CCOwnPiI are our own payload shard and hash-vector shard once
	// known (ccbrb's analogue of Fragment for the Merkle variants, kept
	// separate since ccbrb carries two distinct shard roles at once).
	CCOwnDI  []byte
	CCOwnPiI []byte
}

// contentKey pairs an instance id with a ccbrb content hash c, the
// composite key fragments_hashes/fragments_data are indexed by.
type contentKey struct {
	Instance core.InstanceID
	C        merkle.Root
}

// NewRBCState creates a lazily-initialized state machine for one instance,
// created on first message referencing it.
func NewRBCState(instance core.InstanceID) *RBCState {
	return &RBCState{
		Instance:        instance,
		Status:          StatusWaiting,
		Echos:           make(map[merkle.Root]map[core.ReplicaID][]byte),
		Readys:          make(map[merkle.Root]map[core.ReplicaID][]byte),
		Votes:           make(map[merkle.Root]map[core.ReplicaID][]byte),
		FragmentsHashes: make(map[contentKey]map[core.ReplicaID][]byte),
		FragmentsData:   make(map[contentKey]map[core.ReplicaID][]byte),
	}
}

// advance raises Status to at least target, enforcing monotone status.
func (s *RBCState) advance(target Status) {
	if target > s.Status {
		s.Status = target
	}
}

// recordInto inserts shard for origin under root in the given role map,
// returning false if origin already had an entry there (duplicates from the
// same sender are idempotently dropped).
func recordInto(m map[merkle.Root]map[core.ReplicaID][]byte, root merkle.Root, origin core.ReplicaID, shard []byte) bool {
	perRoot, ok := m[root]
	if !ok {
		perRoot = make(map[core.ReplicaID][]byte)
		m[root] = perRoot
	}
	if _, exists := perRoot[origin]; exists {
		return false
	}
	perRoot[origin] = shard
	return true
}

// RecordEcho is the ECHO-map insertion.
func (s *RBCState) RecordEcho(root merkle.Root, origin core.ReplicaID, shard []byte) bool {
	return recordInto(s.Echos, root, origin, shard)
}

// RecordReady is the READY-map insertion.
func (s *RBCState) RecordReady(root merkle.Root, origin core.ReplicaID, shard []byte) bool {
	return recordInto(s.Readys, root, origin, shard)
}

// RecordVote is the VOTE-map insertion.
func (s *RBCState) RecordVote(root merkle.Root, origin core.ReplicaID, shard []byte) bool {
	return recordInto(s.Votes, root, origin, shard)
}

// HasEchoFrom reports whether origin already has an ECHO on file for root.
func (s *RBCState) HasEchoFrom(root merkle.Root, origin core.ReplicaID) ([]byte, bool) {
	perRoot, ok := s.Echos[root]
	if !ok {
		return nil, false
	}
	shard, ok := perRoot[origin]
	return shard, ok
}

// recordCC inserts into a ccbrb fragments_* map, keyed by (instance, c).
func recordCC(m map[contentKey]map[core.ReplicaID][]byte, key contentKey, origin core.ReplicaID, data []byte) bool {
	perKey, ok := m[key]
	if !ok {
		perKey = make(map[core.ReplicaID][]byte)
		m[key] = perKey
	}
	if _, exists := perKey[origin]; exists {
		return false
	}
	perKey[origin] = data
	return true
}

// RecordFragmentHash inserts a ccbrb π_i (the sender's RS-shard of the hash
// vector D) for this (instance, c).
func (s *RBCState) RecordFragmentHash(key contentKey, origin core.ReplicaID, piI []byte) bool {
	return recordCC(s.FragmentsHashes, key, origin, piI)
}

// RecordFragmentData inserts a ccbrb d_i (the sender's payload shard) for
// this (instance, c).
func (s *RBCState) RecordFragmentData(key contentKey, origin core.ReplicaID, dI []byte) bool {
	return recordCC(s.FragmentsData, key, origin, dI)
}
