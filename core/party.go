// Package core holds the process-wide, read-only data describing the party
// set that a Node participates in: replica identities, network addresses,
// and per-party MAC secrets.
package core

import (
	"errors"
	"fmt"
	"sort"

	multiaddr "github.com/multiformats/go-multiaddr"
)

// ReplicaID identifies a party among {0..n-1}. The originating replica of a
// broadcast instance is conventionally encoded alongside the InstanceID.
type ReplicaID uint32

// InstanceID uniquely identifies one broadcast instance.
type InstanceID string

// Party describes one member of the group: its replica id, its network
// address, and its MAC secret.
type Party struct {
	ID ReplicaID
	// Addr is the peer's network address, kept as a multiaddr so the
	// transport layer is free to grow new dial schemes without touching the
	// party table.
	Addr multiaddr.Multiaddr
	// Secret is this party's MAC key: every message the party sends is
	// tagged with it, and receivers verify against it. The group table holds
	// every party's Secret, so each key is known to all parties, not to one
	// pair. It is read-only after startup: no goroutine ever mutates a Party
	// once the Group is built.
	Secret []byte
}

// Group is the full, read-only party table for one run: every Party plus
// the adversary bound f used to compute RBC thresholds.
type Group struct {
	Parties []Party
	F       int
}

// N returns the party-set size.
func (g *Group) N() int { return len(g.Parties) }

// Validate checks n > 3f and that replica ids are a dense permutation of
// {0..n-1}, the honest-majority assumption every variant relies on.
func (g *Group) Validate() error {
	n := g.N()
	if n == 0 {
		return errors.New("rbc: empty party set")
	}
	if n <= 3*g.F {
		return fmt.Errorf("rbc: n=%d must be > 3f (f=%d)", n, g.F)
	}
	seen := make([]bool, n)
	for _, p := range g.Parties {
		if int(p.ID) >= n {
			return fmt.Errorf("rbc: replica id %d out of range for n=%d", p.ID, n)
		}
		if seen[p.ID] {
			return fmt.Errorf("rbc: duplicate replica id %d", p.ID)
		}
		seen[p.ID] = true
		if len(p.Secret) == 0 {
			return fmt.Errorf("rbc: party %d has no MAC secret", p.ID)
		}
	}
	return nil
}

// Sorted returns the parties ordered by replica id, which every shard/echo
// indexing operation in internal/rbc assumes.
func (g *Group) Sorted() []Party {
	out := make([]Party, len(g.Parties))
	copy(out, g.Parties)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// By returns the party with the given replica id, or false.
func (g *Group) By(id ReplicaID) (Party, bool) {
	for _, p := range g.Parties {
		if p.ID == id {
			return p, true
		}
	}
	return Party{}, false
}

// K returns the Reed-Solomon data-shard count f+1 every variant encodes
// payloads and hash vectors with.
func (g *Group) K() int { return g.F + 1 }

// Thresholds collects every variant's integer-ceiling quorum sizes,
// computed once per Group since n and f never change mid-run.
type Thresholds struct {
	// T1Vote is ceil(n/2): the borbc early-VOTE threshold.
	T1Vote int
	// T2Ready is ceil((n+f-1)/2): the borbc early-READY threshold.
	T2Ready int
	// T3Optimistic is ceil((n+2f-2)/2): the borbc optimistic-termination threshold.
	T3Optimistic int
	// T4Latched is ceil((n-f+1)/2): the borbc latched-termination threshold.
	T4Latched int
	// T5Bracha is n-f: the classic Bracha ECHO-quorum-then-READY threshold.
	T5Bracha int
	// T6All is n: every party's ECHO seen.
	T6All int
	// ReadyAmplify is f+1: the READY-handler "echo amplification" threshold.
	ReadyAmplify int
	// ReadyTerminate is n-f: the READY-handler termination threshold.
	ReadyTerminate int
	// ReadyQuorum is 2f+1: latches ready_quorum_reached for borbc's T4.
	ReadyQuorum int
}

func ceilDiv(a, b int) int {
	if a <= 0 {
		return 0
	}
	return (a + b - 1) / b
}

// ComputeThresholds derives every ECHO/VOTE/READY quorum size from n and f,
// once, so handlers never recompute integer-ceiling arithmetic.
func ComputeThresholds(n, f int) Thresholds {
	return Thresholds{
		T1Vote:         ceilDiv(n, 2),
		T2Ready:        ceilDiv(n+f-1, 2),
		T3Optimistic:   ceilDiv(n+2*f-2, 2),
		T4Latched:      ceilDiv(n-f+1, 2),
		T5Bracha:       n - f,
		T6All:          n,
		ReadyAmplify:   f + 1,
		ReadyTerminate: n - f,
		ReadyQuorum:    2*f + 1,
	}
}
