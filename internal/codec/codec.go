// Package codec implements Encode/Reconstruct over
// github.com/klauspost/reedsolomon, the standard Go ecosystem Reed-Solomon
// implementation. It is the concrete binding to the erasure-coding
// primitive every variant treats as an external collaborator.
package codec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/klauspost/reedsolomon"
)

// ErrNotEnoughShards is returned by Reconstruct when fewer than k shards are
// present: reconstruction must fail rather than guess at missing data.
var ErrNotEnoughShards = errors.New("codec: fewer than k shards available")

// lenPrefix is the width of the length header Encode prepends to payload
// before splitting. reedsolomon.Split pads its input to an even multiple of
// dataShards, so a receiver who only ever sees shards (never the original
// payload, e.g. a party relying solely on ECHO/READY traffic) cannot
// otherwise tell real payload bytes from trailing zero padding once the
// shards are concatenated back together.
const lenPrefix = 4

// Encode splits payload into k=dataShards data shards and parityShards
// parity shards, returning all n=k+parityShards shards indexed by replica
// id: shard r is the one owned by replica r.
func Encode(payload []byte, dataShards, parityShards int) ([][]byte, error) {
	enc, err := reedsolomon.New(dataShards, parityShards)
	if err != nil {
		return nil, fmt.Errorf("codec: new encoder: %w", err)
	}
	framed := make([]byte, lenPrefix+len(payload))
	binary.BigEndian.PutUint32(framed, uint32(len(payload)))
	copy(framed[lenPrefix:], payload)

	shards, err := enc.Split(framed)
	if err != nil {
		return nil, fmt.Errorf("codec: split: %w", err)
	}
	if err := enc.Encode(shards); err != nil {
		return nil, fmt.Errorf("codec: encode: %w", err)
	}
	return shards, nil
}

// ReconstructShards fills in the missing positions of a sparse shard set
// (nil = unknown) using Reed-Solomon erasure correction, requiring at least
// dataShards non-nil entries, and returns the complete n-shard set. This is
// the building block the Merkle variants need: once every shard is known,
// they rebuild the Merkle tree over it to confirm the committed root.
func ReconstructShards(shardsOpt [][]byte, dataShards, parityShards int) ([][]byte, error) {
	present := 0
	for _, s := range shardsOpt {
		if s != nil {
			present++
		}
	}
	if present < dataShards {
		return nil, ErrNotEnoughShards
	}

	enc, err := reedsolomon.New(dataShards, parityShards)
	if err != nil {
		return nil, fmt.Errorf("codec: new encoder: %w", err)
	}

	work := make([][]byte, len(shardsOpt))
	copy(work, shardsOpt)
	if err := enc.Reconstruct(work); err != nil {
		return nil, fmt.Errorf("codec: reconstruct: %w", err)
	}
	return work, nil
}

// ExtractPayload concatenates the first dataShards entries of a complete
// shard set and strips the length header Encode embedded, recovering the
// exact original payload.
func ExtractPayload(shards [][]byte, dataShards int) ([]byte, error) {
	if len(shards) < dataShards {
		return nil, ErrNotEnoughShards
	}
	var buf bytes.Buffer
	for _, s := range shards[:dataShards] {
		buf.Write(s)
	}
	framed := buf.Bytes()
	if len(framed) < lenPrefix {
		return nil, fmt.Errorf("codec: reconstructed block shorter than length header")
	}
	n := binary.BigEndian.Uint32(framed)
	if int(n) > len(framed)-lenPrefix {
		return nil, fmt.Errorf("codec: length header %d exceeds reconstructed block", n)
	}
	return framed[lenPrefix : lenPrefix+int(n)], nil
}

// Reconstruct is the convenience composition of ReconstructShards and
// ExtractPayload, for callers (ccbrb's payload phase) that only need the
// final payload and never touch the intermediate per-replica shards.
func Reconstruct(shardsOpt [][]byte, dataShards, parityShards int) ([]byte, error) {
	shards, err := ReconstructShards(shardsOpt, dataShards, parityShards)
	if err != nil {
		return nil, err
	}
	return ExtractPayload(shards, dataShards)
}

// VerifyConsistent reports whether the present shards in shardsOpt are
// mutually consistent with each other under the RS code. Reconstruct and
// ReconstructShards do not make this check: given shards that disagree,
// they return a result without an error.
func VerifyConsistent(shardsOpt [][]byte, dataShards, parityShards int) (bool, error) {
	enc, err := reedsolomon.New(dataShards, parityShards)
	if err != nil {
		return false, fmt.Errorf("codec: new encoder: %w", err)
	}
	complete := make([][]byte, len(shardsOpt))
	copy(complete, shardsOpt)
	if err := enc.Reconstruct(complete); err != nil {
		return false, fmt.Errorf("codec: reconstruct: %w", err)
	}
	ok, err := enc.Verify(complete)
	if err != nil {
		return false, fmt.Errorf("codec: verify: %w", err)
	}
	return ok, nil
}
