package rbc

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"sync"
)

var registerOnce sync.Once

// registerWireTypes registers every concrete ProtMsg implementation with
// gob, so a ProtMsg interface value can be encoded/decoded across the
// wire. Called once, lazily, by both Serialize and Deserialize.
func registerWireTypes() {
	registerOnce.Do(func() {
		for _, m := range AllMessageTypes {
			gob.Register(m)
		}
	})
}

// Serialize encodes a ProtMsg into the bytes carried as transport.Envelope.Body;
// the MAC is computed over exactly these serialized bytes.
func Serialize(msg ProtMsg) ([]byte, error) {
	registerWireTypes()
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&msg); err != nil {
		return nil, fmt.Errorf("rbc: serialize: %w", err)
	}
	return buf.Bytes(), nil
}

// Deserialize decodes bytes produced by Serialize back into a ProtMsg.
func Deserialize(data []byte) (ProtMsg, error) {
	registerWireTypes()
	var msg ProtMsg
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&msg); err != nil {
		return nil, fmt.Errorf("rbc: deserialize: %w", err)
	}
	return msg, nil
}
