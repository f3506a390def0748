package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// BroadcastType is the only message type fanned out to viewers.
const BroadcastType = "vic3:snapshot"

// MaxBroadcastBytes is the hard ceiling for a serialized broadcast envelope.
// The upstream pubsub transport rejects messages over 5 KB; we stop short of
// it so the relay fails the ingest instead of the fanout.
const MaxBroadcastBytes = 4800

// ErrPayloadTooLarge is returned when an envelope exceeds MaxBroadcastBytes.
var ErrPayloadTooLarge = errors.New("broadcast envelope exceeds size ceiling")

// BroadcastMessage wraps an admitted snapshot for fanout. Fixed shape: the
// type tag never varies.
type BroadcastMessage struct {
	Type    string   `json:"type"` // always BroadcastType
	Payload Snapshot `json:"payload"`
}

// EncodeBroadcast wraps a snapshot in the fanout envelope and enforces the
// size ceiling on the encoded form.
func EncodeBroadcast(s Snapshot) ([]byte, error) {
	data, err := json.Marshal(BroadcastMessage{Type: BroadcastType, Payload: s})
	if err != nil {
		return nil, fmt.Errorf("encode broadcast: %w", err)
	}
	if len(data) > MaxBroadcastBytes {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrPayloadTooLarge, len(data), MaxBroadcastBytes)
	}
	return data, nil
}
