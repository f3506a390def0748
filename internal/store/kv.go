// Package store defines the relay's keyed state: pairing codes, ingest
// tokens, per-channel admission metadata, retained snapshots, bootstrap
// dictionaries and the active-channel registry. Every key class carries its
// own TTL; backends enforce expiry themselves.
package store

import (
	"context"
	"time"
)

// ChannelMeta is the per-channel admission state. The zero value stands for
// "no prior accepted snapshot".
type ChannelMeta struct {
	TS       int64  `json:"ts"` // unix millis of last acceptance
	Seq      int64  `json:"seq"`
	SaveHash string `json:"save_hash"`
}

// KV is the relay state store. Implementations must make TakePairingCode
// single-use under concurrency and CompareAndSwapMeta atomic per channel;
// everything else is plain keyed read/write with TTL.
type KV interface {
	// Pairing codes (code -> channelId).
	PutPairingCode(ctx context.Context, code, channelID string, ttl time.Duration) error
	// TakePairingCode resolves and deletes a code in one atomic step.
	// Returns ok=false if the code is unknown or expired.
	TakePairingCode(ctx context.Context, code string) (channelID string, ok bool, err error)

	// Ingest tokens (token -> channelId).
	PutIngestToken(ctx context.Context, token, channelID string, ttl time.Duration) error
	ResolveIngestToken(ctx context.Context, token string) (channelID string, ok bool, err error)

	// Per-channel admission metadata.
	GetChannelMeta(ctx context.Context, channelID string) (ChannelMeta, bool, error)
	// CompareAndSwapMeta writes next only if the stored meta still equals
	// prev (a zero prev matches an absent entry). Returns false when another
	// writer got there first.
	CompareAndSwapMeta(ctx context.Context, channelID string, prev, next ChannelMeta, ttl time.Duration) (bool, error)

	// Last accepted snapshot, retained briefly for diagnostics and for
	// seeding newly connected viewers.
	PutLastSnapshot(ctx context.Context, channelID string, data []byte, ttl time.Duration) error
	GetLastSnapshot(ctx context.Context, channelID string) ([]byte, bool, error)

	// Bootstrap dictionaries.
	PutBootstrap(ctx context.Context, channelID string, data []byte, ttl time.Duration) error
	GetBootstrap(ctx context.Context, channelID string) ([]byte, bool, error)

	// Active-channel registry, used only to admission-control new pairings.
	IsActive(ctx context.Context, channelID string) (bool, error)
	Activate(ctx context.Context, channelID string, ttl time.Duration) error
	ActiveCount(ctx context.Context) (int, error)
}
