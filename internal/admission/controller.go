// Package admission decides whether a submitted snapshot is accepted for
// broadcast. The gates run in a fixed order and the first failure
// short-circuits the rest:
//
//  1. token resolves to a channel
//  2. snapshot channel matches the token's channel
//  3. (load per-channel meta; absent means zero values)
//  4. sequence strictly above the last accepted one
//  5. save hash differs from the last accepted one
//  6. minimum interval since the last acceptance has elapsed
//  7. encoded broadcast envelope fits the size ceiling
//  8. meta committed (compare-and-swap), snapshot retained, then published
//
// Gates 4-6 enforce "strictly increasing, strictly novel, strictly paced":
// three independent ways a duplicate or flood could otherwise slip through,
// each reported with its own client-actionable code.
package admission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/nextlevelbuilder/savecast/internal/store"
	"github.com/nextlevelbuilder/savecast/pkg/protocol"
)

const (
	// MetaTTL expires a channel's admission state after a day of inactivity.
	MetaTTL = 24 * time.Hour
	// LastSnapshotTTL bounds how long the last accepted snapshot is retained.
	LastSnapshotTTL = 2 * time.Hour
	// DefaultInterval is the minimum spacing between accepted snapshots.
	DefaultInterval = 5 * time.Minute

	// casAttempts bounds the re-check loop when a concurrent submission
	// commits between our gate run and our meta swap.
	casAttempts = 3
)

// Rejection is a failed gate, carrying everything the HTTP layer needs to
// answer the client.
type Rejection struct {
	Code      string
	Status    int
	Hint      string
	RetryInMs int64 // set for too_soon
	LastSeq   int64 // set for stale_sequence
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("admission rejected: %s", r.Code)
}

// Publisher fans an admitted snapshot out to viewers.
type Publisher interface {
	Publish(ctx context.Context, channelID string, envelope []byte, snapshot protocol.Snapshot) error
}

// Controller runs the admission gates against the shared KV state.
type Controller struct {
	kv        store.KV
	publisher Publisher
	interval  atomic.Int64 // nanoseconds, reloadable at runtime
	now       func() time.Time
}

// New creates a controller. interval <= 0 falls back to DefaultInterval.
func New(kv store.KV, publisher Publisher, interval time.Duration) *Controller {
	c := &Controller{kv: kv, publisher: publisher, now: time.Now}
	c.SetInterval(interval)
	return c
}

// WithClock overrides the controller's clock (tests).
func (c *Controller) WithClock(now func() time.Time) *Controller {
	c.now = now
	return c
}

// Interval returns the configured minimum acceptance spacing.
func (c *Controller) Interval() time.Duration {
	return time.Duration(c.interval.Load())
}

// SetInterval changes the spacing for subsequent admissions. <= 0 falls back
// to DefaultInterval.
func (c *Controller) SetInterval(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	c.interval.Store(int64(interval))
}

// Admit validates snap against the channel state behind token, commits the
// new state, and hands the snapshot to the publisher. A non-nil *Rejection is
// a client error; err covers backend and publish failures (meta is already
// committed when publishing fails — acceptance is not rolled back).
func (c *Controller) Admit(ctx context.Context, token string, snap protocol.Snapshot) (*Rejection, error) {
	// Gate 1: token -> channel.
	if token == "" {
		return &Rejection{Code: protocol.ErrCodeMissingIngestToken, Status: http.StatusUnauthorized}, nil
	}
	channelID, ok, err := c.kv.ResolveIngestToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("resolve ingest token: %w", err)
	}
	if !ok {
		return &Rejection{Code: protocol.ErrCodeInvalidIngestToken, Status: http.StatusUnauthorized}, nil
	}

	// Gate 2: the snapshot must claim the token's channel.
	if snap.ChannelID != channelID {
		return &Rejection{Code: protocol.ErrCodeChannelMismatch, Status: http.StatusBadRequest}, nil
	}

	// Gate 7 has no dependency on per-channel state; size the envelope once,
	// before entering the CAS loop.
	envelope, err := protocol.EncodeBroadcast(snap)
	if err != nil {
		if rej := sizeRejection(err); rej != nil {
			return rej, nil
		}
		return nil, err
	}

	now := c.now()
	var meta store.ChannelMeta
	for attempt := 0; attempt < casAttempts; attempt++ {
		// Gate 3: load state; absent means zero values.
		meta, _, err = c.kv.GetChannelMeta(ctx, channelID)
		if err != nil {
			return nil, fmt.Errorf("load channel meta: %w", err)
		}

		// Gate 4: strictly increasing sequence.
		if snap.Seq <= meta.Seq {
			return &Rejection{
				Code:    protocol.ErrCodeStaleSequence,
				Status:  http.StatusConflict,
				LastSeq: meta.Seq,
			}, nil
		}

		// Gate 5: strictly novel autosave.
		if snap.SaveHash == meta.SaveHash {
			return &Rejection{Code: protocol.ErrCodeNeedsNewAutosave, Status: http.StatusConflict}, nil
		}

		// Gate 6: strictly paced.
		intervalMs := c.Interval().Milliseconds()
		if since := now.UnixMilli() - meta.TS; since < intervalMs {
			return &Rejection{
				Code:      protocol.ErrCodeTooSoon,
				Status:    http.StatusTooManyRequests,
				RetryInMs: intervalMs - since,
			}, nil
		}

		// Gate 8a: commit state atomically against what we validated.
		next := store.ChannelMeta{TS: now.UnixMilli(), Seq: snap.Seq, SaveHash: snap.SaveHash}
		swapped, err := c.kv.CompareAndSwapMeta(ctx, channelID, meta, next, MetaTTL)
		if err != nil {
			return nil, fmt.Errorf("commit channel meta: %w", err)
		}
		if swapped {
			return c.finish(ctx, channelID, envelope, snap)
		}
		// A concurrent submission won; re-run the gates against fresh state.
		slog.Debug("admission cas lost, re-checking", "channel", channelID, "seq", snap.Seq)
	}

	// Every attempt lost the swap; the competing writers advanced the state,
	// so this submission is stale by now.
	return &Rejection{Code: protocol.ErrCodeStaleSequence, Status: http.StatusConflict, LastSeq: meta.Seq}, nil
}

// finish runs after the state commit: retain the snapshot briefly, then fan
// out. Publish failures surface to the caller but do not undo acceptance; no
// lock is held across the network call.
func (c *Controller) finish(ctx context.Context, channelID string, envelope []byte, snap protocol.Snapshot) (*Rejection, error) {
	if err := c.kv.PutLastSnapshot(ctx, channelID, envelope, LastSnapshotTTL); err != nil {
		slog.Warn("retain last snapshot failed", "channel", channelID, "error", err)
	}

	if err := c.publisher.Publish(ctx, channelID, envelope, snap); err != nil {
		return nil, fmt.Errorf("publish: %w", err)
	}

	slog.Info("snapshot admitted", "channel", channelID, "seq", snap.Seq, "save", snap.SaveHash)
	return nil, nil
}

func sizeRejection(err error) *Rejection {
	if err == nil {
		return nil
	}
	if !errors.Is(err, protocol.ErrPayloadTooLarge) {
		return nil
	}
	return &Rejection{
		Code:   protocol.ErrCodePayloadTooLarge,
		Status: http.StatusRequestEntityTooLarge,
		Hint:   "Use bootstrap dictionaries & reduce per-snapshot size.",
	}
}
