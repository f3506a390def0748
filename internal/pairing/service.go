// Package pairing implements the channel pairing handshake.
//
// A broadcaster (via the extension config view) requests a pairing code:
//  1. The relay verifies the broadcaster JWT for exactly that channel
//  2. The active-channel registry is checked against its capacity ceiling
//  3. A 6-character code is stored against the channel for 10 minutes
//
// The desktop agent exchanges the code exactly once for a long-lived ingest
// credential; a second exchange of the same code fails.
package pairing

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/savecast/internal/auth"
	"github.com/nextlevelbuilder/savecast/internal/store"
)

const (
	// CodeAlphabet is uppercase base36, matching the codes broadcasters see.
	CodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	// CodeLength is the number of characters in a pairing code.
	CodeLength = 6
	// CodeTTL is how long an unused pairing code remains redeemable.
	CodeTTL = 10 * time.Minute
	// TokenTTL is the server-side lifetime of an ingest token.
	TokenTTL = 7 * 24 * time.Hour
	// ActiveTTL is how long a channel counts as active after its last pairing.
	ActiveTTL = 24 * time.Hour
)

var (
	// ErrForbidden: the caller's role/channel do not authorize this channel.
	ErrForbidden = errors.New("caller may not pair this channel")
	// ErrInvalidCode: the code is unknown, already used, or expired.
	ErrInvalidCode = errors.New("invalid or expired pairing code")
)

// CapacityError reports a full active-channel registry, carrying the cap so
// the broadcaster-facing surface can show it.
type CapacityError struct {
	Max int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("active channel limit reached (max %d)", e.Max)
}

// Grant is what a successful code exchange hands the desktop agent.
type Grant struct {
	ChannelID   string
	IngestToken string
	ExpiresIn   time.Duration
}

// Authority issues pairing codes and exchanges them for ingest credentials.
type Authority struct {
	kv          store.KV
	maxChannels atomic.Int64 // reloadable at runtime
}

// NewAuthority creates the pairing authority. maxChannels caps the active
// registry; <=0 falls back to 100.
func NewAuthority(kv store.KV, maxChannels int) *Authority {
	a := &Authority{kv: kv}
	a.SetMaxChannels(maxChannels)
	return a
}

// MaxChannels returns the registry capacity ceiling.
func (a *Authority) MaxChannels() int { return int(a.maxChannels.Load()) }

// SetMaxChannels changes the ceiling for subsequent pairings. <=0 falls back
// to 100.
func (a *Authority) SetMaxChannels(n int) {
	if n <= 0 {
		n = 100
	}
	a.maxChannels.Store(int64(n))
}

// Initiate issues a fresh pairing code for channelID. The claims must belong
// to the broadcaster (or an admin) of exactly that channel. Multiple live
// codes may coexist for one channel; issuing never invalidates earlier codes.
func (a *Authority) Initiate(ctx context.Context, channelID string, claims *auth.Claims) (code string, expiresIn time.Duration, err error) {
	if !claims.CanPublishFor(channelID) {
		return "", 0, ErrForbidden
	}

	alreadyActive, err := a.kv.IsActive(ctx, channelID)
	if err != nil {
		return "", 0, fmt.Errorf("check active registry: %w", err)
	}
	if !alreadyActive {
		count, err := a.kv.ActiveCount(ctx)
		if err != nil {
			return "", 0, fmt.Errorf("count active channels: %w", err)
		}
		if max := a.MaxChannels(); count >= max {
			return "", 0, &CapacityError{Max: max}
		}
	}

	code = generateCode()
	if err := a.kv.PutPairingCode(ctx, code, channelID, CodeTTL); err != nil {
		return "", 0, fmt.Errorf("store pairing code: %w", err)
	}
	if !alreadyActive {
		if err := a.kv.Activate(ctx, channelID, ActiveTTL); err != nil {
			return "", 0, fmt.Errorf("activate channel: %w", err)
		}
	}

	slog.Info("pairing code issued", "channel", channelID, "role", claims.Role)
	return code, CodeTTL, nil
}

// Complete exchanges a code for an ingest credential. The code is consumed
// atomically: of two concurrent exchanges, at most one succeeds.
func (a *Authority) Complete(ctx context.Context, code string) (*Grant, error) {
	channelID, ok, err := a.kv.TakePairingCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("take pairing code: %w", err)
	}
	if !ok {
		return nil, ErrInvalidCode
	}

	token := uuid.NewString()
	if err := a.kv.PutIngestToken(ctx, token, channelID, TokenTTL); err != nil {
		return nil, fmt.Errorf("store ingest token: %w", err)
	}

	slog.Info("pairing completed", "channel", channelID)
	return &Grant{ChannelID: channelID, IngestToken: token, ExpiresIn: TokenTTL}, nil
}

func generateCode() string {
	b := make([]byte, CodeLength)
	rand.Read(b)
	code := make([]byte, CodeLength)
	for i := range code {
		code[i] = CodeAlphabet[int(b[i])%len(CodeAlphabet)]
	}
	return string(code)
}
