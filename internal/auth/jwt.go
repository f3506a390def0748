// Package auth verifies broadcaster extension JWTs and mints the short-lived
// service JWTs the publisher presents upstream. Both sides use the extension's
// base64-encoded HS256 shared secret; token internals stay inside this
// package.
package auth

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Roles carried by extension JWTs.
const (
	RoleBroadcaster = "broadcaster"
	RoleAdmin       = "admin"
	RoleExternal    = "external"
)

// ErrInvalidToken covers every verification failure: missing bearer, bad
// signature, expiry, malformed claims.
var ErrInvalidToken = errors.New("invalid or expired token")

// Claims is the subset of the extension JWT the relay acts on.
type Claims struct {
	ChannelID string `json:"channel_id"`
	Role      string `json:"role"`
	UserID    string `json:"user_id"`
	jwt.RegisteredClaims
}

// pubSubPerms mirrors the upstream pubsub permission claim.
type pubSubPerms struct {
	Send []string `json:"send"`
}

type broadcastClaims struct {
	ChannelID   string      `json:"channel_id"`
	Role        string      `json:"role"`
	UserID      string      `json:"user_id"`
	PubSubPerms pubSubPerms `json:"pubsub_perms"`
	jwt.RegisteredClaims
}

// Verifier checks inbound bearer tokens and signs outbound service tokens.
type Verifier struct {
	secret      []byte
	ownerUserID string
}

// NewVerifier decodes the base64 shared secret once up front.
func NewVerifier(sharedSecretB64, ownerUserID string) (*Verifier, error) {
	secret, err := base64.StdEncoding.DecodeString(sharedSecretB64)
	if err != nil {
		return nil, fmt.Errorf("decode shared secret: %w", err)
	}
	if len(secret) == 0 {
		return nil, errors.New("shared secret is empty")
	}
	return &Verifier{secret: secret, ownerUserID: ownerUserID}, nil
}

// VerifyBearer validates an "Authorization: Bearer <jwt>" header and returns
// the claims. Only HS256 is accepted.
func (v *Verifier) VerifyBearer(authHeader string) (*Claims, error) {
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return nil, fmt.Errorf("%w: missing bearer", ErrInvalidToken)
	}
	raw := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))

	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return &claims, nil
}

// CanPublishFor reports whether the claims authorize issuing a pairing code
// for channelID: role broadcaster or admin, on exactly that channel.
func (c *Claims) CanPublishFor(channelID string) bool {
	if c.Role != RoleBroadcaster && c.Role != RoleAdmin {
		return false
	}
	return c.ChannelID == channelID
}

// MintBroadcastJWT signs a service token scoped to "broadcast" sends for one
// channel, valid for ttl.
func (v *Verifier) MintBroadcastJWT(channelID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := broadcastClaims{
		ChannelID:   channelID,
		Role:        RoleExternal,
		UserID:      v.ownerUserID,
		PubSubPerms: pubSubPerms{Send: []string{"broadcast"}},
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign broadcast jwt: %w", err)
	}
	return signed, nil
}
