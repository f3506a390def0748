package broadcast

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/nextlevelbuilder/savecast/internal/auth"
	"github.com/nextlevelbuilder/savecast/pkg/protocol"
)

// broadcastJWTTTL is the lifetime of the per-publish service credential.
const broadcastJWTTTL = 60 * time.Second

// PublishError reports a failed upstream fanout, carrying the upstream
// status and response text. Local hub delivery has already happened by then.
type PublishError struct {
	Status int
	Body   string
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("pubsub failed %d: %s", e.Status, e.Body)
}

// Publisher delivers admitted snapshots to the local hub and, when an
// upstream pubsub URL is configured, to the hosted extension transport.
type Publisher struct {
	hub         *Hub
	verifier    *auth.Verifier
	upstreamURL string
	clientID    string
	http        *http.Client
}

// NewPublisher wires the fanout targets. upstreamURL may be empty: the relay
// then serves only directly connected viewers.
func NewPublisher(hub *Hub, verifier *auth.Verifier, upstreamURL, clientID string) *Publisher {
	return &Publisher{
		hub:         hub,
		verifier:    verifier,
		upstreamURL: upstreamURL,
		clientID:    clientID,
		http:        &http.Client{Timeout: 15 * time.Second},
	}
}

type pubsubRequest struct {
	BroadcasterID string   `json:"broadcaster_id"`
	Target        []string `json:"target"`
	Message       string   `json:"message"`
}

// Publish fans the envelope out. Hub delivery is unconditional; the upstream
// call, when configured, decides success or failure. No state is held across
// either.
func (p *Publisher) Publish(ctx context.Context, channelID string, envelope []byte, _ protocol.Snapshot) error {
	p.hub.Broadcast(channelID, envelope)

	if p.upstreamURL == "" {
		return nil
	}

	token, err := p.verifier.MintBroadcastJWT(channelID, broadcastJWTTTL)
	if err != nil {
		return err
	}

	body, err := json.Marshal(pubsubRequest{
		BroadcasterID: channelID,
		Target:        []string{"broadcast"},
		Message:       string(envelope),
	})
	if err != nil {
		return fmt.Errorf("encode pubsub request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.upstreamURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build pubsub request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Client-Id", p.clientID)
	req.Header.Set("Content-Type", "application/json")

	res, err := p.http.Do(req)
	if err != nil {
		return fmt.Errorf("pubsub request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		text, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return &PublishError{Status: res.StatusCode, Body: string(text)}
	}

	slog.Debug("pubsub broadcast sent", "channel", channelID, "bytes", len(envelope))
	return nil
}
