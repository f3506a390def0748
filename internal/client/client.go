// Package client is the agent-side HTTP client for the relay. Responses that
// fail carry the relay's stable error code so callers branch on code, not on
// status text.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/nextlevelbuilder/savecast/internal/credential"
	"github.com/nextlevelbuilder/savecast/pkg/protocol"
)

const requestTimeout = 30 * time.Second

// APIError is a non-2xx relay response.
type APIError struct {
	Status int
	Body   protocol.ErrorBody
}

func (e *APIError) Error() string {
	return fmt.Sprintf("relay %d: %s", e.Status, e.Body.Error)
}

// Auth reports whether the credential is rejected and must be discarded.
func (e *APIError) Auth() bool {
	return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
}

// RetryIn returns the server-suggested wait, zero when none was given.
func (e *APIError) RetryIn() time.Duration {
	return time.Duration(e.Body.RetryInMs) * time.Millisecond
}

// Grant is a completed pairing: the credential the agent stores.
type Grant struct {
	ChannelID   string
	IngestToken string
	ExpiresIn   time.Duration
}

// Client talks to one relay. When creds is non-nil, a 401/403 on an
// authenticated call wipes the stored credential before the error returns.
type Client struct {
	baseURL string
	http    *http.Client
	creds   *credential.Store
}

func New(baseURL string, creds *credential.Store) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: requestTimeout},
		creds:   creds,
	}
}

// CompletePairing exchanges a pairing code for an ingest credential.
func (c *Client) CompletePairing(ctx context.Context, code string) (Grant, error) {
	var resp struct {
		ChannelID   string `json:"channelId"`
		IngestToken string `json:"ingestToken"`
		ExpiresIn   int64  `json:"expiresIn"`
	}
	err := c.do(ctx, http.MethodPost, "/pair/complete", "", map[string]string{"code": code}, &resp)
	if err != nil {
		return Grant{}, err
	}
	return Grant{
		ChannelID:   resp.ChannelID,
		IngestToken: resp.IngestToken,
		ExpiresIn:   time.Duration(resp.ExpiresIn) * time.Second,
	}, nil
}

// Ingest submits a snapshot under the given token.
func (c *Client) Ingest(ctx context.Context, token string, snap protocol.Snapshot) error {
	return c.do(ctx, http.MethodPost, "/ingest", token, snap, nil)
}

// PushBootstrap uploads the display dictionary for the paired channel.
func (c *Client) PushBootstrap(ctx context.Context, token string, boot protocol.Bootstrap) error {
	return c.do(ctx, http.MethodPut, "/bootstrap", token, boot, nil)
}

func (c *Client) do(ctx context.Context, method, path, token string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("x-ingest-token", token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}

	apiErr := &APIError{Status: resp.StatusCode}
	// Best effort; some proxies answer with non-JSON bodies.
	json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&apiErr.Body)

	if token != "" && apiErr.Auth() && c.creds != nil {
		c.creds.Clear()
	}
	return apiErr
}
