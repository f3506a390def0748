// Package relay is the HTTP surface of the savecast server: pairing, ingest,
// bootstrap dictionaries, the viewer websocket and health.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/nextlevelbuilder/savecast/internal/admission"
	"github.com/nextlevelbuilder/savecast/internal/auth"
	"github.com/nextlevelbuilder/savecast/internal/broadcast"
	"github.com/nextlevelbuilder/savecast/internal/pairing"
	"github.com/nextlevelbuilder/savecast/internal/store"
	"github.com/nextlevelbuilder/savecast/pkg/protocol"
)

// BootstrapTTL keeps a dictionary servable for a month after its last push.
const BootstrapTTL = 30 * 24 * time.Hour

// maxRequestBody bounds every JSON body the relay parses.
const maxRequestBody = 1 << 20 // 1MB

// Server holds the relay's dependencies and exposes them as an http.Handler.
type Server struct {
	kv        store.KV
	authority *pairing.Authority
	verifier  *auth.Verifier
	ctrl      *admission.Controller
	hub       *broadcast.Hub
	limiter   *RateLimiter
}

// NewServer wires the relay surface.
func NewServer(kv store.KV, authority *pairing.Authority, verifier *auth.Verifier, ctrl *admission.Controller, hub *broadcast.Hub, limiter *RateLimiter) *Server {
	return &Server{kv: kv, authority: authority, verifier: verifier, ctrl: ctrl, hub: hub, limiter: limiter}
}

// Handler builds the routed, CORS-wrapped handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /pair/init", s.handlePairInit)
	mux.HandleFunc("POST /pair/complete", s.handlePairComplete)
	mux.HandleFunc("POST /ingest", s.handleIngest)
	mux.HandleFunc("PUT /bootstrap", s.handlePutBootstrap)
	mux.HandleFunc("GET /bootstrap/{channelId}", s.handleGetBootstrap)
	mux.HandleFunc("GET /ws/{channelId}", s.handleViewerWS)
	return withCORS(mux)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handlePairInit(w http.ResponseWriter, r *http.Request) {
	channelID := r.URL.Query().Get("channelId")
	if channelID == "" {
		writeError(w, http.StatusBadRequest, protocol.ErrorBody{Error: protocol.ErrCodeChannelIDMissing})
		return
	}

	claims, err := s.verifier.VerifyBearer(r.Header.Get("Authorization"))
	if err != nil {
		writeError(w, http.StatusUnauthorized, protocol.ErrorBody{Error: protocol.ErrCodeInvalidJWT})
		return
	}
	if claims.ChannelID != channelID {
		writeError(w, http.StatusBadRequest, protocol.ErrorBody{Error: protocol.ErrCodeChannelMismatch})
		return
	}

	code, expiresIn, err := s.authority.Initiate(r.Context(), channelID, claims)
	if err != nil {
		var capErr *pairing.CapacityError
		switch {
		case errors.As(err, &capErr):
			writeError(w, http.StatusForbidden, protocol.ErrorBody{
				Error: protocol.ErrCodeActiveLimitReached, Max: capErr.Max,
			})
		case errors.Is(err, pairing.ErrForbidden):
			writeError(w, http.StatusForbidden, protocol.ErrorBody{Error: protocol.ErrCodeForbidden})
		default:
			slog.Error("pair init failed", "channel", channelID, "error", err)
			w.WriteHeader(http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"code":      code,
		"expiresIn": int64(expiresIn.Seconds()),
	})
}

func (s *Server) handlePairComplete(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Code string `json:"code"`
	}
	if err := decodeBody(w, r, &body); err != nil || body.Code == "" {
		writeError(w, http.StatusBadRequest, protocol.ErrorBody{Error: protocol.ErrCodeCodeMissing})
		return
	}

	grant, err := s.authority.Complete(r.Context(), body.Code)
	if err != nil {
		if errors.Is(err, pairing.ErrInvalidCode) {
			writeError(w, http.StatusBadRequest, protocol.ErrorBody{Error: protocol.ErrCodeInvalidCode})
			return
		}
		slog.Error("pair complete failed", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"channelId":   grant.ChannelID,
		"ingestToken": grant.IngestToken,
		"expiresIn":   int64(grant.ExpiresIn.Seconds()),
	})
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get("x-ingest-token")
	if !s.limiter.Allow(token) {
		writeError(w, http.StatusTooManyRequests, protocol.ErrorBody{Error: protocol.ErrCodeRateLimited})
		return
	}

	var snap protocol.Snapshot
	if err := decodeBody(w, r, &snap); err != nil {
		writeError(w, http.StatusBadRequest, protocol.ErrorBody{Error: protocol.ErrCodeInvalidBody, Hint: err.Error()})
		return
	}
	if err := snap.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, protocol.ErrorBody{Error: protocol.ErrCodeInvalidBody, Hint: err.Error()})
		return
	}

	rej, err := s.ctrl.Admit(r.Context(), token, snap)
	if err != nil {
		var pubErr *broadcast.PublishError
		if errors.As(err, &pubErr) {
			// Accepted but not delivered upstream; the client treats this
			// like any transport failure and state stays committed.
			writeError(w, http.StatusBadGateway, protocol.ErrorBody{Error: protocol.ErrCodePubSubFailed, Hint: pubErr.Body})
			return
		}
		slog.Error("ingest failed", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if rej != nil {
		body := protocol.ErrorBody{Error: rej.Code, Hint: rej.Hint, RetryInMs: rej.RetryInMs}
		if rej.Code == protocol.ErrCodeStaleSequence {
			body.LastSeq = rej.LastSeq
		}
		writeError(w, rej.Status, body)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePutBootstrap(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get("x-ingest-token")
	if token == "" {
		writeError(w, http.StatusUnauthorized, protocol.ErrorBody{Error: protocol.ErrCodeMissingIngestToken})
		return
	}
	channelID, ok, err := s.kv.ResolveIngestToken(r.Context(), token)
	if err != nil {
		slog.Error("resolve ingest token failed", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if !ok {
		writeError(w, http.StatusUnauthorized, protocol.ErrorBody{Error: protocol.ErrCodeInvalidIngestToken})
		return
	}

	var boot protocol.Bootstrap
	if err := decodeBody(w, r, &boot); err != nil {
		writeError(w, http.StatusBadRequest, protocol.ErrorBody{Error: protocol.ErrCodeInvalidBody, Hint: err.Error()})
		return
	}
	if err := boot.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, protocol.ErrorBody{Error: protocol.ErrCodeInvalidBody, Hint: err.Error()})
		return
	}

	data, err := json.Marshal(boot)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if err := s.kv.PutBootstrap(r.Context(), channelID, data, BootstrapTTL); err != nil {
		slog.Error("store bootstrap failed", "channel", channelID, "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	slog.Info("bootstrap stored", "channel", channelID, "bytes", len(data))
	w.Header().Set("ETag", boot.WeakETag())
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetBootstrap(w http.ResponseWriter, r *http.Request) {
	channelID := r.PathValue("channelId")
	data, ok, err := s.kv.GetBootstrap(r.Context(), channelID)
	if err != nil {
		slog.Error("load bootstrap failed", "channel", channelID, "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, protocol.ErrorBody{Error: protocol.ErrCodeNotFound})
		return
	}

	var boot protocol.Bootstrap
	if err := json.Unmarshal(data, &boot); err != nil {
		slog.Error("stored bootstrap corrupt", "channel", channelID, "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	etag := boot.WeakETag()
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "public, max-age=86400")
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (s *Server) handleViewerWS(w http.ResponseWriter, r *http.Request) {
	channelID := r.PathValue("channelId")
	initial, _, err := s.kv.GetLastSnapshot(r.Context(), channelID)
	if err != nil {
		slog.Warn("last snapshot unavailable for new viewer", "channel", channelID, "error", err)
	}
	s.hub.ServeViewer(w, r, channelID, initial)
}

// Serve runs the HTTP server until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	slog.Info("relay listening", "addr", addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	return json.NewDecoder(r.Body).Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, body protocol.ErrorBody) {
	writeJSON(w, status, body)
}
