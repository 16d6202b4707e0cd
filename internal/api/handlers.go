package api

import (
	"context"
	"crypto/subtle"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/BookingRelay/internal/models"
	"github.com/BTreeMap/BookingRelay/internal/telegram"
)

// Webhook request fields.
const (
	WebhookSecretHeader = "X-Webhook-Secret"
	WebhookSecretQuery  = "secret"
	EventIDHeader       = "X-Wix-Event-Id"
)

func secretMatches(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

func (s *Server) authorized(r *http.Request) bool {
	if s.opts.WebhookSecret == "" {
		return !s.opts.RequireSecret
	}
	got := r.Header.Get(WebhookSecretHeader)
	if got == "" {
		got = r.URL.Query().Get(WebhookSecretQuery)
	}
	return secretMatches(got, s.opts.WebhookSecret)
}

// wixWebhookHandler accepts booking events. Authenticated deliveries are always
// acknowledged with 200, whatever happened to them.
func (s *Server) wixWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !s.authorized(r) {
		slog.Warn("Server.wixWebhookHandler: rejected delivery with bad secret", "remote_addr", r.RemoteAddr)
		writeJSONResponse(w, http.StatusUnauthorized, models.Error("Unauthorized"))
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes))
	if err != nil {
		slog.Warn("Server.wixWebhookHandler: failed to read body", "error", err)
		writeJSONResponse(w, http.StatusOK, models.Ignored("Unreadable body"))
		return
	}

	ev := models.InboundEvent{
		RawPayload:      body,
		ProviderEventID: r.Header.Get(EventIDHeader),
		Source:          "webhook",
		ReceivedAt:      time.Now(),
	}
	// A dropped connection must not abort a notification half way.
	res := s.relay.Ingest(context.WithoutCancel(r.Context()), ev)
	slog.Debug("Server.wixWebhookHandler: delivery handled", "status", res.Status, "dedup_key", res.DedupKey)
	writeJSONResponse(w, http.StatusOK, ingestResponse(res))
}

// telegramWebhookHandler accepts Telegram updates. Clicks are handled after the
// response so Telegram does not redeliver while the booking API is slow.
func (s *Server) telegramWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !secretMatches(r.PathValue("secret"), s.opts.TelegramSecret) {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	update, err := telegram.DecodeUpdate(http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes))
	if err != nil {
		slog.Warn("Server.telegramWebhookHandler: failed to decode update", "error", err)
		w.WriteHeader(http.StatusOK)
		return
	}
	cb, ok := telegram.CallbackFromUpdate(update)
	if !ok {
		slog.Debug("Server.telegramWebhookHandler: ignoring non-callback update", "update_id", update.UpdateID)
		w.WriteHeader(http.StatusOK)
		return
	}

	s.opts.Callbacks.Dispatch(r.Context(), cb)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) pingHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("pong"))
}

// healthHandler provides a health check endpoint for monitoring and load balancing
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"status":           "healthy",
		"timestamp":        time.Now().UTC().Format(time.RFC3339),
		"telegram_webhook": s.opts.Callbacks != nil,
	})
}
