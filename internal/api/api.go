// Package api provides the HTTP surface of BookingRelay.
//
// It accepts booking webhooks from the scheduling platform, Telegram updates
// when the bot runs in webhook mode, and serves health and metrics endpoints.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/BookingRelay/internal/messaging"
	"github.com/BTreeMap/BookingRelay/internal/models"
)

// Server defaults.
const (
	DefaultAddr         = ":8080"
	DefaultMaxBodyBytes = 1 << 20
	shutdownTimeout     = 10 * time.Second
)

// ErrSecretRequired is returned when webhook authentication is enforced but no
// secret is configured.
var ErrSecretRequired = errors.New("webhook secret required but not set")

// Ingester admits inbound booking events.
type Ingester interface {
	Ingest(ctx context.Context, ev models.InboundEvent) messaging.IngestResult
}

// CallbackDispatcher hands operator clicks off for processing without blocking
// the caller.
type CallbackDispatcher interface {
	Dispatch(ctx context.Context, cb models.Callback)
}

// Opts holds configuration options for the Server.
type Opts struct {
	Addr           string
	WebhookSecret  string
	RequireSecret  bool
	TelegramSecret string
	Callbacks      CallbackDispatcher
	MetricsHandler http.Handler
	MaxBodyBytes   int64
}

// Option defines a functional option for configuring the Server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithWebhookSecret sets the shared secret webhook deliveries must present.
func WithWebhookSecret(secret string) Option {
	return func(o *Opts) { o.WebhookSecret = secret }
}

// WithRequireSecret controls whether deliveries are rejected when no secret is configured.
func WithRequireSecret(required bool) Option {
	return func(o *Opts) { o.RequireSecret = required }
}

// WithTelegramWebhook mounts POST /telegram/{secret} and dispatches clicks to d.
func WithTelegramWebhook(secret string, d CallbackDispatcher) Option {
	return func(o *Opts) {
		o.TelegramSecret = secret
		o.Callbacks = d
	}
}

// WithMetricsHandler mounts h on GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(o *Opts) { o.MetricsHandler = h }
}

// WithMaxBodyBytes caps the size of webhook bodies.
func WithMaxBodyBytes(n int64) Option {
	return func(o *Opts) { o.MaxBodyBytes = n }
}

// Server is the BookingRelay HTTP server.
type Server struct {
	relay Ingester
	opts  Opts
	http  *http.Server
}

// NewServer creates a Server. Webhook authentication is enforced by default.
func NewServer(relay Ingester, opts ...Option) (*Server, error) {
	o := Opts{Addr: DefaultAddr, RequireSecret: true, MaxBodyBytes: DefaultMaxBodyBytes}
	for _, opt := range opts {
		opt(&o)
	}
	if o.RequireSecret && o.WebhookSecret == "" {
		return nil, ErrSecretRequired
	}
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if o.Callbacks != nil && o.TelegramSecret == "" {
		return nil, fmt.Errorf("telegram webhook requires a path secret")
	}
	if o.WebhookSecret == "" {
		slog.Warn("Server.NewServer: webhook secret not set, deliveries are unauthenticated")
	}

	s := &Server{relay: relay, opts: o}
	s.http = &http.Server{
		Addr:              o.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	slog.Debug("Server.NewServer: configured",
		"addr", o.Addr,
		"webhook_secret_set", o.WebhookSecret != "",
		"telegram_webhook", o.Callbacks != nil,
		"metrics", o.MetricsHandler != nil)
	return s, nil
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/webhooks/wix", s.wixWebhookHandler)
	if s.opts.Callbacks != nil {
		mux.HandleFunc("/telegram/{secret}", s.telegramWebhookHandler)
	}
	mux.HandleFunc("/ping", s.pingHandler)
	mux.HandleFunc("/{$}", s.healthHandler)
	if s.opts.MetricsHandler != nil {
		mux.Handle("/metrics", s.opts.MetricsHandler)
	}
	return chain(recoveryMiddleware, requestIDMiddleware)(mux)
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: listening", "addr", s.opts.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server failed: %w", err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("Server.Run: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	return <-errCh
}
