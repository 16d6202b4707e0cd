package messaging

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/BTreeMap/BookingRelay/internal/clock"
	"github.com/BTreeMap/BookingRelay/internal/models"
	"github.com/BTreeMap/BookingRelay/internal/payload"
	"github.com/BTreeMap/BookingRelay/internal/store"
)

// pollCursorName is the cursor the poller advances.
const pollCursorName = "bookings.created"

// Poller defaults.
const (
	DefaultPollLookback = time.Hour
	DefaultPollLimit    = 50
)

// BookingQuerier lists bookings created after a point in time, oldest first.
type BookingQuerier interface {
	QueryBookingsSince(ctx context.Context, since time.Time, limit int) ([]json.RawMessage, error)
}

// Poller periodically feeds newly created bookings into the relay, covering
// webhook deliveries that never arrived.
type Poller struct {
	api      BookingQuerier
	relay    *Relay
	cursors  store.CursorRepo
	interval time.Duration
	lookback time.Duration
	limit    int
	clock    clock.Clock
}

// NewPoller creates a Poller. On first run it starts DefaultPollLookback in the past.
func NewPoller(api BookingQuerier, relay *Relay, cursors store.CursorRepo, interval time.Duration) *Poller {
	if cursors == nil {
		cursors = store.NewInMemoryStore()
	}
	return &Poller{
		api:      api,
		relay:    relay,
		cursors:  cursors,
		interval: interval,
		lookback: DefaultPollLookback,
		limit:    DefaultPollLimit,
		clock:    clock.NewSystem(),
	}
}

// Run polls immediately and then every interval until ctx is done.
func (p *Poller) Run(ctx context.Context) {
	if p.interval <= 0 {
		slog.Debug("Poller.Run: polling disabled")
		return
	}
	slog.Info("Poller.Run: starting", "interval", p.interval)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		if _, err := p.PollOnce(ctx); err != nil && ctx.Err() == nil {
			slog.Error("Poller.Run: poll failed", "error", err)
		}
		select {
		case <-ctx.Done():
			slog.Info("Poller.Run: stopping")
			return
		case <-ticker.C:
		}
	}
}

// PollOnce ingests one page of bookings created since the cursor and returns
// how many were notified.
func (p *Poller) PollOnce(ctx context.Context) (int, error) {
	since, ok, err := p.cursors.GetCursor(ctx, pollCursorName)
	if err != nil {
		return 0, err
	}
	if !ok {
		since = p.clock.Now().Add(-p.lookback)
	}

	items, err := p.api.QueryBookingsSince(ctx, since, p.limit)
	if err != nil {
		return 0, err
	}

	cursor, notified := since, 0
	for _, raw := range items {
		res := p.relay.Ingest(ctx, models.InboundEvent{
			RawPayload: raw,
			Source:     "poll",
			ReceivedAt: p.clock.Now(),
		})
		if res.Status == IngestNotified {
			notified++
		}
		if b, err := payload.ParseBooking(raw); err == nil && b.CreatedAt != nil && b.CreatedAt.After(cursor) {
			cursor = *b.CreatedAt
		}
	}

	if cursor.After(since) {
		if err := p.cursors.SetCursor(ctx, pollCursorName, cursor); err != nil {
			return notified, err
		}
	}
	if len(items) > 0 {
		slog.Debug("Poller.PollOnce: page ingested", "items", len(items), "notified", notified, "cursor", cursor)
	}
	return notified, nil
}
