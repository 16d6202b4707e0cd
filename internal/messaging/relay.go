package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/BookingRelay/internal/dedup"
	"github.com/BTreeMap/BookingRelay/internal/metrics"
	"github.com/BTreeMap/BookingRelay/internal/models"
	"github.com/BTreeMap/BookingRelay/internal/payload"
	"github.com/BTreeMap/BookingRelay/internal/store"
)

// IngestStatus is what happened to an inbound event.
type IngestStatus string

const (
	IngestNotified     IngestStatus = "notified"
	IngestDuplicate    IngestStatus = "duplicate"
	IngestMalformed    IngestStatus = "malformed"
	IngestUnrecognized IngestStatus = "unrecognized"
	IngestQueued       IngestStatus = "queued"
	IngestFailed       IngestStatus = "send_failed"
)

// IngestResult reports the handling of one inbound event.
type IngestResult struct {
	Status   IngestStatus  `json:"status"`
	DedupKey string        `json:"dedup_key,omitempty"`
	RecordID string        `json:"record_id,omitempty"`
	Handle   models.Handle `json:"-"`
}

// RelayOpts holds configuration options for the Relay.
type RelayOpts struct {
	TTL     time.Duration
	Outbox  store.OutboxRepo
	Alerter Alerter
	Metrics metrics.RelayMetrics
}

// RelayOption defines a functional option for configuring the Relay.
type RelayOption func(*RelayOpts)

// WithTTL sets the dedup window length.
func WithTTL(ttl time.Duration) RelayOption {
	return func(o *RelayOpts) { o.TTL = ttl }
}

// WithOutbox queues notifications whose send failed for later retry.
func WithOutbox(repo store.OutboxRepo) RelayOption {
	return func(o *RelayOpts) { o.Outbox = repo }
}

// WithRelayAlerter mirrors lost notifications to a secondary channel.
func WithRelayAlerter(a Alerter) RelayOption {
	return func(o *RelayOpts) { o.Alerter = a }
}

// WithRelayMetrics sets the metrics sink.
func WithRelayMetrics(m metrics.RelayMetrics) RelayOption {
	return func(o *RelayOpts) { o.Metrics = m }
}

// Relay admits inbound events once and turns them into notifications.
type Relay struct {
	window   dedup.WindowStore
	notifier *Notifier
	opts     RelayOpts
}

// NewRelay creates a Relay.
func NewRelay(window dedup.WindowStore, notifier *Notifier, opts ...RelayOption) *Relay {
	o := RelayOpts{TTL: dedup.DefaultTTL}
	for _, opt := range opts {
		opt(&o)
	}
	if o.TTL <= 0 {
		o.TTL = dedup.DefaultTTL
	}
	if o.Metrics == nil {
		o.Metrics = metrics.NewNoop()
	}
	return &Relay{window: window, notifier: notifier, opts: o}
}

// admit reports whether key is new. Store failures admit the event: a
// duplicate notification is preferred over a lost one.
func (r *Relay) admit(ctx context.Context, key string) bool {
	if key == "" {
		return true
	}
	ok, err := r.window.Admit(ctx, key, r.opts.TTL)
	if err != nil {
		slog.Error("Relay.admit: window store failed, admitting event", "dedup_key", key, "error", err)
		return true
	}
	return ok
}

// Ingest runs one event through parse, identity, admission and notification.
// It never fails the caller: every outcome is reported in the result.
func (r *Relay) Ingest(ctx context.Context, ev models.InboundEvent) IngestResult {
	res := r.ingest(ctx, ev)
	r.opts.Metrics.RecordEvent(ctx, ev.Source, string(res.Status))
	return res
}

// forget releases keys admitted for an event that was never delivered, so a
// later copy from either source gets another chance.
func (r *Relay) forget(ctx context.Context, keys ...string) {
	for _, key := range keys {
		if key == "" {
			continue
		}
		if err := r.window.Forget(ctx, key); err != nil {
			slog.Error("Relay.forget: window store failed", "dedup_key", key, "error", err)
		}
	}
}

func (r *Relay) ingest(ctx context.Context, ev models.InboundEvent) IngestResult {
	b, parseErr := payload.ParseBooking(ev.RawPayload)
	key := dedup.DeriveKey(ev, b)
	res := IngestResult{DedupKey: key, RecordID: b.RecordID}

	if key == "" && parseErr == nil && !b.IsEmpty() {
		slog.Warn("Relay.Ingest: event has no identity, treating as unique", "source", ev.Source)
	}
	if !r.admit(ctx, key) {
		slog.Info("Relay.Ingest: duplicate suppressed", "dedup_key", key, "source", ev.Source)
		res.Status = IngestDuplicate
		return res
	}

	if parseErr != nil {
		slog.Warn("Relay.Ingest: malformed payload", "source", ev.Source, "error", parseErr)
		r.diagnostic(ctx, "Malformed booking payload", ev.RawPayload)
		res.Status = IngestMalformed
		return res
	}
	if b.IsEmpty() {
		slog.Warn("Relay.Ingest: unrecognized payload", "source", ev.Source)
		r.diagnostic(ctx, "Unrecognized booking payload", ev.RawPayload)
		res.Status = IngestUnrecognized
		return res
	}

	ck := dedup.CreationKey(b)
	if ck == key {
		ck = ""
	}
	if ck != "" && !r.admit(ctx, ck) {
		slog.Info("Relay.Ingest: booking already announced by another source", "dedup_key", ck, "source", ev.Source)
		res.Status = IngestDuplicate
		return res
	}

	h, err := r.notifier.Notify(ctx, b, key)
	if err == nil {
		res.Status = IngestNotified
		res.Handle = h
		return res
	}

	slog.Error("Relay.Ingest: notification send failed", "record_id", b.RecordID, "dedup_key", key, "error", err)
	if r.opts.Outbox != nil {
		qerr := r.enqueue(ctx, ev, key, b.RecordID)
		if qerr == nil {
			res.Status = IngestQueued
			return res
		}
		slog.Error("Relay.Ingest: failed to queue notification", "record_id", b.RecordID, "error", qerr)
	}
	r.forget(ctx, key, ck)
	r.alert(ctx, fmt.Sprintf("Booking notification lost for %s: %v", displayID(b.RecordID), err))
	res.Status = IngestFailed
	return res
}

func displayID(id string) string {
	if id == "" {
		return "an unidentified booking"
	}
	return "booking " + id
}

func (r *Relay) diagnostic(ctx context.Context, title string, raw []byte) {
	if err := r.notifier.Diagnostic(ctx, title, raw); err != nil {
		slog.Error("Relay.diagnostic: failed to post diagnostic", "error", err)
	}
}

func (r *Relay) alert(ctx context.Context, text string) {
	if r.opts.Alerter == nil {
		return
	}
	if err := r.opts.Alerter.Alert(ctx, text); err != nil {
		slog.Error("Relay.alert: failed to mirror alert", "error", err)
	}
}

// queuedNotification is the outbox payload of a notification awaiting resend.
type queuedNotification struct {
	Payload         []byte    `json:"payload"`
	ProviderEventID string    `json:"provider_event_id,omitempty"`
	Source          string    `json:"source"`
	DedupKey        string    `json:"dedup_key,omitempty"`
	ReceivedAt      time.Time `json:"received_at"`
}

func (r *Relay) enqueue(ctx context.Context, ev models.InboundEvent, key, recordID string) error {
	data, err := json.Marshal(queuedNotification{
		Payload:         ev.RawPayload,
		ProviderEventID: ev.ProviderEventID,
		Source:          ev.Source,
		DedupKey:        key,
		ReceivedAt:      ev.ReceivedAt,
	})
	if err != nil {
		return fmt.Errorf("encode outbox payload: %w", err)
	}
	id, err := r.opts.Outbox.Enqueue(ctx, store.OutboxEntry{
		RecordID: recordID,
		Kind:     store.OutboxKindNotification,
		Payload:  string(data),
		DedupKey: key,
	})
	if err != nil {
		return err
	}
	slog.Info("Relay.enqueue: notification queued for retry", "outbox_id", id, "record_id", recordID)
	return nil
}

// ErrUnknownOutboxKind is returned for outbox messages the relay did not queue.
var ErrUnknownOutboxKind = errors.New("unknown outbox message kind")

// SendQueued resends a queued notification. It is the OutboxSender callback;
// the event was already admitted, so the dedup window is not consulted again.
func (r *Relay) SendQueued(ctx context.Context, msg store.OutboxMessage) error {
	if msg.Kind != store.OutboxKindNotification {
		return fmt.Errorf("%w: %q", ErrUnknownOutboxKind, msg.Kind)
	}
	var q queuedNotification
	if err := json.Unmarshal([]byte(msg.PayloadJSON), &q); err != nil {
		return fmt.Errorf("decode outbox payload: %w", err)
	}
	b, err := payload.ParseBooking(q.Payload)
	if err != nil {
		return err
	}
	_, err = r.notifier.Notify(ctx, b, q.DedupKey)
	if err == nil {
		r.opts.Metrics.RecordEvent(ctx, "outbox", string(IngestNotified))
	}
	return err
}
