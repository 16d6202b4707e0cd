package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/BookingRelay/internal/models"
	"github.com/BTreeMap/BookingRelay/internal/store"
)

// Control labels for active notifications.
const (
	LabelPaid    = "✅ Paid"
	LabelCancel  = "❌ Cancel"
	LabelApprove = "👍 Approve"
	LabelReject  = "👎 Reject"
)

// NotifierOpts holds configuration options for the Notifier.
type NotifierOpts struct {
	Location       *time.Location
	BindHandle     bool
	RawDiagnostics bool
}

// NotifierOption defines a functional option for configuring the Notifier.
type NotifierOption func(*NotifierOpts)

// WithLocation sets the timezone booking times are shown in.
func WithLocation(loc *time.Location) NotifierOption {
	return func(o *NotifierOpts) { o.Location = loc }
}

// WithBindHandle embeds the message handle into control payloads after send.
func WithBindHandle(enabled bool) NotifierOption {
	return func(o *NotifierOpts) { o.BindHandle = enabled }
}

// WithRawDiagnostics enables posting unrecognized payloads to the channel.
func WithRawDiagnostics(enabled bool) NotifierOption {
	return func(o *NotifierOpts) { o.RawDiagnostics = enabled }
}

// Notifier posts booking notifications and resolves their controls.
type Notifier struct {
	channel Channel
	repo    store.NotificationRepo
	opts    NotifierOpts
}

// NewNotifier creates a Notifier. Times default to DefaultTimezone and raw
// diagnostics are enabled.
func NewNotifier(ch Channel, repo store.NotificationRepo, opts ...NotifierOption) *Notifier {
	o := NotifierOpts{RawDiagnostics: true}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Location == nil {
		loc, err := time.LoadLocation(DefaultTimezone)
		if err != nil {
			loc = time.UTC
		}
		o.Location = loc
	}
	if repo == nil {
		repo = store.NewInMemoryStore()
	}
	return &Notifier{channel: ch, repo: repo, opts: o}
}

// controlsFor returns the active controls for b, nil when b cannot be acted upon.
func controlsFor(b models.Booking, h models.Handle) []models.Control {
	if !b.Actionable() || isCancellation(b) {
		return nil
	}
	if isPendingApproval(b) {
		return []models.Control{
			{Label: LabelApprove, Data: EncodeControl(models.OutcomeApproved, b.RecordID, h)},
			{Label: LabelReject, Data: EncodeControl(models.OutcomeRejected, b.RecordID, h)},
		}
	}
	return []models.Control{
		{Label: LabelPaid, Data: EncodeControl(models.OutcomePaid, b.RecordID, h)},
		{Label: LabelCancel, Data: EncodeControl(models.OutcomeCancelled, b.RecordID, h)},
	}
}

func fits(controls []models.Control) bool {
	for _, c := range controls {
		if len(c.Data) > MaxControlDataLen {
			return false
		}
	}
	return true
}

// Notify posts b and records the notification as ACTIVE when it carries controls.
func (n *Notifier) Notify(ctx context.Context, b models.Booking, dedupKey string) (models.Handle, error) {
	controls := controlsFor(b, models.Handle{})
	if !fits(controls) {
		slog.Warn("Notifier.Notify: record id too long for controls, sending without them", "record_id", b.RecordID)
		controls = nil
	}

	h, err := n.channel.Send(ctx, FormatBooking(b, n.opts.Location), controls)
	if err != nil {
		return models.Handle{}, fmt.Errorf("notify booking %q: %w", b.RecordID, err)
	}
	if len(controls) == 0 {
		return h, nil
	}

	if n.opts.BindHandle {
		// The handle is only known after send, so binding takes a second call.
		bound := controlsFor(b, h)
		if !fits(bound) {
			slog.Debug("Notifier.Notify: bound controls exceed size limit, keeping unbound", "handle", h.String())
		} else if err := n.channel.EditControls(ctx, h, bound); err != nil {
			slog.Warn("Notifier.Notify: failed to bind handle into controls", "handle", h.String(), "error", err)
		}
	}

	rec := models.NotificationRecord{
		Handle:   h,
		RecordID: b.RecordID,
		DedupKey: dedupKey,
		State:    models.ControlsActive,
	}
	if err := n.repo.SaveNotification(ctx, rec); err != nil {
		slog.Error("Notifier.Notify: failed to save notification record", "handle", h.String(), "error", err)
	}
	slog.Info("Notifier.Notify: booking notified", "record_id", b.RecordID, "handle", h.String())
	return h, nil
}

// Resolve replaces the controls of h with a single static label for outcome
// and marks the record RESOLVED. The record is resolved even when the edit fails.
func (n *Notifier) Resolve(ctx context.Context, h models.Handle, outcome models.Outcome) error {
	editErr := n.channel.EditControls(ctx, h, []models.Control{{Label: outcome.Label(), Data: models.NoopControlData}})
	if editErr != nil {
		editErr = fmt.Errorf("edit controls: %w", editErr)
	}
	storeErr := n.repo.ResolveNotification(ctx, h, outcome)
	if storeErr != nil {
		storeErr = fmt.Errorf("resolve record: %w", storeErr)
	}
	return errors.Join(editErr, storeErr)
}

// Record returns the notification record for h, nil when unknown.
func (n *Notifier) Record(ctx context.Context, h models.Handle) (*models.NotificationRecord, error) {
	return n.repo.GetNotification(ctx, h)
}

// Reply posts text as a reply to h.
func (n *Notifier) Reply(ctx context.Context, h models.Handle, text string) error {
	return n.channel.Reply(ctx, h, text)
}

// Diagnostic posts a raw payload for operators when raw diagnostics are enabled.
func (n *Notifier) Diagnostic(ctx context.Context, title string, raw []byte) error {
	if !n.opts.RawDiagnostics {
		slog.Debug("Notifier.Diagnostic: raw diagnostics disabled", "title", title)
		return nil
	}
	_, err := n.channel.Send(ctx, FormatDiagnostic(title, raw), nil)
	return err
}
