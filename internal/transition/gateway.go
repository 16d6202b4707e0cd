// Package transition applies operator decisions to bookings on the remote
// scheduling platform.
package transition

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/BookingRelay/internal/metrics"
	"github.com/BTreeMap/BookingRelay/internal/models"
	"github.com/BTreeMap/BookingRelay/internal/wix"
)

// Step names reported in TransitionResult.
const (
	StepConfirm  = "confirm"
	StepMarkPaid = "mark_paid"
	StepCancel   = "cancel"
	StepDecline  = "decline"
)

// DefaultStepTimeout bounds each remote call.
const DefaultStepTimeout = 10 * time.Second

// BookingAPI is the subset of the remote booking API the gateway drives.
type BookingAPI interface {
	ConfirmBooking(ctx context.Context, id string) error
	DeclineBooking(ctx context.Context, id string) error
	MarkBookingPaid(ctx context.Context, id string) error
	CancelBooking(ctx context.Context, id, reason string) error
}

var _ BookingAPI = (*wix.Client)(nil)

// Opts holds configuration options for the Gateway.
type Opts struct {
	StepTimeout         time.Duration
	PaidRequiresConfirm bool
	CancelReason        string
	Metrics             metrics.RelayMetrics
}

// Option defines a functional option for configuring the Gateway.
type Option func(*Opts)

// WithStepTimeout sets the per-call timeout.
func WithStepTimeout(d time.Duration) Option {
	return func(o *Opts) { o.StepTimeout = d }
}

// WithPaidRequiresConfirm controls whether PAID confirms the booking before marking it paid.
func WithPaidRequiresConfirm(v bool) Option {
	return func(o *Opts) { o.PaidRequiresConfirm = v }
}

// WithCancelReason sets the reason code sent on cancellation.
func WithCancelReason(reason string) Option {
	return func(o *Opts) { o.CancelReason = reason }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m metrics.RelayMetrics) Option {
	return func(o *Opts) { o.Metrics = m }
}

// Gateway turns an Outcome into an ordered list of remote calls and reports
// how far it got.
type Gateway struct {
	api  BookingAPI
	opts Opts
}

// NewGateway creates a Gateway. PAID is two-step unless disabled.
func NewGateway(api BookingAPI, opts ...Option) *Gateway {
	o := Opts{
		StepTimeout:         DefaultStepTimeout,
		PaidRequiresConfirm: true,
		CancelReason:        wix.DefaultCancelReason,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.StepTimeout <= 0 {
		o.StepTimeout = DefaultStepTimeout
	}
	if o.Metrics == nil {
		o.Metrics = metrics.NewNoop()
	}
	return &Gateway{api: api, opts: o}
}

// MaxDuration is the longest Apply can run when every step uses its full timeout.
func (g *Gateway) MaxDuration() time.Duration {
	steps := 1
	if g.opts.PaidRequiresConfirm {
		steps = 2
	}
	return time.Duration(steps) * g.opts.StepTimeout
}

type step struct {
	name string
	call func(ctx context.Context) error
}

func (g *Gateway) plan(outcome models.Outcome, id string) []step {
	confirm := step{StepConfirm, func(ctx context.Context) error { return g.api.ConfirmBooking(ctx, id) }}
	switch outcome {
	case models.OutcomePaid:
		markPaid := step{StepMarkPaid, func(ctx context.Context) error { return g.api.MarkBookingPaid(ctx, id) }}
		if g.opts.PaidRequiresConfirm {
			return []step{confirm, markPaid}
		}
		return []step{markPaid}
	case models.OutcomeCancelled:
		return []step{{StepCancel, func(ctx context.Context) error { return g.api.CancelBooking(ctx, id, g.opts.CancelReason) }}}
	case models.OutcomeApproved:
		return []step{confirm}
	case models.OutcomeRejected:
		return []step{{StepDecline, func(ctx context.Context) error { return g.api.DeclineBooking(ctx, id) }}}
	}
	return nil
}

// Apply runs the remote steps for req in order and stops at the first failure.
// A failure after at least one completed step is reported as partial.
func (g *Gateway) Apply(ctx context.Context, req models.TransitionRequest) models.TransitionResult {
	start := time.Now()
	res := models.TransitionResult{Outcome: req.RequestedOutcome, Status: models.TransitionApplied}

	if err := req.Validate(); err != nil {
		res.Status = models.TransitionFailed
		res.Detail = err.Error()
		return res
	}

	for _, s := range g.plan(req.RequestedOutcome, req.RecordID) {
		stepCtx, cancel := context.WithTimeout(ctx, g.opts.StepTimeout)
		err := s.call(stepCtx)
		cancel()
		if err != nil {
			res.FailedStep = s.name
			res.Status = models.TransitionFailed
			if len(res.CompletedSteps) > 0 {
				res.Status = models.TransitionPartial
			}
			res.HTTPStatus, res.Detail = describeError(err)
			slog.Warn("Gateway.Apply: remote step failed",
				"record_id", req.RecordID, "outcome", req.RequestedOutcome, "step", s.name,
				"status", res.Status, "http_status", res.HTTPStatus, "error", err)
			break
		}
		res.CompletedSteps = append(res.CompletedSteps, s.name)
	}

	res.Duration = time.Since(start)
	g.opts.Metrics.RecordTransition(ctx, string(res.Outcome), string(res.Status), res.Duration)
	if res.Succeeded() {
		slog.Info("Gateway.Apply: transition applied",
			"record_id", req.RecordID, "outcome", req.RequestedOutcome, "actor_id", req.ActorID, "duration", res.Duration)
	}
	return res
}

// describeError extracts the upstream status code and body. Transport errors
// (timeouts, refused connections, an open breaker) have no status code.
func describeError(err error) (int, string) {
	if apiErr, ok := wix.AsAPIError(err); ok {
		body := apiErr.Body
		if body == "" {
			body = apiErr.Error()
		}
		return apiErr.StatusCode, body
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return 0, "timeout: " + err.Error()
	}
	return 0, err.Error()
}

// Describe renders a failed result as an HTML diagnostic for operators. The
// upstream body is escaped for display but otherwise unchanged.
func Describe(recordID string, res models.TransitionResult) string {
	var b strings.Builder
	switch res.Status {
	case models.TransitionApplied:
		fmt.Fprintf(&b, "%s booking <code>%s</code>", res.Outcome.Label(), html.EscapeString(recordID))
		return b.String()
	case models.TransitionPartial:
		fmt.Fprintf(&b, "⚠️ <b>Partial failure</b> for booking <code>%s</code>: %s succeeded, %s failed. Check the booking manually.",
			html.EscapeString(recordID), strings.Join(res.CompletedSteps, ", "), res.FailedStep)
	default:
		fmt.Fprintf(&b, "⛔ <b>Could not apply</b> %s to booking <code>%s</code>",
			html.EscapeString(string(res.Outcome)), html.EscapeString(recordID))
		if res.FailedStep != "" {
			fmt.Fprintf(&b, " (step %s)", res.FailedStep)
		}
		b.WriteString(".")
	}
	if res.HTTPStatus != 0 {
		fmt.Fprintf(&b, "\nHTTP %d", res.HTTPStatus)
	}
	if res.Detail != "" {
		fmt.Fprintf(&b, "\n<pre>%s</pre>", html.EscapeString(res.Detail))
	}
	return b.String()
}
