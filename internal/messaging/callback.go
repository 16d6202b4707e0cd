package messaging

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/BookingRelay/internal/dedup"
	"github.com/BTreeMap/BookingRelay/internal/metrics"
	"github.com/BTreeMap/BookingRelay/internal/models"
	"github.com/BTreeMap/BookingRelay/internal/transition"
	"github.com/BTreeMap/BookingRelay/internal/util"
)

// Toast texts shown when a click is acknowledged.
const (
	AnswerProcessing  = "Processing…"
	AnswerInProgress  = "Already being handled"
	AnswerResolved    = "Already resolved"
	AnswerForbidden   = "You are not allowed to change bookings"
	AnswerUnknown     = "Unknown action"
	AnswerStale       = "This button is out of date"
	AnswerUnavailable = "Temporarily unavailable, try again"
)

// Gateway applies operator decisions to the booking platform.
type Gateway interface {
	Apply(ctx context.Context, req models.TransitionRequest) models.TransitionResult
}

var _ Gateway = (*transition.Gateway)(nil)

// CallbackOpts holds configuration options for the CallbackHandler.
type CallbackOpts struct {
	Operators []int64
	Alerter   Alerter
	Metrics   metrics.RelayMetrics
	// ClaimLease is how long a click holds its message before another click
	// may take over. It must outlast a full gateway Apply.
	ClaimLease time.Duration
}

// CallbackOption defines a functional option for configuring the CallbackHandler.
type CallbackOption func(*CallbackOpts)

// WithOperators restricts clicks to the given user ids. Empty allows everyone
// who can see the chat.
func WithOperators(ids []int64) CallbackOption {
	return func(o *CallbackOpts) { o.Operators = ids }
}

// WithAlerter mirrors failed transitions to a secondary channel.
func WithAlerter(a Alerter) CallbackOption {
	return func(o *CallbackOpts) { o.Alerter = a }
}

// WithClaimLease sets how long a claim survives without being released.
func WithClaimLease(d time.Duration) CallbackOption {
	return func(o *CallbackOpts) { o.ClaimLease = d }
}

// WithCallbackMetrics sets the metrics sink.
func WithCallbackMetrics(m metrics.RelayMetrics) CallbackOption {
	return func(o *CallbackOpts) { o.Metrics = m }
}

// CallbackHandler turns operator clicks into at most one applied transition
// per message.
type CallbackHandler struct {
	channel   Channel
	notifier  *Notifier
	claims    dedup.ClaimStore
	gateway   Gateway
	operators map[int64]struct{}
	opts      CallbackOpts

	mu       sync.Mutex
	draining bool
	inflight sync.WaitGroup
}

// NewCallbackHandler creates a CallbackHandler.
func NewCallbackHandler(ch Channel, notifier *Notifier, claims dedup.ClaimStore, gw Gateway, opts ...CallbackOption) *CallbackHandler {
	var o CallbackOpts
	for _, opt := range opts {
		opt(&o)
	}
	if o.Metrics == nil {
		o.Metrics = metrics.NewNoop()
	}
	if o.ClaimLease <= 0 {
		o.ClaimLease = dedup.DefaultClaimLease
	}
	ops := make(map[int64]struct{}, len(o.Operators))
	for _, id := range o.Operators {
		ops[id] = struct{}{}
	}
	return &CallbackHandler{
		channel:   ch,
		notifier:  notifier,
		claims:    claims,
		gateway:   gw,
		operators: ops,
		opts:      o,
	}
}

func (c *CallbackHandler) allowed(actorID int64) bool {
	if len(c.operators) == 0 {
		return true
	}
	_, ok := c.operators[actorID]
	return ok
}

// answer acknowledges the click. Every path through Handle calls it exactly once.
func (c *CallbackHandler) answer(ctx context.Context, cb models.Callback, text, result string) {
	c.opts.Metrics.RecordCallback(ctx, result)
	if err := c.channel.Answer(ctx, cb.ID, text); err != nil {
		slog.Warn("CallbackHandler.answer: failed to acknowledge click", "callback_id", cb.ID, "error", err)
	}
}

// Dispatch handles cb in the background, detached from ctx's cancellation so
// a click that was acknowledged is carried through. After Drain has begun,
// clicks are answered as unavailable and not processed.
func (c *CallbackHandler) Dispatch(ctx context.Context, cb models.Callback) {
	c.mu.Lock()
	if c.draining {
		c.mu.Unlock()
		slog.Info("CallbackHandler.Dispatch: shutting down, click refused", "handle", cb.Handle.String())
		c.answer(ctx, cb, AnswerUnavailable, "draining")
		return
	}
	c.inflight.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.inflight.Done()
		c.Handle(context.WithoutCancel(ctx), cb)
	}()
}

// Drain stops accepting clicks and waits for dispatched ones to finish or for
// ctx to end, whichever comes first.
func (c *CallbackHandler) Drain(ctx context.Context) error {
	c.mu.Lock()
	c.draining = true
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain callbacks: %w", ctx.Err())
	}
}

// Handle processes one click synchronously.
func (c *CallbackHandler) Handle(ctx context.Context, cb models.Callback) {
	log := slog.With("request_id", util.NewRequestID(), "handle", cb.Handle.String(), "actor_id", cb.ActorID)

	if cb.Data == models.NoopControlData {
		c.answer(ctx, cb, "", "noop")
		return
	}

	action, err := DecodeControl(cb.Data)
	if err != nil {
		log.Warn("CallbackHandler.Handle: undecodable control", "data", cb.Data, "error", err)
		c.answer(ctx, cb, AnswerUnknown, "invalid")
		return
	}
	log = log.With("record_id", action.RecordID, "outcome", action.Outcome)

	if !c.allowed(cb.ActorID) {
		log.Warn("CallbackHandler.Handle: click from non-operator")
		c.answer(ctx, cb, AnswerForbidden, "forbidden")
		return
	}
	if !action.Bound.IsZero() && action.Bound != cb.Handle {
		log.Warn("CallbackHandler.Handle: control bound to another message", "bound", action.Bound.String())
		c.answer(ctx, cb, AnswerStale, "stale")
		return
	}

	rec, err := c.notifier.Record(ctx, cb.Handle)
	if err != nil {
		log.Error("CallbackHandler.Handle: failed to load notification record", "error", err)
	}
	if rec != nil {
		if rec.IsResolved() {
			log.Info("CallbackHandler.Handle: click on resolved notification ignored", "resolved_as", rec.Outcome)
			c.answer(ctx, cb, AnswerResolved+": "+rec.Outcome.Label(), "resolved")
			return
		}
		if rec.RecordID != action.RecordID {
			log.Warn("CallbackHandler.Handle: control does not match notification", "expected_record_id", rec.RecordID)
			c.answer(ctx, cb, AnswerStale, "stale")
			return
		}
	}

	claimKey := cb.Handle.String()
	claimed, err := c.claims.TryClaim(ctx, claimKey, c.opts.ClaimLease)
	if err != nil {
		log.Error("CallbackHandler.Handle: claim store failed", "error", err)
		c.answer(ctx, cb, AnswerUnavailable, "error")
		return
	}
	if !claimed {
		log.Info("CallbackHandler.Handle: duplicate click suppressed")
		c.answer(ctx, cb, AnswerInProgress, "duplicate")
		return
	}
	c.answer(ctx, cb, AnswerProcessing, "claimed")

	res := c.gateway.Apply(ctx, models.TransitionRequest{
		RecordID:         action.RecordID,
		RequestedOutcome: action.Outcome,
		ActorID:          cb.ActorID,
		ActorName:        cb.ActorName,
		SourceHandle:     cb.Handle,
	})

	if res.Succeeded() {
		// The claim is left to expire; the resolved record refuses later clicks.
		if err := c.notifier.Resolve(ctx, cb.Handle, action.Outcome); err != nil {
			log.Error("CallbackHandler.Handle: transition applied but resolving the message failed", "error", err)
		}
		log.Info("CallbackHandler.Handle: transition applied", "duration", res.Duration)
		return
	}

	if err := c.claims.Release(ctx, claimKey); err != nil {
		log.Error("CallbackHandler.Handle: failed to release claim", "error", err)
	}
	log.Warn("CallbackHandler.Handle: transition not applied", "status", res.Status, "failed_step", res.FailedStep, "http_status", res.HTTPStatus)

	text := transition.Describe(action.RecordID, res)
	if by := actorLabel(cb); by != "" {
		text += "\n" + html.EscapeString(by)
	}
	if err := c.notifier.Reply(ctx, cb.Handle, text); err != nil {
		log.Error("CallbackHandler.Handle: failed to post diagnostic", "error", err)
	}
	c.alert(ctx, plainText(text))
}

func actorLabel(cb models.Callback) string {
	if cb.ActorName == "" {
		return ""
	}
	return fmt.Sprintf("Requested by %s", cb.ActorName)
}

func (c *CallbackHandler) alert(ctx context.Context, text string) {
	if c.opts.Alerter == nil {
		return
	}
	if err := c.opts.Alerter.Alert(ctx, text); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("CallbackHandler.alert: failed to mirror alert", "error", err)
	}
}
