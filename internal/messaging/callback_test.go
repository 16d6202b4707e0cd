package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/BookingRelay/internal/clock"
	"github.com/BTreeMap/BookingRelay/internal/dedup"
	"github.com/BTreeMap/BookingRelay/internal/models"
	"github.com/BTreeMap/BookingRelay/internal/transition"
	"github.com/BTreeMap/BookingRelay/internal/twilioalert"
)

const operatorID = int64(42)

func notifyBooking(t *testing.T, h *harness, id string) {
	t.Helper()
	res := h.relay.Ingest(context.Background(), webhookEvent(bookingPayload(id, "2026-05-01T10:00:00Z"), ""))
	if res.Status != IngestNotified {
		t.Fatalf("setup: expected notified, got %s", res.Status)
	}
}

func recordState(t *testing.T, h *harness) *models.NotificationRecord {
	t.Helper()
	rec, err := h.records.GetNotification(context.Background(), h.channel.Sent[0].Handle)
	if err != nil || rec == nil {
		t.Fatalf("expected notification record, got %v %v", rec, err)
	}
	return rec
}

func TestCallback_PaidPartialFailureThenRetry(t *testing.T) {
	h := newHarness(nil, nil, nil)
	ctx := context.Background()
	notifyBooking(t, h, "B1")
	h.api.setFail("mark_paid", serverError(`{"message":"internal"}`))

	h.callback.Handle(ctx, h.click("cb-1", 0, operatorID))

	if h.api.callCount() != 2 {
		t.Fatalf("expected confirm and mark_paid calls, got %d", h.api.callCount())
	}
	replies := h.channel.ReplyTexts()
	if len(replies) != 1 {
		t.Fatalf("expected one diagnostic reply, got %d", len(replies))
	}
	for _, want := range []string{"Partial failure", "confirm succeeded", "mark_paid failed", "HTTP 500", "internal", "Requested by @op"} {
		if !strings.Contains(replies[0], want) {
			t.Errorf("reply missing %q: %s", want, replies[0])
		}
	}
	if rec := recordState(t, h); rec.State != models.ControlsActive {
		t.Errorf("controls must stay active after failure, got %s", rec.State)
	}
	if _, edited := h.channel.LastEdit(); edited {
		t.Error("controls must not be edited after failure")
	}

	h.api.setFail("mark_paid", nil)
	h.callback.Handle(ctx, h.click("cb-2", 0, operatorID))

	if rec := recordState(t, h); rec.State != models.ControlsResolved || rec.Outcome != models.OutcomePaid {
		t.Errorf("expected resolved as paid, got %+v", rec)
	}
	if h.channel.AnswerCount() != 2 {
		t.Errorf("expected one answer per click, got %d", h.channel.AnswerCount())
	}
}

func TestCallback_SuccessResolvesAndIgnoresLaterClicks(t *testing.T) {
	h := newHarness(nil, nil, nil)
	ctx := context.Background()
	notifyBooking(t, h, "B1")

	h.callback.Handle(ctx, h.click("cb-1", 0, operatorID))

	edit, ok := h.channel.LastEdit()
	if !ok || len(edit.Controls) != 1 || edit.Controls[0].Label != "✅ Paid" || edit.Controls[0].Data != models.NoopControlData {
		t.Fatalf("expected single static label, got %+v", edit)
	}
	calls := h.api.callCount()

	h.callback.Handle(ctx, h.click("cb-2", 1, operatorID))

	if h.api.callCount() != calls {
		t.Errorf("resolved message must not reach the booking API")
	}
	last := h.channel.Answers[len(h.channel.Answers)-1]
	if !strings.HasPrefix(last.Text, AnswerResolved) {
		t.Errorf("expected %q answer, got %q", AnswerResolved, last.Text)
	}
	if len(h.channel.ReplyTexts()) != 0 {
		t.Error("success must not post a reply")
	}
}

func TestCallback_ConcurrentClicksApplyOnce(t *testing.T) {
	h := newHarness(nil, nil, nil)
	h.api.delay = 20 * time.Millisecond
	notifyBooking(t, h, "B1")

	const clicks = 10
	var wg sync.WaitGroup
	for i := 0; i < clicks; i++ {
		cb := h.click(fmt.Sprintf("cb-%d", i), 0, operatorID)
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.callback.Handle(context.Background(), cb)
		}()
	}
	wg.Wait()

	if h.api.callCount() != 2 {
		t.Errorf("expected a single two-step transition, got %d calls", h.api.callCount())
	}
	if h.channel.AnswerCount() != clicks {
		t.Errorf("expected %d answers, got %d", clicks, h.channel.AnswerCount())
	}
}

func TestCallback_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(cb *models.Callback)
		want   string
	}{
		{"forbidden actor", func(cb *models.Callback) { cb.ActorID = 7 }, AnswerForbidden},
		{"unknown data", func(cb *models.Callback) { cb.Data = "refund:B1" }, AnswerUnknown},
		{"noop label", func(cb *models.Callback) { cb.Data = models.NoopControlData }, ""},
		{"record mismatch", func(cb *models.Callback) { cb.Data = "paid:B2" }, AnswerStale},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(nil, nil, []CallbackOption{WithOperators([]int64{operatorID})})
			notifyBooking(t, h, "B1")

			cb := h.click("cb-1", 0, operatorID)
			tt.mutate(&cb)
			h.callback.Handle(context.Background(), cb)

			if h.api.callCount() != 0 {
				t.Errorf("expected no API calls, got %d", h.api.callCount())
			}
			if h.channel.AnswerCount() != 1 || h.channel.Answers[0].Text != tt.want {
				t.Errorf("expected answer %q, got %+v", tt.want, h.channel.Answers)
			}
		})
	}
}

func TestCallback_StaleBoundHandle(t *testing.T) {
	h := newHarness([]NotifierOption{WithBindHandle(true)}, nil, nil)
	notifyBooking(t, h, "B1")
	edit, _ := h.channel.LastEdit()

	cb := h.click("cb-1", 0, operatorID)
	cb.Data = edit.Controls[0].Data
	cb.Handle = models.Handle{ChatID: 1000, MessageID: 99}
	h.callback.Handle(context.Background(), cb)

	if h.api.callCount() != 0 || h.channel.Answers[0].Text != AnswerStale {
		t.Errorf("expected stale rejection, got calls=%d answers=%+v", h.api.callCount(), h.channel.Answers)
	}
}

func TestCallback_BoundHandleAccepted(t *testing.T) {
	h := newHarness([]NotifierOption{WithBindHandle(true)}, nil, nil)
	notifyBooking(t, h, "B1")
	edit, _ := h.channel.LastEdit()

	cb := h.click("cb-1", 1, operatorID)
	cb.Data = edit.Controls[1].Data
	h.callback.Handle(context.Background(), cb)

	if rec := recordState(t, h); rec.Outcome != models.OutcomeCancelled {
		t.Errorf("expected cancelled, got %+v", rec)
	}
}

func TestCallback_EditFailureStillResolves(t *testing.T) {
	h := newHarness(nil, nil, nil)
	ctx := context.Background()
	notifyBooking(t, h, "B1")
	h.channel.EditErr = errors.New("message to edit not found")

	h.callback.Handle(ctx, h.click("cb-1", 0, operatorID))
	if rec := recordState(t, h); !rec.IsResolved() {
		t.Fatalf("expected resolved record, got %+v", rec)
	}

	calls := h.api.callCount()
	h.callback.Handle(ctx, h.click("cb-2", 0, operatorID))
	if h.api.callCount() != calls {
		t.Error("resolved record must block further transitions")
	}
}

func TestCallback_FailureMirroredToAlerter(t *testing.T) {
	alerts := twilioalert.NewMockClient()
	h := newHarness(nil, nil, []CallbackOption{WithAlerter(alerts)})
	notifyBooking(t, h, "B1")
	h.api.setFail("confirm", serverError(`{"details":"slot <taken>"}`))

	h.callback.Handle(context.Background(), h.click("cb-1", 0, operatorID))

	if len(alerts.Alerts) != 1 {
		t.Fatalf("expected one alert, got %v", alerts.Alerts)
	}
	alert := alerts.Alerts[0]
	if !strings.Contains(alert, "Could not apply paid to booking B1") || !strings.Contains(alert, "slot <taken>") {
		t.Errorf("unexpected alert %q", alert)
	}
	if strings.Contains(alert, "<b>") {
		t.Errorf("alert must be plain text: %q", alert)
	}
	if h.api.callCount() != 1 {
		t.Errorf("mark_paid must not run after confirm failed, got %d calls", h.api.callCount())
	}
}

func TestCallback_PendingApproval(t *testing.T) {
	h := newHarness(nil, nil, nil)
	raw := `{"data":{"booking":{"id":"B9","status":"PENDING","serviceName":"Tour"}}}`
	h.relay.Ingest(context.Background(), webhookEvent(raw, ""))

	h.callback.Handle(context.Background(), h.click("cb-1", 1, operatorID))

	if h.api.calls[0] != "decline" {
		t.Errorf("expected decline, got %v", h.api.calls)
	}
	if rec := recordState(t, h); rec.Outcome != models.OutcomeRejected {
		t.Errorf("expected rejected, got %+v", rec)
	}
}

func TestCallback_AbandonedClaimExpires(t *testing.T) {
	h := newHarness(nil, nil, nil)
	ctx := context.Background()
	notifyBooking(t, h, "B1")

	clk := clock.NewManual(time.Now())
	guard := dedup.NewGuard(dedup.WithGuardClock(clk))
	handler := NewCallbackHandler(h.channel, h.notifier, guard, transition.NewGateway(h.api), WithClaimLease(time.Minute))

	// A holder that died mid-transition never releases its claim.
	if ok, _ := guard.TryClaim(ctx, h.channel.Sent[0].Handle.String(), time.Minute); !ok {
		t.Fatal("setup: claim failed")
	}

	handler.Handle(ctx, h.click("cb-1", 0, operatorID))
	if h.api.callCount() != 0 || h.channel.Answers[0].Text != AnswerInProgress {
		t.Fatalf("expected click blocked by live claim, got calls=%d answers=%+v", h.api.callCount(), h.channel.Answers)
	}

	clk.Advance(time.Minute)
	handler.Handle(ctx, h.click("cb-2", 0, operatorID))
	if rec := recordState(t, h); rec.Outcome != models.OutcomePaid {
		t.Errorf("expected paid after the lease ran out, got %+v", rec)
	}
}

func TestCallback_DrainWaitsForDispatched(t *testing.T) {
	h := newHarness(nil, nil, nil)
	notifyBooking(t, h, "B1")
	h.api.gate = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	h.callback.Dispatch(ctx, h.click("cb-1", 0, operatorID))
	// The request that delivered the click going away must not abort it.
	cancel()

	short, cancelShort := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancelShort()
	if err := h.callback.Drain(short); err == nil {
		t.Fatal("drain must not return while a transition is running")
	}

	close(h.api.gate)
	if err := h.callback.Drain(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if rec := recordState(t, h); rec.Outcome != models.OutcomePaid {
		t.Errorf("in-flight click should complete, got %+v", rec)
	}
}

func TestCallback_DispatchAfterDrainRefused(t *testing.T) {
	h := newHarness(nil, nil, nil)
	notifyBooking(t, h, "B1")

	if err := h.callback.Drain(context.Background()); err != nil {
		t.Fatal(err)
	}
	h.callback.Dispatch(context.Background(), h.click("cb-1", 0, operatorID))

	if h.api.callCount() != 0 {
		t.Errorf("expected no API calls, got %d", h.api.callCount())
	}
	if h.channel.AnswerCount() != 1 || h.channel.Answers[0].Text != AnswerUnavailable {
		t.Errorf("expected unavailable answer, got %+v", h.channel.Answers)
	}
}
