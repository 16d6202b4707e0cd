package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/BookingRelay/internal/models"
	"github.com/BTreeMap/BookingRelay/internal/store"
	"github.com/BTreeMap/BookingRelay/internal/twilioalert"
)

func TestIngest_IdenticalPayloadNotifiedOnce(t *testing.T) {
	h := newHarness(nil, nil, nil)
	ctx := context.Background()
	raw := `{"eventType":"wix.bookings.v2.booking_created","data":{"booking_id":"B1","serviceName":"Sauna","startDate":"2026-05-01T10:00:00Z"}}`

	first := h.relay.Ingest(ctx, webhookEvent(raw, ""))
	second := h.relay.Ingest(ctx, webhookEvent(raw, ""))

	if first.Status != IngestNotified {
		t.Fatalf("expected first delivery notified, got %s", first.Status)
	}
	if second.Status != IngestDuplicate {
		t.Fatalf("expected duplicate, got %s", second.Status)
	}
	if h.channel.SentCount() != 1 {
		t.Errorf("expected exactly one notification, got %d", h.channel.SentCount())
	}
	if !strings.HasPrefix(first.DedupKey, "hash:") || first.DedupKey != second.DedupKey {
		t.Errorf("unexpected keys %q %q", first.DedupKey, second.DedupKey)
	}
}

func TestIngest_DistinctSlotsWithoutHeaderBothNotified(t *testing.T) {
	h := newHarness(nil, nil, nil)
	ctx := context.Background()
	a := `{"data":{"serviceName":"A","startDate":"2026-05-01T10:00:00Z"}}`
	b := `{"data":{"serviceName":"A","startDate":"2026-05-01T11:00:00Z"}}`

	ra := h.relay.Ingest(ctx, webhookEvent(a, ""))
	rb := h.relay.Ingest(ctx, webhookEvent(b, ""))

	if ra.Status != IngestNotified || rb.Status != IngestNotified {
		t.Fatalf("expected both notified, got %s and %s", ra.Status, rb.Status)
	}
	if ra.DedupKey == rb.DedupKey {
		t.Errorf("distinct slots must have distinct keys, both %q", ra.DedupKey)
	}
	if h.channel.SentCount() != 2 {
		t.Errorf("expected two notifications, got %d", h.channel.SentCount())
	}
	// No record id: nothing to act on, so no controls.
	if len(h.channel.Sent[0].Controls) != 0 {
		t.Errorf("expected no controls without record id, got %+v", h.channel.Sent[0].Controls)
	}
}

func TestIngest_HeaderKeyWinsOverPayload(t *testing.T) {
	h := newHarness(nil, nil, nil)
	ctx := context.Background()

	r1 := h.relay.Ingest(ctx, webhookEvent(bookingPayload("B1", "2026-05-01T10:00:00Z"), "evt-1"))
	r2 := h.relay.Ingest(ctx, webhookEvent(bookingPayload("B1", "2026-05-01T10:00:00Z"), "evt-1"))
	if r1.DedupKey != "hdr:evt-1" || r2.Status != IngestDuplicate {
		t.Errorf("unexpected results %+v %+v", r1, r2)
	}
}

func TestIngest_NotificationCarriesControlsAndRecord(t *testing.T) {
	h := newHarness(nil, nil, nil)
	ctx := context.Background()

	res := h.relay.Ingest(ctx, webhookEvent(bookingPayload("B1", "2026-05-01T10:00:00Z"), ""))
	if res.Status != IngestNotified || res.RecordID != "B1" {
		t.Fatalf("unexpected result %+v", res)
	}
	sent := h.channel.Sent[0]
	if len(sent.Controls) != 2 || sent.Controls[0].Data != "paid:B1" || sent.Controls[1].Data != "cancelled:B1" {
		t.Fatalf("unexpected controls %+v", sent.Controls)
	}
	rec, _ := h.records.GetNotification(ctx, sent.Handle)
	if rec == nil || rec.State != models.ControlsActive || rec.RecordID != "B1" {
		t.Errorf("expected ACTIVE record, got %+v", rec)
	}
}

func TestIngest_PendingBookingGetsApprovalControls(t *testing.T) {
	h := newHarness(nil, nil, nil)
	raw := `{"data":{"booking":{"id":"B9","status":"PENDING","serviceName":"Tour"}}}`
	h.relay.Ingest(context.Background(), webhookEvent(raw, ""))

	sent := h.channel.Sent[0]
	if len(sent.Controls) != 2 || sent.Controls[0].Data != "approved:B9" || sent.Controls[1].Data != "rejected:B9" {
		t.Errorf("unexpected controls %+v", sent.Controls)
	}
}

func TestIngest_CancellationHasNoControls(t *testing.T) {
	h := newHarness(nil, nil, nil)
	raw := `{"eventType":"wix.bookings.v2.booking_canceled","data":{"booking":{"id":"B1","status":"CANCELED","serviceName":"Tour"}}}`
	h.relay.Ingest(context.Background(), webhookEvent(raw, ""))
	if len(h.channel.Sent[0].Controls) != 0 {
		t.Errorf("cancellations must not offer controls")
	}
}

func TestIngest_BindHandle(t *testing.T) {
	h := newHarness([]NotifierOption{WithBindHandle(true)}, nil, nil)
	h.relay.Ingest(context.Background(), webhookEvent(bookingPayload("B1", "2026-05-01T10:00:00Z"), ""))

	sent := h.channel.Sent[0]
	edit, ok := h.channel.LastEdit()
	if !ok {
		t.Fatal("expected a second call binding the handle")
	}
	want := EncodeControl(models.OutcomePaid, "B1", sent.Handle)
	if edit.Handle != sent.Handle || edit.Controls[0].Data != want {
		t.Errorf("expected bound payload %q, got %+v", want, edit)
	}
}

func TestIngest_MalformedAndUnrecognized(t *testing.T) {
	h := newHarness(nil, nil, nil)
	ctx := context.Background()

	if res := h.relay.Ingest(ctx, webhookEvent(`{not json`, "")); res.Status != IngestMalformed {
		t.Errorf("expected malformed, got %s", res.Status)
	}
	if res := h.relay.Ingest(ctx, webhookEvent(`{"hello":"world"}`, "")); res.Status != IngestUnrecognized {
		t.Errorf("expected unrecognized, got %s", res.Status)
	}
	if h.channel.SentCount() != 2 {
		t.Fatalf("expected two diagnostics, got %d", h.channel.SentCount())
	}
	if !strings.Contains(h.channel.Sent[1].Text, "hello") || len(h.channel.Sent[1].Controls) != 0 {
		t.Errorf("unexpected diagnostic %+v", h.channel.Sent[1])
	}
}

func TestIngest_MalformedWithHeaderIsDeduplicated(t *testing.T) {
	h := newHarness(nil, nil, nil)
	ctx := context.Background()
	h.relay.Ingest(ctx, webhookEvent(`oops`, "evt-9"))
	if res := h.relay.Ingest(ctx, webhookEvent(`oops`, "evt-9")); res.Status != IngestDuplicate {
		t.Errorf("expected duplicate, got %s", res.Status)
	}
	if h.channel.SentCount() != 1 {
		t.Errorf("expected one diagnostic, got %d", h.channel.SentCount())
	}
}

func TestIngest_RawDiagnosticsDisabled(t *testing.T) {
	h := newHarness([]NotifierOption{WithRawDiagnostics(false)}, nil, nil)
	h.relay.Ingest(context.Background(), webhookEvent(`{"hello":"world"}`, ""))
	if h.channel.SentCount() != 0 {
		t.Errorf("expected no diagnostic, got %d", h.channel.SentCount())
	}
}

func TestIngest_SendFailureQueuedToOutbox(t *testing.T) {
	outbox := &fakeOutbox{}
	h := newHarness(nil, []RelayOption{WithOutbox(outbox)}, nil)
	h.channel.SendErr = errors.New("telegram unavailable")
	ctx := context.Background()
	raw := bookingPayload("B1", "2026-05-01T10:00:00Z")

	res := h.relay.Ingest(ctx, webhookEvent(raw, "evt-1"))
	if res.Status != IngestQueued {
		t.Fatalf("expected queued, got %s", res.Status)
	}
	if len(outbox.msgs) != 1 || outbox.msgs[0].RecordID != "B1" || outbox.msgs[0].DedupKey != "hdr:evt-1" {
		t.Fatalf("unexpected outbox %+v", outbox.msgs)
	}

	h.channel.SendErr = nil
	if err := h.relay.SendQueued(ctx, outbox.msgs[0]); err != nil {
		t.Fatalf("SendQueued: %v", err)
	}
	if h.channel.SentCount() != 1 || len(h.channel.Sent[0].Controls) != 2 {
		t.Errorf("expected resent notification with controls, got %+v", h.channel.Sent)
	}
	var q queuedNotification
	_ = json.Unmarshal([]byte(outbox.msgs[0].PayloadJSON), &q)
	if string(q.Payload) != raw {
		t.Error("outbox must keep the raw payload")
	}
}

func TestSendQueued_UnknownKind(t *testing.T) {
	h := newHarness(nil, nil, nil)
	err := h.relay.SendQueued(context.Background(), store.OutboxMessage{Kind: "other"})
	if !errors.Is(err, ErrUnknownOutboxKind) {
		t.Errorf("expected ErrUnknownOutboxKind, got %v", err)
	}
}

func TestIngest_SendFailureWithoutOutboxAlerts(t *testing.T) {
	alerts := twilioalert.NewMockClient()
	h := newHarness(nil, []RelayOption{WithRelayAlerter(alerts)}, nil)
	h.channel.SendErr = errors.New("telegram unavailable")

	res := h.relay.Ingest(context.Background(), webhookEvent(bookingPayload("B1", "2026-05-01T10:00:00Z"), ""))
	if res.Status != IngestFailed {
		t.Fatalf("expected send_failed, got %s", res.Status)
	}
	if len(alerts.Alerts) != 1 || !strings.Contains(alerts.Alerts[0], "booking B1") {
		t.Errorf("unexpected alerts %v", alerts.Alerts)
	}
}

func TestIngest_FailedSendLetsRedeliveryThrough(t *testing.T) {
	h := newHarness(nil, nil, nil)
	ctx := context.Background()
	ev := webhookEvent(bookingPayload("B1", "2026-05-01T10:00:00Z"), "evt-1")

	h.channel.SendErr = errors.New("telegram unavailable")
	if res := h.relay.Ingest(ctx, ev); res.Status != IngestFailed {
		t.Fatalf("expected send_failed, got %s", res.Status)
	}

	h.channel.SendErr = nil
	if res := h.relay.Ingest(ctx, ev); res.Status != IngestNotified {
		t.Fatalf("redelivery after a failed send should notify, got %s", res.Status)
	}
	if res := h.relay.Ingest(ctx, ev); res.Status != IngestDuplicate {
		t.Errorf("delivered event must be suppressed again, got %s", res.Status)
	}
}

func TestIngest_FailedSendLetsPolledCopyThrough(t *testing.T) {
	h := newHarness(nil, nil, nil)
	ctx := context.Background()

	h.channel.SendErr = errors.New("telegram unavailable")
	h.relay.Ingest(ctx, webhookEvent(bookingPayload("B1", "2026-05-01T10:00:00Z"), "evt-1"))

	h.channel.SendErr = nil
	polled := models.InboundEvent{
		RawPayload: []byte(`{"id":"B1","serviceName":"Fishing day","startDate":"2026-05-01T10:00:00Z"}`),
		Source:     "poll",
	}
	if res := h.relay.Ingest(ctx, polled); res.Status != IngestNotified {
		t.Errorf("creation key of an undelivered booking must be released, got %s", res.Status)
	}
}

func TestIngest_CreationSeenFromBothSources(t *testing.T) {
	h := newHarness(nil, nil, nil)
	ctx := context.Background()

	h.relay.Ingest(ctx, webhookEvent(bookingPayload("B1", "2026-05-01T10:00:00Z"), "evt-1"))
	polled := models.InboundEvent{
		RawPayload: []byte(`{"id":"B1","serviceName":"Fishing day","startDate":"2026-05-01T10:00:00Z"}`),
		Source:     "poll",
	}
	if res := h.relay.Ingest(ctx, polled); res.Status != IngestDuplicate {
		t.Errorf("expected polled copy suppressed, got %s", res.Status)
	}
	if h.channel.SentCount() != 1 {
		t.Errorf("expected one notification, got %d", h.channel.SentCount())
	}
}

type failingWindow struct{}

func (failingWindow) Admit(context.Context, string, time.Duration) (bool, error) {
	return false, errors.New("db down")
}

func (failingWindow) Forget(context.Context, string) error { return errors.New("db down") }

func TestIngest_WindowFailureAdmits(t *testing.T) {
	h := newHarness(nil, nil, nil)
	relay := NewRelay(failingWindow{}, h.notifier)
	if res := relay.Ingest(context.Background(), webhookEvent(bookingPayload("B1", "2026-05-01T10:00:00Z"), "evt")); res.Status != IngestNotified {
		t.Errorf("expected notified on store failure, got %s", res.Status)
	}
}
