package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/BTreeMap/BookingRelay/internal/dedup"
	"github.com/BTreeMap/BookingRelay/internal/models"
	"github.com/BTreeMap/BookingRelay/internal/store"
	"github.com/BTreeMap/BookingRelay/internal/telegram"
	"github.com/BTreeMap/BookingRelay/internal/transition"
	"github.com/BTreeMap/BookingRelay/internal/wix"
)

// fakeBookingAPI scripts remote responses per step and counts calls.
type fakeBookingAPI struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error
	delay time.Duration
	// gate, when set, holds every call until it is closed.
	gate chan struct{}
}

func (f *fakeBookingAPI) do(step string) error {
	f.mu.Lock()
	f.calls = append(f.calls, step)
	err := f.fail[step]
	f.mu.Unlock()
	if f.gate != nil {
		<-f.gate
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return err
}

func (f *fakeBookingAPI) ConfirmBooking(context.Context, string) error  { return f.do("confirm") }
func (f *fakeBookingAPI) DeclineBooking(context.Context, string) error  { return f.do("decline") }
func (f *fakeBookingAPI) MarkBookingPaid(context.Context, string) error { return f.do("mark_paid") }
func (f *fakeBookingAPI) CancelBooking(context.Context, string, string) error {
	return f.do("cancel")
}

func (f *fakeBookingAPI) setFail(step string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail == nil {
		f.fail = map[string]error{}
	}
	if err == nil {
		delete(f.fail, step)
		return
	}
	f.fail[step] = err
}

func (f *fakeBookingAPI) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func serverError(body string) error {
	return &wix.APIError{Method: "POST", Path: "/bookings", StatusCode: 500, Body: body}
}

// fakeOutbox records enqueued messages.
type fakeOutbox struct {
	mu   sync.Mutex
	msgs []store.OutboxMessage
}

func (f *fakeOutbox) Enqueue(_ context.Context, e store.OutboxEntry) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := fmt.Sprintf("outbox_%d", len(f.msgs)+1)
	f.msgs = append(f.msgs, store.OutboxMessage{ID: id, RecordID: e.RecordID, Kind: e.Kind, PayloadJSON: e.Payload, DedupKey: e.DedupKey})
	return id, nil
}
func (f *fakeOutbox) ClaimDue(context.Context, time.Time, int) ([]store.OutboxMessage, error) {
	return nil, nil
}
func (f *fakeOutbox) MarkSent(context.Context, string) error                      { return nil }
func (f *fakeOutbox) Reschedule(context.Context, string, string, time.Time) error { return nil }
func (f *fakeOutbox) Abandon(context.Context, string, string) error               { return nil }
func (f *fakeOutbox) RequeueStale(context.Context, time.Time) (int, error)        { return 0, nil }

// harness wires the pipeline with in-memory collaborators.
type harness struct {
	channel  *telegram.MockClient
	api      *fakeBookingAPI
	records  *store.InMemoryStore
	window   *dedup.Window
	guard    *dedup.Guard
	notifier *Notifier
	relay    *Relay
	callback *CallbackHandler
}

func newHarness(notifierOpts []NotifierOption, relayOpts []RelayOption, cbOpts []CallbackOption) *harness {
	h := &harness{
		channel: telegram.NewMockClient(),
		api:     &fakeBookingAPI{},
		records: store.NewInMemoryStore(),
		window:  dedup.NewWindow(),
		guard:   dedup.NewGuard(),
	}
	h.notifier = NewNotifier(h.channel, h.records, append([]NotifierOption{WithLocation(time.UTC)}, notifierOpts...)...)
	h.relay = NewRelay(h.window, h.notifier, relayOpts...)
	gw := transition.NewGateway(h.api, transition.WithStepTimeout(time.Second))
	h.callback = NewCallbackHandler(h.channel, h.notifier, h.guard, gw, cbOpts...)
	return h
}

func webhookEvent(raw, eventID string) models.InboundEvent {
	return models.InboundEvent{RawPayload: []byte(raw), ProviderEventID: eventID, Source: "webhook", ReceivedAt: time.Now()}
}

func bookingPayload(id, start string) string {
	b, _ := json.Marshal(map[string]interface{}{
		"eventType": "wix.bookings.v2.booking_created",
		"data": map[string]interface{}{
			"booking": map[string]interface{}{
				"id":          id,
				"status":      "CONFIRMED",
				"serviceName": "Fishing day",
				"startDate":   start,
				"price":       map[string]string{"amount": "450", "currency": "UAH"},
			},
		},
	})
	return string(b)
}

// click simulates the operator pressing control i of the first sent message.
func (h *harness) click(id string, control int, actor int64) models.Callback {
	sent := h.channel.Sent[0]
	return models.Callback{
		ID:        id,
		Data:      sent.Controls[control].Data,
		ActorID:   actor,
		ActorName: "@op",
		Handle:    sent.Handle,
	}
}
