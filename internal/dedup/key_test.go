package dedup

import (
	"strings"
	"testing"

	"github.com/BTreeMap/BookingRelay/internal/models"
	"github.com/BTreeMap/BookingRelay/internal/payload"
)

func mustParse(t *testing.T, raw string) models.Booking {
	t.Helper()
	b, err := payload.ParseBooking([]byte(raw))
	if err != nil {
		t.Fatalf("ParseBooking failed: %v", err)
	}
	return b
}

func TestDeriveKey_HeaderWins(t *testing.T) {
	b := models.Booking{RecordID: "B1"}
	key := DeriveKey(models.InboundEvent{ProviderEventID: "evt-1"}, b)
	if key != "hdr:evt-1" {
		t.Errorf("expected hdr:evt-1, got %q", key)
	}
}

func TestDeriveKey_HashFormat(t *testing.T) {
	key := DeriveKey(models.InboundEvent{}, models.Booking{RecordID: "B1"})
	if !strings.HasPrefix(key, HashKeyPrefix) {
		t.Fatalf("expected hash prefix, got %q", key)
	}
	if len(key) != len(HashKeyPrefix)+32 {
		t.Errorf("expected 32 hex chars after prefix, got %q", key)
	}
}

func TestDeriveKey_DeterministicAcrossWrapperIDs(t *testing.T) {
	first := mustParse(t, `{"id":"wrap-1","data":{"serviceName":"A","startDate":"2026-05-01T10:00:00Z","endDate":"2026-05-01T11:00:00Z","staffMemberId":"s1","price":"100","remainingAmountDue":"50"}}`)
	retry := mustParse(t, `{"id":"wrap-2","data":{"serviceName":"A","startDate":"2026-05-01T10:00:00Z","endDate":"2026-05-01T11:00:00Z","staffMemberId":"s1","price":"100","remainingAmountDue":"50","contactName":"changed"}}`)

	k1 := DeriveKey(models.InboundEvent{}, first)
	k2 := DeriveKey(models.InboundEvent{}, retry)
	if k1 == "" || k1 != k2 {
		t.Errorf("expected identical keys, got %q and %q", k1, k2)
	}
}

func TestDeriveKey_Discriminates(t *testing.T) {
	base := models.Booking{ServiceName: "A", StartRaw: "2026-05-01T10:00:00Z", ResourceID: "s1"}
	otherTime := base
	otherTime.StartRaw = "2026-05-01T11:00:00Z"
	otherResource := base
	otherResource.ResourceID = "s2"

	k := DeriveKey(models.InboundEvent{}, base)
	if k == DeriveKey(models.InboundEvent{}, otherTime) {
		t.Error("different start times must not collide")
	}
	if k == DeriveKey(models.InboundEvent{}, otherResource) {
		t.Error("different resources must not collide")
	}
}

func TestDeriveKey_RecordIDScopedByEventType(t *testing.T) {
	created := DeriveKey(models.InboundEvent{}, models.Booking{RecordID: "B1", EventType: "booking_created"})
	cancelled := DeriveKey(models.InboundEvent{}, models.Booking{RecordID: "B1", EventType: "booking_canceled"})
	if created == cancelled {
		t.Error("different event types for the same booking must not collide")
	}
}

func TestDeriveKey_NoIdentity(t *testing.T) {
	if key := DeriveKey(models.InboundEvent{}, models.Booking{ContactName: "Ann"}); key != "" {
		t.Errorf("expected empty key, got %q", key)
	}
}

func TestCreationKey(t *testing.T) {
	tests := []struct {
		name string
		b    models.Booking
		want string
	}{
		{"created event", models.Booking{EventType: "wix.bookings.v2.booking_created", RecordID: "B1"}, "rec:created:B1"},
		{"polled booking without event type", models.Booking{RecordID: "B1"}, "rec:created:B1"},
		{"cancellation", models.Booking{EventType: "wix.bookings.v2.booking_canceled", RecordID: "B1"}, ""},
		{"no record id", models.Booking{EventType: "booking_created"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CreationKey(tt.b); got != tt.want {
				t.Errorf("CreationKey() = %q, want %q", got, tt.want)
			}
		})
	}
}
