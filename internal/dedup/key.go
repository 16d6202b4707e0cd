// Package dedup provides the admit-once primitives BookingRelay relies on for
// idempotency: stable identities for inbound events, a time-bounded window of
// seen identities, and a claim guard for interactive controls.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/BTreeMap/BookingRelay/internal/models"
)

const (
	// HeaderKeyPrefix marks keys taken from the transport delivery id.
	HeaderKeyPrefix = "hdr:"
	// HashKeyPrefix marks keys derived from payload fields.
	HashKeyPrefix = "hash:"
	// hashKeyLength is the number of hex characters kept from the digest.
	hashKeyLength = 32
)

// identity is the hashed field set. Field order is fixed by the struct, which
// keeps the serialization deterministic.
type identity struct {
	EventType    string `json:"t,omitempty"`
	RecordID     string `json:"id,omitempty"`
	ServiceName  string `json:"svc,omitempty"`
	Start        string `json:"start,omitempty"`
	End          string `json:"end,omitempty"`
	ResourceID   string `json:"res,omitempty"`
	Price        string `json:"price,omitempty"`
	RemainingDue string `json:"due,omitempty"`
}

// DeriveKey returns the dedup key for an event.
//
// A provider delivery id wins. Otherwise the key hashes the booking id (scoped
// by event type), or, without one, the composite of service, start, end,
// resource, price and remaining due. It returns "" when neither is available;
// such events cannot be deduplicated and are treated as unique.
func DeriveKey(ev models.InboundEvent, b models.Booking) string {
	if ev.ProviderEventID != "" {
		return HeaderKeyPrefix + ev.ProviderEventID
	}
	if !b.HasDiscriminatingFields() {
		return ""
	}

	id := identity{EventType: b.EventType}
	if b.RecordID != "" {
		id.RecordID = b.RecordID
	} else {
		id.ServiceName = b.ServiceName
		id.Start = b.StartRaw
		id.End = b.EndRaw
		id.ResourceID = b.ResourceID
		id.Price = b.Price
		id.RemainingDue = b.RemainingDue
	}

	// Marshal of a struct of strings cannot fail.
	data, _ := json.Marshal(id)
	sum := sha256.Sum256(data)
	return HashKeyPrefix + hex.EncodeToString(sum[:])[:hashKeyLength]
}

// RecordKeyPrefix marks source-independent keys for newly created bookings.
const RecordKeyPrefix = "rec:"

// CreationKey returns a key shared by every delivery announcing the creation of
// the same booking, whichever source it came from. It returns "" for events
// that are not creations or carry no booking id.
func CreationKey(b models.Booking) string {
	if b.RecordID == "" {
		return ""
	}
	t := strings.ToLower(b.EventType)
	if t != "" && !strings.Contains(t, "created") {
		return ""
	}
	return RecordKeyPrefix + "created:" + b.RecordID
}
