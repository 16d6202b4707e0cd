package models

import "time"

// InboundEvent is one delivery from the scheduling platform, by webhook or poll.
type InboundEvent struct {
	// RawPayload is the body exactly as delivered.
	RawPayload []byte
	// ProviderEventID is the transport-level delivery identifier, empty when absent.
	ProviderEventID string
	// Source names where the event came from ("webhook", "poll").
	Source string
	// ReceivedAt is when the relay accepted the delivery.
	ReceivedAt time.Time
}

// Booking is the typed view of a booking/order event. Every field is optional;
// the payload mapper documents one fallback policy per field.
type Booking struct {
	EventType    string     `json:"event_type,omitempty"`
	RecordID     string     `json:"record_id,omitempty"`
	Status       string     `json:"status,omitempty"`
	ServiceName  string     `json:"service_name,omitempty"`
	Start        *time.Time `json:"start,omitempty"`
	End          *time.Time `json:"end,omitempty"`
	StartRaw     string     `json:"start_raw,omitempty"`
	EndRaw       string     `json:"end_raw,omitempty"`
	ResourceID   string     `json:"resource_id,omitempty"`
	ResourceName string     `json:"resource_name,omitempty"`
	Price        string     `json:"price,omitempty"`
	RemainingDue string     `json:"remaining_due,omitempty"`
	Currency     string     `json:"currency,omitempty"`
	ContactName  string     `json:"contact_name,omitempty"`
	ContactPhone string     `json:"contact_phone,omitempty"`
	ContactEmail string     `json:"contact_email,omitempty"`
	Participants int        `json:"participants,omitempty"`
	CreatedAt    *time.Time `json:"created_at,omitempty"`
}

// HasDiscriminatingFields reports whether any field usable for a fallback
// identity is present.
func (b Booking) HasDiscriminatingFields() bool {
	return b.RecordID != "" || b.ServiceName != "" || b.StartRaw != "" || b.EndRaw != "" ||
		b.ResourceID != "" || b.Price != "" || b.RemainingDue != ""
}

// IsEmpty reports whether nothing displayable could be extracted.
func (b Booking) IsEmpty() bool {
	return !b.HasDiscriminatingFields() && b.ContactName == "" && b.ContactPhone == "" && b.ContactEmail == ""
}

// Actionable reports whether operator controls can be attached.
func (b Booking) Actionable() bool {
	return b.RecordID != ""
}
