// Package payload maps inbound scheduling-platform deliveries onto models.Booking.
//
// Upstream payloads change shape between event types and API versions, so every
// field is optional and each one has exactly one ordered list of candidate paths.
// The first non-empty candidate wins. Paths use gjson syntax and are evaluated
// against the booking node (see bookingNode) unless noted otherwise.
package payload

import (
	"errors"
	"strings"
	"time"

	"github.com/BTreeMap/BookingRelay/internal/models"
	"github.com/tidwall/gjson"
)

// ErrMalformedPayload is returned when the body is not a JSON object.
var ErrMalformedPayload = errors.New("malformed payload: expected a JSON object")

// Candidate paths per field. Order is the fallback policy.
var (
	eventTypePaths    = []string{"eventType", "event_type", "slug", "event", "type"}
	recordIDPaths     = []string{"bookingId", "booking_id", "id", "_id", "orderId", "order_id", "orderNumber", "orderNo", "order_no"}
	statusPaths       = []string{"status", "bookingStatus"}
	serviceNamePaths  = []string{"serviceName", "service_name", "bookedEntity.title", "service.name", "title"}
	startPaths        = []string{"startDate", "start_date", "startTime", "start_time", "start", "bookedEntity.slot.startDate", "slot.startDate"}
	endPaths          = []string{"endDate", "end_date", "endTime", "end_time", "end", "bookedEntity.slot.endDate", "slot.endDate"}
	resourceIDPaths   = []string{"staffMemberId", "staff_member_id", "staffId", "resourceId", "resource_id", "bookedEntity.slot.resource.id", "slot.resource.id", "resource.id"}
	resourceNamePaths = []string{"staffMemberName", "staff_name", "bookedEntity.slot.resource.name", "slot.resource.name", "resource.name"}
	pricePaths        = []string{"price", "totalPrice", "total_price", "payment.price", "priceSummary.total", "payment.total"}
	remainingDuePaths = []string{"remainingAmountDue", "remaining_amount_due", "remainingDue", "balanceDue", "payment.balanceDue", "priceSummary.remainingAmountDue"}
	currencyPaths     = []string{"currency", "payment.currency", "price.currency", "priceSummary.total.currency"}
	contactNamePaths  = []string{"contactDetails.fullName", "contactName", "contact_name", "customerName", "customer.name", "contact.name"}
	firstNamePaths    = []string{"contactDetails.firstName", "firstName", "contact.firstName"}
	lastNamePaths     = []string{"contactDetails.lastName", "lastName", "contact.lastName"}
	phonePaths        = []string{"contactDetails.phone", "contactPhone", "contact_phone", "customer.phone", "contact.phone", "phone"}
	emailPaths        = []string{"contactDetails.email", "contactEmail", "contact_email", "customer.email", "contact.email", "email"}
	participantPaths  = []string{"numberOfParticipants", "totalParticipants", "participants", "participantsCount"}
	createdPaths      = []string{"createdDate", "created_date", "createdAt", "created_at"}
)

// Nesting candidates for the booking node, most specific first.
var nodePaths = []string{"data.booking", "data.entity", "data", "entity", "booking"}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// ParseBooking maps a raw delivery onto a Booking.
// It only fails when the body is not a JSON object; a valid object with no known
// fields yields an empty Booking, which the caller treats as unrecognised.
func ParseBooking(raw []byte) (models.Booking, error) {
	if !gjson.ValidBytes(raw) {
		return models.Booking{}, ErrMalformedPayload
	}
	root := gjson.ParseBytes(raw)
	if !root.IsObject() {
		return models.Booking{}, ErrMalformedPayload
	}
	node := bookingNode(root)

	b := models.Booking{
		EventType:    firstString(root, eventTypePaths),
		RecordID:     firstString(node, recordIDPaths),
		Status:       firstString(node, statusPaths),
		ServiceName:  firstString(node, serviceNamePaths),
		StartRaw:     firstString(node, startPaths),
		EndRaw:       firstString(node, endPaths),
		ResourceID:   firstString(node, resourceIDPaths),
		ResourceName: firstString(node, resourceNamePaths),
		Price:        firstAmount(node, pricePaths),
		RemainingDue: firstAmount(node, remainingDuePaths),
		Currency:     firstString(node, currencyPaths),
		ContactPhone: firstString(node, phonePaths),
		ContactEmail: firstString(node, emailPaths),
		Participants: int(firstInt(node, participantPaths)),
	}
	if b.EventType == "" && node.Raw != root.Raw {
		b.EventType = firstString(node, eventTypePaths)
	}
	// A bare "id" on the wrapper is the delivery id, not the booking's.
	if b.RecordID == "" && node.Raw != root.Raw {
		b.RecordID = firstString(root, []string{"bookingId", "booking_id", "orderId", "orderNumber"})
	}

	b.ContactName = firstString(node, contactNamePaths)
	if b.ContactName == "" {
		b.ContactName = strings.TrimSpace(firstString(node, firstNamePaths) + " " + firstString(node, lastNamePaths))
	}

	b.Start = parseTime(b.StartRaw)
	b.End = parseTime(b.EndRaw)
	b.CreatedAt = parseTime(firstString(node, createdPaths))
	return b, nil
}

// bookingNode picks the object that carries the booking fields.
func bookingNode(root gjson.Result) gjson.Result {
	for _, p := range nodePaths {
		if r := root.Get(p); r.IsObject() {
			return r
		}
	}
	return root
}

func firstString(node gjson.Result, paths []string) string {
	for _, p := range paths {
		r := node.Get(p)
		if !r.Exists() || r.IsObject() || r.IsArray() || r.Type == gjson.Null {
			continue
		}
		if s := strings.TrimSpace(r.String()); s != "" {
			return s
		}
	}
	return ""
}

// firstAmount accepts plain numbers/strings or money objects such as
// {"amount":"10.00","currency":"UAH"} and {"value":"10.00"}.
func firstAmount(node gjson.Result, paths []string) string {
	for _, p := range paths {
		r := node.Get(p)
		if !r.Exists() {
			continue
		}
		if r.IsObject() {
			if s := firstString(r, []string{"amount", "value", "formattedAmount"}); s != "" {
				return s
			}
			continue
		}
		if s := firstString(node, []string{p}); s != "" {
			return s
		}
	}
	return ""
}

func firstInt(node gjson.Result, paths []string) int64 {
	for _, p := range paths {
		r := node.Get(p)
		if r.Type == gjson.Number {
			return r.Int()
		}
		if r.IsArray() {
			return int64(len(r.Array()))
		}
	}
	return 0
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}
