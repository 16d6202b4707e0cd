package messaging

import (
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	"github.com/BTreeMap/BookingRelay/internal/models"
)

// DefaultTimezone is used when no location is configured.
const DefaultTimezone = "Europe/Kiev"

// maxDiagnosticLen keeps diagnostics under the channel's 4096 character limit.
const maxDiagnosticLen = 3500

func isCancellation(b models.Booking) bool {
	s := strings.ToLower(b.EventType + " " + b.Status)
	return strings.Contains(s, "cancel") || strings.Contains(s, "declin")
}

func isPendingApproval(b models.Booking) bool {
	return strings.EqualFold(b.Status, "PENDING") || strings.EqualFold(b.Status, "WAITING_FOR_APPROVAL")
}

func headline(b models.Booking) string {
	t := strings.ToLower(b.EventType)
	switch {
	case isCancellation(b):
		return "❌ <b>Booking cancelled</b>"
	case strings.Contains(t, "reschedul"):
		return "🔁 <b>Booking rescheduled</b>"
	case strings.Contains(t, "confirm"):
		return "✅ <b>Booking confirmed</b>"
	case strings.Contains(t, "updated"):
		return "✏️ <b>Booking updated</b>"
	case isPendingApproval(b):
		return "⏳ <b>Booking awaiting approval</b>"
	}
	return "🆕 <b>New booking</b>"
}

func formatWhen(b models.Booking, loc *time.Location) string {
	if b.Start == nil {
		if b.StartRaw == "" {
			return ""
		}
		return html.EscapeString(b.StartRaw)
	}
	start := b.Start.In(loc)
	s := start.Format("Mon 02 Jan 2006, 15:04")
	if b.End != nil {
		end := b.End.In(loc)
		if end.YearDay() == start.YearDay() && end.Year() == start.Year() {
			s += "–" + end.Format("15:04")
		} else {
			s += " – " + end.Format("Mon 02 Jan 2006, 15:04")
		}
	}
	return s
}

func money(amount, currency string) string {
	if currency == "" {
		return html.EscapeString(amount)
	}
	return html.EscapeString(amount + " " + currency)
}

// FormatBooking renders a booking as an HTML notification in loc.
func FormatBooking(b models.Booking, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	var sb strings.Builder
	sb.WriteString(headline(b))

	line := func(icon, label, value string) {
		if value == "" {
			return
		}
		fmt.Fprintf(&sb, "\n%s %s: %s", icon, label, value)
	}
	line("📋", "Service", html.EscapeString(b.ServiceName))
	line("🗓", "When", formatWhen(b, loc))
	line("🧑‍🏫", "Staff", html.EscapeString(b.ResourceName))
	line("👤", "Client", html.EscapeString(b.ContactName))
	line("📞", "Phone", html.EscapeString(b.ContactPhone))
	line("✉️", "Email", html.EscapeString(b.ContactEmail))
	if b.Participants > 0 {
		line("👥", "Participants", strconv.Itoa(b.Participants))
	}
	if b.Price != "" {
		line("💰", "Price", money(b.Price, b.Currency))
	}
	if b.RemainingDue != "" {
		line("💳", "Due", money(b.RemainingDue, b.Currency))
	}
	line("📌", "Status", html.EscapeString(b.Status))
	if b.RecordID != "" {
		line("🆔", "Booking", "<code>"+html.EscapeString(b.RecordID)+"</code>")
	}
	return sb.String()
}

// FormatDiagnostic renders a raw payload for operators, truncated to fit one message.
func FormatDiagnostic(title string, raw []byte) string {
	body := string(raw)
	if len(body) > maxDiagnosticLen {
		body = strings.ToValidUTF8(body[:maxDiagnosticLen], "") + "…"
	}
	return fmt.Sprintf("⚠️ <b>%s</b>\n<pre>%s</pre>", html.EscapeString(title), html.EscapeString(body))
}

// plainText strips the HTML tags this package emits, for alert mirrors.
func plainText(s string) string {
	r := strings.NewReplacer("<b>", "", "</b>", "", "<code>", "", "</code>", "", "<pre>", "", "</pre>", "")
	return html.UnescapeString(r.Replace(s))
}
