package models

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidHandle is returned when a message handle cannot be parsed.
var ErrInvalidHandle = errors.New("invalid message handle")

// Handle identifies a message in the notification channel: the chat it lives in
// and the message id the channel assigned after send.
type Handle struct {
	ChatID    int64 `json:"chat_id"`
	MessageID int   `json:"message_id"`
}

// String renders the handle as "chatID:messageID".
func (h Handle) String() string {
	return strconv.FormatInt(h.ChatID, 10) + ":" + strconv.Itoa(h.MessageID)
}

// IsZero reports whether the handle was never assigned.
func (h Handle) IsZero() bool {
	return h.ChatID == 0 && h.MessageID == 0
}

// ParseHandle parses the "chatID:messageID" form produced by String.
func ParseHandle(s string) (Handle, error) {
	chat, msg, ok := strings.Cut(s, ":")
	if !ok {
		return Handle{}, fmt.Errorf("%w: %q", ErrInvalidHandle, s)
	}
	chatID, err := strconv.ParseInt(chat, 10, 64)
	if err != nil {
		return Handle{}, fmt.Errorf("%w: %q", ErrInvalidHandle, s)
	}
	msgID, err := strconv.Atoi(msg)
	if err != nil {
		return Handle{}, fmt.Errorf("%w: %q", ErrInvalidHandle, s)
	}
	return Handle{ChatID: chatID, MessageID: msgID}, nil
}

// ControlsState is the lifecycle of a notification's interactive controls.
type ControlsState string

const (
	// ControlsActive means both action controls are live.
	ControlsActive ControlsState = "active"
	// ControlsResolved means a single terminal label remains.
	ControlsResolved ControlsState = "resolved"
)

// NotificationRecord is one message sent to the channel for one booking.
type NotificationRecord struct {
	Handle    Handle        `json:"handle"`
	RecordID  string        `json:"record_id"`
	DedupKey  string        `json:"dedup_key,omitempty"`
	State     ControlsState `json:"state"`
	Outcome   Outcome       `json:"outcome,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// IsResolved reports whether the record reached a terminal state.
func (r NotificationRecord) IsResolved() bool {
	return r.State == ControlsResolved
}

// Control is one labeled interactive button bound to an encoded payload.
type Control struct {
	Label string `json:"label"`
	Data  string `json:"data"`
}

// NoopControlData is the payload of static labels; clicks on it do nothing.
const NoopControlData = "noop"

// Callback is one click on an interactive control, as delivered by the channel.
type Callback struct {
	// ID must be answered exactly once.
	ID        string `json:"id"`
	Data      string `json:"data"`
	ActorID   int64  `json:"actor_id"`
	ActorName string `json:"actor_name,omitempty"`
	// Handle is the message the clicked control lives on.
	Handle Handle `json:"handle"`
}
