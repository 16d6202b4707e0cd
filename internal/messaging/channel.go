// Package messaging connects inbound booking events to the operator channel
// and operator clicks back to the booking platform.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/BTreeMap/BookingRelay/internal/models"
)

// Channel is the operator notification channel.
type Channel interface {
	// Send posts HTML text with an optional row of controls and returns the
	// handle the channel assigned to the message.
	Send(ctx context.Context, text string, controls []models.Control) (models.Handle, error)
	// EditControls replaces the controls of a sent message; empty removes them.
	EditControls(ctx context.Context, h models.Handle, controls []models.Control) error
	// Answer acknowledges a click. It must be called exactly once per callback.
	Answer(ctx context.Context, callbackID, text string) error
	// Reply posts HTML text as a reply to h.
	Reply(ctx context.Context, h models.Handle, text string) error
}

// Alerter mirrors plain-text alerts to a secondary channel.
type Alerter interface {
	Alert(ctx context.Context, text string) error
}

// ErrUnknownAction is returned for control payloads that cannot be decoded.
var ErrUnknownAction = errors.New("unknown control action")

// MaxControlDataLen is the channel's limit on control payload size in bytes.
const MaxControlDataLen = 64

// ControlAction is a decoded control payload.
type ControlAction struct {
	Outcome  models.Outcome
	RecordID string
	// Bound is the handle embedded after send, zero when unbound.
	Bound models.Handle
}

// EncodeControl renders "outcome:recordID". When h is not zero it is bound
// into the prefix as "outcome@chatID/messageID:recordID", so everything after
// the first colon is always the record id.
func EncodeControl(outcome models.Outcome, recordID string, h models.Handle) string {
	head := string(outcome)
	if !h.IsZero() {
		head += "@" + strconv.FormatInt(h.ChatID, 10) + "/" + strconv.Itoa(h.MessageID)
	}
	return head + ":" + recordID
}

// DecodeControl parses a payload produced by EncodeControl.
func DecodeControl(data string) (ControlAction, error) {
	head, recordID, ok := strings.Cut(data, ":")
	if !ok || recordID == "" {
		return ControlAction{}, fmt.Errorf("%w: %q", ErrUnknownAction, data)
	}
	action, bound, isBound := strings.Cut(head, "@")
	outcome, err := models.ParseOutcome(action)
	if err != nil {
		return ControlAction{}, fmt.Errorf("%w: %q", ErrUnknownAction, data)
	}

	ca := ControlAction{Outcome: outcome, RecordID: recordID}
	if isBound {
		chat, msg, _ := strings.Cut(bound, "/")
		h, err := models.ParseHandle(chat + ":" + msg)
		if err != nil || h.IsZero() {
			return ControlAction{}, fmt.Errorf("%w: bad bound handle in %q", ErrUnknownAction, data)
		}
		ca.Bound = h
	}
	return ca, nil
}
