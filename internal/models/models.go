// Package models defines the core data structures for BookingRelay.
//
// It includes the booking record mapped from inbound deliveries, the outcomes an
// operator can request, notification records and the JSON envelope used by the API.
package models

import (
	"errors"
	"fmt"
	"strings"
)

// Outcome is a terminal status an operator can request for a booking.
type Outcome string

const (
	// OutcomePaid confirms the booking and marks it paid.
	OutcomePaid Outcome = "paid"
	// OutcomeCancelled cancels the booking with a reason code.
	OutcomeCancelled Outcome = "cancelled"
	// OutcomeApproved confirms a pending booking without touching payment.
	OutcomeApproved Outcome = "approved"
	// OutcomeRejected declines a pending booking.
	OutcomeRejected Outcome = "rejected"
)

// Error variables for better error handling and testability
var (
	ErrUnknownOutcome = errors.New("unknown outcome")
	ErrEmptyRecordID  = errors.New("record id cannot be empty")
)

// IsValidOutcome checks if the given outcome is supported.
func IsValidOutcome(o Outcome) bool {
	switch o {
	case OutcomePaid, OutcomeCancelled, OutcomeApproved, OutcomeRejected:
		return true
	default:
		return false
	}
}

// ParseOutcome maps a control action token to an Outcome. Tokens are case-insensitive.
func ParseOutcome(s string) (Outcome, error) {
	o := Outcome(strings.ToLower(strings.TrimSpace(s)))
	if !IsValidOutcome(o) {
		return "", fmt.Errorf("%w: %q", ErrUnknownOutcome, s)
	}
	return o, nil
}

// Label returns the static label shown once a booking reached this outcome.
func (o Outcome) Label() string {
	switch o {
	case OutcomePaid:
		return "✅ Paid"
	case OutcomeCancelled:
		return "❌ Not resolved"
	case OutcomeApproved:
		return "✅ Approved"
	case OutcomeRejected:
		return "🚫 Rejected"
	default:
		return string(o)
	}
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
	// APIStatusDuplicate indicates the delivery was recognised as a repeat and suppressed.
	APIStatusDuplicate APIStatus = "duplicate"
	// APIStatusIgnored indicates the delivery was acknowledged but not processed.
	APIStatusIgnored APIStatus = "ignored"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// APIResponseBuilder provides a fluent interface for building API responses.
type APIResponseBuilder struct {
	response APIResponse
}

// NewAPIResponseBuilder creates a new APIResponseBuilder instance.
func NewAPIResponseBuilder() *APIResponseBuilder {
	return &APIResponseBuilder{
		response: APIResponse{},
	}
}

// WithStatus sets the status of the API response.
func (b *APIResponseBuilder) WithStatus(status APIStatus) *APIResponseBuilder {
	b.response.Status = string(status)
	return b
}

// WithMessage sets the message of the API response.
func (b *APIResponseBuilder) WithMessage(message string) *APIResponseBuilder {
	b.response.Message = message
	return b
}

// WithResult sets the result data of the API response.
func (b *APIResponseBuilder) WithResult(result interface{}) *APIResponseBuilder {
	b.response.Result = result
	return b
}

// Build constructs and returns the final APIResponse.
func (b *APIResponseBuilder) Build() APIResponse {
	return b.response
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithResult(result).
		Build()
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithMessage(message).
		WithResult(result).
		Build()
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusError).
		WithMessage(message).
		Build()
}

// Duplicate acknowledges a repeated delivery.
func Duplicate(key string) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusDuplicate).
		WithResult(map[string]string{"dedup_key": key}).
		Build()
}

// Ignored acknowledges a delivery that was not processed further.
func Ignored(message string) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusIgnored).
		WithMessage(message).
		Build()
}
