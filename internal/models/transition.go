package models

import "time"

// TransitionRequest is an operator-initiated attempt to change a booking's status.
type TransitionRequest struct {
	RecordID         string  `json:"record_id"`
	RequestedOutcome Outcome `json:"requested_outcome"`
	ActorID          int64   `json:"actor_id"`
	ActorName        string  `json:"actor_name,omitempty"`
	SourceHandle     Handle  `json:"source_handle"`
}

// Validate checks the request before any remote call is made.
func (r TransitionRequest) Validate() error {
	if r.RecordID == "" {
		return ErrEmptyRecordID
	}
	if !IsValidOutcome(r.RequestedOutcome) {
		return ErrUnknownOutcome
	}
	return nil
}

// TransitionStatus is how a transition attempt ended.
type TransitionStatus string

const (
	// TransitionApplied means every remote step succeeded.
	TransitionApplied TransitionStatus = "applied"
	// TransitionFailed means the first remote step failed; nothing changed upstream.
	TransitionFailed TransitionStatus = "failed"
	// TransitionPartial means an earlier step succeeded and a later one failed.
	TransitionPartial TransitionStatus = "partial"
)

// TransitionResult reports the outcome of a transition attempt.
type TransitionResult struct {
	Outcome Outcome          `json:"outcome"`
	Status  TransitionStatus `json:"status"`
	// CompletedSteps lists remote steps that succeeded, in order.
	CompletedSteps []string `json:"completed_steps,omitempty"`
	// FailedStep names the step that failed, empty on success.
	FailedStep string `json:"failed_step,omitempty"`
	// HTTPStatus is the upstream status code of the failure, 0 for transport errors.
	HTTPStatus int `json:"http_status,omitempty"`
	// Detail carries the upstream error body verbatim.
	Detail   string        `json:"detail,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Succeeded reports whether the requested outcome was fully applied.
func (r TransitionResult) Succeeded() bool {
	return r.Status == TransitionApplied
}
