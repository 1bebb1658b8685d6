package domain

import (
	"fmt"
	"time"
)

// IntegrationType selects which upstream operation a job performs.
type IntegrationType string

// Integration job types.
const (
	IntegrationTicketSync      IntegrationType = "TICKET_SYNC"
	IntegrationUserVerification IntegrationType = "USER_VERIFICATION"
	IntegrationClientDataFetch IntegrationType = "CLIENT_DATA_FETCH"
	IntegrationStatusUpdate    IntegrationType = "STATUS_UPDATE"
	IntegrationBulkSync        IntegrationType = "BULK_SYNC"
)

// IntegrationPriority orders job dispatch.
type IntegrationPriority string

// Integration priorities.
const (
	PriorityLow    IntegrationPriority = "LOW"
	PriorityNormal IntegrationPriority = "NORMAL"
	PriorityHigh   IntegrationPriority = "HIGH"
	PriorityUrgent IntegrationPriority = "URGENT"
)

// Rank maps priority to a sortable weight (higher dispatches first).
func (p IntegrationPriority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 3
	case PriorityHigh:
		return 2
	case PriorityNormal:
		return 1
	default:
		return 0
	}
}

// IntegrationStatus is the job lifecycle state.
type IntegrationStatus string

// Integration statuses. COMPLETED, FAILED and CANCELLED are terminal.
const (
	IntegrationStatusPending        IntegrationStatus = "PENDING"
	IntegrationStatusInProgress     IntegrationStatus = "IN_PROGRESS"
	IntegrationStatusCompleted      IntegrationStatus = "COMPLETED"
	IntegrationStatusFailed         IntegrationStatus = "FAILED"
	IntegrationStatusRetryScheduled IntegrationStatus = "RETRY_SCHEDULED"
	IntegrationStatusCancelled      IntegrationStatus = "CANCELLED"
)

// IsTerminal reports whether the job admits no further mutation.
func (s IntegrationStatus) IsTerminal() bool {
	switch s {
	case IntegrationStatusCompleted, IntegrationStatusFailed, IntegrationStatusCancelled:
		return true
	}
	return false
}

// Defaults for integration jobs.
const (
	DefaultMaxRetries     = 3
	DefaultTimeoutSeconds = 30

	retryBaseDelay = 60 * time.Second
	retryMaxDelay  = 3600 * time.Second
)

// NextRetryDelay returns the saturating exponential backoff for the
// given number of prior retries: min(60*2^k, 3600) seconds.
func NextRetryDelay(priorRetries int) time.Duration {
	if priorRetries < 0 {
		priorRetries = 0
	}
	// 60 * 2^6 > 3600 already, avoid shifting into overflow.
	if priorRetries > 6 {
		return retryMaxDelay
	}
	d := retryBaseDelay << uint(priorRetries)
	if d > retryMaxDelay {
		return retryMaxDelay
	}
	return d
}

// IntegrationAttempt records one execution try.
type IntegrationAttempt struct {
	AttemptedAt  time.Time `json:"attempted_at"`
	Success      bool      `json:"success"`
	ErrorMessage string    `json:"error_message,omitempty"`
	ResponseData string    `json:"response_data,omitempty"`
	DurationMS   int64     `json:"duration_ms,omitempty"`
}

// Integration is the durable job aggregate the engine runs.
type Integration struct {
	ID             IntegrationID
	Type           IntegrationType
	Priority       IntegrationPriority
	Status         IntegrationStatus
	Payload        any
	Metadata       map[string]string
	MaxRetries     int
	TimeoutSeconds int
	Attempts       []IntegrationAttempt
	ScheduledAt    *time.Time
	NextAttemptAt  *time.Time
	StartedAt      *time.Time
	CompletedAt    *time.Time
	HubSoftResponse string
	ErrorDetails   string
	CreatedAt      time.Time
	UpdatedAt      time.Time

	pending []Event
}

// NewIntegration builds a PENDING job with defaults applied.
func NewIntegration(itype IntegrationType, priority IntegrationPriority, payload any) *Integration {
	created := time.Now()
	return &Integration{
		ID:             NewIntegrationID(),
		Type:           itype,
		Priority:       priority,
		Status:         IntegrationStatusPending,
		Payload:        payload,
		Metadata:       map[string]string{},
		MaxRetries:     DefaultMaxRetries,
		TimeoutSeconds: DefaultTimeoutSeconds,
		CreatedAt:      created,
		UpdatedAt:      created,
	}
}

// Schedule stamps the dispatch time (defaults to now) and emits
// IntegrationScheduled. Only valid from PENDING.
func (i *Integration) Schedule(at *time.Time) error {
	if i.Status != IntegrationStatusPending {
		return &IllegalTransitionError{Entity: "integration", From: string(i.Status), To: "scheduled"}
	}
	t := time.Now()
	if at != nil {
		t = *at
	}
	i.ScheduledAt = &t
	i.NextAttemptAt = &t
	i.touch()
	i.record(IntegrationScheduled{BaseEvent: now(), IntegrationID: i.ID, Type: i.Type, Priority: i.Priority})
	return nil
}

// Start moves the job to IN_PROGRESS. Valid from PENDING or
// RETRY_SCHEDULED.
func (i *Integration) Start() error {
	if i.Status != IntegrationStatusPending && i.Status != IntegrationStatusRetryScheduled {
		return &IllegalTransitionError{Entity: "integration", From: string(i.Status), To: string(IntegrationStatusInProgress)}
	}
	i.Status = IntegrationStatusInProgress
	t := time.Now()
	i.StartedAt = &t
	i.touch()
	i.record(IntegrationStarted{BaseEvent: now(), IntegrationID: i.ID, Type: i.Type, Attempt: len(i.Attempts) + 1})
	return nil
}

// RecordAttempt appends an attempt. Success completes the job; failure
// either schedules a retry (retryable errors, attempts left) or fails
// the job for good. nextDelay overrides the backoff law when the
// upstream dictated a reset window (rate limits); pass 0 to use the law.
func (i *Integration) RecordAttempt(success bool, errMsg, response string, duration time.Duration, retryable bool, nextDelay time.Duration) error {
	if i.Status.IsTerminal() {
		return &IllegalTransitionError{Entity: "integration", From: string(i.Status), To: "attempt"}
	}
	if len(i.Attempts) >= i.MaxRetries+1 {
		return &IllegalTransitionError{Entity: "integration", From: string(i.Status), To: "attempt beyond budget"}
	}
	i.Attempts = append(i.Attempts, IntegrationAttempt{
		AttemptedAt:  time.Now(),
		Success:      success,
		ErrorMessage: errMsg,
		ResponseData: response,
		DurationMS:   duration.Milliseconds(),
	})
	if success {
		return i.CompleteWithSuccess(response)
	}
	return i.handleFailure(errMsg, retryable, nextDelay)
}

// handleFailure decides between RETRY_SCHEDULED and FAILED.
func (i *Integration) handleFailure(errMsg string, retryable bool, nextDelay time.Duration) error {
	if !retryable || len(i.Attempts) >= i.MaxRetries {
		return i.Fail(errMsg, "", retryable)
	}
	delay := nextDelay
	if delay <= 0 {
		delay = NextRetryDelay(len(i.Attempts) - 1)
	}
	next := time.Now().Add(delay)
	i.Status = IntegrationStatusRetryScheduled
	i.NextAttemptAt = &next
	i.ErrorDetails = errMsg
	i.touch()
	return nil
}

// CompleteWithSuccess terminates the job successfully.
func (i *Integration) CompleteWithSuccess(response string) error {
	if i.Status.IsTerminal() {
		return &IllegalTransitionError{Entity: "integration", From: string(i.Status), To: string(IntegrationStatusCompleted)}
	}
	i.Status = IntegrationStatusCompleted
	i.HubSoftResponse = response
	t := time.Now()
	i.CompletedAt = &t
	i.touch()
	i.record(IntegrationCompleted{BaseEvent: now(), IntegrationID: i.ID, Type: i.Type, Attempts: len(i.Attempts)})
	return nil
}

// Fail terminates the job unsuccessfully and emits IntegrationFailed.
func (i *Integration) Fail(msg, details string, retryable bool) error {
	if i.Status.IsTerminal() {
		return &IllegalTransitionError{Entity: "integration", From: string(i.Status), To: string(IntegrationStatusFailed)}
	}
	i.Status = IntegrationStatusFailed
	i.ErrorDetails = msg
	if details != "" {
		i.ErrorDetails = fmt.Sprintf("%s: %s", msg, details)
	}
	t := time.Now()
	i.CompletedAt = &t
	i.touch()
	i.record(IntegrationFailed{BaseEvent: now(), IntegrationID: i.ID, Type: i.Type, Attempts: len(i.Attempts), Error: i.ErrorDetails})
	return nil
}

// Cancel terminates the job by operator decision. In-flight attempts
// finish but their results are ignored for state purposes.
func (i *Integration) Cancel(reason string) error {
	if i.Status.IsTerminal() {
		return &IllegalTransitionError{Entity: "integration", From: string(i.Status), To: string(IntegrationStatusCancelled)}
	}
	i.Status = IntegrationStatusCancelled
	i.ErrorDetails = reason
	t := time.Now()
	i.CompletedAt = &t
	i.touch()
	return nil
}

// UpdatePriority changes dispatch priority. Forbidden after
// termination; never resets the attempt history.
func (i *Integration) UpdatePriority(p IntegrationPriority, reason string) error {
	if i.Status.IsTerminal() {
		return &IllegalTransitionError{Entity: "integration", From: string(i.Status), To: "priority " + string(p)}
	}
	i.Priority = p
	if reason != "" {
		i.Metadata["priority_change_reason"] = reason
	}
	i.touch()
	return nil
}

// CanRetry reports whether the retry policy may pick the job up again.
func (i *Integration) CanRetry() bool {
	if i.Status != IntegrationStatusFailed && i.Status != IntegrationStatusRetryScheduled {
		return false
	}
	return len(i.Attempts) < i.MaxRetries
}

// LastAttempt returns the most recent attempt, or nil.
func (i *Integration) LastAttempt() *IntegrationAttempt {
	if len(i.Attempts) == 0 {
		return nil
	}
	return &i.Attempts[len(i.Attempts)-1]
}

// TakeEvents returns and clears the pending domain events.
func (i *Integration) TakeEvents() []Event {
	evs := i.pending
	i.pending = nil
	return evs
}

func (i *Integration) record(e Event) { i.pending = append(i.pending, e) }

func (i *Integration) touch() { i.UpdatedAt = time.Now() }
