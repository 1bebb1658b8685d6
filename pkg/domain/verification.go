package domain

import "time"

// VerificationType says why the identity check was started.
type VerificationType string

// Verification types.
const (
	VerificationAutoCheckup         VerificationType = "auto_checkup"
	VerificationSupportRequest      VerificationType = "support_request"
	VerificationInitialRegistration VerificationType = "initial_registration"
)

// VerificationStatus is the verification lifecycle state.
type VerificationStatus string

// Verification statuses. COMPLETED, FAILED, EXPIRED and CANCELLED are
// terminal and immutable.
const (
	VerificationStatusPending    VerificationStatus = "PENDING"
	VerificationStatusInProgress VerificationStatus = "IN_PROGRESS"
	VerificationStatusCompleted  VerificationStatus = "COMPLETED"
	VerificationStatusFailed     VerificationStatus = "FAILED"
	VerificationStatusExpired    VerificationStatus = "EXPIRED"
	VerificationStatusCancelled  VerificationStatus = "CANCELLED"
)

// IsTerminal reports whether the status admits no further mutation.
func (s VerificationStatus) IsTerminal() bool {
	switch s {
	case VerificationStatusCompleted, VerificationStatusFailed,
		VerificationStatusExpired, VerificationStatusCancelled:
		return true
	}
	return false
}

// Defaults for verification requests.
const (
	VerificationTTL         = 24 * time.Hour
	VerificationMaxAttempts = 3
)

// FailureReasonAttemptsExhausted is recorded when the user burns all
// attempts without a successful check.
const FailureReasonAttemptsExhausted = "attempts_exhausted"

// ClientData is the upstream subscriber snapshot captured on success.
type ClientData struct {
	Name          string `json:"name"`
	ServiceName   string `json:"service_name,omitempty"`
	ServiceStatus string `json:"service_status,omitempty"`
}

// Verification is the per-user identity check aggregate.
type Verification struct {
	ID            VerificationID
	UserID        ChatUserID
	Username      string
	UserMention   string
	Type          VerificationType
	SourceAction  string
	Status        VerificationStatus
	CreatedAt     time.Time
	ExpiresAt     time.Time
	StartedAt     *time.Time
	CompletedAt   *time.Time
	AttemptCount  int
	MaxAttempts   int
	CPFVerified   CPF
	Client        *ClientData
	FailureReason string

	pending []Event
}

// NewVerification creates a PENDING verification expiring 24 h after
// creation, and emits VerificationStarted.
func NewVerification(userID ChatUserID, username, mention string, vtype VerificationType, sourceAction string) *Verification {
	created := time.Now()
	v := &Verification{
		ID:           NewVerificationID(),
		UserID:       userID,
		Username:     username,
		UserMention:  mention,
		Type:         vtype,
		SourceAction: sourceAction,
		Status:       VerificationStatusPending,
		CreatedAt:    created,
		ExpiresAt:    created.Add(VerificationTTL),
		MaxAttempts:  VerificationMaxAttempts,
	}
	v.record(VerificationStarted{BaseEvent: now(), VerificationID: v.ID, UserID: userID, Type: vtype})
	return v
}

// Start moves the verification from PENDING to IN_PROGRESS (first CPF
// submission).
func (v *Verification) Start() error {
	if v.Status != VerificationStatusPending {
		return &IllegalTransitionError{Entity: "verification", From: string(v.Status), To: string(VerificationStatusInProgress)}
	}
	v.Status = VerificationStatusInProgress
	t := time.Now()
	v.StartedAt = &t
	return nil
}

// RecordAttempt registers one CPF submission. A successful attempt
// completes the verification; exhausting max attempts fails it.
func (v *Verification) RecordAttempt(cpf CPF, success bool, failureReason string, client *ClientData) error {
	if v.Status.IsTerminal() {
		return &IllegalTransitionError{Entity: "verification", From: string(v.Status), To: "attempt"}
	}
	if v.Status == VerificationStatusPending {
		if err := v.Start(); err != nil {
			return err
		}
	}
	if v.AttemptCount >= v.MaxAttempts {
		return &IllegalTransitionError{Entity: "verification", From: string(v.Status), To: "attempt beyond max"}
	}
	v.AttemptCount++
	v.record(VerificationAttemptMade{
		BaseEvent:      now(),
		VerificationID: v.ID,
		UserID:         v.UserID,
		Attempt:        v.AttemptCount,
		Success:        success,
		FailureReason:  failureReason,
	})
	if success {
		return v.CompleteWithSuccess(cpf, client)
	}
	if v.AttemptCount >= v.MaxAttempts {
		return v.Fail(FailureReasonAttemptsExhausted)
	}
	return nil
}

// CompleteWithSuccess finishes the verification with the confirmed CPF
// and subscriber data.
func (v *Verification) CompleteWithSuccess(cpf CPF, client *ClientData) error {
	if v.Status.IsTerminal() {
		return &IllegalTransitionError{Entity: "verification", From: string(v.Status), To: string(VerificationStatusCompleted)}
	}
	v.Status = VerificationStatusCompleted
	v.CPFVerified = cpf
	v.Client = client
	t := time.Now()
	v.CompletedAt = &t
	v.record(VerificationCompleted{BaseEvent: now(), VerificationID: v.ID, UserID: v.UserID, CPFMasked: cpf.Masked()})
	return nil
}

// Fail terminates the verification unsuccessfully.
func (v *Verification) Fail(reason string) error {
	if v.Status.IsTerminal() {
		return &IllegalTransitionError{Entity: "verification", From: string(v.Status), To: string(VerificationStatusFailed)}
	}
	v.Status = VerificationStatusFailed
	v.FailureReason = reason
	t := time.Now()
	v.CompletedAt = &t
	v.record(VerificationFailed{BaseEvent: now(), VerificationID: v.ID, UserID: v.UserID, Reason: reason})
	return nil
}

// Expire terminates a verification whose 24-hour window elapsed. It is
// a no-op error if the deadline has not been reached yet.
func (v *Verification) Expire(ref time.Time) error {
	if v.Status.IsTerminal() {
		return &IllegalTransitionError{Entity: "verification", From: string(v.Status), To: string(VerificationStatusExpired)}
	}
	if ref.Before(v.ExpiresAt) {
		return NewInvalidValue("expires_at", "verification has not expired yet")
	}
	v.Status = VerificationStatusExpired
	t := time.Now()
	v.CompletedAt = &t
	v.record(VerificationExpired{BaseEvent: now(), VerificationID: v.ID, UserID: v.UserID, Type: v.Type})
	return nil
}

// Cancel terminates the verification with a reason (superseded by a new
// request, or an admin action).
func (v *Verification) Cancel(reason string) error {
	if v.Status.IsTerminal() {
		return &IllegalTransitionError{Entity: "verification", From: string(v.Status), To: string(VerificationStatusCancelled)}
	}
	v.Status = VerificationStatusCancelled
	v.FailureReason = reason
	t := time.Now()
	v.CompletedAt = &t
	v.record(VerificationCancelled{BaseEvent: now(), VerificationID: v.ID, UserID: v.UserID, Reason: reason})
	return nil
}

// AttemptsLeft returns how many submissions remain.
func (v *Verification) AttemptsLeft() int {
	left := v.MaxAttempts - v.AttemptCount
	if left < 0 {
		return 0
	}
	return left
}

// TakeEvents returns and clears the pending domain events.
func (v *Verification) TakeEvents() []Event {
	evs := v.pending
	v.pending = nil
	return evs
}

func (v *Verification) record(e Event) { v.pending = append(v.pending, e) }
