package registration

import (
	"time"

	"github.com/lib/pq"
	uuid "github.com/satori/go.uuid"
)

// MaxGuests caps the number of active guest seats per host per session
const MaxGuests = 2

// State is the closed set of registration states
type State string

const (
	// StateConfirmed - the seat is confirmed and its fee captured
	StateConfirmed State = "confirmed"
	// StateWaitlisted - the seat holds a waitlist position with funds on hold
	StateWaitlisted State = "waitlisted"
	// StateCanceled - terminal
	StateCanceled State = "canceled"
)

// Registration is a single 1..3 seat booking row. Split groups link host and
// guest rows through GroupKey.
type Registration struct {
	ID         uuid.UUID      `json:"registrationId" db:"id"`
	SessionID  uuid.UUID      `json:"sessionId" db:"session_id"`
	HostUserID uuid.UUID      `json:"hostUserId" db:"host_user_id"`
	GroupKey   *uuid.UUID     `json:"groupKey,omitempty" db:"group_key"`
	IsHost     bool           `json:"isHost" db:"is_host"`
	Seats      int            `json:"seats" db:"seats"`
	GuestNames pq.StringArray `json:"guestNames" db:"guest_names"`
	State      State          `json:"state" db:"state"`
	WaitlistPos *int          `json:"waitlistPos,omitempty" db:"waitlist_pos"`
	CreatedAt  time.Time      `json:"createdAt" db:"created_at"`
	CanceledAt *time.Time     `json:"canceledAt,omitempty" db:"canceled_at"`
}

// RequestState is the lifecycle of a queued registration intent
type RequestState string

const (
	// RequestQueued - accepted and waiting for the session worker
	RequestQueued RequestState = "queued"
	// RequestConfirmed - the host seat was confirmed
	RequestConfirmed RequestState = "confirmed"
	// RequestWaitlisted - the host seat was waitlisted
	RequestWaitlisted RequestState = "waitlisted"
	// RequestRejected - the allocator refused the request
	RequestRejected RequestState = "rejected"
)

// Intent is the stream message carrying one registration request
type Intent struct {
	RequestID      string    `json:"request_id"`
	SessionID      uuid.UUID `json:"session_id"`
	UserID         uuid.UUID `json:"user_id"`
	Seats          int       `json:"seats"`
	GuestNames     []string  `json:"guest_names"`
	IdempotencyKey string    `json:"idempotency_key"`
	TS             time.Time `json:"ts"`
	// KeyPrefix namespaces the per-row ledger keys, set for pre-registrations
	// so their entries carry the admin-supplied idempotency key
	KeyPrefix string `json:"-"`
}

// PreRegItem is one admin-supplied pre-registration on session create
type PreRegItem struct {
	UserID         uuid.UUID `json:"userId"`
	Seats          int       `json:"seats"`
	GuestNames     []string  `json:"guestNames"`
	IdempotencyKey string    `json:"idempotencyKey"`
}

// RequestStatus is the client-visible record of a queued request
type RequestStatus struct {
	State          RequestState `json:"state"`
	SessionID      uuid.UUID    `json:"sessionId"`
	UserID         uuid.UUID    `json:"userId"`
	Seats          int          `json:"seats"`
	GuestNames     []string     `json:"guestNames"`
	CreatedAt      time.Time    `json:"createdAt"`
	RegistrationID *uuid.UUID   `json:"registrationId,omitempty"`
	WaitlistPos    *int         `json:"waitlistPos,omitempty"`
}

// Event is the payload published on a session's realtime channel
type Event struct {
	Type           string `json:"type"`
	SessionID      string `json:"session_id"`
	RegistrationID string `json:"registration_id,omitempty"`
	HostUserID     string `json:"host_user_id,omitempty"`
	Seats          int    `json:"seats,omitempty"`
	WaitlistPos    int    `json:"waitlist_pos,omitempty"`
	TS             string `json:"ts,omitempty"`
}

// Event types on the session channel
const (
	EventRegistrationConfirmed  = "registration_confirmed"
	EventRegistrationWaitlisted = "registration_waitlisted"
	EventRegistrationPromoted   = "registration_promoted"
	EventRegistrationCanceled   = "registration_canceled"
)

// AllocationResult summarizes the allocator's decision for the host seat
type AllocationResult struct {
	State          RequestState
	RegistrationID *uuid.UUID
	WaitlistPos    *int
}

// CancelResult carries refund totals across any cascaded guest rows
type CancelResult struct {
	RefundCents  int64  `json:"refundCents"`
	PenaltyCents int64  `json:"penaltyCents"`
	State        string `json:"state"`
}

// GuestUpdateResult reports a guest-list edit
type GuestUpdateResult struct {
	OldSeats     int    `json:"oldSeats"`
	NewSeats     int    `json:"newSeats"`
	RefundCents  int64  `json:"refundCents"`
	PenaltyCents int64  `json:"penaltyCents"`
	State        string `json:"state"`
}

// GuestAddResult reports an added guest seat
type GuestAddResult struct {
	RegistrationID uuid.UUID `json:"registrationId"`
	State          string    `json:"state"`
	WaitlistPos    *int      `json:"waitlistPos,omitempty"`
}
