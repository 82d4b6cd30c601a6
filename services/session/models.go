package session

import (
	"time"

	uuid "github.com/satori/go.uuid"
)

// Status is the closed set of session lifecycle states
type Status string

const (
	// StatusScheduled - open for registration
	StatusScheduled Status = "scheduled"
	// StatusClosed - registration closed, confirmed seats stand
	StatusClosed Status = "closed"
	// StatusCanceled - terminal, everyone refunded or released
	StatusCanceled Status = "canceled"
)

// allowedTransitions encodes scheduled<->closed, scheduled->canceled,
// closed->canceled. canceled is terminal.
var allowedTransitions = map[Status][]Status{
	StatusScheduled: {StatusClosed, StatusCanceled},
	StatusClosed:    {StatusScheduled, StatusCanceled},
	StatusCanceled:  {},
}

// TransitionAllowed reports whether from may become to
func TransitionAllowed(from, to Status) bool {
	for _, allowed := range allowedTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Session is a bookable session row
type Session struct {
	ID        uuid.UUID `json:"sessionId" db:"id"`
	Title     *string   `json:"title,omitempty" db:"title"`
	StartsAt  time.Time `json:"startsAt" db:"starts_at"`
	Timezone  string    `json:"timezone" db:"timezone"`
	Capacity  int       `json:"capacity" db:"capacity"`
	FeeCents  int64     `json:"feeCents" db:"fee_cents"`
	Status    Status    `json:"status" db:"status"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// Summary is a session with its live seat statistics
type Summary struct {
	Session
	ConfirmedSeats  int `json:"confirmedSeats" db:"confirmed_seats"`
	WaitlistedSeats int `json:"waitlistedSeats" db:"waitlisted_seats"`
}

// Event types on the session channel
const (
	EventSessionCanceled        = "session_canceled"
	EventSessionStatusChanged   = "session_status_changed"
	EventSessionCapacityChanged = "session_capacity_changed"
)

// Event is the payload published on the session's realtime channel
type Event struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Status    string `json:"status,omitempty"`
	Capacity  int    `json:"capacity,omitempty"`
	TS        string `json:"ts,omitempty"`
}
