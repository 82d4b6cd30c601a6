package outbox

import (
	"encoding/json"
	"time"
)

// Event is a row of the events outbox, co-committed with state changes
type Event struct {
	ID          int64           `json:"id" db:"id"`
	Channel     string          `json:"channel" db:"channel"`
	Payload     json.RawMessage `json:"payload" db:"payload"`
	AvailableAt time.Time       `json:"availableAt" db:"available_at"`
	SentAt      *time.Time      `json:"sentAt,omitempty" db:"sent_at"`
	Attempts    int             `json:"attempts" db:"attempts"`
	Error       *string         `json:"error,omitempty" db:"error"`
	CreatedAt   time.Time       `json:"createdAt" db:"created_at"`
}

// SessionChannel names the realtime channel carrying all events of a session
func SessionChannel(sessionID string) string {
	return "session:" + sessionID
}

// RequestChannel names the realtime channel carrying one request's state deltas
func RequestChannel(requestID string) string {
	return "req:" + requestID
}
