package registration

import (
	uuid "github.com/satori/go.uuid"
)

// ConsumerGroup is the single stream consumer group, one active consumer per
// stream preserves per-session ordering
const ConsumerGroup = "g1"

// StreamKey names the per-session registration intent stream
func StreamKey(sessionID uuid.UUID) string {
	return "sess:" + sessionID.String() + ":stream"
}

// PromoteStreamKey names the per-session promotion trigger stream
func PromoteStreamKey(sessionID uuid.UUID) string {
	return "promote:" + sessionID.String() + ":stream"
}

// BacklogKey names the per-session pending intent counter
func BacklogKey(sessionID uuid.UUID) string {
	return "sess:" + sessionID.String() + ":backlog"
}

// IdempotencyKey maps a client idempotency key to its request id
func IdempotencyKey(sessionID, userID uuid.UUID, key string) string {
	return "idemp:" + sessionID.String() + ":" + userID.String() + ":" + key
}

// RequestStatusKey names the request status hash
func RequestStatusKey(requestID string) string {
	return "req:" + requestID + ":status"
}

// RegistrationRequestKey maps a registration id back to the request that created it
func RegistrationRequestKey(registrationID uuid.UUID) string {
	return "regreq:" + registrationID.String()
}

// CloserLockKey is the cooperative lock held by the active session closer
const CloserLockKey = "lock:session_closer"
