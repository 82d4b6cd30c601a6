package registration

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	redis "github.com/redis/go-redis/v9"
	uuid "github.com/satori/go.uuid"

	errorutils "github.com/shinminje20/birdie-buddies-backend/libs/errors"
	"github.com/shinminje20/birdie-buddies-backend/libs/logging"
	"github.com/shinminje20/birdie-buddies-backend/libs/redisconsumer"
	"github.com/shinminje20/birdie-buddies-backend/services/outbox"
)

// SubmitResult acknowledges an accepted registration intent
type SubmitResult struct {
	RequestID string       `json:"requestId"`
	State     RequestState `json:"state"`
}

// Submit validates a registration intent and appends it to the session's
// ordered stream. The write path does no allocation, the per-session worker
// decides confirm-vs-waitlist later. Resubmitting the same idempotency key
// within the intent TTL returns the original request id.
func (service *Service) Submit(ctx context.Context, sessionID, userID uuid.UUID, seats int, guestNames []string, idempotencyKey string) (*SubmitResult, error) {
	logger := logging.Logger(ctx, "registration.Submit")

	key := strings.TrimSpace(idempotencyKey)
	if len(key) < 6 || len(key) > 120 {
		return nil, errorutils.New(errorutils.ErrValidation, "idempotency key must be 6 to 120 characters", nil)
	}
	normalized := NormalizeGuestNames(guestNames)
	if seats != 1+len(normalized) {
		return nil, errorutils.New(errorutils.ErrValidation, "seats do not match guest names", nil)
	}

	sess, err := service.Datastore.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status != "scheduled" {
		return nil, errorutils.New(errorutils.ErrConflict, "session is not open for registration", nil)
	}
	now := time.Now().UTC()
	if !now.Before(sess.StartsAt) {
		return nil, errorutils.New(errorutils.ErrTooLate, "session already started", nil)
	}

	exists, err := service.Datastore.ActiveHostExistsDB(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, errorutils.New(errorutils.ErrDuplicateRegistration, "already registered or waitlisted for this session", nil)
	}

	idempKey := IdempotencyKey(sessionID, userID, key)
	existing, err := service.RedisClient.Get(ctx, idempKey).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	if existing != "" {
		return &SubmitResult{RequestID: existing, State: RequestQueued}, nil
	}

	backlog, err := service.RedisClient.Get(ctx, BacklogKey(sessionID)).Int64()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	if backlog >= service.cfg.BacklogCap {
		return nil, errorutils.New(errorutils.ErrBacklogFull, "registration queue is busy, retry shortly", nil)
	}

	requestID := uuid.NewV4().String()

	ok, err := service.RedisClient.SetNX(ctx, idempKey, requestID, service.cfg.IntentTTL).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		// lost the race to a concurrent resubmission of the same key
		winner, err := service.RedisClient.Get(ctx, idempKey).Result()
		if err != nil {
			return nil, err
		}
		return &SubmitResult{RequestID: winner, State: RequestQueued}, nil
	}

	intent := &Intent{
		RequestID:      requestID,
		SessionID:      sessionID,
		UserID:         userID,
		Seats:          seats,
		GuestNames:     normalized,
		IdempotencyKey: key,
		TS:             now,
	}
	intentJSON, err := json.Marshal(intent)
	if err != nil {
		return nil, err
	}
	guestJSON, err := json.Marshal(normalized)
	if err != nil {
		return nil, err
	}

	statusKey := RequestStatusKey(requestID)
	err = service.RedisClient.HSet(ctx, statusKey, map[string]interface{}{
		"state":       string(RequestQueued),
		"session_id":  sessionID.String(),
		"user_id":     userID.String(),
		"seats":       strconv.Itoa(seats),
		"guest_names": string(guestJSON),
		"created_at":  now.Format(time.RFC3339Nano),
	}).Err()
	if err != nil {
		return nil, err
	}
	if err := service.RedisClient.Expire(ctx, statusKey, service.cfg.StatusTTL).Err(); err != nil {
		return nil, err
	}

	streamClient := redisconsumer.NewStreamClient(service.RedisClient)
	if _, err := streamClient.AddMessages(ctx, StreamKey(sessionID), string(intentJSON)); err != nil {
		return nil, err
	}

	if err := service.RedisClient.Incr(ctx, BacklogKey(sessionID)).Err(); err != nil {
		logger.Warn().Err(err).Str("sessionID", sessionID.String()).Msg("failed to bump backlog counter")
	}
	service.RedisClient.Expire(ctx, BacklogKey(sessionID), service.cfg.StatusTTL)

	countIntentsEnqueued.With(prometheus.Labels{"session_id": sessionID.String()}).Inc()

	return &SubmitResult{RequestID: requestID, State: RequestQueued}, nil
}

// GetRequestStatus reads back a queued request's status record
func (service *Service) GetRequestStatus(ctx context.Context, requestID string) (*RequestStatus, error) {
	fields, err := service.RedisClient.HGetAll(ctx, RequestStatusKey(requestID)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, errorutils.New(errorutils.ErrNotFound, "request not found or expired", nil)
	}

	for _, required := range []string{"state", "session_id", "user_id", "seats", "created_at"} {
		if fields[required] == "" {
			return nil, errorutils.New(errorutils.ErrCorruptState, "request status record is missing "+required, nil)
		}
	}

	sessionID, err := uuid.FromString(fields["session_id"])
	if err != nil {
		return nil, errorutils.New(errorutils.ErrCorruptState, "request status record has a bad session id", nil)
	}
	userID, err := uuid.FromString(fields["user_id"])
	if err != nil {
		return nil, errorutils.New(errorutils.ErrCorruptState, "request status record has a bad user id", nil)
	}
	seats, err := strconv.Atoi(fields["seats"])
	if err != nil {
		return nil, errorutils.New(errorutils.ErrCorruptState, "request status record has a bad seat count", nil)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, fields["created_at"])
	if err != nil {
		return nil, errorutils.New(errorutils.ErrCorruptState, "request status record has a bad timestamp", nil)
	}

	status := &RequestStatus{
		State:     RequestState(fields["state"]),
		SessionID: sessionID,
		UserID:    userID,
		Seats:     seats,
		CreatedAt: createdAt,
	}
	if raw := fields["guest_names"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &status.GuestNames); err != nil {
			return nil, errorutils.New(errorutils.ErrCorruptState, "request status record has a bad guest list", nil)
		}
	}
	if raw := fields["registration_id"]; raw != "" {
		regID, err := uuid.FromString(raw)
		if err != nil {
			return nil, errorutils.New(errorutils.ErrCorruptState, "request status record has a bad registration id", nil)
		}
		status.RegistrationID = &regID
	}
	if raw := fields["waitlist_pos"]; raw != "" {
		pos, err := strconv.Atoi(raw)
		if err != nil {
			return nil, errorutils.New(errorutils.ErrCorruptState, "request status record has a bad waitlist position", nil)
		}
		status.WaitlistPos = &pos
	}
	return status, nil
}

// UpdateRequestStatus records the allocator's decision and publishes it on
// the request's channel for subscribers
func (service *Service) UpdateRequestStatus(ctx context.Context, requestID string, state RequestState, registrationID *uuid.UUID, waitlistPos *int) error {
	fields := map[string]interface{}{"state": string(state)}
	update := map[string]interface{}{"type": "request_update", "request_id": requestID, "state": string(state)}

	if registrationID != nil {
		fields["registration_id"] = registrationID.String()
		update["registration_id"] = registrationID.String()
		err := service.RedisClient.Set(ctx, RegistrationRequestKey(*registrationID), requestID, service.cfg.StatusTTL).Err()
		if err != nil {
			return err
		}
	}
	if waitlistPos != nil {
		fields["waitlist_pos"] = strconv.Itoa(*waitlistPos)
		update["waitlist_pos"] = *waitlistPos
	}

	if err := service.RedisClient.HSet(ctx, RequestStatusKey(requestID), fields).Err(); err != nil {
		return err
	}
	if waitlistPos == nil {
		// a promoted request sheds its stale queue position
		if err := service.RedisClient.HDel(ctx, RequestStatusKey(requestID), "waitlist_pos").Err(); err != nil {
			return err
		}
	}

	payload, err := json.Marshal(update)
	if err != nil {
		return err
	}
	return service.RedisClient.Publish(ctx, outbox.RequestChannel(requestID), payload).Err()
}

// DecrBacklog releases one slot of a session's ingress backlog
func (service *Service) DecrBacklog(ctx context.Context, sessionID uuid.UUID) {
	if err := service.RedisClient.Decr(ctx, BacklogKey(sessionID)).Err(); err != nil {
		logging.Logger(ctx, "registration.DecrBacklog").Warn().Err(err).Msg("failed to decrement backlog counter")
	}
}
