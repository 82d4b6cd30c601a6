package registration

import (
	"context"
	"encoding/json"
	"time"

	redis "github.com/redis/go-redis/v9"
	uuid "github.com/satori/go.uuid"

	"github.com/shinminje20/birdie-buddies-backend/libs/logging"
	"github.com/shinminje20/birdie-buddies-backend/libs/redisconsumer"
)

// discoveryInterval is how often the worker supervisors rescan for sessions
const discoveryInterval = 5 * time.Second

// RunAllocatorWorker consumes a session's intent stream until context
// cancellation. One consumer per stream keeps allocations in submission
// order; the ConsumerSet makes duplicate starts a no-op.
func (service *Service) RunAllocatorWorker(ctx context.Context, sessionID uuid.UUID, consumerID string) error {
	streamClient := redisconsumer.NewStreamClient(service.RedisClient)
	return redisconsumer.StartConsumer(ctx, streamClient, StreamKey(sessionID), ConsumerGroup, consumerID, service.handleIntent)
}

func (service *Service) handleIntent(ctx context.Context, id string, data []byte) error {
	logger := logging.Logger(ctx, "registration.handleIntent")

	var intent Intent
	if err := json.Unmarshal(data, &intent); err != nil {
		// malformed entries are acked, replaying them cannot help
		logger.Error().Err(err).Msg("failed to decode registration intent")
		return nil
	}

	result, err := service.Allocate(ctx, &intent)
	if err != nil {
		// domain rejections come back as a rejected result with a nil error,
		// anything else is transient. Leave the entry pending so it is
		// redelivered once the datastore recovers
		logger.Error().Err(err).Str("requestID", intent.RequestID).Msg("allocation failed")
		return err
	}

	if err := service.UpdateRequestStatus(ctx, intent.RequestID, result.State, result.RegistrationID, result.WaitlistPos); err != nil {
		logger.Warn().Err(err).Str("requestID", intent.RequestID).Msg("failed to update request status")
	}
	service.DecrBacklog(ctx, intent.SessionID)
	return nil
}

// RunPromotionWorker consumes a session's promotion trigger stream until
// context cancellation. Triggers are idempotent, a failed pass stays pending
// and is retried on the next read.
func (service *Service) RunPromotionWorker(ctx context.Context, sessionID uuid.UUID, consumerID string) error {
	streamClient := redisconsumer.NewStreamClient(service.RedisClient)
	return redisconsumer.StartConsumer(ctx, streamClient, PromoteStreamKey(sessionID), ConsumerGroup, consumerID,
		func(ctx context.Context, id string, data []byte) error {
			promoted, err := service.PromoteOnce(ctx, sessionID)
			if err != nil {
				return err
			}
			service.NotifyPromoted(ctx, promoted)
			return nil
		})
}

// NotifyPromoted flips each promoted seat's originating request record to
// confirmed and publishes the delta on the request channel. The mapping has
// the same TTL as the status record; if it expired the poller falls back to
// the registration row.
func (service *Service) NotifyPromoted(ctx context.Context, promoted []PromotedSeat) {
	logger := logging.Logger(ctx, "registration.NotifyPromoted")
	for _, seat := range promoted {
		requestID, err := service.RedisClient.Get(ctx, RegistrationRequestKey(seat.RegistrationID)).Result()
		if err == redis.Nil || requestID == "" {
			continue
		}
		if err != nil {
			logger.Warn().Err(err).Str("registrationID", seat.RegistrationID.String()).Msg("failed to resolve request mapping")
			continue
		}
		registrationID := seat.RegistrationID
		if err := service.UpdateRequestStatus(ctx, requestID, RequestConfirmed, &registrationID, nil); err != nil {
			logger.Warn().Err(err).Str("requestID", requestID).Msg("failed to push promoted status")
		}
	}
}

// RunSessionWorkers supervises allocator and promotion consumers for every
// scheduled session, rescanning periodically so newly created sessions pick
// up workers without a restart. Control remains here until context
// cancellation.
func (service *Service) RunSessionWorkers(ctx context.Context, consumerID string) error {
	logger := logging.Logger(ctx, "registration.RunSessionWorkers")

	spawn := func() {
		sessionIDs, err := service.Datastore.ScheduledSessionIDs(ctx)
		if err != nil {
			logger.Error().Err(err).Msg("failed to list scheduled sessions")
			return
		}
		for _, sessionID := range sessionIDs {
			sessionID := sessionID
			go func() {
				if err := service.RunAllocatorWorker(ctx, sessionID, consumerID); err != nil {
					logger.Error().Err(err).Str("sessionID", sessionID.String()).Msg("allocator worker exited")
				}
			}()
			go func() {
				if err := service.RunPromotionWorker(ctx, sessionID, consumerID); err != nil {
					logger.Error().Err(err).Str("sessionID", sessionID.String()).Msg("promotion worker exited")
				}
			}()
		}
	}

	spawn()
	ticker := time.NewTicker(discoveryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			spawn()
		case <-ctx.Done():
			logger.Info().Msg("shutting down session workers")
			return nil
		}
	}
}
