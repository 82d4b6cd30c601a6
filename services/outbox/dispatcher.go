package outbox

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	redis "github.com/redis/go-redis/v9"

	"github.com/shinminje20/birdie-buddies-backend/libs/logging"
)

var countOutboxPublished = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "outbox_events_published_total",
		Help: "count of outbox events published ( since last start ) broken down by outcome",
	},
	[]string{"outcome"},
)

func init() {
	prometheus.MustRegister(countOutboxPublished)
}

// Service dispatches outbox rows to the realtime bus
type Service struct {
	Datastore   Datastore
	RedisClient *redis.Client
}

// InitService creates an outbox service
func InitService(datastore Datastore, redisClient *redis.Client) (*Service, error) {
	return &Service{Datastore: datastore, RedisClient: redisClient}, nil
}

// AppendTx inserts an event in the caller's transaction
func (service *Service) AppendTx(ctx context.Context, tx *sqlx.Tx, channel string, payload interface{}) error {
	return service.Datastore.AppendTx(ctx, tx, channel, payload)
}

// DispatchOnce publishes one batch of due events, returning how many were attempted
func (service *Service) DispatchOnce(ctx context.Context, batch int) (int, error) {
	logger := logging.Logger(ctx, "outbox.DispatchOnce")

	tx, err := service.Datastore.BeginTx()
	if err != nil {
		return 0, err
	}
	defer service.Datastore.RollbackTx(tx)

	events, err := service.Datastore.UnsentBatch(ctx, tx, batch)
	if err != nil {
		return 0, err
	}

	for _, event := range events {
		err := service.RedisClient.Publish(ctx, event.Channel, []byte(event.Payload)).Err()
		if err != nil {
			logger.Warn().Err(err).Int64("eventID", event.ID).Str("channel", event.Channel).Msg("publish failed")
			countOutboxPublished.With(prometheus.Labels{"outcome": "error"}).Inc()
			if err := service.Datastore.MarkFailed(ctx, tx, event.ID, err.Error()); err != nil {
				return 0, err
			}
			continue
		}
		countOutboxPublished.With(prometheus.Labels{"outcome": "sent"}).Inc()
		if err := service.Datastore.MarkSent(ctx, tx, event.ID); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(events), nil
}

// RunDispatcher polls for due events until the context is canceled.
// Delivery is at-least-once, consumers must tolerate duplicates.
func (service *Service) RunDispatcher(ctx context.Context, interval time.Duration, batch int) error {
	logger := logging.Logger(ctx, "outbox.RunDispatcher")
	logger.Info().Dur("interval", interval).Int("batch", batch).Msg("outbox dispatcher started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down outbox dispatcher")
			return ctx.Err()
		case <-ticker.C:
			n, err := service.DispatchOnce(ctx, batch)
			if err != nil {
				logger.Error().Err(err).Msg("dispatch pass failed")
				continue
			}
			// drain immediately while there is a backlog
			for n == batch {
				n, err = service.DispatchOnce(ctx, batch)
				if err != nil {
					logger.Error().Err(err).Msg("dispatch pass failed")
					break
				}
			}
		}
	}
}
