package session

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/shinminje20/birdie-buddies-backend/libs/datastore"
	"github.com/shinminje20/birdie-buddies-backend/libs/logging"
	"github.com/shinminje20/birdie-buddies-backend/services/outbox"
	"github.com/shinminje20/birdie-buddies-backend/services/registration"
)

// RunAutoCloser periodically closes scheduled sessions whose start time
// passed by the configured grace. A short-TTL redis lock keeps a single
// active closer across replicas; losing the lock just skips the tick.
// Control remains here until context cancellation.
func (service *Service) RunAutoCloser(ctx context.Context) error {
	logger := logging.Logger(ctx, "session.RunAutoCloser")
	logger.Info().Dur("interval", service.cfg.AutoCloseInterval).Dur("grace", service.cfg.AutoCloseGrace).Msg("auto closer started")

	ticker := time.NewTicker(service.cfg.AutoCloseInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			acquired, err := service.RedisClient.SetNX(ctx, registration.CloserLockKey, "1", service.cfg.CloserLockTTL).Result()
			if err != nil {
				logger.Error().Err(err).Msg("failed to take closer lock")
				continue
			}
			if !acquired {
				continue
			}
			closed, err := service.CloseStale(ctx)
			if err != nil {
				logger.Error().Err(err).Msg("auto close pass failed")
				continue
			}
			if closed > 0 {
				logger.Info().Int("closed", closed).Msg("auto closed sessions")
			}
		case <-ctx.Done():
			logger.Info().Msg("shutting down auto closer")
			return nil
		}
	}
}

// CloseStale closes up to one batch of overdue scheduled sessions in a
// single serializable transaction, returning how many closed
func (service *Service) CloseStale(ctx context.Context) (int, error) {
	result, err := datastore.RunSerializable(ctx, service.Datastore, func(tx *sqlx.Tx) (interface{}, error) {
		now := time.Now().UTC()
		cutoff := now.Add(-service.cfg.AutoCloseGrace)

		ids, err := service.Datastore.StaleScheduled(ctx, tx, cutoff, service.cfg.AutoCloseBatch)
		if err != nil {
			return nil, err
		}
		for _, sessionID := range ids {
			sess, err := service.Datastore.LockSession(ctx, tx, sessionID)
			if err != nil {
				return nil, err
			}
			if err := service.releaseWaitlistTx(ctx, tx, sess, now); err != nil {
				return nil, err
			}
			if err := service.Datastore.UpdateStatus(ctx, tx, sess.ID, StatusClosed); err != nil {
				return nil, err
			}
			err = service.outbox.AppendTx(ctx, tx, outbox.SessionChannel(sess.ID.String()), &Event{
				Type:      EventSessionStatusChanged,
				SessionID: sess.ID.String(),
				Status:    string(StatusClosed),
				TS:        now.Format(time.RFC3339Nano),
			})
			if err != nil {
				return nil, err
			}
		}
		return len(ids), nil
	})
	if err != nil {
		return 0, err
	}
	closed := result.(int)
	countSessionsClosed.Add(float64(closed))
	return closed, nil
}
