package datastore

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/shinminje20/birdie-buddies-backend/libs/backoff"
	"github.com/shinminje20/birdie-buddies-backend/libs/backoff/retrypolicy"
	"github.com/shinminje20/birdie-buddies-backend/libs/logging"
)

// TxFunc is a unit of work to run inside a transaction
type TxFunc func(tx *sqlx.Tx) (interface{}, error)

// RunSerializable runs fn inside a serializable transaction, retrying the
// whole transaction a bounded number of times on serialization failures
func RunSerializable(ctx context.Context, ds Datastore, fn TxFunc) (interface{}, error) {
	logger := logging.Logger(ctx, "datastore.RunSerializable")

	// the policy tracks attempts, build a fresh one per invocation
	retryPolicy, err := retrypolicy.New(
		retrypolicy.WithInitialInterval(25*time.Millisecond),
		retrypolicy.WithMaximumInterval(500*time.Millisecond),
		retrypolicy.WithMaximumAttempts(5),
		retrypolicy.WithExpirationInterval(10*time.Second),
	)
	if err != nil {
		return nil, err
	}

	operation := func() (interface{}, error) {
		tx, err := ds.BeginSerializableTx(ctx)
		if err != nil {
			return nil, err
		}
		defer ds.RollbackTx(tx)

		result, err := fn(tx)
		if err != nil {
			return nil, err
		}

		if err := tx.Commit(); err != nil {
			return nil, err
		}
		return result, nil
	}

	result, err := backoff.Retry(ctx, operation, retryPolicy, func(err error) bool {
		retriable := IsSerializationError(err)
		if retriable {
			logger.Debug().Err(err).Msg("retrying serialization failure")
		}
		return retriable
	})
	return result, err
}
