package backoff

import (
	"context"
	"time"

	"github.com/shinminje20/birdie-buddies-backend/libs/backoff/retrypolicy"
)

type (
	// Operation is the operation to be executed with retry
	Operation func() (interface{}, error)

	// IsRetriable determines if an error caused by the executed operation is retriable
	IsRetriable func(error) bool
)

// Retry executes the given Operation using the provided retrypolicy.Retry policy and IsRetriable conditions
func Retry(ctx context.Context, operation Operation, retryPolicy retrypolicy.Retry, isRetriable IsRetriable) (interface{}, error) {
	var (
		err      error
		response interface{}
		next     time.Duration
	)

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
			if response, err = operation(); err == nil {
				return response, nil
			}

			if !isRetriable(err) {
				return nil, err
			}

			if next = retryPolicy.CalculateNextDelay(); next == retrypolicy.Done {
				return nil, err
			}

			time.Sleep(next)
		}
	}
}
