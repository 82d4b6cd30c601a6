package retrypolicy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryPolicy_New(t *testing.T) {
	t.Parallel()
	retryPolicy, err := New(
		WithInitialInterval(time.Second),
		WithBackoffCoefficient(2),
		WithMaximumInterval(time.Second),
		WithExpirationInterval(time.Second),
		WithMaximumAttempts(5),
	)
	assert.NoError(t, err)
	assert.NotNil(t, retryPolicy)
}

func TestPolicy_CalculateNextDelay_MaxAttempts(t *testing.T) {
	t.Parallel()
	retryPolicy := policy{
		currentAttempt: 1,
		maximumAttempt: 1,
	}
	assert.Equal(t, Done, retryPolicy.CalculateNextDelay())
}

func TestPolicy_CalculateNextDelay_Expired(t *testing.T) {
	t.Parallel()
	retryPolicy := policy{
		currentAttempt:     0,
		maximumAttempt:     10,
		expirationInterval: time.Second * 10,
		startTime:          time.Now().Add(-time.Second * 11),
	}
	assert.Equal(t, Done, retryPolicy.CalculateNextDelay())
}

func TestPolicy_CalculateNextDelay_NextIntervalIsZero(t *testing.T) {
	t.Parallel()
	retryPolicy := policy{
		currentAttempt:     0,
		maximumAttempt:     1,
		expirationInterval: time.Second * 10,
		startTime:          time.Now(),
		initialInterval:    0,
	}
	assert.Equal(t, Done, retryPolicy.CalculateNextDelay())
}

func TestPolicy_CalculateNextDelay_Backoff(t *testing.T) {
	t.Parallel()
	retryPolicy := policy{
		currentAttempt:     0,
		maximumAttempt:     4,
		initialInterval:    50 * time.Millisecond,
		backoffCoefficient: 2,
		maximumInterval:    150 * time.Millisecond,
		expirationInterval: time.Minute,
		startTime:          time.Now(),
	}
	assert.Equal(t, 50*time.Millisecond, retryPolicy.CalculateNextDelay())
	assert.Equal(t, 100*time.Millisecond, retryPolicy.CalculateNextDelay())
	assert.Equal(t, 150*time.Millisecond, retryPolicy.CalculateNextDelay())
	assert.Equal(t, 150*time.Millisecond, retryPolicy.CalculateNextDelay())
	assert.Equal(t, Done, retryPolicy.CalculateNextDelay())
}
