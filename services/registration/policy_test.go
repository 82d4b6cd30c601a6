package registration

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errorutils "github.com/shinminje20/birdie-buddies-backend/libs/errors"
)

func TestComputeRefundPolicy_FullRefundBeforeStartDay(t *testing.T) {
	loc, err := time.LoadLocation("America/Vancouver")
	require.NoError(t, err)

	startsAt := time.Date(2026, 2, 10, 20, 0, 0, 0, loc)
	now := time.Date(2026, 2, 9, 23, 59, 0, 0, loc)

	refund, penalty, err := ComputeRefundPolicy(now, startsAt, "America/Vancouver", 900)
	require.NoError(t, err)
	assert.Equal(t, int64(900), refund)
	assert.Equal(t, int64(0), penalty)
}

func TestComputeRefundPolicy_HalfRefundOnStartDay(t *testing.T) {
	loc, err := time.LoadLocation("America/Vancouver")
	require.NoError(t, err)

	startsAt := time.Date(2026, 2, 10, 20, 0, 0, 0, loc)
	now := time.Date(2026, 2, 10, 9, 0, 0, 0, loc)

	refund, penalty, err := ComputeRefundPolicy(now, startsAt, "America/Vancouver", 900)
	require.NoError(t, err)
	assert.Equal(t, int64(450), refund)
	assert.Equal(t, int64(-450), penalty)
}

func TestComputeRefundPolicy_OddFeeSplitsWithoutLoss(t *testing.T) {
	loc, err := time.LoadLocation("America/Vancouver")
	require.NoError(t, err)

	startsAt := time.Date(2026, 2, 10, 20, 0, 0, 0, loc)
	now := time.Date(2026, 2, 10, 9, 0, 0, 0, loc)

	refund, penalty, err := ComputeRefundPolicy(now, startsAt, "America/Vancouver", 901)
	require.NoError(t, err)
	assert.Equal(t, int64(450), refund)
	assert.Equal(t, int64(-451), penalty)
	assert.Equal(t, int64(901), refund-penalty)
}

func TestComputeRefundPolicy_TooLateAtStart(t *testing.T) {
	loc, err := time.LoadLocation("America/Vancouver")
	require.NoError(t, err)

	startsAt := time.Date(2026, 2, 10, 20, 0, 0, 0, loc)

	_, _, err = ComputeRefundPolicy(startsAt, startsAt, "America/Vancouver", 900)
	assert.True(t, errors.Is(err, errorutils.ErrTooLate))

	_, _, err = ComputeRefundPolicy(startsAt.Add(time.Hour), startsAt, "America/Vancouver", 900)
	assert.True(t, errors.Is(err, errorutils.ErrTooLate))
}

func TestComputeRefundPolicy_TimezoneBoundary(t *testing.T) {
	// 23:30 Feb 9 in Vancouver is already Feb 10 in UTC, the local calendar
	// day decides the tier
	loc, err := time.LoadLocation("America/Vancouver")
	require.NoError(t, err)

	startsAt := time.Date(2026, 2, 10, 20, 0, 0, 0, loc)
	now := time.Date(2026, 2, 10, 7, 30, 0, 0, time.UTC) // 23:30 Feb 9 local

	refund, penalty, err := ComputeRefundPolicy(now, startsAt, "America/Vancouver", 1200)
	require.NoError(t, err)
	assert.Equal(t, int64(1200), refund)
	assert.Equal(t, int64(0), penalty)
}

func TestComputeRefundPolicy_InvalidTimezone(t *testing.T) {
	_, _, err := ComputeRefundPolicy(time.Now(), time.Now().Add(time.Hour), "Not/AZone", 900)
	assert.Error(t, err)
}

func TestNormalizeGuestNames(t *testing.T) {
	assert.Equal(t, []string{}, NormalizeGuestNames(nil))
	assert.Equal(t, []string{}, NormalizeGuestNames([]string{"", "   "}))
	assert.Equal(t, []string{"amy"}, NormalizeGuestNames([]string{" amy "}))
	assert.Equal(t, []string{"amy", "bo"}, NormalizeGuestNames([]string{"amy", "", "bo"}))
	// trailing entries past the guest limit are dropped
	assert.Equal(t, []string{"amy", "bo"}, NormalizeGuestNames([]string{"amy", "bo", "cal"}))
}
