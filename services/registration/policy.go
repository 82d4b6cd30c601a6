package registration

import (
	"time"

	errorutils "github.com/shinminje20/birdie-buddies-backend/libs/errors"
)

// ComputeRefundPolicy returns (refundCents, penaltyCents) for canceling
// totalFee worth of confirmed seats at now, in the session's local timezone.
// Penalty is negative. Rules:
//   - before local midnight of the session's start day: full refund
//   - on the start day but before starts_at: 50% refund, the rest as penalty
//   - at or after starts_at the caller must refuse the cancellation instead
func ComputeRefundPolicy(now, startsAt time.Time, tzName string, totalFee int64) (int64, int64, error) {
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		return 0, 0, errorutils.New(err, "invalid session timezone", nil)
	}

	startLocal := startsAt.In(loc)
	midnightLocal := time.Date(startLocal.Year(), startLocal.Month(), startLocal.Day(), 0, 0, 0, 0, loc)
	nowLocal := now.In(loc)

	if nowLocal.Before(midnightLocal) {
		return totalFee, 0, nil
	}
	if nowLocal.Before(startLocal) {
		// split 50/50, integer division keeps refund+(-penalty) == totalFee
		refund := totalFee / 2
		penalty := -(totalFee - refund)
		return refund, penalty, nil
	}
	return 0, 0, errorutils.New(errorutils.ErrTooLate, "cannot cancel after session start", nil)
}
