package registration

import (
	"context"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	uuid "github.com/satori/go.uuid"

	"github.com/shinminje20/birdie-buddies-backend/libs/datastore"
	errorutils "github.com/shinminje20/birdie-buddies-backend/libs/errors"
	"github.com/shinminje20/birdie-buddies-backend/libs/logging"
	"github.com/shinminje20/birdie-buddies-backend/services/outbox"
	"github.com/shinminje20/birdie-buddies-backend/services/wallet"
)

var countPromotedSeats = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "waitlist_seats_promoted_total",
		Help: "count of waitlist seats promoted ( since last start ) broken down by session",
	},
	[]string{"session_id"},
)

func init() {
	prometheus.MustRegister(countPromotedSeats)
}

// PromotedSeat records one promoted registration
type PromotedSeat struct {
	RegistrationID uuid.UUID
	Seats          int
}

// PromoteOnce confirms strict-FIFO waitlist heads that fit the remaining
// capacity. The head is never skipped: promotion stops at the first row
// whose seats exceed the remaining count, even when later rows would fit.
func (service *Service) PromoteOnce(ctx context.Context, sessionID uuid.UUID) ([]PromotedSeat, error) {
	logger := logging.Logger(ctx, "registration.PromoteOnce")

	result, err := datastore.RunSerializable(ctx, service.Datastore, func(tx *sqlx.Tx) (interface{}, error) {
		return service.promoteTx(ctx, tx, sessionID)
	})
	if err != nil {
		return nil, err
	}

	promoted := result.([]PromotedSeat)
	if len(promoted) > 0 {
		logger.Info().Str("sessionID", sessionID.String()).Int("promoted", len(promoted)).Msg("waitlist promoted")
		countPromotedSeats.With(prometheus.Labels{"session_id": sessionID.String()}).Add(float64(len(promoted)))
	}
	return promoted, nil
}

func (service *Service) promoteTx(ctx context.Context, tx *sqlx.Tx, sessionID uuid.UUID) ([]PromotedSeat, error) {
	promoted := []PromotedSeat{}

	sess, err := service.Datastore.LockSession(ctx, tx, sessionID)
	if err != nil {
		if errors.Is(err, errorutils.ErrNotFound) {
			return promoted, nil
		}
		return nil, err
	}
	if sess.Status != "scheduled" {
		return promoted, nil
	}

	confirmed, err := service.Datastore.ConfirmedSeats(ctx, tx, sessionID)
	if err != nil {
		return nil, err
	}
	remaining := sess.Capacity - confirmed

	for remaining > 0 {
		head, err := service.Datastore.LockWaitlistHead(ctx, tx, sessionID)
		if err != nil {
			return nil, err
		}
		if head == nil {
			break
		}
		if head.Seats > remaining {
			// strict FIFO: never skip the head
			break
		}

		totalFee := int64(head.Seats) * sess.FeeCents

		// hold becomes a release plus a capture; the keys match the hold phase
		// so redelivery cannot double-charge. The release runs first: a user
		// whose posted balance exactly covers the hold would otherwise trip
		// the wallet's available-nonneg check mid-transaction
		if totalFee != 0 {
			_, err = service.wallet.ApplyTx(ctx, tx, wallet.ApplyRequest{
				UserID:         head.HostUserID,
				Kind:           wallet.KindHoldRelease,
				AmountCents:    -totalFee,
				SessionID:      &sess.ID,
				RegistrationID: &head.ID,
				IdempotencyKey: "rel:" + head.ID.String(),
			})
			if err != nil {
				return nil, err
			}
			_, err = service.wallet.ApplyTx(ctx, tx, wallet.ApplyRequest{
				UserID:         head.HostUserID,
				Kind:           wallet.KindFeeCapture,
				AmountCents:    -totalFee,
				SessionID:      &sess.ID,
				RegistrationID: &head.ID,
				IdempotencyKey: "cap:" + head.ID.String(),
			})
			if err != nil {
				return nil, err
			}
		}

		vacatedPos := head.WaitlistPos
		if err := service.Datastore.MarkConfirmed(ctx, tx, head.ID); err != nil {
			return nil, err
		}
		if vacatedPos != nil {
			if err := service.Datastore.CollapseWaitlistAfter(ctx, tx, sessionID, *vacatedPos); err != nil {
				return nil, err
			}
		}

		promoted = append(promoted, PromotedSeat{RegistrationID: head.ID, Seats: head.Seats})
		remaining -= head.Seats
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, seat := range promoted {
		err := service.outbox.AppendTx(ctx, tx, outbox.SessionChannel(sessionID.String()), &Event{
			Type:           EventRegistrationPromoted,
			SessionID:      sessionID.String(),
			RegistrationID: seat.RegistrationID.String(),
			Seats:          seat.Seats,
			TS:             now,
		})
		if err != nil {
			return nil, err
		}
	}

	return promoted, nil
}
