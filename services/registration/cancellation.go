package registration

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	uuid "github.com/satori/go.uuid"

	"github.com/shinminje20/birdie-buddies-backend/libs/datastore"
	errorutils "github.com/shinminje20/birdie-buddies-backend/libs/errors"
	"github.com/shinminje20/birdie-buddies-backend/libs/logging"
	"github.com/shinminje20/birdie-buddies-backend/services/outbox"
	"github.com/shinminje20/birdie-buddies-backend/services/wallet"
)

// Cancel cancels a registration, refunding per the local-timezone policy.
// Canceling the host seat of a split group cascades to every sibling row.
// Totals include any cascaded seats.
func (service *Service) Cancel(ctx context.Context, registrationID, callerID uuid.UUID, callerIsAdmin bool) (*CancelResult, error) {
	logger := logging.Logger(ctx, "registration.Cancel")

	result, err := datastore.RunSerializable(ctx, service.Datastore, func(tx *sqlx.Tx) (interface{}, error) {
		return service.cancelTx(ctx, tx, registrationID, callerID, callerIsAdmin)
	})
	if err != nil {
		return nil, err
	}

	cancelResult := result.(*cancelOutcome)
	if cancelResult.promote {
		if err := service.EnqueuePromotion(ctx, cancelResult.sessionID); err != nil {
			// capacity freed but the trigger was lost, the next pass will catch up
			logger.Warn().Err(err).Str("sessionID", cancelResult.sessionID.String()).Msg("failed to enqueue promotion")
		}
	}
	return &cancelResult.CancelResult, nil
}

type cancelOutcome struct {
	CancelResult
	sessionID uuid.UUID
	promote   bool
}

func (service *Service) cancelTx(ctx context.Context, tx *sqlx.Tx, registrationID, callerID uuid.UUID, callerIsAdmin bool) (*cancelOutcome, error) {
	reg, err := service.Datastore.LockRegistration(ctx, tx, registrationID)
	if err != nil {
		return nil, err
	}
	sess, err := service.Datastore.LockSession(ctx, tx, reg.SessionID)
	if err != nil {
		return nil, err
	}

	if reg.State == StateCanceled {
		return &cancelOutcome{CancelResult: CancelResult{State: string(StateCanceled)}}, nil
	}

	now := time.Now().UTC()
	if !now.Before(sess.StartsAt) {
		return nil, errorutils.New(errorutils.ErrTooLate, "cannot cancel after session start", nil)
	}

	if !callerIsAdmin && reg.HostUserID != callerID {
		return nil, errorutils.New(errorutils.ErrForbidden, "only the host or an admin may cancel", nil)
	}

	outcome := &cancelOutcome{
		CancelResult: CancelResult{State: string(StateCanceled)},
		sessionID:    sess.ID,
	}

	cancelOne := func(target *Registration) error {
		fee := int64(target.Seats) * sess.FeeCents

		switch target.State {
		case StateWaitlisted:
			if fee != 0 {
				_, err := service.wallet.ApplyTx(ctx, tx, wallet.ApplyRequest{
					UserID:         target.HostUserID,
					Kind:           wallet.KindHoldRelease,
					AmountCents:    -fee,
					SessionID:      &sess.ID,
					RegistrationID: &target.ID,
					IdempotencyKey: "rel_cancel:" + target.ID.String(),
				})
				if err != nil {
					return err
				}
			}
			vacatedPos := target.WaitlistPos
			if err := service.Datastore.MarkCanceled(ctx, tx, target.ID, now); err != nil {
				return err
			}
			if vacatedPos != nil {
				if err := service.Datastore.CollapseWaitlistAfter(ctx, tx, sess.ID, *vacatedPos); err != nil {
					return err
				}
			}

		case StateConfirmed:
			refund, penalty, err := ComputeRefundPolicy(now, sess.StartsAt, sess.Timezone, fee)
			if err != nil {
				return err
			}
			if refund != 0 {
				_, err := service.wallet.ApplyTx(ctx, tx, wallet.ApplyRequest{
					UserID:         target.HostUserID,
					Kind:           wallet.KindRefund,
					AmountCents:    refund,
					SessionID:      &sess.ID,
					RegistrationID: &target.ID,
					IdempotencyKey: "refund_cancel:" + target.ID.String(),
				})
				if err != nil {
					return err
				}
			}
			if penalty != 0 {
				_, err := service.wallet.ApplyTx(ctx, tx, wallet.ApplyRequest{
					UserID:         target.HostUserID,
					Kind:           wallet.KindPenalty,
					AmountCents:    penalty,
					SessionID:      &sess.ID,
					RegistrationID: &target.ID,
					IdempotencyKey: "penalty_cancel:" + target.ID.String(),
				})
				if err != nil {
					return err
				}
			}
			if err := service.Datastore.MarkCanceled(ctx, tx, target.ID, now); err != nil {
				return err
			}
			outcome.RefundCents += refund
			outcome.PenaltyCents += penalty
		}

		return service.outbox.AppendTx(ctx, tx, outbox.SessionChannel(sess.ID.String()), &Event{
			Type:           EventRegistrationCanceled,
			SessionID:      sess.ID.String(),
			RegistrationID: target.ID.String(),
			HostUserID:     target.HostUserID.String(),
			Seats:          target.Seats,
			TS:             now.Format(time.RFC3339Nano),
		})
	}

	// a host-only seat in a split group drags its guests down with it
	cascade := reg.GroupKey != nil && reg.Seats == 1 && len(reg.GuestNames) == 0 && reg.IsHost

	if err := cancelOne(reg); err != nil {
		return nil, err
	}

	if cascade {
		siblings, err := service.Datastore.GroupSiblings(ctx, tx, reg.SessionID, *reg.GroupKey, reg.ID)
		if err != nil {
			return nil, err
		}
		for i := range siblings {
			if err := cancelOne(&siblings[i]); err != nil {
				return nil, err
			}
		}
	}

	// waitlist departures warrant a pass too, positions collapsed beneath a
	// head that may now fit
	outcome.promote = true

	return outcome, nil
}
