package registration

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	uuid "github.com/satori/go.uuid"

	"github.com/shinminje20/birdie-buddies-backend/libs/datastore"
	errorutils "github.com/shinminje20/birdie-buddies-backend/libs/errors"
	"github.com/shinminje20/birdie-buddies-backend/libs/logging"
	"github.com/shinminje20/birdie-buddies-backend/services/outbox"
	"github.com/shinminje20/birdie-buddies-backend/services/wallet"
)

// UpdateGuests replaces the guest list of a host's registration group. The
// list may only shrink or keep its size; dropped seats are refunded per the
// cancellation policy for confirmed rows, or release their hold for
// waitlisted rows. Names-only edits move no money.
func (service *Service) UpdateGuests(ctx context.Context, registrationID uuid.UUID, guestNames []string, callerID uuid.UUID, callerIsAdmin bool) (*GuestUpdateResult, error) {
	logger := logging.Logger(ctx, "registration.UpdateGuests")

	result, err := datastore.RunSerializable(ctx, service.Datastore, func(tx *sqlx.Tx) (interface{}, error) {
		return service.updateGuestsTx(ctx, tx, registrationID, guestNames, callerID, callerIsAdmin)
	})
	if err != nil {
		return nil, err
	}

	outcome := result.(*guestUpdateOutcome)
	if outcome.promote {
		if err := service.EnqueuePromotion(ctx, outcome.sessionID); err != nil {
			logger.Warn().Err(err).Str("sessionID", outcome.sessionID.String()).Msg("failed to enqueue promotion")
		}
	}
	return &outcome.GuestUpdateResult, nil
}

type guestUpdateOutcome struct {
	GuestUpdateResult
	sessionID uuid.UUID
	promote   bool
}

func (service *Service) updateGuestsTx(ctx context.Context, tx *sqlx.Tx, registrationID uuid.UUID, guestNames []string, callerID uuid.UUID, callerIsAdmin bool) (*guestUpdateOutcome, error) {
	reg, err := service.Datastore.LockRegistration(ctx, tx, registrationID)
	if err != nil {
		return nil, err
	}
	if !reg.IsHost {
		return nil, errorutils.New(errorutils.ErrValidation, "guests are edited through the host registration", nil)
	}
	sess, err := service.Datastore.LockSession(ctx, tx, reg.SessionID)
	if err != nil {
		return nil, err
	}

	if !callerIsAdmin && reg.HostUserID != callerID {
		return nil, errorutils.New(errorutils.ErrForbidden, "only the host or an admin may edit guests", nil)
	}
	if reg.State == StateCanceled {
		return nil, errorutils.New(errorutils.ErrConflict, "registration is canceled", nil)
	}

	now := time.Now().UTC()
	if !now.Before(sess.StartsAt) {
		return nil, errorutils.New(errorutils.ErrTooLate, "cannot edit guests after session start", nil)
	}

	var guests []Registration
	if reg.GroupKey != nil {
		guests, err = service.Datastore.GroupSiblings(ctx, tx, reg.SessionID, *reg.GroupKey, reg.ID)
		if err != nil {
			return nil, err
		}
	}
	// confirmed seats keep their place, queued seats sort by position
	sort.SliceStable(guests, func(i, j int) bool {
		if (guests[i].State == StateConfirmed) != (guests[j].State == StateConfirmed) {
			return guests[i].State == StateConfirmed
		}
		if guests[i].WaitlistPos != nil && guests[j].WaitlistPos != nil {
			return *guests[i].WaitlistPos < *guests[j].WaitlistPos
		}
		return false
	})

	normalized := NormalizeGuestNames(guestNames)
	if len(normalized) > len(guests) {
		return nil, errorutils.New(errorutils.ErrValidation, "guest list may only shrink", nil)
	}

	outcome := &guestUpdateOutcome{
		GuestUpdateResult: GuestUpdateResult{
			OldSeats: 1 + len(guests),
			NewSeats: 1 + len(normalized),
			State:    string(reg.State),
		},
		sessionID: sess.ID,
	}

	for i, name := range normalized {
		if err := service.Datastore.UpdateGuestList(ctx, tx, guests[i].ID, 1, []string{name}); err != nil {
			return nil, err
		}
	}

	// drop surplus seats most junior first so remaining positions are stable
	surplus := guests[len(normalized):]
	for i := len(surplus) - 1; i >= 0; i-- {
		target := surplus[i]

		switch target.State {
		case StateWaitlisted:
			if sess.FeeCents != 0 {
				_, err := service.wallet.ApplyTx(ctx, tx, wallet.ApplyRequest{
					UserID:         target.HostUserID,
					Kind:           wallet.KindHoldRelease,
					AmountCents:    -sess.FeeCents,
					SessionID:      &sess.ID,
					RegistrationID: &target.ID,
					IdempotencyKey: "gu_release:" + target.ID.String(),
				})
				if err != nil {
					return nil, err
				}
			}
			vacatedPos := target.WaitlistPos
			if err := service.Datastore.MarkCanceled(ctx, tx, target.ID, now); err != nil {
				return nil, err
			}
			if vacatedPos != nil {
				if err := service.Datastore.CollapseWaitlistAfter(ctx, tx, sess.ID, *vacatedPos); err != nil {
					return nil, err
				}
			}

		case StateConfirmed:
			refund, penalty, err := ComputeRefundPolicy(now, sess.StartsAt, sess.Timezone, sess.FeeCents)
			if err != nil {
				return nil, err
			}
			if refund != 0 {
				_, err := service.wallet.ApplyTx(ctx, tx, wallet.ApplyRequest{
					UserID:         target.HostUserID,
					Kind:           wallet.KindRefund,
					AmountCents:    refund,
					SessionID:      &sess.ID,
					RegistrationID: &target.ID,
					IdempotencyKey: "gu_refund:" + target.ID.String(),
				})
				if err != nil {
					return nil, err
				}
			}
			if penalty != 0 {
				_, err := service.wallet.ApplyTx(ctx, tx, wallet.ApplyRequest{
					UserID:         target.HostUserID,
					Kind:           wallet.KindPenalty,
					AmountCents:    penalty,
					SessionID:      &sess.ID,
					RegistrationID: &target.ID,
					IdempotencyKey: "gu_penalty:" + target.ID.String(),
				})
				if err != nil {
					return nil, err
				}
			}
			if err := service.Datastore.MarkCanceled(ctx, tx, target.ID, now); err != nil {
				return nil, err
			}
			outcome.RefundCents += refund
			outcome.PenaltyCents += penalty
			// a confirmed seat was freed, the waitlist may advance
			outcome.promote = true
		}

		err = service.outbox.AppendTx(ctx, tx, outbox.SessionChannel(sess.ID.String()), &Event{
			Type:           EventRegistrationCanceled,
			SessionID:      sess.ID.String(),
			RegistrationID: target.ID.String(),
			HostUserID:     target.HostUserID.String(),
			Seats:          target.Seats,
			TS:             now.Format(time.RFC3339Nano),
		})
		if err != nil {
			return nil, err
		}
	}

	return outcome, nil
}

// AddGuest appends one 1-seat guest row to a host's registration group.
// Fairness rules match the allocator: an existing waitlist always puts the
// new guest at its tail, even if capacity is free.
func (service *Service) AddGuest(ctx context.Context, hostRegistrationID uuid.UUID, guestName string, callerID uuid.UUID, callerIsAdmin bool) (*GuestAddResult, error) {
	name := strings.TrimSpace(guestName)
	if name == "" {
		return nil, errorutils.New(errorutils.ErrValidation, "guest name must not be blank", nil)
	}

	result, err := datastore.RunSerializable(ctx, service.Datastore, func(tx *sqlx.Tx) (interface{}, error) {
		return service.addGuestTx(ctx, tx, hostRegistrationID, name, callerID, callerIsAdmin)
	})
	if err != nil {
		return nil, err
	}
	return result.(*GuestAddResult), nil
}

func (service *Service) addGuestTx(ctx context.Context, tx *sqlx.Tx, hostRegistrationID uuid.UUID, name string, callerID uuid.UUID, callerIsAdmin bool) (*GuestAddResult, error) {
	hostReg, err := service.Datastore.LockRegistration(ctx, tx, hostRegistrationID)
	if err != nil {
		return nil, err
	}
	if !hostReg.IsHost {
		return nil, errorutils.New(errorutils.ErrValidation, "guests are added through the host registration", nil)
	}
	if hostReg.State == StateCanceled {
		return nil, errorutils.New(errorutils.ErrConflict, "registration is canceled", nil)
	}

	sess, err := service.Datastore.LockSession(ctx, tx, hostReg.SessionID)
	if err != nil {
		return nil, err
	}
	if !callerIsAdmin && hostReg.HostUserID != callerID {
		return nil, errorutils.New(errorutils.ErrForbidden, "only the host or an admin may add guests", nil)
	}
	if sess.Status != "scheduled" {
		return nil, errorutils.New(errorutils.ErrConflict, "session is not open for registration", nil)
	}

	now := time.Now().UTC()
	if !now.Before(sess.StartsAt) {
		return nil, errorutils.New(errorutils.ErrTooLate, "cannot add guests after session start", nil)
	}

	groupKey := hostReg.GroupKey
	if groupKey == nil {
		gk := uuid.NewV4()
		if err := service.Datastore.SetGroupKey(ctx, tx, hostReg.ID, gk); err != nil {
			return nil, err
		}
		groupKey = &gk
	}

	activeGuests, err := service.Datastore.ActiveGuestCount(ctx, tx, sess.ID, *groupKey, hostReg.ID)
	if err != nil {
		return nil, err
	}
	if activeGuests >= MaxGuests {
		return nil, errorutils.New(errorutils.ErrGuestLimitExceeded, "maximum 2 guests per host", nil)
	}

	if err := service.wallet.RequireAvailable(ctx, tx, hostReg.HostUserID, sess.FeeCents); err != nil {
		return nil, err
	}

	confirmed, err := service.Datastore.ConfirmedSeats(ctx, tx, sess.ID)
	if err != nil {
		return nil, err
	}
	waitlistExists, err := service.Datastore.WaitlistExists(ctx, tx, sess.ID)
	if err != nil {
		return nil, err
	}

	state := StateConfirmed
	var pos *int
	if waitlistExists || sess.Capacity-confirmed <= 0 {
		state = StateWaitlisted
		next, err := service.Datastore.NextWaitlistPos(ctx, tx, sess.ID)
		if err != nil {
			return nil, err
		}
		pos = &next
	}

	guestReg, err := service.Datastore.InsertRegistration(ctx, tx, &Registration{
		SessionID:   sess.ID,
		HostUserID:  hostReg.HostUserID,
		GroupKey:    groupKey,
		IsHost:      false,
		Seats:       1,
		GuestNames:  []string{name},
		State:       state,
		WaitlistPos: pos,
	})
	if err != nil {
		return nil, err
	}

	event := &Event{
		SessionID:      sess.ID.String(),
		RegistrationID: guestReg.ID.String(),
		HostUserID:     hostReg.HostUserID.String(),
		Seats:          1,
		TS:             now.Format(time.RFC3339Nano),
	}

	switch state {
	case StateConfirmed:
		if sess.FeeCents != 0 {
			_, err = service.wallet.ApplyTx(ctx, tx, wallet.ApplyRequest{
				UserID:         hostReg.HostUserID,
				Kind:           wallet.KindFeeCapture,
				AmountCents:    -sess.FeeCents,
				SessionID:      &sess.ID,
				RegistrationID: &guestReg.ID,
				IdempotencyKey: "cap:addguest:" + guestReg.ID.String(),
			})
		}
		event.Type = EventRegistrationConfirmed
	case StateWaitlisted:
		if sess.FeeCents != 0 {
			_, err = service.wallet.ApplyTx(ctx, tx, wallet.ApplyRequest{
				UserID:         hostReg.HostUserID,
				Kind:           wallet.KindHold,
				AmountCents:    sess.FeeCents,
				SessionID:      &sess.ID,
				RegistrationID: &guestReg.ID,
				IdempotencyKey: "hold:addguest:" + guestReg.ID.String(),
			})
		}
		event.Type = EventRegistrationWaitlisted
		event.WaitlistPos = *pos
	}
	if err != nil {
		return nil, err
	}

	if err := service.outbox.AppendTx(ctx, tx, outbox.SessionChannel(sess.ID.String()), event); err != nil {
		return nil, err
	}

	return &GuestAddResult{
		RegistrationID: guestReg.ID,
		State:          string(state),
		WaitlistPos:    pos,
	}, nil
}
