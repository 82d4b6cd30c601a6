package registration

import (
	"context"
	"errors"
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

// NormalizeGuestNames strips blanks and caps the list at two guests
func NormalizeGuestNames(names []string) []string {
	normalized := make([]string, 0, MaxGuests)
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		normalized = append(normalized, name)
		if len(normalized) == MaxGuests {
			break
		}
	}
	return normalized
}

// Allocate decides confirm-vs-waitlist for one registration intent inside a
// single serializable transaction. The per-session stream serializes calls
// for a session; correctness relies only on that order plus isolation.
//
// The host seat is never outranked by its own guests: on a partial fit the
// host confirms first and leftover guests queue. When a waitlist already
// exists the entire party queues at the tail so earlier waitlisted seats are
// never passed over.
func (service *Service) Allocate(ctx context.Context, intent *Intent) (*AllocationResult, error) {
	logger := logging.Logger(ctx, "registration.Allocate")

	result, err := datastore.RunSerializable(ctx, service.Datastore, func(tx *sqlx.Tx) (interface{}, error) {
		return service.allocateTx(ctx, tx, intent)
	})
	if err != nil {
		logger.Warn().Err(err).Str("requestID", intent.RequestID).Msg("allocation failed")
		return nil, err
	}
	return result.(*AllocationResult), nil
}

func (service *Service) allocateTx(ctx context.Context, tx *sqlx.Tx, intent *Intent) (*AllocationResult, error) {
	rejected := &AllocationResult{State: RequestRejected}

	sess, err := service.Datastore.LockSession(ctx, tx, intent.SessionID)
	if err != nil {
		if errors.Is(err, errorutils.ErrNotFound) {
			return rejected, nil
		}
		return nil, err
	}
	now := time.Now().UTC()
	if sess.Status != "scheduled" || !now.Before(sess.StartsAt) {
		return rejected, nil
	}

	hostExists, err := service.Datastore.ActiveHostExists(ctx, tx, intent.SessionID, intent.UserID)
	if err != nil {
		return nil, err
	}
	if hostExists {
		return rejected, nil
	}

	// server-authoritative seat count, the client's seats field is only a hint
	guestNames := NormalizeGuestNames(intent.GuestNames)
	totalSeats := 1 + len(guestNames)

	required := sess.FeeCents * int64(totalSeats)
	if err := service.wallet.RequireAvailable(ctx, tx, intent.UserID, required); err != nil {
		if errors.Is(err, errorutils.ErrInsufficientFunds) {
			return rejected, nil
		}
		return nil, err
	}

	confirmed, err := service.Datastore.ConfirmedSeats(ctx, tx, intent.SessionID)
	if err != nil {
		return nil, err
	}
	remaining := sess.Capacity - confirmed
	if remaining < 0 {
		remaining = 0
	}

	waitlistExists, err := service.Datastore.WaitlistExists(ctx, tx, intent.SessionID)
	if err != nil {
		return nil, err
	}
	// fairness: a party never jumps seats that are already queued
	if waitlistExists {
		remaining = 0
	}

	var groupKey *uuid.UUID
	if totalSeats > 1 || remaining == 0 {
		key := uuid.NewV4()
		groupKey = &key
	}

	switch {
	case remaining >= totalSeats:
		return service.allocateAllConfirmed(ctx, tx, sess, intent, guestNames, groupKey)
	case remaining == 0:
		return service.allocateAllWaitlisted(ctx, tx, sess, intent, guestNames, groupKey)
	default:
		return service.allocatePartial(ctx, tx, sess, intent, guestNames, groupKey, remaining)
	}
}

func (service *Service) insertSeat(ctx context.Context, tx *sqlx.Tx, sess *SessionRow, intent *Intent, groupKey *uuid.UUID, isHost bool, state State, guestNames []string, pos *int) (*Registration, error) {
	reg, err := service.Datastore.InsertRegistration(ctx, tx, &Registration{
		SessionID:   sess.ID,
		HostUserID:  intent.UserID,
		GroupKey:    groupKey,
		IsHost:      isHost,
		Seats:       1,
		GuestNames:  guestNames,
		State:       state,
		WaitlistPos: pos,
	})
	if err != nil {
		return nil, err
	}

	switch state {
	case StateConfirmed:
		if sess.FeeCents != 0 {
			_, err = service.wallet.ApplyTx(ctx, tx, wallet.ApplyRequest{
				UserID:         intent.UserID,
				Kind:           wallet.KindFeeCapture,
				AmountCents:    -sess.FeeCents,
				SessionID:      &sess.ID,
				RegistrationID: &reg.ID,
				IdempotencyKey: intent.KeyPrefix + "cap:" + reg.ID.String(),
			})
			if err != nil {
				return nil, err
			}
		}
		err = service.outbox.AppendTx(ctx, tx, outbox.SessionChannel(sess.ID.String()), &Event{
			Type:           EventRegistrationConfirmed,
			SessionID:      sess.ID.String(),
			RegistrationID: reg.ID.String(),
			Seats:          1,
		})
	case StateWaitlisted:
		if sess.FeeCents != 0 {
			_, err = service.wallet.ApplyTx(ctx, tx, wallet.ApplyRequest{
				UserID:         intent.UserID,
				Kind:           wallet.KindHold,
				AmountCents:    sess.FeeCents,
				SessionID:      &sess.ID,
				RegistrationID: &reg.ID,
				IdempotencyKey: intent.KeyPrefix + "hold:" + reg.ID.String(),
			})
			if err != nil {
				return nil, err
			}
		}
		event := &Event{
			Type:           EventRegistrationWaitlisted,
			SessionID:      sess.ID.String(),
			RegistrationID: reg.ID.String(),
			Seats:          1,
		}
		if pos != nil {
			event.WaitlistPos = *pos
		}
		err = service.outbox.AppendTx(ctx, tx, outbox.SessionChannel(sess.ID.String()), event)
	}
	if err != nil {
		return nil, err
	}
	return reg, nil
}

func (service *Service) allocateAllConfirmed(ctx context.Context, tx *sqlx.Tx, sess *SessionRow, intent *Intent, guestNames []string, groupKey *uuid.UUID) (*AllocationResult, error) {
	hostReg, err := service.insertSeat(ctx, tx, sess, intent, groupKey, true, StateConfirmed, nil, nil)
	if err != nil {
		return nil, err
	}
	for _, name := range guestNames {
		if _, err := service.insertSeat(ctx, tx, sess, intent, groupKey, false, StateConfirmed, []string{name}, nil); err != nil {
			return nil, err
		}
	}
	return &AllocationResult{State: RequestConfirmed, RegistrationID: &hostReg.ID}, nil
}

func (service *Service) allocateAllWaitlisted(ctx context.Context, tx *sqlx.Tx, sess *SessionRow, intent *Intent, guestNames []string, groupKey *uuid.UUID) (*AllocationResult, error) {
	pos, err := service.Datastore.NextWaitlistPos(ctx, tx, sess.ID)
	if err != nil {
		return nil, err
	}

	hostPos := pos
	hostReg, err := service.insertSeat(ctx, tx, sess, intent, groupKey, true, StateWaitlisted, nil, &hostPos)
	if err != nil {
		return nil, err
	}
	for i, name := range guestNames {
		guestPos := pos + 1 + i
		if _, err := service.insertSeat(ctx, tx, sess, intent, groupKey, false, StateWaitlisted, []string{name}, &guestPos); err != nil {
			return nil, err
		}
	}
	return &AllocationResult{State: RequestWaitlisted, RegistrationID: &hostReg.ID, WaitlistPos: &hostPos}, nil
}

func (service *Service) allocatePartial(ctx context.Context, tx *sqlx.Tx, sess *SessionRow, intent *Intent, guestNames []string, groupKey *uuid.UUID, remaining int) (*AllocationResult, error) {
	hostReg, err := service.insertSeat(ctx, tx, sess, intent, groupKey, true, StateConfirmed, nil, nil)
	if err != nil {
		return nil, err
	}
	left := remaining - 1

	confirmedGuests := 0
	for _, name := range guestNames {
		if left <= 0 {
			break
		}
		if _, err := service.insertSeat(ctx, tx, sess, intent, groupKey, false, StateConfirmed, []string{name}, nil); err != nil {
			return nil, err
		}
		left--
		confirmedGuests++
	}

	overflow := guestNames[confirmedGuests:]
	if len(overflow) > 0 {
		pos, err := service.Datastore.NextWaitlistPos(ctx, tx, sess.ID)
		if err != nil {
			return nil, err
		}
		for i, name := range overflow {
			guestPos := pos + i
			if _, err := service.insertSeat(ctx, tx, sess, intent, groupKey, false, StateWaitlisted, []string{name}, &guestPos); err != nil {
				return nil, err
			}
		}
	}

	return &AllocationResult{State: RequestConfirmed, RegistrationID: &hostReg.ID}, nil
}

// PreRegister allocates one admin-supplied pre-registration inside the
// caller's transaction, typically during session create. The item's
// idempotency key namespaces the ledger entries of its rows.
func (service *Service) PreRegister(ctx context.Context, tx *sqlx.Tx, sessionID uuid.UUID, item PreRegItem) (*AllocationResult, error) {
	key := strings.TrimSpace(item.IdempotencyKey)
	if len(key) < 6 || len(key) > 120 {
		return nil, errorutils.New(errorutils.ErrValidation, "idempotency key must be 6 to 120 characters", nil)
	}
	normalized := NormalizeGuestNames(item.GuestNames)
	if item.Seats != 1+len(normalized) {
		return nil, errorutils.New(errorutils.ErrValidation, "seats do not match guest names", nil)
	}
	return service.allocateTx(ctx, tx, &Intent{
		SessionID:  sessionID,
		UserID:     item.UserID,
		Seats:      item.Seats,
		GuestNames: normalized,
		KeyPrefix:  key + ":",
		TS:         time.Now().UTC(),
	})
}
