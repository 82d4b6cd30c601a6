package session

import (
	"context"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	redis "github.com/redis/go-redis/v9"
	uuid "github.com/satori/go.uuid"

	"github.com/shinminje20/birdie-buddies-backend/libs/datastore"
	errorutils "github.com/shinminje20/birdie-buddies-backend/libs/errors"
	"github.com/shinminje20/birdie-buddies-backend/libs/logging"
	"github.com/shinminje20/birdie-buddies-backend/services/outbox"
	"github.com/shinminje20/birdie-buddies-backend/services/registration"
	"github.com/shinminje20/birdie-buddies-backend/services/wallet"
)

var countSessionsClosed = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "sessions_auto_closed_total",
		Help: "count of sessions closed by the auto closer ( since last start )",
	},
)

func init() {
	prometheus.MustRegister(countSessionsClosed)
}

// Config carries the auto-closer tunables, loaded once at process start
type Config struct {
	// AutoCloseGrace is how long past starts_at a session may stay scheduled
	AutoCloseGrace time.Duration
	// AutoCloseInterval is the closer's scan period
	AutoCloseInterval time.Duration
	// AutoCloseBatch bounds sessions closed per scan
	AutoCloseBatch int
	// CloserLockTTL is the cooperative lock's expiry
	CloserLockTTL time.Duration
}

// DefaultConfig returns the stock tunables
func DefaultConfig() Config {
	return Config{
		AutoCloseGrace:    2 * time.Hour,
		AutoCloseInterval: 30 * time.Second,
		AutoCloseBatch:    200,
		CloserLockTTL:     25 * time.Second,
	}
}

// Service ties the session datastore to the wallet, outbox and registration
// collaborators
type Service struct {
	Datastore     Datastore
	RedisClient   *redis.Client
	wallet        *wallet.Service
	outbox        *outbox.Service
	registrations *registration.Service
	cfg           Config
}

// InitService creates a session service
func InitService(datastore Datastore, redisClient *redis.Client, walletService *wallet.Service, outboxService *outbox.Service, registrationService *registration.Service, cfg Config) (*Service, error) {
	if cfg.AutoCloseGrace == 0 {
		cfg = DefaultConfig()
	}
	return &Service{
		Datastore:     datastore,
		RedisClient:   redisClient,
		wallet:        walletService,
		outbox:        outboxService,
		registrations: registrationService,
		cfg:           cfg,
	}, nil
}

// ActorLookup resolves the x-actor-id header against the users table
func (service *Service) ActorLookup(ctx context.Context, actorID uuid.UUID) (bool, error) {
	return service.Datastore.ActorAdmin(ctx, actorID)
}

// CreateRequest is an admin session create, optionally seeding registrations
type CreateRequest struct {
	Title            *string                   `json:"title"`
	StartsAt         time.Time                 `json:"startsAt"`
	Timezone         string                    `json:"timezone"`
	Capacity         int                       `json:"capacity"`
	FeeCents         int64                     `json:"feeCents"`
	PreRegistrations []registration.PreRegItem `json:"preRegistrations"`
}

// PreRegResult reports the outcome of one seeded registration
type PreRegResult struct {
	UserID         uuid.UUID  `json:"userId"`
	State          string     `json:"state"`
	RegistrationID *uuid.UUID `json:"registrationId,omitempty"`
	WaitlistPos    *int       `json:"waitlistPos,omitempty"`
	Error          string     `json:"error,omitempty"`
}

// CreateResult is the created session plus per-item seeding outcomes
type CreateResult struct {
	Session          *Session       `json:"session"`
	PreRegistrations []PreRegResult `json:"preRegistrations,omitempty"`
}

// Create inserts a scheduled session and allocates any pre-registrations in
// the same transaction. Items the allocator refuses come back rejected, they
// do not fail the create.
func (service *Service) Create(ctx context.Context, req *CreateRequest) (*CreateResult, error) {
	if _, err := time.LoadLocation(req.Timezone); err != nil {
		return nil, errorutils.New(errorutils.ErrValidation, "invalid iana timezone", nil)
	}
	if req.StartsAt.IsZero() {
		return nil, errorutils.New(errorutils.ErrValidation, "startsAt is required", nil)
	}
	if req.Capacity < 0 || req.FeeCents < 0 {
		return nil, errorutils.New(errorutils.ErrValidation, "capacity and feeCents must be non-negative", nil)
	}

	result, err := datastore.RunSerializable(ctx, service.Datastore, func(tx *sqlx.Tx) (interface{}, error) {
		created, err := service.Datastore.InsertSession(ctx, tx, &Session{
			Title:    req.Title,
			StartsAt: req.StartsAt.UTC(),
			Timezone: req.Timezone,
			Capacity: req.Capacity,
			FeeCents: req.FeeCents,
		})
		if err != nil {
			return nil, err
		}

		createResult := &CreateResult{Session: created}
		for _, item := range req.PreRegistrations {
			itemResult := PreRegResult{UserID: item.UserID}
			allocation, err := service.registrations.PreRegister(ctx, tx, created.ID, item)
			if err != nil {
				if !errors.Is(err, errorutils.ErrValidation) {
					return nil, err
				}
				itemResult.State = string(registration.RequestRejected)
				itemResult.Error = err.Error()
			} else {
				itemResult.State = string(allocation.State)
				itemResult.RegistrationID = allocation.RegistrationID
				itemResult.WaitlistPos = allocation.WaitlistPos
			}
			createResult.PreRegistrations = append(createResult.PreRegistrations, itemResult)
		}
		return createResult, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*CreateResult), nil
}

// Get returns a session with its seat statistics
func (service *Service) Get(ctx context.Context, sessionID uuid.UUID) (*Summary, error) {
	return service.Datastore.GetSummary(ctx, sessionID)
}

// List returns all sessions with seat statistics, soonest first
func (service *Service) List(ctx context.Context) ([]Summary, error) {
	return service.Datastore.ListSummaries(ctx)
}

// UpdateRequest patches capacity and/or status
type UpdateRequest struct {
	Capacity *int    `json:"capacity"`
	Status   *string `json:"status"`
}

type updateOutcome struct {
	promote bool
}

// Update applies an admin capacity/status patch with its lifecycle side
// effects, then returns the fresh summary. A capacity increase while
// scheduled triggers a promotion pass after commit.
func (service *Service) Update(ctx context.Context, sessionID uuid.UUID, req *UpdateRequest) (*Summary, error) {
	logger := logging.Logger(ctx, "session.Update")

	result, err := datastore.RunSerializable(ctx, service.Datastore, func(tx *sqlx.Tx) (interface{}, error) {
		return service.updateTx(ctx, tx, sessionID, req)
	})
	if err != nil {
		return nil, err
	}

	if result.(*updateOutcome).promote {
		if err := service.registrations.EnqueuePromotion(ctx, sessionID); err != nil {
			logger.Warn().Err(err).Str("sessionID", sessionID.String()).Msg("failed to enqueue promotion")
		}
	}
	return service.Datastore.GetSummary(ctx, sessionID)
}

func (service *Service) updateTx(ctx context.Context, tx *sqlx.Tx, sessionID uuid.UUID, req *UpdateRequest) (*updateOutcome, error) {
	sess, err := service.Datastore.LockSession(ctx, tx, sessionID)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	outcome := &updateOutcome{}

	if req.Status != nil {
		to := Status(*req.Status)
		switch to {
		case StatusScheduled, StatusClosed, StatusCanceled:
		default:
			return nil, errorutils.New(errorutils.ErrValidation, "unknown session status", nil)
		}
		if to != sess.Status {
			if !TransitionAllowed(sess.Status, to) {
				return nil, errorutils.New(errorutils.ErrInvalidTransition, "cannot move session from "+string(sess.Status)+" to "+string(to), nil)
			}
			switch to {
			case StatusCanceled:
				if err := service.cancelAllTx(ctx, tx, sess, now); err != nil {
					return nil, err
				}
			case StatusClosed:
				if err := service.releaseWaitlistTx(ctx, tx, sess, now); err != nil {
					return nil, err
				}
			}
			if err := service.Datastore.UpdateStatus(ctx, tx, sess.ID, to); err != nil {
				return nil, err
			}
			eventType := EventSessionStatusChanged
			if to == StatusCanceled {
				eventType = EventSessionCanceled
			}
			err = service.outbox.AppendTx(ctx, tx, outbox.SessionChannel(sess.ID.String()), &Event{
				Type:      eventType,
				SessionID: sess.ID.String(),
				Status:    string(to),
				TS:        now.Format(time.RFC3339Nano),
			})
			if err != nil {
				return nil, err
			}
			sess.Status = to
		}
	}

	if req.Capacity != nil {
		if sess.Status != StatusScheduled {
			return nil, errorutils.New(errorutils.ErrConflict, "capacity can only change while the session is scheduled", nil)
		}
		if *req.Capacity < 0 {
			return nil, errorutils.New(errorutils.ErrValidation, "capacity must be non-negative", nil)
		}
		confirmed, err := service.Datastore.ConfirmedSeats(ctx, tx, sess.ID)
		if err != nil {
			return nil, err
		}
		if *req.Capacity < confirmed {
			return nil, errorutils.New(errorutils.ErrCapacityBelowConfirmed, "capacity cannot drop below confirmed seats", nil)
		}
		if err := service.Datastore.UpdateCapacity(ctx, tx, sess.ID, *req.Capacity); err != nil {
			return nil, err
		}
		err = service.outbox.AppendTx(ctx, tx, outbox.SessionChannel(sess.ID.String()), &Event{
			Type:      EventSessionCapacityChanged,
			SessionID: sess.ID.String(),
			Capacity:  *req.Capacity,
			TS:        now.Format(time.RFC3339Nano),
		})
		if err != nil {
			return nil, err
		}
		if *req.Capacity > sess.Capacity {
			outcome.promote = true
		}
	}

	return outcome, nil
}

// cancelAllTx refunds confirmed seats in full, releases waitlist holds, and
// cancels every active row
func (service *Service) cancelAllTx(ctx context.Context, tx *sqlx.Tx, sess *Session, now time.Time) error {
	regs, err := service.Datastore.ActiveRegistrations(ctx, tx, sess.ID)
	if err != nil {
		return err
	}
	ids := make([]uuid.UUID, 0, len(regs))
	for i := range regs {
		reg := &regs[i]
		fee := int64(reg.Seats) * sess.FeeCents
		switch reg.State {
		case registration.StateConfirmed:
			if fee != 0 {
				_, err = service.wallet.ApplyTx(ctx, tx, wallet.ApplyRequest{
					UserID:         reg.HostUserID,
					Kind:           wallet.KindRefund,
					AmountCents:    fee,
					SessionID:      &sess.ID,
					RegistrationID: &reg.ID,
					IdempotencyKey: "refund_sess_cancel:" + reg.ID.String(),
				})
			}
		case registration.StateWaitlisted:
			if fee != 0 {
				_, err = service.wallet.ApplyTx(ctx, tx, wallet.ApplyRequest{
					UserID:         reg.HostUserID,
					Kind:           wallet.KindHoldRelease,
					AmountCents:    -fee,
					SessionID:      &sess.ID,
					RegistrationID: &reg.ID,
					IdempotencyKey: "rel_sess_cancel:" + reg.ID.String(),
				})
			}
		}
		if err != nil {
			return err
		}
		ids = append(ids, reg.ID)
	}
	return service.Datastore.CancelRegistrations(ctx, tx, ids, now)
}

// releaseWaitlistTx releases every waitlist hold and cancels those rows.
// Confirmed rows stand, their fees are already captured.
func (service *Service) releaseWaitlistTx(ctx context.Context, tx *sqlx.Tx, sess *Session, now time.Time) error {
	regs, err := service.Datastore.WaitlistedRegistrations(ctx, tx, sess.ID)
	if err != nil {
		return err
	}
	ids := make([]uuid.UUID, 0, len(regs))
	for i := range regs {
		reg := &regs[i]
		fee := int64(reg.Seats) * sess.FeeCents
		if fee != 0 {
			_, err = service.wallet.ApplyTx(ctx, tx, wallet.ApplyRequest{
				UserID:         reg.HostUserID,
				Kind:           wallet.KindHoldRelease,
				AmountCents:    -fee,
				SessionID:      &sess.ID,
				RegistrationID: &reg.ID,
				IdempotencyKey: "rel_close:" + reg.ID.String(),
			})
			if err != nil {
				return err
			}
		}
		ids = append(ids, reg.ID)
	}
	return service.Datastore.CancelRegistrations(ctx, tx, ids, now)
}
