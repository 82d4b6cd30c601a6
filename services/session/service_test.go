//go:build integration

package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	uuid "github.com/satori/go.uuid"
	"github.com/stretchr/testify/suite"

	errorutils "github.com/shinminje20/birdie-buddies-backend/libs/errors"
	"github.com/shinminje20/birdie-buddies-backend/libs/test"
	"github.com/shinminje20/birdie-buddies-backend/services/outbox"
	"github.com/shinminje20/birdie-buddies-backend/services/registration"
	"github.com/shinminje20/birdie-buddies-backend/services/wallet"
)

type SessionTestSuite struct {
	suite.Suite
	storage       Datastore
	wallets       *wallet.Service
	registrations *registration.Service
	service       *Service
	mr            *miniredis.Miniredis
}

func TestSessionTestSuite(t *testing.T) {
	suite.Run(t, new(SessionTestSuite))
}

func (suite *SessionTestSuite) SetupSuite() {
	storage, err := NewPostgres("", true)
	suite.Require().NoError(err)
	suite.storage = storage

	walletPG, err := wallet.NewPostgres("", false)
	suite.Require().NoError(err)
	outboxPG, err := outbox.NewPostgres("", false)
	suite.Require().NoError(err)
	registrationPG, err := registration.NewPostgres("", false)
	suite.Require().NoError(err)

	suite.mr, err = miniredis.Run()
	suite.Require().NoError(err)
	client := redis.NewClient(&redis.Options{Addr: suite.mr.Addr()})

	suite.wallets, err = wallet.InitService(walletPG)
	suite.Require().NoError(err)
	outboxService, err := outbox.InitService(outboxPG, client)
	suite.Require().NoError(err)
	suite.registrations, err = registration.InitService(registrationPG, client, suite.wallets, outboxService, registration.DefaultConfig())
	suite.Require().NoError(err)

	suite.service, err = InitService(storage, client, suite.wallets, outboxService, suite.registrations, DefaultConfig())
	suite.Require().NoError(err)
}

func (suite *SessionTestSuite) TearDownSuite() {
	suite.mr.Close()
}

func (suite *SessionTestSuite) SetupTest() {
	_, err := suite.storage.RawDB().Exec(
		`truncate table ledger_entries, events_outbox, registrations, wallets, sessions, users`)
	suite.Require().NoError(err)
	suite.mr.FlushAll()
}

func (suite *SessionTestSuite) createUser(balanceCents int64, isAdmin bool) uuid.UUID {
	var id uuid.UUID
	err := suite.storage.RawDB().Get(&id,
		`insert into users (name, email, is_admin) values ($1, $2, $3) returning id`,
		test.RandomString(), test.RandomEmail(), isAdmin)
	suite.Require().NoError(err)
	if balanceCents > 0 {
		_, err = suite.wallets.Deposit(context.Background(), id, balanceCents, "seed:"+uuid.NewV4().String())
		suite.Require().NoError(err)
	}
	return id
}

func (suite *SessionTestSuite) createRequest(capacity int, feeCents int64) *CreateRequest {
	return &CreateRequest{
		StartsAt: time.Now().Add(48 * time.Hour),
		Timezone: "America/Vancouver",
		Capacity: capacity,
		FeeCents: feeCents,
	}
}

func (suite *SessionTestSuite) register(sessionID, userID uuid.UUID, guests ...string) *registration.AllocationResult {
	result, err := suite.registrations.Allocate(context.Background(), &registration.Intent{
		RequestID:      uuid.NewV4().String(),
		SessionID:      sessionID,
		UserID:         userID,
		Seats:          1 + len(guests),
		GuestNames:     guests,
		IdempotencyKey: test.RandomStringWithLen(12),
		TS:             time.Now().UTC(),
	})
	suite.Require().NoError(err)
	return result
}

func (suite *SessionTestSuite) walletOf(userID uuid.UUID) *wallet.Wallet {
	w, err := suite.wallets.GetWallet(context.Background(), userID)
	suite.Require().NoError(err)
	return w
}

func (suite *SessionTestSuite) TestCreateWithPreRegistrations() {
	ctx := context.Background()
	member := suite.createUser(2000, false)
	broke := suite.createUser(0, false)

	req := suite.createRequest(4, 900)
	req.PreRegistrations = []registration.PreRegItem{
		{UserID: member, Seats: 1, IdempotencyKey: "seed-member-1"},
		{UserID: broke, Seats: 5, IdempotencyKey: "seed-broke-1"},
	}

	result, err := suite.service.Create(ctx, req)
	suite.Require().NoError(err)
	suite.Equal(StatusScheduled, result.Session.Status)
	suite.Require().Len(result.PreRegistrations, 2)

	suite.Equal(string(registration.RequestConfirmed), result.PreRegistrations[0].State)
	suite.NotNil(result.PreRegistrations[0].RegistrationID)

	// bad items come back rejected without failing the create
	suite.Equal(string(registration.RequestRejected), result.PreRegistrations[1].State)
	suite.NotEmpty(result.PreRegistrations[1].Error)

	summary, err := suite.service.Get(ctx, result.Session.ID)
	suite.Require().NoError(err)
	suite.Equal(1, summary.ConfirmedSeats)
}

func (suite *SessionTestSuite) TestCreateValidatesTimezone() {
	req := suite.createRequest(4, 900)
	req.Timezone = "Not/AZone"
	_, err := suite.service.Create(context.Background(), req)
	suite.Require().ErrorIs(err, errorutils.ErrValidation)
}

func (suite *SessionTestSuite) TestCapacityCannotDropBelowConfirmed() {
	ctx := context.Background()
	member := suite.createUser(5000, false)

	created, err := suite.service.Create(ctx, suite.createRequest(4, 900))
	suite.Require().NoError(err)
	suite.register(created.Session.ID, member, "amy")

	two := 1
	_, err = suite.service.Update(ctx, created.Session.ID, &UpdateRequest{Capacity: &two})
	suite.Require().ErrorIs(err, errorutils.ErrCapacityBelowConfirmed)
}

func (suite *SessionTestSuite) TestCapacityIncreaseEnqueuesPromotion() {
	ctx := context.Background()
	first := suite.createUser(2000, false)
	second := suite.createUser(2000, false)

	created, err := suite.service.Create(ctx, suite.createRequest(1, 900))
	suite.Require().NoError(err)
	suite.register(created.Session.ID, first)
	waitlisted := suite.register(created.Session.ID, second)
	suite.Require().NotNil(waitlisted.WaitlistPos)

	four := 4
	summary, err := suite.service.Update(ctx, created.Session.ID, &UpdateRequest{Capacity: &four})
	suite.Require().NoError(err)
	suite.Equal(4, summary.Capacity)

	// the trigger landed on the promotion stream for the worker
	suite.True(suite.mr.Exists(registration.PromoteStreamKey(created.Session.ID)))
}

func (suite *SessionTestSuite) TestInvalidTransitionRejected() {
	ctx := context.Background()
	created, err := suite.service.Create(ctx, suite.createRequest(4, 900))
	suite.Require().NoError(err)

	canceled := string(StatusCanceled)
	_, err = suite.service.Update(ctx, created.Session.ID, &UpdateRequest{Status: &canceled})
	suite.Require().NoError(err)

	scheduled := string(StatusScheduled)
	_, err = suite.service.Update(ctx, created.Session.ID, &UpdateRequest{Status: &scheduled})
	suite.Require().ErrorIs(err, errorutils.ErrInvalidTransition)
}

func (suite *SessionTestSuite) TestCancelSessionRefundsEveryone() {
	ctx := context.Background()
	confirmedUser := suite.createUser(2000, false)
	waitlistedUser := suite.createUser(2000, false)

	created, err := suite.service.Create(ctx, suite.createRequest(1, 900))
	suite.Require().NoError(err)
	suite.register(created.Session.ID, confirmedUser)
	suite.register(created.Session.ID, waitlistedUser)

	canceled := string(StatusCanceled)
	summary, err := suite.service.Update(ctx, created.Session.ID, &UpdateRequest{Status: &canceled})
	suite.Require().NoError(err)
	suite.Equal(StatusCanceled, summary.Status)
	suite.Equal(0, summary.ConfirmedSeats)
	suite.Equal(0, summary.WaitlistedSeats)

	// full refund regardless of timing, holds released
	w := suite.walletOf(confirmedUser)
	suite.Equal(int64(2000), w.PostedCents)
	w = suite.walletOf(waitlistedUser)
	suite.Equal(int64(2000), w.PostedCents)
	suite.Equal(int64(0), w.HoldsCents)
}

func (suite *SessionTestSuite) TestCloseSessionReleasesWaitlistOnly() {
	ctx := context.Background()
	confirmedUser := suite.createUser(2000, false)
	waitlistedUser := suite.createUser(2000, false)

	created, err := suite.service.Create(ctx, suite.createRequest(1, 900))
	suite.Require().NoError(err)
	suite.register(created.Session.ID, confirmedUser)
	suite.register(created.Session.ID, waitlistedUser)

	closed := string(StatusClosed)
	summary, err := suite.service.Update(ctx, created.Session.ID, &UpdateRequest{Status: &closed})
	suite.Require().NoError(err)
	suite.Equal(StatusClosed, summary.Status)
	suite.Equal(1, summary.ConfirmedSeats)
	suite.Equal(0, summary.WaitlistedSeats)

	// confirmed fee stays captured, the queued hold releases
	suite.Equal(int64(1100), suite.walletOf(confirmedUser).PostedCents)
	w := suite.walletOf(waitlistedUser)
	suite.Equal(int64(2000), w.PostedCents)
	suite.Equal(int64(0), w.HoldsCents)
}

func (suite *SessionTestSuite) TestActorLookup() {
	admin := suite.createUser(0, true)
	member := suite.createUser(0, false)

	isAdmin, err := suite.service.ActorLookup(context.Background(), admin)
	suite.Require().NoError(err)
	suite.True(isAdmin)

	isAdmin, err = suite.service.ActorLookup(context.Background(), member)
	suite.Require().NoError(err)
	suite.False(isAdmin)

	_, err = suite.service.ActorLookup(context.Background(), uuid.NewV4())
	suite.Require().ErrorIs(err, errorutils.ErrNotAuthenticated)
}

func (suite *SessionTestSuite) TestCloseStaleClosesPastGrace() {
	ctx := context.Background()
	created, err := suite.service.Create(ctx, suite.createRequest(4, 900))
	suite.Require().NoError(err)

	// push the session past the grace window
	_, err = suite.storage.RawDB().Exec(
		`update sessions set starts_at = $1 where id = $2`,
		time.Now().Add(-3*time.Hour), created.Session.ID)
	suite.Require().NoError(err)

	closed, err := suite.service.CloseStale(ctx)
	suite.Require().NoError(err)
	suite.Equal(1, closed)

	summary, err := suite.service.Get(ctx, created.Session.ID)
	suite.Require().NoError(err)
	suite.Equal(StatusClosed, summary.Status)

	// a second pass finds nothing
	closed, err = suite.service.CloseStale(ctx)
	suite.Require().NoError(err)
	suite.Equal(0, closed)
}
