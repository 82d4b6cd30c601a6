//go:build integration

package registration

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	uuid "github.com/satori/go.uuid"
	"github.com/stretchr/testify/suite"

	"github.com/shinminje20/birdie-buddies-backend/libs/test"
	"github.com/shinminje20/birdie-buddies-backend/services/outbox"
	"github.com/shinminje20/birdie-buddies-backend/services/wallet"
)

type RegistrationTestSuite struct {
	suite.Suite
	storage Datastore
	wallets *wallet.Service
	service *Service
	mr      *miniredis.Miniredis
}

func TestRegistrationTestSuite(t *testing.T) {
	suite.Run(t, new(RegistrationTestSuite))
}

func (suite *RegistrationTestSuite) SetupSuite() {
	storage, err := NewPostgres("", true)
	suite.Require().NoError(err)
	suite.storage = storage

	walletPG, err := wallet.NewPostgres("", false)
	suite.Require().NoError(err)
	outboxPG, err := outbox.NewPostgres("", false)
	suite.Require().NoError(err)

	suite.mr, err = miniredis.Run()
	suite.Require().NoError(err)
	client := redis.NewClient(&redis.Options{Addr: suite.mr.Addr()})

	suite.wallets, err = wallet.InitService(walletPG)
	suite.Require().NoError(err)
	outboxService, err := outbox.InitService(outboxPG, client)
	suite.Require().NoError(err)

	suite.service, err = InitService(storage, client, suite.wallets, outboxService, DefaultConfig())
	suite.Require().NoError(err)
}

func (suite *RegistrationTestSuite) TearDownSuite() {
	suite.mr.Close()
}

func (suite *RegistrationTestSuite) SetupTest() {
	_, err := suite.storage.RawDB().Exec(
		`truncate table ledger_entries, events_outbox, registrations, wallets, sessions, users`)
	suite.Require().NoError(err)
	suite.mr.FlushAll()
}

func (suite *RegistrationTestSuite) createUser(balanceCents int64) uuid.UUID {
	var id uuid.UUID
	err := suite.storage.RawDB().Get(&id,
		`insert into users (name, email) values ($1, $2) returning id`,
		test.RandomString(), test.RandomEmail())
	suite.Require().NoError(err)
	if balanceCents > 0 {
		_, err = suite.wallets.Deposit(context.Background(), id, balanceCents, "seed:"+uuid.NewV4().String())
		suite.Require().NoError(err)
	}
	return id
}

func (suite *RegistrationTestSuite) createSession(capacity int, feeCents int64, startsAt time.Time) uuid.UUID {
	var id uuid.UUID
	err := suite.storage.RawDB().Get(&id,
		`insert into sessions (starts_at, timezone, capacity, fee_cents) values ($1, $2, $3, $4) returning id`,
		startsAt, "America/Vancouver", capacity, feeCents)
	suite.Require().NoError(err)
	return id
}

func (suite *RegistrationTestSuite) intent(sessionID, userID uuid.UUID, guests ...string) *Intent {
	return &Intent{
		RequestID:      uuid.NewV4().String(),
		SessionID:      sessionID,
		UserID:         userID,
		Seats:          1 + len(guests),
		GuestNames:     guests,
		IdempotencyKey: test.RandomStringWithLen(12),
		TS:             time.Now().UTC(),
	}
}

func (suite *RegistrationTestSuite) walletOf(userID uuid.UUID) *wallet.Wallet {
	w, err := suite.wallets.GetWallet(context.Background(), userID)
	suite.Require().NoError(err)
	return w
}

func (suite *RegistrationTestSuite) rowsFor(sessionID uuid.UUID, state State) []Registration {
	var rows []Registration
	err := suite.storage.RawDB().Select(&rows,
		`select * from registrations where session_id = $1 and state = $2 order by waitlist_pos nulls first, created_at`,
		sessionID, state)
	suite.Require().NoError(err)
	return rows
}
