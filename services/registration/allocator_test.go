//go:build integration

package registration

import (
	"context"
	"time"
)

func (suite *RegistrationTestSuite) TestAllocateConfirmsWholeParty() {
	ctx := context.Background()
	sessionID := suite.createSession(4, 900, time.Now().Add(48*time.Hour))
	userID := suite.createUser(5000)

	result, err := suite.service.Allocate(ctx, suite.intent(sessionID, userID, "amy", "bo"))
	suite.Require().NoError(err)
	suite.Equal(RequestConfirmed, result.State)
	suite.Require().NotNil(result.RegistrationID)
	suite.Nil(result.WaitlistPos)

	confirmed := suite.rowsFor(sessionID, StateConfirmed)
	suite.Len(confirmed, 3)
	for _, row := range confirmed {
		suite.Equal(userID, row.HostUserID)
		suite.Equal(1, row.Seats)
		suite.Require().NotNil(row.GroupKey)
	}

	w := suite.walletOf(userID)
	suite.Equal(int64(5000-2700), w.PostedCents)
	suite.Equal(int64(0), w.HoldsCents)
}

func (suite *RegistrationTestSuite) TestAllocatePartialFitConfirmsHostFirst() {
	ctx := context.Background()
	sessionID := suite.createSession(1, 800, time.Now().Add(48*time.Hour))
	userID := suite.createUser(2400)

	result, err := suite.service.Allocate(ctx, suite.intent(sessionID, userID, "amy", "bo"))
	suite.Require().NoError(err)
	suite.Equal(RequestConfirmed, result.State)

	confirmed := suite.rowsFor(sessionID, StateConfirmed)
	suite.Require().Len(confirmed, 1)
	suite.True(confirmed[0].IsHost)

	waitlisted := suite.rowsFor(sessionID, StateWaitlisted)
	suite.Require().Len(waitlisted, 2)
	suite.Equal(1, *waitlisted[0].WaitlistPos)
	suite.Equal(2, *waitlisted[1].WaitlistPos)

	// 800 captured for the host seat, 1600 held for the queued guests
	w := suite.walletOf(userID)
	suite.Equal(int64(1600), w.PostedCents)
	suite.Equal(int64(1600), w.HoldsCents)
	suite.Equal(int64(0), w.AvailableCents())
}

func (suite *RegistrationTestSuite) TestAllocateQueuesBehindExistingWaitlist() {
	ctx := context.Background()
	sessionID := suite.createSession(2, 900, time.Now().Add(48*time.Hour))
	first := suite.createUser(2000)
	second := suite.createUser(2000)
	third := suite.createUser(2000)

	result, err := suite.service.Allocate(ctx, suite.intent(sessionID, first))
	suite.Require().NoError(err)
	suite.Equal(RequestConfirmed, result.State)

	result, err = suite.service.Allocate(ctx, suite.intent(sessionID, second, "amy"))
	suite.Require().NoError(err)
	suite.Equal(RequestConfirmed, result.State)
	suite.Len(suite.rowsFor(sessionID, StateWaitlisted), 1)

	// free a seat without draining the waitlist, the next party must still
	// queue behind the seat already waiting
	_, err = suite.storage.RawDB().Exec(`update sessions set capacity = 4 where id = $1`, sessionID)
	suite.Require().NoError(err)

	result, err = suite.service.Allocate(ctx, suite.intent(sessionID, third))
	suite.Require().NoError(err)
	suite.Equal(RequestWaitlisted, result.State)
	suite.Require().NotNil(result.WaitlistPos)
	suite.Equal(2, *result.WaitlistPos)
}

func (suite *RegistrationTestSuite) TestAllocateRejectsInsufficientFunds() {
	ctx := context.Background()
	sessionID := suite.createSession(4, 900, time.Now().Add(48*time.Hour))
	userID := suite.createUser(500)

	result, err := suite.service.Allocate(ctx, suite.intent(sessionID, userID))
	suite.Require().NoError(err)
	suite.Equal(RequestRejected, result.State)
	suite.Empty(suite.rowsFor(sessionID, StateConfirmed))
}

func (suite *RegistrationTestSuite) TestAllocateRejectsDuplicateHost() {
	ctx := context.Background()
	sessionID := suite.createSession(4, 900, time.Now().Add(48*time.Hour))
	userID := suite.createUser(5000)

	result, err := suite.service.Allocate(ctx, suite.intent(sessionID, userID))
	suite.Require().NoError(err)
	suite.Equal(RequestConfirmed, result.State)

	result, err = suite.service.Allocate(ctx, suite.intent(sessionID, userID))
	suite.Require().NoError(err)
	suite.Equal(RequestRejected, result.State)
	suite.Len(suite.rowsFor(sessionID, StateConfirmed), 1)
}

func (suite *RegistrationTestSuite) TestAllocateRejectsClosedSession() {
	ctx := context.Background()
	sessionID := suite.createSession(4, 900, time.Now().Add(48*time.Hour))
	userID := suite.createUser(5000)

	_, err := suite.storage.RawDB().Exec(`update sessions set status = 'closed' where id = $1`, sessionID)
	suite.Require().NoError(err)

	result, err := suite.service.Allocate(ctx, suite.intent(sessionID, userID))
	suite.Require().NoError(err)
	suite.Equal(RequestRejected, result.State)
}

func (suite *RegistrationTestSuite) TestAllocateWaitlistsAtZeroCapacity() {
	ctx := context.Background()
	sessionID := suite.createSession(0, 900, time.Now().Add(48*time.Hour))
	userID := suite.createUser(2000)

	result, err := suite.service.Allocate(ctx, suite.intent(sessionID, userID))
	suite.Require().NoError(err)
	suite.Equal(RequestWaitlisted, result.State)
	suite.Require().NotNil(result.WaitlistPos)
	suite.Equal(1, *result.WaitlistPos)

	w := suite.walletOf(userID)
	suite.Equal(int64(2000), w.PostedCents)
	suite.Equal(int64(900), w.HoldsCents)
}

func (suite *RegistrationTestSuite) TestPreRegisterNamespacesLedgerKeys() {
	ctx := context.Background()
	sessionID := suite.createSession(4, 900, time.Now().Add(48*time.Hour))
	userID := suite.createUser(5000)

	tx, err := suite.storage.RawDB().Beginx()
	suite.Require().NoError(err)
	defer suite.storage.RollbackTx(tx)

	result, err := suite.service.PreRegister(ctx, tx, sessionID, PreRegItem{
		UserID:         userID,
		Seats:          1,
		IdempotencyKey: "admin-batch-1",
	})
	suite.Require().NoError(err)
	suite.Equal(RequestConfirmed, result.State)
	suite.Require().NoError(tx.Commit())

	var keys []string
	err = suite.storage.RawDB().Select(&keys,
		`select idempotency_key from ledger_entries where session_id = $1`, sessionID)
	suite.Require().NoError(err)
	suite.Require().Len(keys, 1)
	suite.Contains(keys[0], "admin-batch-1:cap:")
}

func (suite *RegistrationTestSuite) TestAllocateFreeSessionMovesNoMoney() {
	ctx := context.Background()
	sessionID := suite.createSession(1, 0, time.Now().Add(48*time.Hour))
	first := suite.createUser(0)
	second := suite.createUser(0)

	confirmed, err := suite.service.Allocate(ctx, suite.intent(sessionID, first))
	suite.Require().NoError(err)
	suite.Equal(RequestConfirmed, confirmed.State)

	waitlisted, err := suite.service.Allocate(ctx, suite.intent(sessionID, second))
	suite.Require().NoError(err)
	suite.Equal(RequestWaitlisted, waitlisted.State)

	_, err = suite.service.Cancel(ctx, *confirmed.RegistrationID, first, false)
	suite.Require().NoError(err)

	promoted, err := suite.service.PromoteOnce(ctx, sessionID)
	suite.Require().NoError(err)
	suite.Require().Len(promoted, 1)

	// no fee means no ledger traffic anywhere on the path
	var entries int
	err = suite.storage.RawDB().Get(&entries,
		`select count(*) from ledger_entries where session_id = $1`, sessionID)
	suite.Require().NoError(err)
	suite.Equal(0, entries)
}
