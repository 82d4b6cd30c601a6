//go:build integration

package registration

import (
	"context"
	"time"
)

func (suite *RegistrationTestSuite) TestPromoteFillsInQueueOrder() {
	ctx := context.Background()
	sessionID := suite.createSession(1, 900, time.Now().Add(48*time.Hour))
	first := suite.createUser(2000)
	second := suite.createUser(2000)
	third := suite.createUser(2000)

	confirmed, err := suite.service.Allocate(ctx, suite.intent(sessionID, first))
	suite.Require().NoError(err)
	suite.Require().Equal(RequestConfirmed, confirmed.State)
	_, err = suite.service.Allocate(ctx, suite.intent(sessionID, second))
	suite.Require().NoError(err)
	_, err = suite.service.Allocate(ctx, suite.intent(sessionID, third))
	suite.Require().NoError(err)

	_, err = suite.service.Cancel(ctx, *confirmed.RegistrationID, first, false)
	suite.Require().NoError(err)

	promoted, err := suite.service.PromoteOnce(ctx, sessionID)
	suite.Require().NoError(err)
	suite.Require().Len(promoted, 1)

	rows := suite.rowsFor(sessionID, StateConfirmed)
	suite.Require().Len(rows, 1)
	suite.Equal(second, rows[0].HostUserID)

	// the promotion captured the fee out of the hold
	w := suite.walletOf(second)
	suite.Equal(int64(1100), w.PostedCents)
	suite.Equal(int64(0), w.HoldsCents)

	// the next seat moves to the head of the queue
	waiting := suite.rowsFor(sessionID, StateWaitlisted)
	suite.Require().Len(waiting, 1)
	suite.Equal(third, waiting[0].HostUserID)
	suite.Equal(1, *waiting[0].WaitlistPos)
}

func (suite *RegistrationTestSuite) TestPromoteHoldExactlyCoversBalance() {
	ctx := context.Background()
	sessionID := suite.createSession(1, 800, time.Now().Add(48*time.Hour))
	first := suite.createUser(2000)
	// deposited exactly the fee, the hold pins the entire posted balance
	second := suite.createUser(800)

	confirmed, err := suite.service.Allocate(ctx, suite.intent(sessionID, first))
	suite.Require().NoError(err)
	waitlisted, err := suite.service.Allocate(ctx, suite.intent(sessionID, second))
	suite.Require().NoError(err)
	suite.Require().Equal(RequestWaitlisted, waitlisted.State)

	w := suite.walletOf(second)
	suite.Require().Equal(int64(800), w.PostedCents)
	suite.Require().Equal(int64(800), w.HoldsCents)

	_, err = suite.service.Cancel(ctx, *confirmed.RegistrationID, first, false)
	suite.Require().NoError(err)

	// the release must land before the capture or the wallet's
	// available-nonneg check aborts the transaction
	promoted, err := suite.service.PromoteOnce(ctx, sessionID)
	suite.Require().NoError(err)
	suite.Require().Len(promoted, 1)

	rows := suite.rowsFor(sessionID, StateConfirmed)
	suite.Require().Len(rows, 1)
	suite.Equal(second, rows[0].HostUserID)

	w = suite.walletOf(second)
	suite.Equal(int64(0), w.PostedCents)
	suite.Equal(int64(0), w.HoldsCents)
}

func (suite *RegistrationTestSuite) TestPromoteIsIdempotentOnRedelivery() {
	ctx := context.Background()
	sessionID := suite.createSession(1, 900, time.Now().Add(48*time.Hour))
	first := suite.createUser(2000)
	second := suite.createUser(2000)

	confirmed, err := suite.service.Allocate(ctx, suite.intent(sessionID, first))
	suite.Require().NoError(err)
	_, err = suite.service.Allocate(ctx, suite.intent(sessionID, second))
	suite.Require().NoError(err)

	_, err = suite.service.Cancel(ctx, *confirmed.RegistrationID, first, false)
	suite.Require().NoError(err)

	promoted, err := suite.service.PromoteOnce(ctx, sessionID)
	suite.Require().NoError(err)
	suite.Require().Len(promoted, 1)

	// a second pass finds nothing to do and moves no money
	promoted, err = suite.service.PromoteOnce(ctx, sessionID)
	suite.Require().NoError(err)
	suite.Empty(promoted)

	w := suite.walletOf(second)
	suite.Equal(int64(1100), w.PostedCents)
	suite.Equal(int64(0), w.HoldsCents)
}

func (suite *RegistrationTestSuite) TestPromoteSkipsNonScheduledSessions() {
	ctx := context.Background()
	sessionID := suite.createSession(1, 900, time.Now().Add(48*time.Hour))
	first := suite.createUser(2000)
	second := suite.createUser(2000)

	confirmed, err := suite.service.Allocate(ctx, suite.intent(sessionID, first))
	suite.Require().NoError(err)
	_, err = suite.service.Allocate(ctx, suite.intent(sessionID, second))
	suite.Require().NoError(err)
	_, err = suite.service.Cancel(ctx, *confirmed.RegistrationID, first, false)
	suite.Require().NoError(err)

	_, err = suite.storage.RawDB().Exec(`update sessions set status = 'closed' where id = $1`, sessionID)
	suite.Require().NoError(err)

	promoted, err := suite.service.PromoteOnce(ctx, sessionID)
	suite.Require().NoError(err)
	suite.Empty(promoted)
}
