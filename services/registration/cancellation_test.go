//go:build integration

package registration

import (
	"context"
	"time"

	uuid "github.com/satori/go.uuid"

	errorutils "github.com/shinminje20/birdie-buddies-backend/libs/errors"
)

func (suite *RegistrationTestSuite) TestCancelConfirmedFullRefund() {
	ctx := context.Background()
	sessionID := suite.createSession(4, 900, time.Now().Add(48*time.Hour))
	userID := suite.createUser(2000)

	allocated, err := suite.service.Allocate(ctx, suite.intent(sessionID, userID))
	suite.Require().NoError(err)
	suite.Require().Equal(RequestConfirmed, allocated.State)
	suite.Equal(int64(1100), suite.walletOf(userID).PostedCents)

	result, err := suite.service.Cancel(ctx, *allocated.RegistrationID, userID, false)
	suite.Require().NoError(err)
	suite.Equal(int64(900), result.RefundCents)
	suite.Equal(int64(0), result.PenaltyCents)

	suite.Equal(int64(2000), suite.walletOf(userID).PostedCents)
	suite.Len(suite.rowsFor(sessionID, StateCanceled), 1)
}

func (suite *RegistrationTestSuite) TestCancelHostCascadesGroup() {
	ctx := context.Background()
	// capacity 1 splits the party: host confirmed, two guests waitlisted
	sessionID := suite.createSession(1, 800, time.Now().Add(48*time.Hour))
	userID := suite.createUser(2400)

	allocated, err := suite.service.Allocate(ctx, suite.intent(sessionID, userID, "amy", "bo"))
	suite.Require().NoError(err)
	suite.Require().Equal(RequestConfirmed, allocated.State)

	result, err := suite.service.Cancel(ctx, *allocated.RegistrationID, userID, false)
	suite.Require().NoError(err)
	suite.Equal(int64(800), result.RefundCents)
	suite.Equal(int64(0), result.PenaltyCents)

	suite.Len(suite.rowsFor(sessionID, StateCanceled), 3)
	suite.Empty(suite.rowsFor(sessionID, StateWaitlisted))

	// fee refunded and both holds released
	w := suite.walletOf(userID)
	suite.Equal(int64(2400), w.PostedCents)
	suite.Equal(int64(0), w.HoldsCents)
}

func (suite *RegistrationTestSuite) TestCancelWaitlistedReleasesHoldAndCollapses() {
	ctx := context.Background()
	sessionID := suite.createSession(1, 900, time.Now().Add(48*time.Hour))
	first := suite.createUser(2000)
	second := suite.createUser(2000)
	third := suite.createUser(2000)

	_, err := suite.service.Allocate(ctx, suite.intent(sessionID, first))
	suite.Require().NoError(err)
	waitlistedSecond, err := suite.service.Allocate(ctx, suite.intent(sessionID, second))
	suite.Require().NoError(err)
	waitlistedThird, err := suite.service.Allocate(ctx, suite.intent(sessionID, third))
	suite.Require().NoError(err)
	suite.Equal(2, *waitlistedThird.WaitlistPos)

	result, err := suite.service.Cancel(ctx, *waitlistedSecond.RegistrationID, second, false)
	suite.Require().NoError(err)
	suite.Equal(int64(0), result.RefundCents)

	w := suite.walletOf(second)
	suite.Equal(int64(2000), w.PostedCents)
	suite.Equal(int64(0), w.HoldsCents)

	// the row behind the departure moves up
	remaining := suite.rowsFor(sessionID, StateWaitlisted)
	suite.Require().Len(remaining, 1)
	suite.Equal(third, remaining[0].HostUserID)
	suite.Equal(1, *remaining[0].WaitlistPos)
}

func (suite *RegistrationTestSuite) TestCancelForbiddenForStrangers() {
	ctx := context.Background()
	sessionID := suite.createSession(4, 900, time.Now().Add(48*time.Hour))
	owner := suite.createUser(2000)
	stranger := suite.createUser(2000)

	allocated, err := suite.service.Allocate(ctx, suite.intent(sessionID, owner))
	suite.Require().NoError(err)

	_, err = suite.service.Cancel(ctx, *allocated.RegistrationID, stranger, false)
	suite.Require().ErrorIs(err, errorutils.ErrForbidden)

	// admins may cancel on the member's behalf
	result, err := suite.service.Cancel(ctx, *allocated.RegistrationID, stranger, true)
	suite.Require().NoError(err)
	suite.Equal(int64(900), result.RefundCents)
}

func (suite *RegistrationTestSuite) TestCancelTwiceIsANoOp() {
	ctx := context.Background()
	sessionID := suite.createSession(4, 900, time.Now().Add(48*time.Hour))
	userID := suite.createUser(2000)

	allocated, err := suite.service.Allocate(ctx, suite.intent(sessionID, userID))
	suite.Require().NoError(err)

	_, err = suite.service.Cancel(ctx, *allocated.RegistrationID, userID, false)
	suite.Require().NoError(err)

	result, err := suite.service.Cancel(ctx, *allocated.RegistrationID, userID, false)
	suite.Require().NoError(err)
	suite.Equal(int64(0), result.RefundCents)
	suite.Equal(int64(2000), suite.walletOf(userID).PostedCents)
}

func (suite *RegistrationTestSuite) TestCancelTooLateAfterStart() {
	ctx := context.Background()
	sessionID := suite.createSession(4, 900, time.Now().Add(48*time.Hour))
	userID := suite.createUser(2000)

	allocated, err := suite.service.Allocate(ctx, suite.intent(sessionID, userID))
	suite.Require().NoError(err)

	_, err = suite.storage.RawDB().Exec(
		`update sessions set starts_at = $1 where id = $2`, time.Now().Add(-time.Minute), sessionID)
	suite.Require().NoError(err)

	_, err = suite.service.Cancel(ctx, *allocated.RegistrationID, userID, false)
	suite.Require().ErrorIs(err, errorutils.ErrTooLate)
}

func (suite *RegistrationTestSuite) TestCancelAlreadyCanceledIsNoOpForAnyCaller() {
	ctx := context.Background()
	sessionID := suite.createSession(4, 900, time.Now().Add(48*time.Hour))
	userID := suite.createUser(2000)
	stranger := suite.createUser(2000)

	result, err := suite.service.Allocate(ctx, suite.intent(sessionID, userID))
	suite.Require().NoError(err)
	_, err = suite.service.Cancel(ctx, *result.RegistrationID, userID, false)
	suite.Require().NoError(err)

	// the canceled no-op resolves before the authorization check
	outcome, err := suite.service.Cancel(ctx, *result.RegistrationID, stranger, false)
	suite.Require().NoError(err)
	suite.Equal(string(StateCanceled), outcome.State)
	suite.Equal(int64(0), outcome.RefundCents)
}

func (suite *RegistrationTestSuite) TestCancelKeepsWaitlistPositionsDense() {
	ctx := context.Background()
	sessionID := suite.createSession(0, 900, time.Now().Add(48*time.Hour))
	users := []uuid.UUID{suite.createUser(2000), suite.createUser(2000), suite.createUser(2000)}

	regIDs := make([]uuid.UUID, 0, len(users))
	for _, userID := range users {
		result, err := suite.service.Allocate(ctx, suite.intent(sessionID, userID))
		suite.Require().NoError(err)
		suite.Require().Equal(RequestWaitlisted, result.State)
		regIDs = append(regIDs, *result.RegistrationID)
	}

	// vacating the middle slot shifts the tail down one at a time, dense and
	// unique under the waitlist position index
	_, err := suite.service.Cancel(ctx, regIDs[1], users[1], false)
	suite.Require().NoError(err)

	waiting := suite.rowsFor(sessionID, StateWaitlisted)
	suite.Require().Len(waiting, 2)
	suite.Equal(users[0], waiting[0].HostUserID)
	suite.Equal(1, *waiting[0].WaitlistPos)
	suite.Equal(users[2], waiting[1].HostUserID)
	suite.Equal(2, *waiting[1].WaitlistPos)
}
