//go:build integration

package registration

import (
	"context"
	"time"

	uuid "github.com/satori/go.uuid"

	errorutils "github.com/shinminje20/birdie-buddies-backend/libs/errors"
)

func (suite *RegistrationTestSuite) TestUpdateGuestsRenamesInPlace() {
	ctx := context.Background()
	sessionID := suite.createSession(4, 900, time.Now().Add(48*time.Hour))
	userID := suite.createUser(5000)

	allocated, err := suite.service.Allocate(ctx, suite.intent(sessionID, userID, "amy", "bo"))
	suite.Require().NoError(err)

	result, err := suite.service.UpdateGuests(ctx, *allocated.RegistrationID, []string{"anna", "bo"}, userID, false)
	suite.Require().NoError(err)
	suite.Equal(3, result.OldSeats)
	suite.Equal(3, result.NewSeats)
	suite.Equal(int64(0), result.RefundCents)

	names := []string{}
	for _, row := range suite.rowsFor(sessionID, StateConfirmed) {
		names = append(names, row.GuestNames...)
	}
	suite.ElementsMatch([]string{"anna", "bo"}, names)

	// no money moved
	w := suite.walletOf(userID)
	suite.Equal(int64(5000-2700), w.PostedCents)
}

func (suite *RegistrationTestSuite) TestUpdateGuestsShrinkRefundsConfirmedSeat() {
	ctx := context.Background()
	sessionID := suite.createSession(4, 900, time.Now().Add(48*time.Hour))
	userID := suite.createUser(5000)

	allocated, err := suite.service.Allocate(ctx, suite.intent(sessionID, userID, "amy", "bo"))
	suite.Require().NoError(err)

	result, err := suite.service.UpdateGuests(ctx, *allocated.RegistrationID, []string{"amy"}, userID, false)
	suite.Require().NoError(err)
	suite.Equal(3, result.OldSeats)
	suite.Equal(2, result.NewSeats)
	suite.Equal(int64(900), result.RefundCents)
	suite.Equal(int64(0), result.PenaltyCents)

	suite.Len(suite.rowsFor(sessionID, StateConfirmed), 2)
	suite.Len(suite.rowsFor(sessionID, StateCanceled), 1)
	suite.Equal(int64(5000-1800), suite.walletOf(userID).PostedCents)
}

func (suite *RegistrationTestSuite) TestUpdateGuestsShrinkReleasesWaitlistedSeat() {
	ctx := context.Background()
	// capacity 2 splits the party: host and one guest confirmed, one queued
	sessionID := suite.createSession(2, 900, time.Now().Add(48*time.Hour))
	userID := suite.createUser(5000)

	allocated, err := suite.service.Allocate(ctx, suite.intent(sessionID, userID, "amy", "bo"))
	suite.Require().NoError(err)
	suite.Require().Len(suite.rowsFor(sessionID, StateWaitlisted), 1)

	result, err := suite.service.UpdateGuests(ctx, *allocated.RegistrationID, []string{"amy"}, userID, false)
	suite.Require().NoError(err)
	suite.Equal(int64(0), result.RefundCents)

	// the queued seat goes away and its hold releases, confirmed seats keep
	// their place
	suite.Empty(suite.rowsFor(sessionID, StateWaitlisted))
	suite.Len(suite.rowsFor(sessionID, StateConfirmed), 2)
	w := suite.walletOf(userID)
	suite.Equal(int64(0), w.HoldsCents)
	suite.Equal(int64(5000-1800), w.PostedCents)
}

func (suite *RegistrationTestSuite) TestUpdateGuestsMayOnlyShrink() {
	ctx := context.Background()
	sessionID := suite.createSession(4, 900, time.Now().Add(48*time.Hour))
	userID := suite.createUser(5000)

	allocated, err := suite.service.Allocate(ctx, suite.intent(sessionID, userID, "amy"))
	suite.Require().NoError(err)

	_, err = suite.service.UpdateGuests(ctx, *allocated.RegistrationID, []string{"amy", "bo"}, userID, false)
	suite.Require().ErrorIs(err, errorutils.ErrValidation)
}

func (suite *RegistrationTestSuite) TestAddGuestConfirmsWhenRoomRemains() {
	ctx := context.Background()
	sessionID := suite.createSession(4, 900, time.Now().Add(48*time.Hour))
	userID := suite.createUser(5000)

	allocated, err := suite.service.Allocate(ctx, suite.intent(sessionID, userID))
	suite.Require().NoError(err)

	result, err := suite.service.AddGuest(ctx, *allocated.RegistrationID, "amy", userID, false)
	suite.Require().NoError(err)
	suite.Equal(string(StateConfirmed), result.State)
	suite.Nil(result.WaitlistPos)

	suite.Len(suite.rowsFor(sessionID, StateConfirmed), 2)
	suite.Equal(int64(5000-1800), suite.walletOf(userID).PostedCents)
}

func (suite *RegistrationTestSuite) TestAddGuestQueuesWhenFull() {
	ctx := context.Background()
	sessionID := suite.createSession(1, 900, time.Now().Add(48*time.Hour))
	userID := suite.createUser(5000)

	allocated, err := suite.service.Allocate(ctx, suite.intent(sessionID, userID))
	suite.Require().NoError(err)

	result, err := suite.service.AddGuest(ctx, *allocated.RegistrationID, "amy", userID, false)
	suite.Require().NoError(err)
	suite.Equal(string(StateWaitlisted), result.State)
	suite.Require().NotNil(result.WaitlistPos)
	suite.Equal(1, *result.WaitlistPos)

	w := suite.walletOf(userID)
	suite.Equal(int64(900), w.HoldsCents)
}

func (suite *RegistrationTestSuite) TestAddGuestEnforcesGuestLimit() {
	ctx := context.Background()
	sessionID := suite.createSession(8, 900, time.Now().Add(48*time.Hour))
	userID := suite.createUser(9000)

	allocated, err := suite.service.Allocate(ctx, suite.intent(sessionID, userID, "amy", "bo"))
	suite.Require().NoError(err)

	_, err = suite.service.AddGuest(ctx, *allocated.RegistrationID, "cal", userID, false)
	suite.Require().ErrorIs(err, errorutils.ErrGuestLimitExceeded)
}

func (suite *RegistrationTestSuite) TestAddGuestRequiresHostRow() {
	ctx := context.Background()
	sessionID := suite.createSession(4, 900, time.Now().Add(48*time.Hour))
	userID := suite.createUser(5000)

	_, err := suite.service.Allocate(ctx, suite.intent(sessionID, userID, "amy"))
	suite.Require().NoError(err)

	var guestRowID uuid.UUID
	err = suite.storage.RawDB().Get(&guestRowID,
		`select id from registrations where session_id = $1 and not is_host`, sessionID)
	suite.Require().NoError(err)

	_, err = suite.service.UpdateGuests(ctx, guestRowID, nil, userID, false)
	suite.Require().ErrorIs(err, errorutils.ErrValidation)
}
