//go:build integration

package outbox

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	uuid "github.com/satori/go.uuid"
	"github.com/stretchr/testify/suite"
)

type OutboxTestSuite struct {
	suite.Suite
	storage Datastore
	service *Service
	client  *redis.Client
	mr      *miniredis.Miniredis
}

func TestOutboxTestSuite(t *testing.T) {
	suite.Run(t, new(OutboxTestSuite))
}

func (suite *OutboxTestSuite) SetupSuite() {
	storage, err := NewPostgres("", true)
	suite.Require().NoError(err)
	suite.storage = storage

	suite.mr, err = miniredis.Run()
	suite.Require().NoError(err)
	suite.client = redis.NewClient(&redis.Options{Addr: suite.mr.Addr()})

	suite.service, err = InitService(storage, suite.client)
	suite.Require().NoError(err)
}

func (suite *OutboxTestSuite) TearDownSuite() {
	suite.mr.Close()
}

func (suite *OutboxTestSuite) SetupTest() {
	_, err := suite.storage.RawDB().Exec(`truncate table events_outbox`)
	suite.Require().NoError(err)
}

func (suite *OutboxTestSuite) TestDispatchPublishesAndMarksSent() {
	ctx := context.Background()
	channel := SessionChannel(uuid.NewV4().String())

	sub := suite.client.Subscribe(ctx, channel)
	defer sub.Close()
	_, err := sub.Receive(ctx)
	suite.Require().NoError(err)

	tx, err := suite.storage.RawDB().Beginx()
	suite.Require().NoError(err)
	err = suite.service.AppendTx(ctx, tx, channel, map[string]string{"type": "session_status_changed"})
	suite.Require().NoError(err)
	suite.Require().NoError(tx.Commit())

	sent, err := suite.service.DispatchOnce(ctx, 100)
	suite.Require().NoError(err)
	suite.Equal(1, sent)

	msg, err := sub.ReceiveMessage(ctx)
	suite.Require().NoError(err)
	var payload map[string]string
	suite.Require().NoError(json.Unmarshal([]byte(msg.Payload), &payload))
	suite.Equal("session_status_changed", payload["type"])

	// the row is marked sent, a second pass publishes nothing
	sent, err = suite.service.DispatchOnce(ctx, 100)
	suite.Require().NoError(err)
	suite.Equal(0, sent)
}

func (suite *OutboxTestSuite) TestDispatchEmptyBatch() {
	sent, err := suite.service.DispatchOnce(context.Background(), 100)
	suite.Require().NoError(err)
	suite.Equal(0, sent)
}
