package registration

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	uuid "github.com/satori/go.uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// outageDatastore fails every transaction start, as a datastore does while
// the database is unreachable
type outageDatastore struct {
	stubDatastore
}

func (s *outageDatastore) BeginSerializableTx(ctx context.Context) (*sqlx.Tx, error) {
	return nil, errors.New("dial tcp 127.0.0.1:5432: connect: connection refused")
}

func TestHandleIntent_DatastoreOutageStaysPending(t *testing.T) {
	sess := scheduledSession(time.Now().Add(48 * time.Hour))
	ds := &outageDatastore{stubDatastore{session: sess}}
	service, _ := newQueueTestService(t, &ds.stubDatastore)
	service.Datastore = ds
	ctx := context.Background()

	submitted, err := service.Submit(ctx, sess.ID, uuid.NewV4(), 1, nil, "abc123key")
	require.NoError(t, err)

	intentJSON, err := json.Marshal(&Intent{
		RequestID: submitted.RequestID,
		SessionID: sess.ID,
		UserID:    uuid.NewV4(),
		Seats:     1,
		TS:        time.Now().UTC(),
	})
	require.NoError(t, err)

	// the handler must surface the error so the entry is redelivered rather
	// than acked as rejected
	err = service.handleIntent(ctx, "1-0", intentJSON)
	require.Error(t, err)

	status, err := service.GetRequestStatus(ctx, submitted.RequestID)
	require.NoError(t, err)
	assert.Equal(t, RequestQueued, status.State)
}

func TestHandleIntent_MalformedEntryIsAcked(t *testing.T) {
	sess := scheduledSession(time.Now().Add(48 * time.Hour))
	service, _ := newQueueTestService(t, &stubDatastore{session: sess})

	assert.NoError(t, service.handleIntent(context.Background(), "1-0", []byte("not json")))
}

func TestNotifyPromoted_FlipsRequestStatus(t *testing.T) {
	sess := scheduledSession(time.Now().Add(48 * time.Hour))
	service, _ := newQueueTestService(t, &stubDatastore{session: sess})
	ctx := context.Background()

	submitted, err := service.Submit(ctx, sess.ID, uuid.NewV4(), 1, nil, "abc123key")
	require.NoError(t, err)

	registrationID := uuid.NewV4()
	pos := 2
	require.NoError(t, service.UpdateRequestStatus(ctx, submitted.RequestID, RequestWaitlisted, &registrationID, &pos))

	service.NotifyPromoted(ctx, []PromotedSeat{{RegistrationID: registrationID, Seats: 1}})

	status, err := service.GetRequestStatus(ctx, submitted.RequestID)
	require.NoError(t, err)
	assert.Equal(t, RequestConfirmed, status.State)
	require.NotNil(t, status.RegistrationID)
	assert.Equal(t, registrationID, *status.RegistrationID)
	assert.Nil(t, status.WaitlistPos)
}

func TestNotifyPromoted_UnmappedRegistrationIsSkipped(t *testing.T) {
	sess := scheduledSession(time.Now().Add(48 * time.Hour))
	service, _ := newQueueTestService(t, &stubDatastore{session: sess})

	// no regreq mapping exists, the push is silently dropped
	service.NotifyPromoted(context.Background(), []PromotedSeat{{RegistrationID: uuid.NewV4(), Seats: 1}})
}
