package outbox

import (
	"context"
	"encoding/json"

	"github.com/jmoiron/sqlx"

	"github.com/shinminje20/birdie-buddies-backend/libs/datastore"
)

// Datastore abstracts over the underlying datastore
type Datastore interface {
	datastore.Datastore
	// AppendTx inserts an event in the caller's transaction
	AppendTx(ctx context.Context, tx *sqlx.Tx, channel string, payload interface{}) error
	// UnsentBatch selects up to limit unsent due events with skip-locked semantics
	UnsentBatch(ctx context.Context, tx *sqlx.Tx, limit int) ([]Event, error)
	// MarkSent records a successful publish
	MarkSent(ctx context.Context, tx *sqlx.Tx, id int64) error
	// MarkFailed records a failed publish attempt for later retry
	MarkFailed(ctx context.Context, tx *sqlx.Tx, id int64, cause string) error
}

// Postgres is a Datastore wrapper around a postgres database
type Postgres struct {
	datastore.Postgres
}

// NewPostgres creates a new outbox Postgres Datastore
func NewPostgres(databaseURL string, performMigration bool) (Datastore, error) {
	pg, err := datastore.NewPostgres(databaseURL, performMigration)
	if err != nil {
		return nil, err
	}
	return &Postgres{*pg}, nil
}

// AppendTx inserts an event in the caller's transaction
func (pg *Postgres) AppendTx(ctx context.Context, tx *sqlx.Tx, channel string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`insert into events_outbox (channel, payload) values ($1, $2)`, channel, body)
	return err
}

// UnsentBatch selects up to limit unsent due events ordered by id, locking
// them with skip-locked so concurrent dispatchers never double-publish
func (pg *Postgres) UnsentBatch(ctx context.Context, tx *sqlx.Tx, limit int) ([]Event, error) {
	events := []Event{}
	err := tx.SelectContext(ctx, &events, `
		select * from events_outbox
		where sent_at is null and available_at <= current_timestamp
		order by id
		limit $1
		for update skip locked`, limit)
	return events, err
}

// MarkSent records a successful publish
func (pg *Postgres) MarkSent(ctx context.Context, tx *sqlx.Tx, id int64) error {
	_, err := tx.ExecContext(ctx, `
		update events_outbox
		set sent_at = current_timestamp, attempts = attempts + 1, error = null
		where id = $1`, id)
	return err
}

// MarkFailed records a failed publish attempt, leaving sent_at null for retry
func (pg *Postgres) MarkFailed(ctx context.Context, tx *sqlx.Tx, id int64, cause string) error {
	_, err := tx.ExecContext(ctx, `
		update events_outbox
		set attempts = attempts + 1, error = $2
		where id = $1`, id, cause)
	return err
}
