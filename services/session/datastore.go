package session

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	uuid "github.com/satori/go.uuid"

	"github.com/shinminje20/birdie-buddies-backend/libs/datastore"
	errorutils "github.com/shinminje20/birdie-buddies-backend/libs/errors"
	"github.com/shinminje20/birdie-buddies-backend/services/registration"
)

// Datastore abstracts over the underlying datastore
type Datastore interface {
	datastore.Datastore
	// InsertSession creates a session row and returns it
	InsertSession(ctx context.Context, tx *sqlx.Tx, sess *Session) (*Session, error)
	// GetSummary reads a session with its seat statistics
	GetSummary(ctx context.Context, sessionID uuid.UUID) (*Summary, error)
	// ListSummaries returns all sessions with seat statistics, soonest first
	ListSummaries(ctx context.Context) ([]Summary, error)
	// LockSession reads the full session row under an exclusive lock
	LockSession(ctx context.Context, tx *sqlx.Tx, sessionID uuid.UUID) (*Session, error)
	// UpdateStatus sets the session status
	UpdateStatus(ctx context.Context, tx *sqlx.Tx, sessionID uuid.UUID, status Status) error
	// UpdateCapacity sets the session capacity
	UpdateCapacity(ctx context.Context, tx *sqlx.Tx, sessionID uuid.UUID, capacity int) error
	// ConfirmedSeats sums seats of confirmed rows for the session
	ConfirmedSeats(ctx context.Context, tx *sqlx.Tx, sessionID uuid.UUID) (int, error)
	// ActiveRegistrations locks and returns the session's non-canceled rows
	ActiveRegistrations(ctx context.Context, tx *sqlx.Tx, sessionID uuid.UUID) ([]registration.Registration, error)
	// WaitlistedRegistrations locks and returns the session's waitlisted rows in position order
	WaitlistedRegistrations(ctx context.Context, tx *sqlx.Tx, sessionID uuid.UUID) ([]registration.Registration, error)
	// CancelRegistrations cancels the given rows, clearing positions
	CancelRegistrations(ctx context.Context, tx *sqlx.Tx, registrationIDs []uuid.UUID, at time.Time) error
	// StaleScheduled returns ids of scheduled sessions past the cutoff, skipping locked rows
	StaleScheduled(ctx context.Context, tx *sqlx.Tx, cutoff time.Time, limit int) ([]uuid.UUID, error)
	// ActorAdmin resolves an active user id to its admin flag
	ActorAdmin(ctx context.Context, userID uuid.UUID) (bool, error)
}

// Postgres is a Datastore wrapper around a postgres database
type Postgres struct {
	datastore.Postgres
}

// NewPostgres creates a new session Postgres Datastore
func NewPostgres(databaseURL string, performMigration bool) (Datastore, error) {
	pg, err := datastore.NewPostgres(databaseURL, performMigration)
	if err != nil {
		return nil, err
	}
	return &Postgres{*pg}, nil
}

// InsertSession creates a session row and returns it
func (pg *Postgres) InsertSession(ctx context.Context, tx *sqlx.Tx, sess *Session) (*Session, error) {
	var created Session
	err := tx.GetContext(ctx, &created, `
		insert into sessions (title, starts_at, timezone, capacity, fee_cents)
		values ($1, $2, $3, $4, $5)
		returning *`,
		sess.Title, sess.StartsAt, sess.Timezone, sess.Capacity, sess.FeeCents)
	if err != nil {
		return nil, err
	}
	return &created, nil
}

const summarySelect = `
	select
		s.*,
		coalesce(sum(r.seats) filter (where r.state = 'confirmed'), 0) as confirmed_seats,
		coalesce(sum(r.seats) filter (where r.state = 'waitlisted'), 0) as waitlisted_seats
	from sessions s
	left join registrations r on r.session_id = s.id`

// GetSummary reads a session with its seat statistics
func (pg *Postgres) GetSummary(ctx context.Context, sessionID uuid.UUID) (*Summary, error) {
	var summary Summary
	err := pg.RawDB().GetContext(ctx, &summary,
		summarySelect+` where s.id = $1 group by s.id`, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errorutils.New(errorutils.ErrNotFound, "session not found", nil)
	}
	if err != nil {
		return nil, err
	}
	return &summary, nil
}

// ListSummaries returns all sessions with seat statistics, soonest first
func (pg *Postgres) ListSummaries(ctx context.Context) ([]Summary, error) {
	summaries := []Summary{}
	err := pg.RawDB().SelectContext(ctx, &summaries,
		summarySelect+` group by s.id order by s.starts_at asc`)
	return summaries, err
}

// LockSession reads the full session row under an exclusive lock
func (pg *Postgres) LockSession(ctx context.Context, tx *sqlx.Tx, sessionID uuid.UUID) (*Session, error) {
	var sess Session
	err := tx.GetContext(ctx, &sess, `
		select * from sessions where id = $1 for update`, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errorutils.New(errorutils.ErrNotFound, "session not found", nil)
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// UpdateStatus sets the session status
func (pg *Postgres) UpdateStatus(ctx context.Context, tx *sqlx.Tx, sessionID uuid.UUID, status Status) error {
	_, err := tx.ExecContext(ctx, `
		update sessions set status = $2 where id = $1`, sessionID, status)
	return err
}

// UpdateCapacity sets the session capacity
func (pg *Postgres) UpdateCapacity(ctx context.Context, tx *sqlx.Tx, sessionID uuid.UUID, capacity int) error {
	_, err := tx.ExecContext(ctx, `
		update sessions set capacity = $2 where id = $1`, sessionID, capacity)
	return err
}

// ConfirmedSeats sums seats of confirmed rows for the session
func (pg *Postgres) ConfirmedSeats(ctx context.Context, tx *sqlx.Tx, sessionID uuid.UUID) (int, error) {
	var seats int
	err := tx.GetContext(ctx, &seats, `
		select coalesce(sum(seats), 0) from registrations
		where session_id = $1 and state = 'confirmed'`, sessionID)
	return seats, err
}

// ActiveRegistrations locks and returns the session's non-canceled rows
func (pg *Postgres) ActiveRegistrations(ctx context.Context, tx *sqlx.Tx, sessionID uuid.UUID) ([]registration.Registration, error) {
	regs := []registration.Registration{}
	err := tx.SelectContext(ctx, &regs, `
		select * from registrations
		where session_id = $1 and state <> 'canceled'
		order by created_at asc
		for update`, sessionID)
	return regs, err
}

// WaitlistedRegistrations locks and returns the session's waitlisted rows in position order
func (pg *Postgres) WaitlistedRegistrations(ctx context.Context, tx *sqlx.Tx, sessionID uuid.UUID) ([]registration.Registration, error) {
	regs := []registration.Registration{}
	err := tx.SelectContext(ctx, &regs, `
		select * from registrations
		where session_id = $1 and state = 'waitlisted'
		order by waitlist_pos asc
		for update`, sessionID)
	return regs, err
}

// CancelRegistrations cancels the given rows, clearing positions
func (pg *Postgres) CancelRegistrations(ctx context.Context, tx *sqlx.Tx, registrationIDs []uuid.UUID, at time.Time) error {
	if len(registrationIDs) == 0 {
		return nil
	}
	ids := make([]string, 0, len(registrationIDs))
	for _, id := range registrationIDs {
		ids = append(ids, id.String())
	}
	query, args, err := sqlx.In(`
		update registrations
		set state = 'canceled', waitlist_pos = null, canceled_at = ?
		where id in (?)`, at, ids)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, tx.Rebind(query), args...)
	return err
}

// StaleScheduled returns ids of scheduled sessions past the cutoff, skipping locked rows
func (pg *Postgres) StaleScheduled(ctx context.Context, tx *sqlx.Tx, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	ids := []uuid.UUID{}
	err := tx.SelectContext(ctx, &ids, `
		select id from sessions
		where status = 'scheduled' and starts_at <= $1
		order by starts_at asc
		limit $2
		for update skip locked`, cutoff, limit)
	return ids, err
}

// ActorAdmin resolves an active user id to its admin flag
func (pg *Postgres) ActorAdmin(ctx context.Context, userID uuid.UUID) (bool, error) {
	var isAdmin bool
	err := pg.RawDB().GetContext(ctx, &isAdmin, `
		select is_admin from users
		where id = $1 and status = 'active' and deleted_at is null`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, errorutils.New(errorutils.ErrNotAuthenticated, "unknown or disabled actor", nil)
	}
	return isAdmin, err
}
