package registration

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	uuid "github.com/satori/go.uuid"

	"github.com/shinminje20/birdie-buddies-backend/libs/datastore"
	errorutils "github.com/shinminje20/birdie-buddies-backend/libs/errors"
)

// SessionRow is the slice of the sessions table the allocator needs
type SessionRow struct {
	ID       uuid.UUID `db:"id"`
	StartsAt time.Time `db:"starts_at"`
	Timezone string    `db:"timezone"`
	Capacity int       `db:"capacity"`
	FeeCents int64     `db:"fee_cents"`
	Status   string    `db:"status"`
}

// Datastore abstracts over the underlying datastore
type Datastore interface {
	datastore.Datastore
	// LockSession reads the session row under an exclusive lock
	LockSession(ctx context.Context, tx *sqlx.Tx, sessionID uuid.UUID) (*SessionRow, error)
	// GetSession reads the session row without locking
	GetSession(ctx context.Context, sessionID uuid.UUID) (*SessionRow, error)
	// ActiveHostExists reports whether a non-canceled host row exists for (session, user)
	ActiveHostExists(ctx context.Context, tx *sqlx.Tx, sessionID, userID uuid.UUID) (bool, error)
	// ActiveHostExistsDB is the out-of-transaction ingress variant
	ActiveHostExistsDB(ctx context.Context, sessionID, userID uuid.UUID) (bool, error)
	// ConfirmedSeats sums seats of confirmed rows for the session
	ConfirmedSeats(ctx context.Context, tx *sqlx.Tx, sessionID uuid.UUID) (int, error)
	// NextWaitlistPos computes the current tail position plus one
	NextWaitlistPos(ctx context.Context, tx *sqlx.Tx, sessionID uuid.UUID) (int, error)
	// WaitlistExists reports whether any waitlisted row exists for the session
	WaitlistExists(ctx context.Context, tx *sqlx.Tx, sessionID uuid.UUID) (bool, error)
	// InsertRegistration inserts a row and returns it
	InsertRegistration(ctx context.Context, tx *sqlx.Tx, reg *Registration) (*Registration, error)
	// LockRegistration reads a registration row under an exclusive lock
	LockRegistration(ctx context.Context, tx *sqlx.Tx, registrationID uuid.UUID) (*Registration, error)
	// LockWaitlistHead reads the lowest-position waitlisted row, skipping locked rows
	LockWaitlistHead(ctx context.Context, tx *sqlx.Tx, sessionID uuid.UUID) (*Registration, error)
	// MarkConfirmed promotes a row, clearing its waitlist position
	MarkConfirmed(ctx context.Context, tx *sqlx.Tx, registrationID uuid.UUID) error
	// MarkCanceled cancels a row, clearing its waitlist position
	MarkCanceled(ctx context.Context, tx *sqlx.Tx, registrationID uuid.UUID, at time.Time) error
	// CollapseWaitlistAfter shifts positions above the vacated one down by one
	CollapseWaitlistAfter(ctx context.Context, tx *sqlx.Tx, sessionID uuid.UUID, vacatedPos int) error
	// GroupSiblings reads the non-canceled sibling rows of a group under skip-locked locks
	GroupSiblings(ctx context.Context, tx *sqlx.Tx, sessionID uuid.UUID, groupKey uuid.UUID, exceptID uuid.UUID) ([]Registration, error)
	// ActiveGuestCount counts non-canceled guest rows of a group
	ActiveGuestCount(ctx context.Context, tx *sqlx.Tx, sessionID uuid.UUID, groupKey uuid.UUID, hostRegID uuid.UUID) (int, error)
	// SetGroupKey assigns a group key to a row
	SetGroupKey(ctx context.Context, tx *sqlx.Tx, registrationID, groupKey uuid.UUID) error
	// UpdateGuestList replaces a row's seats and guest names
	UpdateGuestList(ctx context.Context, tx *sqlx.Tx, registrationID uuid.UUID, seats int, guestNames []string) error
	// ListByUser returns a user's registrations newest first
	ListByUser(ctx context.Context, userID uuid.UUID) ([]Registration, error)
	// ScheduledSessionIDs returns the ids of all scheduled sessions
	ScheduledSessionIDs(ctx context.Context) ([]uuid.UUID, error)
}

// Postgres is a Datastore wrapper around a postgres database
type Postgres struct {
	datastore.Postgres
}

// NewPostgres creates a new registration Postgres Datastore
func NewPostgres(databaseURL string, performMigration bool) (Datastore, error) {
	pg, err := datastore.NewPostgres(databaseURL, performMigration)
	if err != nil {
		return nil, err
	}
	return &Postgres{*pg}, nil
}

// LockSession reads the session row under an exclusive lock
func (pg *Postgres) LockSession(ctx context.Context, tx *sqlx.Tx, sessionID uuid.UUID) (*SessionRow, error) {
	var sess SessionRow
	err := tx.GetContext(ctx, &sess, `
		select id, starts_at, timezone, capacity, fee_cents, status
		from sessions where id = $1 for update`, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errorutils.New(errorutils.ErrNotFound, "session not found", nil)
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// GetSession reads the session row without locking
func (pg *Postgres) GetSession(ctx context.Context, sessionID uuid.UUID) (*SessionRow, error) {
	var sess SessionRow
	err := pg.RawDB().GetContext(ctx, &sess, `
		select id, starts_at, timezone, capacity, fee_cents, status
		from sessions where id = $1`, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errorutils.New(errorutils.ErrNotFound, "session not found", nil)
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// ActiveHostExists reports whether a non-canceled host row exists for (session, user)
func (pg *Postgres) ActiveHostExists(ctx context.Context, tx *sqlx.Tx, sessionID, userID uuid.UUID) (bool, error) {
	var exists bool
	err := tx.GetContext(ctx, &exists, `
		select exists (
			select 1 from registrations
			where session_id = $1 and host_user_id = $2 and is_host and state <> 'canceled'
		)`, sessionID, userID)
	return exists, err
}

// ActiveHostExistsDB is the out-of-transaction ingress variant
func (pg *Postgres) ActiveHostExistsDB(ctx context.Context, sessionID, userID uuid.UUID) (bool, error) {
	var exists bool
	err := pg.RawDB().GetContext(ctx, &exists, `
		select exists (
			select 1 from registrations
			where session_id = $1 and host_user_id = $2 and is_host and state <> 'canceled'
		)`, sessionID, userID)
	return exists, err
}

// ConfirmedSeats sums seats of confirmed rows for the session
func (pg *Postgres) ConfirmedSeats(ctx context.Context, tx *sqlx.Tx, sessionID uuid.UUID) (int, error) {
	var seats int
	err := tx.GetContext(ctx, &seats, `
		select coalesce(sum(seats), 0) from registrations
		where session_id = $1 and state = 'confirmed'`, sessionID)
	return seats, err
}

// NextWaitlistPos computes the current tail position plus one
func (pg *Postgres) NextWaitlistPos(ctx context.Context, tx *sqlx.Tx, sessionID uuid.UUID) (int, error) {
	var maxPos int
	err := tx.GetContext(ctx, &maxPos, `
		select coalesce(max(waitlist_pos), 0) from registrations
		where session_id = $1 and state = 'waitlisted'`, sessionID)
	return maxPos + 1, err
}

// WaitlistExists reports whether any waitlisted row exists for the session
func (pg *Postgres) WaitlistExists(ctx context.Context, tx *sqlx.Tx, sessionID uuid.UUID) (bool, error) {
	var exists bool
	err := tx.GetContext(ctx, &exists, `
		select exists (
			select 1 from registrations where session_id = $1 and state = 'waitlisted'
		)`, sessionID)
	return exists, err
}

// InsertRegistration inserts a row and returns it
func (pg *Postgres) InsertRegistration(ctx context.Context, tx *sqlx.Tx, reg *Registration) (*Registration, error) {
	var inserted Registration
	guestNames := reg.GuestNames
	if guestNames == nil {
		guestNames = pq.StringArray{}
	}
	err := tx.GetContext(ctx, &inserted, `
		insert into registrations
			(session_id, host_user_id, group_key, is_host, seats, guest_names, state, waitlist_pos)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
		returning *`,
		reg.SessionID, reg.HostUserID, reg.GroupKey, reg.IsHost, reg.Seats,
		guestNames, reg.State, reg.WaitlistPos)
	if err != nil {
		return nil, err
	}
	return &inserted, nil
}

// LockRegistration reads a registration row under an exclusive lock
func (pg *Postgres) LockRegistration(ctx context.Context, tx *sqlx.Tx, registrationID uuid.UUID) (*Registration, error) {
	var reg Registration
	err := tx.GetContext(ctx, &reg,
		`select * from registrations where id = $1 for update`, registrationID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errorutils.New(errorutils.ErrNotFound, "registration not found", nil)
	}
	if err != nil {
		return nil, err
	}
	return &reg, nil
}

// LockWaitlistHead reads the lowest-position waitlisted row, skipping locked rows
func (pg *Postgres) LockWaitlistHead(ctx context.Context, tx *sqlx.Tx, sessionID uuid.UUID) (*Registration, error) {
	var reg Registration
	err := tx.GetContext(ctx, &reg, `
		select * from registrations
		where session_id = $1 and state = 'waitlisted'
		order by waitlist_pos asc
		limit 1
		for update skip locked`, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &reg, nil
}

// MarkConfirmed promotes a row, clearing its waitlist position
func (pg *Postgres) MarkConfirmed(ctx context.Context, tx *sqlx.Tx, registrationID uuid.UUID) error {
	_, err := tx.ExecContext(ctx, `
		update registrations set state = 'confirmed', waitlist_pos = null
		where id = $1`, registrationID)
	return err
}

// MarkCanceled cancels a row, clearing its waitlist position
func (pg *Postgres) MarkCanceled(ctx context.Context, tx *sqlx.Tx, registrationID uuid.UUID, at time.Time) error {
	_, err := tx.ExecContext(ctx, `
		update registrations set state = 'canceled', waitlist_pos = null, canceled_at = $2
		where id = $1`, registrationID, at)
	return err
}

// CollapseWaitlistAfter shifts positions above the vacated one down by one.
// Rows shift in ascending order so the unique position index never sees a
// transient collision mid-shift.
func (pg *Postgres) CollapseWaitlistAfter(ctx context.Context, tx *sqlx.Tx, sessionID uuid.UUID, vacatedPos int) error {
	ids := []uuid.UUID{}
	err := tx.SelectContext(ctx, &ids, `
		select id from registrations
		where session_id = $1 and state = 'waitlisted' and waitlist_pos > $2
		order by waitlist_pos`,
		sessionID, vacatedPos)
	if err != nil {
		return err
	}
	for _, id := range ids {
		_, err := tx.ExecContext(ctx,
			`update registrations set waitlist_pos = waitlist_pos - 1 where id = $1`, id)
		if err != nil {
			return err
		}
	}
	return nil
}

// GroupSiblings reads the non-canceled sibling rows of a group under skip-locked locks
func (pg *Postgres) GroupSiblings(ctx context.Context, tx *sqlx.Tx, sessionID uuid.UUID, groupKey uuid.UUID, exceptID uuid.UUID) ([]Registration, error) {
	siblings := []Registration{}
	err := tx.SelectContext(ctx, &siblings, `
		select * from registrations
		where session_id = $1 and group_key = $2 and id <> $3 and state <> 'canceled'
		order by created_at
		for update skip locked`, sessionID, groupKey, exceptID)
	return siblings, err
}

// ActiveGuestCount counts non-canceled guest rows of a group
func (pg *Postgres) ActiveGuestCount(ctx context.Context, tx *sqlx.Tx, sessionID uuid.UUID, groupKey uuid.UUID, hostRegID uuid.UUID) (int, error) {
	var count int
	err := tx.GetContext(ctx, &count, `
		select count(*) from registrations
		where session_id = $1 and group_key = $2 and id <> $3
			and not is_host and state <> 'canceled'`,
		sessionID, groupKey, hostRegID)
	return count, err
}

// SetGroupKey assigns a group key to a row
func (pg *Postgres) SetGroupKey(ctx context.Context, tx *sqlx.Tx, registrationID, groupKey uuid.UUID) error {
	_, err := tx.ExecContext(ctx,
		`update registrations set group_key = $2 where id = $1`, registrationID, groupKey)
	return err
}

// UpdateGuestList replaces a row's seats and guest names
func (pg *Postgres) UpdateGuestList(ctx context.Context, tx *sqlx.Tx, registrationID uuid.UUID, seats int, guestNames []string) error {
	_, err := tx.ExecContext(ctx, `
		update registrations set seats = $2, guest_names = $3 where id = $1`,
		registrationID, seats, pq.StringArray(guestNames))
	return err
}

// ListByUser returns a user's registrations newest first
func (pg *Postgres) ListByUser(ctx context.Context, userID uuid.UUID) ([]Registration, error) {
	regs := []Registration{}
	err := pg.RawDB().SelectContext(ctx, &regs, `
		select * from registrations where host_user_id = $1 order by created_at desc`, userID)
	return regs, err
}

// ScheduledSessionIDs returns the ids of all scheduled sessions
func (pg *Postgres) ScheduledSessionIDs(ctx context.Context) ([]uuid.UUID, error) {
	ids := []uuid.UUID{}
	err := pg.RawDB().SelectContext(ctx, &ids, `
		select id from sessions where status = 'scheduled'`)
	return ids, err
}
