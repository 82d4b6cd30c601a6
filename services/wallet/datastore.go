package wallet

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	uuid "github.com/satori/go.uuid"

	"github.com/shinminje20/birdie-buddies-backend/libs/datastore"
	errorutils "github.com/shinminje20/birdie-buddies-backend/libs/errors"
)

// ApplyRequest carries the inputs of a single ledger application
type ApplyRequest struct {
	UserID         uuid.UUID
	Kind           Kind
	AmountCents    int64
	SessionID      *uuid.UUID
	RegistrationID *uuid.UUID
	IdempotencyKey string
}

// Datastore abstracts over the underlying datastore
type Datastore interface {
	datastore.Datastore
	// ApplyTx appends a ledger entry and updates wallet totals inside the caller's transaction
	ApplyTx(ctx context.Context, tx *sqlx.Tx, req ApplyRequest) (*LedgerEntry, error)
	// GetWalletTx reads the wallet row inside the caller's transaction without locking
	GetWalletTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID) (*Wallet, error)
	// GetWallet reads the wallet row outside any transaction
	GetWallet(ctx context.Context, userID uuid.UUID) (*Wallet, error)
	// ListLedgerEntries returns a keyset page of a user's ledger, newest first
	ListLedgerEntries(ctx context.Context, userID uuid.UUID, beforeID int64, limit int) ([]LedgerEntry, error)
}

// Postgres is a Datastore wrapper around a postgres database
type Postgres struct {
	datastore.Postgres
}

// NewPostgres creates a new wallet Postgres Datastore
func NewPostgres(databaseURL string, performMigration bool) (Datastore, error) {
	pg, err := datastore.NewPostgres(databaseURL, performMigration)
	if err != nil {
		return nil, err
	}
	return &Postgres{*pg}, nil
}

// ApplyTx appends a ledger entry and updates wallet totals inside the
// caller's transaction. Re-applying the same idempotency key returns the
// prior entry without touching the wallet.
func (pg *Postgres) ApplyTx(ctx context.Context, tx *sqlx.Tx, req ApplyRequest) (*LedgerEntry, error) {
	status, err := ValidateKindAmount(req.Kind, req.AmountCents)
	if err != nil {
		return nil, err
	}
	if len(req.IdempotencyKey) == 0 {
		return nil, errorutils.New(errorutils.ErrValidation, "ledger idempotency key is required", nil)
	}

	var existing LedgerEntry
	err = tx.GetContext(ctx, &existing,
		`select * from ledger_entries where idempotency_key = $1`, req.IdempotencyKey)
	if err == nil {
		return &existing, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	// ensure the wallet row exists and take the row lock before mutating
	_, err = tx.ExecContext(ctx,
		`insert into wallets (user_id) values ($1) on conflict (user_id) do nothing`, req.UserID)
	if err != nil {
		return nil, err
	}
	var wallet Wallet
	err = tx.GetContext(ctx, &wallet,
		`select * from wallets where user_id = $1 for update`, req.UserID)
	if err != nil {
		return nil, err
	}

	var entry LedgerEntry
	err = tx.GetContext(ctx, &entry, `
		insert into ledger_entries
			(user_id, session_id, registration_id, idempotency_key, kind, amount_cents, status)
		values ($1, $2, $3, $4, $5, $6, $7)
		on conflict (idempotency_key) do nothing
		returning *`,
		req.UserID, req.SessionID, req.RegistrationID, req.IdempotencyKey,
		req.Kind, req.AmountCents, status)
	if errors.Is(err, sql.ErrNoRows) {
		// lost an idempotency race, the earlier entry already carried the deltas
		err = tx.GetContext(ctx, &entry,
			`select * from ledger_entries where idempotency_key = $1`, req.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		return &entry, nil
	}
	if err != nil {
		return nil, err
	}

	column := "posted_cents"
	if AppliesToHolds(req.Kind) {
		column = "holds_cents"
	}
	_, err = tx.ExecContext(ctx,
		`update wallets set `+column+` = `+column+` + $1, updated_at = current_timestamp where user_id = $2`,
		req.AmountCents, req.UserID)
	if err != nil {
		return nil, err
	}

	return &entry, nil
}

// GetWalletTx reads the wallet row inside the caller's transaction
func (pg *Postgres) GetWalletTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID) (*Wallet, error) {
	var wallet Wallet
	err := tx.GetContext(ctx, &wallet, `select * from wallets where user_id = $1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return &Wallet{UserID: userID}, nil
	}
	if err != nil {
		return nil, err
	}
	return &wallet, nil
}

// GetWallet reads the wallet row, returning zero totals when no row exists yet
func (pg *Postgres) GetWallet(ctx context.Context, userID uuid.UUID) (*Wallet, error) {
	var wallet Wallet
	err := pg.RawDB().GetContext(ctx, &wallet, `select * from wallets where user_id = $1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return &Wallet{UserID: userID}, nil
	}
	if err != nil {
		return nil, err
	}
	return &wallet, nil
}

// ListLedgerEntries returns a keyset page of a user's ledger, newest first
func (pg *Postgres) ListLedgerEntries(ctx context.Context, userID uuid.UUID, beforeID int64, limit int) ([]LedgerEntry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	entries := []LedgerEntry{}
	if beforeID > 0 {
		err := pg.RawDB().SelectContext(ctx, &entries,
			`select * from ledger_entries where user_id = $1 and id < $2 order by id desc limit $3`,
			userID, beforeID, limit)
		return entries, err
	}
	err := pg.RawDB().SelectContext(ctx, &entries,
		`select * from ledger_entries where user_id = $1 order by id desc limit $2`,
		userID, limit)
	return entries, err
}
