package wallet

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	uuid "github.com/satori/go.uuid"

	"github.com/shinminje20/birdie-buddies-backend/libs/datastore"
	errorutils "github.com/shinminje20/birdie-buddies-backend/libs/errors"
)

var countLedgerEntriesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "ledger_entries_total",
		Help: "count of ledger entries applied ( since last start ) broken down by kind",
	},
	[]string{"kind"},
)

func init() {
	prometheus.MustRegister(countLedgerEntriesTotal)
}

// Service contains the wallet datastore
type Service struct {
	Datastore Datastore
}

// InitService creates a service using the passed datastore
func InitService(datastore Datastore) (*Service, error) {
	return &Service{Datastore: datastore}, nil
}

// ApplyTx runs the ledger engine inside the caller's transaction and counts
// the applied entry
func (service *Service) ApplyTx(ctx context.Context, tx *sqlx.Tx, req ApplyRequest) (*LedgerEntry, error) {
	entry, err := service.Datastore.ApplyTx(ctx, tx, req)
	if err != nil {
		return nil, err
	}
	countLedgerEntriesTotal.With(prometheus.Labels{"kind": string(entry.Kind)}).Inc()
	return entry, nil
}

// Deposit posts external funds into a user's wallet in its own transaction
func (service *Service) Deposit(ctx context.Context, userID uuid.UUID, amountCents int64, idempotencyKey string) (*LedgerEntry, error) {
	result, err := datastore.RunSerializable(ctx, service.Datastore, func(tx *sqlx.Tx) (interface{}, error) {
		return service.ApplyTx(ctx, tx, ApplyRequest{
			UserID:         userID,
			Kind:           KindDepositIn,
			AmountCents:    amountCents,
			IdempotencyKey: idempotencyKey,
		})
	})
	if err != nil {
		return nil, err
	}
	return result.(*LedgerEntry), nil
}

// GetWallet returns the wallet summary for a user
func (service *Service) GetWallet(ctx context.Context, userID uuid.UUID) (*Wallet, error) {
	return service.Datastore.GetWallet(ctx, userID)
}

// ListLedger returns a keyset page of a user's ledger entries
func (service *Service) ListLedger(ctx context.Context, userID uuid.UUID, beforeID int64, limit int) ([]LedgerEntry, error) {
	return service.Datastore.ListLedgerEntries(ctx, userID, beforeID, limit)
}

// RequireAvailable checks that the wallet can cover amountCents, reading the
// snapshot inside the caller's transaction
func (service *Service) RequireAvailable(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, amountCents int64) error {
	wallet, err := service.Datastore.GetWalletTx(ctx, tx, userID)
	if err != nil {
		return err
	}
	if wallet.AvailableCents() < amountCents {
		return errorutils.New(errorutils.ErrInsufficientFunds, "insufficient available funds", nil)
	}
	return nil
}
