package wallet

import (
	"time"

	uuid "github.com/satori/go.uuid"

	errorutils "github.com/shinminje20/birdie-buddies-backend/libs/errors"
)

// Kind is the closed set of ledger entry kinds
type Kind string

const (
	// KindDepositIn - funds entering the wallet from outside
	KindDepositIn Kind = "deposit_in"
	// KindRefund - funds returned to the wallet after a cancellation
	KindRefund Kind = "refund"
	// KindFeeCapture - a session fee taken from posted funds
	KindFeeCapture Kind = "fee_capture"
	// KindPenalty - a cancellation penalty taken from posted funds
	KindPenalty Kind = "penalty"
	// KindHold - a provisional claim against available funds while waitlisted
	KindHold Kind = "hold"
	// KindHoldRelease - removal of a previously placed hold
	KindHoldRelease Kind = "hold_release"
)

// EntryStatus is the closed set of ledger entry statuses
type EntryStatus string

const (
	// StatusPosted - the entry settles against posted funds
	StatusPosted EntryStatus = "posted"
	// StatusHeld - the entry settles against held funds
	StatusHeld EntryStatus = "held"
)

// kindRule describes the canonical sign, status and wallet column for a kind
type kindRule struct {
	status EntryStatus
	// sign: -1 requires a negative amount, 1 requires positive, 0 any non-zero
	sign int
	// toHolds: the amount applies to holds_cents rather than posted_cents
	toHolds bool
}

var kindRules = map[Kind]kindRule{
	KindDepositIn:   {status: StatusPosted, sign: 0},
	KindRefund:      {status: StatusPosted, sign: 1},
	KindFeeCapture:  {status: StatusPosted, sign: -1},
	KindPenalty:     {status: StatusPosted, sign: -1},
	KindHold:        {status: StatusHeld, sign: 1, toHolds: true},
	KindHoldRelease: {status: StatusPosted, sign: -1, toHolds: true},
}

// ValidateKindAmount checks an amount against the canonical rules for its
// kind, returning the entry status to record
func ValidateKindAmount(kind Kind, amountCents int64) (EntryStatus, error) {
	rule, ok := kindRules[kind]
	if !ok {
		return "", errorutils.New(errorutils.ErrValidation, "unknown ledger kind: "+string(kind), nil)
	}
	if amountCents == 0 {
		return "", errorutils.New(errorutils.ErrValidation, "ledger amount must be non-zero", nil)
	}
	if rule.sign > 0 && amountCents < 0 {
		return "", errorutils.New(errorutils.ErrValidation, string(kind)+" amount must be positive", nil)
	}
	if rule.sign < 0 && amountCents > 0 {
		return "", errorutils.New(errorutils.ErrValidation, string(kind)+" amount must be negative", nil)
	}
	return rule.status, nil
}

// AppliesToHolds returns true when the kind's amount moves holds_cents
func AppliesToHolds(kind Kind) bool {
	return kindRules[kind].toHolds
}

// LedgerEntry is an append-only record of a wallet mutation
type LedgerEntry struct {
	ID             int64       `json:"id" db:"id"`
	UserID         uuid.UUID   `json:"userId" db:"user_id"`
	SessionID      *uuid.UUID  `json:"sessionId,omitempty" db:"session_id"`
	RegistrationID *uuid.UUID  `json:"registrationId,omitempty" db:"registration_id"`
	IdempotencyKey *string     `json:"-" db:"idempotency_key"`
	Kind           Kind        `json:"kind" db:"kind"`
	AmountCents    int64       `json:"amountCents" db:"amount_cents"`
	Status         EntryStatus `json:"status" db:"status"`
	CreatedAt      time.Time   `json:"createdAt" db:"created_at"`
}

// Wallet holds the materialized per-user totals
type Wallet struct {
	UserID      uuid.UUID `json:"userId" db:"user_id"`
	PostedCents int64     `json:"postedCents" db:"posted_cents"`
	HoldsCents  int64     `json:"holdsCents" db:"holds_cents"`
	UpdatedAt   time.Time `json:"updatedAt" db:"updated_at"`
}

// AvailableCents derives the spendable balance
func (w *Wallet) AvailableCents() int64 {
	return w.PostedCents - w.HoldsCents
}
