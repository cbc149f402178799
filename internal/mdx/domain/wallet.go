package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionKind tags wallet ledger entries.
type TransactionKind string

const (
	TransactionKindPrizePayout    TransactionKind = "prize_payout"
	TransactionKindTicketPurchase TransactionKind = "ticket_purchase"
	TransactionKindTicketRefund   TransactionKind = "ticket_refund"
)

// WalletAccount holds an identity's spendable balance (MXN).
type WalletAccount struct {
	UserID    string
	Balance   decimal.Decimal
	UpdatedAt time.Time
}

// WalletTransaction is an append-only ledger row. Reference carries
// external evidence (e.g. a randomness proof) for the movement.
type WalletTransaction struct {
	ID        string
	UserID    string
	Kind      TransactionKind
	Amount    decimal.Decimal // positive for credits, negative for debits
	Reference string
	Detail    string
	CreatedAt time.Time
}
