package models

import (
	"time"
)

// Account owner kinds.
const (
	OwnerTypeUser = "USER"
	OwnerTypePost = "POST"
)

// Ledger entry directions.
const (
	EntryTypeCredit = "CREDIT" // increases balance
	EntryTypeDebit  = "DEBIT"  // decreases balance
)

// Reference kinds tie a ledger entry back to the domain event that caused it.
const (
	RefTypePledge         = "PLEDGE"
	RefTypeTransfer       = "TRANSFER"
	RefTypeCreditPurchase = "CREDIT_PURCHASE"
	RefTypeRepayment      = "REPAYMENT"
)

// Account holds the GLM balance for a user or a post. Balances are whole GLM
// units and are only ever mutated through the ledger engine.
type Account struct {
	ID        string    `json:"id" db:"id"`
	OwnerType string    `json:"owner_type" db:"owner_type"` // USER or POST
	OwnerID   string    `json:"owner_id" db:"owner_id"`
	Balance   int64     `json:"balance_glm" db:"balance_glm"`
	Version   int       `json:"version" db:"version"` // for optimistic locking
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// LedgerEntry is one immutable record of a balance change. IDs come from a
// monotonic sequence so history pagination is stable under concurrent writes.
type LedgerEntry struct {
	ID        int64     `json:"id" db:"id"`
	AccountID string    `json:"account_id" db:"account_id"`
	EntryType string    `json:"entry_type" db:"entry_type"` // DEBIT or CREDIT
	Amount    int64     `json:"amount_glm" db:"amount_glm"`
	RefType   string    `json:"ref_type" db:"ref_type"`
	RefID     string    `json:"ref_id" db:"ref_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// AccountRef identifies an account by its owner before the account row exists.
type AccountRef struct {
	OwnerType string
	OwnerID   string
}

// Key returns the composite owner key. Used for deterministic lock ordering.
func (r AccountRef) Key() string {
	return r.OwnerType + ":" + r.OwnerID
}

// TransferIntent describes a requested movement of GLM before it commits.
// From is nil for system-issued credit (top-ups, signup grants).
type TransferIntent struct {
	Amount  int64
	From    *AccountRef
	To      AccountRef
	RefType string
	RefID   string
}

// TransferResult carries the committed entry pair. CreditEntry is always set;
// DebitEntry is nil for system-origin credit. Replayed marks an idempotent
// re-submission that returned the originally committed entries.
type TransferResult struct {
	DebitEntry  *LedgerEntry `json:"debit_entry,omitempty"`
	CreditEntry *LedgerEntry `json:"credit_entry"`
	Replayed    bool         `json:"replayed,omitempty"`
}

// WalletSummary aggregates an account's ledger for presentation.
type WalletSummary struct {
	Balance          int64 `json:"balance" example:"1100"`
	TotalReceived    int64 `json:"totalReceived" example:"1300"`
	TotalSent        int64 `json:"totalSent" example:"200"`
	TransactionCount int64 `json:"transactionCount" example:"3"`
}

// Pagination is the envelope returned with ledger history pages.
type Pagination struct {
	Page  int   `json:"page" example:"1"`
	Limit int   `json:"limit" example:"20"`
	Total int64 `json:"total" example:"42"`
	Pages int   `json:"pages" example:"3"`
}
