package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/goloanme/backend/internal/models"
)

// LedgerLog is the append-only history of balance changes. Entries are never
// updated or deleted; ordering rides on the bigserial id, which is strictly
// monotonic, so pages stay stable while new entries land above them.
type LedgerLog struct {
	db *sql.DB
}

func NewLedgerLog(db *sql.DB) *LedgerLog {
	return &LedgerLog{db: db}
}

// LedgerFilter narrows a history listing. Zero values mean no filtering.
type LedgerFilter struct {
	EntryType string // CREDIT or DEBIT
	RefType   string // PLEDGE, TRANSFER, CREDIT_PURCHASE, REPAYMENT
}

// AppendTx writes one immutable entry inside the caller's transaction and
// fills in the generated id and timestamp.
func (l *LedgerLog) AppendTx(tx *sql.Tx, entry *models.LedgerEntry) error {
	entry.CreatedAt = time.Now()
	err := tx.QueryRow(`
		INSERT INTO ledger_entries (account_id, entry_type, amount_glm, ref_type, ref_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		entry.AccountID, entry.EntryType, entry.Amount, entry.RefType, entry.RefID, entry.CreatedAt).
		Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("append ledger entry: %w", err)
	}
	return nil
}

// FindByReferenceTx returns the entries already committed for a reference, if
// any. The engine uses it to turn a replayed reference into the original
// result instead of posting twice.
func (l *LedgerLog) FindByReferenceTx(tx *sql.Tx, refType, refID string) ([]models.LedgerEntry, error) {
	rows, err := tx.Query(`
		SELECT id, account_id, entry_type, amount_glm, ref_type, ref_id, created_at
		FROM ledger_entries
		WHERE ref_type = $1 AND ref_id = $2
		ORDER BY id`, refType, refID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.LedgerEntry
	for rows.Next() {
		var e models.LedgerEntry
		if err := rows.Scan(&e.ID, &e.AccountID, &e.EntryType, &e.Amount, &e.RefType, &e.RefID, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ListForAccount returns one page of an account's history, newest first, plus
// the total entry count for the pagination envelope.
func (l *LedgerLog) ListForAccount(ctx context.Context, accountID string, filter LedgerFilter, page, limit int) ([]models.LedgerEntry, int64, error) {
	where := "WHERE account_id = $1"
	args := []any{accountID}
	if filter.EntryType != "" {
		args = append(args, filter.EntryType)
		where += fmt.Sprintf(" AND entry_type = $%d", len(args))
	}
	if filter.RefType != "" {
		args = append(args, filter.RefType)
		where += fmt.Sprintf(" AND ref_type = $%d", len(args))
	}

	var total int64
	if err := l.db.QueryRowContext(ctx, "SELECT count(*) FROM ledger_entries "+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	args = append(args, limit, offset)
	query := fmt.Sprintf(`
		SELECT id, account_id, entry_type, amount_glm, ref_type, ref_id, created_at
		FROM ledger_entries %s
		ORDER BY id DESC LIMIT $%d OFFSET $%d`, where, len(args)-1, len(args))

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var entries []models.LedgerEntry
	for rows.Next() {
		var e models.LedgerEntry
		if err := rows.Scan(&e.ID, &e.AccountID, &e.EntryType, &e.Amount, &e.RefType, &e.RefID, &e.CreatedAt); err != nil {
			return nil, 0, err
		}
		entries = append(entries, e)
	}
	return entries, total, rows.Err()
}

// SumsForAccount totals CREDIT and DEBIT amounts and counts entries in one
// pass for the wallet summary.
func (l *LedgerLog) SumsForAccount(ctx context.Context, accountID string) (received, sent, count int64, err error) {
	err = l.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN entry_type = 'CREDIT' THEN amount_glm ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN entry_type = 'DEBIT' THEN amount_glm ELSE 0 END), 0),
			count(*)
		FROM ledger_entries
		WHERE account_id = $1`, accountID).
		Scan(&received, &sent, &count)
	return received, sent, count, err
}
