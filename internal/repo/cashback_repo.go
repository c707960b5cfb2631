package repo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/orvio/server/internal/model"
)

// CashbackRepo defines the interface for cashback accrual operations
type CashbackRepo interface {
	// AcknowledgeAndCredit atomically marks the transaction acknowledged and,
	// if this call won the marker, appends a cashback entry and credits the
	// user's point balance. Returns false without side effects when the
	// transaction is unverified, unknown, or already acknowledged.
	AcknowledgeAndCredit(ctx context.Context, transactionID, userID uuid.UUID, amount int, reason string) (credited bool, err error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]model.CashbackEntry, error)
}

type cashbackRepo struct {
	db *sql.DB
}

// NewCashbackRepo creates a new CashbackRepo instance
func NewCashbackRepo(db *sql.DB) CashbackRepo {
	return &cashbackRepo{db: db}
}

// AcknowledgeAndCredit runs the ack marker and the credit in one DB
// transaction. The conditional UPDATE is the idempotency guard: repeat
// acknowledgments match zero rows and the credit never runs twice.
func (r *cashbackRepo) AcknowledgeAndCredit(ctx context.Context, transactionID, userID uuid.UUID, amount int, reason string) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE otp_transactions
		SET acknowledged_at = now(), acknowledged_by = $2
		WHERE id = $1
		  AND consumed_at IS NOT NULL
		  AND acknowledged_at IS NULL
	`, transactionID, userID)
	if err != nil {
		return false, fmt.Errorf("mark acknowledged: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark acknowledged: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO cashback_entries (user_id, transaction_id, amount, reason)
		VALUES ($1, $2, $3, $4)
	`, userID, transactionID, amount, reason)
	if err != nil {
		return false, fmt.Errorf("insert cashback entry: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE users SET cashback_points = cashback_points + $2 WHERE id = $1
	`, userID, amount)
	if err != nil {
		return false, fmt.Errorf("credit cashback points: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

// ListByUser returns the user's cashback history, newest first.
func (r *cashbackRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]model.CashbackEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, transaction_id, amount, reason, created_at
		FROM cashback_entries
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list cashback entries: %w", err)
	}
	defer rows.Close()

	var entries []model.CashbackEntry
	for rows.Next() {
		var e model.CashbackEntry
		var idStr, userIDStr, txIDStr string
		if err := rows.Scan(&idStr, &userIDStr, &txIDStr, &e.Amount, &e.Reason, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan cashback entry: %w", err)
		}
		e.ID, _ = uuid.Parse(idStr)
		e.UserID, _ = uuid.Parse(userIDStr)
		e.TransactionID, _ = uuid.Parse(txIDStr)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list cashback entries: %w", err)
	}
	return entries, nil
}
