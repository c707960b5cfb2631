package repo

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/orvio/server/internal/model"
)

// OtpRepo defines the interface for OTP transaction repository operations
type OtpRepo interface {
	Create(ctx context.Context, tx model.OtpTransaction) (uuid.UUID, error)
	GetByID(ctx context.Context, id uuid.UUID) (model.OtpTransaction, error)
	IncrementAttempt(ctx context.Context, id uuid.UUID) (newAttemptCount int, err error)
	// Consume sets consumed_at, but only if the transaction has not already
	// been consumed. Returns false if another verify got there first.
	Consume(ctx context.Context, id uuid.UUID) (bool, error)
	// TryBootstrapLatch flips the one-time system flag. Returns true exactly
	// once per database lifetime: for the caller that issues the very first OTP.
	TryBootstrapLatch(ctx context.Context) (bool, error)
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type otpRepo struct {
	db *sql.DB
}

// NewOtpRepo creates a new OtpRepo instance
func NewOtpRepo(db *sql.DB) OtpRepo {
	return &otpRepo{db: db}
}

// Create inserts a new OTP transaction and returns its id.
func (r *otpRepo) Create(ctx context.Context, t model.OtpTransaction) (uuid.UUID, error) {
	var idStr string
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO otp_transactions
			(phone_number, otp_hash, caller_kind, user_id, org_name, webhook_url, webhook_secret, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, t.PhoneNumber, hex.EncodeToString(t.OTPHash), string(t.CallerKind),
		uuidPtr(t.UserID), t.OrgName, t.WebhookURL, t.WebhookSecret, t.ExpiresAt).Scan(&idStr)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert otp transaction: %w", err)
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parse transaction ID: %w", err)
	}
	return id, nil
}

// GetByID returns the transaction regardless of its state; callers decide
// how expired/consumed rows map to errors.
func (r *otpRepo) GetByID(ctx context.Context, id uuid.UUID) (model.OtpTransaction, error) {
	query := `
		SELECT id, phone_number, otp_hash, caller_kind, user_id, org_name,
		       webhook_url, webhook_secret, expires_at, consumed_at,
		       acknowledged_at, acknowledged_by, attempt_count, created_at
		FROM otp_transactions
		WHERE id = $1
	`
	var t model.OtpTransaction
	var idStr, kind, otpHashHex string
	var userIDStr, ackByStr sql.NullString
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&idStr,
		&t.PhoneNumber,
		&otpHashHex,
		&kind,
		&userIDStr,
		&t.OrgName,
		&t.WebhookURL,
		&t.WebhookSecret,
		&t.ExpiresAt,
		&t.ConsumedAt,
		&t.AcknowledgedAt,
		&ackByStr,
		&t.AttemptCount,
		&t.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.OtpTransaction{}, ErrNotFound
		}
		return model.OtpTransaction{}, fmt.Errorf("query otp transaction: %w", err)
	}

	t.ID, err = uuid.Parse(idStr)
	if err != nil {
		return model.OtpTransaction{}, fmt.Errorf("parse transaction ID: %w", err)
	}
	t.CallerKind = model.CallerKind(kind)
	t.OTPHash, err = hex.DecodeString(otpHashHex)
	if err != nil {
		return model.OtpTransaction{}, fmt.Errorf("decode otp_hash: %w", err)
	}
	if userIDStr.Valid && userIDStr.String != "" {
		u, _ := uuid.Parse(userIDStr.String)
		t.UserID = &u
	}
	if ackByStr.Valid && ackByStr.String != "" {
		u, _ := uuid.Parse(ackByStr.String)
		t.AcknowledgedBy = &u
	}
	return t, nil
}

// IncrementAttempt bumps attempt_count and returns the new value.
func (r *otpRepo) IncrementAttempt(ctx context.Context, id uuid.UUID) (int, error) {
	var newCount int
	err := r.db.QueryRowContext(ctx, `
		UPDATE otp_transactions
		SET attempt_count = attempt_count + 1
		WHERE id = $1
		RETURNING attempt_count
	`, id).Scan(&newCount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("increment attempt: %w", err)
	}
	return newCount, nil
}

// Consume is the compare-and-set on the consumed flag: the WHERE clause makes
// concurrent verifies serialize at the row, so only one observes "not yet
// consumed".
func (r *otpRepo) Consume(ctx context.Context, id uuid.UUID) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE otp_transactions
		SET consumed_at = now()
		WHERE id = $1 AND consumed_at IS NULL AND expires_at > now()
	`, id)
	if err != nil {
		return false, fmt.Errorf("consume transaction: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("consume transaction: %w", err)
	}
	return n == 1, nil
}

// TryBootstrapLatch flips system_flags.bootstrap_otp_issued from false to
// true. The conditional UPDATE guarantees a single winner across the cluster.
func (r *otpRepo) TryBootstrapLatch(ctx context.Context) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE system_flags
		SET enabled = true
		WHERE name = 'bootstrap_otp_issued' AND enabled = false
	`)
	if err != nil {
		return false, fmt.Errorf("bootstrap latch: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("bootstrap latch: %w", err)
	}
	return n == 1, nil
}

// DeleteExpiredBefore removes transactions whose expiry passed before cutoff
// (expiry plus grace period, decided by the caller).
func (r *otpRepo) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM otp_transactions WHERE expires_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired transactions: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}

func uuidPtr(id *uuid.UUID) interface{} {
	if id == nil {
		return nil
	}
	return *id
}
