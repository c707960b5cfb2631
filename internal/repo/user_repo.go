package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/orvio/server/internal/model"
)

// ErrNotFound is returned when a queried row does not exist.
var ErrNotFound = errors.New("not found")

// ErrInsufficientCredits is returned when a debit would take the balance below zero.
var ErrInsufficientCredits = errors.New("insufficient credits")

// UserRepo defines the interface for user repository operations
type UserRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (model.User, error)
	GetByPhone(ctx context.Context, phone string) (model.User, error)
	GetOrCreateByPhone(ctx context.Context, phone string) (model.User, error)
	DebitCredits(ctx context.Context, userID uuid.UUID, amount int) (newBalance int, err error)
	RefundCredits(ctx context.Context, userID uuid.UUID, amount int) (newBalance int, err error)
	GetCreditMode(ctx context.Context, userID uuid.UUID) (string, error)
	SetCreditMode(ctx context.Context, userID uuid.UUID, mode string) error
}

type userRepo struct {
	db *sql.DB
}

// NewUserRepo creates a new UserRepo instance
func NewUserRepo(db *sql.DB) UserRepo {
	return &userRepo{db: db}
}

const userColumns = `id, phone_number, credits, credit_mode, cashback_points, created_at`

func scanUser(row *sql.Row) (model.User, error) {
	var user model.User
	var idStr string
	err := row.Scan(
		&idStr,
		&user.PhoneNumber,
		&user.Credits,
		&user.CreditMode,
		&user.CashbackPoints,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, ErrNotFound
		}
		return model.User{}, fmt.Errorf("query user: %w", err)
	}
	user.ID, err = uuid.Parse(idStr)
	if err != nil {
		return model.User{}, fmt.Errorf("parse user ID: %w", err)
	}
	return user, nil
}

// GetByID retrieves a user by ID
func (r *userRepo) GetByID(ctx context.Context, id uuid.UUID) (model.User, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+userColumns+` FROM users WHERE id = $1
	`, id)
	return scanUser(row)
}

// GetByPhone retrieves a user by phone number
func (r *userRepo) GetByPhone(ctx context.Context, phone string) (model.User, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+userColumns+` FROM users WHERE phone_number = $1
	`, phone)
	return scanUser(row)
}

// GetOrCreateByPhone retrieves a user by phone number or creates one if it
// doesn't exist. Users are created exactly once per phone number.
func (r *userRepo) GetOrCreateByPhone(ctx context.Context, phone string) (model.User, error) {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (phone_number)
		VALUES ($1)
		ON CONFLICT (phone_number) DO NOTHING
	`, phone)
	if err != nil {
		return model.User{}, fmt.Errorf("insert user: %w", err)
	}
	return r.GetByPhone(ctx, phone)
}

// DebitCredits atomically decrements the credit balance. The WHERE clause
// doubles as the floor check: if the balance is short no row is updated and
// the balance stays untouched.
func (r *userRepo) DebitCredits(ctx context.Context, userID uuid.UUID, amount int) (int, error) {
	var newBalance int
	err := r.db.QueryRowContext(ctx, `
		UPDATE users
		SET credits = credits - $2
		WHERE id = $1 AND credits >= $2
		RETURNING credits
	`, userID, amount).Scan(&newBalance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrInsufficientCredits
		}
		return 0, fmt.Errorf("debit credits: %w", err)
	}
	return newBalance, nil
}

// RefundCredits adds credits back after a failed dispatch.
func (r *userRepo) RefundCredits(ctx context.Context, userID uuid.UUID, amount int) (int, error) {
	var newBalance int
	err := r.db.QueryRowContext(ctx, `
		UPDATE users SET credits = credits + $2 WHERE id = $1 RETURNING credits
	`, userID, amount).Scan(&newBalance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("refund credits: %w", err)
	}
	return newBalance, nil
}

// GetCreditMode returns the user's current credit mode string.
func (r *userRepo) GetCreditMode(ctx context.Context, userID uuid.UUID) (string, error) {
	var mode string
	err := r.db.QueryRowContext(ctx, `
		SELECT credit_mode FROM users WHERE id = $1
	`, userID).Scan(&mode)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("get credit mode: %w", err)
	}
	return mode, nil
}

// SetCreditMode updates the user's credit mode. Takes effect on the next debit.
func (r *userRepo) SetCreditMode(ctx context.Context, userID uuid.UUID, mode string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE users SET credit_mode = $2 WHERE id = $1
	`, userID, mode)
	if err != nil {
		return fmt.Errorf("set credit mode: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
