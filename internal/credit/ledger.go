// Package credit implements the per-user credit ledger that meters
// service-initiated OTP dispatch.
package credit

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/orvio/server/internal/repo"
)

// ErrInsufficientCredits is returned when a debit would take the balance
// below zero. The balance is left unchanged.
var ErrInsufficientCredits = errors.New("insufficient credits")

// ErrInvalidMode is returned for credit mode strings outside the enumeration.
var ErrInvalidMode = errors.New("invalid credit mode")

// Mode is the closed consumption-mode enumeration.
type Mode string

const (
	ModeDirect   Mode = "direct"
	ModeModerate Mode = "moderate"
	ModeStrict   Mode = "strict"
)

// ParseMode validates a mode string from the API.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeDirect, ModeModerate, ModeStrict:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
	}
}

// Cost returns the credits consumed per OTP dispatch in the given mode.
func Cost(m Mode) int {
	switch m {
	case ModeDirect:
		return 1
	case ModeModerate:
		return 1
	case ModeStrict:
		return 2
	default:
		// Unreachable for values produced by ParseMode; strict is the most
		// expensive fallback so a bad row never under-charges.
		return 2
	}
}

// Ledger exposes balance and mode operations on top of the user repository.
type Ledger struct {
	userRepo repo.UserRepo
}

// NewLedger creates a new credit ledger
func NewLedger(userRepo repo.UserRepo) *Ledger {
	return &Ledger{userRepo: userRepo}
}

// Balance returns the user's current credit balance.
func (l *Ledger) Balance(ctx context.Context, userID uuid.UUID) (int, error) {
	user, err := l.userRepo.GetByID(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("get balance: %w", err)
	}
	return user.Credits, nil
}

// GetMode returns the user's current consumption mode.
func (l *Ledger) GetMode(ctx context.Context, userID uuid.UUID) (Mode, error) {
	raw, err := l.userRepo.GetCreditMode(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("get credit mode: %w", err)
	}
	mode, err := ParseMode(raw)
	if err != nil {
		return "", fmt.Errorf("stored credit mode: %w", err)
	}
	return mode, nil
}

// SetMode updates the consumption mode; it takes effect on the next debit.
func (l *Ledger) SetMode(ctx context.Context, userID uuid.UUID, mode Mode) error {
	if _, err := ParseMode(string(mode)); err != nil {
		return err
	}
	return l.userRepo.SetCreditMode(ctx, userID, string(mode))
}

// Debit atomically removes amount credits and returns the new balance.
// Fails with ErrInsufficientCredits leaving the balance unchanged.
func (l *Ledger) Debit(ctx context.Context, userID uuid.UUID, amount int) (int, error) {
	newBalance, err := l.userRepo.DebitCredits(ctx, userID, amount)
	if err != nil {
		if errors.Is(err, repo.ErrInsufficientCredits) {
			return 0, ErrInsufficientCredits
		}
		return 0, fmt.Errorf("debit: %w", err)
	}
	return newBalance, nil
}

// Refund compensates a debit when the dispatch it paid for failed.
func (l *Ledger) Refund(ctx context.Context, userID uuid.UUID, amount int) (int, error) {
	newBalance, err := l.userRepo.RefundCredits(ctx, userID, amount)
	if err != nil {
		return 0, fmt.Errorf("refund: %w", err)
	}
	return newBalance, nil
}
