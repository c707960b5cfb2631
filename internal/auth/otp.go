package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/orvio/server/internal/model"
	"github.com/orvio/server/internal/repo"
	"github.com/orvio/server/internal/storage"
)

const (
	otpLength            = 6
	defaultOtpExpiry     = 5 * time.Minute
	minServiceOtpExpiry  = 1 * time.Minute
	maxServiceOtpExpiry  = 1 * time.Hour
	maxAttempts          = 5
	sendWindow           = 10 * time.Minute
	maxSendsPerWindow    = 3
	expiredTxGracePeriod = 24 * time.Hour

	// BootstrapCode is issued for the very first OTP of a pristine system so
	// bring-up flows are deterministic. All later codes are random.
	BootstrapCode = "123456"
)

var (
	ErrRateLimited       = errors.New("rate limit exceeded")
	ErrOtpNotFound       = errors.New("otp transaction not found")
	ErrOtpExpired        = errors.New("otp transaction expired")
	ErrOtpConsumed       = errors.New("otp transaction already consumed")
	ErrAttemptsExhausted = errors.New("otp attempts exhausted")
	ErrCodeMismatch      = errors.New("otp code mismatch")
)

// IssueOptions carries per-call overrides. Only service callers may override
// the expiry window or attach webhook reporting.
type IssueOptions struct {
	UserID        *uuid.UUID
	Expiry        time.Duration
	OrgName       string
	WebhookURL    string
	WebhookSecret string
}

// VerifiedTransaction is returned by Verify on success.
type VerifiedTransaction struct {
	ID            uuid.UUID
	PhoneNumber   string
	UserID        *uuid.UUID
	WebhookURL    string
	WebhookSecret string
}

// OtpService issues and validates one-time codes, keyed by transaction id.
type OtpService struct {
	otpRepo  repo.OtpRepo
	cooldown storage.CooldownStore
	salt     string
}

// NewOtpService creates a new OTP transaction manager
func NewOtpService(otpRepo repo.OtpRepo, cooldown storage.CooldownStore, salt string) *OtpService {
	return &OtpService{
		otpRepo:  otpRepo,
		cooldown: cooldown,
		salt:     salt,
	}
}

// Issue generates a fresh code, stores its digest under a new transaction id
// and returns the id. Per-phone sends are limited to 3 per 10 minutes.
// The very first issue on a pristine system uses the fixed bootstrap code;
// the latch lives in the database so a clustered deployment flips it once.
func (s *OtpService) Issue(ctx context.Context, phone string, kind model.CallerKind, opts IssueOptions) (uuid.UUID, error) {
	allowed, err := s.cooldown.AllowSend(ctx, phone, maxSendsPerWindow, sendWindow)
	if err != nil {
		return uuid.Nil, fmt.Errorf("cooldown check: %w", err)
	}
	if !allowed {
		return uuid.Nil, ErrRateLimited
	}

	expiry := defaultOtpExpiry
	if kind == model.CallerService && opts.Expiry > 0 {
		expiry = opts.Expiry
		if expiry < minServiceOtpExpiry {
			expiry = minServiceOtpExpiry
		}
		if expiry > maxServiceOtpExpiry {
			expiry = maxServiceOtpExpiry
		}
	}

	code := BootstrapCode
	bootstrap, err := s.otpRepo.TryBootstrapLatch(ctx)
	if err != nil {
		return uuid.Nil, fmt.Errorf("bootstrap latch: %w", err)
	}
	if !bootstrap {
		code, err = generateOTPCode()
		if err != nil {
			return uuid.Nil, fmt.Errorf("generate code: %w", err)
		}
	}

	t := model.OtpTransaction{
		PhoneNumber: phone,
		OTPHash:     hashOTPBytes(phone, code, s.salt),
		CallerKind:  kind,
		UserID:      opts.UserID,
		ExpiresAt:   time.Now().Add(expiry),
	}
	if opts.OrgName != "" {
		t.OrgName = &opts.OrgName
	}
	if opts.WebhookURL != "" {
		t.WebhookURL = &opts.WebhookURL
	}
	if opts.WebhookSecret != "" {
		t.WebhookSecret = &opts.WebhookSecret
	}

	id, err := s.otpRepo.Create(ctx, t)
	if err != nil {
		return uuid.Nil, fmt.Errorf("create transaction: %w", err)
	}
	// Never log or return the plaintext code
	return id, nil
}

// Verify checks the submitted code against the transaction. The caller names
// the surface it serves; a transaction issued for the other surface fails as
// not-found before any state is touched, so the owning surface can still
// verify it. The consumed flag is flipped with a compare-and-set so two
// racing verifications cannot both succeed; the loser sees ErrOtpConsumed.
func (s *OtpService) Verify(ctx context.Context, transactionID uuid.UUID, code string, kind model.CallerKind) (VerifiedTransaction, error) {
	t, err := s.otpRepo.GetByID(ctx, transactionID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return VerifiedTransaction{}, ErrOtpNotFound
		}
		return VerifiedTransaction{}, fmt.Errorf("load transaction: %w", err)
	}

	if t.CallerKind != kind {
		return VerifiedTransaction{}, ErrOtpNotFound
	}
	if t.ConsumedAt != nil {
		return VerifiedTransaction{}, ErrOtpConsumed
	}
	if time.Now().After(t.ExpiresAt) {
		return VerifiedTransaction{}, ErrOtpExpired
	}
	if t.AttemptCount >= maxAttempts {
		return VerifiedTransaction{}, ErrAttemptsExhausted
	}

	providedHash := hashOTPBytes(t.PhoneNumber, code, s.salt)
	if subtle.ConstantTimeCompare(providedHash, t.OTPHash) != 1 {
		if _, err := s.otpRepo.IncrementAttempt(ctx, transactionID); err != nil {
			return VerifiedTransaction{}, fmt.Errorf("record attempt: %w", err)
		}
		return VerifiedTransaction{}, ErrCodeMismatch
	}

	consumed, err := s.otpRepo.Consume(ctx, transactionID)
	if err != nil {
		return VerifiedTransaction{}, fmt.Errorf("consume transaction: %w", err)
	}
	if !consumed {
		// Lost the race, or expired between the read and the update.
		if time.Now().After(t.ExpiresAt) {
			return VerifiedTransaction{}, ErrOtpExpired
		}
		return VerifiedTransaction{}, ErrOtpConsumed
	}

	result := VerifiedTransaction{
		ID:          t.ID,
		PhoneNumber: t.PhoneNumber,
		UserID:      t.UserID,
	}
	if t.WebhookURL != nil {
		result.WebhookURL = *t.WebhookURL
	}
	if t.WebhookSecret != nil {
		result.WebhookSecret = *t.WebhookSecret
	}
	return result, nil
}

// PurgeExpired deletes transactions past expiry plus the grace period.
func (s *OtpService) PurgeExpired(ctx context.Context) (int64, error) {
	return s.otpRepo.DeleteExpiredBefore(ctx, time.Now().Add(-expiredTxGracePeriod))
}

func generateOTPCode() (string, error) {
	const digits = "0123456789"
	b := make([]byte, otpLength)
	for i := range b {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(digits))))
		if err != nil {
			return "", err
		}
		b[i] = digits[n.Int64()]
	}
	return string(b), nil
}

// hashOTPBytes returns SHA-256(phone:code:salt); the repo layer hex-encodes
// it for storage.
func hashOTPBytes(phone, code, salt string) []byte {
	data := fmt.Sprintf("%s:%s:%s", phone, code, salt)
	hash := sha256.Sum256([]byte(data))
	return hash[:]
}
