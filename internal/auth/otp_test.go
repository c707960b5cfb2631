package auth

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orvio/server/internal/model"
	"github.com/orvio/server/internal/repo"
)

func TestHashOTPBytes_consistency(t *testing.T) {
	phone, code, salt := "+49123", "123456", "test-salt"
	h1 := hashOTPBytes(phone, code, salt)
	h2 := hashOTPBytes(phone, code, salt)
	if !bytes.Equal(h1, h2) {
		t.Errorf("hash should be deterministic: %x != %x", h1, h2)
	}
	if len(h1) != 32 {
		t.Errorf("SHA-256 hash should be 32 bytes, got %d", len(h1))
	}
}

func TestHashOTPBytes_differentInputsDifferentHash(t *testing.T) {
	salt := "salt"
	h1 := hashOTPBytes("+49123", "123456", salt)
	h2 := hashOTPBytes("+49124", "123456", salt)
	h3 := hashOTPBytes("+49123", "654321", salt)
	if bytes.Equal(h1, h2) || bytes.Equal(h1, h3) || bytes.Equal(h2, h3) {
		t.Error("different inputs should produce different hashes")
	}
}

func TestGenerateOTPCode(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		code, err := generateOTPCode()
		if err != nil {
			t.Fatalf("generateOTPCode: %v", err)
		}
		if len(code) != otpLength {
			t.Fatalf("code length = %d, want %d", len(code), otpLength)
		}
		for _, c := range code {
			if c < '0' || c > '9' {
				t.Fatalf("code %q contains non-digit", code)
			}
		}
		seen[code] = true
	}
	if len(seen) < 2 {
		t.Error("50 generated codes should not all be identical")
	}
}

// stubOtpRepo holds a single transaction in memory and records state changes.
type stubOtpRepo struct {
	tx       model.OtpTransaction
	consumed bool
	attempts int
}

func (r *stubOtpRepo) Create(ctx context.Context, tx model.OtpTransaction) (uuid.UUID, error) {
	return uuid.Nil, nil
}

func (r *stubOtpRepo) GetByID(ctx context.Context, id uuid.UUID) (model.OtpTransaction, error) {
	if id != r.tx.ID {
		return model.OtpTransaction{}, repo.ErrNotFound
	}
	t := r.tx
	t.AttemptCount = r.attempts
	if r.consumed {
		now := time.Now()
		t.ConsumedAt = &now
	}
	return t, nil
}

func (r *stubOtpRepo) IncrementAttempt(ctx context.Context, id uuid.UUID) (int, error) {
	r.attempts++
	return r.attempts, nil
}

func (r *stubOtpRepo) Consume(ctx context.Context, id uuid.UUID) (bool, error) {
	if r.consumed {
		return false, nil
	}
	r.consumed = true
	return true, nil
}

func (r *stubOtpRepo) TryBootstrapLatch(ctx context.Context) (bool, error) { return false, nil }

func (r *stubOtpRepo) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func newStubOtpService(kind model.CallerKind, phone, code, salt string) (*OtpService, *stubOtpRepo, uuid.UUID) {
	tid := uuid.New()
	stub := &stubOtpRepo{tx: model.OtpTransaction{
		ID:          tid,
		PhoneNumber: phone,
		OTPHash:     hashOTPBytes(phone, code, salt),
		CallerKind:  kind,
		ExpiresAt:   time.Now().Add(5 * time.Minute),
	}}
	return NewOtpService(stub, nil, salt), stub, tid
}

func TestVerify_UserSurfaceCannotConsumeServiceTransaction(t *testing.T) {
	svc, stub, tid := newStubOtpService(model.CallerService, "+49123", "424242", "salt")
	ctx := context.Background()

	_, err := svc.Verify(ctx, tid, "424242", model.CallerUser)
	require.ErrorIs(t, err, ErrOtpNotFound, "wrong surface must look like an unknown transaction")
	assert.False(t, stub.consumed, "a cross-surface attempt must not consume the transaction")
	assert.Zero(t, stub.attempts, "a cross-surface attempt must not burn an attempt")

	// The owning surface still gets its one successful verification.
	verified, err := svc.Verify(ctx, tid, "424242", model.CallerService)
	require.NoError(t, err)
	assert.Equal(t, tid, verified.ID)
	assert.True(t, stub.consumed)
}

func TestVerify_ServiceSurfaceCannotConsumeUserTransaction(t *testing.T) {
	svc, stub, tid := newStubOtpService(model.CallerUser, "+49124", "121212", "salt")
	ctx := context.Background()

	_, err := svc.Verify(ctx, tid, "121212", model.CallerService)
	require.ErrorIs(t, err, ErrOtpNotFound)
	assert.False(t, stub.consumed)

	verified, err := svc.Verify(ctx, tid, "121212", model.CallerUser)
	require.NoError(t, err)
	assert.Equal(t, "+49124", verified.PhoneNumber)
}

func TestVerify_AttemptsExhaustedBlocksCorrectCode(t *testing.T) {
	svc, stub, tid := newStubOtpService(model.CallerUser, "+49125", "777777", "salt")
	ctx := context.Background()

	for i := 0; i < maxAttempts; i++ {
		_, err := svc.Verify(ctx, tid, "000000", model.CallerUser)
		require.ErrorIs(t, err, ErrCodeMismatch)
	}

	_, err := svc.Verify(ctx, tid, "777777", model.CallerUser)
	require.ErrorIs(t, err, ErrAttemptsExhausted, "correct code after exhausting attempts must not verify")
	assert.False(t, stub.consumed)
}
