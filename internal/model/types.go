package model

import (
	"time"

	"github.com/google/uuid"
)

// CallerKind tags who requested an OTP transaction.
type CallerKind string

const (
	CallerUser    CallerKind = "user"
	CallerService CallerKind = "service"
)

// User represents a user in the system
type User struct {
	ID             uuid.UUID
	PhoneNumber    string
	Credits        int
	CreditMode     string
	CashbackPoints int
	CreatedAt      time.Time
}

// Device represents a device belonging to a user
type Device struct {
	ID                 uuid.UUID
	UserID             uuid.UUID
	DeviceHash         string
	FcmToken           string
	IsActive           bool
	FailedToSendAck    int
	SentAckNotVerified int
	SentAckVerified    int
	TotalMessagesSent  int
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// OtpTransaction is the server-side record of one OTP challenge and its
// verification state.
type OtpTransaction struct {
	ID             uuid.UUID
	PhoneNumber    string
	OTPHash        []byte
	CallerKind     CallerKind
	UserID         *uuid.UUID
	OrgName        *string
	WebhookURL     *string
	WebhookSecret  *string
	ExpiresAt      time.Time
	ConsumedAt     *time.Time
	AcknowledgedAt *time.Time
	AcknowledgedBy *uuid.UUID
	AttemptCount   int
	CreatedAt      time.Time
}

// Session represents a login session. An API key is a session with
// NeverExpires set; revocation works the same way for both.
type Session struct {
	ID               uuid.UUID
	UserID           uuid.UUID
	DeviceID         *uuid.UUID
	RefreshTokenHash string
	NeverExpires     bool
	ExpiresAt        *time.Time
	RevokedAt        *time.Time
	CreatedAt        time.Time
}

// ApiKey is the user-facing descriptor of a never-expiring session
type ApiKey struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	SessionID  uuid.UUID
	Name       string
	CreatedAt  time.Time
	LastUsedAt *time.Time
}

// CashbackEntry is one append-only reward record
type CashbackEntry struct {
	ID            uuid.UUID
	UserID        uuid.UUID
	TransactionID uuid.UUID
	Amount        int
	Reason        string
	CreatedAt     time.Time
}
