package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/orvio/server/internal/model"
)

// ErrDeviceOwnedByOther is returned when a device hash is already bound to a
// different user.
var ErrDeviceOwnedByOther = errors.New("device registered to another user")

// DeviceRepo defines the interface for device repository operations
type DeviceRepo interface {
	Upsert(ctx context.Context, userID uuid.UUID, deviceHash, fcmToken string) (model.Device, error)
	GetByUser(ctx context.Context, userID uuid.UUID) (model.Device, error)
	GetByID(ctx context.Context, id uuid.UUID) (model.Device, error)
	Deactivate(ctx context.Context, id uuid.UUID) error
	DeactivateAllForUser(ctx context.Context, userID uuid.UUID) error
	BumpAckVerified(ctx context.Context, id uuid.UUID) error
}

type deviceRepo struct {
	db *sql.DB
}

// NewDeviceRepo creates a new DeviceRepo instance
func NewDeviceRepo(db *sql.DB) DeviceRepo {
	return &deviceRepo{db: db}
}

const deviceColumns = `id, user_id, device_hash, fcm_token, is_active,
	failed_to_send_ack, sent_ack_not_verified, sent_ack_verified,
	total_messages_sent, created_at, updated_at`

func scanDevice(row *sql.Row) (model.Device, error) {
	var d model.Device
	var idStr, userIDStr string
	err := row.Scan(
		&idStr,
		&userIDStr,
		&d.DeviceHash,
		&d.FcmToken,
		&d.IsActive,
		&d.FailedToSendAck,
		&d.SentAckNotVerified,
		&d.SentAckVerified,
		&d.TotalMessagesSent,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Device{}, ErrNotFound
		}
		return model.Device{}, fmt.Errorf("query device: %w", err)
	}
	d.ID, _ = uuid.Parse(idStr)
	d.UserID, _ = uuid.Parse(userIDStr)
	return d, nil
}

// Upsert registers a device for the user, keyed by (user_id, device_hash).
// Re-registering the same device refreshes the push token and reactivates it.
// A hash owned by a different user is rejected.
func (r *deviceRepo) Upsert(ctx context.Context, userID uuid.UUID, deviceHash, fcmToken string) (model.Device, error) {
	var ownerStr string
	err := r.db.QueryRowContext(ctx, `
		SELECT user_id FROM devices WHERE device_hash = $1
	`, deviceHash).Scan(&ownerStr)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return model.Device{}, fmt.Errorf("check device owner: %w", err)
	}
	if err == nil {
		owner, _ := uuid.Parse(ownerStr)
		if owner != userID {
			return model.Device{}, ErrDeviceOwnedByOther
		}
	}

	row := r.db.QueryRowContext(ctx, `
		INSERT INTO devices (user_id, device_hash, fcm_token)
		VALUES ($1, $2, $3)
		ON CONFLICT (device_hash) DO UPDATE
		SET fcm_token = EXCLUDED.fcm_token, is_active = true, updated_at = now()
		WHERE devices.user_id = EXCLUDED.user_id
		RETURNING `+deviceColumns+`
	`, userID, deviceHash, fcmToken)
	device, err := scanDevice(row)
	if err != nil {
		// The conditional upsert returns no row when the hash belongs to
		// someone else; the ownership check above races with registration.
		if errors.Is(err, ErrNotFound) {
			return model.Device{}, ErrDeviceOwnedByOther
		}
		return model.Device{}, err
	}
	return device, nil
}

// GetByUser returns the user's device. One device per user is the common case;
// the most recently registered wins.
func (r *deviceRepo) GetByUser(ctx context.Context, userID uuid.UUID) (model.Device, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+deviceColumns+`
		FROM devices
		WHERE user_id = $1
		ORDER BY updated_at DESC
		LIMIT 1
	`, userID)
	return scanDevice(row)
}

// GetByID retrieves a device by ID
func (r *deviceRepo) GetByID(ctx context.Context, id uuid.UUID) (model.Device, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+deviceColumns+` FROM devices WHERE id = $1
	`, id)
	return scanDevice(row)
}

// Deactivate marks the device inactive (sign out).
func (r *deviceRepo) Deactivate(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE devices SET is_active = false, updated_at = now() WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("deactivate device: %w", err)
	}
	return nil
}

// DeactivateAllForUser marks every device of the user inactive (sign out all).
func (r *deviceRepo) DeactivateAllForUser(ctx context.Context, userID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE devices SET is_active = false, updated_at = now() WHERE user_id = $1
	`, userID)
	if err != nil {
		return fmt.Errorf("deactivate devices: %w", err)
	}
	return nil
}

// BumpAckVerified increments the verified-acknowledgment counter.
func (r *deviceRepo) BumpAckVerified(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE devices
		SET sent_ack_verified = sent_ack_verified + 1,
		    total_messages_sent = total_messages_sent + 1,
		    updated_at = now()
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("bump ack counter: %w", err)
	}
	return nil
}
