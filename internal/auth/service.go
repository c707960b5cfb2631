package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/orvio/server/internal/model"
	"github.com/orvio/server/internal/repo"
)

// ErrDeviceOwnedByOther is returned when a device hash is already registered
// to a different user. Mapped to 403 at the HTTP edge: the caller is
// authenticated but not allowed to claim the device.
var ErrDeviceOwnedByOther = errors.New("device registered to another user")

// AuthService orchestrates the end-user authentication flow: OTP challenge,
// user creation, session issuance, device registration and sign-out.
type AuthService struct {
	otpService *OtpService
	sessions   *SessionService
	userRepo   repo.UserRepo
	deviceRepo repo.DeviceRepo
}

// NewAuthService creates a new auth service
func NewAuthService(
	otpService *OtpService,
	sessions *SessionService,
	userRepo repo.UserRepo,
	deviceRepo repo.DeviceRepo,
) *AuthService {
	return &AuthService{
		otpService: otpService,
		sessions:   sessions,
		userRepo:   userRepo,
		deviceRepo: deviceRepo,
	}
}

// SendOtp issues an end-user OTP challenge for the phone number.
func (s *AuthService) SendOtp(ctx context.Context, phone string) (uuid.UUID, error) {
	return s.otpService.Issue(ctx, phone, model.CallerUser, IssueOptions{})
}

// VerifyOtpAndCreateSession verifies the submitted code, creates the user on
// first contact, and mints a token pair. The user row is created at most once
// per phone number; later verifications only update session state.
func (s *AuthService) VerifyOtpAndCreateSession(ctx context.Context, transactionID uuid.UUID, code string) (user model.User, accessToken, refreshToken string, err error) {
	// Service transactions are verified through the gateway, not here; Verify
	// rejects them as not-found without consuming them.
	verified, err := s.otpService.Verify(ctx, transactionID, code, model.CallerUser)
	if err != nil {
		return model.User{}, "", "", err
	}

	user, err = s.userRepo.GetOrCreateByPhone(ctx, verified.PhoneNumber)
	if err != nil {
		return model.User{}, "", "", fmt.Errorf("get or create user: %w", err)
	}

	accessToken, refreshToken, _, err = s.sessions.CreateSession(ctx, user.ID, nil)
	if err != nil {
		return model.User{}, "", "", fmt.Errorf("create session: %w", err)
	}

	return user, accessToken, refreshToken, nil
}

// RegisterDevice upserts the device binding and attaches it to the session.
// Idempotent per (user, device hash); re-registration refreshes the push
// token.
func (s *AuthService) RegisterDevice(ctx context.Context, userID, sessionID uuid.UUID, deviceHash, fcmToken string) (model.Device, error) {
	device, err := s.deviceRepo.Upsert(ctx, userID, deviceHash, fcmToken)
	if err != nil {
		if errors.Is(err, repo.ErrDeviceOwnedByOther) {
			return model.Device{}, ErrDeviceOwnedByOther
		}
		return model.Device{}, fmt.Errorf("register device: %w", err)
	}

	if err := s.sessions.sessionRepo.SetDevice(ctx, sessionID, device.ID); err != nil {
		return model.Device{}, fmt.Errorf("bind session device: %w", err)
	}

	return device, nil
}

// GetProfile returns the authenticated user including the cashback balance.
func (s *AuthService) GetProfile(ctx context.Context, userID uuid.UUID) (model.User, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return model.User{}, ErrUnauthenticated
		}
		return model.User{}, fmt.Errorf("load user: %w", err)
	}
	return user, nil
}

// SignOut revokes the caller's session and deactivates its device, if any.
func (s *AuthService) SignOut(ctx context.Context, sessionID uuid.UUID) error {
	session, err := s.sessions.sessionRepo.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrUnauthenticated
		}
		return fmt.Errorf("load session: %w", err)
	}

	if err := s.sessions.Revoke(ctx, sessionID); err != nil {
		return err
	}
	if session.DeviceID != nil {
		if err := s.deviceRepo.Deactivate(ctx, *session.DeviceID); err != nil {
			return fmt.Errorf("deactivate device: %w", err)
		}
	}
	return nil
}

// SignOutAll revokes every session of the user and deactivates all devices.
func (s *AuthService) SignOutAll(ctx context.Context, userID uuid.UUID) error {
	if err := s.sessions.RevokeAll(ctx, userID); err != nil {
		return err
	}
	if err := s.deviceRepo.DeactivateAllForUser(ctx, userID); err != nil {
		return fmt.Errorf("deactivate devices: %w", err)
	}
	return nil
}
