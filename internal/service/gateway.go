// Package service implements the OTP gateway for third-party (service)
// callers: metered dispatch, verification, acknowledgment and webhook
// reporting.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/orvio/server/internal/auth"
	"github.com/orvio/server/internal/cashback"
	"github.com/orvio/server/internal/credit"
	"github.com/orvio/server/internal/model"
	"github.com/orvio/server/internal/repo"
	"github.com/orvio/server/internal/webhook"
)

// SendOtpOptions carries the optional service dispatch parameters.
type SendOtpOptions struct {
	OrgName       string
	OtpExpiry     int // seconds; 0 keeps the default window
	WebhookURL    string
	WebhookSecret string
}

// VerifyResult is the outcome of a gateway verification.
type VerifyResult struct {
	Success bool   `json:"success"`
	Status  string `json:"status"`
}

// AckResult is the outcome of an acknowledgment.
type AckResult struct {
	Success  bool   `json:"success"`
	Status   string `json:"status"`
	Credited int    `json:"credited"`
}

// Gateway ties OTP dispatch to the credit ledger and reports transaction
// progress to customer webhooks.
type Gateway struct {
	otpService *auth.OtpService
	ledger     *credit.Ledger
	aggregator *cashback.Aggregator
	otpRepo    repo.OtpRepo
	apiKeyRepo repo.ApiKeyRepo
	notifier   webhook.Notifier
}

// NewGateway creates a new service OTP gateway
func NewGateway(
	otpService *auth.OtpService,
	ledger *credit.Ledger,
	aggregator *cashback.Aggregator,
	otpRepo repo.OtpRepo,
	apiKeyRepo repo.ApiKeyRepo,
	notifier webhook.Notifier,
) *Gateway {
	return &Gateway{
		otpService: otpService,
		ledger:     ledger,
		aggregator: aggregator,
		otpRepo:    otpRepo,
		apiKeyRepo: apiKeyRepo,
		notifier:   notifier,
	}
}

// SendOtp debits the caller per their credit mode, then issues the
// transaction. Debit and issue are a unit: a failed issue refunds the debit
// so a charge without a dispatched OTP is never observable. When no org name
// is given, the calling API key's name is used.
func (g *Gateway) SendOtp(ctx context.Context, userID, sessionID uuid.UUID, phone string, opts SendOtpOptions) (uuid.UUID, error) {
	mode, err := g.ledger.GetMode(ctx, userID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("resolve credit mode: %w", err)
	}
	cost := credit.Cost(mode)

	if opts.OrgName == "" {
		if key, err := g.apiKeyRepo.GetBySession(ctx, sessionID); err == nil {
			opts.OrgName = key.Name
		}
	}

	if _, err := g.ledger.Debit(ctx, userID, cost); err != nil {
		return uuid.Nil, err
	}

	issueOpts := auth.IssueOptions{
		UserID:        &userID,
		OrgName:       opts.OrgName,
		WebhookURL:    opts.WebhookURL,
		WebhookSecret: opts.WebhookSecret,
	}
	if opts.OtpExpiry > 0 {
		issueOpts.Expiry = time.Duration(opts.OtpExpiry) * time.Second
	}

	tid, err := g.otpService.Issue(ctx, phone, model.CallerService, issueOpts)
	if err != nil {
		if _, refundErr := g.ledger.Refund(ctx, userID, cost); refundErr != nil {
			return uuid.Nil, fmt.Errorf("issue failed (%v), refund failed: %w", err, refundErr)
		}
		return uuid.Nil, err
	}

	return tid, nil
}

// VerifyOtp validates a service transaction. Mismatches and dead transactions
// report success=false rather than an error: the service caller relays the
// outcome to its own user.
func (g *Gateway) VerifyOtp(ctx context.Context, tid uuid.UUID, code string) (VerifyResult, error) {
	verified, err := g.otpService.Verify(ctx, tid, code, model.CallerService)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrAttemptsExhausted):
			// The transaction is dead; report it to the customer webhook.
			g.notifyStatus(ctx, tid, webhook.StatusFailed)
			return VerifyResult{Success: false, Status: "invalid_otp"}, nil
		case errors.Is(err, auth.ErrOtpNotFound),
			errors.Is(err, auth.ErrOtpExpired),
			errors.Is(err, auth.ErrOtpConsumed),
			errors.Is(err, auth.ErrCodeMismatch):
			return VerifyResult{Success: false, Status: "invalid_otp"}, nil
		default:
			return VerifyResult{}, err
		}
	}

	if verified.WebhookURL != "" {
		g.notifier.Notify(ctx, verified.WebhookURL, verified.WebhookSecret, webhook.Event{
			Tid:    tid.String(),
			Status: webhook.StatusVerified,
		})
	}

	return VerifyResult{Success: true, Status: "verified"}, nil
}

// Ack records a delivery acknowledgment for the session's device and credits
// cashback. Idempotent: a repeat ack reports already_acknowledged and credits
// nothing.
func (g *Gateway) Ack(ctx context.Context, sessionID, tid uuid.UUID) (AckResult, error) {
	credited, err := g.aggregator.Acknowledge(ctx, tid, sessionID)
	if err != nil {
		return AckResult{}, err
	}
	if credited == 0 {
		return AckResult{Success: false, Status: "otp_invalid_or_already_acknowledged"}, nil
	}

	// First ack wins the webhook report too.
	g.notifyStatus(ctx, tid, webhook.StatusAcknowledged)

	return AckResult{Success: true, Status: "acknowledged", Credited: credited}, nil
}

// notifyStatus loads the transaction's webhook configuration and fires the
// event when one is set.
func (g *Gateway) notifyStatus(ctx context.Context, tid uuid.UUID, status string) {
	t, err := g.otpRepo.GetByID(ctx, tid)
	if err != nil || t.WebhookURL == nil {
		return
	}
	secret := ""
	if t.WebhookSecret != nil {
		secret = *t.WebhookSecret
	}
	g.notifier.Notify(ctx, *t.WebhookURL, secret, webhook.Event{
		Tid:    tid.String(),
		Status: status,
	})
}
