// Package cashback records acknowledgment rewards and aggregates usage stats.
package cashback

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/orvio/server/internal/model"
	"github.com/orvio/server/internal/repo"
)

// PointsPerAck is the reward credited for one acknowledged, verified OTP.
const PointsPerAck = 1

const ackReason = "otp_acknowledged"

// DeviceStats mirrors the per-device delivery counters.
type DeviceStats struct {
	FailedToSendAck    int `json:"failedToSendAck"`
	SentAckNotVerified int `json:"sentAckNotVerified"`
	SentAckVerified    int `json:"sentAckVerified"`
	TotalMessagesSent  int `json:"totalMessagesSent"`
}

// ApiKeyStats aggregates the user's API keys.
type ApiKeyStats struct {
	TotalKeys  int        `json:"totalKeys"`
	ActiveKeys int        `json:"activeKeys"`
	OldestKey  *time.Time `json:"oldestKey,omitempty"`
	NewestKey  *time.Time `json:"newestKey,omitempty"`
}

// CreditStats reports the metering state.
type CreditStats struct {
	Balance        int    `json:"balance"`
	Mode           string `json:"mode"`
	CashbackPoints int    `json:"cashbackPoints"`
}

// Stats is the aggregated usage view returned by /auth/stats.
type Stats struct {
	Provider struct {
		CurrentDevice *DeviceStats `json:"currentDevice"`
		AllDevices    DeviceStats  `json:"allDevices"`
	} `json:"provider"`
	Consumer ApiKeyStats `json:"consumer"`
	Credits  CreditStats `json:"credits"`
}

// Aggregator credits acknowledgment rewards and serves usage statistics.
type Aggregator struct {
	cashbackRepo repo.CashbackRepo
	sessionRepo  repo.SessionRepo
	deviceRepo   repo.DeviceRepo
	userRepo     repo.UserRepo
	apiKeyRepo   repo.ApiKeyRepo
}

// NewAggregator creates a new cashback/stats aggregator
func NewAggregator(
	cashbackRepo repo.CashbackRepo,
	sessionRepo repo.SessionRepo,
	deviceRepo repo.DeviceRepo,
	userRepo repo.UserRepo,
	apiKeyRepo repo.ApiKeyRepo,
) *Aggregator {
	return &Aggregator{
		cashbackRepo: cashbackRepo,
		sessionRepo:  sessionRepo,
		deviceRepo:   deviceRepo,
		userRepo:     userRepo,
		apiKeyRepo:   apiKeyRepo,
	}
}

// Acknowledge credits the acknowledging session's user for a verified
// transaction. Idempotent: the ack marker and the credit commit together, so
// a repeated acknowledgment returns 0 without touching any balance. An
// unverified or unknown transaction also returns 0, silently.
func (a *Aggregator) Acknowledge(ctx context.Context, transactionID, sessionID uuid.UUID) (int, error) {
	session, err := a.sessionRepo.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("load session: %w", err)
	}

	credited, err := a.cashbackRepo.AcknowledgeAndCredit(ctx, transactionID, session.UserID, PointsPerAck, ackReason)
	if err != nil {
		return 0, fmt.Errorf("acknowledge: %w", err)
	}
	if !credited {
		return 0, nil
	}

	if session.DeviceID != nil {
		if err := a.deviceRepo.BumpAckVerified(ctx, *session.DeviceID); err != nil {
			// The reward is already committed; a lost counter bump only
			// skews stats.
			log.Printf("bump device ack counter: %v", err)
		}
	}
	return PointsPerAck, nil
}

// History returns the user's cashback entries, newest first.
func (a *Aggregator) History(ctx context.Context, userID uuid.UUID) ([]model.CashbackEntry, error) {
	entries, err := a.cashbackRepo.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list cashback entries: %w", err)
	}
	return entries, nil
}

// Stats aggregates device delivery counters, API key usage and the credit
// state for the user. Read-only.
func (a *Aggregator) Stats(ctx context.Context, userID, sessionID uuid.UUID) (Stats, error) {
	var stats Stats

	user, err := a.userRepo.GetByID(ctx, userID)
	if err != nil {
		return Stats{}, fmt.Errorf("load user: %w", err)
	}
	stats.Credits = CreditStats{
		Balance:        user.Credits,
		Mode:           user.CreditMode,
		CashbackPoints: user.CashbackPoints,
	}

	if device, err := a.deviceRepo.GetByUser(ctx, userID); err == nil {
		stats.Provider.AllDevices = deviceStats(device)
	} else if !errors.Is(err, repo.ErrNotFound) {
		return Stats{}, fmt.Errorf("load device: %w", err)
	}

	if session, err := a.sessionRepo.GetByID(ctx, sessionID); err == nil && session.DeviceID != nil {
		if device, err := a.deviceRepo.GetByID(ctx, *session.DeviceID); err == nil {
			ds := deviceStats(device)
			stats.Provider.CurrentDevice = &ds
		}
	}

	keys, err := a.apiKeyRepo.ListByUser(ctx, userID)
	if err != nil {
		return Stats{}, fmt.Errorf("list api keys: %w", err)
	}
	stats.Consumer = apiKeyStats(keys)

	return stats, nil
}

func deviceStats(d model.Device) DeviceStats {
	return DeviceStats{
		FailedToSendAck:    d.FailedToSendAck,
		SentAckNotVerified: d.SentAckNotVerified,
		SentAckVerified:    d.SentAckVerified,
		TotalMessagesSent:  d.TotalMessagesSent,
	}
}

// apiKeyStats counts keys active in the last 30 days and tracks the oldest
// and newest creation times.
func apiKeyStats(keys []model.ApiKey) ApiKeyStats {
	stats := ApiKeyStats{TotalKeys: len(keys)}
	activeCutoff := time.Now().Add(-30 * 24 * time.Hour)
	for i, k := range keys {
		if k.LastUsedAt == nil || k.LastUsedAt.After(activeCutoff) {
			stats.ActiveKeys++
		}
		created := k.CreatedAt
		if i == 0 {
			stats.OldestKey = &created
			stats.NewestKey = &created
			continue
		}
		if created.Before(*stats.OldestKey) {
			stats.OldestKey = &created
		}
		if created.After(*stats.NewestKey) {
			stats.NewestKey = &created
		}
	}
	return stats
}
