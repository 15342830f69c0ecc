package ratelimit

import (
	"context"
	"time"

	"github.com/campaignforge/bulkmailer/internal/domain"
)

// Decision reports whether an account may transmit right now. When CanSend is
// false, Reason carries a human-readable explanation suitable for the job's
// error message. Delay is the minimum spacing the caller should honor before
// the next transmission on the same account.
type Decision struct {
	CanSend bool
	Reason  string
	Delay   time.Duration
}

// RateLimiter enforces per-account hourly send caps.
type RateLimiter interface {
	CheckRateLimit(ctx context.Context, account *domain.Account) (Decision, error)
	IncrementSentCount(ctx context.Context, accountID string) error
}

// WarmupManager paces young accounts through a ramp-up schedule so their
// sending reputation builds gradually.
type WarmupManager interface {
	CanSendEmail(ctx context.Context, account *domain.Account) (Decision, error)
	UpdateWarmupProgress(ctx context.Context, account *domain.Account, at time.Time) error
}
