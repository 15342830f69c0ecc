package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/campaignforge/bulkmailer/internal/domain"
)

// warmupCompleteDays is the account age at which the warmup cap lifts.
const warmupCompleteDays = 30

// Stage is one rung of the 30-day ramp-up ladder. MaxPerDay of 0 means
// unlimited.
type Stage struct {
	FromDay   int
	MaxPerDay int
	MinDelay  time.Duration
}

var warmupStages = []Stage{
	{FromDay: 1, MaxPerDay: 5, MinDelay: 300 * time.Second},
	{FromDay: 2, MaxPerDay: 8, MinDelay: 240 * time.Second},
	{FromDay: 3, MaxPerDay: 12, MinDelay: 180 * time.Second},
	{FromDay: 4, MaxPerDay: 18, MinDelay: 120 * time.Second},
	{FromDay: 5, MaxPerDay: 25, MinDelay: 90 * time.Second},
	{FromDay: 6, MaxPerDay: 35, MinDelay: 60 * time.Second},
	{FromDay: 7, MaxPerDay: 50, MinDelay: 45 * time.Second},
	{FromDay: 14, MaxPerDay: 75, MinDelay: 30 * time.Second},
	{FromDay: 21, MaxPerDay: 100, MinDelay: 20 * time.Second},
	{FromDay: 30, MaxPerDay: 0, MinDelay: 15 * time.Second},
}

// ProgressStore records a successful transmission against an account,
// pinning the account to its current ladder stage.
type ProgressStore interface {
	RecordSend(ctx context.Context, accountID string, at time.Time, stage int) error
}

var _ WarmupManager = (*StagedWarmup)(nil)

// StagedWarmup caps the daily volume of young accounts by the stage ladder
// above. Accounts older than warmupCompleteDays send without a cap but still
// carry the final stage's minimum spacing.
type StagedWarmup struct {
	store ProgressStore
	now   func() time.Time
	loc   *time.Location
}

func NewStagedWarmup(store ProgressStore, loc *time.Location) *StagedWarmup {
	return newStagedWarmup(store, loc, time.Now)
}

func newStagedWarmup(store ProgressStore, loc *time.Location, nowFn func() time.Time) *StagedWarmup {
	if loc == nil {
		loc = time.UTC
	}
	if nowFn == nil {
		nowFn = time.Now
	}

	return &StagedWarmup{
		store: store,
		now:   nowFn,
		loc:   loc,
	}
}

func (w *StagedWarmup) CanSendEmail(ctx context.Context, account *domain.Account) (Decision, error) {
	if account == nil {
		return Decision{}, fmt.Errorf("%w: account is required", domain.ErrValidation)
	}

	now := w.now().In(w.loc)
	age := accountAgeDays(account.CreatedAt.In(w.loc), now)
	stage := stageForAge(age)

	if age >= warmupCompleteDays {
		return Decision{CanSend: true, Delay: stage.MinDelay}, nil
	}

	sentToday := account.DailySentCount
	if account.LastSentAt == nil || account.LastSentAt.In(w.loc).Before(startOfDay(now)) {
		sentToday = 0
	}

	if stage.MaxPerDay > 0 && sentToday >= stage.MaxPerDay {
		return Decision{
			CanSend: false,
			Reason:  fmt.Sprintf("warmup limit reached (%d/%d emails today)", sentToday, stage.MaxPerDay),
		}, nil
	}

	return Decision{CanSend: true, Delay: stage.MinDelay}, nil
}

func (w *StagedWarmup) UpdateWarmupProgress(ctx context.Context, account *domain.Account, at time.Time) error {
	if account == nil {
		return fmt.Errorf("%w: account is required", domain.ErrValidation)
	}

	at = at.In(w.loc)
	stage := stageIndexForAge(accountAgeDays(account.CreatedAt.In(w.loc), at))

	return w.store.RecordSend(ctx, account.ID, at, stage)
}

// accountAgeDays counts whole calendar days between creation and now, so an
// account created late on day one still graduates at the same midnight as one
// created at dawn.
func accountAgeDays(createdAt, now time.Time) int {
	days := int(startOfDay(now).Sub(startOfDay(createdAt)).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

func stageForAge(age int) Stage {
	return warmupStages[stageIndexForAge(age)]
}

// stageIndexForAge returns the zero-based ladder index for an account age in
// whole days.
func stageIndexForAge(age int) int {
	idx := 0
	for i, stage := range warmupStages {
		if age >= stage.FromDay {
			idx = i
		} else {
			break
		}
	}
	return idx
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
