package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/campaignforge/bulkmailer/internal/domain"
	"gorm.io/gorm"
)

// AccountRepository records send progress against SMTP accounts for the
// warmup schedule.
type AccountRepository interface {
	RecordSend(ctx context.Context, accountID string, at time.Time, stage int) error
}

type GormAccountRepo struct {
	db *gorm.DB
}

func NewGormAccountRepo(db *gorm.DB) *GormAccountRepo {
	return &GormAccountRepo{db: db}
}

// RecordSend bumps the warmup counters after a successful transmission and
// pins the account to its current ladder stage. The daily counter resets when
// the previous send happened before the start of the current day in at's
// location.
func (r *GormAccountRepo) RecordSend(ctx context.Context, accountID string, at time.Time, stage int) error {
	startOfDay := time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, at.Location())

	result := r.db.WithContext(ctx).
		Model(&AccountModel{}).
		Where("id = ?", accountID).
		Updates(map[string]any{
			"warmup_stage":       stage,
			"warmup_emails_sent": gorm.Expr("warmup_emails_sent + 1"),
			"daily_sent_count": gorm.Expr(
				"CASE WHEN last_sent_at IS NOT NULL AND last_sent_at >= ? THEN daily_sent_count + 1 ELSE 1 END",
				startOfDay,
			),
			"last_sent_at": at,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to record send: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: account %s", domain.ErrNotFound, accountID)
	}

	return nil
}
