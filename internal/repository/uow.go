package repository

import (
	"context"
	"time"

	"github.com/campaignforge/bulkmailer/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// maxErrorLength bounds the error text stored on a failed or skipped job.
const maxErrorLength = 500

// JobOutcomes applies terminal status transitions. Every method is a
// compare-and-set from a non-terminal status and reports whether the row was
// transitioned, so a straggling retry on an already-terminal job is a no-op.
type JobOutcomes interface {
	MarkSent(ctx context.Context, jobID string, at time.Time) (bool, error)
	MarkFailed(ctx context.Context, jobID, reason string) (bool, error)
	MarkSkipped(ctx context.Context, jobID, reason string) (bool, error)
	CountActiveByCampaign(ctx context.Context, campaignID string) (int64, error)
}

// CampaignOutcomes applies campaign-side bookkeeping for a completed job.
type CampaignOutcomes interface {
	MarkRecipientSent(ctx context.Context, campaignID, recipientID string, at time.Time) error
	MarkSent(ctx context.Context, campaignID string, at time.Time) error
}

// SentRecords persists the immutable archival row for a transmitted message.
type SentRecords interface {
	Create(ctx context.Context, record *domain.SentRecord) error
}

// DailyStats upserts per-day delivery counters.
type DailyStats interface {
	IncrementSent(ctx context.Context, day string, sent, delivered int) error
}

// Stores bundles the outcome-side repositories bound to one transaction.
type Stores struct {
	Jobs        JobOutcomes
	Campaigns   CampaignOutcomes
	SentRecords SentRecords
	Stats       DailyStats
}

// UnitOfWork runs fn against stores sharing a single database transaction.
// Either every write in fn is applied or none is; a SentRecord can never be
// persisted without its job transitioning.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(s Stores) error) error
}

type GormUnitOfWork struct {
	db *gorm.DB
}

func NewGormUnitOfWork(db *gorm.DB) *GormUnitOfWork {
	return &GormUnitOfWork{db: db}
}

func (u *GormUnitOfWork) Do(ctx context.Context, fn func(s Stores) error) error {
	return u.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(Stores{
			Jobs:        &gormJobOutcomes{db: tx},
			Campaigns:   &gormCampaignOutcomes{db: tx},
			SentRecords: &gormSentRecords{db: tx},
			Stats:       &gormDailyStats{db: tx},
		})
	})
}

type gormJobOutcomes struct {
	db *gorm.DB
}

func (s *gormJobOutcomes) MarkSent(ctx context.Context, jobID string, at time.Time) (bool, error) {
	result := s.db.WithContext(ctx).
		Model(&JobModel{}).
		Where("id = ? AND status = ?", jobID, domain.JobStatusProcessing).
		Updates(map[string]any{
			"status":  domain.JobStatusSent,
			"sent_at": at,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (s *gormJobOutcomes) MarkFailed(ctx context.Context, jobID, reason string) (bool, error) {
	result := s.db.WithContext(ctx).
		Model(&JobModel{}).
		Where("id = ? AND status NOT IN ?", jobID, terminalStatuses()).
		Updates(map[string]any{
			"status":        domain.JobStatusFailed,
			"error_message": truncateError(reason),
			"attempts":      gorm.Expr("attempts + 1"),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (s *gormJobOutcomes) MarkSkipped(ctx context.Context, jobID, reason string) (bool, error) {
	result := s.db.WithContext(ctx).
		Model(&JobModel{}).
		Where("id = ? AND status NOT IN ?", jobID, terminalStatuses()).
		Updates(map[string]any{
			"status":        domain.JobStatusSkipped,
			"error_message": truncateError(reason),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (s *gormJobOutcomes) CountActiveByCampaign(ctx context.Context, campaignID string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&JobModel{}).
		Where("campaign_id = ? AND status IN ?", campaignID,
			[]domain.JobStatus{domain.JobStatusPending, domain.JobStatusProcessing}).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

type gormCampaignOutcomes struct {
	db *gorm.DB
}

func (s *gormCampaignOutcomes) MarkRecipientSent(ctx context.Context, campaignID, recipientID string, at time.Time) error {
	return s.db.WithContext(ctx).
		Model(&CampaignRecipientModel{}).
		Where("campaign_id = ? AND recipient_id = ?", campaignID, recipientID).
		Updates(map[string]any{
			"status":  domain.JobStatusSent,
			"sent_at": at,
		}).Error
}

func (s *gormCampaignOutcomes) MarkSent(ctx context.Context, campaignID string, at time.Time) error {
	return s.db.WithContext(ctx).
		Model(&CampaignModel{}).
		Where("id = ? AND status <> ?", campaignID, domain.CampaignStatusSent).
		Updates(map[string]any{
			"status":  domain.CampaignStatusSent,
			"sent_at": at,
		}).Error
}

type gormSentRecords struct {
	db *gorm.DB
}

func (s *gormSentRecords) Create(ctx context.Context, record *domain.SentRecord) error {
	return s.db.WithContext(ctx).Create(sentRecordModelFromDomain(record)).Error
}

type gormDailyStats struct {
	db *gorm.DB
}

func (s *gormDailyStats) IncrementSent(ctx context.Context, day string, sent, delivered int) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "day"}},
			DoUpdates: clause.Assignments(map[string]any{
				"emails_sent":      gorm.Expr("daily_stats.emails_sent + ?", sent),
				"emails_delivered": gorm.Expr("daily_stats.emails_delivered + ?", delivered),
			}),
		}).
		Create(&DailyStatModel{Day: day, EmailsSent: sent, EmailsDelivered: delivered}).Error
}

func terminalStatuses() []domain.JobStatus {
	return []domain.JobStatus{domain.JobStatusSent, domain.JobStatusFailed, domain.JobStatusSkipped}
}

func truncateError(reason string) string {
	if len(reason) > maxErrorLength {
		return reason[:maxErrorLength]
	}
	return reason
}
