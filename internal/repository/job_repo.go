package repository

import (
	"context"
	"errors"

	"github.com/campaignforge/bulkmailer/internal/domain"
	"gorm.io/gorm"
)

// claimCandidateLimit bounds how many pending rows a single poll inspects
// before giving up the cycle to the backoff sleep.
const claimCandidateLimit = 50

// ClaimedJob is a job that has been transitioned to processing together with
// the rows needed to build and transmit its message.
type ClaimedJob struct {
	Job       domain.Job
	Campaign  domain.Campaign
	Recipient domain.Recipient
	Account   domain.Account
}

// JobRepository is the queue port used by the dispatcher.
type JobRepository interface {
	ClaimNext(ctx context.Context) (*ClaimedJob, error)
	CountActiveByCampaign(ctx context.Context, campaignID string) (int64, error)
}

type GormJobRepo struct {
	db          *gorm.DB
	onClaimRace func()
}

func NewGormJobRepo(db *gorm.DB) *GormJobRepo {
	return &GormJobRepo{db: db}
}

// SetClaimRaceHook installs a callback fired each time a claim attempt loses
// the compare-and-set to another worker.
func (r *GormJobRepo) SetClaimRaceHook(hook func()) {
	r.onClaimRace = hook
}

// ClaimNext selects the next eligible pending job and transitions it to
// processing with a compare-and-set. Selection groups work by account
// (ascending account id) to reduce connection churn, then orders by priority
// descending and age ascending. The conditional update is the sole
// concurrency control: when it affects zero rows another worker raced ahead
// and the next candidate is tried. Returns nil when no job could be claimed
// this cycle.
func (r *GormJobRepo) ClaimNext(ctx context.Context) (*ClaimedJob, error) {
	var candidates []JobModel
	err := r.db.WithContext(ctx).
		Model(&JobModel{}).
		Select("email_queue.*").
		Joins("JOIN recipients ON recipients.id = email_queue.recipient_id").
		Joins("JOIN smtp_accounts ON smtp_accounts.id = email_queue.account_id").
		Where("email_queue.status = ?", domain.JobStatusPending).
		Where("recipients.unsubscribed = ?", false).
		Where("smtp_accounts.active = ? AND smtp_accounts.password <> ''", true).
		Order("email_queue.account_id ASC, email_queue.priority DESC, email_queue.created_at ASC").
		Limit(claimCandidateLimit).
		Find(&candidates).Error
	if err != nil {
		return nil, err
	}

	for i := range candidates {
		claimed, err := r.tryClaim(ctx, &candidates[i])
		if err != nil {
			return nil, err
		}
		if claimed != nil {
			return claimed, nil
		}
	}

	return nil, nil
}

func (r *GormJobRepo) tryClaim(ctx context.Context, model *JobModel) (*ClaimedJob, error) {
	result := r.db.WithContext(ctx).
		Model(&JobModel{}).
		Where("id = ? AND status = ?", model.ID, domain.JobStatusPending).
		Update("status", domain.JobStatusProcessing)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		// Lost the race; the caller moves on to the next candidate.
		if r.onClaimRace != nil {
			r.onClaimRace()
		}
		return nil, nil
	}
	model.Status = domain.JobStatusProcessing

	var campaign CampaignModel
	if err := r.db.WithContext(ctx).First(&campaign, "id = ?", model.CampaignID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			r.release(ctx, model.ID, "campaign not found")
			return nil, nil
		}
		return nil, err
	}

	var recipient RecipientModel
	if err := r.db.WithContext(ctx).First(&recipient, "id = ?", model.RecipientID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			r.release(ctx, model.ID, "recipient not found")
			return nil, nil
		}
		return nil, err
	}

	var account AccountModel
	if err := r.db.WithContext(ctx).First(&account, "id = ?", model.AccountID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			r.release(ctx, model.ID, "account not found")
			return nil, nil
		}
		return nil, err
	}

	return &ClaimedJob{
		Job:       *jobModelToDomain(model),
		Campaign:  *campaignModelToDomain(&campaign),
		Recipient: *recipientModelToDomain(&recipient),
		Account:   *accountModelToDomain(&account),
	}, nil
}

// release fails a claimed job whose referenced rows disappeared between
// selection and load, so it does not stay stuck in processing.
func (r *GormJobRepo) release(ctx context.Context, jobID, reason string) {
	r.db.WithContext(ctx).
		Model(&JobModel{}).
		Where("id = ? AND status = ?", jobID, domain.JobStatusProcessing).
		Updates(map[string]any{
			"status":        domain.JobStatusFailed,
			"error_message": reason,
			"attempts":      gorm.Expr("attempts + 1"),
		})
}

func (r *GormJobRepo) CountActiveByCampaign(ctx context.Context, campaignID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&JobModel{}).
		Where("campaign_id = ? AND status IN ?", campaignID,
			[]domain.JobStatus{domain.JobStatusPending, domain.JobStatusProcessing}).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}
