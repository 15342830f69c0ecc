package repository

import (
	"context"

	"github.com/campaignforge/bulkmailer/internal/domain"
	"gorm.io/gorm"
)

// CampaignRepository applies the campaign-side start transition.
type CampaignRepository interface {
	MarkSending(ctx context.Context, campaignID string) error
}

type GormCampaignRepo struct {
	db *gorm.DB
}

func NewGormCampaignRepo(db *gorm.DB) *GormCampaignRepo {
	return &GormCampaignRepo{db: db}
}

// MarkSending transitions a draft campaign to sending. Campaigns already
// sending or sent are left untouched.
func (r *GormCampaignRepo) MarkSending(ctx context.Context, campaignID string) error {
	return r.db.WithContext(ctx).
		Model(&CampaignModel{}).
		Where("id = ? AND status = ?", campaignID, domain.CampaignStatusDraft).
		Update("status", domain.CampaignStatusSending).Error
}
