package migrations

import (
	"github.com/campaignforge/bulkmailer/internal/repository"
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func Migrate(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			ID: "000001_create_campaigns",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&repository.CampaignModel{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.CampaignModel{})
			},
		},
		{
			ID: "000002_create_recipients",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&repository.RecipientModel{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.RecipientModel{})
			},
		},
		{
			ID: "000003_create_smtp_accounts",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&repository.AccountModel{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.AccountModel{})
			},
		},
		{
			ID: "000004_create_email_queue",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&repository.JobModel{}); err != nil {
					return err
				}
				indexes := []string{
					`CREATE INDEX IF NOT EXISTS idx_email_queue_pending ON email_queue (account_id, priority DESC, created_at) WHERE status = 'pending'`,
					`CREATE INDEX IF NOT EXISTS idx_email_queue_campaign_active ON email_queue (campaign_id) WHERE status IN ('pending', 'processing')`,
				}
				for _, sql := range indexes {
					if err := tx.Exec(sql).Error; err != nil {
						return err
					}
				}
				return nil
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.JobModel{})
			},
		},
		{
			ID: "000005_create_sent_emails",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&repository.SentRecordModel{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.SentRecordModel{})
			},
		},
		{
			ID: "000006_create_campaign_recipients",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&repository.CampaignRecipientModel{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.CampaignRecipientModel{})
			},
		},
		{
			ID: "000007_create_daily_stats",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&repository.DailyStatModel{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.DailyStatModel{})
			},
		},
	})

	return m.Migrate()
}
