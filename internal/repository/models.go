package repository

import (
	"time"

	"github.com/campaignforge/bulkmailer/internal/domain"
)

// JobModel is the persistence model for the email_queue table.
type JobModel struct {
	ID           string           `gorm:"type:uuid;primaryKey"`
	CampaignID   string           `gorm:"type:uuid;not null;index"`
	RecipientID  string           `gorm:"type:uuid;not null"`
	AccountID    string           `gorm:"type:uuid;not null;index:idx_email_queue_claim,priority:1"`
	Status       domain.JobStatus `gorm:"type:varchar(20);not null;index:idx_email_queue_claim,priority:2"`
	Priority     int              `gorm:"not null;default:0"`
	Attempts     int              `gorm:"not null;default:0"`
	ErrorMessage *string          `gorm:"type:varchar(500)"`
	SentAt       *time.Time       `gorm:"type:timestamptz"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (JobModel) TableName() string {
	return "email_queue"
}

// CampaignModel is the persistence model for the campaigns table.
type CampaignModel struct {
	ID                    string                `gorm:"type:uuid;primaryKey"`
	Name                  string                `gorm:"type:varchar(255);not null"`
	Subject               string                `gorm:"type:varchar(500);not null"`
	SenderName            string                `gorm:"type:varchar(255)"`
	SenderEmail           string                `gorm:"type:varchar(255);not null"`
	ReplyTo               string                `gorm:"type:varchar(255)"`
	HTMLBody              string                `gorm:"type:text"`
	UsePersonalization    bool                  `gorm:"not null;default:false"`
	PersonalizationPrompt string                `gorm:"type:text"`
	Status                domain.CampaignStatus `gorm:"type:varchar(20);not null"`
	SentAt                *time.Time            `gorm:"type:timestamptz"`
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

func (CampaignModel) TableName() string {
	return "campaigns"
}

// RecipientModel is the persistence model for the recipients table.
type RecipientModel struct {
	ID           string `gorm:"type:uuid;primaryKey"`
	Email        string `gorm:"type:varchar(255);not null;uniqueIndex"`
	FirstName    string `gorm:"type:varchar(255)"`
	LastName     string `gorm:"type:varchar(255)"`
	Company      string `gorm:"type:varchar(255)"`
	City         string `gorm:"type:varchar(255)"`
	Title        string `gorm:"type:varchar(255)"`
	Phone        string `gorm:"type:varchar(50)"`
	Unsubscribed bool   `gorm:"not null;default:false"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (RecipientModel) TableName() string {
	return "recipients"
}

// AccountModel is the persistence model for the smtp_accounts table.
// Passwords are stored decrypted by the credential store before they reach
// this layer.
type AccountModel struct {
	ID               string `gorm:"type:uuid;primaryKey"`
	Host             string `gorm:"type:varchar(255);not null"`
	Port             int    `gorm:"not null;default:465"`
	Username         string `gorm:"type:varchar(255);not null"`
	Password         string `gorm:"type:varchar(500);not null"`
	UseSSL           bool   `gorm:"not null;default:true"`
	UseTLS           bool   `gorm:"not null;default:false"`
	MaxPerHour       int    `gorm:"not null;default:50"`
	IMAPHost         string `gorm:"type:varchar(255)"`
	IMAPPort         int    `gorm:"not null;default:993"`
	SaveToSent       bool   `gorm:"not null;default:true"`
	Active           bool   `gorm:"not null;default:true"`
	Default          bool   `gorm:"column:is_default;not null;default:false"`
	WarmupStage      int    `gorm:"not null;default:0"`
	WarmupEmailsSent int    `gorm:"not null;default:0"`
	DailySentCount   int    `gorm:"not null;default:0"`
	LastSentAt       *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (AccountModel) TableName() string {
	return "smtp_accounts"
}

// SentRecordModel is the persistence model for the sent_emails table.
type SentRecordModel struct {
	ID             string `gorm:"type:uuid;primaryKey"`
	CampaignID     string `gorm:"type:uuid;not null;index"`
	RecipientID    string `gorm:"type:uuid;not null"`
	AccountID      string `gorm:"type:uuid"`
	RecipientEmail string `gorm:"type:varchar(255);not null"`
	RecipientName  string `gorm:"type:varchar(255)"`
	Subject        string `gorm:"type:varchar(500)"`
	SenderName     string `gorm:"type:varchar(255)"`
	SenderEmail    string `gorm:"type:varchar(255)"`
	HTMLContent    string `gorm:"type:text"`
	TextContent    string `gorm:"type:text"`
	MessageID      string `gorm:"type:varchar(255)"`
	SentAt         time.Time
}

func (SentRecordModel) TableName() string {
	return "sent_emails"
}

// CampaignRecipientModel tracks per-recipient delivery state within a campaign.
type CampaignRecipientModel struct {
	CampaignID  string `gorm:"type:uuid;primaryKey"`
	RecipientID string `gorm:"type:uuid;primaryKey"`
	Status      string `gorm:"type:varchar(20);not null;default:'pending'"`
	SentAt      *time.Time
}

func (CampaignRecipientModel) TableName() string {
	return "campaign_recipients"
}

// DailyStatModel is the persistence model for the daily_stats table.
type DailyStatModel struct {
	Day             string `gorm:"type:date;primaryKey"`
	EmailsSent      int    `gorm:"not null;default:0"`
	EmailsDelivered int    `gorm:"not null;default:0"`
}

func (DailyStatModel) TableName() string {
	return "daily_stats"
}

func jobModelToDomain(m *JobModel) *domain.Job {
	if m == nil {
		return nil
	}

	return &domain.Job{
		ID:           m.ID,
		CampaignID:   m.CampaignID,
		RecipientID:  m.RecipientID,
		AccountID:    m.AccountID,
		Status:       m.Status,
		Priority:     m.Priority,
		Attempts:     m.Attempts,
		ErrorMessage: m.ErrorMessage,
		SentAt:       m.SentAt,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func campaignModelToDomain(m *CampaignModel) *domain.Campaign {
	if m == nil {
		return nil
	}

	return &domain.Campaign{
		ID:                    m.ID,
		Name:                  m.Name,
		Subject:               m.Subject,
		SenderName:            m.SenderName,
		SenderEmail:           m.SenderEmail,
		ReplyTo:               m.ReplyTo,
		HTMLBody:              m.HTMLBody,
		UsePersonalization:    m.UsePersonalization,
		PersonalizationPrompt: m.PersonalizationPrompt,
		Status:                m.Status,
		SentAt:                m.SentAt,
		CreatedAt:             m.CreatedAt,
		UpdatedAt:             m.UpdatedAt,
	}
}

func recipientModelToDomain(m *RecipientModel) *domain.Recipient {
	if m == nil {
		return nil
	}

	return &domain.Recipient{
		ID:           m.ID,
		Email:        m.Email,
		FirstName:    m.FirstName,
		LastName:     m.LastName,
		Company:      m.Company,
		City:         m.City,
		Title:        m.Title,
		Phone:        m.Phone,
		Unsubscribed: m.Unsubscribed,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func accountModelToDomain(m *AccountModel) *domain.Account {
	if m == nil {
		return nil
	}

	return &domain.Account{
		ID:               m.ID,
		Host:             m.Host,
		Port:             m.Port,
		Username:         m.Username,
		Password:         m.Password,
		UseSSL:           m.UseSSL,
		UseTLS:           m.UseTLS,
		MaxPerHour:       m.MaxPerHour,
		IMAPHost:         m.IMAPHost,
		IMAPPort:         m.IMAPPort,
		SaveToSent:       m.SaveToSent,
		Active:           m.Active,
		Default:          m.Default,
		WarmupStage:      m.WarmupStage,
		WarmupEmailsSent: m.WarmupEmailsSent,
		DailySentCount:   m.DailySentCount,
		LastSentAt:       m.LastSentAt,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

func sentRecordModelFromDomain(r *domain.SentRecord) *SentRecordModel {
	if r == nil {
		return nil
	}

	return &SentRecordModel{
		ID:             r.ID,
		CampaignID:     r.CampaignID,
		RecipientID:    r.RecipientID,
		AccountID:      r.AccountID,
		RecipientEmail: r.RecipientEmail,
		RecipientName:  r.RecipientName,
		Subject:        r.Subject,
		SenderName:     r.SenderName,
		SenderEmail:    r.SenderEmail,
		HTMLContent:    r.HTMLContent,
		TextContent:    r.TextContent,
		MessageID:      r.MessageID,
		SentAt:         r.SentAt,
	}
}
