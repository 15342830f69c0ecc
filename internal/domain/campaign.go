package domain

import (
	"fmt"
	"strings"
	"time"
)

// CampaignStatus represents the lifecycle state of a campaign.
type CampaignStatus string

const (
	CampaignStatusDraft   CampaignStatus = "draft"
	CampaignStatusSending CampaignStatus = "sending"
	CampaignStatusSent    CampaignStatus = "sent"
)

func (s CampaignStatus) String() string { return string(s) }

func (s CampaignStatus) IsValid() bool {
	switch s {
	case CampaignStatusDraft, CampaignStatusSending, CampaignStatusSent:
		return true
	}
	return false
}

func ParseCampaignStatusFromString(s string) (CampaignStatus, error) {
	st := CampaignStatus(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid campaign status %q", ErrValidation, s)
	}
	return st, nil
}

// Campaign carries the template a job's message is rendered from. The HTML
// body may embed an attachment manifest as an inline <!--ATTACHMENTS:...-->
// marker; the message builder strips it before rendering. A campaign moves to
// sent only once no job referencing it remains pending or processing.
type Campaign struct {
	ID                    string
	Name                  string
	Subject               string
	SenderName            string
	SenderEmail           string
	ReplyTo               string
	HTMLBody              string
	UsePersonalization    bool
	PersonalizationPrompt string
	Status                CampaignStatus
	SentAt                *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

func (c *Campaign) Validate() error {
	if strings.TrimSpace(c.Subject) == "" {
		return fmt.Errorf("%w: subject is required", ErrValidation)
	}
	if strings.TrimSpace(c.SenderEmail) == "" {
		return fmt.Errorf("%w: sender email is required", ErrValidation)
	}
	if !c.Status.IsValid() {
		return fmt.Errorf("%w: invalid campaign status %q", ErrValidation, c.Status)
	}
	return nil
}
