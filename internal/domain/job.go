package domain

import (
	"fmt"
	"strings"
	"time"
)

// JobStatus represents the lifecycle state of a queued send job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusSent       JobStatus = "sent"
	JobStatusFailed     JobStatus = "failed"
	JobStatusSkipped    JobStatus = "skipped"
)

func (s JobStatus) String() string { return string(s) }

func (s JobStatus) IsValid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusSent, JobStatusFailed, JobStatusSkipped:
		return true
	}
	return false
}

// IsTerminal reports whether the status admits no further transitions.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusSent, JobStatusFailed, JobStatusSkipped:
		return true
	}
	return false
}

func ParseJobStatusFromString(s string) (JobStatus, error) {
	st := JobStatus(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid job status %q", ErrValidation, s)
	}
	return st, nil
}

// Job is one queued (campaign, recipient) send obligation bound to an account.
// The pending->processing transition is the only entry point to exclusive
// ownership; at most one worker holds a job in processing.
type Job struct {
	ID           string
	CampaignID   string
	RecipientID  string
	AccountID    string
	Status       JobStatus
	Priority     int
	Attempts     int
	ErrorMessage *string
	SentAt       *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (j *Job) Validate() error {
	if j.CampaignID == "" {
		return fmt.Errorf("%w: campaign id is required", ErrValidation)
	}
	if j.RecipientID == "" {
		return fmt.Errorf("%w: recipient id is required", ErrValidation)
	}
	if j.AccountID == "" {
		return fmt.Errorf("%w: account id is required", ErrValidation)
	}
	if !j.Status.IsValid() {
		return fmt.Errorf("%w: invalid job status %q", ErrValidation, j.Status)
	}
	return nil
}
