package service

import (
	"context"
	"fmt"
	"time"

	"github.com/campaignforge/bulkmailer/internal/domain"
	"github.com/campaignforge/bulkmailer/internal/message"
	"github.com/campaignforge/bulkmailer/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Recorder commits terminal job outcomes. Each method is idempotent: a job
// already in a terminal state is left untouched, including all the side
// bookkeeping of RecordSent.
type Recorder struct {
	uow    repository.UnitOfWork
	logger *zap.Logger
	loc    *time.Location
	now    func() time.Time
	newID  func() string
}

func NewRecorder(uow repository.UnitOfWork, logger *zap.Logger, loc *time.Location) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if loc == nil {
		loc = time.UTC
	}

	return &Recorder{
		uow:    uow,
		logger: logger,
		loc:    loc,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// RecordSent commits the whole success path in one transaction: the job flips
// to sent, the archival row is written, the campaign-recipient association is
// updated, the campaign itself flips to sent once no active job remains, and
// the day's counters are bumped. Either all of it lands or none of it does.
func (r *Recorder) RecordSent(ctx context.Context, claimed *repository.ClaimedJob, msg *message.Message) error {
	at := r.now().In(r.loc)

	return r.uow.Do(ctx, func(s repository.Stores) error {
		transitioned, err := s.Jobs.MarkSent(ctx, claimed.Job.ID, at)
		if err != nil {
			return fmt.Errorf("failed to mark job sent: %w", err)
		}
		if !transitioned {
			r.logger.Warn("job already terminal, skipping sent bookkeeping",
				zap.String("job_id", claimed.Job.ID),
			)
			return nil
		}

		record := r.sentRecord(claimed, msg, at)
		if err := s.SentRecords.Create(ctx, record); err != nil {
			return fmt.Errorf("failed to create sent record: %w", err)
		}

		if err := s.Campaigns.MarkRecipientSent(ctx, claimed.Campaign.ID, claimed.Recipient.ID, at); err != nil {
			return fmt.Errorf("failed to update campaign recipient: %w", err)
		}

		active, err := s.Jobs.CountActiveByCampaign(ctx, claimed.Campaign.ID)
		if err != nil {
			return fmt.Errorf("failed to count active jobs: %w", err)
		}
		if active == 0 {
			if err := s.Campaigns.MarkSent(ctx, claimed.Campaign.ID, at); err != nil {
				return fmt.Errorf("failed to complete campaign: %w", err)
			}
		}

		// Delivered mirrors sent at record time; bounce ingestion is a
		// separate system.
		if err := s.Stats.IncrementSent(ctx, at.Format("2006-01-02"), 1, 1); err != nil {
			return fmt.Errorf("failed to upsert daily stats: %w", err)
		}

		return nil
	})
}

// RecordFailed flips the job to failed with the reason and bumps its attempts
// counter. No requeue happens here; a failed job stays failed until an
// operator re-enqueues it.
func (r *Recorder) RecordFailed(ctx context.Context, jobID, reason string) error {
	return r.uow.Do(ctx, func(s repository.Stores) error {
		transitioned, err := s.Jobs.MarkFailed(ctx, jobID, reason)
		if err != nil {
			return fmt.Errorf("failed to mark job failed: %w", err)
		}
		if !transitioned {
			r.logger.Warn("job already terminal, failure not recorded",
				zap.String("job_id", jobID),
			)
		}
		return nil
	})
}

// RecordSkipped flips the job to skipped without touching attempts.
func (r *Recorder) RecordSkipped(ctx context.Context, jobID, reason string) error {
	return r.uow.Do(ctx, func(s repository.Stores) error {
		transitioned, err := s.Jobs.MarkSkipped(ctx, jobID, reason)
		if err != nil {
			return fmt.Errorf("failed to mark job skipped: %w", err)
		}
		if !transitioned {
			r.logger.Warn("job already terminal, skip not recorded",
				zap.String("job_id", jobID),
			)
		}
		return nil
	})
}

func (r *Recorder) sentRecord(claimed *repository.ClaimedJob, msg *message.Message, at time.Time) *domain.SentRecord {
	return &domain.SentRecord{
		ID:             r.newID(),
		CampaignID:     claimed.Campaign.ID,
		RecipientID:    claimed.Recipient.ID,
		AccountID:      claimed.Account.ID,
		RecipientEmail: claimed.Recipient.Email,
		RecipientName:  claimed.Recipient.FullName(),
		Subject:        msg.Subject,
		SenderName:     claimed.Campaign.SenderName,
		SenderEmail:    msg.From,
		HTMLContent:    msg.HTML,
		TextContent:    msg.Text,
		MessageID:      msg.MessageID,
		SentAt:         at,
	}
}
