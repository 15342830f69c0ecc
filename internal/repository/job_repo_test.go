package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/campaignforge/bulkmailer/internal/domain"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()

	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		t.Fatalf("gorm.Open() error = %v", err)
	}

	return db, mock
}

func candidateRows(ids ...string) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{
		"id", "campaign_id", "recipient_id", "account_id", "status", "priority", "attempts", "created_at", "updated_at",
	})
	created := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)
	for _, id := range ids {
		rows.AddRow(id, "camp-1", "rcp-1", "acc-1", string(domain.JobStatusPending), 0, 0, created, created)
	}
	return rows
}

const (
	candidateQuery = `SELECT email_queue\.\* FROM "email_queue" JOIN recipients ON recipients\.id = email_queue\.recipient_id JOIN smtp_accounts ON smtp_accounts\.id = email_queue\.account_id`
	claimUpdate    = `UPDATE "email_queue" SET`
)

func expectClaimedRowLoads(mock sqlmock.Sqlmock) {
	mock.ExpectQuery(`SELECT \* FROM "campaigns" WHERE id = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "subject", "sender_name", "sender_email", "html_body", "status"}).
			AddRow("camp-1", "Hello", "Acme Outreach", "hello@acme.example", "<p>hi</p>", string(domain.CampaignStatusSending)))
	mock.ExpectQuery(`SELECT \* FROM "recipients" WHERE id = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "first_name", "unsubscribed"}).
			AddRow("rcp-1", "ada@x.io", "Ada", false))
	mock.ExpectQuery(`SELECT \* FROM "smtp_accounts" WHERE id = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "host", "port", "username", "password", "active"}).
			AddRow("acc-1", "mail.acme.example", 465, "relay@acme.example", "hunter2", true))
}

func TestGormJobRepoClaimNextMovesPastLostRace(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	repo := NewGormJobRepo(db)

	races := 0
	repo.SetClaimRaceHook(func() { races++ })

	mock.ExpectQuery(candidateQuery).WillReturnRows(candidateRows("job-1", "job-2"))
	// job-1 is snatched by another worker between select and update.
	mock.ExpectExec(claimUpdate).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(claimUpdate).WillReturnResult(sqlmock.NewResult(0, 1))
	expectClaimedRowLoads(mock)

	claimed, err := repo.ClaimNext(context.Background())
	if err != nil {
		t.Fatalf("ClaimNext() error = %v", err)
	}
	if claimed == nil {
		t.Fatal("ClaimNext() = nil, want the second candidate")
	}

	if claimed.Job.ID != "job-2" {
		t.Errorf("claimed job = %s, want job-2", claimed.Job.ID)
	}
	if claimed.Job.Status != domain.JobStatusProcessing {
		t.Errorf("claimed status = %s, want processing", claimed.Job.Status)
	}
	if claimed.Recipient.Email != "ada@x.io" || claimed.Account.Username != "relay@acme.example" {
		t.Errorf("claimed rows = %+v", claimed)
	}
	if races != 1 {
		t.Errorf("race hook fired %d times, want 1", races)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestGormJobRepoClaimNextEmptyQueue(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	repo := NewGormJobRepo(db)

	mock.ExpectQuery(candidateQuery).WillReturnRows(candidateRows())

	claimed, err := repo.ClaimNext(context.Background())
	if err != nil {
		t.Fatalf("ClaimNext() error = %v", err)
	}
	if claimed != nil {
		t.Errorf("ClaimNext() = %+v, want nil for an empty queue", claimed)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestGormJobRepoClaimNextAllCandidatesLost(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	repo := NewGormJobRepo(db)

	races := 0
	repo.SetClaimRaceHook(func() { races++ })

	mock.ExpectQuery(candidateQuery).WillReturnRows(candidateRows("job-1", "job-2"))
	mock.ExpectExec(claimUpdate).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(claimUpdate).WillReturnResult(sqlmock.NewResult(0, 0))

	claimed, err := repo.ClaimNext(context.Background())
	if err != nil {
		t.Fatalf("ClaimNext() error = %v", err)
	}
	if claimed != nil {
		t.Errorf("ClaimNext() = %+v, want nil when every candidate is lost", claimed)
	}
	if races != 2 {
		t.Errorf("race hook fired %d times, want 2", races)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestGormJobRepoClaimNextReleasesOrphanedJob(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	repo := NewGormJobRepo(db)

	mock.ExpectQuery(candidateQuery).WillReturnRows(candidateRows("job-1"))
	mock.ExpectExec(claimUpdate).WillReturnResult(sqlmock.NewResult(0, 1))
	// The campaign row vanished; the claim is surrendered as a failure.
	mock.ExpectQuery(`SELECT \* FROM "campaigns" WHERE id = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectExec(claimUpdate).WillReturnResult(sqlmock.NewResult(0, 1))

	claimed, err := repo.ClaimNext(context.Background())
	if err != nil {
		t.Fatalf("ClaimNext() error = %v", err)
	}
	if claimed != nil {
		t.Errorf("ClaimNext() = %+v, want nil for an orphaned job", claimed)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
