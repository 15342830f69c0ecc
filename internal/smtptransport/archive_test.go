package smtptransport

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/campaignforge/bulkmailer/internal/domain"
	"github.com/emersion/go-imap"
	"go.uber.org/zap"
)

type fakeIMAPSession struct {
	selectable map[string]bool
	loginErr   error
	appendErr  error

	loggedIn     bool
	loggedOut    bool
	appendFolder string
	appendSize   int
}

func (f *fakeIMAPSession) Login(username, password string) error {
	if f.loginErr != nil {
		return f.loginErr
	}
	f.loggedIn = true
	return nil
}

func (f *fakeIMAPSession) Select(name string, _ bool) (*imap.MailboxStatus, error) {
	if f.selectable[name] {
		return &imap.MailboxStatus{Name: name}, nil
	}
	return nil, errors.New("no such mailbox")
}

func (f *fakeIMAPSession) Append(mbox string, _ []string, _ time.Time, msg imap.Literal) error {
	if f.appendErr != nil {
		return f.appendErr
	}
	f.appendFolder = mbox
	f.appendSize = msg.Len()
	return nil
}

func (f *fakeIMAPSession) Logout() error {
	f.loggedOut = true
	return nil
}

func imapTestAccount() *domain.Account {
	return &domain.Account{
		ID:       "acc-1",
		Username: "relay@mailhost.example",
		Password: "hunter2",
		IMAPHost: "imap.mailhost.example",
		IMAPPort: 993,
	}
}

func newTestArchiver(session *fakeIMAPSession, dialErr error) *IMAPArchiver {
	return newIMAPArchiver(zap.NewNop(), func(string) (imapSession, error) {
		if dialErr != nil {
			return nil, dialErr
		}
		return session, nil
	}, nil)
}

func TestIMAPArchiverPrefersSentFolder(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		selectable map[string]bool
		wantFolder string
	}{
		{
			name:       "standard sent folder",
			selectable: map[string]bool{"Sent": true, "INBOX": true},
			wantFolder: "Sent",
		},
		{
			name:       "outlook style folder",
			selectable: map[string]bool{"Sent Items": true},
			wantFolder: "Sent Items",
		},
		{
			name:       "dotted namespace folder",
			selectable: map[string]bool{"INBOX.Sent": true},
			wantFolder: "INBOX.Sent",
		},
		{
			name:       "inbox fallback",
			selectable: map[string]bool{},
			wantFolder: "INBOX",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			session := &fakeIMAPSession{selectable: tt.selectable}
			archiver := newTestArchiver(session, nil)

			raw := []byte("Subject: hi\r\n\r\nbody")
			if err := archiver.Archive(context.Background(), imapTestAccount(), raw); err != nil {
				t.Fatalf("Archive() error = %v", err)
			}

			if session.appendFolder != tt.wantFolder {
				t.Errorf("Append folder = %q, want %q", session.appendFolder, tt.wantFolder)
			}
			if session.appendSize != len(raw) {
				t.Errorf("Append size = %d, want %d", session.appendSize, len(raw))
			}
			if !session.loggedOut {
				t.Error("session should always be logged out")
			}
		})
	}
}

func TestIMAPArchiverNoHostConfigured(t *testing.T) {
	t.Parallel()

	archiver := newTestArchiver(nil, errors.New("dial should not happen"))

	account := imapTestAccount()
	account.IMAPHost = ""

	if err := archiver.Archive(context.Background(), account, []byte("x")); err != nil {
		t.Fatalf("Archive() error = %v, want nil when no imap host is set", err)
	}
}

func TestIMAPArchiverErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		session *fakeIMAPSession
		dialErr error
	}{
		{
			name:    "dial failure",
			dialErr: errors.New("connection refused"),
		},
		{
			name:    "login failure",
			session: &fakeIMAPSession{loginErr: errors.New("bad credentials")},
		},
		{
			name:    "append failure",
			session: &fakeIMAPSession{selectable: map[string]bool{"Sent": true}, appendErr: errors.New("quota exceeded")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			archiver := newTestArchiver(tt.session, tt.dialErr)

			err := archiver.Archive(context.Background(), imapTestAccount(), []byte("x"))
			if err == nil {
				t.Fatal("Archive() error = nil, want an error for the caller to log")
			}
			if tt.session != nil && tt.dialErr == nil && !tt.session.loggedOut {
				t.Error("session should be logged out on failure paths")
			}
		})
	}
}
