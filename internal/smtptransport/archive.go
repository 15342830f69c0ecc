package smtptransport

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"time"

	"github.com/campaignforge/bulkmailer/internal/domain"
	"github.com/emersion/go-imap"
	imapclient "github.com/emersion/go-imap/client"
	"go.uber.org/zap"
)

// sentFolders are tried in order; providers disagree on the name of the sent
// mailbox. INBOX is the last-resort destination.
var sentFolders = []string{"Sent", "Sent Items", "Sent Messages", "INBOX.Sent"}

const fallbackFolder = "INBOX"

// imapSession is the slice of the IMAP client the archiver needs.
type imapSession interface {
	Login(username, password string) error
	Select(name string, readOnly bool) (*imap.MailboxStatus, error)
	Append(mbox string, flags []string, date time.Time, msg imap.Literal) error
	Logout() error
}

var _ MessageArchiver = (*IMAPArchiver)(nil)

// IMAPArchiver copies transmitted messages into the account's sent mailbox.
// Best effort by contract: any error is returned for logging and nothing
// more.
type IMAPArchiver struct {
	logger *zap.Logger
	dial   func(addr string) (imapSession, error)
	now    func() time.Time
}

func NewIMAPArchiver(logger *zap.Logger) *IMAPArchiver {
	return newIMAPArchiver(logger, dialIMAP, time.Now)
}

func newIMAPArchiver(logger *zap.Logger, dial func(addr string) (imapSession, error), nowFn func() time.Time) *IMAPArchiver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if nowFn == nil {
		nowFn = time.Now
	}

	return &IMAPArchiver{
		logger: logger,
		dial:   dial,
		now:    nowFn,
	}
}

func dialIMAP(addr string) (imapSession, error) {
	return imapclient.DialTLS(addr, nil)
}

func (a *IMAPArchiver) Archive(_ context.Context, account *domain.Account, raw []byte) error {
	if account.IMAPHost == "" {
		return nil
	}

	port := account.IMAPPort
	if port == 0 {
		port = 993
	}
	addr := net.JoinHostPort(account.IMAPHost, fmt.Sprintf("%d", port))

	session, err := a.dial(addr)
	if err != nil {
		return fmt.Errorf("imap connect %s: %w", addr, err)
	}
	defer func() {
		_ = session.Logout()
	}()

	if err := session.Login(account.Username, account.Password); err != nil {
		return fmt.Errorf("imap login: %w", err)
	}

	folder := a.selectFolder(session, account.ID)

	literal := bytes.NewBuffer(raw)
	if err := session.Append(folder, []string{imap.SeenFlag}, a.now(), literal); err != nil {
		return fmt.Errorf("imap append to %s: %w", folder, err)
	}

	return nil
}

func (a *IMAPArchiver) selectFolder(session imapSession, accountID string) string {
	for _, folder := range sentFolders {
		if _, err := session.Select(folder, false); err == nil {
			return folder
		}
	}

	a.logger.Debug("no sent folder found, archiving to inbox",
		zap.String("account_id", accountID),
	)

	return fallbackFolder
}
