package smtptransport

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/campaignforge/bulkmailer/internal/domain"
	"go.uber.org/zap"
)

const (
	defaultDialTimeout = 30 * time.Second
	defaultIOTimeout   = 30 * time.Second
	defaultHelloName   = "localhost"
)

// MessageArchiver appends a transmitted message to the account's sent
// mailbox. Failures are the caller's to log; they never fail the send.
type MessageArchiver interface {
	Archive(ctx context.Context, account *domain.Account, raw []byte) error
}

// Sender drives one SMTP session per message: connect, greet, authenticate,
// transmit, archive, quit. Every path through Send tears the session down.
type Sender struct {
	logger      *zap.Logger
	archiver    MessageArchiver
	dialTimeout time.Duration
	ioTimeout   time.Duration
	helloName   string
}

type SenderOption func(*Sender)

func WithArchiver(a MessageArchiver) SenderOption {
	return func(s *Sender) { s.archiver = a }
}

func WithTimeouts(dial, io time.Duration) SenderOption {
	return func(s *Sender) {
		s.dialTimeout = dial
		s.ioTimeout = io
	}
}

func WithHelloName(name string) SenderOption {
	return func(s *Sender) { s.helloName = name }
}

func NewSender(logger *zap.Logger, opts ...SenderOption) *Sender {
	s := &Sender{
		logger:      logger,
		dialTimeout: defaultDialTimeout,
		ioTimeout:   defaultIOTimeout,
		helloName:   defaultHelloName,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}

	return s
}

// Send transmits raw to a single recipient through the account's SMTP server.
// The envelope sender is the account's own address so the envelope and From
// header stay aligned. Failures come back as *SendError.
func (s *Sender) Send(ctx context.Context, account *domain.Account, to string, raw []byte) error {
	if account == nil || !account.HasCredentials() {
		return newSendError(KindAuthenticationFailed, nil, "account credentials are missing")
	}

	client, err := s.connect(ctx, account)
	if err != nil {
		return err
	}
	defer func() {
		// Quit also closes the connection; a failed session may have already
		// lost it.
		_ = client.Quit()
	}()

	if err := s.authenticate(client, account); err != nil {
		return err
	}

	if err := client.Mail(account.Username); err != nil {
		return newSendError(KindOther, err, "sender %s rejected: %v", account.Username, err)
	}
	if err := client.Rcpt(to); err != nil {
		return newSendError(KindRecipientRefused, err, "recipient %s refused: %v", to, err)
	}

	w, err := client.Data()
	if err != nil {
		return newSendError(KindDataError, err, "data command failed: %v", err)
	}
	if _, err := w.Write(raw); err != nil {
		return newSendError(KindDataError, err, "message write failed: %v", err)
	}
	if err := w.Close(); err != nil {
		return newSendError(KindDataError, err, "message rejected: %v", err)
	}

	s.archive(ctx, account, raw)

	return nil
}

func (s *Sender) connect(ctx context.Context, account *domain.Account) (*smtp.Client, error) {
	addr := net.JoinHostPort(account.Host, fmt.Sprintf("%d", account.Port))
	netDialer := &net.Dialer{Timeout: s.dialTimeout}

	var (
		conn net.Conn
		err  error
	)
	if account.UseSSL {
		tlsDialer := &tls.Dialer{
			NetDialer: netDialer,
			Config:    &tls.Config{ServerName: account.Host},
		}
		conn, err = tlsDialer.DialContext(ctx, "tcp", addr)
	} else {
		conn, err = netDialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, newSendError(KindConnectionError, err, "connect %s failed: %v", addr, err)
	}

	_ = conn.SetDeadline(time.Now().Add(s.ioTimeout))

	client, err := smtp.NewClient(conn, account.Host)
	if err != nil {
		_ = conn.Close()
		return nil, newSendError(KindConnectionError, err, "greeting from %s failed: %v", addr, err)
	}

	// Hello issues EHLO and falls back to HELO on rejection.
	if err := client.Hello(s.helloName); err != nil {
		return nil, newSendError(KindConnectionError, err, "hello failed: %v", err)
	}

	if !account.UseSSL && account.UseTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(&tls.Config{ServerName: account.Host}); err != nil {
				return nil, newSendError(KindConnectionError, err, "starttls failed: %v", err)
			}
		}
	}

	return client, nil
}

// authenticate tries AUTH LOGIN first, then falls back to AUTH PLAIN when the
// server advertises it. Some providers advertise LOGIN but only accept PLAIN.
// Both exchanges are framed manually over client.Text: the net/smtp Auth
// helper quits the session on a rejected exchange, leaving no connection for
// the fallback to run on.
func (s *Sender) authenticate(client *smtp.Client, account *domain.Account) error {
	ok, mechs := client.Extension("AUTH")
	if !ok {
		return nil
	}

	loginErr := authLogin(client, account.Username, account.Password)
	if loginErr == nil {
		return nil
	}

	if !strings.Contains(mechs, "PLAIN") {
		return newSendError(KindAuthenticationFailed, loginErr, "authentication failed for %s: %v", account.Username, loginErr)
	}

	s.logger.Debug("login auth rejected, retrying with plain",
		zap.String("account_id", account.ID),
		zap.Error(loginErr),
	)

	if err := authPlain(client, account.Username, account.Password); err != nil {
		return newSendError(KindAuthenticationFailed, err, "authentication failed for %s: %v", account.Username, err)
	}

	return nil
}

// authLogin drives the legacy AUTH LOGIN exchange: the username and password
// are sent base64-encoded in response to successive 334 prompts.
func authLogin(client *smtp.Client, username, password string) error {
	if err := authCmd(client, "AUTH LOGIN", 334); err != nil {
		return err
	}
	if err := authCmd(client, base64.StdEncoding.EncodeToString([]byte(username)), 334); err != nil {
		return err
	}
	return authCmd(client, base64.StdEncoding.EncodeToString([]byte(password)), 235)
}

// authPlain frames RFC 4616 AUTH PLAIN in one command.
func authPlain(client *smtp.Client, username, password string) error {
	payload := base64.StdEncoding.EncodeToString([]byte("\x00" + username + "\x00" + password))
	return authCmd(client, "AUTH PLAIN "+payload, 235)
}

// authCmd sends one line and checks the reply code; a rejection surfaces as a
// textproto error with the session still usable.
func authCmd(client *smtp.Client, line string, expectCode int) error {
	id, err := client.Text.Cmd("%s", line)
	if err != nil {
		return err
	}

	client.Text.StartResponse(id)
	defer client.Text.EndResponse(id)

	_, _, err = client.Text.ReadResponse(expectCode)

	return err
}

func (s *Sender) archive(ctx context.Context, account *domain.Account, raw []byte) {
	if s.archiver == nil || !account.SaveToSent {
		return
	}

	if err := s.archiver.Archive(ctx, account, raw); err != nil {
		s.logger.Warn("failed to archive sent message",
			zap.String("account_id", account.ID),
			zap.Error(err),
		)
	}
}
