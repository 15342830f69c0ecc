package domain

import (
	"fmt"
	"strings"
	"time"
)

// Account is a credentialed SMTP/IMAP sending identity with its own hourly
// cap and warm-up state. Passwords arrive already decrypted from the
// credential store; the engine never performs encryption or decryption.
type Account struct {
	ID               string
	Host             string
	Port             int
	Username         string
	Password         string
	UseSSL           bool
	UseTLS           bool
	MaxPerHour       int
	IMAPHost         string
	IMAPPort         int
	SaveToSent       bool
	Active           bool
	Default          bool
	WarmupStage      int
	WarmupEmailsSent int
	DailySentCount   int
	LastSentAt       *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// HasCredentials reports whether the account can authenticate at all.
func (a *Account) HasCredentials() bool {
	return strings.TrimSpace(a.Username) != "" && strings.TrimSpace(a.Password) != ""
}

func (a *Account) Validate() error {
	if strings.TrimSpace(a.Host) == "" {
		return fmt.Errorf("%w: host is required", ErrValidation)
	}
	if a.Port <= 0 || a.Port > 65535 {
		return fmt.Errorf("%w: invalid port %d", ErrValidation, a.Port)
	}
	if !a.HasCredentials() {
		return fmt.Errorf("%w: username and password are required", ErrValidation)
	}
	return nil
}
