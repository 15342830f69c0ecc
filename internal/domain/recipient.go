package domain

import (
	"fmt"
	"strings"
	"time"
)

// Recipient is a single deliverable address with the display fields merge
// tags are resolved from. An unsubscribed recipient must never be
// transmitted to; jobs pointing at one are short-circuited to skipped.
type Recipient struct {
	ID           string
	Email        string
	FirstName    string
	LastName     string
	Company      string
	City         string
	Title        string
	Phone        string
	Unsubscribed bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// FullName joins first and last name, trimming when either is empty.
func (r *Recipient) FullName() string {
	return strings.TrimSpace(r.FirstName + " " + r.LastName)
}

func (r *Recipient) Validate() error {
	if strings.TrimSpace(r.Email) == "" {
		return fmt.Errorf("%w: email is required", ErrValidation)
	}
	if !strings.Contains(r.Email, "@") {
		return fmt.Errorf("%w: invalid email %q", ErrValidation, r.Email)
	}
	return nil
}
