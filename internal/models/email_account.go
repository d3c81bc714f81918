package models

import (
	"strings"
	"time"
)

// EmailAccount is a mailbox the responder polls and replies from.
type EmailAccount struct {
	ID        int       `json:"id" db:"id"`
	Email     string    `json:"email" db:"email"`
	IMAPHost  string    `json:"imap_server" db:"imap_server"`
	IMAPPort  int       `json:"imap_port" db:"imap_port"`
	SMTPHost  string    `json:"smtp_server" db:"smtp_server"`
	SMTPPort  int       `json:"smtp_port" db:"smtp_port"`
	Password  string    `json:"-" db:"password"`
	IsActive  bool      `json:"is_active" db:"is_active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Domain returns the part of the address after the last '@'.
func (a EmailAccount) Domain() string {
	if i := strings.LastIndex(a.Email, "@"); i >= 0 && i < len(a.Email)-1 {
		return strings.ToLower(a.Email[i+1:])
	}
	return "localhost"
}

// ActiveAccounts filters accounts down to the active ones, keeping order.
func ActiveAccounts(accounts []EmailAccount) []EmailAccount {
	active := make([]EmailAccount, 0, len(accounts))
	for _, acc := range accounts {
		if acc.IsActive {
			active = append(active, acc)
		}
	}
	return active
}
