package ledger

import (
	"fmt"
	"strings"
	"time"
)

// Level is the severity of a ledger entry.
type Level string

const (
	LevelInfo    Level = "INFO"
	LevelWarning Level = "WARNING"
	LevelError   Level = "ERROR"
)

// Valid reports whether the level is one of the known severities.
func (l Level) Valid() bool {
	switch l {
	case LevelInfo, LevelWarning, LevelError:
		return true
	default:
		return false
	}
}

// ParseLevel accepts the canonical names plus the common short forms.
func ParseLevel(value string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "INFO":
		return LevelInfo, nil
	case "WARNING", "WARN":
		return LevelWarning, nil
	case "ERROR", "ERR":
		return LevelError, nil
	default:
		return "", fmt.Errorf("unknown log level %q", value)
	}
}

// Entry is one immutable ledger record. The JSON shape is the on-disk format.
type Entry struct {
	ID        int64     `json:"id"`
	Level     Level     `json:"level"`
	Message   string    `json:"message"`
	Account   *string   `json:"email_account"`
	CreatedAt time.Time `json:"created_at"`
}

// AccountName returns the account the entry belongs to, or "".
func (e Entry) AccountName() string {
	if e.Account == nil {
		return ""
	}
	return *e.Account
}

// Filter narrows a query. Zero values mean "no constraint".
type Filter struct {
	Level   Level
	Account string
	Limit   int
}

func (f Filter) match(e Entry) bool {
	if f.Level != "" && e.Level != f.Level {
		return false
	}
	if f.Account != "" && e.AccountName() != f.Account {
		return false
	}
	return true
}

// Logger is the write side of the ledger used by the mail pipeline.
type Logger interface {
	Info(account, format string, args ...any)
	Warn(account, format string, args ...any)
	Error(account, format string, args ...any)
}
