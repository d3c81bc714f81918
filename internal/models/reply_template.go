package models

import (
	"strings"
	"time"
)

// Template body formats.
const (
	TemplateFormatText     = "text"
	TemplateFormatMarkdown = "markdown"
)

// ReplyTemplate is the reply configuration applied to every message in a run.
// SenderName and Subject are optional; when Subject is set it replaces the
// subject derived from the original message.
type ReplyTemplate struct {
	ID         int       `json:"id" db:"id"`
	Content    string    `json:"content" db:"content"`
	SenderName string    `json:"sender_name,omitempty" db:"sender_name"`
	Subject    string    `json:"subject,omitempty" db:"subject"`
	Format     string    `json:"format,omitempty" db:"format"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

// Normalized fills defaults for optional fields.
func (t ReplyTemplate) Normalized() ReplyTemplate {
	t.SenderName = strings.TrimSpace(t.SenderName)
	t.Subject = strings.TrimSpace(t.Subject)
	switch strings.ToLower(strings.TrimSpace(t.Format)) {
	case TemplateFormatMarkdown, "md":
		t.Format = TemplateFormatMarkdown
	default:
		t.Format = TemplateFormatText
	}
	return t
}

// HasFixedSubject reports whether every reply uses the configured subject.
func (t ReplyTemplate) HasFixedSubject() bool {
	return strings.TrimSpace(t.Subject) != ""
}

// IsEmpty reports whether the template has no usable content.
func (t *ReplyTemplate) IsEmpty() bool {
	return t == nil || strings.TrimSpace(t.Content) == ""
}
