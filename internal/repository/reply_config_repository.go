package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/gotrs-io/autoreply/internal/models"
)

// ReplyConfigRepository stores the reply template. Every Save appends a row
// and the newest row is the active template.
type ReplyConfigRepository struct {
	db  *sqlx.DB
	now func() time.Time
}

func NewReplyConfigRepository(db *sqlx.DB) *ReplyConfigRepository {
	return &ReplyConfigRepository{db: db, now: time.Now}
}

// Get returns the active template, or nil when none was ever saved.
func (r *ReplyConfigRepository) Get(ctx context.Context) (*models.ReplyTemplate, error) {
	var tmpl models.ReplyTemplate
	query := `SELECT id, content, sender_name, subject, format, updated_at
		FROM reply_config ORDER BY updated_at DESC, id DESC LIMIT 1`
	err := r.db.GetContext(ctx, &tmpl, query)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load reply config: %w", err)
	}
	normalized := tmpl.Normalized()
	return &normalized, nil
}

// Save stores tmpl as the new active template.
func (r *ReplyConfigRepository) Save(ctx context.Context, tmpl models.ReplyTemplate) (*models.ReplyTemplate, error) {
	if strings.TrimSpace(tmpl.Content) == "" {
		return nil, errors.New("reply content is required")
	}
	tmpl = tmpl.Normalized()
	tmpl.UpdatedAt = r.now().UTC()

	query := r.db.Rebind(`INSERT INTO reply_config (content, sender_name, subject, format, updated_at)
		VALUES (?, ?, ?, ?, ?)`)
	if _, err := r.db.ExecContext(ctx, query,
		tmpl.Content, tmpl.SenderName, tmpl.Subject, tmpl.Format, tmpl.UpdatedAt); err != nil {
		return nil, fmt.Errorf("failed to save reply config: %w", err)
	}
	return &tmpl, nil
}
