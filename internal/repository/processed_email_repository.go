package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/gotrs-io/autoreply/internal/database"
	"github.com/gotrs-io/autoreply/internal/models"
)

// ProcessedEmailRepository records which messages already received a reply.
type ProcessedEmailRepository struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewProcessedEmailRepository wraps db.
func NewProcessedEmailRepository(db *sqlx.DB) *ProcessedEmailRepository {
	return &ProcessedEmailRepository{db: db, now: time.Now}
}

// HasProcessed reports whether a record exists for (account, messageID).
func (r *ProcessedEmailRepository) HasProcessed(ctx context.Context, account, messageID string) (bool, error) {
	query := r.db.Rebind(`
		SELECT COUNT(*) FROM processed_emails
		WHERE email_account = ? AND message_id = ?`)

	var count int
	if err := r.db.GetContext(ctx, &count, query, account, messageID); err != nil {
		return false, fmt.Errorf("failed to look up processed message: %w", err)
	}
	return count > 0, nil
}

// MarkProcessed inserts the record unless one already exists for the same
// (account, message id). It reports whether a row was written.
func (r *ProcessedEmailRepository) MarkProcessed(ctx context.Context, rec models.ProcessedRecord) (bool, error) {
	stmt, err := database.InsertIgnore(r.db.DriverName(), database.TableProcessedEmails,
		[]string{"email_account", "message_id", "sender", "subject", "processed_at"},
		[]string{"email_account", "message_id"})
	if err != nil {
		return false, err
	}

	at := rec.ProcessedAt
	if at.IsZero() {
		at = r.now()
	}
	res, err := r.db.ExecContext(ctx, r.db.Rebind(stmt),
		rec.Account, rec.MessageID, rec.Sender, rec.Subject, at.UTC())
	if err != nil {
		return false, fmt.Errorf("failed to record processed message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to record processed message: %w", err)
	}
	return n > 0, nil
}

// Recent lists the newest records, optionally restricted to one account.
func (r *ProcessedEmailRepository) Recent(ctx context.Context, account string, limit int) ([]models.ProcessedRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, email_account, message_id, sender, subject, processed_at FROM processed_emails`
	args := []any{}
	if account != "" {
		query += ` WHERE email_account = ?`
		args = append(args, account)
	}
	query += ` ORDER BY processed_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	var records []models.ProcessedRecord
	if err := r.db.SelectContext(ctx, &records, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list processed messages: %w", err)
	}
	return records, nil
}
