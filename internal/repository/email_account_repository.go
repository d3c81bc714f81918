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

// ErrAccountNotFound is returned when no account matches.
var ErrAccountNotFound = errors.New("email account not found")

const accountColumns = `id, email, imap_server, imap_port, smtp_server, smtp_port,
	password, is_active, created_at, updated_at`

type EmailAccountRepository struct {
	db  *sqlx.DB
	now func() time.Time
}

func NewEmailAccountRepository(db *sqlx.DB) *EmailAccountRepository {
	return &EmailAccountRepository{db: db, now: time.Now}
}

// List returns every account ordered by id.
func (r *EmailAccountRepository) List(ctx context.Context) ([]models.EmailAccount, error) {
	var accounts []models.EmailAccount
	query := `SELECT ` + accountColumns + ` FROM email_accounts ORDER BY id`
	if err := r.db.SelectContext(ctx, &accounts, query); err != nil {
		return nil, fmt.Errorf("failed to list email accounts: %w", err)
	}
	return accounts, nil
}

// ListActive returns the accounts a run should poll, ordered by id.
func (r *EmailAccountRepository) ListActive(ctx context.Context) ([]models.EmailAccount, error) {
	var accounts []models.EmailAccount
	query := r.db.Rebind(`SELECT ` + accountColumns + ` FROM email_accounts WHERE is_active = ? ORDER BY id`)
	if err := r.db.SelectContext(ctx, &accounts, query, true); err != nil {
		return nil, fmt.Errorf("failed to list active email accounts: %w", err)
	}
	return accounts, nil
}

func (r *EmailAccountRepository) GetByEmail(ctx context.Context, email string) (*models.EmailAccount, error) {
	var account models.EmailAccount
	query := r.db.Rebind(`SELECT ` + accountColumns + ` FROM email_accounts WHERE email = ?`)
	err := r.db.GetContext(ctx, &account, query, strings.TrimSpace(email))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get email account: %w", err)
	}
	return &account, nil
}

// Create inserts the account and fills in its id and timestamps.
func (r *EmailAccountRepository) Create(ctx context.Context, account *models.EmailAccount) error {
	if account == nil || strings.TrimSpace(account.Email) == "" {
		return errors.New("email address is required")
	}
	if account.IMAPHost == "" || account.SMTPHost == "" {
		return errors.New("imap and smtp servers are required")
	}
	now := r.now().UTC()
	account.Email = strings.TrimSpace(account.Email)
	account.CreatedAt = now
	account.UpdatedAt = now

	args := []any{
		account.Email, account.IMAPHost, account.IMAPPort, account.SMTPHost, account.SMTPPort,
		account.Password, account.IsActive, account.CreatedAt, account.UpdatedAt,
	}
	insert := `INSERT INTO email_accounts (email, imap_server, imap_port, smtp_server, smtp_port,
		password, is_active, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	// lib/pq does not implement LastInsertId
	if r.db.DriverName() == "postgres" {
		var id int
		if err := r.db.QueryRowxContext(ctx, r.db.Rebind(insert+` RETURNING id`), args...).Scan(&id); err != nil {
			return fmt.Errorf("failed to create email account: %w", err)
		}
		account.ID = id
		return nil
	}

	res, err := r.db.ExecContext(ctx, r.db.Rebind(insert), args...)
	if err != nil {
		return fmt.Errorf("failed to create email account: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read new email account id: %w", err)
	}
	account.ID = int(id)
	return nil
}

// SetActive toggles whether the account is polled.
func (r *EmailAccountRepository) SetActive(ctx context.Context, email string, active bool) error {
	query := r.db.Rebind(`UPDATE email_accounts SET is_active = ?, updated_at = ? WHERE email = ?`)
	res, err := r.db.ExecContext(ctx, query, active, r.now().UTC(), strings.TrimSpace(email))
	if err != nil {
		return fmt.Errorf("failed to update email account: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update email account: %w", err)
	}
	if n == 0 {
		return ErrAccountNotFound
	}
	return nil
}
