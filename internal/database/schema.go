package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

// Table names shared with the repositories.
const (
	TableEmailAccounts   = "email_accounts"
	TableReplyConfig     = "reply_config"
	TableProcessedEmails = "processed_emails"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS email_accounts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		email TEXT NOT NULL UNIQUE,
		imap_server TEXT NOT NULL,
		imap_port INTEGER NOT NULL DEFAULT 993,
		smtp_server TEXT NOT NULL,
		smtp_port INTEGER NOT NULL DEFAULT 465,
		password TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS reply_config (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		content TEXT NOT NULL,
		sender_name TEXT NOT NULL DEFAULT '',
		subject TEXT NOT NULL DEFAULT '',
		format TEXT NOT NULL DEFAULT 'text',
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS processed_emails (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		email_account TEXT NOT NULL,
		message_id TEXT NOT NULL,
		sender TEXT NOT NULL DEFAULT '',
		subject TEXT NOT NULL DEFAULT '',
		processed_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (email_account, message_id)
	)`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS email_accounts (
		id SERIAL PRIMARY KEY,
		email VARCHAR(255) NOT NULL UNIQUE,
		imap_server VARCHAR(255) NOT NULL,
		imap_port INTEGER NOT NULL DEFAULT 993,
		smtp_server VARCHAR(255) NOT NULL,
		smtp_port INTEGER NOT NULL DEFAULT 465,
		password TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS reply_config (
		id SERIAL PRIMARY KEY,
		content TEXT NOT NULL,
		sender_name VARCHAR(255) NOT NULL DEFAULT '',
		subject VARCHAR(998) NOT NULL DEFAULT '',
		format VARCHAR(16) NOT NULL DEFAULT 'text',
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS processed_emails (
		id BIGSERIAL PRIMARY KEY,
		email_account VARCHAR(255) NOT NULL,
		message_id TEXT NOT NULL,
		sender VARCHAR(255) NOT NULL DEFAULT '',
		subject TEXT NOT NULL DEFAULT '',
		processed_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (email_account, message_id)
	)`,
}

// message_id is capped so the composite unique key fits InnoDB's index limit.
var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS email_accounts (
		id INT AUTO_INCREMENT PRIMARY KEY,
		email VARCHAR(255) NOT NULL UNIQUE,
		imap_server VARCHAR(255) NOT NULL,
		imap_port INT NOT NULL DEFAULT 993,
		smtp_server VARCHAR(255) NOT NULL,
		smtp_port INT NOT NULL DEFAULT 465,
		password TEXT NOT NULL,
		is_active TINYINT(1) NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	) DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS reply_config (
		id INT AUTO_INCREMENT PRIMARY KEY,
		content TEXT NOT NULL,
		sender_name VARCHAR(255) NOT NULL DEFAULT '',
		subject VARCHAR(998) NOT NULL DEFAULT '',
		format VARCHAR(16) NOT NULL DEFAULT 'text',
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	) DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS processed_emails (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		email_account VARCHAR(255) NOT NULL,
		message_id VARCHAR(512) NOT NULL,
		sender VARCHAR(255) NOT NULL DEFAULT '',
		subject TEXT NOT NULL,
		processed_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE KEY uq_processed_account_message (email_account, message_id)
	) DEFAULT CHARSET=utf8mb4`,
}

// SchemaFor returns the bootstrap statements for a driver.
func SchemaFor(driver string) ([]string, error) {
	name, err := NormalizeDriver(driver)
	if err != nil {
		return nil, err
	}
	switch name {
	case DriverPostgres:
		return postgresSchema, nil
	case DriverMySQL:
		return mysqlSchema, nil
	default:
		return sqliteSchema, nil
	}
}

// Migrate creates any missing tables. Statements are idempotent.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	stmts, err := SchemaFor(db.DriverName())
	if err != nil {
		return err
	}
	for i, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement %d failed: %w", i+1, err)
		}
	}
	return nil
}

// InsertIgnore builds an insert that silently skips rows violating a unique
// key. Placeholders are '?' and must be rebound by the caller.
func InsertIgnore(driver, table string, columns []string, conflict []string) (string, error) {
	name, err := NormalizeDriver(driver)
	if err != nil {
		return "", err
	}
	cols := strings.Join(columns, ", ")
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")
	switch name {
	case DriverMySQL:
		return fmt.Sprintf("INSERT IGNORE INTO %s (%s) VALUES (%s)", table, cols, marks), nil
	default:
		return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO NOTHING",
			table, cols, marks, strings.Join(conflict, ", ")), nil
	}
}
