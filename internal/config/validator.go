package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap/zapcore"

	"github.com/gotrs-io/autoreply/internal/database"
	"github.com/gotrs-io/autoreply/internal/email"
)

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		add("server.port %d out of range", c.Server.Port)
	}

	if _, err := database.NormalizeDriver(c.Database.Driver); err != nil {
		add("database.driver: %v", err)
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		add("database.dsn is required")
	}

	if c.Redis.Enabled && (c.Redis.Host == "" || c.Redis.Port <= 0) {
		add("redis.host and redis.port are required when redis is enabled")
	}

	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		add("logging.level: %v", err)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		add("logging.format must be json or console, got %q", c.Logging.Format)
	}

	if c.Ledger.Capacity <= 0 {
		add("ledger.capacity must be positive")
	}

	if _, err := email.ParseTLSMode(c.Mail.IMAPTLS); err != nil {
		add("mail.imap_tls: %v", err)
	}
	if _, err := email.ParseTLSMode(c.Mail.SMTPTLS); err != nil {
		add("mail.smtp_tls: %v", err)
	}
	if c.Mail.Workers < 1 {
		add("mail.workers must be at least 1")
	}
	if c.Mail.CommandTimeout <= 0 {
		add("mail.command_timeout must be positive")
	}
	if len(c.Mail.Folders) == 0 {
		add("mail.folders must name at least one folder")
	}
	if c.Mail.DateLocation != "" {
		if _, err := time.LoadLocation(c.Mail.DateLocation); err != nil {
			add("mail.date_location: %v", err)
		}
	}

	if c.Scheduler.Enabled {
		if _, err := cron.ParseStandard(c.Scheduler.Schedule); err != nil {
			add("scheduler.schedule: %v", err)
		}
	}
	if c.Scheduler.Timezone != "" {
		if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
			add("scheduler.timezone: %v", err)
		}
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		add("metrics.path must start with '/'")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// Location returns the named zone, or time.Local when name is empty.
func Location(name string) *time.Location {
	if name == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.Local
	}
	return loc
}
