package main

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/gotrs-io/autoreply/internal/cache"
	"github.com/gotrs-io/autoreply/internal/config"
	"github.com/gotrs-io/autoreply/internal/database"
	"github.com/gotrs-io/autoreply/internal/email"
	"github.com/gotrs-io/autoreply/internal/email/inbound/connector"
	"github.com/gotrs-io/autoreply/internal/email/inbound/postmaster"
	"github.com/gotrs-io/autoreply/internal/email/outbound"
	"github.com/gotrs-io/autoreply/internal/ledger"
	"github.com/gotrs-io/autoreply/internal/logger"
	"github.com/gotrs-io/autoreply/internal/repository"
	"github.com/gotrs-io/autoreply/internal/services/autoreply"
)

// app holds the process-wide dependencies shared by the commands.
type app struct {
	cfg    *config.Config
	log    *zap.Logger
	db     *sqlx.DB
	ledger *ledger.Ledger
	redis  *redis.Client

	accounts  *repository.EmailAccountRepository
	templates *repository.ReplyConfigRepository
	processed *repository.ProcessedEmailRepository

	status  *cache.PollStatusStore
	metrics *autoreply.Metrics
	runner  *autoreply.Service
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logger.New(logger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	})
}

func openLedger(cfg *config.Config, log *zap.Logger) (*ledger.Ledger, error) {
	return ledger.New(
		ledger.WithPath(cfg.Ledger.Path),
		ledger.WithCapacity(cfg.Ledger.Capacity),
		ledger.WithLogger(log),
	)
}

// bootstrap opens the database and ledger. The mail pipeline is only built
// when withRunner is set.
func bootstrap(ctx context.Context, cfg *config.Config, withRunner bool) (*app, error) {
	log, err := newLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	a := &app{cfg: cfg, log: log}

	a.db, err = database.Open(ctx, database.Config{
		Driver:          cfg.Database.Driver,
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		AutoMigrate:     cfg.Database.AutoMigrate,
	})
	if err != nil {
		a.close()
		return nil, err
	}
	a.accounts = repository.NewEmailAccountRepository(a.db)
	a.templates = repository.NewReplyConfigRepository(a.db)
	a.processed = repository.NewProcessedEmailRepository(a.db)

	a.ledger, err = openLedger(cfg, log)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to open activity log: %w", err)
	}

	if withRunner {
		if err := a.buildRunner(ctx); err != nil {
			a.close()
			return nil, err
		}
	}
	return a, nil
}

func (a *app) buildRunner(ctx context.Context) error {
	cfg := a.cfg
	imapTLS, err := email.ParseTLSMode(cfg.Mail.IMAPTLS)
	if err != nil {
		return err
	}
	smtpTLS, err := email.ParseTLSMode(cfg.Mail.SMTPTLS)
	if err != nil {
		return err
	}

	composer := outbound.NewComposer(outbound.WithQuoteLocation(config.Location(cfg.Mail.DateLocation)))
	dispatcher := outbound.NewSMTPDispatcher(
		outbound.WithSMTPTLSMode(smtpTLS),
		outbound.WithSMTPInsecureSkipVerify(cfg.Mail.InsecureSkipVerify),
		outbound.WithSMTPDialTimeout(cfg.Mail.DialTimeout),
		outbound.WithSMTPCommandTimeout(cfg.Mail.CommandTimeout),
		outbound.WithSMTPLocalName(cfg.Mail.HeloName),
	)
	postmasterSvc := postmaster.NewService(
		a.processed,
		outbound.NewReplier(composer, dispatcher),
		a.ledger,
		postmaster.WithLogger(a.log.Named("postmaster")),
	)
	fetcher := connector.NewIMAPFetcher(
		connector.WithIMAPFolders(cfg.Mail.Folders...),
		connector.WithIMAPTLSMode(imapTLS),
		connector.WithIMAPInsecureSkipVerify(cfg.Mail.InsecureSkipVerify),
		connector.WithIMAPDialTimeout(cfg.Mail.DialTimeout),
		connector.WithIMAPCommandTimeout(cfg.Mail.CommandTimeout),
		connector.WithIMAPWorkers(cfg.Mail.Workers),
		connector.WithIMAPEvents(a.ledger),
		connector.WithIMAPLogger(a.log.Named("imap")),
	)

	opts := []autoreply.Option{autoreply.WithLogger(a.log.Named("autoreply"))}
	if cfg.Metrics.Enabled {
		a.metrics = autoreply.NewMetrics(prometheus.DefaultRegisterer)
		opts = append(opts, autoreply.WithMetrics(a.metrics))
	}
	if cfg.Redis.Enabled {
		client, err := cache.NewClient(ctx, cache.Config{
			Addr:     cfg.Redis.GetRedisAddr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err != nil {
			a.log.Warn("poll status disabled", zap.Error(err))
		} else {
			a.redis = client
			a.status = cache.NewPollStatusStore(client, cfg.Redis.Prefix, cfg.Redis.StatusTTL)
			opts = append(opts, autoreply.WithStatusRecorder(a.status))
		}
	}

	a.runner = autoreply.NewService(a.accounts, a.templates, fetcher, postmasterSvc, a.ledger, opts...)
	return nil
}

func (a *app) close() {
	if a.ledger != nil {
		if err := a.ledger.Close(); err != nil {
			a.log.Warn("failed to flush activity log", zap.Error(err))
		}
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
	_ = a.log.Sync()
}

// loadApp reads configuration and bootstraps the dependencies.
func loadApp(ctx context.Context, withRunner bool) (*app, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	return bootstrap(ctx, cfg, withRunner)
}
