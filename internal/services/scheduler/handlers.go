// Package scheduler triggers processing runs on a cron schedule.
package scheduler

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/gotrs-io/autoreply/internal/models"
	"github.com/gotrs-io/autoreply/internal/services/autoreply"
)

// Built-in handler names.
const (
	HandlerAutoreplyRun = "autoreply.run"
	HandlerLedgerFlush  = "ledger.flush"
)

// DefaultSchedule polls every five minutes.
const DefaultSchedule = "*/5 * * * *"

func (s *Service) registerBuiltinHandlers() {
	s.RegisterHandler(HandlerAutoreplyRun, s.handleAutoreplyRun)
	s.RegisterHandler(HandlerLedgerFlush, s.handleLedgerFlush)
}

func (s *Service) handleAutoreplyRun(ctx context.Context, job *models.ScheduledJob) error {
	if s.runner == nil {
		s.logger.Warn("scheduler: autoreply runner unavailable, skipping run")
		return nil
	}
	sum := s.runner.Run(ctx, autoreply.OriginScheduled)
	s.logger.Info("scheduler: autoreply run finished",
		zap.String("job", job.Slug),
		zap.Bool("success", sum.Success),
		zap.Int("accounts", sum.Accounts),
		zap.Int("replies", sum.Replies),
	)
	if !sum.Success {
		if sum.Err != nil {
			return sum.Err
		}
		return errors.New(sum.Message)
	}
	return nil
}

func (s *Service) handleLedgerFlush(ctx context.Context, job *models.ScheduledJob) error {
	if s.flusher == nil {
		return nil
	}
	return s.flusher.Flush()
}

// DefaultJobs returns the built-in job set: the poller on DefaultSchedule
// and an hourly ledger flush.
func DefaultJobs() []*models.ScheduledJob {
	return []*models.ScheduledJob{
		AutoreplyJob(DefaultSchedule, 0, false),
		{
			Name:           "Ledger Flush",
			Slug:           "ledger-flush",
			Handler:        HandlerLedgerFlush,
			Schedule:       "@hourly",
			TimeoutSeconds: 60,
		},
	}
}

// AutoreplyJob builds the poller job definition.
func AutoreplyJob(schedule string, timeoutSeconds int, runOnStartup bool) *models.ScheduledJob {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if timeoutSeconds <= 0 {
		timeoutSeconds = 600
	}
	return &models.ScheduledJob{
		Name:           "Mailbox Auto-Responder",
		Slug:           "autoreply",
		Handler:        HandlerAutoreplyRun,
		Schedule:       schedule,
		TimeoutSeconds: timeoutSeconds,
		RunOnStartup:   runOnStartup,
	}
}
