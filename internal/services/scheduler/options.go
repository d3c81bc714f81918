package scheduler

import (
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/gotrs-io/autoreply/internal/models"
)

type options struct {
	Logger   *zap.Logger
	Flusher  flusher
	Cron     *cron.Cron
	Parser   cron.Parser
	Jobs     []*models.ScheduledJob
	Location *time.Location
}

// Option tunes a Service at construction.
type Option func(*options)

func defaultOptions() options {
	return options{Logger: zap.NewNop(), Location: time.UTC}
}

// WithLogger sets the logger used for job outcomes and cron diagnostics.
func WithLogger(l *zap.Logger) Option { return func(o *options) { o.Logger = l } }

// WithLedgerFlusher gives the ledger.flush handler something to flush.
func WithLedgerFlusher(f flusher) Option { return func(o *options) { o.Flusher = f } }

// WithCron replaces the internally built cron engine. The caller's engine
// keeps its own location and logger.
func WithCron(c *cron.Cron) Option { return func(o *options) { o.Cron = c } }

// WithCronParser changes which expression fields are accepted.
func WithCronParser(p cron.Parser) Option { return func(o *options) { o.Parser = p } }

// WithJobs overrides DefaultJobs.
func WithJobs(jobs []*models.ScheduledJob) Option { return func(o *options) { o.Jobs = jobs } }

// WithLocation sets the zone for schedules and recorded timestamps.
func WithLocation(loc *time.Location) Option { return func(o *options) { o.Location = loc } }
