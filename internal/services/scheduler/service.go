package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/gotrs-io/autoreply/internal/models"
	"github.com/gotrs-io/autoreply/internal/services/autoreply"
)

// Job run states recorded in ScheduledJob.LastStatus.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// stopGrace bounds how long shutdown waits for in-flight jobs.
const stopGrace = 30 * time.Second

// Runner performs one processing run.
type Runner interface {
	Run(ctx context.Context, origin autoreply.Origin) autoreply.Summary
}

type flusher interface {
	Flush() error
}

// Handler executes a scheduled job.
type Handler func(context.Context, *models.ScheduledJob) error

// Service fires registered handlers on cron schedules. A job whose previous
// run is still in progress is skipped rather than queued.
type Service struct {
	runner   Runner
	flusher  flusher
	cron     *cron.Cron
	parser   cron.Parser
	logger   *zap.Logger
	location *time.Location

	mu       sync.RWMutex
	handlers map[string]Handler
	jobs     map[string]*models.ScheduledJob
	entries  map[string]cron.EntryID
	running  map[string]bool

	rootCtx   context.Context
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewService wires a scheduler around the run coordinator.
func NewService(runner Runner, opts ...Option) *Service {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Location == nil {
		o.Location = time.UTC
	}
	if o.Cron == nil {
		o.Cron = cron.New(cron.WithLocation(o.Location), cron.WithLogger(cronLogger{o.Logger}))
	}
	if o.Parser == (cron.Parser{}) {
		o.Parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	}

	defs := o.Jobs
	if len(defs) == 0 {
		defs = DefaultJobs()
	}
	jobs := make(map[string]*models.ScheduledJob, len(defs))
	for _, job := range defs {
		if job == nil || job.Slug == "" || job.Schedule == "" {
			continue
		}
		jobs[job.Slug] = job.Clone()
	}

	s := &Service{
		runner:   runner,
		flusher:  o.Flusher,
		cron:     o.Cron,
		parser:   o.Parser,
		logger:   o.Logger,
		location: o.Location,
		handlers: make(map[string]Handler),
		jobs:     jobs,
		entries:  make(map[string]cron.EntryID),
		running:  make(map[string]bool),
	}
	s.registerBuiltinHandlers()
	return s
}

// Run schedules every job and blocks until ctx is cancelled. It fails
// immediately when a schedule expression does not parse.
func (s *Service) Run(ctx context.Context) error {
	var err error
	s.startOnce.Do(func() {
		s.rootCtx = ctx
		if err = s.scheduleAll(); err != nil {
			return
		}
		s.cron.Start()
		for _, slug := range s.startupJobs() {
			go s.executeJob(slug)
		}
	})
	if err != nil {
		s.stop()
		return err
	}

	<-ctx.Done()
	s.stop()
	return nil
}

func (s *Service) scheduleAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for slug, job := range s.jobs {
		schedule, err := s.parser.Parse(job.Schedule)
		if err != nil {
			return fmt.Errorf("schedule job %s: %w", slug, err)
		}
		slug := slug
		s.entries[slug] = s.cron.Schedule(schedule, cron.FuncJob(func() { s.executeJob(slug) }))
	}
	return nil
}

func (s *Service) startupJobs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var slugs []string
	for slug, job := range s.jobs {
		if job.RunOnStartup {
			slugs = append(slugs, slug)
		}
	}
	sort.Strings(slugs)
	return slugs
}

func (s *Service) stop() {
	s.stopOnce.Do(func() {
		done := s.cron.Stop()
		select {
		case <-done.Done():
		case <-time.After(stopGrace):
			s.logger.Warn("scheduler: timed out waiting for jobs to finish")
		}
	})
}

// executeJob runs one job unless its previous run is still in progress.
func (s *Service) executeJob(slug string) {
	job, handler, ok := s.begin(slug)
	if !ok {
		return
	}

	start := s.now()
	err := s.invoke(handler, job)
	s.finish(slug, start, err)
}

// begin claims the job for one run. A busy job is recorded as skipped.
func (s *Service) begin(slug string) (*models.ScheduledJob, Handler, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[slug]
	if !ok {
		return nil, nil, false
	}
	if s.running[slug] {
		job.Skips++
		job.LastStatus = StatusSkipped
		s.logger.Info("scheduler: previous run still in progress, skipping", zap.String("job", slug))
		return nil, nil, false
	}
	s.running[slug] = true
	return job.Clone(), s.handlers[job.Handler], true
}

func (s *Service) invoke(handler Handler, job *models.ScheduledJob) (err error) {
	if handler == nil {
		return fmt.Errorf("handler %s not registered", job.Handler)
	}

	ctx := s.rootCtx
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout := job.Timeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return handler(ctx, job)
}

func (s *Service) finish(slug string, start time.Time, runErr error) {
	end := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, slug)

	job, ok := s.jobs[slug]
	if !ok {
		return
	}
	job.Runs++
	job.LastRunAt = &end
	job.LastDurationMS = end.Sub(start).Milliseconds()
	job.LastStatus = StatusSuccess
	job.LastError = ""
	if runErr != nil {
		job.Failures++
		job.LastStatus = StatusFailed
		job.LastError = runErr.Error()
		s.logger.Warn("scheduler: job failed", zap.String("job", slug), zap.Error(runErr))
	}

	job.NextRunAt = nil
	if id, ok := s.entries[slug]; ok {
		if entry := s.cron.Entry(id); entry.Valid() && !entry.Next.IsZero() {
			next := entry.Next.In(s.location)
			job.NextRunAt = &next
		}
	}
}

func (s *Service) now() time.Time {
	return time.Now().In(s.location)
}

// Jobs returns copies of all job definitions with their last-run state,
// ordered by slug.
func (s *Service) Jobs() []*models.ScheduledJob {
	s.mu.RLock()
	out := make([]*models.ScheduledJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, job.Clone())
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out
}

// Job returns a copy of one job, or nil.
func (s *Service) Job(slug string) *models.ScheduledJob {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.jobs[slug].Clone()
}

// RegisterHandler attaches or replaces a handler. Passing nil removes it.
func (s *Service) RegisterHandler(name string, handler Handler) {
	if name == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if handler == nil {
		delete(s.handlers, name)
		return
	}
	s.handlers[name] = handler
}

// cronLogger routes cron's internal messages to zap.
type cronLogger struct {
	l *zap.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, zap.Any("details", keysAndValues))
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, zap.Error(err), zap.Any("details", keysAndValues))
}
