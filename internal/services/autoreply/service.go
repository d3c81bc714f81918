// Package autoreply coordinates a processing run across all active accounts.
package autoreply

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gotrs-io/autoreply/internal/cache"
	"github.com/gotrs-io/autoreply/internal/email/inbound/connector"
	"github.com/gotrs-io/autoreply/internal/ledger"
	"github.com/gotrs-io/autoreply/internal/models"
)

// Origin tells what triggered a run.
type Origin string

const (
	OriginManual    Origin = "manual"
	OriginScheduled Origin = "scheduled"
)

const (
	resultSuccess = "success"
	resultFailed  = "failed"
)

var (
	// ErrNoAccounts means there is no active account to poll.
	ErrNoAccounts = errors.New("no email accounts configured")
	// ErrNoTemplate means no reply content has been configured.
	ErrNoTemplate = errors.New("no reply content configured")
)

// AccountSource lists the accounts a run polls.
type AccountSource interface {
	ListActive(ctx context.Context) ([]models.EmailAccount, error)
}

// TemplateSource loads the reply template; nil means none configured.
type TemplateSource interface {
	Get(ctx context.Context) (*models.ReplyTemplate, error)
}

// HandlerProvider binds the per-message workflow to a run's template.
type HandlerProvider interface {
	Handler(tmpl models.ReplyTemplate) connector.Handler
}

// StatusRecorder persists per-account poll health.
type StatusRecorder interface {
	Save(ctx context.Context, st cache.PollStatus) error
}

// Summary is the result of one run.
type Summary struct {
	Success        bool      `json:"success"`
	Message        string    `json:"message,omitempty"`
	Error          string    `json:"error,omitempty"`
	Origin         Origin    `json:"origin"`
	Accounts       int       `json:"accounts"`
	FailedAccounts int       `json:"failed_accounts"`
	Replies        int       `json:"replies"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`

	// Err is the cause of an unsuccessful run.
	Err error `json:"-"`
}

// Aborted reports whether the run failed for a reason other than missing
// configuration.
func (s Summary) Aborted() bool {
	return s.Err != nil && !errors.Is(s.Err, ErrNoAccounts) && !errors.Is(s.Err, ErrNoTemplate)
}

// Service runs the auto-responder. Runs are serialised.
type Service struct {
	accounts  AccountSource
	templates TemplateSource
	fetcher   connector.Fetcher
	handlers  HandlerProvider
	events    ledger.Logger
	status    StatusRecorder
	metrics   *Metrics
	logger    *zap.Logger
	now       func() time.Time

	mu sync.Mutex
}

// Option configures optional collaborators.
type Option func(*Service)

// WithStatusRecorder stores per-account poll status after every poll.
func WithStatusRecorder(r StatusRecorder) Option {
	return func(s *Service) { s.status = r }
}

// WithMetrics records run metrics.
func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger sets the process logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService wires the coordinator.
func NewService(accounts AccountSource, templates TemplateSource, fetcher connector.Fetcher, handlers HandlerProvider, events ledger.Logger, opts ...Option) *Service {
	s := &Service{
		accounts:  accounts,
		templates: templates,
		fetcher:   fetcher,
		handlers:  handlers,
		events:    events,
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func phrase(origin Origin, msg string) string {
	if origin == OriginScheduled {
		return "scheduled run: " + msg
	}
	return msg
}

// Run processes every active account once. It never panics and never
// returns an error; the outcome is described by the Summary.
func (s *Service) Run(ctx context.Context, origin Origin) Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	if origin != OriginScheduled {
		origin = OriginManual
	}
	sum := Summary{Origin: origin, StartedAt: s.now()}

	if origin == OriginManual {
		s.events.Info("", "starting manual email processing")
	} else {
		s.events.Info("", phrase(origin, "starting email processing"))
	}

	err := s.run(ctx, origin, &sum)

	sum.FinishedAt = s.now()
	result := resultSuccess
	switch {
	case err == nil:
		sum.Success = true
		if origin == OriginScheduled {
			sum.Message = "scheduled run completed"
		} else {
			sum.Message = "email processing finished"
		}
		if sum.FailedAccounts > 0 {
			sum.Message += fmt.Sprintf(", %d of %d account(s) failed", sum.FailedAccounts, sum.Accounts)
		}
		s.events.Info("", phrase(origin, "email processing finished"))
	case errors.Is(err, ErrNoAccounts), errors.Is(err, ErrNoTemplate):
		result = resultFailed
		sum.Err = err
		sum.Message = err.Error()
		s.events.Warn("", phrase(origin, err.Error()))
	default:
		result = resultFailed
		sum.Err = err
		sum.Error = err.Error()
		s.events.Error("", phrase(origin, "error while processing emails: %v"), err)
	}

	took := sum.FinishedAt.Sub(sum.StartedAt)
	s.metrics.observeRun(origin, result, took, sum.FinishedAt)
	s.logger.Info("autoreply run finished",
		zap.String("origin", string(origin)),
		zap.String("result", result),
		zap.Int("accounts", sum.Accounts),
		zap.Int("failed_accounts", sum.FailedAccounts),
		zap.Int("replies", sum.Replies),
		zap.Duration("duration", took),
	)
	return sum
}

func (s *Service) run(ctx context.Context, origin Origin, sum *Summary) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	list, err := s.accounts.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("load accounts: %w", err)
	}
	tmpl, err := s.templates.Get(ctx)
	if err != nil {
		return fmt.Errorf("load reply config: %w", err)
	}

	accounts := models.ActiveAccounts(list)
	if len(accounts) == 0 {
		return ErrNoAccounts
	}
	if tmpl.IsEmpty() {
		return ErrNoTemplate
	}

	handler := s.handlers.Handler(*tmpl)
	sum.Accounts = len(accounts)
	s.events.Info("", "processing %d email account(s)", len(accounts))

	for i, account := range accounts {
		if ctx.Err() != nil {
			return fmt.Errorf("run interrupted with %d account(s) left: %w", len(accounts)-i, ctx.Err())
		}
		report, ferr := s.pollAccount(ctx, account, handler)
		sum.Replies += report.Replied
		if ferr != nil {
			sum.FailedAccounts++
			s.events.Error(account.Email, "error processing mailbox %s: %v", account.Email, ferr)
		}
		s.metrics.observeAccount(report, ferr)
		s.recordStatus(ctx, origin, account, report, ferr)
	}

	s.events.Info("", "all mailboxes processed")
	return nil
}

func (s *Service) pollAccount(ctx context.Context, account models.EmailAccount, handler connector.Handler) (report connector.Report, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return s.fetcher.Fetch(ctx, account, handler)
}

func (s *Service) recordStatus(ctx context.Context, origin Origin, account models.EmailAccount, report connector.Report, err error) {
	if s.status == nil {
		return
	}
	st := cache.PollStatus{
		Account:       account.Email,
		LastPollAt:    s.now().UTC(),
		Status:        cache.PollStatusOK,
		Origin:        string(origin),
		FoldersFailed: report.FoldersFailed,
		Messages:      report.Messages,
		Replied:       report.Replied,
		Duplicates:    report.Duplicates,
		Skipped:       report.Skipped,
		Failed:        report.Failed,
	}
	if err != nil {
		st.Status = cache.PollStatusError
		st.Error = err.Error()
	}
	// best effort
	if serr := s.status.Save(ctx, st); serr != nil {
		s.logger.Warn("failed to store poll status", zap.String("account", account.Email), zap.Error(serr))
	}
}
