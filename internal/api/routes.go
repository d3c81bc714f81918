// Package api exposes the run trigger and the activity log over HTTP.
package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/gotrs-io/autoreply/internal/cache"
	"github.com/gotrs-io/autoreply/internal/ledger"
	"github.com/gotrs-io/autoreply/internal/models"
	"github.com/gotrs-io/autoreply/internal/services/autoreply"
)

// Runner performs one processing run.
type Runner interface {
	Run(ctx context.Context, origin autoreply.Origin) autoreply.Summary
}

// LogStore is the read and clear side of the ledger.
type LogStore interface {
	Query(f ledger.Filter) []ledger.Entry
	Clear() error
}

// JobLister reports scheduled job state.
type JobLister interface {
	Jobs() []*models.ScheduledJob
}

// StatusReader returns the last poll status of an account.
type StatusReader interface {
	Get(ctx context.Context, account string) (*cache.PollStatus, error)
}

// Pinger checks a backing store.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type Router struct {
	engine      *gin.Engine
	runner      Runner
	logs        LogStore
	jobs        JobLister
	status      StatusReader
	db          Pinger
	metrics     http.Handler
	metricsPath string
	logger      *zap.Logger
}

// RouterOption configures optional endpoints.
type RouterOption func(*Router)

// WithJobs enables GET /api/jobs.
func WithJobs(j JobLister) RouterOption {
	return func(r *Router) { r.jobs = j }
}

// WithPollStatus enables GET /api/poll-status/:account.
func WithPollStatus(s StatusReader) RouterOption {
	return func(r *Router) { r.status = s }
}

// WithHealthCheck makes /healthz ping the database.
func WithHealthCheck(p Pinger) RouterOption {
	return func(r *Router) { r.db = p }
}

// WithMetrics serves h at path. A nil handler serves the default registry.
func WithMetrics(path string, h http.Handler) RouterOption {
	return func(r *Router) {
		if h == nil {
			h = promhttp.Handler()
		}
		if path == "" {
			path = "/metrics"
		}
		r.metrics = h
		r.metricsPath = path
	}
}

// WithLogger sets the access logger.
func WithLogger(l *zap.Logger) RouterOption {
	return func(r *Router) {
		if l != nil {
			r.logger = l
		}
	}
}

func NewRouter(runner Runner, logs LogStore, opts ...RouterOption) *Router {
	r := &Router{
		runner: runner,
		logs:   logs,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), accessLog(r.logger))
	r.engine = engine
	r.setupRoutes()
	return r
}

func (r *Router) setupRoutes() {
	r.engine.GET("/healthz", r.healthCheck)
	if r.metrics != nil {
		r.engine.GET(r.metricsPath, gin.WrapH(r.metrics))
	}

	api := r.engine.Group("/api")
	{
		api.POST("/process-emails", r.processEmails(autoreply.OriginManual))
		// external cron hook
		api.GET("/process-emails", r.processEmails(autoreply.OriginScheduled))

		api.GET("/logs", r.listLogs)
		api.DELETE("/logs", r.clearLogs)

		if r.jobs != nil {
			api.GET("/jobs", r.listJobs)
		}
		if r.status != nil {
			api.GET("/poll-status/:account", r.pollStatus)
		}
	}
}

func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}

// Handler returns the router as an http.Handler.
func (r *Router) Handler() http.Handler {
	return r.engine
}
