package autoreply

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/gotrs-io/autoreply/internal/email/inbound/connector"
)

// Metrics counts runs, account polls and message outcomes.
type Metrics struct {
	RunsTotal       *prometheus.CounterVec
	RunDuration     *prometheus.HistogramVec
	AccountPolls    *prometheus.CounterVec
	MessagesTotal   *prometheus.CounterVec
	LastSuccessTime prometheus.Gauge
}

// NewMetrics registers the collectors with reg. A nil reg leaves them
// unregistered, which keeps tests independent of the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RunsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "autoreply",
				Name:      "runs_total",
				Help:      "Processing runs by origin and result",
			},
			[]string{"origin", "result"},
		),
		RunDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "autoreply",
				Name:      "run_duration_seconds",
				Help:      "Wall time of a processing run",
				Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"origin"},
		),
		AccountPolls: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "autoreply",
				Name:      "account_polls_total",
				Help:      "Mailbox polls by result",
			},
			[]string{"result"},
		),
		MessagesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "autoreply",
				Name:      "messages_total",
				Help:      "Unseen messages handled, by outcome",
			},
			[]string{"outcome"},
		),
		LastSuccessTime: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "autoreply",
				Name:      "last_success_timestamp_seconds",
				Help:      "Unix time of the last run that completed",
			},
		),
	}
}

func (m *Metrics) observeRun(origin Origin, result string, took time.Duration, finished time.Time) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(string(origin), result).Inc()
	m.RunDuration.WithLabelValues(string(origin)).Observe(took.Seconds())
	if result == resultSuccess {
		m.LastSuccessTime.Set(float64(finished.Unix()))
	}
}

func (m *Metrics) observeAccount(report connector.Report, err error) {
	if m == nil {
		return
	}
	result := resultSuccess
	if err != nil {
		result = resultFailed
	}
	m.AccountPolls.WithLabelValues(result).Inc()
	m.MessagesTotal.WithLabelValues(connector.OutcomeReplied.String()).Add(float64(report.Replied))
	m.MessagesTotal.WithLabelValues(connector.OutcomeDuplicate.String()).Add(float64(report.Duplicates))
	m.MessagesTotal.WithLabelValues(connector.OutcomeSkipped.String()).Add(float64(report.Skipped))
	m.MessagesTotal.WithLabelValues(connector.OutcomeFailed.String()).Add(float64(report.Failed))
}
