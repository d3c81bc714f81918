package models

import "time"

// ScheduledJob is a cron-driven job definition plus its last-run bookkeeping.
type ScheduledJob struct {
	Name           string `json:"name"`
	Slug           string `json:"slug"`
	Handler        string `json:"handler"`
	Schedule       string `json:"schedule"`
	TimeoutSeconds int    `json:"timeout_seconds"`
	RunOnStartup   bool   `json:"run_on_startup"`

	LastRunAt      *time.Time `json:"last_run_at,omitempty"`
	NextRunAt      *time.Time `json:"next_run_at,omitempty"`
	LastStatus     string     `json:"last_status,omitempty"`
	LastError      string     `json:"last_error,omitempty"`
	LastDurationMS int64      `json:"last_duration_ms"`
	Runs           int        `json:"runs"`
	Failures       int        `json:"failures"`
	Skips          int        `json:"skips"`
}

// Timeout returns the per-run deadline, zero meaning none.
func (j *ScheduledJob) Timeout() time.Duration {
	if j == nil || j.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(j.TimeoutSeconds) * time.Second
}

// Clone returns a deep copy of the job.
func (j *ScheduledJob) Clone() *ScheduledJob {
	if j == nil {
		return nil
	}
	clone := *j
	if j.LastRunAt != nil {
		t := *j.LastRunAt
		clone.LastRunAt = &t
	}
	if j.NextRunAt != nil {
		t := *j.NextRunAt
		clone.NextRunAt = &t
	}
	return &clone
}
