package api

import "github.com/mattjoyce/crewgate/internal/jobs"

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	JobsRunning   int    `json:"jobs_running"`
	JobsTracked   int    `json:"jobs_tracked"`
}

// JobListResponse is returned by GET /jobs.
type JobListResponse struct {
	Jobs []jobs.Info `json:"jobs"`
}

// WaitResponse is returned by POST /jobs/{id}/wait.
type WaitResponse struct {
	jobs.WaitResult
	TimedOut bool `json:"timed_out"`
}
