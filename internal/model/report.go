package model

import (
	"encoding/json"
	"time"
)

// ExecutionReport is the outcome of running one job instance. Exactly one
// report is produced per handler invocation, success or failure, and it is
// never mutated after creation.
type ExecutionReport struct {
	ID           int64           `json:"id"`
	JobType      JobType         `json:"job_type"`
	ExecutedAt   time.Time       `json:"executed_at"`
	Succeeded    bool            `json:"succeeded"`
	ErrorCount   int             `json:"error_count"`
	DurationMS   int64           `json:"duration_ms"`
	Result       json.RawMessage `json:"result,omitempty"`
	ErrorMessage *string         `json:"error_message,omitempty"`
}

// CleanupStats summarizes one cleanup pass over stale scheduled jobs.
type CleanupStats struct {
	JobsDeleted    int64     `json:"jobs_deleted"`
	ReportsDeleted int64     `json:"reports_deleted"`
	Cutoff         time.Time `json:"cutoff"`
}
