package runner

import (
	"context"
	"log/slog"

	"github.com/SocialGouv/pass-emploi-api-sub007/internal/model"
)

// Monitor receives execution failures for external visibility. Implementations
// must never fail the execution they observe.
type Monitor interface {
	CaptureError(ctx context.Context, jobType model.JobType, err error)
}

// LogMonitor reports failures through structured logging only.
type LogMonitor struct{}

func NewLogMonitor() *LogMonitor {
	return &LogMonitor{}
}

func (m *LogMonitor) CaptureError(ctx context.Context, jobType model.JobType, err error) {
	slog.ErrorContext(ctx, "job execution failed",
		"event", "job.execution_failed",
		"job_type", string(jobType),
		"error", err.Error(),
	)
}
