package workers

import (
	"context"
	"log/slog"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
)

// ErrorHandler logs failed and panicking River jobs. Errors keep River's retry schedule;
// panics cancel the job since a retry would hit the same input.
type ErrorHandler struct {
	logger *slog.Logger
}

// NewErrorHandler creates an ErrorHandler. logger may be nil.
func NewErrorHandler(logger *slog.Logger) *ErrorHandler {
	if logger == nil {
		logger = slog.Default()
	}

	return &ErrorHandler{logger: logger}
}

var _ river.ErrorHandler = (*ErrorHandler)(nil)

// HandleError logs a job error, at error level once the job has no attempts left.
func (h *ErrorHandler) HandleError(ctx context.Context, job *rivertype.JobRow, err error) *river.ErrorHandlerResult {
	level := slog.LevelWarn
	msg := "job failed, will retry"

	if job.Attempt >= job.MaxAttempts {
		level = slog.LevelError
		msg = "job failed, attempts exhausted"
	}

	h.logger.Log(ctx, level, msg,
		"job_kind", job.Kind,
		"job_id", job.ID,
		"queue", job.Queue,
		"attempt", job.Attempt,
		"max_attempts", job.MaxAttempts,
		"error", err,
	)

	return nil
}

// HandlePanic logs the panic and cancels the job.
func (h *ErrorHandler) HandlePanic(
	ctx context.Context, job *rivertype.JobRow, panicVal any, trace string,
) *river.ErrorHandlerResult {
	h.logger.ErrorContext(ctx, "job panicked, cancelling",
		"job_kind", job.Kind,
		"job_id", job.ID,
		"queue", job.Queue,
		"attempt", job.Attempt,
		"panic_value", panicVal,
		"stack_trace", trace,
	)

	return &river.ErrorHandlerResult{SetCancelled: true}
}
