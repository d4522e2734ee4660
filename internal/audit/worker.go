package audit

import (
	"context"
	"log/slog"
)

// Sink receives mirrored audit entries. Implementations must tolerate
// redelivery; the mirror offers at-most-once per process but downstream
// pipelines may replay.
type Sink interface {
	Deliver(ctx context.Context, entry Entry) error
}

// Worker drains the mirror inbox and delivers entries to the configured sinks.
// Sink failures are logged and skipped so one slow sink cannot wedge the
// pipeline.
type Worker struct {
	inbox  <-chan Entry
	sinks  []Sink
	logger *slog.Logger
}

func NewWorker(inbox <-chan Entry, logger *slog.Logger, sinks ...Sink) *Worker {
	return &Worker{inbox: inbox, sinks: sinks, logger: logger}
}

// Run consumes until the context is cancelled. Cancellation is a normal
// shutdown, not an error.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case entry := <-w.inbox:
			for _, sink := range w.sinks {
				if err := sink.Deliver(ctx, entry); err != nil {
					w.logger.ErrorContext(ctx, "audit sink delivery failed",
						"error", err,
						"referral_id", entry.ReferralID.String(),
						"action", string(entry.Action),
					)
				}
			}
		}
	}
}
