package audit

import (
	"context"
	"log/slog"
)

// Mirror fans committed audit entries out to async sinks (compliance topic,
// SIEM). The in-record audit log written by the referral store is the
// authoritative trail; the mirror is observability fan-out and must never
// affect the outcome of the operation that produced the entry.
type Mirror struct {
	inbox  chan Entry
	logger *slog.Logger
}

// NewMirror creates a mirror with a bounded inbox. Entries are dropped (and
// logged) when the inbox is full rather than blocking request handling.
func NewMirror(buffer int, logger *slog.Logger) *Mirror {
	if buffer <= 0 {
		buffer = 256
	}
	return &Mirror{
		inbox:  make(chan Entry, buffer),
		logger: logger,
	}
}

// Emit enqueues an entry for async delivery. Non-blocking.
func (m *Mirror) Emit(ctx context.Context, entry Entry) {
	select {
	case m.inbox <- entry:
	default:
		m.logger.WarnContext(ctx, "audit mirror inbox full, dropping entry",
			"referral_id", entry.ReferralID.String(),
			"action", string(entry.Action),
		)
	}
}

// Inbox exposes the receive side for the worker.
func (m *Mirror) Inbox() <-chan Entry {
	return m.inbox
}
