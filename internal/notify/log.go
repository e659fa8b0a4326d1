// Package notify delivers change events to external subscribers.
package notify

import (
	"context"
	"log/slog"

	"github.com/sawtell/cutshop/internal/domain"
)

// LogPublisher writes change events to the process log. It is the default
// publisher when no webhook target is configured.
type LogPublisher struct{}

// Publish logs the event.
func (LogPublisher) Publish(_ context.Context, event domain.ChangeEvent) {
	slog.Info("change event",
		"event_id", event.ID,
		"type", event.Type,
		"job_id", event.JobID,
	)
}
