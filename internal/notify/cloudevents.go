package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/sawtell/cutshop/internal/domain"
)

const (
	eventSource    = "cutshop/jobs"
	deliverTimeout = 5 * time.Second
)

// WebhookPublisher delivers change events to a subscriber endpoint as
// CloudEvents over HTTP. Delivery happens off the request path; a failed
// delivery is logged and dropped, never surfaced to the caller.
type WebhookPublisher struct {
	client cloudevents.Client
	target string
}

// NewWebhookPublisher creates a publisher posting to target.
func NewWebhookPublisher(target string) (*WebhookPublisher, error) {
	client, err := cloudevents.NewClientHTTP()
	if err != nil {
		return nil, fmt.Errorf("create cloudevents client: %w", err)
	}
	return &WebhookPublisher{client: client, target: target}, nil
}

// Publish sends the event asynchronously.
func (p *WebhookPublisher) Publish(ctx context.Context, event domain.ChangeEvent) {
	ce := cloudevents.NewEvent()
	ce.SetID(event.ID)
	ce.SetSource(eventSource)
	ce.SetType(string(event.Type))
	ce.SetTime(event.OccurredAt)
	ce.SetExtension("jobid", event.JobID)
	if err := ce.SetData(cloudevents.ApplicationJSON, event); err != nil {
		slog.Error("encode change event", "event_id", event.ID, "error", err)
		return
	}

	// Detach from the request so a slow subscriber cannot hold it up.
	sendCtx := cloudevents.ContextWithTarget(context.WithoutCancel(ctx), p.target)
	go func() {
		sendCtx, cancel := context.WithTimeout(sendCtx, deliverTimeout)
		defer cancel()
		if result := p.client.Send(sendCtx, ce); cloudevents.IsUndelivered(result) {
			slog.Error("deliver change event",
				"event_id", event.ID, "type", event.Type, "error", result)
		}
	}()
}
