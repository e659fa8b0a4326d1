package service

import (
	"context"

	"github.com/sawtell/cutshop/internal/domain"
)

// Publisher delivers change events to the external broadcast collaborator.
// The services hold no subscriber state of their own; they hand each
// committed mutation to the publisher and move on. Implementations own
// delivery, retries and failure logging, and must not fail the request
// path.
type Publisher interface {
	Publish(ctx context.Context, event domain.ChangeEvent)
}
