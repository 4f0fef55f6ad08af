package analytics

import (
	"context"

	"github.com/eringen/leadkit/engagement"
	"go.uber.org/zap"
)

// dispatcher stores engagement events produced server-side.
type dispatcher struct {
	ctx       context.Context
	h         *Handler
	client    Client
	sessionID string
}

// Dispatcher returns an engagement.Dispatcher that records every event for
// client. Failures are logged and dropped.
func (h *Handler) Dispatcher(ctx context.Context, client Client, sessionID string) engagement.Dispatcher {
	return &dispatcher{ctx: ctx, h: h, client: client, sessionID: sessionID}
}

func (d *dispatcher) Dispatch(e engagement.Event) {
	err := d.h.RecordEvent(d.ctx, Event{
		EventType:  e.Name,
		SessionID:  d.sessionID,
		Path:       e.Path,
		Properties: e.Params,
		Client:     d.client,
		CreatedAt:  e.Timestamp.UTC(),
	})
	if err != nil {
		d.h.logger.Warn("engagement event not recorded", zap.String("event", e.Name), zap.Error(err))
	}
}
