// Package logsink publishes change events as structured log lines.
package logsink

import (
	"context"

	"github.com/gabapcia/addresswatch/internal/addrstate"
	"github.com/gabapcia/addresswatch/internal/pkg/logger"
)

type sink struct{}

// New returns a sink that logs every event at info level.
func New() sink {
	return sink{}
}

func (sink) Name() string { return "log" }

func (sink) Publish(ctx context.Context, event addrstate.ChangeEvent) error {
	logger.Info(ctx, "address change detected",
		"event.id", event.ID,
		"event.kind", event.Kind,
		"event.asset", event.Asset,
		"event.before", event.Before.String(),
		"event.after", event.After.String(),
		"event.delta", event.Delta.String(),
		"address", event.Address,
		"address.label", event.Label,
		"user.id", event.UserID,
	)
	return nil
}
