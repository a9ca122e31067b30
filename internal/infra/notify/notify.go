// Package notify fans change events out to every configured sink.
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/gabapcia/addresswatch/internal/addrstate"
	"github.com/gabapcia/addresswatch/internal/monitor"
)

// Sink is a named event destination.
type Sink interface {
	monitor.EventNotifier

	Name() string
}

type fanout struct {
	sinks []Sink
}

var _ monitor.EventNotifier = (*fanout)(nil)

// Fanout returns a notifier that publishes each event to every sink in
// order. A failing sink does not stop delivery to the others; their errors
// are joined.
func Fanout(sinks ...Sink) *fanout {
	return &fanout{sinks: sinks}
}

func (f *fanout) Publish(ctx context.Context, event addrstate.ChangeEvent) error {
	var errs []error
	for _, sink := range f.sinks {
		if err := sink.Publish(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", sink.Name(), err))
		}
	}
	return errors.Join(errs...)
}
