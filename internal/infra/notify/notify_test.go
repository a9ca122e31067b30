package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/gabapcia/addresswatch/internal/addrstate"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sinkFunc struct {
	name    string
	publish func(context.Context, addrstate.ChangeEvent) error
}

func (s sinkFunc) Name() string { return s.name }

func (s sinkFunc) Publish(ctx context.Context, event addrstate.ChangeEvent) error {
	return s.publish(ctx, event)
}

func TestFanout_Publish(t *testing.T) {
	event := addrstate.ChangeEvent{ID: "1", Address: "0xabc"}

	t.Run("delivers to every sink", func(t *testing.T) {
		var got []string
		record := func(name string) Sink {
			return sinkFunc{name: name, publish: func(_ context.Context, e addrstate.ChangeEvent) error {
				got = append(got, name+":"+e.ID)
				return nil
			}}
		}

		require.NoError(t, Fanout(record("a"), record("b")).Publish(t.Context(), event))
		assert.Equal(t, []string{"a:1", "b:1"}, got)
	})

	t.Run("keeps going after a failure and joins errors", func(t *testing.T) {
		errA := errors.New("broker down")
		errC := errors.New("webhook 404")
		delivered := false

		err := Fanout(
			sinkFunc{name: "amqp", publish: func(context.Context, addrstate.ChangeEvent) error { return errA }},
			sinkFunc{name: "log", publish: func(context.Context, addrstate.ChangeEvent) error { delivered = true; return nil }},
			sinkFunc{name: "discord", publish: func(context.Context, addrstate.ChangeEvent) error { return errC }},
		).Publish(t.Context(), event)

		assert.True(t, delivered)
		assert.ErrorIs(t, err, errA)
		assert.ErrorIs(t, err, errC)
		assert.ErrorContains(t, err, "amqp: broker down")
		assert.ErrorContains(t, err, "discord: webhook 404")
	})

	t.Run("no sinks is a no-op", func(t *testing.T) {
		assert.NoError(t, Fanout().Publish(t.Context(), event))
	})
}
