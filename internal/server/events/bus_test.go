package events

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systemshift/whereabouts/internal/core"
)

func TestBusPublish(t *testing.T) {
	bus := NewBus(nil)
	var got []string
	record := func(name string) Listener {
		return ListenerFunc(func(ctx context.Context, ev Event) error {
			got = append(got, name+":"+ev.RecordID)
			return nil
		})
	}
	failing := ListenerFunc(func(ctx context.Context, ev Event) error {
		got = append(got, "failing:"+ev.RecordID)
		return errors.New("boom")
	})

	require.NoError(t, bus.Subscribe("movements", Pattern{RecordTypes: []string{"Movement"}}, record("movements")))
	require.NoError(t, bus.Subscribe("failing", Pattern{}, failing))
	require.NoError(t, bus.Subscribe("removals", Pattern{EventTypes: []string{RecordRemoved}}, record("removals")))
	assert.Equal(t, 3, bus.Len())

	emit := bus.Emitter()
	emit(context.Background(), New(RecordCreated, &core.Record{ID: "M1", Type: "Movement-2.0"}))
	emit(context.Background(), New(RecordRemoved, &core.Record{ID: "I1", Type: "CollectionObject"}))

	assert.Equal(t, []string{"movements:M1", "failing:M1", "failing:I1", "removals:I1"}, got)
}

func TestBusSubscriptions(t *testing.T) {
	bus := NewBus(nil)
	noop := ListenerFunc(func(ctx context.Context, ev Event) error { return nil })

	assert.Error(t, bus.Subscribe("", Pattern{}, noop))
	assert.Error(t, bus.Subscribe("nil", Pattern{}, nil))
	require.NoError(t, bus.Subscribe("a", Pattern{}, noop))
	assert.Error(t, bus.Subscribe("a", Pattern{}, noop))

	require.NoError(t, bus.Unsubscribe("a"))
	assert.Error(t, bus.Unsubscribe("a"))
	assert.Zero(t, bus.Len())
}

func TestBusListenerMayPublish(t *testing.T) {
	bus := NewBus(nil)
	var seen []string
	require.NoError(t, bus.Subscribe("echo", Pattern{EventTypes: []string{RecordCreated}},
		ListenerFunc(func(ctx context.Context, ev Event) error {
			seen = append(seen, ev.Type)
			bus.Publish(ctx, New(RecordModified, ev.Source))
			return nil
		})))
	require.NoError(t, bus.Subscribe("tail", Pattern{EventTypes: []string{RecordModified}},
		ListenerFunc(func(ctx context.Context, ev Event) error {
			seen = append(seen, ev.Type)
			return nil
		})))

	bus.Publish(context.Background(), New(RecordCreated, &core.Record{ID: "M1", Type: "Movement"}))
	assert.Equal(t, []string{RecordCreated, RecordModified}, seen)
}
