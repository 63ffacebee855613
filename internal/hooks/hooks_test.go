package hooks

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/bellabot/bella/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testManager() *Manager {
	return NewManager(logging.New(nil, "silent"))
}

func TestEmit_HandlersInOrder(t *testing.T) {
	m := testManager()

	var order []string
	m.On(EventPluginEnabled, "first", func(_ context.Context, p Payload) error {
		order = append(order, "first:"+p.Data["id"].(string))
		return nil
	})
	m.On(EventPluginEnabled, "second", func(_ context.Context, _ Payload) error {
		order = append(order, "second")
		return nil
	})

	m.Emit(context.Background(), EventPluginEnabled, map[string]any{"id": "ping"})
	assert.Equal(t, []string{"first:ping", "second"}, order)
}

func TestEmit_HandlerErrorDoesNotStopOthers(t *testing.T) {
	m := testManager()

	var secondCalled bool
	m.On(EventToolCalled, "failing", func(context.Context, Payload) error {
		return errors.New("handler broke")
	})
	m.On(EventToolCalled, "second", func(context.Context, Payload) error {
		secondCalled = true
		return nil
	})

	m.Emit(context.Background(), EventToolCalled, nil)
	assert.True(t, secondCalled)
}

func TestOn_Wildcard(t *testing.T) {
	m := testManager()

	var seen []string
	m.On(AnyEvent, "audit", func(_ context.Context, p Payload) error {
		seen = append(seen, p.Event)
		return nil
	})

	m.Emit(context.Background(), EventPluginLoaded, nil)
	m.Emit(context.Background(), EventPluginDisabled, nil)
	assert.Equal(t, []string{EventPluginLoaded, EventPluginDisabled}, seen)
	assert.Equal(t, 0, m.Count(EventPluginLoaded), "wildcards are not counted per event")
}

func TestOff_KeepsOthers(t *testing.T) {
	m := testManager()

	var removed, kept int
	m.On(EventMessageReceived, "remove-me", func(context.Context, Payload) error {
		removed++
		return nil
	})
	m.On(EventMessageReceived, "keep-me", func(context.Context, Payload) error {
		kept++
		return nil
	})

	m.Off(EventMessageReceived, "remove-me")
	m.Emit(context.Background(), EventMessageReceived, nil)
	assert.Equal(t, 0, removed)
	assert.Equal(t, 1, kept)
	assert.Equal(t, 1, m.Count(EventMessageReceived))
}

func TestEmit_AsyncAndWait(t *testing.T) {
	m := testManager()

	var count atomic.Int32
	for _, name := range []string{"a", "b", "c"} {
		m.On(EventMessageSending, name, func(context.Context, Payload) error {
			count.Add(1)
			return nil
		})
	}

	m.EmitAsync(context.Background(), EventMessageSending, nil)
	m.Wait()
	assert.Equal(t, int32(3), count.Load())
}

func TestEmit_NilManager(t *testing.T) {
	var m *Manager
	assert.NotPanics(t, func() {
		m.Emit(context.Background(), EventPluginLoaded, nil)
		m.EmitAsync(context.Background(), EventPluginLoaded, nil)
		m.Wait()
	})
}

func TestEvents(t *testing.T) {
	m := testManager()
	m.On(EventGatewayStart, "h1", func(context.Context, Payload) error { return nil })
	m.On(EventPluginLoaded, "h2", func(context.Context, Payload) error { return nil })

	events := m.Events()
	assert.ElementsMatch(t, []string{EventGatewayStart, EventPluginLoaded}, events)

	require.NotEmpty(t, AllEvents)
	assert.Contains(t, AllEvents, EventToolCalled)
}
