package pregel

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowgraph/stategraph/internal/infrastructure/logging"
)

func TestStreamerDropsOldest(t *testing.T) {
	events := &eventLog{}
	s := NewStreamer(2, logging.Discard(), events)

	// Nothing is delivered before Start, so the ring fills up.
	s.Emit(Event{Type: EventNodeEntered, Node: "a"})
	s.Emit(Event{Type: EventNodeEntered, Node: "b"})
	s.Emit(Event{Type: EventNodeEntered, Node: "c"})
	assert.Equal(t, int64(1), s.Dropped())

	s.Start()
	s.Close()

	require.Len(t, events.events, 2)
	assert.Equal(t, "b", events.events[0].Node)
	assert.Equal(t, "c", events.events[1].Node)
	assert.False(t, events.events[0].Time.IsZero())
}

func TestStreamerCloseDrainsInOrder(t *testing.T) {
	events := &eventLog{}
	s := NewStreamer(0, logging.Discard(), events)
	s.Start()
	for i := 0; i < 100; i++ {
		s.Emit(Event{Type: EventSuperstepStarted, Step: uint64(i)})
	}
	s.Close()

	require.Len(t, events.events, 100)
	for i, e := range events.events {
		assert.Equal(t, uint64(i), e.Step)
	}

	// Emitting after Close is ignored and a second Close is a no-op.
	s.Emit(Event{Type: EventCompleted})
	s.Close()
	assert.Len(t, events.events, 100)
}

func TestStreamerCloseWithoutStart(t *testing.T) {
	s := NewStreamer(4, nil)
	s.Emit(Event{Type: EventCompleted})
	s.Close()
}

func TestStreamerIsolatesHandlerFailures(t *testing.T) {
	events := &eventLog{}
	failing := EventHandlerFunc(func(Event) error { return errors.New("sink down") })
	panicking := EventHandlerFunc(func(Event) error { panic("bad handler") })

	s := NewStreamer(8, logging.Discard(), failing, panicking, events)
	s.Start()
	s.Emit(Event{Type: EventCompleted})
	s.Close()

	assert.Equal(t, 1, events.count(EventCompleted))
}

func TestCallbackHandler(t *testing.T) {
	var seen []string
	h := NewCallbackHandler().
		On(EventNodeCompleted, func(e Event) error {
			seen = append(seen, e.Node)
			return nil
		})

	require.NoError(t, h.HandleEvent(Event{Type: EventNodeCompleted, Node: "a"}))
	require.NoError(t, h.HandleEvent(Event{Type: EventNodeEntered, Node: "b"}))
	assert.Equal(t, []string{"a"}, seen)
}

func TestSlogHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	require.NoError(t, SlogHandler{Logger: logger}.HandleEvent(Event{
		Type:     EventNodeFailed,
		Graph:    "g",
		ThreadID: "t1",
		Node:     "review",
		Path:     "p1",
		Attempt:  2,
		Error:    "boom",
	}))

	out := buf.String()
	assert.Contains(t, out, `"level":"WARN"`)
	assert.Contains(t, out, `"msg":"node_failed"`)
	assert.Contains(t, out, `"node":"review"`)
	assert.Contains(t, out, `"attempt":2`)
	assert.Contains(t, out, `"error":"boom"`)
}
