package pregel

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/flowgraph/stategraph/internal/core/graph"
	imetrics "github.com/flowgraph/stategraph/internal/infrastructure/metrics"
)

// EventType names a lifecycle event of a run.
type EventType string

const (
	EventSuperstepStarted EventType = "superstep_started"
	EventNodeEntered      EventType = "node_entered"
	EventNodeCompleted    EventType = "node_completed"
	EventNodeRetried      EventType = "node_retried"
	EventNodeFailed       EventType = "node_failed"
	EventCheckpointSaved  EventType = "checkpoint_saved"
	EventCheckpointFailed EventType = "checkpoint_failed"
	EventInterrupted      EventType = "interrupted"
	EventCompleted        EventType = "completed"
	EventFailed           EventType = "failed"
)

// DefaultEventBuffer is the number of undelivered events kept per run.
const DefaultEventBuffer = 1024

// Event is one structured notification from the execution loop.
type Event struct {
	Type     EventType      `json:"type"`
	Graph    string         `json:"graph"`
	ThreadID string         `json:"thread_id,omitempty"`
	Node     string         `json:"node,omitempty"`
	Path     graph.PathID   `json:"path,omitempty"`
	Step     uint64         `json:"step"`
	Attempt  int            `json:"attempt,omitempty"`
	Duration time.Duration  `json:"duration,omitempty"`
	Error    string         `json:"error,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
	Time     time.Time      `json:"time"`
}

// EventHandler consumes events on the streamer's dispatch goroutine.
type EventHandler interface {
	HandleEvent(event Event) error
}

// EventHandlerFunc adapts a function to EventHandler.
type EventHandlerFunc func(Event) error

// HandleEvent calls f(event).
func (f EventHandlerFunc) HandleEvent(event Event) error { return f(event) }

// Streamer delivers events to handlers without ever blocking the
// emitter. Undelivered events sit in a bounded ring; when it is full the
// oldest event is dropped.
type Streamer struct {
	handlers []EventHandler
	logger   *slog.Logger

	mu      sync.Mutex
	ring    []Event
	head    int
	size    int
	dropped int64
	started bool
	closed  bool

	wake chan struct{}
	done chan struct{}
}

// NewStreamer creates a streamer holding at most capacity pending events.
func NewStreamer(capacity int, logger *slog.Logger, handlers ...EventHandler) *Streamer {
	if capacity <= 0 {
		capacity = DefaultEventBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Streamer{
		handlers: handlers,
		logger:   logger,
		ring:     make([]Event, capacity),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Start launches the dispatch goroutine.
func (s *Streamer) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.closed {
		return
	}
	s.started = true
	go s.dispatch()
}

// Emit queues an event. It never blocks.
func (s *Streamer) Emit(event Event) {
	if event.Time.IsZero() {
		event.Time = time.Now()
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.size == len(s.ring) {
		s.head = (s.head + 1) % len(s.ring)
		s.size--
		s.dropped++
		imetrics.AddEventsDropped(1)
	}
	s.ring[(s.head+s.size)%len(s.ring)] = event
	s.size++
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Dropped returns how many events were discarded under backpressure.
func (s *Streamer) Dropped() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Close stops accepting events, delivers what is pending and waits for
// the dispatcher to exit.
func (s *Streamer) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	started := s.started
	s.mu.Unlock()
	if !started {
		return
	}
	select {
	case s.wake <- struct{}{}:
	default:
	}
	<-s.done
}

func (s *Streamer) dispatch() {
	defer close(s.done)
	for range s.wake {
		for {
			batch, closed := s.drain()
			for _, event := range batch {
				s.deliver(event)
			}
			if len(batch) == 0 {
				if closed {
					return
				}
				break
			}
		}
	}
}

func (s *Streamer) drain() ([]Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, 0, s.size)
	for s.size > 0 {
		out = append(out, s.ring[s.head])
		s.ring[s.head] = Event{}
		s.head = (s.head + 1) % len(s.ring)
		s.size--
	}
	return out, s.closed
}

func (s *Streamer) deliver(event Event) {
	for _, h := range s.handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("event handler panicked", "event", event.Type, "panic", r)
				}
			}()
			if err := h.HandleEvent(event); err != nil {
				s.logger.Warn("event handler failed", "event", event.Type, "error", err)
			}
		}()
	}
}

// Built-in handlers

// SlogHandler mirrors events into a structured logger.
type SlogHandler struct {
	Logger *slog.Logger
}

// HandleEvent logs the event at a level matching its severity.
func (h SlogHandler) HandleEvent(event Event) error {
	level := slog.LevelDebug
	switch event.Type {
	case EventNodeFailed, EventCheckpointFailed, EventNodeRetried:
		level = slog.LevelWarn
	case EventFailed:
		level = slog.LevelError
	case EventInterrupted, EventCompleted:
		level = slog.LevelInfo
	}
	attrs := []slog.Attr{
		slog.String("graph", event.Graph),
		slog.Uint64("step", event.Step),
	}
	if event.ThreadID != "" {
		attrs = append(attrs, slog.String("thread_id", event.ThreadID))
	}
	if event.Node != "" {
		attrs = append(attrs, slog.String("node", event.Node), slog.String("path", string(event.Path)))
	}
	if event.Attempt > 0 {
		attrs = append(attrs, slog.Int("attempt", event.Attempt))
	}
	if event.Duration > 0 {
		attrs = append(attrs, slog.Duration("duration", event.Duration))
	}
	if event.Error != "" {
		attrs = append(attrs, slog.String("error", event.Error))
	}
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.LogAttrs(context.Background(), level, string(event.Type), attrs...)
	return nil
}

// MetricsHandler aggregates execution statistics from events.
type MetricsHandler struct {
	mu          sync.RWMutex
	nodeCounts  map[string]int
	eventCounts map[EventType]int
	nodeTime    map[string]time.Duration
	supersteps  int
}

// NewMetricsHandler creates an empty MetricsHandler.
func NewMetricsHandler() *MetricsHandler {
	return &MetricsHandler{
		nodeCounts:  make(map[string]int),
		eventCounts: make(map[EventType]int),
		nodeTime:    make(map[string]time.Duration),
	}
}

// HandleEvent records the event.
func (m *MetricsHandler) HandleEvent(event Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.eventCounts[event.Type]++
	switch event.Type {
	case EventSuperstepStarted:
		m.supersteps++
	case EventNodeCompleted:
		m.nodeCounts[event.Node]++
		m.nodeTime[event.Node] += event.Duration
	}
	return nil
}

// Stats is a point-in-time view of a MetricsHandler.
type Stats struct {
	Supersteps  int
	NodeRuns    map[string]int
	NodeTime    map[string]time.Duration
	EventCounts map[EventType]int
}

// Stats returns a copy of the collected statistics.
func (m *MetricsHandler) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := Stats{
		Supersteps:  m.supersteps,
		NodeRuns:    make(map[string]int, len(m.nodeCounts)),
		NodeTime:    make(map[string]time.Duration, len(m.nodeTime)),
		EventCounts: make(map[EventType]int, len(m.eventCounts)),
	}
	for k, v := range m.nodeCounts {
		s.NodeRuns[k] = v
	}
	for k, v := range m.nodeTime {
		s.NodeTime[k] = v
	}
	for k, v := range m.eventCounts {
		s.EventCounts[k] = v
	}
	return s
}

// CallbackHandler executes custom callbacks for specific event types
type CallbackHandler struct {
	mu        sync.RWMutex
	callbacks map[EventType]func(Event) error
}

// NewCallbackHandler creates a handler with no callbacks.
func NewCallbackHandler() *CallbackHandler {
	return &CallbackHandler{callbacks: make(map[EventType]func(Event) error)}
}

// On registers fn for one event type, replacing any previous callback.
func (c *CallbackHandler) On(eventType EventType, fn func(Event) error) *CallbackHandler {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callbacks[eventType] = fn
	return c
}

// HandleEvent runs the callback registered for the event type.
func (c *CallbackHandler) HandleEvent(event Event) error {
	c.mu.RLock()
	fn, ok := c.callbacks[event.Type]
	c.mu.RUnlock()
	if ok {
		return fn(event)
	}
	return nil
}
