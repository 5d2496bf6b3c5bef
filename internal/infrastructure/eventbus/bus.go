// Package eventbus is CIS's in-process typed pub/sub, used by the
// scheduler and executor to announce DAG-run and task-level transitions
// to front-ends and to event-driven scheduling-mode subscribers
// (spec.md §2 "Event bus", §4.7 "Scheduling modes").
package eventbus

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Event is anything publishable on the bus.
type Event interface {
	Type() string
	Timestamp() time.Time
	Payload() any
}

// BaseEvent is the default Event implementation.
type BaseEvent struct {
	EventType      string
	EventTimestamp time.Time
	EventPayload   any
}

func (e *BaseEvent) Type() string         { return e.EventType }
func (e *BaseEvent) Timestamp() time.Time { return e.EventTimestamp }
func (e *BaseEvent) Payload() any         { return e.EventPayload }

// NewEvent builds a BaseEvent stamped with the current time.
func NewEvent(eventType string, payload any) *BaseEvent {
	return &BaseEvent{EventType: eventType, EventTimestamp: time.Now(), EventPayload: payload}
}

// Handler receives published events. A handler subscribed to "*" receives
// every event type.
type Handler func(ctx context.Context, event Event)

// Bus is the publish/subscribe surface.
type Bus interface {
	Publish(ctx context.Context, event Event)
	Subscribe(eventType string, handler Handler)
	Unsubscribe(eventType string, handler Handler)
	Close()
}

// InMemoryBus is a buffered-channel Bus with panic-recovering fan-out.
type InMemoryBus struct {
	mu        sync.RWMutex
	handlers  map[string][]Handler
	eventChan chan eventWrapper
	closed    bool
	logger    *zap.Logger
	wg        sync.WaitGroup
}

type eventWrapper struct {
	ctx   context.Context
	event Event
}

// NewInMemoryBus starts the dispatch goroutine and returns the bus.
func NewInMemoryBus(logger *zap.Logger, bufferSize int) *InMemoryBus {
	bus := &InMemoryBus{
		handlers:  make(map[string][]Handler),
		eventChan: make(chan eventWrapper, bufferSize),
		logger:    logger,
	}
	bus.wg.Add(1)
	go bus.dispatch()
	return bus
}

// Publish enqueues event for async delivery. It never blocks: a full
// buffer drops the event and logs a warning rather than stalling the
// scheduler or executor's drive loop.
func (b *InMemoryBus) Publish(ctx context.Context, event Event) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	b.mu.RUnlock()

	select {
	case b.eventChan <- eventWrapper{ctx: ctx, event: event}:
	default:
		b.logger.Warn("event buffer full, dropping event", zap.String("type", event.Type()))
	}
}

// Subscribe registers handler for eventType ("*" subscribes to everything).
func (b *InMemoryBus) Subscribe(eventType string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// Unsubscribe removes the most recently registered handler for eventType.
// Go has no portable function-pointer equality, so this removes by
// registration order rather than by handler identity.
func (b *InMemoryBus) Unsubscribe(eventType string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	handlers := b.handlers[eventType]
	if len(handlers) == 0 {
		return
	}
	handlers = handlers[:len(handlers)-1]
	if len(handlers) == 0 {
		delete(b.handlers, eventType)
	} else {
		b.handlers[eventType] = handlers
	}
}

// Close drains the dispatch goroutine and stops accepting new events.
func (b *InMemoryBus) Close() {
	b.mu.Lock()
	b.closed = true
	close(b.eventChan)
	b.mu.Unlock()

	b.wg.Wait()
}

func (b *InMemoryBus) dispatch() {
	defer b.wg.Done()
	for wrapper := range b.eventChan {
		b.dispatchEvent(wrapper.ctx, wrapper.event)
	}
}

func (b *InMemoryBus) dispatchEvent(ctx context.Context, event Event) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.handlers[event.Type()])+len(b.handlers["*"]))
	handlers = append(handlers, b.handlers[event.Type()]...)
	handlers = append(handlers, b.handlers["*"]...)
	b.mu.RUnlock()

	var wg sync.WaitGroup
	for _, handler := range handlers {
		wg.Add(1)
		go func(h Handler) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("event handler panicked",
						zap.String("event_type", event.Type()), zap.Any("panic", r))
				}
			}()
			h(ctx, event)
		}(handler)
	}
	wg.Wait()
}

// CIS domain event types.
const (
	EventDagRunStarted    = "dag_run.started"
	EventDagRunCompleted  = "dag_run.completed"
	EventDagRunFailed     = "dag_run.failed"
	EventDagRunCancelled  = "dag_run.cancelled"
	EventTaskStarted      = "task.started"
	EventTaskCompleted    = "task.completed"
	EventTaskFailed       = "task.failed"
	EventTaskBlocked      = "task.blocked"
	EventTaskSkipped      = "task.skipped"
	EventConflictDetected = "conflict.detected"
	EventConflictResolved = "conflict.resolved"
	EventSessionAcquired  = "session.acquired"
	EventSessionReleased  = "session.released"
)

// DagRunPayload accompanies dag_run.* events.
type DagRunPayload struct {
	RunID  string
	Status string
}

// TaskPayload accompanies task.* events.
type TaskPayload struct {
	RunID    string
	TaskID   string
	Status   string
	Error    string
	Duration time.Duration
}

// ConflictPayload accompanies conflict.* events.
type ConflictPayload struct {
	ConflictID string
	Key        string
}

// SessionPayload accompanies session.* events.
type SessionPayload struct {
	SessionID string
	AgentKind string
	State     string
}
