package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/garyjia/bill-workflow/internal/domain/event"
)

// Dispatcher routes events to registered handlers
type Dispatcher interface {
	// Subscribe registers a handler for an event type
	Subscribe(eventType event.Type, handler Handler)

	// SubscribeNamed registers a handler with a name for debugging
	SubscribeNamed(eventType event.Type, name string, handler Handler)

	// SubscribeAll registers a named handler for every bill event type
	SubscribeAll(name string, handler Handler)

	// Unsubscribe removes a handler by name
	Unsubscribe(eventType event.Type, name string)

	// Dispatch sends event to all registered handlers synchronously
	// Returns first error encountered (handlers run in order)
	Dispatch(ctx context.Context, evt *event.Event) error

	// DispatchAsync queues the event and returns without waiting.
	// Events of one bill reach handlers in dispatch order; different bills do not wait on each other.
	DispatchAsync(ctx context.Context, evt *event.Event)

	// ListHandlers returns registered handlers for an event type
	ListHandlers(eventType event.Type) []HandlerInfo

	// Close shuts down the dispatcher and waits for async handlers
	Close() error
}

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// eventDispatcher is the concrete implementation of Dispatcher
type eventDispatcher struct {
	mu       sync.RWMutex
	handlers map[event.Type][]HandlerInfo
	logger   Logger

	// lanes holds the pending async events of each bill. A lane exists while
	// exactly one goroutine is draining it.
	lanesMu sync.Mutex
	lanes   map[string][]queuedEvent

	wg     sync.WaitGroup
	closed atomic.Bool
}

type queuedEvent struct {
	ctx context.Context
	evt *event.Event
}

// Option configures the dispatcher
type Option func(*eventDispatcher)

// WithLogger sets a logger for the dispatcher
func WithLogger(logger Logger) Option {
	return func(d *eventDispatcher) {
		d.logger = logger
	}
}

// NewDispatcher creates a new event dispatcher
func NewDispatcher(opts ...Option) Dispatcher {
	d := &eventDispatcher{
		handlers: make(map[event.Type][]HandlerInfo),
		lanes:    make(map[string][]queuedEvent),
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Subscribe registers a handler for an event type with an auto-generated name
func (d *eventDispatcher) Subscribe(eventType event.Type, handler Handler) {
	d.mu.RLock()
	name := fmt.Sprintf("%s-%d", eventType, len(d.handlers[eventType]))
	d.mu.RUnlock()
	d.SubscribeNamed(eventType, name, handler)
}

// SubscribeAll registers the handler under the same name for every bill event type
func (d *eventDispatcher) SubscribeAll(name string, handler Handler) {
	for _, t := range event.AllTypes() {
		d.SubscribeNamed(t, name, handler)
	}
}

// SubscribeNamed registers a handler with a specific name
func (d *eventDispatcher) SubscribeNamed(eventType event.Type, name string, handler Handler) {
	d.mu.Lock()
	d.handlers[eventType] = append(d.handlers[eventType], HandlerInfo{
		Name:      name,
		EventType: eventType,
		Handler:   handler,
	})
	d.mu.Unlock()

	d.logInfo("Handler registered", "event_type", eventType, "handler_name", name)
}

// Unsubscribe removes a handler by name
func (d *eventDispatcher) Unsubscribe(eventType event.Type, name string) {
	d.mu.Lock()
	handlers := d.handlers[eventType]
	filtered := make([]HandlerInfo, 0, len(handlers))
	for _, h := range handlers {
		if h.Name != name {
			filtered = append(filtered, h)
		}
	}
	d.handlers[eventType] = filtered
	d.mu.Unlock()

	d.logInfo("Handler unregistered", "event_type", eventType, "handler_name", name)
}

// Dispatch runs the handlers of the event in registration order and stops at the first error
func (d *eventDispatcher) Dispatch(ctx context.Context, evt *event.Event) error {
	if d.closed.Load() {
		return fmt.Errorf("dispatcher is closed")
	}

	handlers := d.handlersFor(evt.Type)
	d.logInfo("Dispatching bill event", append(eventFields(evt), "handler_count", len(handlers))...)

	for _, h := range handlers {
		if err := d.safeExecute(ctx, evt, h); err != nil {
			d.logError("Handler error", append(eventFields(evt), "handler_name", h.Name, "error", err)...)
			return fmt.Errorf("handler %s failed: %w", h.Name, err)
		}
	}
	return nil
}

// DispatchAsync appends the event to its bill's lane, starting a drainer when the lane is idle.
// Handlers get a context detached from the caller's cancellation, since the request that
// committed the transition usually returns before they run.
func (d *eventDispatcher) DispatchAsync(ctx context.Context, evt *event.Event) {
	if d.closed.Load() {
		d.logError("Cannot dispatch async event, dispatcher is closed", eventFields(evt)...)
		return
	}

	key := laneKey(evt)
	item := queuedEvent{ctx: context.WithoutCancel(ctx), evt: evt}

	d.lanesMu.Lock()
	pending, draining := d.lanes[key]
	d.lanes[key] = append(pending, item)
	depth := len(pending) + 1
	if !draining {
		d.wg.Add(1)
		go d.drain(key)
	}
	d.lanesMu.Unlock()

	d.logInfo("Bill event queued", append(eventFields(evt), "lane_depth", depth)...)
}

// drain delivers a lane's events one at a time and removes the lane once it is empty
func (d *eventDispatcher) drain(key string) {
	defer d.wg.Done()

	for {
		d.lanesMu.Lock()
		queue := d.lanes[key]
		if len(queue) == 0 {
			delete(d.lanes, key)
			d.lanesMu.Unlock()
			return
		}
		item := queue[0]
		d.lanes[key] = queue[1:]
		d.lanesMu.Unlock()

		d.deliver(item.ctx, item.evt)
	}
}

// deliver runs every handler of an async event; one failing handler does not stop the others
func (d *eventDispatcher) deliver(ctx context.Context, evt *event.Event) {
	for _, h := range d.handlersFor(evt.Type) {
		if err := d.safeExecute(ctx, evt, h); err != nil {
			d.logError("Async handler error", append(eventFields(evt), "handler_name", h.Name, "error", err)...)
		}
	}
}

// ListHandlers returns registered handlers for an event type, without their funcs
func (d *eventDispatcher) ListHandlers(eventType event.Type) []HandlerInfo {
	handlers := d.handlersFor(eventType)
	result := make([]HandlerInfo, len(handlers))
	for i, h := range handlers {
		result[i] = HandlerInfo{
			Name:        h.Name,
			EventType:   h.EventType,
			Description: h.Description,
		}
	}
	return result
}

// Close refuses new events and waits until every lane has drained
func (d *eventDispatcher) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return fmt.Errorf("dispatcher already closed")
	}

	d.logInfo("Closing dispatcher, draining bill event lanes")
	d.wg.Wait()
	d.logInfo("Dispatcher closed")
	return nil
}

func (d *eventDispatcher) handlersFor(eventType event.Type) []HandlerInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.handlers[eventType]
}

// safeExecute runs a handler with panic recovery
func (d *eventDispatcher) safeExecute(ctx context.Context, evt *event.Event, info HandlerInfo) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
			d.logError("Handler panic recovered", append(eventFields(evt), "handler_name", info.Name, "panic", r)...)
		}
	}()

	return info.Handler(ctx, evt)
}

func (d *eventDispatcher) logInfo(msg string, kv ...interface{}) {
	if d.logger != nil {
		d.logger.Info(msg, kv...)
	}
}

func (d *eventDispatcher) logError(msg string, kv ...interface{}) {
	if d.logger != nil {
		d.logger.Error(msg, kv...)
	}
}

// laneKey orders events per bill. Events without a bill get a lane of their own.
func laneKey(evt *event.Event) string {
	if evt.BillID != "" {
		return "bill:" + evt.BillID
	}
	return "event:" + evt.ID
}

// eventFields are the log keys that tie an event to its bill and originating batch
func eventFields(evt *event.Event) []interface{} {
	return []interface{}{
		"event_type", evt.Type,
		"event_id", evt.ID,
		"bill_id", evt.BillID,
		"correlation_id", evt.CorrelationID,
	}
}
