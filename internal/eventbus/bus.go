package eventbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"carpihogar-assistant/internal/util"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Event is a named in-process notification
type Event struct {
	Name    string
	Payload interface{}
}

// Handler reacts to a published event
type Handler func(ctx context.Context, event Event) error

// Bus is the publish/subscribe contract shared by components
type Bus interface {
	Publish(ctx context.Context, event Event)
	Subscribe(name string, handler Handler)
}

// InMemoryBus dispatches events to handlers on their own goroutines.
// Publish never waits for handlers and never sees their errors.
type InMemoryBus struct {
	mu             sync.RWMutex
	handlers       map[string][]Handler
	wg             sync.WaitGroup
	handlerTimeout time.Duration
	logger         *zap.Logger
}

// NewInMemoryBus creates a new in-process bus
func NewInMemoryBus(handlerTimeout time.Duration) *InMemoryBus {
	if handlerTimeout <= 0 {
		handlerTimeout = 30 * time.Second
	}
	return &InMemoryBus{
		handlers:       make(map[string][]Handler),
		handlerTimeout: handlerTimeout,
		logger:         util.GetLogger(),
	}
}

// Subscribe registers a handler for an event name
func (b *InMemoryBus) Subscribe(name string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[name] = append(b.handlers[name], handler)
}

// Publish schedules every handler registered for the event
func (b *InMemoryBus) Publish(ctx context.Context, event Event) {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers[event.Name]...)
	b.mu.RUnlock()

	util.EventsPublishedTotal.WithLabelValues(event.Name).Inc()

	if len(handlers) == 0 {
		b.logger.Debug("No handlers for event", zap.String("event", event.Name))
		return
	}

	// handlers outlive the request that published the event
	spanCtx := trace.SpanContextFromContext(ctx)

	for _, h := range handlers {
		b.wg.Add(1)
		go b.run(spanCtx, h, event)
	}
}

func (b *InMemoryBus) run(spanCtx trace.SpanContext, h Handler, event Event) {
	defer b.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), b.handlerTimeout)
	defer cancel()
	if spanCtx.IsValid() {
		ctx = trace.ContextWithRemoteSpanContext(ctx, spanCtx)
	}

	if err := safeCall(ctx, h, event); err != nil {
		util.EventHandlerFailuresTotal.WithLabelValues(event.Name).Inc()
		b.logger.Error("Event handler failed",
			zap.String("event", event.Name),
			zap.Error(err))
	}
}

func safeCall(ctx context.Context, h Handler, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, event)
}

// Close waits for in-flight handlers, bounded by ctx
func (b *InMemoryBus) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
