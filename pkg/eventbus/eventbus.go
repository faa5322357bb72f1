// Package eventbus provides a typed, synchronous publish/subscribe channel.
//
// Handlers run on the publishing goroutine, one after another. The order in
// which handlers of the same bus are called is not specified.
package eventbus

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/mpapenbr/racesim/log"
)

const instrumentationName = "github.com/mpapenbr/racesim/pkg/eventbus"

type Handler[T any] func(T)

type Bus[T any] struct {
	name      string
	mu        sync.RWMutex
	handlers  map[int]Handler[T]
	nextID    int
	published metric.Int64Counter
	attrs     metric.MeasurementOption
}

// New creates a bus. The name is used as metric attribute.
func New[T any](name string) *Bus[T] {
	b := &Bus[T]{
		name:     name,
		handlers: make(map[int]Handler[T]),
		attrs:    metric.WithAttributes(attribute.String("bus", name)),
	}
	counter, err := otel.Meter(instrumentationName).Int64Counter(
		"racesim.eventbus.published",
		metric.WithDescription("Number of published events"),
		metric.WithUnit("{count}"),
	)
	if err != nil {
		log.Error("failed to register metric",
			log.String("bus", name), log.ErrorField(err))
	}
	b.published = counter
	return b
}

// Subscribe registers h and returns a function removing it again.
// Calling the returned function more than once is harmless.
func (b *Bus[T]) Subscribe(h Handler[T]) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.handlers[id] = h
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.handlers, id)
		b.mu.Unlock()
	}
}

// Publish delivers event to all handlers registered at the time of the call.
func (b *Bus[T]) Publish(event T) {
	b.mu.RLock()
	snapshot := make([]Handler[T], 0, len(b.handlers))
	for _, h := range b.handlers {
		snapshot = append(snapshot, h)
	}
	b.mu.RUnlock()

	if b.published != nil {
		b.published.Add(context.Background(), 1, b.attrs)
	}
	for _, h := range snapshot {
		h(event)
	}
}

func (b *Bus[T]) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers)
}

func (b *Bus[T]) Name() string {
	return b.name
}
