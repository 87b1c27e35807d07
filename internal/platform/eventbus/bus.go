// Package eventbus carries record events from the store to the push channel.
// The local bus delivers in-process; the Redis bus relays through a pub/sub
// channel so every server instance sees every event.
package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"
)

var ErrClosed = errors.New("event bus closed")

// Message is one event on the bus.
type Message struct {
	Type       string          `json:"type"`
	Topic      string          `json:"topic"`
	ResourceID string          `json:"resourceId,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
	Data       json.RawMessage `json:"data,omitempty"`
}

type Bus interface {
	Publish(ctx context.Context, msg Message) error
	// StartForwarder delivers every subsequent message to onMsg until ctx
	// ends or the bus is closed.
	StartForwarder(ctx context.Context, onMsg func(m Message)) error
	Close() error
}

type localBus struct {
	mu       sync.RWMutex
	next     uint64
	handlers map[uint64]func(Message)
	closed   bool
}

// NewLocal returns an in-process Bus. Publish calls every forwarder
// synchronously on the publishing goroutine.
func NewLocal() Bus {
	return &localBus{handlers: make(map[uint64]func(Message))}
}

func (b *localBus) Publish(_ context.Context, msg Message) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrClosed
	}
	handlers := make([]func(Message), 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(msg)
	}
	return nil
}

func (b *localBus) StartForwarder(ctx context.Context, onMsg func(m Message)) error {
	if onMsg == nil {
		return errors.New("eventbus: onMsg callback required")
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	b.next++
	id := b.next
	b.handlers[id] = onMsg
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.handlers, id)
		b.mu.Unlock()
	}()
	return nil
}

func (b *localBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.handlers = make(map[uint64]func(Message))
	return nil
}
