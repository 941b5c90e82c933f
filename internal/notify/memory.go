package notify

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
)

const defaultSubscriberBuffer = 32

// MemoryBus fans events out to in-process subscribers. Slow subscribers lose events.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[chan TerminalEvent]struct{}
	buffer int
	closed bool
}

// NewMemoryBus creates an in-process bus. buffer <= 0 uses the default.
func NewMemoryBus(buffer int) *MemoryBus {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	return &MemoryBus{
		subs:   make(map[chan TerminalEvent]struct{}),
		buffer: buffer,
	}
}

// Publish delivers event to every current subscriber without blocking.
func (b *MemoryBus) Publish(ctx context.Context, event TerminalEvent) error {
	if b == nil {
		return errors.New("memory bus not initialised")
	}
	event.Normalize()

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return errors.New("memory bus closed")
	}
	for ch := range b.subs {
		select {
		case ch <- event:
		default:
			logrus.WithFields(logrus.Fields{
				"event_id":   event.EventID,
				"request_id": event.RequestID,
			}).Warn("notify: subscriber buffer full, dropping event")
		}
	}
	return nil
}

// Subscribe registers a subscriber until ctx is done.
func (b *MemoryBus) Subscribe(ctx context.Context) (<-chan TerminalEvent, error) {
	if b == nil {
		return nil, errors.New("memory bus not initialised")
	}
	ch := make(chan TerminalEvent, b.buffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, errors.New("memory bus closed")
	}
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.remove(ch)
	}()
	return ch, nil
}

func (b *MemoryBus) remove(ch chan TerminalEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
}

// Close closes every subscriber channel.
func (b *MemoryBus) Close() error {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for ch := range b.subs {
		delete(b.subs, ch)
		close(ch)
	}
	return nil
}

var _ Bus = (*MemoryBus)(nil)
