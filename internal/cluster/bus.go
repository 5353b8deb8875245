package cluster

import (
	"context"
	"errors"
	"sync"
)

// Handler consumes one event delivered by a Bus.
type Handler func(ctx context.Context, e Event)

// Bus carries events between instances. Publishers also receive their own broadcasts;
// consumers filter by source.
type Bus interface {
	Publish(ctx context.Context, e Event) error
	Subscribe(h Handler)
}

var ErrBusClosed = errors.New("bus closed")

// LocalBus delivers events in process. Every subscriber gets its own ordered queue, so a
// handler publishing from inside a delivery never blocks the publisher.
type LocalBus struct {
	mu     sync.RWMutex
	subs   []*subscriber
	closed bool
	wg     sync.WaitGroup
}

type subscriber struct {
	ch chan Event
}

func NewLocalBus() *LocalBus { return &LocalBus{} }

func (b *LocalBus) Subscribe(h Handler) {
	s := &subscriber{ch: make(chan Event, 1024)}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.subs = append(b.subs, s)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for e := range s.ch {
			h(context.Background(), e)
		}
	}()
}

func (b *LocalBus) Publish(ctx context.Context, e Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}
	for _, s := range b.subs {
		select {
		case s.ch <- e:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Close stops delivery after draining queued events.
func (b *LocalBus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for _, s := range b.subs {
		close(s.ch)
	}
	b.mu.Unlock()
	b.wg.Wait()
}
