// Package stream fans audit records out to live subscribers (SSE clients).
package stream

import (
	"context"
	"sync"
	"sync/atomic"

	"custodia.org/internal/audit"
)

const subscriberBuffer = 16

// Stream fan-outs audit records to all active subscribers.
type Stream struct {
	mu      sync.RWMutex
	subs    map[int]chan audit.Record
	next    int
	dropped atomic.Uint64
}

var _ audit.Sink = (*Stream)(nil)

// New initialises an empty stream.
func New() *Stream {
	return &Stream{subs: make(map[int]chan audit.Record)}
}

// Subscribe registers a subscriber and returns a channel which will receive records.
// The channel is closed when the provided context ends.
func (s *Stream) Subscribe(ctx context.Context) <-chan audit.Record {
	ch := make(chan audit.Record, subscriberBuffer)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Publish delivers rec to every subscriber without blocking. Slow subscribers
// miss records; the durable copy stays in the audit store.
func (s *Stream) Publish(_ context.Context, rec audit.Record) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- rec:
		default:
			s.dropped.Add(1)
		}
	}
	return nil
}

// Subscribers returns the number of live subscribers.
func (s *Stream) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

// Dropped returns how many deliveries were skipped because a subscriber was full.
func (s *Stream) Dropped() uint64 { return s.dropped.Load() }
