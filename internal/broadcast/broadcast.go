// Package broadcast fans completed page records out to subscribers. Each
// subscriber owns an independent bounded buffer; publishing never blocks on
// a slow consumer.
package broadcast

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/arachnid-go/arachne/internal/metrics"
	"github.com/arachnid-go/arachne/pkg/types"
)

// Overflow selects what happens when a subscriber's buffer is full.
type Overflow int

const (
	// OverflowDropOldest evicts the oldest buffered record to admit the new
	// one; the subscriber silently misses the evicted record.
	OverflowDropOldest Overflow = iota
	// OverflowLagNotify drops the incoming record and surfaces
	// ErrSubscriberLagged on the subscriber's next receive.
	OverflowLagNotify
)

// ErrSubscriberLagged signals that records were dropped because the
// subscriber fell behind. Receiving resumes after the error.
var ErrSubscriberLagged = errors.New("subscriber lagged; records dropped")

// ErrHubClosed is returned from Recv once the hub shut down and the buffer
// drained.
var ErrHubClosed = errors.New("broadcast hub closed")

// Hub distributes records to all current subscribers in publish order.
type Hub struct {
	mu       sync.Mutex
	subs     map[*Subscription]struct{}
	overflow Overflow
	closed   bool
	logger   *zap.Logger
}

// NewHub builds a Hub with the given overflow policy.
func NewHub(overflow Overflow, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		subs:     make(map[*Subscription]struct{}),
		overflow: overflow,
		logger:   logger,
	}
}

// Subscribe registers a consumer with its own buffer of the given capacity
// (minimum 1). Subscribing after the crawl started yields only records
// published from this point forward.
func (h *Hub) Subscribe(capacity int) *Subscription {
	if capacity <= 0 {
		capacity = 1
	}
	sub := &Subscription{
		hub:      h,
		capacity: capacity,
		notify:   make(chan struct{}, 1),
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		sub.closed = true
		return sub
	}
	h.subs[sub] = struct{}{}
	return sub
}

// Publish delivers rec to every current subscriber. It never blocks; a full
// buffer is resolved per the hub's overflow policy.
func (h *Hub) Publish(rec types.PageRecord) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	targets := make([]*Subscription, 0, len(h.subs))
	for sub := range h.subs {
		targets = append(targets, sub)
	}
	overflow := h.overflow
	h.mu.Unlock()

	for _, sub := range targets {
		if dropped := sub.push(rec, overflow); dropped {
			metrics.ObserveBroadcastDrop()
			h.logger.Debug("record dropped for slow subscriber", zap.String("url", rec.URL))
		}
	}
}

// Close terminates all subscriptions. Buffered records remain receivable;
// subsequent Recv calls return ErrHubClosed once drained.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	subs := make([]*Subscription, 0, len(h.subs))
	for sub := range h.subs {
		subs = append(subs, sub)
	}
	h.subs = make(map[*Subscription]struct{})
	h.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
}

func (h *Hub) unsubscribe(sub *Subscription) {
	h.mu.Lock()
	delete(h.subs, sub)
	h.mu.Unlock()
}

// Subscription is one consumer's receive handle.
type Subscription struct {
	hub      *Hub
	capacity int

	mu     sync.Mutex
	buf    []types.PageRecord
	lagged bool
	closed bool
	notify chan struct{}
}

// push appends rec, applying the overflow policy when full. Reports whether
// a record was lost.
func (s *Subscription) push(rec types.PageRecord, overflow Overflow) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	dropped := false
	if len(s.buf) >= s.capacity {
		switch overflow {
		case OverflowDropOldest:
			s.buf = s.buf[1:]
			dropped = true
		case OverflowLagNotify:
			s.lagged = true
			s.signalLocked()
			return true
		}
	}
	s.buf = append(s.buf, rec)
	s.signalLocked()
	return dropped
}

// Recv blocks until a record is available, the subscriber lagged, the hub
// closed, or ctx ends. Records arrive in publish order, with gaps permitted
// under overflow.
func (s *Subscription) Recv(ctx context.Context) (types.PageRecord, error) {
	for {
		s.mu.Lock()
		if s.lagged {
			s.lagged = false
			s.mu.Unlock()
			return types.PageRecord{}, ErrSubscriberLagged
		}
		if len(s.buf) > 0 {
			rec := s.buf[0]
			s.buf = s.buf[1:]
			s.mu.Unlock()
			return rec, nil
		}
		if s.closed {
			s.mu.Unlock()
			return types.PageRecord{}, ErrHubClosed
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return types.PageRecord{}, ctx.Err()
		case <-s.notify:
		}
	}
}

// Close detaches the subscription from the hub and discards its buffer.
func (s *Subscription) Close() {
	s.hub.unsubscribe(s)
	s.close()
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.signalLocked()
}

func (s *Subscription) signalLocked() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}
