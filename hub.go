package changemaster

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

type (
	// Subscriber is invoked with each newly numbered change, in assignment
	// order. The context expires after the configured subscriber timeout and
	// must be honored: delivery moves on at the deadline, but a call that
	// ignores it keeps its goroutine until it returns
	Subscriber func(context.Context, *Change) error

	// Hub fans numbered changes out to every active subscription
	Hub struct {
		logger  *zap.Logger
		metrics *metrics
		subs    []*Subscription
		nextID  uint64
		timeout time.Duration
		buffer  int
		pending atomic.Int64
		mu      sync.RWMutex
	}

	// Subscription is a registered Subscriber. Close removes it
	Subscription struct {
		hub       *Hub
		fn        Subscriber
		name      string
		id        uint64
		closeOnce sync.Once
	}

	// Consumer receives matching changes through a buffered channel
	Consumer struct {
		sub       *Subscription
		out       chan *Change
		done      chan struct{}
		filter    Filter
		closed    bool
		mu        sync.RWMutex
		closeOnce sync.Once
	}
)

func newHub(logger *zap.Logger, m *metrics, timeout time.Duration, buffer int) *Hub {
	return &Hub{
		logger:  logger,
		metrics: m,
		timeout: timeout,
		buffer:  buffer,
	}
}

// Subscribe registers a named Subscriber. The name only appears in logs
func (h *Hub) Subscribe(name string, fn Subscriber) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	sub := &Subscription{
		hub:  h,
		fn:   fn,
		name: name,
		id:   h.nextID,
	}
	h.subs = append(h.subs, sub)
	return sub
}

// NewConsumer creates a consumer interested in changes matching the filter.
// An empty filter receives every change
func (h *Hub) NewConsumer(filter Filter) *Consumer {
	c := &Consumer{
		out:    make(chan *Change, h.buffer),
		done:   make(chan struct{}),
		filter: filter,
	}
	c.sub = h.Subscribe("consumer", c.send)
	return c
}

// Len returns the number of active subscriptions
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dispatch delivers a change to every subscription, in registration order.
// A failing, panicking, or slow subscriber is logged and skipped
func (h *Hub) Dispatch(ctx context.Context, ch *Change) {
	h.mu.RLock()
	subs := slices.Clone(h.subs)
	h.mu.RUnlock()

	for _, sub := range subs {
		if err := h.deliver(ctx, sub, ch); err != nil {
			h.metrics.subscriberFailed()
			h.logger.Warn("Subscriber failed",
				zap.String("subscriber", sub.name),
				zap.Int64("change_id", int64(ch.ID)),
				zap.Error(err),
			)
		}
	}
}

func (h *Hub) deliver(ctx context.Context, sub *Subscription, ch *Change) error {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	res := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				res <- panicError(r)
			}
		}()
		res <- sub.fn(ctx, ch.Copy())
	}()

	var err error
	select {
	case err = <-res:
	case <-ctx.Done():
		err = ctx.Err()
		h.abandon(sub, ch, res)
	}
	if err == nil {
		return nil
	}
	return &SubscriberError{
		Name:     sub.name,
		ChangeID: ch.ID,
		Err:      err,
	}
}

// abandon tracks a call that outlived its deadline until it returns
func (h *Hub) abandon(sub *Subscription, ch *Change, res <-chan error) {
	n := h.pending.Add(1)
	h.logger.Warn("Abandoning subscriber call",
		zap.String("subscriber", sub.name),
		zap.Int64("change_id", int64(ch.ID)),
		zap.Int64("abandoned", n),
	)
	go func() {
		<-res
		h.pending.Add(-1)
	}()
}

// Abandoned returns the number of timed-out subscriber calls that are still
// running
func (h *Hub) Abandoned() int {
	return int(h.pending.Load())
}

func (h *Hub) unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs = slices.DeleteFunc(h.subs, func(s *Subscription) bool {
		return s.id == sub.id
	})
}

// Close removes the subscription. Deliveries already in flight may still
// complete
func (s *Subscription) Close() error {
	s.closeOnce.Do(func() {
		s.hub.unsubscribe(s)
	})
	return nil
}

// Receive returns the channel of matching changes. It is closed when the
// consumer is closed
func (c *Consumer) Receive() <-chan *Change {
	return c.out
}

// Close unregisters the consumer and closes its channel
func (c *Consumer) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.sub.Close()

		c.mu.Lock()
		c.closed = true
		close(c.out)
		c.mu.Unlock()
	})
	return nil
}

func (c *Consumer) send(ctx context.Context, ch *Change) error {
	if !c.filter.Matches(ch) {
		return nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil
	}

	select {
	case c.out <- ch:
		return nil
	case <-c.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("consumer buffer full: %w", ctx.Err())
	}
}
