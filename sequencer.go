package changemaster

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"go.uber.org/zap"
)

type (
	// sequencer releases persisted changes to a single dispatcher in id
	// order, even when concurrent producers finish persisting out of order.
	// Every persist attempt holds a ticket. A change is held back until all
	// attempts that were in flight when it completed have finished, since
	// only those can still produce a smaller id
	sequencer struct {
		logger   *zap.Logger
		dispatch func(context.Context, *Change)
		ready    chan struct{}
		finished map[uint64]struct{}
		held     []*delivery
		queue    []*delivery
		issued   uint64
		low      uint64
		lastID   ChangeID
		closed   bool
		mu       sync.Mutex
	}

	delivery struct {
		change  *Change
		done    chan struct{}
		barrier uint64
	}
)

func newSequencer(
	logger *zap.Logger, dispatch func(context.Context, *Change),
) *sequencer {
	return &sequencer{
		logger:   logger,
		dispatch: dispatch,
		ready:    make(chan struct{}, 1),
		finished: map[uint64]struct{}{},
	}
}

// begin issues a ticket for a persist attempt that is about to start
func (s *sequencer) begin() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrClosed
	}
	s.issued++
	return s.issued, nil
}

// complete retires a ticket. When the attempt produced a change, the
// returned delivery's done channel closes once every subscriber has seen it
func (s *sequencer) complete(ticket uint64, ch *Change) *delivery {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.finished[ticket] = struct{}{}
	for {
		if _, ok := s.finished[s.low+1]; !ok {
			break
		}
		delete(s.finished, s.low+1)
		s.low++
	}

	var d *delivery
	if ch != nil {
		d = &delivery{
			change:  ch,
			done:    make(chan struct{}),
			barrier: s.issued,
		}
		if s.closed {
			close(d.done)
			return d
		}
		idx, _ := slices.BinarySearchFunc(s.held, d, byChangeID)
		s.held = slices.Insert(s.held, idx, d)
	}

	s.release()
	return d
}

func (s *sequencer) release() {
	released := false
	for len(s.held) > 0 && s.held[0].barrier <= s.low {
		d := s.held[0]
		s.held = s.held[1:]
		if s.lastID != 0 && d.change.ID != s.lastID+1 {
			s.logger.Warn("Gap in assigned change ids",
				zap.Int64("previous_id", int64(s.lastID)),
				zap.Int64("change_id", int64(d.change.ID)),
			)
		}
		s.lastID = d.change.ID
		s.queue = append(s.queue, d)
		released = true
	}

	if released {
		select {
		case s.ready <- struct{}{}:
		default:
		}
	}
}

// run is the single dispatcher loop. It returns when ctx is done, after
// which every undelivered change is abandoned
func (s *sequencer) run(ctx context.Context) {
	defer s.abandon()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.ready:
		}

		for {
			batch := s.take()
			if len(batch) == 0 {
				break
			}
			for _, d := range batch {
				if ctx.Err() == nil {
					s.dispatch(ctx, d.change)
				}
				close(d.done)
			}
		}
	}
}

func (s *sequencer) take() []*delivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch := s.queue
	s.queue = nil
	return batch
}

func (s *sequencer) abandon() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	for _, d := range s.queue {
		close(d.done)
	}
	for _, d := range s.held {
		close(d.done)
	}
	s.queue = nil
	s.held = nil
}

func byChangeID(a, b *delivery) int {
	return cmp.Compare(a.change.ID, b.change.ID)
}
