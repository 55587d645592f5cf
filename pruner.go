package changemaster

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

type (
	// Pruner bounds stored history to the most recent ChangeHorizon changes.
	// Passes are throttled to one per PruneInterval; the throttle is a
	// best-effort atomic timestamp, so two overlapping passes are possible
	// and harmless since deletion is idempotent
	Pruner struct {
		store     Store
		logger    *zap.Logger
		metrics   *metrics
		now       func() time.Time
		onCutoff  func(ChangeID)
		onRemoved func(ChangeID)
		ctx       context.Context
		cancel    context.CancelFunc
		signal    chan struct{}
		horizon   int64
		interval  time.Duration
		lastRun   atomic.Int64
		latest    atomic.Int64
		wg        sync.WaitGroup
		stopOnce  sync.Once
	}
)

func newPruner(
	store Store, cfg Config, logger *zap.Logger, m *metrics,
	now func() time.Time, onCutoff, onRemoved func(ChangeID),
) *Pruner {
	ctx, cancel := context.WithCancel(context.Background())

	p := &Pruner{
		store:     store,
		logger:    logger,
		metrics:   m,
		now:       now,
		onCutoff:  onCutoff,
		onRemoved: onRemoved,
		ctx:       ctx,
		cancel:    cancel,
		signal:    make(chan struct{}, 1),
		horizon:   cfg.ChangeHorizon,
		interval:  cfg.PruneInterval,
	}

	p.wg.Add(1)
	go p.worker()
	return p
}

// Horizon returns the number of most recent changes the pruner retains.
// Zero means pruning is disabled
func (p *Pruner) Horizon() int64 {
	return p.horizon
}

// Request asks the background worker to consider a pass relative to the
// latest assigned id. It never blocks; concurrent requests coalesce
func (p *Pruner) Request(latest ChangeID) {
	for {
		cur := p.latest.Load()
		if int64(latest) <= cur || p.latest.CompareAndSwap(cur, int64(latest)) {
			break
		}
	}
	select {
	case p.signal <- struct{}{}:
	default:
	}
}

// MaybePrune runs a pass unless pruning is disabled or another pass ran
// within the throttle interval. It returns the ids it removed
func (p *Pruner) MaybePrune(ctx context.Context, latest ChangeID) []ChangeID {
	if p.horizon == 0 || !p.claim() {
		return nil
	}
	return p.prune(ctx, latest)
}

// Prune runs a pass immediately, ignoring the throttle
func (p *Pruner) Prune(ctx context.Context, latest ChangeID) []ChangeID {
	if p.horizon == 0 {
		return nil
	}
	p.lastRun.Store(p.now().UnixNano())
	return p.prune(ctx, latest)
}

// claim takes the throttle slot, reporting false if a pass ran within the
// interval
func (p *Pruner) claim() bool {
	now := p.now().UnixNano()
	last := p.lastRun.Load()
	if last != 0 && now-last < int64(p.interval) {
		return false
	}
	return p.lastRun.CompareAndSwap(last, now)
}

func (p *Pruner) prune(ctx context.Context, latest ChangeID) []ChangeID {
	cutoff := latest - ChangeID(p.horizon) + 1
	if cutoff <= 0 {
		return nil
	}
	if p.onCutoff != nil {
		p.onCutoff(cutoff)
	}

	ids, err := p.store.GetIDsLessThan(ctx, cutoff)
	if err != nil {
		p.logger.Error("Failed to list prunable changes",
			zap.Int64("cutoff", int64(cutoff)),
			zap.Error(&PruneError{ChangeID: cutoff, Err: err}),
		)
		return nil
	}

	var removed []ChangeID
	for _, id := range ids {
		if err := p.store.DeleteByID(ctx, id); err != nil {
			p.logger.Error("Failed to remove change",
				zap.Int64("change_id", int64(id)),
				zap.Error(&PruneError{ChangeID: id, Err: err}),
			)
			continue
		}
		p.logger.Info("Removing change", zap.Int64("change_id", int64(id)))
		p.metrics.changePruned()
		if p.onRemoved != nil {
			p.onRemoved(id)
		}
		removed = append(removed, id)
	}
	return removed
}

func (p *Pruner) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-p.signal:
			p.pass(p.ctx, ChangeID(p.latest.Load()))
		}
	}
}

// pass is a throttled background prune followed by a resync of the cutoff
// with the oldest stored id, which picks up pruning done by other
// processes sharing the Store
func (p *Pruner) pass(ctx context.Context, latest ChangeID) {
	if !p.claim() {
		return
	}
	if p.horizon > 0 {
		p.prune(ctx, latest)
	}

	oldest, err := p.store.GetChangesGreaterThan(ctx, NoChange, 1)
	if err != nil {
		p.logger.Warn("Failed to read oldest change", zap.Error(err))
		return
	}
	if len(oldest) > 0 && p.onCutoff != nil {
		p.onCutoff(oldest[0].ID)
	}
}

// Stop ends the background worker and waits for a running pass to finish
func (p *Pruner) Stop() {
	p.stopOnce.Do(func() {
		p.cancel()
		p.wg.Wait()
	})
}
