package changemaster

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

type (
	// Manager receives changes from its Sources, numbers them through the
	// Store, notifies subscribers and prunes old history
	Manager struct {
		*History

		config   Config
		store    Store
		logger   *zap.Logger
		metrics  *metrics
		now      func() time.Time
		hub      *Hub
		seq      *sequencer
		pruner   *Pruner
		registry *Registry
		cache    *changeCache
		ctx      context.Context
		cancel   context.CancelFunc
		wg       sync.WaitGroup
		closed   atomic.Bool
	}

	// Option customizes a Manager
	Option func(*options)

	options struct {
		logger     *zap.Logger
		registerer prometheus.Registerer
		now        func() time.Time
		subs       []namedSubscriber
	}

	namedSubscriber struct {
		fn   Subscriber
		name string
	}
)

// DefaultCloseTimeout bounds how long Close waits for Sources to stop
const DefaultCloseTimeout = 30 * time.Second

// WithLogger sets the structured logger. The default discards everything
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithRegisterer registers the Manager's metrics
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}

// WithClock overrides the time source used for ingestion timestamps and the
// prune throttle
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithSubscriber registers a Subscriber before any change can be ingested
func WithSubscriber(name string, fn Subscriber) Option {
	return func(o *options) {
		o.subs = append(o.subs, namedSubscriber{name: name, fn: fn})
	}
}

// New creates a Manager on top of an open Store. The caller keeps
// ownership of the Store and closes it after closing the Manager
func New(store Store, cfg Config, opts ...Option) (*Manager, error) {
	o := &options{
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}

	cfg = cfg.normalize()
	m, err := newMetrics(o.registerer)
	if err != nil {
		return nil, err
	}
	cache, err := newChangeCache(store, cfg.CacheSize)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	mgr := &Manager{
		History: newHistory(store, cache, cfg.PageSize),
		config:  cfg,
		store:   store,
		logger:  o.logger,
		metrics: m,
		now:     o.now,
		cache:   cache,
		ctx:     ctx,
		cancel:  cancel,
	}

	mgr.hub = newHub(
		o.logger.Named("hub"), m, cfg.SubscriberTimeout, cfg.ConsumerBuffer,
	)
	for _, s := range o.subs {
		mgr.hub.Subscribe(s.name, s.fn)
	}
	mgr.seq = newSequencer(o.logger.Named("sequencer"), mgr.hub.Dispatch)
	mgr.pruner = newPruner(
		store, cfg, o.logger.Named("pruner"), m, o.now,
		cache.Advance, cache.Forget,
	)
	mgr.registry = newRegistry(ctx, mgr, o.logger.Named("registry"))

	mgr.wg.Add(1)
	go func() {
		defer mgr.wg.Done()
		mgr.seq.run(ctx)
	}()
	return mgr, nil
}

// Start starts every registered Source. Sources added afterward start as
// they are added
func (m *Manager) Start(ctx context.Context) error {
	if m.closed.Load() {
		return ErrClosed
	}
	return m.registry.Start(ctx)
}

// Close stops every Source, the pruner and the dispatcher. Changes that
// were persisted but not yet delivered are abandoned
func (m *Manager) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), DefaultCloseTimeout)
	defer cancel()

	err := m.registry.Stop(ctx)
	m.pruner.Stop()
	m.cancel()
	m.wg.Wait()
	return err
}

// Context returns the Manager's context, canceled by Close
func (m *Manager) Context() context.Context {
	return m.ctx
}

// Config returns the normalized configuration in effect
func (m *Manager) Config() Config {
	return m.config
}

// Hub returns the subscriber hub
func (m *Manager) Hub() *Hub {
	return m.hub
}

// Registry returns the Source registry
func (m *Manager) Registry() *Registry {
	return m.registry
}

// Pruner returns the retention pruner
func (m *Manager) Pruner() *Pruner {
	return m.pruner
}

// Store returns the underlying Store
func (m *Manager) Store() Store {
	return m.store
}

// AddSource registers a Source with the Manager's registry
func (m *Manager) AddSource(src Source) (*Future, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}
	return m.registry.AddSource(src)
}

// RemoveSource detaches a Source and stops it in the background
func (m *Manager) RemoveSource(ctx context.Context, src Source) (*Future, error) {
	return m.registry.RemoveSource(ctx, src)
}

// Subscribe registers a Subscriber for newly numbered changes
func (m *Manager) Subscribe(name string, fn Subscriber) *Subscription {
	return m.hub.Subscribe(name, fn)
}
