package changemaster

import (
	"context"
	"fmt"
	"reflect"
	"slices"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type (
	// Source is a change producer. Start hands the Source the Sink it
	// should feed raw changes into; Stop must release its resources and be
	// safe to call more than once
	Source interface {
		Start(context.Context, Sink) error
		Stop(context.Context) error
	}

	// Sink accepts raw changes from a Source
	Sink interface {
		AddChange(context.Context, *Change) (*Change, error)
	}

	// SourceState is a stage of a Source's lifecycle
	SourceState int

	// Registry owns the active Sources and cascades start and stop over
	// them. Sources start in registration order and stop in reverse
	Registry struct {
		ctx     context.Context
		sink    Sink
		logger  *zap.Logger
		entries map[Source]*sourceEntry
		order   []Source
		running bool
		mu      sync.Mutex
	}

	sourceEntry struct {
		source  Source
		start   *Future
		state   SourceState
		removed bool
		mu      sync.Mutex
	}
)

const (
	Stopped SourceState = iota
	Starting
	Running
	Stopping
)

func newRegistry(ctx context.Context, sink Sink, logger *zap.Logger) *Registry {
	return &Registry{
		ctx:     ctx,
		sink:    sink,
		logger:  logger,
		entries: map[Source]*sourceEntry{},
	}
}

func (s SourceState) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	default:
		return fmt.Sprintf("SourceState(%d)", int(s))
	}
}

// AddSource registers a Source. If the registry is running the Source is
// started in the background and the returned Future resolves with the
// result; otherwise it will start with the registry
func (r *Registry) AddSource(src Source) (*Future, error) {
	if src == nil {
		return nil, &RegistrationError{Reason: "source is nil"}
	}
	if !reflect.TypeOf(src).Comparable() {
		return nil, &RegistrationError{
			Reason: fmt.Sprintf("source type %T is not comparable", src),
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[src]; ok {
		return nil, &RegistrationError{
			Reason: fmt.Sprintf("source %T is already registered", src),
		}
	}

	e := &sourceEntry{source: src}
	r.entries[src] = e
	r.order = append(r.order, src)

	if !r.running {
		return resolvedFuture(nil), nil
	}
	f := runFuture(func() error {
		return r.startEntry(r.ctx, e)
	})
	e.mu.Lock()
	e.start = f
	e.mu.Unlock()
	return f, nil
}

// RemoveSource detaches a Source and stops it in the background
func (r *Registry) RemoveSource(ctx context.Context, src Source) (*Future, error) {
	r.mu.Lock()
	e, ok := r.entries[src]
	if ok {
		delete(r.entries, src)
		r.order = slices.DeleteFunc(r.order, func(s Source) bool {
			return s == src
		})
	}
	r.mu.Unlock()

	if !ok {
		return nil, &NotRegisteredError{Source: src}
	}

	e.mu.Lock()
	e.removed = true
	e.mu.Unlock()
	return runFuture(func() error {
		return r.stopEntry(ctx, e)
	}), nil
}

// Sources returns the registered Sources in registration order
func (r *Registry) Sources() []Source {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.order)
}

// State reports the lifecycle stage of a registered Source
func (r *Registry) State(src Source) (SourceState, error) {
	r.mu.Lock()
	e, ok := r.entries[src]
	r.mu.Unlock()

	if !ok {
		return Stopped, &NotRegisteredError{Source: src}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state, nil
}

// Start starts every registered Source. A failing Source doesn't prevent
// the others from starting; all failures are reported together
func (r *Registry) Start(ctx context.Context) error {
	r.mu.Lock()
	r.running = true
	entries := r.snapshot()
	r.mu.Unlock()

	var errs error
	for _, e := range entries {
		errs = multierr.Append(errs, r.startEntry(ctx, e))
	}
	if errs != nil {
		return &LifecycleError{Op: "start", Err: errs}
	}
	return nil
}

// Stop stops every registered Source, best-effort, in reverse registration
// order. All failures are reported together
func (r *Registry) Stop(ctx context.Context) error {
	r.mu.Lock()
	r.running = false
	entries := r.snapshot()
	r.mu.Unlock()

	var errs error
	for _, e := range slices.Backward(entries) {
		errs = multierr.Append(errs, r.stopEntry(ctx, e))
	}
	if errs != nil {
		return &LifecycleError{Op: "stop", Err: errs}
	}
	return nil
}

func (r *Registry) snapshot() []*sourceEntry {
	res := make([]*sourceEntry, 0, len(r.order))
	for _, src := range r.order {
		res = append(res, r.entries[src])
	}
	return res
}

func (r *Registry) startEntry(ctx context.Context, e *sourceEntry) error {
	e.mu.Lock()
	if e.state != Stopped || e.removed {
		e.mu.Unlock()
		return nil
	}
	e.state = Starting
	e.mu.Unlock()

	err := e.source.Start(ctx, r.sink)

	e.mu.Lock()
	defer e.mu.Unlock()
	if err != nil {
		e.state = Stopped
		r.logger.Error("Failed to start source",
			zap.String("source", fmt.Sprintf("%T", e.source)),
			zap.Error(err),
		)
		return fmt.Errorf("start %T: %w", e.source, err)
	}
	if e.state == Starting {
		e.state = Running
	}
	r.logger.Debug("Source started",
		zap.String("source", fmt.Sprintf("%T", e.source)),
	)
	return nil
}

// stopEntry first waits out a background start, so that a Source added
// while running can't come up after it was stopped
func (r *Registry) stopEntry(ctx context.Context, e *sourceEntry) error {
	e.mu.Lock()
	pending := e.start
	e.mu.Unlock()
	if pending != nil {
		_ = pending.Wait(ctx)
	}

	e.mu.Lock()
	if e.state == Stopped || e.state == Stopping {
		e.mu.Unlock()
		return nil
	}
	e.state = Stopping
	e.mu.Unlock()

	err := e.source.Stop(ctx)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = Stopped
	if err != nil {
		r.logger.Error("Failed to stop source",
			zap.String("source", fmt.Sprintf("%T", e.source)),
			zap.Error(err),
		)
		return fmt.Errorf("stop %T: %w", e.source, err)
	}
	r.logger.Debug("Source stopped",
		zap.String("source", fmt.Sprintf("%T", e.source)),
	)
	return nil
}
