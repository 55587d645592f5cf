package changemaster_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kode4food/changemaster"
	"github.com/kode4food/changemaster/memory"
)

type (
	callLog struct {
		mu    sync.Mutex
		calls []string
	}

	fakeSource struct {
		log      *callLog
		sink     changemaster.Sink
		startErr error
		stopErr  error
		name     string
		mu       sync.Mutex
	}

	// sliceSource cannot be used as a map key
	sliceSource []string
)

func (l *callLog) add(call string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, call)
}

func (l *callLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

func newFakeSource(log *callLog, name string) *fakeSource {
	return &fakeSource{log: log, name: name}
}

func (s *fakeSource) Start(_ context.Context, sink changemaster.Sink) error {
	s.log.add("start " + s.name)
	if s.startErr != nil {
		return s.startErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sink = sink
	return nil
}

func (s *fakeSource) Stop(context.Context) error {
	s.log.add("stop " + s.name)
	s.mu.Lock()
	s.sink = nil
	s.mu.Unlock()
	return s.stopErr
}

func (s *fakeSource) emit(
	ctx context.Context, raw *changemaster.Change,
) (*changemaster.Change, error) {
	s.mu.Lock()
	sink := s.sink
	s.mu.Unlock()
	if sink == nil {
		return nil, errors.New("not started")
	}
	return sink.AddChange(ctx, raw)
}

func (sliceSource) Start(context.Context, changemaster.Sink) error { return nil }
func (sliceSource) Stop(context.Context) error                     { return nil }

func TestRegistryLifecycle(t *testing.T) {
	mgr, _ := newManager(t, changemaster.DefaultConfig())
	log := &callLog{}
	first := newFakeSource(log, "first")
	second := newFakeSource(log, "second")

	_, err := mgr.AddSource(first)
	require.NoError(t, err)
	_, err = mgr.AddSource(second)
	require.NoError(t, err)

	st, err := mgr.Registry().State(first)
	assert.NoError(t, err)
	assert.Equal(t, changemaster.Stopped, st)

	ctx := context.Background()
	require.NoError(t, mgr.Start(ctx))

	for _, src := range []*fakeSource{first, second} {
		st, err := mgr.Registry().State(src)
		assert.NoError(t, err)
		assert.Equal(t, changemaster.Running, st)
	}

	ch, err := second.emit(ctx, rawChange("a", "r1"))
	assert.NoError(t, err)
	assert.Equal(t, changemaster.ChangeID(1), ch.ID)

	assert.NoError(t, mgr.Registry().Stop(ctx))
	assert.NoError(t, mgr.Registry().Stop(ctx))
	assert.Equal(t, []string{
		"start first", "start second", "stop second", "stop first",
	}, log.all())

	st, err = mgr.Registry().State(second)
	assert.NoError(t, err)
	assert.Equal(t, changemaster.Stopped, st)
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	mgr, _ := newManager(t, changemaster.DefaultConfig())
	src := newFakeSource(&callLog{}, "src")

	_, err := mgr.AddSource(src)
	require.NoError(t, err)

	_, err = mgr.AddSource(src)
	var re *changemaster.RegistrationError
	assert.True(t, errors.As(err, &re))
	assert.Len(t, mgr.Registry().Sources(), 1)
}

func TestRegistryRejectsUnusableSources(t *testing.T) {
	mgr, _ := newManager(t, changemaster.DefaultConfig())
	var re *changemaster.RegistrationError

	_, err := mgr.AddSource(nil)
	assert.True(t, errors.As(err, &re))

	_, err = mgr.AddSource(sliceSource{"a"})
	assert.True(t, errors.As(err, &re))
	assert.Contains(t, err.Error(), "not comparable")
	assert.Empty(t, mgr.Registry().Sources())
}

func TestRegistryRemoveUnknown(t *testing.T) {
	mgr, _ := newManager(t, changemaster.DefaultConfig())
	src := newFakeSource(&callLog{}, "src")

	_, err := mgr.RemoveSource(context.Background(), src)
	var nre *changemaster.NotRegisteredError
	assert.True(t, errors.As(err, &nre))

	_, err = mgr.Registry().State(src)
	assert.True(t, errors.As(err, &nre))
}

func TestRegistryRemoveStopsSource(t *testing.T) {
	mgr, _ := newManager(t, changemaster.DefaultConfig())
	log := &callLog{}
	src := newFakeSource(log, "src")

	ctx := context.Background()
	_, err := mgr.AddSource(src)
	require.NoError(t, err)
	require.NoError(t, mgr.Start(ctx))

	f, err := mgr.RemoveSource(ctx, src)
	require.NoError(t, err)
	assert.NoError(t, f.Wait(ctx))
	assert.Empty(t, mgr.Registry().Sources())
	assert.Equal(t, []string{"start src", "stop src"}, log.all())

	_, err = src.emit(ctx, rawChange("a", "r1"))
	assert.Error(t, err)
}

func TestRegistryAddWhileRunning(t *testing.T) {
	mgr, _ := newManager(t, changemaster.DefaultConfig())
	ctx := context.Background()
	require.NoError(t, mgr.Start(ctx))

	log := &callLog{}
	src := newFakeSource(log, "late")
	f, err := mgr.AddSource(src)
	require.NoError(t, err)

	select {
	case <-f.Done():
	case <-time.After(time.Second):
		t.Fatal("source never started")
	}
	assert.NoError(t, f.Err())

	st, err := mgr.Registry().State(src)
	assert.NoError(t, err)
	assert.Equal(t, changemaster.Running, st)

	failing := newFakeSource(log, "failing")
	failing.startErr = errors.New("no credentials")
	f, err = mgr.AddSource(failing)
	require.NoError(t, err)
	assert.ErrorIs(t, f.Wait(ctx), failing.startErr)
}

func TestRegistryStartFailures(t *testing.T) {
	mgr, _ := newManager(t, changemaster.DefaultConfig())
	log := &callLog{}
	bad := newFakeSource(log, "bad")
	bad.startErr = errors.New("port in use")
	good := newFakeSource(log, "good")
	worse := newFakeSource(log, "worse")
	worse.startErr = errors.New("missing token")

	for _, src := range []*fakeSource{bad, good, worse} {
		_, err := mgr.AddSource(src)
		require.NoError(t, err)
	}

	err := mgr.Start(context.Background())
	var le *changemaster.LifecycleError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, "start", le.Op)
	assert.Len(t, le.Errors(), 2)
	assert.ErrorIs(t, err, bad.startErr)
	assert.ErrorIs(t, err, worse.startErr)

	st, _ := mgr.Registry().State(good)
	assert.Equal(t, changemaster.Running, st)
	st, _ = mgr.Registry().State(bad)
	assert.Equal(t, changemaster.Stopped, st)
}

func TestRegistryStopFailures(t *testing.T) {
	store := memory.NewStore()
	defer func() { _ = store.Close() }()
	mgr, err := changemaster.New(store, changemaster.DefaultConfig())
	require.NoError(t, err)

	log := &callLog{}
	first := newFakeSource(log, "first")
	first.stopErr = errors.New("hung connection")
	second := newFakeSource(log, "second")

	for _, src := range []*fakeSource{first, second} {
		_, err := mgr.AddSource(src)
		require.NoError(t, err)
	}
	require.NoError(t, mgr.Start(context.Background()))

	err = mgr.Close()
	var le *changemaster.LifecycleError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, "stop", le.Op)
	assert.ErrorIs(t, err, first.stopErr)
	assert.Equal(t, []string{
		"start first", "start second", "stop second", "stop first",
	}, log.all())

	_, err = mgr.AddSource(newFakeSource(log, "late"))
	assert.ErrorIs(t, err, changemaster.ErrClosed)
}

func TestSourceStateString(t *testing.T) {
	assert.Equal(t, "stopped", changemaster.Stopped.String())
	assert.Equal(t, "starting", changemaster.Starting.String())
	assert.Equal(t, "running", changemaster.Running.String())
	assert.Equal(t, "stopping", changemaster.Stopping.String())
	assert.Equal(t, "SourceState(9)", changemaster.SourceState(9).String())
}

func (s *fakeSource) started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sink != nil
}

func TestRegistryRemoveRightAfterAdd(t *testing.T) {
	mgr, _ := newManager(t, changemaster.DefaultConfig())
	ctx := context.Background()
	require.NoError(t, mgr.Start(ctx))

	for range 200 {
		src := newFakeSource(&callLog{}, "churn")
		added, err := mgr.AddSource(src)
		require.NoError(t, err)
		removed, err := mgr.RemoveSource(ctx, src)
		require.NoError(t, err)

		assert.NoError(t, added.Wait(ctx))
		assert.NoError(t, removed.Wait(ctx))
		assert.False(t, src.started())
	}
	assert.Empty(t, mgr.Registry().Sources())
}

func TestRegistryStopRightAfterAdd(t *testing.T) {
	ctx := context.Background()

	for range 50 {
		store := memory.NewStore()
		mgr, err := changemaster.New(store, changemaster.DefaultConfig())
		require.NoError(t, err)
		require.NoError(t, mgr.Start(ctx))

		src := newFakeSource(&callLog{}, "late")
		added, err := mgr.AddSource(src)
		require.NoError(t, err)

		assert.NoError(t, mgr.Close())
		assert.NoError(t, added.Wait(ctx))
		assert.False(t, src.started())
		_ = store.Close()
	}
}
