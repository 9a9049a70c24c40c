package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aescanero/modjob/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(event string) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

type testModule struct {
	*Base
	rec         *recorder
	startErr    error
	shutdownErr error
	starts      atomic.Int32
	startDelay  time.Duration
}

func newTestModule(rec *recorder, name string, deps ...string) *testModule {
	return &testModule{Base: NewBase(name, deps...), rec: rec}
}

func (m *testModule) Startup(ctx context.Context) error {
	m.starts.Add(1)
	if m.startDelay > 0 {
		time.Sleep(m.startDelay)
	}
	m.rec.add("start:" + m.Name())
	return m.startErr
}

func (m *testModule) Shutdown(ctx context.Context) error {
	m.rec.add("stop:" + m.Name())
	return m.shutdownErr
}

type fakeScheduler struct {
	paused     atomic.Bool
	resumed    atomic.Int32
	dispatches atomic.Int32
}

func (s *fakeScheduler) Pause()                          { s.paused.Store(true) }
func (s *fakeScheduler) Resume()                         { s.paused.Store(false); s.resumed.Add(1) }
func (s *fakeScheduler) Dispatch()                       { s.dispatches.Add(1) }
func (s *fakeScheduler) Drain(ctx context.Context) error { return nil }

func newTestManager() *Manager {
	return NewManager(NewValidator(), zap.NewNop())
}

func TestManager_StartupDependencyOrder(t *testing.T) {
	rec := &recorder{}
	mgr := newTestManager()
	sched := &fakeScheduler{}
	mgr.SetScheduler(sched)

	// registered in reverse dependency order on purpose
	api := newTestModule(rec, "api", "events", "storage")
	events := newTestModule(rec, "events", "storage")
	storage := newTestModule(rec, "storage")
	require.NoError(t, mgr.Register(api, events, storage))

	require.NoError(t, mgr.Startup(context.Background()))

	assert.Equal(t, []string{"start:storage", "start:events", "start:api"}, rec.list())
	assert.Equal(t, domain.ModuleStatusStarted, mgr.Status())
	assert.EqualValues(t, 1, storage.starts.Load())
	assert.EqualValues(t, 1, sched.resumed.Load())
	assert.Positive(t, sched.dispatches.Load())
}

func TestManager_StartupRejectsInvalidGraph(t *testing.T) {
	tests := []struct {
		name    string
		modules func(rec *recorder) []Module
		wantErr error
	}{
		{
			name: "self cycle",
			modules: func(rec *recorder) []Module {
				return []Module{newTestModule(rec, "a", "a")}
			},
			wantErr: ErrCyclicDependency,
		},
		{
			name: "three module cycle",
			modules: func(rec *recorder) []Module {
				return []Module{
					newTestModule(rec, "a", "b"),
					newTestModule(rec, "b", "c"),
					newTestModule(rec, "c", "a"),
				}
			},
			wantErr: ErrCyclicDependency,
		},
		{
			name: "missing dependency",
			modules: func(rec *recorder) []Module {
				return []Module{newTestModule(rec, "a", "ghost")}
			},
			wantErr: ErrMissingDependency,
		},
		{
			name:    "no modules",
			modules: func(rec *recorder) []Module { return nil },
			wantErr: ErrConfiguration,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			mgr := newTestManager()
			require.NoError(t, mgr.Register(tt.modules(rec)...))

			err := mgr.Startup(context.Background())
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.ErrorIs(t, err, ErrConfiguration)
			assert.Empty(t, rec.list(), "no module may start when the graph is invalid")
		})
	}
}

func TestManager_RegisterDuplicate(t *testing.T) {
	rec := &recorder{}
	mgr := newTestManager()
	require.NoError(t, mgr.Register(newTestModule(rec, "a")))

	err := mgr.Register(newTestModule(rec, "a"))
	assert.ErrorIs(t, err, ErrDuplicateModule)
}

func TestManager_StartupFailureShutsDownStartedModules(t *testing.T) {
	rec := &recorder{}
	mgr := newTestManager()
	sched := &fakeScheduler{}
	mgr.SetScheduler(sched)

	storage := newTestModule(rec, "storage")
	broken := newTestModule(rec, "broken", "storage")
	broken.startErr = errors.New("connection refused")
	api := newTestModule(rec, "api", "broken")
	require.NoError(t, mgr.Register(storage, broken, api))

	err := mgr.Startup(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")

	events := rec.list()
	assert.Equal(t, []string{"start:storage", "start:broken", "stop:broken", "stop:storage"}, events)
	assert.NotContains(t, events, "start:api")

	assert.Equal(t, domain.ModuleStatusStopped, storage.Status())
	assert.Equal(t, domain.ModuleStatusStopped, broken.Status())
	assert.Equal(t, domain.ModuleStatusUninitialized, api.Status())
	assert.Zero(t, sched.resumed.Load())
	assert.True(t, sched.paused.Load())
}

func TestManager_ShutdownOrder(t *testing.T) {
	rec := &recorder{}
	mgr := newTestManager()

	storage := newTestModule(rec, "storage")
	events := newTestModule(rec, "events", "storage")
	api := newTestModule(rec, "api", "events", "storage")
	metrics := newTestModule(rec, "metrics")
	require.NoError(t, mgr.Register(storage, events, api, metrics))
	require.NoError(t, mgr.Startup(context.Background()))

	order := mgr.ShutdownOrder()
	require.Len(t, order, 4)

	index := make(map[string]int, len(order))
	for i, name := range order {
		index[name] = i
	}
	assert.Less(t, index["api"], index["events"])
	assert.Less(t, index["events"], index["storage"])
	assert.Less(t, index["api"], index["storage"])

	require.NoError(t, mgr.Shutdown(context.Background()))
	for _, info := range mgr.Modules() {
		assert.Equal(t, domain.ModuleStatusStopped, info.Status, info.Name)
	}
	assert.Equal(t, domain.ModuleStatusStopped, mgr.Status())
	assert.Empty(t, mgr.ShutdownOrder())
}

func TestManager_ShutdownContinuesAfterFailure(t *testing.T) {
	rec := &recorder{}
	mgr := newTestManager()

	storage := newTestModule(rec, "storage")
	api := newTestModule(rec, "api", "storage")
	api.shutdownErr = errors.New("listener stuck")
	require.NoError(t, mgr.Register(storage, api))
	require.NoError(t, mgr.Startup(context.Background()))

	err := mgr.Shutdown(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listener stuck")

	assert.Equal(t, []string{"start:storage", "start:api", "stop:api", "stop:storage"}, rec.list())
	assert.Equal(t, domain.ModuleStatusError, api.Status())
	assert.Equal(t, domain.ModuleStatusStopped, storage.Status())
}

func TestManager_ConcurrentStartsCoalesce(t *testing.T) {
	rec := &recorder{}
	mgr := newTestManager()

	shared := newTestModule(rec, "shared")
	shared.startDelay = 20 * time.Millisecond
	require.NoError(t, mgr.Register(shared))

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, mgr.startModule(context.Background(), "shared"))
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, shared.starts.Load())
	assert.Equal(t, domain.ModuleStatusStarted, shared.Status())
}

func TestManager_DisabledModules(t *testing.T) {
	rec := &recorder{}
	mgr := newTestManager()

	optional := newTestModule(rec, "optional")
	standalone := newTestModule(rec, "standalone")
	require.NoError(t, mgr.Register(optional, standalone))
	require.NoError(t, mgr.Disable("optional"))

	require.NoError(t, mgr.Startup(context.Background()))
	assert.Equal(t, []string{"start:standalone"}, rec.list())
	assert.Equal(t, domain.ModuleStatusDisabled, optional.Status())
	assert.Equal(t, domain.ModuleStatusStarted, mgr.Status())

	assert.Error(t, mgr.Disable("standalone"))
	assert.ErrorIs(t, mgr.Disable("ghost"), ErrModuleNotFound)
}

func TestManager_DependencyOnDisabledModuleFails(t *testing.T) {
	rec := &recorder{}
	mgr := newTestManager()

	require.NoError(t, mgr.Register(newTestModule(rec, "storage"), newTestModule(rec, "api", "storage")))
	require.NoError(t, mgr.Disable("storage"))

	err := mgr.Startup(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDependencyUnavailable)
}

func TestManager_SetStatusNotifiesListeners(t *testing.T) {
	rec := &recorder{}
	mgr := newTestManager()
	sched := &fakeScheduler{}
	mgr.SetScheduler(sched)

	mod := newTestModule(rec, "a")
	require.NoError(t, mgr.Register(mod))

	var seen []domain.ModuleStatus
	mgr.OnStatusChange(func(name string, status domain.ModuleStatus) {
		assert.Equal(t, "a", name)
		seen = append(seen, status)
	})

	require.NoError(t, mgr.Startup(context.Background()))
	before := sched.dispatches.Load()

	require.NoError(t, mgr.SetStatus("a", domain.ModuleStatusError))
	assert.False(t, mod.CanRunJobs())
	assert.Equal(t, domain.ModuleStatusError, mgr.Status())

	require.NoError(t, mgr.SetStatus("a", domain.ModuleStatusStarted))
	assert.True(t, mod.CanRunJobs())
	assert.Equal(t, before+2, sched.dispatches.Load())

	assert.Equal(t, []domain.ModuleStatus{
		domain.ModuleStatusStarting,
		domain.ModuleStatusStarted,
		domain.ModuleStatusError,
		domain.ModuleStatusStarted,
	}, seen)

	assert.Error(t, mgr.SetStatus("a", domain.ModuleStatus("BOGUS")))
	assert.ErrorIs(t, mgr.SetStatus("ghost", domain.ModuleStatusStarted), ErrModuleNotFound)
}

func TestManager_ModulesAndTarget(t *testing.T) {
	rec := &recorder{}
	mgr := newTestManager()

	mod := newTestModule(rec, "math", "storage")
	mod.RegisterOperation("add", nil)
	mod.RegisterOperation("sub", nil)
	require.NoError(t, mgr.Register(newTestModule(rec, "storage"), mod))

	infos := mgr.Modules()
	require.Len(t, infos, 2)
	assert.Equal(t, "storage", infos[0].Name)
	assert.Equal(t, domain.ModuleInfo{
		Name:         "math",
		Status:       domain.ModuleStatusUninitialized,
		Dependencies: []string{"storage"},
		Operations:   []string{"add", "sub"},
	}, infos[1])

	target, ok := mgr.Target("math")
	require.True(t, ok)
	assert.Equal(t, "math", target.Name())
	assert.False(t, target.CanRunJobs())

	_, ok = mgr.Target("ghost")
	assert.False(t, ok)
}
