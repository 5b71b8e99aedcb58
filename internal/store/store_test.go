package store

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prasenjit/go-apibot/internal/client"
	"github.com/prasenjit/go-apibot/internal/events"
	"github.com/prasenjit/go-apibot/internal/models"
	"github.com/prasenjit/go-apibot/internal/stats"
)

type fakeBackend struct {
	calls  atomic.Int32
	list   func(ctx context.Context, deviceID int64) ([]models.BotConfig, error)
	create func(ctx context.Context, req *models.CreateBotRequest) (*models.BotConfig, error)
	update func(ctx context.Context, id int64, req *models.UpdateBotRequest) (*models.BotConfig, error)
	delete func(ctx context.Context, id int64) error
	test   func(ctx context.Context, id int64, message string) (*models.TestResult, error)
}

func (f *fakeBackend) ListConfigs(ctx context.Context, deviceID int64) ([]models.BotConfig, error) {
	f.calls.Add(1)
	return f.list(ctx, deviceID)
}

func (f *fakeBackend) CreateConfig(ctx context.Context, req *models.CreateBotRequest) (*models.BotConfig, error) {
	f.calls.Add(1)
	return f.create(ctx, req)
}

func (f *fakeBackend) UpdateConfig(ctx context.Context, id int64, req *models.UpdateBotRequest) (*models.BotConfig, error) {
	f.calls.Add(1)
	return f.update(ctx, id, req)
}

func (f *fakeBackend) DeleteConfig(ctx context.Context, id int64) error {
	f.calls.Add(1)
	return f.delete(ctx, id)
}

func (f *fakeBackend) TestConfig(ctx context.Context, id int64, message string) (*models.TestResult, error) {
	f.calls.Add(1)
	return f.test(ctx, id, message)
}

func configs(ids ...int64) []models.BotConfig {
	out := make([]models.BotConfig, 0, len(ids))
	for _, id := range ids {
		out = append(out, models.BotConfig{ID: id, Name: "bot"})
	}
	return out
}

func ids(state State) []int64 {
	out := make([]int64, 0, len(state.Configs))
	for _, c := range state.Configs {
		out = append(out, c.ID)
	}
	return out
}

// seeded returns a store whose collection holds the given ids for device 1
func seeded(t *testing.T, backend *fakeBackend, opts Options, initial ...int64) *Store {
	t.Helper()
	backend.list = func(ctx context.Context, deviceID int64) ([]models.BotConfig, error) {
		return configs(initial...), nil
	}
	s := New(backend, client.StaticToken("tok"), opts)
	t.Cleanup(s.Close)
	_, err := s.List(context.Background(), 1)
	require.NoError(t, err)
	return s
}

func TestNew_InitialState(t *testing.T) {
	s := New(&fakeBackend{}, client.StaticToken("tok"), Options{})
	defer s.Close()

	state := s.Snapshot()
	assert.Empty(t, state.Configs)
	assert.Nil(t, state.SelectedDevice)
	assert.Empty(t, state.Error)
	for _, op := range Operations() {
		assert.Equal(t, StatusIdle, state.Status[op])
	}
}

func TestList_Replaces(t *testing.T) {
	backend := &fakeBackend{}
	s := seeded(t, backend, Options{}, 1, 2, 3)
	assert.Equal(t, []int64{1, 2, 3}, ids(s.Snapshot()))

	backend.list = func(ctx context.Context, deviceID int64) ([]models.BotConfig, error) {
		assert.Equal(t, int64(9), deviceID)
		return configs(7, 3), nil
	}
	_, err := s.List(context.Background(), 9)
	require.NoError(t, err)

	state := s.Snapshot()
	assert.Equal(t, []int64{7, 3}, ids(state))
	require.NotNil(t, state.SelectedDevice)
	assert.Equal(t, int64(9), *state.SelectedDevice)
	assert.Equal(t, StatusFulfilled, state.Status[OpList])
}

func TestList_DeduplicatesIDs(t *testing.T) {
	s := seeded(t, &fakeBackend{}, Options{}, 1, 2, 1)
	assert.Equal(t, []int64{1, 2}, ids(s.Snapshot()))
}

func TestCreate_InsertsAtFront(t *testing.T) {
	backend := &fakeBackend{}
	s := seeded(t, backend, Options{}, 1, 2)

	backend.create = func(ctx context.Context, req *models.CreateBotRequest) (*models.BotConfig, error) {
		return &models.BotConfig{ID: 10, Name: req.Name, DeviceID: req.DeviceID}, nil
	}
	cfg, err := s.Create(context.Background(), &models.CreateBotRequest{Name: "new", DeviceID: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(10), cfg.ID)

	state := s.Snapshot()
	assert.Equal(t, []int64{10, 1, 2}, ids(state))
	assert.Equal(t, "new", state.Configs[0].Name)
	assert.Equal(t, StatusFulfilled, state.Status[OpCreate])
}

func TestCreate_KeepsIDsUnique(t *testing.T) {
	backend := &fakeBackend{}
	s := seeded(t, backend, Options{}, 1, 2)

	backend.create = func(ctx context.Context, req *models.CreateBotRequest) (*models.BotConfig, error) {
		return &models.BotConfig{ID: 2, Name: "again"}, nil
	}
	_, err := s.Create(context.Background(), &models.CreateBotRequest{})
	require.NoError(t, err)

	assert.Equal(t, []int64{2, 1}, ids(s.Snapshot()))
}

func TestUpdate(t *testing.T) {
	backend := &fakeBackend{}
	s := seeded(t, backend, Options{}, 1, 2, 3)
	backend.update = func(ctx context.Context, id int64, req *models.UpdateBotRequest) (*models.BotConfig, error) {
		return &models.BotConfig{ID: id, Name: *req.Name}, nil
	}

	name := "renamed"
	_, err := s.Update(context.Background(), 2, &models.UpdateBotRequest{Name: &name})
	require.NoError(t, err)

	state := s.Snapshot()
	assert.Equal(t, []int64{1, 2, 3}, ids(state))
	assert.Equal(t, "renamed", state.Configs[1].Name)
}

func TestUpdate_UnknownIDLeavesCollection(t *testing.T) {
	backend := &fakeBackend{}
	s := seeded(t, backend, Options{}, 1, 2)
	before := s.Snapshot().Configs
	backend.update = func(ctx context.Context, id int64, req *models.UpdateBotRequest) (*models.BotConfig, error) {
		return &models.BotConfig{ID: id, Name: "ghost"}, nil
	}

	name := "ghost"
	cfg, err := s.Update(context.Background(), 99, &models.UpdateBotRequest{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, int64(99), cfg.ID)

	state := s.Snapshot()
	assert.Equal(t, before, state.Configs)
	assert.Equal(t, StatusFulfilled, state.Status[OpUpdate])
}

func TestDelete(t *testing.T) {
	backend := &fakeBackend{}
	s := seeded(t, backend, Options{}, 1, 2, 3)
	backend.delete = func(ctx context.Context, id int64) error { return nil }

	require.NoError(t, s.Delete(context.Background(), 2))
	assert.Equal(t, []int64{1, 3}, ids(s.Snapshot()))

	require.NoError(t, s.Delete(context.Background(), 42))
	assert.Equal(t, []int64{1, 3}, ids(s.Snapshot()))
}

func TestTest_StoresResultVerbatim(t *testing.T) {
	backend := &fakeBackend{}
	s := seeded(t, backend, Options{}, 42, 43)
	before := s.Snapshot().Configs

	want := &models.TestResult{Success: true, Response: &models.TestReply{Reply: "hello"}}
	backend.test = func(ctx context.Context, id int64, message string) (*models.TestResult, error) {
		assert.Equal(t, int64(42), id)
		assert.Equal(t, "hi", message)
		return want, nil
	}

	got, err := s.Test(context.Background(), 42, "hi")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	state := s.Snapshot()
	assert.Equal(t, want, state.TestResult)
	assert.Equal(t, before, state.Configs)

	s.ClearTestResult()
	assert.Nil(t, s.Snapshot().TestResult)
}

func TestTest_OverwritesPrevious(t *testing.T) {
	backend := &fakeBackend{}
	s := seeded(t, backend, Options{})
	replies := []string{"first", "second"}
	var n int
	backend.test = func(ctx context.Context, id int64, message string) (*models.TestResult, error) {
		r := replies[n]
		n++
		return &models.TestResult{Success: true, Response: &models.TestReply{Reply: r}}, nil
	}

	_, _ = s.Test(context.Background(), 1, "a")
	_, _ = s.Test(context.Background(), 1, "b")

	assert.Equal(t, "second", s.Snapshot().TestResult.Response.Reply)
}

func TestMissingToken_NoBackendCall(t *testing.T) {
	backend := &fakeBackend{}
	for _, token := range []client.TokenSource{nil, client.StaticToken("")} {
		s := New(backend, token, Options{ErrorDismiss: -1})

		_, err := s.List(context.Background(), 1)
		assert.True(t, errors.Is(err, client.ErrMissingToken))
		err = s.Delete(context.Background(), 1)
		assert.True(t, errors.Is(err, client.ErrMissingToken))
		_, err = s.Test(context.Background(), 1, "hi")
		assert.True(t, errors.Is(err, client.ErrMissingToken))

		state := s.Snapshot()
		assert.Equal(t, StatusRejected, state.Status[OpList])
		assert.Equal(t, StatusRejected, state.Status[OpTest])
		assert.Equal(t, client.ErrMissingToken.Error(), state.Error)
		s.Close()
	}

	assert.Equal(t, int32(0), backend.calls.Load())
}

func TestRemoteError_SharedSlot(t *testing.T) {
	backend := &fakeBackend{}
	s := seeded(t, backend, Options{ErrorDismiss: -1}, 1)
	backend.delete = func(ctx context.Context, id int64) error {
		return &client.APIError{StatusCode: 404, Message: "Config not found"}
	}
	backend.update = func(ctx context.Context, id int64, req *models.UpdateBotRequest) (*models.BotConfig, error) {
		return nil, &client.APIError{StatusCode: 400, Message: "Invalid endpoint"}
	}

	require.Error(t, s.Delete(context.Background(), 1))
	state := s.Snapshot()
	assert.Equal(t, "Config not found", state.Error)
	assert.Equal(t, StatusRejected, state.Status[OpDelete])
	assert.Equal(t, []int64{1}, ids(state), "failed delete keeps the entry")

	_, err := s.Update(context.Background(), 1, &models.UpdateBotRequest{})
	require.Error(t, err)
	assert.Equal(t, "Invalid endpoint", s.Snapshot().Error, "later error overwrites the slot")

	s.DismissError()
	assert.Empty(t, s.Snapshot().Error)
}

func TestPending_ClearsError(t *testing.T) {
	backend := &fakeBackend{}
	s := seeded(t, backend, Options{ErrorDismiss: -1})
	backend.delete = func(ctx context.Context, id int64) error { return errors.New("boom") }

	require.Error(t, s.Delete(context.Background(), 1))
	require.Equal(t, "boom", s.Snapshot().Error)

	release := make(chan struct{})
	entered := make(chan struct{})
	backend.list = func(ctx context.Context, deviceID int64) ([]models.BotConfig, error) {
		close(entered)
		<-release
		return configs(), nil
	}

	done := make(chan struct{})
	go func() {
		_, _ = s.List(context.Background(), 1)
		close(done)
	}()

	<-entered
	state := s.Snapshot()
	assert.Empty(t, state.Error)
	assert.True(t, state.Loading(OpList))

	close(release)
	<-done
	assert.False(t, s.Snapshot().Loading(OpList))
}

func TestErrorAutoDismiss(t *testing.T) {
	backend := &fakeBackend{}
	s := seeded(t, backend, Options{ErrorDismiss: 20 * time.Millisecond})
	backend.delete = func(ctx context.Context, id int64) error { return errors.New("boom") }

	require.Error(t, s.Delete(context.Background(), 1))
	assert.Equal(t, "boom", s.Snapshot().Error)

	require.Eventually(t, func() bool {
		return s.Snapshot().Error == ""
	}, time.Second, 5*time.Millisecond)
}

func TestErrorAutoDismiss_StaleTimerKeepsNewerError(t *testing.T) {
	backend := &fakeBackend{}
	s := seeded(t, backend, Options{ErrorDismiss: time.Minute})

	var mu sync.Mutex
	var timers []func()
	s.afterFunc = func(d time.Duration, f func()) *time.Timer {
		mu.Lock()
		timers = append(timers, f)
		mu.Unlock()
		return time.NewTimer(time.Hour)
	}

	msgs := []string{"first", "second"}
	var n int
	backend.delete = func(ctx context.Context, id int64) error {
		m := msgs[n]
		n++
		return errors.New(m)
	}

	require.Error(t, s.Delete(context.Background(), 1))
	require.Error(t, s.Delete(context.Background(), 1))
	require.Len(t, timers, 2)

	timers[0]()
	assert.Equal(t, "second", s.Snapshot().Error, "stale timer must not clear a newer error")

	timers[1]()
	assert.Empty(t, s.Snapshot().Error)
}

func TestOperationDetachesFromCallerContext(t *testing.T) {
	backend := &fakeBackend{}
	s := seeded(t, backend, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	backend.list = func(ctx context.Context, deviceID int64) ([]models.BotConfig, error) {
		assert.NoError(t, ctx.Err())
		return configs(5), nil
	}

	_, err := s.List(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{5}, ids(s.Snapshot()))
}

// raceLists starts two list calls where the first settles after the second
func raceLists(t *testing.T, s *Store, backend *fakeBackend) {
	t.Helper()

	release := make(chan struct{})
	firstEntered := make(chan struct{})
	var n atomic.Int32
	backend.list = func(ctx context.Context, deviceID int64) ([]models.BotConfig, error) {
		if n.Add(1) == 1 {
			close(firstEntered)
			<-release
			return configs(1), nil
		}
		return configs(2), nil
	}

	done := make(chan struct{})
	go func() {
		_, _ = s.List(context.Background(), 1)
		close(done)
	}()
	<-firstEntered

	_, err := s.List(context.Background(), 2)
	require.NoError(t, err)

	close(release)
	<-done
}

func TestConcurrentSettlement_MostRecentWins(t *testing.T) {
	backend := &fakeBackend{}
	s := seeded(t, backend, Options{})

	raceLists(t, s, backend)

	assert.Equal(t, []int64{1}, ids(s.Snapshot()))
}

func TestConcurrentSettlement_DiscardStale(t *testing.T) {
	backend := &fakeBackend{}
	evs := events.NewService(100)
	s := seeded(t, backend, Options{DiscardStale: true, Events: evs})

	raceLists(t, s, backend)

	assert.Equal(t, []int64{2}, ids(s.Snapshot()))

	stale := 0
	for _, e := range evs.GetEvents(&models.EventFilter{Operation: string(OpList)}) {
		if e.Stale {
			stale++
		}
	}
	assert.Equal(t, 1, stale)
}

func TestEventsAndStats(t *testing.T) {
	backend := &fakeBackend{}
	evs := events.NewService(100)
	collector := stats.NewCollector()
	s := seeded(t, backend, Options{Events: evs, Stats: collector, ErrorDismiss: -1}, 1)

	backend.test = func(ctx context.Context, id int64, message string) (*models.TestResult, error) {
		return &models.TestResult{Success: false, Error: "upstream timeout"}, nil
	}
	backend.delete = func(ctx context.Context, id int64) error {
		return &client.APIError{StatusCode: 500, Message: "internal"}
	}

	_, err := s.Test(context.Background(), 1, "hi")
	require.NoError(t, err)
	require.Error(t, s.Delete(context.Background(), 1))
	s.ClearTestResult()

	pending := evs.GetEvents(&models.EventFilter{Phase: models.PhasePending})
	assert.Len(t, pending, 3) // list, test, delete

	rejected := evs.GetEvents(&models.EventFilter{Phase: models.PhaseRejected})
	require.Len(t, rejected, 1)
	assert.Equal(t, "delete", rejected[0].Operation)
	assert.Equal(t, "internal", rejected[0].Error)
	assert.Equal(t, int64(1), rejected[0].ConfigID)

	assert.Len(t, evs.GetEvents(&models.EventFilter{Operation: actionClearTestResult}), 1)

	global := collector.GetGlobalStats(len(s.Snapshot().Configs))
	assert.Equal(t, int64(3), global.TotalCalls)
	assert.Equal(t, int64(1), global.TotalErrors)
	assert.Equal(t, int64(1), global.TestRuns)
	assert.Equal(t, int64(1), global.TestRunFailures)
}

func TestStateFind(t *testing.T) {
	s := seeded(t, &fakeBackend{}, Options{}, 4, 5)

	cfg, ok := s.Snapshot().Find(5)
	require.True(t, ok)
	assert.Equal(t, int64(5), cfg.ID)

	_, ok = s.Snapshot().Find(6)
	assert.False(t, ok)
}

func TestSnapshot_IsDetachedFromState(t *testing.T) {
	backend := &fakeBackend{}
	backend.list = func(ctx context.Context, deviceID int64) ([]models.BotConfig, error) {
		return []models.BotConfig{{
			ID:          1,
			Headers:     map[string]string{"X-Key": "abc"},
			RequestBody: []byte(`{"q":1}`),
			BasicAuth:   &models.BasicAuth{Username: "bot", Password: "secret"},
		}}, nil
	}
	backend.test = func(ctx context.Context, id int64, message string) (*models.TestResult, error) {
		return &models.TestResult{Success: true, Response: &models.TestReply{Reply: "hello"}}, nil
	}
	s := New(backend, client.StaticToken("tok"), Options{})
	defer s.Close()

	_, err := s.List(context.Background(), 1)
	require.NoError(t, err)
	_, err = s.Test(context.Background(), 1, "hi")
	require.NoError(t, err)

	snap := s.Snapshot()
	snap.Configs[0].Headers["X-Key"] = "mutated"
	snap.Configs[0].Headers["Injected"] = "yes"
	snap.Configs[0].RequestBody[2] = 'x'
	snap.Configs[0].BasicAuth.Password = "leaked"
	snap.TestResult.Response.Reply = "changed"

	found, ok := snap.Find(1)
	require.True(t, ok)
	found.Headers["X-Key"] = "again"

	fresh := s.Snapshot()
	assert.Equal(t, map[string]string{"X-Key": "abc"}, fresh.Configs[0].Headers)
	assert.JSONEq(t, `{"q":1}`, string(fresh.Configs[0].RequestBody))
	assert.Equal(t, "secret", fresh.Configs[0].BasicAuth.Password)
	assert.Equal(t, "hello", fresh.TestResult.Response.Reply)
}

func TestTest_StaleSettlementNotCounted(t *testing.T) {
	backend := &fakeBackend{}
	collector := stats.NewCollector()
	s := seeded(t, backend, Options{DiscardStale: true, Stats: collector}, 1)

	release := make(chan struct{})
	firstEntered := make(chan struct{})
	var n atomic.Int32
	backend.test = func(ctx context.Context, id int64, message string) (*models.TestResult, error) {
		if n.Add(1) == 1 {
			close(firstEntered)
			<-release
			return &models.TestResult{Success: false, Error: "old"}, nil
		}
		return &models.TestResult{Success: true, Response: &models.TestReply{Reply: "new"}}, nil
	}

	done := make(chan struct{})
	go func() {
		_, _ = s.Test(context.Background(), 1, "first")
		close(done)
	}()
	<-firstEntered

	_, err := s.Test(context.Background(), 1, "second")
	require.NoError(t, err)

	close(release)
	<-done

	assert.Equal(t, "new", s.Snapshot().TestResult.Response.Reply)
	global := collector.GetGlobalStats(1)
	assert.Equal(t, int64(1), global.TestRuns)
	assert.Equal(t, int64(0), global.TestRunFailures)
}
