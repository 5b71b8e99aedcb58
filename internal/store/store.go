package store

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/prasenjit/go-apibot/internal/client"
	"github.com/prasenjit/go-apibot/internal/models"
)

// DefaultErrorDismiss is how long an operation error stays visible
const DefaultErrorDismiss = 5 * time.Second

// Backend performs the remote operations. *client.Client satisfies it.
type Backend interface {
	ListConfigs(ctx context.Context, deviceID int64) ([]models.BotConfig, error)
	CreateConfig(ctx context.Context, req *models.CreateBotRequest) (*models.BotConfig, error)
	UpdateConfig(ctx context.Context, id int64, req *models.UpdateBotRequest) (*models.BotConfig, error)
	DeleteConfig(ctx context.Context, id int64) error
	TestConfig(ctx context.Context, id int64, message string) (*models.TestResult, error)
}

// Recorder receives per-operation measurements
type Recorder interface {
	RecordOperation(operation string, duration time.Duration, configID int64, err error)
	RecordTestRun(success bool)
}

// Publisher receives every reduction as an event
type Publisher interface {
	Publish(event *models.StoreEvent)
}

// Options configures a Store
type Options struct {
	// ErrorDismiss is the auto-dismiss delay; zero means DefaultErrorDismiss,
	// negative disables auto-dismiss.
	ErrorDismiss time.Duration
	// DiscardStale drops settlements of superseded invocations of the same operation.
	DiscardStale bool
	Stats        Recorder
	Events       Publisher
}

// Store is the client-side state container for bot configurations.
// Every reduction happens under one mutex.
type Store struct {
	backend Backend
	tokens  client.TokenSource
	opts    Options

	mu             sync.Mutex
	configs        []models.BotConfig
	selectedDevice *int64
	status         map[Operation]Status
	generation     map[Operation]uint64
	testResult     *models.TestResult

	errMsg    string
	errSeq    uint64
	errTimer  *time.Timer
	afterFunc func(time.Duration, func()) *time.Timer
}

// New creates a store backed by backend. tokens supplies the session token.
func New(backend Backend, tokens client.TokenSource, opts Options) *Store {
	if opts.ErrorDismiss == 0 {
		opts.ErrorDismiss = DefaultErrorDismiss
	}

	status := make(map[Operation]Status, 5)
	for _, op := range Operations() {
		status[op] = StatusIdle
	}

	return &Store{
		backend:    backend,
		tokens:     tokens,
		opts:       opts,
		configs:    make([]models.BotConfig, 0),
		status:     status,
		generation: make(map[Operation]uint64, 5),
		afterFunc:  time.AfterFunc,
	}
}

// Snapshot returns a copy of the current state
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	configs := make([]models.BotConfig, len(s.configs))
	for i := range s.configs {
		configs[i] = s.configs[i].Clone()
	}

	status := make(map[Operation]Status, len(s.status))
	for k, v := range s.status {
		status[k] = v
	}

	state := State{
		Configs: configs,
		Status:  status,
		Error:   s.errMsg,
	}
	if s.selectedDevice != nil {
		d := *s.selectedDevice
		state.SelectedDevice = &d
	}
	if s.testResult != nil {
		r := s.testResult.Clone()
		state.TestResult = &r
	}
	return state
}

// List fetches the configurations of deviceID and replaces the cached collection
func (s *Store) List(ctx context.Context, deviceID int64) ([]models.BotConfig, error) {
	var configs []models.BotConfig
	err := s.run(ctx, OpList, 0, deviceID, func(ctx context.Context) (err error) {
		configs, err = s.backend.ListConfigs(ctx, deviceID)
		return err
	}, func() {
		s.configs = replaceAll(configs)
		d := deviceID
		s.selectedDevice = &d
	})
	return configs, err
}

// Create creates a configuration and inserts it at the front of the collection
func (s *Store) Create(ctx context.Context, req *models.CreateBotRequest) (*models.BotConfig, error) {
	var cfg *models.BotConfig
	err := s.run(ctx, OpCreate, 0, req.DeviceID, func(ctx context.Context) (err error) {
		cfg, err = s.backend.CreateConfig(ctx, req)
		return err
	}, func() {
		if cfg != nil {
			s.configs = prepend(s.configs, *cfg)
		}
	})
	return cfg, err
}

// Update applies a partial update and replaces the matching cached entry.
// A result with no cached match is dropped.
func (s *Store) Update(ctx context.Context, id int64, req *models.UpdateBotRequest) (*models.BotConfig, error) {
	var cfg *models.BotConfig
	err := s.run(ctx, OpUpdate, id, 0, func(ctx context.Context) (err error) {
		cfg, err = s.backend.UpdateConfig(ctx, id, req)
		return err
	}, func() {
		if cfg == nil {
			return
		}
		updated := *cfg
		if updated.ID == 0 {
			updated.ID = id
		}
		s.configs, _ = replaceByID(s.configs, updated)
	})
	return cfg, err
}

// Delete deletes a configuration and removes it from the collection
func (s *Store) Delete(ctx context.Context, id int64) error {
	return s.run(ctx, OpDelete, id, 0, func(ctx context.Context) error {
		return s.backend.DeleteConfig(ctx, id)
	}, func() {
		s.configs, _ = removeByID(s.configs, id)
	})
}

// Test runs a configuration against message and stores the result as the
// current test result. The collection is not touched.
func (s *Store) Test(ctx context.Context, id int64, message string) (*models.TestResult, error) {
	var result *models.TestResult
	applied := false
	err := s.run(ctx, OpTest, id, 0, func(ctx context.Context) (err error) {
		result, err = s.backend.TestConfig(ctx, id, message)
		return err
	}, func() {
		if result != nil {
			r := result.Clone()
			s.testResult = &r
			applied = true
		}
	})
	// stale settlements never reach the state, so they are not counted either
	if applied && s.opts.Stats != nil {
		s.opts.Stats.RecordTestRun(result.Success)
	}
	return result, err
}

// ClearTestResult drops the current test result
func (s *Store) ClearTestResult() {
	s.mu.Lock()
	s.testResult = nil
	event := s.eventLocked(actionClearTestResult, "", 0, 0, 0)
	s.mu.Unlock()

	s.publish(event)
}

// DismissError clears the shared error slot
func (s *Store) DismissError() {
	s.mu.Lock()
	s.clearErrorLocked()
	event := s.eventLocked(actionDismissError, "", 0, 0, 0)
	s.mu.Unlock()

	s.publish(event)
}

// Close stops the pending auto-dismiss timer
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.errTimer != nil {
		s.errTimer.Stop()
		s.errTimer = nil
	}
}

// run drives one invocation through pending and settlement. call performs
// the remote work outside the lock; apply folds a success into state and
// runs under the lock.
func (s *Store) run(ctx context.Context, op Operation, configID, deviceID int64, call func(context.Context) error, apply func()) error {
	gen := s.begin(op, configID, deviceID)

	start := time.Now()
	var err error
	if s.tokens == nil || s.tokens.Token() == "" {
		err = client.ErrMissingToken
	} else {
		// settlement must still land if the caller goes away
		err = call(context.WithoutCancel(ctx))
	}
	latency := time.Since(start)

	s.settle(op, configID, deviceID, gen, err, apply)

	if s.opts.Stats != nil {
		s.opts.Stats.RecordOperation(string(op), latency, configID, err)
	}

	logEvent := log.Debug()
	if err != nil {
		logEvent = log.Warn().Err(err)
	}
	logEvent.Str("op", string(op)).
		Int64("config_id", configID).
		Dur("latency", latency).
		Msg("store operation settled")

	return err
}

func (s *Store) begin(op Operation, configID, deviceID int64) uint64 {
	s.mu.Lock()
	s.generation[op]++
	gen := s.generation[op]
	s.status[op] = StatusPending
	s.clearErrorLocked()
	event := s.eventLocked(string(op), models.PhasePending, configID, deviceID, gen)
	s.mu.Unlock()

	s.publish(event)
	return gen
}

func (s *Store) settle(op Operation, configID, deviceID int64, gen uint64, err error, apply func()) {
	s.mu.Lock()

	phase := models.PhaseFulfilled
	if err != nil {
		phase = models.PhaseRejected
	}

	if s.opts.DiscardStale && gen != s.generation[op] {
		event := s.eventLocked(string(op), phase, configID, deviceID, gen)
		if event != nil {
			event.Stale = true
		}
		s.mu.Unlock()
		s.publish(event)
		return
	}

	if err != nil {
		s.status[op] = StatusRejected
		s.setErrorLocked(client.Message(err))
	} else {
		s.status[op] = StatusFulfilled
		apply()
	}

	event := s.eventLocked(string(op), phase, configID, deviceID, gen)
	if event != nil && err != nil {
		event.Error = client.Message(err)
	}
	s.mu.Unlock()

	s.publish(event)
}

func (s *Store) setErrorLocked(msg string) {
	s.errSeq++
	seq := s.errSeq
	s.errMsg = msg

	if s.errTimer != nil {
		s.errTimer.Stop()
		s.errTimer = nil
	}
	if s.opts.ErrorDismiss < 0 {
		return
	}

	s.errTimer = s.afterFunc(s.opts.ErrorDismiss, func() {
		s.mu.Lock()
		if s.errSeq != seq {
			// a newer error owns the slot
			s.mu.Unlock()
			return
		}
		s.errMsg = ""
		s.errTimer = nil
		event := s.eventLocked(actionErrorExpired, "", 0, 0, 0)
		s.mu.Unlock()

		s.publish(event)
	})
}

func (s *Store) clearErrorLocked() {
	s.errSeq++
	s.errMsg = ""
	if s.errTimer != nil {
		s.errTimer.Stop()
		s.errTimer = nil
	}
}

func (s *Store) eventLocked(operation, phase string, configID, deviceID int64, gen uint64) *models.StoreEvent {
	if s.opts.Events == nil {
		return nil
	}
	return &models.StoreEvent{
		Timestamp:  time.Now(),
		Operation:  operation,
		Phase:      phase,
		ConfigID:   configID,
		DeviceID:   deviceID,
		Generation: gen,
		Error:      s.errMsg,
		Configs:    len(s.configs),
	}
}

func (s *Store) publish(event *models.StoreEvent) {
	if event == nil || s.opts.Events == nil {
		return
	}
	s.opts.Events.Publish(event)
}
