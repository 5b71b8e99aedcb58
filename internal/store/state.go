package store

import "github.com/prasenjit/go-apibot/internal/models"

// Operation names one of the remote operations tracked by the store
type Operation string

const (
	OpList   Operation = "list"
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
	OpTest   Operation = "test"
)

// Local actions recorded in the event stream
const (
	actionClearTestResult = "clearTestResult"
	actionDismissError    = "dismissError"
	actionErrorExpired    = "errorExpired"
)

// Operations returns the remote operations in display order
func Operations() []Operation {
	return []Operation{OpList, OpCreate, OpUpdate, OpDelete, OpTest}
}

// Status is the lifecycle position of one operation kind
type Status string

const (
	StatusIdle      Status = "idle"
	StatusPending   Status = "pending"
	StatusFulfilled Status = "fulfilled"
	StatusRejected  Status = "rejected"
)

// State is an immutable snapshot of the store
type State struct {
	Configs        []models.BotConfig   `json:"configs"`
	SelectedDevice *int64               `json:"selectedDevice,omitempty"`
	Status         map[Operation]Status `json:"status"`
	Error          string               `json:"error,omitempty"`
	TestResult     *models.TestResult   `json:"testResult,omitempty"`
}

// Loading reports whether op is in flight
func (s State) Loading(op Operation) bool {
	return s.Status[op] == StatusPending
}

// Find returns a copy of the cached configuration with the given id
func (s State) Find(id int64) (*models.BotConfig, bool) {
	for i := range s.Configs {
		if s.Configs[i].ID == id {
			cfg := s.Configs[i].Clone()
			return &cfg, true
		}
	}
	return nil, false
}

// reduce helpers operate on the cached collection and keep ids unique

func replaceAll(configs []models.BotConfig) []models.BotConfig {
	out := make([]models.BotConfig, 0, len(configs))
	seen := make(map[int64]bool, len(configs))
	for _, cfg := range configs {
		if seen[cfg.ID] {
			continue
		}
		seen[cfg.ID] = true
		out = append(out, cfg)
	}
	return out
}

func prepend(configs []models.BotConfig, cfg models.BotConfig) []models.BotConfig {
	out := make([]models.BotConfig, 0, len(configs)+1)
	out = append(out, cfg)
	for _, c := range configs {
		if c.ID != cfg.ID {
			out = append(out, c)
		}
	}
	return out
}

func replaceByID(configs []models.BotConfig, cfg models.BotConfig) ([]models.BotConfig, bool) {
	for i := range configs {
		if configs[i].ID == cfg.ID {
			out := make([]models.BotConfig, len(configs))
			copy(out, configs)
			out[i] = cfg
			return out, true
		}
	}
	return configs, false
}

func removeByID(configs []models.BotConfig, id int64) ([]models.BotConfig, bool) {
	for i := range configs {
		if configs[i].ID == id {
			out := make([]models.BotConfig, 0, len(configs)-1)
			out = append(out, configs[:i]...)
			out = append(out, configs[i+1:]...)
			return out, true
		}
	}
	return configs, false
}
