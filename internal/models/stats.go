package models

import (
	"sync/atomic"
	"time"
)

// GlobalStats summarises backend operations issued by the console
type GlobalStats struct {
	TotalCalls      int64           `json:"totalCalls"`
	TotalErrors     int64           `json:"totalErrors"`
	CachedConfigs   int             `json:"cachedConfigs"`
	AvgLatencyMs    float64         `json:"avgLatencyMs"`
	StartTime       time.Time       `json:"startTime"`
	Uptime          string          `json:"uptime"`
	Operations      []OperationStat `json:"operations"`
	RecentErrors    []ErrorStat     `json:"recentErrors"`
	TestRuns        int64           `json:"testRuns"`
	TestRunFailures int64           `json:"testRunFailures"`
}

// OperationStat holds statistics for one operation kind (list, create, ...)
type OperationStat struct {
	Operation    string  `json:"operation"`
	TotalCalls   int64   `json:"totalCalls"`
	TotalErrors  int64   `json:"totalErrors"`
	AvgLatencyMs float64 `json:"avgLatencyMs"`
	MinLatencyMs float64 `json:"minLatencyMs"`
	MaxLatencyMs float64 `json:"maxLatencyMs"`
	LastCallTime string  `json:"lastCallTime,omitempty"`
}

// ErrorStat records a failed operation
type ErrorStat struct {
	Timestamp time.Time `json:"timestamp"`
	Operation string    `json:"operation"`
	ConfigID  int64     `json:"configId,omitempty"`
	Error     string    `json:"error"`
}

// AtomicOperationStat is a thread-safe version of operation statistics
type AtomicOperationStat struct {
	Operation    string
	TotalCalls   atomic.Int64
	TotalErrors  atomic.Int64
	TotalTimeNs  atomic.Int64
	MinTimeNs    atomic.Int64
	MaxTimeNs    atomic.Int64
	LastCallTime atomic.Value // time.Time
}

// ToOperationStat converts to a regular OperationStat
func (a *AtomicOperationStat) ToOperationStat() OperationStat {
	calls := a.TotalCalls.Load()
	totalTimeNs := a.TotalTimeNs.Load()
	var avgMs float64
	if calls > 0 {
		avgMs = float64(totalTimeNs) / float64(calls) / 1e6
	}

	var last string
	if t, ok := a.LastCallTime.Load().(time.Time); ok && !t.IsZero() {
		last = t.Format(time.RFC3339)
	}

	return OperationStat{
		Operation:    a.Operation,
		TotalCalls:   calls,
		TotalErrors:  a.TotalErrors.Load(),
		AvgLatencyMs: avgMs,
		MinLatencyMs: float64(a.MinTimeNs.Load()) / 1e6,
		MaxLatencyMs: float64(a.MaxTimeNs.Load()) / 1e6,
		LastCallTime: last,
	}
}
