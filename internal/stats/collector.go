package stats

import (
	"sort"
	"sync"
	"time"

	"github.com/prasenjit/go-apibot/internal/models"
)

// Collector aggregates statistics about backend operations issued by the store
type Collector struct {
	mu              sync.RWMutex
	startTime       time.Time
	operations      map[string]*models.AtomicOperationStat // operation kind -> stats
	recentErrors    []models.ErrorStat
	maxErrors       int
	testRuns        int64
	testRunFailures int64
}

// NewCollector creates a new statistics collector
func NewCollector() *Collector {
	return &Collector{
		startTime:    time.Now(),
		operations:   make(map[string]*models.AtomicOperationStat),
		recentErrors: make([]models.ErrorStat, 0),
		maxErrors:    100,
	}
}

// RecordOperation records one settled operation. A non-nil err counts as a
// failure and is kept in the recent errors list.
func (c *Collector) RecordOperation(operation string, duration time.Duration, configID int64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	opStats, ok := c.operations[operation]
	if !ok {
		opStats = &models.AtomicOperationStat{Operation: operation}
		opStats.MinTimeNs.Store(duration.Nanoseconds())
		c.operations[operation] = opStats
	}

	opStats.TotalCalls.Add(1)
	opStats.TotalTimeNs.Add(duration.Nanoseconds())
	opStats.LastCallTime.Store(time.Now())

	durationNs := duration.Nanoseconds()
	for {
		currentMin := opStats.MinTimeNs.Load()
		if durationNs >= currentMin || opStats.MinTimeNs.CompareAndSwap(currentMin, durationNs) {
			break
		}
	}
	for {
		currentMax := opStats.MaxTimeNs.Load()
		if durationNs <= currentMax || opStats.MaxTimeNs.CompareAndSwap(currentMax, durationNs) {
			break
		}
	}

	if err == nil {
		return
	}

	opStats.TotalErrors.Add(1)
	c.recentErrors = append(c.recentErrors, models.ErrorStat{
		Timestamp: time.Now(),
		Operation: operation,
		ConfigID:  configID,
		Error:     err.Error(),
	})
	if len(c.recentErrors) > c.maxErrors {
		c.recentErrors = c.recentErrors[1:]
	}
}

// RecordTestRun counts a completed test run and whether the bot reported success
func (c *Collector) RecordTestRun(success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.testRuns++
	if !success {
		c.testRunFailures++
	}
}

// GetGlobalStats returns global statistics
func (c *Collector) GetGlobalStats(cachedConfigs int) *models.GlobalStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var totalCalls, totalErrors, totalTimeNs int64

	opStats := make([]models.OperationStat, 0, len(c.operations))
	for _, op := range c.operations {
		stat := op.ToOperationStat()
		opStats = append(opStats, stat)
		totalCalls += stat.TotalCalls
		totalErrors += stat.TotalErrors
		totalTimeNs += op.TotalTimeNs.Load()
	}

	sort.Slice(opStats, func(i, j int) bool {
		if opStats[i].TotalCalls != opStats[j].TotalCalls {
			return opStats[i].TotalCalls > opStats[j].TotalCalls
		}
		return opStats[i].Operation < opStats[j].Operation
	})

	var avgLatencyMs float64
	if totalCalls > 0 {
		avgLatencyMs = float64(totalTimeNs) / float64(totalCalls) / 1e6
	}

	recent := make([]models.ErrorStat, len(c.recentErrors))
	copy(recent, c.recentErrors)

	return &models.GlobalStats{
		TotalCalls:      totalCalls,
		TotalErrors:     totalErrors,
		CachedConfigs:   cachedConfigs,
		AvgLatencyMs:    avgLatencyMs,
		StartTime:       c.startTime,
		Uptime:          formatDuration(time.Since(c.startTime)),
		Operations:      opStats,
		RecentErrors:    recent,
		TestRuns:        c.testRuns,
		TestRunFailures: c.testRunFailures,
	}
}

// GetOperationStats returns statistics for one operation kind
func (c *Collector) GetOperationStats(operation string) *models.OperationStat {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if op, ok := c.operations[operation]; ok {
		stat := op.ToOperationStat()
		return &stat
	}

	return nil
}

// Reset resets all statistics
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.startTime = time.Now()
	c.operations = make(map[string]*models.AtomicOperationStat)
	c.recentErrors = make([]models.ErrorStat, 0)
	c.testRuns = 0
	c.testRunFailures = 0
}

// formatDuration formats a duration in a human-readable format
func formatDuration(d time.Duration) string {
	switch {
	case d >= time.Hour:
		return d.Round(time.Minute).String()
	case d >= time.Minute:
		return d.Round(time.Second).String()
	}
	return d.Round(time.Millisecond).String()
}
