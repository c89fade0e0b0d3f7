// Package analyzer computes timing and success metrics from history events.
// It is a pure observer: disabling it never affects engine correctness.
package analyzer

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/montagekit/montage/internal/history"
	"github.com/montagekit/montage/internal/log"
)

const (
	defaultSlowThreshold = 1 * time.Second
	defaultRecentWindow  = 50
	slowestReported      = 5
)

// Record is the analyzer's view of one completed operation.
type Record struct {
	OperationID string
	Type        string
	Description string
	Event       history.EventName
	StartedAt   time.Time
	Duration    time.Duration
	Success     bool
	Error       string
	Slow        bool
}

// TypeStats aggregates per operation type.
type TypeStats struct {
	Type          string
	Count         int
	Succeeded     int
	TotalDuration time.Duration
}

// AverageDuration returns the mean duration for the type.
func (s TypeStats) AverageDuration() time.Duration {
	if s.Count == 0 {
		return 0
	}
	return s.TotalDuration / time.Duration(s.Count)
}

// SuccessRate returns the success ratio for the type in [0, 1].
func (s TypeStats) SuccessRate() float64 {
	if s.Count == 0 {
		return 0
	}
	return float64(s.Succeeded) / float64(s.Count)
}

// Summary is the top-level aggregate.
type Summary struct {
	TotalOperations  int
	Succeeded        int
	Failed           int
	SuccessRate      float64
	AverageDuration  time.Duration
	SlowOperations   int
	ObservationStart time.Time
}

// Report is the queryable analyzer output.
type Report struct {
	GeneratedAt     time.Time
	Summary         Summary
	ByType          []TypeStats // Sorted by frequency, most frequent first.
	RecentFailures  []Record
	SlowestRecent   []Record
	Recommendations []string
}

// Config is the configuration for the analyzer.
type Config struct {
	// SlowThreshold flags operations whose duration exceeds it.
	SlowThreshold time.Duration
	// RecentWindow bounds the rolling record/failure windows.
	RecentWindow int
	Logger       log.Logger
}

func (c *Config) defaults() error {
	if c.SlowThreshold < 0 {
		return fmt.Errorf("slow threshold must not be negative")
	}
	if c.SlowThreshold == 0 {
		c.SlowThreshold = defaultSlowThreshold
	}
	if c.RecentWindow < 0 {
		return fmt.Errorf("recent window must not be negative")
	}
	if c.RecentWindow == 0 {
		c.RecentWindow = defaultRecentWindow
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "analyzer.Analyzer"})
	return nil
}

// Analyzer maintains operation telemetry from history events.
type Analyzer struct {
	total         int
	succeeded     int
	failed        int
	slow          int
	totalDuration time.Duration
	perType       map[string]*TypeStats
	recent        []Record
	failures      []Record
	since         time.Time
	slowThreshold time.Duration
	recentWindow  int
	mu            sync.Mutex
	logger        log.Logger
}

// New creates a new analyzer.
func New(cfg Config) (*Analyzer, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Analyzer{
		perType:       map[string]*TypeStats{},
		since:         time.Now().UTC(),
		slowThreshold: cfg.SlowThreshold,
		recentWindow:  cfg.RecentWindow,
		logger:        cfg.Logger,
	}, nil
}

// Listener returns the history listener feeding this analyzer.
func (a *Analyzer) Listener() history.Listener {
	return func(ev history.Event) {
		a.observe(ev)
	}
}

func (a *Analyzer) observe(ev history.Event) {
	// Events without an operation (empty-history warnings, clears) carry no
	// completed work to measure.
	if ev.Operation == nil {
		return
	}

	var success bool
	switch ev.Name {
	case history.EventExecuted, history.EventRedone, history.EventUndone:
		success = true
	case history.EventExecuteFailed, history.EventRedoFailed, history.EventUndoFailed:
		success = false
	default:
		return
	}

	rec := Record{
		OperationID: ev.Operation.ID(),
		Type:        ev.Operation.Type(),
		Description: ev.Operation.Description(),
		Event:       ev.Name,
		StartedAt:   ev.StartedAt,
		Duration:    ev.Duration,
		Success:     success,
		Slow:        ev.Duration > a.slowThreshold,
	}
	if ev.Err != nil {
		rec.Error = ev.Err.Error()
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.total++
	a.totalDuration += rec.Duration
	if success {
		a.succeeded++
	} else {
		a.failed++
	}
	if rec.Slow {
		a.slow++
		a.logger.Warningf("Slow operation %s (%s) took %s", rec.Type, rec.OperationID, rec.Duration)
	}

	stats, ok := a.perType[rec.Type]
	if !ok {
		stats = &TypeStats{Type: rec.Type}
		a.perType[rec.Type] = stats
	}
	stats.Count++
	stats.TotalDuration += rec.Duration
	if success {
		stats.Succeeded++
	}

	a.recent = appendBounded(a.recent, rec, a.recentWindow)
	if !success {
		a.failures = appendBounded(a.failures, rec, a.recentWindow)
	}
}

func appendBounded(recs []Record, rec Record, limit int) []Record {
	recs = append(recs, rec)
	if len(recs) > limit {
		recs = recs[1:]
	}
	return recs
}

// Report computes the current report.
func (a *Analyzer) Report() Report {
	a.mu.Lock()
	defer a.mu.Unlock()

	summary := Summary{
		TotalOperations:  a.total,
		Succeeded:        a.succeeded,
		Failed:           a.failed,
		SlowOperations:   a.slow,
		ObservationStart: a.since,
	}
	if a.total > 0 {
		summary.SuccessRate = float64(a.succeeded) / float64(a.total)
		summary.AverageDuration = a.totalDuration / time.Duration(a.total)
	}

	byType := make([]TypeStats, 0, len(a.perType))
	for _, stats := range a.perType {
		byType = append(byType, *stats)
	}
	sort.Slice(byType, func(i, j int) bool {
		if byType[i].Count != byType[j].Count {
			return byType[i].Count > byType[j].Count
		}
		return byType[i].Type < byType[j].Type
	})

	slowest := make([]Record, len(a.recent))
	copy(slowest, a.recent)
	sort.Slice(slowest, func(i, j int) bool { return slowest[i].Duration > slowest[j].Duration })
	if len(slowest) > slowestReported {
		slowest = slowest[:slowestReported]
	}

	failures := make([]Record, len(a.failures))
	copy(failures, a.failures)

	return Report{
		GeneratedAt:     time.Now().UTC(),
		Summary:         summary,
		ByType:          byType,
		RecentFailures:  failures,
		SlowestRecent:   slowest,
		Recommendations: a.recommendations(byType),
	}
}

// recommendations derives heuristic advice from the per-type stats. Must be
// called with the lock held.
func (a *Analyzer) recommendations(byType []TypeStats) []string {
	var recs []string
	for _, stats := range byType {
		if avg := stats.AverageDuration(); avg > a.slowThreshold {
			recs = append(recs, fmt.Sprintf("operation type %s averages %s, above the %s slow threshold", stats.Type, avg, a.slowThreshold))
		}
		if stats.Count >= 5 && stats.SuccessRate() < 0.9 {
			recs = append(recs, fmt.Sprintf("operation type %s success rate is %.0f%% over %d runs, investigate recurring failures", stats.Type, stats.SuccessRate()*100, stats.Count))
		}
		if stats.Count > 100 {
			recs = append(recs, fmt.Sprintf("operation type %s was called %d times, consider batching", stats.Type, stats.Count))
		}
	}
	return recs
}

// Reset drops all collected metrics.
func (a *Analyzer) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.total = 0
	a.succeeded = 0
	a.failed = 0
	a.slow = 0
	a.totalDuration = 0
	a.perType = map[string]*TypeStats{}
	a.recent = nil
	a.failures = nil
	a.since = time.Now().UTC()
}
