// Package engine is the public entry point of the montage command engine: a
// transactional undo/redo core with composite operations, priority
// scheduling and telemetry over a mutable timeline document.
//
// Create an Engine with [New], call [Engine.Initialize] once, and release it
// with [Engine.Destroy]. An Engine is safe for concurrent use; commits to
// the history log are always serialized.
package engine

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/montagekit/montage/internal/analyzer"
	"github.com/montagekit/montage/internal/editor"
	"github.com/montagekit/montage/internal/factory"
	"github.com/montagekit/montage/internal/history"
	"github.com/montagekit/montage/internal/log"
	"github.com/montagekit/montage/internal/model"
	"github.com/montagekit/montage/internal/operation"
	"github.com/montagekit/montage/internal/reactive"
	"github.com/montagekit/montage/internal/scheduler"
)

// Config configures the engine.
//
// Only Context is required; every other field has a sensible default.
type Config struct {
	// Context is the document facade operations mutate through.
	Context editor.Context

	// Logger receives structured log output. Default: noop (silent).
	Logger log.Logger

	// HistoryCapacity bounds the undo log. Default: 100.
	HistoryCapacity int

	// MergeWindow is the time span within which compatible rapid edits
	// collapse into one undo entry. Default: 1s. Set DisableMerge to turn
	// merging off entirely.
	MergeWindow  time.Duration
	DisableMerge bool

	// MaxConcurrency caps scheduler in-flight operations. Default: 1
	// (fully serial command queue).
	MaxConcurrency int

	// SlowThreshold flags slow operations in the analyzer. Default: 1s.
	SlowThreshold time.Duration

	// RecentWindow bounds the analyzer rolling windows. Default: 50.
	RecentWindow int

	// DisableAnalyzer turns telemetry off. Never affects engine behavior.
	DisableAnalyzer bool
}

func (c *Config) defaults() error {
	if c.Context == nil {
		return fmt.Errorf("editor context is required")
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	if c.MergeWindow == 0 && !c.DisableMerge {
		c.MergeWindow = time.Second
	}
	if c.DisableMerge {
		c.MergeWindow = 0
	}
	return nil
}

// HistoryStatus is the history part of the system status.
type HistoryStatus struct {
	Cursor    int
	Length    int
	CanUndo   bool
	CanRedo   bool
	Executing bool
}

// AnalyzerStatus is the analyzer part of the system status.
type AnalyzerStatus struct {
	Enabled         bool
	TotalOperations int
	Succeeded       int
	Failed          int
}

// SystemStatus is a snapshot of the whole engine.
type SystemStatus struct {
	Initialized bool
	History     HistoryStatus
	Scheduler   scheduler.Stats
	Analyzer    AnalyzerStatus
}

// Engine composes the history manager, reactive wrapper, scheduler, factory
// and analyzer behind one surface.
type Engine struct {
	edit        editor.Context
	factory     *factory.Factory
	hist        *history.Manager
	reactive    *reactive.History
	sched       *scheduler.Scheduler
	analyzer    *analyzer.Analyzer
	detach      []func()
	notifSubs   map[string]func()
	initialized bool
	mu          sync.Mutex
	baseLogger  log.Logger
	logger      log.Logger
}

// New creates a new engine. The engine stays inert until Initialize is
// called: every other method fails with a not-initialized error first.
func New(cfg Config) (*Engine, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	logger := cfg.Logger.WithValues(log.Kv{"svc": "engine.Engine"})

	fac, err := factory.New(factory.Config{Editor: cfg.Context, Logger: cfg.Logger})
	if err != nil {
		return nil, fmt.Errorf("could not create factory: %w", err)
	}

	hist, err := history.NewManager(history.ManagerConfig{
		Capacity:    cfg.HistoryCapacity,
		MergeWindow: cfg.MergeWindow,
		Logger:      cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create history manager: %w", err)
	}

	sched, err := scheduler.New(scheduler.Config{
		History:        hist,
		MaxConcurrency: cfg.MaxConcurrency,
		Logger:         cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create scheduler: %w", err)
	}

	e := &Engine{
		edit:       cfg.Context,
		factory:    fac,
		hist:       hist,
		sched:      sched,
		notifSubs:  map[string]func(){},
		baseLogger: cfg.Logger,
		logger:     logger,
	}

	if !cfg.DisableAnalyzer {
		an, err := analyzer.New(analyzer.Config{
			SlowThreshold: cfg.SlowThreshold,
			RecentWindow:  cfg.RecentWindow,
			Logger:        cfg.Logger,
		})
		if err != nil {
			return nil, fmt.Errorf("could not create analyzer: %w", err)
		}
		e.analyzer = an
	}

	if err := e.attach(); err != nil {
		return nil, err
	}

	return e, nil
}

// attach wires the observable layer onto the history manager: the reactive
// wrapper and, when enabled, the analyzer listener. Destroy tears both down,
// so Initialize on a destroyed engine builds them again.
func (e *Engine) attach() error {
	react, err := reactive.NewHistory(reactive.HistoryConfig{Manager: e.hist, Logger: e.baseLogger})
	if err != nil {
		return fmt.Errorf("could not create reactive history: %w", err)
	}
	e.reactive = react
	e.detach = append(e.detach, func() { _ = react.Close() })

	if e.analyzer != nil {
		e.detach = append(e.detach, e.hist.AddListener(e.analyzer.Listener()))
	}

	return nil
}

// Initialize makes the engine operational. Calling any other method first
// fails with a not-initialized error. On an engine brought down by Destroy
// it also rewires the history observers.
func (e *Engine) Initialize() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.initialized {
		return fmt.Errorf("engine: %w", model.ErrAlreadyExists)
	}
	if e.detach == nil {
		if err := e.attach(); err != nil {
			return fmt.Errorf("could not reattach observers: %w", err)
		}
	}
	e.initialized = true
	e.logger.Infof("Engine initialized")

	return nil
}

func (e *Engine) ensureInitialized() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.initialized {
		return fmt.Errorf("engine: %w", model.ErrNotInitialized)
	}
	return nil
}

// Build constructs an operation from a factory spec.
func (e *Engine) Build(spec factory.Spec) (operation.Operation, error) {
	if err := e.ensureInitialized(); err != nil {
		return nil, err
	}
	return e.factory.Build(spec)
}

// BuildComposite constructs a composite operation from child specs.
func (e *Engine) BuildComposite(description string, strategy operation.Strategy, specs []factory.Spec) (operation.Operation, error) {
	if err := e.ensureInitialized(); err != nil {
		return nil, err
	}
	return e.factory.BuildComposite(description, strategy, specs)
}

// RegisterOperation adds a host-defined operation type to the factory.
func (e *Engine) RegisterOperation(opType string, b factory.Builder) error {
	if err := e.ensureInitialized(); err != nil {
		return err
	}
	return e.factory.Register(opType, b)
}

// Execute runs an operation through the history, committing it on success.
func (e *Engine) Execute(ctx context.Context, op operation.Operation) (*operation.Result, error) {
	if err := e.ensureInitialized(); err != nil {
		return nil, err
	}
	return e.reactive.Execute(ctx, op)
}

// ExecuteBatch wraps the operations in a composite with the given strategy
// and commits it as a single history entry.
func (e *Engine) ExecuteBatch(ctx context.Context, ops []operation.Operation, strategy operation.Strategy, description string) (*operation.Result, error) {
	if err := e.ensureInitialized(); err != nil {
		return nil, err
	}
	return e.reactive.ExecuteBatch(ctx, ops, strategy, description)
}

// Schedule queues an operation by priority and returns its deferred handle.
func (e *Engine) Schedule(ctx context.Context, op operation.Operation, priority int) (*scheduler.Handle, error) {
	if err := e.ensureInitialized(); err != nil {
		return nil, err
	}
	return e.sched.Schedule(ctx, op, scheduler.ScheduleOptions{Priority: priority}), nil
}

// ScheduleImmediate bypasses the queue and executes before returning.
func (e *Engine) ScheduleImmediate(ctx context.Context, op operation.Operation) (*scheduler.Handle, error) {
	if err := e.ensureInitialized(); err != nil {
		return nil, err
	}
	return e.sched.Schedule(ctx, op, scheduler.ScheduleOptions{Immediate: true}), nil
}

// ScheduleBatch schedules a sequence of operations, optionally folding
// consecutive mergeable ones first.
func (e *Engine) ScheduleBatch(ctx context.Context, ops []operation.Operation, opts scheduler.BatchOptions) ([]*scheduler.Handle, error) {
	if err := e.ensureInitialized(); err != nil {
		return nil, err
	}
	return e.sched.ScheduleBatch(ctx, ops, opts), nil
}

// SetConcurrency changes the scheduler concurrency cap.
func (e *Engine) SetConcurrency(n int) error {
	if err := e.ensureInitialized(); err != nil {
		return err
	}
	return e.sched.SetConcurrency(n)
}

// Undo reverses the last committed operation.
func (e *Engine) Undo(ctx context.Context) (operation.Operation, error) {
	if err := e.ensureInitialized(); err != nil {
		return nil, err
	}
	return e.reactive.Undo(ctx)
}

// Redo re-applies the last undone operation.
func (e *Engine) Redo(ctx context.Context) (operation.Operation, error) {
	if err := e.ensureInitialized(); err != nil {
		return nil, err
	}
	return e.reactive.Redo(ctx)
}

// Status returns a snapshot of the whole engine.
func (e *Engine) Status() (SystemStatus, error) {
	if err := e.ensureInitialized(); err != nil {
		return SystemStatus{}, err
	}

	state := e.reactive.State()
	status := SystemStatus{
		Initialized: true,
		History: HistoryStatus{
			Cursor:    state.Cursor,
			Length:    state.Length,
			CanUndo:   state.CanUndo,
			CanRedo:   state.CanRedo,
			Executing: state.Executing,
		},
		Scheduler: e.sched.StatsSnapshot(),
	}
	if e.analyzer != nil {
		summary := e.analyzer.Report().Summary
		status.Analyzer = AnalyzerStatus{
			Enabled:         true,
			TotalOperations: summary.TotalOperations,
			Succeeded:       summary.Succeeded,
			Failed:          summary.Failed,
		}
	}

	return status, nil
}

// PerformanceReport returns the full analyzer report.
func (e *Engine) PerformanceReport() (analyzer.Report, error) {
	if err := e.ensureInitialized(); err != nil {
		return analyzer.Report{}, err
	}
	if e.analyzer == nil {
		return analyzer.Report{}, fmt.Errorf("analyzer is disabled: %w", model.ErrNotValid)
	}
	return e.analyzer.Report(), nil
}

// SubscribeState registers an observer of the history state mirror.
func (e *Engine) SubscribeState(fn func(reactive.State)) (func(), error) {
	if err := e.ensureInitialized(); err != nil {
		return nil, err
	}
	return e.reactive.SubscribeState(fn), nil
}

// OnNotification subscribes to user-facing notifications, returning the
// subscription token for OffNotification.
func (e *Engine) OnNotification(fn func(reactive.Notification)) (string, error) {
	if err := e.ensureInitialized(); err != nil {
		return "", err
	}

	unsub := e.reactive.Subscribe(fn)

	token := ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.notifSubs[token] = unsub

	return token, nil
}

// OffNotification removes a notification subscription.
func (e *Engine) OffNotification(token string) error {
	if err := e.ensureInitialized(); err != nil {
		return err
	}

	e.mu.Lock()
	unsub, ok := e.notifSubs[token]
	delete(e.notifSubs, token)
	e.mu.Unlock()

	if !ok {
		return fmt.Errorf("notification subscription %s: %w", token, model.ErrNotFound)
	}
	unsub()

	return nil
}

// ClearHistory drops the undo log and resets the analyzer.
func (e *Engine) ClearHistory() error {
	if err := e.ensureInitialized(); err != nil {
		return err
	}

	e.hist.Clear()
	if e.analyzer != nil {
		e.analyzer.Reset()
	}

	return nil
}

// Destroy clears the scheduler queue and the history, drops subscriptions
// and marks the engine uninitialized. Initialize brings a destroyed engine
// back, rewiring the dropped observers.
func (e *Engine) Destroy() error {
	if err := e.ensureInitialized(); err != nil {
		return err
	}

	e.sched.ClearQueue()
	e.hist.Clear()
	if e.analyzer != nil {
		e.analyzer.Reset()
	}

	e.mu.Lock()
	for _, unsub := range e.notifSubs {
		unsub()
	}
	e.notifSubs = map[string]func(){}
	for _, detach := range e.detach {
		detach()
	}
	e.detach = nil
	e.initialized = false
	e.mu.Unlock()

	e.logger.Infof("Engine destroyed")

	return nil
}
