// Package history implements the operation log and cursor behind undo/redo.
// The manager owns all log mutation: truncation of the redo branch, merge of
// rapid compatible edits, capacity trimming and cursor movement all happen
// inside its single critical section.
package history

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/montagekit/montage/internal/log"
	"github.com/montagekit/montage/internal/model"
	"github.com/montagekit/montage/internal/operation"
)

const (
	defaultCapacity    = 100
	defaultMergeWindow = 1 * time.Second
)

// EventName identifies a history state transition.
type EventName string

const (
	EventExecuted      EventName = "executed"
	EventUndone        EventName = "undone"
	EventRedone        EventName = "redone"
	EventExecuteFailed EventName = "execute.failed"
	EventUndoFailed    EventName = "undo.failed"
	EventRedoFailed    EventName = "redo.failed"
	EventCleared       EventName = "cleared"
)

// Event is delivered synchronously to listeners after every state-changing
// call. Cursor and Length are the post-call values, so listeners never need
// to call back into the manager (they must not, they run inside its critical
// section).
type Event struct {
	Name      EventName
	Operation operation.Operation // Nil on cleared events.
	Result    *operation.Result
	Err       error
	StartedAt time.Time
	Duration  time.Duration
	Merged    bool
	Cursor    int
	Length    int
}

// Listener observes history events. Panics are recovered and logged, never
// propagated into the log's post-state.
type Listener func(Event)

type entry struct {
	op         operation.Operation
	executedAt time.Time
}

// ManagerConfig is the configuration for the history manager.
type ManagerConfig struct {
	// Capacity bounds the log length; oldest entries are dropped first.
	Capacity int
	// MergeWindow is the time span within which two compatible operations
	// fold into one entry. Zero disables merging.
	MergeWindow time.Duration
	Logger      log.Logger
}

func (c *ManagerConfig) defaults() error {
	if c.Capacity < 0 {
		return fmt.Errorf("capacity must not be negative")
	}
	if c.Capacity == 0 {
		c.Capacity = defaultCapacity
	}
	if c.MergeWindow < 0 {
		return fmt.Errorf("merge window must not be negative")
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "history.Manager"})
	return nil
}

// NewManagerConfig returns a config with the default merge window set.
// Use a ManagerConfig literal when a custom window (or none) is wanted.
func NewManagerConfig() ManagerConfig {
	return ManagerConfig{MergeWindow: defaultMergeWindow}
}

// Manager is the history log + cursor owner. Safe for concurrent use: at
// most one operation owns the log-mutation critical section at a time.
type Manager struct {
	entries      []entry
	cursor       int
	capacity     int
	mergeWindow  time.Duration
	listeners    map[int]Listener
	nextListener int
	mu           sync.Mutex
	logger       log.Logger
}

// NewManager creates a new history manager.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Manager{
		cursor:      -1,
		capacity:    cfg.Capacity,
		mergeWindow: cfg.MergeWindow,
		listeners:   map[int]Listener{},
		logger:      cfg.Logger,
	}, nil
}

// Execute validates and runs an operation, committing it to the log.
//
// A failed validation or execution never mutates the log. On success the
// stale redo branch is dropped, then the operation either merges into the
// entry at the cursor (same merge key, within the merge window) or is
// appended with the cursor advancing.
func (m *Manager) Execute(ctx context.Context, op operation.Operation) (*operation.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := op.Validate(ctx); err != nil {
		err = fmt.Errorf("operation validation failed: %w", err)
		m.notify(Event{Name: EventExecuteFailed, Operation: op, Err: err, Cursor: m.cursor, Length: len(m.entries)})
		return nil, err
	}

	start := time.Now()
	res, err := op.Execute(ctx)
	duration := time.Since(start)
	if err != nil {
		err = fmt.Errorf("operation execution failed: %w", err)
		m.notify(Event{Name: EventExecuteFailed, Operation: op, Result: res, Err: err, StartedAt: start, Duration: duration, Cursor: m.cursor, Length: len(m.entries)})
		return res, err
	}

	// Drop the stale redo branch.
	m.entries = m.entries[:m.cursor+1]

	merged := m.tryMerge(op, start)
	if !merged {
		m.entries = append(m.entries, entry{op: op, executedAt: start})
		m.cursor++

		// Enforce capacity, oldest first. Shift in place so evicted
		// operations don't linger in the backing array.
		for len(m.entries) > m.capacity {
			n := copy(m.entries, m.entries[1:])
			m.entries[n] = entry{}
			m.entries = m.entries[:n]
			m.cursor--
		}
	}

	m.notify(Event{
		Name: EventExecuted, Operation: op, Result: res,
		StartedAt: start, Duration: duration, Merged: merged,
		Cursor: m.cursor, Length: len(m.entries),
	})
	m.logger.Debugf("Executed %s (%s), cursor=%d len=%d merged=%t", op.Type(), op.ID(), m.cursor, len(m.entries), merged)

	return res, nil
}

// tryMerge folds op into the entry at the cursor when allowed. Must be
// called with the lock held, after truncation.
func (m *Manager) tryMerge(op operation.Operation, now time.Time) bool {
	if m.mergeWindow <= 0 || m.cursor < 0 {
		return false
	}

	top := &m.entries[m.cursor]
	mergeable, ok := top.op.(operation.Mergeable)
	if !ok || now.Sub(top.executedAt) > m.mergeWindow || !mergeable.CanMerge(op) {
		return false
	}

	if err := mergeable.Merge(op); err != nil {
		m.logger.Warningf("Could not merge %s into %s: %s", op.ID(), top.op.ID(), err)
		return false
	}
	top.executedAt = now

	return true
}

// ExecuteBatch wraps the operations in a composite and routes it through
// Execute, so batches participate in merge/undo/redo exactly like atomics.
func (m *Manager) ExecuteBatch(ctx context.Context, ops []operation.Operation, strategy operation.Strategy, description string) (*operation.Result, error) {
	composite, err := operation.NewComposite(description, strategy, ops)
	if err != nil {
		return nil, fmt.Errorf("could not create composite: %w", err)
	}
	return m.Execute(ctx, composite)
}

// Undo reverses the operation at the cursor. The cursor only moves on
// success.
func (m *Manager) Undo(ctx context.Context) (operation.Operation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cursor < 0 {
		err := model.ErrNothingToUndo
		m.notify(Event{Name: EventUndoFailed, Err: err, Cursor: m.cursor, Length: len(m.entries)})
		return nil, err
	}

	op := m.entries[m.cursor].op
	if err := op.Validate(ctx); err != nil {
		err = fmt.Errorf("undo validation failed: %w", err)
		m.notify(Event{Name: EventUndoFailed, Operation: op, Err: err, Cursor: m.cursor, Length: len(m.entries)})
		return nil, err
	}

	start := time.Now()
	err := op.Undo(ctx)
	duration := time.Since(start)
	if err != nil {
		err = fmt.Errorf("undo failed: %w", err)
		m.notify(Event{Name: EventUndoFailed, Operation: op, Err: err, StartedAt: start, Duration: duration, Cursor: m.cursor, Length: len(m.entries)})
		return nil, err
	}

	m.cursor--
	m.notify(Event{Name: EventUndone, Operation: op, StartedAt: start, Duration: duration, Cursor: m.cursor, Length: len(m.entries)})
	m.logger.Debugf("Undone %s (%s), cursor=%d", op.Type(), op.ID(), m.cursor)

	return op, nil
}

// Redo re-executes the operation after the cursor. On failure the cursor
// rolls back to its pre-attempt value.
func (m *Manager) Redo(ctx context.Context) (operation.Operation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cursor >= len(m.entries)-1 {
		err := model.ErrNothingToRedo
		m.notify(Event{Name: EventRedoFailed, Err: err, Cursor: m.cursor, Length: len(m.entries)})
		return nil, err
	}

	prevCursor := m.cursor
	m.cursor++
	op := m.entries[m.cursor].op

	if err := op.Validate(ctx); err != nil {
		m.cursor = prevCursor
		err = fmt.Errorf("redo validation failed: %w", err)
		m.notify(Event{Name: EventRedoFailed, Operation: op, Err: err, Cursor: m.cursor, Length: len(m.entries)})
		return nil, err
	}

	start := time.Now()
	_, err := op.Execute(ctx)
	duration := time.Since(start)
	if err != nil {
		m.cursor = prevCursor
		err = fmt.Errorf("redo failed: %w", err)
		m.notify(Event{Name: EventRedoFailed, Operation: op, Err: err, StartedAt: start, Duration: duration, Cursor: m.cursor, Length: len(m.entries)})
		return nil, err
	}

	m.entries[m.cursor].executedAt = start
	m.notify(Event{Name: EventRedone, Operation: op, StartedAt: start, Duration: duration, Cursor: m.cursor, Length: len(m.entries)})
	m.logger.Debugf("Redone %s (%s), cursor=%d", op.Type(), op.ID(), m.cursor)

	return op, nil
}

// CanUndo reports whether there is an operation to undo.
func (m *Manager) CanUndo() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cursor >= 0
}

// CanRedo reports whether there is an operation to redo.
func (m *Manager) CanRedo() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cursor < len(m.entries)-1
}

// Cursor returns the current cursor position (-1 when at the start).
func (m *Manager) Cursor() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cursor
}

// Len returns the history log length.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Entries returns a snapshot of the logged operations, oldest first.
func (m *Manager) Entries() []operation.Operation {
	m.mu.Lock()
	defer m.mu.Unlock()

	ops := make([]operation.Operation, 0, len(m.entries))
	for _, e := range m.entries {
		ops = append(ops, e.op)
	}
	return ops
}

// Clear drops the whole log and resets the cursor.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = nil
	m.cursor = -1
	m.notify(Event{Name: EventCleared, Cursor: m.cursor, Length: 0})
	m.logger.Debugf("History cleared")
}

// AddListener registers a listener and returns its unsubscribe function.
func (m *Manager) AddListener(l Listener) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextListener
	m.nextListener++
	m.listeners[id] = l

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.listeners, id)
	}
}

// notify delivers an event to every listener. Must be called with the lock
// held; listener panics are contained.
func (m *Manager) notify(ev Event) {
	for _, l := range m.listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Errorf("History listener panicked: %v", r)
				}
			}()
			l(ev)
		}()
	}
}
