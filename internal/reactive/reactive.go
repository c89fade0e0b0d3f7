// Package reactive mirrors the history manager state as push-updated
// observable values and turns history events into user-facing notifications
// fit for transient UI feedback.
package reactive

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/montagekit/montage/internal/history"
	"github.com/montagekit/montage/internal/log"
	"github.com/montagekit/montage/internal/model"
	"github.com/montagekit/montage/internal/operation"
)

// State is the observable mirror of the history manager.
type State struct {
	CanUndo bool
	CanRedo bool
	Cursor  int
	Length  int
	// Executing is set for the duration of any in-flight call. Advisory for
	// disabling conflicting UI, not a concurrency lock.
	Executing bool
}

// Level classifies a notification for presentation.
type Level string

const (
	LevelSuccess Level = "success"
	LevelFailure Level = "failure"
	LevelWarning Level = "warning"
	LevelInfo    Level = "info"
)

// Notification is a short human-readable outcome of an engine call.
type Notification struct {
	Level         Level
	Message       string
	Event         history.EventName
	OperationID   string
	OperationType string
	At            time.Time
}

// HistoryConfig is the configuration for the reactive history wrapper.
type HistoryConfig struct {
	Manager *history.Manager
	Logger  log.Logger
}

func (c *HistoryConfig) defaults() error {
	if c.Manager == nil {
		return fmt.Errorf("history manager is required")
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "reactive.History"})
	return nil
}

// History wraps a history manager with observable state and notifications.
// Callbacks run synchronously on the mutating goroutine and must not call
// back into the wrapper or the manager.
type History struct {
	manager     *history.Manager
	state       State
	inFlight    int
	stateSubs   map[string]func(State)
	notifSubs   map[string]func(Notification)
	unsubscribe func()
	mu          sync.Mutex
	logger      log.Logger
}

// NewHistory creates the reactive wrapper and attaches it to the manager.
func NewHistory(cfg HistoryConfig) (*History, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	h := &History{
		manager:   cfg.Manager,
		state:     State{Cursor: -1},
		stateSubs: map[string]func(State){},
		notifSubs: map[string]func(Notification){},
		logger:    cfg.Logger,
	}
	h.unsubscribe = cfg.Manager.AddListener(h.onEvent)

	return h, nil
}

// Close detaches the wrapper from the manager.
func (h *History) Close() error {
	if h.unsubscribe != nil {
		h.unsubscribe()
		h.unsubscribe = nil
	}
	return nil
}

// Execute delegates to the manager, tracking the executing flag.
func (h *History) Execute(ctx context.Context, op operation.Operation) (*operation.Result, error) {
	defer h.trackExecuting()()
	return h.manager.Execute(ctx, op)
}

// ExecuteBatch delegates to the manager, tracking the executing flag.
func (h *History) ExecuteBatch(ctx context.Context, ops []operation.Operation, strategy operation.Strategy, description string) (*operation.Result, error) {
	defer h.trackExecuting()()
	return h.manager.ExecuteBatch(ctx, ops, strategy, description)
}

// Undo delegates to the manager, tracking the executing flag.
func (h *History) Undo(ctx context.Context) (operation.Operation, error) {
	defer h.trackExecuting()()
	return h.manager.Undo(ctx)
}

// Redo delegates to the manager, tracking the executing flag.
func (h *History) Redo(ctx context.Context) (operation.Operation, error) {
	defer h.trackExecuting()()
	return h.manager.Redo(ctx)
}

// State returns the current observable state.
func (h *History) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// SubscribeState registers a state observer, called on every state change.
// Returns the unsubscribe function.
func (h *History) SubscribeState(fn func(State)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()

	token := newToken()
	h.stateSubs[token] = fn

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.stateSubs, token)
	}
}

// Subscribe registers a notification observer. Returns the unsubscribe
// function.
func (h *History) Subscribe(fn func(Notification)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()

	token := newToken()
	h.notifSubs[token] = fn

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.notifSubs, token)
	}
}

func (h *History) trackExecuting() func() {
	h.mu.Lock()
	h.inFlight++
	h.state.Executing = true
	h.pushState()
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		h.inFlight--
		h.state.Executing = h.inFlight > 0
		h.pushState()
		h.mu.Unlock()
	}
}

// onEvent runs inside the manager's critical section: it only uses the event
// payload, never the manager itself.
func (h *History) onEvent(ev history.Event) {
	h.mu.Lock()
	h.state.Cursor = ev.Cursor
	h.state.Length = ev.Length
	h.state.CanUndo = ev.Cursor >= 0
	h.state.CanRedo = ev.Cursor < ev.Length-1
	h.pushState()
	h.mu.Unlock()

	h.emit(notificationFor(ev))
}

func (h *History) pushState() {
	// Called with the lock held.
	for _, fn := range h.stateSubs {
		h.safeCallState(fn, h.state)
	}
}

func (h *History) emit(n Notification) {
	h.mu.Lock()
	subs := make([]func(Notification), 0, len(h.notifSubs))
	for _, fn := range h.notifSubs {
		subs = append(subs, fn)
	}
	h.mu.Unlock()

	for _, fn := range subs {
		h.safeCallNotif(fn, n)
	}
}

func (h *History) safeCallState(fn func(State), s State) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Errorf("State subscriber panicked: %v", r)
		}
	}()
	fn(s)
}

func (h *History) safeCallNotif(fn func(Notification), n Notification) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Errorf("Notification subscriber panicked: %v", r)
		}
	}()
	fn(n)
}

func notificationFor(ev history.Event) Notification {
	n := Notification{
		Event: ev.Name,
		At:    time.Now().UTC(),
	}
	if ev.Operation != nil {
		n.OperationID = ev.Operation.ID()
		n.OperationType = ev.Operation.Type()
	}

	switch ev.Name {
	case history.EventExecuted:
		n.Level = LevelSuccess
		n.Message = ev.Operation.Description()
		if ev.Merged {
			n.Message += " (merged)"
		}
	case history.EventUndone:
		n.Level = LevelSuccess
		n.Message = "Undone: " + ev.Operation.Description()
	case history.EventRedone:
		n.Level = LevelSuccess
		n.Message = "Redone: " + ev.Operation.Description()
	case history.EventCleared:
		n.Level = LevelInfo
		n.Message = "History cleared"
	case history.EventUndoFailed, history.EventRedoFailed:
		if errors.Is(ev.Err, model.ErrNothingToUndo) || errors.Is(ev.Err, model.ErrNothingToRedo) {
			n.Level = LevelWarning
			n.Message = capitalize(ev.Err.Error())
			break
		}
		n.Level = LevelFailure
		n.Message = failureMessage(ev)
	default:
		n.Level = LevelFailure
		n.Message = failureMessage(ev)
	}

	return n
}

func failureMessage(ev history.Event) string {
	desc := "Operation"
	if ev.Operation != nil {
		desc = ev.Operation.Description()
	}
	return fmt.Sprintf("%s failed: %s", desc, ev.Err)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	if s[0] >= 'a' && s[0] <= 'z' {
		return string(s[0]-'a'+'A') + s[1:]
	}
	return s
}

func newToken() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}
