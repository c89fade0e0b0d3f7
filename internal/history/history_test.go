package history_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/montagekit/montage/internal/history"
	"github.com/montagekit/montage/internal/model"
	"github.com/montagekit/montage/internal/operation"
)

var errBoom = fmt.Errorf("boom")

// fakeOp is a scriptable operation driving the manager in tests.
type fakeOp struct {
	operation.Base
	name        string
	validateErr error
	execErr     error
	undoErr     error
	executed    int
	undone      int
}

func newFakeOp(name string) *fakeOp {
	return &fakeOp{Base: operation.NewBase("test."+name, "Test "+name), name: name}
}

func (f *fakeOp) Validate(ctx context.Context) error { return f.validateErr }

func (f *fakeOp) Execute(ctx context.Context) (*operation.Result, error) {
	if f.execErr != nil {
		return nil, f.execErr
	}
	f.executed++
	return operation.NewResult(f.name), nil
}

func (f *fakeOp) Undo(ctx context.Context) error {
	if f.undoErr != nil {
		return f.undoErr
	}
	f.undone++
	return nil
}

// mergeOp is a fakeOp that merges with other mergeOps sharing its key.
type mergeOp struct {
	*fakeOp
	key    string
	merged []*mergeOp
}

func newMergeOp(name, key string) *mergeOp {
	return &mergeOp{fakeOp: newFakeOp(name), key: key}
}

func (m *mergeOp) MergeKey() string { return "test.merge:" + m.key }

func (m *mergeOp) CanMerge(other operation.Operation) bool {
	om, ok := other.(*mergeOp)
	return ok && om.MergeKey() == m.MergeKey()
}

func (m *mergeOp) Merge(other operation.Operation) error {
	om, ok := other.(*mergeOp)
	if !ok || !m.CanMerge(other) {
		return fmt.Errorf("cannot merge: %w", model.ErrNotValid)
	}
	m.merged = append(m.merged, om)
	return nil
}

func newManager(t *testing.T, cfg history.ManagerConfig) *history.Manager {
	t.Helper()
	m, err := history.NewManager(cfg)
	require.NoError(t, err)
	return m
}

func TestManagerExecute(t *testing.T) {
	t.Run("A successful execution should append and advance the cursor", func(t *testing.T) {
		assert := assert.New(t)
		ctx := context.TODO()
		m := newManager(t, history.ManagerConfig{})

		res, err := m.Execute(ctx, newFakeOp("a"))

		assert.NoError(err)
		assert.Equal([]string{"a"}, res.AffectedIDs)
		assert.Equal(0, m.Cursor())
		assert.Equal(1, m.Len())
		assert.True(m.CanUndo())
		assert.False(m.CanRedo())
	})

	t.Run("A failed validation should not touch the log", func(t *testing.T) {
		assert := assert.New(t)
		ctx := context.TODO()
		m := newManager(t, history.ManagerConfig{})

		op := newFakeOp("a")
		op.validateErr = errBoom

		_, err := m.Execute(ctx, op)

		assert.Error(err)
		assert.True(errors.Is(err, errBoom))
		assert.Equal(0, op.executed)
		assert.Equal(-1, m.Cursor())
		assert.Equal(0, m.Len())
	})

	t.Run("A failed execution should not touch the log", func(t *testing.T) {
		assert := assert.New(t)
		ctx := context.TODO()
		m := newManager(t, history.ManagerConfig{})

		require.NoError(t, execOp(ctx, m, newFakeOp("a")))

		op := newFakeOp("b")
		op.execErr = errBoom
		_, err := m.Execute(ctx, op)

		assert.Error(err)
		assert.Equal(0, m.Cursor())
		assert.Equal(1, m.Len())
	})

	t.Run("Executing after undo should drop the redo branch", func(t *testing.T) {
		assert := assert.New(t)
		ctx := context.TODO()
		m := newManager(t, history.ManagerConfig{})

		a, b, c, d := newFakeOp("a"), newFakeOp("b"), newFakeOp("c"), newFakeOp("d")
		require.NoError(t, execOp(ctx, m, a))
		require.NoError(t, execOp(ctx, m, b))
		require.NoError(t, execOp(ctx, m, c))

		_, err := m.Undo(ctx)
		require.NoError(t, err)
		_, err = m.Undo(ctx)
		require.NoError(t, err)

		require.NoError(t, execOp(ctx, m, d))

		entries := m.Entries()
		require.Len(t, entries, 2)
		assert.Equal(a.ID(), entries[0].ID())
		assert.Equal(d.ID(), entries[1].ID())
		assert.Equal(1, m.Cursor())
		assert.False(m.CanRedo())
	})

	t.Run("Exceeding capacity should drop the oldest entries and shift the cursor", func(t *testing.T) {
		assert := assert.New(t)
		ctx := context.TODO()
		m := newManager(t, history.ManagerConfig{Capacity: 2})

		a, b, c := newFakeOp("a"), newFakeOp("b"), newFakeOp("c")
		require.NoError(t, execOp(ctx, m, a))
		require.NoError(t, execOp(ctx, m, b))
		require.NoError(t, execOp(ctx, m, c))

		entries := m.Entries()
		require.Len(t, entries, 2)
		assert.Equal(b.ID(), entries[0].ID())
		assert.Equal(c.ID(), entries[1].ID())
		assert.Equal(1, m.Cursor())

		// Trimming again keeps the window sliding and undo working.
		d := newFakeOp("d")
		require.NoError(t, execOp(ctx, m, d))

		entries = m.Entries()
		require.Len(t, entries, 2)
		assert.Equal(c.ID(), entries[0].ID())
		assert.Equal(d.ID(), entries[1].ID())
		assert.Equal(1, m.Cursor())

		_, err := m.Undo(ctx)
		require.NoError(t, err)
		assert.Equal(1, d.undone)
		assert.Equal(0, m.Cursor())
	})
}

func TestManagerMerge(t *testing.T) {
	t.Run("Compatible rapid operations should fold into one entry", func(t *testing.T) {
		assert := assert.New(t)
		ctx := context.TODO()
		m := newManager(t, history.NewManagerConfig())

		first := newMergeOp("a", "item-1")
		second := newMergeOp("b", "item-1")
		require.NoError(t, execOp(ctx, m, first))
		require.NoError(t, execOp(ctx, m, second))

		assert.Equal(1, m.Len())
		assert.Equal(0, m.Cursor())
		require.Len(t, first.merged, 1)
		assert.Equal(second.ID(), first.merged[0].ID())
		// Both executions happened, only the fold is in the log.
		assert.Equal(1, second.executed)
	})

	t.Run("Operations on different targets should not fold", func(t *testing.T) {
		assert := assert.New(t)
		ctx := context.TODO()
		m := newManager(t, history.NewManagerConfig())

		require.NoError(t, execOp(ctx, m, newMergeOp("a", "item-1")))
		require.NoError(t, execOp(ctx, m, newMergeOp("b", "item-2")))

		assert.Equal(2, m.Len())
	})

	t.Run("A zero merge window should disable folding", func(t *testing.T) {
		assert := assert.New(t)
		ctx := context.TODO()
		m := newManager(t, history.ManagerConfig{})

		require.NoError(t, execOp(ctx, m, newMergeOp("a", "item-1")))
		require.NoError(t, execOp(ctx, m, newMergeOp("b", "item-1")))

		assert.Equal(2, m.Len())
	})

	t.Run("Operations older than the window should not fold", func(t *testing.T) {
		assert := assert.New(t)
		ctx := context.TODO()
		m := newManager(t, history.ManagerConfig{MergeWindow: time.Nanosecond})

		require.NoError(t, execOp(ctx, m, newMergeOp("a", "item-1")))
		time.Sleep(time.Millisecond)
		require.NoError(t, execOp(ctx, m, newMergeOp("b", "item-1")))

		assert.Equal(2, m.Len())
	})
}

func TestManagerUndoRedo(t *testing.T) {
	t.Run("Undo and redo should walk the cursor back and forth", func(t *testing.T) {
		assert := assert.New(t)
		ctx := context.TODO()
		m := newManager(t, history.ManagerConfig{})

		a, b := newFakeOp("a"), newFakeOp("b")
		require.NoError(t, execOp(ctx, m, a))
		require.NoError(t, execOp(ctx, m, b))

		op, err := m.Undo(ctx)
		assert.NoError(err)
		assert.Equal(b.ID(), op.ID())
		assert.Equal(1, b.undone)
		assert.Equal(0, m.Cursor())
		assert.True(m.CanRedo())

		op, err = m.Redo(ctx)
		assert.NoError(err)
		assert.Equal(b.ID(), op.ID())
		assert.Equal(2, b.executed)
		assert.Equal(1, m.Cursor())
		assert.False(m.CanRedo())
	})

	t.Run("Undo on an empty history should fail with nothing to undo", func(t *testing.T) {
		assert := assert.New(t)
		m := newManager(t, history.ManagerConfig{})

		_, err := m.Undo(context.TODO())

		assert.True(errors.Is(err, model.ErrNothingToUndo))
	})

	t.Run("Redo at the log tip should fail with nothing to redo", func(t *testing.T) {
		assert := assert.New(t)
		ctx := context.TODO()
		m := newManager(t, history.ManagerConfig{})

		require.NoError(t, execOp(ctx, m, newFakeOp("a")))

		_, err := m.Redo(ctx)

		assert.True(errors.Is(err, model.ErrNothingToRedo))
	})

	t.Run("A failed undo should not move the cursor", func(t *testing.T) {
		assert := assert.New(t)
		ctx := context.TODO()
		m := newManager(t, history.ManagerConfig{})

		op := newFakeOp("a")
		require.NoError(t, execOp(ctx, m, op))
		op.undoErr = errBoom

		_, err := m.Undo(ctx)

		assert.Error(err)
		assert.Equal(0, m.Cursor())
		assert.True(m.CanUndo())
	})

	t.Run("A failed redo should roll the cursor back", func(t *testing.T) {
		assert := assert.New(t)
		ctx := context.TODO()
		m := newManager(t, history.ManagerConfig{})

		op := newFakeOp("a")
		require.NoError(t, execOp(ctx, m, op))
		_, err := m.Undo(ctx)
		require.NoError(t, err)

		op.execErr = errBoom
		_, err = m.Redo(ctx)

		assert.Error(err)
		assert.Equal(-1, m.Cursor())
		assert.True(m.CanRedo())
	})
}

func TestManagerExecuteBatch(t *testing.T) {
	t.Run("A batch should commit as a single undoable entry", func(t *testing.T) {
		assert := assert.New(t)
		ctx := context.TODO()
		m := newManager(t, history.ManagerConfig{})

		a, b := newFakeOp("a"), newFakeOp("b")
		res, err := m.ExecuteBatch(ctx, []operation.Operation{a, b}, operation.StrategySequential, "batch")

		assert.NoError(err)
		assert.Equal([]string{"a", "b"}, res.AffectedIDs)
		assert.Equal(1, m.Len())

		_, err = m.Undo(ctx)
		assert.NoError(err)
		assert.Equal(1, a.undone)
		assert.Equal(1, b.undone)
	})

	t.Run("An empty batch should fail", func(t *testing.T) {
		assert := assert.New(t)
		m := newManager(t, history.ManagerConfig{})

		_, err := m.ExecuteBatch(context.TODO(), nil, operation.StrategySequential, "batch")

		assert.Error(err)
		assert.True(errors.Is(err, model.ErrNotValid))
	})
}

func TestManagerListeners(t *testing.T) {
	t.Run("Listeners should observe every transition with post-call state", func(t *testing.T) {
		assert := assert.New(t)
		ctx := context.TODO()
		m := newManager(t, history.ManagerConfig{})

		var events []history.Event
		m.AddListener(func(ev history.Event) { events = append(events, ev) })

		require.NoError(t, execOp(ctx, m, newFakeOp("a")))
		_, err := m.Undo(ctx)
		require.NoError(t, err)
		_, err = m.Redo(ctx)
		require.NoError(t, err)
		m.Clear()

		require.Len(t, events, 4)
		assert.Equal(history.EventExecuted, events[0].Name)
		assert.Equal(0, events[0].Cursor)
		assert.Equal(1, events[0].Length)
		assert.Equal(history.EventUndone, events[1].Name)
		assert.Equal(-1, events[1].Cursor)
		assert.Equal(history.EventRedone, events[2].Name)
		assert.Equal(0, events[2].Cursor)
		assert.Equal(history.EventCleared, events[3].Name)
		assert.Equal(0, events[3].Length)
	})

	t.Run("Failure events should carry the error", func(t *testing.T) {
		assert := assert.New(t)
		ctx := context.TODO()
		m := newManager(t, history.ManagerConfig{})

		var events []history.Event
		m.AddListener(func(ev history.Event) { events = append(events, ev) })

		op := newFakeOp("a")
		op.execErr = errBoom
		_, err := m.Execute(ctx, op)
		require.Error(t, err)

		require.Len(t, events, 1)
		assert.Equal(history.EventExecuteFailed, events[0].Name)
		assert.True(errors.Is(events[0].Err, errBoom))
	})

	t.Run("Unsubscribing should stop delivery", func(t *testing.T) {
		assert := assert.New(t)
		ctx := context.TODO()
		m := newManager(t, history.ManagerConfig{})

		count := 0
		unsubscribe := m.AddListener(func(history.Event) { count++ })

		require.NoError(t, execOp(ctx, m, newFakeOp("a")))
		unsubscribe()
		require.NoError(t, execOp(ctx, m, newFakeOp("b")))

		assert.Equal(1, count)
	})

	t.Run("A panicking listener should not break the manager", func(t *testing.T) {
		assert := assert.New(t)
		ctx := context.TODO()
		m := newManager(t, history.ManagerConfig{})

		m.AddListener(func(history.Event) { panic("listener gone wrong") })

		err := execOp(ctx, m, newFakeOp("a"))

		assert.NoError(err)
		assert.Equal(1, m.Len())
	})
}

func TestManagerClear(t *testing.T) {
	assert := assert.New(t)
	ctx := context.TODO()
	m := newManager(t, history.ManagerConfig{})

	require.NoError(t, execOp(ctx, m, newFakeOp("a")))
	require.NoError(t, execOp(ctx, m, newFakeOp("b")))

	m.Clear()

	assert.Equal(0, m.Len())
	assert.Equal(-1, m.Cursor())
	assert.False(m.CanUndo())
	assert.False(m.CanRedo())
}

func execOp(ctx context.Context, m *history.Manager, op operation.Operation) error {
	_, err := m.Execute(ctx, op)
	return err
}
