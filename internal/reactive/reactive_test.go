package reactive_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/montagekit/montage/internal/history"
	"github.com/montagekit/montage/internal/operation"
	"github.com/montagekit/montage/internal/reactive"
)

var errBoom = fmt.Errorf("boom")

type fakeOp struct {
	operation.Base
	execErr error
}

func newFakeOp(description string) *fakeOp {
	return &fakeOp{Base: operation.NewBase("test.op", description)}
}

func (f *fakeOp) Execute(ctx context.Context) (*operation.Result, error) {
	if f.execErr != nil {
		return nil, f.execErr
	}
	return operation.NewResult("x"), nil
}

func (f *fakeOp) Undo(ctx context.Context) error { return nil }

func newWrapped(t *testing.T) *reactive.History {
	t.Helper()

	manager, err := history.NewManager(history.ManagerConfig{})
	require.NoError(t, err)

	h, err := reactive.NewHistory(reactive.HistoryConfig{Manager: manager})
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })

	return h
}

func TestHistoryState(t *testing.T) {
	t.Run("The initial state should be empty and idle", func(t *testing.T) {
		assert := assert.New(t)
		h := newWrapped(t)

		st := h.State()

		assert.False(st.CanUndo)
		assert.False(st.CanRedo)
		assert.Equal(-1, st.Cursor)
		assert.Equal(0, st.Length)
		assert.False(st.Executing)
	})

	t.Run("State should mirror execute, undo and redo", func(t *testing.T) {
		assert := assert.New(t)
		ctx := context.TODO()
		h := newWrapped(t)

		_, err := h.Execute(ctx, newFakeOp("Move clip"))
		require.NoError(t, err)

		st := h.State()
		assert.True(st.CanUndo)
		assert.False(st.CanRedo)
		assert.Equal(0, st.Cursor)
		assert.Equal(1, st.Length)
		assert.False(st.Executing)

		_, err = h.Undo(ctx)
		require.NoError(t, err)

		st = h.State()
		assert.False(st.CanUndo)
		assert.True(st.CanRedo)
		assert.Equal(-1, st.Cursor)

		_, err = h.Redo(ctx)
		require.NoError(t, err)

		st = h.State()
		assert.True(st.CanUndo)
		assert.False(st.CanRedo)
	})

	t.Run("State subscribers should see the executing flag raise and drop", func(t *testing.T) {
		assert := assert.New(t)
		ctx := context.TODO()
		h := newWrapped(t)

		var executing []bool
		h.SubscribeState(func(st reactive.State) { executing = append(executing, st.Executing) })

		_, err := h.Execute(ctx, newFakeOp("Move clip"))
		require.NoError(t, err)

		// Raise, event update while in flight, drop.
		require.Len(t, executing, 3)
		assert.True(executing[0])
		assert.True(executing[1])
		assert.False(executing[2])
	})

	t.Run("An unsubscribed state observer should not be called", func(t *testing.T) {
		assert := assert.New(t)
		ctx := context.TODO()
		h := newWrapped(t)

		count := 0
		unsubscribe := h.SubscribeState(func(reactive.State) { count++ })
		unsubscribe()

		_, err := h.Execute(ctx, newFakeOp("Move clip"))
		require.NoError(t, err)

		assert.Equal(0, count)
	})
}

func TestHistoryNotifications(t *testing.T) {
	collect := func(t *testing.T, h *reactive.History) *[]reactive.Notification {
		t.Helper()
		notifs := []reactive.Notification{}
		h.Subscribe(func(n reactive.Notification) { notifs = append(notifs, n) })
		return &notifs
	}

	t.Run("A successful execution should notify success with the description", func(t *testing.T) {
		assert := assert.New(t)
		ctx := context.TODO()
		h := newWrapped(t)
		notifs := collect(t, h)

		op := newFakeOp("Move clip")
		_, err := h.Execute(ctx, op)
		require.NoError(t, err)

		require.Len(t, *notifs, 1)
		n := (*notifs)[0]
		assert.Equal(reactive.LevelSuccess, n.Level)
		assert.Equal("Move clip", n.Message)
		assert.Equal(history.EventExecuted, n.Event)
		assert.Equal(op.ID(), n.OperationID)
		assert.Equal("test.op", n.OperationType)
	})

	t.Run("Undo and redo should notify with prefixed messages", func(t *testing.T) {
		assert := assert.New(t)
		ctx := context.TODO()
		h := newWrapped(t)

		_, err := h.Execute(ctx, newFakeOp("Move clip"))
		require.NoError(t, err)

		notifs := collect(t, h)
		_, err = h.Undo(ctx)
		require.NoError(t, err)
		_, err = h.Redo(ctx)
		require.NoError(t, err)

		require.Len(t, *notifs, 2)
		assert.Equal("Undone: Move clip", (*notifs)[0].Message)
		assert.Equal("Redone: Move clip", (*notifs)[1].Message)
	})

	t.Run("Undo on empty history should notify a warning, not a failure", func(t *testing.T) {
		assert := assert.New(t)
		h := newWrapped(t)
		notifs := collect(t, h)

		_, err := h.Undo(context.TODO())
		require.Error(t, err)

		require.Len(t, *notifs, 1)
		assert.Equal(reactive.LevelWarning, (*notifs)[0].Level)
	})

	t.Run("A failed execution should notify a failure", func(t *testing.T) {
		assert := assert.New(t)
		h := newWrapped(t)
		notifs := collect(t, h)

		op := newFakeOp("Move clip")
		op.execErr = errBoom
		_, err := h.Execute(context.TODO(), op)
		require.Error(t, err)

		require.Len(t, *notifs, 1)
		n := (*notifs)[0]
		assert.Equal(reactive.LevelFailure, n.Level)
		assert.Contains(n.Message, "Move clip failed")
	})

	t.Run("A panicking subscriber should not break delivery", func(t *testing.T) {
		assert := assert.New(t)
		ctx := context.TODO()
		h := newWrapped(t)

		h.Subscribe(func(reactive.Notification) { panic("subscriber gone wrong") })
		got := 0
		h.Subscribe(func(reactive.Notification) { got++ })

		_, err := h.Execute(ctx, newFakeOp("Move clip"))

		assert.NoError(err)
		assert.Equal(1, got)
	})
}
