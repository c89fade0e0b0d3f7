package scheduler_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/montagekit/montage/internal/history"
	"github.com/montagekit/montage/internal/model"
	"github.com/montagekit/montage/internal/operation"
	"github.com/montagekit/montage/internal/scheduler"
)

// journal records execution order across operations.
type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(name string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, name)
}

func (j *journal) snapshot() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string{}, j.entries...)
}

type fakeOp struct {
	operation.Base
	name    string
	journal *journal
	block   chan struct{} // When set, Execute waits on it.
	execErr error
}

func newFakeOp(name string, j *journal) *fakeOp {
	return &fakeOp{
		Base:    operation.NewBase("test."+name, "Test "+name),
		name:    name,
		journal: j,
	}
}

func (f *fakeOp) Execute(ctx context.Context) (*operation.Result, error) {
	if f.block != nil {
		<-f.block
	}
	if f.execErr != nil {
		return nil, f.execErr
	}
	if f.journal != nil {
		f.journal.add(f.name)
	}
	return operation.NewResult(f.name), nil
}

func (f *fakeOp) Undo(ctx context.Context) error { return nil }

// mergeOp folds other mergeOps sharing its key.
type mergeOp struct {
	*fakeOp
	key    string
	folded int
}

func newMergeOp(name, key string, j *journal) *mergeOp {
	return &mergeOp{fakeOp: newFakeOp(name, j), key: key}
}

func (m *mergeOp) MergeKey() string { return "test.merge:" + m.key }

func (m *mergeOp) CanMerge(other operation.Operation) bool {
	om, ok := other.(*mergeOp)
	return ok && om.MergeKey() == m.MergeKey()
}

func (m *mergeOp) Merge(other operation.Operation) error {
	if !m.CanMerge(other) {
		return fmt.Errorf("cannot merge: %w", model.ErrNotValid)
	}
	m.folded++
	return nil
}

func newScheduler(t *testing.T, maxConcurrency int) *scheduler.Scheduler {
	t.Helper()

	hist, err := history.NewManager(history.ManagerConfig{})
	require.NoError(t, err)

	s, err := scheduler.New(scheduler.Config{History: hist, MaxConcurrency: maxConcurrency})
	require.NoError(t, err)

	return s
}

func waitAll(t *testing.T, handles ...*scheduler.Handle) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, h := range handles {
		_, _ = h.Wait(ctx)
		select {
		case <-h.Done():
		default:
			t.Fatal("handle did not resolve in time")
		}
	}
}

func TestSchedulerSchedule(t *testing.T) {
	t.Run("A scheduled operation should execute and resolve its handle", func(t *testing.T) {
		assert := assert.New(t)
		ctx := context.TODO()
		s := newScheduler(t, 1)

		h := s.Schedule(ctx, newFakeOp("a", nil), scheduler.ScheduleOptions{})

		res, err := h.Wait(ctx)
		assert.NoError(err)
		assert.Equal([]string{"a"}, res.AffectedIDs)
	})

	t.Run("An immediate operation should resolve before Schedule returns", func(t *testing.T) {
		assert := assert.New(t)
		ctx := context.TODO()
		s := newScheduler(t, 1)

		h := s.Schedule(ctx, newFakeOp("a", nil), scheduler.ScheduleOptions{Immediate: true})

		select {
		case <-h.Done():
		default:
			t.Fatal("immediate handle not resolved")
		}
		res, err := h.Wait(ctx)
		assert.NoError(err)
		assert.Equal([]string{"a"}, res.AffectedIDs)
	})

	t.Run("A failed operation should resolve its handle with the error", func(t *testing.T) {
		assert := assert.New(t)
		ctx := context.TODO()
		s := newScheduler(t, 1)

		op := newFakeOp("a", nil)
		op.execErr = errBoom
		h := s.Schedule(ctx, op, scheduler.ScheduleOptions{})

		_, err := h.Wait(ctx)
		assert.Error(err)
		assert.True(errors.Is(err, errBoom))
	})

	t.Run("Higher priority operations should run before earlier lower ones", func(t *testing.T) {
		assert := assert.New(t)
		ctx := context.TODO()
		s := newScheduler(t, 1)
		j := &journal{}

		// Occupy the single slot so the following ops queue up.
		blocker := newFakeOp("blocker", j)
		blocker.block = make(chan struct{})
		hBlock := s.Schedule(ctx, blocker, scheduler.ScheduleOptions{})

		hLow := s.Schedule(ctx, newFakeOp("low", j), scheduler.ScheduleOptions{Priority: 1})
		hMid := s.Schedule(ctx, newFakeOp("mid", j), scheduler.ScheduleOptions{Priority: 5})
		hHigh := s.Schedule(ctx, newFakeOp("high", j), scheduler.ScheduleOptions{Priority: 10})

		close(blocker.block)
		waitAll(t, hBlock, hLow, hMid, hHigh)

		assert.Equal([]string{"blocker", "high", "mid", "low"}, j.snapshot())
	})

	t.Run("Equal priorities should run in FIFO order", func(t *testing.T) {
		assert := assert.New(t)
		ctx := context.TODO()
		s := newScheduler(t, 1)
		j := &journal{}

		blocker := newFakeOp("blocker", j)
		blocker.block = make(chan struct{})
		hBlock := s.Schedule(ctx, blocker, scheduler.ScheduleOptions{})

		hA := s.Schedule(ctx, newFakeOp("a", j), scheduler.ScheduleOptions{Priority: 5})
		hB := s.Schedule(ctx, newFakeOp("b", j), scheduler.ScheduleOptions{Priority: 5})
		hC := s.Schedule(ctx, newFakeOp("c", j), scheduler.ScheduleOptions{Priority: 5})

		close(blocker.block)
		waitAll(t, hBlock, hA, hB, hC)

		assert.Equal([]string{"blocker", "a", "b", "c"}, j.snapshot())
	})
}

func TestSchedulerBatch(t *testing.T) {
	t.Run("A batch should return one handle per operation", func(t *testing.T) {
		assert := assert.New(t)
		ctx := context.TODO()
		s := newScheduler(t, 1)

		ops := []operation.Operation{newFakeOp("a", nil), newFakeOp("b", nil), newFakeOp("c", nil)}
		handles := s.ScheduleBatch(ctx, ops, scheduler.BatchOptions{})

		require.Len(t, handles, 3)
		waitAll(t, handles...)
		for _, h := range handles {
			_, err := h.Wait(ctx)
			assert.NoError(err)
		}
	})

	t.Run("Optimize should fold consecutive operations sharing a merge key", func(t *testing.T) {
		assert := assert.New(t)
		ctx := context.TODO()
		s := newScheduler(t, 1)
		j := &journal{}

		m1 := newMergeOp("m1", "item-1", j)
		ops := []operation.Operation{
			m1,
			newMergeOp("m2", "item-1", j),
			newMergeOp("m3", "item-1", j),
			newMergeOp("other", "item-2", j),
		}
		handles := s.ScheduleBatch(ctx, ops, scheduler.BatchOptions{Optimize: true})

		require.Len(t, handles, 2)
		waitAll(t, handles...)
		assert.Equal(2, m1.folded)
		assert.Equal([]string{"m1", "other"}, j.snapshot())
	})

	t.Run("Optimize should not fold non-consecutive operations", func(t *testing.T) {
		ctx := context.TODO()
		s := newScheduler(t, 1)

		ops := []operation.Operation{
			newMergeOp("m1", "item-1", nil),
			newMergeOp("m2", "item-2", nil),
			newMergeOp("m3", "item-1", nil),
		}
		handles := s.ScheduleBatch(ctx, ops, scheduler.BatchOptions{Optimize: true})

		require.Len(t, handles, 3)
		waitAll(t, handles...)
	})
}

func TestSchedulerClearQueue(t *testing.T) {
	assert := assert.New(t)
	ctx := context.TODO()
	s := newScheduler(t, 1)

	blocker := newFakeOp("blocker", nil)
	blocker.block = make(chan struct{})
	hBlock := s.Schedule(ctx, blocker, scheduler.ScheduleOptions{})

	hA := s.Schedule(ctx, newFakeOp("a", nil), scheduler.ScheduleOptions{})
	hB := s.Schedule(ctx, newFakeOp("b", nil), scheduler.ScheduleOptions{})

	cleared := s.ClearQueue()
	assert.Equal(2, cleared)

	_, err := hA.Wait(ctx)
	assert.True(errors.Is(err, model.ErrQueueCleared))
	_, err = hB.Wait(ctx)
	assert.True(errors.Is(err, model.ErrQueueCleared))

	// The in-flight operation still completes.
	close(blocker.block)
	res, err := hBlock.Wait(ctx)
	assert.NoError(err)
	assert.Equal([]string{"blocker"}, res.AffectedIDs)
}

func TestSchedulerSetConcurrency(t *testing.T) {
	t.Run("A cap below one should fail", func(t *testing.T) {
		assert := assert.New(t)
		s := newScheduler(t, 1)

		err := s.SetConcurrency(0)

		assert.Error(err)
		assert.True(errors.Is(err, model.ErrNotValid))
	})

	t.Run("Raising the cap should start queued operations", func(t *testing.T) {
		assert := assert.New(t)
		ctx := context.TODO()
		s := newScheduler(t, 1)

		blocker := newFakeOp("blocker", nil)
		blocker.block = make(chan struct{})
		hBlock := s.Schedule(ctx, blocker, scheduler.ScheduleOptions{})

		hA := s.Schedule(ctx, newFakeOp("a", nil), scheduler.ScheduleOptions{})
		assert.Equal(1, s.Pending())

		assert.NoError(s.SetConcurrency(4))

		// The queued op leaves the queue without waiting for the blocker.
		waitInFlight(t, s, 2)
		assert.Equal(0, s.Pending())

		close(blocker.block)
		waitAll(t, hBlock, hA)
	})
}

// waitInFlight polls until the scheduler reports n in-flight operations.
func waitInFlight(t *testing.T, s *scheduler.Scheduler, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for s.InFlight() != n {
		if time.Now().After(deadline) {
			t.Fatalf("scheduler never reached %d in-flight operations", n)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestSchedulerStats(t *testing.T) {
	assert := assert.New(t)
	ctx := context.TODO()
	s := newScheduler(t, 2)

	blocker := newFakeOp("blocker", nil)
	blocker.block = make(chan struct{})
	hBlock := s.Schedule(ctx, blocker, scheduler.ScheduleOptions{})

	hA := s.Schedule(ctx, newFakeOp("a", nil), scheduler.ScheduleOptions{})
	hB := s.Schedule(ctx, newFakeOp("b", nil), scheduler.ScheduleOptions{})
	waitInFlight(t, s, 2)

	stats := s.StatsSnapshot()
	assert.Equal(1, stats.Pending)
	assert.Equal(2, stats.InFlight)
	assert.Equal(2, stats.MaxConcurrency)

	close(blocker.block)
	waitAll(t, hBlock, hA, hB)
}

var errBoom = fmt.Errorf("boom")
