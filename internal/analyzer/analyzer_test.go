package analyzer_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/montagekit/montage/internal/analyzer"
	"github.com/montagekit/montage/internal/history"
	"github.com/montagekit/montage/internal/operation"
)

type fakeOp struct {
	operation.Base
}

func newFakeOp(opType string) *fakeOp {
	return &fakeOp{Base: operation.NewBase(opType, "Test "+opType)}
}

func (f *fakeOp) Execute(ctx context.Context) (*operation.Result, error) {
	return operation.NewResult("x"), nil
}

func (f *fakeOp) Undo(ctx context.Context) error { return nil }

func newAnalyzer(t *testing.T, cfg analyzer.Config) *analyzer.Analyzer {
	t.Helper()
	a, err := analyzer.New(cfg)
	require.NoError(t, err)
	return a
}

func event(name history.EventName, opType string, duration time.Duration, err error) history.Event {
	return history.Event{
		Name:      name,
		Operation: newFakeOp(opType),
		StartedAt: time.Now(),
		Duration:  duration,
		Err:       err,
	}
}

func TestAnalyzerReport(t *testing.T) {
	t.Run("Ten operations with one failure should report a 90% success rate", func(t *testing.T) {
		assert := assert.New(t)
		a := newAnalyzer(t, analyzer.Config{})
		listener := a.Listener()

		for i := 0; i < 9; i++ {
			listener(event(history.EventExecuted, "timeline.item.move", 10*time.Millisecond, nil))
		}
		listener(event(history.EventExecuteFailed, "timeline.item.move", 5*time.Millisecond, fmt.Errorf("boom")))

		report := a.Report()

		assert.Equal(10, report.Summary.TotalOperations)
		assert.Equal(9, report.Summary.Succeeded)
		assert.Equal(1, report.Summary.Failed)
		assert.InDelta(0.9, report.Summary.SuccessRate, 0.001)
		require.Len(t, report.RecentFailures, 1)
		assert.Equal("boom", report.RecentFailures[0].Error)
	})

	t.Run("Undone and redone events should count as successes", func(t *testing.T) {
		assert := assert.New(t)
		a := newAnalyzer(t, analyzer.Config{})
		listener := a.Listener()

		listener(event(history.EventExecuted, "timeline.item.move", time.Millisecond, nil))
		listener(event(history.EventUndone, "timeline.item.move", time.Millisecond, nil))
		listener(event(history.EventRedone, "timeline.item.move", time.Millisecond, nil))

		report := a.Report()

		assert.Equal(3, report.Summary.TotalOperations)
		assert.Equal(3, report.Summary.Succeeded)
	})

	t.Run("Events without an operation should be ignored", func(t *testing.T) {
		assert := assert.New(t)
		a := newAnalyzer(t, analyzer.Config{})
		listener := a.Listener()

		listener(history.Event{Name: history.EventCleared})
		listener(history.Event{Name: history.EventUndoFailed, Err: fmt.Errorf("nothing to undo")})

		assert.Equal(0, a.Report().Summary.TotalOperations)
	})

	t.Run("Per-type stats should aggregate count, duration and success", func(t *testing.T) {
		assert := assert.New(t)
		a := newAnalyzer(t, analyzer.Config{})
		listener := a.Listener()

		listener(event(history.EventExecuted, "timeline.item.move", 10*time.Millisecond, nil))
		listener(event(history.EventExecuted, "timeline.item.move", 30*time.Millisecond, nil))
		listener(event(history.EventExecuted, "timeline.track.add", 5*time.Millisecond, nil))

		report := a.Report()

		require.Len(t, report.ByType, 2)
		// Most frequent type first.
		assert.Equal("timeline.item.move", report.ByType[0].Type)
		assert.Equal(2, report.ByType[0].Count)
		assert.Equal(20*time.Millisecond, report.ByType[0].AverageDuration())
		assert.Equal(float64(1), report.ByType[0].SuccessRate())
	})

	t.Run("Operations above the slow threshold should be flagged", func(t *testing.T) {
		assert := assert.New(t)
		a := newAnalyzer(t, analyzer.Config{SlowThreshold: 10 * time.Millisecond})
		listener := a.Listener()

		listener(event(history.EventExecuted, "timeline.item.add", 50*time.Millisecond, nil))
		listener(event(history.EventExecuted, "timeline.item.add", time.Millisecond, nil))

		report := a.Report()

		assert.Equal(1, report.Summary.SlowOperations)
		require.NotEmpty(t, report.SlowestRecent)
		assert.Equal(50*time.Millisecond, report.SlowestRecent[0].Duration)
		assert.True(report.SlowestRecent[0].Slow)
	})

	t.Run("The recent window should bound the rolling records", func(t *testing.T) {
		assert := assert.New(t)
		a := newAnalyzer(t, analyzer.Config{RecentWindow: 3})
		listener := a.Listener()

		for i := 0; i < 10; i++ {
			listener(event(history.EventExecuteFailed, "timeline.item.move", time.Millisecond, fmt.Errorf("boom %d", i)))
		}

		report := a.Report()

		assert.Len(report.RecentFailures, 3)
		assert.Equal("boom 9", report.RecentFailures[2].Error)
		// Totals are not windowed.
		assert.Equal(10, report.Summary.TotalOperations)
	})
}

func TestAnalyzerRecommendations(t *testing.T) {
	t.Run("A slow type should produce a slowness recommendation", func(t *testing.T) {
		assert := assert.New(t)
		a := newAnalyzer(t, analyzer.Config{SlowThreshold: 10 * time.Millisecond})
		listener := a.Listener()

		listener(event(history.EventExecuted, "timeline.item.add", 100*time.Millisecond, nil))

		recs := a.Report().Recommendations

		require.Len(t, recs, 1)
		assert.Contains(recs[0], "timeline.item.add")
		assert.Contains(recs[0], "slow threshold")
	})

	t.Run("A failure-heavy type should produce an investigation recommendation", func(t *testing.T) {
		assert := assert.New(t)
		a := newAnalyzer(t, analyzer.Config{})
		listener := a.Listener()

		for i := 0; i < 3; i++ {
			listener(event(history.EventExecuted, "timeline.item.trim", time.Millisecond, nil))
		}
		for i := 0; i < 2; i++ {
			listener(event(history.EventExecuteFailed, "timeline.item.trim", time.Millisecond, fmt.Errorf("boom")))
		}

		recs := a.Report().Recommendations

		require.Len(t, recs, 1)
		assert.Contains(recs[0], "success rate")
	})

	t.Run("A healthy workload should produce no recommendations", func(t *testing.T) {
		assert := assert.New(t)
		a := newAnalyzer(t, analyzer.Config{})
		listener := a.Listener()

		for i := 0; i < 10; i++ {
			listener(event(history.EventExecuted, "timeline.item.move", time.Millisecond, nil))
		}

		assert.Empty(a.Report().Recommendations)
	})
}

func TestAnalyzerReset(t *testing.T) {
	assert := assert.New(t)
	a := newAnalyzer(t, analyzer.Config{})
	listener := a.Listener()

	listener(event(history.EventExecuted, "timeline.item.move", time.Millisecond, nil))
	require.Equal(t, 1, a.Report().Summary.TotalOperations)

	before := a.Report().Summary.ObservationStart
	a.Reset()

	report := a.Report()
	assert.Equal(0, report.Summary.TotalOperations)
	assert.Empty(report.ByType)
	assert.Empty(report.RecentFailures)
	assert.False(report.Summary.ObservationStart.Before(before))
}
