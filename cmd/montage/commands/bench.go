package commands

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/alecthomas/kingpin/v2"

	catalogmemory "github.com/montagekit/montage/internal/catalog/memory"
	"github.com/montagekit/montage/internal/config"
	editormemory "github.com/montagekit/montage/internal/editor/memory"
	"github.com/montagekit/montage/internal/factory"
	"github.com/montagekit/montage/internal/model"
	"github.com/montagekit/montage/internal/operation"
	"github.com/montagekit/montage/internal/operation/timelineops"
	"github.com/montagekit/montage/internal/scheduler"
	"github.com/montagekit/montage/pkg/engine"
)

type BenchCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	operations  int
	concurrency int
	optimize    bool
}

// NewBenchCommand returns the bench command.
func NewBenchCommand(rootCmd *RootCommand, app *kingpin.Application) *BenchCommand {
	c := &BenchCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("bench", "Schedule synthetic operations and print the performance report.")
	c.Cmd.Flag("operations", "Number of synthetic operations to schedule.").Short('o').Default("500").IntVar(&c.operations)
	c.Cmd.Flag("concurrency", "Scheduler concurrency cap.").Default("1").IntVar(&c.concurrency)
	c.Cmd.Flag("optimize", "Fold consecutive mergeable operations before enqueueing.").BoolVar(&c.optimize)

	return c
}

func (c BenchCommand) Name() string { return c.Cmd.FullCommand() }

func (c BenchCommand) Run(ctx context.Context) error {
	logger := c.rootCmd.Logger

	cfg, err := config.Load(c.rootCmd.ConfigPath)
	if err != nil {
		return fmt.Errorf("could not load configuration: %w", err)
	}
	if cfg.Scheduler.MaxConcurrency > 0 {
		c.concurrency = cfg.Scheduler.MaxConcurrency
	}

	catalog, err := catalogmemory.NewRepository(catalogmemory.RepositoryConfig{Logger: logger})
	if err != nil {
		return fmt.Errorf("could not create catalog: %w", err)
	}

	asset := model.MediaAsset{
		ID:        "asset-bench",
		Name:      "bench.mp4",
		Kind:      model.AssetKindVideo,
		Path:      "/media/bench.mp4",
		Duration:  time.Hour,
		CreatedAt: time.Now().UTC(),
	}
	if err := catalog.CreateAsset(ctx, asset); err != nil {
		return fmt.Errorf("could not seed catalog: %w", err)
	}

	doc, err := editormemory.NewDocument(editormemory.DocumentConfig{
		Catalog: catalog,
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("could not create document: %w", err)
	}

	eng, err := engine.New(engine.Config{
		Context:         doc,
		Logger:          logger,
		HistoryCapacity: c.operations + 2,
		MaxConcurrency:  c.concurrency,
		DisableMerge:    true,
	})
	if err != nil {
		return fmt.Errorf("could not create engine: %w", err)
	}
	if err := eng.Initialize(); err != nil {
		return fmt.Errorf("could not initialize engine: %w", err)
	}
	defer eng.Destroy()

	// Fixture the workload operates on.
	for _, spec := range []factory.Spec{
		{Type: timelineops.TypeTrackAdd, Params: factory.AddTrackParams{
			Track: model.Track{Name: "Bench", Kind: model.TrackKindVideo},
		}},
		{Type: timelineops.TypeItemAdd, Params: factory.AddItemParams{
			Item: model.TimelineItem{
				ID:       "bench-item",
				TrackID:  1,
				AssetID:  asset.ID,
				Name:     "Bench",
				Duration: 10 * time.Second,
				Gain:     1,
			},
		}},
	} {
		op, err := eng.Build(spec)
		if err != nil {
			return fmt.Errorf("could not build fixture: %w", err)
		}
		if _, err := eng.Execute(ctx, op); err != nil {
			return fmt.Errorf("could not execute fixture: %w", err)
		}
	}

	ops, err := c.workload(eng)
	if err != nil {
		return fmt.Errorf("could not build workload: %w", err)
	}

	started := time.Now()
	handles, err := eng.ScheduleBatch(ctx, ops, scheduler.BatchOptions{Optimize: c.optimize})
	if err != nil {
		return fmt.Errorf("could not schedule workload: %w", err)
	}
	for _, h := range handles {
		if _, err := h.Wait(ctx); err != nil {
			return fmt.Errorf("workload operation failed: %w", err)
		}
	}
	elapsed := time.Since(started)

	fmt.Fprintf(c.rootCmd.Stdout, "Scheduled %d operations (%d after folding) in %s\n",
		len(ops), len(handles), elapsed)

	report, err := eng.PerformanceReport()
	if err != nil {
		return fmt.Errorf("could not get performance report: %w", err)
	}

	w := tabwriter.NewWriter(c.rootCmd.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TYPE\tCOUNT\tAVG\tSUCCESS")
	for _, ts := range report.ByType {
		fmt.Fprintf(w, "%s\t%d\t%s\t%.0f%%\n", ts.Type, ts.Count, ts.AverageDuration(), ts.SuccessRate()*100)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(c.rootCmd.Stdout, "Total: %d ops, %.0f%% success, avg %s\n",
		report.Summary.TotalOperations, report.Summary.SuccessRate*100, report.Summary.AverageDuration)
	for _, r := range report.Recommendations {
		fmt.Fprintf(c.rootCmd.Stdout, "Hint: %s\n", r)
	}

	return nil
}

// workload alternates runs of moves and trims against the fixture item so
// the fold path has consecutive runs to collapse.
func (c BenchCommand) workload(eng *engine.Engine) ([]operation.Operation, error) {
	ops := make([]operation.Operation, 0, c.operations)
	for i := 0; i < c.operations; i++ {
		var spec factory.Spec
		if (i/10)%2 == 0 {
			spec = factory.Spec{Type: timelineops.TypeItemMove, Params: factory.MoveItemParams{
				ItemID:  "bench-item",
				ToStart: time.Duration(i) * time.Second,
				ToTrack: 1,
			}}
		} else {
			spec = factory.Spec{Type: timelineops.TypeItemTrim, Params: factory.TrimItemParams{
				ItemID:     "bench-item",
				ToStart:    0,
				ToDuration: time.Duration(5+i%20) * time.Second,
			}}
		}

		op, err := eng.Build(spec)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}

	return ops, nil
}
