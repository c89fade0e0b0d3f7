package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/alecthomas/kingpin/v2"

	catalogmemory "github.com/montagekit/montage/internal/catalog/memory"
	"github.com/montagekit/montage/internal/config"
	editormemory "github.com/montagekit/montage/internal/editor/memory"
	"github.com/montagekit/montage/internal/factory"
	"github.com/montagekit/montage/internal/model"
	"github.com/montagekit/montage/internal/operation"
	"github.com/montagekit/montage/internal/operation/timelineops"
	"github.com/montagekit/montage/internal/reactive"
	"github.com/montagekit/montage/pkg/engine"
)

type DemoCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand
}

// NewDemoCommand returns the demo command.
func NewDemoCommand(rootCmd *RootCommand, app *kingpin.Application) *DemoCommand {
	c := &DemoCommand{rootCmd: rootCmd}
	c.Cmd = app.Command("demo", "Run a scripted editing session against an in-memory timeline.")
	return c
}

func (c DemoCommand) Name() string { return c.Cmd.FullCommand() }

func (c DemoCommand) Run(ctx context.Context) error {
	logger := c.rootCmd.Logger

	cfg, err := config.Load(c.rootCmd.ConfigPath)
	if err != nil {
		return fmt.Errorf("could not load configuration: %w", err)
	}

	catalog, err := catalogmemory.NewRepository(catalogmemory.RepositoryConfig{Logger: logger})
	if err != nil {
		return fmt.Errorf("could not create catalog: %w", err)
	}

	asset := model.MediaAsset{
		ID:        "asset-interview",
		Name:      "interview.mp4",
		Kind:      model.AssetKindVideo,
		Path:      "/media/interview.mp4",
		Duration:  90 * time.Second,
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

	mergeWindow := 2 * time.Second
	if cfg.History.MergeWindow > 0 {
		mergeWindow = cfg.History.MergeWindow.Std()
	}
	eng, err := engine.New(engine.Config{
		Context:         doc,
		Logger:          logger,
		HistoryCapacity: cfg.History.Capacity,
		MergeWindow:     mergeWindow,
		SlowThreshold:   cfg.Analyzer.SlowThreshold.Std(),
		RecentWindow:    cfg.Analyzer.RecentWindow,
		DisableAnalyzer: cfg.Analyzer.Disabled,
	})
	if err != nil {
		return fmt.Errorf("could not create engine: %w", err)
	}
	if err := eng.Initialize(); err != nil {
		return fmt.Errorf("could not initialize engine: %w", err)
	}
	defer eng.Destroy()

	_, err = eng.OnNotification(func(n reactive.Notification) {
		fmt.Fprintf(c.rootCmd.Stdout, "[%s] %s\n", n.Level, n.Message)
	})
	if err != nil {
		return fmt.Errorf("could not subscribe to notifications: %w", err)
	}

	// Build up a small timeline: a track, a clip, then nudge the clip twice
	// in the merge window so the moves collapse into a single undo entry.
	steps := []factory.Spec{
		{Type: timelineops.TypeTrackAdd, Params: factory.AddTrackParams{
			Track: model.Track{Name: "Video 1", Kind: model.TrackKindVideo},
		}},
		{Type: timelineops.TypeItemAdd, Params: factory.AddItemParams{
			Item: model.TimelineItem{
				ID:       "item-1",
				TrackID:  1,
				AssetID:  asset.ID,
				Name:     "Interview",
				Start:    0,
				Duration: 30 * time.Second,
				Gain:     1,
			},
		}},
		{Type: timelineops.TypeItemMove, Params: factory.MoveItemParams{
			ItemID: "item-1", ToStart: 5 * time.Second, ToTrack: 1,
		}},
		{Type: timelineops.TypeItemMove, Params: factory.MoveItemParams{
			ItemID: "item-1", ToStart: 10 * time.Second, ToTrack: 1,
		}},
	}

	for _, spec := range steps {
		op, err := eng.Build(spec)
		if err != nil {
			return fmt.Errorf("could not build %q: %w", spec.Type, err)
		}
		if _, err := eng.Execute(ctx, op); err != nil {
			return fmt.Errorf("could not execute %q: %w", spec.Type, err)
		}
	}

	c.printTimeline(doc)

	// Undo twice (the merged move counts as one entry), redo once.
	for i := 0; i < 2; i++ {
		if _, err := eng.Undo(ctx); err != nil {
			return fmt.Errorf("could not undo: %w", err)
		}
	}
	if _, err := eng.Redo(ctx); err != nil {
		return fmt.Errorf("could not redo: %w", err)
	}

	c.printTimeline(doc)

	// Finish with a transactional batch: a second track plus a trim, applied
	// all-or-nothing.
	batch, err := eng.BuildComposite("Add audio bed", operation.StrategyTransactional, []factory.Spec{
		{Type: timelineops.TypeTrackAdd, Params: factory.AddTrackParams{
			Track: model.Track{Name: "Audio 1", Kind: model.TrackKindAudio},
		}},
		{Type: timelineops.TypeItemTrim, Params: factory.TrimItemParams{
			ItemID: "item-1", ToStart: 0, ToDuration: 20 * time.Second,
		}},
	})
	if err != nil {
		return fmt.Errorf("could not build batch: %w", err)
	}
	if _, err := eng.Execute(ctx, batch); err != nil {
		return fmt.Errorf("could not execute batch: %w", err)
	}

	c.printTimeline(doc)

	st, err := eng.Status()
	if err != nil {
		return fmt.Errorf("could not get status: %w", err)
	}
	fmt.Fprintf(c.rootCmd.Stdout, "History: cursor=%d length=%d canUndo=%t canRedo=%t\n",
		st.History.Cursor, st.History.Length, st.History.CanUndo, st.History.CanRedo)

	return nil
}

func (c DemoCommand) printTimeline(doc *editormemory.Document) {
	fmt.Fprintln(c.rootCmd.Stdout, "--- timeline ---")
	for _, t := range doc.Tracks() {
		fmt.Fprintf(c.rootCmd.Stdout, "track %d %q (%s)\n", t.ID, t.Name, t.Kind)
	}
	for _, it := range doc.Items() {
		fmt.Fprintf(c.rootCmd.Stdout, "  item %s %q track=%d start=%s dur=%s\n",
			it.ID, it.Name, it.TrackID, it.Start, it.Duration)
	}
}
