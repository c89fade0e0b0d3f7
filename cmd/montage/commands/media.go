package commands

import (
	"context"
	"crypto/rand"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/oklog/ulid/v2"

	"github.com/montagekit/montage/internal/catalog/sqlite"
	"github.com/montagekit/montage/internal/config"
	"github.com/montagekit/montage/internal/model"
)

// NewMediaCommand returns the media parent command.
func NewMediaCommand(app *kingpin.Application) *kingpin.CmdClause {
	return app.Command("media", "Manage the media catalog.")
}

// catalogRepository opens the SQLite catalog. A db_path in the config file
// takes precedence over the --db-path default.
func catalogRepository(ctx context.Context, rootCmd *RootCommand) (*sqlite.Repository, error) {
	cfg, err := config.Load(rootCmd.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("could not load configuration: %w", err)
	}

	dbPath := rootCmd.DBPath
	if cfg.Catalog.DBPath != "" {
		dbPath = cfg.Catalog.DBPath
	}

	repo, err := sqlite.NewRepository(ctx, sqlite.RepositoryConfig{
		DBPath: dbPath,
		Logger: rootCmd.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create catalog repository: %w", err)
	}

	return repo, nil
}

type MediaAddCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	name     string
	kind     string
	path     string
	duration time.Duration
}

// NewMediaAddCommand returns the media add command.
func NewMediaAddCommand(rootCmd *RootCommand, parent *kingpin.CmdClause) *MediaAddCommand {
	c := &MediaAddCommand{rootCmd: rootCmd}

	c.Cmd = parent.Command("add", "Add a media asset to the catalog.")
	c.Cmd.Flag("name", "Name of the asset.").Short('n').Required().StringVar(&c.name)
	c.Cmd.Flag("kind", "Kind of the asset.").Required().EnumVar(&c.kind, "video", "audio", "image")
	c.Cmd.Flag("path", "Path to the source media file.").Required().StringVar(&c.path)
	c.Cmd.Flag("duration", "Intrinsic duration of the media (e.g. 90s). Zero for images.").DurationVar(&c.duration)

	return c
}

func (c MediaAddCommand) Name() string { return c.Cmd.FullCommand() }

func (c MediaAddCommand) Run(ctx context.Context) error {
	repo, err := catalogRepository(ctx, c.rootCmd)
	if err != nil {
		return err
	}
	defer repo.Close()

	asset := model.MediaAsset{
		ID:        ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String(),
		Name:      c.name,
		Kind:      model.AssetKind(c.kind),
		Path:      c.path,
		Duration:  c.duration,
		CreatedAt: time.Now().UTC(),
	}
	if err := repo.CreateAsset(ctx, asset); err != nil {
		return fmt.Errorf("could not create asset: %w", err)
	}

	fmt.Fprintf(c.rootCmd.Stdout, "Asset %s created (%s)\n", asset.Name, asset.ID)

	return nil
}

type MediaListCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand
}

// NewMediaListCommand returns the media list command.
func NewMediaListCommand(rootCmd *RootCommand, parent *kingpin.CmdClause) *MediaListCommand {
	c := &MediaListCommand{rootCmd: rootCmd}
	c.Cmd = parent.Command("list", "List the media catalog.")
	return c
}

func (c MediaListCommand) Name() string { return c.Cmd.FullCommand() }

func (c MediaListCommand) Run(ctx context.Context) error {
	repo, err := catalogRepository(ctx, c.rootCmd)
	if err != nil {
		return err
	}
	defer repo.Close()

	assets, err := repo.ListAssets(ctx)
	if err != nil {
		return fmt.Errorf("could not list assets: %w", err)
	}

	w := tabwriter.NewWriter(c.rootCmd.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tKIND\tDURATION\tPATH")
	for _, a := range assets {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", a.ID, a.Name, a.Kind, a.Duration, a.Path)
	}

	return w.Flush()
}

type MediaRmCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	id string
}

// NewMediaRmCommand returns the media rm command.
func NewMediaRmCommand(rootCmd *RootCommand, parent *kingpin.CmdClause) *MediaRmCommand {
	c := &MediaRmCommand{rootCmd: rootCmd}

	c.Cmd = parent.Command("rm", "Remove a media asset from the catalog.")
	c.Cmd.Arg("id", "ID of the asset to remove.").Required().StringVar(&c.id)

	return c
}

func (c MediaRmCommand) Name() string { return c.Cmd.FullCommand() }

func (c MediaRmCommand) Run(ctx context.Context) error {
	repo, err := catalogRepository(ctx, c.rootCmd)
	if err != nil {
		return err
	}
	defer repo.Close()

	if err := repo.DeleteAsset(ctx, c.id); err != nil {
		return fmt.Errorf("could not delete asset: %w", err)
	}

	fmt.Fprintf(c.rootCmd.Stdout, "Asset %s removed\n", c.id)

	return nil
}
