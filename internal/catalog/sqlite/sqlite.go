package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/montagekit/montage/internal/catalog/sqlite/migrations"
	"github.com/montagekit/montage/internal/log"
	"github.com/montagekit/montage/internal/model"
)

// RepositoryConfig is the configuration for the SQLite repository.
type RepositoryConfig struct {
	DBPath string
	Logger log.Logger
}

func (c *RepositoryConfig) defaults() error {
	if c.DBPath == "" {
		return fmt.Errorf("db path is required")
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "catalog.SQLite"})
	return nil
}

// Repository is a SQLite implementation of catalog.Repository.
type Repository struct {
	db     *sql.DB
	logger log.Logger
}

// NewRepository creates a new SQLite repository.
func NewRepository(ctx context.Context, cfg RepositoryConfig) (*Repository, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	dir := filepath.Dir(cfg.DBPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("could not create db directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)", cfg.DBPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}

	migrator, err := migrations.NewMigrator(db, cfg.Logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("could not create migrator: %w", err)
	}
	if err := migrator.Up(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not run migrations: %w", err)
	}

	cfg.Logger.Debugf("SQLite catalog initialized at %s", cfg.DBPath)

	return &Repository{db: db, logger: cfg.Logger}, nil
}

// Close closes the database connection.
func (r *Repository) Close() error { return r.db.Close() }

// CreateAsset creates a new asset in the repository.
func (r *Repository) CreateAsset(ctx context.Context, a model.MediaAsset) error {
	if err := a.Validate(); err != nil {
		return fmt.Errorf("invalid asset: %w", err)
	}

	query := `
		INSERT INTO assets (id, name, kind, path, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		a.ID, a.Name, string(a.Kind), a.Path,
		a.Duration.Milliseconds(), a.CreatedAt.Unix())
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("asset %s: %w", a.ID, model.ErrAlreadyExists)
		}
		return fmt.Errorf("could not insert asset: %w", err)
	}

	r.logger.Debugf("Created asset in repository: %s", a.ID)

	return nil
}

// Asset retrieves an asset by ID.
func (r *Repository) Asset(ctx context.Context, id string) (*model.MediaAsset, error) {
	query := `
		SELECT id, name, kind, path, duration_ms, created_at
		FROM assets WHERE id = ?`

	row := r.db.QueryRowContext(ctx, query, id)
	asset, err := scanAsset(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("asset %s: %w", id, model.ErrNotFound)
		}
		return nil, fmt.Errorf("could not get asset: %w", err)
	}

	return asset, nil
}

// ListAssets returns all assets sorted by name.
func (r *Repository) ListAssets(ctx context.Context) ([]model.MediaAsset, error) {
	query := `
		SELECT id, name, kind, path, duration_ms, created_at
		FROM assets ORDER BY name`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("could not list assets: %w", err)
	}
	defer rows.Close()

	var assets []model.MediaAsset
	for rows.Next() {
		asset, err := scanAsset(rows)
		if err != nil {
			return nil, fmt.Errorf("could not scan asset: %w", err)
		}
		assets = append(assets, *asset)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("could not iterate assets: %w", err)
	}

	return assets, nil
}

// DeleteAsset deletes an asset by ID.
func (r *Repository) DeleteAsset(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM assets WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("could not delete asset: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("could not get affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("asset %s: %w", id, model.ErrNotFound)
	}

	r.logger.Debugf("Deleted asset from repository: %s", id)

	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAsset(s scanner) (*model.MediaAsset, error) {
	var (
		asset      model.MediaAsset
		kind       string
		durationMS int64
		createdAt  int64
	)

	err := s.Scan(&asset.ID, &asset.Name, &kind, &asset.Path, &durationMS, &createdAt)
	if err != nil {
		return nil, err
	}

	asset.Kind = model.AssetKind(kind)
	asset.Duration = time.Duration(durationMS) * time.Millisecond
	asset.CreatedAt = time.Unix(createdAt, 0).UTC()

	return &asset, nil
}

func isUniqueViolation(err error) bool {
	// modernc sqlite surfaces constraint failures as the standard message.
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
