package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/montagekit/montage/internal/log"
	"github.com/montagekit/montage/internal/model"
)

// RepositoryConfig is the configuration for the memory repository.
type RepositoryConfig struct {
	Logger log.Logger
}

func (c *RepositoryConfig) defaults() error {
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "catalog.Memory"})
	return nil
}

// Repository is an in-memory implementation of catalog.Repository.
type Repository struct {
	assets map[string]model.MediaAsset
	mu     sync.RWMutex
	logger log.Logger
}

// NewRepository creates a new memory repository.
func NewRepository(cfg RepositoryConfig) (*Repository, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Repository{
		assets: make(map[string]model.MediaAsset),
		logger: cfg.Logger,
	}, nil
}

// CreateAsset creates a new asset in the repository.
func (r *Repository) CreateAsset(ctx context.Context, a model.MediaAsset) error {
	if err := a.Validate(); err != nil {
		return fmt.Errorf("invalid asset: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.assets[a.ID]; ok {
		return fmt.Errorf("asset %s: %w", a.ID, model.ErrAlreadyExists)
	}

	r.assets[a.ID] = a
	r.logger.Debugf("Created asset in repository: %s", a.ID)

	return nil
}

// Asset retrieves an asset by ID.
func (r *Repository) Asset(ctx context.Context, id string) (*model.MediaAsset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	asset, ok := r.assets[id]
	if !ok {
		return nil, fmt.Errorf("asset %s: %w", id, model.ErrNotFound)
	}

	assetCopy := asset
	return &assetCopy, nil
}

// ListAssets returns all assets sorted by name.
func (r *Repository) ListAssets(ctx context.Context) ([]model.MediaAsset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	assets := make([]model.MediaAsset, 0, len(r.assets))
	for _, a := range r.assets {
		assets = append(assets, a)
	}
	sort.Slice(assets, func(i, j int) bool { return assets[i].Name < assets[j].Name })

	return assets, nil
}

// DeleteAsset deletes an asset by ID.
func (r *Repository) DeleteAsset(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.assets[id]; !ok {
		return fmt.Errorf("asset %s: %w", id, model.ErrNotFound)
	}

	delete(r.assets, id)
	r.logger.Debugf("Deleted asset from repository: %s", id)

	return nil
}
