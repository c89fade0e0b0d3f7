package catalog

import (
	"context"

	"github.com/montagekit/montage/internal/model"
)

// Repository is the interface for media asset persistence. The engine itself
// only ever reads from it (through the editor context's asset lookup);
// create/delete exists for host tooling that manages the catalog.
type Repository interface {
	CreateAsset(ctx context.Context, a model.MediaAsset) error
	Asset(ctx context.Context, id string) (*model.MediaAsset, error)
	ListAssets(ctx context.Context) ([]model.MediaAsset, error)
	DeleteAsset(ctx context.Context, id string) error
}
