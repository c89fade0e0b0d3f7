// Package editor defines the narrow facade of document operations that
// concrete operations are allowed to call. Operations depend on this
// interface only, never on a concrete store, so they can be unit tested
// against a mock and reused over any document implementation.
package editor

import (
	"context"

	"github.com/montagekit/montage/internal/model"
)

// Context is the facade over the timeline document, track list, media
// catalog and canvas that operations mutate through.
//
// BuildSprite and BuildItem are the source-of-truth rebuild pair: instead of
// resurrecting a disposed visual proxy on undo-of-delete, a fresh proxy is
// rebuilt from the original media asset reference. The renderer owns the
// expensive native resources, so re-adding a stale sprite would be a
// use-after-free on its side.
type Context interface {
	// Timeline items.
	Item(ctx context.Context, id string) (*model.TimelineItem, error)
	AddItem(ctx context.Context, item model.TimelineItem) error
	RemoveItem(ctx context.Context, id string) error
	ItemsInTrack(ctx context.Context, trackID int) ([]model.TimelineItem, error)
	UpdateItem(ctx context.Context, item model.TimelineItem) error

	// Tracks.
	Track(ctx context.Context, id int) (*model.Track, error)
	CreateTrack(ctx context.Context, track model.Track) error
	RemoveTrack(ctx context.Context, id int) error
	UpdateTrack(ctx context.Context, track model.Track) error
	NextTrackNumber(ctx context.Context) (int, error)

	// Media catalog, read-only for the engine.
	Asset(ctx context.Context, id string) (*model.MediaAsset, error)

	// Canvas visual proxies.
	AddSprite(ctx context.Context, sprite model.Sprite) error
	RemoveSprite(ctx context.Context, id string) error
	SpriteForItem(ctx context.Context, itemID string) (*model.Sprite, error)

	// Source-of-truth rebuild factory.
	BuildSprite(ctx context.Context, item model.TimelineItem) (*model.Sprite, error)
	BuildItem(ctx context.Context, sprite model.Sprite, item model.TimelineItem) (*model.TimelineItem, error)
}
