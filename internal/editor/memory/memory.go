// Package memory provides an in-memory timeline document implementing the
// editor context facade. It simulates the real document/canvas pair without a
// renderer, which makes it the backing store for tests, demos and embedding
// hosts that bring no engine of their own.
package memory

import (
	"context"
	"crypto/rand"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/montagekit/montage/internal/catalog"
	"github.com/montagekit/montage/internal/log"
	"github.com/montagekit/montage/internal/model"
)

// DocumentConfig is the configuration for the in-memory document.
type DocumentConfig struct {
	// Catalog resolves media asset lookups. Required.
	Catalog catalog.Repository
	Logger  log.Logger
}

func (c *DocumentConfig) defaults() error {
	if c.Catalog == nil {
		return fmt.Errorf("catalog is required")
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "editor.Memory"})
	return nil
}

// Document is an in-memory implementation of editor.Context.
type Document struct {
	items         map[string]model.TimelineItem
	tracks        map[int]model.Track
	sprites       map[string]model.Sprite
	spritesByItem map[string]string
	nextTrack     int
	catalog       catalog.Repository
	mu            sync.RWMutex
	logger        log.Logger
}

// NewDocument creates a new in-memory document.
func NewDocument(cfg DocumentConfig) (*Document, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Document{
		items:         make(map[string]model.TimelineItem),
		tracks:        make(map[int]model.Track),
		sprites:       make(map[string]model.Sprite),
		spritesByItem: make(map[string]string),
		nextTrack:     1,
		catalog:       cfg.Catalog,
		logger:        cfg.Logger,
	}, nil
}

// Item retrieves a timeline item by ID.
func (d *Document) Item(ctx context.Context, id string) (*model.TimelineItem, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	item, ok := d.items[id]
	if !ok {
		return nil, fmt.Errorf("item %s: %w", id, model.ErrNotFound)
	}

	itemCopy := item
	return &itemCopy, nil
}

// AddItem adds a timeline item.
func (d *Document) AddItem(ctx context.Context, item model.TimelineItem) error {
	if err := item.Validate(); err != nil {
		return fmt.Errorf("invalid item: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.items[item.ID]; ok {
		return fmt.Errorf("item %s: %w", item.ID, model.ErrAlreadyExists)
	}
	if _, ok := d.tracks[item.TrackID]; !ok {
		return fmt.Errorf("track %d: %w", item.TrackID, model.ErrNotFound)
	}

	d.items[item.ID] = item
	d.logger.Debugf("Added item %s to track %d", item.ID, item.TrackID)

	return nil
}

// RemoveItem removes a timeline item by ID.
func (d *Document) RemoveItem(ctx context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.items[id]; !ok {
		return fmt.Errorf("item %s: %w", id, model.ErrNotFound)
	}

	delete(d.items, id)
	d.logger.Debugf("Removed item %s", id)

	return nil
}

// ItemsInTrack returns the items of a track ordered by start position.
func (d *Document) ItemsInTrack(ctx context.Context, trackID int) ([]model.TimelineItem, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if _, ok := d.tracks[trackID]; !ok {
		return nil, fmt.Errorf("track %d: %w", trackID, model.ErrNotFound)
	}

	var items []model.TimelineItem
	for _, item := range d.items {
		if item.TrackID == trackID {
			items = append(items, item)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Start < items[j].Start })

	return items, nil
}

// UpdateItem updates an existing timeline item.
func (d *Document) UpdateItem(ctx context.Context, item model.TimelineItem) error {
	if err := item.Validate(); err != nil {
		return fmt.Errorf("invalid item: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.items[item.ID]; !ok {
		return fmt.Errorf("item %s: %w", item.ID, model.ErrNotFound)
	}
	if _, ok := d.tracks[item.TrackID]; !ok {
		return fmt.Errorf("track %d: %w", item.TrackID, model.ErrNotFound)
	}

	d.items[item.ID] = item

	return nil
}

// Track retrieves a track by ID.
func (d *Document) Track(ctx context.Context, id int) (*model.Track, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	track, ok := d.tracks[id]
	if !ok {
		return nil, fmt.Errorf("track %d: %w", id, model.ErrNotFound)
	}

	trackCopy := track
	return &trackCopy, nil
}

// CreateTrack creates a new track.
func (d *Document) CreateTrack(ctx context.Context, track model.Track) error {
	if err := track.Validate(); err != nil {
		return fmt.Errorf("invalid track: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.tracks[track.ID]; ok {
		return fmt.Errorf("track %d: %w", track.ID, model.ErrAlreadyExists)
	}

	d.tracks[track.ID] = track
	if track.ID >= d.nextTrack {
		d.nextTrack = track.ID + 1
	}
	d.logger.Debugf("Created track %d (%s)", track.ID, track.Name)

	return nil
}

// RemoveTrack removes a track by ID. The track must be empty.
func (d *Document) RemoveTrack(ctx context.Context, id int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.tracks[id]; !ok {
		return fmt.Errorf("track %d: %w", id, model.ErrNotFound)
	}
	for _, item := range d.items {
		if item.TrackID == id {
			return fmt.Errorf("track %d still has items: %w", id, model.ErrNotValid)
		}
	}

	delete(d.tracks, id)
	d.logger.Debugf("Removed track %d", id)

	return nil
}

// UpdateTrack updates an existing track.
func (d *Document) UpdateTrack(ctx context.Context, track model.Track) error {
	if err := track.Validate(); err != nil {
		return fmt.Errorf("invalid track: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.tracks[track.ID]; !ok {
		return fmt.Errorf("track %d: %w", track.ID, model.ErrNotFound)
	}

	d.tracks[track.ID] = track

	return nil
}

// NextTrackNumber returns the next free track number.
func (d *Document) NextTrackNumber(ctx context.Context) (int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.nextTrack, nil
}

// Asset resolves a media asset through the catalog.
func (d *Document) Asset(ctx context.Context, id string) (*model.MediaAsset, error) {
	asset, err := d.catalog.Asset(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("could not get asset: %w", err)
	}
	return asset, nil
}

// AddSprite adds a visual proxy to the canvas.
func (d *Document) AddSprite(ctx context.Context, sprite model.Sprite) error {
	if err := sprite.Validate(); err != nil {
		return fmt.Errorf("invalid sprite: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.sprites[sprite.ID]; ok {
		return fmt.Errorf("sprite %s: %w", sprite.ID, model.ErrAlreadyExists)
	}

	d.sprites[sprite.ID] = sprite
	d.spritesByItem[sprite.ItemID] = sprite.ID

	return nil
}

// RemoveSprite removes a visual proxy from the canvas.
func (d *Document) RemoveSprite(ctx context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	sprite, ok := d.sprites[id]
	if !ok {
		return fmt.Errorf("sprite %s: %w", id, model.ErrNotFound)
	}

	delete(d.sprites, id)
	delete(d.spritesByItem, sprite.ItemID)

	return nil
}

// SpriteForItem returns the sprite currently attached to an item.
func (d *Document) SpriteForItem(ctx context.Context, itemID string) (*model.Sprite, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	spriteID, ok := d.spritesByItem[itemID]
	if !ok {
		return nil, fmt.Errorf("sprite for item %s: %w", itemID, model.ErrNotFound)
	}

	sprite := d.sprites[spriteID]
	return &sprite, nil
}

// BuildSprite builds a fresh visual proxy for an item from its source media
// asset. A new sprite identity is minted every time, never reusing a
// previously disposed proxy.
func (d *Document) BuildSprite(ctx context.Context, item model.TimelineItem) (*model.Sprite, error) {
	asset, err := d.catalog.Asset(ctx, item.AssetID)
	if err != nil {
		return nil, fmt.Errorf("could not get source asset: %w", err)
	}

	sprite := model.Sprite{
		ID:      ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String(),
		ItemID:  item.ID,
		AssetID: asset.ID,
		Layer:   item.TrackID,
	}

	d.logger.Debugf("Built sprite %s for item %s from asset %s", sprite.ID, item.ID, asset.ID)

	return &sprite, nil
}

// BuildItem rebinds item data to a freshly built proxy, validating the
// pairing. Used on undo-of-delete and redo-of-add paths.
func (d *Document) BuildItem(ctx context.Context, sprite model.Sprite, item model.TimelineItem) (*model.TimelineItem, error) {
	if sprite.ItemID != item.ID {
		return nil, fmt.Errorf("sprite %s does not belong to item %s: %w", sprite.ID, item.ID, model.ErrNotValid)
	}
	if err := item.Validate(); err != nil {
		return nil, fmt.Errorf("invalid item: %w", err)
	}

	itemCopy := item
	return &itemCopy, nil
}

// Items returns a snapshot of all timeline items, ordered by track then start.
func (d *Document) Items() []model.TimelineItem {
	d.mu.RLock()
	defer d.mu.RUnlock()

	items := make([]model.TimelineItem, 0, len(d.items))
	for _, item := range d.items {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].TrackID != items[j].TrackID {
			return items[i].TrackID < items[j].TrackID
		}
		return items[i].Start < items[j].Start
	})

	return items
}

// Tracks returns a snapshot of all tracks ordered by ID.
func (d *Document) Tracks() []model.Track {
	d.mu.RLock()
	defer d.mu.RUnlock()

	tracks := make([]model.Track, 0, len(d.tracks))
	for _, track := range d.tracks {
		tracks = append(tracks, track)
	}
	sort.Slice(tracks, func(i, j int) bool { return tracks[i].ID < tracks[j].ID })

	return tracks
}

// Sprites returns a snapshot of all canvas sprites ordered by ID.
func (d *Document) Sprites() []model.Sprite {
	d.mu.RLock()
	defer d.mu.RUnlock()

	sprites := make([]model.Sprite, 0, len(d.sprites))
	for _, sprite := range d.sprites {
		sprites = append(sprites, sprite)
	}
	sort.Slice(sprites, func(i, j int) bool { return sprites[i].ID < sprites[j].ID })

	return sprites
}
