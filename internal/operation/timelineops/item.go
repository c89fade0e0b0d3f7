package timelineops

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/montagekit/montage/internal/editor"
	"github.com/montagekit/montage/internal/model"
	"github.com/montagekit/montage/internal/operation"
)

// Operation types of the item family.
const (
	TypeItemAdd    = "timeline.item.add"
	TypeItemRemove = "timeline.item.remove"
	TypeItemMove   = "timeline.item.move"
	TypeItemTrim   = "timeline.item.trim"
	TypeItemUpdate = "timeline.item.update"
)

func itemRef(id string) string   { return "item:" + id }
func spriteRef(id string) string { return "sprite:" + id }

// AddItem places a new item on a track, building its visual proxy from the
// source media asset. Undo removes both the item and its proxy; a later redo
// rebuilds a fresh proxy instead of reusing the disposed one.
type AddItem struct {
	operation.Base
	edit     editor.Context
	item     model.TimelineItem
	spriteID string
}

// NewAddItem creates a new add-item operation.
func NewAddItem(edit editor.Context, item model.TimelineItem) (*AddItem, error) {
	if edit == nil {
		return nil, fmt.Errorf("editor context is required: %w", model.ErrNotValid)
	}
	if err := item.Validate(); err != nil {
		return nil, fmt.Errorf("invalid item: %w", err)
	}

	return &AddItem{
		Base: operation.NewBase(TypeItemAdd, fmt.Sprintf("Add item %q", item.Name)),
		edit: edit,
		item: item,
	}, nil
}

// Validate checks the target track and source asset exist and the item
// doesn't.
func (o *AddItem) Validate(ctx context.Context) error {
	if _, err := o.edit.Track(ctx, o.item.TrackID); err != nil {
		return fmt.Errorf("could not get target track: %w", err)
	}
	if _, err := o.edit.Asset(ctx, o.item.AssetID); err != nil {
		return fmt.Errorf("could not get source asset: %w", err)
	}
	_, err := o.edit.Item(ctx, o.item.ID)
	if err == nil {
		return fmt.Errorf("item %s: %w", o.item.ID, model.ErrAlreadyExists)
	}
	if !errors.Is(err, model.ErrNotFound) {
		return fmt.Errorf("could not check item: %w", err)
	}
	return nil
}

// Execute builds the proxy from the source asset and adds item and proxy.
func (o *AddItem) Execute(ctx context.Context) (*operation.Result, error) {
	sprite, err := o.edit.BuildSprite(ctx, o.item)
	if err != nil {
		return nil, fmt.Errorf("could not build sprite: %w", err)
	}

	item, err := o.edit.BuildItem(ctx, *sprite, o.item)
	if err != nil {
		return nil, fmt.Errorf("could not build item: %w", err)
	}

	if err := o.edit.AddItem(ctx, *item); err != nil {
		return nil, fmt.Errorf("could not add item: %w", err)
	}
	if err := o.edit.AddSprite(ctx, *sprite); err != nil {
		// Leave the document consistent on our own failure.
		if rmErr := o.edit.RemoveItem(ctx, item.ID); rmErr != nil {
			return nil, fmt.Errorf("could not add sprite (and item cleanup failed: %v): %w", rmErr, err)
		}
		return nil, fmt.Errorf("could not add sprite: %w", err)
	}
	o.spriteID = sprite.ID

	return operation.NewResult(itemRef(item.ID), spriteRef(sprite.ID)), nil
}

// Undo removes the item and its proxy.
func (o *AddItem) Undo(ctx context.Context) error {
	if err := o.edit.RemoveSprite(ctx, o.spriteID); err != nil {
		return fmt.Errorf("could not remove sprite: %w", err)
	}
	if err := o.edit.RemoveItem(ctx, o.item.ID); err != nil {
		return fmt.Errorf("could not remove item: %w", err)
	}
	return nil
}

// RemoveItem deletes an item and its visual proxy. Undo rebuilds the proxy
// from the original media asset (source-of-truth rebuild) before re-adding
// the item.
type RemoveItem struct {
	operation.Base
	edit     editor.Context
	itemID   string
	removed  *model.TimelineItem
	spriteID string
}

// NewRemoveItem creates a new remove-item operation.
func NewRemoveItem(edit editor.Context, itemID string) (*RemoveItem, error) {
	if edit == nil {
		return nil, fmt.Errorf("editor context is required: %w", model.ErrNotValid)
	}
	if itemID == "" {
		return nil, fmt.Errorf("item id is required: %w", model.ErrNotValid)
	}

	return &RemoveItem{
		Base:   operation.NewBase(TypeItemRemove, fmt.Sprintf("Remove item %s", itemID)),
		edit:   edit,
		itemID: itemID,
	}, nil
}

// Validate checks the item exists.
func (o *RemoveItem) Validate(ctx context.Context) error {
	if _, err := o.edit.Item(ctx, o.itemID); err != nil {
		return fmt.Errorf("could not get item: %w", err)
	}
	return nil
}

// Execute captures the item, then removes the proxy and the item.
func (o *RemoveItem) Execute(ctx context.Context) (*operation.Result, error) {
	item, err := o.edit.Item(ctx, o.itemID)
	if err != nil {
		return nil, fmt.Errorf("could not get item: %w", err)
	}

	affected := []string{itemRef(o.itemID)}

	sprite, err := o.edit.SpriteForItem(ctx, o.itemID)
	switch {
	case err == nil:
		if err := o.edit.RemoveSprite(ctx, sprite.ID); err != nil {
			return nil, fmt.Errorf("could not remove sprite: %w", err)
		}
		o.spriteID = sprite.ID
		affected = append(affected, spriteRef(sprite.ID))
	case errors.Is(err, model.ErrNotFound):
		// Item without a proxy (audio-only tracks), nothing to dispose.
		o.spriteID = ""
	default:
		return nil, fmt.Errorf("could not get item sprite: %w", err)
	}

	if err := o.edit.RemoveItem(ctx, o.itemID); err != nil {
		return nil, fmt.Errorf("could not remove item: %w", err)
	}
	o.removed = item

	return operation.NewResult(affected...), nil
}

// Undo rebuilds a fresh proxy from the source asset and restores the item.
func (o *RemoveItem) Undo(ctx context.Context) error {
	if o.removed == nil {
		return fmt.Errorf("no removed item captured: %w", model.ErrNotValid)
	}

	if o.spriteID == "" {
		if err := o.edit.AddItem(ctx, *o.removed); err != nil {
			return fmt.Errorf("could not restore item: %w", err)
		}
		return nil
	}

	sprite, err := o.edit.BuildSprite(ctx, *o.removed)
	if err != nil {
		return fmt.Errorf("could not rebuild sprite from source asset: %w", err)
	}
	item, err := o.edit.BuildItem(ctx, *sprite, *o.removed)
	if err != nil {
		return fmt.Errorf("could not rebuild item: %w", err)
	}

	if err := o.edit.AddItem(ctx, *item); err != nil {
		return fmt.Errorf("could not restore item: %w", err)
	}
	if err := o.edit.AddSprite(ctx, *sprite); err != nil {
		return fmt.Errorf("could not restore sprite: %w", err)
	}
	o.spriteID = sprite.ID

	return nil
}

// MoveItem moves an item to a new start position and optionally another
// track. Consecutive moves of the same item within the merge window collapse
// into one history entry whose undo restores the position before the first
// move.
type MoveItem struct {
	operation.Base
	edit      editor.Context
	itemID    string
	toStart   time.Duration
	toTrack   int // 0 keeps the current track.
	fromStart time.Duration
	fromTrack int
	captured  bool
}

// NewMoveItem creates a new move-item operation. toTrack 0 keeps the item on
// its current track.
func NewMoveItem(edit editor.Context, itemID string, toStart time.Duration, toTrack int) (*MoveItem, error) {
	if edit == nil {
		return nil, fmt.Errorf("editor context is required: %w", model.ErrNotValid)
	}
	if itemID == "" {
		return nil, fmt.Errorf("item id is required: %w", model.ErrNotValid)
	}
	if toStart < 0 {
		return nil, fmt.Errorf("start must not be negative: %w", model.ErrNotValid)
	}
	if toTrack < 0 {
		return nil, fmt.Errorf("track id must not be negative: %w", model.ErrNotValid)
	}

	return &MoveItem{
		Base:    operation.NewBase(TypeItemMove, fmt.Sprintf("Move item %s", itemID)),
		edit:    edit,
		itemID:  itemID,
		toStart: toStart,
		toTrack: toTrack,
	}, nil
}

// Validate checks the item and the target track exist.
func (o *MoveItem) Validate(ctx context.Context) error {
	if _, err := o.edit.Item(ctx, o.itemID); err != nil {
		return fmt.Errorf("could not get item: %w", err)
	}
	if o.toTrack != 0 {
		if _, err := o.edit.Track(ctx, o.toTrack); err != nil {
			return fmt.Errorf("could not get target track: %w", err)
		}
	}
	return nil
}

// Execute captures the current position and applies the move.
func (o *MoveItem) Execute(ctx context.Context) (*operation.Result, error) {
	item, err := o.edit.Item(ctx, o.itemID)
	if err != nil {
		return nil, fmt.Errorf("could not get item: %w", err)
	}

	// The first execution captures the pre-state; re-executions (redo) see
	// the same pre-state again because undo restored it.
	o.fromStart = item.Start
	o.fromTrack = item.TrackID
	o.captured = true

	next := *item
	next.Start = o.toStart
	if o.toTrack != 0 {
		next.TrackID = o.toTrack
	}

	if err := o.edit.UpdateItem(ctx, next); err != nil {
		return nil, fmt.Errorf("could not move item: %w", err)
	}

	return operation.NewResult(itemRef(o.itemID)), nil
}

// Undo restores the position before the (first) move.
func (o *MoveItem) Undo(ctx context.Context) error {
	if !o.captured {
		return fmt.Errorf("no previous position captured: %w", model.ErrNotValid)
	}

	item, err := o.edit.Item(ctx, o.itemID)
	if err != nil {
		return fmt.Errorf("could not get item: %w", err)
	}

	prev := *item
	prev.Start = o.fromStart
	prev.TrackID = o.fromTrack

	if err := o.edit.UpdateItem(ctx, prev); err != nil {
		return fmt.Errorf("could not restore item position: %w", err)
	}
	return nil
}

// MergeKey identifies the move merge family per item.
func (o *MoveItem) MergeKey() string { return TypeItemMove + ":" + o.itemID }

// CanMerge reports whether a subsequent move of the same item can fold in.
func (o *MoveItem) CanMerge(other operation.Operation) bool {
	om, ok := other.(*MoveItem)
	return ok && om.MergeKey() == o.MergeKey()
}

// Merge adopts the latest target position, keeping the original pre-state.
func (o *MoveItem) Merge(other operation.Operation) error {
	om, ok := other.(*MoveItem)
	if !ok || !o.CanMerge(other) {
		return fmt.Errorf("cannot merge %s into %s: %w", other.Type(), o.Type(), model.ErrNotValid)
	}
	o.toStart = om.toStart
	if om.toTrack != 0 {
		o.toTrack = om.toTrack
	}
	return nil
}
