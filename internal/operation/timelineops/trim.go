package timelineops

import (
	"context"
	"fmt"
	"time"

	"github.com/montagekit/montage/internal/editor"
	"github.com/montagekit/montage/internal/model"
	"github.com/montagekit/montage/internal/operation"
)

// TrimItem changes an item's start/duration pair (dragging a clip handle).
// Consecutive trims of the same item merge like moves do.
type TrimItem struct {
	operation.Base
	edit         editor.Context
	itemID       string
	toStart      time.Duration
	toDuration   time.Duration
	fromStart    time.Duration
	fromDuration time.Duration
	captured     bool
}

// NewTrimItem creates a new trim-item operation.
func NewTrimItem(edit editor.Context, itemID string, toStart, toDuration time.Duration) (*TrimItem, error) {
	if edit == nil {
		return nil, fmt.Errorf("editor context is required: %w", model.ErrNotValid)
	}
	if itemID == "" {
		return nil, fmt.Errorf("item id is required: %w", model.ErrNotValid)
	}
	if toStart < 0 {
		return nil, fmt.Errorf("start must not be negative: %w", model.ErrNotValid)
	}
	if toDuration <= 0 {
		return nil, fmt.Errorf("duration must be positive: %w", model.ErrNotValid)
	}

	return &TrimItem{
		Base:       operation.NewBase(TypeItemTrim, fmt.Sprintf("Trim item %s", itemID)),
		edit:       edit,
		itemID:     itemID,
		toStart:    toStart,
		toDuration: toDuration,
	}, nil
}

// Validate checks the item exists and the trim fits its source asset.
func (o *TrimItem) Validate(ctx context.Context) error {
	item, err := o.edit.Item(ctx, o.itemID)
	if err != nil {
		return fmt.Errorf("could not get item: %w", err)
	}

	asset, err := o.edit.Asset(ctx, item.AssetID)
	if err != nil {
		return fmt.Errorf("could not get source asset: %w", err)
	}
	// Image assets have no intrinsic duration to exceed.
	if asset.Duration > 0 && o.toDuration > asset.Duration {
		return fmt.Errorf("trim duration %s exceeds asset duration %s: %w", o.toDuration, asset.Duration, model.ErrNotValid)
	}

	return nil
}

// Execute captures the current extent and applies the trim.
func (o *TrimItem) Execute(ctx context.Context) (*operation.Result, error) {
	item, err := o.edit.Item(ctx, o.itemID)
	if err != nil {
		return nil, fmt.Errorf("could not get item: %w", err)
	}

	o.fromStart = item.Start
	o.fromDuration = item.Duration
	o.captured = true

	next := *item
	next.Start = o.toStart
	next.Duration = o.toDuration

	if err := o.edit.UpdateItem(ctx, next); err != nil {
		return nil, fmt.Errorf("could not trim item: %w", err)
	}

	return operation.NewResult(itemRef(o.itemID)), nil
}

// Undo restores the extent before the (first) trim.
func (o *TrimItem) Undo(ctx context.Context) error {
	if !o.captured {
		return fmt.Errorf("no previous extent captured: %w", model.ErrNotValid)
	}

	item, err := o.edit.Item(ctx, o.itemID)
	if err != nil {
		return fmt.Errorf("could not get item: %w", err)
	}

	prev := *item
	prev.Start = o.fromStart
	prev.Duration = o.fromDuration

	if err := o.edit.UpdateItem(ctx, prev); err != nil {
		return fmt.Errorf("could not restore item extent: %w", err)
	}
	return nil
}

// MergeKey identifies the trim merge family per item.
func (o *TrimItem) MergeKey() string { return TypeItemTrim + ":" + o.itemID }

// CanMerge reports whether a subsequent trim of the same item can fold in.
func (o *TrimItem) CanMerge(other operation.Operation) bool {
	ot, ok := other.(*TrimItem)
	return ok && ot.MergeKey() == o.MergeKey()
}

// Merge adopts the latest extent, keeping the original pre-state.
func (o *TrimItem) Merge(other operation.Operation) error {
	ot, ok := other.(*TrimItem)
	if !ok || !o.CanMerge(other) {
		return fmt.Errorf("cannot merge %s into %s: %w", other.Type(), o.Type(), model.ErrNotValid)
	}
	o.toStart = ot.toStart
	o.toDuration = ot.toDuration
	return nil
}

// ItemChanges are the cosmetic item fields an update can set.
type ItemChanges struct {
	Name       *string
	Gain       *float64
	Properties map[string]string
}

func (c ItemChanges) empty() bool {
	return c.Name == nil && c.Gain == nil && len(c.Properties) == 0
}

func (c *ItemChanges) overlay(other ItemChanges) {
	if other.Name != nil {
		c.Name = other.Name
	}
	if other.Gain != nil {
		c.Gain = other.Gain
	}
	if len(other.Properties) > 0 {
		if c.Properties == nil {
			c.Properties = map[string]string{}
		}
		for k, v := range other.Properties {
			c.Properties[k] = v
		}
	}
}

// UpdateItem applies partial cosmetic changes (name, gain, properties) to an
// item. Mergeable per item like moves and trims.
type UpdateItem struct {
	operation.Base
	edit    editor.Context
	itemID  string
	changes ItemChanges
	prev    *model.TimelineItem
}

// NewUpdateItem creates a new update-item operation.
func NewUpdateItem(edit editor.Context, itemID string, changes ItemChanges) (*UpdateItem, error) {
	if edit == nil {
		return nil, fmt.Errorf("editor context is required: %w", model.ErrNotValid)
	}
	if itemID == "" {
		return nil, fmt.Errorf("item id is required: %w", model.ErrNotValid)
	}
	if changes.empty() {
		return nil, fmt.Errorf("no changes given: %w", model.ErrNotValid)
	}

	return &UpdateItem{
		Base:    operation.NewBase(TypeItemUpdate, fmt.Sprintf("Update item %s", itemID)),
		edit:    edit,
		itemID:  itemID,
		changes: changes,
	}, nil
}

// Validate checks the item exists.
func (o *UpdateItem) Validate(ctx context.Context) error {
	if _, err := o.edit.Item(ctx, o.itemID); err != nil {
		return fmt.Errorf("could not get item: %w", err)
	}
	return nil
}

// Execute captures the previous item state and applies the changes.
func (o *UpdateItem) Execute(ctx context.Context) (*operation.Result, error) {
	item, err := o.edit.Item(ctx, o.itemID)
	if err != nil {
		return nil, fmt.Errorf("could not get item: %w", err)
	}
	prev := *item
	prev.Properties = copyProperties(item.Properties)

	next := *item
	next.Properties = copyProperties(item.Properties)
	if o.changes.Name != nil {
		next.Name = *o.changes.Name
	}
	if o.changes.Gain != nil {
		next.Gain = *o.changes.Gain
	}
	if len(o.changes.Properties) > 0 {
		if next.Properties == nil {
			next.Properties = map[string]string{}
		}
		for k, v := range o.changes.Properties {
			next.Properties[k] = v
		}
	}

	if err := o.edit.UpdateItem(ctx, next); err != nil {
		return nil, fmt.Errorf("could not update item: %w", err)
	}
	o.prev = &prev

	return operation.NewResult(itemRef(o.itemID)), nil
}

// Undo restores the captured previous item state.
func (o *UpdateItem) Undo(ctx context.Context) error {
	if o.prev == nil {
		return fmt.Errorf("no previous item captured: %w", model.ErrNotValid)
	}
	if err := o.edit.UpdateItem(ctx, *o.prev); err != nil {
		return fmt.Errorf("could not restore item: %w", err)
	}
	return nil
}

// MergeKey identifies the update merge family per item.
func (o *UpdateItem) MergeKey() string { return TypeItemUpdate + ":" + o.itemID }

// CanMerge reports whether a subsequent update of the same item can fold in.
func (o *UpdateItem) CanMerge(other operation.Operation) bool {
	ou, ok := other.(*UpdateItem)
	return ok && ou.MergeKey() == o.MergeKey()
}

// Merge folds a subsequent update into this one.
func (o *UpdateItem) Merge(other operation.Operation) error {
	ou, ok := other.(*UpdateItem)
	if !ok || !o.CanMerge(other) {
		return fmt.Errorf("cannot merge %s into %s: %w", other.Type(), o.Type(), model.ErrNotValid)
	}
	o.changes.overlay(ou.changes)
	return nil
}

func copyProperties(props map[string]string) map[string]string {
	if props == nil {
		return nil
	}
	out := make(map[string]string, len(props))
	for k, v := range props {
		out[k] = v
	}
	return out
}
