// Package timelineops implements the concrete reversible operations over the
// timeline document: track and item CRUD, movement and trims. Every
// operation mutates the document only through the editor context facade.
package timelineops

import (
	"context"
	"errors"
	"fmt"

	"github.com/montagekit/montage/internal/editor"
	"github.com/montagekit/montage/internal/model"
	"github.com/montagekit/montage/internal/operation"
)

// Operation types of the track family.
const (
	TypeTrackAdd    = "timeline.track.add"
	TypeTrackRemove = "timeline.track.remove"
	TypeTrackUpdate = "timeline.track.update"
)

func trackRef(id int) string { return fmt.Sprintf("track:%d", id) }

// AddTrack creates a track. A zero track ID means "assign the next free
// track number at execution time".
type AddTrack struct {
	operation.Base
	edit  editor.Context
	track model.Track
}

// NewAddTrack creates a new add-track operation.
func NewAddTrack(edit editor.Context, track model.Track) (*AddTrack, error) {
	if edit == nil {
		return nil, fmt.Errorf("editor context is required: %w", model.ErrNotValid)
	}
	if track.Name == "" {
		return nil, fmt.Errorf("track name is required: %w", model.ErrNotValid)
	}

	return &AddTrack{
		Base:  operation.NewBase(TypeTrackAdd, fmt.Sprintf("Add track %q", track.Name)),
		edit:  edit,
		track: track,
	}, nil
}

// Validate checks the track doesn't exist yet.
func (o *AddTrack) Validate(ctx context.Context) error {
	if o.track.ID == 0 {
		return nil
	}
	_, err := o.edit.Track(ctx, o.track.ID)
	if err == nil {
		return fmt.Errorf("track %d: %w", o.track.ID, model.ErrAlreadyExists)
	}
	if !errors.Is(err, model.ErrNotFound) {
		return fmt.Errorf("could not check track: %w", err)
	}
	return nil
}

// Execute creates the track.
func (o *AddTrack) Execute(ctx context.Context) (*operation.Result, error) {
	if o.track.ID == 0 {
		next, err := o.edit.NextTrackNumber(ctx)
		if err != nil {
			return nil, fmt.Errorf("could not get next track number: %w", err)
		}
		o.track.ID = next
	}

	if err := o.edit.CreateTrack(ctx, o.track); err != nil {
		return nil, fmt.Errorf("could not create track: %w", err)
	}

	return operation.NewResult(trackRef(o.track.ID)), nil
}

// Undo removes the created track.
func (o *AddTrack) Undo(ctx context.Context) error {
	if err := o.edit.RemoveTrack(ctx, o.track.ID); err != nil {
		return fmt.Errorf("could not remove track: %w", err)
	}
	return nil
}

// TrackID returns the track ID, valid after the first execution for
// auto-assigned tracks.
func (o *AddTrack) TrackID() int { return o.track.ID }

// RemoveTrack removes an empty track, restoring it on undo.
type RemoveTrack struct {
	operation.Base
	edit    editor.Context
	trackID int
	removed *model.Track
}

// NewRemoveTrack creates a new remove-track operation.
func NewRemoveTrack(edit editor.Context, trackID int) (*RemoveTrack, error) {
	if edit == nil {
		return nil, fmt.Errorf("editor context is required: %w", model.ErrNotValid)
	}
	if trackID <= 0 {
		return nil, fmt.Errorf("track id must be positive: %w", model.ErrNotValid)
	}

	return &RemoveTrack{
		Base:    operation.NewBase(TypeTrackRemove, fmt.Sprintf("Remove track %d", trackID)),
		edit:    edit,
		trackID: trackID,
	}, nil
}

// Validate checks the track exists and holds no items.
func (o *RemoveTrack) Validate(ctx context.Context) error {
	if _, err := o.edit.Track(ctx, o.trackID); err != nil {
		return fmt.Errorf("could not get track: %w", err)
	}
	items, err := o.edit.ItemsInTrack(ctx, o.trackID)
	if err != nil {
		return fmt.Errorf("could not list track items: %w", err)
	}
	if len(items) > 0 {
		return fmt.Errorf("track %d still has %d items: %w", o.trackID, len(items), model.ErrNotValid)
	}
	return nil
}

// Execute captures the track state and removes it.
func (o *RemoveTrack) Execute(ctx context.Context) (*operation.Result, error) {
	track, err := o.edit.Track(ctx, o.trackID)
	if err != nil {
		return nil, fmt.Errorf("could not get track: %w", err)
	}

	if err := o.edit.RemoveTrack(ctx, o.trackID); err != nil {
		return nil, fmt.Errorf("could not remove track: %w", err)
	}
	o.removed = track

	return operation.NewResult(trackRef(o.trackID)), nil
}

// Undo recreates the removed track.
func (o *RemoveTrack) Undo(ctx context.Context) error {
	if o.removed == nil {
		return fmt.Errorf("no removed track captured: %w", model.ErrNotValid)
	}
	if err := o.edit.CreateTrack(ctx, *o.removed); err != nil {
		return fmt.Errorf("could not restore track: %w", err)
	}
	return nil
}

// TrackChanges are the mutable track fields an update can set.
type TrackChanges struct {
	Name   *string
	Muted  *bool
	Locked *bool
	Order  *int
}

func (c TrackChanges) empty() bool {
	return c.Name == nil && c.Muted == nil && c.Locked == nil && c.Order == nil
}

func (c *TrackChanges) overlay(other TrackChanges) {
	if other.Name != nil {
		c.Name = other.Name
	}
	if other.Muted != nil {
		c.Muted = other.Muted
	}
	if other.Locked != nil {
		c.Locked = other.Locked
	}
	if other.Order != nil {
		c.Order = other.Order
	}
}

// UpdateTrack applies partial changes to a track. Consecutive updates of the
// same track within the merge window collapse into one history entry.
type UpdateTrack struct {
	operation.Base
	edit    editor.Context
	trackID int
	changes TrackChanges
	prev    *model.Track
}

// NewUpdateTrack creates a new update-track operation.
func NewUpdateTrack(edit editor.Context, trackID int, changes TrackChanges) (*UpdateTrack, error) {
	if edit == nil {
		return nil, fmt.Errorf("editor context is required: %w", model.ErrNotValid)
	}
	if trackID <= 0 {
		return nil, fmt.Errorf("track id must be positive: %w", model.ErrNotValid)
	}
	if changes.empty() {
		return nil, fmt.Errorf("no changes given: %w", model.ErrNotValid)
	}

	return &UpdateTrack{
		Base:    operation.NewBase(TypeTrackUpdate, fmt.Sprintf("Update track %d", trackID)),
		edit:    edit,
		trackID: trackID,
		changes: changes,
	}, nil
}

// Validate checks the track exists.
func (o *UpdateTrack) Validate(ctx context.Context) error {
	if _, err := o.edit.Track(ctx, o.trackID); err != nil {
		return fmt.Errorf("could not get track: %w", err)
	}
	return nil
}

// Execute captures the previous track state and applies the changes.
func (o *UpdateTrack) Execute(ctx context.Context) (*operation.Result, error) {
	track, err := o.edit.Track(ctx, o.trackID)
	if err != nil {
		return nil, fmt.Errorf("could not get track: %w", err)
	}
	prev := *track

	next := *track
	if o.changes.Name != nil {
		next.Name = *o.changes.Name
	}
	if o.changes.Muted != nil {
		next.Muted = *o.changes.Muted
	}
	if o.changes.Locked != nil {
		next.Locked = *o.changes.Locked
	}
	if o.changes.Order != nil {
		next.Order = *o.changes.Order
	}

	if err := o.edit.UpdateTrack(ctx, next); err != nil {
		return nil, fmt.Errorf("could not update track: %w", err)
	}
	o.prev = &prev

	return operation.NewResult(trackRef(o.trackID)), nil
}

// Undo restores the captured previous track state.
func (o *UpdateTrack) Undo(ctx context.Context) error {
	if o.prev == nil {
		return fmt.Errorf("no previous track captured: %w", model.ErrNotValid)
	}
	if err := o.edit.UpdateTrack(ctx, *o.prev); err != nil {
		return fmt.Errorf("could not restore track: %w", err)
	}
	return nil
}

// MergeKey identifies the update-track merge family per track.
func (o *UpdateTrack) MergeKey() string { return fmt.Sprintf("%s:%d", TypeTrackUpdate, o.trackID) }

// CanMerge reports whether a subsequent update of the same track can fold in.
func (o *UpdateTrack) CanMerge(other operation.Operation) bool {
	ou, ok := other.(*UpdateTrack)
	return ok && ou.MergeKey() == o.MergeKey()
}

// Merge folds a subsequent update into this one: the original pre-state is
// kept for undo, the latest changes win for redo.
func (o *UpdateTrack) Merge(other operation.Operation) error {
	ou, ok := other.(*UpdateTrack)
	if !ok || !o.CanMerge(other) {
		return fmt.Errorf("cannot merge %s into %s: %w", other.Type(), o.Type(), model.ErrNotValid)
	}
	o.changes.overlay(ou.changes)
	return nil
}
