package model

import (
	"fmt"
	"time"
)

// TrackKind represents the media kind a track holds.
type TrackKind string

const (
	// TrackKindVideo indicates a track holding visual items.
	TrackKindVideo TrackKind = "video"
	// TrackKindAudio indicates a track holding audio items.
	TrackKindAudio TrackKind = "audio"
)

// Track represents a horizontal lane of the timeline document.
type Track struct {
	ID     int
	Name   string
	Kind   TrackKind
	Order  int
	Muted  bool
	Locked bool
}

// Validate validates the track.
func (t *Track) Validate() error {
	if t.ID <= 0 {
		return fmt.Errorf("track id must be positive: %w", ErrNotValid)
	}
	if t.Name == "" {
		return fmt.Errorf("track name is required: %w", ErrNotValid)
	}
	switch t.Kind {
	case TrackKindVideo, TrackKindAudio:
	default:
		return fmt.Errorf("unknown track kind %q: %w", t.Kind, ErrNotValid)
	}
	return nil
}

// TimelineItem represents a placed clip on a track, referencing a media asset.
type TimelineItem struct {
	ID         string
	TrackID    int
	AssetID    string
	Name       string
	Start      time.Duration
	Duration   time.Duration
	Gain       float64
	Properties map[string]string
}

// Validate validates the timeline item.
func (i *TimelineItem) Validate() error {
	if i.ID == "" {
		return fmt.Errorf("item id is required: %w", ErrNotValid)
	}
	if i.TrackID <= 0 {
		return fmt.Errorf("item track id must be positive: %w", ErrNotValid)
	}
	if i.AssetID == "" {
		return fmt.Errorf("item asset id is required: %w", ErrNotValid)
	}
	if i.Start < 0 {
		return fmt.Errorf("item start must not be negative: %w", ErrNotValid)
	}
	if i.Duration <= 0 {
		return fmt.Errorf("item duration must be positive: %w", ErrNotValid)
	}
	return nil
}

// End returns the end position of the item on the timeline.
func (i *TimelineItem) End() time.Duration { return i.Start + i.Duration }
