package model

import (
	"fmt"
	"time"
)

// AssetKind represents the kind of a media asset.
type AssetKind string

const (
	AssetKindVideo AssetKind = "video"
	AssetKindAudio AssetKind = "audio"
	AssetKindImage AssetKind = "image"
)

// MediaAsset represents a source media reference in the catalog. Assets are
// the source of truth timeline items and sprites are rebuilt from.
type MediaAsset struct {
	ID        string
	Name      string
	Kind      AssetKind
	Path      string
	Duration  time.Duration
	CreatedAt time.Time
}

// Validate validates the media asset.
func (a *MediaAsset) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("asset id is required: %w", ErrNotValid)
	}
	if a.Name == "" {
		return fmt.Errorf("asset name is required: %w", ErrNotValid)
	}
	switch a.Kind {
	case AssetKindVideo, AssetKindAudio, AssetKindImage:
	default:
		return fmt.Errorf("unknown asset kind %q: %w", a.Kind, ErrNotValid)
	}
	if a.Path == "" {
		return fmt.Errorf("asset path is required: %w", ErrNotValid)
	}
	if a.Duration < 0 {
		return fmt.Errorf("asset duration must not be negative: %w", ErrNotValid)
	}
	return nil
}

// Sprite represents the visual proxy of a timeline item on the canvas. The
// renderer owns the expensive native resource behind it; the engine only
// tracks identity and placement so proxies can be rebuilt from their asset.
type Sprite struct {
	ID      string
	ItemID  string
	AssetID string
	Layer   int
	X       float64
	Y       float64
	Width   float64
	Height  float64
}

// Validate validates the sprite.
func (s *Sprite) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("sprite id is required: %w", ErrNotValid)
	}
	if s.ItemID == "" {
		return fmt.Errorf("sprite item id is required: %w", ErrNotValid)
	}
	if s.AssetID == "" {
		return fmt.Errorf("sprite asset id is required: %w", ErrNotValid)
	}
	return nil
}
