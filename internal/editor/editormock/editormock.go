// Package editormock provides a testify mock of the editor context facade.
package editormock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/montagekit/montage/internal/editor"
	"github.com/montagekit/montage/internal/model"
)

// MockContext is a mock implementation of editor.Context.
type MockContext struct {
	mock.Mock
}

var _ editor.Context = (*MockContext)(nil)

func (m *MockContext) Item(ctx context.Context, id string) (*model.TimelineItem, error) {
	args := m.Called(ctx, id)
	var item *model.TimelineItem
	if args.Get(0) != nil {
		item = args.Get(0).(*model.TimelineItem)
	}
	return item, args.Error(1)
}

func (m *MockContext) AddItem(ctx context.Context, item model.TimelineItem) error {
	args := m.Called(ctx, item)
	return args.Error(0)
}

func (m *MockContext) RemoveItem(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockContext) ItemsInTrack(ctx context.Context, trackID int) ([]model.TimelineItem, error) {
	args := m.Called(ctx, trackID)
	var items []model.TimelineItem
	if args.Get(0) != nil {
		items = args.Get(0).([]model.TimelineItem)
	}
	return items, args.Error(1)
}

func (m *MockContext) UpdateItem(ctx context.Context, item model.TimelineItem) error {
	args := m.Called(ctx, item)
	return args.Error(0)
}

func (m *MockContext) Track(ctx context.Context, id int) (*model.Track, error) {
	args := m.Called(ctx, id)
	var track *model.Track
	if args.Get(0) != nil {
		track = args.Get(0).(*model.Track)
	}
	return track, args.Error(1)
}

func (m *MockContext) CreateTrack(ctx context.Context, track model.Track) error {
	args := m.Called(ctx, track)
	return args.Error(0)
}

func (m *MockContext) RemoveTrack(ctx context.Context, id int) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockContext) UpdateTrack(ctx context.Context, track model.Track) error {
	args := m.Called(ctx, track)
	return args.Error(0)
}

func (m *MockContext) NextTrackNumber(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *MockContext) Asset(ctx context.Context, id string) (*model.MediaAsset, error) {
	args := m.Called(ctx, id)
	var asset *model.MediaAsset
	if args.Get(0) != nil {
		asset = args.Get(0).(*model.MediaAsset)
	}
	return asset, args.Error(1)
}

func (m *MockContext) AddSprite(ctx context.Context, sprite model.Sprite) error {
	args := m.Called(ctx, sprite)
	return args.Error(0)
}

func (m *MockContext) RemoveSprite(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockContext) SpriteForItem(ctx context.Context, itemID string) (*model.Sprite, error) {
	args := m.Called(ctx, itemID)
	var sprite *model.Sprite
	if args.Get(0) != nil {
		sprite = args.Get(0).(*model.Sprite)
	}
	return sprite, args.Error(1)
}

func (m *MockContext) BuildSprite(ctx context.Context, item model.TimelineItem) (*model.Sprite, error) {
	args := m.Called(ctx, item)
	var sprite *model.Sprite
	if args.Get(0) != nil {
		sprite = args.Get(0).(*model.Sprite)
	}
	return sprite, args.Error(1)
}

func (m *MockContext) BuildItem(ctx context.Context, sprite model.Sprite, item model.TimelineItem) (*model.TimelineItem, error) {
	args := m.Called(ctx, sprite, item)
	var built *model.TimelineItem
	if args.Get(0) != nil {
		built = args.Get(0).(*model.TimelineItem)
	}
	return built, args.Error(1)
}
