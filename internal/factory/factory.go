// Package factory centralizes construction of concrete operations from plain
// domain data. It is the single registration point for operation types: hosts
// build operations from deserialized UI intents without knowing any concrete
// operation type.
package factory

import (
	"fmt"
	"sort"
	"time"

	"github.com/montagekit/montage/internal/editor"
	"github.com/montagekit/montage/internal/log"
	"github.com/montagekit/montage/internal/model"
	"github.com/montagekit/montage/internal/operation"
	"github.com/montagekit/montage/internal/operation/timelineops"
)

// Builder constructs an operation of one type from its plain parameters.
type Builder func(edit editor.Context, params any) (operation.Operation, error)

// Spec names an operation type plus its parameters, the unit a host submits.
type Spec struct {
	Type   string
	Params any
}

// Parameter types, one per registered operation.
type (
	AddTrackParams    struct{ Track model.Track }
	RemoveTrackParams struct{ TrackID int }
	UpdateTrackParams struct {
		TrackID int
		Changes timelineops.TrackChanges
	}
	AddItemParams    struct{ Item model.TimelineItem }
	RemoveItemParams struct{ ItemID string }
	MoveItemParams   struct {
		ItemID  string
		ToStart time.Duration
		ToTrack int
	}
	TrimItemParams struct {
		ItemID     string
		ToStart    time.Duration
		ToDuration time.Duration
	}
	UpdateItemParams struct {
		ItemID  string
		Changes timelineops.ItemChanges
	}
)

// Config is the configuration for the factory.
type Config struct {
	Editor editor.Context
	Logger log.Logger
}

func (c *Config) defaults() error {
	if c.Editor == nil {
		return fmt.Errorf("editor context is required")
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "factory.Factory"})
	return nil
}

// Factory builds operations through an instance-scoped registry, so
// independent engines (multi-document hosts, tests) never share state.
type Factory struct {
	edit     editor.Context
	builders map[string]Builder
	logger   log.Logger
}

// New creates a factory with all the timeline operation types registered.
func New(cfg Config) (*Factory, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	f := &Factory{
		edit:     cfg.Editor,
		builders: map[string]Builder{},
		logger:   cfg.Logger,
	}
	f.registerDefaults()

	return f, nil
}

// Register adds a builder for a new operation type.
func (f *Factory) Register(opType string, b Builder) error {
	if opType == "" {
		return fmt.Errorf("operation type is required: %w", model.ErrNotValid)
	}
	if b == nil {
		return fmt.Errorf("builder is required: %w", model.ErrNotValid)
	}
	if _, ok := f.builders[opType]; ok {
		return fmt.Errorf("operation type %s: %w", opType, model.ErrAlreadyExists)
	}

	f.builders[opType] = b

	return nil
}

// Build constructs an operation from a spec.
func (f *Factory) Build(spec Spec) (operation.Operation, error) {
	b, ok := f.builders[spec.Type]
	if !ok {
		return nil, fmt.Errorf("operation type %s: %w", spec.Type, model.ErrNotFound)
	}

	op, err := b(f.edit, spec.Params)
	if err != nil {
		return nil, fmt.Errorf("could not build %s: %w", spec.Type, err)
	}

	f.logger.Debugf("Built operation %s (%s)", spec.Type, op.ID())

	return op, nil
}

// BuildComposite builds every child spec, then wraps them in a composite
// with the given strategy. Children are pre-built, the composite never
// reaches into other modules at construction time.
func (f *Factory) BuildComposite(description string, strategy operation.Strategy, specs []Spec) (*operation.Composite, error) {
	children := make([]operation.Operation, 0, len(specs))
	for i, spec := range specs {
		op, err := f.Build(spec)
		if err != nil {
			return nil, fmt.Errorf("could not build child %d: %w", i, err)
		}
		children = append(children, op)
	}

	composite, err := operation.NewComposite(description, strategy, children)
	if err != nil {
		return nil, fmt.Errorf("could not create composite: %w", err)
	}

	return composite, nil
}

// Types returns the registered operation types, sorted.
func (f *Factory) Types() []string {
	types := make([]string, 0, len(f.builders))
	for t := range f.builders {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

func (f *Factory) registerDefaults() {
	f.builders[timelineops.TypeTrackAdd] = func(edit editor.Context, params any) (operation.Operation, error) {
		p, err := paramsAs[AddTrackParams](params)
		if err != nil {
			return nil, err
		}
		return timelineops.NewAddTrack(edit, p.Track)
	}
	f.builders[timelineops.TypeTrackRemove] = func(edit editor.Context, params any) (operation.Operation, error) {
		p, err := paramsAs[RemoveTrackParams](params)
		if err != nil {
			return nil, err
		}
		return timelineops.NewRemoveTrack(edit, p.TrackID)
	}
	f.builders[timelineops.TypeTrackUpdate] = func(edit editor.Context, params any) (operation.Operation, error) {
		p, err := paramsAs[UpdateTrackParams](params)
		if err != nil {
			return nil, err
		}
		return timelineops.NewUpdateTrack(edit, p.TrackID, p.Changes)
	}
	f.builders[timelineops.TypeItemAdd] = func(edit editor.Context, params any) (operation.Operation, error) {
		p, err := paramsAs[AddItemParams](params)
		if err != nil {
			return nil, err
		}
		return timelineops.NewAddItem(edit, p.Item)
	}
	f.builders[timelineops.TypeItemRemove] = func(edit editor.Context, params any) (operation.Operation, error) {
		p, err := paramsAs[RemoveItemParams](params)
		if err != nil {
			return nil, err
		}
		return timelineops.NewRemoveItem(edit, p.ItemID)
	}
	f.builders[timelineops.TypeItemMove] = func(edit editor.Context, params any) (operation.Operation, error) {
		p, err := paramsAs[MoveItemParams](params)
		if err != nil {
			return nil, err
		}
		return timelineops.NewMoveItem(edit, p.ItemID, p.ToStart, p.ToTrack)
	}
	f.builders[timelineops.TypeItemTrim] = func(edit editor.Context, params any) (operation.Operation, error) {
		p, err := paramsAs[TrimItemParams](params)
		if err != nil {
			return nil, err
		}
		return timelineops.NewTrimItem(edit, p.ItemID, p.ToStart, p.ToDuration)
	}
	f.builders[timelineops.TypeItemUpdate] = func(edit editor.Context, params any) (operation.Operation, error) {
		p, err := paramsAs[UpdateItemParams](params)
		if err != nil {
			return nil, err
		}
		return timelineops.NewUpdateItem(edit, p.ItemID, p.Changes)
	}
}

func paramsAs[T any](params any) (T, error) {
	p, ok := params.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("expected %T params, got %T: %w", zero, params, model.ErrNotValid)
	}
	return p, nil
}
