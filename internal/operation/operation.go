// Package operation defines the reversible operation contract the whole
// engine is built on: atomic operations, composite operations with execution
// strategies, and the opt-in merge contract used to coalesce rapid edits.
package operation

import (
	"context"
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// Operation is a reversible unit of domain mutation.
//
// Execute performs all side effects before returning; Undo reverses the most
// recent Execute. Validate is a read-only precondition check consulted before
// any execute/undo/redo transition, it must not mutate state.
type Operation interface {
	ID() string
	Type() string
	Description() string
	CreatedAt() time.Time
	Validate(ctx context.Context) error
	Execute(ctx context.Context) (*Result, error)
	Undo(ctx context.Context) error
}

// Mergeable is implemented by operations that can fold a subsequent
// compatible operation on the same target into themselves.
//
// After a successful Merge the receiver must keep its original pre-state (so
// its Undo restores the state from before the first operation of the pair)
// and adopt the other operation's post-state.
type Mergeable interface {
	Operation

	// MergeKey identifies the merge family and target, usually
	// "<type>:<target-id>". Two operations can only merge when their keys
	// match.
	MergeKey() string
	CanMerge(other Operation) bool
	Merge(other Operation) error
}

// Result holds the outcome data of a successful (or partially applied)
// operation execution.
type Result struct {
	// AffectedIDs are the ids of the entities the execution touched.
	AffectedIDs []string
	// Data carries optional free-form result values for the caller.
	Data map[string]string
}

// NewResult returns a result for the given affected entity ids.
func NewResult(affectedIDs ...string) *Result {
	return &Result{AffectedIDs: affectedIDs}
}

// Append merges another result's affected ids and data into this one.
func (r *Result) Append(other *Result) {
	if other == nil {
		return
	}
	r.AffectedIDs = append(r.AffectedIDs, other.AffectedIDs...)
	if len(other.Data) > 0 {
		if r.Data == nil {
			r.Data = map[string]string{}
		}
		for k, v := range other.Data {
			r.Data[k] = v
		}
	}
}

// Base carries the identity and descriptive fields shared by every
// operation. Embed it and implement Execute/Undo (and Validate when there are
// preconditions to check).
type Base struct {
	id          string
	opType      string
	description string
	createdAt   time.Time
	metadata    map[string]string
}

// NewBase creates the embedded base for an operation of the given type.
func NewBase(opType, description string) Base {
	return Base{
		id:          ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String(),
		opType:      opType,
		description: description,
		createdAt:   time.Now().UTC(),
	}
}

func (b *Base) ID() string           { return b.id }
func (b *Base) Type() string         { return b.opType }
func (b *Base) Description() string  { return b.description }
func (b *Base) CreatedAt() time.Time { return b.createdAt }

// Validate defaults to no preconditions.
func (b *Base) Validate(ctx context.Context) error { return nil }

// SetMetadata attaches a free-form key/value to the operation.
func (b *Base) SetMetadata(key, value string) {
	if b.metadata == nil {
		b.metadata = map[string]string{}
	}
	b.metadata[key] = value
}

// Metadata returns the metadata value for a key.
func (b *Base) Metadata(key string) (string, bool) {
	v, ok := b.metadata[key]
	return v, ok
}
