package model

import "errors"

var (
	// ErrNotFound is returned when a resource is not found.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when a resource already exists.
	ErrAlreadyExists = errors.New("already exists")
	// ErrNotValid is returned when a resource is not valid.
	ErrNotValid = errors.New("not valid")
	// ErrNothingToUndo is returned when undo is requested at the start of the history.
	ErrNothingToUndo = errors.New("nothing to undo")
	// ErrNothingToRedo is returned when redo is requested at the end of the history.
	ErrNothingToRedo = errors.New("nothing to redo")
	// ErrNotInitialized is returned when the engine is used before initialization.
	ErrNotInitialized = errors.New("not initialized")
	// ErrQueueCleared is returned on queued operation handles discarded by a queue clear.
	ErrQueueCleared = errors.New("queue cleared")
)
