package store

import "errors"

var (
	// ErrNotFound is returned when no blob exists for the given key in the
	// underlying store.
	ErrNotFound = errors.New("blob not found")
)
