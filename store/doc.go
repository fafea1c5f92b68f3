// Package store contains concrete implementations of the core.BlobStore.
//
// The canonical BlobStore interface lives in the core package to avoid
// dependency cycles and keep domain contracts central. Implementation packages
// like this one (in-memory, Redis, cloud object stores, etc.) provide storage
// backends that can be swapped without touching calling code.
//
// Only lightweight implementation specific types should live here. Callers
// should depend on the core interface rather than concrete types so they can
// substitute alternative persistence layers in tests or production.
package store
