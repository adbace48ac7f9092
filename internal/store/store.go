// Package store defines the durable key-value interface every state container
// persists its snapshot through. Implementations include in-memory (default and
// tests), SQLite (local profile storage), PostgreSQL, Redis, and a Redis
// read-through cache in front of any of them.
package store

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by Get-style helpers when a key has no value.
	ErrNotFound = errors.New("store: key not found")

	// ErrPersist marks a state change that was applied in memory but whose
	// snapshot could not be written.
	ErrPersist = errors.New("store: snapshot not persisted")
)

// KV is the durable storage collaborator. Values are opaque strings; the
// snapshot codec in this package decides their encoding.
type KV interface {
	// Get returns the value stored under key. ok is false when the key is absent.
	Get(ctx context.Context, key string) (value string, ok bool, err error)

	// Set overwrites the value stored under key.
	Set(ctx context.Context, key, value string) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}

// MustGet is like KV.Get but reports a missing key as ErrNotFound.
func MustGet(ctx context.Context, kv KV, key string) (string, error) {
	v, ok, err := kv.Get(ctx, key)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}
