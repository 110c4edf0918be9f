// Package kvstore defines the path-addressed key-value store the buffer and
// session state live in. The store offers only get/set/update/delete on a
// path: no transactions, no compare-and-swap. All multi-replica guarantees
// are built on top of this limitation by the ownership protocol in the
// buffer package.
package kvstore

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrNotFound is returned by Get when no record exists at the path.
var ErrNotFound = errors.New("kvstore: not found")

// Store is a path-addressed JSON document store.
// Paths are slash-separated, e.g. "message_buffers/5511999990000".
type Store interface {
	// Get returns the raw JSON value at path, or ErrNotFound.
	Get(ctx context.Context, path string) (json.RawMessage, error)

	// Set replaces the value at path.
	Set(ctx context.Context, path string, value any) error

	// Update merges the given fields into the record at path, creating it
	// if absent. Only top-level fields are merged.
	Update(ctx context.Context, path string, fields map[string]any) error

	// Delete removes the record at path. Deleting a missing path is not an
	// error; the bool reports whether something was removed.
	Delete(ctx context.Context, path string) (bool, error)
}

// GetJSON fetches path and unmarshals it into dst.
func GetJSON(ctx context.Context, s Store, path string, dst any) error {
	raw, err := s.Get(ctx, path)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}

// GetString fetches a scalar string value at path, returning "" on ErrNotFound.
func GetString(ctx context.Context, s Store, path string) (string, error) {
	raw, err := s.Get(ctx, path)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	var v string
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", err
	}
	return v, nil
}

// GetBool fetches a scalar bool value at path, returning false on ErrNotFound.
func GetBool(ctx context.Context, s Store, path string) (bool, error) {
	raw, err := s.Get(ctx, path)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	var v bool
	if err := json.Unmarshal(raw, &v); err != nil {
		return false, err
	}
	return v, nil
}
