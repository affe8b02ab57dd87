// Package remote defines the contract the sync engine needs from the remote
// store: a path-addressed tree database plus a path-addressed blob store.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
)

var ErrNotFound = errors.New("remote: not found")

// Tree is a path-addressed JSON tree database. Paths are slash-joined segments.
type Tree interface {
	// Get returns the JSON value at path, or ErrNotFound.
	Get(ctx context.Context, path string) (json.RawMessage, error)
	// Set replaces the subtree at path with value.
	Set(ctx context.Context, path string, value any) error
	// Delete removes the subtree at path. Deleting an absent path succeeds.
	Delete(ctx context.Context, path string) error
	// AppendChild stores value under a new generated key below parentPath.
	AppendChild(ctx context.Context, parentPath string, value any) (string, error)
	// QueryByChildEquals returns the children of path whose field equals value.
	QueryByChildEquals(ctx context.Context, path, field, value string) (map[string]json.RawMessage, error)
}

// Blobs is a path-addressed binary store.
type Blobs interface {
	PutBlob(ctx context.Context, path string, r io.Reader, contentType string) error
	// GetBlob reads at most maxBytes; larger blobs fail with ErrTooLarge.
	// Absent blobs fail with ErrNotFound.
	GetBlob(ctx context.Context, path string, maxBytes int64) ([]byte, error)
	// GetBlobToFile downloads the blob to dest, replacing it atomically.
	GetBlobToFile(ctx context.Context, path, dest string) error
	// DeleteBlob removes the blob. Deleting an absent blob succeeds.
	DeleteBlob(ctx context.Context, path string) error
}

// Store is the full remote collaborator.
type Store interface {
	Tree
	Blobs
}

var ErrTooLarge = errors.New("remote: blob exceeds size limit")

// IsPermanent reports whether retrying the failed operation cannot succeed:
// the object is gone, too large, or the store rejected the request outright.
// Errors that carry an IsRetryable method decide for themselves; anything
// else, including timeouts and dropped connections, is treated as transient.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrTooLarge) {
		return true
	}
	var r interface{ IsRetryable() bool }
	if errors.As(err, &r) {
		return !r.IsRetryable()
	}
	return false
}

type composite struct {
	Tree
	Blobs
}

// Compose joins independent tree and blob implementations into a Store.
func Compose(t Tree, b Blobs) Store {
	return composite{Tree: t, Blobs: b}
}

// Join builds a path from segments, dropping empty ones and stray slashes.
func Join(segments ...string) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		s = strings.Trim(s, "/")
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "/")
}

// Split returns the non-empty segments of path.
func Split(path string) []string {
	var out []string
	for _, s := range strings.Split(path, "/") {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// GetInto decodes the value at path into v. It reports false when the path is absent.
func GetInto(ctx context.Context, t Tree, path string, v any) (bool, error) {
	raw, err := t.Get(ctx, path)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, err
	}
	return true, nil
}
