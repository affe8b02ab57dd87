// Package fsblob keeps remote blobs as files below a root directory.
package fsblob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/reelsync/reelsync-agent/internal/remote"
)

type Store struct {
	root string
}

func New(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("create blob root: %w", err)
	}
	return &Store{root: root}, nil
}

// resolve maps a blob path into the root, rejecting traversal.
func (s *Store) resolve(path string) (string, error) {
	segs := remote.Split(path)
	if len(segs) == 0 {
		return "", fmt.Errorf("empty blob path")
	}
	for _, seg := range segs {
		if seg == "." || seg == ".." || strings.ContainsRune(seg, filepath.Separator) {
			return "", fmt.Errorf("invalid blob path %q", path)
		}
	}
	return filepath.Join(append([]string{s.root}, segs...)...), nil
}

// contentType is kept beside the blob so the server can echo it back.
func (s *Store) PutBlob(ctx context.Context, path string, r io.Reader, contentType string) error {
	dest, err := s.resolve(path)
	if err != nil {
		return err
	}
	if err := remote.WriteFileAtomic(dest, r); err != nil {
		return fmt.Errorf("store blob %s: %w", path, err)
	}
	if contentType != "" {
		if err := os.WriteFile(dest+".type", []byte(contentType), 0644); err != nil {
			return fmt.Errorf("store content type %s: %w", path, err)
		}
	}
	return nil
}

func (s *Store) GetBlob(ctx context.Context, path string, maxBytes int64) ([]byte, error) {
	f, err := s.open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	if maxBytes > 0 {
		r = io.LimitReader(f, maxBytes+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read blob %s: %w", path, err)
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return nil, remote.ErrTooLarge
	}
	return data, nil
}

func (s *Store) GetBlobToFile(ctx context.Context, path, dest string) error {
	f, err := s.open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return remote.WriteFileAtomic(dest, f)
}

func (s *Store) DeleteBlob(ctx context.Context, path string) error {
	p, err := s.resolve(path)
	if err != nil {
		return err
	}
	err = errors.Join(os.Remove(p), os.Remove(p+".type"))
	if err != nil && !allNotExist(err) {
		return fmt.Errorf("delete blob %s: %w", path, err)
	}
	return nil
}

// ContentType returns the type recorded at upload, if any.
func (s *Store) ContentType(path string) string {
	p, err := s.resolve(path)
	if err != nil {
		return ""
	}
	b, err := os.ReadFile(p + ".type")
	if err != nil {
		return ""
	}
	return string(b)
}

func (s *Store) open(path string) (*os.File, error) {
	p, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, remote.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open blob %s: %w", path, err)
	}
	return f, nil
}

func allNotExist(err error) bool {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			if e != nil && !errors.Is(e, os.ErrNotExist) {
				return false
			}
		}
		return true
	}
	return errors.Is(err, os.ErrNotExist)
}

// OpenBlob streams a blob without buffering it in memory.
func (s *Store) OpenBlob(ctx context.Context, path string) (io.ReadCloser, error) {
	return s.open(path)
}
