// Package file implements a local filesystem-backed object store. A bucket
// is a directory under the store root; object names are slash-separated
// paths relative to it.
package file

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"listingload/internal/source"
)

// Store serves objects from disk.
type Store struct{ root string }

// New returns a Store rooted at root. An empty root means the working
// directory, so buckets may also be absolute paths.
func New(root string) *Store { return &Store{root: root} }

func (s *Store) dir(bucket string) string {
	if filepath.IsAbs(bucket) || s.root == "" {
		return filepath.Clean(bucket)
	}
	return filepath.Join(s.root, bucket)
}

func (s *Store) path(ref source.ObjectRef) (string, error) {
	clean := path.Clean("/" + ref.Name)
	if clean == "/" {
		return "", fmt.Errorf("file: empty object name in %s", ref.Bucket)
	}
	return filepath.Join(s.dir(ref.Bucket), filepath.FromSlash(clean[1:])), nil
}

// List walks the bucket directory and returns every regular file whose
// relative name starts with prefix.
func (s *Store) List(ctx context.Context, bucket, prefix string) ([]source.ObjectInfo, error) {
	root := s.dir(bucket)
	var out []source.ObjectInfo
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		if !strings.HasPrefix(name, prefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		out = append(out, source.ObjectInfo{Name: name, Size: info.Size(), UpdatedAt: info.ModTime().UTC()})
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("list %s: %w", root, source.ErrObjectNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", root, err)
	}
	return out, nil
}

// Read opens the object for reading. If ctx is already done it returns the
// context error without touching the filesystem.
func (s *Store) Read(ctx context.Context, ref source.ObjectRef) (io.ReadCloser, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	p, err := s.path(ref)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("open %s: %w", p, source.ErrObjectNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", p, err)
	}
	return f, nil
}

// Put writes the object through a temp file and a rename, so readers never
// see a partial object.
func (s *Store) Put(ctx context.Context, ref source.ObjectRef, r io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := s.path(ref)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", filepath.Dir(p), err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(p), ".put-*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", p, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", p, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", p, err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return fmt.Errorf("rename %s: %w", p, err)
	}
	return nil
}
