// Package source is the object-storage boundary: listing, reading and
// writing objects, plus selection of the latest eligible source object.
package source

import (
	"context"
	"errors"
	"io"
	"time"
)

// ObjectInfo describes one listed object.
type ObjectInfo struct {
	Name      string
	Size      int64
	UpdatedAt time.Time
}

// ObjectRef names one object.
type ObjectRef struct {
	Bucket string
	Name   string
}

func (r ObjectRef) String() string { return r.Bucket + "/" + r.Name }

// Store is an object store. Names are slash-separated and relative to the
// bucket.
type Store interface {
	List(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error)
	Read(ctx context.Context, ref ObjectRef) (io.ReadCloser, error)
	Put(ctx context.Context, ref ObjectRef, r io.Reader) error
}

// ErrSourceNotFound means no object matched. Runs treat it as "nothing to
// do", not as a failure.
var ErrSourceNotFound = errors.New("no eligible source object")

// ErrObjectNotFound is returned by Read for a missing object.
var ErrObjectNotFound = errors.New("object not found")
