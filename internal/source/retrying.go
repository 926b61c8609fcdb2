package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"listingload/internal/retry"
)

// WithRetry wraps List, Read and Put in retry.Do. Missing objects fail at
// once. Read buffers the whole object inside the attempt, so a dropped
// connection mid-body is retried too.
func WithRetry(s Store, p retry.Policy, log *zap.Logger) Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &retryingStore{store: s, policy: p, log: log}
}

type retryingStore struct {
	store  Store
	policy retry.Policy
	log    *zap.Logger
}

func (r *retryingStore) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	return retry.Do(ctx, r.policy, "source."+op, r.log, func(ctx context.Context) error {
		err := fn(ctx)
		if errors.Is(err, ErrObjectNotFound) {
			return retry.Permanent(err)
		}
		return err
	})
}

func (r *retryingStore) List(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error) {
	var out []ObjectInfo
	err := r.do(ctx, "list", func(ctx context.Context) error {
		var err error
		out, err = r.store.List(ctx, bucket, prefix)
		return err
	})
	return out, err
}

func (r *retryingStore) Read(ctx context.Context, ref ObjectRef) (io.ReadCloser, error) {
	var body []byte
	err := r.do(ctx, "read", func(ctx context.Context) error {
		rc, err := r.store.Read(ctx, ref)
		if err != nil {
			return err
		}
		defer rc.Close()
		b, err := io.ReadAll(rc)
		if err != nil {
			return fmt.Errorf("read %s: %w", ref, err)
		}
		body = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(body)), nil
}

// Put buffers the body so each attempt can replay it.
func (r *retryingStore) Put(ctx context.Context, ref ObjectRef, body io.Reader) error {
	b, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("buffer %s: %w", ref, err)
	}
	return r.do(ctx, "put", func(ctx context.Context) error {
		return r.store.Put(ctx, ref, bytes.NewReader(b))
	})
}
