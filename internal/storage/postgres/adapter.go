package postgres

import (
	"context"
	"time"

	"listingload/internal/storage"
)

const defaultPing = 10 * time.Second

// newSink is a test hook that points to Open by default. Tests may replace
// it to avoid real DB connections.
var newSink = func(ctx context.Context, cfg storage.Config) (storage.Sink, error) {
	s, err := Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func init() {
	storage.Register("postgres", func(ctx context.Context, cfg storage.Config) (storage.Sink, error) {
		return newSink(ctx, cfg)
	})
}
