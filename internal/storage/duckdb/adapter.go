package duckdb

import (
	"context"

	"listingload/internal/storage"
)

// newSink is a test hook that points to Open by default.
var newSink = func(ctx context.Context, cfg storage.Config) (storage.Sink, error) {
	s, err := Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func init() {
	storage.Register("duckdb", func(ctx context.Context, cfg storage.Config) (storage.Sink, error) {
		return newSink(ctx, cfg)
	})
}
