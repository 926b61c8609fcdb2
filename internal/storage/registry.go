package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Config carries what a backend needs to open a Sink.
type Config struct {
	Kind string
	DSN  string

	// StagingSchema, when set, is where staging tables are created.
	StagingSchema string

	// Options holds backend-specific settings (pool sizes, snowflake account
	// fields, etc.).
	Options map[string]any

	Logger *zap.Logger
}

// Factory opens a Sink for cfg.
type Factory func(ctx context.Context, cfg Config) (Sink, error)

var (
	regMu     sync.RWMutex
	factories = map[string]Factory{}
)

// Register installs (or replaces) the factory for kind. Backends call it from
// init.
func Register(kind string, f Factory) {
	regMu.Lock()
	defer regMu.Unlock()
	factories[kind] = f
}

// New opens a Sink of cfg.Kind.
func New(ctx context.Context, cfg Config) (Sink, error) {
	regMu.RLock()
	f, ok := factories[cfg.Kind]
	regMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported storage.kind=%s", cfg.Kind)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.L().Named("storage." + cfg.Kind)
	}
	return f(ctx, cfg)
}

// ListKinds returns registered kinds in sorted order.
func ListKinds() []string {
	regMu.RLock()
	defer regMu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// OptString reads a string option.
func (c Config) OptString(key, def string) string {
	if v, ok := c.Options[key].(string); ok && v != "" {
		return v
	}
	return def
}

// OptInt reads an integer option; JSON numbers arrive as float64.
func (c Config) OptInt(key string, def int) int {
	switch v := c.Options[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return def
}
