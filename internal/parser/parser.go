// Package parser turns a source object's bytes into raw documents. Parsers
// are registered by kind; the envelope options select where inside each
// decoded row the listing document lives.
package parser

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"listingload/internal/config"
)

// Parser decodes a whole object into documents. Documents are the decoded
// values as-is (maps, slices, json.Number, strings, ...).
type Parser interface {
	Parse(ctx context.Context, r io.Reader) ([]any, error)
}

// Factory builds a Parser from its free-form options.
type Factory func(opts config.Options) (Parser, error)

var (
	mu       sync.RWMutex
	registry = map[string]Factory{}
)

// Register makes a parser kind available to New. Later registrations win.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	registry[strings.ToLower(kind)] = f
}

// New builds the parser for kind and wraps it with the envelope options
// (document_column, record_path) when they are set.
func New(kind string, opts config.Options) (Parser, error) {
	mu.RLock()
	f, ok := registry[strings.ToLower(kind)]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("parser: unsupported kind %q (known: %s)", kind, strings.Join(Kinds(), ", "))
	}
	p, err := f(opts)
	if err != nil {
		return nil, fmt.Errorf("parser %s: %w", kind, err)
	}
	env, err := EnvelopeFromOptions(opts)
	if err != nil {
		return nil, fmt.Errorf("parser %s: %w", kind, err)
	}
	if env.IsZero() {
		return p, nil
	}
	return &enveloped{inner: p, env: env}, nil
}

// Kinds lists registered kinds in sorted order.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

type enveloped struct {
	inner Parser
	env   Envelope
}

func (e *enveloped) Parse(ctx context.Context, r io.Reader) ([]any, error) {
	docs, err := e.inner.Parse(ctx, r)
	if err != nil {
		return nil, err
	}
	return e.env.Apply(docs), nil
}
