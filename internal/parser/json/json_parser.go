// Package json decodes JSON source objects into documents.
//
// Accepted shapes:
//
//   - newline-delimited objects (NDJSON / JSON Lines);
//   - a top-level array of objects;
//   - a single object, optionally holding the records under records_key.
//
// Numbers are kept as json.Number so coercion decides how to read them.
package json

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"listingload/internal/config"
	"listingload/internal/parser"
)

func init() {
	parser.Register("json", func(o config.Options) (parser.Parser, error) {
		return New(FromConfigOptions(o)), nil
	})
	parser.Register("ndjson", func(o config.Options) (parser.Parser, error) {
		return New(FromConfigOptions(o)), nil
	})
}

// Options tunes decoding.
//
//   - "allow_arrays" (bool, default true): accept a top-level array.
//   - "records_key" (string): when the root is one object whose records_key
//     field is an array, expand that array.
type Options struct {
	AllowArrays bool
	RecordsKey  string
}

// FromConfigOptions reads Options from the parser's option bag.
func FromConfigOptions(o config.Options) Options {
	return Options{
		AllowArrays: o.Bool("allow_arrays", true),
		RecordsKey:  o.String("records_key", ""),
	}
}

// Parser implements parser.Parser for JSON.
type Parser struct{ opt Options }

// New returns a JSON parser.
func New(opt Options) *Parser { return &Parser{opt: opt} }

// Parse decodes every top-level value in r.
func (p *Parser) Parse(ctx context.Context, r io.Reader) ([]any, error) {
	return DecodeAll(ctx, r, p.opt)
}

// Decoder reads top-level JSON values one at a time.
type Decoder struct {
	dec *json.Decoder
}

// NewDecoder wraps r with UseNumber enabled.
func NewDecoder(r io.Reader) *Decoder {
	d := json.NewDecoder(r)
	d.UseNumber()
	return &Decoder{dec: d}
}

// Next returns the next top-level value, or io.EOF.
func (d *Decoder) Next() (any, error) {
	var raw any
	if err := d.dec.Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("json parser: decode: %w", err)
	}
	return raw, nil
}

// DecodeAll reads every top-level value in r. Arrays are expanded into their
// elements; non-object elements are kept and later treated as empty
// documents by the transformer. The context is checked between values.
func DecodeAll(ctx context.Context, r io.Reader, opt Options) ([]any, error) {
	d := NewDecoder(r)
	var out []any
	for n := 0; ; n++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		v, err := d.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		switch x := v.(type) {
		case []any:
			if !opt.AllowArrays {
				return nil, fmt.Errorf("json parser: top-level array at value %d but allow_arrays=false", n)
			}
			out = append(out, x...)
		case map[string]any:
			if opt.RecordsKey != "" {
				if arr, ok := x[opt.RecordsKey].([]any); ok {
					out = append(out, arr...)
					continue
				}
			}
			out = append(out, x)
		default:
			out = append(out, x)
		}
	}
	if out == nil {
		out = []any{}
	}
	return out, nil
}
