// Package parquet decodes Parquet source objects into documents. Each row
// becomes one map keyed by column name; nested struct and list columns keep
// their shape.
package parquet

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/apache/arrow/go/v16/arrow/array"
	"github.com/apache/arrow/go/v16/arrow/memory"
	"github.com/apache/arrow/go/v16/parquet/file"
	"github.com/apache/arrow/go/v16/parquet/pqarrow"

	"listingload/internal/config"
	"listingload/internal/parser"
	jsonparser "listingload/internal/parser/json"
)

func init() {
	parser.Register("parquet", func(o config.Options) (parser.Parser, error) {
		return New(o.Int("batch_size", 1024)), nil
	})
}

// Parser implements parser.Parser for Parquet.
type Parser struct{ batchSize int64 }

// New returns a parser reading batchSize rows per arrow record.
func New(batchSize int) *Parser {
	if batchSize <= 0 {
		batchSize = 1024
	}
	return &Parser{batchSize: int64(batchSize)}
}

// Parse buffers r (Parquet needs random access to the footer), reads every
// row group and converts rows through arrow's JSON rendering so values come
// out with the same shapes as the JSON parser produces.
func (p *Parser) Parse(ctx context.Context, r io.Reader) ([]any, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("parquet parser: read: %w", err)
	}
	pf, err := file.NewParquetReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parquet parser: open: %w", err)
	}
	defer pf.Close()

	fr, err := pqarrow.NewFileReader(pf, pqarrow.ArrowReadProperties{BatchSize: p.batchSize}, memory.DefaultAllocator)
	if err != nil {
		return nil, fmt.Errorf("parquet parser: arrow reader: %w", err)
	}
	rr, err := fr.GetRecordReader(ctx, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("parquet parser: record reader: %w", err)
	}
	defer rr.Release()

	var buf bytes.Buffer
	for rr.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := array.RecordToJSON(rr.Record(), &buf); err != nil {
			return nil, fmt.Errorf("parquet parser: render rows: %w", err)
		}
	}
	if err := rr.Err(); err != nil && err != io.EOF {
		return nil, fmt.Errorf("parquet parser: read rows: %w", err)
	}
	return jsonparser.DecodeAll(ctx, &buf, jsonparser.Options{})
}
