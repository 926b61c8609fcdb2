// Package artifact persists each run's loaded rows as one Parquet file whose
// name embeds the destination table, the run date and the run id.
package artifact

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/apache/arrow/go/v16/arrow"
	"github.com/apache/arrow/go/v16/arrow/array"
	"github.com/apache/arrow/go/v16/arrow/memory"
	"github.com/apache/arrow/go/v16/parquet"
	"github.com/apache/arrow/go/v16/parquet/compress"
	"github.com/apache/arrow/go/v16/parquet/pqarrow"
	"go.uber.org/zap"

	"listingload/internal/coerce"
	"listingload/internal/records"
	"listingload/internal/schema"
	"listingload/internal/source"
	"listingload/internal/source/file"
)

// Options says where artifacts go. Dir is the local output directory;
// when Upload is set the same bytes are also written to Bucket/Prefix in
// the object store.
type Options struct {
	Dir    string
	Upload bool
	Bucket string
	Prefix string
	Logger *zap.Logger
}

// Writer writes run artifacts.
type Writer struct {
	local  source.Store
	remote source.Store
	opts   Options
	log    *zap.Logger
}

// New returns a Writer. remote may be nil when Upload is off.
func New(remote source.Store, opts Options) (*Writer, error) {
	if opts.Dir == "" && !opts.Upload {
		return nil, fmt.Errorf("artifact: neither dir nor upload configured")
	}
	if opts.Upload && remote == nil {
		return nil, fmt.Errorf("artifact: upload requested without an object store")
	}
	log := opts.Logger
	if log == nil {
		log = zap.L().Named("artifact")
	}
	w := &Writer{remote: remote, opts: opts, log: log}
	if opts.Dir != "" {
		w.local = file.New(opts.Dir)
	}
	return w, nil
}

// Result names where an artifact was written.
type Result struct {
	Name   string
	Path   string
	Object *source.ObjectRef
	Rows   int
	Bytes  int
}

var unsafeChars = regexp.MustCompile(`[^a-z0-9_]+`)

// Name builds "<table>_<YYYY-MM-DD>_<run8>.parquet". Only the last
// component of a qualified table name is used.
func Name(table string, runDate time.Time, runID string) string {
	t := table
	if i := strings.LastIndex(t, "."); i >= 0 {
		t = t[i+1:]
	}
	t = strings.Trim(unsafeChars.ReplaceAllString(strings.ToLower(t), "_"), "_")
	if t == "" {
		t = "listings"
	}
	id := strings.ReplaceAll(runID, "-", "")
	if len(id) > 8 {
		id = id[:8]
	}
	return fmt.Sprintf("%s_%s_%s.parquet", t, runDate.UTC().Format("2006-01-02"), id)
}

// Write encodes b and stores it locally and, if configured, remotely.
func (w *Writer) Write(ctx context.Context, b *records.Batch, table string, runDate time.Time, runID string) (Result, error) {
	name := Name(table, runDate, runID)
	var buf bytes.Buffer
	if err := Encode(&buf, b); err != nil {
		return Result{}, err
	}
	res := Result{Name: name, Rows: b.Len(), Bytes: buf.Len()}
	if w.local != nil {
		if err := w.local.Put(ctx, source.ObjectRef{Name: name}, bytes.NewReader(buf.Bytes())); err != nil {
			return res, fmt.Errorf("artifact: write %s: %w", name, err)
		}
		res.Path = path.Join(w.opts.Dir, name)
	}
	if w.opts.Upload {
		ref := source.ObjectRef{Bucket: w.opts.Bucket, Name: path.Join(w.opts.Prefix, name)}
		if err := w.remote.Put(ctx, ref, bytes.NewReader(buf.Bytes())); err != nil {
			return res, fmt.Errorf("artifact: upload %s: %w", ref, err)
		}
		res.Object = &ref
	}
	w.log.Info("artifact written",
		zap.String("name", name),
		zap.String("path", res.Path),
		zap.Int("rows", res.Rows),
		zap.Int("bytes", res.Bytes))
	return res, nil
}

// ArrowSchema maps a canonical schema onto arrow types. json columns are
// stored as JSON text.
func ArrowSchema(s *schema.Schema) *arrow.Schema {
	fields := make([]arrow.Field, len(s.Fields))
	for i, f := range s.Fields {
		fields[i] = arrow.Field{Name: f.Name, Type: arrowType(f.Type), Nullable: f.Nullable()}
	}
	return arrow.NewSchema(fields, nil)
}

func arrowType(t schema.FieldType) arrow.DataType {
	switch t {
	case schema.TypeFloat:
		return arrow.PrimitiveTypes.Float64
	case schema.TypeInt:
		return arrow.PrimitiveTypes.Int64
	case schema.TypeBool:
		return arrow.FixedWidthTypes.Boolean
	case schema.TypeTimestamp:
		return &arrow.TimestampType{Unit: arrow.Microsecond, TimeZone: "UTC"}
	case schema.TypeDate:
		return arrow.FixedWidthTypes.Date32
	case schema.TypeStringArray:
		return arrow.ListOf(arrow.BinaryTypes.String)
	default:
		return arrow.BinaryTypes.String
	}
}

// Encode writes b as a single Snappy-compressed Parquet file.
func Encode(w io.Writer, b *records.Batch) error {
	sc := ArrowSchema(b.Schema)
	rb := array.NewRecordBuilder(memory.DefaultAllocator, sc)
	defer rb.Release()

	for _, row := range b.Rows {
		for i, f := range b.Schema.Fields {
			if err := appendValue(rb.Field(i), f.Type, row[i]); err != nil {
				return fmt.Errorf("artifact: column %s: %w", f.Name, err)
			}
		}
	}
	rec := rb.NewRecord()
	defer rec.Release()

	props := parquet.NewWriterProperties(parquet.WithCompression(compress.Codecs.Snappy))
	fw, err := pqarrow.NewFileWriter(sc, w, props, pqarrow.DefaultWriterProps())
	if err != nil {
		return fmt.Errorf("artifact: parquet writer: %w", err)
	}
	if err := fw.Write(rec); err != nil {
		fw.Close()
		return fmt.Errorf("artifact: write rows: %w", err)
	}
	if err := fw.Close(); err != nil {
		return fmt.Errorf("artifact: close: %w", err)
	}
	return nil
}

func appendValue(b array.Builder, t schema.FieldType, v any) error {
	if v == nil {
		if t == schema.TypeStringArray {
			b.(*array.ListBuilder).Append(true)
			return nil
		}
		b.AppendNull()
		return nil
	}
	switch t {
	case schema.TypeFloat:
		x, ok := v.(float64)
		if !ok {
			return fmt.Errorf("want float64, got %T", v)
		}
		b.(*array.Float64Builder).Append(x)
	case schema.TypeInt:
		x, ok := v.(int64)
		if !ok {
			return fmt.Errorf("want int64, got %T", v)
		}
		b.(*array.Int64Builder).Append(x)
	case schema.TypeBool:
		x, ok := v.(bool)
		if !ok {
			return fmt.Errorf("want bool, got %T", v)
		}
		b.(*array.BooleanBuilder).Append(x)
	case schema.TypeTimestamp:
		x, ok := v.(time.Time)
		if !ok {
			return fmt.Errorf("want time.Time, got %T", v)
		}
		b.(*array.TimestampBuilder).Append(arrow.Timestamp(x.UTC().UnixMicro()))
	case schema.TypeDate:
		x, ok := v.(time.Time)
		if !ok {
			return fmt.Errorf("want time.Time, got %T", v)
		}
		b.(*array.Date32Builder).Append(arrow.Date32FromTime(x.UTC()))
	case schema.TypeStringArray:
		xs, ok := v.([]string)
		if !ok {
			return fmt.Errorf("want []string, got %T", v)
		}
		lb := b.(*array.ListBuilder)
		lb.Append(true)
		vb := lb.ValueBuilder().(*array.StringBuilder)
		for _, s := range xs {
			vb.Append(s)
		}
	case schema.TypeJSON:
		b.(*array.StringBuilder).Append(coerce.JSONText(v))
	default:
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("want string, got %T", v)
		}
		b.(*array.StringBuilder).Append(s)
	}
	return nil
}
