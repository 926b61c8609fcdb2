// Package pipeline runs one ingestion: select the source object, parse it,
// transform documents into canonical rows, drop rows whose key is already
// in the warehouse, append the rest and write the run artifact.
//
// The engine holds no state between runs. Concurrent runs against the same
// destination table are not coordinated; schedule a single writer per table.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"listingload/internal/artifact"
	"listingload/internal/dedup"
	"listingload/internal/loader"
	"listingload/internal/metrics"
	"listingload/internal/parser"
	"listingload/internal/schema"
	"listingload/internal/source"
	"listingload/internal/storage"
	"listingload/internal/transformer"
)

// Options are the injected run parameters.
type Options struct {
	Job         string
	Bucket      string
	Prefix      string
	Extension   string
	Table       string
	Disposition loader.Disposition
}

// Deps are the collaborators a run uses. Artifact may be nil.
type Deps struct {
	Store       source.Store
	Sink        storage.Sink
	Parser      parser.Parser
	Transformer *transformer.Transformer
	Dedup       *dedup.Deduplicator
	Artifact    *artifact.Writer
	Logger      *zap.Logger

	// Now and NewRunID are test seams; nil uses the wall clock and uuid.
	Now      func() time.Time
	NewRunID func() string
}

// Engine executes runs.
type Engine struct {
	opts Options
	deps Deps
	base *zap.Logger
	log  *zap.Logger
}

// New checks that the required collaborators are present.
func New(opts Options, deps Deps) (*Engine, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("pipeline: no object store")
	case deps.Sink == nil:
		return nil, errors.New("pipeline: no sink")
	case deps.Parser == nil:
		return nil, errors.New("pipeline: no parser")
	case deps.Transformer == nil:
		return nil, errors.New("pipeline: no transformer")
	case deps.Dedup == nil:
		return nil, errors.New("pipeline: no deduplicator")
	case opts.Table == "":
		return nil, errors.New("pipeline: no destination table")
	}
	if opts.Disposition == "" {
		opts.Disposition = loader.AppendOnly
	}
	if opts.Job == "" {
		opts.Job = "listingload"
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.NewRunID == nil {
		deps.NewRunID = uuid.NewString
	}
	log := deps.Logger
	if log == nil {
		log = zap.L().Named("pipeline")
	}
	return &Engine{
		opts: opts,
		deps: deps,
		base: log,
		log:  log.With(zap.String("job", opts.Job), zap.String("table", opts.Table)),
	}, nil
}

// Run selects the newest eligible object and ingests it. With nothing to
// select it returns an error wrapping source.ErrSourceNotFound and a
// summary marked NothingToDo.
func (e *Engine) Run(ctx context.Context) (Summary, error) {
	start := e.deps.Now()
	sum := Summary{RunID: e.deps.NewRunID(), Table: e.opts.Table}
	err := e.stage(ctx, "select", func(ctx context.Context) error {
		ref, err := source.FindLatest(ctx, e.deps.Store, e.opts.Bucket, e.opts.Prefix, e.opts.Extension)
		sum.Object = ref
		return err
	})
	if errors.Is(err, source.ErrSourceNotFound) {
		sum.NothingToDo = true
		sum.Duration = e.deps.Now().Sub(start)
		e.log.Info("no eligible source object",
			zap.String("run_id", sum.RunID),
			zap.String("bucket", e.opts.Bucket),
			zap.String("prefix", e.opts.Prefix),
			zap.String("extension", e.opts.Extension))
		metrics.RecordRun(e.opts.Job, "nothing_to_do")
		return sum, err
	}
	if err != nil {
		return e.fail(sum, start, err)
	}
	return e.run(ctx, sum, start)
}

// RunObject ingests ref, skipping selection.
func (e *Engine) RunObject(ctx context.Context, ref source.ObjectRef) (Summary, error) {
	start := e.deps.Now()
	sum := Summary{RunID: e.deps.NewRunID(), Table: e.opts.Table, Object: ref}
	return e.run(ctx, sum, start)
}

func (e *Engine) run(ctx context.Context, sum Summary, start time.Time) (Summary, error) {
	log := e.log.With(zap.String("run_id", sum.RunID), zap.String("object", sum.Object.String()))
	runDate := start.UTC()
	sum.IngestionDate = IngestionDate(sum.Object.Name, runDate)

	var docs []any
	if err := e.stage(ctx, "read", func(ctx context.Context) error {
		rc, err := e.deps.Store.Read(ctx, sum.Object)
		if err != nil {
			return fmt.Errorf("read %s: %w", sum.Object, err)
		}
		defer rc.Close()
		docs, err = e.deps.Parser.Parse(ctx, rc)
		if err != nil {
			return fmt.Errorf("parse %s: %w", sum.Object, err)
		}
		return nil
	}); err != nil {
		return e.fail(sum, start, err)
	}
	sum.Scanned = len(docs)
	log.Info("object parsed", zap.Int("documents", sum.Scanned))

	meta := map[string]any{
		schema.MetaIngestionDate: sum.IngestionDate.Format("2006-01-02"),
		schema.MetaSourceObject:  sum.Object.String(),
		schema.MetaRunID:         sum.RunID,
	}
	var res *transformer.Result
	if err := e.stage(ctx, "transform", func(ctx context.Context) error {
		var err error
		res, err = e.deps.Transformer.Transform(ctx, docs, meta)
		return err
	}); err != nil {
		return e.fail(sum, start, fmt.Errorf("transform: %w", err))
	}
	sum.Transformed = res.Batch.Len()
	sum.Rejected = res.Rejected
	sum.Incomplete = res.Incomplete
	for _, s := range res.Samples {
		log.Warn("record failed required field",
			zap.Int("record", s.Index),
			zap.String("field", s.Field),
			zap.String("reason", s.Reason))
	}

	if res.Batch.Len() == 0 {
		log.Info("no rows to load")
		return e.finish(sum, start)
	}

	ld := loader.New(e.deps.Sink, e.opts.Table, res.Batch.Schema, e.opts.Disposition,
		e.base.Named("loader").With(zap.String("run_id", sum.RunID)))
	if err := e.stage(ctx, "prepare", ld.Prepare); err != nil {
		return e.fail(sum, start, err)
	}

	batch := res.Batch
	if err := e.stage(ctx, "dedup", func(ctx context.Context) error {
		out, st, err := e.deps.Dedup.Run(ctx, batch, e.deps.Sink, e.opts.Table)
		if err != nil {
			return err
		}
		batch = out
		sum.DeduplicatedOut = st.Removed()
		sum.Dedup = st
		return nil
	}); err != nil {
		return e.fail(sum, start, err)
	}

	if err := e.stage(ctx, "load", func(ctx context.Context) error {
		n, err := ld.Load(ctx, batch)
		sum.Loaded = n
		return err
	}); err != nil {
		return e.fail(sum, start, err)
	}

	// The rows are committed by now. A failed artifact is reported but does
	// not fail the run, so a retry cannot mistake the run for unloaded.
	if e.deps.Artifact != nil && batch.Len() > 0 {
		if err := e.stage(ctx, "artifact", func(ctx context.Context) error {
			a, err := e.deps.Artifact.Write(ctx, batch, e.opts.Table, runDate, sum.RunID)
			if err == nil {
				sum.Artifact = a.Name
			}
			return err
		}); err != nil {
			sum.ArtifactError = err.Error()
			log.Warn("artifact not written", zap.Int64("loaded", sum.Loaded), zap.Error(err))
		}
	}
	return e.finish(sum, start)
}

// stage times fn and records it under name.
func (e *Engine) stage(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t := time.Now()
	err := fn(ctx)
	metrics.RecordStage(e.opts.Job, name, err, time.Since(t))
	return err
}

func (e *Engine) finish(sum Summary, start time.Time) (Summary, error) {
	sum.Duration = e.deps.Now().Sub(start)
	e.recordRows(sum)
	metrics.RecordRun(e.opts.Job, "loaded")
	e.base.Info("run complete", append(sum.Fields(), zap.String("job", e.opts.Job))...)
	return sum, nil
}

func (e *Engine) fail(sum Summary, start time.Time, err error) (Summary, error) {
	sum.Duration = e.deps.Now().Sub(start)
	e.recordRows(sum)
	metrics.RecordRun(e.opts.Job, "failed")
	e.base.Error("run failed", append(sum.Fields(), zap.String("job", e.opts.Job), zap.Error(err))...)
	return sum, err
}

func (e *Engine) recordRows(sum Summary) {
	metrics.RecordRows(e.opts.Job, "scanned", int64(sum.Scanned))
	metrics.RecordRows(e.opts.Job, "transformed", int64(sum.Transformed))
	metrics.RecordRows(e.opts.Job, "rejected", int64(sum.Rejected))
	metrics.RecordRows(e.opts.Job, "incomplete", int64(sum.Incomplete))
	metrics.RecordRows(e.opts.Job, "deduplicated_out", int64(sum.DeduplicatedOut))
	metrics.RecordRows(e.opts.Job, "loaded", sum.Loaded)
}

var datedName = regexp.MustCompile(`_(\d{4}-\d{2}-\d{2})\.[^./]+$`)

// IngestionDate reads the date embedded in an object name such as
// "search_2024-05-01.json", falling back to runDate's UTC calendar day.
func IngestionDate(name string, runDate time.Time) time.Time {
	if m := datedName.FindStringSubmatch(name); m != nil {
		if d, err := time.Parse("2006-01-02", m[1]); err == nil {
			return d
		}
	}
	y, mo, d := runDate.UTC().Date()
	return time.Date(y, mo, d, 0, 0, 0, 0, time.UTC)
}
