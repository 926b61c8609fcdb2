// Package main wires the listingload engine from a pipeline config. This file
// keeps the CLI thin: it builds collaborators behind the storage, source and
// parser registries and never talks to a driver directly.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"listingload/internal/artifact"
	"listingload/internal/config"
	"listingload/internal/dedup"
	"listingload/internal/loader"
	"listingload/internal/metrics"
	"listingload/internal/metrics/datadog"
	"listingload/internal/metrics/prompush"
	"listingload/internal/parser"
	"listingload/internal/pipeline"
	"listingload/internal/retry"
	"listingload/internal/source"
	"listingload/internal/source/file"
	s3store "listingload/internal/source/s3"
	"listingload/internal/storage"
	"listingload/internal/transformer"
)

// errConfig marks startup failures caused by the configuration rather than
// the environment.
var errConfig = errors.New("configuration error")

// Function variables used to introduce test seams.
// In production these point to real implementations; tests can override them.
var (
	openSinkFn = func(ctx context.Context, cfg storage.Config) (storage.Sink, error) {
		return storage.New(ctx, cfg)
	}

	openS3Fn = func(ctx context.Context, opts s3store.Options) (source.Store, error) {
		return s3store.Open(ctx, opts)
	}

	newPushBackendFn = func(job, url string) (metrics.Backend, error) {
		return prompush.NewBackend(job, url)
	}

	newDatadogBackendFn = func(cfg datadog.Config) (*datadog.Backend, error) {
		return datadog.NewBackend(cfg)
	}
)

// app owns everything a process needs across runs.
type app struct {
	p      config.Pipeline
	engine *pipeline.Engine
	files  *file.Store // set for file sources; -watch needs it
	sink   storage.Sink
	closer []func() error
	log    *zap.Logger
}

func retryPolicy(r config.RuntimeConfig) retry.Policy {
	return retry.Policy{
		Attempts:       r.RetryAttempts,
		InitialBackoff: r.InitialBackoff.D(),
		MaxBackoff:     r.MaxBackoff.D(),
		Timeout:        r.Timeout.D(),
	}
}

// buildApp resolves every collaborator named by p. On error, anything already
// opened is closed.
func buildApp(ctx context.Context, p config.Pipeline, log *zap.Logger) (a *app, err error) {
	a = &app{p: p, log: log.Named("listingload")}
	defer func() {
		if err != nil {
			a.Close()
			a = nil
		}
	}()
	pol := retryPolicy(p.Runtime)

	store, err := a.openStore(ctx, pol)
	if err != nil {
		return a, err
	}

	sc, err := config.Resolve(p.Schema)
	if err != nil {
		return a, fmt.Errorf("%w: %v", errConfig, err)
	}
	policy, err := transformer.ParsePolicy(p.Transform.Policy)
	if err != nil {
		return a, fmt.Errorf("%w: %v", errConfig, err)
	}
	tr, err := transformer.New(sc, transformer.Options{
		Policy:  policy,
		Workers: p.Transform.Workers,
		Logger:  log.Named("transformer"),
	})
	if err != nil {
		return a, fmt.Errorf("%w: %v", errConfig, err)
	}
	dd, err := dedup.New(dedup.Options{
		Policy:         p.Dedup.InBatch,
		CleanupTimeout: p.Dedup.CleanupTimeout.D(),
		Logger:         log.Named("dedup"),
	})
	if err != nil {
		return a, fmt.Errorf("%w: %v", errConfig, err)
	}
	disp, err := loader.ParseDisposition(p.Storage.Disposition)
	if err != nil {
		return a, fmt.Errorf("%w: %v", errConfig, err)
	}
	prs, err := parser.New(p.Parser.Kind, p.Parser.Options)
	if err != nil {
		return a, fmt.Errorf("%w: %v", errConfig, err)
	}

	art, err := a.openArtifact(store)
	if err != nil {
		return a, err
	}

	sink, err := openSinkFn(ctx, storage.Config{
		Kind:          p.Storage.Kind,
		DSN:           p.Storage.DSN,
		StagingSchema: p.Storage.StagingSchema,
		Options:       p.Storage.Options,
		Logger:        log.Named("storage." + p.Storage.Kind),
	})
	if err != nil {
		return a, fmt.Errorf("open %s sink: %w", p.Storage.Kind, err)
	}
	a.sink = storage.WithRetry(sink, pol, log.Named("storage"))
	a.closer = append(a.closer, sink.Close)

	if err := a.setupMetrics(); err != nil {
		return a, err
	}

	a.engine, err = pipeline.New(pipeline.Options{
		Job:         p.Job,
		Bucket:      p.Source.Bucket,
		Prefix:      p.Source.Prefix,
		Extension:   p.Source.Extension,
		Table:       p.Storage.Table,
		Disposition: disp,
	}, pipeline.Deps{
		Store:       store,
		Sink:        a.sink,
		Parser:      prs,
		Transformer: tr,
		Dedup:       dd,
		Artifact:    art,
		Logger:      log.Named("pipeline"),
	})
	if err != nil {
		return a, err
	}
	a.log.Info("pipeline ready",
		zap.String("job", p.Job),
		zap.String("source", p.Source.Kind),
		zap.String("parser", p.Parser.Kind),
		zap.String("schema", sc.Name),
		zap.String("storage", p.Storage.Kind),
		zap.String("table", p.Storage.Table),
		zap.String("disposition", string(disp)))
	return a, nil
}

func (a *app) openStore(ctx context.Context, pol retry.Policy) (source.Store, error) {
	var store source.Store
	switch a.p.Source.Kind {
	case "file":
		a.files = file.New(a.p.Source.File.Root)
		store = a.files
	case "s3":
		s3c := a.p.Source.S3
		st, err := openS3Fn(ctx, s3store.Options{
			Region:    s3c.Region,
			Endpoint:  s3c.Endpoint,
			PathStyle: s3c.PathStyle,
			AccessKey: s3c.AccessKey,
			SecretKey: s3c.SecretKey,
		})
		if err != nil {
			return nil, err
		}
		store = st
	default:
		return nil, fmt.Errorf("%w: unsupported source.kind=%s", errConfig, a.p.Source.Kind)
	}
	return source.WithRetry(store, pol, a.log.Named("source")), nil
}

// openArtifact returns nil when no artifact destination is configured.
func (a *app) openArtifact(store source.Store) (*artifact.Writer, error) {
	ac := a.p.Artifact
	if ac.Disabled || (ac.Dir == "" && !ac.Upload) {
		return nil, nil
	}
	w, err := artifact.New(store, artifact.Options{
		Dir:    ac.Dir,
		Upload: ac.Upload,
		Bucket: ac.Bucket,
		Prefix: ac.Prefix,
		Logger: a.log.Named("artifact"),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errConfig, err)
	}
	return w, nil
}

// setupMetrics installs the configured backend. A backend that cannot be
// created is logged and metrics stay disabled.
func (a *app) setupMetrics() error {
	m := a.p.Metrics
	switch m.Backend {
	case "", "none":
		return nil
	case "pushgateway":
		b, err := newPushBackendFn(a.p.Job, m.PushgatewayURL)
		if err != nil {
			a.log.Warn("metrics disabled", zap.String("backend", m.Backend), zap.Error(err))
			return nil
		}
		metrics.SetBackend(b)
	case "datadog":
		b, err := newDatadogBackendFn(datadog.Config{Addr: m.DatadogAddr, Namespace: m.Namespace, GlobalTags: m.Tags})
		if err != nil {
			a.log.Warn("metrics disabled", zap.String("backend", m.Backend), zap.Error(err))
			return nil
		}
		metrics.SetBackend(b)
		a.closer = append(a.closer, b.Close)
	default:
		a.log.Warn("unknown metrics backend; metrics disabled", zap.String("backend", m.Backend))
		return nil
	}
	a.log.Info("metrics enabled", zap.String("backend", m.Backend))
	return nil
}

// Close releases the sink and metrics client in reverse order of opening.
func (a *app) Close() {
	for i := len(a.closer) - 1; i >= 0; i-- {
		if err := a.closer[i](); err != nil {
			a.log.Warn("close", zap.Error(err))
		}
	}
	a.closer = nil
}

// flush pushes buffered metrics after a run.
func (a *app) flush() {
	if err := metrics.Flush(); err != nil {
		a.log.Warn("metrics flush", zap.Error(err))
	}
}

// once performs a single run and writes its summary to out.
func (a *app) once(ctx context.Context, object string, out *json.Encoder) error {
	var (
		sum pipeline.Summary
		err error
	)
	if object != "" {
		sum, err = a.engine.RunObject(ctx, source.ObjectRef{Bucket: a.p.Source.Bucket, Name: object})
	} else {
		sum, err = a.engine.Run(ctx)
	}
	a.flush()
	if encErr := out.Encode(sum); encErr != nil {
		a.log.Warn("summary not written", zap.Error(encErr))
	}
	return err
}

// schedule runs on expr until ctx ends. Runs never overlap: a tick that
// arrives while a run is in progress is skipped.
func (a *app) schedule(ctx context.Context, expr string) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err := c.AddFunc(expr, func() {
		a.runLogged(ctx, func(ctx context.Context) (pipeline.Summary, error) { return a.engine.Run(ctx) })
	})
	if err != nil {
		return fmt.Errorf("%w: schedule %q: %v", errConfig, expr, err)
	}
	c.Start()
	a.log.Info("scheduled", zap.String("cron", expr))
	<-ctx.Done()
	<-c.Stop().Done()
	a.log.Info("scheduler stopped")
	return nil
}

// watch runs once for every matching object written to the file source.
func (a *app) watch(ctx context.Context) error {
	if a.files == nil {
		return fmt.Errorf("%w: -watch needs a file source, have %s", errConfig, a.p.Source.Kind)
	}
	ch, err := a.files.Watch(ctx, a.p.Source.Bucket, a.p.Source.Prefix, a.p.Source.Extension,
		file.DefaultSettle, a.log.Named("watch"))
	if err != nil {
		return err
	}
	a.log.Info("watching", zap.String("bucket", a.p.Source.Bucket), zap.String("prefix", a.p.Source.Prefix))
	for ref := range ch {
		a.runLogged(ctx, func(ctx context.Context) (pipeline.Summary, error) { return a.engine.RunObject(ctx, ref) })
	}
	return nil
}

// runLogged runs fn for a long-lived mode. Failures are already logged by
// the engine; the process keeps going.
func (a *app) runLogged(ctx context.Context, fn func(ctx context.Context) (pipeline.Summary, error)) {
	start := time.Now()
	_, err := fn(ctx)
	a.flush()
	if err != nil && !errors.Is(err, source.ErrSourceNotFound) && ctx.Err() == nil {
		a.log.Warn("run failed; waiting for next trigger", zap.Duration("after", time.Since(start)))
	}
}

// exitCode maps a run outcome to the process exit status.
func exitCode(err error) int {
	switch {
	case err == nil, errors.Is(err, source.ErrSourceNotFound):
		return exitOK
	case errors.Is(err, errConfig):
		return exitConfig
	default:
		return exitFailed
	}
}
