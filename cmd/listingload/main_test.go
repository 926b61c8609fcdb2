package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"listingload/internal/config"
	"listingload/internal/pipeline"
	"listingload/internal/source"
	s3store "listingload/internal/source/s3"
	"listingload/internal/storage"
	"listingload/internal/storage/sqlite"
)

/*
Test helpers
*/

// writeConfig writes a file-source, sqlite-sink pipeline into a temp dir and
// returns the config path, the bucket dir and the database path.
func writeConfig(t *testing.T, mutate func(m map[string]any)) (cfgPath, bucket, dbPath string) {
	t.Helper()
	dir := t.TempDir()
	bucket = filepath.Join(dir, "scrapes")
	if err := os.MkdirAll(bucket, 0o755); err != nil {
		t.Fatal(err)
	}
	dbPath = filepath.Join(dir, "warehouse.db")
	m := map[string]any{
		"job":       "cli_test",
		"source":    map[string]any{"kind": "file", "bucket": bucket, "prefix": "search_", "extension": ".json"},
		"parser":    map[string]any{"kind": "json"},
		"schema":    map[string]any{"name": "search_results"},
		"storage":   map[string]any{"kind": "sqlite", "dsn": dbPath, "table": "listings", "disposition": "create-if-missing"},
		"artifact":  map[string]any{"disabled": true},
		"runtime":   map[string]any{"retry_attempts": 1},
		"transform": map[string]any{"policy": "strict"},
	}
	if mutate != nil {
		mutate(m)
	}
	b, err := json.Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	cfgPath = filepath.Join(dir, "pipeline.json")
	if err := os.WriteFile(cfgPath, b, 0o644); err != nil {
		t.Fatal(err)
	}
	return cfgPath, bucket, dbPath
}

func decodeSummary(t *testing.T, out *bytes.Buffer) pipeline.Summary {
	t.Helper()
	var s pipeline.Summary
	if err := json.NewDecoder(out).Decode(&s); err != nil {
		t.Fatalf("decode summary %q: %v", out.String(), err)
	}
	return s
}

func countRows(t *testing.T, dbPath string) int64 {
	t.Helper()
	s, err := sqlite.Open(context.Background(), storage.Config{Kind: "sqlite", DSN: dbPath})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	rows, err := s.Query(context.Background(), `SELECT COUNT(*) FROM "listings"`)
	if err != nil {
		t.Fatal(err)
	}
	return rows[0][0].(int64)
}

/*
Flags and logger
*/

func TestParseFlags(t *testing.T) {
	t.Parallel()
	cases := []struct {
		args    []string
		wantErr bool
	}{
		{[]string{"-config", "x.json"}, false},
		{[]string{"-watch", "-schedule", "@every 1m"}, true},
		{[]string{"-object", "a.json", "-watch"}, true},
		{[]string{"-object", "a.json"}, false},
		{[]string{"-nope"}, true},
	}
	for _, c := range cases {
		_, err := parseFlags(c.args, io.Discard)
		if (err != nil) != c.wantErr {
			t.Errorf("parseFlags(%v) err = %v, wantErr %v", c.args, err, c.wantErr)
		}
	}
}

func TestNewLogger(t *testing.T) {
	t.Parallel()
	if _, err := newLogger("debug", "console"); err != nil {
		t.Fatalf("console: %v", err)
	}
	if _, err := newLogger("loud", "json"); err == nil {
		t.Fatal("expected bad level error")
	}
	if _, err := newLogger("info", "xml"); err == nil {
		t.Fatal("expected bad format error")
	}
}

// TestLoadPipelinePrecedence checks file < env < flag.
func TestLoadPipelinePrecedence(t *testing.T) {
	t.Parallel()
	cfgPath, _, _ := writeConfig(t, func(m map[string]any) { m["schedule"] = "0 * * * *" })
	env := map[string]string{
		"LISTINGLOAD_TABLE":    "analytics.listings",
		"LISTINGLOAD_SCHEDULE": "5 * * * *",
	}
	f := flags{cfgPath: cfgPath, schedule: "@every 1h", metricsBackend: "none"}
	p, err := loadPipeline(f, func(k string) string { return env[k] })
	if err != nil {
		t.Fatal(err)
	}
	if p.Storage.Table != "analytics.listings" {
		t.Fatalf("table = %q", p.Storage.Table)
	}
	if p.Schedule != "@every 1h" || p.Metrics.Backend != "none" {
		t.Fatalf("flags not applied: schedule=%q backend=%q", p.Schedule, p.Metrics.Backend)
	}
}

func TestExitCode(t *testing.T) {
	t.Parallel()
	cases := []struct {
		err  error
		want int
	}{
		{nil, exitOK},
		{fmt.Errorf("select: %w", source.ErrSourceNotFound), exitOK},
		{fmt.Errorf("%w: bad", errConfig), exitConfig},
		{errors.New("boom"), exitFailed},
		{storage.ErrSinkUnavailable, exitFailed},
	}
	for _, c := range cases {
		if got := exitCode(c.err); got != c.want {
			t.Errorf("exitCode(%v) = %d, want %d", c.err, got, c.want)
		}
	}
}

/*
End to end through run(). These replace the global logger, so they do not
run in parallel.
*/

func TestRun_ValidateOnly(t *testing.T) {
	cfgPath, _, _ := writeConfig(t, nil)
	var stderr bytes.Buffer
	if code := run([]string{"-config", cfgPath, "-validate", "-env-file", ""}, io.Discard, &stderr); code != exitOK {
		t.Fatalf("exit = %d, stderr=%s", code, stderr.String())
	}

	bad, _, _ := writeConfig(t, func(m map[string]any) { delete(m, "storage") })
	stderr.Reset()
	if code := run([]string{"-config", bad, "-validate", "-env-file", ""}, io.Discard, &stderr); code != exitConfig {
		t.Fatalf("exit = %d, want %d", code, exitConfig)
	}
	if !strings.Contains(stderr.String(), "storage.kind") {
		t.Fatalf("stderr = %s", stderr.String())
	}
}

func TestRun_MissingConfig(t *testing.T) {
	code := run([]string{"-config", filepath.Join(t.TempDir(), "nope.json"), "-env-file", ""}, io.Discard, io.Discard)
	if code != exitConfig {
		t.Fatalf("exit = %d, want %d", code, exitConfig)
	}
}

func TestRun_OneShotIsIdempotent(t *testing.T) {
	cfgPath, bucket, dbPath := writeConfig(t, nil)
	doc := `[{"id": 1, "slug": "a"}, {"id": 2, "slug": "b"}, {"id": 3}]`
	if err := os.WriteFile(filepath.Join(bucket, "search_2024-05-01.json"), []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	args := []string{"-config", cfgPath, "-env-file", "", "-log-level", "error"}

	var out bytes.Buffer
	if code := run(args, &out, io.Discard); code != exitOK {
		t.Fatalf("first exit = %d", code)
	}
	first := decodeSummary(t, &out)
	if first.Loaded != 2 || first.Rejected != 1 {
		t.Fatalf("first = %+v", first)
	}

	out.Reset()
	if code := run(args, &out, io.Discard); code != exitOK {
		t.Fatalf("second exit = %d", code)
	}
	if second := decodeSummary(t, &out); second.Loaded != 0 || second.DeduplicatedOut != 2 {
		t.Fatalf("second = %+v", second)
	}
	if n := countRows(t, dbPath); n != 2 {
		t.Fatalf("rows = %d, want 2", n)
	}
}

func TestRun_NamedObjectAndNothingToDo(t *testing.T) {
	cfgPath, bucket, dbPath := writeConfig(t, nil)
	base := []string{"-config", cfgPath, "-env-file", "", "-log-level", "error"}

	var out bytes.Buffer
	if code := run(base, &out, io.Discard); code != exitOK {
		t.Fatalf("empty bucket exit = %d", code)
	}
	if s := decodeSummary(t, &out); !s.NothingToDo {
		t.Fatalf("summary = %+v", s)
	}

	// -object skips selection, so the prefix filter does not apply.
	if err := os.WriteFile(filepath.Join(bucket, "manual.json"), []byte(`{"id": 9, "slug": "z"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	out.Reset()
	if code := run(append(base, "-object", "manual.json"), &out, io.Discard); code != exitOK {
		t.Fatalf("object exit = %d", code)
	}
	if s := decodeSummary(t, &out); s.Loaded != 1 {
		t.Fatalf("summary = %+v", s)
	}
	if n := countRows(t, dbPath); n != 1 {
		t.Fatalf("rows = %d", n)
	}

	out.Reset()
	if code := run(append(base, "-object", "missing.json"), &out, io.Discard); code != exitFailed {
		t.Fatalf("missing object exit = %d, want %d", code, exitFailed)
	}
}

/*
Container seams
*/

func TestBuildApp_UnknownParserIsConfigError(t *testing.T) {
	cfgPath, _, _ := writeConfig(t, func(m map[string]any) {
		m["parser"] = map[string]any{"kind": "yaml"}
	})
	p, err := config.Load(cfgPath)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := buildApp(context.Background(), p, testLogger()); !errors.Is(err, errConfig) {
		t.Fatalf("err = %v, want errConfig", err)
	}
}

func TestBuildApp_SinkOpenFailure(t *testing.T) {
	orig := openSinkFn
	t.Cleanup(func() { openSinkFn = orig })
	openSinkFn = func(context.Context, storage.Config) (storage.Sink, error) {
		return nil, storage.ErrSinkUnavailable
	}
	cfgPath, _, _ := writeConfig(t, nil)
	p, err := config.Load(cfgPath)
	if err != nil {
		t.Fatal(err)
	}
	_, err = buildApp(context.Background(), p, testLogger())
	if !errors.Is(err, storage.ErrSinkUnavailable) || exitCode(err) != exitFailed {
		t.Fatalf("err = %v", err)
	}
}

func TestBuildApp_S3UsesSeam(t *testing.T) {
	orig := openS3Fn
	t.Cleanup(func() { openS3Fn = orig })
	var got string
	openS3Fn = func(_ context.Context, o s3store.Options) (source.Store, error) {
		got = o.Region
		return nil, errors.New("no network in tests")
	}
	cfgPath, _, _ := writeConfig(t, func(m map[string]any) {
		m["source"] = map[string]any{"kind": "s3", "bucket": "scrapes", "extension": ".json",
			"s3": map[string]any{"region": "eu-central-1"}}
	})
	p, err := config.Load(cfgPath)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := buildApp(context.Background(), p, testLogger()); err == nil {
		t.Fatal("expected error")
	}
	if got != "eu-central-1" {
		t.Fatalf("region = %q", got)
	}
}

func TestWatchNeedsFileSource(t *testing.T) {
	a := &app{p: config.Pipeline{Source: config.Source{Kind: "s3"}}, log: testLogger()}
	if err := a.watch(context.Background()); !errors.Is(err, errConfig) {
		t.Fatalf("err = %v", err)
	}
}

func TestScheduleRejectsBadExpression(t *testing.T) {
	a := &app{log: testLogger()}
	if err := a.schedule(context.Background(), "every tuesday"); !errors.Is(err, errConfig) {
		t.Fatalf("err = %v", err)
	}
}

func testLogger() *zap.Logger { return zap.NewNop() }
