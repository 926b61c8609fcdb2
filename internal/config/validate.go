package config

import (
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"

	"listingload/internal/schema"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError indicates a configuration error that should block execution.
	SeverityError IssueSeverity = "error"
	// SeverityWarning is surfaced to users but does not block execution.
	SeverityWarning IssueSeverity = "warning"
)

// Issue describes a single validation finding.
//
// Path is a dotted path into the config (e.g. "storage.table",
// "schema.fields[3].type"). Message is human-readable.
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

// Error implements the error interface so an Issue can be treated as a single
// error in contexts that expect error.
func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// HasErrors reports whether any issue is an error.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

func errorf(path, format string, a ...any) Issue {
	return Issue{Severity: SeverityError, Path: path, Message: fmt.Sprintf(format, a...)}
}

func warnf(path, format string, a ...any) Issue {
	return Issue{Severity: SeverityWarning, Path: path, Message: fmt.Sprintf(format, a...)}
}

// ValidatePipeline performs static validation of a Pipeline. It does not
// mutate the pipeline; callers decide whether warnings are fatal.
func ValidatePipeline(p Pipeline) []Issue {
	var issues []Issue

	if strings.TrimSpace(p.Job) == "" {
		issues = append(issues, errorf("job", "job must not be empty; it labels logs and metrics"))
	}
	issues = append(issues, validateSource(p.Source)...)
	issues = append(issues, validateParser(p.Parser)...)
	issues = append(issues, validateSchema(p.Schema)...)
	issues = append(issues, validateTransform(p.Transform, p.Dedup)...)
	issues = append(issues, validateStorage(p.Storage)...)
	issues = append(issues, validateRuntime(p.Runtime)...)
	issues = append(issues, validateArtifact(p.Artifact)...)
	issues = append(issues, validateMetrics(p.Metrics)...)
	if p.Schedule != "" {
		if _, err := cron.ParseStandard(p.Schedule); err != nil {
			issues = append(issues, errorf("schedule", "invalid cron expression %q: %v", p.Schedule, err))
		}
	}
	return issues
}

func validateSource(s Source) []Issue {
	var issues []Issue
	switch s.Kind {
	case "":
		return append(issues, errorf("source.kind", "source.kind must not be empty"))
	case "file", "s3":
	default:
		issues = append(issues, errorf("source.kind", "unknown source kind %q; want file or s3", s.Kind))
	}
	if s.Kind == "s3" && strings.TrimSpace(s.Bucket) == "" {
		issues = append(issues, errorf("source.bucket", "s3 source requires a bucket"))
	}
	if s.Kind == "file" && s.Bucket == "" && s.File.Root == "" {
		issues = append(issues, errorf("source.bucket", "file source requires a bucket directory or file.root"))
	}
	if s.Extension == "" {
		issues = append(issues, warnf("source.extension", "no extension filter; every object under the prefix is eligible"))
	} else if !strings.HasPrefix(s.Extension, ".") {
		issues = append(issues, warnf("source.extension", "extension %q has no leading dot; names are matched by suffix", s.Extension))
	}
	return issues
}

func validateParser(p Parser) []Issue {
	switch p.Kind {
	case "":
		return []Issue{errorf("parser.kind", "parser.kind must not be empty")}
	case "json", "ndjson", "parquet":
	default:
		return []Issue{warnf("parser.kind", "unknown parser kind %q; ensure a matching implementation is registered", p.Kind)}
	}
	var issues []Issue
	if rp := p.Options.String("record_path", ""); rp != "" && strings.HasPrefix(rp, ".") {
		issues = append(issues, errorf("parser.options.record_path", "record_path must not start with a dot"))
	}
	return issues
}

func validateSchema(s SchemaConfig) []Issue {
	var issues []Issue
	switch {
	case s.Name == "" && len(s.Fields) == 0:
		return append(issues, errorf("schema", "either schema.name or schema.fields is required"))
	case s.Name != "" && len(s.Fields) > 0:
		issues = append(issues, warnf("schema.name", "schema.fields given inline; name %q only labels the schema", s.Name))
	case s.Name != "":
		if _, err := schema.Lookup(s.Name); err != nil {
			return append(issues, errorf("schema.name", "%v", err))
		}
	}
	sc, err := Resolve(s)
	if err != nil {
		return append(issues, errorf("schema", "%v", err))
	}
	if err := sc.Validate(); err != nil {
		issues = append(issues, errorf("schema", "%v", err))
	}
	return issues
}

func validateTransform(t Transform, d Dedup) []Issue {
	var issues []Issue
	switch strings.ToLower(t.Policy) {
	case "", "strict", "lenient", "fail-fast":
	default:
		issues = append(issues, errorf("transform.policy", "unknown policy %q; want strict, lenient or fail-fast", t.Policy))
	}
	if t.Workers < 0 {
		issues = append(issues, errorf("transform.workers", "workers must not be negative"))
	}
	switch d.InBatch {
	case "", "keep-first", "keep-last", "most-complete":
	default:
		issues = append(issues, errorf("dedup.in_batch", "unknown in-batch policy %q", d.InBatch))
	}
	if d.CleanupTimeout < 0 {
		issues = append(issues, errorf("dedup.cleanup_timeout", "cleanup_timeout must not be negative"))
	}
	return issues
}

func validateStorage(s Storage) []Issue {
	var issues []Issue
	switch s.Kind {
	case "":
		return append(issues, errorf("storage.kind", "storage.kind must not be empty"))
	case "postgres", "mssql", "mysql", "sqlite", "snowflake", "duckdb":
	default:
		issues = append(issues, warnf("storage.kind", "unknown storage kind %q; ensure a matching backend is registered", s.Kind))
	}
	if strings.TrimSpace(s.DSN) == "" && !(s.Kind == "snowflake" && s.Options.String("account", "") != "") {
		issues = append(issues, errorf("storage.dsn", "storage.dsn must not be empty"))
	}
	if strings.TrimSpace(s.Table) == "" {
		issues = append(issues, errorf("storage.table", "storage.table must not be empty"))
	}
	switch s.Disposition {
	case "", "append-only", "create-if-missing", "never-create":
	default:
		issues = append(issues, errorf("storage.disposition", "unknown disposition %q", s.Disposition))
	}
	return issues
}

func validateRuntime(r RuntimeConfig) []Issue {
	var issues []Issue
	if r.RetryAttempts < 0 {
		issues = append(issues, errorf("runtime.retry_attempts", "retry_attempts must not be negative"))
	}
	if r.InitialBackoff < 0 || r.MaxBackoff < 0 || r.Timeout < 0 {
		issues = append(issues, errorf("runtime", "durations must not be negative"))
	}
	if r.MaxBackoff > 0 && r.InitialBackoff > r.MaxBackoff {
		issues = append(issues, warnf("runtime.max_backoff", "max_backoff is below initial_backoff; initial_backoff will be used"))
	}
	return issues
}

func validateArtifact(a ArtifactConfig) []Issue {
	if a.Disabled {
		return nil
	}
	var issues []Issue
	if a.Dir == "" && !a.Upload {
		issues = append(issues, warnf("artifact", "no artifact dir or upload configured; artifact is skipped"))
	}
	if a.Upload && a.Bucket == "" {
		issues = append(issues, errorf("artifact.bucket", "artifact upload requires a bucket"))
	}
	return issues
}

func validateMetrics(m MetricsConfig) []Issue {
	switch m.Backend {
	case "", "none":
	case "pushgateway":
		if m.PushgatewayURL == "" {
			return []Issue{errorf("metrics.pushgateway_url", "pushgateway backend requires pushgateway_url")}
		}
	case "datadog":
		if m.DatadogAddr == "" {
			return []Issue{errorf("metrics.datadog_addr", "datadog backend requires datadog_addr")}
		}
	default:
		return []Issue{warnf("metrics.backend", "unknown metrics backend %q; metrics disabled", m.Backend)}
	}
	return nil
}
