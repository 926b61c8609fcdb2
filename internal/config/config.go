// Package config defines the JSON pipeline file that drives a listingload
// run, plus environment overrides and static validation.
//
// Example (trimmed):
//
//	{
//	  "job":     "search_results_daily",
//	  "source":  { "kind": "s3", "bucket": "scrapes", "prefix": "search/", "extension": ".json" },
//	  "parser":  { "kind": "json", "options": { "document_column": "props" } },
//	  "schema":  { "name": "search_results" },
//	  "transform": { "policy": "strict", "workers": 8 },
//	  "storage": { "kind": "postgres", "dsn": "postgres://...", "table": "analytics.search_results" },
//	  "artifact": { "dir": "out/" }
//	}
package config

import (
	"encoding/json"

	"listingload/internal/schema"
)

// Pipeline is the top-level object decoded from a pipeline file.
type Pipeline struct {
	// Job names the pipeline in logs and metrics.
	Job string `json:"job"`

	Source    Source         `json:"source"`
	Parser    Parser         `json:"parser"`
	Schema    SchemaConfig   `json:"schema"`
	Transform Transform      `json:"transform"`
	Dedup     Dedup          `json:"dedup"`
	Storage   Storage        `json:"storage"`
	Runtime   RuntimeConfig  `json:"runtime"`
	Artifact  ArtifactConfig `json:"artifact"`
	Metrics   MetricsConfig  `json:"metrics"`

	// Schedule is a cron expression for -schedule mode.
	Schedule string `json:"schedule,omitempty"`
}

// Source selects the object store and the objects eligible for a run.
type Source struct {
	// Kind is "file" or "s3".
	Kind      string `json:"kind"`
	Bucket    string `json:"bucket"`
	Prefix    string `json:"prefix"`
	Extension string `json:"extension"`

	File SourceFile `json:"file"`
	S3   SourceS3   `json:"s3"`
}

// SourceFile configures the local directory store.
type SourceFile struct {
	// Root is the directory buckets are resolved against.
	Root string `json:"root"`
}

// SourceS3 configures the S3 client. Empty fields fall back to the AWS
// default configuration chain.
type SourceS3 struct {
	Region    string `json:"region"`
	Endpoint  string `json:"endpoint"`
	PathStyle bool   `json:"path_style"`
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`
}

// Parser selects how object bytes become documents.
type Parser struct {
	// Kind is "json", "ndjson" or "parquet".
	Kind string `json:"kind"`

	// Options is interpreted by the parser: allow_arrays, records_key,
	// batch_size, document_column, record_path.
	Options Options `json:"options"`
}

// SchemaConfig picks a built-in schema by name or declares fields inline.
// KeyFields, when set, overrides the schema's key.
type SchemaConfig struct {
	Name      string         `json:"name"`
	Fields    []schema.Field `json:"fields"`
	KeyFields []string       `json:"key_fields"`
}

// Transform configures the record transformer.
type Transform struct {
	// Policy is strict (default), lenient or fail-fast.
	Policy  string `json:"policy"`
	Workers int    `json:"workers"`
}

// Dedup configures the key deduplicator.
type Dedup struct {
	// InBatch is keep-first (default), keep-last or most-complete.
	InBatch        string   `json:"in_batch"`
	CleanupTimeout Duration `json:"cleanup_timeout"`
}

// Storage selects the warehouse sink and the destination table.
type Storage struct {
	// Kind is a registered backend: postgres, mssql, mysql, sqlite,
	// snowflake, duckdb.
	Kind string `json:"kind"`
	DSN  string `json:"dsn"`

	// Table is the destination, optionally schema-qualified.
	Table string `json:"table"`

	// StagingSchema, when set, holds the short-lived key staging tables.
	StagingSchema string `json:"staging_schema"`

	// Disposition is append-only (default), create-if-missing or
	// never-create.
	Disposition string `json:"disposition"`

	// Options carries backend settings (pool sizes, snowflake account, ...).
	Options Options `json:"options"`
}

// RuntimeConfig bounds network-bound operations.
type RuntimeConfig struct {
	RetryAttempts  int      `json:"retry_attempts"`
	InitialBackoff Duration `json:"initial_backoff"`
	MaxBackoff     Duration `json:"max_backoff"`
	Timeout        Duration `json:"timeout"`
}

// ArtifactConfig says where the per-run Parquet artifact goes.
type ArtifactConfig struct {
	Disabled bool   `json:"disabled"`
	Dir      string `json:"dir"`
	Upload   bool   `json:"upload"`
	Bucket   string `json:"bucket"`
	Prefix   string `json:"prefix"`
}

// MetricsConfig selects a metrics backend.
type MetricsConfig struct {
	// Backend is none (default), pushgateway or datadog.
	Backend        string   `json:"backend"`
	PushgatewayURL string   `json:"pushgateway_url"`
	DatadogAddr    string   `json:"datadog_addr"`
	Namespace      string   `json:"namespace"`
	Tags           []string `json:"tags"`
}

// Options is a small helper to fetch typed values from free-form JSON maps.
// It performs minimal coercion and returns the default when a key is absent
// or of an unexpected type.
type Options map[string]any

// String returns the string value for key or def if key is missing or not a string.
func (o Options) String(key, def string) string {
	if v, ok := o[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

// Bool returns the bool value for key or def if key is missing or not a bool.
func (o Options) Bool(key string, def bool) bool {
	if v, ok := o[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}

// Int returns the int value for key or def. JSON numbers are decoded as
// float64, so float64 is accepted and truncated.
func (o Options) Int(key string, def int) int {
	if v, ok := o[key]; ok {
		switch n := v.(type) {
		case float64:
			return int(n)
		case int:
			return n
		}
	}
	return def
}

// StringSlice returns a []string for key when the value is an array of
// strings. Non-string elements are skipped. Returns nil when absent.
func (o Options) StringSlice(key string) []string {
	if v, ok := o[key]; ok {
		switch vv := v.(type) {
		case []any:
			out := make([]string, 0, len(vv))
			for _, x := range vv {
				if s, ok := x.(string); ok {
					out = append(out, s)
				}
			}
			return out
		case []string:
			return vv
		}
	}
	return nil
}

// UnmarshalJSON makes a missing or null "options" object decode to a
// non-nil, empty map.
func (o *Options) UnmarshalJSON(b []byte) error {
	var tmp map[string]any
	if len(b) == 0 || string(b) == "null" {
		*o = Options{}
		return nil
	}
	if err := json.Unmarshal(b, &tmp); err != nil {
		return err
	}
	*o = Options(tmp)
	return nil
}
