package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "LISTINGLOAD_"

// Load decodes the pipeline file at path. Unknown fields are rejected so
// typos surface as errors instead of silently using defaults.
func Load(path string) (Pipeline, error) {
	f, err := os.Open(path)
	if err != nil {
		return Pipeline{}, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	var p Pipeline
	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return Pipeline{}, fmt.Errorf("decode config %s: %w", path, err)
	}
	return p, nil
}

// ApplyEnv overrides p with LISTINGLOAD_* variables read through getenv.
// Empty values are ignored. Malformed numbers and durations are errors.
func ApplyEnv(p *Pipeline, getenv func(string) string) error {
	str := func(name string, dst *string) {
		if v := strings.TrimSpace(getenv(EnvPrefix + name)); v != "" {
			*dst = v
		}
	}
	var errs []string
	num := func(name string, dst *int) {
		if v := strings.TrimSpace(getenv(EnvPrefix + name)); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s%s=%q: not an integer", EnvPrefix, name, v))
				return
			}
			*dst = n
		}
	}
	dur := func(name string, dst *Duration) {
		if v := strings.TrimSpace(getenv(EnvPrefix + name)); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s%s=%q: not a duration", EnvPrefix, name, v))
				return
			}
			*dst = Duration(d)
		}
	}
	boolean := func(name string, dst *bool) {
		if v := strings.TrimSpace(getenv(EnvPrefix + name)); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s%s=%q: not a boolean", EnvPrefix, name, v))
				return
			}
			*dst = b
		}
	}

	str("JOB", &p.Job)
	str("SOURCE_KIND", &p.Source.Kind)
	str("SOURCE_BUCKET", &p.Source.Bucket)
	str("SOURCE_PREFIX", &p.Source.Prefix)
	str("SOURCE_EXTENSION", &p.Source.Extension)
	str("SOURCE_ROOT", &p.Source.File.Root)
	str("S3_REGION", &p.Source.S3.Region)
	str("S3_ENDPOINT", &p.Source.S3.Endpoint)
	str("S3_ACCESS_KEY", &p.Source.S3.AccessKey)
	str("S3_SECRET_KEY", &p.Source.S3.SecretKey)
	boolean("S3_PATH_STYLE", &p.Source.S3.PathStyle)
	str("SCHEMA", &p.Schema.Name)
	if v := strings.TrimSpace(getenv(EnvPrefix + "KEY_FIELDS")); v != "" {
		p.Schema.KeyFields = splitList(v)
	}
	str("TRANSFORM_POLICY", &p.Transform.Policy)
	num("WORKERS", &p.Transform.Workers)
	str("DEDUP_IN_BATCH", &p.Dedup.InBatch)
	str("STORAGE_KIND", &p.Storage.Kind)
	str("DSN", &p.Storage.DSN)
	str("TABLE", &p.Storage.Table)
	str("STAGING_SCHEMA", &p.Storage.StagingSchema)
	str("DISPOSITION", &p.Storage.Disposition)
	num("RETRY_ATTEMPTS", &p.Runtime.RetryAttempts)
	dur("INITIAL_BACKOFF", &p.Runtime.InitialBackoff)
	dur("MAX_BACKOFF", &p.Runtime.MaxBackoff)
	dur("TIMEOUT", &p.Runtime.Timeout)
	str("ARTIFACT_DIR", &p.Artifact.Dir)
	boolean("ARTIFACT_UPLOAD", &p.Artifact.Upload)
	str("METRICS_BACKEND", &p.Metrics.Backend)
	str("PUSHGATEWAY_URL", &p.Metrics.PushgatewayURL)
	str("DATADOG_ADDR", &p.Metrics.DatadogAddr)
	str("SCHEDULE", &p.Schedule)

	if len(errs) > 0 {
		return fmt.Errorf("config env: %s", strings.Join(errs, "; "))
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
