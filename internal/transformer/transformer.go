// Package transformer turns raw decoded documents into canonical rows using a
// declarative schema. Each field is extracted and coerced independently, so
// one malformed value never affects its neighbours, and records are spread
// over a bounded worker pool.
package transformer

import (
	"context"
	"fmt"
	"runtime"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"listingload/internal/records"
	"listingload/internal/schema"
)

// Policy decides what happens to a record whose required field is null.
type Policy string

const (
	// PolicyStrict drops the record and counts it as rejected.
	PolicyStrict Policy = "strict"
	// PolicyLenient keeps the record with the null and counts it as incomplete.
	PolicyLenient Policy = "lenient"
	// PolicyFailFast aborts the whole batch on the first failure.
	PolicyFailFast Policy = "fail-fast"
)

// ParsePolicy validates s. The empty string selects PolicyStrict.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PolicyStrict, nil
	case PolicyStrict, PolicyLenient, PolicyFailFast:
		return p, nil
	default:
		return "", fmt.Errorf("transformer: unknown policy %q", s)
	}
}

// RecordError reports a required field that resolved to null.
type RecordError struct {
	Index  int
	Field  string
	Reason string
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("record %d: field %s: %s", e.Index, e.Field, e.Reason)
}

// Options configures a Transformer.
type Options struct {
	Policy  Policy
	Workers int
	Logger  *zap.Logger
}

// Result is the outcome of one Transform call.
type Result struct {
	Batch      *records.Batch
	Rejected   int
	Incomplete int
	// Samples holds the first few record errors for diagnostics.
	Samples []*RecordError
}

const maxSamples = 5

// Transformer applies a compiled schema to raw documents. It is safe for
// concurrent use.
type Transformer struct {
	schema *schema.Schema
	plan   []fieldPlan
	policy Policy
	work   int
	log    *zap.Logger
}

// New compiles s. Workers <= 0 uses GOMAXPROCS.
func New(s *schema.Schema, opts Options) (*Transformer, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	plan, err := compilePlan(s)
	if err != nil {
		return nil, err
	}
	policy := opts.Policy
	if policy == "" {
		policy = PolicyStrict
	}
	if _, err := ParsePolicy(string(policy)); err != nil {
		return nil, err
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	log := opts.Logger
	if log == nil {
		log = zap.L().Named("transformer")
	}
	return &Transformer{schema: s, plan: plan, policy: policy, work: workers, log: log}, nil
}

// Schema returns the schema rows are produced for.
func (t *Transformer) Schema() *schema.Schema { return t.schema }

// Transform converts raws into a batch whose rows keep input order. Each raw
// is a decoded document or a records.Document carrying its outer row. meta
// feeds fields declared with the meta source. Empty input yields an empty
// batch. The context is checked between records.
func (t *Transformer) Transform(ctx context.Context, raws []any, meta map[string]any) (*Result, error) {
	res := &Result{Batch: &records.Batch{Schema: t.schema, Rows: []records.Row{}}}
	if len(raws) == 0 {
		return res, ctx.Err()
	}

	rows := make([]records.Row, len(raws))
	fails := make([]*RecordError, len(raws))

	workers := t.work
	if workers > len(raws) {
		workers = len(raws)
	}

	g, gctx := errgroup.WithContext(ctx)
	jobs := make(chan int)

	g.Go(func() error {
		defer close(jobs)
		for i := range raws {
			select {
			case jobs <- i:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for i := range jobs {
				if err := gctx.Err(); err != nil {
					return err
				}
				row, fail := t.row(raws[i], meta)
				rows[i] = row
				if fail != nil {
					fail.Index = i
					fails[i] = fail
					if t.policy == PolicyFailFast {
						return fail
					}
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return res, err
	}

	for i, row := range rows {
		if f := fails[i]; f != nil {
			if len(res.Samples) < maxSamples {
				res.Samples = append(res.Samples, f)
			}
			if t.policy == PolicyStrict {
				res.Rejected++
				continue
			}
			res.Incomplete++
		}
		res.Batch.Rows = append(res.Batch.Rows, row)
	}

	for _, s := range res.Samples {
		t.log.Debug("required field missing",
			zap.Int("record", s.Index),
			zap.String("field", s.Field),
			zap.String("reason", s.Reason),
			zap.String("policy", string(t.policy)))
	}
	return res, nil
}

func (t *Transformer) row(doc any, meta map[string]any) (records.Row, *RecordError) {
	in := inputs{meta: meta}
	switch d := doc.(type) {
	case records.Document:
		in.doc, in.row = d.Root, d.Row
	case map[string]any:
		in.doc, in.row = d, d
	}
	if in.doc == nil {
		in.doc = map[string]any{}
	}
	if in.row == nil {
		in.row = map[string]any{}
	}
	if in.meta == nil {
		in.meta = map[string]any{}
	}

	row := make(records.Row, len(t.plan))
	var fail *RecordError
	for i := range t.plan {
		p := &t.plan[i]
		v, reason := p.eval(&in)
		row[i] = v
		if v == nil && p.required && fail == nil {
			fail = &RecordError{Field: p.name, Reason: reason}
		}
	}
	return row, fail
}
