// Package dedup keeps re-runs idempotent. It finds which of a batch's keys
// already exist in the destination with a staging semi-join (never a full
// table scan) and filters those rows out, together with in-batch duplicates
// and rows that cannot be keyed.
//
// Two runs against the same destination at the same time can both miss each
// other's keys and load the same new row twice. There is no distributed
// locking: callers must ensure a single writer per destination table.
package dedup

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"listingload/internal/ddl"
	"listingload/internal/records"
	"listingload/internal/storage"
)

// StagingCleanupError reports a staging table that could not be dropped. It
// is logged and never returned as a run failure.
type StagingCleanupError struct {
	Table string
	Err   error
}

func (e *StagingCleanupError) Error() string {
	return fmt.Sprintf("drop staging table %s: %v", e.Table, e.Err)
}

func (e *StagingCleanupError) Unwrap() error { return e.Err }

// Stats counts the rows Filter removed.
type Stats struct {
	Existing          int // key already in the destination
	InBatchDuplicates int // key repeated within the batch
	Unkeyed           int // a key component was null
}

// Removed is the total number of rows filtered out.
func (s Stats) Removed() int { return s.Existing + s.InBatchDuplicates + s.Unkeyed }

// Options configure a Deduplicator.
type Options struct {
	// Policy selects the in-batch survivor (see ParsePolicy).
	Policy string

	// CleanupTimeout bounds the staging drop, which runs even after the
	// run's context is canceled.
	CleanupTimeout time.Duration

	Logger *zap.Logger
}

// Deduplicator is stateless between runs; it holds only configuration.
type Deduplicator struct {
	policy         string
	cleanupTimeout time.Duration
	log            *zap.Logger
}

// New validates opts.
func New(opts Options) (*Deduplicator, error) {
	policy, err := ParsePolicy(opts.Policy)
	if err != nil {
		return nil, err
	}
	if opts.CleanupTimeout <= 0 {
		opts.CleanupTimeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.L().Named("dedup")
	}
	return &Deduplicator{policy: policy, cleanupTimeout: opts.CleanupTimeout, log: opts.Logger}, nil
}

// ExistingKeys returns the keys of b that are already present in table. It
// stages b's distinct non-null key tuples in a fresh staging table, joins it
// with table on every key column and drops the staging table on every exit
// path. An empty or fully unkeyed batch makes no sink calls.
func (d *Deduplicator) ExistingKeys(ctx context.Context, b *records.Batch, sink storage.Sink, table string) (*KeySet, error) {
	k, err := NewKeyer(b.Schema)
	if err != nil {
		return nil, fmt.Errorf("dedup: %w", err)
	}

	seen := NewKeySet()
	var tuples [][]any
	for _, r := range b.Rows {
		key, ok := k.RowKey(r)
		if !ok || !seen.Add(key) {
			continue
		}
		tuples = append(tuples, k.Tuple(r))
	}
	existing := NewKeySet()
	if len(tuples) == 0 {
		return existing, nil
	}

	def, err := ddl.KeyTable(table, b.Schema)
	if err != nil {
		return nil, fmt.Errorf("dedup: %w", err)
	}
	def = sink.StagingTable(def)
	log := d.log.With(zap.String("table", table), zap.String("staging", def.FQN))
	st, err := sink.CreateStaging(ctx, def)
	if err != nil {
		// An attempt may have created the table before failing.
		d.dropStaging(ctx, sink, storage.Staging{Table: def}, log)
		return nil, fmt.Errorf("dedup: create staging: %w", err)
	}
	defer d.dropStaging(ctx, sink, st, log)

	if _, err := sink.BulkLoad(ctx, st.Table, tuples); err != nil {
		return nil, fmt.Errorf("dedup: stage %d keys: %w", len(tuples), err)
	}

	rows, err := sink.Query(ctx, SemiJoinSQL(sink.Dialect(), table, st.Name(), k.Fields()))
	if err != nil {
		return nil, fmt.Errorf("dedup: existing keys: %w", err)
	}
	for _, row := range rows {
		if key, ok := k.TupleKey(row); ok {
			existing.Add(key)
		}
	}
	log.Debug("existing keys", zap.Int("staged", len(tuples)), zap.Int("existing", existing.Len()))
	return existing, nil
}

func (d *Deduplicator) dropStaging(ctx context.Context, sink storage.Sink, st storage.Staging, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cleanupTimeout)
	defer cancel()
	if err := sink.DropStaging(ctx, st); err != nil {
		log.Warn("staging cleanup failed", zap.Error(&StagingCleanupError{Table: st.Name(), Err: err}))
	}
}

// SemiJoinSQL selects the distinct key tuples present in both dest and
// staging:
//
//	SELECT DISTINCT d.k1, d.k2 FROM dest d INNER JOIN staging s ON d.k1 = s.k1 AND d.k2 = s.k2
func SemiJoinSQL(dl ddl.Dialect, dest, staging string, keys []string) string {
	sel := make([]string, len(keys))
	on := make([]string, len(keys))
	for i, key := range keys {
		q := dl.QuoteIdent(key)
		sel[i] = "d." + q
		on[i] = fmt.Sprintf("d.%s = s.%s", q, q)
	}
	return fmt.Sprintf("SELECT DISTINCT %s FROM %s d INNER JOIN %s s ON %s",
		strings.Join(sel, ", "), dl.QuoteTable(dest), dl.QuoteTable(staging), strings.Join(on, " AND "))
}

// Filter drops unkeyed rows, collapses in-batch duplicates with the
// configured policy and removes rows whose key is in existing. Row order is
// preserved.
func (d *Deduplicator) Filter(b *records.Batch, existing *KeySet) (*records.Batch, Stats, error) {
	k, err := NewKeyer(b.Schema)
	if err != nil {
		return nil, Stats{}, fmt.Errorf("dedup: %w", err)
	}
	var st Stats
	b, st.InBatchDuplicates, st.Unkeyed = InBatch(b, k, d.policy)
	out := b.Filter(func(r records.Row) bool {
		key, _ := k.RowKey(r)
		if existing.Has(key) {
			st.Existing++
			return false
		}
		return true
	})
	return out, st, nil
}

// Run is ExistingKeys followed by Filter.
func (d *Deduplicator) Run(ctx context.Context, b *records.Batch, sink storage.Sink, table string) (*records.Batch, Stats, error) {
	if b.Len() == 0 {
		return b, Stats{}, nil
	}
	existing, err := d.ExistingKeys(ctx, b, sink, table)
	if err != nil {
		return nil, Stats{}, err
	}
	return d.Filter(b, existing)
}
