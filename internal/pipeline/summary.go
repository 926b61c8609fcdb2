package pipeline

import (
	"time"

	"go.uber.org/zap"

	"listingload/internal/dedup"
	"listingload/internal/source"
)

// Summary reports one run. It is returned on failure too, filled in up to
// the stage that failed.
type Summary struct {
	RunID         string
	Object        source.ObjectRef
	Table         string
	IngestionDate time.Time

	Scanned         int
	Transformed     int
	Rejected        int
	Incomplete      int
	DeduplicatedOut int
	Dedup           dedup.Stats
	Loaded          int64

	Artifact string
	// ArtifactError is set when the rows loaded but the artifact could not
	// be written.
	ArtifactError string
	NothingToDo   bool
	Duration    time.Duration
}

// Fields renders the summary as log fields.
func (s Summary) Fields() []zap.Field {
	return []zap.Field{
		zap.String("run_id", s.RunID),
		zap.String("object", s.Object.String()),
		zap.String("table", s.Table),
		zap.Int("scanned", s.Scanned),
		zap.Int("transformed", s.Transformed),
		zap.Int("rejected", s.Rejected),
		zap.Int("incomplete", s.Incomplete),
		zap.Int("deduplicated_out", s.DeduplicatedOut),
		zap.Int("existing", s.Dedup.Existing),
		zap.Int("in_batch_duplicates", s.Dedup.InBatchDuplicates),
		zap.Int("unkeyed", s.Dedup.Unkeyed),
		zap.Int64("loaded", s.Loaded),
		zap.String("artifact", s.Artifact),
		zap.String("artifact_error", s.ArtifactError),
		zap.Duration("elapsed", s.Duration.Truncate(time.Millisecond)),
	}
}
