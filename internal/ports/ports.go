package ports

import (
	"context"

	"steamharvest/internal/domain"
)

// PrimarySource is the authoritative entity API. Both calls must succeed
// for an item to be normalizable.
type PrimarySource interface {
	AppDetails(ctx context.Context, appID int64) (*domain.AppDetails, domain.FetchOutcome, error)
	AppReviews(ctx context.Context, appID int64) (*domain.ReviewSummary, domain.FetchOutcome, error)
}

// AuxiliarySource fetches the store page markup used for tag extraction.
// Failures here degrade the record instead of abandoning the item.
type AuxiliarySource interface {
	StorePage(ctx context.Context, appID int64) ([]byte, domain.FetchOutcome, error)
}

// OutcomeRecorder observes every fetch attempt for adaptive control.
type OutcomeRecorder interface {
	Record(outcome domain.FetchOutcome)
}

// RecordWriter buffers validated records and persists them in checkpointed batches.
type RecordWriter interface {
	Submit(ctx context.Context, record domain.CanonicalRecord) error
	Flush(ctx context.Context) error
	Checkpointed() map[int64]bool
}

// RecordMirror replicates flushed batches to a secondary store.
type RecordMirror interface {
	MirrorBatch(ctx context.Context, records []domain.CanonicalRecord) error
}

// Ledger records run history and per-item terminal outcomes.
type Ledger interface {
	StartRun(ctx context.Context, runID, worklistDigest string, total int) error
	FinishRun(ctx context.Context, runID string, totals domain.RunTotals, note string) error
	TerminalSkips(ctx context.Context) (map[int64]bool, error)
	RecordSkip(ctx context.Context, runID string, appID int64, reason string) error
	RecordRejection(ctx context.Context, runID string, appID int64, violations []domain.Violation) error
}
