package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"steamharvest/internal/domain"
	"steamharvest/internal/governor"
	"steamharvest/internal/infrastructure/ops"
	"steamharvest/internal/normalize"
	"steamharvest/internal/pool"
	"steamharvest/internal/ports"
)

// HarvestDeps wires the driven adapters into the harvest workflow.
type HarvestDeps struct {
	RunID     string
	Items     []domain.WorkItem
	Digest    string
	Primary   ports.PrimarySource
	Auxiliary ports.AuxiliarySource
	Writer    ports.RecordWriter
	Ledger    ports.Ledger
	Governor  *governor.Governor
	Metrics   *ops.Metrics
	Logger    *slog.Logger
}

// Harvest drains the pending work list through fetch, normalize, validate
// and checkpointed persistence.
type Harvest struct {
	runID      string
	items      []domain.WorkItem
	digest     string
	primary    ports.PrimarySource
	auxiliary  ports.AuxiliarySource
	writer     ports.RecordWriter
	ledger     ports.Ledger
	metrics    *ops.Metrics
	logger     *slog.Logger
	pool       *pool.Pool
	normalizer *normalize.Normalizer
	validator  normalize.Validator

	mu     sync.Mutex
	totals domain.RunTotals
}

// NewHarvest constructs the orchestration component and its worker pool.
func NewHarvest(deps HarvestDeps) *Harvest {
	h := &Harvest{
		runID:      deps.RunID,
		items:      deps.Items,
		digest:     deps.Digest,
		primary:    deps.Primary,
		auxiliary:  deps.Auxiliary,
		writer:     deps.Writer,
		ledger:     deps.Ledger,
		metrics:    deps.Metrics,
		logger:     deps.Logger,
		normalizer: normalize.NewNormalizer(),
	}
	h.pool = pool.New(deps.Governor, deps.Metrics, h.processItem, deps.Logger)
	return h
}

// Run resolves the pending set, drains it and seals the run. It returns
// nil once every pending item reached a terminal disposition for this run;
// cancellation and persistence failures surface as errors.
func (h *Harvest) Run(ctx context.Context) error {
	skips, err := h.ledger.TerminalSkips(ctx)
	if err != nil {
		return fmt.Errorf("load terminal skips: %w", err)
	}
	done := h.writer.Checkpointed()

	pending := make([]domain.WorkItem, 0, len(h.items))
	for _, item := range h.items {
		if done[item.AppID] || skips[item.AppID] {
			continue
		}
		pending = append(pending, item)
	}

	h.logger.Info("work list resolved",
		"run_id", h.runID,
		"worklist", len(h.items),
		"checkpointed", len(done),
		"terminal_skips", len(skips),
		"pending", len(pending))

	if err := h.ledger.StartRun(ctx, h.runID, h.digest, len(pending)); err != nil {
		return fmt.Errorf("start run: %w", err)
	}

	runErr := h.pool.Run(ctx, pending)

	// Sealing happens even on cancellation: buffered records are flushed
	// and the run row closed before the error propagates.
	sealCtx := context.WithoutCancel(ctx)
	if err := h.writer.Flush(sealCtx); err != nil {
		if runErr == nil {
			runErr = fmt.Errorf("final flush: %w", err)
		} else {
			h.logger.Error("final flush failed", "error", err)
		}
	}

	totals := h.snapshotTotals()
	note := "completed"
	if runErr != nil {
		note = runErr.Error()
	}
	if err := h.ledger.FinishRun(sealCtx, h.runID, totals, note); err != nil {
		if runErr == nil {
			runErr = fmt.Errorf("finish run: %w", err)
		} else {
			h.logger.Error("finish run failed", "error", err)
		}
	}

	h.logger.Info("run finished",
		"run_id", h.runID,
		"succeeded", totals.Succeeded,
		"invalid", totals.Invalid,
		"skipped_terminal", totals.SkippedTerminal,
		"abandoned", totals.Abandoned,
		"retry_next_run", totals.Invalid+totals.Abandoned)

	return runErr
}

// processItem is the pool handler. It returns an error only for conditions
// that must abort the whole run; per-item failures resolve to a counted
// disposition and a nil return.
func (h *Harvest) processItem(ctx context.Context, item domain.WorkItem) error {
	details, outcome, err := h.primary.AppDetails(ctx, item.AppID)
	if err != nil {
		return h.abandon(ctx, item, outcome, err)
	}

	reviews, outcome, err := h.primary.AppReviews(ctx, item.AppID)
	if err != nil {
		return h.abandon(ctx, item, outcome, err)
	}

	var storeHTML []byte
	if h.auxiliary != nil {
		html, auxOutcome, auxErr := h.auxiliary.StorePage(ctx, item.AppID)
		if auxErr != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			h.logger.Warn("store page unavailable, degrading record",
				"app_id", item.AppID, "status", auxOutcome.Status)
		} else {
			storeHTML = html
		}
	}

	record := h.normalizer.Normalize(item, details, reviews, storeHTML)
	if violations := h.validator.Validate(record); len(violations) > 0 {
		h.mu.Lock()
		h.totals.Invalid++
		h.mu.Unlock()
		h.metrics.CountItem(ops.DispositionInvalid)
		h.logger.Warn("record rejected by contract",
			"app_id", item.AppID, "violations", len(violations), "first", violations[0].String())
		if err := h.ledger.RecordRejection(ctx, h.runID, item.AppID, violations); err != nil {
			return fmt.Errorf("record rejection for %d: %w", item.AppID, err)
		}
		return nil
	}

	if err := h.writer.Submit(ctx, record); err != nil {
		return fmt.Errorf("submit record %d: %w", item.AppID, err)
	}

	h.mu.Lock()
	h.totals.Succeeded++
	h.mu.Unlock()
	h.metrics.CountItem(ops.DispositionSucceeded)
	h.logger.Debug("record persisted", "app_id", item.AppID, "name", record.Name)
	return nil
}

// abandon resolves a failed primary fetch: not_found is a durable skip,
// anything else leaves the identifier pending for a future run. A fetch
// cut short by shutdown aborts the run instead of mislabeling the item.
func (h *Harvest) abandon(ctx context.Context, item domain.WorkItem, outcome domain.FetchOutcome, cause error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if outcome.Status == domain.StatusNotFound {
		if err := h.ledger.RecordSkip(ctx, h.runID, item.AppID, string(outcome.Status)); err != nil {
			return fmt.Errorf("record skip for %d: %w", item.AppID, err)
		}
		h.mu.Lock()
		h.totals.SkippedTerminal++
		h.mu.Unlock()
		h.metrics.CountItem(ops.DispositionSkipped)
		h.logger.Info("entity gone upstream, skipping for good", "app_id", item.AppID)
		return nil
	}

	h.mu.Lock()
	h.totals.Abandoned++
	h.mu.Unlock()
	h.metrics.CountItem(ops.DispositionAbandoned)
	h.logger.Warn("abandoning item for this run",
		"app_id", item.AppID, "source", outcome.Source, "status", outcome.Status, "error", cause)
	return nil
}

func (h *Harvest) snapshotTotals() domain.RunTotals {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.totals
}
