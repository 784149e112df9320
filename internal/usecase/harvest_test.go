package usecase

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"steamharvest/internal/domain"
	"steamharvest/internal/governor"
	"steamharvest/internal/infrastructure/ledger"
	"steamharvest/internal/infrastructure/ops"
	"steamharvest/internal/infrastructure/sink"
)

// primaryStub answers entity lookups according to a per-id behavior table.
type primaryStub struct {
	mu       sync.Mutex
	behavior map[int64]string
	calls    map[int64]int
}

func newPrimaryStub() *primaryStub {
	return &primaryStub{behavior: map[int64]string{}, calls: map[int64]int{}}
}

func (s *primaryStub) set(id int64, mode string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.behavior[id] = mode
}

func (s *primaryStub) callCount(id int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[id]
}

func (s *primaryStub) AppDetails(ctx context.Context, id int64) (*domain.AppDetails, domain.FetchOutcome, error) {
	s.mu.Lock()
	s.calls[id]++
	mode := s.behavior[id]
	s.mu.Unlock()

	switch mode {
	case "not_found":
		return nil, stubOutcome(id, domain.StatusNotFound), fmt.Errorf("app %d missing upstream", id)
	case "transient":
		return nil, stubOutcome(id, domain.StatusTransientError), fmt.Errorf("app %d: upstream answered 502", id)
	case "invalid":
		details := validDetails(id)
		details.Name = ""
		return details, stubOutcome(id, domain.StatusOK), nil
	case "slow":
		select {
		case <-ctx.Done():
			return nil, stubOutcome(id, domain.StatusTimeout), ctx.Err()
		case <-time.After(5 * time.Second):
			return validDetails(id), stubOutcome(id, domain.StatusOK), nil
		}
	default:
		return validDetails(id), stubOutcome(id, domain.StatusOK), nil
	}
}

func (s *primaryStub) AppReviews(_ context.Context, id int64) (*domain.ReviewSummary, domain.FetchOutcome, error) {
	return &domain.ReviewSummary{TotalReviews: 10, TotalPositive: 9}, stubOutcome(id, domain.StatusOK), nil
}

func stubOutcome(id int64, status domain.OutcomeStatus) domain.FetchOutcome {
	return domain.FetchOutcome{AppID: id, Source: domain.SourceAPI, Status: status, Latency: time.Millisecond}
}

func validDetails(id int64) *domain.AppDetails {
	return &domain.AppDetails{
		AppID:            id,
		Name:             fmt.Sprintf("App %d", id),
		Type:             "game",
		ShortDescription: "A test entry.",
		HeaderImage:      "https://cdn.example.com/header.jpg",
		Genres:           []domain.NamedEntry{{Description: "Action"}},
		Platforms:        domain.PlatformFlags{Windows: true},
		ReleaseDate:      domain.ReleaseInfo{Date: "1 Jan, 2020"},
	}
}

type harness struct {
	harvest *Harvest
	writer  *sink.Writer
	ledger  *ledger.Ledger
	metrics *ops.Metrics
	out     string
}

func newHarness(t *testing.T, dir, runID string, stub *primaryStub, ids []int64, chunk, maxConc int) *harness {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := ops.NewMetrics()

	out := filepath.Join(dir, "apps.jsonl")
	w, err := sink.Open(out, chunk, nil, metrics, logger)
	if err != nil {
		t.Fatalf("open writer: %v", err)
	}

	led, err := ledger.Open(filepath.Join(dir, "harvest.db"))
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	t.Cleanup(func() { _ = led.Close() })

	gov := governor.New(governor.Limits{
		MinConcurrency: 1,
		MaxConcurrency: maxConc,
		WindowSize:     1000,
		ThrottlePct:    50,
		Hibernation:    time.Minute,
	})

	items := make([]domain.WorkItem, len(ids))
	for i, id := range ids {
		items[i] = domain.WorkItem{
			AppID:    id,
			StoreURL: fmt.Sprintf("https://store.example.com/app/%d/", id),
		}
	}

	h := NewHarvest(HarvestDeps{
		RunID:    runID,
		Items:    items,
		Digest:   "digest-test",
		Primary:  stub,
		Writer:   w,
		Ledger:   led,
		Governor: gov,
		Metrics:  metrics,
		Logger:   logger,
	})

	return &harness{harvest: h, writer: w, ledger: led, metrics: metrics, out: out}
}

func persistedIDs(t *testing.T, path string) map[int64]bool {
	t.Helper()

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[int64]bool{}
		}
		t.Fatalf("open output: %v", err)
	}
	defer f.Close()

	ids := map[int64]bool{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var row struct {
			AppID int64 `json:"app_id"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &row); err != nil {
			t.Fatalf("decode output line: %v", err)
		}
		ids[row.AppID] = true
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scan output: %v", err)
	}
	return ids
}

func TestRunPersistsValidAndSkipsMissing(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	stub := newPrimaryStub()
	stub.set(2, "not_found")

	h := newHarness(t, dir, "run-1", stub, []int64{1, 2, 3}, 2, 1)
	if err := h.harvest.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	persisted := persistedIDs(t, h.out)
	if len(persisted) != 2 || !persisted[1] || !persisted[3] {
		t.Fatalf("expected records 1 and 3 persisted, got %v", persisted)
	}

	skips, err := h.ledger.TerminalSkips(context.Background())
	if err != nil {
		t.Fatalf("terminal skips: %v", err)
	}
	if len(skips) != 1 || !skips[2] {
		t.Fatalf("expected terminal skip for 2, got %v", skips)
	}

	totals := h.harvest.snapshotTotals()
	want := domain.RunTotals{Succeeded: 2, SkippedTerminal: 1}
	if totals != want {
		t.Fatalf("unexpected totals %+v", totals)
	}
	if totals.Drained() != 3 {
		t.Fatalf("expected all 3 items drained, got %d", totals.Drained())
	}
}

func TestRunResumptionIsIdempotent(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	stub := newPrimaryStub()

	first := newHarness(t, dir, "run-1", stub, []int64{1, 2, 3}, 10, 2)
	if err := first.harvest.Run(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if got := persistedIDs(t, first.out); len(got) != 3 {
		t.Fatalf("expected 3 records after first run, got %v", got)
	}

	second := newHarness(t, dir, "run-2", stub, []int64{1, 2, 3}, 10, 2)
	if err := second.harvest.Run(context.Background()); err != nil {
		t.Fatalf("second run: %v", err)
	}

	for _, id := range []int64{1, 2, 3} {
		if got := stub.callCount(id); got != 1 {
			t.Fatalf("expected exactly one fetch for %d across both runs, got %d", id, got)
		}
	}
	if got := persistedIDs(t, second.out); len(got) != 3 {
		t.Fatalf("expected output unchanged after resumption, got %v", got)
	}
	if totals := second.harvest.snapshotTotals(); totals != (domain.RunTotals{}) {
		t.Fatalf("expected nothing to do on resumption, got %+v", totals)
	}
}

func TestValidationFailureIsNotCheckpointed(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	stub := newPrimaryStub()
	stub.set(2, "invalid")

	first := newHarness(t, dir, "run-1", stub, []int64{1, 2}, 10, 1)
	if err := first.harvest.Run(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}

	persisted := persistedIDs(t, first.out)
	if len(persisted) != 1 || !persisted[1] {
		t.Fatalf("expected only record 1 persisted, got %v", persisted)
	}
	totals := first.harvest.snapshotTotals()
	if totals.Invalid != 1 || totals.Succeeded != 1 {
		t.Fatalf("unexpected totals %+v", totals)
	}

	// The identifier stays pending: once upstream repairs the payload, the
	// next run picks it up again.
	stub.set(2, "")
	second := newHarness(t, dir, "run-2", stub, []int64{1, 2}, 10, 1)
	if err := second.harvest.Run(context.Background()); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if got := stub.callCount(2); got != 2 {
		t.Fatalf("expected rejected item refetched next run, got %d calls", got)
	}
	if got := persistedIDs(t, second.out); len(got) != 2 || !got[2] {
		t.Fatalf("expected repaired record persisted, got %v", got)
	}
}

func TestAbandonedItemRetriesNextRun(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	stub := newPrimaryStub()
	stub.set(2, "transient")

	first := newHarness(t, dir, "run-1", stub, []int64{1, 2}, 10, 1)
	if err := first.harvest.Run(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}

	totals := first.harvest.snapshotTotals()
	if totals.Abandoned != 1 || totals.Succeeded != 1 {
		t.Fatalf("unexpected totals %+v", totals)
	}
	skips, err := first.ledger.TerminalSkips(context.Background())
	if err != nil {
		t.Fatalf("terminal skips: %v", err)
	}
	if len(skips) != 0 {
		t.Fatalf("transient failure must not skip terminally, got %v", skips)
	}

	stub.set(2, "")
	second := newHarness(t, dir, "run-2", stub, []int64{1, 2}, 10, 1)
	if err := second.harvest.Run(context.Background()); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if got := persistedIDs(t, second.out); len(got) != 2 || !got[2] {
		t.Fatalf("expected abandoned item recovered next run, got %v", got)
	}
}

func TestCancellationSealsBufferedRecords(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	stub := newPrimaryStub()
	stub.set(2, "slow")

	h := newHarness(t, dir, "run-1", stub, []int64{1, 2}, 10, 1)

	ctx, cancel := context.WithCancel(context.Background())
	timer := time.AfterFunc(100*time.Millisecond, cancel)
	defer timer.Stop()
	defer cancel()

	err := h.harvest.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation error, got %v", err)
	}

	persisted := persistedIDs(t, h.out)
	if len(persisted) != 1 || !persisted[1] {
		t.Fatalf("expected buffered record 1 flushed during shutdown, got %v", persisted)
	}
}
