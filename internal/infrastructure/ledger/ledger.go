package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"steamharvest/internal/domain"
	"steamharvest/internal/ports"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id           TEXT PRIMARY KEY,
	worklist_digest  TEXT NOT NULL,
	total_items      INTEGER NOT NULL,
	started_at       TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	finished_at      TIMESTAMP,
	succeeded        INTEGER NOT NULL DEFAULT 0,
	invalid          INTEGER NOT NULL DEFAULT 0,
	skipped_terminal INTEGER NOT NULL DEFAULT 0,
	abandoned        INTEGER NOT NULL DEFAULT 0,
	note             TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS skips (
	app_id      INTEGER PRIMARY KEY,
	run_id      TEXT NOT NULL,
	reason      TEXT NOT NULL,
	recorded_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS rejections (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id      TEXT NOT NULL,
	app_id      INTEGER NOT NULL,
	violations  TEXT NOT NULL,
	recorded_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// Ledger keeps run history and per-item terminal outcomes in a local
// SQLite file next to the output store.
type Ledger struct {
	db *sql.DB
}

var _ ports.Ledger = (*Ledger)(nil)

// Open creates or opens the ledger database and ensures its schema.
func Open(path string) (*Ledger, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create ledger dir %s: %w", dir, err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open ledger %s: %w", path, err)
	}
	// SQLite allows one writer; a single connection keeps statements serialized.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure ledger schema: %w", err)
	}

	return &Ledger{db: db}, nil
}

// StartRun registers a run before any item is processed.
func (l *Ledger) StartRun(ctx context.Context, runID, worklistDigest string, total int) error {
	query := `INSERT INTO runs (run_id, worklist_digest, total_items) VALUES ($1, $2, $3)`

	if _, err := l.db.ExecContext(ctx, query, runID, worklistDigest, total); err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	return nil
}

// FinishRun stores the final counters for a run.
func (l *Ledger) FinishRun(ctx context.Context, runID string, totals domain.RunTotals, note string) error {
	query := `UPDATE runs
	          SET finished_at = CURRENT_TIMESTAMP,
	              succeeded = $1,
	              invalid = $2,
	              skipped_terminal = $3,
	              abandoned = $4,
	              note = $5
	          WHERE run_id = $6`

	_, err := l.db.ExecContext(ctx, query,
		totals.Succeeded,
		totals.Invalid,
		totals.SkippedTerminal,
		totals.Abandoned,
		note,
		runID,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// TerminalSkips returns every app id skipped for good in any earlier run.
func (l *Ledger) TerminalSkips(ctx context.Context) (map[int64]bool, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT app_id FROM skips`)
	if err != nil {
		return nil, fmt.Errorf("query skips: %w", err)
	}

	result := make(map[int64]bool)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan skip: %w", err)
		}
		result[id] = true
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("rows iteration: %w", rowsErr)
	}

	if closeErr := rows.Close(); closeErr != nil {
		return nil, fmt.Errorf("close rows: %w", closeErr)
	}

	return result, nil
}

// RecordSkip marks an app id as terminally skipped. Recording the same id
// again is a no-op; the first reason wins.
func (l *Ledger) RecordSkip(ctx context.Context, runID string, appID int64, reason string) error {
	query := `INSERT OR IGNORE INTO skips (app_id, run_id, reason) VALUES ($1, $2, $3)`

	if _, err := l.db.ExecContext(ctx, query, appID, runID, reason); err != nil {
		return fmt.Errorf("record skip: %w", err)
	}
	return nil
}

// RecordRejection stores the contract violations that disqualified a record.
// Rejections are per run: the item is fetched again next time.
func (l *Ledger) RecordRejection(ctx context.Context, runID string, appID int64, violations []domain.Violation) error {
	parts := make([]string, len(violations))
	for i, v := range violations {
		parts[i] = v.String()
	}

	query := `INSERT INTO rejections (run_id, app_id, violations) VALUES ($1, $2, $3)`

	if _, err := l.db.ExecContext(ctx, query, runID, appID, strings.Join(parts, "; ")); err != nil {
		return fmt.Errorf("record rejection: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (l *Ledger) Close() error {
	return l.db.Close()
}
