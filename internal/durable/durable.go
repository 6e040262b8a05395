// Package durable provides the minimal write-ahead execution substrate the
// agent loop needs: named substeps whose outputs are recorded so a retried
// run replays them instead of re-executing side effects, and a per-run
// cancellation flag checked at substep boundaries.
package durable

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/nanoagent/runtime/internal/errs"
)

// Store is a write-ahead ledger of (runID, stepName) -> output, backed by a
// pure-Go SQLite database so the runtime has no cgo dependency.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens (creating if absent) the step ledger at path. Use ":memory:"
// for an ephemeral, test-only store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("durable: failed to open store: %w", err)
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS steps (
			run_id TEXT NOT NULL,
			step_name TEXT NOT NULL,
			output_json TEXT NOT NULL,
			PRIMARY KEY (run_id, step_name)
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("durable: failed to create schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Run tracks per-run substep indexing and cancellation for one agent run.
type Run struct {
	store   *Store
	id      string
	mu      sync.Mutex
	indexes map[string]int
	cancel  bool
}

// NewRun begins tracking a run identified by runID (typically a fresh
// google/uuid string minted by the caller).
func (s *Store) NewRun(runID string) *Run {
	return &Run{store: s, id: runID, indexes: make(map[string]int)}
}

// Cancel marks the run cancelled. Effective at the next substep boundary.
func (r *Run) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancel = true
}

// Cancelled reports whether Cancel has been called for this run.
func (r *Run) Cancelled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancel
}

// nextName auto-indexes repeated step base names within a run: "think",
// "think", "think" become "think:0", "think:1", "think:2".
func (r *Run) nextName(base string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := r.indexes[base]
	r.indexes[base] = idx + 1
	return fmt.Sprintf("%s:%d", base, idx)
}

// Step executes fn as a named durable substep. If a prior attempt of this
// run already recorded an output for this step name, that output is
// returned without invoking fn. Otherwise fn runs, its result is persisted,
// then returned. Step checks the run's cancellation flag before invoking fn
// and returns errs.ErrCancelled-wrapping context.Canceled if set — an
// in-flight fn is never interrupted mid-execution, but no further steps
// commit after cancellation is observed.
func Step[T any](ctx context.Context, r *Run, baseName string, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	if r.Cancelled() {
		return zero, errs.Cancelled()
	}
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	default:
	}

	name := r.nextName(baseName)

	if cached, ok, err := r.store.load(r.id, name); err != nil {
		return zero, fmt.Errorf("durable: failed to check step cache: %w", err)
	} else if ok {
		var out T
		if err := json.Unmarshal(cached, &out); err != nil {
			return zero, fmt.Errorf("durable: failed to decode cached step output: %w", err)
		}
		return out, nil
	}

	out, err := fn(ctx)
	if err != nil {
		return zero, err
	}

	if r.Cancelled() {
		// The step completed but the run was cancelled while it ran — the
		// output is discarded, not committed, per the cancellation invariant.
		return zero, errs.Cancelled()
	}

	encoded, err := json.Marshal(out)
	if err != nil {
		return zero, fmt.Errorf("durable: failed to encode step output: %w", err)
	}
	if err := r.store.save(r.id, name, encoded); err != nil {
		return zero, fmt.Errorf("durable: failed to persist step output: %w", err)
	}

	return out, nil
}

func (s *Store) load(runID, stepName string) (json.RawMessage, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var raw string
	err := s.db.QueryRow(`SELECT output_json FROM steps WHERE run_id = ? AND step_name = ?`, runID, stepName).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return json.RawMessage(raw), true, nil
}

func (s *Store) save(runID, stepName string, output json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO steps (run_id, step_name, output_json) VALUES (?, ?, ?)`,
		runID, stepName, string(output),
	)
	return err
}
