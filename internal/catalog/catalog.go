// Package catalog keeps a history of dataset verification runs in SQLite so
// that a corpus can be checked once and its defects queried later without
// reloading every raster.
package catalog

import (
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/ironsheep/marida-corpus-mcp/internal/dataset"
	"github.com/ironsheep/marida-corpus-mcp/internal/monitoring"
)

// ErrRunNotFound is returned when no verification run matches a query.
var ErrRunNotFound = errors.New("verification run not found")

//go:embed schema.sql
var schemaSQL string

// Run is the summary row of one recorded verification pass.
type Run struct {
	RunID     string `json:"run_id"`
	Split     string `json:"split"`
	Total     int    `json:"total"`
	OK        int    `json:"ok"`
	Problems  int    `json:"problems"`
	CreatedAt int64  `json:"created_at"`
}

// Catalog is a SQLite-backed store of verification runs.
type Catalog struct {
	db *sql.DB
}

// Open opens or creates the catalog database at path and applies the schema.
func Open(path string) (*Catalog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA foreign_keys = ON`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply catalog schema: %w", err)
	}
	monitoring.Debugf("opened verification catalog %s", path)
	return &Catalog{db: db}, nil
}

// Close closes the database.
func (c *Catalog) Close() error {
	return c.db.Close()
}

// Record stores report as a new run with a fresh run id.
func (c *Catalog) Record(report *dataset.VerifyReport) (*Run, error) {
	run := &Run{
		RunID:     uuid.New().String(),
		Split:     report.Split,
		Total:     report.Total,
		OK:        report.OK,
		Problems:  len(report.Problems),
		CreatedAt: time.Now().UnixNano(),
	}

	tx, err := c.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO verify_runs (run_id, split, total, ok, problems, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		run.RunID, run.Split, run.Total, run.OK, run.Problems, run.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert run: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO verify_problems (run_id, idx, identifier, kind, detail)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare problem insert: %w", err)
	}
	defer stmt.Close()
	for _, p := range report.Problems {
		if _, err := stmt.Exec(run.RunID, p.Index, p.Identifier, p.Kind, p.Detail); err != nil {
			return nil, fmt.Errorf("failed to insert problem for %s: %w", p.Identifier, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit run: %w", err)
	}
	return run, nil
}

// Runs lists recorded runs, newest first. An empty split lists every split.
func (c *Catalog) Runs(split string) ([]*Run, error) {
	query := `
		SELECT run_id, split, total, ok, problems, created_at
		FROM verify_runs`
	var args []any
	if split != "" {
		query += ` WHERE split = ?`
		args = append(args, split)
	}
	query += ` ORDER BY created_at DESC, rowid DESC`

	rows, err := c.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Latest returns the most recent run for split.
func (c *Catalog) Latest(split string) (*Run, error) {
	row := c.db.QueryRow(`
		SELECT run_id, split, total, ok, problems, created_at
		FROM verify_runs
		WHERE split = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT 1`, split)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: split %s", ErrRunNotFound, split)
	}
	return r, err
}

// Problems returns the problems recorded for runID in sample order.
func (c *Catalog) Problems(runID string) ([]dataset.Problem, error) {
	var exists int
	err := c.db.QueryRow(`SELECT COUNT(*) FROM verify_runs WHERE run_id = ?`, runID).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("failed to look up run: %w", err)
	}
	if exists == 0 {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}

	rows, err := c.db.Query(`
		SELECT idx, identifier, kind, detail
		FROM verify_problems
		WHERE run_id = ?
		ORDER BY idx, kind`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query problems: %w", err)
	}
	defer rows.Close()

	problems := []dataset.Problem{}
	for rows.Next() {
		var p dataset.Problem
		if err := rows.Scan(&p.Index, &p.Identifier, &p.Kind, &p.Detail); err != nil {
			return nil, fmt.Errorf("failed to scan problem: %w", err)
		}
		problems = append(problems, p)
	}
	return problems, rows.Err()
}

// Delete removes a run and its problems.
func (c *Catalog) Delete(runID string) error {
	res, err := c.db.Exec(`DELETE FROM verify_runs WHERE run_id = ?`, runID)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	var r Run
	if err := s.Scan(&r.RunID, &r.Split, &r.Total, &r.OK, &r.Problems, &r.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}
	return &r, nil
}
