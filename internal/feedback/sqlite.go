package feedback

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const feedbackColumns = `id, drug, gene, diplotype, phenotype,
			suggested_risk_label, clinician_risk_label, agreed,
			notes, created_at, updated_at`

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStore creates a new SQLite feedback store.
// It creates the database file and schema if they don't exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL lets the HTTP handlers read while an import writes
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		dbPath: dbPath,
	}, nil
}

// scanner is an interface for sql.Row and sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanFeedback(s scanner) (*Feedback, error) {
	fb := &Feedback{}
	var phenotype string

	err := s.Scan(
		&fb.ID, &fb.Drug, &fb.Gene, &fb.Diplotype, &phenotype,
		&fb.SuggestedRiskLabel, &fb.ClinicianRiskLabel, &fb.Agreed,
		&fb.Notes, &fb.CreatedAt, &fb.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	fb.Phenotype = domainPhenotype(phenotype)
	return fb, nil
}

func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS drug_feedback (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		drug TEXT NOT NULL,
		gene TEXT NOT NULL,
		diplotype TEXT NOT NULL,
		phenotype TEXT NOT NULL DEFAULT 'Unknown',
		suggested_risk_label TEXT NOT NULL,
		clinician_risk_label TEXT NOT NULL,
		agreed INTEGER NOT NULL DEFAULT 0,
		notes TEXT DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(drug, gene, diplotype)
	);

	CREATE INDEX IF NOT EXISTS idx_drug_feedback_drug ON drug_feedback(drug);
	CREATE INDEX IF NOT EXISTS idx_drug_feedback_created_at ON drug_feedback(created_at);
	`

	_, err := db.Exec(schema)
	return err
}

// Save stores or updates clinician feedback.
func (s *SQLiteStore) Save(ctx context.Context, feedback *Feedback) error {
	feedback.Normalize()
	if err := feedback.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()

	var existingID int64
	var createdAt time.Time
	err := s.db.QueryRowContext(ctx,
		"SELECT id, created_at FROM drug_feedback WHERE drug = ? AND gene = ? AND diplotype = ?",
		feedback.Drug, feedback.Gene, feedback.Diplotype,
	).Scan(&existingID, &createdAt)

	if err == nil {
		feedback.ID = existingID
		feedback.CreatedAt = createdAt
		feedback.UpdatedAt = now

		_, err = s.db.ExecContext(ctx, `
			UPDATE drug_feedback SET
				phenotype = ?,
				suggested_risk_label = ?,
				clinician_risk_label = ?,
				agreed = ?,
				notes = ?,
				updated_at = ?
			WHERE id = ?
		`,
			string(feedback.Phenotype),
			feedback.SuggestedRiskLabel,
			feedback.ClinicianRiskLabel,
			feedback.Agreed,
			feedback.Notes,
			now,
			existingID,
		)
		if err != nil {
			return fmt.Errorf("failed to update: %w", err)
		}
		return nil
	}

	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to check existing: %w", err)
	}

	feedback.CreatedAt = now
	feedback.UpdatedAt = now

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO drug_feedback (
			drug, gene, diplotype, phenotype,
			suggested_risk_label, clinician_risk_label, agreed,
			notes, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		feedback.Drug,
		feedback.Gene,
		feedback.Diplotype,
		string(feedback.Phenotype),
		feedback.SuggestedRiskLabel,
		feedback.ClinicianRiskLabel,
		feedback.Agreed,
		feedback.Notes,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to insert: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get insert ID: %w", err)
	}
	feedback.ID = id

	return nil
}

// Get retrieves the feedback for drug, gene and diplotype.
func (s *SQLiteStore) Get(ctx context.Context, drug, gene, diplotype string) (*Feedback, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+feedbackColumns+`
		FROM drug_feedback
		WHERE drug = ? AND gene = ? AND diplotype = ?
		LIMIT 1
	`, drug, gene, diplotype)

	fb, err := scanFeedback(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan: %w", err)
	}
	return fb, nil
}

// List returns feedback entries newest first.
func (s *SQLiteStore) List(ctx context.Context, limit, offset int) ([]*Feedback, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+feedbackColumns+`
		FROM drug_feedback
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()

	var result []*Feedback
	for rows.Next() {
		fb, err := scanFeedback(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		result = append(result, fb)
	}
	return result, rows.Err()
}

// Count returns the total number of feedback entries.
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM drug_feedback").Scan(&count)
	return count, err
}

// Delete removes a feedback entry by ID.
func (s *SQLiteStore) Delete(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM drug_feedback WHERE id = ?", id)
	return err
}

// ExportJSON exports all feedback to a JSON writer.
func (s *SQLiteStore) ExportJSON(ctx context.Context, writer io.Writer) error {
	return exportJSON(ctx, s, writer)
}

// ImportJSON imports feedback from a JSON reader.
func (s *SQLiteStore) ImportJSON(ctx context.Context, reader io.Reader) (imported int, skipped int, err error) {
	return importJSON(ctx, s, reader)
}

// Ping checks the database handle.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the store and releases resources.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
