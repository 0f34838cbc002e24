package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"
)

// ErrNotFound reports that a requested record does not exist. Callers match
// it with errors.Is to map lookups to 404 responses.
var ErrNotFound = errors.New("record not found")

// Store provides SQLite-backed persistence
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// New creates a new Store, opening the SQLite database and running migrations
func New(dbPath string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{
		db:     db,
		logger: logger,
	}

	// Run migrations
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Info("Store initialized successfully", "path", dbPath)
	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// ============================================================================
// TestRun Operations
// ============================================================================

// CreateTestRun inserts a new TestRun
func (s *Store) CreateTestRun(run *TestRun) error {
	const query = `
		INSERT INTO test_runs (
			id, status, artifact_id, artifact_identity, suite_names, suite_count,
			iut_provider, execution_space_provider, log_area_provider,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.Exec(
		query,
		run.ID, run.Status, run.ArtifactID, run.ArtifactIdentity,
		run.SuiteNames, run.SuiteCount, run.IUTProvider,
		run.ExecutionSpaceProvider, run.LogAreaProvider,
		run.CreatedAt, run.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert test run: %w", err)
	}

	return nil
}

// GetTestRun retrieves a TestRun by ID
func (s *Store) GetTestRun(id string) (*TestRun, error) {
	const query = `
		SELECT id, status, artifact_id, artifact_identity, suite_names, suite_count,
		       iut_provider, execution_space_provider, log_area_provider,
		       created_at, updated_at
		FROM test_runs WHERE id = ?
	`

	run := &TestRun{}
	err := s.db.QueryRow(query, id).Scan(
		&run.ID, &run.Status, &run.ArtifactID, &run.ArtifactIdentity,
		&run.SuiteNames, &run.SuiteCount, &run.IUTProvider,
		&run.ExecutionSpaceProvider, &run.LogAreaProvider,
		&run.CreatedAt, &run.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("test run %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to query test run: %w", err)
	}

	return run, nil
}

// UpdateTestRunStatus sets the status of an existing run and bumps its
// updated_at timestamp
func (s *Store) UpdateTestRunStatus(id, status string) error {
	const query = `
		UPDATE test_runs
		SET status = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`

	result, err := s.db.Exec(query, status, id)
	if err != nil {
		return fmt.Errorf("failed to update test run status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("test run %s: %w", id, ErrNotFound)
	}

	return nil
}

// ListTestRuns retrieves TestRuns, optionally filtered by status
func (s *Store) ListTestRuns(status string, limit int) ([]TestRun, error) {
	query := `
		SELECT id, status, artifact_id, artifact_identity, suite_names, suite_count,
		       iut_provider, execution_space_provider, log_area_provider,
		       created_at, updated_at
		FROM test_runs
	`
	var args []interface{}

	if status != "" {
		query += " WHERE status = ?"
		args = append(args, status)
	}

	query += " ORDER BY created_at DESC"

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query test runs: %w", err)
	}
	defer rows.Close()

	var runs []TestRun
	for rows.Next() {
		run := TestRun{}
		err := rows.Scan(
			&run.ID, &run.Status, &run.ArtifactID, &run.ArtifactIdentity,
			&run.SuiteNames, &run.SuiteCount, &run.IUTProvider,
			&run.ExecutionSpaceProvider, &run.LogAreaProvider,
			&run.CreatedAt, &run.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan test run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating test runs: %w", err)
	}

	return runs, nil
}

// CountTestRunsByStatus returns run counts keyed by status
func (s *Store) CountTestRunsByStatus() (map[string]int, error) {
	const query = "SELECT status, COUNT(*) FROM test_runs GROUP BY status"

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to count test runs: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan test run count: %w", err)
		}
		counts[status] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating test run counts: %w", err)
	}

	return counts, nil
}

// ============================================================================
// Provider Operations
// ============================================================================

// UpsertProvider inserts or replaces a provider document keyed by type and
// name
func (s *Store) UpsertProvider(rec *ProviderRecord) error {
	const query = `
		INSERT OR REPLACE INTO providers (
			id, type, name, document, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?)
	`

	// Pass nil for ID when 0 so SQLite uses AUTOINCREMENT
	var idVal interface{}
	if rec.ID != 0 {
		idVal = rec.ID
	}

	result, err := s.db.Exec(
		query,
		idVal, rec.Type, rec.Name, rec.Document, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert provider: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	rec.ID = id

	return nil
}

// GetProvider retrieves a provider document by type and name
func (s *Store) GetProvider(providerType, name string) (*ProviderRecord, error) {
	const query = `
		SELECT id, type, name, document, created_at, updated_at
		FROM providers WHERE type = ? AND name = ?
	`

	rec := &ProviderRecord{}
	err := s.db.QueryRow(query, providerType, name).Scan(
		&rec.ID, &rec.Type, &rec.Name, &rec.Document,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("provider %s/%s: %w", providerType, name, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to query provider: %w", err)
	}

	return rec, nil
}

// ListProviders retrieves provider documents, optionally filtered by type
func (s *Store) ListProviders(providerType string) ([]ProviderRecord, error) {
	query := `
		SELECT id, type, name, document, created_at, updated_at
		FROM providers
	`
	var args []interface{}

	if providerType != "" {
		query += " WHERE type = ?"
		args = append(args, providerType)
	}

	query += " ORDER BY type, name"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query providers: %w", err)
	}
	defer rows.Close()

	var records []ProviderRecord
	for rows.Next() {
		rec := ProviderRecord{}
		err := rows.Scan(
			&rec.ID, &rec.Type, &rec.Name, &rec.Document,
			&rec.CreatedAt, &rec.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan provider: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating providers: %w", err)
	}

	return records, nil
}

// DeleteProvider deletes a provider document by type and name
func (s *Store) DeleteProvider(providerType, name string) error {
	const query = "DELETE FROM providers WHERE type = ? AND name = ?"

	result, err := s.db.Exec(query, providerType, name)
	if err != nil {
		return fmt.Errorf("failed to delete provider: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("provider %s/%s: %w", providerType, name, ErrNotFound)
	}

	return nil
}

// CountProviders returns the number of stored provider documents
func (s *Store) CountProviders() (int, error) {
	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM providers").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count providers: %w", err)
	}
	return count, nil
}
