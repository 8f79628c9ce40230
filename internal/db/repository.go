// Package db keeps an optional SQLite journal of job events. Jobs themselves
// are never restored from it; it only answers history queries.
package db

import (
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Register pure-Go SQLite driver for database/sql

	"github.com/mescon/repeatd/internal/domain"
	"github.com/mescon/repeatd/internal/logger"
)

// MaxRetries is the number of times to retry a database operation on SQLITE_BUSY
const MaxRetries = 5

// RetryDelay is the base delay between retries (increases exponentially)
const RetryDelay = 100 * time.Millisecond

// timeLayout is fixed-width so created_at sorts and compares as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Repository provides access to the event journal.
type Repository struct {
	DB *sql.DB
}

// NewRepository opens (creating if needed) the journal at dbPath and applies migrations.
func NewRepository(dbPath string) (*Repository, error) {
	// Ensure directory exists with restricted permissions (owner only)
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// busy_timeout is per connection, so it rides on the DSN for every pooled one
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(30000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL allows concurrent readers next to the single writer
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := configureSQLite(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to configure database: %w", err)
	}

	repo := &Repository{DB: db}
	if err := repo.runMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	if err := repo.checkIntegrity(); err != nil {
		logger.Errorf("Warning: database integrity check failed: %v", err)
		// Non-fatal but logged - the journal may need attention
	}

	return repo, nil
}

// configureSQLite sets SQLite pragmas for reliability and performance
func configureSQLite(db *sql.DB) error {
	criticalPragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=30000",
	}
	for _, pragma := range criticalPragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to set critical pragma %s: %w", pragma, err)
		}
	}

	// Non-critical pragmas - log failures but continue
	optionalPragmas := []string{
		"PRAGMA synchronous=NORMAL",
		"PRAGMA auto_vacuum=INCREMENTAL",
		"PRAGMA temp_store=MEMORY",
		"PRAGMA cache_size=-4000",
	}
	for _, pragma := range optionalPragmas {
		if _, err := db.Exec(pragma); err != nil {
			logger.Debugf("Failed to set optional pragma %s: %v", pragma, err)
		}
	}

	return nil
}

// checkIntegrity runs a quick integrity check on the database
func (r *Repository) checkIntegrity() error {
	var result string
	if err := r.DB.QueryRow("PRAGMA quick_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check query failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check failed: %s", result)
	}
	logger.Debugf("✓ Database integrity check passed")
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	return r.DB.Close()
}

// GracefulClose merges the WAL into the main database file and closes it.
func (r *Repository) GracefulClose() error {
	if _, err := r.DB.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		logger.Warnf("Shutdown WAL checkpoint failed: %v", err)
	}
	if err := r.DB.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	logger.Infof("✓ Event journal closed")
	return nil
}

// =============================================================================
// Events
// =============================================================================

// AppendEvent writes one event to the journal.
func (r *Repository) AppendEvent(event domain.Event) error {
	data := event.EventData
	if data == nil {
		data = map[string]interface{}{}
	}
	eventDataJSON, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	_, err = ExecWithRetry(r.DB, `
		INSERT INTO events (job_id, job_name, event_type, event_data, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, event.JobID, event.JobName, string(event.EventType), string(eventDataJSON), formatTime(event.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to persist event: %w", err)
	}
	return nil
}

// RecentEvents returns up to limit of the newest events, oldest first.
// A non-empty jobID restricts the result to that job.
func (r *Repository) RecentEvents(limit int, jobID string) ([]domain.Event, error) {
	if limit <= 0 {
		return nil, errors.New("limit must be positive")
	}

	query := `SELECT job_id, job_name, event_type, event_data, created_at FROM events`
	args := []interface{}{}
	if jobID != "" {
		query += ` WHERE job_id = ?`
		args = append(args, jobID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := QueryWithRetry(r.DB, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var (
			e         domain.Event
			eventType string
			dataJSON  string
			createdAt string
		)
		if err := rows.Scan(&e.JobID, &e.JobName, &eventType, &dataJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.EventType = domain.EventType(eventType)
		if err := json.Unmarshal([]byte(dataJSON), &e.EventData); err != nil {
			logger.Debugf("Skipping undecodable event data for job %s: %v", e.JobID, err)
		}
		if t, err := time.Parse(timeLayout, createdAt); err == nil {
			e.CreatedAt = t
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}

	// Newest-first from the query; callers want chronological order
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events, nil
}

// CountEvents returns the number of journaled events.
func (r *Repository) CountEvents() (int64, error) {
	var n int64
	if err := r.DB.QueryRow("SELECT COUNT(*) FROM events").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return n, nil
}

// PruneEvents deletes events created before cutoff. Returns how many were removed.
func (r *Repository) PruneEvents(cutoff time.Time) (int64, error) {
	res, err := ExecWithRetry(r.DB, "DELETE FROM events WHERE created_at < ?", formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to prune events: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// RunMaintenance prunes events older than retention (relative to now), then
// reclaims space. A zero retention keeps every event.
func (r *Repository) RunMaintenance(retention time.Duration, now time.Time) error {
	logger.Debugf("Starting event journal maintenance...")

	if retention > 0 {
		pruned, err := r.PruneEvents(now.Add(-retention))
		if err != nil {
			return err
		}
		if pruned > 0 {
			logger.Infof("Pruned %d events older than %s", pruned, retention)
		}
	}

	maintenanceOps := []struct {
		name        string
		sql         string
		warnOnError bool
	}{
		{"incremental vacuum", "PRAGMA incremental_vacuum", true},
		{"query planner optimize", "PRAGMA optimize", false},
		{"WAL checkpoint", "PRAGMA wal_checkpoint(PASSIVE)", false},
	}
	for _, op := range maintenanceOps {
		if _, err := r.DB.Exec(op.sql); err != nil {
			if op.warnOnError {
				logger.Warnf("Failed to run %s: %v", op.name, err)
			} else {
				logger.Debugf("%s failed (might not be applicable): %v", op.name, err)
			}
		}
	}

	logger.Debugf("✓ Event journal maintenance completed")
	return nil
}

// Stats returns the journal's size and event count.
func (r *Repository) Stats() (map[string]interface{}, error) {
	var pageCount, pageSize int64
	if err := r.DB.QueryRow("PRAGMA page_count").Scan(&pageCount); err != nil {
		return nil, fmt.Errorf("failed to get page_count: %w", err)
	}
	if err := r.DB.QueryRow("PRAGMA page_size").Scan(&pageSize); err != nil {
		return nil, fmt.Errorf("failed to get page_size: %w", err)
	}
	count, err := r.CountEvents()
	if err != nil {
		return nil, err
	}
	var journalMode string
	if err := r.DB.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		return nil, fmt.Errorf("failed to get journal_mode: %w", err)
	}

	return map[string]interface{}{
		"size_bytes":   pageCount * pageSize,
		"events":       count,
		"journal_mode": journalMode,
	}, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// =============================================================================
// Migrations
// =============================================================================

// createMigrationsTable ensures the schema_migrations table exists.
func (r *Repository) createMigrationsTable() error {
	_, err := r.DB.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER PRIMARY KEY, applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP)`)
	if err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}
	return nil
}

// currentMigrationVersion returns the highest applied migration version.
func (r *Repository) currentMigrationVersion() (int, error) {
	var version int
	err := r.DB.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to get current migration version: %w", err)
	}
	return version, nil
}

// migrationFiles returns sorted SQL migration files from the embedded filesystem.
func migrationFiles() ([]string, error) {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded migrations: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

// parseMigrationVersion extracts the version number from a migration filename.
func parseMigrationVersion(file string) (int, bool) {
	var version int
	if _, err := fmt.Sscanf(file, "%d_", &version); err != nil {
		return 0, false
	}
	return version, true
}

// applyMigration executes a single migration file within a transaction.
func (r *Repository) applyMigration(file string, version int) error {
	content, err := migrationsFS.ReadFile("migrations/" + file)
	if err != nil {
		return fmt.Errorf("failed to read migration file %s: %w", file, err)
	}

	tx, err := r.DB.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if tx != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err := tx.Exec(string(content)); err != nil {
		return fmt.Errorf("failed to execute migration %s: %w", file, err)
	}
	if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
		return fmt.Errorf("failed to record migration version %s: %w", file, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration %s: %w", file, err)
	}
	tx = nil // prevent deferred rollback after successful commit
	return nil
}

func (r *Repository) runMigrations() error {
	if err := r.createMigrationsTable(); err != nil {
		return err
	}

	currentVersion, err := r.currentMigrationVersion()
	if err != nil {
		return err
	}

	files, err := migrationFiles()
	if err != nil {
		return err
	}

	for _, file := range files {
		version, ok := parseMigrationVersion(file)
		if !ok {
			logger.Errorf("Skipping invalid migration file: %s", file)
			continue
		}
		if version <= currentVersion {
			continue
		}

		logger.Infof("Applying migration: %s", file)
		if err := r.applyMigration(file, version); err != nil {
			return err
		}
	}

	return nil
}
