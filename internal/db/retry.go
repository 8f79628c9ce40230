package db

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mescon/repeatd/internal/logger"
)

// sleep is replaced in tests.
var sleep = time.Sleep

// isBusy reports whether err means SQLite could not take its lock.
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// withRetry runs op until it succeeds, fails with a non-busy error, or
// MaxRetries attempts have been made. Backoff doubles from RetryDelay.
func withRetry[T any](what string, op func() (T, error)) (T, error) {
	var (
		result T
		err    error
	)
	for attempt := 0; attempt < MaxRetries; attempt++ {
		result, err = op()
		if err == nil {
			return result, nil
		}
		if !isBusy(err) {
			return result, err
		}

		if attempt < MaxRetries-1 {
			delay := RetryDelay * time.Duration(1<<attempt)
			logger.Debugf("Database busy on %s, retrying in %v (attempt %d/%d)", what, delay, attempt+1, MaxRetries)
			sleep(delay)
		}
	}

	var zero T
	return zero, fmt.Errorf("%w after %d retries: %w", ErrBusy, MaxRetries, err)
}

// ErrBusy wraps the last error once every retry hit a locked database.
var ErrBusy = errors.New("database busy")

// ExecWithRetry executes a SQL statement, retrying while the database is locked.
func ExecWithRetry(db *sql.DB, query string, args ...interface{}) (sql.Result, error) {
	return withRetry("exec", func() (sql.Result, error) {
		return db.Exec(query, args...)
	})
}

// QueryWithRetry executes a query, retrying while the database is locked.
func QueryWithRetry(db *sql.DB, query string, args ...interface{}) (*sql.Rows, error) {
	return withRetry("query", func() (*sql.Rows, error) {
		return db.Query(query, args...)
	})
}
