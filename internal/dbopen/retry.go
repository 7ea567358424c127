package dbopen

import (
	"database/sql"
	"fmt"
	"strings"
)

const maxRetries = 3

// RunTransaction runs fn inside a transaction, retrying the whole
// transaction up to maxRetries times if SQLite reports the database as
// locked (WAL mode still serializes writers).
func RunTransaction(db *sql.DB, fn func(*sql.Tx) error) error {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		tx, err := db.Begin()
		if err != nil {
			lastErr = fmt.Errorf("begin: %w", err)
			continue
		}

		if err := fn(tx); err != nil {
			tx.Rollback()
			lastErr = err
			if attempt < maxRetries-1 && isBusy(err) {
				continue
			}
			return err
		}

		if err := tx.Commit(); err != nil {
			lastErr = fmt.Errorf("commit: %w", err)
			if attempt < maxRetries-1 && isBusy(err) {
				continue
			}
			return lastErr
		}
		return nil
	}
	return fmt.Errorf("transaction failed after %d attempts: %w", maxRetries, lastErr)
}

// ExecWithRetry retries a single statement on SQLITE_BUSY.
func ExecWithRetry(db *sql.DB, query string, args ...any) (sql.Result, error) {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		res, err := db.Exec(query, args...)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if attempt == maxRetries-1 || !isBusy(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "locked") || strings.Contains(err.Error(), "busy")
}
