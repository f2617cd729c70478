package collection

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"harvest/internal/collector"
	"harvest/internal/faults"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is the current schema version. Bump this when the schema changes.
const schemaVersion = 1

// ErrSchemaMismatch indicates the database schema version doesn't match the expected version.
var ErrSchemaMismatch = errors.New("schema version mismatch")

const (
	databaseFile            = "collection.db"
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// stateDB persists collector configuration and cursors.
type stateDB struct {
	db   *sql.DB
	path string
}

// storedCollector is one row of the collectors table.
type storedCollector struct {
	id       string
	kind     collector.Kind
	params   []byte
	cursor   collector.Cursor
	position int64
}

func openStateDB(ctx context.Context, root string) (*stateDB, error) {
	dbPath := filepath.Join(root, databaseFile)
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous = FULL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	state := &stateDB{db: db, path: dbPath}
	if err := state.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return state, nil
}

func (s *stateDB) close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *stateDB) initSchema(ctx context.Context) error {
	var tableExists int
	err := retryOnBusy(ctx, func() error {
		return s.db.QueryRowContext(ctx,
			"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
		).Scan(&tableExists)
	})
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}

	if tableExists == 0 {
		return s.createSchema(ctx)
	}

	var version int
	err = retryOnBusy(ctx, func() error {
		return s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version)
	})
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d (delete %s to start over)",
			ErrSchemaMismatch, version, schemaVersion, s.path)
	}
	return nil
}

func (s *stateDB) createSchema(ctx context.Context) error {
	return retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin schema tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
		var count int
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(1) FROM schema_version").Scan(&count); err != nil {
			return fmt.Errorf("read schema version: %w", err)
		}
		if count == 0 {
			if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
				return fmt.Errorf("record schema version: %w", err)
			}
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit schema: %w", err)
		}
		return nil
	})
}

func (s *stateDB) list(ctx context.Context) ([]storedCollector, error) {
	var rows []storedCollector
	err := retryOnBusy(ctx, func() error {
		rows = rows[:0]
		result, err := s.db.QueryContext(ctx,
			"SELECT id, kind, params_json, anchor, cursor_ts, position FROM collectors ORDER BY position")
		if err != nil {
			return err
		}
		defer result.Close()
		for result.Next() {
			var (
				row      storedCollector
				kind     string
				params   string
				anchor   sql.NullString
				cursorTS sql.NullString
			)
			if err := result.Scan(&row.id, &kind, &params, &anchor, &cursorTS, &row.position); err != nil {
				return err
			}
			row.kind = collector.Kind(kind)
			row.params = []byte(params)
			row.cursor.Anchor = anchor.String
			if cursorTS.Valid && cursorTS.String != "" {
				ts, err := time.Parse(time.RFC3339Nano, cursorTS.String)
				if err != nil {
					return fmt.Errorf("parse cursor of %s: %w", row.id, err)
				}
				row.cursor.Timestamp = ts
			}
			rows = append(rows, row)
		}
		return result.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list collectors: %w", err)
	}
	return rows, nil
}

func (s *stateDB) insert(ctx context.Context, c *collector.Collector, now time.Time) error {
	params, err := c.Encode()
	if err != nil {
		return err
	}
	anchor, cursorTS := cursorColumns(c.Cursor())
	stamp := now.UTC().Format(time.RFC3339Nano)
	err = retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO collectors (id, kind, params_json, anchor, cursor_ts, position, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, (SELECT COALESCE(MAX(position), 0) + 1 FROM collectors), ?, ?)`,
			c.Identifier(), string(c.Kind()), string(params), anchor, cursorTS, stamp, stamp)
		return err
	})
	if err != nil {
		if isUniqueViolation(err) {
			return faults.Wrap(faults.ErrConflict, component, "add collector", c.Identifier()+" already registered", nil)
		}
		return faults.Wrap(faults.ErrIO, component, "add collector", "insert "+c.Identifier(), err)
	}
	return nil
}

func (s *stateDB) delete(ctx context.Context, id string) (bool, error) {
	var affected int64
	err := retryOnBusy(ctx, func() error {
		res, err := s.db.ExecContext(ctx, "DELETE FROM collectors WHERE id = ?", id)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return false, faults.Wrap(faults.ErrIO, component, "remove collector", "delete "+id, err)
	}
	return affected > 0, nil
}

// updateCursor persists a cursor in a single statement. It reports false when
// the collector row no longer exists.
func (s *stateDB) updateCursor(ctx context.Context, id string, cursor collector.Cursor, now time.Time) (bool, error) {
	anchor, cursorTS := cursorColumns(cursor)
	var affected int64
	err := retryOnBusy(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			"UPDATE collectors SET anchor = ?, cursor_ts = ?, updated_at = ? WHERE id = ?",
			anchor, cursorTS, now.UTC().Format(time.RFC3339Nano), id)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return false, faults.Wrap(faults.ErrIO, component, "persist cursor", id, err)
	}
	return affected > 0, nil
}

func cursorColumns(cursor collector.Cursor) (sql.NullString, sql.NullString) {
	anchor := sql.NullString{String: cursor.Anchor, Valid: cursor.Anchor != ""}
	ts := sql.NullString{}
	if !cursor.Timestamp.IsZero() {
		ts = sql.NullString{String: cursor.Timestamp.UTC().Format(time.RFC3339Nano), Valid: true}
	}
	return anchor, ts
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code()&0xff == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}
