// Package sqlite is the reference Datastore (C1) implementation, backed by
// modernc.org/sqlite (a pure-Go driver, no cgo) with schema migrations
// managed by goose.
//
// A Datastore opens two separate *sql.DB pools against the same file: a
// single-connection write pool (SQLite allows only one writer at a time)
// and a multi-connection read pool, so Changed*/PageToken/DriveExists
// queries never queue behind an in-flight bootstrap or sync transaction.
// WAL mode is what makes that non-blocking.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	ds "github.com/gdrivemirror/bernard/datastore"

	_ "modernc.org/sqlite"
)

// Datastore is a SQLite-backed implementation of datastore.Datastore.
type Datastore struct {
	write *sql.DB
	read  *sql.DB
}

// Open creates (or migrates) a SQLite database at path and returns a ready
// Datastore. For an ephemeral in-process store, pass
// "file::memory:?cache=shared" so the write and read pools see the same
// database.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Datastore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	pragmas := "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)"
	dsn := path + "?" + pragmas
	if strings.Contains(path, "?") {
		dsn = path + "&" + pragmas
	}

	write, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open write pool: %w", ds.ErrDatabase)
	}
	write.SetMaxOpenConns(1)

	if err := runMigrations(ctx, write, logger); err != nil {
		write.Close()
		return nil, err
	}

	read, err := sql.Open("sqlite", dsn)
	if err != nil {
		write.Close()
		return nil, fmt.Errorf("sqlite: open read pool: %w", ds.ErrDatabase)
	}

	return &Datastore{write: write, read: read}, nil
}

// Close releases both connection pools.
func (s *Datastore) Close() error {
	writeErr := s.write.Close()
	readErr := s.read.Close()
	if writeErr != nil {
		return fmt.Errorf("sqlite: close write pool: %w", ds.ErrDatabase)
	}
	if readErr != nil {
		return fmt.Errorf("sqlite: close read pool: %w", ds.ErrDatabase)
	}
	return nil
}

// Begin starts a new write transaction. Only one Tx may be open at a time
// across the whole Datastore, enforced by the write pool's single
// connection.
func (s *Datastore) Begin() (ds.Tx, error) {
	tx, err := s.write.Begin()
	if err != nil {
		return nil, fmt.Errorf("sqlite: begin transaction: %w", ds.ErrDatabase)
	}

	if _, err := tx.Exec("PRAGMA defer_foreign_keys = ON"); err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("sqlite: defer foreign keys: %w", ds.ErrDatabase)
	}

	return &Tx{tx: tx}, nil
}

// DriveExists reports whether driveID has been bootstrapped.
func (s *Datastore) DriveExists(driveID string) (bool, error) {
	var exists bool
	row := s.read.QueryRow("SELECT EXISTS(SELECT 1 FROM drives WHERE id = ?)", driveID)
	if err := row.Scan(&exists); err != nil {
		return false, fmt.Errorf("sqlite: drive exists: %w", ds.ErrDatabase)
	}
	return exists, nil
}

// PageToken returns the last-synced change cursor for driveID. Returns
// ds.ErrFullSync if the drive has never been bootstrapped.
func (s *Datastore) PageToken(driveID string) (string, error) {
	var pageToken string
	row := s.read.QueryRow("SELECT page_token FROM drives WHERE id = ?", driveID)
	if err := row.Scan(&pageToken); err != nil {
		if err == sql.ErrNoRows {
			return "", ds.ErrFullSync
		}
		return "", fmt.Errorf("sqlite: page token: %w", ds.ErrDatabase)
	}
	return pageToken, nil
}

// RemoveDrive deletes driveID and (by ON DELETE CASCADE) every folder and
// file beneath it.
func (s *Datastore) RemoveDrive(driveID string) error {
	if _, err := s.write.Exec("DELETE FROM drives WHERE id = ?", driveID); err != nil {
		return fmt.Errorf("sqlite: remove drive: %w", ds.ErrDatabase)
	}
	return nil
}

// ClearChangelog discards every accumulated folder_changelog/file_changelog
// row for driveID, without touching the tree itself.
func (s *Datastore) ClearChangelog(driveID string) error {
	if _, err := s.write.Exec("DELETE FROM folder_changelog WHERE drive_id = ?", driveID); err != nil {
		return fmt.Errorf("sqlite: clear folder changelog: %w", ds.ErrDatabase)
	}
	if _, err := s.write.Exec("DELETE FROM file_changelog WHERE drive_id = ?", driveID); err != nil {
		return fmt.Errorf("sqlite: clear file changelog: %w", ds.ErrDatabase)
	}
	return nil
}
