package sqlite

import (
	"database/sql"
	"fmt"

	ds "github.com/gdrivemirror/bernard/datastore"
)

// dedupe picks one row per id from a changelog table: whichever row was
// written most recently, so a folder touched twice between two
// ClearChangelog calls is reported once, in its latest state.
// changed_at rides along in the outer SELECT (rather than being dropped
// after picking rn = 1) so callers that collapse several ids onto the same
// derived path, e.g. ChangedPaths, can still tell which of those ids was
// touched most recently.
const dedupeFolders = `
	SELECT id, drive_id, name, parent, trashed, deleted, changed_at
	FROM (
		SELECT *, ROW_NUMBER() OVER (PARTITION BY id ORDER BY changed_at DESC, rowid DESC) AS rn
		FROM folder_changelog
		WHERE drive_id = ?
	)
	WHERE rn = 1
`

const dedupeFiles = `
	SELECT id, drive_id, name, parent, trashed, md5, size, mime_type, deleted, changed_at
	FROM (
		SELECT *, ROW_NUMBER() OVER (PARTITION BY id ORDER BY changed_at DESC, rowid DESC) AS rn
		FROM file_changelog
		WHERE drive_id = ?
	)
	WHERE rn = 1
`

// ChangedFolders returns every folder that changed since the drive's
// changelog was last cleared, deduplicated to its latest state.
func (s *Datastore) ChangedFolders(driveID string) ([]ds.ChangedFolder, error) {
	rows, err := s.read.Query(dedupeFolders, driveID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: changed folders: %w", ds.ErrDatabase)
	}
	defer rows.Close()

	var out []ds.ChangedFolder
	for rows.Next() {
		var cf ds.ChangedFolder
		var parent sql.NullString
		var changedAt int64
		if err := rows.Scan(&cf.ID, &cf.DriveID, &cf.Name, &parent, &cf.Trashed, &cf.Deleted, &changedAt); err != nil {
			return nil, fmt.Errorf("sqlite: changed folders scan: %w", ds.ErrDatabase)
		}
		if parent.Valid {
			p := parent.String
			cf.Parent = &p
		}
		out = append(out, cf)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: changed folders: %w", ds.ErrDatabase)
	}

	return out, nil
}

// ChangedFiles is the file equivalent of ChangedFolders.
func (s *Datastore) ChangedFiles(driveID string) ([]ds.ChangedFile, error) {
	rows, err := s.read.Query(dedupeFiles, driveID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: changed files: %w", ds.ErrDatabase)
	}
	defer rows.Close()

	var out []ds.ChangedFile
	for rows.Next() {
		var cf ds.ChangedFile
		var changedAt int64
		if err := rows.Scan(&cf.ID, &cf.DriveID, &cf.Name, &cf.Parent, &cf.Trashed, &cf.MD5, &cf.Size, &cf.MimeType, &cf.Deleted, &changedAt); err != nil {
			return nil, fmt.Errorf("sqlite: changed files scan: %w", ds.ErrDatabase)
		}
		out = append(out, cf)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: changed files: %w", ds.ErrDatabase)
	}

	return out, nil
}
