package sqlite

import (
	"database/sql"
	"fmt"
	"strings"

	ds "github.com/gdrivemirror/bernard/datastore"
)

// Tx wraps a *sql.Tx and implements datastore.Tx. Every write method
// classifies a foreign-key violation into ds.ErrDataAnomaly so the
// Bootstrap Builder and Change Integrator can distinguish a torn/partial
// remote page from an unrelated database failure.
type Tx struct {
	tx *sql.Tx
}

// classify turns a raw SQLite error into ds.ErrDataAnomaly when it is a
// foreign-key violation, or ds.ErrDatabase otherwise. modernc.org/sqlite
// does not expose a typed constraint-violation error, so this matches on
// the driver's message the same way the upstream sqlite3 CLI reports it.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
		return fmt.Errorf("sqlite: %s: %w", op, ds.ErrDataAnomaly)
	}
	return fmt.Errorf("sqlite: %s: %w", op, ds.ErrDatabase)
}

func (t *Tx) CreateDrive(drive ds.Drive) error {
	_, err := t.tx.Exec(`INSERT INTO drives (id, name, page_token) VALUES (?, ?, ?)`,
		drive.ID, drive.Name, drive.PageToken)
	return classify("create drive", err)
}

func (t *Tx) UpdateDriveToken(driveID, token string) error {
	_, err := t.tx.Exec(`UPDATE drives SET page_token = ? WHERE id = ?`, token, driveID)
	return classify("update drive token", err)
}

func (t *Tx) UpdateFolderName(id, driveID, name string) error {
	_, err := t.tx.Exec(`UPDATE folders SET name = ? WHERE id = ? AND drive_id = ?`, name, id, driveID)
	return classify("update folder name", err)
}

func (t *Tx) CreateFolder(f ds.Folder) error {
	_, err := t.tx.Exec(`INSERT INTO folders (id, drive_id, name, parent, trashed) VALUES (?, ?, ?, ?, ?)`,
		f.ID, f.DriveID, f.Name, f.Parent, f.Trashed)
	return classify("create folder", err)
}

func (t *Tx) UpsertFolder(f ds.Folder) error {
	_, err := t.tx.Exec(`
		INSERT INTO folders (id, drive_id, name, parent, trashed) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id, drive_id) DO UPDATE SET
			name = excluded.name,
			parent = excluded.parent,
			trashed = excluded.trashed
	`, f.ID, f.DriveID, f.Name, f.Parent, f.Trashed)
	return classify("upsert folder", err)
}

func (t *Tx) DeleteFolder(id, driveID string) error {
	_, err := t.tx.Exec(`DELETE FROM folders WHERE id = ? AND drive_id = ?`, id, driveID)
	return classify("delete folder", err)
}

func (t *Tx) CreateFile(f ds.File) error {
	_, err := t.tx.Exec(`INSERT INTO files (id, drive_id, name, parent, trashed, md5, size, mime_type) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.DriveID, f.Name, f.Parent, f.Trashed, f.MD5, f.Size, f.MimeType)
	return classify("create file", err)
}

func (t *Tx) UpsertFile(f ds.File) error {
	_, err := t.tx.Exec(`
		INSERT INTO files (id, drive_id, name, parent, trashed, md5, size, mime_type) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id, drive_id) DO UPDATE SET
			name = excluded.name,
			parent = excluded.parent,
			trashed = excluded.trashed,
			md5 = excluded.md5,
			size = excluded.size,
			mime_type = excluded.mime_type
	`, f.ID, f.DriveID, f.Name, f.Parent, f.Trashed, f.MD5, f.Size, f.MimeType)
	return classify("upsert file", err)
}

func (t *Tx) DeleteFile(id, driveID string) error {
	_, err := t.tx.Exec(`DELETE FROM files WHERE id = ? AND drive_id = ?`, id, driveID)
	return classify("delete file", err)
}

// Commit is where a deferred foreign-key violation actually surfaces:
// PRAGMA defer_foreign_keys postpones the check from the individual
// INSERT/UPDATE to this point, which is what lets bootstrap and
// integrate apply folder/file operations in any order within one Tx.
// SQLite keeps a transaction open when COMMIT fails on a deferred
// foreign-key violation, so the constraints are checked first and a
// violating Tx is rolled back before ds.ErrDataAnomaly is returned.
func (t *Tx) Commit() error {
	rows, err := t.tx.Query("PRAGMA foreign_key_check")
	if err != nil {
		t.tx.Rollback()
		return classify("foreign key check", err)
	}
	violated := rows.Next()
	rows.Close()
	if violated {
		t.tx.Rollback()
		return fmt.Errorf("sqlite: commit: %w", ds.ErrDataAnomaly)
	}

	if err := t.tx.Commit(); err != nil {
		return classify("commit", err)
	}
	return nil
}

func (t *Tx) Rollback() error {
	if err := t.tx.Rollback(); err != nil {
		return fmt.Errorf("sqlite: rollback: %w", ds.ErrDatabase)
	}
	return nil
}
