package sqlite

import (
	"database/sql"
	"fmt"

	ds "github.com/gdrivemirror/bernard/datastore"
)

// ancestorPath walks folderID's ancestor chain in the live folders table
// using a recursive CTE and returns its root-to-leaf, slash-joined path
// (the drive's own root folder included). It returns ok=false if the chain
// does not fully resolve, e.g. an ancestor was itself deleted in the same
// batch.
const sqlAncestorPath = `
	WITH RECURSIVE ancestors(id, parent, name, depth) AS (
		SELECT id, parent, name, 0 FROM folders WHERE id = ? AND drive_id = ?
		UNION ALL
		SELECT f.id, f.parent, f.name, a.depth + 1
		FROM folders f
		JOIN ancestors a ON f.id = a.parent AND f.drive_id = ?
	)
	SELECT group_concat(name, '/') FROM (SELECT name FROM ancestors ORDER BY depth DESC)
`

func (s *Datastore) ancestorPath(driveID, folderID string) (string, bool, error) {
	var path sql.NullString
	row := s.read.QueryRow(sqlAncestorPath, folderID, driveID, driveID)
	if err := row.Scan(&path); err != nil {
		return "", false, fmt.Errorf("sqlite: ancestor path: %w", ds.ErrDatabase)
	}
	return path.String, path.Valid && path.String != "", nil
}

// pathEntry tracks the winning row for a derived path string, so that two
// distinct ids resolving to the same path can be compared by recency.
type pathEntry struct {
	changedAt int64
	path      ds.ChangedPath
}

// ChangedPaths is the Path Derivation (C5) view of the changelog: every
// changed folder/file resolved to its full path, deduplicated so a path
// string that more than one changed item resolves to appears once —
// keeping whichever of those items changed most recently.
func (s *Datastore) ChangedPaths(driveID string) ([]ds.ChangedPath, error) {
	byPath := make(map[string]pathEntry)

	folderRows, err := s.read.Query(dedupeFolders, driveID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: changed paths (folders): %w", ds.ErrDatabase)
	}
	defer folderRows.Close()

	for folderRows.Next() {
		var id, name string
		var parent sql.NullString
		var trashed, deleted bool
		var changedAt int64
		if err := folderRows.Scan(&id, new(string), &name, &parent, &trashed, &deleted, &changedAt); err != nil {
			return nil, fmt.Errorf("sqlite: changed paths (folders) scan: %w", ds.ErrDatabase)
		}

		path, ok, err := s.resolvePath(driveID, parent, name)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}

		keepNewer(byPath, path, changedAt, ds.ChangedPath{
			Path:     ds.Path{ID: id, DriveID: driveID, Path: path, Trashed: trashed},
			IsFolder: true,
			Deleted:  deleted,
		})
	}
	if err := folderRows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: changed paths (folders): %w", ds.ErrDatabase)
	}

	fileRows, err := s.read.Query(dedupeFiles, driveID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: changed paths (files): %w", ds.ErrDatabase)
	}
	defer fileRows.Close()

	for fileRows.Next() {
		var id, name, parent, md5, mimeType string
		var size int64
		var trashed, deleted bool
		var changedAt int64
		if err := fileRows.Scan(&id, new(string), &name, &parent, &trashed, &md5, &size, &mimeType, &deleted, &changedAt); err != nil {
			return nil, fmt.Errorf("sqlite: changed paths (files) scan: %w", ds.ErrDatabase)
		}

		path, ok, err := s.resolvePath(driveID, sql.NullString{String: parent, Valid: true}, name)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}

		keepNewer(byPath, path, changedAt, ds.ChangedPath{
			Path:     ds.Path{ID: id, DriveID: driveID, Path: path, Trashed: trashed},
			IsFolder: false,
			Deleted:  deleted,
		})
	}
	if err := fileRows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: changed paths (files): %w", ds.ErrDatabase)
	}

	out := make([]ds.ChangedPath, 0, len(byPath))
	for _, entry := range byPath {
		out = append(out, entry.path)
	}
	return out, nil
}

// keepNewer records candidate at path in byPath, replacing whatever is
// already there only if candidate changed more recently. Two distinct ids
// (a folder and a file, or two of the same kind) can resolve to the same
// path; §4.5 asks for the latest touch to win rather than an arbitrary one.
func keepNewer(byPath map[string]pathEntry, path string, changedAt int64, candidate ds.ChangedPath) {
	existing, ok := byPath[path]
	if ok && existing.changedAt >= changedAt {
		return
	}
	byPath[path] = pathEntry{changedAt: changedAt, path: candidate}
}

// resolvePath joins name onto the resolved path of parent. A nil parent
// means name is the drive's own root folder.
func (s *Datastore) resolvePath(driveID string, parent sql.NullString, name string) (string, bool, error) {
	if !parent.Valid {
		return name, true, nil
	}

	parentPath, ok, err := s.ancestorPath(driveID, parent.String)
	if err != nil {
		return "", false, err
	}
	if !ok {
		return "", false, nil
	}

	return parentPath + "/" + name, true, nil
}
