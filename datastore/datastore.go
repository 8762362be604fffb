// Package datastore provides the Folder/File/Drive representations used in
// Bernard and the Datastore/Tx interfaces a storage engine must satisfy.
//
// The Datastore is the single source of truth for a tracked shared drive's
// tree; a value moving through a Tx is owned by the caller's transaction
// until it commits. A reference SQLite implementation lives in the sqlite
// subpackage.
package datastore

import "errors"

// Folder is a minimal representation of a Google Drive folder
// (mimeType "application/vnd.google-apps.folder").
//
// Parent is nil exactly for the root folder of a drive, whose ID equals
// the drive's ID.
type Folder struct {
	ID      string
	DriveID string
	Name    string
	Parent  *string
	Trashed bool
}

// File is a minimal representation of any non-folder item within a drive.
type File struct {
	ID       string
	DriveID  string
	Name     string
	Parent   string
	Trashed  bool
	MD5      string
	Size     int64
	MimeType string
}

// Drive is a minimal representation of the shared drive itself.
type Drive struct {
	ID        string
	Name      string
	PageToken string
}

// ChangedFolder is one row of the folder changelog: a folder's state the
// moment it last changed, plus whether that change was a removal.
type ChangedFolder struct {
	Folder
	Deleted bool
}

// ChangedFile is the file-changelog equivalent of ChangedFolder.
type ChangedFile struct {
	File
	Deleted bool
}

// Path is a resolved, slash-joined ancestor chain rooted at the drive name.
type Path struct {
	ID      string
	DriveID string
	Path    string
	Trashed bool
}

// ChangedPath is one row of the derived path changelog: a path that was
// created or deleted since the last ClearChangelog/SyncDrive.
type ChangedPath struct {
	Path
	IsFolder bool
	Deleted  bool
}

// Tx is the set of operations the Bootstrap Builder and Change Integrator
// perform within one atomic transaction. A Tx must be Committed or Rolled
// back exactly once.
type Tx interface {
	CreateDrive(drive Drive) error
	UpdateDriveToken(driveID, token string) error
	UpdateFolderName(id, driveID, name string) error

	CreateFolder(f Folder) error
	UpsertFolder(f Folder) error
	DeleteFolder(id, driveID string) error

	CreateFile(f File) error
	UpsertFile(f File) error
	DeleteFile(id, driveID string) error

	Commit() error
	Rollback() error
}

// Datastore is the storage engine interface used by Bernard's Coordinator.
//
// Begin starts a new Tx for a bootstrap or a change-integration pass. The
// remaining methods are non-transactional: DriveExists/PageToken/the
// Changed* queries may run concurrently with an in-flight Tx and observe
// the pre-transaction state.
type Datastore interface {
	Begin() (Tx, error)

	DriveExists(driveID string) (bool, error)
	PageToken(driveID string) (string, error)
	RemoveDrive(driveID string) error
	ClearChangelog(driveID string) error

	ChangedFolders(driveID string) ([]ChangedFolder, error)
	ChangedFiles(driveID string) ([]ChangedFile, error)
	ChangedPaths(driveID string) ([]ChangedPath, error)

	Close() error
}

// ErrDataAnomaly indicates a foreign-key violation while merging a change
// page into the tree: the remote page referenced a parent the datastore
// does not have and which the page itself did not include. It is typically
// a torn/partial Google Drive changes page; retrying later should resolve
// it once Google finishes processing the underlying change.
var ErrDataAnomaly = errors.New("datastore: data anomaly")

// ErrDatabase indicates a fatal error within the datastore: I/O failure,
// broken schema, a connection that can no longer serve queries.
var ErrDatabase = errors.New("datastore: database related error")

// ErrFullSync indicates the datastore is missing the pageToken for a
// drive, i.e. no bootstrap has run for it yet.
var ErrFullSync = errors.New("datastore: requires full sync")
