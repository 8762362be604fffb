package bernard

import (
	"fmt"

	ds "github.com/gdrivemirror/bernard/datastore"
)

// fakeStore is an in-memory ds.Datastore used to unit test bootstrap.go and
// integrate.go without a SQLite dependency. It enforces one invariant: a
// foreign-key-shaped ancestry check in CreateFolder/CreateFile, surfaced as
// ds.ErrDataAnomaly like the sqlite package. UpsertFolder/UpsertFile are
// not checked.
type fakeStore struct {
	drives  map[string]ds.Drive
	folders map[string]ds.Folder // keyed by id
	files   map[string]ds.File   // keyed by id

	folderChangelog []ds.ChangedFolder
	fileChangelog   []ds.ChangedFile
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		drives:  make(map[string]ds.Drive),
		folders: make(map[string]ds.Folder),
		files:   make(map[string]ds.File),
	}
}

func (s *fakeStore) Begin() (ds.Tx, error) {
	return &fakeTx{store: s}, nil
}

func (s *fakeStore) DriveExists(driveID string) (bool, error) {
	_, ok := s.drives[driveID]
	return ok, nil
}

func (s *fakeStore) PageToken(driveID string) (string, error) {
	d, ok := s.drives[driveID]
	if !ok {
		return "", ds.ErrFullSync
	}
	return d.PageToken, nil
}

func (s *fakeStore) RemoveDrive(driveID string) error {
	delete(s.drives, driveID)
	for id, f := range s.folders {
		if f.DriveID == driveID {
			delete(s.folders, id)
		}
	}
	for id, f := range s.files {
		if f.DriveID == driveID {
			delete(s.files, id)
		}
	}
	return nil
}

func (s *fakeStore) ClearChangelog(driveID string) error {
	s.folderChangelog = nil
	s.fileChangelog = nil
	return nil
}

func (s *fakeStore) ChangedFolders(driveID string) ([]ds.ChangedFolder, error) {
	var out []ds.ChangedFolder
	for _, cf := range s.folderChangelog {
		if cf.DriveID == driveID {
			out = append(out, cf)
		}
	}
	return out, nil
}

func (s *fakeStore) ChangedFiles(driveID string) ([]ds.ChangedFile, error) {
	var out []ds.ChangedFile
	for _, cf := range s.fileChangelog {
		if cf.DriveID == driveID {
			out = append(out, cf)
		}
	}
	return out, nil
}

func (s *fakeStore) ChangedPaths(driveID string) ([]ds.ChangedPath, error) {
	return nil, nil
}

func (s *fakeStore) Close() error { return nil }

// fakeTx buffers writes and only applies them to the store on Commit, the
// same all-or-nothing behaviour a real SQL transaction gives bootstrap.go
// and integrate.go.
type fakeTx struct {
	store *fakeStore

	createdDrives []ds.Drive
	tokenUpdates  map[string]string
	renames       []struct{ id, driveID, name string }

	upsertFolders []ds.Folder
	deleteFolders []struct{ id, driveID string }
	upsertFiles   []ds.File
	deleteFiles   []struct{ id, driveID string }

	rolledBack bool
}

func (t *fakeTx) CreateDrive(drive ds.Drive) error {
	t.createdDrives = append(t.createdDrives, drive)
	return nil
}

func (t *fakeTx) UpdateDriveToken(driveID, token string) error {
	if t.tokenUpdates == nil {
		t.tokenUpdates = make(map[string]string)
	}
	t.tokenUpdates[driveID] = token
	return nil
}

func (t *fakeTx) UpdateFolderName(id, driveID, name string) error {
	t.renames = append(t.renames, struct{ id, driveID, name string }{id, driveID, name})
	return nil
}

// knownFolder reports whether id is a folder this fakeTx already knows
// about: either already committed to the store, or created earlier within
// this same transaction. Unlike SQLite's deferred foreign-key check, which
// runs at COMMIT, this runs at call time, so a parent must be created
// before its children.
func (t *fakeTx) knownFolder(id string) bool {
	if _, ok := t.store.folders[id]; ok {
		return true
	}
	for _, f := range t.upsertFolders {
		if f.ID == id {
			return true
		}
	}
	return false
}

func (t *fakeTx) CreateFolder(f ds.Folder) error {
	if f.Parent != nil && *f.Parent != f.ID && !t.knownFolder(*f.Parent) {
		return fmt.Errorf("fake: %w", ds.ErrDataAnomaly)
	}
	t.upsertFolders = append(t.upsertFolders, f)
	return nil
}

func (t *fakeTx) UpsertFolder(f ds.Folder) error {
	t.upsertFolders = append(t.upsertFolders, f)
	return nil
}

func (t *fakeTx) DeleteFolder(id, driveID string) error {
	t.deleteFolders = append(t.deleteFolders, struct{ id, driveID string }{id, driveID})
	return nil
}

func (t *fakeTx) CreateFile(f ds.File) error {
	if !t.knownFolder(f.Parent) {
		return fmt.Errorf("fake: %w", ds.ErrDataAnomaly)
	}
	t.upsertFiles = append(t.upsertFiles, f)
	return nil
}

func (t *fakeTx) UpsertFile(f ds.File) error {
	t.upsertFiles = append(t.upsertFiles, f)
	return nil
}

func (t *fakeTx) DeleteFile(id, driveID string) error {
	t.deleteFiles = append(t.deleteFiles, struct{ id, driveID string }{id, driveID})
	return nil
}

func (t *fakeTx) Commit() error {
	for _, d := range t.createdDrives {
		t.store.drives[d.ID] = d
	}
	for driveID, token := range t.tokenUpdates {
		d := t.store.drives[driveID]
		d.PageToken = token
		t.store.drives[driveID] = d
	}
	for _, r := range t.renames {
		if f, ok := t.store.folders[r.id]; ok {
			f.Name = r.name
			t.store.folders[r.id] = f
		}
	}
	for _, f := range t.upsertFolders {
		t.store.folders[f.ID] = f
		t.store.folderChangelog = append(t.store.folderChangelog, ds.ChangedFolder{Folder: f})
	}
	for _, d := range t.deleteFolders {
		if f, ok := t.store.folders[d.id]; ok {
			delete(t.store.folders, d.id)
			t.store.folderChangelog = append(t.store.folderChangelog, ds.ChangedFolder{Folder: f, Deleted: true})
		}
	}
	for _, f := range t.upsertFiles {
		t.store.files[f.ID] = f
		t.store.fileChangelog = append(t.store.fileChangelog, ds.ChangedFile{File: f})
	}
	for _, d := range t.deleteFiles {
		if f, ok := t.store.files[d.id]; ok {
			delete(t.store.files, d.id)
			t.store.fileChangelog = append(t.store.fileChangelog, ds.ChangedFile{File: f, Deleted: true})
		}
	}
	return nil
}

func (t *fakeTx) Rollback() error {
	t.rolledBack = true
	return nil
}
