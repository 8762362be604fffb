package bernard

import (
	"log/slog"

	ds "github.com/gdrivemirror/bernard/datastore"
)

// bootstrapDrive is the Bootstrap Builder (C3, SPEC_FULL.md §4.3). It drains
// a full listing of a brand-new drive and reconstructs its folder tree with
// a fixed-point insertion pass, then inserts every file whose parent made it
// into the tree. Folders and files whose ancestry never resolves to the
// drive root are dropped and logged, never sent to the store — so a Tx
// write can never fail on a foreign-key violation during bootstrap.
func bootstrapDrive(store ds.Datastore, driveID, name, pageToken string, items *ItemIterator, logger *slog.Logger) error {
	var folders []Item
	var files []Item

	for items.Next() {
		item := items.Item()
		switch item.Kind {
		case KindFolder:
			folders = append(folders, item)
		default:
			files = append(files, item)
		}
	}
	if err := items.Err(); err != nil {
		return err
	}

	tx, err := store.Begin()
	if err != nil {
		return wrapStoreErr(err)
	}

	if err := tx.CreateDrive(ds.Drive{ID: driveID, Name: name, PageToken: pageToken}); err != nil {
		tx.Rollback()
		return wrapStoreErr(err)
	}

	if err := tx.CreateFolder(ds.Folder{ID: driveID, DriveID: driveID, Name: name}); err != nil {
		tx.Rollback()
		return wrapStoreErr(err)
	}

	byParent := make(map[string][]Item, len(folders))
	for _, folder := range folders {
		byParent[folder.Parent] = append(byParent[folder.Parent], folder)
	}

	inserted := map[string]bool{driveID: true}

	for {
		progressed := false

		for parent, children := range byParent {
			if !inserted[parent] {
				continue
			}

			for _, folder := range children {
				p := folder.Parent
				if err := tx.CreateFolder(ds.Folder{
					ID:      folder.ID,
					DriveID: driveID,
					Name:    folder.Name,
					Parent:  &p,
					Trashed: folder.Trashed,
				}); err != nil {
					tx.Rollback()
					return wrapStoreErr(err)
				}
				inserted[folder.ID] = true
			}

			delete(byParent, parent)
			progressed = true
		}

		if !progressed {
			break
		}
	}

	for parent, orphans := range byParent {
		for _, folder := range orphans {
			logger.Warn("dropping orphan folder during bootstrap",
				slog.String("drive_id", driveID),
				slog.String("folder_id", folder.ID),
				slog.String("missing_parent_id", parent),
			)
		}
	}

	for _, file := range files {
		if !inserted[file.Parent] {
			logger.Warn("dropping file with unresolved parent during bootstrap",
				slog.String("drive_id", driveID),
				slog.String("file_id", file.ID),
				slog.String("missing_parent_id", file.Parent),
			)
			continue
		}

		if err := tx.CreateFile(toFile(file)); err != nil {
			tx.Rollback()
			return wrapStoreErr(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return wrapStoreErr(err)
	}

	return nil
}
