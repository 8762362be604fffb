package bernard

import (
	ds "github.com/gdrivemirror/bernard/datastore"
)

// folderOp is a pending write to a folder: either an upsert or a delete,
// keyed by folder id in integrateChanges's fold.
type folderOp struct {
	folder *ds.Folder
	remove bool
}

// fileOp is the file equivalent of folderOp.
type fileOp struct {
	file   *ds.File
	remove bool
}

// integrateChanges is the Change Integrator (C4, SPEC_FULL.md §4.4): it
// drains changes (a network-bound, single-pass sequence) into two keyed
// operation maps, then — provided the drive actually has new changes —
// applies them to store inside one transaction.
//
// The drain happens before any transaction is opened so that a long-running
// page fetch never holds a database transaction idle; only the final apply
// touches the store.
func integrateChanges(store ds.Datastore, driveID, existingToken string, changes *ChangeIterator) error {
	folderOps := make(map[string]folderOp)
	fileOps := make(map[string]fileOp)
	var renamedTo *string

	for changes.Next() {
		switch c := changes.Change().(type) {
		case DriveRenamed:
			name := c.Name
			renamedTo = &name
		case DriveRemoved:
			// Ignored: the caller asked to sync this specific drive, and the
			// removal signal exists for consumers tracking many drives.
		case ItemChanged:
			applyItemChanged(c.Item, driveID, folderOps, fileOps)
		case ItemRemoved:
			applyItemRemoved(c.ID, folderOps, fileOps)
		}
	}
	if err := changes.Err(); err != nil {
		return err
	}

	newToken := changes.PageToken()
	if newToken == existingToken {
		return nil
	}

	tx, err := store.Begin()
	if err != nil {
		return wrapStoreErr(err)
	}

	if err := tx.UpdateDriveToken(driveID, newToken); err != nil {
		tx.Rollback()
		return wrapStoreErr(err)
	}

	if renamedTo != nil {
		if err := tx.UpdateFolderName(driveID, driveID, *renamedTo); err != nil {
			tx.Rollback()
			return wrapStoreErr(err)
		}
	}

	for _, op := range folderOps {
		if op.remove {
			if err := tx.DeleteFolder(op.id(), driveID); err != nil {
				tx.Rollback()
				return wrapStoreErr(err)
			}
			continue
		}
		if err := tx.UpsertFolder(*op.folder); err != nil {
			tx.Rollback()
			return wrapStoreErr(err)
		}
	}

	for _, op := range fileOps {
		if op.remove {
			if err := tx.DeleteFile(op.id(), driveID); err != nil {
				tx.Rollback()
				return wrapStoreErr(err)
			}
			continue
		}
		if err := tx.UpsertFile(*op.file); err != nil {
			tx.Rollback()
			return wrapStoreErr(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return wrapStoreErr(err)
	}

	return nil
}

// id recovers the folder id for a remove op; the code that builds a remove
// op stores a stub Folder holding only the id.
func (op folderOp) id() string {
	if op.folder != nil {
		return op.folder.ID
	}
	return ""
}

func (op fileOp) id() string {
	if op.file != nil {
		return op.file.ID
	}
	return ""
}

// applyItemChanged implements the ItemChanged disambiguation rules from
// SPEC_FULL.md §4.4: same-drive items overwrite their op by known kind;
// items that moved to another shared drive are treated as a removal from
// this one. Unlike a bare ItemRemoved, a moved-out ItemChanged still
// carries its Item, so its Kind is known and removal is routed directly
// by Kind rather than through removeByID's unknown-kind default.
func applyItemChanged(item Item, driveID string, folderOps map[string]folderOp, fileOps map[string]fileOp) {
	if item.DriveID != driveID {
		switch item.Kind {
		case KindFolder:
			folderOps[item.ID] = folderOp{remove: true, folder: &ds.Folder{ID: item.ID}}
		default:
			fileOps[item.ID] = fileOp{remove: true, file: &ds.File{ID: item.ID}}
		}
		return
	}

	switch item.Kind {
	case KindFolder:
		f := toFolder(item)
		folderOps[item.ID] = folderOp{folder: &f}
	default:
		f := toFile(item)
		fileOps[item.ID] = fileOp{file: &f}
	}
}

// applyItemRemoved implements the ItemRemoved disambiguation rule: if the
// id is already known to be a file in this page, remove it as a file;
// otherwise default to folder (see the Open Question in SPEC_FULL.md §9 —
// this may leave a file_changelog gap for files the store never learned
// about, and is preserved verbatim).
func applyItemRemoved(id string, folderOps map[string]folderOp, fileOps map[string]fileOp) {
	removeByID(id, folderOps, fileOps)
}

func removeByID(id string, folderOps map[string]folderOp, fileOps map[string]fileOp) {
	if _, isFile := fileOps[id]; isFile {
		fileOps[id] = fileOp{remove: true, file: &ds.File{ID: id}}
		return
	}
	folderOps[id] = folderOp{remove: true, folder: &ds.Folder{ID: id}}
}

func toFolder(item Item) ds.Folder {
	parent := item.Parent
	return ds.Folder{
		ID:      item.ID,
		DriveID: item.DriveID,
		Name:    item.Name,
		Parent:  &parent,
		Trashed: item.Trashed,
	}
}

func toFile(item Item) ds.File {
	return ds.File{
		ID:       item.ID,
		DriveID:  item.DriveID,
		Name:     item.Name,
		Parent:   item.Parent,
		Trashed:  item.Trashed,
		MD5:      item.MD5,
		Size:     item.Size,
		MimeType: item.MimeType,
	}
}
