package bernard

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	ds "github.com/gdrivemirror/bernard/datastore"
)

// AddDrive bootstraps a brand-new drive from a full Drive v3 listing. It
// returns ErrDriveExists if the drive is already tracked.
func (b *Bernard) AddDrive(ctx context.Context, driveID string) error {
	return b.addDrive(ctx, driveID)
}

func (b *Bernard) addDrive(ctx context.Context, driveID string) error {
	exists, err := b.store.DriveExists(driveID)
	if err != nil {
		return wrapStoreErr(err)
	}
	if exists {
		return ErrDriveExists
	}

	var name, pageToken string

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := b.fetch.driveName(gctx, driveID)
		name = n
		return err
	})
	g.Go(func() error {
		t, err := b.fetch.startPageToken(gctx, driveID)
		pageToken = t
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	items := b.fetch.listAll(ctx, driveID)

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	if err := bootstrapDrive(b.store, driveID, name, pageToken, items, logger); err != nil {
		return err
	}

	// The insert triggers that populate folder_changelog/file_changelog
	// don't distinguish a bootstrap create from a later sync upsert; a
	// freshly bootstrapped drive is a starting point, not a change, so
	// clear what they just recorded. ClearChangelog is a Datastore-level
	// operation, not a Tx one, so this runs after bootstrapDrive commits.
	return wrapStoreErr(b.store.ClearChangelog(driveID))
}

// SyncDrive pulls the latest remote delta for driveID and folds it into the
// local tree. If the drive was never bootstrapped, it calls AddDrive
// instead. Either way, the drive's changelog is cleared first: callers that
// want to observe what changed from this sync should read ChangedFolders/
// ChangedFiles/ChangedPaths immediately afterwards.
func (b *Bernard) SyncDrive(ctx context.Context, driveID string) error {
	if err := b.store.ClearChangelog(driveID); err != nil {
		return wrapStoreErr(err)
	}

	exists, err := b.store.DriveExists(driveID)
	if err != nil {
		return wrapStoreErr(err)
	}
	if !exists {
		return b.addDrive(ctx, driveID)
	}

	pageToken, err := b.store.PageToken(driveID)
	if err != nil {
		return wrapStoreErr(err)
	}

	changes := b.fetch.listChanges(ctx, driveID, pageToken)

	return integrateChanges(b.store, driveID, pageToken, changes)
}

// SyncMany runs SyncDrive over every driveID concurrently and returns the
// first error encountered, after all drives have finished. Every sync runs
// under a shared context that is cancelled once any error surfaces, which
// aborts the other drives' in-flight and pending HTTP calls.
func (b *Bernard) SyncMany(ctx context.Context, driveIDs []string) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, driveID := range driveIDs {
		driveID := driveID
		g.Go(func() error {
			return b.SyncDrive(gctx, driveID)
		})
	}

	return g.Wait()
}

// RemoveDrive deletes a tracked drive and every folder/file beneath it. It
// returns ErrDriveNotFound if the drive is not tracked.
func (b *Bernard) RemoveDrive(driveID string) error {
	exists, err := b.store.DriveExists(driveID)
	if err != nil {
		return wrapStoreErr(err)
	}
	if !exists {
		return ErrDriveNotFound
	}

	if err := b.store.RemoveDrive(driveID); err != nil {
		return wrapStoreErr(err)
	}

	return nil
}

// ClearChangelog discards the accumulated folder/file changelog for a
// drive without performing a sync. Useful for callers that want to
// acknowledge a changelog they already consumed through another channel.
func (b *Bernard) ClearChangelog(driveID string) error {
	return wrapStoreErr(b.store.ClearChangelog(driveID))
}

// ChangedFolders returns every folder that was created, updated, or removed
// since the drive's changelog was last cleared.
func (b *Bernard) ChangedFolders(driveID string) ([]ds.ChangedFolder, error) {
	folders, err := b.store.ChangedFolders(driveID)
	return folders, wrapStoreErr(err)
}

// ChangedFiles is the file equivalent of ChangedFolders.
func (b *Bernard) ChangedFiles(driveID string) ([]ds.ChangedFile, error) {
	files, err := b.store.ChangedFiles(driveID)
	return files, wrapStoreErr(err)
}

// ChangedPaths is the Path Derivation (C5) view of the same changelog:
// every folder/file changed since the last clear, resolved to its full
// slash-joined ancestor path and deduplicated so that when several changed
// items resolve to the same path string, that path appears once.
func (b *Bernard) ChangedPaths(driveID string) ([]ds.ChangedPath, error) {
	paths, err := b.store.ChangedPaths(driveID)
	return paths, wrapStoreErr(err)
}
