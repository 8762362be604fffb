package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	lowe "github.com/gdrivemirror/bernard"
)

func newAddDriveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add-drive <drive-id>",
		Short: "Bootstrap a brand-new shared drive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())

			cc.logger.Info("bootstrapping drive", "drive_id", args[0])
			if err := cc.bernard.AddDrive(cmd.Context(), args[0]); err != nil {
				return reportSyncError(cc, args[0], err)
			}

			cc.logger.Info("drive bootstrapped", "drive_id", args[0])
			return nil
		},
	}
}

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync-drive <drive-id>...",
		Short: "Pull the latest changes for one or more tracked (or new) drives",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())

			if len(args) == 1 {
				if err := cc.bernard.SyncDrive(cmd.Context(), args[0]); err != nil {
					return reportSyncError(cc, args[0], err)
				}
				return printChangeSummary(cc, args[0])
			}

			if err := cc.bernard.SyncMany(cmd.Context(), args); err != nil {
				return reportSyncError(cc, "<many>", err)
			}

			for _, driveID := range args {
				if err := printChangeSummary(cc, driveID); err != nil {
					return err
				}
			}
			return nil
		},
	}
	return cmd
}

func newClearChangelogCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear-changelog <drive-id>",
		Short: "Discard the accumulated changelog without syncing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())
			return cc.bernard.ClearChangelog(args[0])
		},
	}
}

func newRemoveDriveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove-drive <drive-id>",
		Short: "Stop tracking a shared drive and delete its local tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())

			if err := cc.bernard.RemoveDrive(args[0]); err != nil {
				if errors.Is(err, lowe.ErrDriveNotFound) {
					return fmt.Errorf("bernard: drive %s is not tracked", args[0])
				}
				return err
			}

			cc.logger.Info("drive removed", "drive_id", args[0])
			return nil
		},
	}
}

func newChangesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "changes",
		Short: "Inspect the changelog accumulated by the last sync",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "folders <drive-id>",
			Short: "List changed folders",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				cc := mustCLIContext(cmd.Context())
				folders, err := cc.bernard.ChangedFolders(args[0])
				if err != nil {
					return err
				}
				return printJSON(folders)
			},
		},
		&cobra.Command{
			Use:   "files <drive-id>",
			Short: "List changed files",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				cc := mustCLIContext(cmd.Context())
				files, err := cc.bernard.ChangedFiles(args[0])
				if err != nil {
					return err
				}
				return printJSON(files)
			},
		},
		&cobra.Command{
			Use:   "paths <drive-id>",
			Short: "List changed paths, resolved against the current tree",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				cc := mustCLIContext(cmd.Context())
				paths, err := cc.bernard.ChangedPaths(args[0])
				if err != nil {
					return err
				}
				return printJSON(paths)
			},
		},
	)

	return cmd
}

// reportSyncError classifies a sync failure so operators know whether to
// retry immediately (ErrPartialChangeList resolves itself once Google
// finishes propagating) or investigate (ErrStore, ErrNetwork).
func reportSyncError(cc *cliContext, driveID string, err error) error {
	switch {
	case errors.Is(err, lowe.ErrPartialChangeList):
		cc.logger.Warn("partial change list, retry shortly", "drive_id", driveID, "error", err)
	case errors.Is(err, lowe.ErrNetwork):
		cc.logger.Error("network error contacting Google Drive", "drive_id", driveID, "error", err)
	case errors.Is(err, lowe.ErrStore):
		cc.logger.Error("datastore error", "drive_id", driveID, "error", err)
	}
	return err
}

func printChangeSummary(cc *cliContext, driveID string) error {
	folders, err := cc.bernard.ChangedFolders(driveID)
	if err != nil {
		return err
	}
	files, err := cc.bernard.ChangedFiles(driveID)
	if err != nil {
		return err
	}

	cc.logger.Info("sync complete",
		"drive_id", driveID,
		"changed_folders", len(folders),
		"changed_files", len(files),
	)
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
