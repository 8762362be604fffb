package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	lowe "github.com/gdrivemirror/bernard"
	"github.com/gdrivemirror/bernard/datastore/sqlite"
)

// cliContext carries the resources every subcommand needs, stashed on the
// root command's context so RunE funcs stay short.
type cliContext struct {
	logger        *slog.Logger
	store         *sqlite.Datastore
	bernard       *lowe.Bernard
	serviceAcount string
	dbPath        string
	jsonOutput    bool
}

type ctxKey struct{}

func mustCLIContext(ctx context.Context) *cliContext {
	cc, ok := ctx.Value(ctxKey{}).(*cliContext)
	if !ok {
		panic("bernard: cli context missing")
	}
	return cc
}

func newRootCmd() *cobra.Command {
	cc := &cliContext{}

	root := &cobra.Command{
		Use:           "bernard",
		Short:         "Mirror Google Drive shared drives into a local SQLite datastore",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			opts := &slog.HandlerOptions{Level: slog.LevelInfo}
			var handler slog.Handler = slog.NewTextHandler(os.Stderr, opts)
			if cc.jsonOutput {
				handler = slog.NewJSONHandler(os.Stderr, opts)
			}
			cc.logger = slog.New(handler).With(slog.String("run_id", uuid.NewString()))

			store, err := sqlite.Open(cmd.Context(), cc.dbPath, cc.logger)
			if err != nil {
				return err
			}
			cc.store = store

			auth, err := loadServiceAccount(cc.serviceAcount)
			if err != nil {
				store.Close()
				return err
			}

			cc.bernard = lowe.New(auth, store, lowe.WithLogger(cc.logger))

			cmd.SetContext(context.WithValue(cmd.Context(), ctxKey{}, cc))
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if cc.store != nil {
				return cc.store.Close()
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&cc.serviceAcount, "service-account", "", "path to a Google service account JSON key")
	root.PersistentFlags().StringVar(&cc.dbPath, "db", "./bernard.db", "path to the SQLite datastore")
	root.PersistentFlags().BoolVar(&cc.jsonOutput, "json", false, "emit machine-readable JSON output")
	root.MarkPersistentFlagRequired("service-account")

	root.AddCommand(newAddDriveCmd())
	root.AddCommand(newSyncCmd())
	root.AddCommand(newRemoveDriveCmd())
	root.AddCommand(newClearChangelogCmd())
	root.AddCommand(newChangesCmd())

	return root
}
