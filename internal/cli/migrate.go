package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/ac484/Xuanwu-sub001/internal/store"
)

func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if dir == "" {
				dir = rootOpts.Config.MigrationsDir
			}
			ctx := cmd.Context()
			db, err := store.Open(ctx, rootOpts.Config.DatabaseURL)
			if err != nil {
				return fmt.Errorf("database connection failed: %w", err)
			}
			defer db.Close()

			applied, err := store.ApplyMigrations(ctx, db, dir)
			if err != nil {
				return fmt.Errorf("migrations failed: %w", err)
			}
			return writeMigrations(cmd.OutOrStdout(), rootOpts.Format, dir, applied)
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "migrations directory (default $XUANWU_MIGRATIONS_DIR)")
	return cmd
}

func writeMigrations(w io.Writer, format, dir string, applied []string) error {
	if applied == nil {
		applied = []string{}
	}
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{"dir": dir, "applied": applied})
	}
	if len(applied) == 0 {
		_, err := fmt.Fprintf(w, "no pending migrations in %s\n", dir)
		return err
	}
	for _, name := range applied {
		if _, err := fmt.Fprintf(w, "applied %s\n", name); err != nil {
			return err
		}
	}
	return nil
}
