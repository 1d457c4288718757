package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aretw0/canopy"
	"github.com/aretw0/canopy/pkg/adapters/fs"
	"github.com/aretw0/canopy/pkg/tree"
)

var (
	importDryRun bool
	importTrim   bool
	importFollow bool
)

var importCmd = &cobra.Command{
	Use:   "import FILE PATH",
	Short: "Apply a tree file below PATH",
	Long: `Import creates and updates the nodes described in FILE below PATH.
Existing children that the file does not name are reported, or deleted
with --trim. With --follow the file is re-applied every time it changes.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		file, path := args[0], args[1]

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		s, err := connect(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		reporter := tree.NewTextReporter(os.Stdout)
		apply := func(ctx context.Context) error {
			text, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			sum, err := canopy.Import(ctx, s, path, string(text), tree.Options{
				ACL:    cfg.ACL,
				Trim:   importTrim,
				DryRun: importDryRun,
				Report: reporter,
			})
			if err != nil {
				return err
			}
			slog.Info("import done", "file", file, "path", path,
				"created", sum.Created, "updated", sum.Updated, "deleted", sum.Deleted,
				"unchanged", sum.Unchanged, "extra", sum.Extra)
			return nil
		}

		if err := apply(ctx); err != nil {
			return fmt.Errorf("import %s: %w", file, err)
		}
		if !importFollow {
			return nil
		}

		follower := fs.NewFollower(fs.Config{
			Path:     file,
			OnChange: apply,
			Logger:   slog.Default(),
		})
		if err := follower.Start(ctx); err != nil {
			return err
		}
		slog.Info("following file, press Ctrl+C to stop", "file", file)
		<-ctx.Done()
		return follower.Stop(context.Background())
	},
}

func init() {
	importCmd.Flags().BoolVarP(&importDryRun, "dry-run", "n", false, "Report changes without writing")
	importCmd.Flags().BoolVar(&importTrim, "trim", false, "Delete existing children the file does not name")
	importCmd.Flags().BoolVarP(&importFollow, "follow", "f", false, "Re-apply whenever the file changes")
	rootCmd.AddCommand(importCmd)
}
