package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aretw0/canopy/pkg/tree"
)

var diffCmd = &cobra.Command{
	Use:   "diff FILE PATH",
	Short: "Show how the tree below PATH differs from FILE",
	Long: `Diff prints a line diff from the live tree below PATH to the tree in FILE.
Lines starting with "+" are in the file only. The exit status is 1 when
they differ.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		text, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		want, err := tree.Parse(string(text))
		if err != nil {
			return fmt.Errorf("%s: %w", args[0], err)
		}

		s, err := connect(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		have, err := tree.Below(ctx, s, args[1], tree.ExportOptions{})
		if err != nil {
			return err
		}

		d := tree.Diff(tree.Format(have), tree.Format(want))
		if d == "" {
			return nil
		}
		fmt.Print(d)
		return errTreesDiffer
	},
}

var errTreesDiffer = errors.New("trees differ")

func init() {
	rootCmd.AddCommand(diffCmd)
}
