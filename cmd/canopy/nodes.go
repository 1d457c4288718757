package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aretw0/canopy/pkg/core"
	"github.com/aretw0/canopy/pkg/tree"
)

var (
	rmForce  bool
	rmDryRun bool
	lsLong   bool
)

var resolveCmd = &cobra.Command{
	Use:   "resolve PATH",
	Short: "Print the real node PATH points to, following links",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := connect(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		real, err := s.Resolve(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Println(real)
		return nil
	},
}

var rmCmd = &cobra.Command{
	Use:   "rm PATH",
	Short: "Delete PATH and everything below it",
	Long: `Rm deletes children before parents. Ephemeral nodes belong to another
session and are kept unless --force is given; their parents are kept too.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := connect(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		_, err = tree.DeleteRecursive(ctx, s, args[0], tree.DeleteOptions{
			Force:  rmForce,
			DryRun: rmDryRun,
			Report: tree.NewTextReporter(os.Stdout),
		})
		return err
	},
}

var lnCmd = &cobra.Command{
	Use:   "ln TARGET SOURCE",
	Short: "Make SOURCE resolve to TARGET",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := connect(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		return s.Ln(ctx, args[0], args[1])
	},
}

var lsCmd = &cobra.Command{
	Use:   "ls [PATH]",
	Short: "List every node below PATH",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root := "/"
		if len(args) == 1 {
			root = args[0]
		}

		ctx := cmd.Context()
		s, err := connect(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		real, err := s.Resolve(ctx, root)
		if err != nil {
			return err
		}
		return s.Walk(ctx, real, func(p string, stat core.Stat) error {
			if !lsLong {
				fmt.Println(p)
				return nil
			}
			kind := "-"
			if stat.Ephemeral() {
				kind = "e"
			}
			fmt.Printf("%s v%-4d %6dB %s\n", kind, stat.Version, stat.DataLength, p)
			return nil
		})
	},
}

func init() {
	rmCmd.Flags().BoolVar(&rmForce, "force", false, "Delete ephemeral nodes too")
	rmCmd.Flags().BoolVarP(&rmDryRun, "dry-run", "n", false, "Report what would be deleted")
	lsCmd.Flags().BoolVarP(&lsLong, "long", "l", false, "Show version, size and ephemeral flag")
	rootCmd.AddCommand(resolveCmd, rmCmd, lnCmd, lsCmd)
}
