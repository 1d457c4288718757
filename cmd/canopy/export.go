package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aretw0/canopy"
	"github.com/aretw0/canopy/pkg/adapters/fs"
	"github.com/aretw0/canopy/pkg/tree"
)

var (
	exportEphemeral bool
	exportName      string
	exportExclude   []string
	exportOutput    string
)

var exportCmd = &cobra.Command{
	Use:   "export PATH",
	Short: "Print the tree below PATH",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := connect(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		text, err := canopy.Export(ctx, s, args[0], tree.ExportOptions{
			Ephemeral: exportEphemeral,
			Name:      exportName,
			Exclude:   exportExclude,
		})
		if err != nil {
			return err
		}

		if exportOutput != "" {
			return fs.WriteFileAtomic(exportOutput, []byte(text), 0644)
		}
		fmt.Print(text)
		return nil
	},
}

func init() {
	exportCmd.Flags().BoolVarP(&exportEphemeral, "ephemeral", "e", false, "Include ephemeral nodes")
	exportCmd.Flags().StringVar(&exportName, "name", "", "Name to give the top node")
	exportCmd.Flags().StringSliceVarP(&exportExclude, "exclude", "x", nil, "Skip paths matching this glob (repeatable)")
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Write to a file instead of stdout")
	rootCmd.AddCommand(exportCmd)
}
