package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aretw0/canopy/pkg/adapters/lifecycle"
	"github.com/aretw0/canopy/pkg/session"
	"github.com/aretw0/canopy/pkg/tree"
)

var watchChildren bool

var watchCmd = &cobra.Command{
	Use:   "watch PATH",
	Short: "Print the properties (or children) of PATH whenever they change",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		s, err := connect(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		src := lifecycle.NewSource(s)
		if err := src.Start(ctx); err != nil {
			return err
		}

		if watchChildren {
			view, err := s.Children(ctx, args[0])
			if err != nil {
				return err
			}
			defer view.Close()
			view.AddCallback(func(c *session.Children) error {
				if c.Deleted() {
					fmt.Printf("%s: lost\n", c.Path())
					return nil
				}
				fmt.Printf("%s: [%s]\n", c.Path(), strings.Join(c.Names(), ", "))
				return nil
			})
		} else {
			view, err := s.Properties(ctx, args[0])
			if err != nil {
				return err
			}
			defer view.Close()
			view.AddCallback(func(p *session.Properties) error {
				if p.Deleted() {
					fmt.Printf("%s: lost\n", p.Path())
					return nil
				}
				fmt.Printf("%s: %s\n", p.Path(), tree.Repr(map[string]any(p.Get())))
				return nil
			})
		}

		for ev := range src.Events() {
			fmt.Fprintln(os.Stderr, ev.String())
		}
		return nil
	},
}

func init() {
	watchCmd.Flags().BoolVarP(&watchChildren, "children", "c", false, "Watch the child list instead of properties")
	rootCmd.AddCommand(watchCmd)
}
