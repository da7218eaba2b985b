package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"pkt.systems/tabterm/internal/version"
)

func newVersionCmd() *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			info := version.Read()
			out := cmd.OutOrStdout()
			if _, err := fmt.Fprintln(out, info.String()); err != nil {
				return err
			}
			if verbose && info.Revision != "" {
				_, _ = fmt.Fprintf(out, "revision: %s dirty: %t\n", info.Revision, info.Dirty)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "include vcs revision")
	return cmd
}
