package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"pkt.systems/abtray/internal/version"
)

func newVersionCommand() *cobra.Command {
	var versionOnly bool
	var semverOnly bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the abtray version",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch {
			case versionOnly && semverOnly:
				return fmt.Errorf("--version and --semver are mutually exclusive")
			case versionOnly:
				_, err := fmt.Fprintln(out, version.Current())
				return err
			case semverOnly:
				_, err := fmt.Fprintln(out, version.CurrentSemver())
				return err
			}
			_, err := fmt.Fprintf(out, "%s %s\n", version.Module(), version.Current())
			return err
		},
	}
	cmd.Flags().BoolVar(&versionOnly, "version", false, "print only the version")
	cmd.Flags().BoolVar(&semverOnly, "semver", false, "print only the semantic version without prefix or metadata")
	return cmd
}
