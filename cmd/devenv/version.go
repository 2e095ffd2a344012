// File: cmd/devenv/version.go
// Brief: CLI command wiring and implementation for 'version'.

package main

import (
	"fmt"

	"github.com/example/devenv/internal/version"
	"github.com/spf13/cobra"
)

func newVersionCommand() *cobra.Command {
	var short bool
	var format string
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the devenv version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info := version.Get()
			out := cmd.OutOrStdout()
			if short {
				fmt.Fprintln(out, info.Version)
				return nil
			}
			format, err := normalizeFormat(format)
			if err != nil {
				return err
			}
			if format != "table" {
				return writeStructured(out, format, info)
			}
			fmt.Fprintf(out, "Version: %s\n", info.Version)
			if info.GitCommit != "" {
				fmt.Fprintf(out, "GitCommit: %s\n", info.GitCommit)
			}
			if info.GitTreeState != "" {
				fmt.Fprintf(out, "GitTreeState: %s\n", info.GitTreeState)
			}
			if info.BuildDate != "" {
				fmt.Fprintf(out, "BuildDate: %s\n", info.BuildDate)
			}
			fmt.Fprintf(out, "GoVersion: %s\n", info.GoVersion)
			fmt.Fprintf(out, "Platform: %s\n", info.Platform)
			return nil
		},
	}
	cmd.Flags().BoolVar(&short, "short", false, "Print just the version number")
	cmd.Flags().StringVarP(&format, "output", "o", "table", "Output format: table, json, yaml")
	return cmd
}
