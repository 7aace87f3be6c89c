package main

import (
	"github.com/spf13/cobra"
)

var configPath string

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "trustcore",
		Short: "Trust and transport core for the personal-productivity backend",
		Long:  "trustcore runs SSRF-safe fetching, claim verification, webhook delivery, and trust-store admission as one operational service.",
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file (optional; env vars and defaults apply otherwise)")

	root.AddCommand(newServeCommand())
	root.AddCommand(newVersionCommand())

	return root
}
