package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:     "api",
		Short:   "Taskaza API - hierarchical task lists",
		Version: Version,
		// with no subcommand the API is served
		RunE: runServe,
	}
	rootCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides API_ADDR)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
