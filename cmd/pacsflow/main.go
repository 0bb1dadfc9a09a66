// Package main provides the entry point for the pacsflow CLI tool.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hmd-tools/pacsflow/cmd/pacsflow/commands"
	"github.com/hmd-tools/pacsflow/pkg/version"
)

func main() {
	version.InitBinaryVersion()

	rootCmd := &cobra.Command{
		Use:   "pacsflow",
		Short: "PACSFlow - Bulk DICOM transfer orchestrator",
		Long: `PACSFlow orchestrates bulk DICOM transfers against a PACS.

Commands:
  analyze   Scan an exam tree and build the run manifest
  send      Send the pending files of a run, resumable
  validate  Reconcile send results against the archive
  report    Export the full validation report
  echo      Test PACS connectivity with a C-ECHO`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&commands.ConfigPath, "config", "", "config file (default: .pacsflow.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&commands.Quiet, "quiet", "q", false, "suppress workflow output")
	rootCmd.PersistentFlags().BoolVar(&commands.NoColor, "no-color", false, "disable colored output")

	// Add commands.
	rootCmd.AddCommand(commands.NewAnalyzeCommand())
	rootCmd.AddCommand(commands.NewSendCommand())
	rootCmd.AddCommand(commands.NewValidateCommand())
	rootCmd.AddCommand(commands.NewReportCommand())
	rootCmd.AddCommand(commands.NewEchoCommand())
	rootCmd.AddCommand(versionCmd())

	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Fprintf(os.Stdout, "pacsflow %s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		},
	}
}
