package commands

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/hmd-tools/pacsflow/internal/workflows/report"
)

// ReportCommand holds the flags of the report command.
type ReportCommand struct {
	runID string
	mode  string
}

// NewReportCommand creates the report command.
func NewReportCommand() *cobra.Command {
	rc := &ReportCommand{}

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Export the full validation report of a run",
		Long: "Export the full validation report enriched with patient and " +
			"study fields from the archive. Mode A emits one row per file; " +
			"mode C aggregates per study.",
		Args: cobra.NoArgs,
		RunE: rc.run,
	}

	cmd.Flags().StringVar(&rc.runID, "run-id", "", "Run identifier produced by analyze (required)")
	cmd.Flags().StringVarP(&rc.mode, "mode", "m", report.ModeA, "Report mode: A (per file) or C (per study)")
	_ = cmd.MarkFlagRequired("run-id")

	return cmd
}

func (rc *ReportCommand) run(_ *cobra.Command, _ []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	app, err := NewApp()
	if err != nil {
		return err
	}
	defer app.Close()

	wf := &report.Workflow{Cfg: app.Cfg, Stream: app.Stream, Metrics: app.Metrics}

	result, err := wf.Run(ctx, app.RunsBase, rc.runID, rc.mode)
	if err != nil {
		return err
	}

	renderSummary("Relatorio "+result.Mode, [][2]string{
		{"run_id", result.RunID},
		{"arquivo", result.ReportFile},
		{"linhas", strconv.Itoa(result.Rows)},
		{"ok", strconv.Itoa(result.OK)},
		{"erro", strconv.Itoa(result.Erro)},
	})

	return nil
}
