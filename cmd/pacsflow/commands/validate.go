package commands

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/hmd-tools/pacsflow/internal/workflows/validate"
)

// ValidateCommand holds the flags of the validate command.
type ValidateCommand struct {
	runID string
}

// NewValidateCommand creates the validate command.
func NewValidateCommand() *cobra.Command {
	vc := &ValidateCommand{}

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Reconcile a run's send results against the archive",
		Long: "Backfill missing SOP Instance UIDs, query the archive's REST " +
			"interface for every sent instance, and write the validation and " +
			"reconciliation artifacts.",
		Args: cobra.NoArgs,
		RunE: vc.run,
	}

	cmd.Flags().StringVar(&vc.runID, "run-id", "", "Run identifier produced by analyze (required)")
	_ = cmd.MarkFlagRequired("run-id")

	return cmd
}

func (vc *ValidateCommand) run(_ *cobra.Command, _ []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	app, err := NewApp()
	if err != nil {
		return err
	}
	defer app.Close()

	wf := &validate.Workflow{Cfg: app.Cfg, Stream: app.Stream, Metrics: app.Metrics}

	result, err := wf.Run(ctx, app.RunsBase, vc.runID)
	if err != nil {
		return err
	}

	renderSummary("Validacao", [][2]string{
		{"run_id", result.RunID},
		{"status", statusColor(result.Status).Sprint(result.Status)},
		{"iuids consultados", strconv.Itoa(result.TotalIUIDs)},
		{"iuids ok", strconv.Itoa(result.IUIDOK)},
		{"iuids not_found", strconv.Itoa(result.IUIDNotFound)},
		{"iuids api_error", strconv.Itoa(result.IUIDAPIError)},
		{"duracao", strconv.FormatFloat(result.DurationSec, 'f', -1, 64) + "s"},
	})

	return nil
}
