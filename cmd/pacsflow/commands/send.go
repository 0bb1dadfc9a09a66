package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/hmd-tools/pacsflow/internal/workflows/send"
)

// SendCommand holds the flags of the send command.
type SendCommand struct {
	runID     string
	batchSize int
}

// NewSendCommand creates the send command.
func NewSendCommand() *cobra.Command {
	sc := &SendCommand{}

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send the pending files of a run to the PACS",
		Long: "Send every pending selected file of a run via the configured " +
			"toolkit, resuming from the checkpoint. Ctrl-C interrupts cleanly; " +
			"re-running the same run continues where it stopped.",
		Args: cobra.NoArgs,
		RunE: sc.run,
	}

	cmd.Flags().StringVar(&sc.runID, "run-id", "", "Run identifier produced by analyze (required)")
	cmd.Flags().IntVarP(&sc.batchSize, "batch", "b", 0, "Batch size in units per chunk (0 = config default)")
	_ = cmd.MarkFlagRequired("run-id")

	return cmd
}

func (sc *SendCommand) run(_ *cobra.Command, _ []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	app, err := NewApp()
	if err != nil {
		return err
	}
	defer app.Close()

	batchSize := sc.batchSize
	if batchSize <= 0 {
		batchSize = app.Cfg.BatchSizeDefault
	}

	wf := &send.Workflow{Cfg: app.Cfg, Stream: app.Stream, Metrics: app.Metrics}

	result, err := wf.Run(ctx, app.RunsBase, sc.runID, batchSize)
	if err != nil {
		return err
	}

	renderSummary("Envio", [][2]string{
		{"run_id", result.RunID},
		{"status", statusColor(result.Status).Sprint(result.Status)},
		{"itens (processados/total)", fmt.Sprintf("%d / %d", result.ItemsProcessed, result.TotalItems)},
		{"enviados", strconv.Itoa(result.SentOK)},
		{"warnings", strconv.Itoa(result.Warnings)},
		{"falhas", strconv.Itoa(result.Failed)},
		{"duracao", strconv.FormatFloat(result.DurationSec, 'f', -1, 64) + "s"},
	})

	return nil
}
