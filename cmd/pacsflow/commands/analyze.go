package commands

import (
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/hmd-tools/pacsflow/internal/workflows/analyze"
)

// AnalyzeCommand holds the flags of the analyze command.
type AnalyzeCommand struct {
	batchSize int
	runID     string
}

// NewAnalyzeCommand creates the analyze command.
func NewAnalyzeCommand() *cobra.Command {
	ac := &AnalyzeCommand{}

	cmd := &cobra.Command{
		Use:   "analyze <exam-root>",
		Short: "Scan an exam tree and build the run manifest",
		Long: "Scan an exam tree, select the files eligible for sending, and " +
			"persist the run manifest, folder aggregates, and analysis summary.",
		Args: cobra.ExactArgs(1),
		RunE: ac.run,
	}

	cmd.Flags().IntVarP(&ac.batchSize, "batch", "b", 0, "Batch size in units per chunk (0 = config default)")
	cmd.Flags().StringVar(&ac.runID, "run-id", "", "Reuse an existing run identifier (default: new timestamp)")

	return cmd
}

func (ac *AnalyzeCommand) run(_ *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	app, err := NewApp()
	if err != nil {
		return err
	}
	defer app.Close()

	batchSize := ac.batchSize
	if batchSize <= 0 {
		batchSize = app.Cfg.BatchSizeDefault
	}

	wf := &analyze.Workflow{Cfg: app.Cfg, Stream: app.Stream, Metrics: app.Metrics}

	result, err := wf.Run(ctx, app.RunsBase, args[0], batchSize, ac.runID)
	if err != nil {
		return err
	}

	renderSummary("Analise", [][2]string{
		{"run_id", result.RunID},
		{"run_dir", result.RunDir},
		{"arquivos (total/selecionados)", fmt.Sprintf("%s / %s",
			humanize.Comma(int64(result.FilesTotal)), humanize.Comma(int64(result.FilesSelected)))},
		{"pastas (total/selecionadas)", fmt.Sprintf("%d / %d", result.FoldersTotal, result.FoldersSelected)},
		{"tamanho selecionado", humanize.IBytes(uint64(result.SizeSelectedBytes))},
		{"chunks", fmt.Sprintf("%d (%s)", result.ChunksTotal, result.ChunkUnit)},
		{"batch_max_cmd", result.BatchMaxCmd + " (" + result.BatchMaxCmdSource + ")"},
		{"duracao", strconv.FormatFloat(result.DurationSec, 'f', -1, 64) + "s"},
	})

	return nil
}
