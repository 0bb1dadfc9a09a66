// Package analyze scans an exam tree into the run manifest and computes the
// batching plan the send stage executes.
package analyze

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hmd-tools/pacsflow/internal/artifacts"
	"github.com/hmd-tools/pacsflow/internal/config"
	"github.com/hmd-tools/pacsflow/internal/observability"
	"github.com/hmd-tools/pacsflow/internal/progress"
	"github.com/hmd-tools/pacsflow/internal/runclock"
	"github.com/hmd-tools/pacsflow/internal/toolkit"
	"github.com/hmd-tools/pacsflow/internal/workflows"
)

const (
	manifestBufferRows   = 2000
	progressInterval     = 2 * time.Second
	maxScanWarningsShown = 5
)

// manifestFileFields is the manifest_files.csv schema (dual timestamps are
// appended by the writer).
var manifestFileFields = []string{
	"run_id", "seq", "file_path", "folder_path", "extension", "size_bytes",
	"selected_for_send", "selection_reason", "dicom_status", "discovered_at",
}

var manifestFolderFields = []string{
	"run_id", "folder_path", "file_count", "size_bytes", "discovered_at",
}

var summaryFields = []string{
	"run_id", "root_path", "toolkit", "batch_size",
	"folders_total", "folders_selected_for_send",
	"files_total", "files_selected_for_send", "files_excluded",
	"size_total_bytes", "size_selected_bytes", "size_collection_enabled",
	"chunk_unit", "chunks_total", "analysis_duration_sec",
	"batch_max_cmd", "batch_max_cmd_source", "generated_at",
}

// Result is the analysis outcome returned to the caller.
type Result struct {
	RunID             string
	RunDir            string
	ChunksTotal       int
	ChunkUnit         string
	FilesTotal        int
	FilesSelected     int
	FoldersTotal      int
	FoldersSelected   int
	SizeTotalBytes    int64
	SizeSelectedBytes int64
	DurationSec       float64
	BatchMaxCmd       string
	BatchMaxCmdSource string
}

// Workflow runs one analysis over an exam tree.
type Workflow struct {
	Cfg     *config.Config
	Stream  *progress.Stream
	Metrics *observability.WorkflowMetrics
}

func (w *Workflow) logf(format string, args ...any) {
	w.Stream.Log(fmt.Sprintf(format, args...))
}

type folderAgg struct {
	count int
	bytes int64
}

// Run scans examRoot depth-first, writes manifest_files.csv,
// manifest_folders.csv and analysis_summary.csv under runsBase/<run_id>, and
// returns the batching plan. An empty runID derives one from the clock; any
// runID is normalized with the toolkit suffix.
func (w *Workflow) Run(ctx context.Context, runsBase, examRoot string, batchSize int, runID string) (*Result, error) {
	started := time.Now()

	if batchSize < 1 {
		return nil, config.ErrBatchSize
	}

	root, err := filepath.Abs(examRoot)
	if err != nil {
		return nil, fmt.Errorf("resolve exam root: %w", err)
	}

	if _, statErr := os.Stat(root); statErr != nil {
		return nil, fmt.Errorf("exam root not found: %s", root)
	}

	run := strings.TrimSpace(runID)
	if run == "" {
		run = runclock.NowRunID()
	}

	normalized := runclock.NormalizeRunID(run, w.Cfg.Toolkit, w.Cfg.Dcm4cheSendMode)
	if normalized != run {
		w.logf("[RUN_ID_GUARD] run_id_normalized from=%s to=%s", run, normalized)
	}

	run = normalized

	runDir := filepath.Join(runsBase, run)
	if mkErr := os.MkdirAll(runDir, 0o755); mkErr != nil {
		return nil, fmt.Errorf("create run dir: %w", mkErr)
	}

	w.Stream.Log("[RUN_LAYOUT] mode=analysis layout=core|telemetry|reports")

	// Manifests are rewritten in full per analysis; stale legacy duplicates
	// go with them.
	cleanupNames := []string{
		artifacts.ManifestFolders, artifacts.ManifestFiles, artifacts.AnalysisSummary, artifacts.Events,
		artifacts.LegacyAnalysisEvents, artifacts.LegacySendEvents, artifacts.LegacySendErrors, artifacts.LegacyConsistencyEvents,
	}
	for _, name := range cleanupNames {
		if cleanErr := artifacts.Cleanup(runDir, name); cleanErr != nil {
			return nil, fmt.Errorf("clear previous analysis artifact %s: %w", name, cleanErr)
		}
	}

	resolveOpt := artifacts.ResolveOption{ForWrite: true, Logf: w.logf}

	manifestFoldersPath, err := artifacts.Resolve(runDir, artifacts.ManifestFolders, resolveOpt)
	if err != nil {
		return nil, err
	}

	manifestFilesPath, err := artifacts.Resolve(runDir, artifacts.ManifestFiles, resolveOpt)
	if err != nil {
		return nil, err
	}

	summaryPath, err := artifacts.Resolve(runDir, artifacts.AnalysisSummary, resolveOpt)
	if err != nil {
		return nil, err
	}

	eventsPath, err := artifacts.Resolve(runDir, artifacts.Events, resolveOpt)
	if err != nil {
		return nil, err
	}

	allowedExt := w.Cfg.AllowedExtensionSet()
	includeNoExt := w.Cfg.IncludeNoExtension
	restrictExtensions := w.Cfg.RestrictExtensions

	sendMode := runclock.NormalizeSendMode(w.Cfg.Dcm4cheSendMode)
	folderUnit := w.Cfg.Toolkit == runclock.ToolkitDcm4che && sendMode == runclock.SendModeFolders

	// Folder mode always ships whole directories, so the extension policy
	// cannot apply.
	if folderUnit {
		restrictExtensions = false
	}

	w.logf("[AN_START] run_id=%s toolkit=%s dcm4che_mode=%s", run, w.Cfg.Toolkit, sendMode)
	w.Stream.Log("Iniciando descoberta de arquivos...")
	w.logScanConfig(folderUnit, restrictExtensions, allowedExt)

	tracked := w.Metrics.TrackInflight(ctx, "analyze")
	defer tracked()

	writer, err := artifacts.NewTableWriter(manifestFilesPath, append(append([]string(nil), manifestFileFields...),
		artifacts.FieldTimestampBR, artifacts.FieldTimestampISO))
	if err != nil {
		return nil, err
	}
	defer writer.Close()

	var (
		folderAggs         = make(map[string]*folderAgg)
		selectedFolderKeys = make(map[string]struct{})

		totalFiles, selectedFiles, excludedFiles int
		totalBytes, selectedBytes                int64
		seq                                      int
		dirsProcessed                            int
		scanErrors                               int
		bufferedRows                             int
		unitMaxArgLen                            int
	)

	lastProgress := time.Now()
	dirStack := []string{root}

	for len(dirStack) > 0 {
		if ctx.Err() != nil {
			_ = writer.Flush()
			_ = artifacts.WriteEvent(eventsPath, run, artifacts.EventAnalysisCancelled,
				"Analise cancelada pelo usuario.",
				fmt.Sprintf("files_scanned=%d;dirs_processed=%d", totalFiles, dirsProcessed))

			return nil, fmt.Errorf("analysis: %w", workflows.ErrCancelled)
		}

		folder := dirStack[len(dirStack)-1]
		dirStack = dirStack[:len(dirStack)-1]
		dirsProcessed++

		entries, readErr := os.ReadDir(folder)
		if readErr != nil {
			scanErrors++
			if scanErrors <= maxScanWarningsShown {
				w.logf("[WARN] Falha ao escanear pasta: %s | erro=%v", folder, readErr)
			}

			continue
		}

		for _, entry := range entries {
			if entry.IsDir() {
				dirStack = append(dirStack, filepath.Join(folder, entry.Name()))

				continue
			}

			if !entry.Type().IsRegular() {
				continue
			}

			seq++

			var sizeActual int64
			if info, infoErr := entry.Info(); infoErr == nil {
				sizeActual = info.Size()
			}

			// Aggregates always use the actual size; the per-row column is
			// the performance lever.
			var size int64
			if w.Cfg.CollectSizeBytes {
				size = sizeActual
			}

			path := filepath.Join(folder, entry.Name())
			ext := strings.ToLower(filepath.Ext(entry.Name()))

			include, reason := selectFile(ext, restrictExtensions, includeNoExt, allowedExt)

			if include {
				selectedFiles++
				selectedBytes += sizeActual
				selectedFolderKeys[folder] = struct{}{}

				if w.Cfg.Toolkit == runclock.ToolkitDcm4che && !folderUnit {
					if l := toolkit.UnitArgLength(path); l > unitMaxArgLen {
						unitMaxArgLen = l
					}
				}
			} else {
				excludedFiles++
			}

			totalFiles++
			totalBytes += sizeActual

			agg := folderAggs[folder]
			if agg == nil {
				agg = &folderAgg{}
				folderAggs[folder] = agg
			}

			agg.count++
			agg.bytes += sizeActual

			tsBR, tsISO := runclock.NowDual()

			rowErr := writer.WriteRow(artifacts.Row{
				"run_id":                      run,
				"seq":                         strconv.Itoa(seq),
				"file_path":                   path,
				"folder_path":                 folder,
				"extension":                   ext,
				"size_bytes":                  strconv.FormatInt(size, 10),
				"selected_for_send":           boolFlag(include),
				"selection_reason":            reason,
				"dicom_status":                "UNKNOWN",
				"discovered_at":               tsBR,
				artifacts.FieldTimestampBR:  tsBR,
				artifacts.FieldTimestampISO: tsISO,
			})
			if rowErr != nil {
				return nil, rowErr
			}

			bufferedRows++
			if bufferedRows >= manifestBufferRows {
				if flushErr := writer.Flush(); flushErr != nil {
					return nil, flushErr
				}

				bufferedRows = 0
			}
		}

		if time.Since(lastProgress) >= progressInterval {
			if flushErr := writer.Flush(); flushErr != nil {
				return nil, flushErr
			}

			bufferedRows = 0

			elapsed := time.Since(started).Seconds()
			if elapsed < 0.001 {
				elapsed = 0.001
			}

			rate := float64(totalFiles) / elapsed
			avgFilesPerDir := float64(totalFiles) / math.Max(float64(dirsProcessed), 1)
			estTotal := totalFiles + int(float64(len(dirStack))*avgFilesPerDir)
			remaining := estTotal - totalFiles

			eta := -1.0
			if rate > 0 {
				eta = float64(remaining) / rate
			}

			w.logf("[AN_SCAN_PROGRESS] dirs=%d pending_dirs=%d files=%d selected=%d rate=%.1f arq/s eta~%s",
				dirsProcessed, len(dirStack), totalFiles, selectedFiles, rate, runclock.FormatETA(time.Duration(eta*float64(time.Second))))

			lastProgress = time.Now()
		}
	}

	if err = writer.Close(); err != nil {
		return nil, err
	}

	folders := make([]string, 0, len(folderAggs))
	for folder := range folderAggs {
		folders = append(folders, folder)
	}

	sort.Strings(folders)

	for _, folder := range folders {
		agg := folderAggs[folder]

		rowErr := artifacts.AppendRow(manifestFoldersPath, artifacts.Row{
			"run_id":        run,
			"folder_path":   folder,
			"file_count":    strconv.Itoa(agg.count),
			"size_bytes":    strconv.FormatInt(agg.bytes, 10),
			"discovered_at": runclock.NowBR(),
		}, manifestFolderFields)
		if rowErr != nil {
			return nil, rowErr
		}
	}

	chunkUnit := "arquivos"
	chunkBaseCount := selectedFiles

	if folderUnit {
		chunkUnit = "pastas"
		chunkBaseCount = len(selectedFolderKeys)
	}

	chunksTotal := 0
	if chunkBaseCount > 0 {
		chunksTotal = (chunkBaseCount + batchSize - 1) / batchSize
	}

	durationSec := math.Round(time.Since(started).Seconds()*1000) / 1000

	batchMaxCmd := ""
	batchMaxCmdSource := toolkit.BatchMaxSourceNA

	if w.Cfg.Toolkit == runclock.ToolkitDcm4che {
		if folderUnit {
			unitMaxArgLen = 0

			for folder := range selectedFolderKeys {
				if l := toolkit.UnitArgLength(folder); l > unitMaxArgLen {
					unitMaxArgLen = l
				}
			}
		}

		limit, source, budget := toolkit.EstimateDcm4cheBatchMaxCmd(w.Cfg, unitMaxArgLen, chunkBaseCount)
		batchMaxCmd = strconv.Itoa(limit)
		batchMaxCmdSource = source

		w.logf("[BATCH_AUTO_MAX] source=%s limit=%d units_total=%d unit_max_arg_len=%d budget=%d",
			source, limit, chunkBaseCount, unitMaxArgLen, budget)
	} else {
		w.Stream.Log("[BATCH_AUTO_MAX] source=N/A toolkit=dcmtk")
	}

	err = artifacts.AppendRow(summaryPath, artifacts.Row{
		"run_id":                    run,
		"root_path":                 root,
		"toolkit":                   w.Cfg.Toolkit,
		"batch_size":                strconv.Itoa(batchSize),
		"folders_total":             strconv.Itoa(len(folderAggs)),
		"folders_selected_for_send": strconv.Itoa(len(selectedFolderKeys)),
		"files_total":               strconv.Itoa(totalFiles),
		"files_selected_for_send":   strconv.Itoa(selectedFiles),
		"files_excluded":            strconv.Itoa(excludedFiles),
		"size_total_bytes":          strconv.FormatInt(totalBytes, 10),
		"size_selected_bytes":       strconv.FormatInt(selectedBytes, 10),
		"size_collection_enabled":   boolFlag(w.Cfg.CollectSizeBytes),
		"chunk_unit":                chunkUnit,
		"chunks_total":              strconv.Itoa(chunksTotal),
		"analysis_duration_sec":     strconv.FormatFloat(durationSec, 'f', -1, 64),
		"batch_max_cmd":             batchMaxCmd,
		"batch_max_cmd_source":      batchMaxCmdSource,
		"generated_at":              runclock.NowBR(),
	}, summaryFields)
	if err != nil {
		return nil, err
	}

	batchMaxForEvent := batchMaxCmd
	if batchMaxForEvent == "" {
		batchMaxForEvent = toolkit.BatchMaxSourceNA
	}

	err = artifacts.WriteEvent(eventsPath, run, artifacts.EventAnalysisEnd, "Analise concluida.",
		fmt.Sprintf("files_total=%d;selected_files=%d;selected_folders=%d;chunks=%d;chunk_unit=%s;scan_errors=%d;collect_size_bytes=%s;batch_max_cmd=%s;batch_max_cmd_source=%s;analysis_duration_sec=%v",
			totalFiles, selectedFiles, len(selectedFolderKeys), chunksTotal, chunkUnit, scanErrors,
			boolFlag(w.Cfg.CollectSizeBytes), batchMaxForEvent, batchMaxCmdSource, durationSec))
	if err != nil {
		return nil, err
	}

	w.logf("[AN_RESULT] arquivos=%d selecionados=%d pastas_selecionadas=%d chunks=%d (%s) duration=%s",
		totalFiles, selectedFiles, len(selectedFolderKeys), chunksTotal, chunkUnit,
		runclock.FormatDuration(time.Since(started)))
	w.logf("[AN_END] run_id=%s status=PASS", run)

	w.Metrics.RecordWorkflow(ctx, "analyze", artifacts.SummaryPass, time.Since(started))

	return &Result{
		RunID:             run,
		RunDir:            runDir,
		ChunksTotal:       chunksTotal,
		ChunkUnit:         chunkUnit,
		FilesTotal:        totalFiles,
		FilesSelected:     selectedFiles,
		FoldersTotal:      len(folderAggs),
		FoldersSelected:   len(selectedFolderKeys),
		SizeTotalBytes:    totalBytes,
		SizeSelectedBytes: selectedBytes,
		DurationSec:       durationSec,
		BatchMaxCmd:       batchMaxCmd,
		BatchMaxCmdSource: batchMaxCmdSource,
	}, nil
}

func (w *Workflow) logScanConfig(folderUnit, restrictExtensions bool, allowedExt map[string]struct{}) {
	switch {
	case folderUnit:
		w.Stream.Log("[AN_FILTER_MODE] mode=all_files reason=dcm4che_folders include_no_extension=IGNORED")
	case restrictExtensions:
		exts := make([]string, 0, len(allowedExt))
		for ext := range allowedExt {
			exts = append(exts, ext)
		}

		sort.Strings(exts)

		extText := strings.Join(exts, ",")
		if extText == "" {
			extText = "<nenhuma_extensao>"
		}

		w.logf("[AN_FILTER_MODE] mode=extensions allowed=%s include_no_extension=%s",
			extText, onOff(w.Cfg.IncludeNoExtension))
	default:
		w.Stream.Log("[AN_FILTER_MODE] mode=all_files include_no_extension=IGNORED")
	}

	w.logf("[AN_SCAN_CONFIG] collect_size_bytes=%s (OFF melhora performance em arvores muito grandes)",
		onOff(w.Cfg.CollectSizeBytes))
}

func selectFile(ext string, restrictExtensions, includeNoExt bool, allowedExt map[string]struct{}) (bool, string) {
	if !restrictExtensions {
		return true, artifacts.ReasonIncludedAllFiles
	}

	if _, ok := allowedExt[ext]; ok {
		return true, artifacts.ReasonIncludedExt
	}

	if ext == "" && includeNoExt {
		return true, artifacts.ReasonIncludedNoExt
	}

	return false, artifacts.ReasonExcludedExtension
}

func boolFlag(v bool) string {
	if v {
		return "1"
	}

	return "0"
}

func onOff(v bool) string {
	if v {
		return "ON"
	}

	return "OFF"
}
