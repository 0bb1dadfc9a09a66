// Package send executes the batched store transfer of a run: pre-flight
// checks, chunk planning under the command-length budget, supervised toolkit
// children with cancel-kill, per-item durable results and checkpoints, and
// terminal summarization re-read from the results artifact.
package send

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/hmd-tools/pacsflow/internal/artifacts"
	"github.com/hmd-tools/pacsflow/internal/checkpoint"
	"github.com/hmd-tools/pacsflow/internal/config"
	"github.com/hmd-tools/pacsflow/internal/observability"
	"github.com/hmd-tools/pacsflow/internal/progress"
	"github.com/hmd-tools/pacsflow/internal/runclock"
	"github.com/hmd-tools/pacsflow/internal/toolkit"
)

// dcm4che execution modes.
const (
	execModeJavaDirect = "JAVA_DIRECT"
	execModeCmdScript  = "CMD_BAT"
	execModeToolkit    = "TOOLKIT_DEFAULT"
)

// Warning-type counters surfaced in [SEND_WARN_SUMMARY].
const (
	warnUIDEmptyExpected   = "UID_EMPTY_EXPECTED"
	warnUIDEmptyUnexpected = "UID_EMPTY_UNEXPECTED"
	warnParseException     = "PARSE_EXCEPTION"
)

// resultFields is the send_results_by_file.csv schema (dual timestamps are
// injected by the writer).
var resultFields = []string{
	"run_id", "file_path", "chunk_no", "toolkit", "ts_mode",
	"send_status", "status_detail", "sop_instance_uid",
	"source_ts_uid", "source_ts_name", "extract_status", "processed_at",
}

var summaryFields = []string{
	"run_id", "toolkit", "ts_mode_effective", "total_items", "items_processed",
	"sent_ok", "warnings", "failed", "status", "send_duration_sec", "finished_at",
}

// Result is the terminal outcome of one send invocation.
type Result struct {
	RunID          string
	RunDir         string
	Status         string
	TotalItems     int
	ItemsProcessed int
	SentOK         int
	Warnings       int
	Failed         int
	DurationSec    float64
}

// Workflow runs the send stage of one run.
type Workflow struct {
	Cfg     *config.Config
	Stream  *progress.Stream
	Metrics *observability.WorkflowMetrics
}

func (w *Workflow) logf(format string, args ...any) {
	w.Stream.Log(fmt.Sprintf(format, args...))
}

// plannedChunk is one spawnable sub-chunk after command-length re-splitting.
type plannedChunk struct {
	inputs      []string
	files       []string
	originChunk int
	splitPos    int
	splitTotal  int
}

// Run transfers every pending selected file of the run, resuming from the
// checkpoint and prior results. Cancellation via ctx leaves a consistent
// INTERRUPTED state that a later invocation continues from.
func (w *Workflow) Run(ctx context.Context, runsBase, runID string, batchSize int) (*Result, error) {
	started := time.Now()

	run := strings.TrimSpace(runID)
	if run == "" {
		return nil, fmt.Errorf("run_id is required for send")
	}

	runDir := filepath.Join(runsBase, run)
	if _, err := os.Stat(runDir); err != nil {
		return nil, fmt.Errorf("run not found: %s", runDir)
	}

	if batchSize < 1 {
		return nil, config.ErrBatchSize
	}

	tsMode := strings.ToUpper(strings.TrimSpace(w.Cfg.TSMode))
	if tsMode == "" {
		tsMode = "AUTO"
	}

	if tsMode != "AUTO" {
		w.logf("[WARN] TS mode '%s' ainda nao implementado. Usando AUTO.", tsMode)

		tsMode = "AUTO"
	}

	sendMode := runclock.NormalizeSendMode(w.Cfg.Dcm4cheSendMode)
	iuidMode := runclock.NormalizeIUIDUpdateMode(w.Cfg.Dcm4cheIUIDUpdateMode)

	driver, err := toolkit.ForToolkit(w.Cfg.Toolkit)
	if err != nil {
		return nil, err
	}

	isDcm4che := w.Cfg.Toolkit == runclock.ToolkitDcm4che

	execMode := "N/A"
	execReason := "N/A"
	javaExec := ""

	if isDcm4che {
		if w.Cfg.Dcm4chePreferJavaDirect {
			var javaReason string

			javaExec, javaReason = toolkit.ResolveJava(ctx)
			if javaExec == "" {
				w.logf("[SEND_EXEC_MODE] toolkit=dcm4che mode=JAVA_DIRECT reason=java_unavailable:%s", javaReason)

				return nil, fmt.Errorf("JAVA_UNAVAILABLE: dcm4che JAVA_DIRECT requires a working java (reason: %s)", javaReason)
			}

			execMode = execModeJavaDirect
			execReason = "java=" + javaExec
		} else {
			execMode = execModeCmdScript
			execReason = "prefer_java_direct=OFF"
		}
	}

	displayMode := func(v string) string {
		if isDcm4che {
			return v
		}

		return "N/A"
	}

	w.logf("[SEND_CONFIG] toolkit=%s dcm4che_send_mode=%s dcm4che_iuid_update_mode=%s dcm4che_exec_mode=%s dcm4che_exec_reason=%s",
		w.Cfg.Toolkit, displayMode(sendMode), displayMode(iuidMode), displayMode(execMode), displayMode(execReason))
	w.Stream.Log("[RUN_LAYOUT] mode=send layout=core|telemetry|reports")

	manifestFilesPath, err := artifacts.Resolve(runDir, artifacts.ManifestFiles, artifacts.ResolveOption{Logf: w.logf})
	if err != nil {
		return nil, err
	}

	if _, statErr := os.Stat(manifestFilesPath); statErr != nil {
		return nil, fmt.Errorf("manifest not found: %s", manifestFilesPath)
	}

	manifestRows, err := artifacts.ReadRows(manifestFilesPath)
	if err != nil {
		return nil, err
	}

	var (
		selected      []string
		folderToFiles = make(map[string][]string)
	)

	for _, row := range manifestRows {
		if strings.TrimSpace(row["selected_for_send"]) != "1" {
			continue
		}

		fp := row["file_path"]
		selected = append(selected, fp)

		folder := strings.TrimSpace(row["folder_path"])
		if folder == "" {
			folder = filepath.Dir(fp)
		}

		folderToFiles[folder] = append(folderToFiles[folder], fp)
	}

	totalItems := len(selected)
	if totalItems == 0 {
		return nil, fmt.Errorf("no files selected in manifest for send")
	}

	fileUnitMode := !(isDcm4che && sendMode == runclock.SendModeFolders)

	checkpointName := runclock.CheckpointFilename(w.Cfg.Toolkit, sendMode)

	checkpointRead, err := artifacts.Resolve(runDir, checkpointName, artifacts.ResolveOption{Logf: w.logf})
	if err != nil {
		return nil, err
	}

	resultsRead, err := artifacts.Resolve(runDir, artifacts.SendResultsByFile, artifacts.ResolveOption{Logf: w.logf})
	if err != nil {
		return nil, err
	}

	summaryRead, err := artifacts.Resolve(runDir, artifacts.SendSummary, artifacts.ResolveOption{Logf: w.logf})
	if err != nil {
		return nil, err
	}

	doneUnits := 0
	doneFiles := 0

	if state, ok := checkpoint.NewStore(checkpointRead).Load(); ok {
		doneUnits = state.DoneUnits
		doneFiles = state.DoneFiles
	}

	if doneUnits < 0 {
		doneUnits = 0
	}

	if doneFiles < 0 {
		doneFiles = 0
	}

	processedFiles := make(map[string]struct{})
	existingChunkMax := 0

	if priorRows, readErr := artifacts.ReadRows(resultsRead); readErr == nil {
		for _, row := range priorRows {
			if fp := strings.TrimSpace(row["file_path"]); fp != "" {
				processedFiles[fp] = struct{}{}
			}

			if n, ok := parseInt(row["chunk_no"]); ok && n > existingChunkMax {
				existingChunkMax = n
			}
		}
	}

	selectedSet := make(map[string]struct{}, len(selected))
	for _, fp := range selected {
		selectedSet[fp] = struct{}{}
	}

	doneFilesFromResults := 0

	for fp := range selectedSet {
		if _, ok := processedFiles[fp]; ok {
			doneFilesFromResults++
		}
	}

	switch {
	case fileUnitMode && doneFilesFromResults > doneFiles:
		w.logf("[SEND_RESUME_FROM_RESULTS] done_files_checkpoint=%d done_files_results=%d", doneFiles, doneFilesFromResults)

		doneFiles = doneFilesFromResults
	case !fileUnitMode && doneFilesFromResults > 0:
		w.Stream.Log("[WARN] Resume por send_results_by_file ignora modo FOLDERS; cursor segue checkpoint por unidade.")
	}

	if doneFiles > totalItems {
		doneFiles = totalItems
	}

	isResuming := doneUnits > 0 || (fileUnitMode && doneFiles > 0)

	if !isResuming {
		cleanupNames := []string{
			artifacts.StorescuLog, artifacts.SendResultsByFile, artifacts.SendSummary,
			artifacts.LegacyAnalysisEvents, artifacts.LegacySendEvents, artifacts.LegacySendErrors, artifacts.LegacyConsistencyEvents,
		}
		for _, name := range cleanupNames {
			if cleanErr := artifacts.Cleanup(runDir, name); cleanErr != nil {
				return nil, fmt.Errorf("clear previous send artifact %s: %w", name, cleanErr)
			}
		}

		w.logf("RUN_ID envio: %s", run)
	} else {
		w.logf("[SEND_RESUME_STATE] done_units=%d done_files=%d send_unit_mode=%s prev_chunk_max=%d",
			doneUnits, doneFiles, unitModeLabel(fileUnitMode), existingChunkMax)
	}

	writeOpt := artifacts.ResolveOption{ForWrite: true, Logf: w.logf}

	logPath, err := artifacts.Resolve(runDir, artifacts.StorescuLog, writeOpt)
	if err != nil {
		return nil, err
	}

	eventsPath, err := artifacts.Resolve(runDir, artifacts.Events, writeOpt)
	if err != nil {
		return nil, err
	}

	resultsPath, err := artifacts.Resolve(runDir, artifacts.SendResultsByFile, writeOpt)
	if err != nil {
		return nil, err
	}

	summaryPath, err := artifacts.Resolve(runDir, artifacts.SendSummary, writeOpt)
	if err != nil {
		return nil, err
	}

	checkpointWrite, err := artifacts.Resolve(runDir, checkpointName, writeOpt)
	if err != nil {
		return nil, err
	}

	argsDir, err := artifacts.ResolveBatchArgsDir(runDir, true, w.logf)
	if err != nil {
		return nil, err
	}

	chunkCmdDir := artifacts.ChunkCommandsDir(runDir)

	if !isResuming {
		if entries, readErr := os.ReadDir(chunkCmdDir); readErr == nil {
			for _, entry := range entries {
				if !entry.IsDir() {
					_ = os.Remove(filepath.Join(chunkCmdDir, entry.Name()))
				}
			}
		}
	}

	if err = os.MkdirAll(chunkCmdDir, 0o755); err != nil {
		return nil, fmt.Errorf("prepare chunk command dir: %w", err)
	}

	if isDcm4che {
		w.logf("[SEND_EXEC_MODE] toolkit=dcm4che mode=%s reason=%s", execMode, execReason)

		if err = artifacts.WriteEvent(eventsPath, run, artifacts.EventRunSendMode,
			"Modo de execucao do envio definido.",
			fmt.Sprintf("toolkit=dcm4che;mode=%s;reason=%s", execMode, execReason)); err != nil {
			return nil, err
		}

		jarsOK, missing, libDir := toolkit.CheckDcm4cheJavaDependencies(w.Cfg.Dcm4cheBinPath)
		if jarsOK {
			w.logf("[JAVA_HEALTHCHECK] status=OK lib=%s", libDir)

			if err = artifacts.WriteEvent(eventsPath, run, artifacts.EventRunSendJavaHealth,
				"Dependencias Java criticas validadas.", "status=OK;lib="+libDir); err != nil {
				return nil, err
			}
		} else {
			miss := strings.Join(missing, ",")

			w.logf("[JAVA_HEALTHCHECK] status=FAIL lib=%s missing=%s", libDir, miss)

			if err = artifacts.WriteEvent(eventsPath, run, artifacts.EventRunSendJavaHealth,
				"Dependencias Java criticas ausentes.",
				fmt.Sprintf("status=FAIL;lib=%s;missing=%s", libDir, miss)); err != nil {
				return nil, err
			}

			return nil, fmt.Errorf("JAVA_HEALTHCHECK_FAIL: critical jars missing: %s (lib dir %s)", miss, libDir)
		}
	}

	// Planning: folder units keep manifest order, file units skip what prior
	// results already settled.
	var rawChunks [][]string

	unitsTotal := totalItems

	if !fileUnitMode {
		manifestFoldersPath, resolveErr := artifacts.Resolve(runDir, artifacts.ManifestFolders, artifacts.ResolveOption{Logf: w.logf})
		if resolveErr != nil {
			return nil, resolveErr
		}

		var orderedFolders []string

		if folderRows, readErr := artifacts.ReadRows(manifestFoldersPath); readErr == nil && len(folderRows) > 0 {
			for _, row := range folderRows {
				folder := strings.TrimSpace(row["folder_path"])
				if _, ok := folderToFiles[folder]; ok {
					orderedFolders = append(orderedFolders, folder)
				}
			}
		} else {
			for folder := range folderToFiles {
				orderedFolders = append(orderedFolders, folder)
			}

			sort.Strings(orderedFolders)
		}

		unitsTotal = len(orderedFolders)

		for i := doneUnits; i < unitsTotal; i += batchSize {
			end := i + batchSize
			if end > unitsTotal {
				end = unitsTotal
			}

			rawChunks = append(rawChunks, orderedFolders[i:end])
		}
	} else {
		var pending []string

		for _, fp := range selected {
			if _, done := processedFiles[fp]; !done {
				pending = append(pending, fp)
			}
		}

		for i := 0; i < len(pending); i += batchSize {
			end := i + batchSize
			if end > len(pending) {
				end = len(pending)
			}

			rawChunks = append(rawChunks, pending[i:end])
		}
	}

	pendingItems := 0

	if !fileUnitMode {
		pendingItems = len(rawChunks) * batchSize
	} else {
		for _, chunk := range rawChunks {
			pendingItems += len(chunk)
		}
	}

	alreadyCompleted := len(rawChunks) == 0
	if !fileUnitMode {
		alreadyCompleted = unitsTotal > 0 && doneUnits >= unitsTotal
	}

	if alreadyCompleted {
		prevStatus := ""

		if prevRows, readErr := artifacts.ReadRows(summaryRead); readErr == nil && len(prevRows) > 0 {
			prevStatus = strings.TrimSpace(prevRows[len(prevRows)-1]["status"])
		}

		msg := "Este run nao possui itens pendentes para envio."
		status := artifacts.SummaryAlreadySent

		if prevStatus == artifacts.SummaryPass {
			msg = "Este run ja foi enviado com sucesso anteriormente. Nenhum item pendente para envio."
			status = artifacts.SummaryAlreadySentPass
		}

		w.Stream.Log(msg)

		ref := "prev_status=N/A"
		if prevStatus != "" {
			ref = "prev_status=" + prevStatus
		}

		if err = artifacts.WriteEvent(eventsPath, run, artifacts.EventRunSendSkipCompleted, msg, ref); err != nil {
			return nil, err
		}

		return &Result{RunID: run, RunDir: runDir, Status: status, TotalItems: totalItems}, nil
	}

	chunkStartIndex := 1
	if isResuming {
		chunkStartIndex = existingChunkMax + 1
	}

	if isResuming {
		if err = artifacts.WriteEvent(eventsPath, run, artifacts.EventRunSendResume,
			"Retomada de envio detectada.",
			fmt.Sprintf("done_files=%d;done_units=%d;pending_items=%d;pending_chunks=%d;chunk_start_index=%d;send_unit_mode=%s",
				doneFiles, doneUnits, pendingItems, len(rawChunks), chunkStartIndex, unitModeLabel(fileUnitMode))); err != nil {
			return nil, err
		}

		w.logf("[SEND_RESUME] done_files=%d done_units=%d pending_items=%d pending_chunks=%d chunk_start_index=%d",
			doneFiles, doneUnits, pendingItems, len(rawChunks), chunkStartIndex)
	}

	prepared, err := w.planChunks(rawChunks, folderToFiles, fileUnitMode, execMode, chunkStartIndex, eventsPath, run)
	if err != nil {
		return nil, err
	}

	totalChunks := (chunkStartIndex - 1) + len(prepared)

	if err = artifacts.WriteEvent(eventsPath, run, artifacts.EventRunSendStart, "Envio iniciado.",
		fmt.Sprintf("total_items=%d;batch=%d;toolkit=%s;dcm4che_send_mode=%s;dcm4che_iuid_update_mode=%s;dcm4che_exec_mode=%s",
			totalItems, batchSize, w.Cfg.Toolkit, displayMode(sendMode), displayMode(iuidMode), displayMode(execMode))); err != nil {
		return nil, err
	}

	w.logf("[SEND_START] total_items=%d batch=%d toolkit=%s mode=%s iuid_mode=%s exec_mode=%s",
		totalItems, batchSize, w.Cfg.Toolkit, displayMode(sendMode), displayMode(iuidMode), displayMode(execMode))

	tracked := w.Metrics.TrackInflight(ctx, "send")
	defer tracked()

	rs := &runState{
		w:            w,
		cfg:          w.Cfg,
		driver:       driver,
		run:          run,
		runDir:       runDir,
		tsMode:       tsMode,
		sendMode:     sendMode,
		iuidMode:     iuidMode,
		execMode:     execMode,
		javaExec:     javaExec,
		isDcm4che:    isDcm4che,
		fileUnitMode: fileUnitMode,
		totalItems:   totalItems,
		selectedSet:  selectedSet,
		logPath:      logPath,
		eventsPath:   eventsPath,
		resultsPath:  resultsPath,
		argsDir:      argsDir,
		chunkCmdDir:  chunkCmdDir,
		store:        checkpoint.NewStore(checkpointWrite),
		itemCursor:   doneFiles,
		unitCursor:   doneUnits,
		warnCounts:   make(map[string]int),

		chunkStartIndex:    chunkStartIndex,
		attemptChunksTotal: len(prepared),
		totalChunks:        totalChunks,
	}

	for i, pc := range prepared {
		chunkIndex := chunkStartIndex + i

		if ctx.Err() != nil {
			rs.interrupted = true

			break
		}

		if chunkErr := rs.runChunk(ctx, chunkIndex, pc); chunkErr != nil {
			return nil, chunkErr
		}

		if rs.interrupted {
			break
		}
	}

	// Terminal accounting re-reads the results artifact so resumed runs count
	// files settled by earlier invocations; the last row per file wins.
	aggProcessed := rs.itemCursor
	aggOK, aggWarn, aggFail := rs.sentOK, rs.warned, rs.failed

	if finalRows, readErr := artifacts.ReadRows(resultsPath); readErr == nil {
		latestByFile := make(map[string]string)

		for _, row := range finalRows {
			fp := strings.TrimSpace(row["file_path"])
			if _, ok := selectedSet[fp]; ok {
				latestByFile[fp] = strings.TrimSpace(row["send_status"])
			}
		}

		aggProcessed = len(latestByFile)
		aggOK, aggWarn, aggFail = 0, 0, 0

		for _, status := range latestByFile {
			switch {
			case status == artifacts.SendStatusSentOK:
				aggOK++
			case artifacts.IsWarningSendStatus(status) || status == "":
				aggWarn++
			default:
				aggFail++
			}
		}
	}

	finalStatus := artifacts.SummaryPass

	switch {
	case rs.interrupted:
		finalStatus = artifacts.SummaryInterrupted
	case aggFail > 0:
		finalStatus = artifacts.SummaryFail
	case aggWarn > 0:
		finalStatus = artifacts.SummaryPassWithWarnings
	}

	durationSec := roundSec(time.Since(started))

	err = artifacts.AppendRow(summaryPath, artifacts.Row{
		"run_id":            run,
		"toolkit":           w.Cfg.Toolkit,
		"ts_mode_effective": tsMode,
		"total_items":       itoa(totalItems),
		"items_processed":   itoa(aggProcessed),
		"sent_ok":           itoa(aggOK),
		"warnings":          itoa(aggWarn),
		"failed":            itoa(aggFail),
		"status":            finalStatus,
		"send_duration_sec": formatSec(durationSec),
		"finished_at":       runclock.NowBR(),
	}, summaryFields)
	if err != nil {
		return nil, err
	}

	if err = artifacts.WriteEvent(eventsPath, run, artifacts.EventRunSendEnd, "Envio finalizado.",
		fmt.Sprintf("status=%s;send_duration_sec=%v", finalStatus, durationSec)); err != nil {
		return nil, err
	}

	w.logf("[SEND_END] status=%s processed_items=%d/%d duration=%s",
		finalStatus, rs.itemCursor, totalItems, runclock.FormatDuration(time.Since(started)))
	w.logf("[SEND_RESULT] ok=%d warn=%d fail=%d status=%s duration=%s",
		aggOK, aggWarn, aggFail, finalStatus, runclock.FormatDuration(time.Since(started)))

	if aggWarn > 0 {
		w.logf("[SEND_WARN_SUMMARY] sent_unknown=%d non_dicom=%d unsupported=%d uid_empty_expected=%d uid_empty_unexpected=%d parse_exception_files=%d",
			rs.warnCounts[artifacts.SendStatusSentUnknown], rs.warnCounts[artifacts.SendStatusNonDICOM],
			rs.warnCounts[artifacts.SendStatusUnsupported], rs.warnCounts[warnUIDEmptyExpected],
			rs.warnCounts[warnUIDEmptyUnexpected], rs.warnCounts[warnParseException])
	}

	w.Metrics.RecordWorkflow(ctx, "send", finalStatus, time.Since(started))

	return &Result{
		RunID:          run,
		RunDir:         runDir,
		Status:         finalStatus,
		TotalItems:     totalItems,
		ItemsProcessed: aggProcessed,
		SentOK:         aggOK,
		Warnings:       aggWarn,
		Failed:         aggFail,
		DurationSec:    durationSec,
	}, nil
}

// planChunks expands raw unit batches into spawnable sub-chunks. In dcm4che
// CMD mode each batch is re-split so no sub-chunk's concrete command line
// exceeds the budget; a single oversized unit still proceeds alone.
func (w *Workflow) planChunks(rawChunks [][]string, folderToFiles map[string][]string,
	fileUnitMode bool, execMode string, chunkStartIndex int, eventsPath, run string) ([]plannedChunk, error) {
	d4 := &toolkit.Dcm4cheDriver{}

	var prepared []plannedChunk

	for i, batch := range rawChunks {
		originChunk := chunkStartIndex + i

		baseInputs := batch

		splitBatches := [][]string{baseInputs}

		if execMode == execModeCmdScript {
			var (
				splitBudget int
				splitMaxLen int
				err         error
			)

			splitBatches, splitBudget, splitMaxLen, err = w.splitByCmdLimit(d4, baseInputs)
			if err != nil {
				return nil, err
			}

			if splitMaxLen > splitBudget {
				w.logf("[CMDLEN_GUARD_WARN] chunk_origem=%d cmdline_len_max=%d budget=%d ha unidade individual acima do limite; tentativa de envio seguira em unidade minima.",
					originChunk, splitMaxLen, splitBudget)
			}

			if len(splitBatches) > 1 {
				w.logf("[CHUNK_SPLIT] chunk_origem=%d subchunks=%d budget=%d", originChunk, len(splitBatches), splitBudget)

				err = artifacts.WriteEvent(eventsPath, run, artifacts.EventChunkSplitPlan,
					"Chunk dividido por limite de linha de comando.",
					fmt.Sprintf("chunk_original=%d;subchunks=%d;budget=%d;cmdline_len_max=%d",
						originChunk, len(splitBatches), splitBudget, splitMaxLen))
				if err != nil {
					return nil, err
				}
			}
		}

		for pos, inputs := range splitBatches {
			files := inputs

			if !fileUnitMode {
				files = nil
				for _, folder := range inputs {
					files = append(files, folderToFiles[folder]...)
				}
			}

			prepared = append(prepared, plannedChunk{
				inputs:      inputs,
				files:       files,
				originChunk: originChunk,
				splitPos:    pos + 1,
				splitTotal:  len(splitBatches),
			})
		}
	}

	return prepared, nil
}

func (w *Workflow) cmdBudget() int {
	if w.Cfg.Dcm4cheUseShellWrapper {
		return toolkit.ShellWrapperCmdBudget
	}

	return toolkit.DirectCmdBudget
}

func (w *Workflow) splitByCmdLimit(d4 *toolkit.Dcm4cheDriver, units []string) ([][]string, int, int, error) {
	budget := w.cmdBudget()

	var (
		batches [][]string
		current []string
	)

	maxLen := 0

	measure := func(trial []string) (int, error) {
		cmd, err := d4.SendCommand(w.Cfg, trial, "")
		if err != nil {
			return 0, err
		}

		return toolkit.CommandLineLength(cmd), nil
	}

	for _, unit := range units {
		trial := append(append([]string(nil), current...), unit)

		trialLen, err := measure(trial)
		if err != nil {
			return nil, 0, 0, err
		}

		if trialLen > maxLen {
			maxLen = trialLen
		}

		if len(current) > 0 && trialLen > budget {
			batches = append(batches, current)
			current = []string{unit}

			singleLen, singleErr := measure(current)
			if singleErr != nil {
				return nil, 0, 0, singleErr
			}

			if singleLen > maxLen {
				maxLen = singleLen
			}
		} else {
			current = trial
		}
	}

	if len(current) > 0 {
		batches = append(batches, current)
	}

	return batches, budget, maxLen, nil
}

func unitModeLabel(fileUnitMode bool) string {
	if fileUnitMode {
		return "FILES"
	}

	return "FOLDERS"
}
