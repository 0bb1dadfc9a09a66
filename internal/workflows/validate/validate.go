// Package validate reconciles a run's claimed send successes against the
// archive's REST view. A consistency pass backfills missing SOP Instance UIDs
// into the send results before any query is issued, so re-running validation
// always works from the most complete identifier map available.
package validate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hmd-tools/pacsflow/internal/artifacts"
	"github.com/hmd-tools/pacsflow/internal/config"
	"github.com/hmd-tools/pacsflow/internal/observability"
	"github.com/hmd-tools/pacsflow/internal/pacsrest"
	"github.com/hmd-tools/pacsflow/internal/progress"
	"github.com/hmd-tools/pacsflow/internal/runclock"
	"github.com/hmd-tools/pacsflow/internal/toolkit"
	"github.com/hmd-tools/pacsflow/internal/workflows"
)

// validationFields is the schema of validation_results.csv.
var validationFields = []string{
	"run_id", "file_path", "sop_instance_uid", "send_status",
	"validation_status", "api_found", "http_status", "detail", "checked_at",
}

// reconFields is the schema of reconciliation_report.csv.
var reconFields = []string{
	"run_id", "toolkit", "total_iuid_unique", "iuid_ok", "iuid_not_found",
	"iuid_api_error", "send_warning_files", "send_failed_files",
	"final_status", "validation_duration_sec", "generated_at",
}

// Result summarizes one validation run.
type Result struct {
	RunID        string
	RunDir       string
	Status       string
	TotalIUIDs   int
	IUIDOK       int
	IUIDNotFound int
	IUIDAPIError int
	DurationSec  float64
}

// Workflow runs the validation stage of a run.
type Workflow struct {
	Cfg     *config.Config
	Stream  *progress.Stream
	Metrics *observability.WorkflowMetrics
}

func (w *Workflow) logf(format string, args ...any) {
	w.Stream.Log(fmt.Sprintf(format, args...))
}

// Run validates every SENT_OK file of the run against the archive and writes
// the validation and reconciliation artifacts.
func (w *Workflow) Run(ctx context.Context, runsBase, runID string) (*Result, error) {
	started := time.Now()

	run := strings.TrimSpace(runID)
	if run == "" {
		return nil, fmt.Errorf("run_id is required for validation")
	}

	runDir := filepath.Join(runsBase, run)
	if _, err := os.Stat(runDir); err != nil {
		return nil, fmt.Errorf("run not found: %s", runDir)
	}

	w.Stream.Log("[RUN_LAYOUT] mode=validation layout=core|telemetry|reports")

	writeOpt := artifacts.ResolveOption{ForWrite: true, Logf: w.logf}

	sendResultsPath, err := artifacts.Resolve(runDir, artifacts.SendResultsByFile, writeOpt)
	if err != nil {
		return nil, err
	}

	legacyMapPath, err := artifacts.Resolve(runDir, artifacts.LegacyFileIUIDMap, artifacts.ResolveOption{Logf: w.logf})
	if err != nil {
		return nil, err
	}

	cleanupNames := []string{
		artifacts.ValidationResults, artifacts.LegacyValidationByIUID,
		artifacts.LegacyValidationByFile, artifacts.ReconciliationReport,
	}
	for _, name := range cleanupNames {
		if cleanErr := artifacts.Cleanup(runDir, name); cleanErr != nil {
			return nil, fmt.Errorf("clear previous validation artifact %s: %w", name, cleanErr)
		}
	}

	eventsPath, err := artifacts.Resolve(runDir, artifacts.Events, writeOpt)
	if err != nil {
		return nil, err
	}

	validationPath, err := artifacts.Resolve(runDir, artifacts.ValidationResults, writeOpt)
	if err != nil {
		return nil, err
	}

	reconPath, err := artifacts.Resolve(runDir, artifacts.ReconciliationReport, writeOpt)
	if err != nil {
		return nil, err
	}

	sendRows, err := artifacts.ReadRows(sendResultsPath)
	if err != nil {
		sendRows = nil
	}

	mapByFile := artifacts.BuildIUIDMap(sendRows)
	_ = artifacts.MergeIUIDMapFromLegacyFile(mapByFile, legacyMapPath)

	totalSendRows := len(sendRows)
	sentOK, sendWarn, sendFail := 0, 0, 0

	for _, row := range sendRows {
		switch status := row["send_status"]; {
		case status == artifacts.SendStatusSentOK:
			sentOK++
		case artifacts.IsWarningSendStatus(status):
			sendWarn++
		case status == artifacts.SendStatusSendFail:
			sendFail++
		}
	}

	w.logf("[VAL_START] run_id=%s", run)
	w.logf("[VAL_RESULT] send_total=%d sent_ok=%d warn=%d fail=%d", totalSendRows, sentOK, sendWarn, sendFail)
	w.logf("Mapeamentos IUID atuais (send_results+fallback legado): %d", len(mapByFile))

	err = artifacts.WriteEvent(eventsPath, run, artifacts.EventValidationStart, "Validacao iniciada.",
		fmt.Sprintf("send_rows=%d;sent_ok=%d;send_warn=%d;send_fail=%d;mapped_iuid=%d",
			totalSendRows, sentOK, sendWarn, sendFail, len(mapByFile)))
	if err != nil {
		return nil, err
	}

	driver, err := toolkit.ForToolkit(w.Cfg.Toolkit)
	if err != nil {
		return nil, err
	}

	// Consistency pass: fill missing IUIDs before touching the API.
	updates := make(map[string]artifacts.IUIDEntry)

	for _, row := range sendRows {
		if row["send_status"] != artifacts.SendStatusSentOK {
			continue
		}

		fp := strings.TrimSpace(row["file_path"])
		if fp == "" {
			continue
		}

		if _, mapped := mapByFile[fp]; mapped {
			continue
		}

		meta, metaErr := driver.ExtractMetadata(ctx, w.Cfg, fp)
		if metaErr != nil || meta.IUID == "" {
			msg := "Nao foi possivel extrair IUID."
			if metaErr != nil {
				msg = metaErr.Error()
			}

			if eventErr := artifacts.WriteEvent(eventsPath, run, artifacts.EventConsistencyMissing,
				msg, "file_path="+fp); eventErr != nil {
				return nil, eventErr
			}

			continue
		}

		entry := artifacts.IUIDEntry{
			SOPInstanceUID: meta.IUID,
			SourceTSUID:    meta.TSUID,
			SourceTSName:   meta.TSName,
			ExtractStatus:  artifacts.ExtractConsistencyOK,
		}
		mapByFile[fp] = entry
		updates[fp] = entry

		if eventErr := artifacts.WriteEvent(eventsPath, run, artifacts.EventConsistencyFilled,
			"IUID preenchido antes da validacao.", "file_path="+fp); eventErr != nil {
			return nil, eventErr
		}
	}

	if updated, updErr := artifacts.ApplySendResultUpdates(sendResultsPath, run, updates); updErr == nil && updated > 0 {
		w.logf("[CORE_COMPACT] send_results_by_file atualizado pela consistencia em %d arquivo(s).", updated)
	}

	// Group SENT_OK files by IUID, keeping the first-seen order for
	// deterministic query and row ordering.
	iuidToFiles := make(map[string][]string)

	var iuidOrder []string

	for _, row := range sendRows {
		if row["send_status"] != artifacts.SendStatusSentOK {
			continue
		}

		fp := strings.TrimSpace(row["file_path"])

		iuid := mapByFile[fp].SOPInstanceUID
		if iuid == "" {
			continue
		}

		if _, seen := iuidToFiles[iuid]; !seen {
			iuidOrder = append(iuidOrder, iuid)
		}

		iuidToFiles[iuid] = append(iuidToFiles[iuid], fp)
	}

	w.logf("IUIDs unicos para consulta API: %d", len(iuidToFiles))

	client := pacsrest.NewClient(w.Cfg.PACSRESTHost, w.Cfg.AETDest)

	okCount, missCount, apiErrCount := 0, 0, 0

	for _, iuid := range iuidOrder {
		if ctx.Err() != nil {
			return nil, workflows.ErrCancelled
		}

		lookup := client.LookupInstance(ctx, iuid)

		apiFound := "0"

		var status string

		switch {
		case lookup.Found:
			apiFound = "1"
			status = artifacts.LookupOK
			okCount++
		case lookup.HTTPStatus == "ERR" || lookup.HTTPStatus == "":
			status = artifacts.LookupAPIError
			apiErrCount++
		default:
			status = artifacts.LookupNotFound
			missCount++
		}

		for _, fp := range iuidToFiles[iuid] {
			rowErr := artifacts.AppendRow(validationPath, artifacts.Row{
				"run_id":            run,
				"file_path":         fp,
				"sop_instance_uid":  iuid,
				"send_status":       artifacts.SendStatusSentOK,
				"validation_status": status,
				"api_found":         apiFound,
				"http_status":       lookup.HTTPStatus,
				"detail":            lookup.Detail,
				"checked_at":        runclock.NowBR(),
			}, validationFields)
			if rowErr != nil {
				return nil, rowErr
			}
		}

		if done := okCount + missCount + apiErrCount; done%100 == 0 {
			w.logf("Progresso validacao API: %d/%d (ok=%d, nf=%d, api_err=%d)",
				done, len(iuidToFiles), okCount, missCount, apiErrCount)
		}
	}

	finalStatus := artifacts.SummaryPass
	if sendFail > 0 || apiErrCount > 0 || missCount > 0 {
		finalStatus = artifacts.SummaryPassWithWarnings
	}

	if apiErrCount > 0 && okCount == 0 {
		finalStatus = artifacts.SummaryFail
	}

	durationSec := runclock.DurationSeconds(time.Since(started))

	err = artifacts.AppendRow(reconPath, artifacts.Row{
		"run_id":                  run,
		"toolkit":                 w.Cfg.Toolkit,
		"total_iuid_unique":       itoa(len(iuidToFiles)),
		"iuid_ok":                 itoa(okCount),
		"iuid_not_found":          itoa(missCount),
		"iuid_api_error":          itoa(apiErrCount),
		"send_warning_files":      itoa(sendWarn),
		"send_failed_files":       itoa(sendFail),
		"final_status":            finalStatus,
		"validation_duration_sec": formatSec(durationSec),
		"generated_at":            runclock.NowBR(),
	}, reconFields)
	if err != nil {
		return nil, err
	}

	w.Stream.Log("[VAL_RESULT] --- Resumo Final Validacao ---")
	w.logf("Run ID: %s", run)
	w.logf("Arquivos do send: %d", totalSendRows)
	w.logf("Arquivos SENT_OK: %d", sentOK)
	w.logf("Arquivos com warning no send: %d", sendWarn)
	w.logf("Arquivos com falha no send: %d", sendFail)
	w.logf("IUIDs unicos consultados: %d", len(iuidToFiles))
	w.logf("IUIDs OK: %d", okCount)
	w.logf("IUIDs NOT_FOUND: %d", missCount)
	w.logf("IUIDs API_ERROR: %d", apiErrCount)
	w.logf("[VAL_END] run_id=%s status=%s duration=%s", run, finalStatus, runclock.FormatDuration(time.Since(started)))

	err = artifacts.WriteEvent(eventsPath, run, artifacts.EventValidationEnd, "Validacao finalizada.",
		fmt.Sprintf("status=%s;iuid_total=%d;iuid_ok=%d;iuid_not_found=%d;iuid_api_error=%d;validation_duration_sec=%v",
			finalStatus, len(iuidToFiles), okCount, missCount, apiErrCount, durationSec))
	if err != nil {
		return nil, err
	}

	w.Metrics.RecordWorkflow(ctx, "validate", finalStatus, time.Since(started))

	return &Result{
		RunID:        run,
		RunDir:       runDir,
		Status:       finalStatus,
		TotalIUIDs:   len(iuidToFiles),
		IUIDOK:       okCount,
		IUIDNotFound: missCount,
		IUIDAPIError: apiErrCount,
		DurationSec:  durationSec,
	}, nil
}

func itoa(n int) string { return fmt.Sprintf("%d", n) }

func formatSec(sec float64) string {
	return fmt.Sprintf("%v", sec)
}
