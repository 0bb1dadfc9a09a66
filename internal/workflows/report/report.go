// Package report exports the full validation reports: one row per file
// (mode A) or one row per study (mode C), enriched with patient and study
// fields queried from the archive's REST interface.
package report

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/hmd-tools/pacsflow/internal/artifacts"
	"github.com/hmd-tools/pacsflow/internal/config"
	"github.com/hmd-tools/pacsflow/internal/observability"
	"github.com/hmd-tools/pacsflow/internal/pacsrest"
	"github.com/hmd-tools/pacsflow/internal/progress"
	"github.com/hmd-tools/pacsflow/internal/toolkit"
	"github.com/hmd-tools/pacsflow/internal/workflows"
)

// Report modes: A is one row per file, C is one row per study_uid with an
// aggregated file count.
const (
	ModeA = "A"
	ModeC = "C"
)

var reportFieldsA = []string{
	"run_id", "file_path", "sop_instance_uid", "nome_paciente",
	"data_nascimento", "prontuario", "accession_number", "sexo",
	"data_exame", "descricao_exame", "study_uid", "status",
}

var reportFieldsC = []string{
	"run_id", "study_uid", "nome_paciente", "data_nascimento", "prontuario",
	"accession_number", "sexo", "data_exame", "descricao_exame", "status",
	"total_arquivos",
}

// patientFields are the C-mode columns filled from the first file of the
// study that carries a value.
var patientFields = []string{
	"nome_paciente", "data_nascimento", "prontuario", "accession_number",
	"sexo", "data_exame", "descricao_exame",
}

// Result summarizes one report export.
type Result struct {
	RunID      string
	Mode       string
	ReportFile string
	Rows       int
	OK         int
	Erro       int
}

// Workflow exports validation reports for a run.
type Workflow struct {
	Cfg     *config.Config
	Stream  *progress.Stream
	Metrics *observability.WorkflowMetrics
}

func (w *Workflow) logf(format string, args ...any) {
	w.Stream.Log(fmt.Sprintf(format, args...))
}

// iuidLookup carries the REST view of one IUID for row assembly.
type iuidLookup struct {
	fields     map[string]string
	status     string
	httpStatus string
	detail     string
}

// Run exports the full validation report for the run in the given mode.
func (w *Workflow) Run(ctx context.Context, runsBase, runID, reportMode string) (*Result, error) {
	started := time.Now()

	run := strings.TrimSpace(runID)
	if run == "" {
		return nil, fmt.Errorf("run_id is required for report export")
	}

	mode := strings.ToUpper(strings.TrimSpace(reportMode))
	if mode == "" {
		mode = ModeA
	}

	if mode != ModeA && mode != ModeC {
		return nil, fmt.Errorf("invalid report mode: %s", reportMode)
	}

	runDir := filepath.Join(runsBase, run)
	if _, err := os.Stat(runDir); err != nil {
		return nil, fmt.Errorf("run not found: %s", runDir)
	}

	w.Stream.Log("[RUN_LAYOUT] mode=report_export layout=core|telemetry|reports")

	writeOpt := artifacts.ResolveOption{ForWrite: true, Logf: w.logf}

	sendResultsPath, err := artifacts.Resolve(runDir, artifacts.SendResultsByFile, writeOpt)
	if err != nil {
		return nil, err
	}

	if _, statErr := os.Stat(sendResultsPath); statErr != nil {
		return nil, fmt.Errorf("send results not found: %s", sendResultsPath)
	}

	legacyMapPath, err := artifacts.Resolve(runDir, artifacts.LegacyFileIUIDMap, artifacts.ResolveOption{Logf: w.logf})
	if err != nil {
		return nil, err
	}

	sendRows, err := artifacts.ReadRows(sendResultsPath)
	if err != nil {
		return nil, err
	}

	mapByFile := artifacts.BuildIUIDMap(sendRows)
	_ = artifacts.MergeIUIDMapFromLegacyFile(mapByFile, legacyMapPath)

	var sentOKRows []artifacts.Row

	for _, row := range sendRows {
		if row["send_status"] == artifacts.SendStatusSentOK {
			sentOKRows = append(sentOKRows, row)
		}
	}

	if len(sentOKRows) == 0 {
		return nil, fmt.Errorf("no SENT_OK files found to export")
	}

	driver, err := toolkit.ForToolkit(w.Cfg.Toolkit)
	if err != nil {
		return nil, err
	}

	type reportRecord struct {
		filePath string
		iuid     string
	}

	var records []reportRecord

	updates := make(map[string]artifacts.IUIDEntry)

	for _, row := range sentOKRows {
		fp := strings.TrimSpace(row["file_path"])
		if fp == "" {
			continue
		}

		iuid := mapByFile[fp].SOPInstanceUID

		// On-demand backfill: files sent before realtime IUID capture existed
		// can still be reported after one metadata extraction.
		if iuid == "" {
			meta, metaErr := driver.ExtractMetadata(ctx, w.Cfg, fp)
			if metaErr == nil && meta.IUID != "" {
				iuid = meta.IUID

				entry := artifacts.IUIDEntry{
					SOPInstanceUID: meta.IUID,
					SourceTSUID:    meta.TSUID,
					SourceTSName:   meta.TSName,
					ExtractStatus:  artifacts.ExtractReportExportOK,
				}
				mapByFile[fp] = entry
				updates[fp] = entry
			} else {
				reason := "desconhecido"
				if metaErr != nil {
					reason = metaErr.Error()
				}

				w.logf("[WARN] IUID ausente para arquivo no relatorio: %s | erro=%s", fp, reason)
			}
		}

		records = append(records, reportRecord{filePath: fp, iuid: iuid})
	}

	if updated, updErr := artifacts.ApplySendResultUpdates(sendResultsPath, run, updates); updErr == nil && updated > 0 {
		w.logf("[CORE_COMPACT] send_results_by_file atualizado com IUID para %d arquivo(s).", updated)
	}

	uniqueSet := make(map[string]struct{})

	for _, rec := range records {
		if rec.iuid != "" {
			uniqueSet[rec.iuid] = struct{}{}
		}
	}

	uniqueIUIDs := make([]string, 0, len(uniqueSet))
	for iuid := range uniqueSet {
		uniqueIUIDs = append(uniqueIUIDs, iuid)
	}

	sort.Strings(uniqueIUIDs)

	w.logf("[REPORT_EXPORT] Modo %s | IUIDs unicos para consulta: %d", mode, len(uniqueIUIDs))

	client := pacsrest.NewClient(w.Cfg.PACSRESTHost, w.Cfg.AETDest)

	iuidData := make(map[string]iuidLookup, len(uniqueIUIDs))

	for done, iuid := range uniqueIUIDs {
		if ctx.Err() != nil {
			return nil, workflows.ErrCancelled
		}

		lookup := client.LookupInstance(ctx, iuid)

		status := "ERRO"
		if lookup.Found {
			status = "OK"
		}

		iuidData[iuid] = iuidLookup{
			fields:     lookup.Dataset.ReportFields(),
			status:     status,
			httpStatus: lookup.HTTPStatus,
			detail:     lookup.Detail,
		}

		if (done+1)%100 == 0 {
			w.logf("[REPORT_EXPORT_PROGRESS] %d/%d IUIDs consultados", done+1, len(uniqueIUIDs))
		}
	}

	var rowsA []artifacts.Row

	for _, rec := range records {
		data, ok := iuidData[rec.iuid]
		if rec.iuid == "" || !ok {
			data = iuidLookup{
				fields: pacsrest.Dataset{}.ReportFields(),
				status: "ERRO",
				detail: "IUID ausente",
			}
		}

		row := artifacts.Row{
			"run_id":           run,
			"file_path":        rec.filePath,
			"sop_instance_uid": rec.iuid,
			"status":           data.status,
		}
		for k, v := range data.fields {
			row[k] = v
		}

		rowsA = append(rowsA, row)
	}

	reportName := artifacts.FullReportA
	fields := reportFieldsA
	outRows := rowsA

	if mode == ModeC {
		reportName = artifacts.FullReportC
		fields = reportFieldsC
		outRows = groupByStudy(run, rowsA)
	}

	reportPath, err := artifacts.Resolve(runDir, reportName,
		artifacts.ResolveOption{ForWrite: true, DropLegacyOnWrite: true, Logf: w.logf})
	if err != nil {
		return nil, err
	}

	if err = artifacts.WriteTable(reportPath, outRows, fields); err != nil {
		return nil, err
	}

	statusOK := 0

	for _, row := range outRows {
		if row["status"] == "OK" {
			statusOK++
		}
	}

	statusErr := len(outRows) - statusOK

	w.logf("[REPORT_EXPORT] Relatorio %s exportado: %s | linhas=%d ok=%d erro=%d",
		mode, reportPath, len(outRows), statusOK, statusErr)

	w.Metrics.RecordWorkflow(ctx, "report", mode, time.Since(started))

	return &Result{
		RunID:      run,
		Mode:       mode,
		ReportFile: reportPath,
		Rows:       len(outRows),
		OK:         statusOK,
		Erro:       statusErr,
	}, nil
}

// groupByStudy collapses A-mode rows into one row per study_uid. Rows without
// a study keep their own synthetic key so errors stay visible per file.
func groupByStudy(run string, rowsA []artifacts.Row) []artifacts.Row {
	grouped := make(map[string]artifacts.Row)

	for _, row := range rowsA {
		studyUID := strings.TrimSpace(row["study_uid"])

		key := studyUID
		if key == "" {
			key = "__ERRO__" + strings.TrimSpace(row["sop_instance_uid"])
			if key == "__ERRO__" {
				key = "__ERRO__" + strings.TrimSpace(row["file_path"])
			}
		}

		agg, ok := grouped[key]
		if !ok {
			agg = artifacts.Row{
				"run_id":         run,
				"study_uid":      studyUID,
				"status":         "OK",
				"total_arquivos": "0",
			}
			grouped[key] = agg
		}

		count := 0
		fmt.Sscanf(agg["total_arquivos"], "%d", &count)
		agg["total_arquivos"] = fmt.Sprintf("%d", count+1)

		for _, f := range patientFields {
			if agg[f] == "" {
				agg[f] = row[f]
			}
		}

		if agg["study_uid"] == "" {
			agg["study_uid"] = studyUID
		}

		if row["status"] == "ERRO" {
			agg["status"] = "ERRO"
		}
	}

	out := make([]artifacts.Row, 0, len(grouped))
	for _, agg := range grouped {
		out = append(out, agg)
	}

	sort.Slice(out, func(i, j int) bool { return out[i]["study_uid"] < out[j]["study_uid"] })

	return out
}
