package report

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hmd-tools/pacsflow/internal/artifacts"
	"github.com/hmd-tools/pacsflow/internal/config"
	"github.com/hmd-tools/pacsflow/internal/runclock"
)

var sendResultFields = []string{
	"run_id", "file_path", "chunk_no", "toolkit", "ts_mode", "send_status",
	"status_detail", "sop_instance_uid", "source_ts_uid", "source_ts_name",
	"extract_status", "processed_at",
}

func seedSendResults(t *testing.T, runDir, run string, rows []artifacts.Row) {
	t.Helper()

	for _, row := range rows {
		row["run_id"] = run
	}

	path := filepath.Join(runDir, artifacts.SubdirCore, artifacts.SendResultsByFile)
	require.NoError(t, artifacts.WriteTable(path, rows, sendResultFields))
}

func patientDataset(name, studyUID string) map[string]any {
	return map[string]any{
		"00100010": map[string]any{"vr": "PN", "Value": []any{map[string]any{"Alphabetic": name}}},
		"00100020": map[string]any{"vr": "LO", "Value": []any{"12345"}},
		"00080020": map[string]any{"vr": "DA", "Value": []any{"20240115"}},
		"0020000D": map[string]any{"vr": "UI", "Value": []any{studyUID}},
	}
}

func archiveStub(t *testing.T, datasets map[string]map[string]any) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ds, ok := datasets[r.URL.Query().Get("SOPInstanceUID")]
		if !ok {
			_, _ = w.Write([]byte("[]"))

			return
		}

		require.NoError(t, json.NewEncoder(w).Encode([]map[string]any{ds}))
	}))
	t.Cleanup(srv.Close)

	return srv
}

func reportConfig(srv *httptest.Server) *config.Config {
	return &config.Config{
		Toolkit:      runclock.ToolkitDcmtk,
		AETSource:    "SRC",
		AETDest:      "DST",
		PACSHost:     "127.0.0.1",
		PACSPort:     104,
		PACSRESTHost: strings.TrimPrefix(srv.URL, "http://"),
	}
}

func TestWorkflow_Run_ModeA(t *testing.T) {
	t.Parallel()

	srv := archiveStub(t, map[string]map[string]any{
		"1.2.3.1": patientDataset("DOE^JOHN", "1.9.9.1"),
		"1.2.3.2": patientDataset("DOE^JOHN", "1.9.9.1"),
	})

	runsBase := t.TempDir()
	run := "repa_dcmtk"
	runDir := filepath.Join(runsBase, run)

	seedSendResults(t, runDir, run, []artifacts.Row{
		{"file_path": "/x/a.dcm", "send_status": "SENT_OK", "sop_instance_uid": "1.2.3.1"},
		{"file_path": "/x/b.dcm", "send_status": "SENT_OK", "sop_instance_uid": "1.2.3.2"},
		{"file_path": "/x/skip.dcm", "send_status": "SEND_FAIL", "sop_instance_uid": ""},
	})

	wf := &Workflow{Cfg: reportConfig(srv)}

	result, err := wf.Run(context.Background(), runsBase, run, "a")
	require.NoError(t, err)

	assert.Equal(t, ModeA, result.Mode)
	assert.Equal(t, 2, result.Rows)
	assert.Equal(t, 2, result.OK)
	assert.Zero(t, result.Erro)

	rows, err := artifacts.ReadRows(filepath.Join(runDir, artifacts.SubdirReports, artifacts.FullReportA))
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "/x/a.dcm", rows[0]["file_path"])
	assert.Equal(t, "DOE^JOHN", rows[0]["nome_paciente"])
	assert.Equal(t, "12345", rows[0]["prontuario"])
	assert.Equal(t, "1.9.9.1", rows[0]["study_uid"])
	assert.Equal(t, "OK", rows[0]["status"])
}

func TestWorkflow_Run_ModeCGroupsByStudy(t *testing.T) {
	t.Parallel()

	srv := archiveStub(t, map[string]map[string]any{
		"1.2.3.1": patientDataset("DOE^JOHN", "1.9.9.1"),
		"1.2.3.2": patientDataset("DOE^JOHN", "1.9.9.1"),
		"1.2.3.3": patientDataset("ROE^JANE", "1.9.9.2"),
	})

	runsBase := t.TempDir()
	run := "repc_dcmtk"
	runDir := filepath.Join(runsBase, run)

	seedSendResults(t, runDir, run, []artifacts.Row{
		{"file_path": "/x/a.dcm", "send_status": "SENT_OK", "sop_instance_uid": "1.2.3.1"},
		{"file_path": "/x/b.dcm", "send_status": "SENT_OK", "sop_instance_uid": "1.2.3.2"},
		{"file_path": "/x/c.dcm", "send_status": "SENT_OK", "sop_instance_uid": "1.2.3.3"},
	})

	wf := &Workflow{Cfg: reportConfig(srv)}

	result, err := wf.Run(context.Background(), runsBase, run, ModeC)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Rows)
	assert.Equal(t, 2, result.OK)

	rows, err := artifacts.ReadRows(filepath.Join(runDir, artifacts.SubdirReports, artifacts.FullReportC))
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "1.9.9.1", rows[0]["study_uid"])
	assert.Equal(t, "2", rows[0]["total_arquivos"])
	assert.Equal(t, "DOE^JOHN", rows[0]["nome_paciente"])
	assert.Equal(t, "1.9.9.2", rows[1]["study_uid"])
	assert.Equal(t, "1", rows[1]["total_arquivos"])
}

func TestWorkflow_Run_MissingIUIDRowsAreErro(t *testing.T) {
	t.Parallel()

	srv := archiveStub(t, map[string]map[string]any{
		"1.2.3.1": patientDataset("DOE^JOHN", "1.9.9.1"),
	})

	runsBase := t.TempDir()
	run := "reperr_dcmtk"
	runDir := filepath.Join(runsBase, run)

	// The second file has no IUID and no dcmdump is available to backfill it.
	seedSendResults(t, runDir, run, []artifacts.Row{
		{"file_path": "/x/a.dcm", "send_status": "SENT_OK", "sop_instance_uid": "1.2.3.1"},
		{"file_path": "/x/b.dcm", "send_status": "SENT_OK", "sop_instance_uid": ""},
	})

	wf := &Workflow{Cfg: reportConfig(srv)}

	result, err := wf.Run(context.Background(), runsBase, run, ModeA)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Rows)
	assert.Equal(t, 1, result.OK)
	assert.Equal(t, 1, result.Erro)

	rows, readErr := artifacts.ReadRows(filepath.Join(runDir, artifacts.SubdirReports, artifacts.FullReportA))
	require.NoError(t, readErr)

	var missing artifacts.Row
	for _, row := range rows {
		if row["file_path"] == "/x/b.dcm" {
			missing = row
		}
	}

	require.NotNil(t, missing)
	assert.Equal(t, "ERRO", missing["status"])
	assert.Empty(t, missing["sop_instance_uid"])
}

func TestWorkflow_Run_InputValidation(t *testing.T) {
	t.Parallel()

	srv := archiveStub(t, nil)
	wf := &Workflow{Cfg: reportConfig(srv)}

	_, err := wf.Run(context.Background(), t.TempDir(), "", ModeA)
	require.ErrorContains(t, err, "run_id is required")

	runsBase := t.TempDir()
	run := "repval_dcmtk"
	runDir := filepath.Join(runsBase, run)

	seedSendResults(t, runDir, run, []artifacts.Row{
		{"file_path": "/x/a.dcm", "send_status": "SEND_FAIL"},
	})

	_, err = wf.Run(context.Background(), runsBase, run, "B")
	require.ErrorContains(t, err, "invalid report mode")

	_, err = wf.Run(context.Background(), runsBase, run, ModeA)
	require.ErrorContains(t, err, "no SENT_OK files")
}
