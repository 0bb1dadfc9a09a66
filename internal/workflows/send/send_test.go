package send

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hmd-tools/pacsflow/internal/artifacts"
	"github.com/hmd-tools/pacsflow/internal/checkpoint"
	"github.com/hmd-tools/pacsflow/internal/config"
	"github.com/hmd-tools/pacsflow/internal/runclock"
	"github.com/hmd-tools/pacsflow/internal/toolkit"
)

func writeScript(t *testing.T, path, body string) {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
}

// makeDcmtkBin lays out a fake dcmtk bin directory whose storescu replays a
// canned output file and whose dcmdump prints nothing.
func makeDcmtkBin(t *testing.T, storescuBody string) string {
	t.Helper()

	binDir := filepath.Join(t.TempDir(), "bin")
	writeScript(t, filepath.Join(binDir, "storescu"), storescuBody)
	writeScript(t, filepath.Join(binDir, "dcmdump"), "exit 0\n")

	return binDir
}

// makeDcm4cheBin lays out a fake dcm4che root: bin scripts plus the critical
// jars the health-check demands. dcmdump echoes the file's own content, so
// test files carry their dump text.
func makeDcm4cheBin(t *testing.T, storescuBody string) string {
	t.Helper()

	root := filepath.Join(t.TempDir(), "dcm4che-5.33.1")
	binDir := filepath.Join(root, "bin")

	writeScript(t, filepath.Join(binDir, "storescu"), storescuBody)
	writeScript(t, filepath.Join(binDir, "dcmdump"), `cat "$1"`+"\n")

	libDir := filepath.Join(root, "lib")
	require.NoError(t, os.MkdirAll(libDir, 0o755))

	for _, jar := range []string{
		"dcm4che-tool-storescu-5.33.1.jar", "dcm4che-tool-common-5.33.1.jar",
		"dcm4che-net-5.33.1.jar", "dcm4che-core-5.33.1.jar",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(libDir, jar), nil, 0o644))
	}

	return binDir
}

func writeManifest(t *testing.T, runDir, run string, files []string) {
	t.Helper()

	rows := make([]artifacts.Row, 0, len(files))
	for _, fp := range files {
		rows = append(rows, artifacts.Row{
			"run_id":            run,
			"file_path":         fp,
			"folder_path":       filepath.Dir(fp),
			"selected_for_send": "1",
		})
	}

	path := filepath.Join(runDir, artifacts.SubdirCore, artifacts.ManifestFiles)
	require.NoError(t, artifacts.WriteTable(path, rows, []string{"run_id", "file_path", "folder_path", "selected_for_send"}))
}

func makeExamFiles(t *testing.T, contents map[string]string) (string, []string) {
	t.Helper()

	examRoot := t.TempDir()

	names := make([]string, 0, len(contents))
	for name := range contents {
		names = append(names, name)
	}

	// Stable manifest order independent of map iteration.
	sortStrings(names)

	paths := make([]string, 0, len(names))

	for _, name := range names {
		p := filepath.Join(examRoot, name)
		require.NoError(t, os.WriteFile(p, []byte(contents[name]), 0o644))
		paths = append(paths, p)
	}

	return examRoot, paths
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j] < s[j-1]; j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}

func readRunArtifact(t *testing.T, runDir, name string) []artifacts.Row {
	t.Helper()

	path, err := artifacts.Resolve(runDir, name, artifacts.ResolveOption{})
	require.NoError(t, err)

	rows, err := artifacts.ReadRows(path)
	require.NoError(t, err)

	return rows
}

func resultsByFile(rows []artifacts.Row) map[string]artifacts.Row {
	out := make(map[string]artifacts.Row, len(rows))
	for _, row := range rows {
		out[row["file_path"]] = row
	}

	return out
}

func dcm4cheAssociationOutput(iuidStatus [][2]string) string {
	var b strings.Builder

	for i, pair := range iuidStatus {
		fmt.Fprintf(&b, "10:15:01,100 INFO  - STORESCU->DST(1) << %d:C-STORE-RQ[pcid=1, prior=0\n", i+1)
		b.WriteString("  cuid=1.2.840.10008.5.1.4.1.1.2 - CT Image Storage\n")
		fmt.Fprintf(&b, "  iuid=%s - ?\n", pair[0])
		b.WriteString("  tsuid=1.2.840.10008.1.2.1 - Explicit VR Little Endian]\n")
		fmt.Fprintf(&b, "10:15:01,180 INFO  - STORESCU->DST(1) >> %d:C-STORE-RSP[pcid=1, status=%s\n", i+1, pair[1])
		b.WriteString("  cuid=1.2.840.10008.5.1.4.1.1.2 - CT Image Storage\n")
		fmt.Fprintf(&b, "  iuid=%s - ?]\n", pair[0])
	}

	return b.String()
}

func TestWorkflow_Run_Dcm4cheMixedResponses(t *testing.T) {
	t.Parallel()

	_, files := makeExamFiles(t, map[string]string{
		"a.dcm": "(0008,0018) UI [1.2.3.1]\n(0002,0010) UI [1.2.840.10008.1.2.1]",
		"b.dcm": "(0008,0018) UI [1.2.3.2]\n(0002,0010) UI [1.2.840.10008.1.2.1]",
		"c.dcm": "(0008,0018) UI [1.2.3.3]\n(0002,0010) UI [1.2.840.10008.1.2.1]",
	})

	output := dcm4cheAssociationOutput([][2]string{
		{"1.2.3.1", "0H"}, {"1.2.3.2", "0H"}, {"1.2.3.3", "A700H"},
	})

	outputFile := filepath.Join(t.TempDir(), "output.txt")
	require.NoError(t, os.WriteFile(outputFile, []byte(output), 0o644))

	binDir := makeDcm4cheBin(t, `cat "`+outputFile+`"`+"\n")

	cfg := &config.Config{
		Toolkit:                 runclock.ToolkitDcm4che,
		AETSource:               "SRC",
		AETDest:                 "DST",
		PACSHost:                "127.0.0.1",
		PACSPort:                104,
		TSMode:                  "AUTO",
		Dcm4cheSendMode:         runclock.SendModeManifestFiles,
		Dcm4cheIUIDUpdateMode:   runclock.IUIDUpdateRealtime,
		Dcm4cheUseShellWrapper:  false,
		Dcm4chePreferJavaDirect: false,
		Dcm4cheBinPath:          binDir,
	}

	runsBase := t.TempDir()
	run := "mix_dcm4che_files"
	runDir := filepath.Join(runsBase, run)
	writeManifest(t, runDir, run, files)

	wf := &Workflow{Cfg: cfg}

	result, err := wf.Run(context.Background(), runsBase, run, 10)
	require.NoError(t, err)

	assert.Equal(t, artifacts.SummaryFail, result.Status)
	assert.Equal(t, 2, result.SentOK)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 3, result.ItemsProcessed)

	rows := resultsByFile(readRunArtifact(t, runDir, artifacts.SendResultsByFile))
	require.Len(t, rows, 3)

	okRow := rows[files[0]]
	assert.Equal(t, artifacts.SendStatusSentOK, okRow["send_status"])
	assert.Equal(t, "1.2.3.1", okRow["sop_instance_uid"])
	assert.Equal(t, artifacts.ExtractOKFromStorescuRT, okRow["extract_status"])

	errRow := rows[files[2]]
	assert.Equal(t, artifacts.SendStatusSendFail, errRow["send_status"])
	assert.Contains(t, errRow["status_detail"], "rsp_status=A700H")
	assert.Equal(t, artifacts.ExtractErrFromStorescuRT, errRow["extract_status"])
}

func TestWorkflow_Run_Dcm4cheProcessExitFail(t *testing.T) {
	t.Parallel()

	_, files := makeExamFiles(t, map[string]string{
		"a.dcm": "(0008,0018) UI [1.2.9.1]",
		"b.dcm": "(0008,0018) UI [1.2.9.2]",
	})

	binDir := makeDcm4cheBin(t, "exit 2\n")

	cfg := &config.Config{
		Toolkit:                 runclock.ToolkitDcm4che,
		AETSource:               "SRC",
		AETDest:                 "DST",
		PACSHost:                "127.0.0.1",
		PACSPort:                104,
		TSMode:                  "AUTO",
		Dcm4cheSendMode:         runclock.SendModeManifestFiles,
		Dcm4cheIUIDUpdateMode:   runclock.IUIDUpdateRealtime,
		Dcm4chePreferJavaDirect: false,
		Dcm4cheBinPath:          binDir,
	}

	runsBase := t.TempDir()
	run := "exit2_dcm4che_files"
	runDir := filepath.Join(runsBase, run)
	writeManifest(t, runDir, run, files)

	wf := &Workflow{Cfg: cfg}

	result, err := wf.Run(context.Background(), runsBase, run, 10)
	require.NoError(t, err)

	assert.Equal(t, artifacts.SummaryFail, result.Status)
	assert.Equal(t, 2, result.Failed)

	for _, row := range readRunArtifact(t, runDir, artifacts.SendResultsByFile) {
		assert.Equal(t, artifacts.SendStatusSendFail, row["send_status"])
		assert.Equal(t, artifacts.ExtractProcessExitFail, row["extract_status"])
		assert.Contains(t, row["status_detail"], "exit_code=2")
	}
}

func dcmtkTestConfig(binDir string) *config.Config {
	return &config.Config{
		Toolkit:      runclock.ToolkitDcmtk,
		AETSource:    "SRC",
		AETDest:      "DST",
		PACSHost:     "127.0.0.1",
		PACSPort:     104,
		TSMode:       "AUTO",
		DcmtkBinPath: binDir,
	}
}

func dcmtkSuccessOutput(files []string) string {
	var b strings.Builder

	for _, fp := range files {
		b.WriteString("I: Sending file: " + fp + "\n")
		b.WriteString("I: Received Store Response (Success)\n")
	}

	return b.String()
}

func TestWorkflow_Run_DcmtkCompletes(t *testing.T) {
	t.Parallel()

	_, files := makeExamFiles(t, map[string]string{
		"a.dcm": "A", "b.dcm": "B", "c.dcm": "C",
	})

	outputFile := filepath.Join(t.TempDir(), "output.txt")
	require.NoError(t, os.WriteFile(outputFile, []byte(dcmtkSuccessOutput(files)), 0o644))

	binDir := makeDcmtkBin(t, `cat "`+outputFile+`"`+"\n")
	cfg := dcmtkTestConfig(binDir)

	runsBase := t.TempDir()
	run := "done_dcmtk"
	runDir := filepath.Join(runsBase, run)
	writeManifest(t, runDir, run, files)

	wf := &Workflow{Cfg: cfg}

	result, err := wf.Run(context.Background(), runsBase, run, 2)
	require.NoError(t, err)

	assert.Equal(t, artifacts.SummaryPass, result.Status)
	assert.Equal(t, 3, result.SentOK)
	assert.Zero(t, result.Failed)

	state, ok := checkpoint.NewStore(filepath.Join(runDir, artifacts.SubdirCore, "send_checkpoint_dcmtk.json")).Load()
	require.True(t, ok)
	assert.Equal(t, 3, state.DoneFiles)

	// A second invocation has nothing pending and skips without touching
	// the results.
	again, err := wf.Run(context.Background(), runsBase, run, 2)
	require.NoError(t, err)
	assert.Equal(t, artifacts.SummaryAlreadySentPass, again.Status)
	assert.Len(t, readRunArtifact(t, runDir, artifacts.SendResultsByFile), 3)
}

func TestWorkflow_Run_DcmtkCancelAndResume(t *testing.T) {
	t.Parallel()

	contents := make(map[string]string, 10)
	for i := 0; i < 10; i++ {
		contents[fmt.Sprintf("f%02d.dcm", i)] = "X"
	}

	_, files := makeExamFiles(t, contents)

	outputFile := filepath.Join(t.TempDir(), "output.txt")
	require.NoError(t, os.WriteFile(outputFile, []byte(dcmtkSuccessOutput(files[:4])), 0o644))

	binDir := makeDcmtkBin(t, `cat "`+outputFile+`"`+"\nsleep 30\n")
	cfg := dcmtkTestConfig(binDir)

	runsBase := t.TempDir()
	run := "resume_dcmtk"
	runDir := filepath.Join(runsBase, run)
	writeManifest(t, runDir, run, files)

	wf := &Workflow{Cfg: cfg}

	ctx, cancel := context.WithTimeout(context.Background(), 1500*time.Millisecond)
	defer cancel()

	result, err := wf.Run(ctx, runsBase, run, 20)
	require.NoError(t, err)
	assert.Equal(t, artifacts.SummaryInterrupted, result.Status)

	state, ok := checkpoint.NewStore(filepath.Join(runDir, artifacts.SubdirCore, "send_checkpoint_dcmtk.json")).Load()
	require.True(t, ok)
	assert.Equal(t, 4, state.DoneFiles)
	assert.Len(t, readRunArtifact(t, runDir, artifacts.SendResultsByFile), 4)

	// Resume with the child now settling the remaining six files.
	require.NoError(t, os.WriteFile(outputFile, []byte(dcmtkSuccessOutput(files[4:])), 0o644))
	writeScript(t, filepath.Join(binDir, "storescu"), `cat "`+outputFile+`"`+"\n")

	resumed, err := wf.Run(context.Background(), runsBase, run, 20)
	require.NoError(t, err)

	assert.Equal(t, artifacts.SummaryPass, resumed.Status)
	assert.Equal(t, 10, resumed.ItemsProcessed)
	assert.Equal(t, 10, resumed.SentOK)

	rows := readRunArtifact(t, runDir, artifacts.SendResultsByFile)
	assert.Len(t, rows, 10)

	byFile := resultsByFile(rows)
	for _, fp := range files {
		require.Contains(t, byFile, fp)
		assert.Equal(t, artifacts.SendStatusSentOK, byFile[fp]["send_status"])
	}

	// Resumed rows continue the chunk numbering past the first invocation.
	assert.Equal(t, "2", byFile[files[9]]["chunk_no"])
}

func TestWorkflow_Run_DcmtkBadFileWarns(t *testing.T) {
	t.Parallel()

	_, files := makeExamFiles(t, map[string]string{"a.dcm": "A", "junk.dcm": "J"})

	var output strings.Builder
	output.WriteString("I: Sending file: " + files[0] + "\n")
	output.WriteString("I: Received Store Response (Success)\n")
	output.WriteString("E: Bad DICOM file: " + files[1] + ": reading meta header\n")

	outputFile := filepath.Join(t.TempDir(), "output.txt")
	require.NoError(t, os.WriteFile(outputFile, []byte(output.String()), 0o644))

	binDir := makeDcmtkBin(t, `cat "`+outputFile+`"`+"\n")
	cfg := dcmtkTestConfig(binDir)

	runsBase := t.TempDir()
	run := "badfile_dcmtk"
	runDir := filepath.Join(runsBase, run)
	writeManifest(t, runDir, run, files)

	wf := &Workflow{Cfg: cfg}

	result, err := wf.Run(context.Background(), runsBase, run, 10)
	require.NoError(t, err)

	assert.Equal(t, artifacts.SummaryPassWithWarnings, result.Status)
	assert.Equal(t, 1, result.SentOK)
	assert.Equal(t, 1, result.Warnings)

	byFile := resultsByFile(readRunArtifact(t, runDir, artifacts.SendResultsByFile))
	assert.Equal(t, artifacts.SendStatusNonDICOM, byFile[files[1]]["send_status"])
	assert.Equal(t, "reading meta header", byFile[files[1]]["status_detail"])
}

func TestWorkflow_Run_InputValidation(t *testing.T) {
	t.Parallel()

	cfg := dcmtkTestConfig(makeDcmtkBin(t, "exit 0\n"))
	wf := &Workflow{Cfg: cfg}

	_, err := wf.Run(context.Background(), t.TempDir(), "", 10)
	require.ErrorContains(t, err, "run_id is required")

	_, err = wf.Run(context.Background(), t.TempDir(), "missing_dcmtk", 10)
	require.ErrorContains(t, err, "run not found")

	runsBase := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(runsBase, "empty_dcmtk"), 0o755))

	_, err = wf.Run(context.Background(), runsBase, "empty_dcmtk", 0)
	require.ErrorIs(t, err, config.ErrBatchSize)

	_, err = wf.Run(context.Background(), runsBase, "empty_dcmtk", 10)
	require.ErrorContains(t, err, "manifest not found")
}

func TestSplitByCmdLimit(t *testing.T) {
	t.Parallel()

	binDir := makeDcm4cheBin(t, "exit 0\n")

	cfg := &config.Config{
		Toolkit:                runclock.ToolkitDcm4che,
		AETSource:              "SRC",
		AETDest:                "DST",
		PACSHost:               "127.0.0.1",
		PACSPort:               104,
		Dcm4cheUseShellWrapper: true,
		Dcm4cheBinPath:         binDir,
	}

	wf := &Workflow{Cfg: cfg}
	d4 := &toolkit.Dcm4cheDriver{}

	long := strings.Repeat("x", 700)

	units := make([]string, 20)
	for i := range units {
		units[i] = fmt.Sprintf("/exams/%s/%03d.dcm", long, i)
	}

	batches, budget, maxLen, err := wf.splitByCmdLimit(d4, units)
	require.NoError(t, err)

	assert.Equal(t, toolkit.ShellWrapperCmdBudget, budget)
	assert.Greater(t, len(batches), 1)
	assert.GreaterOrEqual(t, maxLen, budget)

	// Re-splitting preserves order and loses nothing.
	var flat []string
	for _, batch := range batches {
		flat = append(flat, batch...)

		cmd, cmdErr := d4.SendCommand(cfg, batch, "")
		require.NoError(t, cmdErr)
		assert.LessOrEqual(t, toolkit.CommandLineLength(cmd), budget)
	}

	assert.Equal(t, units, flat)
}
