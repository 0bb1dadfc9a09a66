// Package artifacts manages the on-disk run directory: the categorized
// core/telemetry/reports layout with legacy-flat fallback, the semicolon CSV
// dialect shared by every artifact, and the telemetry event stream.
package artifacts

import (
	"fmt"
	"os"
	"path/filepath"
)

// Run subdirectories of the categorized layout.
const (
	SubdirCore      = "core"
	SubdirTelemetry = "telemetry"
	SubdirReports   = "reports"
)

// Well-known artifact filenames.
const (
	ManifestFiles        = "manifest_files.csv"
	ManifestFolders      = "manifest_folders.csv"
	AnalysisSummary      = "analysis_summary.csv"
	SendResultsByFile    = "send_results_by_file.csv"
	SendSummary          = "send_summary.csv"
	ValidationResults    = "validation_results.csv"
	Events               = "events.csv"
	StorescuLog          = "storescu_execucao.log"
	ReconciliationReport = "reconciliation_report.csv"
	FullReportA          = "validation_full_report_A.csv"
	FullReportC          = "validation_full_report_C.csv"

	// Legacy artifacts kept only for cleanup and read fallback.
	LegacyFileIUIDMap        = "file_iuid_map.csv"
	LegacyValidationByIUID   = "validation_by_iuid.csv"
	LegacyValidationByFile   = "validation_by_file.csv"
	LegacyCheckpoint         = "send_checkpoint.json"
	LegacyAnalysisEvents     = "analysis_events.csv"
	LegacySendEvents         = "send_events.csv"
	LegacySendErrors         = "send_errors.csv"
	LegacyConsistencyEvents  = "consistency_events.csv"
)

// artifactSubdir maps each known artifact to its categorized subdirectory.
// Unknown names default to core.
var artifactSubdir = map[string]string{
	ManifestFolders:   SubdirCore,
	ManifestFiles:     SubdirCore,
	AnalysisSummary:   SubdirCore,
	SendResultsByFile: SubdirCore,
	SendSummary:       SubdirCore,
	ValidationResults: SubdirCore,

	LegacyFileIUIDMap:      SubdirCore,
	LegacyValidationByIUID: SubdirCore,
	LegacyValidationByFile: SubdirCore,
	LegacyCheckpoint:       SubdirCore,
	"send_checkpoint_dcm4che_folders.json": SubdirCore,
	"send_checkpoint_dcm4che_files.json":   SubdirCore,
	"send_checkpoint_dcmtk.json":           SubdirCore,

	Events:                  SubdirTelemetry,
	LegacyAnalysisEvents:    SubdirTelemetry,
	LegacySendEvents:        SubdirTelemetry,
	LegacySendErrors:        SubdirTelemetry,
	LegacyConsistencyEvents: SubdirTelemetry,
	StorescuLog:             SubdirTelemetry,

	ReconciliationReport: SubdirReports,
	FullReportA:          SubdirReports,
	FullReportC:          SubdirReports,
}

// Variants returns the categorized and legacy-flat paths for an artifact.
func Variants(runDir, name string) (categorized string, legacy string) {
	subdir, ok := artifactSubdir[name]
	if !ok {
		subdir = SubdirCore
	}

	return filepath.Join(runDir, subdir, name), filepath.Join(runDir, name)
}

// ResolveOption tunes Resolve behavior.
type ResolveOption struct {
	// ForWrite prepares the parent directory and applies the write-side
	// legacy-preservation rule.
	ForWrite bool

	// DropLegacyOnWrite disables legacy preservation for derived artifacts
	// (reports) so writes always land in the categorized layout.
	DropLegacyOnWrite bool

	// Logf receives one resolution trace line when non-nil.
	Logf func(format string, args ...any)
}

// Resolve maps an artifact name to its absolute path inside the run
// directory. Reads prefer the categorized path, then the legacy-flat path,
// then default to categorized. Writes keep appending to an existing legacy
// file (unless DropLegacyOnWrite) so in-flight runs stay consistent.
func Resolve(runDir, name string, opt ResolveOption) (string, error) {
	categorized, legacy := Variants(runDir, name)

	chosen := categorized
	source := "categorized_default"

	switch {
	case exists(categorized):
		chosen = categorized
		source = "categorized_existing"
	case exists(legacy) && (!opt.ForWrite || !opt.DropLegacyOnWrite):
		chosen = legacy
		source = "legacy_existing"
	}

	if opt.ForWrite {
		err := os.MkdirAll(filepath.Dir(chosen), 0o755)
		if err != nil {
			return "", fmt.Errorf("prepare artifact dir: %w", err)
		}
	}

	if opt.Logf != nil {
		mode := "read"
		if opt.ForWrite {
			mode = "write"
		}

		opt.Logf("[RUN_PATH_RESOLVE] mode=%s file=%s source=%s path=%s", mode, name, source, chosen)
	}

	return chosen, nil
}

// Cleanup removes both the categorized and legacy variants of an artifact.
func Cleanup(runDir, name string) error {
	categorized, legacy := Variants(runDir, name)

	for _, p := range []string{categorized, legacy} {
		err := os.Remove(p)
		if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("cleanup artifact %s: %w", name, err)
		}
	}

	return nil
}

// ResolveBatchArgsDir returns the batch_args directory, honoring an existing
// legacy-flat directory the same way Resolve does for files.
func ResolveBatchArgsDir(runDir string, forWrite bool, logf func(format string, args ...any)) (string, error) {
	categorized := filepath.Join(runDir, SubdirCore, "batch_args")
	legacy := filepath.Join(runDir, "batch_args")

	chosen := categorized
	source := "categorized_default"

	switch {
	case exists(categorized):
		source = "categorized_existing"
	case exists(legacy):
		chosen = legacy
		source = "legacy_existing"
	}

	if forWrite {
		err := os.MkdirAll(chosen, 0o755)
		if err != nil {
			return "", fmt.Errorf("prepare batch_args dir: %w", err)
		}
	}

	if logf != nil {
		mode := "read"
		if forWrite {
			mode = "write"
		}

		logf("[RUN_PATH_RESOLVE] mode=%s file=batch_args source=%s path=%s", mode, source, chosen)
	}

	return chosen, nil
}

// ChunkCommandsDir returns the telemetry directory holding per-chunk
// command traces.
func ChunkCommandsDir(runDir string) string {
	return filepath.Join(runDir, SubdirTelemetry, "chunk_commands")
}

func exists(path string) bool {
	_, err := os.Stat(path)

	return err == nil
}
