package runclock

import (
	"regexp"
	"strings"
)

// Toolkit families understood by the run-id suffix discipline.
const (
	ToolkitDcm4che = "dcm4che"
	ToolkitDcmtk   = "dcmtk"
)

// dcm4che send modes.
const (
	SendModeManifestFiles = "MANIFEST_FILES"
	SendModeFolders       = "FOLDERS"
)

// dcm4che IUID update modes.
const (
	IUIDUpdateRealtime = "REALTIME"
	IUIDUpdateChunkEnd = "CHUNK_END"
)

// knownRunSuffixes are stripped (repeatedly) before the correct suffix is
// appended, so normalization is idempotent and survives toolkit switches.
var knownRunSuffixes = []string{
	"_dcm4che_folders",
	"_dcm4che_files",
	"_dcm4che",
	"_dcmtk",
}

var nonAlnumRE = regexp.MustCompile(`[^a-z0-9]+`)

// NormalizeSendMode maps user input to a canonical dcm4che send mode.
func NormalizeSendMode(mode string) string {
	m := strings.ToUpper(strings.TrimSpace(mode))
	if m == "FILES" || m == SendModeManifestFiles {
		return SendModeManifestFiles
	}

	return SendModeFolders
}

// NormalizeIUIDUpdateMode maps user input to a canonical IUID update mode.
func NormalizeIUIDUpdateMode(mode string) string {
	m := strings.ToUpper(strings.TrimSpace(mode))
	if m == IUIDUpdateChunkEnd || m == "CHUNK" || m == "BATCH" {
		return IUIDUpdateChunkEnd
	}

	return IUIDUpdateRealtime
}

// ToolkitRunSuffix returns the run-id suffix encoding toolkit family and,
// for dcm4che, the send mode.
func ToolkitRunSuffix(toolkit, sendMode string) string {
	t := strings.ToLower(strings.TrimSpace(toolkit))

	switch t {
	case ToolkitDcm4che:
		if NormalizeSendMode(sendMode) == SendModeManifestFiles {
			return "dcm4che_files"
		}

		return "dcm4che_folders"
	case ToolkitDcmtk:
		return "dcmtk"
	}

	cleaned := strings.Trim(nonAlnumRE.ReplaceAllString(t, "_"), "_")
	if cleaned == "" {
		return "toolkit"
	}

	return cleaned
}

// StripKnownRunSuffixes removes every trailing toolkit suffix from a run id.
func StripKnownRunSuffixes(runID string) string {
	base := strings.TrimSpace(runID)
	if base == "" {
		return base
	}

	for changed := true; changed; {
		changed = false
		lower := strings.ToLower(base)

		for _, suffix := range knownRunSuffixes {
			if strings.HasSuffix(lower, suffix) {
				base = strings.TrimRight(base[:len(base)-len(suffix)], "_")
				changed = true

				break
			}
		}
	}

	return base
}

// NormalizeRunID strips any known toolkit suffix from raw and appends the
// one matching the given toolkit and send mode. Applying it twice with the
// same arguments yields the same value.
func NormalizeRunID(raw, toolkit, sendMode string) string {
	suffix := ToolkitRunSuffix(toolkit, sendMode)

	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return trimmed
	}

	base := StripKnownRunSuffixes(trimmed)
	if strings.HasSuffix(strings.ToLower(base), "_"+suffix) {
		return base
	}

	return base + "_" + suffix
}

// CheckpointFilename returns the per-toolkit/mode send checkpoint name, so
// switching drivers on the same run never conflates progress cursors.
func CheckpointFilename(toolkit, sendMode string) string {
	t := strings.ToLower(strings.TrimSpace(toolkit))

	switch t {
	case ToolkitDcm4che:
		if NormalizeSendMode(sendMode) == SendModeManifestFiles {
			return "send_checkpoint_dcm4che_files.json"
		}

		return "send_checkpoint_dcm4che_folders.json"
	case ToolkitDcmtk:
		return "send_checkpoint_dcmtk.json"
	}

	return "send_checkpoint_" + ToolkitRunSuffix(toolkit, sendMode) + ".json"
}
