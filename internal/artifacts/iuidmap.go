package artifacts

import "strings"

// IUIDEntry is the per-file identifier view carried by send result rows.
type IUIDEntry struct {
	SOPInstanceUID string
	SourceTSUID    string
	SourceTSName   string
	ExtractStatus  string
}

// BuildIUIDMap indexes send-result rows by file path, keeping only rows that
// carry a SOP Instance UID.
func BuildIUIDMap(sendRows []Row) map[string]IUIDEntry {
	out := make(map[string]IUIDEntry)

	for _, row := range sendRows {
		fp := strings.TrimSpace(row["file_path"])
		iuid := strings.TrimSpace(row["sop_instance_uid"])

		if fp == "" || iuid == "" {
			continue
		}

		out[fp] = IUIDEntry{
			SOPInstanceUID: iuid,
			SourceTSUID:    strings.TrimSpace(row["source_ts_uid"]),
			SourceTSName:   strings.TrimSpace(row["source_ts_name"]),
			ExtractStatus:  strings.TrimSpace(row["extract_status"]),
		}
	}

	return out
}

// MergeIUIDMapFromLegacyFile folds entries of the legacy file_iuid_map.csv
// into the map without overriding entries already present.
func MergeIUIDMapFromLegacyFile(mapByFile map[string]IUIDEntry, legacyPath string) error {
	rows, err := ReadRows(legacyPath)
	if err != nil {
		return err
	}

	for _, row := range rows {
		fp := strings.TrimSpace(row["file_path"])
		iuid := strings.TrimSpace(row["sop_instance_uid"])

		if fp == "" || iuid == "" {
			continue
		}

		if _, seen := mapByFile[fp]; seen {
			continue
		}

		mapByFile[fp] = IUIDEntry{
			SOPInstanceUID: iuid,
			SourceTSUID:    strings.TrimSpace(row["source_ts_uid"]),
			SourceTSName:   strings.TrimSpace(row["source_ts_name"]),
			ExtractStatus:  strings.TrimSpace(row["extract_status"]),
		}
	}

	return nil
}

// iuidUpdateKeys are the columns a consistency pass may backfill.
var iuidUpdateKeys = []string{"sop_instance_uid", "source_ts_uid", "source_ts_name", "extract_status"}

// ApplySendResultUpdates rewrites send_results_by_file.csv applying the
// non-empty fields of each update to rows of the given run. Returns how many
// rows changed; the file is rewritten only when at least one did.
func ApplySendResultUpdates(sendResultsPath, runID string, updatesByFile map[string]IUIDEntry) (int, error) {
	if len(updatesByFile) == 0 {
		return 0, nil
	}

	rows, err := ReadRows(sendResultsPath)
	if err != nil {
		return 0, err
	}

	if len(rows) == 0 {
		return 0, nil
	}

	changed := 0

	for _, row := range rows {
		if strings.TrimSpace(row["run_id"]) != runID {
			continue
		}

		fp := strings.TrimSpace(row["file_path"])
		if fp == "" {
			continue
		}

		upd, ok := updatesByFile[fp]
		if !ok {
			continue
		}

		values := map[string]string{
			"sop_instance_uid": upd.SOPInstanceUID,
			"source_ts_uid":    upd.SourceTSUID,
			"source_ts_name":   upd.SourceTSName,
			"extract_status":   upd.ExtractStatus,
		}

		rowChanged := false

		for _, key := range iuidUpdateKeys {
			newVal := strings.TrimSpace(values[key])
			if newVal == "" {
				continue
			}

			if strings.TrimSpace(row[key]) != newVal {
				row[key] = newVal
				rowChanged = true
			}
		}

		if rowChanged {
			changed++
		}
	}

	if changed == 0 {
		return 0, nil
	}

	header, err := readHeader(sendResultsPath)
	if err != nil {
		return 0, err
	}

	for _, key := range iuidUpdateKeys {
		if !containsField(header, key) {
			header = append(header, key)
		}
	}

	writeErr := WriteTable(sendResultsPath, rows, header)
	if writeErr != nil {
		return 0, writeErr
	}

	return changed, nil
}
