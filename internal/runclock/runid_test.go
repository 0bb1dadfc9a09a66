package runclock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeRunID_AppendsSuffix(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		raw      string
		toolkit  string
		sendMode string
		want     string
	}{
		{"dcm4che files", "24082026_101530", "dcm4che", "MANIFEST_FILES", "24082026_101530_dcm4che_files"},
		{"dcm4che folders", "24082026_101530", "dcm4che", "FOLDERS", "24082026_101530_dcm4che_folders"},
		{"dcmtk", "24082026_101530", "dcmtk", "", "24082026_101530_dcmtk"},
		{"already suffixed", "24082026_101530_dcmtk", "dcmtk", "", "24082026_101530_dcmtk"},
		{"toolkit switch", "24082026_101530_dcm4che_files", "dcmtk", "", "24082026_101530_dcmtk"},
		{"mode switch", "24082026_101530_dcm4che_folders", "dcm4che", "MANIFEST_FILES", "24082026_101530_dcm4che_files"},
		{"empty", "", "dcm4che", "MANIFEST_FILES", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, NormalizeRunID(tt.raw, tt.toolkit, tt.sendMode))
		})
	}
}

func TestNormalizeRunID_Idempotent(t *testing.T) {
	t.Parallel()

	inputs := []string{"run1", "run1_dcm4che", "run1_dcm4che_files_dcmtk", "x_dcmtk_dcmtk"}
	combos := []struct{ toolkit, mode string }{
		{"dcm4che", "MANIFEST_FILES"},
		{"dcm4che", "FOLDERS"},
		{"dcmtk", ""},
	}

	for _, in := range inputs {
		for _, c := range combos {
			once := NormalizeRunID(in, c.toolkit, c.mode)
			twice := NormalizeRunID(once, c.toolkit, c.mode)
			assert.Equal(t, once, twice, "input %q toolkit %s mode %s", in, c.toolkit, c.mode)
		}
	}
}

func TestStripKnownRunSuffixes_Repeated(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "run1", StripKnownRunSuffixes("run1_dcm4che_files_dcmtk"))
	assert.Equal(t, "run1", StripKnownRunSuffixes("run1_dcm4che"))
	assert.Equal(t, "run1", StripKnownRunSuffixes("run1"))
	assert.Equal(t, "", StripKnownRunSuffixes("  "))
}

func TestCheckpointFilename(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "send_checkpoint_dcm4che_files.json", CheckpointFilename("dcm4che", "MANIFEST_FILES"))
	assert.Equal(t, "send_checkpoint_dcm4che_folders.json", CheckpointFilename("dcm4che", "FOLDERS"))
	assert.Equal(t, "send_checkpoint_dcmtk.json", CheckpointFilename("dcmtk", ""))
}

func TestNormalizeSendMode(t *testing.T) {
	t.Parallel()

	assert.Equal(t, SendModeManifestFiles, NormalizeSendMode("files"))
	assert.Equal(t, SendModeManifestFiles, NormalizeSendMode("MANIFEST_FILES"))
	assert.Equal(t, SendModeFolders, NormalizeSendMode("folders"))
	assert.Equal(t, SendModeFolders, NormalizeSendMode("anything"))
}

func TestNormalizeIUIDUpdateMode(t *testing.T) {
	t.Parallel()

	assert.Equal(t, IUIDUpdateChunkEnd, NormalizeIUIDUpdateMode("chunk"))
	assert.Equal(t, IUIDUpdateChunkEnd, NormalizeIUIDUpdateMode("BATCH"))
	assert.Equal(t, IUIDUpdateRealtime, NormalizeIUIDUpdateMode(""))
	assert.Equal(t, IUIDUpdateRealtime, NormalizeIUIDUpdateMode("realtime"))
}

func TestNowDual_FormatsMatch(t *testing.T) {
	t.Parallel()

	br, iso := NowDual()

	_, err := time.Parse("02/01/2006 15:04:05", br)
	require.NoError(t, err)

	_, err = time.Parse("2006-01-02T15:04:05", iso)
	require.NoError(t, err)
}

func TestFormatETA(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "calculando", FormatETA(-time.Second))
	assert.Equal(t, "00:05", FormatETA(5*time.Second))
	assert.Equal(t, "01:01:01", FormatETA(3661*time.Second))
}

func TestFormatDuration(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "1.5s", FormatDuration(1500*time.Millisecond))
	assert.Equal(t, "0.0s", FormatDuration(-time.Second))
}
