package toolkit

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hmd-tools/pacsflow/internal/artifacts"
	"github.com/hmd-tools/pacsflow/internal/config"
)

func dcmtkTestConfig(t *testing.T) *config.Config {
	t.Helper()

	base := t.TempDir()
	binDir := makeToolkit(t, base, "dcmtk-3.6.8",
		dcmtkExecutableName("storescu"),
		dcmtkExecutableName("echoscu"),
		dcmtkExecutableName("dcmdump"))

	return &config.Config{
		Toolkit:      "dcmtk",
		AETSource:    "SRC",
		AETDest:      "DST",
		PACSHost:     "pacs",
		PACSPort:     104,
		DcmtkBinPath: binDir,
	}
}

func TestDcmtkSendCommand_UsesArgsFile(t *testing.T) {
	t.Parallel()

	cfg := dcmtkTestConfig(t)

	argv, err := (&DcmtkDriver{}).SendCommand(cfg, []string{"a.dcm", "b.dcm"}, "/runs/r1/core/batch_args/batch_000001.txt")
	require.NoError(t, err)

	assert.Contains(t, argv, "-v")
	assert.Contains(t, argv, "-nh")
	assert.Contains(t, argv, "SRC")
	assert.Contains(t, argv, "DST")
	assert.Contains(t, argv, strconv.Itoa(104))
	assert.Equal(t, "@/runs/r1/core/batch_args/batch_000001.txt", argv[len(argv)-1])

	// File paths never appear on the command line itself.
	assert.NotContains(t, argv, "a.dcm")
}

func TestDcmtkEchoCommand(t *testing.T) {
	t.Parallel()

	cfg := dcmtkTestConfig(t)

	argv, err := (&DcmtkDriver{}).EchoCommand(cfg)
	require.NoError(t, err)
	assert.Contains(t, argv[0], "echoscu")
	assert.NotContains(t, argv, "-v")
}

func TestDcmtkCommands_MissingToolkit(t *testing.T) {
	t.Parallel()

	driver := &DcmtkDriver{}

	_, err := driver.SendCommand(&config.Config{}, nil, "args.txt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "toolkits/dcmtk-*")

	_, err = driver.EchoCommand(&config.Config{})
	require.Error(t, err)
}

func TestDcmtkParseSendOutput_SuccessAndFailure(t *testing.T) {
	t.Parallel()

	lines := []string{
		"I: Sending file: /exams/a.dcm",
		"I: Received Store Response (Success)",
		"I: Sending file: /exams/b.dcm",
		"I: Received Store Response (Failed: OutOfResources)",
	}

	got := (&DcmtkDriver{}).ParseSendOutput(lines, []string{"/exams/a.dcm", "/exams/b.dcm"})
	require.NotNil(t, got.ByFile)

	assert.Equal(t, artifacts.SendStatusSentOK, got.ByFile["/exams/a.dcm"].SendStatus)
	assert.Equal(t, "Success", got.ByFile["/exams/a.dcm"].StatusDetail)
	assert.Equal(t, artifacts.SendStatusSendFail, got.ByFile["/exams/b.dcm"].SendStatus)
}

func TestDcmtkParseSendOutput_BadFileAndNoSOPUID(t *testing.T) {
	t.Parallel()

	lines := []string{
		"I: Sending file: /exams/junk.dcm",
		"E: Bad DICOM file: /exams/junk.dcm: reading meta-header failed",
		"E: No SOP Class or Instance UID in file: /exams/partial.dcm",
	}

	got := (&DcmtkDriver{}).ParseSendOutput(lines, []string{"/exams/junk.dcm", "/exams/partial.dcm"})

	assert.Equal(t, artifacts.SendStatusNonDICOM, got.ByFile["/exams/junk.dcm"].SendStatus)
	assert.Equal(t, "reading meta-header failed", got.ByFile["/exams/junk.dcm"].StatusDetail)
	assert.Equal(t, artifacts.SendStatusSentUnknown, got.ByFile["/exams/partial.dcm"].SendStatus)
	assert.Equal(t, "No SOP Class or Instance UID in file", got.ByFile["/exams/partial.dcm"].StatusDetail)
}

func TestDcmtkParseSendOutput_StoreFailedReasonPair(t *testing.T) {
	t.Parallel()

	lines := []string{
		"I: Sending file: /exams/a.dcm",
		"E: Store Failed, file: /exams/a.dcm:",
		"E: 0006:0317 Peer aborted Association (or never connected)",
	}

	got := (&DcmtkDriver{}).ParseSendOutput(lines, []string{"/exams/a.dcm"})

	assert.Equal(t, artifacts.SendStatusSentUnknown, got.ByFile["/exams/a.dcm"].SendStatus)
	assert.Equal(t, "0006:0317 Peer aborted Association (or never connected)", got.ByFile["/exams/a.dcm"].StatusDetail)
}

func TestDcmtkParseSendOutput_DICOMDIRUnsupported(t *testing.T) {
	t.Parallel()

	lines := []string{
		"I: Sending file: /exams/DICOMDIR",
		"I: Received Store Response (Failed: Unknown Status: 0x110)",
	}

	got := (&DcmtkDriver{}).ParseSendOutput(lines, []string{"/exams/DICOMDIR"})
	assert.Equal(t, artifacts.SendStatusUnsupported, got.ByFile["/exams/DICOMDIR"].SendStatus)
}

func TestDcmtkParseSendOutput_UntouchedFilesDefaultUnknown(t *testing.T) {
	t.Parallel()

	got := (&DcmtkDriver{}).ParseSendOutput(nil, []string{"/exams/silent.dcm"})

	assert.Equal(t, artifacts.SendStatusSentUnknown, got.ByFile["/exams/silent.dcm"].SendStatus)
	assert.Equal(t, "parse_status=UNKNOWN;reason=no_match_in_output", got.ByFile["/exams/silent.dcm"].StatusDetail)
}

func TestForToolkit(t *testing.T) {
	t.Parallel()

	d, err := ForToolkit("dcm4che")
	require.NoError(t, err)
	assert.Equal(t, "dcm4che", d.Name())

	d, err = ForToolkit(" DCMTK ")
	require.NoError(t, err)
	assert.Equal(t, "dcmtk", d.Name())

	_, err = ForToolkit("gdcm")
	require.Error(t, err)
}
