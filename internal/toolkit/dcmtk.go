package toolkit

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/hmd-tools/pacsflow/internal/artifacts"
	"github.com/hmd-tools/pacsflow/internal/config"
)

// dcmtk storescu -v prints one marker line per file, so classification is a
// line-oriented state machine rather than a batch correlation.
var (
	dcmtkSendingFileRE      = regexp.MustCompile(`I:\s+Sending file:\s+(.+)$`)
	dcmtkBadFileRE          = regexp.MustCompile(`E:\s+Bad DICOM file:\s+(.+?):\s*(.+)$`)
	dcmtkStoreRSPRE         = regexp.MustCompile(`I:\s+Received Store Response\s+\((.+)\)$`)
	dcmtkNoSOPUIDRE         = regexp.MustCompile(`E:\s+No SOP Class or Instance UID in file:\s+(.+)$`)
	dcmtkStoreFailedFileRE  = regexp.MustCompile(`E:\s+Store Failed,\s*file:\s+(.+?):\s*$`)
	dcmtkStoreFailedCauseRE = regexp.MustCompile(`(?i)E:\s+([0-9A-F]{4}:[0-9A-F]{4}\s+.+)$`)
)

// DcmtkDriver drives the native dcmtk toolkit.
type DcmtkDriver struct{}

// Name implements Driver.
func (d *DcmtkDriver) Name() string { return "dcmtk" }

func (d *DcmtkDriver) binaryPath(cfg *config.Config, base string) (string, error) {
	name := dcmtkExecutableName(base)

	if cfg.DcmtkBinPath == "" {
		return "", fmt.Errorf("%s not found in internal toolkit; expected layout: <app>/toolkits/dcmtk-*/bin/%s", name, name)
	}

	path := filepath.Join(cfg.DcmtkBinPath, name)
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("%s not found: %s", name, path)
	}

	return path, nil
}

// SendCommand implements Driver. The file list travels in the @argsFile, one
// quoted path per line, so the argv length stays flat regardless of batch
// size.
func (d *DcmtkDriver) SendCommand(cfg *config.Config, _ []string, argsFile string) ([]string, error) {
	storescu, err := d.binaryPath(cfg, "storescu")
	if err != nil {
		return nil, err
	}

	return []string{
		storescu,
		"-v",
		"-nh",
		"-aet", cfg.AETSource,
		"-aec", cfg.AETDest,
		cfg.PACSHost,
		strconv.Itoa(cfg.PACSPort),
		"@" + argsFile,
	}, nil
}

// EchoCommand implements Driver using echoscu.
func (d *DcmtkDriver) EchoCommand(cfg *config.Config) ([]string, error) {
	echoscu, err := d.binaryPath(cfg, "echoscu")
	if err != nil {
		return nil, err
	}

	return []string{
		echoscu,
		"-aet", cfg.AETSource,
		"-aec", cfg.AETDest,
		cfg.PACSHost,
		strconv.Itoa(cfg.PACSPort),
	}, nil
}

// ExtractMetadata implements Driver using dcmdump restricted to the two tags
// of interest.
func (d *DcmtkDriver) ExtractMetadata(ctx context.Context, cfg *config.Config, filePath string) (Metadata, error) {
	dcmdump, err := d.binaryPath(cfg, "dcmdump")
	if err != nil {
		return Metadata{}, err
	}

	out, err := dumpText(ctx, []string{dcmdump, "+P", "0008,0018", "+P", "0002,0010", filePath})
	if err != nil {
		return Metadata{}, err
	}

	iuid, tsUID := ExtractUIDTags(out)

	return Metadata{IUID: iuid, TSUID: tsUID, TSName: tsUID}, nil
}

// MatchDcmtkSendingFile extracts the file named by a Sending marker line.
func MatchDcmtkSendingFile(line string) (string, bool) {
	m := dcmtkSendingFileRE.FindStringSubmatch(line)
	if m == nil {
		return "", false
	}

	return strings.TrimSpace(m[1]), true
}

// MatchDcmtkBadFile extracts the file and reason of a Bad DICOM file line.
func MatchDcmtkBadFile(line string) (file, detail string, ok bool) {
	m := dcmtkBadFileRE.FindStringSubmatch(line)
	if m == nil {
		return "", "", false
	}

	return strings.TrimSpace(m[1]), strings.TrimSpace(m[2]), true
}

// MatchDcmtkStoreResponse extracts the parenthesized detail of a Store
// Response line.
func MatchDcmtkStoreResponse(line string) (string, bool) {
	m := dcmtkStoreRSPRE.FindStringSubmatch(line)
	if m == nil {
		return "", false
	}

	return strings.TrimSpace(m[1]), true
}

// ClassifyDcmtkResponse maps a Store Response detail to a send status for the
// file it settles. DICOMDIR index files answered with 0x110 are unsupported
// objects rather than failures.
func ClassifyDcmtkResponse(detail, filePath string) string {
	status := artifacts.SendStatusSendFail
	if strings.Contains(detail, "Success") {
		status = artifacts.SendStatusSentOK
	}

	if strings.Contains(detail, "Unknown Status: 0x110") &&
		strings.ToUpper(filepath.Base(filePath)) == "DICOMDIR" {
		status = artifacts.SendStatusUnsupported
	}

	return status
}

// ParseSendOutput implements Driver. It replays the verbose log against the
// batch, tracking the in-flight file between its Sending marker and the
// response that settles it. Files the output never mentions settle as
// SENT_UNKNOWN.
func (d *DcmtkDriver) ParseSendOutput(lines []string, batchFiles []string) ParseResult {
	byFile := make(map[string]FileOutcome)

	currentFile := ""
	pendingFailedFile := ""

	for _, line := range lines {
		if m := dcmtkSendingFileRE.FindStringSubmatch(line); m != nil {
			currentFile = strings.TrimSpace(m[1])

			if _, seen := byFile[currentFile]; !seen {
				byFile[currentFile] = FileOutcome{
					SendStatus:   artifacts.SendStatusSentUnknown,
					StatusDetail: "File sending initiated; awaiting response",
				}
			}

			pendingFailedFile = ""

			continue
		}

		if m := dcmtkBadFileRE.FindStringSubmatch(line); m != nil {
			byFile[strings.TrimSpace(m[1])] = FileOutcome{
				SendStatus:   artifacts.SendStatusNonDICOM,
				StatusDetail: strings.TrimSpace(m[2]),
			}

			pendingFailedFile = ""

			continue
		}

		if m := dcmtkNoSOPUIDRE.FindStringSubmatch(line); m != nil {
			badFile := strings.TrimSpace(m[1])
			byFile[badFile] = FileOutcome{
				SendStatus:   artifacts.SendStatusSentUnknown,
				StatusDetail: "No SOP Class or Instance UID in file",
			}

			pendingFailedFile = ""
			currentFile = badFile

			continue
		}

		if m := dcmtkStoreFailedFileRE.FindStringSubmatch(line); m != nil {
			pendingFailedFile = strings.TrimSpace(m[1])
			byFile[pendingFailedFile] = FileOutcome{
				SendStatus:   artifacts.SendStatusSentUnknown,
				StatusDetail: "Store failed; awaiting reason line",
			}
			currentFile = pendingFailedFile

			continue
		}

		if m := dcmtkStoreFailedCauseRE.FindStringSubmatch(line); m != nil && pendingFailedFile != "" {
			byFile[pendingFailedFile] = FileOutcome{
				SendStatus:   artifacts.SendStatusSentUnknown,
				StatusDetail: strings.TrimSpace(m[1]),
			}

			pendingFailedFile = ""

			continue
		}

		if m := dcmtkStoreRSPRE.FindStringSubmatch(line); m != nil && currentFile != "" {
			detail := strings.TrimSpace(m[1])

			byFile[currentFile] = FileOutcome{
				SendStatus:   ClassifyDcmtkResponse(detail, currentFile),
				StatusDetail: detail,
			}
			pendingFailedFile = ""
		}
	}

	for _, f := range batchFiles {
		if _, seen := byFile[f]; !seen {
			byFile[f] = FileOutcome{
				SendStatus:   artifacts.SendStatusSentUnknown,
				StatusDetail: "parse_status=UNKNOWN;reason=no_match_in_output",
			}
		}
	}

	return ParseResult{ByFile: byFile}
}
