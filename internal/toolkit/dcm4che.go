package toolkit

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"github.com/hmd-tools/pacsflow/internal/config"
)

// dcm4che storescu emits association traffic rather than per-file markers;
// classification pairs these RQ/RSP extractions back to the batch's files.
var (
	dcm4cheStoreRQRE  = regexp.MustCompile(`(?i)<<\s+\d+:C-STORE-RQ\[[\s\S]*?iuid=([0-9]+(?:\.[0-9]+)+)\s+-`)
	dcm4cheStoreRSPRE = regexp.MustCompile(`(?i)>>\s+\d+:C-STORE-RSP\[[\s\S]*?status=([A-F0-9]+H)[\s\S]*?iuid=([0-9]+(?:\.[0-9]+)+)\s+-`)
)

// Dcm4cheDriver drives the Java dcm4che toolkit: shell-wrapped storescu
// script or direct-Java invocation with an @argfile.
type Dcm4cheDriver struct{}

// Name implements Driver.
func (d *Dcm4cheDriver) Name() string { return "dcm4che" }

func (d *Dcm4cheDriver) storescuPath(cfg *config.Config) (string, error) {
	if cfg.Dcm4cheBinPath == "" {
		return "", fmt.Errorf("storescu not found in internal toolkit; expected layout: <app>/toolkits/dcm4che-*/bin/%s", dcm4cheStorescuName())
	}

	path := filepath.Join(cfg.Dcm4cheBinPath, dcm4cheStorescuName())
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("storescu not found: %s", path)
	}

	return path, nil
}

// SendCommand implements Driver. The script invocation takes the file list
// inline; shell wrapping applies only where a shell wrapper exists.
func (d *Dcm4cheDriver) SendCommand(cfg *config.Config, batchFiles []string, _ string) ([]string, error) {
	storescu, err := d.storescuPath(cfg)
	if err != nil {
		return nil, err
	}

	argv := []string{storescu, "-c", cfg.StoreEndpoint()}
	argv = append(argv, batchFiles...)

	return wrapShell(cfg, argv), nil
}

// EchoCommand implements Driver: a connect with no payload.
func (d *Dcm4cheDriver) EchoCommand(cfg *config.Config) ([]string, error) {
	storescu, err := d.storescuPath(cfg)
	if err != nil {
		return nil, err
	}

	return wrapShell(cfg, []string{storescu, "-c", cfg.StoreEndpoint()}), nil
}

func wrapShell(cfg *config.Config, argv []string) []string {
	if cfg.Dcm4cheUseShellWrapper && runtime.GOOS == "windows" {
		return append([]string{"cmd", "/c"}, argv...)
	}

	return argv
}

// JavaDirectCommand builds the direct-Java storescu invocation. Every token
// goes into the argfile (one escaped, quoted token per line) and the argv is
// just the Java executable plus the @argfile reference, sidestepping the
// shell command-length limit.
func (d *Dcm4cheDriver) JavaDirectCommand(cfg *config.Config, javaExec string, batchFiles []string, argsFile string) ([]string, string, error) {
	if javaExec == "" {
		return nil, "", fmt.Errorf("java executable required for dcm4che JAVA_DIRECT mode")
	}

	storescu, err := d.storescuPath(cfg)
	if err != nil {
		return nil, "", err
	}

	dcm4cheRoot := filepath.Dir(filepath.Dir(storescu))
	classpath := filepath.Join(dcm4cheRoot, "lib", "*")

	javaArgsFile := strings.TrimSuffix(argsFile, filepath.Ext(argsFile)) + ".javaargs"

	tokens := []string{"-cp", classpath, dcm4cheJavaMainClass, "-c", cfg.StoreEndpoint()}
	tokens = append(tokens, batchFiles...)

	var b strings.Builder

	for _, token := range tokens {
		b.WriteString(JavaArgfileToken(token))
		b.WriteByte('\n')
	}

	err = os.WriteFile(javaArgsFile, []byte(b.String()), 0o644)
	if err != nil {
		return nil, "", fmt.Errorf("write java argfile: %w", err)
	}

	return []string{javaExec, "@" + javaArgsFile}, javaArgsFile, nil
}

// ExtractMetadata implements Driver using the dcmdump companion script.
func (d *Dcm4cheDriver) ExtractMetadata(ctx context.Context, cfg *config.Config, filePath string) (Metadata, error) {
	if cfg.Dcm4cheBinPath == "" {
		return Metadata{}, fmt.Errorf("%s not found in internal toolkit", dcm4cheDcmdumpName())
	}

	dcmdump := filepath.Join(cfg.Dcm4cheBinPath, dcm4cheDcmdumpName())
	if _, err := os.Stat(dcmdump); err != nil {
		return Metadata{}, fmt.Errorf("%s not found", dcm4cheDcmdumpName())
	}

	out, err := dumpText(ctx, wrapShell(cfg, []string{dcmdump, filePath}))
	if err != nil {
		return Metadata{}, err
	}

	iuid, tsUID := ExtractUIDTags(out)

	return Metadata{IUID: iuid, TSUID: tsUID, TSName: tsUID}, nil
}

// ParseSendOutput implements Driver: extracts the ordered RQ/OK/ERR IUID
// lists from the full output blob. Pairing them to files happens in the send
// workflow, which owns the batch ordering.
func (d *Dcm4cheDriver) ParseSendOutput(lines []string, _ []string) ParseResult {
	return ParseResult{Batch: ParseDcm4cheBlob(strings.Join(lines, "\n"))}
}

// ParseDcm4cheBlob extracts the batch correlation lists from raw output text.
func ParseDcm4cheBlob(blob string) *BatchCorrelation {
	out := &BatchCorrelation{ErrStatusByIUID: make(map[string]string)}

	for _, m := range dcm4cheStoreRQRE.FindAllStringSubmatch(blob, -1) {
		if iuid := strings.TrimSpace(m[1]); iuid != "" {
			out.RQIUIDs = append(out.RQIUIDs, iuid)
		}
	}

	// The RSP pattern captures every response; the status group splits them
	// into acknowledgements (0H) and failures.
	for _, m := range dcm4cheStoreRSPRE.FindAllStringSubmatch(blob, -1) {
		status := strings.ToUpper(strings.TrimSpace(m[1]))
		iuid := strings.TrimSpace(m[2])

		if iuid == "" {
			continue
		}

		if status == "0H" {
			out.OKIUIDs = append(out.OKIUIDs, iuid)

			continue
		}

		out.ErrIUIDs = append(out.ErrIUIDs, iuid)
		out.ErrStatusByIUID[iuid] = status
	}

	return out
}
