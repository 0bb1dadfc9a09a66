package toolkit

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/hmd-tools/pacsflow/internal/config"
)

// metadataDumpTimeout bounds one metadata-dump child invocation.
const metadataDumpTimeout = 30 * time.Second

// Metadata is the result of one metadata-dump extraction.
type Metadata struct {
	IUID   string
	TSUID  string
	TSName string
}

// FileOutcome is a per-file classification produced by output parsing.
type FileOutcome struct {
	SendStatus   string
	StatusDetail string
}

// BatchCorrelation carries the ordered IUID evidence extracted from a
// dcm4che send, to be paired with the batch's files afterwards.
type BatchCorrelation struct {
	RQIUIDs         []string
	OKIUIDs         []string
	ErrIUIDs        []string
	ErrStatusByIUID map[string]string
}

// ParseResult is the driver-specific output of ParseSendOutput. dcm4che
// fills Batch; dcmtk fills ByFile.
type ParseResult struct {
	Batch  *BatchCorrelation
	ByFile map[string]FileOutcome
}

// Driver adapts one toolkit family behind a uniform surface.
type Driver interface {
	// Name returns the toolkit family name (dcm4che, dcmtk).
	Name() string

	// SendCommand constructs the child-process argv for one batch.
	SendCommand(cfg *config.Config, batchFiles []string, argsFile string) ([]string, error)

	// EchoCommand constructs a zero-payload connectivity test.
	EchoCommand(cfg *config.Config) ([]string, error)

	// ExtractMetadata runs the metadata-dump companion on one file.
	ExtractMetadata(ctx context.Context, cfg *config.Config, filePath string) (Metadata, error)

	// ParseSendOutput classifies the collected stdout lines of one batch.
	ParseSendOutput(lines []string, batchFiles []string) ParseResult
}

// ForToolkit returns the driver for the configured toolkit family.
func ForToolkit(name string) (Driver, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "dcm4che":
		return &Dcm4cheDriver{}, nil
	case "dcmtk":
		return &DcmtkDriver{}, nil
	}

	return nil, fmt.Errorf("%w: %q", config.ErrUnknownToolkit, name)
}

// dumpText runs a metadata-dump command and returns stdout and stderr merged.
// The child is bounded by the dump timeout regardless of the parent context.
func dumpText(ctx context.Context, argv []string) (string, error) {
	dumpCtx, cancel := context.WithTimeout(ctx, metadataDumpTimeout)
	defer cancel()

	cmd := exec.CommandContext(dumpCtx, argv[0], argv[1:]...)

	var stdout, stderr bytes.Buffer

	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	// Dump tools exit non-zero on partially unreadable files while still
	// emitting the tags of interest, so the exit code is ignored.
	_ = cmd.Run()

	out := strings.TrimSpace(stdout.String() + "\n" + stderr.String())

	if dumpCtx.Err() != nil {
		return out, fmt.Errorf("metadata dump timed out: %w", dumpCtx.Err())
	}

	return out, nil
}
