// Package toolkit locates the external DICOM transfer tools and adapts their
// command construction, metadata extraction, and output parsing behind a
// uniform driver interface.
package toolkit

import (
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/hmd-tools/pacsflow/internal/config"
)

// dcm4che ships shell wrappers; dcmtk ships native executables.
func dcm4cheStorescuName() string {
	if runtime.GOOS == "windows" {
		return "storescu.bat"
	}

	return "storescu"
}

func dcm4cheDcmdumpName() string {
	if runtime.GOOS == "windows" {
		return "dcmdump.bat"
	}

	return "dcmdump"
}

func dcmtkExecutableName(base string) string {
	if runtime.GOOS == "windows" {
		return base + ".exe"
	}

	return base
}

// LocateBin searches <baseDir>/toolkits/{prefix}*/bin for the probe file and
// returns the bin directory of the lexically greatest matching version, or
// empty when nothing qualifies.
func LocateBin(baseDir, prefix, probeFile string) string {
	toolkitsDir := filepath.Join(baseDir, "toolkits")

	entries, err := os.ReadDir(toolkitsDir)
	if err != nil {
		return ""
	}

	var candidates []string

	lowerPrefix := strings.ToLower(prefix)

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		if strings.HasPrefix(strings.ToLower(entry.Name()), lowerPrefix) {
			candidates = append(candidates, entry.Name())
		}
	}

	sort.Sort(sort.Reverse(sort.StringSlice(candidates)))

	for _, name := range candidates {
		binDir := filepath.Join(toolkitsDir, name, "bin")

		if _, statErr := os.Stat(filepath.Join(binDir, probeFile)); statErr == nil {
			return binDir
		}
	}

	return ""
}

// ApplyInternalToolkitPaths resolves both toolkit bin directories under
// baseDir and records them on the config. Missing toolkits resolve to empty
// paths; the failure surfaces later, at command construction.
func ApplyInternalToolkitPaths(cfg *config.Config, baseDir string, logf func(format string, args ...any)) {
	cfg.Dcm4cheBinPath = LocateBin(baseDir, "dcm4che", dcm4cheStorescuName())
	cfg.DcmtkBinPath = LocateBin(baseDir, "dcmtk", dcmtkExecutableName("storescu"))

	if logf == nil {
		return
	}

	logf("[TOOLKIT_RESOLVE] toolkit=dcm4che source=internal status=%s path=%s",
		resolveStatus(cfg.Dcm4cheBinPath), orMissing(cfg.Dcm4cheBinPath))
	logf("[TOOLKIT_RESOLVE] toolkit=dcmtk source=internal status=%s path=%s",
		resolveStatus(cfg.DcmtkBinPath), orMissing(cfg.DcmtkBinPath))
}

func resolveStatus(path string) string {
	if path == "" {
		return "NOT_FOUND"
	}

	return "OK"
}

func orMissing(path string) string {
	if path == "" {
		return "<missing>"
	}

	return path
}
