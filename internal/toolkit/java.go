package toolkit

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"
)

// javaVersionTimeout bounds the `java -version` probe.
const javaVersionTimeout = 8 * time.Second

// Jar-name markers that must all be present in the dcm4che lib directory for
// the direct-Java invocation to work.
var dcm4cheCriticalJarMarkers = []string{
	"dcm4che-tool-storescu",
	"dcm4che-tool-common",
	"dcm4che-net",
	"dcm4che-core",
}

// dcm4cheJavaMainClass is the storescu entry point used in JAVA_DIRECT mode.
const dcm4cheJavaMainClass = "org.dcm4che3.tool.storescu.StoreSCU"

// ResolveJava finds a usable Java executable, preferring JAVA_HOME over PATH,
// and probes it with `java -version`. Returns the executable path and "OK",
// or empty and the reason of the last failure.
func ResolveJava(ctx context.Context) (string, string) {
	var candidates []string

	javaHome := strings.TrimSpace(os.Getenv("JAVA_HOME"))
	if javaHome != "" {
		name := "java"
		if runtime.GOOS == "windows" {
			name = "java.exe"
		}

		candidates = append(candidates, filepath.Join(javaHome, "bin", name))
	}

	if onPath, err := exec.LookPath("java"); err == nil {
		candidates = append(candidates, onPath)
	}

	seen := make(map[string]struct{})
	lastReason := "java_not_found"

	for _, candidate := range candidates {
		key := filepath.Clean(candidate)
		if _, dup := seen[key]; dup {
			continue
		}

		seen[key] = struct{}{}

		probeCtx, cancel := context.WithTimeout(ctx, javaVersionTimeout)
		err := exec.CommandContext(probeCtx, candidate, "-version").Run()

		cancel()

		if err == nil {
			return candidate, "OK"
		}

		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			lastReason = fmt.Sprintf("java_version_exit=%d", exitErr.ExitCode())
		} else {
			lastReason = err.Error()
		}
	}

	return "", lastReason
}

// CheckDcm4cheJavaDependencies verifies that the dcm4che lib directory next
// to the given bin directory contains every critical jar. Returns whether the
// check passed, the missing markers, and the lib directory inspected.
func CheckDcm4cheJavaDependencies(binDir string) (bool, []string, string) {
	libDir := filepath.Join(filepath.Dir(binDir), "lib")

	entries, err := os.ReadDir(libDir)
	if err != nil {
		return false, []string{"lib_dir_not_found:" + libDir}, libDir
	}

	var jarNames []string

	for _, entry := range entries {
		name := strings.ToLower(entry.Name())
		if strings.HasSuffix(name, ".jar") {
			jarNames = append(jarNames, name)
		}
	}

	var missing []string

	for _, marker := range dcm4cheCriticalJarMarkers {
		markerL := strings.ToLower(marker)
		found := false

		for _, jar := range jarNames {
			if strings.Contains(jar, markerL) {
				found = true

				break
			}
		}

		if !found {
			missing = append(missing, marker)
		}
	}

	sort.Strings(missing)

	return len(missing) == 0, missing, libDir
}
