package toolkit

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeDcm4cheLib(t *testing.T, jars ...string) string {
	t.Helper()

	root := t.TempDir()
	binDir := filepath.Join(root, "bin")
	libDir := filepath.Join(root, "lib")
	require.NoError(t, os.MkdirAll(binDir, 0o755))
	require.NoError(t, os.MkdirAll(libDir, 0o755))

	for _, jar := range jars {
		require.NoError(t, os.WriteFile(filepath.Join(libDir, jar), []byte("jar"), 0o644))
	}

	return binDir
}

func TestCheckDcm4cheJavaDependencies_AllPresent(t *testing.T) {
	t.Parallel()

	binDir := makeDcm4cheLib(t,
		"dcm4che-tool-storescu-5.33.1.jar",
		"dcm4che-tool-common-5.33.1.jar",
		"dcm4che-net-5.33.1.jar",
		"dcm4che-core-5.33.1.jar",
		"slf4j-api-2.0.13.jar",
	)

	ok, missing, libDir := CheckDcm4cheJavaDependencies(binDir)
	assert.True(t, ok)
	assert.Empty(t, missing)
	assert.Equal(t, filepath.Join(filepath.Dir(binDir), "lib"), libDir)
}

func TestCheckDcm4cheJavaDependencies_MissingJars(t *testing.T) {
	t.Parallel()

	binDir := makeDcm4cheLib(t,
		"dcm4che-tool-storescu-5.33.1.jar",
		"dcm4che-core-5.33.1.jar",
	)

	ok, missing, _ := CheckDcm4cheJavaDependencies(binDir)
	assert.False(t, ok)
	assert.Equal(t, []string{"dcm4che-net", "dcm4che-tool-common"}, missing)
}

func TestCheckDcm4cheJavaDependencies_MarkerMatchIsCaseInsensitive(t *testing.T) {
	t.Parallel()

	binDir := makeDcm4cheLib(t,
		"DCM4CHE-TOOL-STORESCU-5.33.1.JAR",
		"DCM4CHE-TOOL-COMMON-5.33.1.JAR",
		"DCM4CHE-NET-5.33.1.JAR",
		"DCM4CHE-CORE-5.33.1.JAR",
	)

	ok, missing, _ := CheckDcm4cheJavaDependencies(binDir)
	assert.True(t, ok)
	assert.Empty(t, missing)
}

func TestCheckDcm4cheJavaDependencies_MissingLibDir(t *testing.T) {
	t.Parallel()

	binDir := filepath.Join(t.TempDir(), "bin")
	require.NoError(t, os.MkdirAll(binDir, 0o755))

	ok, missing, libDir := CheckDcm4cheJavaDependencies(binDir)
	assert.False(t, ok)
	require.Len(t, missing, 1)
	assert.Contains(t, missing[0], "lib_dir_not_found:")
	assert.Contains(t, missing[0], libDir)
}
