package toolkit

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hmd-tools/pacsflow/internal/config"
)

func TestWindowsCommandLine(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		args []string
		want string
	}{
		{name: "plain", args: []string{"storescu", "-c", "AET@host:5555"}, want: `storescu -c AET@host:5555`},
		{name: "space quoted", args: []string{`C:\Program Files\x.bat`}, want: `"C:\Program Files\x.bat"`},
		{name: "empty arg quoted", args: []string{"a", ""}, want: `a ""`},
		{name: "embedded quote", args: []string{`he said "hi"`}, want: `"he said \"hi\""`},
		{name: "trailing backslash doubled inside quotes", args: []string{`C:\dir with space\`}, want: `"C:\dir with space\\"`},
		{name: "backslashes before quote doubled", args: []string{`a\"b`}, want: `a\\\"b`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, WindowsCommandLine(tt.args))
		})
	}
}

func TestPOSIXCommandLine(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "storescu -c AET@host:5555", POSIXCommandLine([]string{"storescu", "-c", "AET@host:5555"}))
	assert.Equal(t, "'/tmp/a b.dcm'", POSIXCommandLine([]string{"/tmp/a b.dcm"}))
	assert.Equal(t, `'it'"'"'s'`, POSIXCommandLine([]string{"it's"}))
	assert.Equal(t, "''", POSIXCommandLine([]string{""}))
}

func TestUnitArgLength_UsesWindowsQuoting(t *testing.T) {
	t.Parallel()

	// Quoted length includes the surrounding quotes.
	assert.Equal(t, len(`"C:\a b.dcm"`), UnitArgLength(`C:\a b.dcm`))
	assert.Equal(t, len("plain.dcm"), UnitArgLength("plain.dcm"))
}

func TestJavaArgfileToken(t *testing.T) {
	t.Parallel()

	assert.Equal(t, `"C:\\exams\\a.dcm"`, JavaArgfileToken(`C:\exams\a.dcm`))
	assert.Equal(t, `"-c"`, JavaArgfileToken("-c"))
	assert.Equal(t, `"say \"hi\""`, JavaArgfileToken(`say "hi"`))
}

func baseConfig() *config.Config {
	return &config.Config{
		Toolkit:          "dcm4che",
		AETSource:        "SRC",
		AETDest:          "DST",
		PACSHost:         "pacs",
		PACSPort:         104,
		BatchSizeDefault: 200,
		Dcm4cheBinPath:   "/opt/dcm4che/bin",
	}
}

func TestEstimateDcm4cheBatchMaxCmd_JavaArgfileUnbounded(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	cfg.Dcm4chePreferJavaDirect = true

	maxUnits, source, budget := EstimateDcm4cheBatchMaxCmd(cfg, 120, 5000)
	assert.Equal(t, 5000, maxUnits)
	assert.Equal(t, BatchMaxSourceJavaArgfile, source)
	assert.Equal(t, DirectCmdBudget, budget)
}

func TestEstimateDcm4cheBatchMaxCmd_ShellWrapperBudget(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	cfg.Dcm4cheUseShellWrapper = true

	maxUnits, source, budget := EstimateDcm4cheBatchMaxCmd(cfg, 100, 5000)
	assert.Equal(t, BatchMaxSourceCmdLimit, source)
	assert.Equal(t, ShellWrapperCmdBudget, budget)
	assert.Positive(t, maxUnits)
	assert.Less(t, maxUnits, 100)
}

func TestEstimateDcm4cheBatchMaxCmd_Degenerate(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()

	maxUnits, source, _ := EstimateDcm4cheBatchMaxCmd(cfg, 50, 0)
	assert.Zero(t, maxUnits)
	assert.Equal(t, BatchMaxSourceCmdLimit, source)

	maxUnits, _, _ = EstimateDcm4cheBatchMaxCmd(cfg, 0, 42)
	assert.Equal(t, 42, maxUnits)

	// A unit longer than the whole budget leaves no room at all.
	maxUnits, _, _ = EstimateDcm4cheBatchMaxCmd(cfg, DirectCmdBudget+1, 42)
	assert.Zero(t, maxUnits)
}

func TestEstimateDcm4cheBatchMaxCmd_CappedByUnitsTotal(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()

	maxUnits, _, _ := EstimateDcm4cheBatchMaxCmd(cfg, 10, 3)
	assert.Equal(t, 3, maxUnits)
}
