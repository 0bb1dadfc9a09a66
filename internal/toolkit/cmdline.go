package toolkit

import (
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"github.com/hmd-tools/pacsflow/internal/config"
)

// Command-line character budgets. The shell-wrapped invocation inherits the
// conservative cmd.exe limit; direct invocations get the CreateProcess-level
// limit.
const (
	ShellWrapperCmdBudget = 7600
	DirectCmdBudget       = 30000
)

// batch_max_cmd source tags written to analysis_summary.csv.
const (
	BatchMaxSourceJavaArgfile = "DCM4CHE_JAVA_ARGFILE"
	BatchMaxSourceCmdLimit    = "DCM4CHE_CMD_LIMIT"
	BatchMaxSourceNA          = "N/A"
)

// WindowsCommandLine joins argv into a single command line using the
// CreateProcess quoting convention: arguments containing spaces or tabs
// (or empty arguments) are double-quoted, backslashes are doubled only
// when they precede a quote, and embedded quotes are backslash-escaped.
func WindowsCommandLine(args []string) string {
	var b strings.Builder

	for i, arg := range args {
		if i > 0 {
			b.WriteByte(' ')
		}

		appendWindowsArg(&b, arg)
	}

	return b.String()
}

func appendWindowsArg(b *strings.Builder, arg string) {
	needQuote := arg == "" || strings.ContainsAny(arg, " \t")

	if needQuote {
		b.WriteByte('"')
	}

	backslashes := 0

	for _, c := range arg {
		switch c {
		case '\\':
			backslashes++
		case '"':
			b.WriteString(strings.Repeat("\\", backslashes*2))
			b.WriteString(`\"`)

			backslashes = 0
		default:
			if backslashes > 0 {
				b.WriteString(strings.Repeat("\\", backslashes))

				backslashes = 0
			}

			b.WriteRune(c)
		}
	}

	if backslashes > 0 {
		b.WriteString(strings.Repeat("\\", backslashes))
	}

	if needQuote {
		// Trailing backslashes would otherwise escape the closing quote.
		if backslashes > 0 {
			b.WriteString(strings.Repeat("\\", backslashes))
		}

		b.WriteByte('"')
	}
}

var posixSafeRE = regexp.MustCompile(`^[a-zA-Z0-9_@%+=:,./-]+$`)

// POSIXCommandLine joins argv using single-quote shell quoting.
func POSIXCommandLine(args []string) string {
	quoted := make([]string, len(args))

	for i, arg := range args {
		quoted[i] = posixQuote(arg)
	}

	return strings.Join(quoted, " ")
}

func posixQuote(arg string) string {
	if arg == "" {
		return "''"
	}

	if posixSafeRE.MatchString(arg) {
		return arg
	}

	return "'" + strings.ReplaceAll(arg, "'", `'"'"'`) + "'"
}

// FormatCommandLine renders argv with the quoting rules of the host platform.
func FormatCommandLine(args []string) string {
	if runtime.GOOS == "windows" {
		return WindowsCommandLine(args)
	}

	return POSIXCommandLine(args)
}

// CommandLineLength measures the rendered length of argv on the host platform.
func CommandLineLength(args []string) int {
	return len(FormatCommandLine(args))
}

// UnitArgLength measures the quoted length of a single argument under the
// Windows convention. Batch ceilings are always computed against the
// command-length-constrained platform, so planning is portable across hosts.
func UnitArgLength(arg string) int {
	return len(WindowsCommandLine([]string{arg}))
}

// JavaArgfileToken renders one argfile line: the token is double-quoted with
// every backslash doubled and every embedded quote backslash-prefixed. The
// Java @argfile reader treats backslash as an escape, so Windows paths would
// be mangled without the doubling.
func JavaArgfileToken(token string) string {
	escaped := strings.ReplaceAll(token, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `"`, `\"`)

	return `"` + escaped + `"`
}

// EstimateDcm4cheBatchMaxCmd computes the largest batch size that keeps the
// dcm4che command under budget. With the argfile mechanism the ceiling is the
// unit total itself; otherwise it is derived from the base command length and
// the worst-case quoted unit argument. Returns the ceiling, its source tag,
// and the budget used.
func EstimateDcm4cheBatchMaxCmd(cfg *config.Config, unitMaxArgLen, unitsTotal int) (int, string, int) {
	if cfg.Dcm4chePreferJavaDirect {
		return unitsTotal, BatchMaxSourceJavaArgfile, DirectCmdBudget
	}

	budget := DirectCmdBudget
	if cfg.Dcm4cheUseShellWrapper {
		budget = ShellWrapperCmdBudget
	}

	if unitsTotal <= 0 {
		return 0, BatchMaxSourceCmdLimit, budget
	}

	if unitMaxArgLen <= 0 {
		return unitsTotal, BatchMaxSourceCmdLimit, budget
	}

	binPath := cfg.Dcm4cheBinPath
	if binPath == "" {
		binPath = filepath.Join("dcm4che", "bin")
	}

	base := []string{filepath.Join(binPath, dcm4cheStorescuName()), "-c", cfg.StoreEndpoint()}
	if cfg.Dcm4cheUseShellWrapper {
		base = append([]string{"cmd", "/c"}, base...)
	}

	baseLen := len(WindowsCommandLine(base))

	remaining := budget - baseLen
	perUnitCost := 1 + unitMaxArgLen // one space plus the quoted argument

	if remaining < perUnitCost {
		return 0, BatchMaxSourceCmdLimit, budget
	}

	maxUnits := remaining / perUnitCost
	if maxUnits > unitsTotal {
		maxUnits = unitsTotal
	}

	return maxUnits, BatchMaxSourceCmdLimit, budget
}
