package commands

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/hmd-tools/pacsflow/internal/toolkit"
)

// NewEchoCommand creates the echo command, a zero-payload connectivity
// test against the configured PACS association.
func NewEchoCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "echo",
		Short: "Test PACS connectivity with a C-ECHO",
		Long: "Open an association against the configured PACS destination " +
			"and exchange a C-ECHO, without sending any payload.",
		Args: cobra.NoArgs,
		RunE: runEcho,
	}
}

func runEcho(_ *cobra.Command, _ []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	app, err := NewApp()
	if err != nil {
		return err
	}
	defer app.Close()

	driver, err := toolkit.ForToolkit(app.Cfg.Toolkit)
	if err != nil {
		return err
	}

	argv, err := driver.EchoCommand(app.Cfg)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "[ECHO] %s -> %s\n", driver.Name(), app.Cfg.StoreEndpoint())

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)

	out, runErr := cmd.CombinedOutput()
	if trimmed := strings.TrimSpace(string(out)); trimmed != "" {
		fmt.Fprintln(os.Stderr, trimmed)
	}

	if runErr != nil {
		color.New(color.FgRed).Fprintf(os.Stdout, "ECHO FAIL: %v\n", runErr)

		return fmt.Errorf("echo against %s failed: %w", app.Cfg.StoreEndpoint(), runErr)
	}

	color.New(color.FgGreen).Fprintf(os.Stdout, "ECHO OK: %s\n", app.Cfg.StoreEndpoint())

	return nil
}
