// Package commands implements CLI command handlers for pacsflow.
package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/hmd-tools/pacsflow/internal/config"
	"github.com/hmd-tools/pacsflow/internal/observability"
	"github.com/hmd-tools/pacsflow/internal/progress"
	"github.com/hmd-tools/pacsflow/internal/toolkit"
)

// Persistent flag values shared by every command; bound in main.
var (
	// ConfigPath is the explicit config file path (--config).
	ConfigPath string
	// Quiet suppresses workflow log lines (--quiet).
	Quiet bool
	// NoColor disables colored output (--no-color).
	NoColor bool
)

// metricsShutdownTimeout bounds the scrape server drain on exit.
const metricsShutdownTimeout = 2 * time.Second

// App wires the shared runtime of one command invocation: loaded config,
// resolved runs base, the progress consumer, and the optional metrics
// endpoint.
type App struct {
	Cfg      *config.Config
	RunsBase string
	Stream   *progress.Stream
	Metrics  *observability.WorkflowMetrics

	metricsSrv   *http.Server
	consumerDone chan struct{}
}

// NewApp loads configuration, locates the internal toolkits, starts the
// progress consumer, and brings up the metrics endpoint when configured.
func NewApp() (*App, error) {
	if NoColor {
		color.NoColor = true //nolint:reassign // intentional override of library global
	}

	cfg, err := config.Load(ConfigPath)
	if err != nil {
		return nil, err
	}

	baseDir := baseDir()

	logf := func(format string, args ...any) {
		if !Quiet {
			fmt.Fprintf(os.Stderr, format+"\n", args...)
		}
	}

	toolkit.ApplyInternalToolkitPaths(cfg, baseDir, logf)

	app := &App{
		Cfg:          cfg,
		RunsBase:     cfg.ResolveRunsBase(baseDir),
		Stream:       progress.NewStream(0),
		consumerDone: make(chan struct{}),
	}

	go app.consume()

	if cfg.MetricsListen != "" {
		meter, handler, meterErr := observability.NewPrometheusMeter()
		if meterErr != nil {
			return nil, meterErr
		}

		app.Metrics, err = observability.NewWorkflowMetrics(meter)
		if err != nil {
			return nil, err
		}

		mux := http.NewServeMux()
		mux.Handle("/metrics", handler)

		app.metricsSrv = &http.Server{Addr: cfg.MetricsListen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		go func() {
			serveErr := app.metricsSrv.ListenAndServe()
			if serveErr != nil && serveErr != http.ErrServerClosed {
				logf("[WARN] metrics endpoint failed: %v", serveErr)
			}
		}()

		logf("[METRICS] listening on %s", cfg.MetricsListen)
	}

	return app, nil
}

// Close drains the progress consumer and stops the metrics endpoint.
func (a *App) Close() {
	a.Stream.Close()
	<-a.consumerDone

	if a.metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		_ = a.metricsSrv.Shutdown(shutdownCtx)

		cancel()
	}
}

// consume prints stream messages. Progress tuples redraw a single line;
// log lines get their own line with severity coloring.
func (a *App) consume() {
	defer close(a.consumerDone)

	onProgressLine := false

	for msg := range a.Stream.Messages() {
		switch msg.Kind {
		case progress.KindProgress:
			if Quiet {
				continue
			}

			fmt.Fprintf(os.Stderr, "\r[PROGRESS] itens %d/%d | chunk %d/%d (tecnico %d/%d)   ",
				msg.Progress.ItemsDone, msg.Progress.ItemsTotal,
				msg.Progress.AttemptChunk, msg.Progress.AttemptChunksTotal,
				msg.Progress.TechnicalChunk, msg.Progress.TechnicalChunksTotal)

			onProgressLine = true
		case progress.KindLog:
			if Quiet {
				continue
			}

			if onProgressLine {
				fmt.Fprintln(os.Stderr)

				onProgressLine = false
			}

			logColor(msg.Line).Fprintln(os.Stderr, msg.Line)
		}
	}

	if onProgressLine {
		fmt.Fprintln(os.Stderr)
	}
}

func logColor(line string) *color.Color {
	switch {
	case strings.Contains(line, "[WARN]"):
		return color.New(color.FgYellow)
	case strings.Contains(line, "FAIL") || strings.Contains(line, "ERRO"):
		return color.New(color.FgRed)
	default:
		return color.New(color.Reset)
	}
}

// statusColor maps a terminal workflow status to its display color.
func statusColor(status string) *color.Color {
	switch {
	case strings.HasPrefix(status, "PASS_WITH"):
		return color.New(color.FgYellow)
	case strings.HasPrefix(status, "PASS") || strings.HasPrefix(status, "ALREADY_SENT_PASS"):
		return color.New(color.FgGreen)
	case status == "INTERRUPTED":
		return color.New(color.FgYellow)
	case status == "FAIL":
		return color.New(color.FgRed)
	default:
		return color.New(color.Reset)
	}
}

// renderSummary prints a two-column key/value table to stdout.
func renderSummary(title string, rows [][2]string) {
	tbl := table.NewWriter()
	tbl.SetOutputMirror(os.Stdout)
	tbl.SetStyle(table.StyleLight)
	tbl.SetTitle(title)

	for _, row := range rows {
		tbl.AppendRow(table.Row{row[0], row[1]})
	}

	tbl.Render()
}

// commandContext returns a context cancelled by SIGINT/SIGTERM so workflows
// can settle the in-flight item and persist an INTERRUPTED state.
func commandContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// baseDir anchors the toolkits/ and runs/ lookups next to the binary,
// falling back to the working directory for `go run`.
func baseDir() string {
	exe, err := os.Executable()
	if err == nil {
		if resolved, symErr := filepath.EvalSymlinks(exe); symErr == nil {
			exe = resolved
		}

		return filepath.Dir(exe)
	}

	wd, err := os.Getwd()
	if err != nil {
		return "."
	}

	return wd
}
