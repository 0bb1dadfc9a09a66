package send

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"
)

// cancelPollInterval is the cadence of the cancel watcher while a toolkit
// child runs.
const cancelPollInterval = 150 * time.Millisecond

// maxOutputLineBytes bounds one output line. Association dumps can carry long
// attribute listings on a single line.
const maxOutputLineBytes = 1 << 20

// chunkRun is the outcome of one toolkit child invocation.
type chunkRun struct {
	Lines       []string
	ExitCode    int
	Interrupted bool
}

// runChunkProcess spawns one toolkit child with stdout and stderr merged,
// appends every line verbatim to rawLog, and feeds it to onLine while the
// process is still running. A watcher polls the cancel signal and
// force-kills the whole process tree when it fires; onKill is called once
// with the pid before the kill.
func runChunkProcess(cancelled func() bool, argv []string, rawLog *os.File, onLine func(string), onKill func(pid int)) (chunkRun, error) {
	cmd := exec.Command(argv[0], argv[1:]...)
	configureProcessGroup(cmd)

	pr, pw, err := os.Pipe()
	if err != nil {
		return chunkRun{}, fmt.Errorf("create output pipe: %w", err)
	}

	cmd.Stdout = pw
	cmd.Stderr = pw

	if err = cmd.Start(); err != nil {
		pw.Close()
		pr.Close()

		return chunkRun{}, fmt.Errorf("start toolkit process: %w", err)
	}

	// The child holds the write end now; closing ours lets the read loop see
	// EOF when the child exits.
	pw.Close()

	var (
		interrupted atomic.Bool
		watcherDone = make(chan struct{})
		watcherWG   sync.WaitGroup
	)

	pid := cmd.Process.Pid

	watcherWG.Add(1)

	go func() {
		defer watcherWG.Done()

		ticker := time.NewTicker(cancelPollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-watcherDone:
				return
			case <-ticker.C:
				if cancelled() {
					if interrupted.CompareAndSwap(false, true) && onKill != nil {
						onKill(pid)
					}

					killProcessTree(pid)

					return
				}
			}
		}
	}()

	var lines []string

	scanner := bufio.NewScanner(pr)
	scanner.Buffer(make([]byte, 64*1024), maxOutputLineBytes)

	for scanner.Scan() {
		line := scanner.Text()
		lines = append(lines, line)

		if rawLog != nil {
			_, _ = rawLog.WriteString(line + "\n")
			_ = rawLog.Sync()
		}

		if cancelled() {
			if interrupted.CompareAndSwap(false, true) && onKill != nil {
				onKill(pid)
			}

			killProcessTree(pid)

			break
		}

		if !interrupted.Load() && onLine != nil {
			onLine(line)
		}
	}

	close(watcherDone)
	watcherWG.Wait()
	pr.Close()

	waitErr := cmd.Wait()

	exitCode := 0
	if waitErr != nil {
		exitCode = -1

		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
	}

	return chunkRun{Lines: lines, ExitCode: exitCode, Interrupted: interrupted.Load()}, nil
}
