package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync/atomic"
	"time"
)

// waitDelay bounds how long Wait keeps draining pipes after the process is gone.
const waitDelay = 2 * time.Second

type procSpec struct {
	Args        []string
	Dir         string
	Stdin       string
	Timeout     time.Duration
	OutputLimit int64
}

type procResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	TimedOut bool
	Duration time.Duration
}

// runProcess starts the command in its own process group and waits for it.
// When the wall timeout fires, the whole group is killed and TimedOut is set.
// An error is returned only when the process could not be started or the
// caller's context was cancelled.
func runProcess(ctx context.Context, spec procSpec) (procResult, error) {
	if len(spec.Args) == 0 {
		return procResult{}, fmt.Errorf("command is required")
	}

	cmd := exec.Command(spec.Args[0], spec.Args[1:]...)
	cmd.Dir = spec.Dir
	cmd.Stdin = strings.NewReader(spec.Stdin)
	cmd.Env = os.Environ()
	cmd.WaitDelay = waitDelay
	configureProcess(cmd)

	stdout := newLimitedBuffer(spec.OutputLimit)
	stderr := newLimitedBuffer(spec.OutputLimit)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return procResult{}, fmt.Errorf("start %s: %w", spec.Args[0], err)
	}

	var timedOut atomic.Bool
	var cancelled atomic.Bool
	done := make(chan struct{})
	go func() {
		var wallTimer <-chan time.Time
		if spec.Timeout > 0 {
			timer := time.NewTimer(spec.Timeout)
			defer timer.Stop()
			wallTimer = timer.C
		}
		select {
		case <-ctx.Done():
			cancelled.Store(true)
			killProcessGroup(cmd)
		case <-wallTimer:
			timedOut.Store(true)
			killProcessGroup(cmd)
		case <-done:
		}
	}()

	waitErr := cmd.Wait()
	close(done)

	res := procResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: exitCodeFromErr(waitErr, cmd.ProcessState),
		TimedOut: timedOut.Load(),
		Duration: time.Since(start),
	}
	if cancelled.Load() {
		return res, ctx.Err()
	}
	if waitErr != nil && !res.TimedOut && !isExitError(waitErr) && !errors.Is(waitErr, exec.ErrWaitDelay) {
		return res, fmt.Errorf("wait %s: %w", spec.Args[0], waitErr)
	}
	return res, nil
}

func exitCodeFromErr(err error, state *os.ProcessState) int {
	if state != nil {
		return state.ExitCode()
	}
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

func isExitError(err error) bool {
	var exitErr *exec.ExitError
	return errors.As(err, &exitErr)
}
