package worker

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ExitResult reports how a launched worker terminated. It is delivered
// exactly once per launched process, after both output streams are drained.
type ExitResult struct {
	Code     int
	TimedOut bool
	Err      error
	Runtime  time.Duration
}

// Success reports a clean zero exit. A zero exit code is necessary but not
// sufficient for a generation to be considered complete; the orchestrator
// still expects the final protocol marker.
func (r ExitResult) Success() bool {
	return !r.TimedOut && r.Err == nil && r.Code == 0
}

// Sink consumes a worker's live output streams and its terminal exit event.
// Stdout is delivered as raw chunks so the protocol parser can reassemble
// lines across chunk boundaries; stderr is delivered per line.
type Sink interface {
	Stdout(chunk []byte)
	Stderr(line string)
	Exit(res ExitResult)
}

// Launcher abstracts process launching so the orchestrator can be exercised
// without spawning real processes.
type Launcher interface {
	Launch(ctx context.Context, spec Spec, timeout time.Duration, sink Sink) error
}

// Supervisor spawns worker processes, wires their output streams into a Sink,
// and enforces a hard wall-clock timeout. The launched process is detached
// from the triggering request's lifetime: Launch returns as soon as the
// process has started.
type Supervisor struct {
	logger zerolog.Logger
}

// NewSupervisor creates a process supervisor.
func NewSupervisor(logger zerolog.Logger) *Supervisor {
	return &Supervisor{logger: logger}
}

// Launch starts the worker described by spec. The timeout is a safety net
// against a hung worker, not a soft deadline: when it expires the process is
// forcibly terminated and the exit reports TimedOut. A zero timeout disables
// the wall clock.
func (s *Supervisor) Launch(ctx context.Context, spec Spec, timeout time.Duration, sink Sink) error {
	if err := spec.Validate(); err != nil {
		return err
	}
	if sink == nil {
		return errors.New("worker: sink is required")
	}

	runCtx := ctx
	cancel := context.CancelFunc(func() {})
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		s.logger.Warn().Str("executable", spec.Executable).Msg("worker launched without timeout")
	}

	cmd := exec.CommandContext(runCtx, spec.Executable, spec.Args...)
	cmd.Env = spec.Env
	cmd.Dir = spec.Dir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("worker: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("worker: stderr pipe: %w", err)
	}

	started := time.Now()
	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("worker: start %s: %w", spec.Executable, err)
	}
	s.logger.Debug().Str("executable", spec.Executable).Int("pid", cmd.Process.Pid).Msg("worker started")

	go s.monitor(runCtx, cancel, cmd, stdout, stderr, sink, started)
	return nil
}

// monitor drains both streams, waits for the process, and delivers the single
// exit event. Streams are fully drained before Wait so a final marker flushed
// just before exit is never lost.
func (s *Supervisor) monitor(ctx context.Context, cancel context.CancelFunc, cmd *exec.Cmd, stdout, stderr io.Reader, sink Sink, started time.Time) {
	defer cancel()

	var g errgroup.Group
	g.Go(func() error { return readChunks(stdout, sink.Stdout) })
	g.Go(func() error { return readLines(stderr, sink.Stderr) })
	if err := g.Wait(); err != nil {
		s.logger.Error().Err(err).Msg("worker stream read failed")
	}

	waitErr := cmd.Wait()
	res := ExitResult{
		Runtime:  time.Since(started),
		TimedOut: errors.Is(ctx.Err(), context.DeadlineExceeded),
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			res.Code = exitErr.ExitCode()
		} else {
			res.Code = -1
			res.Err = waitErr
		}
	}
	sink.Exit(res)
}

// readChunks forwards raw byte chunks as they arrive, preserving order and
// leaving line reconstruction to the consumer.
func readChunks(r io.Reader, fn func([]byte)) error {
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			fn(chunk)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

func readLines(r io.Reader, fn func(string)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		fn(scanner.Text())
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

var _ Launcher = (*Supervisor)(nil)
