package supervisor

import (
	"context"
	"io"
	"os/exec"
	"time"

	"github.com/teranos/roslyn-wrapper/errors"
	"github.com/teranos/roslyn-wrapper/logger"
)

// Stdio is the set of streams a passthrough child inherits.
type Stdio struct {
	In  io.Reader
	Out io.Writer
	Err io.Writer
}

// RunPassthrough runs the child attached directly to stdio, with no protocol
// handling, and returns its exit code. If ctx ends first the child is
// terminated.
func RunPassthrough(ctx context.Context, cfg Config, stdio Stdio) (int, error) {
	log := logger.ComponentLogger("supervisor")

	cmd := exec.Command(cfg.Path, cfg.Args...)
	cmd.Env = cfg.Env
	cmd.Dir = cfg.Dir
	cmd.Stdin = stdio.In
	cmd.Stdout = stdio.Out
	cmd.Stderr = stdio.Err

	if err := cmd.Start(); err != nil {
		return ExitCodeUnknown, errors.Mark(errors.Wrapf(err, "failed to start %s", cfg.Path), ErrSpawn)
	}
	log.Infow("language server started in passthrough mode",
		logger.FieldPID, cmd.Process.Pid,
		logger.FieldArgs, cfg.Args)

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		log.Infow("terminating passthrough child", logger.FieldPID, cmd.Process.Pid)
		grace := cfg.GracePeriod
		if grace <= 0 {
			grace = DefaultGracePeriod
		}
		// Without a stop signal the child can still exit on its own
		gracefulStop(cmd.Process)
		exited := false
		select {
		case err = <-done:
			exited = true
		case <-time.After(grace):
		}
		if !exited {
			_ = killTree(cmd.Process.Pid)
			_ = cmd.Process.Kill()
			err = <-done
		}
	}

	code := ExitCodeUnknown
	if cmd.ProcessState != nil {
		code = cmd.ProcessState.ExitCode()
	}
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return code, errors.Wrap(err, "failed to reap language server")
	}
	log.Infow("language server exited", logger.FieldExitCode, code)
	return code, nil
}
