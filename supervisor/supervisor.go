// Package supervisor runs the language server as a child process and owns
// its lifetime.
package supervisor

import (
	"bufio"
	"context"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"github.com/teranos/roslyn-wrapper/errors"
	"github.com/teranos/roslyn-wrapper/logger"
	"go.uber.org/zap"
)

// ExitCodeUnknown is reported when the child was killed by a signal.
const ExitCodeUnknown = -1

// DefaultGracePeriod is how long Terminate waits before killing.
const DefaultGracePeriod = 3 * time.Second

// ErrSpawn marks failures to start the child.
var ErrSpawn = errors.New("failed to start language server")

// gracefulStop sends the platform's stop request, if it has one.
var gracefulStop = sendStopSignal

const maxStderrLine = 1 << 20

// Config describes the child to run.
type Config struct {
	Path string
	Args []string
	// Env is the child's environment; nil inherits ours
	Env []string
	Dir string
	// GracePeriod between the stop signal and a kill; zero means DefaultGracePeriod
	GracePeriod time.Duration
}

// Process is a running child. Stdin and Stdout carry the protocol; stderr is
// drained into the log.
type Process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	grace  time.Duration
	logger *zap.SugaredLogger

	done     chan struct{}
	exitCode int
	waitErr  error

	stdinOnce sync.Once
}

// Start spawns the child with piped stdin and stdout.
func Start(ctx context.Context, cfg Config) (*Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "not starting language server")
	}

	cmd := exec.Command(cfg.Path, cfg.Args...)
	cmd.Env = cfg.Env
	cmd.Dir = cfg.Dir

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "failed to create stdin pipe"), ErrSpawn)
	}

	// Plain OS pipes so that reaping the child never closes a reader the
	// router is still draining.
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "failed to create stdout pipe"), ErrSpawn)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		stdoutR.Close()
		stdoutW.Close()
		return nil, errors.Mark(errors.Wrap(err, "failed to create stderr pipe"), ErrSpawn)
	}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	startErr := cmd.Start()
	// The child holds its own copies now
	stdoutW.Close()
	stderrW.Close()
	if startErr != nil {
		stdoutR.Close()
		stderrR.Close()
		return nil, errors.Mark(errors.Wrapf(startErr, "failed to start %s", cfg.Path), ErrSpawn)
	}

	grace := cfg.GracePeriod
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	p := &Process{
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdoutR,
		grace:  grace,
		logger: logger.ChildLogger(logger.ComponentLogger("supervisor"), logger.FieldPID, cmd.Process.Pid),
		done:   make(chan struct{}),
	}
	p.logger.Infow("language server started", logger.FieldBinary, cfg.Path, logger.FieldArgs, cfg.Args)

	go drainStderr(stderrR, logger.ChildLogger(logger.ComponentLogger("roslyn"), logger.FieldPID, cmd.Process.Pid))
	go p.reap()

	return p, nil
}

func (p *Process) PID() int {
	return p.cmd.Process.Pid
}

// Stdin is the client-to-server half of the protocol stream.
func (p *Process) Stdin() io.WriteCloser {
	return p.stdin
}

// Stdout is the server-to-client half of the protocol stream.
func (p *Process) Stdout() io.ReadCloser {
	return p.stdout
}

// Done is closed once the child has been reaped.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the child exits and returns its exit code, or
// ExitCodeUnknown if it was killed by a signal. Safe to call repeatedly.
func (p *Process) Wait() (int, error) {
	<-p.done
	return p.exitCode, p.waitErr
}

// CloseStdin signals end of input to the child.
func (p *Process) CloseStdin() error {
	var err error
	p.stdinOnce.Do(func() {
		err = p.stdin.Close()
	})
	return err
}

// Terminate stops the child: close its stdin, ask it to stop, and kill it and
// its descendants if it is still running after the grace period or once ctx
// ends. Returns once the child has been reaped.
func (p *Process) Terminate(ctx context.Context) error {
	_ = p.CloseStdin()

	select {
	case <-p.done:
		return nil
	default:
	}

	if gracefulStop(p.cmd.Process) {
		p.logger.Debugw("stop signal sent, waiting", "grace_period", p.grace.String())
	} else {
		p.logger.Debugw("stdin closed, waiting", "grace_period", p.grace.String())
	}
	timer := time.NewTimer(p.grace)
	defer timer.Stop()
	select {
	case <-p.done:
		return nil
	case <-timer.C:
		p.logger.Warnw("language server still running after grace period, killing")
	case <-ctx.Done():
	}

	if err := killTree(p.cmd.Process.Pid); err != nil {
		p.logger.Debugw("process tree kill incomplete", logger.FieldError, err)
	}
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		select {
		case <-p.done:
			return nil
		default:
		}
		return errors.Wrapf(err, "failed to kill language server (pid %d)", p.PID())
	}
	<-p.done
	return nil
}

func (p *Process) reap() {
	defer close(p.done)
	err := p.cmd.Wait()
	p.exitCode = ExitCodeUnknown
	if p.cmd.ProcessState != nil {
		p.exitCode = p.cmd.ProcessState.ExitCode()
	}

	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		p.waitErr = errors.Wrap(err, "failed to reap language server")
	}
	p.logger.Infow("language server exited", logger.FieldExitCode, p.exitCode)
}

// killTree kills every descendant of pid, deepest first. Descendants that have
// already gone are ignored.
func killTree(pid int) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	root, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return err
	}
	var errs error
	var walk func(p *process.Process)
	walk = func(p *process.Process) {
		children, err := p.ChildrenWithContext(ctx)
		if err != nil {
			return
		}
		for _, c := range children {
			walk(c)
			if err := c.KillWithContext(ctx); err != nil {
				errs = errors.CombineErrors(errs, err)
			}
		}
	}
	walk(root)
	return errs
}

func drainStderr(r io.ReadCloser, log *zap.SugaredLogger) {
	defer r.Close()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxStderrLine)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			log.Info(line)
		}
	}
	if err := scanner.Err(); err != nil {
		log.Debugw("stderr drain stopped", logger.FieldError, err)
	}
}
