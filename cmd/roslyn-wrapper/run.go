package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/teranos/roslyn-wrapper/config"
	"github.com/teranos/roslyn-wrapper/discovery"
	"github.com/teranos/roslyn-wrapper/errors"
	"github.com/teranos/roslyn-wrapper/frame"
	"github.com/teranos/roslyn-wrapper/logger"
	"github.com/teranos/roslyn-wrapper/provision"
	"github.com/teranos/roslyn-wrapper/router"
	"github.com/teranos/roslyn-wrapper/supervisor"
	"go.uber.org/zap"
)

// Process exit codes
const (
	ExitOK           = 0
	ExitFailure      = 1  // protocol or internal failure
	ExitUnavailable  = 69 // the server could not be provisioned
	ExitChildFailure = 70 // the server failed without an exit code
)

// drainTimeout bounds how long server output is still forwarded after the
// session ends.
const drainTimeout = 2 * time.Second

type mode int

const (
	modeProxy mode = iota
	modePassthrough
	modeExplicitPath
)

func (m mode) String() string {
	switch m {
	case modeProxy:
		return "proxy"
	case modePassthrough:
		return "passthrough"
	default:
		return "explicit-path"
	}
}

// selectMode picks the run mode from the raw arguments. A first argument that
// is not a flag names the server executable.
func selectMode(args []string) mode {
	switch {
	case len(args) == 0:
		return modeProxy
	case strings.HasPrefix(args[0], "-"):
		return modePassthrough
	default:
		return modeExplicitPath
	}
}

func run(ctx context.Context, cfg *config.Config, args []string) int {
	log := logger.ComponentLogger("main")
	m := selectMode(args)
	log.Infow("mode selected", "mode", m.String(), logger.FieldArgs, args)

	status := newStatusWriter(os.Stderr)
	editor := editorStreams{In: os.Stdin, Out: os.Stdout}

	switch m {
	case modePassthrough:
		exe, code := provisionServer(ctx, cfg, status, log)
		if code != ExitOK || exe == "" {
			return code
		}
		return passthrough(ctx, cfg, exe, args, log)
	case modeExplicitPath:
		return proxy(ctx, cfg, args[0], args[1:], editor, log)
	default:
		exe, code := provisionServer(ctx, cfg, status, log)
		if code != ExitOK || exe == "" {
			return code
		}
		return proxy(ctx, cfg, exe, nil, editor, log)
	}
}

// editorStreams are the wrapper's own stdin and stdout.
type editorStreams struct {
	In  io.Reader
	Out io.Writer
}

// provisionServer returns the server executable, falling back to a
// `dotnet tool` global install when the download fails.
func provisionServer(ctx context.Context, cfg *config.Config, status *statusWriter, log *zap.SugaredLogger) (string, int) {
	root, err := cfg.CacheDir()
	if err != nil {
		log.Errorw("no cache directory", logger.FieldError, err)
		return "", ExitUnavailable
	}
	cache, err := provision.NewCache(root)
	if err != nil {
		log.Errorw("invalid cache directory", logger.FieldPath, root, logger.FieldError, err)
		return "", ExitUnavailable
	}
	p := provision.New(cache, provision.Options{
		Origin:   cfg.Download.Origin,
		Retries:  cfg.Download.Retries,
		Timeout:  cfg.DownloadTimeout(),
		Prune:    cfg.Cache.Prune,
		Progress: status.Info,
	})

	exe, err := p.Acquire(ctx, cfg.Server.Version)
	if err == nil {
		return exe, ExitOK
	}
	if ctx.Err() != nil {
		log.Infow("provisioning cancelled")
		return "", ExitOK
	}

	global, gerr := provision.FindGlobalInstall()
	if gerr == nil {
		log.Warnw("provisioning failed, using global install",
			logger.FieldBinary, global,
			logger.FieldError, err)
		status.Warning("Roslyn language server download failed, using global install " + global)
		return global, ExitOK
	}
	log.Errorw("provisioning failed",
		logger.FieldVersion, cfg.Server.Version,
		"kind", provisionKind(err),
		logger.FieldError, err)
	reportFatal(err)
	return "", ExitUnavailable
}

func provisionKind(err error) string {
	switch {
	case errors.Is(err, provision.ErrUnsupportedPlatform):
		return "unsupported-platform"
	case errors.Is(err, provision.ErrNetwork):
		return "network"
	case errors.Is(err, provision.ErrDiskWrite):
		return "disk-write"
	case errors.Is(err, provision.ErrArtifactFormat):
		return "artifact-format"
	default:
		return "other"
	}
}

func passthrough(ctx context.Context, cfg *config.Config, exe string, args []string, log *zap.SugaredLogger) int {
	code, err := supervisor.RunPassthrough(ctx, supervisor.Config{
		Path:        exe,
		Args:        args,
		GracePeriod: cfg.GracePeriod(),
	}, supervisor.Stdio{In: os.Stdin, Out: os.Stdout, Err: os.Stderr})
	if err != nil {
		log.Errorw("passthrough failed", logger.FieldBinary, exe, logger.FieldError, err)
		reportFatal(err)
		return ExitChildFailure
	}
	if ctx.Err() != nil {
		return ExitOK
	}
	return childExitCode(code)
}

func proxy(ctx context.Context, cfg *config.Config, exe string, extra []string, editor editorStreams, log *zap.SugaredLogger) int {
	logDir, err := cfg.LogDir()
	if err != nil {
		log.Errorw("no log directory for the server", logger.FieldError, err)
		return ExitFailure
	}
	args, err := cfg.ServerArgs(logDir)
	if err != nil {
		log.Errorw("invalid server arguments", logger.FieldError, err)
		return ExitFailure
	}
	args = append(args, extra...)

	proc, err := supervisor.Start(ctx, supervisor.Config{
		Path:        exe,
		Args:        args,
		GracePeriod: cfg.GracePeriod(),
	})
	if err != nil {
		if ctx.Err() != nil {
			return ExitOK
		}
		log.Errorw("failed to start language server", logger.FieldBinary, exe, logger.FieldError, err)
		reportFatal(err)
		return ExitChildFailure
	}

	r := router.New(router.Options{
		Finder: discovery.NewOS(discovery.Options{
			MaxDepth: cfg.Discovery.MaxDepth,
			SkipDirs: cfg.Discovery.SkipDirs,
		}),
		DiscoveryTimeout: cfg.DiscoveryTimeout(),
		SetLogLevel:      logger.SetLevel,
	})
	runErr := r.Run(ctx, router.Streams{
		ClientIn:  editor.In,
		ClientOut: editor.Out,
		ServerIn:  proc.Stdout(),
		ServerOut: proc.Stdin(),
	})

	end := classify(runErr)
	log.Infow("session ended", "end", end.String(), logger.FieldError, runErr)
	return shutdown(proc, r, end, cfg.GracePeriod(), log)
}

// shutdown stops the child and returns the wrapper's exit code.
func shutdown(proc *supervisor.Process, r *router.Router, end sessionEnd, grace time.Duration, log *zap.SugaredLogger) int {
	if end == endChild {
		// Let the child finish exiting so its own code is reported
		select {
		case <-proc.Done():
		case <-time.After(grace):
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), grace+drainTimeout)
	defer cancel()
	if err := proc.Terminate(ctx); err != nil {
		log.Warnw("terminate", logger.FieldPID, proc.PID(), logger.FieldError, err)
	}

	select {
	case <-r.ServerDrained():
	case <-time.After(drainTimeout):
		log.Warnw("server output not drained", logger.FieldPID, proc.PID())
	}

	code, err := proc.Wait()
	if err != nil {
		log.Warnw("wait", logger.FieldPID, proc.PID(), logger.FieldError, err)
	}
	log.Infow("language server exited", logger.FieldPID, proc.PID(), logger.FieldExitCode, code)

	switch end {
	case endChild:
		return childExitCode(code)
	case endFraming:
		return ExitFailure
	default:
		return ExitOK
	}
}

type sessionEnd int

const (
	endClient sessionEnd = iota // editor closed its side
	endChild                    // server exited or stopped reading
	endSignal                   // interrupted
	endFraming                  // undecodable frame or internal failure
)

func (e sessionEnd) String() string {
	switch e {
	case endClient:
		return "client"
	case endChild:
		return "child"
	case endSignal:
		return "signal"
	default:
		return "failure"
	}
}

// classify decides which side ended the session.
func classify(err error) sessionEnd {
	var loopErr *router.LoopError
	if !errors.As(err, &loopErr) {
		if errors.IsAny(err, context.Canceled, context.DeadlineExceeded) {
			return endSignal
		}
		return endFraming
	}
	if frame.IsFramingError(loopErr) {
		return endFraming
	}
	switch loopErr.Direction {
	case router.ServerToClient:
		if loopErr.Op == "read" {
			return endChild
		}
		return endClient
	default:
		if loopErr.Op == "write" {
			return endChild
		}
		if errors.Is(loopErr, io.EOF) {
			return endClient
		}
		return endFraming
	}
}

func childExitCode(code int) int {
	if code == supervisor.ExitCodeUnknown {
		return ExitChildFailure
	}
	return code
}

func reportFatal(err error) {
	fmt.Fprintf(os.Stderr, "roslyn-wrapper: %v\n", err)
	if hint := errors.FlattenHints(err); hint != "" {
		fmt.Fprintf(os.Stderr, "hint: %s\n", hint)
	}
}
