package router

import (
	"context"
	"fmt"
	"time"

	"github.com/teranos/roslyn-wrapper/discovery"
	"github.com/teranos/roslyn-wrapper/errors"
	"github.com/teranos/roslyn-wrapper/frame"
	"github.com/teranos/roslyn-wrapper/internal/fileuri"
	"github.com/teranos/roslyn-wrapper/logger"
	protocol "github.com/tliron/glsp/protocol_3_16"
)

// captureInitialize records the workspace roots and wrapper options of the
// initialize request.
func (r *Router) captureInitialize(body []byte) {
	r.init = parseInitialize(body)

	seen := make(map[string]bool)
	add := func(path string) {
		if path != "" && !seen[path] {
			seen[path] = true
			r.roots = append(r.roots, path)
		}
	}
	for _, folder := range r.init.WorkspaceFolders {
		path, err := fileuri.ToPath(string(folder.URI))
		if err != nil {
			r.logger.Warnw("ignoring workspace folder", logger.FieldURL, folder.URI, logger.FieldError, err)
			continue
		}
		add(path)
	}
	if r.init.RootURI != "" {
		if path, err := fileuri.ToPath(r.init.RootURI); err == nil {
			add(path)
		} else {
			r.logger.Warnw("ignoring rootUri", logger.FieldURL, r.init.RootURI, logger.FieldError, err)
		}
	}
	add(r.init.RootPath)

	if r.init.OptionsErr != nil {
		r.logger.Warnw("ignoring malformed initializationOptions", logger.FieldError, r.init.OptionsErr)
	}
	if lg := r.init.Options.Logging; lg != nil && lg.Level != "" && r.opts.SetLogLevel != nil {
		if err := r.opts.SetLogLevel(lg.Level); err != nil {
			r.logger.Warnw("ignoring logging.level from initializationOptions", "level", lg.Level, logger.FieldError, err)
		}
	}

	r.logger.Infow("initialize captured",
		logger.FieldRoot, r.roots,
		"explicit_target", r.init.Options.hasTarget())
}

// openWorkspace runs once, right after initialized has been forwarded. The
// client loop does not read its next frame until this returns.
func (r *Router) openWorkspace(ctx context.Context) error {
	target, err := r.resolveTarget(ctx)
	if err != nil || target.Empty() {
		msg := noTargetMessage
		if err != nil {
			msg = fmt.Sprintf(discoveryFailMessage, describe(err))
			r.logger.Warnw("workspace target not resolved", logger.FieldError, err)
		} else {
			r.logger.Infow("no solution or project found", logger.FieldRoot, r.roots)
		}
		r.setState(PassThrough)
		r.warnClient(msg)
		return nil
	}

	n, err := openNotification(target)
	if err != nil {
		r.logger.Errorw("failed to build open notification", logger.FieldError, err)
		r.setState(PassThrough)
		r.warnClient(fmt.Sprintf(discoveryFailMessage, describe(err)))
		return nil
	}
	f, err := frame.New(n)
	if err != nil {
		return &LoopError{Direction: ClientToServer, Op: "write", Err: err}
	}
	if err := r.toServer.Write(f); err != nil {
		return &LoopError{Direction: ClientToServer, Op: "write", Err: err}
	}
	r.setState(Injected)
	r.logger.Infow("workspace opened", logger.FieldMethod, n.Method, "solution", target.Solution, "projects", len(target.Projects))
	r.setState(PassThrough)
	return nil
}

func (r *Router) resolveTarget(ctx context.Context) (discovery.Target, error) {
	if r.init.Options.hasTarget() {
		return r.explicitTarget()
	}
	if r.opts.Finder == nil || len(r.roots) == 0 {
		return discovery.Target{}, nil
	}

	dctx, cancel := context.WithTimeout(ctx, r.opts.DiscoveryTimeout)
	defer cancel()

	start := time.Now()
	target, err := r.opts.Finder.Find(dctx, r.roots)
	if err != nil {
		if errors.IsTimeoutError(err) {
			err = errors.WrapTimeout(err, fmt.Sprintf("discovery timed out after %s", r.opts.DiscoveryTimeout))
		}
		return discovery.Target{}, err
	}
	r.logger.Debugw("discovery complete", logger.FieldDurationMS, time.Since(start).Milliseconds())
	return target, nil
}

// explicitTarget turns initializationOptions.solution/projects into a target.
// Relative paths are taken relative to the first workspace root.
func (r *Router) explicitTarget() (discovery.Target, error) {
	base := ""
	if len(r.roots) > 0 {
		base = r.roots[0]
	}
	if r.init.Options.Solution != "" {
		path, err := fileuri.Resolve(r.init.Options.Solution, base)
		if err != nil {
			return discovery.Target{}, errors.Wrap(err, "invalid initializationOptions.solution")
		}
		return discovery.Target{Solution: path}, nil
	}
	projects := make([]string, 0, len(r.init.Options.Projects))
	for _, p := range r.init.Options.Projects {
		path, err := fileuri.Resolve(p, base)
		if err != nil {
			return discovery.Target{}, errors.Wrap(err, "invalid initializationOptions.projects")
		}
		projects = append(projects, path)
	}
	return discovery.Target{Projects: projects}, nil
}

func openNotification(t discovery.Target) (notification, error) {
	if t.IsSolution() {
		u, err := fileuri.FromPath(t.Solution)
		if err != nil {
			return notification{}, err
		}
		return newNotification(MethodSolutionOpen, solutionOpenParams{URI: protocol.DocumentUri(u)}), nil
	}
	uris := make([]protocol.DocumentUri, 0, len(t.Projects))
	for _, p := range t.Projects {
		u, err := fileuri.FromPath(p)
		if err != nil {
			return notification{}, err
		}
		uris = append(uris, protocol.DocumentUri(u))
	}
	return newNotification(MethodProjectOpen, projectOpenParams{URIs: uris}), nil
}

// warnClient sends a window/showMessage warning to the editor. A failed
// write is left for the server-to-client loop to report.
func (r *Router) warnClient(message string) {
	n := newNotification(MethodShowMessage, protocol.ShowMessageParams{
		Type:    protocol.MessageTypeWarning,
		Message: message,
	})
	if err := r.toClient.WriteValue(n); err != nil {
		r.logger.Errorw("failed to warn client", logger.FieldError, err)
	}
}

func describe(err error) string {
	if errors.Is(err, errors.ErrTimeout) {
		return "timed out"
	}
	return err.Error()
}
