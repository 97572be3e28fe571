// Package router proxies framed JSON-RPC between an editor and the language
// server, opening the workspace's solution or projects once the handshake
// completes.
package router

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/teranos/roslyn-wrapper/discovery"
	"github.com/teranos/roslyn-wrapper/errors"
	"github.com/teranos/roslyn-wrapper/frame"
	"github.com/teranos/roslyn-wrapper/logger"
	"github.com/tidwall/sjson"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultDiscoveryTimeout bounds the workspace search at the injection point.
const DefaultDiscoveryTimeout = 5 * time.Second

const (
	noTargetMessage      = "No solution or project file was found in the workspace. C# features are limited until a project is opened."
	discoveryFailMessage = "Searching the workspace for a solution or project file failed (%s). C# features are limited until a project is opened."
)

// Finder locates the workspace target. *discovery.Finder satisfies it.
type Finder interface {
	Find(ctx context.Context, roots []string) (discovery.Target, error)
}

// Options configures a Router.
type Options struct {
	Finder           Finder
	DiscoveryTimeout time.Duration
	// SetLogLevel receives initializationOptions.logging.level, if present
	SetLogLevel func(level string) error
}

// Streams are the four stream ends a session forwards between.
type Streams struct {
	ClientIn  io.Reader // editor -> wrapper
	ClientOut io.Writer // wrapper -> editor
	ServerIn  io.Reader // language server stdout
	ServerOut io.Writer // language server stdin
}

// LoopError reports why a forwarding loop stopped. Err is io.EOF when the
// reading side closed cleanly.
type LoopError struct {
	Direction Direction
	Op        string // "read" or "write"
	Err       error
}

func (e *LoopError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Direction, e.Op, e.Err)
}

func (e *LoopError) Unwrap() error {
	return e.Err
}

// Router runs one proxy session. It is not reusable.
type Router struct {
	opts   Options
	state  atomic.Int32
	logger *zap.SugaredLogger

	toClient *frame.Writer
	toServer *frame.Writer

	init       initializeRequest
	roots      []string
	serverDone chan struct{}
}

// New creates a Router for a single session.
func New(opts Options) *Router {
	if opts.DiscoveryTimeout <= 0 {
		opts.DiscoveryTimeout = DefaultDiscoveryTimeout
	}
	return &Router{
		opts:       opts,
		logger:     logger.ComponentLogger("router"),
		serverDone: make(chan struct{}),
	}
}

// State returns the current handshake state.
func (r *Router) State() State {
	return State(r.state.Load())
}

func (r *Router) setState(s State) {
	prev := State(r.state.Swap(int32(s)))
	r.logger.Debugw("handshake state changed", "from", prev.String(), logger.FieldState, s.String())
}

// ServerDrained is closed once the server-to-client loop has stopped, i.e.
// every frame the server wrote has been forwarded or forwarding failed.
func (r *Router) ServerDrained() <-chan struct{} {
	return r.serverDone
}

// Run forwards frames in both directions until either loop stops or ctx is
// cancelled. It returns the *LoopError of the loop that stopped first; the
// other loop keeps running until its own streams close.
func (r *Router) Run(ctx context.Context, s Streams) error {
	r.toClient = frame.NewWriter(s.ClientOut)
	r.toServer = frame.NewWriter(s.ServerOut)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return r.clientToServer(gctx, frame.NewReader(s.ClientIn))
	})
	g.Go(func() error {
		defer close(r.serverDone)
		return r.serverToClient(frame.NewReader(s.ServerIn))
	})

	<-gctx.Done()
	cause := context.Cause(gctx)
	var loopErr *LoopError
	if errors.As(cause, &loopErr) {
		if errors.Is(loopErr, io.EOF) {
			r.logger.Infow("stream closed", logger.FieldDirection, loopErr.Direction.String())
		} else {
			r.logger.Errorw("forwarding stopped",
				logger.FieldDirection, loopErr.Direction.String(),
				logger.FieldOperation, loopErr.Op,
				logger.FieldError, loopErr.Err)
		}
		return loopErr
	}
	return errors.Wrap(ctx.Err(), "session cancelled")
}

func (r *Router) clientToServer(ctx context.Context, in *frame.Reader) error {
	for {
		f, err := in.Read()
		if err != nil {
			return &LoopError{Direction: ClientToServer, Op: "read", Err: err}
		}
		env := peek(f.Body)
		r.logFrame(ClientToServer, env)

		captured, inject := false, false
		switch r.State() {
		case AwaitingInitialize:
			if env.Method == MethodInitialize && env.HasID {
				r.captureInitialize(f.Body)
				captured = true
			}
		case AwaitingInitialized:
			inject = env.Method == MethodInitialized && !env.HasID
		}

		if err := r.toServer.Write(f); err != nil {
			return &LoopError{Direction: ClientToServer, Op: "write", Err: err}
		}
		if captured {
			r.setState(AwaitingInitialized)
		}

		if inject {
			if err := r.openWorkspace(ctx); err != nil {
				return err
			}
		}
	}
}

func (r *Router) serverToClient(in *frame.Reader) error {
	for {
		f, err := in.Read()
		if err != nil {
			return &LoopError{Direction: ServerToClient, Op: "read", Err: err}
		}
		env := peek(f.Body)
		r.logFrame(ServerToClient, env)

		if env.Method == MethodShowToast {
			body, err := sjson.SetBytes(f.Body, "method", MethodShowMessage)
			if err != nil {
				// Cannot happen for a body gjson just read a method from
				r.logger.Warnw("failed to rewrite toast, forwarding as is", logger.FieldError, err)
			} else {
				f.Body = body
			}
		}

		if err := r.toClient.Write(f); err != nil {
			return &LoopError{Direction: ServerToClient, Op: "write", Err: err}
		}
	}
}

func (r *Router) logFrame(dir Direction, env envelope) {
	r.logger.Debugw("frame",
		logger.FieldDirection, dir.String(),
		logger.FieldMethod, env.Method,
		logger.FieldID, env.ID)
}
