package router

import (
	"bytes"
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teranos/roslyn-wrapper/discovery"
	"github.com/teranos/roslyn-wrapper/errors"
	"github.com/teranos/roslyn-wrapper/frame"
	"github.com/tidwall/gjson"
)

const (
	initializeBody  = `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"processId":42,"rootUri":"file:///R","capabilities":{}}}`
	initializedBody = `{"jsonrpc":"2.0","method":"initialized","params":{}}`
	didOpenBody     = `{"jsonrpc":"2.0","method":"textDocument/didOpen","params":{"textDocument":{"uri":"file:///R/Program.cs","languageId":"csharp","version":1,"text":""}}}`
)

// session wires a Router to in-memory pipes. The test plays both the editor
// and the language server.
type session struct {
	r *Router

	clientW   *io.PipeWriter
	clientOut *frame.Reader
	serverIn  *frame.Reader
	serverW   *io.PipeWriter

	closers []io.Closer
	done    chan error
}

func startSession(t *testing.T, opts Options) *session {
	t.Helper()
	clientInR, clientInW := io.Pipe()
	clientOutR, clientOutW := io.Pipe()
	serverInR, serverInW := io.Pipe()
	serverOutR, serverOutW := io.Pipe()

	s := &session{
		r:         New(opts),
		clientW:   clientInW,
		clientOut: frame.NewReader(clientOutR),
		serverIn:  frame.NewReader(serverInR),
		serverW:   serverOutW,
		closers:   []io.Closer{clientInW, clientOutR, serverInR, serverOutW},
		done:      make(chan error, 1),
	}
	go func() {
		s.done <- s.r.Run(context.Background(), Streams{
			ClientIn:  clientInR,
			ClientOut: clientOutW,
			ServerIn:  serverOutR,
			ServerOut: serverInW,
		})
	}()
	t.Cleanup(func() {
		for _, c := range s.closers {
			c.Close()
		}
	})
	return s
}

// fromClient writes frames as the editor, in order, without blocking the test.
func (s *session) fromClient(t *testing.T, bodies ...string) {
	t.Helper()
	go func() {
		for _, b := range bodies {
			if err := frame.WriteFrame(s.clientW, frame.Frame{Body: []byte(b)}); err != nil {
				return
			}
		}
	}()
}

func (s *session) fromServer(bodies ...string) {
	go func() {
		for _, b := range bodies {
			if err := frame.WriteFrame(s.serverW, frame.Frame{Body: []byte(b)}); err != nil {
				return
			}
		}
	}()
}

func readWithin(t *testing.T, r *frame.Reader) frame.Frame {
	t.Helper()
	type result struct {
		f   frame.Frame
		err error
	}
	ch := make(chan result, 1)
	go func() {
		f, err := r.Read()
		ch <- result{f, err}
	}()
	select {
	case res := <-ch:
		require.NoError(t, res.err)
		return res.f
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a frame")
		return frame.Frame{}
	}
}

func method(f frame.Frame) string {
	return gjson.GetBytes(f.Body, "method").String()
}

type stubFinder struct {
	target discovery.Target
	err    error
	block  bool

	calls atomic.Int32
	mu    sync.Mutex
	roots []string
}

func (f *stubFinder) Find(ctx context.Context, roots []string) (discovery.Target, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.roots = roots
	f.mu.Unlock()
	if f.block {
		<-ctx.Done()
		return discovery.Target{}, errors.Wrap(ctx.Err(), "walk interrupted")
	}
	return f.target, f.err
}

func memWorkspace(t *testing.T, files ...string) *discovery.Finder {
	t.Helper()
	fs := afero.NewMemMapFs()
	for _, f := range files {
		require.NoError(t, afero.WriteFile(fs, f, []byte("x"), 0o644))
	}
	return discovery.New(fs, discovery.Options{MaxDepth: discovery.DefaultMaxDepth})
}

func TestRouter_InjectsSolutionBeforeNextClientFrame(t *testing.T) {
	s := startSession(t, Options{Finder: memWorkspace(t, "/R/B.sln", "/R/src/A.sln")})
	assert.Equal(t, AwaitingInitialize, s.r.State())

	s.fromClient(t, initializeBody, initializedBody, didOpenBody)

	first := readWithin(t, s.serverIn)
	assert.Equal(t, initializeBody, string(first.Body), "initialize is forwarded byte-identical")

	second := readWithin(t, s.serverIn)
	assert.Equal(t, initializedBody, string(second.Body))

	third := readWithin(t, s.serverIn)
	assert.JSONEq(t, `{"jsonrpc":"2.0","method":"solution/open","params":{"uri":"file:///R/B.sln"}}`, string(third.Body))

	fourth := readWithin(t, s.serverIn)
	assert.Equal(t, didOpenBody, string(fourth.Body))

	assert.Equal(t, PassThrough, s.r.State())
}

func TestRouter_InjectsProjectSet(t *testing.T) {
	s := startSession(t, Options{Finder: memWorkspace(t, "/R/y/P2.csproj", "/R/x/P1.csproj")})

	s.fromClient(t, initializeBody, initializedBody)
	readWithin(t, s.serverIn)
	readWithin(t, s.serverIn)

	open := readWithin(t, s.serverIn)
	assert.Equal(t, MethodProjectOpen, method(open))
	assert.JSONEq(t, `{"uris":["file:///R/x/P1.csproj","file:///R/y/P2.csproj"]}`, gjson.GetBytes(open.Body, "params").Raw)
}

func TestRouter_WarnsClientWhenNothingFound(t *testing.T) {
	s := startSession(t, Options{Finder: memWorkspace(t, "/R/readme.md")})

	s.fromClient(t, initializeBody, initializedBody, didOpenBody)
	readWithin(t, s.serverIn)
	readWithin(t, s.serverIn)

	warning := readWithin(t, s.clientOut)
	assert.Equal(t, MethodShowMessage, method(warning))
	assert.Equal(t, int64(2), gjson.GetBytes(warning.Body, "params.type").Int())
	assert.Contains(t, gjson.GetBytes(warning.Body, "params.message").String(), "limited until a project is opened")
	assert.False(t, gjson.GetBytes(warning.Body, "id").Exists(), "warning is a notification")

	next := readWithin(t, s.serverIn)
	assert.Equal(t, didOpenBody, string(next.Body), "nothing is injected toward the server")
	assert.Equal(t, PassThrough, s.r.State())
}

func TestRouter_DiscoveryTimeoutWarnsClient(t *testing.T) {
	finder := &stubFinder{block: true}
	s := startSession(t, Options{Finder: finder, DiscoveryTimeout: 20 * time.Millisecond})

	s.fromClient(t, initializeBody, initializedBody, didOpenBody)
	readWithin(t, s.serverIn)
	readWithin(t, s.serverIn)

	warning := readWithin(t, s.clientOut)
	assert.Equal(t, MethodShowMessage, method(warning))
	assert.Contains(t, gjson.GetBytes(warning.Body, "params.message").String(), "timed out")

	assert.Equal(t, didOpenBody, string(readWithin(t, s.serverIn).Body))
}

func TestRouter_ExplicitTargetBypassesDiscovery(t *testing.T) {
	tests := []struct {
		name    string
		options string
		want    string
	}{
		{
			name:    "solution URI",
			options: `{"solution":"file:///W/App.sln"}`,
			want:    `{"jsonrpc":"2.0","method":"solution/open","params":{"uri":"file:///W/App.sln"}}`,
		},
		{
			name:    "relative projects resolved against the root",
			options: `{"projects":["src/A.csproj","/abs/B.csproj"]}`,
			want:    `{"jsonrpc":"2.0","method":"project/open","params":{"uris":["file:///R/src/A.csproj","file:///abs/B.csproj"]}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			finder := &stubFinder{target: discovery.Target{Solution: "/R/Other.sln"}}
			s := startSession(t, Options{Finder: finder})

			initBody := `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"rootUri":"file:///R","initializationOptions":` + tt.options + `}}`
			s.fromClient(t, initBody, initializedBody)
			readWithin(t, s.serverIn)
			readWithin(t, s.serverIn)

			assert.JSONEq(t, tt.want, string(readWithin(t, s.serverIn).Body))
			assert.Zero(t, finder.calls.Load(), "discovery must not run")
		})
	}
}

func TestRouter_CapturesAllRoots(t *testing.T) {
	finder := &stubFinder{}
	s := startSession(t, Options{Finder: finder})

	initBody := `{"jsonrpc":"2.0","id":"a","method":"initialize","params":{
		"rootUri":"file:///R",
		"rootPath":"/legacy",
		"workspaceFolders":[{"uri":"file:///W1","name":"one"},{"uri":"file:///R","name":"dup"},{"uri":"untitled:x","name":"skip"}]}}`
	s.fromClient(t, initBody, initializedBody)
	readWithin(t, s.serverIn)
	readWithin(t, s.serverIn)
	readWithin(t, s.clientOut)

	finder.mu.Lock()
	defer finder.mu.Unlock()
	assert.Equal(t, []string{"/W1", "/R", "/legacy"}, finder.roots)
}

func TestRouter_ForwardsLoggingLevel(t *testing.T) {
	var got atomic.Value
	s := startSession(t, Options{
		Finder: &stubFinder{},
		SetLogLevel: func(level string) error {
			got.Store(level)
			return nil
		},
	})

	s.fromClient(t, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"rootUri":"file:///R","initializationOptions":{"logging":{"level":"debug"}}}}`)
	readWithin(t, s.serverIn)

	assert.Equal(t, "debug", got.Load())
}

func TestRouter_InjectsExactlyOnce(t *testing.T) {
	finder := &stubFinder{target: discovery.Target{Solution: "/R/B.sln"}}
	s := startSession(t, Options{Finder: finder})

	s.fromClient(t, initializeBody, initializedBody, initializedBody, initializeBody)
	var methods []string
	for i := 0; i < 5; i++ {
		methods = append(methods, method(readWithin(t, s.serverIn)))
	}

	assert.Equal(t, []string{"initialize", "initialized", "solution/open", "initialized", "initialize"}, methods)
	assert.Equal(t, int32(1), finder.calls.Load())
}

func TestRouter_IgnoresHandshakeLookalikes(t *testing.T) {
	finder := &stubFinder{target: discovery.Target{Solution: "/R/B.sln"}}
	s := startSession(t, Options{Finder: finder})

	// initialize without an id is not a request; initialized with an id is not a notification
	s.fromClient(t,
		`{"jsonrpc":"2.0","method":"initialize","params":{}}`,
		initializeBody,
		`{"jsonrpc":"2.0","id":9,"method":"initialized","params":{}}`,
		initializedBody)
	for i := 0; i < 4; i++ {
		readWithin(t, s.serverIn)
	}

	assert.Equal(t, MethodSolutionOpen, method(readWithin(t, s.serverIn)))
}

func TestRouter_RewritesShowToast(t *testing.T) {
	s := startSession(t, Options{})

	toast := `{"jsonrpc":"2.0","method":"window/_roslyn_showToast","params":{"messageType":3, "message":"Restoring  ✓","commands":[]}}`
	other := `{"jsonrpc":"2.0","method":"window/logMessage","params":{"type":4,"message":"window/_roslyn_showToast"}}`
	response := `{"jsonrpc":"2.0","id":1,"result":{"capabilities":{}}}`
	s.fromServer(toast, other, response)

	rewritten := readWithin(t, s.clientOut)
	assert.Equal(t, MethodShowMessage, method(rewritten))
	assert.Equal(t,
		gjson.Get(toast, "params").Raw,
		gjson.GetBytes(rewritten.Body, "params").Raw,
		"params must be byte-identical")

	var buf bytes.Buffer
	require.NoError(t, frame.WriteFrame(&buf, readWithin(t, s.clientOut)))
	var want bytes.Buffer
	require.NoError(t, frame.WriteFrame(&want, frame.Frame{Body: []byte(other)}))
	assert.Equal(t, want.String(), buf.String())

	assert.Equal(t, response, string(readWithin(t, s.clientOut).Body))
}

func TestRouter_FramingErrorEndsSession(t *testing.T) {
	s := startSession(t, Options{})

	go io.WriteString(s.clientW, "Content-Length: nope\r\n\r\n{}")

	select {
	case err := <-s.done:
		var loopErr *LoopError
		require.True(t, errors.As(err, &loopErr))
		assert.Equal(t, ClientToServer, loopErr.Direction)
		assert.True(t, frame.IsFramingError(err))
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return on a framing error")
	}
}

func TestRouter_ServerExitDrainsThenStops(t *testing.T) {
	s := startSession(t, Options{})

	last := `{"jsonrpc":"2.0","id":2,"result":null}`
	go func() {
		frame.WriteFrame(s.serverW, frame.Frame{Body: []byte(last)})
		s.serverW.Close()
	}()

	assert.Equal(t, last, string(readWithin(t, s.clientOut).Body))

	select {
	case err := <-s.done:
		var loopErr *LoopError
		require.True(t, errors.As(err, &loopErr))
		assert.Equal(t, ServerToClient, loopErr.Direction)
		assert.True(t, errors.Is(err, io.EOF))
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after the server closed")
	}

	select {
	case <-s.r.ServerDrained():
	case <-time.After(time.Second):
		t.Fatal("ServerDrained not closed")
	}
}

func TestRouter_ContextCancel(t *testing.T) {
	r := New(Options{})
	clientR, clientW := io.Pipe()
	serverR, serverW := io.Pipe()
	defer clientW.Close()
	defer serverW.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- r.Run(ctx, Streams{ClientIn: clientR, ClientOut: io.Discard, ServerIn: serverR, ServerOut: io.Discard})
	}()
	cancel()

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(5 * time.Second):
		t.Fatal("Run ignored cancellation")
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "awaiting-initialize", AwaitingInitialize.String())
	assert.Equal(t, "pass-through", PassThrough.String())
	assert.Equal(t, "server->client", ServerToClient.String())
}
