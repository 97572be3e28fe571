package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teranos/roslyn-wrapper/config"
	"github.com/teranos/roslyn-wrapper/logger"
	"github.com/tidwall/gjson"
)

const helperEnv = "ROSLYN_WRAPPER_TEST_HELPER"

// TestMain doubles as a stand-in language server when helperEnv is set.
func TestMain(m *testing.M) {
	if mode := os.Getenv(helperEnv); mode != "" {
		os.Exit(runHelper(mode))
	}
	os.Exit(m.Run())
}

func runHelper(mode string) int {
	switch {
	case strings.HasPrefix(mode, "exit:"):
		code, _ := strconv.Atoi(strings.TrimPrefix(mode, "exit:"))
		body := `{"jsonrpc":"2.0","method":"exit"}`
		fmt.Fprintf(os.Stdout, "Content-Length: %d\r\n\r\n%s", len(body), body)
		return code
	case strings.HasPrefix(mode, "until-eof:"):
		code, _ := strconv.Atoi(strings.TrimPrefix(mode, "until-eof:"))
		io.Copy(io.Discard, os.Stdin)
		return code
	}
	return 99
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	v := viper.New()
	config.SetDefaults(v)
	cfg, err := config.LoadWithViper(v)
	require.NoError(t, err)
	cfg.Cache.Dir = t.TempDir()
	cfg.Log.Dir = t.TempDir()
	cfg.Download.Retries = 0
	cfg.Supervisor.GracePeriodMS = 2000
	return cfg
}

// runProxy runs a session against the test binary acting as the server.
func runProxy(t *testing.T, mode string, editorIn io.Reader) (int, *bytes.Buffer) {
	t.Helper()
	t.Setenv(helperEnv, mode)
	var out bytes.Buffer

	done := make(chan int, 1)
	go func() {
		done <- proxy(context.Background(), testConfig(t), os.Args[0], nil, editorStreams{In: editorIn, Out: &out}, logger.ComponentLogger("test"))
	}()
	select {
	case code := <-done:
		return code, &out
	case <-time.After(20 * time.Second):
		t.Fatal("session did not end")
		return 0, nil
	}
}

func TestProxy_MirrorsChildExitCode(t *testing.T) {
	editorR, editorW := io.Pipe()
	defer editorW.Close()

	code, out := runProxy(t, "exit:3", editorR)

	assert.Equal(t, 3, code)
	assert.Contains(t, out.String(), `"method":"exit"`, "server output is drained to the editor first")
}

func TestProxy_ChildCleanExit(t *testing.T) {
	editorR, editorW := io.Pipe()
	defer editorW.Close()

	code, _ := runProxy(t, "exit:0", editorR)
	assert.Equal(t, ExitOK, code)
}

func TestProxy_EditorCloseExitsZero(t *testing.T) {
	// The server's own code is not reported when the editor ends the session
	code, _ := runProxy(t, "until-eof:7", strings.NewReader(""))
	assert.Equal(t, ExitOK, code)
}

func TestProxy_FramingErrorExitsOne(t *testing.T) {
	code, _ := runProxy(t, "until-eof:0", strings.NewReader("Content-Length: nope\r\n\r\n{}"))
	assert.Equal(t, ExitFailure, code)
}

func TestProxy_SpawnFailure(t *testing.T) {
	cfg := testConfig(t)
	missing := filepath.Join(t.TempDir(), "no-such-server")

	code := proxy(context.Background(), cfg, missing, nil, editorStreams{In: strings.NewReader(""), Out: io.Discard}, logger.ComponentLogger("test"))
	assert.Equal(t, ExitChildFailure, code)
}

// isolateHome points the user's home at an empty directory so no real global
// install is found.
func isolateHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home)
	return home
}

func failingOrigin(t *testing.T) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestProvisionServer_FailureExits69(t *testing.T) {
	isolateHome(t)
	cfg := testConfig(t)
	cfg.Download.Origin = failingOrigin(t).URL

	var stderr bytes.Buffer
	exe, code := provisionServer(context.Background(), cfg, newStatusWriter(&stderr), logger.ComponentLogger("test"))

	assert.Equal(t, ExitUnavailable, code)
	assert.Empty(t, exe)
	assert.Contains(t, stderr.String(), "Downloading Roslyn language server")
}

func TestProvisionServer_FallsBackToGlobalInstall(t *testing.T) {
	home := isolateHome(t)
	name := "Microsoft.CodeAnalysis.LanguageServer"
	if runtime.GOOS == "windows" {
		name += ".exe"
	}
	global := filepath.Join(home, ".dotnet", "tools", name)
	require.NoError(t, os.MkdirAll(filepath.Dir(global), 0o755))
	require.NoError(t, os.WriteFile(global, []byte("#!/bin/sh\n"), 0o755))

	cfg := testConfig(t)
	cfg.Download.Origin = failingOrigin(t).URL

	var stderr bytes.Buffer
	exe, code := provisionServer(context.Background(), cfg, newStatusWriter(&stderr), logger.ComponentLogger("test"))

	assert.Equal(t, ExitOK, code)
	assert.Equal(t, global, exe)
	assert.Contains(t, stderr.String(), "using global install")
}

func TestProvisionServer_Cancelled(t *testing.T) {
	isolateHome(t)
	cfg := testConfig(t)
	cfg.Download.Origin = failingOrigin(t).URL
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	exe, code := provisionServer(ctx, cfg, newStatusWriter(io.Discard), logger.ComponentLogger("test"))
	assert.Equal(t, ExitOK, code)
	assert.Empty(t, exe, "nothing is started after an interrupted download")
}

func TestStatusWriter(t *testing.T) {
	var buf bytes.Buffer
	s := newStatusWriter(&buf)

	s.Info("Downloading")
	s.Warning("using global install")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "window/showMessage", gjson.Get(lines[0], "method").String())
	assert.Equal(t, int64(3), gjson.Get(lines[0], "params.type").Int())
	assert.Equal(t, "Downloading", gjson.Get(lines[0], "params.message").String())
	assert.Equal(t, int64(2), gjson.Get(lines[1], "params.type").Int())
}
