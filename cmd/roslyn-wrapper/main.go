package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/teranos/roslyn-wrapper/config"
	"github.com/teranos/roslyn-wrapper/errors"
	"github.com/teranos/roslyn-wrapper/logger"
	"github.com/teranos/roslyn-wrapper/version"
)

var rootCmd = &cobra.Command{
	Use:   "roslyn-wrapper [server-args... | server-path [server-args...]]",
	Short: "Roslyn language server proxy for editors that speak plain LSP",
	Long: `roslyn-wrapper runs Microsoft.CodeAnalysis.LanguageServer over stdio and
opens the workspace's solution or projects once the editor has initialized.

Modes:
  roslyn-wrapper                    # download (or reuse) the server and proxy it
  roslyn-wrapper --some-flag ...    # run the server directly with these arguments
  roslyn-wrapper /path/to/server .. # proxy an existing server executable

Settings come from ~/.config/roslyn-wrapper/config.toml (or ROSLYN_WRAPPER_CONFIG)
and ROSLYN_WRAPPER_* environment variables. Logs never go to stdout.`,
	// Every argument belongs to the language server
	DisableFlagParsing: true,
	Args:               cobra.ArbitraryArgs,
	SilenceUsage:       true,
	SilenceErrors:      true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return &exitError{code: ExitFailure, err: err}
		}
		initLogging(cfg)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		code := run(ctx, cfg, args)
		if code != ExitOK {
			return &exitError{code: code}
		}
		return nil
	},
}

func initLogging(cfg *config.Config) {
	opts := logger.Options{Level: cfg.Log.Level, JSON: cfg.Log.JSON}
	path, pathErr := cfg.LogPath()
	if pathErr == nil {
		opts.Path = path
	}
	err := logger.Initialize(opts)

	log := logger.ComponentLogger("main")
	info := version.Get()
	log.Infow("roslyn-wrapper starting",
		logger.FieldVersion, info.Version,
		"commit", info.CommitHash,
		"built", info.BuildTime,
		"platform", info.Platform,
		logger.FieldPath, opts.Path)
	if pathErr != nil {
		log.Warnw("no log directory available, logging to stderr", logger.FieldError, pathErr)
	}
	if err != nil {
		log.Warnw("log file unavailable", logger.FieldError, err)
	}
}

// exitError carries a process exit code out of RunE.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func main() {
	err := rootCmd.ExecuteContext(context.Background())
	logger.Cleanup()
	if err == nil {
		return
	}

	code := ExitFailure
	var ee *exitError
	if errors.As(err, &ee) {
		code = ee.code
		err = ee.err
	}
	if err != nil {
		reportFatal(err)
	}
	os.Exit(code)
}
