// Package config loads roslyn-wrapper settings from defaults, an optional
// TOML file, and ROSLYN_WRAPPER_* environment variables.
package config

import (
	"time"
)

// Config represents the wrapper configuration
type Config struct {
	Log        LogConfig        `mapstructure:"log"`
	Server     ServerConfig     `mapstructure:"server"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Download   DownloadConfig   `mapstructure:"download"`
	Discovery  DiscoveryConfig  `mapstructure:"discovery"`
	Supervisor SupervisorConfig `mapstructure:"supervisor"`
}

// LogConfig configures the wrapper's own log file
type LogConfig struct {
	Level string `mapstructure:"level"` // off, error, warn, info, debug
	Path  string `mapstructure:"path"`  // explicit log file; overrides Dir
	Dir   string `mapstructure:"dir"`   // directory for roslyn_wrapper.log (ROSLYN_WRAPPER_CWD)
	JSON  bool   `mapstructure:"json"`
}

// ServerConfig configures the backing language server process
type ServerConfig struct {
	Version   string `mapstructure:"version"`    // Microsoft.CodeAnalysis.LanguageServer package version
	LogLevel  string `mapstructure:"log_level"`  // passed as --logLevel
	ExtraArgs string `mapstructure:"extra_args"` // shell-quoted, appended after the defaults
}

// CacheConfig configures the binary cache
type CacheConfig struct {
	Dir   string `mapstructure:"dir"`   // empty = <user cache dir>/roslyn-wrapper
	Prune bool   `mapstructure:"prune"` // remove older versions after an install
}

// DownloadConfig configures package acquisition
type DownloadConfig struct {
	Origin         string `mapstructure:"origin"` // NuGet v3 flat container base URL
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	Retries        int    `mapstructure:"retries"`
}

// DiscoveryConfig configures workspace discovery
type DiscoveryConfig struct {
	MaxDepth  int      `mapstructure:"max_depth"`
	TimeoutMS int      `mapstructure:"timeout_ms"`
	SkipDirs  []string `mapstructure:"skip_dirs"`
}

// SupervisorConfig configures child process shutdown
type SupervisorConfig struct {
	GracePeriodMS int `mapstructure:"grace_period_ms"`
}

// DownloadTimeout returns the per-attempt HTTP timeout.
func (c *Config) DownloadTimeout() time.Duration {
	return time.Duration(c.Download.TimeoutSeconds) * time.Second
}

// DiscoveryTimeout returns the bound on one discovery run.
func (c *Config) DiscoveryTimeout() time.Duration {
	return time.Duration(c.Discovery.TimeoutMS) * time.Millisecond
}

// GracePeriod returns how long the child gets between SIGTERM and kill.
func (c *Config) GracePeriod() time.Duration {
	return time.Duration(c.Supervisor.GracePeriodMS) * time.Millisecond
}
