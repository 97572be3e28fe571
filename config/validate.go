package config

import (
	"github.com/Masterminds/semver/v3"
	"github.com/kballard/go-shellquote"
	"github.com/teranos/roslyn-wrapper/errors"
	"github.com/teranos/roslyn-wrapper/internal/httpclient"
	"github.com/teranos/roslyn-wrapper/logger"
)

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if _, _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return errors.Wrap(err, "log.level")
	}

	if c.Server.Version == "" {
		return errors.New("server.version cannot be empty")
	}
	if _, err := semver.StrictNewVersion(c.Server.Version); err != nil {
		return errors.Wrapf(err, "server.version %q is not a semantic version", c.Server.Version)
	}
	if c.Server.LogLevel == "" {
		return errors.New("server.log_level cannot be empty")
	}
	if _, err := shellquote.Split(c.Server.ExtraArgs); err != nil {
		return errors.Wrapf(err, "server.extra_args %q", c.Server.ExtraArgs)
	}

	if _, err := httpclient.ValidateURL(c.Download.Origin); err != nil {
		return errors.Wrapf(err, "download.origin %q", c.Download.Origin)
	}
	if c.Download.TimeoutSeconds <= 0 {
		return errors.Newf("download.timeout_seconds must be > 0, got %d", c.Download.TimeoutSeconds)
	}
	// 0 retries = single attempt
	if c.Download.Retries < 0 {
		return errors.Newf("download.retries must be >= 0, got %d", c.Download.Retries)
	}

	if c.Discovery.MaxDepth < 0 {
		return errors.Newf("discovery.max_depth must be >= 0, got %d", c.Discovery.MaxDepth)
	}
	if c.Discovery.TimeoutMS <= 0 {
		return errors.Newf("discovery.timeout_ms must be > 0, got %d", c.Discovery.TimeoutMS)
	}

	if c.Supervisor.GracePeriodMS < 0 {
		return errors.Newf("supervisor.grace_period_ms must be >= 0, got %d", c.Supervisor.GracePeriodMS)
	}

	return nil
}
