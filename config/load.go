package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/kballard/go-shellquote"
	"github.com/spf13/viper"
	"github.com/teranos/roslyn-wrapper/errors"
	"github.com/teranos/roslyn-wrapper/logger"
)

// EnvPrefix is the prefix of every environment variable the wrapper reads
const EnvPrefix = "ROSLYN_WRAPPER"

// Load reads the wrapper configuration using Viper.
// Precedence (lowest to highest): defaults < config file < env vars.
func Load() (*Config, error) {
	v := New()

	if path := configFilePath(); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "failed to read config file %s", path)
		}
	}

	return LoadWithViper(v)
}

// New returns a Viper instance with defaults and environment binding but no file.
func New() *viper.Viper {
	v := viper.New()

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	BindEnvVars(v)

	SetDefaults(v)
	return v
}

// LoadWithViper loads configuration using a provided Viper instance
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// configFilePath returns ROSLYN_WRAPPER_CONFIG, or the user config file when it exists
func configFilePath() string {
	if path := os.Getenv(EnvPrefix + "_CONFIG"); path != "" {
		return path
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	path := filepath.Join(dir, DefaultDirName, "config.toml")
	if _, err := os.Stat(path); err == nil {
		return path
	}
	return ""
}

// CacheDir returns the binary cache root.
func (c *Config) CacheDir() (string, error) {
	if c.Cache.Dir != "" {
		return filepath.Abs(c.Cache.Dir)
	}
	base, err := os.UserCacheDir()
	if err != nil {
		return "", errors.Wrap(err, "unable to find user cache directory")
	}
	return filepath.Join(base, DefaultDirName), nil
}

// LogDir returns the directory for the wrapper log and the server's extension logs.
func (c *Config) LogDir() (string, error) {
	if c.Log.Path != "" {
		return filepath.Dir(c.Log.Path), nil
	}
	if c.Log.Dir != "" {
		return c.Log.Dir, nil
	}
	cacheDir, err := c.CacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(cacheDir, "logs"), nil
}

// LogPath returns the wrapper log file.
func (c *Config) LogPath() (string, error) {
	if c.Log.Path != "" {
		return c.Log.Path, nil
	}
	dir, err := c.LogDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, logger.DefaultFileName), nil
}

// ServerArgs returns the arguments the backing server is started with.
func (c *Config) ServerArgs(extensionLogDir string) ([]string, error) {
	args := []string{
		"--stdio",
		"--logLevel", c.Server.LogLevel,
		"--extensionLogDirectory", extensionLogDir,
	}
	extra, err := shellquote.Split(c.Server.ExtraArgs)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid server.extra_args %q", c.Server.ExtraArgs)
	}
	return append(args, extra...), nil
}
