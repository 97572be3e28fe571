package config

import (
	"github.com/spf13/viper"
)

// Defaults for the backing server and its package origin
const (
	DefaultServerVersion = "5.0.0-1.25277.114"
	DefaultOrigin        = "https://pkgs.dev.azure.com/azure-public/vside/_packaging/msft_consumption/nuget/v3/flat2"
	DefaultDirName       = "roslyn-wrapper"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.path", "")
	v.SetDefault("log.dir", "")
	v.SetDefault("log.json", false)

	v.SetDefault("server.version", DefaultServerVersion)
	v.SetDefault("server.log_level", "Information")
	v.SetDefault("server.extra_args", "")

	v.SetDefault("cache.dir", "")
	v.SetDefault("cache.prune", true)

	v.SetDefault("download.origin", DefaultOrigin)
	v.SetDefault("download.timeout_seconds", 300) // the package is ~100 MB
	v.SetDefault("download.retries", 3)

	v.SetDefault("discovery.max_depth", 4)
	v.SetDefault("discovery.timeout_ms", 5000)
	v.SetDefault("discovery.skip_dirs", []string{".git", ".vs", "node_modules", "bin", "obj"})

	v.SetDefault("supervisor.grace_period_ms", 3000)
}

// BindEnvVars binds environment variables whose names predate the
// ROSLYN_WRAPPER_<SECTION>_<KEY> scheme.
func BindEnvVars(v *viper.Viper) {
	v.BindEnv("log.dir", "ROSLYN_WRAPPER_LOG_DIR", "ROSLYN_WRAPPER_CWD")
}
