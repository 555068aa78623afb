package localconfig

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dataforseo/mcp-gateway/cmd/internal/envflags"
	"github.com/dataforseo/mcp-gateway/pkg/logger"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/mitchellh/go-homedir"
	"github.com/urfave/cli/v3"
)

const envPrefix = "MCPGW_"

// Config is the gateway configuration read from files and MCPGW_ environment variables
type Config struct {
	Host string `koanf:"host"`
	Port string `koanf:"port"`

	// Default upstream credentials, used when a request carries no Authorization header
	Username string `koanf:"username"`
	Password string `koanf:"password"`

	EnabledModules []string `koanf:"enabled-modules"`
	FullResponse   *bool    `koanf:"full-response"`
	// HTTPTimeout is in milliseconds
	HTTPTimeout int `koanf:"http-timeout"`

	RedisURI       string   `koanf:"redis-uri"`
	AllowedOrigins []string `koanf:"allowed-origins"`
}

// listKeys are split on commas when read from the environment
var listKeys = map[string]bool{
	"enabled-modules": true,
	"allowed-origins": true,
}

// Global variables to store koanf instance and loaded configuration
var (
	k            = koanf.New(".")
	loadedConfig *Config
)

// InitServeConfig initializes configuration for the serve command
func InitServeConfig(ctx context.Context, cmd *cli.Command) error {
	k = koanf.New(".")
	return loadConfigFile(ctx, cmd)
}

// GetConfig returns the loaded configuration struct
func GetConfig() *Config {
	if loadedConfig == nil {
		return &Config{} // Return empty config if none loaded
	}
	return loadedConfig
}

// loadConfigFile loads configuration from multiple sources in priority order:
// 1. Config files (lowest priority)
// 2. Environment variables with MCPGW_ prefix
// 3. CLI flags and the unprefixed variables (handled by the command)
func loadConfigFile(ctx context.Context, cmd *cli.Command) error {
	l := logger.StdlibLogger(ctx)

	configPath, err := homedir.Expand(envflags.GetEnvOrFlag(cmd, "config", envPrefix+"CONFIG"))
	if err != nil {
		return fmt.Errorf("error expanding config path: %w", err)
	}
	if configPath != "" {
		if err := loadConfigFromPath(configPath); err != nil {
			return fmt.Errorf("error reading config file %s: %w", configPath, err)
		}
		l.Info("using config", "file", configPath)
	} else if path := findConfigFile(l); path != "" {
		if err := loadConfigFromPath(path); err != nil {
			l.Warn("error reading config file", "file", path, "error", err)
		} else {
			l.Info("using config", "file", path)
		}
	}

	if err := loadEnvironmentVariables(); err != nil {
		return fmt.Errorf("error loading environment variables: %w", err)
	}

	return unmarshalConfig()
}

// findConfigFile returns the first config file found in the search paths.
func findConfigFile(l logger.Logger) string {
	names := []string{"mcp-gateway.json", "mcp-gateway.yaml", "mcp-gateway.yml"}
	for _, dir := range getConfigSearchPaths(l) {
		for _, name := range names {
			path := filepath.Join(dir, name)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// getConfigSearchPaths returns directories to search for config files
func getConfigSearchPaths(l logger.Logger) []string {
	var paths []string

	// Start with current directory and walk up
	if cwd, err := os.Getwd(); err != nil {
		l.Warn("error getting current directory", "error", err)
	} else {
		dir := cwd
		for {
			paths = append(paths, dir)
			parent := filepath.Dir(dir)
			if parent == dir {
				break
			}
			dir = parent
		}
	}

	if homeDir, err := os.UserHomeDir(); err != nil {
		l.Warn("error getting home directory", "error", err)
	} else {
		paths = append(paths, filepath.Join(homeDir, ".config", "mcp-gateway"))
	}

	return paths
}

// loadConfigFromPath loads configuration from a specific file path using koanf
func loadConfigFromPath(path string) error {
	ext := filepath.Ext(path)

	var parser koanf.Parser
	switch ext {
	case ".json":
		parser = json.Parser()
	default:
		// YAML is a superset of JSON, so files without an extension are read as YAML
		parser = yaml.Parser()
	}

	if err := k.Load(file.Provider(path), parser); err != nil {
		return fmt.Errorf("config file must be JSON or YAML: %w", err)
	}
	return nil
}

// loadEnvironmentVariables loads environment variables with the MCPGW_ prefix
func loadEnvironmentVariables() error {
	return k.Load(env.ProviderWithValue(envPrefix, ".", func(key, value string) (string, interface{}) {
		// MCPGW_ENABLED_MODULES -> enabled-modules
		configKey := strings.ToLower(strings.ReplaceAll(strings.TrimPrefix(key, envPrefix), "_", "-"))

		if listKeys[configKey] {
			var values []string
			for _, v := range strings.Split(value, ",") {
				if v = strings.TrimSpace(v); v != "" {
					values = append(values, v)
				}
			}
			return configKey, values
		}

		return configKey, value
	}), nil)
}

// unmarshalConfig unmarshals the loaded configuration into the Config struct
func unmarshalConfig() error {
	loadedConfig = &Config{}
	if err := k.Unmarshal("", loadedConfig); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}
	return nil
}
