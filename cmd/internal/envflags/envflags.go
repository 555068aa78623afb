package envflags

import (
	"os"

	"github.com/urfave/cli/v3"
)

// GetEnvOrFlag returns the command line flag value, or falls back to the first non-empty environment variable
func GetEnvOrFlag(cmd *cli.Command, flagName string, envNames ...string) string {
	value := cmd.String(flagName)
	if value == "" {
		value = firstEnv(envNames...)
	}
	return value
}

// GetEnvOrFlagWithDefault returns the environment variable first, then the command line flag, then the default
// This is useful for flags that have default values - environment variables take precedence over defaults
func GetEnvOrFlagWithDefault(cmd *cli.Command, flagName, envName, defaultValue string) string {
	// Check environment variable first
	if envValue := os.Getenv(envName); envValue != "" {
		return envValue
	}
	// Then check if flag was explicitly set (not just using default)
	if cmd.IsSet(flagName) {
		return cmd.String(flagName)
	}
	return defaultValue
}

// GetEnvOrStringSlice returns the command line flag value, or falls back to a single environment variable if the slice is empty
func GetEnvOrStringSlice(cmd *cli.Command, flagName, envName string) []string {
	values := cmd.StringSlice(flagName)
	if len(values) == 0 {
		if envValue := os.Getenv(envName); envValue != "" {
			return []string{envValue}
		}
	}
	return values
}

// GetFlagOrEnvBool returns the flag when explicitly set, otherwise whether the environment
// variable is exactly "true".  ok is false when neither is set.
func GetFlagOrEnvBool(cmd *cli.Command, flagName, envName string) (value bool, ok bool) {
	if cmd.IsSet(flagName) {
		return cmd.Bool(flagName), true
	}
	if envValue, set := os.LookupEnv(envName); set && envValue != "" {
		return envValue == "true", true
	}
	return false, false
}

func firstEnv(names ...string) string {
	for _, name := range names {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return ""
}
