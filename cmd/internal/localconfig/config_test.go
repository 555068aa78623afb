package localconfig

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/knadh/koanf/v2"
	"github.com/mitchellh/go-homedir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"
)

func TestMain(m *testing.M) {
	resetGlobalState()
	code := m.Run()
	resetGlobalState()
	os.Exit(code)
}

func resetGlobalState() {
	loadedConfig = nil
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, envPrefix) {
			_ = os.Unsetenv(kv[:strings.Index(kv, "=")])
		}
	}
}

func setupTest(t *testing.T) {
	t.Helper()
	resetGlobalState()
	k = koanf.New(".")

	// Keep the search from picking up files outside the test directory.
	t.Setenv("HOME", t.TempDir())
	chdir(t, t.TempDir())
}

func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() {
		_ = os.Chdir(old)
	})
}

func TestConfigFileLoading_YAML(t *testing.T) {
	setupTest(t)

	dir := t.TempDir()
	yamlContent := `
host: 0.0.0.0
port: "3100"
username: yaml-user
password: yaml-pass
enabled-modules:
  - SERP
  - KEYWORDS_DATA
full-response: true
http-timeout: 60000
redis-uri: redis://localhost:6379/2
allowed-origins:
  - https://app.example.com
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "mcp-gateway.yml"), []byte(yamlContent), 0644))

	// Files are discovered in parent directories too.
	child := filepath.Join(dir, "nested", "deeper")
	require.NoError(t, os.MkdirAll(child, 0755))
	chdir(t, child)

	require.NoError(t, loadConfigFile(context.Background(), &cli.Command{}))

	config := GetConfig()
	assert.Equal(t, "0.0.0.0", config.Host)
	assert.Equal(t, "3100", config.Port)
	assert.Equal(t, "yaml-user", config.Username)
	assert.Equal(t, "yaml-pass", config.Password)
	assert.Equal(t, []string{"SERP", "KEYWORDS_DATA"}, config.EnabledModules)
	require.NotNil(t, config.FullResponse)
	assert.True(t, *config.FullResponse)
	assert.Equal(t, 60000, config.HTTPTimeout)
	assert.Equal(t, "redis://localhost:6379/2", config.RedisURI)
	assert.Equal(t, []string{"https://app.example.com"}, config.AllowedOrigins)
}

func TestConfigFileLoading_JSON(t *testing.T) {
	setupTest(t)

	path := filepath.Join(t.TempDir(), "gateway.json")
	jsonContent := `{
	"port": "3200",
	"enabled-modules": ["SERP"],
	"full-response": false
}`
	require.NoError(t, os.WriteFile(path, []byte(jsonContent), 0644))
	t.Setenv(envPrefix+"CONFIG", path)

	require.NoError(t, loadConfigFile(context.Background(), &cli.Command{}))

	config := GetConfig()
	assert.Equal(t, "3200", config.Port)
	assert.Equal(t, []string{"SERP"}, config.EnabledModules)
	require.NotNil(t, config.FullResponse)
	assert.False(t, *config.FullResponse)
}

func TestConfigFileLoading_HomePath(t *testing.T) {
	setupTest(t)
	homedir.DisableCache = true
	t.Cleanup(func() { homedir.DisableCache = false })

	home := os.Getenv("HOME")
	require.NoError(t, os.WriteFile(filepath.Join(home, "gateway.yaml"), []byte("port: \"3300\"\n"), 0644))
	t.Setenv(envPrefix+"CONFIG", "~/gateway.yaml")

	require.NoError(t, loadConfigFile(context.Background(), &cli.Command{}))
	assert.Equal(t, "3300", GetConfig().Port)
}

func TestConfigFileLoading_Invalid(t *testing.T) {
	setupTest(t)

	path := filepath.Join(t.TempDir(), "gateway.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"port": `), 0644))
	t.Setenv(envPrefix+"CONFIG", path)

	err := loadConfigFile(context.Background(), &cli.Command{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), path)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	setupTest(t)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "mcp-gateway.json"), []byte(`{"port":"3100","username":"file-user"}`), 0644))
	chdir(t, dir)

	t.Setenv(envPrefix+"PORT", "3300")
	t.Setenv(envPrefix+"ENABLED_MODULES", "serp, keywords_data,")
	t.Setenv(envPrefix+"FULL_RESPONSE", "true")
	t.Setenv(envPrefix+"HTTP_TIMEOUT", "5000")

	require.NoError(t, loadConfigFile(context.Background(), &cli.Command{}))

	config := GetConfig()
	assert.Equal(t, "3300", config.Port)
	assert.Equal(t, "file-user", config.Username)
	assert.Equal(t, []string{"serp", "keywords_data"}, config.EnabledModules)
	require.NotNil(t, config.FullResponse)
	assert.True(t, *config.FullResponse)
	assert.Equal(t, 5000, config.HTTPTimeout)
}

func TestNoConfig(t *testing.T) {
	setupTest(t)

	require.NoError(t, loadConfigFile(context.Background(), &cli.Command{}))

	config := GetConfig()
	assert.Empty(t, config.Port)
	assert.Nil(t, config.FullResponse)
	assert.Empty(t, config.EnabledModules)
}
