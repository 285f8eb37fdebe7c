package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/knadh/koanf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testGlobalConfig = `loggers:
  default:
    output: ["console"]
    level: debug

proxies:
  default:
    address: "localhost:8081"

notifier:
  enabled: true
`

const testAddonsConfig = `compatibilityPolicy: loose
addons:
  - name: accesslog
    enabled: true
    manifestFile: ./manifests/accesslog.yaml
`

// writeConfigFiles writes a global and an addons config file into a
// temporary directory and returns their paths.
func writeConfigFiles(t *testing.T) (string, string) {
	t.Helper()

	dir := t.TempDir()
	globalFile := filepath.Join(dir, GlobalConfigFilename)
	addonsFile := filepath.Join(dir, AddonsConfigFilename)
	require.NoError(t, os.WriteFile(globalFile, []byte(testGlobalConfig), 0o600))
	require.NoError(t, os.WriteFile(addonsFile, []byte(testAddonsConfig), 0o600))
	return globalFile, addonsFile
}

// TestNewConfig tests the NewConfig function.
func TestNewConfig(t *testing.T) {
	config := NewConfig(
		context.Background(), GlobalConfigFilename, AddonsConfigFilename)
	assert.NotNil(t, config)
	assert.Equal(t, config.globalConfigFile, GlobalConfigFilename)
	assert.Equal(t, config.addonsConfigFile, AddonsConfigFilename)
	assert.Equal(t, config.Global, GlobalConfig{})
	assert.Equal(t, config.Addons, AddonsConfig{})
	assert.Equal(t, config.GlobalKoanf, koanf.New("."))
	assert.Equal(t, config.AddonsKoanf, koanf.New("."))
}

// TestInitConfig tests the InitConfig function, which practically tests all
// the other functions.
func TestInitConfig(t *testing.T) {
	ctx := context.Background()
	globalFile, addonsFile := writeConfigFiles(t)

	config := NewConfig(ctx, globalFile, addonsFile)
	err := config.InitConfig(ctx)
	require.Nil(t, err)

	assert.NotEqual(t, config.Global, GlobalConfig{})
	assert.Contains(t, config.Global.Loggers, Default)
	assert.Contains(t, config.Global.Metrics, Default)
	assert.Contains(t, config.Global.Proxies, Default)

	// File values override the defaults, defaults fill the gaps.
	assert.Equal(t, "debug", config.Global.Loggers[Default].Level)
	assert.Equal(t, DefaultTimeFormat, config.GlobalKoanf.String("loggers.default.timeFormat"))
	assert.Equal(t, "localhost:8081", config.Global.Proxies[Default].Address)
	assert.Equal(t, DefaultProxyMode, config.Global.Proxies[Default].Mode)
	assert.True(t, config.Global.Notifier.Enabled)
	assert.Equal(t, DefaultRedisAddress, config.Global.Notifier.RedisAddress)
	assert.Equal(t, DefaultHookTimeout, config.Global.Dispatcher.GetHookTimeout())

	assert.NotEqual(t, config.Addons, AddonsConfig{})
	assert.Equal(t, Loose, config.Addons.GetCompatibilityPolicy())
	assert.Len(t, config.Addons.Addons, 1)
	assert.Equal(t, "accesslog", config.Addons.Addons[0].Name)
	assert.True(t, config.Addons.Addons[0].Enabled)
}

// TestInitConfig_MissingFile tests that a missing config file is reported.
func TestInitConfig_MissingFile(t *testing.T) {
	ctx := context.Background()
	config := NewConfig(ctx, "nonexistent.yaml", "nonexistent_addons.yaml")
	err := config.InitConfig(ctx)
	require.NotNil(t, err)
	assert.Contains(t, err.Error(), "failed to parse configuration")
}

// TestLoadEnvVars tests that environment variables override file values.
func TestLoadEnvVars(t *testing.T) {
	ctx := context.Background()
	globalFile, addonsFile := writeConfigFiles(t)

	t.Setenv("HOOKFLOW_LOGGERS_DEFAULT_LEVEL", "warn")

	config := NewConfig(ctx, globalFile, addonsFile)
	err := config.InitConfig(ctx)
	require.Nil(t, err)
	assert.Equal(t, "warn", config.Global.Loggers[Default].Level)
}

// TestMergeGlobalConfig tests the MergeGlobalConfig function.
func TestMergeGlobalConfig(t *testing.T) {
	ctx := context.Background()
	globalFile, addonsFile := writeConfigFiles(t)

	config := NewConfig(ctx, globalFile, addonsFile)
	err := config.InitConfig(ctx)
	require.Nil(t, err)
	// The config file sets the log level to debug.
	assert.Equal(t, "debug", config.Global.Loggers[Default].Level)

	// Merge a config that sets the log level to trace.
	err = config.MergeGlobalConfig(ctx, map[string]any{
		"loggers": map[string]any{
			"default": map[string]any{
				"level": "trace",
			},
		},
	})
	require.Nil(t, err)
	assert.NotEqual(t, config.Global, GlobalConfig{})
	assert.Equal(t, "trace", config.Global.Loggers[Default].Level)
}

// TestValidate tests the Validate function against a complete configuration.
func TestValidate(t *testing.T) {
	ctx := context.Background()
	globalFile, addonsFile := writeConfigFiles(t)

	config := NewConfig(ctx, globalFile, addonsFile)
	require.Nil(t, config.InitConfig(ctx))
	assert.Nil(t, config.Validate(ctx))
}

// TestValidate_Problems tests that validation collects all the problems.
func TestValidate_Problems(t *testing.T) {
	ctx := context.Background()
	globalFile, addonsFile := writeConfigFiles(t)

	config := NewConfig(ctx, globalFile, addonsFile)
	require.Nil(t, config.InitConfig(ctx))

	config.Global.Proxies["bad"] = Proxy{Mode: "sideways"}
	config.Addons.CompatibilityPolicy = "permissive"
	config.Addons.Addons = append(config.Addons.Addons, Addon{Name: "accesslog"})

	err := config.Validate(ctx)
	require.NotNil(t, err)
	assert.Contains(t, err.Error(), "unknown mode sideways")
	assert.Contains(t, err.Error(), "address is required")
	assert.Contains(t, err.Error(), "unknown compatibilityPolicy permissive")
	assert.Contains(t, err.Error(), "duplicate addon name")
	assert.Contains(t, err.Error(), "manifestFile is required")
}
