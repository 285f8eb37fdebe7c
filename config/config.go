package config

import (
	"context"
	"strings"

	gerr "github.com/hookflow-io/hookflow/errors"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"go.opentelemetry.io/otel"
)

type IConfig interface {
	InitConfig(ctx context.Context) *gerr.HookFlowError
	LoadDefaults(ctx context.Context) *gerr.HookFlowError
	LoadGlobalEnvVars(ctx context.Context) *gerr.HookFlowError
	LoadAddonsEnvVars(ctx context.Context) *gerr.HookFlowError
	LoadGlobalConfigFile(ctx context.Context) *gerr.HookFlowError
	LoadAddonsConfigFile(ctx context.Context) *gerr.HookFlowError
	UnmarshalGlobalConfig(ctx context.Context) *gerr.HookFlowError
	UnmarshalAddonsConfig(ctx context.Context) *gerr.HookFlowError
	MergeGlobalConfig(ctx context.Context, updatedGlobalConfig map[string]any) *gerr.HookFlowError
	Validate(ctx context.Context) *gerr.HookFlowError
}

type Config struct {
	globalDefaults   map[string]any
	addonsDefaults   map[string]any
	globalConfigFile string
	addonsConfigFile string

	GlobalKoanf *koanf.Koanf
	AddonsKoanf *koanf.Koanf
	Global      GlobalConfig
	Addons      AddonsConfig
}

var _ IConfig = (*Config)(nil)

func NewConfig(ctx context.Context, globalConfigFile, addonsConfigFile string) *Config {
	_, span := otel.Tracer(TracerName).Start(ctx, "Create new config")
	defer span.End()

	return &Config{
		GlobalKoanf:      koanf.New("."),
		AddonsKoanf:      koanf.New("."),
		globalDefaults:   make(map[string]any),
		addonsDefaults:   make(map[string]any),
		globalConfigFile: globalConfigFile,
		addonsConfigFile: addonsConfigFile,
	}
}

// InitConfig loads the defaults, the config files and the environment
// variables in order, then unmarshals both configurations for easier access.
func (c *Config) InitConfig(ctx context.Context) *gerr.HookFlowError {
	newCtx, span := otel.Tracer(TracerName).Start(ctx, "Initialize config")
	defer span.End()

	if err := c.LoadDefaults(newCtx); err != nil {
		return err
	}

	if err := c.LoadAddonsConfigFile(newCtx); err != nil {
		return err
	}
	if err := c.LoadAddonsEnvVars(newCtx); err != nil {
		return err
	}
	if err := c.UnmarshalAddonsConfig(newCtx); err != nil {
		return err
	}

	if err := c.LoadGlobalConfigFile(newCtx); err != nil {
		return err
	}
	if err := c.LoadGlobalEnvVars(newCtx); err != nil {
		return err
	}
	if err := c.UnmarshalGlobalConfig(newCtx); err != nil {
		return err
	}

	return nil
}

// LoadDefaults loads the default configuration before loading the config files.
func (c *Config) LoadDefaults(ctx context.Context) *gerr.HookFlowError {
	_, span := otel.Tracer(TracerName).Start(ctx, "Load defaults")
	defer span.End()

	c.globalDefaults = map[string]any{
		"loggers": map[string]any{
			Default: map[string]any{
				"output":            []string{DefaultLogOutput},
				"level":             DefaultLogLevel,
				"timeFormat":        DefaultTimeFormat,
				"consoleTimeFormat": DefaultConsoleTimeFormat,
				"noColor":           DefaultNoColor,
				"fileName":          DefaultLogFileName,
				"maxSize":           DefaultMaxSize,
				"maxBackups":        DefaultMaxBackups,
				"maxAge":            DefaultMaxAge,
				"compress":          DefaultCompress,
				"localTime":         DefaultLocalTime,
			},
		},
		"metrics": map[string]any{
			Default: map[string]any{
				"enabled":           DefaultMetricsEnabled,
				"address":           DefaultMetricsAddress,
				"path":              DefaultMetricsPath,
				"readHeaderTimeout": DefaultReadHeaderTimeout.String(),
				"timeout":           DefaultMetricsServerTimeout.String(),
			},
		},
		"proxies": map[string]any{
			Default: map[string]any{
				"network":            DefaultListenNetwork,
				"address":            DefaultListenAddress,
				"mode":               DefaultProxyMode,
				"upstream":           "",
				"maxCaptureSize":     DefaultMaxCaptureSize,
				"shutdownTimeout":    DefaultShutdownTimeout.String(),
				"retries":            DefaultRetries,
				"backoff":            DefaultBackoff.String(),
				"backoffMultiplier":  DefaultBackoffMultiplier,
				"disableBackoffCaps": DefaultDisableBackoffCaps,
			},
		},
		"dispatcher": map[string]any{
			"hookTimeout":      DefaultHookTimeout.String(),
			"failureThreshold": DefaultFailureThreshold,
			"failureWindow":    DefaultFailureWindow.String(),
		},
		"registry": map[string]any{
			"maxAddons":   DefaultMaxAddons,
			"auditPeriod": DefaultAuditPeriod.String(),
		},
		"notifier": map[string]any{
			"enabled":      DefaultNotifierEnabled,
			"redisAddress": DefaultRedisAddress,
			"redisChannel": DefaultRedisChannel,
		},
		"api": map[string]any{
			"enabled":           DefaultAPIEnabled,
			"httpAddress":       DefaultHTTPAPIAddress,
			"readHeaderTimeout": DefaultReadHeaderTimeout.String(),
		},
	}

	c.addonsDefaults = map[string]any{
		"compatibilityPolicy": string(DefaultCompatibilityPolicy),
		"enableOnInstall":     DefaultEnableOnInstall,
	}

	if err := c.GlobalKoanf.Load(confmap.Provider(c.globalDefaults, ""), nil); err != nil {
		span.RecordError(err)
		return gerr.ErrConfigParseError.Wrap(err)
	}

	if err := c.AddonsKoanf.Load(confmap.Provider(c.addonsDefaults, ""), nil); err != nil {
		span.RecordError(err)
		return gerr.ErrConfigParseError.Wrap(err)
	}

	return nil
}

// LoadGlobalEnvVars loads the environment variables into the global
// configuration with the given prefix, "HOOKFLOW_".
func (c *Config) LoadGlobalEnvVars(ctx context.Context) *gerr.HookFlowError {
	_, span := otel.Tracer(TracerName).Start(ctx, "Load global environment variables")
	defer span.End()

	if err := c.GlobalKoanf.Load(loadEnvVars(), nil); err != nil {
		span.RecordError(err)
		return gerr.ErrConfigParseError.Wrap(err)
	}

	return nil
}

// LoadAddonsEnvVars loads the environment variables into the addons
// configuration with the given prefix, "HOOKFLOW_".
func (c *Config) LoadAddonsEnvVars(ctx context.Context) *gerr.HookFlowError {
	_, span := otel.Tracer(TracerName).Start(ctx, "Load addons environment variables")
	defer span.End()

	if err := c.AddonsKoanf.Load(loadEnvVars(), nil); err != nil {
		span.RecordError(err)
		return gerr.ErrConfigParseError.Wrap(err)
	}

	return nil
}

func loadEnvVars() *env.Env {
	return env.Provider(EnvPrefix, ".", func(env string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(env, EnvPrefix)), "_", ".")
	})
}

// LoadGlobalConfigFile loads the global configuration file.
func (c *Config) LoadGlobalConfigFile(ctx context.Context) *gerr.HookFlowError {
	_, span := otel.Tracer(TracerName).Start(ctx, "Load global config file")
	defer span.End()

	if err := c.GlobalKoanf.Load(file.Provider(c.globalConfigFile), yaml.Parser()); err != nil {
		span.RecordError(err)
		return gerr.ErrConfigParseError.Wrap(err)
	}

	return nil
}

// LoadAddonsConfigFile loads the addons configuration file.
func (c *Config) LoadAddonsConfigFile(ctx context.Context) *gerr.HookFlowError {
	_, span := otel.Tracer(TracerName).Start(ctx, "Load addons config file")
	defer span.End()

	if err := c.AddonsKoanf.Load(file.Provider(c.addonsConfigFile), yaml.Parser()); err != nil {
		span.RecordError(err)
		return gerr.ErrConfigParseError.Wrap(err)
	}

	return nil
}

// UnmarshalGlobalConfig unmarshals the global configuration for easier access.
func (c *Config) UnmarshalGlobalConfig(ctx context.Context) *gerr.HookFlowError {
	_, span := otel.Tracer(TracerName).Start(ctx, "Unmarshal global config")
	defer span.End()

	if err := c.GlobalKoanf.Unmarshal("", &c.Global); err != nil {
		span.RecordError(err)
		return gerr.ErrConfigParseError.Wrap(err)
	}

	return nil
}

// UnmarshalAddonsConfig unmarshals the addons configuration for easier access.
func (c *Config) UnmarshalAddonsConfig(ctx context.Context) *gerr.HookFlowError {
	_, span := otel.Tracer(TracerName).Start(ctx, "Unmarshal addons config")
	defer span.End()

	if err := c.AddonsKoanf.Unmarshal("", &c.Addons); err != nil {
		span.RecordError(err)
		return gerr.ErrConfigParseError.Wrap(err)
	}

	return nil
}

// MergeGlobalConfig merges the given configuration tree into the global
// configuration and re-unmarshals it.
func (c *Config) MergeGlobalConfig(
	ctx context.Context, updatedGlobalConfig map[string]any,
) *gerr.HookFlowError {
	_, span := otel.Tracer(TracerName).Start(ctx, "Merge global config")
	defer span.End()

	if err := c.GlobalKoanf.Load(confmap.Provider(updatedGlobalConfig, "."), nil); err != nil {
		span.RecordError(err)
		return gerr.ErrConfigParseError.Wrap(err)
	}

	if err := c.GlobalKoanf.Unmarshal("", &c.Global); err != nil {
		span.RecordError(err)
		return gerr.ErrConfigParseError.Wrap(err)
	}

	return nil
}

// Validate checks the unmarshaled configuration for missing sections and
// out-of-range values. All problems are collected before reporting.
func (c *Config) Validate(ctx context.Context) *gerr.HookFlowError {
	_, span := otel.Tracer(TracerName).Start(ctx, "Validate config")
	defer span.End()

	var problems []string

	if !Exists(c.Global.Loggers, Default) {
		problems = append(problems, `loggers: missing "default" logger`)
	}
	if !Exists(c.Global.Metrics, Default) {
		problems = append(problems, `metrics: missing "default" metrics`)
	}
	if !Exists(c.Global.Proxies, Default) {
		problems = append(problems, `proxies: missing "default" proxy`)
	}

	for name, proxy := range c.Global.Proxies {
		if proxy.Mode != "" && !Exists(proxyModes, proxy.Mode) {
			problems = append(problems, "proxies."+name+": unknown mode "+proxy.Mode)
		}
		if proxy.GetMode() == Reverse && proxy.Upstream == "" {
			problems = append(problems, "proxies."+name+": reverse mode requires an upstream")
		}
		if proxy.Address == "" {
			problems = append(problems, "proxies."+name+": address is required")
		}
	}

	if c.Global.Dispatcher.FailureThreshold < 0 {
		problems = append(problems, "dispatcher: failureThreshold cannot be negative")
	}
	if c.Global.Registry.MaxAddons < 0 {
		problems = append(problems, "registry: maxAddons cannot be negative")
	}

	if c.Addons.CompatibilityPolicy != "" && !Exists(
		compatibilityPolicies, c.Addons.CompatibilityPolicy,
	) {
		problems = append(
			problems, "addons: unknown compatibilityPolicy "+c.Addons.CompatibilityPolicy)
	}

	seen := make(map[string]bool)
	for _, addon := range c.Addons.Addons {
		if addon.Name == "" {
			problems = append(problems, "addons: addon without a name")
			continue
		}
		if seen[addon.Name] {
			problems = append(problems, "addons."+addon.Name+": duplicate addon name")
		}
		seen[addon.Name] = true
		if addon.ManifestFile == "" {
			problems = append(problems, "addons."+addon.Name+": manifestFile is required")
		}
	}

	if len(problems) > 0 {
		err := gerr.ErrValidationFailed.Wrap(configProblems(problems))
		span.RecordError(err)
		return err
	}

	return nil
}

type configProblems []string

func (c configProblems) Error() string {
	return strings.Join(c, "; ")
}
