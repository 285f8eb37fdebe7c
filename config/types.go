package config

import (
	"time"
)

// The json tags exist for the config lint command: the generated schema
// must use the same keys koanf reads from the YAML files. Duration
// fields accept either a Go duration string or nanoseconds.

type Logger struct {
	Output            []string `koanf:"output" json:"output,omitempty"`
	TimeFormat        string   `koanf:"timeFormat" json:"timeFormat,omitempty"`
	Level             string   `koanf:"level" json:"level,omitempty"`
	ConsoleTimeFormat string   `koanf:"consoleTimeFormat" json:"consoleTimeFormat,omitempty"`
	NoColor           bool     `koanf:"noColor" json:"noColor,omitempty"`

	FileName   string `koanf:"fileName" json:"fileName,omitempty"`
	MaxSize    int    `koanf:"maxSize" json:"maxSize,omitempty"`
	MaxBackups int    `koanf:"maxBackups" json:"maxBackups,omitempty"`
	MaxAge     int    `koanf:"maxAge" json:"maxAge,omitempty"`
	Compress   bool   `koanf:"compress" json:"compress,omitempty"`
	LocalTime  bool   `koanf:"localTime" json:"localTime,omitempty"`
}

type Metrics struct {
	Enabled           bool          `koanf:"enabled" json:"enabled,omitempty"`
	Address           string        `koanf:"address" json:"address,omitempty"`
	Path              string        `koanf:"path" json:"path,omitempty"`
	ReadHeaderTimeout time.Duration `koanf:"readHeaderTimeout" json:"readHeaderTimeout,omitempty" jsonschema:"oneof_type=string;integer"`
	Timeout           time.Duration `koanf:"timeout" json:"timeout,omitempty" jsonschema:"oneof_type=string;integer"`
}

type Proxy struct {
	Network         string        `koanf:"network" json:"network,omitempty"`
	Address         string        `koanf:"address" json:"address,omitempty"`
	Mode            string        `koanf:"mode" json:"mode,omitempty"`
	Upstream        string        `koanf:"upstream" json:"upstream,omitempty"`
	MaxCaptureSize  int           `koanf:"maxCaptureSize" json:"maxCaptureSize,omitempty"`
	ShutdownTimeout time.Duration `koanf:"shutdownTimeout" json:"shutdownTimeout,omitempty" jsonschema:"oneof_type=string;integer"`

	Retries            int           `koanf:"retries" json:"retries,omitempty"`
	Backoff            time.Duration `koanf:"backoff" json:"backoff,omitempty" jsonschema:"oneof_type=string;integer"`
	BackoffMultiplier  float64       `koanf:"backoffMultiplier" json:"backoffMultiplier,omitempty"`
	DisableBackoffCaps bool          `koanf:"disableBackoffCaps" json:"disableBackoffCaps,omitempty"`
}

type Dispatcher struct {
	HookTimeout      time.Duration `koanf:"hookTimeout" json:"hookTimeout,omitempty" jsonschema:"oneof_type=string;integer"`
	FailureThreshold int           `koanf:"failureThreshold" json:"failureThreshold,omitempty"`
	FailureWindow    time.Duration `koanf:"failureWindow" json:"failureWindow,omitempty" jsonschema:"oneof_type=string;integer"`
}

type Registry struct {
	MaxAddons   int           `koanf:"maxAddons" json:"maxAddons,omitempty"`
	AuditPeriod time.Duration `koanf:"auditPeriod" json:"auditPeriod,omitempty" jsonschema:"oneof_type=string;integer"`
}

type Notifier struct {
	Enabled      bool   `koanf:"enabled" json:"enabled,omitempty"`
	RedisAddress string `koanf:"redisAddress" json:"redisAddress,omitempty"`
	RedisChannel string `koanf:"redisChannel" json:"redisChannel,omitempty"`
}

type API struct {
	Enabled           bool          `koanf:"enabled" json:"enabled,omitempty"`
	HTTPAddress       string        `koanf:"httpAddress" json:"httpAddress,omitempty"`
	ReadHeaderTimeout time.Duration `koanf:"readHeaderTimeout" json:"readHeaderTimeout,omitempty" jsonschema:"oneof_type=string;integer"`
}

type GlobalConfig struct {
	Loggers    map[string]Logger  `koanf:"loggers" json:"loggers"`
	Metrics    map[string]Metrics `koanf:"metrics" json:"metrics"`
	Proxies    map[string]Proxy   `koanf:"proxies" json:"proxies"`
	Dispatcher Dispatcher         `koanf:"dispatcher" json:"dispatcher"`
	Registry   Registry           `koanf:"registry" json:"registry"`
	Notifier   Notifier           `koanf:"notifier" json:"notifier"`
	API        API                `koanf:"api" json:"api"`
}

// Addon is one entry of the addons config file. The manifest file it points
// to carries the addon's version, handler, hook declarations and defaults.
type Addon struct {
	Name         string         `koanf:"name" json:"name"`
	Enabled      bool           `koanf:"enabled" json:"enabled,omitempty"`
	ManifestFile string         `koanf:"manifestFile" json:"manifestFile"`
	Checksum     string         `koanf:"checksum" json:"checksum,omitempty"`
	Config       map[string]any `koanf:"config" json:"config,omitempty" jsonschema:"nullable"`
}

type AddonsConfig struct {
	CompatibilityPolicy string  `koanf:"compatibilityPolicy" json:"compatibilityPolicy,omitempty"`
	EnableOnInstall     bool    `koanf:"enableOnInstall" json:"enableOnInstall,omitempty"`
	Addons              []Addon `koanf:"addons" json:"addons,omitempty" jsonschema:"nullable"`
}
