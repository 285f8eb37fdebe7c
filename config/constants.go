package config

import (
	"time"
)

type (
	Status              uint
	CompatibilityPolicy string
	ProxyMode           string
	LogOutput           uint
)

// Status is the status of the engine and its servers.
const (
	Running Status = iota
	Stopped
)

// CompatibilityPolicy is the compatibility policy for addon manifests.
const (
	Strict CompatibilityPolicy = "strict" // Reject addons whose engine constraint does not match
	Loose  CompatibilityPolicy = "loose"  // Install the addon anyway, but log the mismatch
)

// ProxyMode is the traffic mode of the bundled proxy host.
const (
	Forward ProxyMode = "forward" // Proxy absolute-form requests and CONNECT tunnels
	Reverse ProxyMode = "reverse" // Forward every request to the configured upstream
)

// LogOutput is the output type for the logger.
const (
	Console LogOutput = iota
	Stdout
	Stderr
	File
	None
)

const (
	// Config constants.
	Default              = "default"
	EnvPrefix            = "HOOKFLOW_"
	TracerName           = "hookflow"
	GlobalConfigFilename = "hookflow.yaml"
	AddonsConfigFilename = "hookflow_addons.yaml"

	// Logger constants.
	DefaultLogOutput         = "console"
	DefaultLogFileName       = "hookflow.log"
	DefaultLogLevel          = "info"
	DefaultNoColor           = false
	DefaultTimeFormat        = "unix"
	DefaultConsoleTimeFormat = "RFC3339"
	DefaultMaxSize           = 500 // megabytes
	DefaultMaxBackups        = 5
	DefaultMaxAge            = 30 // days
	DefaultCompress          = true
	DefaultLocalTime         = false

	// Addon constants.
	DefaultEnableOnInstall = true
	DefaultMaxAddons       = 64
	DefaultAuditPeriod     = 1 * time.Minute

	// Dispatcher constants.
	DefaultHookTimeout      = 1 * time.Second
	DefaultFailureThreshold = 5
	DefaultFailureWindow    = 30 * time.Second

	// Proxy host constants.
	DefaultListenNetwork   = "tcp"
	DefaultListenAddress   = "0.0.0.0:8080"
	DefaultProxyMode       = "forward"
	DefaultMaxCaptureSize  = 1 << 20 // bytes
	DefaultShutdownTimeout = 5 * time.Second

	// Upstream dial retry constants.
	DefaultRetries            = 3
	DefaultBackoff            = 1 * time.Second
	DefaultBackoffMultiplier  = 2.0
	DefaultDisableBackoffCaps = false

	// Pool constants.
	EmptyPoolCapacity = 0

	// Metrics constants.
	DefaultMetricsEnabled       = true
	DefaultMetricsAddress       = "localhost:9090"
	DefaultMetricsPath          = "/metrics"
	DefaultReadHeaderTimeout    = 10 * time.Second
	DefaultMetricsServerTimeout = 10 * time.Second

	// Sentry constants.
	DefaultTraceSampleRate  = 0.2
	DefaultAttachStacktrace = true
	DefaultFlushTimeout     = 2 * time.Second

	// API constants.
	DefaultAPIEnabled     = true
	DefaultHTTPAPIAddress = "localhost:18080"

	// Policies.
	DefaultCompatibilityPolicy = Strict

	// Notifier.
	DefaultNotifierEnabled = false
	DefaultRedisAddress    = "localhost:6379"
	DefaultRedisChannel    = "hookflow-addon-events"
)
