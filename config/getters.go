package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

var (
	compatibilityPolicies = map[string]CompatibilityPolicy{
		"strict": Strict,
		"loose":  Loose,
	}
	proxyModes = map[string]ProxyMode{
		"forward": Forward,
		"reverse": Reverse,
	}
	logOutputs = map[string]LogOutput{
		"console": Console,
		"stdout":  Stdout,
		"stderr":  Stderr,
		"file":    File,
		"none":    None,
	}
	timeFormats = map[string]string{
		"":          zerolog.TimeFormatUnix,
		"unix":      zerolog.TimeFormatUnix,
		"unixms":    zerolog.TimeFormatUnixMs,
		"unixmicro": zerolog.TimeFormatUnixMicro,
		"unixnano":  zerolog.TimeFormatUnixNano,
	}
	consoleTimeFormats = map[string]string{
		"Layout":      time.Layout,
		"ANSIC":       time.ANSIC,
		"UnixDate":    time.UnixDate,
		"RubyDate":    time.RubyDate,
		"RFC822":      time.RFC822,
		"RFC822Z":     time.RFC822Z,
		"RFC850":      time.RFC850,
		"RFC1123":     time.RFC1123,
		"RFC1123Z":    time.RFC1123Z,
		"RFC3339":     time.RFC3339,
		"RFC3339Nano": time.RFC3339Nano,
		"Kitchen":     time.Kitchen,
		"Stamp":       time.Stamp,
		"StampMilli":  time.StampMilli,
		"StampMicro":  time.StampMicro,
		"StampNano":   time.StampNano,
	}
	logLevels = map[string]zerolog.Level{
		"trace":    zerolog.TraceLevel,
		"debug":    zerolog.DebugLevel,
		"info":     zerolog.InfoLevel,
		"warn":     zerolog.WarnLevel,
		"error":    zerolog.ErrorLevel,
		"fatal":    zerolog.FatalLevel,
		"panic":    zerolog.PanicLevel,
		"disabled": zerolog.Disabled,
	}
)

// GetCompatibilityPolicy returns the compatibility policy from the addons
// config file.
func (a AddonsConfig) GetCompatibilityPolicy() CompatibilityPolicy {
	if policy, ok := compatibilityPolicies[a.CompatibilityPolicy]; ok {
		return policy
	}
	return DefaultCompatibilityPolicy
}

// GetMode returns the proxy traffic mode from config file.
func (pr Proxy) GetMode() ProxyMode {
	if mode, ok := proxyModes[pr.Mode]; ok {
		return mode
	}
	return Forward
}

// GetMaxCaptureSize returns the body capture cap from config file or default value.
func (pr Proxy) GetMaxCaptureSize() int {
	if pr.MaxCaptureSize <= 0 {
		return DefaultMaxCaptureSize
	}
	return pr.MaxCaptureSize
}

// GetShutdownTimeout returns the shutdown timeout from config file or default value.
func (pr Proxy) GetShutdownTimeout() time.Duration {
	if pr.ShutdownTimeout <= 0 {
		return DefaultShutdownTimeout
	}
	return pr.ShutdownTimeout
}

// GetHookTimeout returns the per-hook invocation budget from config file
// or default value.
func (d Dispatcher) GetHookTimeout() time.Duration {
	if d.HookTimeout <= 0 {
		return DefaultHookTimeout
	}
	return d.HookTimeout
}

// GetFailureThreshold returns the quarantine threshold from config file
// or default value.
func (d Dispatcher) GetFailureThreshold() int {
	if d.FailureThreshold <= 0 {
		return DefaultFailureThreshold
	}
	return d.FailureThreshold
}

// GetFailureWindow returns the quarantine window from config file or default value.
func (d Dispatcher) GetFailureWindow() time.Duration {
	if d.FailureWindow <= 0 {
		return DefaultFailureWindow
	}
	return d.FailureWindow
}

// GetMaxAddons returns the registry capacity from config file or default value.
func (r Registry) GetMaxAddons() int {
	if r.MaxAddons <= 0 {
		return DefaultMaxAddons
	}
	return r.MaxAddons
}

// GetAuditPeriod returns the consistency audit period from config file
// or default value.
func (r Registry) GetAuditPeriod() time.Duration {
	if r.AuditPeriod <= 0 {
		return DefaultAuditPeriod
	}
	return r.AuditPeriod
}

// GetReadHeaderTimeout returns the read header timeout from config file
// or default value.
func (m Metrics) GetReadHeaderTimeout() time.Duration {
	if m.ReadHeaderTimeout <= 0 {
		return DefaultReadHeaderTimeout
	}
	return m.ReadHeaderTimeout
}

// GetTimeout returns the metrics server timeout from config file or default value.
func (m Metrics) GetTimeout() time.Duration {
	if m.Timeout <= 0 {
		return DefaultMetricsServerTimeout
	}
	return m.Timeout
}

// GetReadHeaderTimeout returns the read header timeout from config file
// or default value.
func (a API) GetReadHeaderTimeout() time.Duration {
	if a.ReadHeaderTimeout <= 0 {
		return DefaultReadHeaderTimeout
	}
	return a.ReadHeaderTimeout
}

// GetOutput returns the logger output from config file.
func (l Logger) GetOutput() []LogOutput {
	var outputs []LogOutput
	for _, output := range l.Output {
		if logOutput, ok := logOutputs[output]; ok {
			outputs = append(outputs, logOutput)
		} else {
			outputs = append(outputs, Console)
		}
	}
	if len(outputs) == 0 {
		outputs = append(outputs, Console)
	}
	return outputs
}

// GetTimeFormat returns the logger time format from config file.
func (l Logger) GetTimeFormat() string {
	if format, ok := timeFormats[l.TimeFormat]; ok {
		return format
	}
	return zerolog.TimeFormatUnix
}

// GetConsoleTimeFormat returns the console logger's time format from config file.
func (l Logger) GetConsoleTimeFormat() string {
	if format, ok := consoleTimeFormats[l.ConsoleTimeFormat]; ok {
		return format
	}
	return time.RFC3339
}

// GetLevel returns the logger level from config file.
func (l Logger) GetLevel() zerolog.Level {
	if level, ok := logLevels[l.Level]; ok {
		return level
	}
	return zerolog.InfoLevel
}

// GetDefaultConfigFilePath returns the path of the default config file.
func GetDefaultConfigFilePath(filename string) string {
	// Try to find the config file in the current directory.
	path := filepath.Join("./", filename)
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		return path
	}

	// Try to find the config file in the /etc directory.
	path = filepath.Join("/etc/", filename)
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		return path
	}

	// The fallback is the current directory.
	return filepath.Join("./", filename)
}
