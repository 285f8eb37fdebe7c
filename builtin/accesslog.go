package builtin

import (
	"context"
	"fmt"

	"github.com/hookflow-io/hookflow/addon"
	"github.com/hookflow-io/hookflow/traffic"
	"github.com/mitchellh/mapstructure"
	"github.com/rs/zerolog"
)

type accessLogConfig struct {
	Level string `mapstructure:"level"`
}

// NewAccessLog builds an observer that logs every matched event through
// the addon's logger and never contributes to the verdict. Manifests
// usually bind it with empty rules so it sees all traffic.
func NewAccessLog(
	_ context.Context, logger zerolog.Logger, config map[string]any,
) (addon.Handler, error) {
	var cfg accessLogConfig
	if err := mapstructure.Decode(config, &cfg); err != nil {
		return nil, fmt.Errorf("accesslog: %w", err)
	}

	level := zerolog.InfoLevel
	if cfg.Level != "" {
		parsed, err := zerolog.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("accesslog: %w", err)
		}
		level = parsed
	}

	return addon.HandlerFunc(
		func(_ context.Context, event *traffic.Event) (*traffic.Contribution, error) {
			fields := map[string]any{
				"kind":   string(event.Kind),
				"flow":   event.FlowID,
				"host":   event.Host,
				"path":   event.Path,
				"method": event.Method,
			}
			if event.StatusCode != 0 {
				fields["status"] = event.StatusCode
			}
			if event.Direction != "" {
				fields["direction"] = string(event.Direction)
			}
			logger.WithLevel(level).Fields(fields).Msg("Traffic event")
			return nil, nil
		}), nil
}
