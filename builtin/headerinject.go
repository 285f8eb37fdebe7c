package builtin

import (
	"context"
	"errors"
	"fmt"

	"github.com/hookflow-io/hookflow/addon"
	"github.com/hookflow-io/hookflow/traffic"
	"github.com/mitchellh/mapstructure"
	"github.com/rs/zerolog"
)

type headerInjectConfig struct {
	Set    map[string]string `mapstructure:"set"`
	Remove []string          `mapstructure:"remove"`
}

// NewHeaderInject builds a handler that sets and removes the configured
// headers on every event its rules match. Which events those are is the
// manifest's business; the handler contributes unconditionally.
func NewHeaderInject(
	_ context.Context, _ zerolog.Logger, config map[string]any,
) (addon.Handler, error) {
	var cfg headerInjectConfig
	if err := mapstructure.Decode(config, &cfg); err != nil {
		return nil, fmt.Errorf("headerinject: %w", err)
	}
	if len(cfg.Set) == 0 && len(cfg.Remove) == 0 {
		return nil, errors.New("headerinject: config needs at least one of set or remove")
	}

	return addon.HandlerFunc(
		func(_ context.Context, _ *traffic.Event) (*traffic.Contribution, error) {
			return &traffic.Contribution{
				SetHeaders: cfg.Set,
				DelHeaders: cfg.Remove,
			}, nil
		}), nil
}
