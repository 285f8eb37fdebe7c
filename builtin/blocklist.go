package builtin

import (
	"context"
	"fmt"
	"net/http"

	"github.com/hookflow-io/hookflow/addon"
	"github.com/hookflow-io/hookflow/traffic"
	"github.com/mitchellh/mapstructure"
	"github.com/rs/zerolog"
)

type blocklistConfig struct {
	Status int    `mapstructure:"status"`
	Reason string `mapstructure:"reason"`
}

// NewBlocklist builds a handler that blocks every event its rules match.
// The manifest rules carry the matching; the handler only answers.
func NewBlocklist(
	_ context.Context, _ zerolog.Logger, config map[string]any,
) (addon.Handler, error) {
	var cfg blocklistConfig
	if err := mapstructure.Decode(config, &cfg); err != nil {
		return nil, fmt.Errorf("blocklist: %w", err)
	}
	if cfg.Status == 0 {
		cfg.Status = http.StatusForbidden
	}
	if cfg.Reason == "" {
		cfg.Reason = "blocked"
	}

	return addon.HandlerFunc(
		func(_ context.Context, _ *traffic.Event) (*traffic.Contribution, error) {
			return &traffic.Contribution{
				Block:       true,
				BlockReason: cfg.Reason,
				StatusCode:  cfg.Status,
			}, nil
		}), nil
}
