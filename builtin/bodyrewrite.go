package builtin

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hookflow-io/hookflow/addon"
	"github.com/hookflow-io/hookflow/traffic"
	"github.com/mitchellh/mapstructure"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

type bodyRewriteConfig struct {
	// Fields maps gjson paths to replacement values.
	Fields map[string]any `mapstructure:"fields"`
	Delete []string       `mapstructure:"delete"`
}

// NewBodyRewrite builds a handler that rewrites JSON body fields, usually
// on response-received events. Only paths that exist in the body are
// touched, so the same addon can redact several shapes of payload.
func NewBodyRewrite(
	_ context.Context, _ zerolog.Logger, config map[string]any,
) (addon.Handler, error) {
	var cfg bodyRewriteConfig
	if err := mapstructure.Decode(config, &cfg); err != nil {
		return nil, fmt.Errorf("bodyrewrite: %w", err)
	}
	if len(cfg.Fields) == 0 && len(cfg.Delete) == 0 {
		return nil, errors.New("bodyrewrite: config needs at least one of fields or delete")
	}

	return addon.HandlerFunc(
		func(_ context.Context, event *traffic.Event) (*traffic.Contribution, error) {
			if len(event.Body) == 0 {
				return nil, nil
			}
			if event.ContentType != "" && !strings.Contains(event.ContentType, "json") {
				return nil, nil
			}
			if !gjson.ValidBytes(event.Body) {
				return nil, nil
			}

			body := event.Body
			changed := false
			for path, value := range cfg.Fields {
				if !gjson.GetBytes(body, path).Exists() {
					continue
				}
				next, err := sjson.SetBytes(body, path, value)
				if err != nil {
					return nil, fmt.Errorf("bodyrewrite: %w", err)
				}
				body = next
				changed = true
			}
			for _, path := range cfg.Delete {
				if !gjson.GetBytes(body, path).Exists() {
					continue
				}
				next, err := sjson.DeleteBytes(body, path)
				if err != nil {
					return nil, fmt.Errorf("bodyrewrite: %w", err)
				}
				body = next
				changed = true
			}

			if !changed {
				return nil, nil
			}
			return &traffic.Contribution{ReplaceBody: body}, nil
		}), nil
}
