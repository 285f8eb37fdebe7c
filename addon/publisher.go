package addon

import (
	"context"

	gerr "github.com/hookflow-io/hookflow/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// IPublisher forwards addon state changes to an external channel so other
// systems can react to lifecycle events without polling the API.
type IPublisher interface {
	Publish(ctx context.Context, payload []byte) *gerr.HookFlowError
}

var _ IPublisher = (*Publisher)(nil)

// Publisher publishes state change payloads to a Redis channel.
type Publisher struct {
	Logger      zerolog.Logger
	RedisDB     redis.Cmdable
	ChannelName string
}

// NewPublisher creates a new publisher. The Redis connection is pinged
// once; a failed ping is logged, not fatal.
func NewPublisher(ctx context.Context, publisher Publisher) (*Publisher, error) {
	if err := publisher.RedisDB.Ping(ctx).Err(); err != nil {
		publisher.Logger.Err(err).Msg("failed to connect redis")
	}
	return &Publisher{
		Logger:      publisher.Logger,
		RedisDB:     publisher.RedisDB,
		ChannelName: publisher.ChannelName,
	}, nil
}

func (p *Publisher) Publish(ctx context.Context, payload []byte) *gerr.HookFlowError {
	if err := p.RedisDB.Publish(ctx, p.ChannelName, payload).Err(); err != nil {
		p.Logger.Err(err).Str("ChannelName", p.ChannelName).Msg(
			"failed to publish state change to redis")
		return gerr.ErrPublishFailed.Wrap(err)
	}
	return nil
}
