package builtin

import (
	"context"
	"net/http"
	"testing"

	"github.com/hookflow-io/hookflow/traffic"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlocklist_Defaults(t *testing.T) {
	handler, err := NewBlocklist(context.Background(), zerolog.Nop(), map[string]any{})
	require.NoError(t, err)

	contribution, err := handler.Handle(
		context.Background(), &traffic.Event{Kind: traffic.KindRequestReceived})
	require.NoError(t, err)
	require.NotNil(t, contribution)
	assert.True(t, contribution.Block)
	assert.True(t, contribution.Terminal())
	assert.Equal(t, http.StatusForbidden, contribution.StatusCode)
	assert.Equal(t, "blocked", contribution.BlockReason)
}

func TestBlocklist_Configured(t *testing.T) {
	handler, err := NewBlocklist(context.Background(), zerolog.Nop(), map[string]any{
		"status": http.StatusTooManyRequests,
		"reason": "rate limited",
	})
	require.NoError(t, err)

	contribution, err := handler.Handle(
		context.Background(), &traffic.Event{Kind: traffic.KindRequestReceived})
	require.NoError(t, err)
	assert.Equal(t, http.StatusTooManyRequests, contribution.StatusCode)
	assert.Equal(t, "rate limited", contribution.BlockReason)
}
