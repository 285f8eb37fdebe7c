package network

import (
	"errors"
	"math"
	"time"

	"github.com/rs/zerolog"
)

const (
	BackoffMultiplierCap = 10
	BackoffDurationCap   = time.Minute
)

type RetryCallback func() (any, error)

type IRetry interface {
	Retry(_ RetryCallback) (any, error)
}

// Retry reruns a callback with exponential backoff. The proxy host uses
// it around upstream dials, where a transient refusal is common while an
// upstream restarts.
type Retry struct {
	logger             zerolog.Logger
	Retries            int
	Backoff            time.Duration
	BackoffMultiplier  float64
	DisableBackoffCaps bool
}

var _ IRetry = (*Retry)(nil)

// Retry runs the callback and retries it on failure, waiting
// Backoff * BackoffMultiplier^attempt between attempts, capped at
// BackoffDurationCap unless the caps are disabled.
func (r *Retry) Retry(callback RetryCallback) (any, error) {
	var (
		object any
		err    error
	)

	if callback == nil {
		return nil, errors.New("callback is nil")
	}

	if r == nil {
		return callback()
	}

	// The first attempt is not a retry, so the loop runs Retries+1 times.
	for attempt := 0; attempt <= r.Retries; attempt++ {
		if attempt > 0 {
			backoffDuration := r.Backoff * time.Duration(
				math.Pow(r.BackoffMultiplier, float64(attempt-1)),
			)
			if !r.DisableBackoffCaps && backoffDuration > BackoffDurationCap {
				backoffDuration = BackoffDurationCap
			}
			r.logger.Debug().Fields(
				map[string]any{
					"attempt": attempt,
					"delay":   backoffDuration.String(),
				},
			).Msg("Retrying upstream dial")
			time.Sleep(backoffDuration)
		}

		object, err = callback()
		if err == nil {
			return object, nil
		}
	}

	r.logger.Error().Err(err).Msgf("Upstream dial failed after %d attempts", r.Retries+1)

	return nil, err
}

func NewRetry(
	retries int,
	backoff time.Duration,
	backoffMultiplier float64,
	disableBackoffCaps bool,
	logger zerolog.Logger,
) *Retry {
	retry := Retry{
		Retries:            retries,
		Backoff:            backoff,
		BackoffMultiplier:  backoffMultiplier,
		DisableBackoffCaps: disableBackoffCaps,
		logger:             logger,
	}

	// A negative retry count means no retries.
	if retry.Retries < 0 {
		retry.Retries = 0
	}

	if !retry.DisableBackoffCaps && retry.BackoffMultiplier > BackoffMultiplierCap {
		retry.BackoffMultiplier = BackoffMultiplierCap
	}

	return &retry
}
