// Package dispatch routes traffic events through the active addon hooks.
// Each cycle works from a single registry snapshot, invokes matching
// hooks in deterministic order and merges their contributions into one
// verdict for the proxy host. Addon failures are outcomes here, never
// panics: a hook that fails, times out or panics is recorded against its
// addon and the event continues as if the hook had not matched.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hookflow-io/hookflow/addon"
	gerr "github.com/hookflow-io/hookflow/errors"
	"github.com/hookflow-io/hookflow/metrics"
	"github.com/hookflow-io/hookflow/traffic"
	"github.com/rs/zerolog"
)

// Registry is the slice of the addon registry the dispatcher needs: the
// current snapshot and a way to report an addon that crossed the failure
// threshold.
type Registry interface {
	Snapshot() *addon.Snapshot
	Quarantine(ctx context.Context, addonID, reason string) *gerr.HookFlowError
}

type IDispatcher interface {
	Handle(ctx context.Context, event *traffic.Event) *traffic.Verdict
}

type Dispatcher struct {
	registry    Registry
	hookTimeout time.Duration
	tracker     *tracker
	logger      zerolog.Logger
}

var _ IDispatcher = (*Dispatcher)(nil)

// NewDispatcher creates a dispatcher. hookTimeout bounds each handler
// invocation, zero meaning no bound. failureThreshold consecutive
// failures within failureWindow quarantine an addon; a zero threshold
// disables quarantining.
func NewDispatcher(
	registry Registry,
	hookTimeout time.Duration,
	failureThreshold int,
	failureWindow time.Duration,
	logger zerolog.Logger,
) *Dispatcher {
	return &Dispatcher{
		registry:    registry,
		hookTimeout: hookTimeout,
		tracker:     newTracker(failureThreshold, failureWindow),
		logger:      logger,
	}
}

// Handle routes one event through every matching active hook and merges
// their contributions into a verdict. The snapshot is read exactly once,
// so a lifecycle change mid-cycle never mixes two hook tables; two
// concurrent events may legitimately run against different snapshots.
func (d *Dispatcher) Handle(ctx context.Context, event *traffic.Event) *traffic.Verdict {
	verdict := traffic.NewVerdict()
	if event == nil {
		return verdict
	}
	snapshot := d.registry.Snapshot()
	metrics.EventsDispatched.WithLabelValues(string(event.Kind)).Inc()

	for _, entry := range snapshot.Hooks(event.Kind) {
		if !entry.Hook.Rule.Matches(event) {
			continue
		}
		if !entry.Addon.Acquire() {
			// Doomed between the snapshot read and now; newer snapshots
			// no longer carry it.
			continue
		}
		contribution, err := d.invoke(ctx, entry, event)
		entry.Addon.Release(ctx)

		addonID := entry.Addon.ID
		metrics.HookInvocations.WithLabelValues(addonID).Inc()
		if err != nil {
			d.recordFailure(ctx, entry, event, err)
			continue
		}
		d.tracker.ok(addonID)
		if contribution == nil {
			continue
		}

		verdict.Apply(addonID, contribution)
		if entry.Hook.ShortCircuit && contribution.Terminal() {
			d.logger.Debug().Fields(
				map[string]any{
					"addon": addonID,
					"hook":  entry.Hook.Name,
					"flow":  event.FlowID,
				},
			).Msg("Hook short-circuited the dispatch cycle")
			break
		}
	}

	if verdict.Decision == traffic.DecisionBlock {
		metrics.BlockedEvents.WithLabelValues(string(event.Kind)).Inc()
	}
	return verdict
}

// invoke runs one handler with the configured time budget. The handler
// runs in its own goroutine so a panic or an overrun never unwinds into
// the dispatch loop; an abandoned invocation finishes on its own time and
// its result is dropped.
func (d *Dispatcher) invoke(
	ctx context.Context, entry addon.HookEntry, event *traffic.Event,
) (*traffic.Contribution, *gerr.HookFlowError) {
	invokeCtx := ctx
	if d.hookTimeout > 0 {
		var cancel context.CancelFunc
		invokeCtx, cancel = context.WithTimeout(ctx, d.hookTimeout)
		defer cancel()
	}

	output := make(chan *traffic.Contribution, 1)
	failed := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				failed <- fmt.Errorf("hook %s panicked: %v", entry.Hook.Name, r)
			}
		}()
		contribution, err := entry.Addon.Handler().Handle(invokeCtx, event)
		if err != nil {
			failed <- err
			return
		}
		output <- contribution
	}()

	select {
	case <-invokeCtx.Done():
		return nil, gerr.ErrHookTimeout.Wrap(invokeCtx.Err())
	case err := <-failed:
		return nil, gerr.ErrAddonRuntimeFailed.Wrap(err)
	case contribution := <-output:
		return contribution, nil
	}
}

// recordFailure counts one failed invocation and quarantines the addon
// once it crosses the threshold. Either way the in-flight event keeps
// going; runtime failures never propagate to the proxy engine.
func (d *Dispatcher) recordFailure(
	ctx context.Context, entry addon.HookEntry, event *traffic.Event, err *gerr.HookFlowError,
) {
	addonID := entry.Addon.ID
	metrics.HookFailures.WithLabelValues(addonID).Inc()
	if errors.Is(err, gerr.ErrHookTimeout) {
		metrics.HookTimeouts.WithLabelValues(addonID).Inc()
	}
	d.logger.Error().Err(err).Fields(
		map[string]any{
			"addon": addonID,
			"hook":  entry.Hook.Name,
			"flow":  event.FlowID,
		},
	).Msg("Hook invocation failed")

	if !d.tracker.fail(addonID, time.Now()) {
		return
	}
	reason := fmt.Sprintf("%d consecutive failures within %s",
		d.tracker.threshold, d.tracker.window)
	if qErr := d.registry.Quarantine(ctx, addonID, reason); qErr != nil {
		d.logger.Debug().Err(qErr).Str("addon", addonID).Msg(
			"Failed to quarantine addon")
	}
}
