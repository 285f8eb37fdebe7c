// Package addon implements the addon registry: installation, the
// lifecycle state machine and the immutable hook snapshots the dispatcher
// routes traffic through. All mutations serialize on the registry lock
// and end with an atomic snapshot swap, so the dispatch path never
// observes a half-applied change.
package addon

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	semver "github.com/Masterminds/semver/v3"
	"github.com/hookflow-io/hookflow/config"
	gerr "github.com/hookflow-io/hookflow/errors"
	"github.com/hookflow-io/hookflow/metrics"
	"github.com/hookflow-io/hookflow/pool"
	"github.com/hookflow-io/hookflow/rule"
	"github.com/hookflow-io/hookflow/traffic"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
)

const stateChangeBuffer = 16

type IRegistry interface {
	Install(ctx context.Context, manifest *Manifest, opts InstallOptions) (*Addon, *gerr.HookFlowError)
	LoadAddons(ctx context.Context, addonsConfig config.AddonsConfig)
	Load(ctx context.Context, addonID string) *gerr.HookFlowError
	Enable(ctx context.Context, addonID string) *gerr.HookFlowError
	Disable(ctx context.Context, addonID string) *gerr.HookFlowError
	Upgrade(ctx context.Context, addonID string, manifest *Manifest) *gerr.HookFlowError
	Uninstall(ctx context.Context, addonID string) *gerr.HookFlowError
	Quarantine(ctx context.Context, addonID, reason string) *gerr.HookFlowError
	Snapshot() *Snapshot
	Get(addonID string) (Status, bool)
	List() []Status
	CheckConsistency(ctx context.Context) *gerr.HookFlowError
	Subscribe() (<-chan StateChange, func())
	Shutdown(ctx context.Context)
}

// InstallOptions tunes a single Install call. Config is overlaid on the
// manifest's defaults. SkipLoad leaves the addon in the installed state;
// Enable activates it right after loading.
type InstallOptions struct {
	Config   map[string]any
	Checksum string
	SkipLoad bool
	Enable   bool
}

// Status is the externally visible description of an installed addon.
type Status struct {
	ID        string         `json:"id"`
	Version   string         `json:"version"`
	State     string         `json:"state"`
	Checksum  string         `json:"checksum,omitempty"`
	Requires  string         `json:"requires,omitempty"`
	LastError string         `json:"lastError,omitempty"`
	Config    map[string]any `json:"config,omitempty"`
	Hooks     []HookStatus   `json:"hooks"`

	seq uint64
}

// HookStatus describes one hook of a loaded addon.
type HookStatus struct {
	Name         string `json:"name"`
	Event        string `json:"event"`
	Priority     int    `json:"priority"`
	ShortCircuit bool   `json:"shortCircuit,omitempty"`
	Rules        int    `json:"rules"`
}

// StateChange is broadcast to subscribers whenever an addon moves between
// lifecycle states. Generation is the snapshot generation after the
// change took effect.
type StateChange struct {
	AddonID    string    `json:"addonId"`
	From       string    `json:"from,omitempty"`
	To         string    `json:"to"`
	Reason     string    `json:"reason,omitempty"`
	Generation uint64    `json:"generation"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Registry owns every installed addon and publishes immutable hook
// snapshots for the dispatcher. Mutations serialize on a single lock; the
// dispatch path only ever touches the atomically swapped snapshot.
type Registry struct {
	mu                  sync.Mutex
	catalog             *Catalog
	addons              pool.IPool
	engineVersion       *semver.Version
	compatibilityPolicy config.CompatibilityPolicy
	logger              zerolog.Logger

	seq        atomic.Uint64
	generation atomic.Uint64
	current    atomic.Pointer[Snapshot]

	subMu          sync.Mutex
	subscribers    map[uint64]chan StateChange
	nextSubscriber uint64
}

var _ IRegistry = (*Registry)(nil)

// NewRegistry creates an addon registry backed by the given handler
// catalog. maxAddons bounds how many addons can be installed at once,
// zero meaning unbounded. The engine version used for requirement checks
// comes from the build; if it doesn't parse, requirement checks are
// skipped.
func NewRegistry(
	ctx context.Context,
	catalog *Catalog,
	maxAddons int,
	compatibilityPolicy config.CompatibilityPolicy,
	logger zerolog.Logger,
) *Registry {
	registryCtx, span := otel.Tracer(config.TracerName).Start(ctx, "NewRegistry")
	defer span.End()

	engineVersion, err := semver.NewVersion(config.Version)
	if err != nil {
		logger.Warn().Err(err).Msg(
			"Failed to parse the engine version, requirement checks are disabled")
		engineVersion = nil
	}

	registry := &Registry{
		catalog:             catalog,
		addons:              pool.NewPool(registryCtx, maxAddons),
		engineVersion:       engineVersion,
		compatibilityPolicy: compatibilityPolicy,
		logger:              logger,
		subscribers:         make(map[uint64]chan StateChange),
	}
	registry.current.Store(&Snapshot{
		Fingerprint: fingerprint(nil),
		CreatedAt:   time.Now(),
		hooks:       make(map[traffic.Kind][]HookEntry),
	})
	return registry
}

// Install validates the manifest and adds the addon to the registry. By
// default the addon is loaded right away; a non-nil *Addon together with
// a non-nil error means the addon was installed but loading or enabling
// it failed.
func (reg *Registry) Install(
	ctx context.Context, manifest *Manifest, opts InstallOptions,
) (*Addon, *gerr.HookFlowError) {
	_, span := otel.Tracer(config.TracerName).Start(ctx, "Install addon")
	defer span.End()

	if manifest == nil {
		span.RecordError(gerr.ErrNilPointer)
		return nil, gerr.ErrNilPointer
	}
	if err := manifest.Validate(
		reg.catalog, reg.engineVersion, reg.compatibilityPolicy, reg.logger,
	); err != nil {
		span.RecordError(err)
		return nil, err
	}
	version, vErr := semver.NewVersion(manifest.Version)
	if vErr != nil {
		err := gerr.ErrManifestInvalid.Wrap(vErr)
		span.RecordError(err)
		return nil, err
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()

	if reg.addons.Get(manifest.Name) != nil {
		err := gerr.ErrAddonExists.Wrap(
			fmt.Errorf("addon %q is already installed", manifest.Name))
		span.RecordError(err)
		return nil, err
	}

	addon := &Addon{
		ID:       manifest.Name,
		Version:  version,
		Checksum: opts.Checksum,
		Config:   mergeConfig(manifest.Config, opts.Config),
		Seq:      reg.seq.Add(1),
		manifest: manifest,
	}
	if manifest.Requires != nil {
		addon.Requires = manifest.Requires.Engine
	}
	addon.setState(StateInstalled)

	if err := reg.addons.Put(addon.ID, addon); err != nil {
		span.RecordError(err)
		return nil, err
	}
	reg.updateGaugesLocked()
	reg.logger.Debug().Str("name", addon.ID).Str("version", manifest.Version).Msg(
		"Addon installed")
	reg.notify(addon, "", StateInstalled, "")

	if opts.SkipLoad {
		return addon, nil
	}
	if err := reg.loadLocked(ctx, addon); err != nil {
		span.RecordError(err)
		return addon, err
	}
	if opts.Enable {
		if err := reg.enableLocked(addon); err != nil {
			span.RecordError(err)
			return addon, err
		}
	}
	return addon, nil
}

// LoadAddons installs every enabled addon from the addons config. A bad
// entry is logged and skipped so one broken addon cannot keep the rest
// from loading.
func (reg *Registry) LoadAddons(ctx context.Context, addonsConfig config.AddonsConfig) {
	_, span := otel.Tracer(config.TracerName).Start(ctx, "Load addons")
	defer span.End()

	for _, entry := range addonsConfig.Addons {
		reg.logger.Debug().Str("name", entry.Name).Msg("Loading addon")

		if !entry.Enabled {
			reg.logger.Debug().Str("name", entry.Name).Msg("Addon is disabled")
			continue
		}
		if entry.ManifestFile == "" {
			reg.logger.Debug().Str("name", entry.Name).Msg(
				"Manifest file of the addon doesn't exist or is not set")
			continue
		}

		manifest, sum, err := LoadManifestFile(entry.ManifestFile)
		if err != nil {
			reg.logger.Error().Err(err).Str("name", entry.Name).Msg(
				"Failed to load addon manifest")
			continue
		}
		if entry.Checksum != "" && entry.Checksum != sum {
			reg.logger.Debug().Fields(
				map[string]any{
					"calculated": sum,
					"expected":   entry.Checksum,
				},
			).Msg("Checksum mismatch")
			continue
		}
		if manifest.Name != entry.Name {
			reg.logger.Debug().Fields(
				map[string]any{
					"name":     entry.Name,
					"manifest": manifest.Name,
				},
			).Msg("Addon name does not match the manifest, skipping")
			continue
		}

		if _, err := reg.Install(ctx, manifest, InstallOptions{
			Config:   entry.Config,
			Checksum: sum,
			Enable:   addonsConfig.EnableOnInstall,
		}); err != nil {
			reg.logger.Error().Err(err).Str("name", entry.Name).Msg(
				"Failed to install addon")
		}
	}
}

// Load compiles the addon's hook rules and instantiates its handler.
// Loading an already loaded addon is a no-op.
func (reg *Registry) Load(ctx context.Context, addonID string) *gerr.HookFlowError {
	_, span := otel.Tracer(config.TracerName).Start(ctx, "Load addon")
	defer span.End()

	reg.mu.Lock()
	defer reg.mu.Unlock()

	addon, err := reg.lookupLocked(addonID)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if err := reg.loadLocked(ctx, addon); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

// Enable puts the addon's hooks on the dispatch path by publishing a new
// snapshot that includes them.
func (reg *Registry) Enable(ctx context.Context, addonID string) *gerr.HookFlowError {
	_, span := otel.Tracer(config.TracerName).Start(ctx, "Enable addon")
	defer span.End()

	reg.mu.Lock()
	defer reg.mu.Unlock()

	addon, err := reg.lookupLocked(addonID)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if err := reg.enableLocked(addon); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

// Disable takes the addon's hooks off the dispatch path. Cycles that
// already hold the previous snapshot finish with it; the addon's handler
// stays instantiated for a later Enable.
func (reg *Registry) Disable(ctx context.Context, addonID string) *gerr.HookFlowError {
	_, span := otel.Tracer(config.TracerName).Start(ctx, "Disable addon")
	defer span.End()

	reg.mu.Lock()
	defer reg.mu.Unlock()

	addon, err := reg.lookupLocked(addonID)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if addon.State() != StateActive {
		err := gerr.ErrLifecycleConflict.Wrap(
			fmt.Errorf("cannot disable addon %q in state %s", addonID, addon.State()))
		span.RecordError(err)
		return err
	}

	addon.setState(StateDisabled)
	reg.publishLocked()
	reg.updateGaugesLocked()
	reg.logger.Debug().Str("name", addonID).Msg("Addon disabled")
	reg.notify(addon, StateActive.String(), StateDisabled, "")
	return nil
}

// Upgrade replaces an installed addon with a newer version in one step.
// The addon keeps its id, install order and effective config; new config
// keys from the incoming manifest get their declared defaults. If
// anything about the new version fails, the running version stays
// untouched.
func (reg *Registry) Upgrade(
	ctx context.Context, addonID string, manifest *Manifest,
) *gerr.HookFlowError {
	_, span := otel.Tracer(config.TracerName).Start(ctx, "Upgrade addon")
	defer span.End()

	if manifest == nil {
		span.RecordError(gerr.ErrNilPointer)
		return gerr.ErrNilPointer
	}
	if err := manifest.Validate(
		reg.catalog, reg.engineVersion, reg.compatibilityPolicy, reg.logger,
	); err != nil {
		span.RecordError(err)
		return err
	}
	suppliedVer, vErr := semver.NewVersion(manifest.Version)
	if vErr != nil {
		err := gerr.ErrManifestInvalid.Wrap(vErr)
		span.RecordError(err)
		return err
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()

	current, err := reg.lookupLocked(addonID)
	if err != nil {
		span.RecordError(err)
		return err
	}

	from := current.State()
	switch from {
	case StateLoaded, StateActive, StateDisabled, StateError:
	default:
		err := gerr.ErrLifecycleConflict.Wrap(
			fmt.Errorf("cannot upgrade addon %q in state %s", addonID, from))
		span.RecordError(err)
		return err
	}

	if manifest.Name != addonID {
		err := gerr.ErrManifestInvalid.Wrap(fmt.Errorf(
			"manifest name %q does not match addon %q", manifest.Name, addonID))
		span.RecordError(err)
		return err
	}
	if suppliedVer.LessThan(current.Version) || suppliedVer.Equal(current.Version) {
		err := gerr.ErrLifecycleConflict.Wrap(fmt.Errorf(
			"supplied version %s is not newer than the installed version %s",
			suppliedVer, current.Version))
		span.RecordError(err)
		return err
	}

	replacement := &Addon{
		ID:      addonID,
		Version: suppliedVer,
		// Existing config wins over the new manifest's defaults, so an
		// upgrade never silently reverts operator settings.
		Config:   mergeConfig(manifest.Config, current.Config),
		Seq:      current.Seq,
		manifest: manifest,
	}
	if manifest.Requires != nil {
		replacement.Requires = manifest.Requires.Engine
	}

	if err := reg.buildLocked(ctx, replacement); err != nil {
		span.RecordError(err)
		reg.logger.Error().Err(err).Str("name", addonID).Msg(
			"Addon upgrade failed, keeping the running version")
		return err
	}

	if from == StateActive {
		replacement.setState(StateActive)
	} else {
		replacement.setState(StateLoaded)
	}

	reg.addons.Remove(addonID)
	if err := reg.addons.Put(addonID, replacement); err != nil {
		span.RecordError(err)
		return err
	}
	if replacement.State() == StateActive {
		reg.publishLocked()
	}
	reg.updateGaugesLocked()

	current.setState(StateUnloaded)
	current.Doom(ctx)

	reg.logger.Info().Fields(
		map[string]any{
			"name": addonID,
			"from": current.Version.String(),
			"to":   suppliedVer.String(),
		},
	).Msg("Addon upgraded")
	reg.notify(replacement, from.String(), replacement.State(),
		fmt.Sprintf("upgraded from %s to %s", current.Version, suppliedVer))
	return nil
}

// Uninstall removes the addon in any state. Its hooks leave the dispatch
// path with the next snapshot; the handler closes once the last in-flight
// invocation releases its reference.
func (reg *Registry) Uninstall(ctx context.Context, addonID string) *gerr.HookFlowError {
	_, span := otel.Tracer(config.TracerName).Start(ctx, "Uninstall addon")
	defer span.End()

	reg.mu.Lock()
	defer reg.mu.Unlock()

	addon, err := reg.lookupLocked(addonID)
	if err != nil {
		span.RecordError(err)
		return err
	}
	from := addon.State()

	reg.addons.Remove(addonID)
	addon.setState(StateUnloaded)
	if from == StateActive {
		reg.publishLocked()
	}
	reg.updateGaugesLocked()

	addon.Doom(ctx)

	reg.logger.Debug().Str("name", addonID).Msg("Addon uninstalled")
	reg.notify(addon, from.String(), StateUnloaded, "")
	return nil
}

// Quarantine moves a misbehaving addon to the error state and removes its
// hooks from the snapshot. The failure tracker calls this when an addon
// crosses the failure threshold; a stale report about an addon that is no
// longer active is ignored.
func (reg *Registry) Quarantine(ctx context.Context, addonID, reason string) *gerr.HookFlowError {
	_, span := otel.Tracer(config.TracerName).Start(ctx, "Quarantine addon")
	defer span.End()

	reg.mu.Lock()
	defer reg.mu.Unlock()

	addon, err := reg.lookupLocked(addonID)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if addon.State() != StateActive {
		reg.logger.Debug().Str("name", addonID).Msg(
			"Addon is not active, ignoring quarantine")
		return nil
	}

	addon.setState(StateError)
	addon.lastErr = reason
	reg.publishLocked()
	reg.updateGaugesLocked()
	metrics.AddonQuarantines.WithLabelValues(addonID).Inc()

	reg.logger.Error().Fields(
		map[string]any{
			"name":   addonID,
			"reason": reason,
		},
	).Msg("Addon quarantined")
	reg.notify(addon, StateActive.String(), StateError, reason)
	return nil
}

// Snapshot returns the current published snapshot. The dispatcher calls
// this once per cycle and routes the whole cycle through the same
// snapshot, even if a swap happens mid-cycle.
func (reg *Registry) Snapshot() *Snapshot {
	return reg.current.Load()
}

// Get returns the externally visible status of one addon.
func (reg *Registry) Get(addonID string) (Status, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	addon, err := reg.lookupLocked(addonID)
	if err != nil {
		return Status{}, false
	}
	return reg.statusLocked(addon), true
}

// List returns the status of every installed addon in install order.
func (reg *Registry) List() []Status {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	statuses := make([]Status, 0, reg.addons.Size())
	reg.addons.ForEach(func(_ string, value any) bool {
		if addon, ok := value.(*Addon); ok {
			statuses = append(statuses, reg.statusLocked(addon))
		}
		return true
	})
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].seq < statuses[j].seq })
	return statuses
}

// CheckConsistency recomputes the hook table from the installed addons
// and compares its fingerprint against the published snapshot. The
// periodic audit calls this; a mismatch means the registry and the
// snapshot diverged, which should never happen.
func (reg *Registry) CheckConsistency(ctx context.Context) *gerr.HookFlowError {
	_, span := otel.Tracer(config.TracerName).Start(ctx, "Check registry consistency")
	defer span.End()

	reg.mu.Lock()
	defer reg.mu.Unlock()

	current := reg.current.Load()
	expected := fingerprint(reg.buildActiveHooksLocked())
	if expected != current.Fingerprint {
		metrics.RegistryAuditFailures.Inc()
		err := gerr.ErrRegistryConsistency.Wrap(fmt.Errorf(
			"snapshot generation %d fingerprint mismatch: expected %x, got %x",
			current.Generation, expected, current.Fingerprint))
		span.RecordError(err)
		reg.logger.Error().Err(err).Msg("Registry consistency check failed")
		return err
	}
	reg.logger.Trace().Uint64("generation", current.Generation).Msg(
		"Registry snapshot is consistent")
	return nil
}

// Subscribe registers a listener for state changes. The returned function
// removes the subscription and closes the channel. Slow consumers miss
// events rather than blocking lifecycle transitions.
func (reg *Registry) Subscribe() (<-chan StateChange, func()) {
	reg.subMu.Lock()
	defer reg.subMu.Unlock()

	id := reg.nextSubscriber
	reg.nextSubscriber++
	events := make(chan StateChange, stateChangeBuffer)
	reg.subscribers[id] = events
	return events, func() {
		reg.subMu.Lock()
		defer reg.subMu.Unlock()
		if _, ok := reg.subscribers[id]; ok {
			delete(reg.subscribers, id)
			close(events)
		}
	}
}

// Shutdown unloads every addon and drops the published snapshot.
// In-flight invocations finish against their acquired handlers.
func (reg *Registry) Shutdown(ctx context.Context) {
	_, span := otel.Tracer(config.TracerName).Start(ctx, "Shutdown registry")
	defer span.End()

	reg.mu.Lock()
	reg.addons.ForEach(func(_ string, value any) bool {
		if addon, ok := value.(*Addon); ok {
			addon.setState(StateUnloaded)
			addon.Doom(ctx)
		}
		return true
	})
	reg.addons.Clear()
	reg.publishLocked()
	reg.updateGaugesLocked()
	reg.mu.Unlock()

	reg.subMu.Lock()
	for id, events := range reg.subscribers {
		delete(reg.subscribers, id)
		close(events)
	}
	reg.subMu.Unlock()
}

func (reg *Registry) lookupLocked(addonID string) (*Addon, *gerr.HookFlowError) {
	if addon, ok := reg.addons.Get(addonID).(*Addon); ok {
		return addon, nil
	}
	return nil, gerr.ErrAddonNotFound.Wrap(
		fmt.Errorf("addon %q is not installed", addonID))
}

// buildLocked compiles the manifest's hooks and instantiates the handler
// without touching the addon's state. All rule problems are collected and
// reported together.
func (reg *Registry) buildLocked(ctx context.Context, addon *Addon) *gerr.HookFlowError {
	var problems rule.ValidationErrors
	hooks := make([]Hook, 0, len(addon.manifest.Hooks))
	for i, declaration := range addon.manifest.Hooks {
		compiled, errs := rule.Parse(
			declaration.Event, declaration.Rules, fmt.Sprintf("hooks[%d]", i))
		if len(errs) > 0 {
			problems = append(problems, errs...)
			continue
		}
		hooks = append(hooks, Hook{
			Name:         declaration.Name,
			Kind:         compiled.Kind,
			Priority:     declaration.Priority,
			ShortCircuit: declaration.ShortCircuit,
			Rule:         compiled,
		})
	}
	if len(problems) > 0 {
		return gerr.ErrInvalidRule.Wrap(problems)
	}

	factory, ok := reg.catalog.Get(addon.manifest.Handler)
	if !ok {
		return gerr.ErrHandlerNotFound.Wrap(fmt.Errorf(
			"handler %q is not compiled into this binary", addon.manifest.Handler))
	}
	handler, err := factory(
		ctx, reg.logger.With().Str("addon", addon.ID).Logger(), addon.Config)
	if err != nil {
		return gerr.ErrAddonInitFailed.Wrap(err)
	}

	addon.handler = handler
	addon.Hooks = hooks
	return nil
}

// loadLocked moves an installed addon to the loaded state. Rule problems
// leave the state untouched so the manifest can be fixed and retried; a
// failing handler factory marks the addon as failed.
func (reg *Registry) loadLocked(ctx context.Context, addon *Addon) *gerr.HookFlowError {
	switch addon.State() {
	case StateLoaded:
		reg.logger.Debug().Str("name", addon.ID).Msg("Addon is already loaded")
		return nil
	case StateInstalled:
	default:
		return gerr.ErrLifecycleConflict.Wrap(
			fmt.Errorf("cannot load addon %q in state %s", addon.ID, addon.State()))
	}

	if err := reg.buildLocked(ctx, addon); err != nil {
		if errors.Is(err, gerr.ErrAddonInitFailed) {
			addon.setState(StateError)
			addon.lastErr = err.Error()
			reg.notify(addon, StateInstalled.String(), StateError, err.Error())
		}
		return err
	}

	addon.setState(StateLoaded)
	reg.logger.Debug().Str("name", addon.ID).Msg("Addon loaded")
	reg.notify(addon, StateInstalled.String(), StateLoaded, "")
	return nil
}

func (reg *Registry) enableLocked(addon *Addon) *gerr.HookFlowError {
	from := addon.State()
	if from != StateLoaded && from != StateDisabled {
		return gerr.ErrLifecycleConflict.Wrap(
			fmt.Errorf("cannot enable addon %q in state %s", addon.ID, from))
	}

	addon.setState(StateActive)
	reg.publishLocked()
	reg.updateGaugesLocked()
	reg.logger.Debug().Str("name", addon.ID).Msg("Addon enabled")
	reg.notify(addon, from.String(), StateActive, "")
	return nil
}

// publishLocked rebuilds the hook table from the active addons and swaps
// it in as the new current snapshot.
func (reg *Registry) publishLocked() {
	hooks := reg.buildActiveHooksLocked()
	snapshot := &Snapshot{
		Generation:  reg.generation.Add(1),
		Fingerprint: fingerprint(hooks),
		CreatedAt:   time.Now(),
		hooks:       hooks,
	}
	reg.current.Store(snapshot)
	metrics.SnapshotSwaps.Inc()
	metrics.SnapshotGeneration.Set(float64(snapshot.Generation))
	reg.logger.Debug().Fields(
		map[string]any{
			"generation": snapshot.Generation,
			"hooks":      snapshot.HookCount(),
		},
	).Msg("Published new hook snapshot")
}

// buildActiveHooksLocked collects the hooks of every active addon,
// ordered by priority with install order breaking ties.
func (reg *Registry) buildActiveHooksLocked() map[traffic.Kind][]HookEntry {
	hooks := make(map[traffic.Kind][]HookEntry)
	reg.addons.ForEach(func(_ string, value any) bool {
		addon, ok := value.(*Addon)
		if !ok || addon.State() != StateActive {
			return true
		}
		for _, hook := range addon.Hooks {
			hooks[hook.Kind] = append(hooks[hook.Kind], HookEntry{Addon: addon, Hook: hook})
		}
		return true
	})
	for kind := range hooks {
		entries := hooks[kind]
		sort.SliceStable(entries, func(i, j int) bool {
			if entries[i].Hook.Priority != entries[j].Hook.Priority {
				return entries[i].Hook.Priority < entries[j].Hook.Priority
			}
			return entries[i].Addon.Seq < entries[j].Addon.Seq
		})
	}
	return hooks
}

func (reg *Registry) statusLocked(addon *Addon) Status {
	status := Status{
		ID:        addon.ID,
		Version:   addon.Version.String(),
		State:     addon.State().String(),
		Checksum:  addon.Checksum,
		Requires:  addon.Requires,
		LastError: addon.lastErr,
		Config:    addon.Config,
		Hooks:     make([]HookStatus, 0, len(addon.Hooks)),
		seq:       addon.Seq,
	}
	for _, hook := range addon.Hooks {
		status.Hooks = append(status.Hooks, HookStatus{
			Name:         hook.Name,
			Event:        string(hook.Kind),
			Priority:     hook.Priority,
			ShortCircuit: hook.ShortCircuit,
			Rules:        len(hook.Rule.Predicates),
		})
	}
	return status
}

func (reg *Registry) updateGaugesLocked() {
	var installed, active float64
	reg.addons.ForEach(func(_ string, value any) bool {
		addon, ok := value.(*Addon)
		if !ok {
			return true
		}
		installed++
		if addon.State() == StateActive {
			active++
		}
		return true
	})
	metrics.InstalledAddons.Set(installed)
	metrics.ActiveAddons.Set(active)
}

func (reg *Registry) notify(addon *Addon, from string, to State, reason string) {
	change := StateChange{
		AddonID:    addon.ID,
		From:       from,
		To:         to.String(),
		Reason:     reason,
		Generation: reg.generation.Load(),
		OccurredAt: time.Now(),
	}

	reg.subMu.Lock()
	defer reg.subMu.Unlock()
	for _, events := range reg.subscribers {
		select {
		case events <- change:
		default:
			reg.logger.Warn().Str("addon", change.AddonID).Msg(
				"State change subscriber is full, dropping event")
		}
	}
}
