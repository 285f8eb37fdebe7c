package addon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/hookflow-io/hookflow/config"
	gerr "github.com/hookflow-io/hookflow/errors"
	"github.com/hookflow-io/hookflow/rule"
	"github.com/hookflow-io/hookflow/traffic"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoFactory(_ context.Context, _ zerolog.Logger, _ map[string]any) (Handler, error) {
	return HandlerFunc(func(_ context.Context, _ *traffic.Event) (*traffic.Contribution, error) {
		return nil, nil
	}), nil
}

func failingFactory(_ context.Context, _ zerolog.Logger, _ map[string]any) (Handler, error) {
	return nil, errors.New("init exploded")
}

// closingHandler records whether the registry closed it.
type closingHandler struct {
	closed atomic.Bool
}

func (h *closingHandler) Handle(_ context.Context, _ *traffic.Event) (*traffic.Contribution, error) {
	return nil, nil
}

func (h *closingHandler) Close(_ context.Context) error {
	h.closed.Store(true)
	return nil
}

func newTestRegistry(t *testing.T) (*Registry, *[]*closingHandler) {
	t.Helper()
	var closers []*closingHandler
	catalog := NewCatalog()
	catalog.Register("echo", echoFactory)
	catalog.Register("failing", failingFactory)
	catalog.Register("closing", func(_ context.Context, _ zerolog.Logger, _ map[string]any) (Handler, error) {
		handler := &closingHandler{}
		closers = append(closers, handler)
		return handler, nil
	})
	registry := NewRegistry(
		context.Background(), catalog, config.DefaultMaxAddons, config.Strict, zerolog.Nop())
	require.NotNil(t, registry)
	return registry, &closers
}

func testManifest(name, version, handler string, hooks ...HookManifest) *Manifest {
	return &Manifest{
		Name:    name,
		Version: version,
		Handler: handler,
		Hooks:   hooks,
	}
}

func testHookDecl(name string, priority int) HookManifest {
	return HookManifest{
		Name:     name,
		Event:    string(traffic.KindRequestReceived),
		Priority: priority,
	}
}

func TestCatalog(t *testing.T) {
	catalog := NewCatalog()
	_, ok := catalog.Get("echo")
	assert.False(t, ok)

	catalog.Register("echo", echoFactory)
	catalog.Register("accesslog", echoFactory)
	_, ok = catalog.Get("echo")
	assert.True(t, ok)
	assert.Equal(t, []string{"accesslog", "echo"}, catalog.Names())
}

func TestInstall(t *testing.T) {
	registry, _ := newTestRegistry(t)
	ctx := context.Background()

	installed, err := registry.Install(ctx,
		testManifest("observer", "1.0.0", "echo", testHookDecl("observe", 10)),
		InstallOptions{Enable: true})
	require.Nil(t, err)
	assert.Equal(t, "observer", installed.ID)
	assert.Equal(t, StateActive, installed.State())

	snapshot := registry.Snapshot()
	assert.Equal(t, uint64(1), snapshot.Generation)
	entries := snapshot.Hooks(traffic.KindRequestReceived)
	require.Len(t, entries, 1)
	assert.Equal(t, "observe", entries[0].Hook.Name)
	assert.Equal(t, "observer", entries[0].Addon.ID)

	status, found := registry.Get("observer")
	require.True(t, found)
	assert.Equal(t, "1.0.0", status.Version)
	assert.Equal(t, "active", status.State)
}

func TestInstall_Duplicate(t *testing.T) {
	registry, _ := newTestRegistry(t)
	ctx := context.Background()

	_, err := registry.Install(ctx,
		testManifest("observer", "1.0.0", "echo", testHookDecl("observe", 10)),
		InstallOptions{})
	require.Nil(t, err)

	_, err = registry.Install(ctx,
		testManifest("observer", "1.1.0", "echo", testHookDecl("observe", 10)),
		InstallOptions{})
	require.NotNil(t, err)
	assert.ErrorIs(t, err, gerr.ErrAddonExists)
}

func TestInstall_UnknownHandler(t *testing.T) {
	registry, _ := newTestRegistry(t)

	_, err := registry.Install(context.Background(),
		testManifest("observer", "1.0.0", "bogus", testHookDecl("observe", 10)),
		InstallOptions{})
	require.NotNil(t, err)
	assert.ErrorIs(t, err, gerr.ErrHandlerNotFound)
}

func TestInstall_InvalidRule(t *testing.T) {
	registry, _ := newTestRegistry(t)
	ctx := context.Background()

	manifest := testManifest("broken", "1.0.0", "echo")
	manifest.Hooks = []HookManifest{{
		Name:  "match-nothing",
		Event: string(traffic.KindRequestReceived),
		Rules: []rule.PredicateSpec{{Field: "path", Op: "matches", Value: "/x"}},
	}}

	before := registry.Snapshot().Generation
	installed, err := registry.Install(ctx, manifest, InstallOptions{Enable: true})
	require.NotNil(t, err)
	assert.ErrorIs(t, err, gerr.ErrInvalidRule)
	assert.Contains(t, err.Error(), "hooks[0].rules[0].op")

	// The addon is installed but nothing was published.
	require.NotNil(t, installed)
	assert.Equal(t, StateInstalled, installed.State())
	assert.Equal(t, before, registry.Snapshot().Generation)
}

func TestInstall_FactoryFailure(t *testing.T) {
	registry, _ := newTestRegistry(t)

	installed, err := registry.Install(context.Background(),
		testManifest("cranky", "1.0.0", "failing", testHookDecl("observe", 10)),
		InstallOptions{Enable: true})
	require.NotNil(t, err)
	assert.ErrorIs(t, err, gerr.ErrAddonInitFailed)
	assert.Equal(t, StateError, installed.State())

	status, found := registry.Get("cranky")
	require.True(t, found)
	assert.Equal(t, "error", status.State)
	assert.Contains(t, status.LastError, "init exploded")
}

func TestLifecycleGuards(t *testing.T) {
	registry, _ := newTestRegistry(t)
	ctx := context.Background()

	_, err := registry.Install(ctx,
		testManifest("observer", "1.0.0", "echo", testHookDecl("observe", 10)),
		InstallOptions{SkipLoad: true})
	require.Nil(t, err)

	// Installed addons cannot be enabled or disabled before loading.
	assert.ErrorIs(t, registry.Enable(ctx, "observer"), gerr.ErrLifecycleConflict)
	assert.ErrorIs(t, registry.Disable(ctx, "observer"), gerr.ErrLifecycleConflict)

	require.Nil(t, registry.Load(ctx, "observer"))
	// Loading twice is harmless.
	require.Nil(t, registry.Load(ctx, "observer"))

	require.Nil(t, registry.Enable(ctx, "observer"))
	assert.ErrorIs(t, registry.Enable(ctx, "observer"), gerr.ErrLifecycleConflict)

	require.Nil(t, registry.Disable(ctx, "observer"))
	assert.ErrorIs(t, registry.Disable(ctx, "observer"), gerr.ErrLifecycleConflict)

	// Disabled addons can be re-enabled.
	require.Nil(t, registry.Enable(ctx, "observer"))

	assert.ErrorIs(t, registry.Enable(ctx, "ghost"), gerr.ErrAddonNotFound)
	assert.ErrorIs(t, registry.Uninstall(ctx, "ghost"), gerr.ErrAddonNotFound)
}

func TestDisable_RemovesFromNextSnapshot(t *testing.T) {
	registry, _ := newTestRegistry(t)
	ctx := context.Background()

	_, err := registry.Install(ctx,
		testManifest("first", "1.0.0", "echo", testHookDecl("one", 1)),
		InstallOptions{Enable: true})
	require.Nil(t, err)
	_, err = registry.Install(ctx,
		testManifest("second", "1.0.0", "echo", testHookDecl("two", 2)),
		InstallOptions{Enable: true})
	require.Nil(t, err)

	before := registry.Snapshot()
	require.Len(t, before.Hooks(traffic.KindRequestReceived), 2)

	require.Nil(t, registry.Disable(ctx, "first"))

	after := registry.Snapshot()
	assert.Greater(t, after.Generation, before.Generation)
	entries := after.Hooks(traffic.KindRequestReceived)
	require.Len(t, entries, 1)
	assert.Equal(t, "second", entries[0].Addon.ID)

	// The old snapshot is untouched for cycles still holding it.
	assert.Len(t, before.Hooks(traffic.KindRequestReceived), 2)
}

func TestSnapshotOrdering(t *testing.T) {
	registry, _ := newTestRegistry(t)
	ctx := context.Background()

	// Install order: charlie, alpha, bravo. Priorities: 5, 5, 1.
	_, err := registry.Install(ctx,
		testManifest("charlie", "1.0.0", "echo", testHookDecl("c", 5)),
		InstallOptions{Enable: true})
	require.Nil(t, err)
	_, err = registry.Install(ctx,
		testManifest("alpha", "1.0.0", "echo", testHookDecl("a", 5)),
		InstallOptions{Enable: true})
	require.Nil(t, err)
	_, err = registry.Install(ctx,
		testManifest("bravo", "1.0.0", "echo", testHookDecl("b", 1)),
		InstallOptions{Enable: true})
	require.Nil(t, err)

	entries := registry.Snapshot().Hooks(traffic.KindRequestReceived)
	require.Len(t, entries, 3)
	// Lowest priority first; equal priorities keep install order.
	assert.Equal(t, "bravo", entries[0].Addon.ID)
	assert.Equal(t, "charlie", entries[1].Addon.ID)
	assert.Equal(t, "alpha", entries[2].Addon.ID)
}

func TestUpgrade_PreservesIdentityAndConfig(t *testing.T) {
	registry, closers := newTestRegistry(t)
	ctx := context.Background()

	v1 := testManifest("rewriter", "1.0.0", "closing", testHookDecl("rewrite", 10))
	v1.Config = map[string]any{"limit": 10, "mode": "soft"}
	_, err := registry.Install(ctx, v1, InstallOptions{
		Config: map[string]any{"limit": 25},
		Enable: true,
	})
	require.Nil(t, err)
	require.Len(t, *closers, 1)

	before := registry.Snapshot().Generation

	v2 := testManifest("rewriter", "2.0.0", "closing",
		testHookDecl("rewrite", 10), testHookDecl("audit", 20))
	v2.Config = map[string]any{"limit": 50, "burst": 5}
	require.Nil(t, registry.Upgrade(ctx, "rewriter", v2))

	status, found := registry.Get("rewriter")
	require.True(t, found)
	assert.Equal(t, "2.0.0", status.Version)
	assert.Equal(t, "active", status.State)
	// Operator settings survive; new knobs pick up the new defaults.
	assert.Equal(t, 25, status.Config["limit"])
	assert.Equal(t, "soft", status.Config["mode"])
	assert.Equal(t, 5, status.Config["burst"])
	assert.Len(t, status.Hooks, 2)

	// Exactly one snapshot swap for the whole upgrade.
	after := registry.Snapshot()
	assert.Equal(t, before+1, after.Generation)
	assert.Len(t, after.Hooks(traffic.KindRequestReceived), 2)

	// The replaced handler was torn down, the new one was not.
	require.Len(t, *closers, 2)
	assert.True(t, (*closers)[0].closed.Load())
	assert.False(t, (*closers)[1].closed.Load())
}

func TestUpgrade_KeepsInstallOrder(t *testing.T) {
	registry, _ := newTestRegistry(t)
	ctx := context.Background()

	_, err := registry.Install(ctx,
		testManifest("first", "1.0.0", "echo", testHookDecl("one", 5)),
		InstallOptions{Enable: true})
	require.Nil(t, err)
	_, err = registry.Install(ctx,
		testManifest("second", "1.0.0", "echo", testHookDecl("two", 5)),
		InstallOptions{Enable: true})
	require.Nil(t, err)

	require.Nil(t, registry.Upgrade(ctx, "first",
		testManifest("first", "2.0.0", "echo", testHookDecl("one", 5))))

	entries := registry.Snapshot().Hooks(traffic.KindRequestReceived)
	require.Len(t, entries, 2)
	assert.Equal(t, "first", entries[0].Addon.ID)
	assert.Equal(t, "second", entries[1].Addon.ID)
}

func TestUpgrade_Rejections(t *testing.T) {
	registry, _ := newTestRegistry(t)
	ctx := context.Background()

	_, err := registry.Install(ctx,
		testManifest("observer", "1.1.0", "echo", testHookDecl("observe", 10)),
		InstallOptions{Enable: true})
	require.Nil(t, err)

	// Same version and downgrades are refused.
	assert.ErrorIs(t,
		registry.Upgrade(ctx, "observer",
			testManifest("observer", "1.1.0", "echo", testHookDecl("observe", 10))),
		gerr.ErrLifecycleConflict)
	assert.ErrorIs(t,
		registry.Upgrade(ctx, "observer",
			testManifest("observer", "1.0.9", "echo", testHookDecl("observe", 10))),
		gerr.ErrLifecycleConflict)

	// The manifest must name the addon being upgraded.
	assert.ErrorIs(t,
		registry.Upgrade(ctx, "observer",
			testManifest("imposter", "2.0.0", "echo", testHookDecl("observe", 10))),
		gerr.ErrManifestInvalid)

	assert.ErrorIs(t,
		registry.Upgrade(ctx, "ghost",
			testManifest("ghost", "2.0.0", "echo", testHookDecl("observe", 10))),
		gerr.ErrAddonNotFound)
}

func TestUpgrade_FailureKeepsRunningVersion(t *testing.T) {
	registry, _ := newTestRegistry(t)
	ctx := context.Background()

	_, err := registry.Install(ctx,
		testManifest("observer", "1.0.0", "echo", testHookDecl("observe", 10)),
		InstallOptions{Enable: true})
	require.Nil(t, err)
	before := registry.Snapshot().Generation

	upgradeErr := registry.Upgrade(ctx, "observer",
		testManifest("observer", "2.0.0", "failing", testHookDecl("observe", 10)))
	require.NotNil(t, upgradeErr)
	assert.ErrorIs(t, upgradeErr, gerr.ErrAddonInitFailed)

	status, found := registry.Get("observer")
	require.True(t, found)
	assert.Equal(t, "1.0.0", status.Version)
	assert.Equal(t, "active", status.State)
	assert.Equal(t, before, registry.Snapshot().Generation)
}

func TestUninstall_DefersTeardown(t *testing.T) {
	registry, closers := newTestRegistry(t)
	ctx := context.Background()

	_, err := registry.Install(ctx,
		testManifest("observer", "1.0.0", "closing", testHookDecl("observe", 10)),
		InstallOptions{Enable: true})
	require.Nil(t, err)
	require.Len(t, *closers, 1)
	handler := (*closers)[0]

	// Simulate an in-flight invocation holding a reference.
	entries := registry.Snapshot().Hooks(traffic.KindRequestReceived)
	require.Len(t, entries, 1)
	inFlight := entries[0].Addon
	require.True(t, inFlight.Acquire())

	require.Nil(t, registry.Uninstall(ctx, "observer"))
	_, found := registry.Get("observer")
	assert.False(t, found)
	assert.Empty(t, registry.Snapshot().Hooks(traffic.KindRequestReceived))

	// Teardown waits for the in-flight invocation.
	assert.False(t, handler.closed.Load())
	assert.False(t, inFlight.Acquire())

	inFlight.Release(ctx)
	assert.True(t, handler.closed.Load())
}

func TestUninstall_IdleClosesImmediately(t *testing.T) {
	registry, closers := newTestRegistry(t)
	ctx := context.Background()

	_, err := registry.Install(ctx,
		testManifest("observer", "1.0.0", "closing", testHookDecl("observe", 10)),
		InstallOptions{Enable: true})
	require.Nil(t, err)

	require.Nil(t, registry.Uninstall(ctx, "observer"))
	assert.True(t, (*closers)[0].closed.Load())
}

func TestQuarantine(t *testing.T) {
	registry, _ := newTestRegistry(t)
	ctx := context.Background()

	_, err := registry.Install(ctx,
		testManifest("observer", "1.0.0", "echo", testHookDecl("observe", 10)),
		InstallOptions{Enable: true})
	require.Nil(t, err)

	require.Nil(t, registry.Quarantine(ctx, "observer", "5 consecutive failures"))

	status, found := registry.Get("observer")
	require.True(t, found)
	assert.Equal(t, "error", status.State)
	assert.Equal(t, "5 consecutive failures", status.LastError)
	assert.Empty(t, registry.Snapshot().Hooks(traffic.KindRequestReceived))

	// A stale report about an already quarantined addon is ignored.
	generation := registry.Snapshot().Generation
	require.Nil(t, registry.Quarantine(ctx, "observer", "still failing"))
	assert.Equal(t, generation, registry.Snapshot().Generation)

	assert.ErrorIs(t, registry.Quarantine(ctx, "ghost", "whatever"), gerr.ErrAddonNotFound)

	// Recovery goes through upgrade.
	require.Nil(t, registry.Upgrade(ctx, "observer",
		testManifest("observer", "1.0.1", "echo", testHookDecl("observe", 10))))
	status, _ = registry.Get("observer")
	assert.Equal(t, "loaded", status.State)
	require.Nil(t, registry.Enable(ctx, "observer"))
}

func TestCheckConsistency(t *testing.T) {
	registry, _ := newTestRegistry(t)
	ctx := context.Background()

	require.Nil(t, registry.CheckConsistency(ctx))

	_, err := registry.Install(ctx,
		testManifest("observer", "1.0.0", "echo", testHookDecl("observe", 10)),
		InstallOptions{Enable: true})
	require.Nil(t, err)
	require.Nil(t, registry.CheckConsistency(ctx))

	// Corrupt the published snapshot behind the registry's back.
	healthy := registry.current.Load()
	registry.current.Store(&Snapshot{
		Generation:  healthy.Generation,
		Fingerprint: healthy.Fingerprint + 1,
		hooks:       healthy.hooks,
	})
	checkErr := registry.CheckConsistency(ctx)
	require.NotNil(t, checkErr)
	assert.ErrorIs(t, checkErr, gerr.ErrRegistryConsistency)

	registry.current.Store(healthy)
	require.Nil(t, registry.CheckConsistency(ctx))
}

func TestSubscribe(t *testing.T) {
	registry, _ := newTestRegistry(t)
	ctx := context.Background()

	events, unsubscribe := registry.Subscribe()

	_, err := registry.Install(ctx,
		testManifest("observer", "1.0.0", "echo", testHookDecl("observe", 10)),
		InstallOptions{Enable: true})
	require.Nil(t, err)

	assert.Equal(t, "installed", (<-events).To)
	assert.Equal(t, "loaded", (<-events).To)
	active := <-events
	assert.Equal(t, "active", active.To)
	assert.Equal(t, "observer", active.AddonID)
	assert.Equal(t, uint64(1), active.Generation)

	require.Nil(t, registry.Disable(ctx, "observer"))
	disabled := <-events
	assert.Equal(t, "active", disabled.From)
	assert.Equal(t, "disabled", disabled.To)

	unsubscribe()
	_, open := <-events
	assert.False(t, open)

	// Events after unsubscribing don't go anywhere.
	require.Nil(t, registry.Enable(ctx, "observer"))
}

func TestLoadAddons(t *testing.T) {
	registry, _ := newTestRegistry(t)
	ctx := context.Background()
	tempDir := t.TempDir()

	writeManifest := func(name string) string {
		path := filepath.Join(tempDir, name+".yaml")
		content := fmt.Sprintf(
			"name: %s\nversion: 1.0.0\nhandler: echo\nhooks:\n  - name: observe\n    event: request-received\n",
			name)
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
		return path
	}

	alphaPath := writeManifest("alpha")
	gammaPath := writeManifest("gamma")

	registry.LoadAddons(ctx, config.AddonsConfig{
		EnableOnInstall: true,
		Addons: []config.Addon{
			{Name: "alpha", Enabled: true, ManifestFile: alphaPath},
			{Name: "beta", Enabled: false, ManifestFile: alphaPath},
			{Name: "gamma", Enabled: true, ManifestFile: gammaPath, Checksum: "deadbeef"},
			{Name: "delta", Enabled: true, ManifestFile: filepath.Join(tempDir, "missing.yaml")},
		},
	})

	statuses := registry.List()
	require.Len(t, statuses, 1)
	assert.Equal(t, "alpha", statuses[0].ID)
	assert.Equal(t, "active", statuses[0].State)
	assert.NotEmpty(t, statuses[0].Checksum)
}

func TestShutdown(t *testing.T) {
	registry, closers := newTestRegistry(t)
	ctx := context.Background()

	_, err := registry.Install(ctx,
		testManifest("observer", "1.0.0", "closing", testHookDecl("observe", 10)),
		InstallOptions{Enable: true})
	require.Nil(t, err)
	events, _ := registry.Subscribe()

	registry.Shutdown(ctx)

	assert.Empty(t, registry.List())
	assert.Empty(t, registry.Snapshot().Hooks(traffic.KindRequestReceived))
	assert.True(t, (*closers)[0].closed.Load())
	_, open := <-events
	assert.False(t, open)
}
