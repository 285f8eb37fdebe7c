package api

import (
	"context"
	"fmt"
	"time"

	"github.com/hookflow-io/hookflow/addon"
	"github.com/hookflow-io/hookflow/config"
	gerr "github.com/hookflow-io/hookflow/errors"
	"github.com/hookflow-io/hookflow/network"
	"github.com/rs/zerolog"
)

type Options struct {
	Logger  zerolog.Logger
	Address string
}

// API is the management surface. It is a thin translation layer: every
// mutation goes straight to the registry and returns after the snapshot
// swap, so a 2xx answer means the dispatcher already sees the change.
type API struct {
	Options *Options

	Config   *config.Config
	Registry addon.IRegistry
	Servers  map[string]*network.Server
}

// VersionResponse is the body of GET /v1/version.
type VersionResponse struct {
	Version     string `json:"version"`
	VersionInfo string `json:"versionInfo"`
}

// InstallRequest is the body of POST /v1/addons. Manifest carries the
// YAML manifest text; Config overlays the manifest's defaults.
type InstallRequest struct {
	Manifest string         `json:"manifest"`
	Config   map[string]any `json:"config,omitempty"`
	Checksum string         `json:"checksum,omitempty"`
	SkipLoad bool           `json:"skipLoad,omitempty"`
	Enable   bool           `json:"enable,omitempty"`
}

// UpgradeRequest is the body of POST /v1/addons/{id}/upgrade.
type UpgradeRequest struct {
	Manifest string `json:"manifest"`
}

// SnapshotInfo describes the hook table the dispatcher currently reads.
type SnapshotInfo struct {
	Generation  uint64         `json:"generation"`
	Fingerprint string         `json:"fingerprint"`
	CreatedAt   time.Time      `json:"createdAt"`
	Hooks       map[string]int `json:"hooks"`
	Total       int            `json:"total"`
}

func (a *API) Version() VersionResponse {
	return VersionResponse{
		Version:     config.Version,
		VersionInfo: config.VersionInfo(),
	}
}

func (a *API) ListAddons() []addon.Status {
	return a.Registry.List()
}

func (a *API) GetAddon(addonID string) (addon.Status, *gerr.HookFlowError) {
	status, ok := a.Registry.Get(addonID)
	if !ok {
		return addon.Status{}, gerr.ErrAddonNotFound
	}
	return status, nil
}

func (a *API) InstallAddon(
	ctx context.Context, request InstallRequest,
) (addon.Status, *gerr.HookFlowError) {
	manifest, err := addon.ParseManifest([]byte(request.Manifest))
	if err != nil {
		return addon.Status{}, err
	}

	installed, err := a.Registry.Install(ctx, manifest, addon.InstallOptions{
		Config:   request.Config,
		Checksum: request.Checksum,
		SkipLoad: request.SkipLoad,
		Enable:   request.Enable,
	})
	if err != nil {
		return addon.Status{}, err
	}

	status, ok := a.Registry.Get(installed.ID)
	if !ok {
		return addon.Status{}, gerr.ErrAddonNotFound
	}
	return status, nil
}

func (a *API) UpgradeAddon(
	ctx context.Context, addonID string, request UpgradeRequest,
) (addon.Status, *gerr.HookFlowError) {
	manifest, err := addon.ParseManifest([]byte(request.Manifest))
	if err != nil {
		return addon.Status{}, err
	}
	if err := a.Registry.Upgrade(ctx, addonID, manifest); err != nil {
		return addon.Status{}, err
	}

	status, ok := a.Registry.Get(addonID)
	if !ok {
		return addon.Status{}, gerr.ErrAddonNotFound
	}
	return status, nil
}

func (a *API) LoadAddon(ctx context.Context, addonID string) *gerr.HookFlowError {
	return a.Registry.Load(ctx, addonID)
}

func (a *API) EnableAddon(ctx context.Context, addonID string) *gerr.HookFlowError {
	return a.Registry.Enable(ctx, addonID)
}

func (a *API) DisableAddon(ctx context.Context, addonID string) *gerr.HookFlowError {
	return a.Registry.Disable(ctx, addonID)
}

func (a *API) UninstallAddon(ctx context.Context, addonID string) *gerr.HookFlowError {
	return a.Registry.Uninstall(ctx, addonID)
}

func (a *API) SnapshotInfo() SnapshotInfo {
	snapshot := a.Registry.Snapshot()
	info := SnapshotInfo{
		Generation:  snapshot.Generation,
		Fingerprint: fmt.Sprintf("%016x", snapshot.Fingerprint),
		CreatedAt:   snapshot.CreatedAt,
		Hooks:       map[string]int{},
		Total:       snapshot.HookCount(),
	}
	for _, kind := range snapshot.Kinds() {
		info.Hooks[string(kind)] = len(snapshot.Hooks(kind))
	}
	return info
}
