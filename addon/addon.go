package addon

import (
	"context"
	"sync"
	"sync/atomic"

	semver "github.com/Masterminds/semver/v3"
	"github.com/hookflow-io/hookflow/rule"
	"github.com/hookflow-io/hookflow/traffic"
)

// State is the lifecycle position of an installed addon. Transitions are
// guarded by the registry; an operation that is not valid for the current
// state is rejected without side effects.
type State int32

const (
	StateInstalled State = iota
	StateLoaded
	StateActive
	StateDisabled
	StateError
	StateUnloaded
)

func (s State) String() string {
	switch s {
	case StateInstalled:
		return "installed"
	case StateLoaded:
		return "loaded"
	case StateActive:
		return "active"
	case StateDisabled:
		return "disabled"
	case StateError:
		return "error"
	case StateUnloaded:
		return "unloaded"
	default:
		return "unknown"
	}
}

// Hook is one compiled hook of a loaded addon. Lower priority runs first;
// addons with equal priority run in install order.
type Hook struct {
	Name         string
	Kind         traffic.Kind
	Priority     int
	ShortCircuit bool
	Rule         *rule.Rule
}

// Addon is the registry's record of one installed addon. The identity,
// version and hook fields are written once, under the registry lock, and
// never mutated afterwards; an upgrade replaces the whole record. The
// state and reference count are safe to touch from the dispatch path.
type Addon struct {
	ID       string
	Version  *semver.Version
	Checksum string
	Requires string
	Config   map[string]any
	Hooks    []Hook

	// Seq is the install order. It survives upgrades, so an upgraded
	// addon keeps its place in priority tie-breaks.
	Seq uint64

	manifest *Manifest
	handler  Handler

	state   atomic.Int32
	lastErr string

	refMu     sync.Mutex
	refs      int
	doomed    bool
	closeOnce sync.Once
}

// State returns the current lifecycle state.
func (a *Addon) State() State {
	return State(a.state.Load())
}

func (a *Addon) setState(state State) {
	a.state.Store(int32(state))
}

// Handler returns the instantiated handler, or nil before the addon is
// loaded.
func (a *Addon) Handler() Handler {
	return a.handler
}

// Acquire takes a dispatch reference on the addon. It returns false once
// the addon has been doomed, which tells the caller to skip the
// invocation; a snapshot taken before the doom may still route events
// here.
func (a *Addon) Acquire() bool {
	a.refMu.Lock()
	defer a.refMu.Unlock()
	if a.doomed {
		return false
	}
	a.refs++
	return true
}

// Release drops a dispatch reference. The release that brings a doomed
// addon to zero references closes the handler, so teardown never races an
// in-flight invocation.
func (a *Addon) Release(ctx context.Context) {
	a.refMu.Lock()
	a.refs--
	last := a.doomed && a.refs == 0
	a.refMu.Unlock()
	if last {
		a.closeHandler(ctx)
	}
}

// Doom marks the addon for teardown. New acquisitions fail from here on.
// If no invocation is in flight the handler is closed immediately,
// otherwise the last Release closes it.
func (a *Addon) Doom(ctx context.Context) {
	a.refMu.Lock()
	a.doomed = true
	idle := a.refs == 0
	a.refMu.Unlock()
	if idle {
		a.closeHandler(ctx)
	}
}

func (a *Addon) closeHandler(ctx context.Context) {
	a.closeOnce.Do(func() {
		if closer, ok := a.handler.(Closer); ok {
			_ = closer.Close(ctx)
		}
	})
}
