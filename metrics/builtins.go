package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	Namespace = "hookflow"
)

var (
	EventsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "events_dispatched_total",
		Help:      "Number of traffic events dispatched",
	}, []string{"kind"})
	HookInvocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "hook_invocations_total",
		Help:      "Number of addon hook invocations",
	}, []string{"addon"})
	HookFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "hook_failures_total",
		Help:      "Number of failed addon hook invocations",
	}, []string{"addon"})
	HookTimeouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "hook_timeouts_total",
		Help:      "Number of addon hook invocations that exceeded their time budget",
	}, []string{"addon"})
	AddonQuarantines = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "addon_quarantines_total",
		Help:      "Number of addons moved to the error state by the failure tracker",
	}, []string{"addon"})
	BlockedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "blocked_events_total",
		Help:      "Number of traffic events blocked by an addon verdict",
	}, []string{"kind"})
	SnapshotSwaps = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "snapshot_swaps_total",
		Help:      "Number of registry snapshot publications",
	})
	SnapshotGeneration = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "snapshot_generation",
		Help:      "Generation counter of the current registry snapshot",
	})
	RegistryAuditFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "registry_audit_failures_total",
		Help:      "Number of snapshot consistency audit failures",
	})
	InstalledAddons = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "installed_addons",
		Help:      "Number of installed addons",
	})
	ActiveAddons = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "active_addons",
		Help:      "Number of addons in the active state",
	})
	ProxiedFlows = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "proxied_flows",
		Help:      "Number of in-flight proxied flows",
	})
	ProxiedTunnels = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "proxied_tunnels_total",
		Help:      "Number of CONNECT tunnels established",
	})
	WebsocketMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "websocket_messages_total",
		Help:      "Number of websocket messages relayed",
	}, []string{"direction"})
	APIRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "api_requests_total",
		Help:      "Number of API requests",
	}, []string{"method", "endpoint"})
	APIRequestsErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "api_requests_errors_total",
		Help:      "Number of API request errors",
	}, []string{"method", "endpoint", "error"})
)
