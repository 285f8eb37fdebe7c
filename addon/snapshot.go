package addon

import (
	"bytes"
	"fmt"
	"sort"
	"time"

	"github.com/hookflow-io/hookflow/traffic"
	"github.com/spaolacci/murmur3"
)

// HookEntry pairs one compiled hook with the addon that owns it. Entries
// are stored pre-sorted by priority, with install order breaking ties.
type HookEntry struct {
	Addon *Addon
	Hook  Hook
}

// Snapshot is an immutable view of every active hook, grouped by event
// kind. The dispatcher reads exactly one snapshot per cycle; lifecycle
// changes publish a new snapshot instead of mutating this one.
type Snapshot struct {
	Generation  uint64
	Fingerprint uint64
	CreatedAt   time.Time

	hooks map[traffic.Kind][]HookEntry
}

// Hooks returns the ordered entries for the given event kind. The
// returned slice must not be modified.
func (s *Snapshot) Hooks(kind traffic.Kind) []HookEntry {
	if s == nil {
		return nil
	}
	return s.hooks[kind]
}

// HookCount returns the total number of entries across all kinds.
func (s *Snapshot) HookCount() int {
	if s == nil {
		return 0
	}
	var count int
	for _, entries := range s.hooks {
		count += len(entries)
	}
	return count
}

// Kinds returns the event kinds with at least one entry, sorted.
func (s *Snapshot) Kinds() []traffic.Kind {
	if s == nil {
		return nil
	}
	kinds := make([]traffic.Kind, 0, len(s.hooks))
	for kind := range s.hooks {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// fingerprint hashes a canonical serialization of the hook table. The
// registry audit recomputes it from the installed addons and compares it
// against the published snapshot.
func fingerprint(hooks map[traffic.Kind][]HookEntry) uint64 {
	kinds := make([]string, 0, len(hooks))
	for kind := range hooks {
		kinds = append(kinds, string(kind))
	}
	sort.Strings(kinds)

	var buf bytes.Buffer
	for _, kind := range kinds {
		for _, entry := range hooks[traffic.Kind(kind)] {
			fmt.Fprintf(&buf, "%s|%s|%d|%s|%s|%d|%t\n",
				entry.Addon.ID,
				entry.Addon.Version,
				entry.Addon.Seq,
				entry.Hook.Name,
				kind,
				entry.Hook.Priority,
				entry.Hook.ShortCircuit,
			)
			for _, predicate := range entry.Hook.Rule.Predicates {
				fmt.Fprintf(&buf, "  %s|%s|%s|%t\n",
					predicate.Field, predicate.Op, predicate.Value, predicate.Negate)
			}
		}
	}
	return murmur3.Sum64(buf.Bytes())
}
