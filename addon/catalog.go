package addon

import (
	"context"
	"sort"
	"sync"

	"github.com/hookflow-io/hookflow/traffic"
	"github.com/rs/zerolog"
)

// Handler is the unit of work an addon contributes to a dispatch cycle.
// Handle inspects one traffic event and returns a contribution, which may
// be nil when the addon has nothing to say about the event. Handlers must
// be safe for concurrent use; the dispatcher calls them from multiple
// flows at once.
type Handler interface {
	Handle(ctx context.Context, event *traffic.Event) (*traffic.Contribution, error)
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(ctx context.Context, event *traffic.Event) (*traffic.Contribution, error)

func (f HandlerFunc) Handle(ctx context.Context, event *traffic.Event) (*traffic.Contribution, error) {
	return f(ctx, event)
}

// Closer is implemented by handlers that hold resources, for example open
// files or network connections. The registry calls Close exactly once,
// after the last in-flight invocation of the handler has returned.
type Closer interface {
	Close(ctx context.Context) error
}

// Factory builds a handler instance from an addon's effective config. The
// logger is already scoped to the addon. Returning an error marks the
// addon as failed without affecting any other addon.
type Factory func(ctx context.Context, logger zerolog.Logger, config map[string]any) (Handler, error)

// Catalog maps the handler names used in addon manifests to the factories
// compiled into this binary. A manifest naming a handler that is not in
// the catalog is rejected at install time.
type Catalog struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewCatalog creates an empty handler catalog.
func NewCatalog() *Catalog {
	return &Catalog{factories: make(map[string]Factory)}
}

// Register adds a factory under the given name. Registering the same name
// twice replaces the earlier factory; addons loaded afterwards get the new
// one.
func (c *Catalog) Register(name string, factory Factory) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.factories[name] = factory
}

// Get returns the factory registered under the given name.
func (c *Catalog) Get(name string) (Factory, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	factory, ok := c.factories[name]
	return factory, ok
}

// Names returns the registered handler names in sorted order.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.factories))
	for name := range c.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
