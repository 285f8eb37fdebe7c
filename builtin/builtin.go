// Package builtin ships the handler implementations compiled into the
// engine. Addon manifests reference them by name; RegisterAll puts them
// into a catalog under the names listed here.
package builtin

import "github.com/hookflow-io/hookflow/addon"

// Handler names as addon manifests reference them.
const (
	HeaderInject = "headerinject"
	Blocklist    = "blocklist"
	BodyRewrite  = "bodyrewrite"
	AccessLog    = "accesslog"
)

// RegisterAll registers every builtin handler factory into the catalog.
func RegisterAll(catalog *addon.Catalog) {
	catalog.Register(HeaderInject, NewHeaderInject)
	catalog.Register(Blocklist, NewBlocklist)
	catalog.Register(BodyRewrite, NewBodyRewrite)
	catalog.Register(AccessLog, NewAccessLog)
}
