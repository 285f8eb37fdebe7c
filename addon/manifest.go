package addon

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	semver "github.com/Masterminds/semver/v3"
	"github.com/codingsince1985/checksum"
	"github.com/hookflow-io/hookflow/config"
	gerr "github.com/hookflow-io/hookflow/errors"
	"github.com/hookflow-io/hookflow/rule"
	jsonSchemaGenerator "github.com/invopop/jsonschema"
	"github.com/rs/zerolog"
	jsonSchemaV5 "github.com/santhosh-tekuri/jsonschema/v5"
	yamlv3 "gopkg.in/yaml.v3"
)

// Manifest declares an addon: its identity, the compiled-in handler that
// implements it, default config and the hooks it wants on the dispatch
// path. Manifests are YAML files referenced from the addons config.
type Manifest struct {
	Name     string         `json:"name" yaml:"name"`
	Version  string         `json:"version" yaml:"version"`
	Handler  string         `json:"handler" yaml:"handler"`
	Requires *Requirements  `json:"requires,omitempty" yaml:"requires,omitempty"`
	Config   map[string]any `json:"config,omitempty" yaml:"config,omitempty" jsonschema:"nullable"`
	Hooks    []HookManifest `json:"hooks" yaml:"hooks"`
}

// Requirements pins what the addon needs from its host. Engine is a
// semver constraint, for example ">= 0.1.0".
type Requirements struct {
	Engine string `json:"engine,omitempty" yaml:"engine,omitempty"`
}

// HookManifest is one hook declaration. Rules are conjunctive: the hook
// fires when every predicate holds, and an empty list matches every event
// of the kind.
type HookManifest struct {
	Name         string               `json:"name" yaml:"name"`
	Event        string               `json:"event" yaml:"event"`
	Priority     int                  `json:"priority,omitempty" yaml:"priority,omitempty"`
	ShortCircuit bool                 `json:"shortCircuit,omitempty" yaml:"shortCircuit,omitempty"`
	Rules        []rule.PredicateSpec `json:"rules,omitempty" yaml:"rules,omitempty" jsonschema:"nullable"`
}

// ParseManifest decodes a YAML manifest and validates its shape against
// the schema generated from the Manifest struct, so typos in field names
// and missing identity fields are reported before anything is installed.
func ParseManifest(data []byte) (*Manifest, *gerr.HookFlowError) {
	var document map[string]any
	if err := yamlv3.Unmarshal(data, &document); err != nil {
		return nil, gerr.ErrManifestInvalid.Wrap(err)
	}

	if err := validateManifestSchema(document); err != nil {
		return nil, err
	}

	var manifest Manifest
	if err := yamlv3.Unmarshal(data, &manifest); err != nil {
		return nil, gerr.ErrManifestInvalid.Wrap(err)
	}
	return &manifest, nil
}

// LoadManifestFile reads a manifest from disk. The second return value is
// the hex encoded SHA-256 checksum of the file, which callers compare
// against the checksum pinned in the addons config.
func LoadManifestFile(path string) (*Manifest, string, *gerr.HookFlowError) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, "", gerr.ErrFileNotFound.Wrap(err)
		}
		return nil, "", gerr.ErrFileReadFailed.Wrap(err)
	}

	manifest, parseErr := ParseManifest(data)
	if parseErr != nil {
		return nil, "", parseErr
	}

	sum, err := checksum.SHA256sum(path)
	if err != nil {
		return nil, "", gerr.ErrFileReadFailed.Wrap(err)
	}
	return manifest, sum, nil
}

func validateManifestSchema(document map[string]any) *gerr.HookFlowError {
	generatedSchema := jsonSchemaGenerator.Reflect(&Manifest{})
	schemaBytes, err := json.Marshal(generatedSchema)
	if err != nil {
		return gerr.ErrManifestInvalid.Wrap(err)
	}

	schema, err := jsonSchemaV5.CompileString("", string(schemaBytes))
	if err != nil {
		return gerr.ErrManifestInvalid.Wrap(err)
	}

	// Round-trip through JSON so YAML types line up with what the
	// validator expects.
	jsonData, err := json.Marshal(document)
	if err != nil {
		return gerr.ErrManifestInvalid.Wrap(err)
	}
	var jsonBytes map[string]any
	if err := json.Unmarshal(jsonData, &jsonBytes); err != nil {
		return gerr.ErrManifestInvalid.Wrap(err)
	}

	if err := schema.Validate(jsonBytes); err != nil {
		return gerr.ErrManifestInvalid.Wrap(err)
	}
	return nil
}

// Validate checks the semantic half of the manifest: identity fields,
// the handler reference and the engine requirement. ParseManifest has
// already checked the shape.
func (m *Manifest) Validate(
	catalog *Catalog,
	engineVersion *semver.Version,
	policy config.CompatibilityPolicy,
	logger zerolog.Logger,
) *gerr.HookFlowError {
	if m.Name == "" {
		return gerr.ErrManifestInvalid.Wrap(errors.New("addon name is empty"))
	}
	if _, err := semver.NewVersion(m.Version); err != nil {
		return gerr.ErrManifestInvalid.Wrap(fmt.Errorf("version %q: %w", m.Version, err))
	}
	if m.Handler == "" {
		return gerr.ErrManifestInvalid.Wrap(errors.New("handler name is empty"))
	}
	if _, ok := catalog.Get(m.Handler); !ok {
		return gerr.ErrHandlerNotFound.Wrap(
			fmt.Errorf("handler %q is not compiled into this binary", m.Handler))
	}

	seen := make(map[string]struct{}, len(m.Hooks))
	for i, hook := range m.Hooks {
		if hook.Name == "" {
			return gerr.ErrManifestInvalid.Wrap(fmt.Errorf("hooks[%d]: hook name is empty", i))
		}
		if _, ok := seen[hook.Name]; ok {
			return gerr.ErrManifestInvalid.Wrap(
				fmt.Errorf("hooks[%d]: duplicate hook name %q", i, hook.Name))
		}
		seen[hook.Name] = struct{}{}
	}

	if m.Requires == nil || m.Requires.Engine == "" {
		return nil
	}
	constraint, err := semver.NewConstraint(m.Requires.Engine)
	if err != nil {
		return gerr.ErrManifestInvalid.Wrap(
			fmt.Errorf("engine requirement %q: %w", m.Requires.Engine, err))
	}
	if engineVersion == nil {
		logger.Debug().Str("name", m.Name).Msg(
			"Engine version is unknown, skipping the requirement check")
		return nil
	}
	if !constraint.Check(engineVersion) {
		if policy == config.Strict {
			logger.Debug().Str("name", m.Name).Msg(
				"Registry is in strict compatibility mode, so the addon won't be installed")
			return gerr.ErrIncompatibleVersion.Wrap(fmt.Errorf(
				"addon requires engine %q, running %s", m.Requires.Engine, engineVersion))
		}
		logger.Debug().Fields(
			map[string]any{
				"name":     m.Name,
				"requires": m.Requires.Engine,
			},
		).Msg("Registry is in loose compatibility mode, so the addon will be installed anyway")
	}
	return nil
}
