package cmd

import (
	"context"
	"encoding/json"
	"log"
	"os"

	"github.com/hookflow-io/hookflow/addon"
	"github.com/hookflow-io/hookflow/config"
	gerr "github.com/hookflow-io/hookflow/errors"
	jsonSchemaGenerator "github.com/invopop/jsonschema"
	"github.com/knadh/koanf"
	koanfJson "github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	jsonSchemaV5 "github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/spf13/cast"
	"github.com/spf13/cobra"
)

type (
	configFileType string
)

const (
	FilePermissions os.FileMode = 0o644
)

var (
	Global configFileType = "global"
	Addons configFileType = "addons"

	DSN = "https://9c1f4e2ab8d64f7f8d1c3e5a2b9d0e47@o4508112233445566.ingest.sentry.io/4508112240118784"
)

// generateConfig generates a config file of the given type.
func generateConfig(
	cmd *cobra.Command, fileType configFileType, configFile string, forceRewriteFile bool,
) {
	logger := log.New(cmd.OutOrStdout(), "", 0)

	// Create a new config object and load the defaults.
	conf := &config.Config{
		GlobalKoanf: koanf.New("."),
		AddonsKoanf: koanf.New("."),
	}
	if err := conf.LoadDefaults(context.TODO()); err != nil {
		logger.Fatal(err)
	}

	// Marshal the config file to YAML.
	var konfig *koanf.Koanf
	switch fileType {
	case Global:
		konfig = conf.GlobalKoanf
	case Addons:
		konfig = conf.AddonsKoanf
	default:
		logger.Fatal("Invalid config file type")
	}
	cfg, err := konfig.Marshal(yaml.Parser())
	if err != nil {
		logger.Fatal(err)
	}

	// Check if the config file already exists and if we should overwrite it.
	exists := false
	if _, err := os.Stat(configFile); err == nil && !forceRewriteFile {
		logger.Fatal(
			"Config file already exists. Use --force to overwrite or choose a different filename.")
	} else if err == nil {
		exists = true
	}

	// Create or overwrite the config file.
	if err := os.WriteFile(configFile, cfg, FilePermissions); err != nil {
		logger.Fatal(err)
	}

	verb := "created"
	if exists && forceRewriteFile {
		verb = "overwritten"
	}
	cmd.Printf("Config file '%s' was %s successfully.", configFile, verb)
}

// lintConfig lints the given config file of the given type.
func lintConfig(fileType configFileType, configFile string) *gerr.HookFlowError {
	// Load the config file and check it for errors.
	var conf *config.Config
	switch fileType {
	case Global:
		conf = config.NewConfig(context.TODO(), configFile, "")
		if err := conf.LoadDefaults(context.TODO()); err != nil {
			return err
		}
		if err := conf.LoadGlobalConfigFile(context.TODO()); err != nil {
			return err
		}
		if err := conf.UnmarshalGlobalConfig(context.TODO()); err != nil {
			return err
		}
	case Addons:
		conf = config.NewConfig(context.TODO(), "", configFile)
		if err := conf.LoadDefaults(context.TODO()); err != nil {
			return err
		}
		if err := conf.LoadAddonsConfigFile(context.TODO()); err != nil {
			return err
		}
		if err := conf.UnmarshalAddonsConfig(context.TODO()); err != nil {
			return err
		}
	default:
		return gerr.ErrLintingFailed
	}

	// Marshal the config to JSON.
	var jsonData []byte
	var err error
	switch fileType {
	case Global:
		jsonData, err = conf.GlobalKoanf.Marshal(koanfJson.Parser())
	case Addons:
		jsonData, err = conf.AddonsKoanf.Marshal(koanfJson.Parser())
	default:
		return gerr.ErrLintingFailed
	}
	if err != nil {
		return gerr.ErrLintingFailed.Wrap(err)
	}

	// Unmarshal the JSON data into a map.
	var jsonBytes map[string]any
	err = json.Unmarshal(jsonData, &jsonBytes)
	if err != nil {
		return gerr.ErrLintingFailed.Wrap(err)
	}

	// Generate a JSON schema from the config struct.
	var generatedSchema *jsonSchemaGenerator.Schema
	switch fileType {
	case Global:
		generatedSchema = jsonSchemaGenerator.Reflect(&config.GlobalConfig{})
	case Addons:
		generatedSchema = jsonSchemaGenerator.Reflect(&config.AddonsConfig{})
	default:
		return gerr.ErrLintingFailed
	}

	// Marshal the schema to JSON.
	schemaBytes, err := json.Marshal(generatedSchema)
	if err != nil {
		return gerr.ErrLintingFailed.Wrap(err)
	}

	// Compile the schema for validation.
	schema, err := jsonSchemaV5.CompileString("", string(schemaBytes))
	if err != nil {
		return gerr.ErrLintingFailed.Wrap(err)
	}

	// Validate the config against the schema.
	err = schema.Validate(jsonBytes)
	if err != nil {
		return gerr.ErrLintingFailed.Wrap(err)
	}

	return nil
}

// listAddons prints the addons declared in the addons config file along
// with what their manifests promise.
func listAddons(cmd *cobra.Command, addonsConfigFile string, onlyEnabled bool) {
	logger := log.New(cmd.OutOrStdout(), "", 0)

	// Load the addons config file.
	conf := config.NewConfig(context.TODO(), "", addonsConfigFile)
	if err := conf.LoadDefaults(context.TODO()); err != nil {
		logger.Fatal(err)
	}
	if err := conf.LoadAddonsConfigFile(context.TODO()); err != nil {
		logger.Fatal(err)
	}
	if err := conf.UnmarshalAddonsConfig(context.TODO()); err != nil {
		logger.Fatal(err)
	}

	if len(conf.Addons.Addons) != 0 {
		logger.Printf("Total addons: %d\n", len(conf.Addons.Addons))
		logger.Println("Addons:")
	} else {
		logger.Println("No addons found")
	}

	// Print the list of addons.
	for _, declared := range conf.Addons.Addons {
		if onlyEnabled && !declared.Enabled {
			continue
		}
		logger.Printf("  Name: %s\n", declared.Name)
		logger.Printf("  Enabled: %t\n", declared.Enabled)
		logger.Printf("  Manifest: %s\n", declared.ManifestFile)
		if declared.Checksum != "" {
			logger.Printf("  Checksum: %s\n", declared.Checksum)
		}
		if len(declared.Config) > 0 {
			logger.Println("  Config:")
			for key, value := range declared.Config {
				logger.Printf("    %s: %s\n", key, cast.ToString(value))
			}
		}

		// The manifest carries the addon's version, handler and hooks. A
		// broken manifest is reported instead of aborting the listing.
		manifest, _, err := addon.LoadManifestFile(declared.ManifestFile)
		if err != nil {
			logger.Printf("  Error: %s\n", err)
			continue
		}
		logger.Printf("  Version: %s\n", manifest.Version)
		logger.Printf("  Handler: %s\n", manifest.Handler)
		logger.Printf("  Hooks: %d\n", len(manifest.Hooks))
	}
}
