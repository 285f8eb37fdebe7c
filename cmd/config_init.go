package cmd

import (
	"github.com/hookflow-io/hookflow/config"
	"github.com/spf13/cobra"
)

var (
	force            bool
	globalConfigFile string
)

// configInitCmd represents the config init command.
var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create or overwrite the HookFlow global config",
	Run: func(cmd *cobra.Command, _ []string) {
		generateConfig(cmd, Global, globalConfigFile, force)
	},
}

func init() {
	configCmd.AddCommand(configInitCmd)

	configInitCmd.Flags().BoolVarP(
		&force, "force", "f", false, "Force overwrite of existing config file")
	configInitCmd.Flags().StringVarP(
		&globalConfigFile,
		"config", "c", config.GetDefaultConfigFilePath(config.GlobalConfigFilename),
		"Global config file")
}
