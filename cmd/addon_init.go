package cmd

import (
	"github.com/hookflow-io/hookflow/config"
	"github.com/spf13/cobra"
)

var addonsConfigFile string

// addonInitCmd represents the addon init command.
var addonInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create or overwrite the HookFlow addons config",
	Run: func(cmd *cobra.Command, _ []string) {
		generateConfig(cmd, Addons, addonsConfigFile, force)
	},
}

func init() {
	addonCmd.AddCommand(addonInitCmd)

	addonInitCmd.Flags().BoolVarP(
		&force, "force", "f", false, "Force overwrite of existing config file")
	addonInitCmd.Flags().StringVarP(
		&addonsConfigFile,
		"addons-config", "a", config.GetDefaultConfigFilePath(config.AddonsConfigFilename),
		"Addons config file")
}
