package cmd

import (
	"github.com/hookflow-io/hookflow/config"
	"github.com/spf13/cobra"
)

var onlyEnabled bool

// addonListCmd represents the addon list command.
var addonListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the HookFlow addons",
	Run: func(cmd *cobra.Command, _ []string) {
		configFile, _ := cmd.Flags().GetString("addons-config")
		listAddons(cmd, configFile, onlyEnabled)
	},
}

func init() {
	addonCmd.AddCommand(addonListCmd)

	addonListCmd.Flags().StringP(
		"addons-config", "a", config.GetDefaultConfigFilePath(config.AddonsConfigFilename),
		"Addons config file")
	addonListCmd.Flags().BoolVarP(
		&onlyEnabled,
		"only-enabled", "e",
		false, "Only list enabled addons")
}
