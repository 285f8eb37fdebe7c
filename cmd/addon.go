package cmd

import (
	"log"

	"github.com/spf13/cobra"
)

// addonCmd represents the addon command.
var addonCmd = &cobra.Command{
	Use:   "addon",
	Short: "Manage addons and their configuration",
	Run: func(cmd *cobra.Command, _ []string) {
		if err := cmd.Help(); err != nil {
			log.New(cmd.OutOrStdout(), "", 0).Fatal(err)
		}
	},
}

func init() {
	rootCmd.AddCommand(addonCmd)
}
