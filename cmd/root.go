package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "hookflow",
	Short: "A hook routing and addon lifecycle engine for HTTP and websocket traffic",
	Long: "HookFlow is a hook routing and addon lifecycle engine. It sits in between your " +
		"clients and your upstream services, routes every traffic event through the hooks of " +
		"the installed addons and applies their merged verdict to the proxied traffic.",
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
