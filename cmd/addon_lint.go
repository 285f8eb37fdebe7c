//nolint:dupl
package cmd

import (
	"log"

	"github.com/getsentry/sentry-go"
	"github.com/hookflow-io/hookflow/config"
	"github.com/spf13/cobra"
)

// addonLintCmd represents the addon lint command.
var addonLintCmd = &cobra.Command{
	Use:   "lint",
	Short: "Lint the HookFlow addons config",
	Run: func(cmd *cobra.Command, _ []string) {
		enableSentry, _ := cmd.Flags().GetBool("sentry")
		configFile, _ := cmd.Flags().GetString("addons-config")

		// Enable Sentry.
		if enableSentry {
			// Initialize Sentry.
			err := sentry.Init(sentry.ClientOptions{
				Dsn:              DSN,
				TracesSampleRate: config.DefaultTraceSampleRate,
				AttachStacktrace: config.DefaultAttachStacktrace,
			})
			if err != nil {
				cmd.Println("Sentry initialization failed: ", err)
				return
			}

			// Flush buffered events before the program terminates.
			defer sentry.Flush(config.DefaultFlushTimeout)
			// Recover from panics and report the error to Sentry.
			defer sentry.Recover()
		}

		if err := lintConfig(Addons, configFile); err != nil {
			log.Fatal(err)
		}

		cmd.Println("addons config is valid")
	},
}

func init() {
	addonCmd.AddCommand(addonLintCmd)

	addonLintCmd.Flags().StringP(
		"addons-config", "a", config.GetDefaultConfigFilePath(config.AddonsConfigFilename),
		"Addons config file")
	addonLintCmd.Flags().Bool("sentry", true, "Enable Sentry")
}
