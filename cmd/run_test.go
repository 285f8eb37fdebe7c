package cmd

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var waitBeforeStop = time.Second

func Test_runCmd(t *testing.T) {
	EnableTestMode()

	globalTestConfigFile := "./test_global_runCmd.yaml"
	addonsTestConfigFile := "./test_addons_runCmd.yaml"
	// Create a test addons config file.
	_, err := executeCommandC(rootCmd, "addon", "init", "--force", "-a", addonsTestConfigFile)
	require.NoError(t, err, "addon init command should not have returned an error")
	assert.FileExists(t, addonsTestConfigFile, "addon init command should have created a config file")

	// Create a test config file.
	_, err = executeCommandC(rootCmd, "config", "init", "--force", "-c", globalTestConfigFile)
	require.NoError(t, err, "configInitCmd should not return an error")
	// Check that the config file was created.
	assert.FileExists(t, globalTestConfigFile, "configInitCmd should create a config file")

	var waitGroup sync.WaitGroup

	waitGroup.Add(1)
	go func(waitGroup *sync.WaitGroup) {
		// Test run command. The console logger writes through the cobra
		// command, so the buffer returned by executeCommandC holds the
		// full log of the run.
		output, err := executeCommandC(
			rootCmd, "run", "-c", globalTestConfigFile, "-a", addonsTestConfigFile)
		require.NoError(t, err, "run command should not have returned an error")
		// Check if HookFlow started and stopped correctly.
		assert.Contains(t, output, "HookFlow is running")
		assert.Contains(t, output, "Stopped all servers")

		waitGroup.Done()
	}(&waitGroup)

	waitGroup.Add(1)
	go func(waitGroup *sync.WaitGroup) {
		time.Sleep(waitBeforeStop)

		testApp.stopGracefully(context.Background(), nil)

		waitGroup.Done()
	}(&waitGroup)

	waitGroup.Wait()

	// Clean up.
	require.NoError(t, os.Remove(addonsTestConfigFile))
	require.NoError(t, os.Remove(globalTestConfigFile))
}
