// Command podcore is the replacement firmware process: it owns the
// Frozen and Sensor serial links, the I²C LED/GPIO-expander devices, the
// MQTT bridge, and the profile engine, wiring them together via
// internal/app.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/opensleep/podcore/internal/common/logger"
)

var (
	// Version, Commit, and BuildTime are set via -ldflags at build time.
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "podcore",
	Short: "podcore - replacement firmware for a temperature-controlled mattress cover",
	Long: `podcore supersedes the vendor cloud client, native subsystem driver, and
setup/watchdog daemon with a single process that speaks directly to the
Frozen and Sensor microcontrollers over serial, drives the I²C LED and
GPIO expander, and exposes state and actions over MQTT.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	switch strings.ToLower(os.Getenv("PODCORE_LOG_LEVEL")) {
	case "debug":
		logger.SetLevel(logger.DEBUG)
	case "warn", "warning":
		logger.SetLevel(logger.WARN)
	case "error":
		logger.SetLevel(logger.ERROR)
	default:
		logger.SetLevel(logger.INFO)
	}

	rootCmd.AddCommand(runCmd, configCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		logger.Error("podcore: %v", err)
		os.Exit(1)
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("podcore %s\n", Version)
		fmt.Printf("commit: %s\n", Commit)
		fmt.Printf("built: %s\n", BuildTime)
	},
}
