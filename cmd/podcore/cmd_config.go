package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/opensleep/podcore/internal/common/logger"
	"github.com/opensleep/podcore/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and validate the persisted configuration",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Load and validate the config file without starting the daemon",
	Run: func(cmd *cobra.Command, args []string) {
		path, _ := cmd.Flags().GetString("config")

		store := config.NewStore(path)
		if err := store.Load(); err != nil {
			logger.Error("config invalid: %v", err)
			os.Exit(1)
		}
		fmt.Printf("✅ %s is valid\n", path)
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as YAML",
	Run: func(cmd *cobra.Command, args []string) {
		path, _ := cmd.Flags().GetString("config")

		store := config.NewStore(path)
		if err := store.Load(); err != nil {
			logger.Error("config invalid: %v", err)
			os.Exit(1)
		}
		data, err := config.Marshal(store.Get())
		if err != nil {
			logger.Error("config marshal: %v", err)
			os.Exit(1)
		}
		os.Stdout.Write(data)
	},
}

func init() {
	configCmd.PersistentFlags().String("config", defaultConfigPath, "path to config.yaml")
	configCmd.AddCommand(configValidateCmd, configShowCmd)
}
