package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/skr1ms/SkyPostDelivery/drone-agent/internal/config"
)

var (
	configPath string
	logLevel   string
	useMock    bool
)

var rootCmd = &cobra.Command{
	Use:   "droneagent",
	Short: "SkyPost drone field agent",
	Long: "droneagent runs on the drone's companion computer. It keeps the drone registered with the " +
		"drone service, launches delivery flights and reports milestones, telemetry and video.",
	SilenceUsage: true,
	RunE:         runAgent,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to the agent configuration YAML")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&useMock, "mock", false, "Use the synthetic sensor bus instead of MQTT")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	flags := cmd.Flags()
	return config.Load(configPath, func(c *config.Config) {
		if flags.Changed("log-level") {
			c.LogLevel = logLevel
		}
		if flags.Changed("mock") && useMock {
			c.Bus = config.BusMock
		}
	})
}
