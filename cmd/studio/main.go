package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/vibedstudio/studio-agent/internal/api"
	"github.com/vibedstudio/studio-agent/internal/config"
)

var flags struct {
	configFile string
	headless   bool
	envFile    string
}

var rootCmd = &cobra.Command{
	Use:   "studio",
	Short: "VibedStudio local timeline editor",
	Long: `studio runs the timeline editor as a local service: an HTTP API on
127.0.0.1, a websocket preview feed and, unless headless, a tray menu.`,
	Version:       api.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return applyFlags(cmd)
	},
	RunE: runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flags.configFile, "config", "c", "",
		"YAML config file (overrides "+config.EnvConfigFile+")")
	rootCmd.PersistentFlags().StringVar(&flags.envFile, "env-file", ".env",
		"dotenv file loaded before reading the environment")
	rootCmd.PersistentFlags().BoolVar(&flags.headless, "headless", false,
		"run without the system tray")

	rootCmd.AddCommand(serveCmd, renderCmd, doctorCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "studio:", err)
		os.Exit(1)
	}
}

// applyFlags folds the command line into the environment so config.New
// sees one source of truth.
func applyFlags(cmd *cobra.Command) error {
	if flags.envFile != "" {
		if err := godotenv.Load(flags.envFile); err != nil && cmd.Flags().Changed("env-file") {
			return fmt.Errorf("load env file: %w", err)
		}
	}
	if flags.configFile != "" {
		if err := os.Setenv(config.EnvConfigFile, flags.configFile); err != nil {
			return err
		}
	}
	if flags.headless {
		if err := os.Setenv(config.EnvHeadless, "true"); err != nil {
			return err
		}
	}
	return nil
}
