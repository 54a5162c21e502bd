// Package cmd implements the framepipe command line.
package cmd

import (
	"fmt"

	"framepipe/config"
	"framepipe/logger"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "framepipe",
	Short: "Supervised ffmpeg frame extraction service",
	Long: `framepipe turns video files and camera streams into JPEG frames on disk.
It runs one ffmpeg decoder per camera, picks a hardware acceleration backend
by probing, and falls back to software decoding when acceleration fails.`,
	SilenceUsage: true,
	// Running without a subcommand serves the API.
	RunE: runServe,
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	// Flags override the file and environment only when set explicitly.
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./framepipe_config.yaml or /etc/framepipe/framepipe_config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-console", false, "human readable log output")

	rootCmd.AddCommand(serveCmd, probeCmd)
}

// setup loads the configuration and builds the root logger for cmd.
func setup(cmd *cobra.Command) (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("loading configuration: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.LogLevel, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-console") {
		cfg.LogConsole, _ = flags.GetBool("log-console")
	}

	return cfg, logger.New(cfg.LogLevel, cfg.LogConsole), nil
}
