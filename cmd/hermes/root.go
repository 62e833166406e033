package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"hermes/internal/config"
	"hermes/internal/logging"
)

const version = "0.3.0"

// Color helpers for CLI output.
var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

func errorText(msg string) string  { return red("error: " + msg) }
func statusText(msg string) string { return cyan(msg) }

// NewRootCommand builds the hermes CLI.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "hermes",
		Short: "Voice-to-executor task tunnel",
		Long: fmt.Sprintf(`%s

hermes tunnels long-running tasks from a real-time voice assistant to
out-of-band computer-use executors and carries their progress updates
back for spoken delivery.`, bold("hermes "+version)),
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().String("log-format", "", "Log format (text|json)")
	_ = viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log_format", rootCmd.PersistentFlags().Lookup("log-format"))

	viper.SetEnvPrefix("HERMES")
	viper.AutomaticEnv()

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newPublishCommand())
	rootCmd.AddCommand(newVersionCommand())
	return rootCmd
}

// loadConfig resolves env config and applies flag overrides via viper.
func loadConfig() config.RuntimeConfig {
	cfg := config.Load(nil)
	if level := viper.GetString("log_level"); level != "" {
		cfg.LogLevel = level
	}
	if format := viper.GetString("log_format"); format != "" {
		cfg.LogFormat = format
	}
	return cfg
}

func configureLogging(cfg config.RuntimeConfig) {
	logging.Configure(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the hermes version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(bold("hermes " + version))
		},
	}
}
