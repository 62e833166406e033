package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"hermes/internal/logging"
	"hermes/internal/server"
)

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the executor-facing WebSocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			configureLogging(cfg)

			if host := viper.GetString("serve_host"); host != "" {
				cfg.ServerHost = host
			}
			if port := viper.GetInt("serve_port"); port != 0 {
				cfg.ServerPort = port
			}

			srv := server.New(server.Config{
				Host:       cfg.ServerHost,
				Port:       cfg.ServerPort,
				EnableCORS: true,
				Debug:      viper.GetBool("serve_debug"),
				Logger:     logging.NewComponentLogger("server"),
			})

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			fmt.Println(statusText(fmt.Sprintf("listening on %s:%d", cfg.ServerHost, cfg.ServerPort)))
			if err := srv.Run(ctx); err != nil && ctx.Err() == nil {
				return err
			}
			fmt.Println(gray("server stopped"))
			return nil
		},
	}

	cmd.Flags().String("host", "", "Bind host")
	cmd.Flags().Int("port", 0, "Bind port")
	cmd.Flags().Bool("debug", false, "Debug mode")
	_ = viper.BindPFlag("serve_host", cmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("serve_port", cmd.Flags().Lookup("port"))
	_ = viper.BindPFlag("serve_debug", cmd.Flags().Lookup("debug"))
	return cmd
}
