package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/apk-patcher/internal/config"
	"github.com/oshokin/apk-patcher/internal/logger"
	"github.com/oshokin/apk-patcher/internal/service/server"
	"github.com/oshokin/apk-patcher/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string
	// envFile with signing secrets.
	envFile string
	// metricsAddress serves Prometheus metrics when set.
	metricsAddress string
	// logLevel of the process logger.
	logLevel string

	// rootCmd represents the base command for running the patch daemon.
	rootCmd = &cobra.Command{
		Use:   "apk-patchd [listen-address]",
		Short: "Run the apk-patcher gRPC daemon.",
		Long: `Starts the gRPC daemon that performs patch runs for remote apk-patcher clients.

Signing material is taken from the daemon's own settings and environment; clients never send secrets.
ServerAddress from the config is used as is; the default binds loopback only (127.0.0.1:50071).
Listen address can be provided as argument to override config (e.g., :9090, 0.0.0.0:50071).`,
		Args: cobra.MaximumNArgs(1),
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			level, ok := logger.ParseLogLevel(logLevel)
			if !ok {
				return fmt.Errorf("unknown log level %q", logLevel)
			}

			logger.SetLevel(level)

			return nil
		},
		RunE: func(_ *cobra.Command, args []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			defer logger.Sync()

			// Use listen address argument if provided, otherwise rely on config.
			var listenAddress string
			if len(args) > 0 {
				listenAddress = args[0]
			}

			return server.Run(ctx, &server.Options{
				ConfigPath:     configPath,
				EnvFile:        envFile,
				ListenAddress:  listenAddress,
				MetricsAddress: metricsAddress,
			})
		},
	}
)

// Execute runs the apk-patchd CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to configuration file (default "+config.DefaultConfigFilename+" when present)")
	rootCmd.Flags().StringVar(&envFile, "env-file", config.DefaultEnvFile, "path to .env file with signing secrets")
	rootCmd.Flags().StringVar(&metricsAddress, "metrics-addr", "", "serve Prometheus metrics on this address")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
}
