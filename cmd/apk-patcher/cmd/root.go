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
	"github.com/oshokin/apk-patcher/internal/service/patcher"
	"github.com/oshokin/apk-patcher/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string
	// envFile with signing secrets.
	envFile string
	// modFile is the module injected while repackaging.
	modFile string
	// keyStore overrides the configured keystore.
	keyStore string
	// mapsAPIKey is the new value of the maps API key metadata.
	mapsAPIKey string
	// copyOnly skips the external repackaging tool.
	copyOnly bool
	// serverAddress sends the run to apk-patchd.
	serverAddress string
	// reportFile overrides the report location.
	reportFile string
	// metricsFile overrides the metrics textfile location.
	metricsFile string
	// logLevel of the process logger.
	logLevel string

	// rootCmd represents the base command for a single patch run.
	rootCmd = &cobra.Command{
		Use:   "apk-patcher <source-dir> <output-dir>",
		Short: "Patch the manifest of an APK set and repackage it.",
		Long: `Cleans the output directory, patches AndroidManifest.xml of the base container
and produces the output set.

The manifest patch drops WRITE_EXTERNAL_STORAGE, adds MANAGE_EXTERNAL_STORAGE and
replaces the maps API key metadata value. It runs only when --maps-api-key is given.
By default the containers are repackaged and signed by the external tool; with
--copy-only they are copied unchanged apart from the manifest.

With --server the run is performed by apk-patchd; paths are then resolved on its host.`,
		Args: cobra.ExactArgs(2),
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			level, ok := logger.ParseLogLevel(logLevel)
			if !ok {
				return fmt.Errorf("unknown log level %q", logLevel)
			}

			logger.SetLevel(level)

			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			defer logger.Sync()

			options := &patcher.Options{
				ConfigPath:    configPath,
				EnvFile:       envFile,
				SourceDir:     args[0],
				OutputDir:     args[1],
				ModFile:       modFile,
				KeyStore:      keyStore,
				Repackage:     !copyOnly,
				ServerAddress: serverAddress,
				ReportFile:    reportFile,
				MetricsFile:   metricsFile,
			}

			// An empty key is still a key: only an absent flag skips the manifest patch.
			if cmd.Flags().Changed("maps-api-key") {
				options.MapsAPIKey = &mapsAPIKey
			}

			_, err := patcher.Run(ctx, options)
			if err != nil {
				logger.ErrorKV(ctx, "Patch run failed", "error", err)
			}

			return err
		},
	}
)

// Execute runs the apk-patcher CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.SilenceUsage = true

	flags := rootCmd.Flags()
	flags.StringVarP(&configPath, "config", "c", "", "path to configuration file (default "+config.DefaultConfigFilename+" when present)")
	flags.StringVar(&envFile, "env-file", config.DefaultEnvFile, "path to .env file with signing secrets")
	flags.StringVarP(&modFile, "mod", "m", "", "module file injected while repackaging")
	flags.StringVarP(&keyStore, "keystore", "k", "", "keystore used to sign the repackaged containers")
	flags.StringVar(&mapsAPIKey, "maps-api-key", "", "new maps API key; the manifest is left alone when omitted")
	flags.BoolVar(&copyOnly, "copy-only", false, "copy the containers instead of repackaging them")
	flags.StringVarP(&serverAddress, "server", "s", "", "apk-patchd address; runs locally when empty")
	flags.StringVar(&reportFile, "report", "", "path of the run report")
	flags.StringVar(&metricsFile, "metrics-file", "", "path of the Prometheus textfile written after the run")

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
}
