package relay

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/igorsilveira/relay/pkg/config"
	"github.com/igorsilveira/relay/pkg/telemetry"
	"github.com/spf13/cobra"
)

const version = "0.1.0"

var (
	cfgFile        string
	shutdownTracer func(context.Context) error
)

var rootCmd = &cobra.Command{
	Use:   "relay",
	Short: "relay - chat channel adapters for WhatsApp, Discord and friends",
	Long:  "relay keeps live connections to chat platforms and turns their events into one normalized envelope. This CLI inspects a relay installation; it never starts adapters.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath())
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		logger := telemetry.NewLogger(telemetry.LogOptions{
			Level:   cfg.Log.Level,
			Format:  cfg.Log.Format,
			Output:  os.Stderr,
			Service: "relay",
			Version: version,
		})
		slog.SetDefault(logger)
		ctx := telemetry.WithLogger(cmd.Context(), logger)

		shutdown, err := telemetry.InitTracer(ctx, telemetry.TracerConfig{
			Enabled:     cfg.Tracing.Enabled,
			Endpoint:    cfg.Tracing.Endpoint,
			ServiceName: "relay",
			Version:     version,
		})
		if err != nil {
			return fmt.Errorf("initializing tracer: %w", err)
		}
		shutdownTracer = shutdown

		cmd.SetContext(ctx)
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if shutdownTracer == nil {
			return nil
		}
		return shutdownTracer(cmd.Context())
	},
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.ExecuteContext(context.Background())
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.relay/relay.toml)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(doctorCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(logCmd)
	rootCmd.AddCommand(secretCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(restoreCmd)
}

func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return config.DefaultConfigPath()
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version of relay",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("relay v%s\n", version)
	},
}
