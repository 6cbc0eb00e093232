package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/tendant/simple-asset/pkg/simpleasset"
	"github.com/tendant/simple-asset/pkg/simpleasset/config"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	// Load .env file if it exists (silently ignore if not found)
	_ = godotenv.Load()

	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func NewRootCommand() *cobra.Command {
	var verbose bool

	rootCmd := &cobra.Command{
		Use:   "asset-admin",
		Short: "Quota and record administration for the asset store",
		Long: `Administrative commands that work directly against the configured
database and blob storage.

Configuration is read from the same environment variables as the server
(DATABASE_URL, DB_SCHEMA, STORAGE_URL, QUOTA_CAP_BYTES, ...). A .env file in
the current directory is loaded first.`,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelWarn
			if verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(tint.NewHandler(colorable.NewColorable(os.Stderr), &tint.Options{
				Level:   level,
				NoColor: !isatty.IsTerminal(os.Stderr.Fd()),
			})))
		},
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().Bool("json", false, "output as JSON")

	rootCmd.AddCommand(NewUsageCommand())
	rootCmd.AddCommand(NewReconcileCommand())
	rootCmd.AddCommand(NewRecordsCommand())
	rootCmd.AddCommand(NewSchemaCommand())

	return rootCmd
}

func loadConfig() (*config.ServerConfig, error) {
	return config.Load(config.WithEnv(""), config.WithLogger(slog.Default()), config.WithEventLogging(false))
}

func newServiceFromEnv(cmd *cobra.Command) (simpleasset.Service, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if cfg.DatabaseType == "memory" {
		slog.Warn("DATABASE_URL is not set; using an empty in-memory repository")
	}
	return cfg.BuildService(cmd.Context())
}
