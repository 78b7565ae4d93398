package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/NicoCuadrado/Barrio-seguro/internal/config"
	"github.com/NicoCuadrado/Barrio-seguro/internal/database"
	"github.com/NicoCuadrado/Barrio-seguro/internal/logging"

	// Storage backends register themselves with database.Open.
	_ "github.com/NicoCuadrado/Barrio-seguro/internal/database/postgres"
	_ "github.com/NicoCuadrado/Barrio-seguro/internal/database/sqlite"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "barrio-seguro",
	Short: "Access control for a gated neighbourhood using face embeddings",
	Long: `Barrio Seguro recognizes enrolled residents at the entrance, keeps
transient identities for unknown visitors and writes every entry and exit to
an access log (SQLite or PostgreSQL).

Face detection and encoding happen upstream: frames arrive with their
embeddings already computed.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (YAML or TOML), overrides GATE_CONFIG")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error), overrides LOG_LEVEL")
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()

	if configPath != "" {
		os.Setenv("GATE_CONFIG", configPath)
	}
	if logLevel != "" {
		os.Setenv("LOG_LEVEL", logLevel)
	}
}

// app holds what every command needs once the configuration is known.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	store  database.Store
}

// loadConfig reads and validates the configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openApp loads the configuration, builds the logger and opens the store.
// Callers must call close.
func openApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	logger, err := logging.NewLogger(cfg.Log.Level, cfg.Log.File)
	if err != nil {
		return nil, err
	}

	ctx = logging.ContextWithLogger(ctx, logger)
	store, err := database.Open(ctx, &cfg.Database)
	if err != nil {
		logging.Sync(logger)
		return nil, err
	}
	logger.Debug("database opened", zap.String("backend", database.BackendName(cfg.Database.URL)))

	return &app{cfg: cfg, logger: logger, store: store}, nil
}

func (a *app) close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("closing store", zap.Error(err))
		}
	}
	logging.Sync(a.logger)
}
