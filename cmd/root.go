package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/brensch/mpduck/internal/config"
	"github.com/brensch/mpduck/internal/db"
)

var (
	cfgFile string

	// Populated in PersistentPreRunE
	rootLogger *slog.Logger
	store      *db.Store
	appConfig  *config.Config
	logFile    *os.File
)

// flagBindings maps persistent flags onto config keys so flags override file and env.
var flagBindings = map[string]string{
	"db-path":    "db.path",
	"log-level":  "log.level",
	"log-format": "log.format",
	"log-output": "log.output",
	"region":     "api.region",
	"project-id": "api.project_id",
}

var rootCmd = &cobra.Command{
	Use:   "mpduck",
	Short: "Fetch analytics events and user profiles into a local DuckDB database.",
	Long: `mpduck exports raw events and user profiles from the analytics API into
DuckDB tables. Date ranges are split into chunks and pages are fetched in
parallel; every write goes through a single writer, and failed chunks or
pages are reported without aborting the run.

Credentials come from the config file or MPDUCK_API_USERNAME,
MPDUCK_API_SECRET and MPDUCK_API_PROJECT_ID.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		v, err := config.NewViper(cfgFile)
		if err != nil {
			return err
		}
		for flag, key := range flagBindings {
			if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
				return fmt.Errorf("failed to bind flag --%s: %w", flag, err)
			}
		}
		appConfig, err = config.FromViper(v)
		if err != nil {
			return err
		}

		rootLogger, err = newLogger(appConfig.Log)
		if err != nil {
			return err
		}
		slog.SetDefault(rootLogger)
		rootLogger.Debug("Configuration loaded.", "config_file", v.ConfigFileUsed(), "db", appConfig.DB.Path, "region", appConfig.API.Region)

		if appConfig.DB.Path != ":memory:" {
			if dir := filepath.Dir(appConfig.DB.Path); dir != "" {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return fmt.Errorf("failed to create database directory %s: %w", dir, err)
				}
			}
		}
		store, err = db.Open(cmd.Context(), appConfig.DB.Path, rootLogger.With(slog.String("component", "db")))
		if err != nil {
			return err
		}
		rootLogger.Debug("DuckDB opened.", "path", appConfig.DB.Path)
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		closeResources()
		return nil
	},
}

func newLogger(cfg config.LogConfig) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}

	var w io.Writer = os.Stderr
	switch strings.ToLower(cfg.Output) {
	case "", "stderr":
	case "stdout":
		w = os.Stdout
	default:
		f, err := os.OpenFile(cfg.Output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", cfg.Output, err)
		}
		logFile = f
		w = f
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler), nil
}

func closeResources() {
	if store != nil {
		if err := store.Close(); err != nil {
			getLogger().Error("Failed to close DuckDB cleanly.", "error", err)
		}
		store = nil
	}
	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
}

// Execute runs the root command. Called once by main.main().
func Execute() {
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(tablesCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(inspectCmd)

	if err := rootCmd.Execute(); err != nil {
		closeResources()
		if rootLogger != nil {
			rootLogger.Error("Command failed.", "error", err)
		} else {
			fmt.Fprintf(os.Stderr, "Command failed: %v\n", err)
		}
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "YAML config file (optional; env MPDUCK_* always applies)")
	rootCmd.PersistentFlags().StringP("db-path", "d", "", "Path to the DuckDB database file (:memory: for in-memory)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "", "Log output format (text or json)")
	rootCmd.PersistentFlags().String("log-output", "", "Log output destination (stderr, stdout, or file path)")
	rootCmd.PersistentFlags().String("region", "", "API region (us, eu, in)")
	rootCmd.PersistentFlags().String("project-id", "", "Project id sent with every request")
	rootCmd.Version = "0.1.0"
}

func getLogger() *slog.Logger {
	if rootLogger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return rootLogger
}
