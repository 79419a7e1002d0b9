// Package cli implements the vcsmine command line.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/kilupskalvis/vcsmine/internal/config"
	"github.com/kilupskalvis/vcsmine/internal/vcs"
	"github.com/kilupskalvis/vcsmine/internal/vcs/gitvcs"
	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string
	logFormat  string
)

var rootCmd = &cobra.Command{
	Use:   "vcsmine",
	Short: "Mine version control history into a document store",
	Long: `vcsmine walks a repository's history and stores commits, branches, tags,
file actions, hunks and people in a document store. Running it again
reconciles the store with the repository: records that disappeared are
soft-deleted and changed ones keep their previous states.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", envOrDefault("VCSMINE_CONFIG", ""), "Config file, TOML or YAML (env: VCSMINE_CONFIG)")
	pf.StringVar(&logLevel, "log-level", "", "Log level (debug|info|warn|error)")
	pf.StringVar(&logFormat, "log-format", "", "Log format (json|text)")

	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(detectCmd)
	rootCmd.AddCommand(showCmd)
}

// loadConfig layers defaults, the config file, the environment and the
// persistent flags.
func loadConfig(cmd *cobra.Command) *config.Config {
	cfg := config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			exitError("%v", err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		exitError("%v", err)
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if cmd.Flags().Changed("log-format") {
		cfg.Log.Format = logFormat
	}
	return cfg
}

// newLogger builds the process logger. Logs go to stderr so command output
// on stdout stays clean.
func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

// backends returns the compiled-in backends in probe order.
func backends(logger *slog.Logger) []vcs.Backend {
	return []vcs.Backend{gitvcs.New(logger)}
}

// discover selects the backend for path and returns it with the repository root.
func discover(path string, logger *slog.Logger) (vcs.Backend, string) {
	backend, err := vcs.Select(backends(logger), path)
	if err != nil {
		exitError("%v", err)
	}
	root, err := backend.Discover(path)
	if err != nil {
		exitError("%v", err)
	}
	return backend, root
}

// exitError prints an error and exits
func exitError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

// shortID returns first 8 characters of an ID
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
