package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/kilupskalvis/vcsmine/internal/config"
	"github.com/kilupskalvis/vcsmine/internal/core"
	"github.com/kilupskalvis/vcsmine/internal/metrics"
	"github.com/kilupskalvis/vcsmine/internal/store"
	"github.com/spf13/cobra"
)

var (
	syncProject     string
	syncDriver      string
	syncDBPath      string
	syncHostname    string
	syncPort        int
	syncUser        string
	syncPassword    string
	syncDatabase    int
	syncNoHunks     bool
	syncNoBranch    bool
	syncCores       int
	syncSimilarity  int
	syncRemote      string
	syncMetricsFile string
)

var syncCmd = &cobra.Command{
	Use:   "sync [path]",
	Short: "Mine a repository into the store",
	Long: `Walk every branch and tag of the repository containing path (default: the
current directory), classify each commit and store the result. Records
stored by earlier runs are reconciled: unreachable commits, deleted tags
and branches are soft-deleted, and membership changes are versioned.

Settings are read from --config, then VCSMINE_* environment variables,
then flags.

Examples:
  vcsmine sync --project linux ~/src/linux
  vcsmine sync --project demo --db-driver sqlite --db-path demo.sqlite
  vcsmine sync --project demo --db-driver redis --db-hostname cache --no-hunks`,
	Args: cobra.MaximumNArgs(1),
	Run:  runSync,
}

func init() {
	f := syncCmd.Flags()
	f.StringVar(&syncProject, "project", "", "Project name the repository is stored under")
	f.StringVar(&syncDriver, "db-driver", "", "Store driver (bolt|sqlite|redis)")
	f.StringVar(&syncDBPath, "db-path", "", "Database file for bolt and sqlite")
	f.StringVar(&syncHostname, "db-hostname", "", "Redis host")
	f.IntVar(&syncPort, "db-port", 0, "Redis port")
	f.StringVar(&syncUser, "db-user", "", "Redis user")
	f.StringVar(&syncPassword, "db-password", "", "Redis password")
	f.IntVar(&syncDatabase, "db-database", 0, "Redis database number")
	f.BoolVar(&syncNoHunks, "no-hunks", false, "Do not store hunks")
	f.BoolVar(&syncNoBranch, "no-commit-branch-info", false, "Do not store per-commit branch membership")
	f.IntVar(&syncCores, "cores-per-job", 0, "Number of classification workers")
	f.IntVar(&syncSimilarity, "similarity", 0, "Rename and copy similarity threshold in percent")
	f.StringVar(&syncRemote, "remote", "", "Remote whose branches are stored as tips")
	f.StringVar(&syncMetricsFile, "metrics-file", "", "Write Prometheus metrics to this file after the sync")
}

// applySyncFlags overrides configuration with the flags set on the command line.
func applySyncFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	set := func(name string, apply func()) {
		if f.Changed(name) {
			apply()
		}
	}
	set("project", func() { cfg.Project = syncProject })
	set("db-driver", func() { cfg.Store.Driver = syncDriver })
	set("db-path", func() { cfg.Store.Path = syncDBPath })
	set("db-hostname", func() { cfg.Store.Hostname = syncHostname })
	set("db-port", func() { cfg.Store.Port = syncPort })
	set("db-user", func() { cfg.Store.User = syncUser })
	set("db-password", func() { cfg.Store.Password = syncPassword })
	set("db-database", func() { cfg.Store.Database = syncDatabase })
	set("no-hunks", func() { cfg.Parser.NoHunks = syncNoHunks })
	set("no-commit-branch-info", func() { cfg.Parser.NoCommitBranchInfo = syncNoBranch })
	set("cores-per-job", func() { cfg.Parser.CoresPerJob = syncCores })
	set("similarity", func() { cfg.Parser.SimilarityThreshold = syncSimilarity })
	set("remote", func() { cfg.Parser.Remote = syncRemote })
	set("metrics-file", func() { cfg.MetricsFile = syncMetricsFile })
}

// openDriver connects the configured document store.
func openDriver(cfg config.StoreConfig) (store.Driver, error) {
	switch cfg.Driver {
	case "bolt":
		return store.OpenBolt(cfg.Path)
	case "sqlite":
		return store.OpenSQLite(cfg.Path)
	case "redis":
		d, err := store.OpenRedis(store.RedisConfig{
			Addr:      cfg.Addr(),
			Username:  cfg.User,
			Password:  cfg.Password,
			Database:  cfg.Database,
			Namespace: cfg.Namespace,
		})
		if err != nil {
			return nil, err
		}
		return store.WithRetry(d, nil), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func runSync(cmd *cobra.Command, args []string) {
	cfg := loadConfig(cmd)
	applySyncFlags(cmd, cfg)
	if len(args) > 0 {
		cfg.Path = args[0]
	}
	if err := cfg.Validate(); err != nil {
		exitError("%v", err)
	}

	logger := newLogger(cfg.Log)
	backend, root := discover(cfg.Path, logger)
	opts := cfg.VCSOptions()

	repo, err := backend.Open(root, opts)
	if err != nil {
		exitError("failed to open repository: %v", err)
	}
	url := repo.ProjectURL()
	repo.Close()

	driver, err := openDriver(cfg.Store)
	if err != nil {
		exitError("failed to open store: %v", err)
	}
	defer driver.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	st, err := store.Open(ctx, driver, store.Options{
		Project:         cfg.Project,
		URL:             url,
		RepositoryType:  backend.Name(),
		MaxDocumentSize: cfg.Store.MaxDocumentSize,
		Logger:          logger,
		Metrics:         m,
	})
	if err != nil {
		exitError("failed to open store: %v", err)
	}

	logger.Info("starting sync",
		slog.String("project", cfg.Project),
		slog.String("path", root),
		slog.String("url", url),
		slog.String("driver", cfg.Store.Driver),
		slog.Int("workers", cfg.Parser.CoresPerJob))

	res, err := core.NewSyncer(st, core.SyncOptions{
		Backend: backend,
		Path:    root,
		Options: opts,
		Workers: cfg.Parser.CoresPerJob,
		Logger:  logger,
		Metrics: m,
	}).Run(ctx)
	if err != nil {
		exitError("sync of %s failed: %v", root, err)
	}

	if cfg.MetricsFile != "" {
		if err := m.WriteFile(cfg.MetricsFile); err != nil {
			logger.Warn("failed to write metrics", "path", cfg.MetricsFile, "error", err)
		}
	}

	printSyncResult(url, res)
}

func printSyncResult(url string, res *core.SyncResult) {
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	red := color.New(color.FgRed)

	green.Printf("Synced %s", url)
	fmt.Printf(" in %s\n", res.Duration.Round(time.Millisecond))
	fmt.Printf("  commits:      %d (%d classified, %d skipped)\n", res.Commits, res.Classified, res.Skipped)
	fmt.Printf("  file actions: %d\n", res.FileActions)
	fmt.Printf("  tags:         %d\n", res.Tags)
	fmt.Printf("  branches:     %d\n", res.Branches)

	r := res.Reconcile
	if r.Changes() > 0 {
		yellow.Printf("  reconciled:   %d commits deleted, %d tags deleted, %d tags restored, %d tags created, %d branches deleted\n",
			r.CommitsDeleted, r.TagsDeleted, r.TagsRestored, r.TagsCreated, r.BranchesDeleted)
	}
	if errs := r.Errors + res.BranchErrors; errs > 0 {
		red.Printf("  %d records could not be reconciled, see the log\n", errs)
	}
}
