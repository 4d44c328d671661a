package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/vincentlarkin/Caddo911-Monitor/internal/archive"
	"github.com/vincentlarkin/Caddo911-Monitor/internal/backup"
	"github.com/vincentlarkin/Caddo911-Monitor/internal/config"
	"github.com/vincentlarkin/Caddo911-Monitor/internal/geocode"
	"github.com/vincentlarkin/Caddo911-Monitor/internal/observability"
	"github.com/vincentlarkin/Caddo911-Monitor/internal/orchestrator"
	"github.com/vincentlarkin/Caddo911-Monitor/internal/server"
	"github.com/vincentlarkin/Caddo911-Monitor/internal/sources"
	"github.com/vincentlarkin/Caddo911-Monitor/internal/store"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
	logger     = logrus.New()
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "caddo911",
	Short:   "Louisiana emergency incident monitor",
	Long:    "caddo911 scrapes active-incident feeds from Louisiana jurisdictions, deduplicates and geocodes them, and serves the result over a JSON API.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// A missing .env is fine; it only supplies optional overrides.
		_ = godotenv.Load()

		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			return nil
		}

		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		level, err := logrus.ParseLevel(cfg.Logging.Level)
		if err != nil {
			return fmt.Errorf("parsing log level: %w", err)
		}
		if verbose {
			level = logrus.DebugLevel
		}
		logger.SetLevel(level)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(scrapeCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(archiveCmd)
	rootCmd.AddCommand(backupCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("caddo911", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/caddo911/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Edit it to configure sources, scrape interval, and geocoding providers.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show store and recent cycle status",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		stats, err := st.GetStats()
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}

		fmt.Println("Incidents:")
		fmt.Printf("  Active: %d\n", stats.Active)
		fmt.Printf("  First seen today: %d\n", stats.Today)
		fmt.Printf("  Total in live store: %d\n", stats.Total)

		if len(stats.ByAgency) > 0 {
			fmt.Println("\nActive by agency:")
			for _, ac := range stats.ByAgency {
				fmt.Printf("  %s: %d\n", ac.Agency, ac.Count)
			}
		}

		cycles, err := st.RecentCycles(5)
		if err != nil {
			return fmt.Errorf("listing cycles: %w", err)
		}
		if len(cycles) > 0 {
			fmt.Println("\nRecent cycles:")
			for _, c := range cycles {
				fmt.Printf("  %s  %s  (%s)\n",
					c.StartedAt.Format(time.RFC3339),
					c.ID,
					c.FinishedAt.Sub(c.StartedAt).Round(time.Millisecond))
				names := make([]string, 0, len(c.Sources))
				for name := range c.Sources {
					names = append(names, name)
				}
				sort.Strings(names)
				for _, name := range names {
					counts := c.Sources[name]
					if counts.Failed {
						fmt.Printf("    %s: failed (%s)\n", name, counts.Error)
						continue
					}
					fmt.Printf("    %s: %d fetched, %d new, %d reactivated, %d deactivated, %d geocoded\n",
						name, counts.Fetched, counts.New, counts.Reactivated, counts.Deactivated, counts.Geocoded)
				}
			}
		}
		return nil
	},
}

// --- scrape command ---

var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Run one scrape cycle and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		orch, _, err := buildOrchestrator(st)
		if err != nil {
			return err
		}

		ctx, cancel := signalContext()
		defer cancel()

		fmt.Println("Running scrape cycle...")
		orch.RunCycle(ctx)

		status := orch.Status()
		for name, counts := range status.Sources {
			if counts.Failed {
				fmt.Printf("  %s: failed (%s)\n", name, counts.Error)
				continue
			}
			fmt.Printf("  %s: %d fetched, %d new, %d deactivated, %d geocoded\n",
				name, counts.Fetched, counts.New, counts.Deactivated, counts.Geocoded)
		}
		return nil
	},
}

// --- serve command ---

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scrape schedule and the JSON API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		orch, archiver, err := buildOrchestrator(st)
		if err != nil {
			return err
		}

		ctx, cancel := signalContext()
		defer cancel()

		go func() {
			if err := orch.Run(ctx); err != nil {
				logger.WithError(err).Error("orchestrator stopped")
			}
		}()

		port := cfg.Server.Port
		if servePort != 0 {
			port = servePort
		}

		srv := server.New(st, orch, archiver, cfg.Scrape.Interval.Std(), logger)
		fmt.Printf("Starting server at http://localhost:%d\n", port)
		fmt.Println("Press Ctrl+C to stop")
		return srv.ListenAndServe(port)
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Override the configured server port")
}

// --- archive command ---

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Run one archival pass over the live store",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		metrics := observability.NewMetrics()
		archiver := archive.New(st, cfg.GetDataDir(), cfg.Archive.Age.Std(), clockwork.NewRealClock(), logger, metrics)

		ctx, cancel := signalContext()
		defer cancel()

		result, err := archiver.Run(ctx)
		if err != nil {
			return err
		}
		if result.Moved == 0 {
			fmt.Println("Nothing to archive.")
			return nil
		}
		fmt.Printf("Archived %d incidents:\n", result.Moved)
		months := make([]string, 0, len(result.Partitions))
		for month := range result.Partitions {
			months = append(months, month)
		}
		sort.Strings(months)
		for _, month := range months {
			fmt.Printf("  %s: %d -> %s\n", month, result.Partitions[month], archiver.PartitionPath(month))
		}
		return nil
	},
}

// --- backup command ---

var backupList bool

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Write a snapshot of the store (or list existing snapshots)",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		metrics := observability.NewMetrics()
		manager := backup.New(st, cfg.GetDataDir(), cfg.Backup.Retention, cfg.Backup.IncludeArchives,
			clockwork.NewRealClock(), logger, metrics)

		if backupList {
			snapshots, err := manager.Snapshots()
			if err != nil {
				return err
			}
			if len(snapshots) == 0 {
				fmt.Println("No snapshots yet.")
				return nil
			}
			for _, s := range snapshots {
				fmt.Println(s)
			}
			return nil
		}

		ctx, cancel := signalContext()
		defer cancel()

		path, err := manager.Snapshot(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Snapshot written: %s\n", path)
		return nil
	},
}

func init() {
	backupCmd.Flags().BoolVar(&backupList, "list", false, "List snapshots instead of writing one")
}

// --- wiring helpers ---

func openStore() (*store.Store, error) {
	dataDir := cfg.GetDataDir()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return store.Open(filepath.Join(dataDir, "live.db"), logger)
}

func buildOrchestrator(st *store.Store) (*orchestrator.Orchestrator, *archive.Archiver, error) {
	adapters, err := sources.ForNames(cfg.Sources, cfg.Scrape.UserAgent, int(cfg.Scrape.FetchTimeout.Std().Seconds()), logger)
	if err != nil {
		return nil, nil, err
	}

	clock := clockwork.NewRealClock()
	metrics := observability.NewMetrics()

	engine, err := geocode.New(cfg.Geocode, cfg.Scrape.UserAgent, logger, metrics, clock)
	if err != nil {
		return nil, nil, err
	}

	archiver := archive.New(st, cfg.GetDataDir(), cfg.Archive.Age.Std(), clock, logger, metrics)
	backups := backup.New(st, cfg.GetDataDir(), cfg.Backup.Retention, cfg.Backup.IncludeArchives, clock, logger, metrics)

	return orchestrator.New(cfg, st, adapters, engine, archiver, backups, clock, logger, metrics), archiver, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
