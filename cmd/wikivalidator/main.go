package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"wikivalidator/classify"
	"wikivalidator/config"
	"wikivalidator/detect"
	"wikivalidator/internal/store"
	"wikivalidator/internal/watch"
	"wikivalidator/knowledge"
	"wikivalidator/metrics"
	"wikivalidator/overpass"
	"wikivalidator/report"
	"wikivalidator/syncer"
)

var (
	configPath string
	verbose    bool

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "wikivalidator",
	Short: "Validator for wikipedia/wikidata tags on OpenStreetMap elements",
	Long: `wikivalidator maintains a local cache of wikipedia/wikidata tagged
OpenStreetMap elements per configured region, validates their links against
Wikipedia and Wikidata, and publishes HTML reports of the problems found.

Validation verdicts are cached: only elements without a verdict or flagged
elements with outdated data are rechecked, so repeated runs stay cheap.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Pull region snapshots and refresh validation verdicts",
	RunE:  runSync,
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Rewrite all report pages from stored verdicts",
	RunE:  runReport,
}

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Print the region processing order without syncing",
	RunE:  runSchedule,
}

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Export per-error-kind element lists and MapRoulette queries",
	RunE:  runTasks,
}

var (
	watchConfig   bool
	forcedRefresh bool
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "regions.yaml", "path to the region configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	syncCmd.Flags().BoolVar(&watchConfig, "watch", false, "rerun the cycle when the configuration file changes")
	syncCmd.Flags().BoolVar(&forcedRefresh, "forced-refresh", false, "bypass the wiki data cache and refetch everything")

	rootCmd.AddCommand(syncCmd, reportCmd, scheduleCmd, tasksCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func openStore(ctx context.Context, cfg config.Config) (*store.Store, error) {
	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", cfg.DatabasePath, err)
	}
	if err := st.Health(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("database health check: %w", err)
	}
	return st, nil
}

func buildSyncer(cfg config.Config, st *store.Store, kb *knowledge.Cache, m *metrics.Metrics) *syncer.Syncer {
	classifier := classify.New(kb)
	detectorFor := func(region config.Region) syncer.ProblemDetector {
		return detect.New(kb, classifier, detect.Options{
			ExpectedLanguage:    region.LanguageCode,
			OnlyEdits:           cfg.OnlyEdits,
			AllowFalsePositives: cfg.AllowFalsePositives,
		}, logger.Named("detect"))
	}
	regions := overpass.NewRegionClient(nil, "", logger.Named("overpass"))
	objects := overpass.NewObjectClient(nil, "")
	return syncer.New(cfg, st, regions, objects, detectorFor, m, logger.Named("sync"))
}

func runSync(cmd *cobra.Command, args []string) error {
	cycle := func(ctx context.Context) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		st, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		httpClient := &http.Client{Timeout: 60 * time.Second}
		kb := knowledge.NewCache(knowledge.NewHTTPClient(httpClient, ""), forcedRefresh)
		cachePath := filepath.Join(cfg.CacheDir, "wikidata.json")
		if !forcedRefresh {
			if err := kb.LoadFrom(cachePath); err != nil {
				return err
			}
		}

		m := metrics.New()
		s := buildSyncer(cfg, st, kb, m)
		g := report.New(st, cfg, logger.Named("report"))
		// rewrite the region page and index after every region, so an
		// interrupted run still publishes what was committed
		s.OnRegionSynced(func(ctx context.Context, region config.Region) error {
			if err := g.WriteRegion(ctx, region); err != nil {
				return err
			}
			return g.WriteIndex(ctx)
		})
		if err := s.Run(ctx); err != nil {
			return err
		}
		if err := kb.SaveTo(cachePath); err != nil {
			return err
		}
		if err := g.WriteTasks(ctx); err != nil {
			return err
		}

		snap := m.Snapshot()
		logger.Info("sync finished",
			zap.Int64("regions_processed", snap.RegionsProcessed),
			zap.Int64("regions_failed", snap.RegionsFailed),
			zap.Int64("entities_refreshed", snap.EntitiesRefreshed),
			zap.Int64("entities_deleted", snap.EntitiesDeleted),
			zap.Int64("entities_resolved", snap.EntitiesResolved),
			zap.Int64("problems_found", snap.ProblemsFound))
		return nil
	}

	ctx := cmd.Context()
	if err := cycle(ctx); err != nil {
		return err
	}
	if !watchConfig {
		return nil
	}

	w := watch.New(configPath, func(ctx context.Context) {
		if err := cycle(ctx); err != nil {
			logger.Error("sync cycle failed", zap.Error(err))
		}
	}, logger.Named("watch"))
	if err := w.Start(ctx); !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func runReport(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	st, err := openStore(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := cmd.Context()
	g := report.New(st, cfg, logger.Named("report"))
	for _, region := range cfg.Regions {
		if region.Hidden {
			continue
		}
		if err := g.WriteRegion(ctx, region); err != nil {
			return err
		}
	}
	return g.WriteIndex(ctx)
}

func runTasks(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	st, err := openStore(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	return report.New(st, cfg, logger.Named("report")).WriteTasks(cmd.Context())
}

func runSchedule(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	st, err := openStore(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := cmd.Context()
	timestamps := make(map[string]int64, len(cfg.Regions))
	for _, region := range cfg.Regions {
		ts, err := st.LatestSnapshot(ctx, region.InternalName)
		if err != nil {
			return err
		}
		timestamps[region.InternalName] = ts
	}
	plan := schedulePlan(cfg, timestamps)
	for _, line := range plan {
		fmt.Fprintln(cmd.OutOrStdout(), line)
	}
	return nil
}
