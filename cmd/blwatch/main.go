package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/blwatch/blwatch/pkg/config"
	"github.com/blwatch/blwatch/pkg/generator"
	"github.com/blwatch/blwatch/pkg/health"
	"github.com/blwatch/blwatch/pkg/ledger"
	"github.com/blwatch/blwatch/pkg/log"
	"github.com/blwatch/blwatch/pkg/metrics"
	"github.com/blwatch/blwatch/pkg/probe"
	"github.com/blwatch/blwatch/pkg/promote"
	"github.com/blwatch/blwatch/pkg/queue"
	"github.com/blwatch/blwatch/pkg/reconciler"
	"github.com/blwatch/blwatch/pkg/runner"
	"github.com/blwatch/blwatch/pkg/worker"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var (
	configPath  string
	logLevel    string
	prune       bool
	metricsAddr string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, context.Canceled) {
			os.Exit(130)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "blwatch",
	Short: "blwatch - daily DNSBL screening pipeline",
	Long: `blwatch screens address space against DNS blocklists once per day.

Each run expands the configured CIDR prefixes into host addresses, crosses
them with the blocklist zones, and probes every pair exactly once per
calendar day. Runs are idempotent: re-running a day resumes whatever is
still pending instead of starting over.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"blwatch version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	runCmd.Flags().BoolVar(&prune, "prune", false, "delete ledger rows older than today after a successful run")
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "expose Prometheus metrics on this address for the duration of the run")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(selftestCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute one daily screening pass",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := setup()
		if err != nil {
			return err
		}
		defer log.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		prober, err := probe.NewProber(cfg.Resolvers)
		if err != nil {
			return err
		}

		if err := selftest(ctx, cfg, prober); err != nil {
			return err
		}

		if metricsAddr != "" {
			go func() {
				if err := http.ListenAndServe(metricsAddr, metrics.Handler()); err != nil {
					log.Errorf("metrics server stopped", err)
				}
			}()
		}

		broker, err := queue.Dial(cfg.Broker.URL())
		if err != nil {
			return err
		}
		defer broker.Close()

		store, err := ledger.NewSQLiteStore(cfg.SQLite.DBPath)
		if err != nil {
			return err
		}
		defer store.Close()

		analytic, err := promote.Open(cfg.Postgres.DSN())
		if err != nil {
			return err
		}
		defer analytic.Close()

		if cfg.Mongo.URL != "" {
			mirror, err := promote.NewMirror(ctx, cfg.Mongo.URL, cfg.Mongo.DBName)
			if err != nil {
				return err
			}
			defer mirror.Close(context.Background())
			analytic.WithMirror(mirror)
		}

		r := &runner.Runner{
			Source: generator.NewGenerator(cfg.PrefixesFile, cfg.Blacklists),
			Sync:   reconciler.NewReconciler(store, broker, cfg.Broker.Queue, config.DefaultPublishBatch),
			Pool: worker.NewPool(broker, store, prober, worker.Config{
				QueueName:       cfg.Broker.Queue,
				Workers:         cfg.Broker.Workers,
				BulkUpdateCount: cfg.SQLite.BulkUpdateCount,
			}),
			Analytic: analytic,
			Ledger:   store,
			Prune:    prune,
		}
		return r.Run(ctx)
	},
}

var selftestCmd = &cobra.Command{
	Use:   "selftest",
	Short: "Verify connectivity to the resolvers, broker, ledger and stores",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := setup()
		if err != nil {
			return err
		}
		defer log.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		prober, err := probe.NewProber(cfg.Resolvers)
		if err != nil {
			return err
		}
		if err := selftest(ctx, cfg, prober); err != nil {
			return err
		}
		fmt.Println("all self-tests passed")
		return nil
	},
}

// setup loads the configuration and initializes logging.
func setup() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := log.Init(log.Config{
		Level:        log.Level(logLevel),
		JSONOutput:   cfg.Env != "local",
		AppLogPath:   cfg.Logging.AppLogPath,
		ErrorLogPath: cfg.Logging.ErrorLogPath,
	}); err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}
	return cfg, nil
}

// selftest runs the startup checks: connectivity is required, per-zone
// test-point listing is advisory.
func selftest(ctx context.Context, cfg *config.Config, prober *probe.Prober) error {
	suite := health.NewSuite().
		Require(
			&health.ResolverChecker{Resolvers: cfg.Resolvers},
			&health.BrokerChecker{URL: cfg.Broker.URL(), Queue: cfg.Broker.Queue},
			&health.LedgerChecker{DBPath: cfg.SQLite.DBPath},
			&health.AnalyticChecker{DSN: cfg.Postgres.DSN()},
		).
		Advise(
			&health.ZoneChecker{Prober: prober, Zones: cfg.Blacklists},
		)
	_, err := suite.Run(ctx)
	return err
}
