package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/percona/percona-dbclone-mongodb/clone"
	"github.com/percona/percona-dbclone-mongodb/config"
	"github.com/percona/percona-dbclone-mongodb/errors"
	"github.com/percona/percona-dbclone-mongodb/log"
	"github.com/percona/percona-dbclone-mongodb/metrics"
	"github.com/percona/percona-dbclone-mongodb/remote"
	"github.com/percona/percona-dbclone-mongodb/sel"
	"github.com/percona/percona-dbclone-mongodb/store/mongostore"
	"github.com/percona/percona-dbclone-mongodb/util"
)

const (
	ServerReadTimeout       = 30 * time.Second
	ServerReadHeaderTimeout = 3 * time.Second
)

// contextKey is a type for context keys used in this package.
type contextKey string

const configContextKey contextKey = "config"

var (
	Version   = "v0.1.0" //nolint:gochecknoglobals
	Platform  = ""       //nolint:gochecknoglobals
	GitCommit = ""       //nolint:gochecknoglobals
	GitBranch = ""       //nolint:gochecknoglobals
	BuildTime = ""       //nolint:gochecknoglobals
)

func buildVersion() string {
	return Version + " " + GitCommit + " " + BuildTime
}

//nolint:gochecknoglobals
var rootCmd = &cobra.Command{
	Use:   "pdbc",
	Short: "Percona Database Clone for MongoDB",

	SilenceUsage: true,

	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(cmd)
		if err != nil {
			return errors.Wrap(err, "load config")
		}

		logLevel, err := zerolog.ParseLevel(cfg.Log.Level)
		if err != nil {
			logLevel = zerolog.InfoLevel
		}

		lg := log.InitGlobals(logLevel, cfg.Log.JSON, cfg.Log.NoColor)
		ctx := lg.WithContext(context.Background())
		ctx = context.WithValue(ctx, configContextKey, cfg)
		cmd.SetContext(ctx)

		return nil
	},

	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg := cmd.Context().Value(configContextKey).(*config.Config) //nolint:forcetypeassert

		if cfg.Source == "" {
			return errors.New("required flag --source not set")
		}

		if cfg.Target == "" {
			return errors.New("required flag --target not set")
		}

		if cfg.Database == "" {
			return errors.New("required flag --database not set")
		}

		log.Ctx(cmd.Context()).Info("Percona Database Clone for MongoDB " + buildVersion())

		return runClone(cmd.Context(), cfg)
	},
}

//nolint:gochecknoglobals
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, _ []string) {
		info := fmt.Sprintf("Version:   %s\nPlatform:  %s\nGitCommit: "+
			"%s\nGitBranch: %s\nBuildTime: %s\nGoVersion: %s",
			Version,
			Platform,
			GitCommit,
			GitBranch,
			BuildTime,
			runtime.Version(),
		)

		cmd.Println(info)
	},
}

// runClone performs the clone, serving prometheus metrics for its duration.
func runClone(ctx context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, os.Kill)
	defer stop()

	registry := prometheus.NewRegistry()
	metrics.Init(registry)

	port := cfg.MetricsPort
	if port == 0 {
		port = config.DefaultMetricsPort
	}

	addr := fmt.Sprintf("localhost:%d", port)
	httpServer := &http.Server{
		Addr:    addr,
		Handler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),

		ReadTimeout:       ServerReadTimeout,
		ReadHeaderTimeout: ServerReadHeaderTimeout,
	}

	log.Ctx(ctx).Info("Serving metrics at http://" + addr + "/metrics")

	grp, ctx := errgroup.WithContext(ctx)

	grp.Go(func() error {
		err := httpServer.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return errors.Wrap(err, "metrics server")
	})

	grp.Go(func() error {
		defer func() {
			err := util.WithTimeout(context.WithoutCancel(ctx), config.DisconnectTimeout,
				httpServer.Shutdown)
			if err != nil {
				log.Ctx(ctx).Errorf(err, "Shutdown metrics server")
			}
		}()

		return doClone(ctx, cfg)
	})

	return grp.Wait() //nolint:wrapcheck
}

func doClone(ctx context.Context, cfg *config.Config) error {
	target, err := mongostore.Connect(ctx, cfg.Target)
	if err != nil {
		return errors.Wrap(err, "connect to target")
	}

	defer func() {
		err := util.WithTimeout(context.WithoutCancel(ctx), config.DisconnectTimeout, target.Close)
		if err != nil {
			log.Ctx(ctx).Errorf(err, "Close target connection")
		}
	}()

	cloner := clone.New(target.Node(), remote.Dial, &clone.Options{
		SkipCorruptDocuments: cfg.Clone.SkipCorruptDocuments,
		TwoPhaseIndexBuilds:  cfg.Clone.TwoPhaseIndexBuilds,
		InternalAuth:         cfg.Clone.InternalAuth,
		NSFilter:             sel.MakeFilter(cfg.IncludeNamespaces, cfg.ExcludeNamespaces),
	})

	result, err := cloner.CloneDatabase(ctx, &clone.Request{
		SourceAddress:      cfg.Source,
		Database:           cfg.Database,
		ShardedCollections: cfg.ShardedCollections,
	})
	if err != nil {
		return errors.Wrapf(err, "clone database %q", cfg.Database)
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal result")
	}

	fmt.Println(string(out))

	return nil
}

func main() {
	rootCmd.PersistentFlags().String("log-level", "info", "Log level")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output log in JSON format")
	rootCmd.PersistentFlags().Bool("log-no-color", false, "Disable log color")

	rootCmd.Flags().String("source", "", "MongoDB connection string for the source node")
	rootCmd.Flags().String("target", "", "MongoDB connection string for the target node")
	rootCmd.Flags().String("database", "", "Database to clone")

	rootCmd.Flags().StringSlice("sharded-collections", nil,
		"Fully-qualified namespaces that are sharded (e.g. db1.coll1,db1.coll2)")
	rootCmd.Flags().StringSlice("include-namespaces", nil,
		"Namespaces to include in the clone (e.g. db1.collection1,db1.*)")
	rootCmd.Flags().StringSlice("exclude-namespaces", nil,
		"Namespaces to exclude from the clone (e.g. db1.collection3)")

	rootCmd.Flags().Bool("skip-corrupt-documents", false,
		"Skip documents that fail validation instead of aborting")
	rootCmd.Flags().Bool("two-phase-index-builds", true,
		"Use durable two-phase secondary index builds")
	rootCmd.Flags().Bool("internal-auth", false,
		"Authenticate on the source as the internal system identity")

	rootCmd.Flags().Int("metrics-port", config.DefaultMetricsPort, "Prometheus metrics port")

	rootCmd.AddCommand(versionCmd)

	err := rootCmd.Execute()
	if err != nil {
		zerolog.Ctx(context.Background()).Fatal().Err(err).Msg("")
	}
}
