// Package main provides the fluxflow CLI: the HTTP service, an offline
// compiler and schema management.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/meikuraledutech/fluxflow"
	"github.com/meikuraledutech/fluxflow/gateway"
	"github.com/meikuraledutech/fluxflow/internal/config"
	"github.com/meikuraledutech/fluxflow/internal/logging"
	"github.com/meikuraledutech/fluxflow/internal/metrics"
	"github.com/meikuraledutech/fluxflow/memory"
	"github.com/meikuraledutech/fluxflow/postgres"
	"github.com/meikuraledutech/fluxflow/server"
)

const (
	shutdownTimeout = 10 * time.Second
	purgeInterval   = 10 * time.Minute
)

var rootCmd = &cobra.Command{
	Use:           "fluxflow",
	Short:         "Compile node graphs into Flux queries and proxy a Grafana upstream",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP service",
	RunE:  runServe,
}

var compileCmd = &cobra.Command{
	Use:   "compile <graph.json|->",
	Short: "Compile a graph file and print one script per visualisation",
	Args:  cobra.ExactArgs(1),
	RunE:  runCompile,
}

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Database schema commands",
}

var schemaCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create the preset and session tables",
	RunE:  runSchema(true),
}

var schemaDropCmd = &cobra.Command{
	Use:   "drop",
	Short: "Drop the preset and session tables",
	RunE:  runSchema(false),
}

var (
	configPath string
	outputID   string
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a YAML config file")
	compileCmd.Flags().StringVar(&outputID, "output", "", "Print only the script of this visualisation node")

	schemaCmd.AddCommand(schemaCreateCmd)
	schemaCmd.AddCommand(schemaDropCmd)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(compileCmd)
	rootCmd.AddCommand(schemaCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := logging.NewLogger(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := metrics.NewRegistry()

	var (
		presets  fluxflow.PresetStore
		sessions gateway.SessionStore
		purge    func(context.Context) (int64, error)
	)
	if cfg.Database.URL != "" {
		pool, err := pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		defer pool.Close()
		pg := postgres.New(pool)
		if err := pg.CreateSchema(ctx); err != nil {
			return fmt.Errorf("schema: %w", err)
		}
		ss := pg.Sessions(cfg.Session.TTL)
		presets, sessions, purge = pg, ss, ss.PurgeExpired
		logger.Info("using postgres store")
	} else {
		presets = memory.NewPresetStore()
		sessions = memory.NewSessionStore(cfg.Session.TTL)
		logger.Warn("DATABASE_URL not set, presets and sessions are kept in memory")
	}

	client, err := gateway.NewClient(gateway.ClientConfig{
		BaseURL:  cfg.Upstream.URL,
		Timeout:  cfg.Upstream.Timeout,
		Recorder: reg,
	})
	if err != nil {
		return err
	}
	gw, err := gateway.New(gateway.Config{
		Client:               client,
		Sessions:             sessions,
		Logger:               logger,
		DatasourceType:       cfg.Upstream.DatasourceType,
		MaxConcurrentQueries: cfg.Upstream.MaxConcurrentQueries,
	})
	if err != nil {
		return err
	}
	srv, err := server.New(server.Options{
		Gateway:      gw,
		Presets:      presets,
		Metrics:      reg,
		Logger:       logger,
		CookieName:   cfg.Session.CookieName,
		CookieSecure: cfg.Session.CookieSecure,
		SessionTTL:   cfg.Session.TTL,
		AllowOrigins: cfg.Server.AllowOrigins,
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", "addr", cfg.Server.ListenAddr, "upstream", cfg.Upstream.URL)
		return srv.Listen(cfg.Server.ListenAddr)
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info("shutting down")
		return srv.Shutdown(sctx)
	})
	if purge != nil {
		g.Go(func() error {
			t := time.NewTicker(purgeInterval)
			defer t.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-t.C:
					n, err := purge(gctx)
					if err != nil {
						logger.Warn("purge expired sessions", "error", err)
						continue
					}
					if n > 0 {
						logger.Debug("purged expired sessions", "count", n)
					}
				}
			}
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func runCompile(cmd *cobra.Command, args []string) error {
	var (
		data []byte
		err  error
	)
	if args[0] == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(args[0])
	}
	if err != nil {
		return fmt.Errorf("read graph: %w", err)
	}

	g := fluxflow.NewGraph()
	if err := json.Unmarshal(data, g); err != nil {
		return fmt.Errorf("decode graph: %w", err)
	}

	out := cmd.OutOrStdout()
	if outputID != "" {
		script, err := g.Script(outputID)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, script)
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(g.Compile())
}

func runSchema(create bool) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if cfg.Database.URL == "" {
			return errors.New("DATABASE_URL is not set")
		}
		ctx := cmd.Context()
		pool, err := pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		defer pool.Close()

		store := postgres.New(pool)
		if create {
			if err := store.CreateSchema(ctx); err != nil {
				return fmt.Errorf("create schema: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema created")
			return nil
		}
		if err := store.DropSchema(ctx); err != nil {
			return fmt.Errorf("drop schema: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "schema dropped")
		return nil
	}
}
