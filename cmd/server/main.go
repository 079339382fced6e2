/*
main.go - Application entry point

PURPOSE:
  Command-line entry for the clinic stock core. Loads configuration,
  wires the store, counters, access layer and restock engine, and runs
  one of the commands below.

COMMANDS:
  serve        Start the HTTP API (plus reorder scheduler, optional Kafka listener)
  migrate      Apply SQLite migrations or create Mongo indexes, then exit
  issue-token  Sign a bearer token for a subject (development helper)
  seed         Load a JSON catalog or built-in scenario into the store

CONFIGURATION:
  All settings come from CLINIC_* environment variables, optionally from a
  .env file. See config/config.go. Flags only override a few of them.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (CLINIC_SERVER_SHUTDOWN_TIMEOUT)
  3. Stop the scheduler and the listener
  4. Close store connections

EXAMPLES:
  # Run with an in-memory store and a dev secret
  CLINIC_STORE_DRIVER=memory CLINIC_AUTH_JWT_SECRET=dev ./server serve

  # Seed the demo catalog into SQLite
  ./server seed --scenario small-clinic

  # Get a token for the seeded owner
  CLINIC_AUTH_JWT_SECRET=dev ./server issue-token --subject u-owner

SEE ALSO:
  - wire.go: Dependency construction
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"github.com/warp/clinic-engine/api"
	"github.com/warp/clinic-engine/factory"
	"github.com/warp/clinic-engine/restock"
	"github.com/warp/clinic-engine/store/mongo"
	"github.com/warp/clinic-engine/store/sqlite"
	"go.uber.org/zap"
)

func main() {
	app := &cli.App{
		Name:  "clinic-engine",
		Usage: "clinic stock and access-control core",
		Commands: []*cli.Command{
			serveCommand(),
			migrateCommand(),
			issueTokenCommand(),
			seedCommand(),
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// =============================================================================
// SERVE
// =============================================================================

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "start the HTTP API",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Usage: "listen address, overrides CLINIC_SERVER_ADDR"},
			&cli.BoolFlag{Name: "no-scheduler", Usage: "disable the background reorder scan"},
		},
		Action: func(c *cli.Context) error {
			ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			d, err := wire(ctx)
			if err != nil {
				return err
			}
			defer d.Close()

			cfg := d.cfg
			if addr := c.String("addr"); addr != "" {
				cfg.Server.Addr = addr
			}

			scheduler := api.NewReorderScheduler(d.engine, d.logger.Named("scheduler"))
			scheduler.CheckInterval = cfg.Restock.ScanInterval
			scheduler.Threshold = d.threshold
			scheduler.Enabled = !c.Bool("no-scheduler")
			d.handler.Scheduler = scheduler
			scheduler.Start()
			defer scheduler.Stop()

			if cfg.Kafka.Enabled {
				listener := restock.NewKafkaListener(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.GroupID, d.engine, d.logger.Named("listener"))
				go listener.Start(ctx)
				defer listener.Close()
				d.logger.Info("purchase order listener started",
					zap.Strings("brokers", cfg.Kafka.Brokers),
					zap.String("topic", cfg.Kafka.Topic))
			}

			server := &http.Server{
				Addr:         cfg.Server.Addr,
				Handler:      api.NewRouter(d.handler, d.authorizer, api.RouterOptions{AllowedOrigins: cfg.Server.AllowedOrigins, Logger: d.logger.Named("http")}),
				ReadTimeout:  cfg.Server.ReadTimeout,
				WriteTimeout: cfg.Server.WriteTimeout,
				IdleTimeout:  60 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				d.logger.Info("server starting", zap.String("addr", cfg.Server.Addr), zap.String("store", cfg.Store.Driver))
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				if err != nil {
					return fmt.Errorf("server failed: %w", err)
				}
				return nil
			case <-ctx.Done():
			}

			d.logger.Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("server forced to shutdown: %w", err)
			}
			d.logger.Info("server stopped")
			return nil
		},
	}
}

// =============================================================================
// MIGRATE
// =============================================================================

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "apply schema migrations (sqlite) or create indexes (mongo)",
		Action: func(c *cli.Context) error {
			d, err := wire(c.Context)
			if err != nil {
				return err
			}
			defer d.Close()

			switch s := d.store.(type) {
			case *sqlite.Store:
				version, dirty, err := s.SchemaVersion()
				if err != nil {
					return err
				}
				d.logger.Info("sqlite schema ready", zap.Uint("version", version), zap.Bool("dirty", dirty))
			case *mongo.Store:
				ctx, cancel := context.WithTimeout(c.Context, d.cfg.Store.Timeout)
				defer cancel()
				if err := s.EnsureIndexes(ctx); err != nil {
					return err
				}
				d.logger.Info("mongo indexes ready", zap.String("database", d.cfg.Store.MongoDatabase))
			default:
				d.logger.Info("store has no schema", zap.String("driver", d.cfg.Store.Driver))
			}
			return nil
		},
	}
}

// =============================================================================
// ISSUE-TOKEN
// =============================================================================

func issueTokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "issue-token",
		Usage: "sign a bearer token for a subject (development only)",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "subject", Aliases: []string{"s"}, Required: true, Usage: "identity id"},
			&cli.StringFlag{Name: "role", Usage: "informational role claim"},
			&cli.DurationFlag{Name: "ttl", Value: 12 * time.Hour, Usage: "token lifetime"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			tok, err := verifierFor(cfg).Issue(c.String("subject"), c.String("role"), c.Duration("ttl"))
			if err != nil {
				return err
			}
			fmt.Fprintln(c.App.Writer, tok)
			return nil
		},
	}
}

// =============================================================================
// SEED
// =============================================================================

func seedCommand() *cli.Command {
	return &cli.Command{
		Name:  "seed",
		Usage: "load a catalog into the store",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Usage: "path to a JSON catalog"},
			&cli.StringFlag{Name: "scenario", Usage: "built-in scenario id"},
			&cli.StringFlag{Name: "actor", Value: "seed", Usage: "recorded as creator of opening balances"},
		},
		Action: func(c *cli.Context) error {
			var catalogJSON string
			switch {
			case c.String("file") != "":
				b, err := os.ReadFile(c.String("file"))
				if err != nil {
					return err
				}
				catalogJSON = string(b)
			case c.String("scenario") != "":
				js, ok := factory.ScenarioJSON(c.String("scenario"))
				if !ok {
					return cli.Exit(fmt.Sprintf("unknown scenario %q", c.String("scenario")), 2)
				}
				catalogJSON = js
			default:
				return cli.Exit("one of --file or --scenario is required", 2)
			}

			d, err := wire(c.Context)
			if err != nil {
				return err
			}
			defer d.Close()

			catalog, err := factory.NewCatalogFactory().ParseCatalog(catalogJSON)
			if err != nil {
				return err
			}
			result, err := d.seeder.Apply(c.Context, catalog, c.String("actor"))
			if err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "products created: %d, updated: %d, opening balances: %d, identities: %d\n",
				result.ProductsCreated, result.ProductsUpdated, result.OpeningBalances, result.Identities)
			return nil
		},
	}
}
