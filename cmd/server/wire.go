package main

import (
	"context"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/warp/clinic-engine/access"
	"github.com/warp/clinic-engine/api"
	"github.com/warp/clinic-engine/config"
	"github.com/warp/clinic-engine/core"
	"github.com/warp/clinic-engine/core/store"
	"github.com/warp/clinic-engine/factory"
	"github.com/warp/clinic-engine/logging"
	"github.com/warp/clinic-engine/restock"
	"github.com/warp/clinic-engine/sequence"
	"github.com/warp/clinic-engine/store/mongo"
	redisstore "github.com/warp/clinic-engine/store/redis"
	"github.com/warp/clinic-engine/store/sqlite"
	"go.uber.org/zap"
)

// deps is everything a command may need.
type deps struct {
	cfg        *config.Config
	logger     *zap.Logger
	store      core.Store
	engine     *restock.Engine
	seeder     *factory.Seeder
	handler    *api.Handler
	authorizer *api.Authorizer
	threshold  decimal.Decimal

	closers []func() error
}

// Close releases connections in reverse order of opening.
func (d *deps) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			d.logger.Warn("close failed", zap.Error(err))
		}
	}
	d.logger.Sync()
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	return cfg, nil
}

func verifierFor(cfg *config.Config) *access.TokenVerifier {
	return access.NewTokenVerifier([]byte(cfg.Auth.JWTSecret), cfg.Auth.Issuer)
}

// wire builds the dependency graph from configuration.
func wire(ctx context.Context) (*deps, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Logger)
	if err != nil {
		return nil, errors.Wrap(err, "build logger")
	}
	d := &deps{cfg: cfg, logger: logger, threshold: decimal.NewFromFloat(cfg.Restock.Threshold)}

	if err := d.openStore(ctx); err != nil {
		d.Close()
		return nil, err
	}
	counters, err := d.openCounters(ctx)
	if err != nil {
		d.Close()
		return nil, err
	}

	if cfg.Auth.JWTSecret == "" {
		logger.Warn("CLINIC_AUTH_JWT_SECRET is empty; every authenticated request will fail")
	}

	seq := sequence.NewGenerator(counters, logger.Named("sequence"))
	seq.Location = cfg.Location()
	seq.Timeout = cfg.Store.Timeout

	defaults, err := access.NewRoleDefaults()
	if err != nil {
		d.Close()
		return nil, err
	}
	cache := access.NewIdentityCache(d.store, logger.Named("identity"))
	cache.TTL = cfg.Auth.IdentityTTL
	cache.StoreTimeout = cfg.Store.Timeout
	directory := access.NewDirectory(d.store, cache, logger.Named("directory"))
	directory.StoreTimeout = cfg.Store.Timeout

	d.engine = restock.NewEngine(d.store, seq, logger.Named("restock"))
	d.engine.StoreTimeout = cfg.Store.Timeout
	d.seeder = factory.NewSeeder(d.store, directory, seq, logger.Named("seed"))

	d.authorizer = api.NewAuthorizer(verifierFor(cfg), cache, access.NewEvaluator(defaults), logger.Named("auth"))
	d.authorizer.ExposeDenials = cfg.Auth.DiscloseDenials

	d.handler = api.NewHandler(d.store, d.engine, directory, d.seeder, logger.Named("api"))
	d.handler.StoreTimeout = cfg.Store.Timeout
	d.handler.DefaultThreshold = d.threshold

	return d, nil
}

func (d *deps) openStore(ctx context.Context) error {
	cfg := d.cfg.Store
	switch cfg.Driver {
	case "memory":
		d.store = store.NewMemory()
	case "sqlite":
		if cfg.SQLitePath != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
				return errors.Wrap(err, "create data directory")
			}
		}
		s, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return err
		}
		d.store = s
		d.closers = append(d.closers, s.Close)
	case "mongo":
		connectCtx, cancel := context.WithTimeout(ctx, cfg.Timeout*2)
		defer cancel()
		s, err := mongo.Connect(connectCtx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return err
		}
		d.store = s
		d.closers = append(d.closers, s.Close)
	default:
		return errors.Errorf("unknown store driver %q", cfg.Driver)
	}
	d.logger.Info("store opened", zap.String("driver", cfg.Driver))
	return nil
}

func (d *deps) openCounters(ctx context.Context) (core.CounterStore, error) {
	switch d.cfg.Counter.Backend {
	case "store":
		return d.store, nil
	case "redis":
		rc := d.cfg.Redis
		dialCtx, cancel := context.WithTimeout(ctx, d.cfg.Store.Timeout)
		defer cancel()
		client, err := redisstore.Dial(dialCtx, rc.Addr, rc.Password, rc.DB)
		if err != nil {
			return nil, err
		}
		d.closers = append(d.closers, client.Close)
		counter := redisstore.NewCounter(client, rc.Prefix)
		counter.TTL = d.cfg.Counter.TTL
		d.logger.Info("redis counters enabled", zap.String("addr", rc.Addr))
		return counter, nil
	default:
		return nil, errors.Errorf("unknown counter backend %q", d.cfg.Counter.Backend)
	}
}
