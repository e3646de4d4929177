package main

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/warp/ledger-engine/api"
	"github.com/warp/ledger-engine/config"
	"github.com/warp/ledger-engine/events"
	"github.com/warp/ledger-engine/ledger"
	"github.com/warp/ledger-engine/ledger/store"
	"github.com/warp/ledger-engine/logger"
	"github.com/warp/ledger-engine/store/sqlstore"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
)

const (
	driverMemory   = "memory"
	connectTimeout = 30 * time.Second
)

func appOptions(cfg *config.Configuration) []fx.Option {
	return []fx.Option{
		fx.Supply(cfg),
		fx.WithLogger(func(log *logger.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Zap()}
		}),
		fx.Provide(
			provideLogger,
			provideStore,
			provideLedger,
			providePublisher,
			provideSweeper,
			provideHandler,
			provideRouter,
		),
		fx.Invoke(
			startSweeper,
			startServer,
		),
	}
}

func provideLogger(lc fx.Lifecycle, cfg *config.Configuration) (*logger.Logger, error) {
	log, err := logger.NewLogger(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			_ = log.Sync()
			return nil
		},
	})
	return log, nil
}

func databaseConfig(cfg *config.Configuration) sqlstore.Config {
	return sqlstore.Config{
		Driver:         cfg.Database.Driver,
		DSN:            cfg.Database.DSN,
		MaxOpenConns:   cfg.Database.MaxOpenConns,
		ConnectTimeout: connectTimeout,
		AutoMigrate:    cfg.Database.AutoMigrate,
	}
}

func provideStore(lc fx.Lifecycle, cfg *config.Configuration, log *logger.Logger) (ledger.Store, error) {
	if cfg.Database.Driver == driverMemory {
		log.Warnw("using the in-memory store, data is lost on exit")
		return store.NewMemory(), nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout+5*time.Second)
	defer cancel()
	st, err := sqlstore.Open(ctx, databaseConfig(cfg), log)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			log.Infow("closing database")
			return st.Close()
		},
	})
	return st, nil
}

func provideLedger(st ledger.Store, cfg *config.Configuration, log *logger.Logger) *ledger.Ledger {
	return ledger.New(st, log.With("component", "ledger"), ledger.WithConfig(cfg.Ledger.Engine()))
}

func providePublisher(lc fx.Lifecycle, cfg *config.Configuration, log *logger.Logger) (events.Publisher, error) {
	var pub events.Publisher
	switch cfg.Events.Backend {
	case "kafka":
		bus, err := events.NewKafkaBus(cfg.Events.KafkaBrokers, cfg.Events.TopicPrefix, log)
		if err != nil {
			return nil, err
		}
		pub = bus
	case "none":
		pub = events.Nop{}
	default:
		bus, _ := events.NewMemoryBus(cfg.Events.TopicPrefix, log)
		pub = bus
	}
	log.Infow("event publisher ready", "backend", cfg.Events.Backend)

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return pub.Close()
		},
	})
	return pub, nil
}

func provideSweeper(l *ledger.Ledger, pub events.Publisher, cfg *config.Configuration, log *logger.Logger) *api.OverdueSweeper {
	return api.NewOverdueSweeper(l, pub, log, api.SweeperConfig{
		Enabled:  cfg.Scheduler.Enabled,
		Interval: cfg.Scheduler.Interval,
		Workers:  cfg.Scheduler.Workers,
	})
}

func provideHandler(l *ledger.Ledger, pub events.Publisher, sweeper *api.OverdueSweeper, log *logger.Logger) *api.Handler {
	return api.NewHandler(l, pub, log.With("component", "api"), api.WithSweeper(sweeper))
}

func provideRouter(h *api.Handler, cfg *config.Configuration, log *logger.Logger) http.Handler {
	return api.NewRouter(h, api.RouterConfig{
		CORSOrigins:    cfg.Server.CORSOrigins,
		IdempotencyTTL: cfg.API.IdempotencyTTL,
	}, log)
}

func startSweeper(lc fx.Lifecycle, s *api.OverdueSweeper) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			s.Start()
			return nil
		},
		OnStop: func(context.Context) error {
			s.Stop()
			return nil
		},
	})
}

func startServer(lc fx.Lifecycle, cfg *config.Configuration, router http.Handler, log *logger.Logger) {
	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return errors.Wrapf(err, "listen on %s", srv.Addr)
			}
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Errorw("server failed", "error", err)
				}
			}()
			log.Infow("server started", "address", ln.Addr().String(), "version", version)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Infow("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}
