package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dropDatabas3/passgate/internal/bootstrap"
	"github.com/dropDatabas3/passgate/internal/cache"
	"github.com/dropDatabas3/passgate/internal/config"
	"github.com/dropDatabas3/passgate/internal/http/v2/server"
	"github.com/dropDatabas3/passgate/internal/metrics"
	"github.com/dropDatabas3/passgate/internal/observability/logger"
	"github.com/dropDatabas3/passgate/internal/store"
	"github.com/dropDatabas3/passgate/internal/store/adapters/pg"
)

func main() {
	// .env es opcional; en prod las variables vienen del entorno.
	envErr := godotenv.Load()

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/config.yaml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		// sin config todavía no hay logger configurado: usamos el default
		logger.L().Fatal("config inválida", logger.String("path", cfgPath), logger.Err(err))
	}

	logger.Init(logger.Config{
		Env:         cfg.App.Env,
		Level:       cfg.Log.Level,
		ServiceName: cfg.App.Name,
		Version:     cfg.App.Version,
	})
	defer func() { _ = logger.Sync() }()
	log := logger.L().With(logger.Component("main"))
	if envErr != nil {
		log.Debug("sin .env, se usa solo el entorno")
	}

	if err := run(cfg, log); err != nil {
		log.Fatal("servicio terminó con error", logger.Err(err))
	}
	log.Info("servicio detenido")
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ─── Infra ───
	openCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	st, err := store.Open(openCtx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	cc, err := cache.New(openCtx, cache.Config{
		Driver:          cfg.Cache.Kind,
		Addr:            cfg.Cache.Redis.Addr,
		Password:        cfg.Cache.Redis.Password,
		DB:              cfg.Cache.Redis.DB,
		Prefix:          cfg.Cache.Redis.Prefix,
		CleanupInterval: cfg.Cache.Memory.CleanupInterval,
	})
	if err != nil {
		return err
	}
	defer func() { _ = cc.Close() }()

	if cfg.Metrics.Enabled {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			return err
		}
		if pgs, ok := st.(*pg.Store); ok {
			if err := metrics.RegisterPool(prometheus.DefaultRegisterer, func() *pgxpool.Pool { return pgs.Pool() }); err != nil {
				return err
			}
		}
	}

	mailer, err := server.MailerFromConfig(cfg)
	if err != nil {
		return err
	}
	if mailer == nil {
		log.Info("smtp no configurado: las invitaciones no se envían por mail")
	}

	app, err := server.Build(cfg, server.Infra{Store: st, Cache: cc, Mailer: mailer})
	if err != nil {
		return err
	}

	if _, err := bootstrap.EnsureFirstInvite(ctx, bootstrap.Config{
		Store:           st,
		Registry:        app.Invites,
		InvitesRequired: cfg.Invites.Required,
		Out:             os.Stderr,
	}); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           app.Handler,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("escuchando",
			logger.String("addr", cfg.Server.Addr),
			logger.String("rp_id", cfg.WebAuthn.RPID),
			logger.String("storage", st.Driver()),
			logger.String("cache", cfg.Cache.Kind),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return app.Sessions.RunSweeper(gctx, cfg.Sessions.SweepInterval)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("apagando", logger.Any("timeout", cfg.Server.ShutdownTimeout))
		shCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shCtx)
	})
	return g.Wait()
}
