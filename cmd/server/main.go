package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	"carelink/internal/audit"
	"carelink/internal/draft"
	jwttoken "carelink/internal/jwt_token"
	"carelink/internal/permission"
	"carelink/internal/platform/config"
	"carelink/internal/platform/httpserver"
	"carelink/internal/platform/logger"
	platformmetrics "carelink/internal/platform/metrics"
	platformredis "carelink/internal/platform/redis"
	"carelink/internal/referral/handler"
	refmetrics "carelink/internal/referral/metrics"
	"carelink/internal/referral/service"
	"carelink/internal/referral/store"
	memorystore "carelink/internal/referral/store/memory"
	postgresstore "carelink/internal/referral/store/postgres"
	"carelink/internal/registry"
	httptransport "carelink/internal/transport/http"
)

// main wires dependencies and owns the process lifecycle. Business logic
// lives in the internal service packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	checks := map[string]httptransport.HealthChecker{}

	// Referral store: postgres when configured, in-memory otherwise.
	var referralStore store.Store
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			log.Error("open database", "error", err.Error())
			os.Exit(1)
		}
		defer db.Close()
		pg := postgresstore.New(db)
		if err := pg.Migrate(ctx); err != nil {
			log.Error("migrate database", "error", err.Error())
			os.Exit(1)
		}
		referralStore = pg
		checks["database"] = db.Ping
		log.Info("using postgres referral store")
	} else {
		referralStore = memorystore.New()
		log.Warn("no database configured, using in-memory referral store")
	}

	rdb, err := platformredis.New(cfg.Redis)
	if err != nil {
		log.Error("connect redis", "error", err.Error())
		os.Exit(1)
	}
	if rdb != nil {
		defer rdb.Close()
		checks["redis"] = func() error { return rdb.Health(context.Background()) }
	}

	// Client registry: external HTTP service, cached in redis when available.
	var clientRegistry registry.Registry
	switch {
	case cfg.Registry.BaseURL == "":
		log.Warn("no registry configured, using empty in-memory registry")
		clientRegistry = registry.NewInMemory()
	case rdb != nil:
		clientRegistry = registry.NewCached(
			registry.NewHTTP(cfg.Registry.BaseURL, registry.WithHTTPLogger(log)),
			rdb, cfg.Registry.CacheTTL, log)
	default:
		clientRegistry = registry.NewHTTP(cfg.Registry.BaseURL, registry.WithHTTPLogger(log))
	}

	// Async audit mirror. The in-record audit log is authoritative; this
	// pipeline only fans committed entries out to observers.
	mirror := audit.NewMirror(256, log)
	var sinks []audit.Sink
	if len(cfg.Audit.Brokers) > 0 {
		kafkaSink, err := audit.NewKafkaSink(cfg.Audit.Brokers, cfg.Audit.Topic)
		if err != nil {
			log.Error("connect kafka", "error", err.Error())
			os.Exit(1)
		}
		defer kafkaSink.Close()
		sinks = append(sinks, kafkaSink)
		log.Info("audit kafka sink enabled", "topic", cfg.Audit.Topic)
	}
	worker := audit.NewWorker(mirror.Inbox(), log, sinks...)

	referralMetrics := refmetrics.New()
	httpMetrics := platformmetrics.New()

	referralService := service.New(referralStore, clientRegistry, permission.NewGate(),
		service.WithLogger(log),
		service.WithMirror(mirror),
		service.WithMetrics(referralMetrics),
		service.WithOverdueAfter(cfg.OverdueAfter),
	)

	jwtService := jwttoken.NewJWTService(cfg.JWTSigningKey, cfg.JWTIssuer, cfg.JWTAudience)
	jwtValidator := jwttoken.NewJWTServiceAdapter(jwtService)

	modules := []httptransport.Registrar{
		handler.New(referralService, log, httpMetrics, jwtValidator),
	}
	if rdb != nil {
		drafts := draft.NewStore(rdb.Client, cfg.DraftTTL)
		modules = append(modules, draft.NewHandler(drafts, log, jwtValidator))
	}

	router := httptransport.NewRouter(checks, modules...)
	srv := httpserver.New(cfg.Addr, router)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting carelink", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return worker.Run(ctx)
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("server exited", "error", err.Error())
		os.Exit(1)
	}
	log.Info("shutdown complete")
}
