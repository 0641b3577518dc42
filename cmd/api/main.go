package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/angelmondragon/netcomp-backend/api/routes"
	"github.com/angelmondragon/netcomp-backend/internal/engine"
	"github.com/angelmondragon/netcomp-backend/pkg/bootstrap"
	"github.com/angelmondragon/netcomp-backend/pkg/db"
	"github.com/angelmondragon/netcomp-backend/pkg/metrics"
	"github.com/angelmondragon/netcomp-backend/pkg/migrate"
	"github.com/angelmondragon/netcomp-backend/pkg/redis"
)

const shutdownTimeout = 15 * time.Second

func main() {
	proc := bootstrap.Start("api")
	defer proc.Close()
	cfg, logg := proc.Config, proc.Logger

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	proc.Must("database", err)
	proc.OnClose("database", dbClient.Close)

	proc.Must("dev migrations", migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient))

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	proc.Must("redis", err)
	proc.OnClose("redis", redisClient.Close)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	eng, err := engine.Build(cfg, dbClient, redisClient, registry, logg)
	proc.Must("services", err)

	handler := routes.NewRouter(cfg, logg, routes.Infra{
		DB:          dbClient,
		Redis:       redisClient,
		Idempotency: redisClient,
		Gatherer:    registry,
		HTTPMetrics: metrics.NewHTTPMetrics(registry),
	}, routes.Services{
		Plans:       eng.Plans,
		Network:     eng.Network,
		Tree:        eng.Tree,
		Phase:       eng.Phase,
		Wallet:      eng.Wallet,
		Commissions: eng.Commissions,
		Withdrawals: eng.Withdrawals,
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := proc.Context()
	defer stop()
	ctx = logg.WithField(ctx, "addr", server.Addr)
	logg.Info(ctx, "starting api server")

	serveErr := make(chan error, 1)
	go func() { serveErr <- server.ListenAndServe() }()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			proc.Fatal(ctx, "api server stopped unexpectedly", err)
		}
	case <-ctx.Done():
		logg.Info(ctx, "shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "api server shutdown incomplete", err)
		}
	}
}
