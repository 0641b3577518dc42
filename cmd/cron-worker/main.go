package main

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/netcomp-backend/internal/cron"
	"github.com/angelmondragon/netcomp-backend/internal/engine"
	"github.com/angelmondragon/netcomp-backend/pkg/bootstrap"
	"github.com/angelmondragon/netcomp-backend/pkg/db"
	"github.com/angelmondragon/netcomp-backend/pkg/locks"
	"github.com/angelmondragon/netcomp-backend/pkg/metrics"
	"github.com/angelmondragon/netcomp-backend/pkg/migrate"
	"github.com/angelmondragon/netcomp-backend/pkg/outbox"
	"github.com/angelmondragon/netcomp-backend/pkg/redis"
)

const cycleLockTTL = 10 * time.Minute

func main() {
	proc := bootstrap.Start("cron-worker")
	defer proc.Close()
	cfg, logg := proc.Config, proc.Logger

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	proc.Must("database", err)
	proc.OnClose("database", dbClient.Close)

	proc.Must("dev migrations", migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient))

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	proc.Must("redis", err)
	proc.OnClose("redis", redisClient.Close)

	eng, err := engine.Build(cfg, dbClient, redisClient, prometheus.DefaultRegisterer, logg)
	proc.Must("services", err)

	expiryJob, err := cron.NewWithdrawalExpiryJob(eng.Withdrawals, 0, logg)
	proc.Must("withdrawal expiry job", err)
	retentionJob, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:      logg,
		DB:          dbClient,
		Repository:  outbox.NewRepository(dbClient.DB()),
		MinAttempts: cfg.Outbox.MaxAttempts,
		Schedule:    cfg.Outbox.RetentionSchedule,
	})
	proc.Must("outbox retention job", err)

	cycleLocker, err := locks.NewRedisLocker(redisClient, cycleLockTTL)
	proc.Must("cron lock", err)

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: cron.NewRegistry(expiryJob, retentionJob),
		Locker:   cycleLocker,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Env:      cfg.App.Env,
	})
	proc.Must("cron service", err)

	ctx, stop := proc.Context()
	defer stop()
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		proc.Fatal(ctx, "cron worker stopped unexpectedly", err)
	}
	logg.Info(ctx, "cron worker shutting down gracefully")
}
