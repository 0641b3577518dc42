package main

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/netcomp-backend/pkg/bootstrap"
	"github.com/angelmondragon/netcomp-backend/pkg/db"
	"github.com/angelmondragon/netcomp-backend/pkg/metrics"
	"github.com/angelmondragon/netcomp-backend/pkg/migrate"
	"github.com/angelmondragon/netcomp-backend/pkg/outbox"
	"github.com/angelmondragon/netcomp-backend/pkg/outbox/registry"
	"github.com/angelmondragon/netcomp-backend/pkg/pubsub"
)

func main() {
	proc := bootstrap.Start("outbox-publisher")
	defer proc.Close()
	cfg, logg := proc.Config, proc.Logger

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	proc.Must("database", err)
	proc.OnClose("database", dbClient.Close)

	proc.Must("dev migrations", migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient))

	pubsubClient, err := pubsub.NewClient(context.Background(), cfg.GCP, cfg.PubSub, logg)
	proc.Must("pubsub", err)
	proc.OnClose("pubsub client", pubsubClient.Close)

	eventRegistry, err := registry.NewEventRegistry(cfg.PubSub)
	proc.Must("event registry", err)
	proc.Must("outbox topics", pubsubClient.CheckTopics(context.Background(), eventRegistry.Topics()...))

	service, err := NewService(ServiceParams{
		Config:        cfg,
		Logger:        logg,
		DB:            dbClient,
		PubSub:        pubsubClient,
		Repository:    outbox.NewRepository(dbClient.DB()),
		Registry:      eventRegistry,
		DLQRepository: outbox.NewDLQRepository(dbClient.DB()),
		Metrics:       metrics.NewOutboxMetrics(prometheus.DefaultRegisterer),
	})
	proc.Must("outbox publisher", err)

	ctx, stop := proc.Context()
	defer stop()
	logg.Info(ctx, "starting outbox publisher")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		proc.Fatal(ctx, "outbox publisher stopped unexpectedly", err)
	}
	logg.Info(ctx, "outbox publisher shutting down gracefully")
}
