package main

import (
	"context"
	"errors"

	"github.com/angelmondragon/netcomp-backend/internal/analytics/router"
	"github.com/angelmondragon/netcomp-backend/internal/analytics/types"
	"github.com/angelmondragon/netcomp-backend/internal/analytics/worker"
	"github.com/angelmondragon/netcomp-backend/internal/analytics/writer"
	"github.com/angelmondragon/netcomp-backend/pkg/bigquery"
	"github.com/angelmondragon/netcomp-backend/pkg/bootstrap"
	"github.com/angelmondragon/netcomp-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/netcomp-backend/pkg/pubsub"
	"github.com/angelmondragon/netcomp-backend/pkg/redis"
)

func main() {
	proc := bootstrap.Start("analytics-worker")
	defer proc.Close()
	cfg, logg := proc.Config, proc.Logger
	ctx := context.Background()

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	proc.Must("redis", err)
	proc.OnClose("redis", redisClient.Close)

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg, cfg.PubSub.AnalyticsSubscription)
	proc.Must("pubsub", err)
	proc.OnClose("pubsub client", pubsubClient.Close)

	bqClient, err := bigquery.NewClient(ctx, cfg.GCP, cfg.BigQuery, []bigquery.TableSpec{{
		Name:           cfg.BigQuery.SettlementEventsTable,
		Schema:         types.SettlementEventSchema,
		PartitionField: types.SettlementEventPartitionField,
	}}, logg)
	proc.Must("bigquery client", err)
	proc.OnClose("bigquery client", bqClient.Close)

	subscription := pubsubClient.AnalyticsSubscription()
	if subscription == nil {
		proc.Must("analytics subscription", errors.New("subscription not configured"))
	}

	manager, err := idempotency.NewManager(redisClient, cfg.Eventing.ConsumerIdempotencyTTL)
	proc.Must("idempotency manager", err)

	settlementWriter, err := writer.New(bqClient, writer.Config{
		Table:     cfg.BigQuery.SettlementEventsTable,
		BatchSize: cfg.BigQuery.BatchSize,
	})
	proc.Must("settlement bigquery writer", err)
	proc.OnClose("buffered settlement rows", func() error {
		return settlementWriter.Flush(context.Background())
	})

	routingHandler, err := router.NewRouter(settlementWriter, logg, nil)
	proc.Must("analytics router", err)

	service, err := worker.NewService(subscription, routingHandler, manager, logg)
	proc.Must("analytics worker service", err)

	runCtx, stop := proc.Context()
	defer stop()
	logg.Info(runCtx, "analytics worker ready")

	if err := service.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		proc.Fatal(runCtx, "analytics worker failed", err)
	}
}
