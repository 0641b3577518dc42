package main

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/netcomp-backend/internal/consumers/orderpaid"
	"github.com/angelmondragon/netcomp-backend/internal/engine"
	"github.com/angelmondragon/netcomp-backend/internal/notifications"
	"github.com/angelmondragon/netcomp-backend/pkg/bootstrap"
	"github.com/angelmondragon/netcomp-backend/pkg/db"
	"github.com/angelmondragon/netcomp-backend/pkg/migrate"
	"github.com/angelmondragon/netcomp-backend/pkg/notify"
	"github.com/angelmondragon/netcomp-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/netcomp-backend/pkg/pubsub"
	"github.com/angelmondragon/netcomp-backend/pkg/redis"
)

func main() {
	proc := bootstrap.Start("worker")
	defer proc.Close()
	cfg, logg := proc.Config, proc.Logger

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	proc.Must("database", err)
	proc.OnClose("database", dbClient.Close)

	proc.Must("dev migrations", migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient))

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	proc.Must("redis", err)
	proc.OnClose("redis", redisClient.Close)

	pubsubClient, err := pubsub.NewClient(context.Background(), cfg.GCP, cfg.PubSub, logg,
		cfg.PubSub.OrdersSubscription, cfg.PubSub.DomainSubscription)
	proc.Must("pubsub", err)
	proc.OnClose("pubsub client", pubsubClient.Close)

	ordersSub := pubsubClient.OrdersSubscription()
	if ordersSub == nil {
		proc.Must("orders subscription", errors.New("subscription not configured"))
	}
	domainSub := pubsubClient.DomainSubscription()
	if domainSub == nil {
		proc.Must("domain subscription", errors.New("subscription not configured"))
	}

	eng, err := engine.Build(cfg, dbClient, redisClient, prometheus.DefaultRegisterer, logg)
	proc.Must("services", err)

	manager, err := idempotency.NewManager(redisClient, cfg.Eventing.ConsumerIdempotencyTTL)
	proc.Must("idempotency manager", err)

	settlements, err := orderpaid.NewConsumer(ordersSub, eng.Commissions, eng.Plans, manager, logg)
	proc.Must("order paid consumer", err)

	notifier, err := notify.New(cfg.SMTP, logg)
	proc.Must("notifier", err)
	withdrawalNotices, err := notifications.NewConsumer(eng.Network, notifier, domainSub, manager, logg)
	proc.Must("notification consumer", err)

	service, err := NewService(ServiceParams{
		Logger: logg,
		Dependencies: []dependency{
			{name: "database", ping: dbClient.Ping},
			{name: "redis", ping: redisClient.Ping},
			{name: "pubsub", ping: pubsubClient.Ping},
		},
		Consumers: map[string]runner{
			"order-paid":    settlements,
			"notifications": withdrawalNotices,
		},
	})
	proc.Must("worker service", err)

	ctx, stop := proc.Context()
	defer stop()
	logg.Info(ctx, "worker ready")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		proc.Fatal(ctx, "worker failed", err)
	}
	logg.Info(ctx, "worker shutting down gracefully")
}
