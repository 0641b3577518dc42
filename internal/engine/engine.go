package engine

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/netcomp-backend/internal/commissions"
	"github.com/angelmondragon/netcomp-backend/internal/network"
	"github.com/angelmondragon/netcomp-backend/internal/phase"
	"github.com/angelmondragon/netcomp-backend/internal/tree"
	"github.com/angelmondragon/netcomp-backend/internal/wallet"
	"github.com/angelmondragon/netcomp-backend/internal/withdrawals"
	"github.com/angelmondragon/netcomp-backend/pkg/compplan"
	"github.com/angelmondragon/netcomp-backend/pkg/config"
	"github.com/angelmondragon/netcomp-backend/pkg/db"
	"github.com/angelmondragon/netcomp-backend/pkg/locks"
	"github.com/angelmondragon/netcomp-backend/pkg/logger"
	"github.com/angelmondragon/netcomp-backend/pkg/metrics"
	"github.com/angelmondragon/netcomp-backend/pkg/outbox"
	"github.com/angelmondragon/netcomp-backend/pkg/redis"
)

// Engine holds every domain service, wired against one database and one
// Redis client. Binaries build it once at startup.
type Engine struct {
	Plans       compplan.Source
	Network     network.Service
	Tree        *tree.Builder
	Phase       phase.Service
	Wallet      wallet.Service
	Commissions commissions.Service
	Withdrawals withdrawals.Service
	Outbox      *outbox.Service
	Metrics     *metrics.EngineMetrics
}

// Build wires the services. reg may be nil when the caller does not export
// metrics.
func Build(cfg *config.Config, dbClient *db.Client, redisClient *redis.Client, reg prometheus.Registerer, logg *logger.Logger) (*Engine, error) {
	if cfg == nil || dbClient == nil || redisClient == nil {
		return nil, fmt.Errorf("config, database and redis are required")
	}
	systemActor, err := uuid.Parse(cfg.Commission.SystemActorID)
	if err != nil {
		return nil, fmt.Errorf("parse system actor id: %w", err)
	}

	var engineMetrics *metrics.EngineMetrics
	if reg != nil {
		engineMetrics = metrics.NewEngineMetrics(reg)
	}

	var plans compplan.Source = compplan.NewRepository(dbClient.DB())
	if cfg.Plan.File != "" {
		plans = compplan.NewFileSource(cfg.Plan.File)
	}

	publisher := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)

	networkSvc, err := network.NewService(network.NewRepository(dbClient.DB()))
	if err != nil {
		return nil, fmt.Errorf("network service: %w", err)
	}
	builder, err := tree.NewBuilder(networkSvc, redisClient, logg, tree.Options{
		DefaultDepth: cfg.Tree.DefaultDepth,
		MaxDepthCap:  cfg.Tree.MaxDepthCap,
		CacheTTL:     cfg.Tree.CacheTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("tree builder: %w", err)
	}
	classifier, err := phase.NewClassifier(builder, networkSvc)
	if err != nil {
		return nil, fmt.Errorf("phase classifier: %w", err)
	}
	walletSvc, err := wallet.NewService(wallet.NewRepository(dbClient.DB()), dbClient, publisher, engineMetrics)
	if err != nil {
		return nil, fmt.Errorf("wallet service: %w", err)
	}
	phaseSvc, err := phase.NewService(classifier, phase.NewRepository(dbClient.DB()), walletSvc, dbClient, publisher)
	if err != nil {
		return nil, fmt.Errorf("phase service: %w", err)
	}

	commissionSvc, err := commissions.NewService(commissions.Deps{
		Repo:        commissions.NewRepository(dbClient.DB()),
		Members:     networkSvc,
		Tiers:       phaseSvc,
		Wallet:      walletSvc,
		Tx:          dbClient,
		Outbox:      publisher,
		Metrics:     engineMetrics,
		Logger:      logg,
		SystemActor: systemActor,
	})
	if err != nil {
		return nil, fmt.Errorf("commission service: %w", err)
	}

	locker, err := locks.NewRedisLocker(redisClient, cfg.Withdrawal.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("withdrawal locker: %w", err)
	}
	withdrawalSvc, err := withdrawals.NewService(withdrawals.Deps{
		Repo:    withdrawals.NewRepository(dbClient.DB()),
		Wallet:  walletSvc,
		Locker:  locker,
		Tx:      dbClient,
		Outbox:  publisher,
		Metrics: engineMetrics,
		Logger:  logg,
		Limits: withdrawals.Limits{
			DailyCents:   cfg.Withdrawal.DailyLimitCents,
			MonthlyCents: cfg.Withdrawal.MonthlyLimitCents,
		},
		RequestTTL:  cfg.Withdrawal.RequestTTL,
		SystemActor: systemActor,
	})
	if err != nil {
		return nil, fmt.Errorf("withdrawal service: %w", err)
	}

	return &Engine{
		Plans:       plans,
		Network:     networkSvc,
		Tree:        builder,
		Phase:       phaseSvc,
		Wallet:      walletSvc,
		Commissions: commissionSvc,
		Withdrawals: withdrawalSvc,
		Outbox:      publisher,
		Metrics:     engineMetrics,
	}, nil
}
