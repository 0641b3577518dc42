package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/netcomp-backend/api/controllers"
	"github.com/angelmondragon/netcomp-backend/api/middleware"
	"github.com/angelmondragon/netcomp-backend/internal/commissions"
	"github.com/angelmondragon/netcomp-backend/internal/network"
	"github.com/angelmondragon/netcomp-backend/internal/phase"
	"github.com/angelmondragon/netcomp-backend/internal/tree"
	"github.com/angelmondragon/netcomp-backend/internal/wallet"
	"github.com/angelmondragon/netcomp-backend/internal/withdrawals"
	"github.com/angelmondragon/netcomp-backend/pkg/compplan"
	"github.com/angelmondragon/netcomp-backend/pkg/config"
	"github.com/angelmondragon/netcomp-backend/pkg/db"
	"github.com/angelmondragon/netcomp-backend/pkg/enums"
	"github.com/angelmondragon/netcomp-backend/pkg/logger"
	"github.com/angelmondragon/netcomp-backend/pkg/metrics"
	"github.com/angelmondragon/netcomp-backend/pkg/redis"
)

// Services groups everything the HTTP surface calls into.
type Services struct {
	Plans       compplan.Source
	Network     network.Service
	Tree        *tree.Builder
	Phase       phase.Service
	Wallet      wallet.Service
	Commissions commissions.Service
	Withdrawals withdrawals.Service
}

// Infra groups the backing clients used by middleware and probes.
type Infra struct {
	DB          db.Pinger
	Redis       redis.Pinger
	Idempotency redis.IdempotencyStore
	Gatherer    prometheus.Gatherer
	HTTPMetrics *metrics.HTTPMetrics
}

func NewRouter(cfg *config.Config, logg *logger.Logger, infra Infra, svc Services) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.CORS(cfg.App.CORSOrigins),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.Metrics(infra.HTTPMetrics),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg,
			controllers.Dependency{Name: "postgres", Pinger: infra.DB},
			controllers.Dependency{Name: "redis", Pinger: infra.Redis},
		))
	})

	if infra.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(infra.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RateLimit(cfg.App.RateLimitRPS, cfg.App.RateLimitBurst, logg))

		r.Group(func(r chi.Router) {
			r.Use(middleware.Idempotency(infra.Idempotency, logg))

			r.Get("/members/{memberId}/downline", controllers.MemberDownline(svc.Network, svc.Tree, cfg.Tree, logg))
			r.Get("/members/{memberId}/phase", controllers.MemberPhase(svc.Phase, svc.Plans, logg))

			r.Get("/wallet", controllers.WalletBalance(svc.Wallet, logg))
			r.Get("/wallet/transactions", controllers.WalletTransactions(svc.Wallet, logg))
			r.Get("/commissions", controllers.MemberCommissions(svc.Commissions, logg))

			r.Get("/payout-wallets", controllers.PayoutWallets(svc.Withdrawals, logg))
			r.Get("/withdrawals/limits", controllers.WithdrawalLimits(svc.Withdrawals, logg))
			r.Post("/withdrawals", controllers.WithdrawalCreate(svc.Withdrawals, logg))
			r.Get("/withdrawals", controllers.WithdrawalList(svc.Withdrawals, logg))
			r.Get("/withdrawals/{requestId}", controllers.WithdrawalGet(svc.Withdrawals, logg))
			r.Post("/withdrawals/{requestId}/proof", controllers.WithdrawalAttachProof(svc.Withdrawals, logg))
		})

		r.With(middleware.RequireRole(logg, enums.MemberRoleSystem, enums.MemberRoleAdmin)).
			Post("/webhooks/orders/paid", controllers.OrderPaidWebhook(svc.Commissions, svc.Plans, logg))
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireRole(logg, enums.MemberRoleAdmin))

		r.Group(func(r chi.Router) {
			r.Use(middleware.Idempotency(infra.Idempotency, logg))

			r.Post("/members", controllers.AdminEnrollMember(svc.Network, logg))
			r.Put("/members/{memberId}/active", controllers.AdminSetMemberActive(svc.Network, logg))
			r.Put("/members/{memberId}/phase-override", controllers.AdminSetPhaseOverride(svc.Phase, svc.Plans, logg))
			r.Delete("/members/{memberId}/phase-override", controllers.AdminClearPhaseOverride(svc.Phase, logg))
			r.Post("/members/{memberId}/rewards", controllers.AdminAwardTierRewards(svc.Phase, svc.Plans, logg))

			r.Post("/withdrawals/{requestId}/approve", controllers.AdminWithdrawalApprove(svc.Withdrawals, logg))
			r.Post("/withdrawals/{requestId}/reject", controllers.AdminWithdrawalReject(svc.Withdrawals, logg))

			r.Get("/payout-wallets", controllers.AdminPayoutWallets(svc.Withdrawals, logg))
			r.Post("/payout-wallets", controllers.AdminPayoutWalletCreate(svc.Withdrawals, logg))

			r.Get("/orders/{orderId}/commissions", controllers.AdminOrderCommissions(svc.Commissions, logg))
		})
	})

	return r
}
