package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Settlement outcomes.
const (
	OutcomeSettled          = "settled"
	OutcomeAlreadyProcessed = "already_processed"
	OutcomeConfigInvalid    = "configuration_invalid"
	OutcomeFailed           = "failed"
)

// EngineMetrics records commission, wallet and withdrawal activity. A nil
// *EngineMetrics is a valid no-op recorder.
type EngineMetrics struct {
	settlements     *prometheus.CounterVec
	settleDuration  *prometheus.HistogramVec
	commissionCents *prometheus.CounterVec
	walletTxns      *prometheus.CounterVec
	withdrawals     *prometheus.CounterVec
}

// NewEngineMetrics registers the engine metrics on the provided registerer.
func NewEngineMetrics(reg prometheus.Registerer) *EngineMetrics {
	if reg == nil {
		return &EngineMetrics{}
	}
	settlements := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "netcomp_settlements_total",
		Help: "Order settlements by outcome.",
	}, []string{"outcome"})
	settleDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "netcomp_settlement_duration_seconds",
		Help:    "Duration of order settlements in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})
	commissionCents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "netcomp_commission_cents_total",
		Help: "Commission cents distributed by upline level.",
	}, []string{"level"})
	walletTxns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "netcomp_wallet_transactions_total",
		Help: "Wallet ledger rows appended by reason.",
	}, []string{"reason"})
	withdrawals := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "netcomp_withdrawal_transitions_total",
		Help: "Withdrawal request transitions by resulting status.",
	}, []string{"status"})
	reg.MustRegister(settlements, settleDuration, commissionCents, walletTxns, withdrawals)
	return &EngineMetrics{
		settlements:     settlements,
		settleDuration:  settleDuration,
		commissionCents: commissionCents,
		walletTxns:      walletTxns,
		withdrawals:     withdrawals,
	}
}

// ObserveSettlement counts one settlement attempt and its duration.
func (m *EngineMetrics) ObserveSettlement(outcome string, duration time.Duration) {
	if m == nil || m.settlements == nil {
		return
	}
	label := normalizeLabel(outcome)
	m.settlements.WithLabelValues(label).Inc()
	m.settleDuration.WithLabelValues(label).Observe(duration.Seconds())
}

// AddCommission adds distributed cents for an upline level.
func (m *EngineMetrics) AddCommission(level int, cents int64) {
	if m == nil || m.commissionCents == nil || cents <= 0 {
		return
	}
	m.commissionCents.WithLabelValues(strconv.Itoa(level)).Add(float64(cents))
}

// IncWalletTransaction counts an appended ledger row.
func (m *EngineMetrics) IncWalletTransaction(reason string) {
	if m == nil || m.walletTxns == nil {
		return
	}
	m.walletTxns.WithLabelValues(normalizeLabel(reason)).Inc()
}

// IncWithdrawalTransition counts a withdrawal request reaching status.
func (m *EngineMetrics) IncWithdrawalTransition(status string) {
	if m == nil || m.withdrawals == nil {
		return
	}
	m.withdrawals.WithLabelValues(normalizeLabel(status)).Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
