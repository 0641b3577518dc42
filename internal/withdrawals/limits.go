package withdrawals

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/netcomp-backend/pkg/db/models"
	"github.com/angelmondragon/netcomp-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/netcomp-backend/pkg/errors"
)

// Limits are the member-level withdrawal allowances.
type Limits struct {
	DailyCents   int64
	MonthlyCents int64
}

// LimitCheck is the outcome of evaluating every creation guard. When Allowed
// is false, Reason names the first guard that failed and the cents fields
// describe that guard.
type LimitCheck struct {
	Allowed        bool                        `json:"allowed"`
	Reason         enums.WithdrawalLimitReason `json:"reason,omitempty"`
	LimitCents     int64                       `json:"limitCents"`
	UsedCents      int64                       `json:"usedCents"`
	RemainingCents int64                       `json:"remainingCents"`
	BalanceCents   int64                       `json:"balanceCents"`
	RequestedCents int64                       `json:"requestedCents"`
}

// Error converts a failed check into INSUFFICIENT_FUNDS when the balance is
// the blocker and LIMIT_EXCEEDED for every other guard.
func (c LimitCheck) Error() error {
	if c.Allowed {
		return nil
	}
	if c.Reason == enums.LimitReasonInsufficientFunds {
		return pkgerrors.New(pkgerrors.CodeInsufficientFunds, "insufficient wallet balance").
			WithDetails(map[string]any{
				"reason":         c.Reason,
				"balanceCents":   c.BalanceCents,
				"requestedCents": c.RequestedCents,
				"shortfallCents": c.RequestedCents - c.BalanceCents,
			})
	}
	return pkgerrors.New(pkgerrors.CodeLimitExceeded, "withdrawal not allowed").
		WithDetails(map[string]any{
			"reason":         c.Reason,
			"limitCents":     c.LimitCents,
			"usedCents":      c.UsedCents,
			"remainingCents": c.RemainingCents,
		})
}

func denied(reason enums.WithdrawalLimitReason, limit, used int64) LimitCheck {
	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}
	return LimitCheck{Reason: reason, LimitCents: limit, UsedCents: used, RemainingCents: remaining}
}

func dayBounds(now time.Time) (time.Time, time.Time) {
	now = now.UTC()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 0, 1)
}

func monthBounds(now time.Time) (time.Time, time.Time) {
	now = now.UTC()
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}

// evaluate runs the creation guards in order. Stale holds still on the ledger
// count as available because they are released on the next write.
func (s *service) evaluate(ctx context.Context, tx *gorm.DB, userID, walletID uuid.UUID, amount int64) (LimitCheck, *models.PayoutWallet, error) {
	repo := s.repo.WithTx(tx)
	now := s.now().UTC()

	wallet, err := repo.FindWallet(ctx, walletID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return LimitCheck{}, nil, pkgerrors.New(pkgerrors.CodeNotFound, "payout wallet not found")
		}
		return LimitCheck{}, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payout wallet")
	}
	if !wallet.Active {
		return denied(enums.LimitReasonWalletInactive, 0, 0), wallet, nil
	}
	if amount < wallet.MinAmountCents {
		return denied(enums.LimitReasonBelowMinimum, wallet.MinAmountCents, amount), wallet, nil
	}
	if wallet.MaxAmountCents > 0 && amount > wallet.MaxAmountCents {
		return denied(enums.LimitReasonAboveMaximum, wallet.MaxAmountCents, amount), wallet, nil
	}

	inFlight, err := repo.CountInFlight(ctx, userID, now)
	if err != nil {
		return LimitCheck{}, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count open withdrawals")
	}
	if inFlight > 0 {
		return denied(enums.LimitReasonRequestInFlight, 1, inFlight), wallet, nil
	}

	dayFrom, dayTo := dayBounds(now)
	dailyUsed, err := repo.SumUsage(ctx, userID, dayFrom, dayTo, now)
	if err != nil {
		return LimitCheck{}, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum daily withdrawals")
	}
	if dailyUsed+amount > s.limits.DailyCents {
		return denied(enums.LimitReasonDailyLimit, s.limits.DailyCents, dailyUsed), wallet, nil
	}

	monthFrom, monthTo := monthBounds(now)
	monthlyUsed, err := repo.SumUsage(ctx, userID, monthFrom, monthTo, now)
	if err != nil {
		return LimitCheck{}, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum monthly withdrawals")
	}
	if monthlyUsed+amount > s.limits.MonthlyCents {
		return denied(enums.LimitReasonMonthlyLimit, s.limits.MonthlyCents, monthlyUsed), wallet, nil
	}

	balance, err := s.wallet.BalanceTx(ctx, tx, userID)
	if err != nil {
		return LimitCheck{}, nil, err
	}
	stale, err := repo.ListStale(ctx, userID, now)
	if err != nil {
		return LimitCheck{}, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load expired withdrawals")
	}
	for _, request := range stale {
		balance += request.AmountCents
	}
	if amount > balance {
		check := denied(enums.LimitReasonInsufficientFunds, balance, 0)
		check.BalanceCents = balance
		check.RequestedCents = amount
		return check, wallet, nil
	}

	remaining := s.limits.DailyCents - dailyUsed
	if monthly := s.limits.MonthlyCents - monthlyUsed; monthly < remaining {
		remaining = monthly
	}
	return LimitCheck{
		Allowed:        true,
		RequestedCents: amount,
		LimitCents:     s.limits.DailyCents,
		UsedCents:      dailyUsed,
		RemainingCents: remaining,
		BalanceCents:   balance,
	}, wallet, nil
}
