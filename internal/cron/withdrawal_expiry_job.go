package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/netcomp-backend/pkg/logger"
)

const defaultExpiryBatch = 200

type overdueExpirer interface {
	ExpireOverdue(ctx context.Context, limit int) (int, error)
}

// NewWithdrawalExpiryJob persists expiry for withdrawal requests nobody has
// touched since their TTL passed, releasing the held funds. Reads already
// treat such requests as expired; this keeps stored state and balances in
// step.
func NewWithdrawalExpiryJob(svc overdueExpirer, batch int, logg *logger.Logger) (Job, error) {
	if svc == nil {
		return nil, fmt.Errorf("withdrawal service required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if batch <= 0 {
		batch = defaultExpiryBatch
	}
	return &withdrawalExpiryJob{svc: svc, batch: batch, logg: logg}, nil
}

type withdrawalExpiryJob struct {
	svc   overdueExpirer
	batch int
	logg  *logger.Logger
}

func (j *withdrawalExpiryJob) Name() string { return "withdrawal-expiry" }

func (j *withdrawalExpiryJob) Run(ctx context.Context) error {
	expired, err := j.svc.ExpireOverdue(ctx, j.batch)
	if err != nil {
		return fmt.Errorf("expire withdrawals: %w", err)
	}
	j.logg.Info(j.logg.WithField(ctx, "expired", expired), "withdrawal expiry sweep complete")
	return nil
}
