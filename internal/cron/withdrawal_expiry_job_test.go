package cron

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/netcomp-backend/pkg/logger"
)

type fakeExpirer struct {
	limit int
	err   error
}

func (f *fakeExpirer) ExpireOverdue(_ context.Context, limit int) (int, error) {
	f.limit = limit
	return 3, f.err
}

func TestWithdrawalExpiryJobUsesDefaultBatch(t *testing.T) {
	expirer := &fakeExpirer{}
	job, err := NewWithdrawalExpiryJob(expirer, 0, logger.Nop())
	require.NoError(t, err)

	assert.Equal(t, "withdrawal-expiry", job.Name())
	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, defaultExpiryBatch, expirer.limit)
}

func TestWithdrawalExpiryJobWrapsErrors(t *testing.T) {
	job, err := NewWithdrawalExpiryJob(&fakeExpirer{err: errors.New("db down")}, 50, logger.Nop())
	require.NoError(t, err)
	assert.ErrorContains(t, job.Run(context.Background()), "db down")
}
