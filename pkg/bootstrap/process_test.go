package bootstrap

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/netcomp-backend/pkg/logger"
)

func newProcess() (*Process, *int) {
	code := -1
	return &Process{Kind: "test", Logger: logger.Nop(), exit: func(c int) { code = c }}, &code
}

func TestCloseRunsNewestFirstOnce(t *testing.T) {
	p, _ := newProcess()
	var order []string
	p.OnClose("db", func() error { order = append(order, "db"); return nil })
	p.OnClose("redis", func() error { order = append(order, "redis"); return errors.New("boom") })
	p.OnClose("pubsub", func() error { order = append(order, "pubsub"); return nil })

	p.Close()
	p.Close()
	assert.Equal(t, []string{"pubsub", "redis", "db"}, order)
}

func TestMustIgnoresNil(t *testing.T) {
	p, code := newProcess()
	p.Must("database", nil)
	assert.Equal(t, -1, *code)
}

func TestMustClosesAndExitsOnError(t *testing.T) {
	p, code := newProcess()
	closed := false
	p.OnClose("db", func() error { closed = true; return nil })

	p.Must("redis", errors.New("connection refused"))
	assert.Equal(t, 1, *code)
	assert.True(t, closed)
}

func TestContextCarriesCancel(t *testing.T) {
	p, _ := newProcess()
	ctx, stop := p.Context()
	require.NoError(t, ctx.Err())
	stop()
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
}
