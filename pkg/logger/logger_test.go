package logger

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func newBuffered(opts Options) (*Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	opts.Output = buf
	if opts.Format == "" {
		opts.Format = FormatJSON
	}
	if opts.ServiceName == "" {
		opts.ServiceName = "test"
	}
	return New(opts), buf
}

func TestErrorCarriesContextFields(t *testing.T) {
	log, buf := newBuffered(Options{Level: "debug", Instance: "web.1"})

	ctx := log.WithRequestID(context.Background(), "req-123")
	ctx = log.WithOrderID(ctx, "order-9")
	ctx = log.WithMemberID(ctx, "member-1")
	ctx = log.WithPlanVersion(ctx, 3)
	log.Error(ctx, "settlement failed", errors.New("boom"))

	out := buf.String()
	for _, want := range []string{
		`"request_id":"req-123"`,
		`"order_id":"order-9"`,
		`"member_id":"member-1"`,
		`"plan_version":3`,
		`"instance":"web.1"`,
		`"error":"boom"`,
		`"stack"`,
	} {
		assert.Contains(t, out, want)
	}
}

func TestFieldsDoNotLeakIntoParentContext(t *testing.T) {
	log, buf := newBuffered(Options{})

	parent := log.WithField(context.Background(), "step", "outer")
	_ = log.WithField(parent, "member_id", "m-1")
	log.Info(parent, "done")

	assert.Contains(t, buf.String(), `"step":"outer"`)
	assert.NotContains(t, buf.String(), "m-1")
}

func TestWarnStackToggle(t *testing.T) {
	loud, buf := newBuffered(Options{WarnStack: true})
	loud.Warn(context.Background(), "warny")
	assert.Contains(t, buf.String(), `"stack"`)

	quiet, buf := newBuffered(Options{})
	quiet.Warn(context.Background(), "warny")
	assert.NotContains(t, buf.String(), `"stack"`)
}

func TestDebugFilteredAtInfo(t *testing.T) {
	log, buf := newBuffered(Options{})
	log.Debug(context.Background(), "chatty")
	assert.Zero(t, buf.Len())
}

func TestLevelNameFiltersBelowIt(t *testing.T) {
	log, buf := newBuffered(Options{Level: "warn"})
	log.Info(context.Background(), "quiet")
	assert.Zero(t, buf.Len())

	log.Warn(context.Background(), "loud")
	assert.Contains(t, buf.String(), "loud")
}

func TestConsoleFormat(t *testing.T) {
	log, buf := newBuffered(Options{Format: FormatConsole})
	log.Info(context.Background(), "hello")
	assert.Contains(t, buf.String(), "hello")
	assert.NotContains(t, buf.String(), `"message"`)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.InfoLevel, ParseLevel(""))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("invalid"))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel(" WARN "))
	assert.Equal(t, zerolog.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, zerolog.Disabled, ParseLevel("disabled"))
}
