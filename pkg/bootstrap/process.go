// Package bootstrap holds the startup steps shared by every long-running
// binary: environment, config, logger, shutdown signals and teardown.
package bootstrap

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/netcomp-backend/pkg/config"
	"github.com/angelmondragon/netcomp-backend/pkg/instance"
	"github.com/angelmondragon/netcomp-backend/pkg/logger"
)

type closer struct {
	name string
	fn   func() error
}

// Process is one running binary. Resources registered with OnClose are
// released in reverse order by Close, including on fatal startup errors.
type Process struct {
	Kind   string
	Config *config.Config
	Logger *logger.Logger

	closers []closer
	exit    func(int)
}

// Start loads .env and config and builds the process logger. A config that
// does not load ends the process.
func Start(kind string) *Process {
	p := &Process{Kind: kind, Logger: logger.New(logger.Options{ServiceName: kind}), exit: os.Exit}
	if err := godotenv.Load(); err != nil {
		p.Logger.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	p.Must("config", err)
	cfg.Service.Kind = kind
	p.Config = cfg

	p.Logger = logger.New(logger.Options{
		ServiceName: kind,
		Instance:    instance.GetID(),
		Level:       cfg.App.LogLevel,
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})
	return p
}

// Must ends the process when a required resource failed to come up.
func (p *Process) Must(resource string, err error) {
	if err == nil {
		return
	}
	p.Fatal(context.Background(), fmt.Sprintf("resource not working: %s", resource), err)
}

// Fatal logs err, releases what was opened so far and exits non-zero.
func (p *Process) Fatal(ctx context.Context, msg string, err error) {
	p.Logger.Error(ctx, msg, err)
	p.Close()
	p.exit(1)
}

func (p *Process) OnClose(name string, fn func() error) {
	p.closers = append(p.closers, closer{name: name, fn: fn})
}

// Close releases registered resources, newest first. It is safe to call
// more than once.
func (p *Process) Close() {
	for i := len(p.closers) - 1; i >= 0; i-- {
		c := p.closers[i]
		if err := c.fn(); err != nil {
			p.Logger.Error(context.Background(), "error closing "+c.name, err)
		}
	}
	p.closers = nil
}

// Context is canceled on SIGINT or SIGTERM and carries the env and service
// kind as log fields.
func (p *Process) Context() (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	fields := map[string]any{"serviceKind": p.Kind}
	if p.Config != nil {
		fields["env"] = p.Config.App.Env
	}
	return p.Logger.WithFields(ctx, fields), stop
}
