package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/obentoo/gamepush/internal/common/config"
	"github.com/obentoo/gamepush/internal/common/logger"
	"github.com/obentoo/gamepush/internal/common/version"
	"github.com/obentoo/gamepush/internal/delivery"
	"github.com/obentoo/gamepush/internal/history"
	"github.com/obentoo/gamepush/internal/monitor"
	"github.com/obentoo/gamepush/internal/pushconfig"
	"github.com/obentoo/gamepush/internal/render"
	"github.com/obentoo/gamepush/internal/telemetry"
)

// appOptions selects optional parts of the wiring.
type appOptions struct {
	// dryRun logs notices instead of sending them.
	dryRun bool
}

// app is the wired service: stores, adapters, delivery and the engine.
type app struct {
	settings *config.Settings
	state    *monitor.FileStateStore
	history  *history.Store
	push     *pushconfig.Store
	onebot   *delivery.OneBot
	engine   *monitor.Engine

	shutdownTelemetry func(context.Context) error
}

func newApp(ctx context.Context, settings *config.Settings, opts appOptions) (*app, error) {
	a := &app{settings: settings}

	shutdown, err := telemetry.Initialize(ctx, telemetry.Config{
		ServiceName:    "gamepush",
		ServiceVersion: version.Short(),
		Environment:    settings.Telemetry.Environment,
		Endpoint:       settings.Telemetry.Endpoint,
		Insecure:       settings.Telemetry.Insecure,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing telemetry: %w", err)
	}
	a.shutdownTelemetry = shutdown

	if a.state, err = monitor.NewFileStateStore(settings.StatePath()); err != nil {
		a.close()
		return nil, err
	}
	if a.history, err = history.Open(settings.HistoryPath()); err != nil {
		a.close()
		return nil, err
	}
	if a.push, err = pushconfig.Open(settings.PushConfig); err != nil {
		a.close()
		return nil, err
	}

	client := monitor.NewRetryableHTTPClientWithConfig(monitor.RetryConfig{Timeout: settings.HTTPTimeout})
	client.SetHeader("User-Agent", version.UserAgent())
	adapters, err := monitor.NewAdapters(client, monitor.Endpoints{
		HypConnectBase: settings.Upstream.HypConnectBase,
		SophonBase:     settings.Upstream.SophonBase,
		KuroIndexURL:   settings.Upstream.KuroIndexURL,
	})
	if err != nil {
		a.close()
		return nil, err
	}

	var sender monitor.Sender = delivery.LogSender{}
	if !opts.dryRun && len(settings.Bots) > 0 {
		bots := make([]delivery.Bot, 0, len(settings.Bots))
		for _, b := range settings.Bots {
			bots = append(bots, delivery.Bot{ID: b.ID, URL: b.URL, AccessToken: b.AccessToken})
		}
		a.onebot = delivery.NewOneBot(bots)
		sender = a.onebot
	} else if !opts.dryRun {
		logger.Warn("no bots configured, notices will only be logged")
	}

	var dispatchOpts []monitor.DispatcherOption
	if settings.Render.Endpoint != "" {
		dispatchOpts = append(dispatchOpts, monitor.WithRenderer(render.New(settings.Render.Endpoint, settings.Render.Timeout)))
	}

	a.engine = monitor.NewEngine(adapters, a.state, a.push, monitor.NewDispatcher(sender, dispatchOpts...),
		monitor.WithNamespace(settings.Namespace),
		monitor.WithHistory(a.history),
	)
	return a, nil
}

// openApp loads settings and wires the app, exiting on failure.
func openApp(ctx context.Context, opts appOptions) *app {
	settings, err := loadSettings()
	if err != nil {
		fail("loading settings: %v", err)
	}
	a, err := newApp(ctx, settings, opts)
	if err != nil {
		fail("starting gamepush: %v", err)
	}
	return a
}

func (a *app) close() {
	var errs []error
	if a.onebot != nil {
		errs = append(errs, a.onebot.Close())
	}
	if a.history != nil {
		errs = append(errs, a.history.Close())
	}
	if a.shutdownTelemetry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		errs = append(errs, a.shutdownTelemetry(ctx))
		cancel()
	}
	if err := errors.Join(errs...); err != nil {
		logger.Warn("shutdown: %v", err)
	}
}
