// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/invowk/guildhost/internal/adminapi"
	"github.com/invowk/guildhost/internal/config"
	"github.com/invowk/guildhost/internal/console"
	"github.com/invowk/guildhost/internal/dag"
	"github.com/invowk/guildhost/internal/dispatch"
	"github.com/invowk/guildhost/internal/gateway"
	"github.com/invowk/guildhost/internal/gateway/socketio"
	"github.com/invowk/guildhost/internal/issue"
	"github.com/invowk/guildhost/internal/lifecycle"
	"github.com/invowk/guildhost/internal/modules"
	"github.com/invowk/guildhost/internal/modules/admin"
	"github.com/invowk/guildhost/internal/services"
	"github.com/invowk/guildhost/pkg/botmod"
)

const shutdownTimeout = 30 * time.Second

// errStaleHeartbeat fails the readiness check while the gateway is silent.
var errStaleHeartbeat = errors.New("gateway heartbeat is stale")

func newServeCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Connect to the gateway and serve guilds",
		Long: `Connect to the chat gateway and serve every guild that talks to the bot.

Besides the gateway connection, serve starts the admin HTTP API and the SSH
operator console when they are enabled. It runs until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := app.LoadConfig(cmd.Context())
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

// serve builds the bot, runs it until ctx ends and tears it down in reverse.
func serve(ctx context.Context, cfg *config.Config) error {
	logger := log.Default().WithPrefix("serve")

	cat, err := buildCatalog()
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	repo, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer func() {
		if err := repo.Close(); err != nil {
			logger.Warn("closing store", "err", err)
		}
	}()

	relay := &handlerRelay{}
	gwMetrics := gateway.NewMetrics(registry)
	conn, err := socketio.New(cfg.Gateway.URL, relay,
		socketio.WithNamespace(cfg.Gateway.Namespace),
		socketio.WithToken(cfg.Gateway.Token),
		socketio.WithMetrics(gwMetrics),
	)
	if err != nil {
		return issue.NewErrorContext().
			WithOperation("configure gateway").
			WithResource(cfg.Gateway.URL).
			WithIssue(issue.GatewayUnreachableId).
			Wrap(err).
			BuildError()
	}

	container := services.New()
	manager, err := lifecycle.New(cat, repo, container,
		lifecycle.WithSender(conn),
		lifecycle.WithProtectedModule(modules.Protected),
		lifecycle.WithDefaults(cfg.Defaults.CommandPrefix, cfg.Defaults.UnknownCommandReply),
		lifecycle.WithMetrics(lifecycle.NewMetrics(registry)),
	)
	if err != nil {
		var cycle *dag.CycleError
		if errors.As(err, &cycle) {
			return issue.NewErrorContext().
				WithOperation("build module graph").
				WithIssue(issue.DependencyCycleId).
				Wrap(err).
				BuildError()
		}
		return err
	}
	warnMissingDependencies(logger, manager)

	services.Provide(container, admin.ManagerKey, admin.Manager(manager))
	services.Provide(container, admin.InfoKey, admin.Info{
		Name:        cfg.Bot.Name,
		Version:     cfg.Bot.Version,
		Author:      cfg.Bot.Author,
		Description: cfg.Bot.Description,
	})

	disp, err := dispatch.New(manager,
		dispatch.WithSender(conn),
		dispatch.WithWorkers(cfg.Dispatch.Workers),
		dispatch.WithQueueCapacity(cfg.Dispatch.QueueCapacity),
		dispatch.WithHandlerTimeout(cfg.Dispatch.HandlerTimeout),
		dispatch.WithHelpCommand(admin.HelpCommand),
		dispatch.WithMetrics(dispatch.NewMetrics(registry)),
	)
	if err != nil {
		return err
	}
	relay.install(disp)

	watchdog := gateway.NewWatchdog(conn,
		gateway.WithHeartbeat(cfg.Gateway.HeartbeatInterval, cfg.Gateway.HeartbeatTimeout),
		gateway.WithReconnectPolicy(cfg.Gateway.ReconnectAttempts, cfg.Gateway.ReconnectDelay),
		gateway.WithWatchdogMetrics(gwMetrics),
	)
	conn.OnHeartbeat(watchdog.Ack)

	// Teardown runs in reverse start order from here on.
	var stops []func()
	defer func() {
		for i := len(stops) - 1; i >= 0; i-- {
			stops[i]()
		}
	}()
	stops = append(stops, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		drainAndShutdown(shutdownCtx, logger, disp, manager)
	})

	if err := conn.Connect(ctx); err != nil {
		return issue.NewErrorContext().
			WithOperation("connect to gateway").
			WithResource(cfg.Gateway.URL).
			WithIssue(issue.GatewayUnreachableId).
			Wrap(err).
			BuildError()
	}
	stops = append(stops, func() { _ = conn.Close() })

	if err := watchdog.Start(ctx); err != nil {
		return fmt.Errorf("start gateway watchdog: %w", err)
	}
	stops = append(stops, watchdog.Stop)

	if cfg.AdminAPI.Enabled {
		api := adminapi.New(manager, disp,
			adminapi.WithAddr(cfg.AdminAPI.Listen),
			adminapi.WithToken(cfg.AdminAPI.Token),
			adminapi.WithGatherer(registry),
			adminapi.WithReadinessCheck("gateway", func() error {
				if !watchdog.Healthy() {
					return errStaleHeartbeat
				}
				return nil
			}),
		)
		if err := api.Start(ctx); err != nil {
			return listenError("admin API", cfg.AdminAPI.Listen, err)
		}
		stops = append(stops, func() { _ = api.Stop() })
		logger.Info("admin API listening", "addr", api.Address())
	}

	if cfg.Console.Enabled {
		srv := console.New(console.Config{
			Host:        cfg.Console.Host,
			Port:        cfg.Console.Port,
			Token:       cfg.Console.Token,
			HostKeyPath: cfg.Console.HostKeyPath,
		}, console.NewExecutor(manager, disp), nil)
		if err := srv.Start(ctx); err != nil {
			return listenError("console", fmt.Sprintf("%s:%d", cfg.Console.Host, cfg.Console.Port), err)
		}
		stops = append(stops, func() { _ = srv.Stop() })
		logger.Info("console listening", "addr", srv.Address())
	}

	logger.Info("serving", "gateway", cfg.Gateway.URL, "store", cfg.Store.Driver, "modules", len(cat.Descriptors()))
	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}

type (
	// drainer is the part of the dispatcher used at shutdown.
	drainer interface {
		Close(ctx context.Context) error
		Idle(guildID botmod.GuildID) bool
	}

	guildShutdowner interface {
		Guilds() []botmod.GuildID
		ShutdownGuild(ctx context.Context, guildID botmod.GuildID)
	}
)

// drainAndShutdown closes the dispatcher, then tears down every guild whose
// queue has drained. A guild still running a handler when ctx ends keeps its
// modules, since teardown would race with the handler.
func drainAndShutdown(ctx context.Context, logger *log.Logger, disp drainer, guilds guildShutdowner) {
	if err := disp.Close(ctx); err != nil {
		logger.Warn("draining guild queues", "err", err)
	}
	for _, id := range guilds.Guilds() {
		if !disp.Idle(id) {
			logger.Warn("guild still busy, skipping teardown", "guild", id)
			continue
		}
		guilds.ShutdownGuild(ctx, id)
	}
}

func warnMissingDependencies(logger *log.Logger, manager *lifecycle.Manager) {
	graph := manager.Graph()
	for _, id := range graph.Order() {
		if missing := graph.Missing(id); len(missing) > 0 {
			logger.Warn("module will never start", "module", id, "missing", missing)
		}
	}
}

func listenError(what, addr string, err error) error {
	return issue.NewErrorContext().
		WithOperation("start " + what).
		WithResource(addr).
		WithIssue(issue.ListenFailedId).
		Wrap(err).
		BuildError()
}
