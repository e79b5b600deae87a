// SPDX-License-Identifier: MPL-2.0

// Package adminapi serves the operator HTTP API: module and command
// management per guild, health endpoints and Prometheus metrics.
//
// Every mutation runs on the guild's dispatch queue so it never races with
// message handling for the same guild.
package adminapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/invowk/guildhost/internal/lifecycle"
	"github.com/invowk/guildhost/internal/runner"
	"github.com/invowk/guildhost/pkg/botmod"
)

const (
	// DefaultAddr is the listen address used when none is configured.
	DefaultAddr = "127.0.0.1:8089"

	defaultShutdownTimeout = 10 * time.Second
	readHeaderTimeout      = 5 * time.Second
)

type (
	// Queue runs fn serialized with the other work of a guild.
	// *dispatch.Dispatcher implements it.
	Queue interface {
		Do(ctx context.Context, guildID botmod.GuildID, fn func(ctx context.Context) error) error
	}

	// Option configures a Server.
	Option func(*Server)

	// Server is the admin HTTP server.
	Server struct {
		*runner.Base

		addr            string
		token           string
		shutdownTimeout time.Duration
		manager         *lifecycle.Manager
		queue           Queue
		gatherer        prometheus.Gatherer
		health          healthcheck.Handler
		checks          []namedCheck
		logger          *log.Logger

		srvMu    sync.Mutex
		srv      *http.Server
		listener net.Listener
		bound    string
	}

	namedCheck struct {
		name  string
		check healthcheck.Check
	}
)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(s *Server) {
		if addr != "" {
			s.addr = addr
		}
	}
}

// WithToken requires "Authorization: Bearer <token>" on the /api routes.
func WithToken(token string) Option {
	return func(s *Server) { s.token = token }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithGatherer sets the registry served on /metrics. Health check results are
// registered with it too when it is also a Registerer.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithReadinessCheck adds a check reported by /ready.
func WithReadinessCheck(name string, check healthcheck.Check) Option {
	return func(s *Server) { s.checks = append(s.checks, namedCheck{name, check}) }
}

// New creates a stopped Server.
func New(manager *lifecycle.Manager, queue Queue, opts ...Option) *Server {
	s := &Server{
		Base:            runner.NewBase(),
		addr:            DefaultAddr,
		shutdownTimeout: defaultShutdownTimeout,
		manager:         manager,
		queue:           queue,
		gatherer:        prometheus.DefaultGatherer,
		logger:          log.Default().WithPrefix("adminapi"),
	}
	for _, opt := range opts {
		opt(s)
	}

	if reg, ok := s.gatherer.(prometheus.Registerer); ok {
		s.health = healthcheck.NewMetricsHandler(reg, "guildhost")
	} else {
		s.health = healthcheck.NewHandler()
	}
	s.health.AddLivenessCheck("goroutines", healthcheck.GoroutineCountCheck(10000))
	for _, c := range s.checks {
		s.health.AddReadinessCheck(c.name, c.check)
	}
	return s
}

// Start listens and serves in the background. It returns once the listener
// is bound.
func (s *Server) Start(ctx context.Context) error {
	if err := s.BeginStart(ctx); err != nil {
		return err
	}

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", s.addr)
	if err != nil {
		s.Fail(fmt.Errorf("failed to listen on %s: %w", s.addr, err))
		return s.LastError()
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return s.Context() },
	}

	s.srvMu.Lock()
	s.srv = srv
	s.listener = listener
	s.bound = listener.Addr().String()
	s.srvMu.Unlock()

	s.Go(func(context.Context) {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.SendError(fmt.Errorf("serve error: %w", err))
		}
	})
	s.MarkRunning()
	s.logger.Info("admin API listening", "address", s.Address())
	return nil
}

// Stop shuts the server down, waiting up to the shutdown timeout for
// in-flight requests. Calling it again is a no-op.
func (s *Server) Stop() error {
	if !s.BeginStop() {
		s.Wait()
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	var err error
	s.srvMu.Lock()
	if s.srv != nil {
		err = s.srv.Shutdown(ctx)
	}
	s.srvMu.Unlock()

	s.Wait()
	s.MarkStopped()
	s.logger.Info("admin API stopped")
	return err
}

// Address returns the bound address, or "" before Start.
func (s *Server) Address() string {
	s.srvMu.Lock()
	defer s.srvMu.Unlock()
	return s.bound
}
