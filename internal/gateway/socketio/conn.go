// SPDX-License-Identifier: MPL-2.0

// Package socketio is the gateway transport over a socket.io connection.
//
// The library's own reconnection is switched off; the gateway watchdog owns
// reconnects and calls Reconnect.
package socketio

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"

	"github.com/invowk/guildhost/internal/gateway"
	"github.com/invowk/guildhost/pkg/botmod"
)

// DefaultConnectTimeout bounds a single connection attempt.
const DefaultConnectTimeout = 15 * time.Second

var (
	// ErrNotConnected is returned by Send while no socket is connected.
	ErrNotConnected = errors.New("gateway is not connected")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("gateway connection closed")
)

type (
	// Option configures a Conn.
	Option func(*Conn)

	// Conn is a gateway.Conn over socket.io.
	Conn struct {
		baseURL        string
		path           string
		namespace      string
		token          string
		connectTimeout time.Duration
		tlsConfig      *tls.Config
		handler        gateway.Handler
		logger         *log.Logger
		metrics        *gateway.Metrics

		mu        sync.Mutex
		heartbeat func()
		manager   *socket.Manager
		io        *socket.Socket
		closed    bool
	}
)

var _ gateway.Conn = (*Conn)(nil)

// WithNamespace sets the socket.io namespace. The default is "/".
func WithNamespace(ns string) Option {
	return func(c *Conn) {
		if ns != "" {
			c.namespace = ns
		}
	}
}

// WithToken sends token in the handshake auth payload.
func WithToken(token string) Option {
	return func(c *Conn) { c.token = token }
}

// WithConnectTimeout bounds a single connection attempt.
func WithConnectTimeout(d time.Duration) Option {
	return func(c *Conn) {
		if d > 0 {
			c.connectTimeout = d
		}
	}
}

// WithTLSConfig sets the TLS client configuration.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(c *Conn) { c.tlsConfig = cfg }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(c *Conn) { c.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *gateway.Metrics) Option {
	return func(c *Conn) { c.metrics = m }
}

// New creates an unconnected Conn to rawURL that delivers events to handler.
func New(rawURL string, handler gateway.Handler, opts ...Option) (*Conn, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse gateway url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("gateway url %q needs a scheme and a host", rawURL)
	}
	c := &Conn{
		baseURL:        u.Scheme + "://" + u.Host,
		path:           u.Path,
		namespace:      "/",
		connectTimeout: DefaultConnectTimeout,
		handler:        handler,
		logger:         log.Default().WithPrefix("gateway"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = gateway.NewMetrics(nil)
	}
	return c, nil
}

// OnHeartbeat sets the callback run on every heartbeat and inbound event,
// normally (*gateway.Watchdog).Ack.
func (c *Conn) OnHeartbeat(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.heartbeat = fn
}

// Connect dials the gateway and waits for the namespace handshake.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.mu.Unlock()

	manager, io, err := c.dial(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		io.Disconnect()
		return ErrClosed
	}
	c.manager, c.io = manager, io
	return nil
}

// Reconnect drops the current socket, if any, and dials again.
func (c *Conn) Reconnect(ctx context.Context) error {
	c.dropSocket()
	c.logger.Info("reconnecting", "url", c.baseURL)
	return c.Connect(ctx)
}

// Close disconnects and refuses further use.
func (c *Conn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.dropSocket()
	return nil
}

// Send emits content to channel and returns the nonce as the message id.
func (c *Conn) Send(_ context.Context, channel botmod.ChannelID, content string) (botmod.MessageID, error) {
	c.mu.Lock()
	io := c.io
	c.mu.Unlock()
	if io == nil || !io.Connected() {
		c.metrics.Sent.WithLabelValues("failed").Inc()
		return "", ErrNotConnected
	}

	nonce := uuid.NewString()
	err := io.Emit(EventSend, sendPayload{
		ChannelID: channel.String(),
		Content:   botmod.Truncate(content),
		Nonce:     nonce,
	})
	if err != nil {
		c.metrics.Sent.WithLabelValues("failed").Inc()
		return "", fmt.Errorf("emit %s: %w", EventSend, err)
	}
	c.metrics.Sent.WithLabelValues("ok").Inc()
	return botmod.MessageID(nonce), nil
}

func (c *Conn) dropSocket() {
	c.mu.Lock()
	io := c.io
	c.manager, c.io = nil, nil
	c.mu.Unlock()
	if io != nil {
		io.Disconnect()
	}
}

func (c *Conn) dial(ctx context.Context) (*socket.Manager, *socket.Socket, error) {
	opts := socket.DefaultOptions()
	if c.path != "" {
		opts.SetPath(c.path)
	}
	opts.SetReconnection(false)
	opts.SetAutoConnect(false)
	opts.SetTimeout(c.connectTimeout)
	opts.SetTransports(types.NewSet(transports.WebSocket))
	if c.tlsConfig != nil {
		opts.SetTLSClientConfig(c.tlsConfig)
	}
	if c.token != "" {
		opts.SetAuth(map[string]any{"token": c.token})
	}

	manager := socket.NewManager(c.baseURL, opts)
	io := manager.Socket(c.namespace, opts)
	c.subscribe(manager, io)

	connected := make(chan error, 1)
	_ = io.Once(types.EventName("connect"), func(...any) {
		connected <- nil
	})
	_ = io.Once(types.EventName("connect_error"), func(errs ...any) {
		connected <- connectError(errs)
	})
	io.Connect()

	timer := time.NewTimer(c.connectTimeout)
	defer timer.Stop()
	select {
	case err := <-connected:
		if err != nil {
			io.Disconnect()
			return nil, nil, fmt.Errorf("socket.io connect: %w", err)
		}
		c.logger.Info("connected", "url", c.baseURL, "sid", io.Id())
		c.ack()
		return manager, io, nil
	case <-ctx.Done():
		io.Disconnect()
		return nil, nil, fmt.Errorf("socket.io connect: %w", ctx.Err())
	case <-timer.C:
		io.Disconnect()
		return nil, nil, fmt.Errorf("socket.io connect: timed out after %s", c.connectTimeout)
	}
}

func (c *Conn) subscribe(manager *socket.Manager, io *socket.Socket) {
	_ = manager.On(types.EventName("ping"), func(...any) { c.ack() })
	_ = manager.On(types.EventName("error"), func(errs ...any) {
		c.logger.Warn("transport error", "err", connectError(errs))
	})
	_ = io.On(types.EventName("disconnect"), func(reason ...any) {
		c.logger.Warn("disconnected", "reason", reason)
	})
	_ = io.On(types.EventName(EventMessage), func(args ...any) {
		c.ack()
		c.onMessage(args)
	})
	_ = io.On(types.EventName(EventReaction), func(args ...any) {
		c.ack()
		c.onReaction(args)
	})
	_ = io.On(types.EventName(EventGuildAvailable), func(args ...any) {
		c.ack()
		c.onGuildAvailable(args)
	})
}

func (c *Conn) onMessage(args []any) {
	var p messagePayload
	if err := decode(args, &p); err != nil {
		c.logger.Warn("dropping malformed event", "event", EventMessage, "err", err)
		return
	}
	if err := c.handler.Dispatch(p.toMessage()); err != nil {
		c.logger.Warn("message not dispatched", "guild", p.GuildID, "err", err)
	}
}

func (c *Conn) onReaction(args []any) {
	var p reactionPayload
	if err := decode(args, &p); err != nil {
		c.logger.Warn("dropping malformed event", "event", EventReaction, "err", err)
		return
	}
	if err := c.handler.DispatchReaction(p.toReaction()); err != nil {
		c.logger.Warn("reaction not dispatched", "guild", p.GuildID, "err", err)
	}
}

func (c *Conn) onGuildAvailable(args []any) {
	var p guildPayload
	if err := decode(args, &p); err != nil {
		c.logger.Warn("dropping malformed event", "event", EventGuildAvailable, "err", err)
		return
	}
	if err := c.handler.HandleGuildAvailable(botmod.GuildID(p.GuildID)); err != nil {
		c.logger.Warn("guild not scheduled", "guild", p.GuildID, "err", err)
	}
}

func (c *Conn) ack() {
	c.mu.Lock()
	fn := c.heartbeat
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func connectError(errs []any) error {
	if len(errs) == 0 {
		return errors.New("unknown error")
	}
	if err, ok := errs[0].(error); ok {
		return err
	}
	return fmt.Errorf("%v", errs[0])
}
