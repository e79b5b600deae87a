// SPDX-License-Identifier: MPL-2.0

package console

import (
	"bufio"
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/charmbracelet/ssh"
	"github.com/charmbracelet/wish"
	"mvdan.cc/sh/v3/shell"

	"github.com/invowk/guildhost/internal/runner"
)

const prompt = "guildhost> "

type (
	// Config holds the console listener settings.
	Config struct {
		// Host is the address to bind to (default: 127.0.0.1).
		Host string
		// Port is the port to listen on; 0 picks a free one.
		Port int
		// Token is the password operators log in with. An empty token refuses
		// every login.
		Token string
		// HostKeyPath is where the ed25519 host key is read, or generated when
		// missing. When empty, id_ed25519 in the working directory is used.
		HostKeyPath string
		// ShutdownTimeout bounds a graceful stop (default: 10s).
		ShutdownTimeout time.Duration
	}

	// Server is the SSH console. A Server is single-use.
	Server struct {
		*runner.Base

		cfg    Config
		exec   *Executor
		logger *log.Logger

		srvMu    sync.Mutex
		srv      *ssh.Server
		listener net.Listener
		addr     string
	}
)

// DefaultConfig returns the console defaults.
func DefaultConfig() Config {
	return Config{
		Host:            "127.0.0.1",
		Port:            2222,
		ShutdownTimeout: 10 * time.Second,
	}
}

// New creates a stopped console server running commands through exec.
func New(cfg Config, exec *Executor, logger *log.Logger) *Server {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = log.Default().WithPrefix("console")
	}
	return &Server{Base: runner.NewBase(), cfg: cfg, exec: exec, logger: logger}
}

// Start binds the listener and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	if err := s.BeginStart(ctx); err != nil {
		return err
	}

	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		s.Fail(fmt.Errorf("failed to listen on %s: %w", addr, err))
		return s.LastError()
	}

	opts := []ssh.Option{
		wish.WithAddress(addr),
		wish.WithPublicKeyAuth(func(ssh.Context, ssh.PublicKey) bool { return false }),
		wish.WithPasswordAuth(s.passwordHandler),
		wish.WithMiddleware(s.commandMiddleware()),
	}
	if s.cfg.HostKeyPath != "" {
		opts = append(opts, wish.WithHostKeyPath(s.cfg.HostKeyPath))
	}
	srv, err := wish.NewServer(opts...)
	if err != nil {
		_ = listener.Close()
		s.Fail(fmt.Errorf("failed to create SSH server: %w", err))
		return s.LastError()
	}

	s.srvMu.Lock()
	s.srv = srv
	s.listener = listener
	s.addr = listener.Addr().String()
	s.srvMu.Unlock()

	s.Go(func(context.Context) {
		err := srv.Serve(listener)
		if err != nil && !errors.Is(err, ssh.ErrServerClosed) && !errors.Is(err, net.ErrClosed) {
			s.SendError(fmt.Errorf("serve error: %w", err))
		}
	})
	s.MarkRunning()
	s.logger.Info("console listening", "address", s.Address())
	return nil
}

// Stop closes the listener and waits for sessions to end or the shutdown
// timeout. Calling it again is a no-op.
func (s *Server) Stop() error {
	if !s.BeginStop() {
		s.Wait()
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	var err error
	s.srvMu.Lock()
	if s.srv != nil {
		err = s.srv.Shutdown(ctx)
		if errors.Is(err, net.ErrClosed) {
			err = nil
		}
	}
	s.srvMu.Unlock()

	s.Wait()
	s.MarkStopped()
	s.logger.Info("console stopped")
	return err
}

// Address returns the bound host:port, or "" before Start.
func (s *Server) Address() string {
	s.srvMu.Lock()
	defer s.srvMu.Unlock()
	return s.addr
}

func (s *Server) passwordHandler(ctx ssh.Context, password string) bool {
	if s.cfg.Token == "" || subtle.ConstantTimeCompare([]byte(password), []byte(s.cfg.Token)) != 1 {
		s.logger.Warn("rejected console login", "user", ctx.User(), "remote", ctx.RemoteAddr())
		return false
	}
	s.logger.Info("console login", "user", ctx.User(), "remote", ctx.RemoteAddr())
	return true
}

func (s *Server) commandMiddleware() wish.Middleware {
	return func(next ssh.Handler) ssh.Handler {
		return func(sess ssh.Session) {
			if raw := sess.RawCommand(); raw != "" {
				code := 0
				if err := s.runLine(sess.Context(), sess, sess.Stderr(), raw); err != nil {
					code = 1
				}
				_ = sess.Exit(code) //nolint:errcheck // the client may already be gone
				return
			}
			s.interactive(sess)
			_ = sess.Exit(0) //nolint:errcheck // the client may already be gone
		}
	}
}

func (s *Server) interactive(sess ssh.Session) {
	fmt.Fprintln(sess, "guildhost console, type help for commands, exit to leave")
	scanner := bufio.NewScanner(sess)
	for {
		fmt.Fprint(sess, prompt)
		if !scanner.Scan() {
			return
		}
		line := scanner.Text()
		if line == "exit" || line == "quit" {
			return
		}
		_ = s.runLine(sess.Context(), sess, sess, line)
	}
}

// noEnv expands every variable to "" so lines cannot read the host environment.
func noEnv(string) string { return "" }

// runLine splits line with shell quoting rules and runs it. Errors are
// written to errOut and returned.
func (s *Server) runLine(ctx context.Context, out, errOut io.Writer, line string) error {
	args, err := shell.Fields(line, noEnv)
	if err != nil {
		fmt.Fprintf(errOut, "error: %v\n", err)
		return err
	}
	if err := s.exec.Run(ctx, out, args); err != nil {
		s.logger.Debug("console command failed", "line", line, "err", err)
		fmt.Fprintf(errOut, "error: %v\n", err)
		return err
	}
	return nil
}
