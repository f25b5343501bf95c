package ipc

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"

	"github.com/cccc-dev/cccc/pkg/config"
	"github.com/cccc-dev/cccc/pkg/contracts"
	"github.com/cccc-dev/cccc/pkg/daemon"
)

// Server listens for ipc connections per the daemon's Global config: a Unix
// domain socket by default, or loopback TCP if configured. Every
// accepted connection gets its own session, run in its own goroutine.
type Server struct {
	cfg config.Global
	d   *daemon.Daemon

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup
}

// NewServer builds a Server bound to d. It does not listen until Serve is
// called.
func NewServer(cfg config.Global, d *daemon.Daemon) *Server {
	return &Server{cfg: cfg, d: d}
}

// Serve opens the configured listener and accepts connections until ctx is
// cancelled or the listener errors. It blocks until shutdown.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := s.listen()
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.wg.Wait()
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) {
				slog.Warn("ipc accept error, continuing", "err", err)
				continue
			}
			s.wg.Wait()
			return fmt.Errorf("ipc accept: %w", err)
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

func (s *Server) listen() (net.Listener, error) {
	switch s.cfg.IPCBind {
	case "", "unix":
		if err := os.MkdirAll(filepath.Dir(s.cfg.IPCAddress), 0o700); err != nil {
			return nil, fmt.Errorf("create socket directory: %w", err)
		}
		_ = os.Remove(s.cfg.IPCAddress) // a stale socket from an unclean prior shutdown
		ln, err := net.Listen("unix", s.cfg.IPCAddress)
		if err != nil {
			return nil, fmt.Errorf("listen on unix socket %s: %w", s.cfg.IPCAddress, err)
		}
		if err := os.Chmod(s.cfg.IPCAddress, 0o600); err != nil {
			slog.Warn("failed to restrict socket permissions", "path", s.cfg.IPCAddress, "err", err)
		}
		return ln, nil
	case "tcp":
		ln, err := net.Listen("tcp", s.cfg.IPCAddress)
		if err != nil {
			return nil, fmt.Errorf("listen on tcp %s: %w", s.cfg.IPCAddress, err)
		}
		return ln, nil
	default:
		return nil, fmt.Errorf("unsupported ipc_bind %q", s.cfg.IPCBind)
	}
}

// handleConn authenticates (when a bearer token is configured) and then
// drives the connection's session until it disconnects.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	sess := newSession(ctx, conn, s.d)
	if s.cfg.AuthToken != "" && s.cfg.IPCBind == "tcp" {
		if !s.authenticate(sess) {
			_ = sess.writeFrame(ErrorFrame{Type: FrameErrorType, Error: contracts.NewDomainError(contracts.CodeUnauthorized, "missing or invalid auth token", nil)})
			return
		}
	}
	sess.run()
}

// authenticate requires the connection's first frame to be a request
// carrying op "auth.token" with the shared secret as its sole arg — the
// bearer-token gate for non-loopback binds. Unix-socket connections
// rely on filesystem permissions instead and never reach this path (the
// daemon only requires AuthToken when IPCBind is tcp).
func (s *Server) authenticate(sess *session) bool {
	payload, err := sess.fr.ReadFrame()
	if err != nil {
		return false
	}
	var req RequestFrame
	if err := json.Unmarshal(payload, &req); err != nil || req.Op != "auth.token" {
		return false
	}
	var args struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(req.Args, &args); err != nil {
		return false
	}
	ok := subtle.ConstantTimeCompare([]byte(args.Token), []byte(s.cfg.AuthToken)) == 1
	_ = sess.writeFrame(ResponseFrame{Type: FrameResponse, ID: req.ID, Result: map[string]bool{"ok": ok}})
	return ok
}

// Close closes the listener, causing Serve's Accept loop to return once any
// in-flight connections finish.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}
