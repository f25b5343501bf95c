// Package daemontest boots a real daemon against a temp runtime home and
// drives it over a real ipc connection, so tests exercise the actual wire
// protocol instead of calling daemon.Daemon's methods directly.
package daemontest

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/cccc-dev/cccc/pkg/config"
	"github.com/cccc-dev/cccc/pkg/daemon"
	"github.com/cccc-dev/cccc/pkg/ipc"
)

// Harness owns one in-process daemon and ipc server, rooted at a
// t.TempDir() runtime home that is cleaned up automatically when t ends.
type Harness struct {
	T      *testing.T
	Dir    string
	Config config.Global
	Daemon *daemon.Daemon
	Server *ipc.Server

	cancel   context.CancelFunc
	serveErr chan error
}

// New constructs and starts a Harness. The daemon and server are torn down
// via t.Cleanup, so callers do not need to defer a Close themselves.
func New(t *testing.T) *Harness {
	t.Helper()
	dir := t.TempDir()

	cfg := config.DefaultGlobal(dir)
	cfg.IPCBind = "unix"
	cfg.IPCAddress = filepath.Join(dir, "daemon", "socket")

	d, err := daemon.New(cfg)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := d.Start(ctx); err != nil {
		cancel()
		t.Fatalf("daemon.Start: %v", err)
	}

	server := ipc.NewServer(cfg, d)
	serveErr := make(chan error, 1)
	go func() { serveErr <- server.Serve(ctx) }()

	h := &Harness{T: t, Dir: dir, Config: cfg, Daemon: d, Server: server, cancel: cancel, serveErr: serveErr}
	t.Cleanup(h.Close)

	h.waitForSocket()
	return h
}

// waitForSocket polls briefly for the ipc listener to come up, since Serve
// opens its listener asynchronously relative to New returning.
func (h *Harness) waitForSocket() {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		c, err := h.Dial()
		if err == nil {
			_ = c.Close()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	h.T.Fatalf("ipc socket at %s never came up", h.Config.IPCAddress)
}

// Dial opens a fresh client connection to the harness's daemon.
func (h *Harness) Dial() (*Client, error) {
	return dial(h.Config.IPCAddress)
}

// Close stops the ipc server and the daemon. It is registered with
// t.Cleanup and runs once; a second call blocks waiting for Serve.
func (h *Harness) Close() {
	h.cancel()
	_ = h.Server.Close()
	<-h.serveErr
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	h.Daemon.Shutdown(shutdownCtx)
}
