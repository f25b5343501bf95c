// cccc is the local collaboration kernel daemon: it owns the ledger, the
// kernel projection, the runner supervisor, and the delivery engine for
// every group under its runtime home, and serves them over the ipc socket.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cccc-dev/cccc/pkg/config"
	"github.com/cccc-dev/cccc/pkg/daemon"
	"github.com/cccc-dev/cccc/pkg/ipc"
	"github.com/cccc-dev/cccc/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func defaultRuntimeHome() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".cccc")
	}
	return ".cccc"
}

func main() {
	runtimeHome := flag.String("runtime-home",
		getEnv("CCCC_RUNTIME_HOME", defaultRuntimeHome()),
		"Path to the daemon's runtime home (ledgers, blobs, registry.json, group.yaml files)")
	debugAddr := flag.String("debug-addr",
		getEnv("CCCC_DEBUG_ADDR", "127.0.0.1:9090"),
		"Address for the local /health and /metrics HTTP surface (never the ipc transport)")
	flag.Parse()

	cfg, err := config.LoadGlobal(*runtimeHome)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	level := slog.LevelInfo
	if cfg.LogLevel == config.LogLevelDebug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewJSONHandler(os.Stderr, opts)
	if cfg.DeveloperMode {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))

	slog.Info("starting "+version.Full(), "runtime_home", cfg.RuntimeHome, "ipc_bind", cfg.IPCBind, "ipc_address", cfg.IPCAddress)

	d, err := daemon.New(cfg)
	if err != nil {
		log.Fatalf("failed to construct daemon: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := d.Start(ctx); err != nil {
		log.Fatalf("failed to start daemon: %v", err)
	}

	if !cfg.DeveloperMode {
		gin.SetMode(gin.ReleaseMode)
	}
	debugServer := &http.Server{
		Addr:    *debugAddr,
		Handler: debugRouter(d),
	}
	go func() {
		slog.Info("debug http surface listening", "addr", *debugAddr)
		if err := debugServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("debug http surface failed", "err", err)
		}
	}()

	server := ipc.NewServer(cfg, d)
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Serve(ctx)
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			slog.Error("ipc server exited", "err", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = server.Close()
	_ = debugServer.Shutdown(shutdownCtx)
	d.Shutdown(shutdownCtx)
	slog.Info("cccc daemon stopped")
}

// debugRouter serves /health and /metrics only; it never carries the ipc
// protocol itself, which stays on its own socket.
func debugRouter(d *daemon.Daemon) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Metrics.Registry, promhttp.HandlerOpts{})))
	return r
}
