package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/st-user/ojm-dronw-remote/internal/auth"
	"github.com/st-user/ojm-dronw-remote/internal/config"
	"github.com/st-user/ojm-dronw-remote/internal/httpserver"
	"github.com/st-user/ojm-dronw-remote/internal/ice"
	"github.com/st-user/ojm-dronw-remote/internal/metrics"
	"github.com/st-user/ojm-dronw-remote/internal/registry"
	"github.com/st-user/ojm-dronw-remote/internal/signaling"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	// Build the ICE provider early so STUN/TURN misconfigurations are caught
	// on startup rather than on the first connection.
	iceProvider, err := ice.NewProvider(cfg)
	if err != nil {
		logger.Error("failed to configure ice servers", "err", err)
		os.Exit(2)
	}

	logger.Info("starting ojm-drone-remote",
		"listen_addr", cfg.ListenAddr,
		"mode", cfg.Mode,
		"max_local_clients", cfg.MaxLocalClients,
		"max_local_client_message_bytes", cfg.MaxLocalClientMessageBytes,
		"local_client_ping_interval", cfg.LocalClientPingInterval,
		"local_client_pong_timeout", cfg.LocalClientPongTimeout,
		"ticket_ttl", cfg.TicketTTL,
		"turn_rest_enabled", cfg.TURNREST.Enabled(),
	)

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "err", err)
		os.Exit(1)
	}

	m := metrics.New()
	reg := registry.NewMemory()
	bus := registry.NewBus()

	tickets := signaling.NewTicketIssuer(reg, logger, m, cfg.TicketTTL)
	local := signaling.NewLocalServer(cfg, logger, reg, bus, tickets, iceProvider, m)
	signaling.ForwardLocalMessages(local, signaling.NewBusRemoteSink(bus), logger)

	verifier := auth.TokenVerifier{Tokens: cfg.AccessTokens}
	api := signaling.NewAPI(logger, verifier, tickets, local, m)

	srv := httpserver.New(cfg, logger, resolveBuildInfo(buildCommit, buildTime))
	api.RegisterRoutes(srv.Mux())

	// Expose internal counters in Prometheus' text format.
	srv.Mux().Handle("GET /metrics", metrics.PrometheusHandler(m))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		local.Close()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server exited", "err", err)
			os.Exit(1)
		}
		return
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "err", err)
	}
	local.Close()

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server exited after shutdown", "err", err)
		os.Exit(1)
	}
}

func resolveBuildInfo(commit, buildTime string) httpserver.BuildInfo {
	// Prefer ldflags-injected values (production builds) but fall back to the
	// Go build info when available (useful for `go run` / dev builds).
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = s.Value
				}
			case "vcs.time":
				if buildTime == "" {
					buildTime = s.Value
				}
			}
		}
	}

	return httpserver.BuildInfo{Commit: commit, BuildTime: buildTime}
}
