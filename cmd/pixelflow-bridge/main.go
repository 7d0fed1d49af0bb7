package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/vyvo/pixelflow/pkg/app"
	"github.com/vyvo/pixelflow/pkg/bridge"
	"github.com/vyvo/pixelflow/pkg/config"
	"github.com/vyvo/pixelflow/pkg/logging"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	fs := pflag.NewFlagSet("pixelflow-bridge", pflag.ExitOnError)
	config.RegisterFlags(fs)
	_ = fs.Parse(os.Args[1:])

	cfg, err := config.Load(fs)
	if err != nil {
		bootLogger := logging.New("info", true)
		bootLogger.Fatal().Err(err).Msg("failed to load config")
	}
	logger := logging.New(cfg.LogLevel, cfg.LogPretty)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger, app.Options{ServiceName: "pixelflow-bridge", Version: version})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to start")
	}

	srv := bridge.NewServer(ctx, a.Session, logger.With().Str("component", "bridge").Logger(),
		bridge.WithAccessToken(cfg.BridgeToken))
	if cfg.BridgeToken == "" {
		logger.Warn().Msg("bridge API is unauthenticated; set bridge_token to require one")
	}
	httpSrv := &http.Server{
		Addr:              cfg.BridgeListenAddr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		// Event streams end with the process context; Shutdown does not cancel them.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	ln, err := net.Listen("tcp", cfg.BridgeListenAddr)
	if err != nil {
		logger.Fatal().Err(err).Msg("bridge listen failed")
	}
	logger.Info().Str("addr", ln.Addr().String()).Msg("bridge listening")
	if err := serve(ctx, httpSrv, ln, a.Close, logger); err != nil {
		logger.Fatal().Err(err).Msg("bridge server error")
	}
	logger.Info().Msg("bridge stopped")
}

// serve runs srv on ln until ctx ends, then shuts it down and runs cleanup.
// It returns only after cleanup has finished.
func serve(ctx context.Context, srv *http.Server, ln net.Listener, cleanup func(context.Context) error, logger zerolog.Logger) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("bridge shutdown error")
		}
		if err := cleanup(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("close error")
		}
	}()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	<-done
	return nil
}
