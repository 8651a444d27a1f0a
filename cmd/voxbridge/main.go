// Command voxbridge runs the telephony voice bridge: it answers the
// provider's call webhook, terminates media-stream WebSockets, and drives
// the speech pipeline against the configured vendors.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/voxbridge/voxbridge/internal/dotenv"
	"github.com/voxbridge/voxbridge/pkg/agent"
	"github.com/voxbridge/voxbridge/pkg/bridge/config"
	"github.com/voxbridge/voxbridge/pkg/bridge/server"
	"github.com/voxbridge/voxbridge/pkg/bridge/session"
	"github.com/voxbridge/voxbridge/pkg/store"
	"github.com/voxbridge/voxbridge/pkg/voice/stt"
	"github.com/voxbridge/voxbridge/pkg/voice/tts"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	if err := run(context.Background(), logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	if err := dotenv.LoadFile(".env"); err != nil {
		return fmt.Errorf("load .env: %w", err)
	}
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := store.Migrate(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	st, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	gemini, err := agent.NewGemini(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	if err != nil {
		return fmt.Errorf("init agent: %w", err)
	}

	registry := session.NewRegistry(cfg.MaxSessions, cfg.MaxPacketsPerSecond,
		2*cfg.SweepInterval, logger)
	flusher := store.NewFlusher(st, cfg.FlushInterval, logger)

	deps := session.Deps{
		Cfg:        cfg,
		Log:        logger,
		Registry:   registry,
		Flusher:    flusher,
		Store:      st,
		STT:        stt.NewCartesia(cfg.CartesiaAPIKey),
		TTS:        tts.NewElevenLabs(cfg.ElevenLabsAPIKey),
		Agent:      gemini,
		Summarizer: gemini,
	}
	srv := server.New(cfg, logger, deps)

	bgCtx, bgCancel := context.WithCancel(ctx)
	defer bgCancel()
	go flusher.Run(bgCtx)
	go registry.Run(bgCtx, cfg.SweepInterval)

	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}

	logger.Info("starting bridge", "addr", cfg.Addr,
		"max_sessions", cfg.MaxSessions, "voice_id", cfg.VoiceID)

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	drainCtx, drainCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer drainCancel()
	if !srv.Drain(drainCtx) {
		logger.Warn("sessions did not drain before the grace period expired")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	logger.Info("bridge stopped")
	return nil
}
