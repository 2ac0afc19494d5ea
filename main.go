// pixelgrid sells the cells of a shared grid. Visitors select free
// cells, pay for them from a wallet backed by the SQLite ledger, and the
// cells become theirs once the payment is confirmed.
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
	"time"

	"github.com/spf13/pflag"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	sessionSweepInterval = 5 * time.Minute
	shutdownTimeout      = 10 * time.Second
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := LoadConfig(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	settings, err := cfg.Settings()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: settings.LogLevel}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := setupTracing(ctx, cfg.OTelEndpoint)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("arrêt du traçage", "error", err)
		}
	}()

	ledger, err := OpenLedger(ctx, settings.DBPath, LedgerOptions{
		ConfirmDelay: settings.ConfirmDelay,
		Faucet:       settings.Faucet,
		Logger:       logger,
	})
	if err != nil {
		return err
	}
	defer ledger.Close()

	grid := NewGridStore(settings.GridSize, ledger)
	owned, err := grid.Load(ctx)
	if err != nil {
		return err
	}
	logger.Info("grille chargée", "size", settings.GridSize, "owned", owned)

	var reviewer Reviewer
	if gc := cfg.Gemini(); gc.Enabled() {
		gemini, err := NewGeminiClient(ctx, gc)
		if err != nil {
			return fmt.Errorf("init gemini: %w", err)
		}
		defer gemini.Close()
		reviewer = gemini
		logger.Info("modération Gemini activée", "project", gc.ProjectID)
	} else {
		logger.Info("GCP_PROJECT_ID et GEMINI_API_KEY non définis, modération désactivée")
	}

	tokens, err := NewTokenIssuer(cfg.SessionSecret, settings.SessionTTL)
	if err != nil {
		return err
	}
	if cfg.SessionSecret == "" {
		logger.Warn("PIXELS_SESSION_SECRET non défini, les sessions expirent au redémarrage")
	}

	store := NewStore(grid, ledger, StoreOptions{
		PixelPrice: settings.PixelPrice,
		Treasury:   settings.Treasury,
		ChainID:    settings.ChainID,
		Logger:     logger,
	})
	srv := NewServer(store, tokens, reviewer, logger)

	go func() {
		ticker := time.NewTicker(sessionSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := store.Expire(settings.SessionTTL); n > 0 {
					logger.Info("sessions expirées", "count", n)
				}
			}
		}
	}()

	httpServer := &http.Server{
		Addr:              settings.Addr,
		Handler:           otelhttp.NewHandler(srv, serviceName),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("serveur démarré", "addr", settings.Addr,
			"price_eth", FormatEther(settings.PixelPrice), "treasury", settings.Treasury)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("arrêt du serveur")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
