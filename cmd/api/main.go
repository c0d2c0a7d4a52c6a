package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"catersync/internal/api"
	"catersync/internal/buildinfo"
	"catersync/internal/config"
	"catersync/internal/logging"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "catersync:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logging.New(cfg.LogLevel, "catersync")

	srv, err := api.NewServer(cfg, log, api.Options{})
	if err != nil {
		return fmt.Errorf("init server: %w", err)
	}
	defer srv.Close()
	if !cfg.Partner.Configured() {
		log.Warn("PARTNER_API_KEY is not set; partner endpoints will answer 503")
	}
	if err := srv.Start(); err != nil {
		return fmt.Errorf("start background jobs: %w", err)
	}
	defer srv.Shutdown()

	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.NewRouter(srv),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("api listening", "addr", httpSrv.Addr, "version", buildinfo.Version)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}
