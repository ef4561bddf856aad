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

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"vault-keeper/internal/httpapi"
	"vault-keeper/internal/keeper"
	"vault-keeper/internal/observability"
)

// serve runs the scheduler and the ops HTTP server until SIGINT/SIGTERM.
// A second signal forces exit.
func serve(ctx context.Context, a *app, scheduler *keeper.Scheduler) error {
	logger := a.logger

	if err := scheduler.Start(ctx); err != nil {
		return err
	}

	var httpServer *http.Server
	if a.cfg.App.HTTPAddr != "" {
		httpServer = &http.Server{
			Addr: a.cfg.App.HTTPAddr,
			Handler: httpapi.NewRouter(httpapi.Options{
				Cycles:   a.stores.cycles,
				Outcomes: a.stores.outcomes,
				Metrics:  observability.Handler(a.registry),
				Ready:    scheduler.Authorized,
				Logger:   logger.Named("http"),
			}),
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	g, gCtx := errgroup.WithContext(ctx)

	if httpServer != nil {
		g.Go(func() error {
			logger.Info("starting HTTP server", zap.String("address", httpServer.Addr))
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("HTTP server error: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		quit := make(chan os.Signal, 2)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("context cancelled, initiating shutdown")
		}

		go func() {
			sig := <-quit
			logger.Error("received second signal, forcing exit", zap.String("signal", sig.String()))
			os.Exit(1)
		}()

		if httpServer != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("HTTP server shutdown error", zap.Error(err))
			}
		}

		logger.Info("waiting for in-flight cycles", zap.Duration("timeout", a.cfg.App.ShutdownTimeout))
		return scheduler.Stop()
	})

	if err := g.Wait(); err != nil {
		logger.Error("keeper stopped with error", zap.Error(err))
		return err
	}

	logger.Info("shutdown complete")
	return nil
}
