package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/facturador/internal/app"
	"github.com/odyssey-erp/facturador/report"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)
	if app.InTestMode() {
		logger.Warn("test mode: invoices live in this process only, prefer `facturador serve --worker`")
	}

	if err := app.CheckCertificate(cfg, logger, time.Now()); err != nil {
		logger.Error("signing certificate", slog.Any("error", err))
		os.Exit(1)
	}

	store, err := app.OpenStore(ctx, cfg, logger, false)
	if err != nil {
		logger.Error("open invoice store", slog.Any("error", err))
		os.Exit(1)
	}
	defer store.Close()

	invoices := app.NewInvoiceService(cfg, store, logger)
	job, err := app.NewInvoiceJob(cfg, invoices, logger, nil)
	if err != nil {
		logger.Error("init invoice job", slog.Any("error", err))
		os.Exit(1)
	}
	if cfg.RideEngine == "gotenberg" {
		if err := report.NewClient(cfg.GotenbergURL, report.Options{Timeout: 5 * time.Second}).Ping(ctx); err != nil {
			logger.Warn("gotenberg unreachable, receipts will not render until it recovers", slog.Any("error", err))
		}
	}
	worker, err := app.NewWorker(cfg, job, logger)
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("metrics listening", slog.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		logger.Info("invoice worker started",
			slog.Int("concurrency", cfg.QueueConcurrency),
			slog.String("sri_env", cfg.SRIEnv))
		if err := worker.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
