package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/facturador/internal/app"
	"github.com/odyssey-erp/facturador/internal/emission"
	invoicehttp "github.com/odyssey-erp/facturador/internal/invoice/http"
	"github.com/odyssey-erp/facturador/internal/observability"
	"github.com/odyssey-erp/facturador/internal/platform/cache"
	"github.com/odyssey-erp/facturador/jobs"
)

func newServeCommand() *cobra.Command {
	var (
		migrate    bool
		withWorker bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Run the HTTP API that accepts CRM emission requests and serves invoice
status. Use --worker to process the queue in the same process, which is
required when FACTURADOR_TEST_MODE keeps invoices in memory.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), migrate, withWorker)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply database migrations before serving")
	cmd.Flags().BoolVar(&withWorker, "worker", false, "run the invoice worker in-process")
	return cmd
}

func serve(ctx context.Context, migrate, withWorker bool) error {
	cfg, err := app.LoadConfig()
	if err != nil {
		return err
	}
	logger := app.NewLogger(cfg)
	if withWorker {
		if err := app.CheckCertificate(cfg, logger, time.Now()); err != nil {
			return err
		}
	}

	store, err := app.OpenStore(ctx, cfg, logger, migrate)
	if err != nil {
		return err
	}
	defer store.Close()

	redisClient, err := cache.New(ctx, cfg.CacheOptions())
	if err != nil {
		return err
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	queue := jobs.NewClient(cfg.RedisOptions(), jobs.ClientConfig{
		Attempts:  cfg.QueueAttempts,
		Retention: cfg.QueueRetention,
		Logger:    logger,
	})
	defer queue.Close()
	invoices := app.NewInvoiceService(cfg, store, logger)
	inspector := jobs.NewRedisInspector(cfg.RedisOptions()).WithRequeue(jobs.PendingRequeue(invoices, queue))
	defer inspector.Close()

	emitter := emission.NewService(emission.Config{
		Drafts:             invoices,
		Queue:              queue,
		Locker:             emission.NewDealLock(redisClient, emission.DefaultLockTTL, logger),
		DefaultEnvironment: cfg.Environment(),
		Logger:             logger,
	})

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		InvoiceHandler:  invoicehttp.NewHandler(invoices, logger),
		EmissionHandler: emission.NewHandler(emitter, logger, cfg.WebhookRateLimit),
		QueueHandler:    jobs.NewHandler(inspector, logger),
		Checks: map[string]app.HealthCheck{
			"database": store.Ready,
			"redis": func(ctx context.Context) error {
				return redisClient.Ping(ctx).Err()
			},
		},
		Metrics:     promhttp.Handler(),
		HTTPMetrics: observability.NewHTTPMetrics(nil),
	})

	server := &http.Server{
		Addr:              cfg.AppAddr,
		Handler:           router,
		ReadTimeout:       cfg.AppReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.AppWriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server listening", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logger.Info("http server shutting down")
		return server.Shutdown(shutdownCtx)
	})
	if withWorker {
		job, err := app.NewInvoiceJob(cfg, invoices, logger, nil)
		if err != nil {
			return err
		}
		worker, err := app.NewWorker(cfg, job, logger)
		if err != nil {
			return err
		}
		g.Go(func() error {
			if err := worker.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
	return g.Wait()
}
