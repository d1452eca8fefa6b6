package app

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/odyssey-erp/facturador/internal/invoice"
	jobmetrics "github.com/odyssey-erp/facturador/internal/jobs"
	"github.com/odyssey-erp/facturador/internal/platform/db"
	"github.com/odyssey-erp/facturador/jobs"
	"github.com/odyssey-erp/facturador/migrations"
)

// Store is an opened invoice store with its lifecycle hooks.
type Store struct {
	invoice.Store
	Ready HealthCheck
	Close func()
}

// OpenStore connects the invoice store. Test mode keeps everything in
// process memory.
func OpenStore(ctx context.Context, cfg *Config, logger *slog.Logger, migrate bool) (*Store, error) {
	if InTestMode() {
		logger.Info("test mode: using in-memory invoice store")
		return &Store{
			Store: invoice.NewMemoryStore(),
			Ready: func(context.Context) error { return nil },
			Close: func() {},
		}, nil
	}
	pool, err := db.New(ctx, cfg.PGDSN, db.PoolConfig{MaxConns: cfg.PGMaxConns})
	if err != nil {
		return nil, err
	}
	if migrate {
		version, err := db.Migrate(pool, migrations.FS)
		if err != nil {
			pool.Close()
			return nil, err
		}
		logger.Info("database migrated", slog.Uint64("version", uint64(version)))
	}
	return &Store{
		Store: invoice.NewPostgresStore(pool),
		Ready: pool.Ping,
		Close: pool.Close,
	}, nil
}

// NewInvoiceJob assembles the pipeline job from configuration.
func NewInvoiceJob(cfg *Config, invoices *invoice.Service, logger *slog.Logger, registerer prometheus.Registerer) (*jobs.InvoiceProcessJob, error) {
	renderer, err := NewRenderer(cfg)
	if err != nil {
		return nil, err
	}
	return jobs.NewInvoiceProcessJob(jobs.InvoiceProcessConfig{
		Invoices:       invoices,
		Signer:         NewSigner(cfg),
		Authority:      NewGateway(cfg, NewAuthority(cfg), logger),
		Renderer:       renderer,
		SigningTimeout: cfg.SigningTimeout,
		Metrics:        jobmetrics.NewMetrics(registerer),
		Logger:         logger,
	}), nil
}

// NewWorker binds the pipeline job to the invoice queue.
func NewWorker(cfg *Config, job *jobs.InvoiceProcessJob, logger *slog.Logger) (*jobs.Worker, error) {
	return jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:       cfg.RedisOptions(),
		Logger:          logger,
		Concurrency:     cfg.QueueConcurrency,
		BackoffBase:     cfg.QueueBackoffBase,
		ShutdownTimeout: cfg.QueueShutdownTimeout,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskInvoiceProcess, Handler: job.Handle},
		},
	})
}
