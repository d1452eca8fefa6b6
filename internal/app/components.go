package app

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/facturador/internal/invoice"
	"github.com/odyssey-erp/facturador/internal/platform/cache"
	"github.com/odyssey-erp/facturador/internal/ride"
	"github.com/odyssey-erp/facturador/internal/signing"
	"github.com/odyssey-erp/facturador/internal/sri"
	"github.com/odyssey-erp/facturador/report"
)

// RedisOptions returns the queue connection settings.
func (c *Config) RedisOptions() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: c.RedisAddr, Password: c.RedisPassword, DB: c.RedisDB}
}

// CacheOptions returns the go-redis connection settings.
func (c *Config) CacheOptions() cache.Options {
	return cache.Options{Addr: c.RedisAddr, Password: c.RedisPassword, DB: c.RedisDB}
}

// NewInvoiceService builds the orchestrator over the given store.
func NewInvoiceService(cfg *Config, store invoice.Store, logger *slog.Logger) *invoice.Service {
	return invoice.NewService(store, invoice.Config{
		Issuer:      cfg.Issuer(),
		DefaultRate: cfg.DefaultRate(),
		Logger:      logger,
	})
}

// NewSigner selects the signing provider. Test mode always signs locally.
func NewSigner(cfg *Config) signing.Signer {
	if cfg.Signer == "remote" && !InTestMode() {
		return signing.NewRemoteSigner(cfg.SigningServiceURL, cfg.SigningServiceToken, cfg.SigningTimeout)
	}
	return signing.NewMockSigner()
}

// NewAuthority selects the authority adapter. Test mode always uses the
// in-process fixture.
func NewAuthority(cfg *Config) sri.Authority {
	if cfg.SRIAdapter == "soap" && !InTestMode() {
		// per-call deadlines come from the gateway
		return sri.NewSOAPClient(cfg.Endpoints(), &http.Client{})
	}
	return sri.NewMockAuthority()
}

// NewGateway wraps the authority with the configured polling budget.
func NewGateway(cfg *Config, authority sri.Authority, logger *slog.Logger) *sri.Gateway {
	return sri.NewGateway(authority, sri.GatewayConfig{
		MaxRetries:   cfg.SRIMaxRetries,
		PollInterval: cfg.SRIPollInterval,
		CallTimeout:  cfg.SRICallTimeout,
		Logger:       logger,
	})
}

// NewRenderer selects the RIDE engine.
func NewRenderer(cfg *Config) (ride.Renderer, error) {
	switch cfg.RideEngine {
	case "gotenberg":
		renderer, err := ride.NewGotenbergRenderer(report.NewClient(cfg.GotenbergURL, report.Options{PDFA: cfg.GotenbergPDFA}), cfg.Issuer(), cfg.RideOutputDir)
		if err != nil {
			return nil, fmt.Errorf("init gotenberg renderer: %w", err)
		}
		return renderer, nil
	default:
		return ride.NewPDFRenderer(cfg.Issuer(), cfg.RideOutputDir), nil
	}
}

// CheckCertificate inspects the configured PKCS#12 bundle. It fails for an
// unusable certificate and warns when expiry is near. No path means nothing
// to check.
func CheckCertificate(cfg *Config, logger *slog.Logger, now time.Time) error {
	if cfg.SigningCertPath == "" || InTestMode() {
		return nil
	}
	info, err := signing.InspectCertificate(cfg.SigningCertPath, cfg.SigningCertPassword)
	if err != nil {
		return err
	}
	soon, err := info.Check(now)
	if err != nil {
		return err
	}
	if soon {
		logger.Warn("signing certificate expires soon",
			slog.String("subject", info.Subject),
			slog.Time("not_after", info.NotAfter))
	}
	return nil
}
