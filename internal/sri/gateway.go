package sri

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

const (
	DefaultMaxRetries   = 12
	DefaultPollInterval = 5 * time.Second
	DefaultCallTimeout  = 30 * time.Second
)

// GatewayConfig tunes the polling behaviour of a Gateway.
type GatewayConfig struct {
	MaxRetries   int
	PollInterval time.Duration
	CallTimeout  time.Duration
	Logger       *slog.Logger
}

// Gateway wraps an Authority with per-call timeouts, error classification and
// bounded authorization polling.
type Gateway struct {
	authority    Authority
	maxRetries   int
	pollInterval time.Duration
	callTimeout  time.Duration
	logger       *slog.Logger
	sleep        func(context.Context, time.Duration) error
}

// NewGateway constructs a Gateway, filling zero config values with defaults.
func NewGateway(authority Authority, cfg GatewayConfig) *Gateway {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.PollInterval < 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		authority:    authority,
		maxRetries:   cfg.MaxRetries,
		pollInterval: cfg.PollInterval,
		callTimeout:  cfg.CallTimeout,
		logger:       logger,
		sleep:        sleepContext,
	}
}

// WithSleep overrides the wait between polls for deterministic tests.
func (g *Gateway) WithSleep(sleep func(context.Context, time.Duration) error) {
	if sleep != nil {
		g.sleep = sleep
	}
}

// Submit sends a signed document to reception. A DEVUELTA answer is returned
// together with an *AuthorityError wrapping ErrReceptionRejected.
func (g *Gateway) Submit(ctx context.Context, signedXML string, env Environment, accessKey string) (ReceptionResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()
	result, err := g.authority.Submit(callCtx, signedXML, env)
	if err != nil {
		return ReceptionResult{}, classify(err)
	}
	if !result.Accepted {
		g.logger.Warn("sri reception rejected",
			slog.String("access_key", accessKey),
			slog.Int("messages", len(result.Messages)))
		return result, &AuthorityError{Kind: ErrReceptionRejected, AccessKey: accessKey, Messages: result.Messages}
	}
	g.logger.Info("sri reception accepted", slog.String("access_key", accessKey))
	return result, nil
}

// AwaitAuthorization polls until the document is AUTORIZADO or NO AUTORIZADO
// or the query budget is spent. A rejection returns the result with an error
// wrapping ErrAuthorizationRejected; an exhausted budget wraps
// ErrAuthorizationTimeout. Transport errors abort the loop.
func (g *Gateway) AwaitAuthorization(ctx context.Context, accessKey string, env Environment) (AuthorizationResult, error) {
	var last AuthorizationResult
	for attempt := 1; attempt <= g.maxRetries; attempt++ {
		result, err := g.check(ctx, accessKey, env)
		if err != nil {
			return AuthorizationResult{}, err
		}
		last = result
		switch result.Status {
		case StatusAuthorized:
			g.logger.Info("sri authorization granted",
				slog.String("access_key", accessKey),
				slog.String("authorization_number", result.Number),
				slog.Int("attempt", attempt))
			return result, nil
		case StatusNotAuthorized:
			return result, &AuthorityError{Kind: ErrAuthorizationRejected, AccessKey: accessKey, Messages: result.Messages}
		}
		g.logger.Debug("sri authorization in process",
			slog.String("access_key", accessKey),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", g.maxRetries))
		if attempt < g.maxRetries {
			if err := g.sleep(ctx, g.pollInterval); err != nil {
				return AuthorizationResult{}, err
			}
		}
	}
	return last, &AuthorityError{Kind: ErrAuthorizationTimeout, AccessKey: accessKey, Messages: last.Messages}
}

func (g *Gateway) check(ctx context.Context, accessKey string, env Environment) (AuthorizationResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()
	result, err := g.authority.CheckAuthorization(callCtx, accessKey, env)
	if err != nil {
		return AuthorizationResult{}, classify(err)
	}
	return result, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, ErrConnection), errors.Is(err, ErrInvalidResponse):
		return err
	case errors.Is(err, context.Canceled):
		return err
	}
	return fmt.Errorf("%w: %v", ErrConnection, err)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
