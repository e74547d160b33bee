// Package retry retries option-chain lookups on transient failures with
// capped, jittered exponential backoff.
package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/eddiefleurent/spx_expiry_regression/internal/chain"
	"github.com/eddiefleurent/spx_expiry_regression/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// Config controls retry behavior.
type Config struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Timeout        time.Duration
}

// DefaultConfig is used when no Config is passed to NewClient.
var DefaultConfig = Config{
	MaxRetries:     3,
	InitialBackoff: 1 * time.Second,
	MaxBackoff:     30 * time.Second,
	Timeout:        2 * time.Minute,
}

// Client retries calls to a chain.Provider.
type Client struct {
	provider chain.Provider
	logger   logrus.FieldLogger
	config   Config
}

// Ensure Client implements chain.Provider at compile time.
var _ chain.Provider = (*Client)(nil)

// NewClient wraps provider. The first config, if any, overrides DefaultConfig.
func NewClient(provider chain.Provider, logger logrus.FieldLogger, config ...Config) *Client {
	cfg := DefaultConfig
	if len(config) > 0 {
		cfg = config[0]
	}
	if logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		logger = l
	}

	return &Client{
		provider: provider,
		logger:   logger,
		config:   cfg,
	}
}

// OptionChain implements chain.Provider.
func (c *Client) OptionChain(ctx context.Context, underlying string, at time.Time) ([]models.Symbol, error) {
	return c.OptionChainWithRetry(ctx, underlying, at)
}

// OptionChainWithRetry fetches the chain, retrying transient errors until the
// retry budget or the overall timeout is exhausted.
func (c *Client) OptionChainWithRetry(ctx context.Context, underlying string, at time.Time) ([]models.Symbol, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	var lastErr error
	backoff := c.config.InitialBackoff

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("operation canceled: %w", ctx.Err())
		}
		if callCtx.Err() != nil {
			return nil, fmt.Errorf("chain lookup timed out after %v: %w", c.config.Timeout, callCtx.Err())
		}

		log := c.logger.WithFields(logrus.Fields{
			"underlying": underlying,
			"attempt":    attempt + 1,
			"of":         c.config.MaxRetries + 1,
		})

		contracts, err := c.provider.OptionChain(callCtx, underlying, at)
		if err == nil {
			if attempt > 0 {
				log.Info("Option chain fetched after retry")
			}
			return contracts, nil
		}

		lastErr = err
		log.WithError(err).Warn("Option chain attempt failed")

		if !IsTransient(err) || attempt == c.config.MaxRetries {
			break
		}

		log.WithField("backoff", backoff).Debug("Transient error detected, retrying")
		select {
		case <-time.After(backoff):
			backoff = c.calculateNextBackoff(backoff)
		case <-ctx.Done():
			return nil, fmt.Errorf("operation canceled during backoff: %w", ctx.Err())
		case <-callCtx.Done():
			return nil, fmt.Errorf("chain lookup timed out during backoff: %w", callCtx.Err())
		}
	}

	return nil, fmt.Errorf("failed to fetch %s option chain after %d attempts: %w",
		underlying, c.config.MaxRetries+1, lastErr)
}

func (c *Client) calculateNextBackoff(currentBackoff time.Duration) time.Duration {
	backoff := time.Duration(float64(currentBackoff) * 1.5)
	if backoff > c.config.MaxBackoff {
		backoff = c.config.MaxBackoff
	}

	maxJitter := int64(backoff / 4)
	if maxJitter > 0 {
		jitterVal, err := rand.Int(rand.Reader, big.NewInt(maxJitter))
		if err != nil {
			c.logger.WithError(err).Warn("Failed to generate jitter")
		} else {
			backoff += time.Duration(jitterVal.Int64())
		}
	}

	return backoff
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return false
	}
	if errors.Is(err, chain.ErrNoChain) || errors.Is(err, context.Canceled) {
		return false
	}

	var apiErr *chain.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status == http.StatusTooManyRequests || apiErr.Status >= http.StatusInternalServerError
	}

	errStr := strings.ToLower(err.Error())

	transientPatterns := []string{
		"timeout",
		"connection refused",
		"connection reset",
		"temporary failure",
		"server error",
		"rate limit",
		"network",
		"dns",
		"tcp",
		"eof",
	}

	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}
