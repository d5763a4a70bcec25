// internal/common/camunda/client.go
package camunda

import (
	"context"
	"fmt"
	"strings"
	"time"

	"construction-estimator/internal/common/logger"
	"construction-estimator/internal/common/retry"

	"github.com/camunda/zeebe/clients/go/v8/pkg/zbc"
)

// Client wraps the Zeebe gRPC client with connection retry and health checks.
type Client struct {
	client zbc.Client
	config *ClientConfig
}

// ClientConfig holds configuration for the Camunda/Zeebe client.
type ClientConfig struct {
	GatewayAddress         string
	UsePlaintextConnection bool
	ConnectionTimeout      time.Duration
	RetryConfig            *RetryConfig
}

// RetryConfig defines retry behavior for transient failures.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

var DefaultRetryConfig = &RetryConfig{
	MaxRetries: 10,
	BaseDelay:  1 * time.Second,
	MaxDelay:   10 * time.Second,
}

// connector builds a zbc.Client; swapped in tests.
type connector func(cfg *zbc.ClientConfig) (zbc.Client, error)

// NewClientWithConfig dials the gateway and waits for a topology response,
// retrying transient connection failures with capped exponential backoff.
func NewClientWithConfig(ctx context.Context, config *ClientConfig, log logger.Logger) (*Client, error) {
	return newClient(ctx, config, log, zbc.NewClient)
}

func newClient(ctx context.Context, config *ClientConfig, log logger.Logger, connect connector) (*Client, error) {
	if config.RetryConfig == nil {
		config.RetryConfig = DefaultRetryConfig
	}
	if config.ConnectionTimeout <= 0 {
		config.ConnectionTimeout = 10 * time.Second
	}

	policy := retry.Policy{
		MaxRetries: config.RetryConfig.MaxRetries,
		BaseDelay:  config.RetryConfig.BaseDelay,
		MaxDelay:   config.RetryConfig.MaxDelay,
		Retryable:  isRetryableZeebeError,
		OnRetry: func(attempt int, delay time.Duration, err error) {
			log.Warn("zeebe connection failed, retrying", map[string]interface{}{
				"operation":  "zeebe connect",
				"attempt":    attempt,
				"maxRetries": config.RetryConfig.MaxRetries,
				"delayMs":    delay.Milliseconds(),
				"error":      err.Error(),
			})
		},
	}

	zeebeClient, err := retry.Do(ctx, policy, func(ctx context.Context) (zbc.Client, error) {
		zc, err := connect(&zbc.ClientConfig{
			GatewayAddress:         config.GatewayAddress,
			UsePlaintextConnection: config.UsePlaintextConnection,
		})
		if err != nil {
			return nil, err
		}

		pingCtx, cancel := context.WithTimeout(ctx, config.ConnectionTimeout)
		defer cancel()
		if _, err := zc.NewTopologyCommand().Send(pingCtx); err != nil {
			_ = zc.Close()
			return nil, err
		}
		return zc, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Zeebe broker at %s: %w", config.GatewayAddress, err)
	}

	return &Client{
		client: zeebeClient,
		config: config,
	}, nil
}

// GetClient returns the raw Zeebe client for job polling.
func (c *Client) GetClient() zbc.Client {
	return c.client
}

// Close releases the underlying gRPC connection.
func (c *Client) Close() error {
	return c.client.Close()
}

// isRetryableZeebeError checks if the error is transient and should be retried.
func isRetryableZeebeError(err error) bool {
	msg := strings.ToLower(err.Error())
	retryablePhrases := []string{
		"connection refused",
		"connection reset",
		"timeout",
		"deadline exceeded",
		"unavailable",
		"unreachable",
		"broken pipe",
	}
	for _, phrase := range retryablePhrases {
		if strings.Contains(msg, phrase) {
			return true
		}
	}
	return false
}

// HealthCheck performs a basic health check against the Zeebe broker.
func (c *Client) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.ConnectionTimeout)
	defer cancel()

	if _, err := c.client.NewTopologyCommand().Send(ctx); err != nil {
		return fmt.Errorf("zeebe health check failed: %w", err)
	}
	return nil
}
