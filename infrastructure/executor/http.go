package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/vigilsec/sentinel/domain/entity"
)

// HTTPExecutorConfig defines configuration for the HTTP executor
type HTTPExecutorConfig struct {
	// GatewayURL is the base URL of the response gateway; actions are
	// posted to <GatewayURL>/actions/<action>.
	GatewayURL string        `json:"gateway_url"`
	Timeout    time.Duration `json:"timeout"`
	MaxRetries int           `json:"max_retries"`
	RetryDelay time.Duration `json:"retry_delay"`

	// Circuit breaker settings
	BreakerMaxFailures uint32        `json:"breaker_max_failures"`
	BreakerOpenTimeout time.Duration `json:"breaker_open_timeout"`
}

// HTTPExecutor posts actions to a response gateway. Requests are
// wrapped in a circuit breaker so a dead gateway fails fast instead of
// stalling every playbook run.
type HTTPExecutor struct {
	logger  *zap.Logger
	config  *HTTPExecutorConfig
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

// NewHTTPExecutor creates an executor targeting the configured gateway
func NewHTTPExecutor(logger *zap.Logger, config *HTTPExecutorConfig) (*HTTPExecutor, error) {
	if config == nil || config.GatewayURL == "" {
		return nil, fmt.Errorf("gateway URL is required")
	}

	// Set defaults
	if config.Timeout == 0 {
		config.Timeout = 15 * time.Second
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = 2
	}
	if config.RetryDelay == 0 {
		config.RetryDelay = 500 * time.Millisecond
	}
	if config.BreakerMaxFailures == 0 {
		config.BreakerMaxFailures = 5
	}
	if config.BreakerOpenTimeout == 0 {
		config.BreakerOpenTimeout = 30 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "response-gateway",
		Timeout: config.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.BreakerMaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Response gateway breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &HTTPExecutor{
		logger:  logger.With(zap.String("component", "http-executor")),
		config:  config,
		client:  &http.Client{Timeout: config.Timeout},
		breaker: breaker,
	}, nil
}

// actionResponse is the gateway's reply envelope
type actionResponse struct {
	Status string            `json:"status"`
	Result map[string]string `json:"result"`
	Error  string            `json:"error,omitempty"`
}

// Execute posts the action to the gateway, retrying transient
// failures with a fixed delay.
func (e *HTTPExecutor) Execute(ctx context.Context, action entity.PlaybookAction, params map[string]string) (map[string]string, error) {
	var lastErr error
	for attempt := 0; attempt <= e.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(e.config.RetryDelay):
			}
		}

		result, err := e.post(ctx, action, params)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			// No point retrying while the breaker is open
			break
		}

		e.logger.Warn("Action execution attempt failed",
			zap.String("action", string(action)),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}

	return nil, errors.Wrapf(lastErr, "action %s failed", action)
}

func (e *HTTPExecutor) post(ctx context.Context, action entity.PlaybookAction, params map[string]string) (map[string]string, error) {
	payload, err := json.Marshal(params)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode action parameters")
	}

	raw, err := e.breaker.Execute(func() (interface{}, error) {
		url := fmt.Sprintf("%s/actions/%s", e.config.GatewayURL, action)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := e.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("gateway returned %d: %s", resp.StatusCode, body)
		}

		var decoded actionResponse
		if err := json.Unmarshal(body, &decoded); err != nil {
			return nil, errors.Wrap(err, "failed to decode gateway response")
		}
		if decoded.Status != "ok" {
			return nil, fmt.Errorf("gateway rejected action: %s", decoded.Error)
		}
		return decoded.Result, nil
	})
	if err != nil {
		return nil, err
	}

	return raw.(map[string]string), nil
}
