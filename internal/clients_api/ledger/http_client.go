package ledger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"nft-sales-monitor/internal/infra/config"
	"nft-sales-monitor/internal/infra/log"
	"nft-sales-monitor/internal/infra/metrics"
	"nft-sales-monitor/internal/infra/retry"
)

// httpClient is the transport shared by every provider: rate limiter,
// circuit breaker and bounded retry around a plain GET.
type httpClient struct {
	provider        string
	baseURL         string
	headers         map[string]string
	httpClient      *http.Client
	rateLimiter     *rate.Limiter
	circuitBreaker  *gobreaker.CircuitBreaker
	retry           retry.Options
	maxResponseSize int64
	metrics         *metrics.Metrics
}

func newHTTPClient(provider string, cfg *config.LedgerConfig, headers map[string]string, m *metrics.Metrics) *httpClient {
	timeout := cfg.Timeout()
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	rps := cfg.RateLimit
	if rps <= 0 {
		rps = 1
	}
	maxSize := cfg.MaxResponseSize
	if maxSize <= 0 {
		maxSize = 10 * 1024 * 1024
	}

	c := &httpClient{
		provider:        provider,
		baseURL:         strings.TrimRight(cfg.BaseURL, "/"),
		headers:         headers,
		rateLimiter:     rate.NewLimiter(rate.Limit(rps), 1),
		maxResponseSize: maxSize,
		metrics:         m,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 90 * time.Second,
			},
		},
	}

	c.circuitBreaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        provider,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		// A 4xx other than 429 is the caller's fault, not an outage.
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			var he *retry.HTTPError
			if errors.As(err, &he) {
				return he.StatusCode >= 400 && he.StatusCode < 500 && he.StatusCode != http.StatusTooManyRequests
			}
			return false
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.LogWarn("Circuit breaker state changed",
				zap.String("provider", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})

	c.retry = retry.Options{
		MaxRetries: cfg.MaxRetries,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   10 * time.Second,
		OnRetry: func(attempt int, err error, sleep time.Duration) {
			m.RecordLedgerRetry(provider)
			log.LogWarn("Retrying ledger request",
				zap.String("provider", provider),
				zap.Int("attempt", attempt+1),
				zap.Duration("sleep", sleep),
				zap.Error(err))
		},
	}
	return c
}

// get performs one logical request. Each attempt waits on the rate limiter
// and goes through the circuit breaker.
func (c *httpClient) get(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	if ctx.Err() != nil {
		return nil, fmt.Errorf("context cancelled: %w", ctx.Err())
	}

	var respBody []byte
	err := retry.Do(ctx, c.retry, func() error {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter wait failed: %w", err)
		}
		_, err := c.circuitBreaker.Execute(func() (interface{}, error) {
			body, err := c.doRequest(ctx, endpoint, params)
			if err != nil {
				return nil, err
			}
			respBody = body
			return nil, nil
		})
		return err
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			log.LogError("Circuit breaker rejected request", zap.String("provider", c.provider), zap.String("endpoint", endpoint), zap.Error(err))
		}
		return nil, err
	}
	return respBody, nil
}

func (c *httpClient) doRequest(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	requestID := log.GenerateRequestID()
	startTime := time.Now()

	fullURL := c.baseURL + endpoint
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	log.LogRequest(requestID, http.MethodGet, endpoint, zap.String("provider", c.provider))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.observe("error", startTime)
		log.LogResponse(requestID, 0, time.Since(startTime).Milliseconds(), zap.String("endpoint", endpoint), zap.Error(err))
		return nil, fmt.Errorf("failed to perform request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxResponseSize))
	duration := time.Since(startTime).Milliseconds()
	if err != nil {
		c.observe("error", startTime)
		log.LogResponse(requestID, resp.StatusCode, duration, zap.String("endpoint", endpoint), zap.Error(err))
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.observe(strconv.Itoa(resp.StatusCode), startTime)
		log.LogResponse(requestID, resp.StatusCode, duration, zap.String("endpoint", endpoint), zap.String("error", "API error response received"))
		return nil, &retry.HTTPError{
			StatusCode: resp.StatusCode,
			Body:       body,
			RetryAfter: retry.ParseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	c.observe("success", startTime)
	log.LogResponse(requestID, resp.StatusCode, duration, zap.String("endpoint", endpoint), zap.String("status", "success"))
	return body, nil
}

func (c *httpClient) observe(status string, start time.Time) {
	c.metrics.RecordLedgerCall(c.provider, status, time.Since(start).Seconds())
}
