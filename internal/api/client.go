package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/brensch/mpduck/internal/config"
	"github.com/brensch/mpduck/internal/util"
)

const userAgent = "mpduck/0.1 (Go-client)"

// Client talks to the analytics HTTP API.
//
// All requests share one rate limiter and one circuit breaker, so a Client
// must be shared between fetch workers rather than created per worker.
// Safe for concurrent use.
type Client struct {
	cfg     config.APIConfig
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[*http.Response]
	logger  *slog.Logger
}

// NewClient builds a client from cfg.
func NewClient(cfg config.APIConfig, logger *slog.Logger) *Client {
	rph := cfg.RequestsPerHour
	if rph <= 0 {
		rph = config.DefaultRequestsPerHour
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	l := logger.With(slog.String("component", "api"))
	return &Client{
		cfg:     cfg,
		http:    util.DefaultHTTPClient(cfg.Timeout),
		limiter: rate.NewLimiter(rate.Every(time.Hour/time.Duration(rph)), burst),
		breaker: newBreaker("analytics-api", l),
		logger:  l,
	}
}

// do sends the request built by newReq, pacing it through the limiter and the
// circuit breaker and retrying HTTP 429 with exponential backoff.
// On success the caller owns resp.Body.
func (c *Client) do(ctx context.Context, endpoint string, newReq func(context.Context) (*http.Request, error)) (*http.Response, error) {
	var lastRetryAfter time.Duration

	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &Error{Kind: KindTransport, Endpoint: endpoint, Message: "rate limiter wait aborted", Cause: err}
		}

		resp, err := c.breaker.Execute(func() (*http.Response, error) {
			req, err := newReq(ctx)
			if err != nil {
				return nil, &Error{Kind: KindTransport, Endpoint: endpoint, Message: "failed to create request", Cause: err}
			}
			req.SetBasicAuth(c.cfg.Username, c.cfg.Secret)
			req.Header.Set("User-Agent", userAgent)
			req.Header.Set("Accept", "application/json")

			resp, err := c.http.Do(req)
			if err != nil {
				return nil, &Error{Kind: KindTransport, Endpoint: endpoint, Message: "HTTP request failed", Cause: err}
			}
			if resp.StatusCode >= http.StatusInternalServerError {
				defer resp.Body.Close()
				return nil, &Error{Kind: KindServer, Endpoint: endpoint, Status: resp.StatusCode, Message: errorMessage(resp)}
			}
			return resp, nil
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return nil, &Error{Kind: KindServer, Endpoint: endpoint, Message: "circuit breaker rejected request", Cause: err}
			}
			return nil, err
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			resp.Body.Close()
			delay := c.cfg.RetryBaseDelay * time.Duration(1<<uint(attempt))
			if ra := parseRetryAfter(resp.Header.Get("Retry-After")); ra > 0 {
				delay = ra
				lastRetryAfter = ra
			}
			if attempt == c.cfg.MaxRetries {
				continue
			}
			c.logger.Warn("Rate limited, backing off.", slog.String("endpoint", endpoint), slog.Int("attempt", attempt+1), slog.Duration("delay", delay))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, &Error{Kind: KindTransport, Endpoint: endpoint, Message: "backoff aborted", Cause: ctx.Err()}
			}
			continue
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			defer resp.Body.Close()
			return nil, &Error{Kind: KindAuth, Endpoint: endpoint, Status: resp.StatusCode, Message: errorMessage(resp)}
		case resp.StatusCode >= http.StatusBadRequest:
			defer resp.Body.Close()
			return nil, &Error{Kind: KindQuery, Endpoint: endpoint, Status: resp.StatusCode, Message: errorMessage(resp)}
		}
		return resp, nil
	}

	return nil, &Error{
		Kind:       KindRateLimit,
		Endpoint:   endpoint,
		Status:     http.StatusTooManyRequests,
		Message:    fmt.Sprintf("rate limit exceeded after %d retries", c.cfg.MaxRetries),
		RetryAfter: lastRetryAfter,
	}
}

// errorMessage extracts {"error": "..."} from an error body, falling back to the raw text.
func errorMessage(resp *http.Response) string {
	body := util.ReadBodyForError(resp.Body)
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	if len(body) == 0 {
		return resp.Status
	}
	return string(body)
}

// parseRetryAfter understands the delay-seconds form of Retry-After.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
