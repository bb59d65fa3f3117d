package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/booster/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/booster/internal/worker"
)

// Config tunes the client
type Config struct {
	UserAgent       string
	RateLimitRPS    float64
	RetryMax        int
	BreakerFailures int
}

// DefaultConfig returns an unlimited, non-retrying client config
func DefaultConfig() Config {
	return Config{
		UserAgent:       "booster/1.0",
		RetryMax:        0,
		BreakerFailures: 10,
	}
}

// errServerFailure marks a passed-through 5xx for the breaker.
var errServerFailure = errors.New("server error")

// Client wraps resty with rate limiting and a circuit breaker
type Client struct {
	resty   *resty.Client
	limiter *rate.Limiter
	breaker *resilience.Breaker
	logger  *zap.Logger
}

// New creates a client
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("http")

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = cfg.RetryMax
	retryClient.RetryWaitMin = 100 * time.Millisecond
	retryClient.RetryWaitMax = 5 * time.Second
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler
	retryClient.Logger = leveled{logger.Sugar()}

	restyClient := resty.New().
		SetTransport(&retryablehttp.RoundTripper{Client: retryClient}).
		SetCookieJar(jar).
		SetLogger(logger.Sugar()).
		SetHeader("User-Agent", cfg.UserAgent)

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimitRPS > 0 {
		burst := int(cfg.RateLimitRPS)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), burst)
	}

	return &Client{
		resty:   restyClient,
		limiter: limiter,
		breaker: newBreaker(cfg.BreakerFailures, logger),
		logger:  logger,
	}, nil
}

func newBreaker(failures int, logger *zap.Logger) *resilience.Breaker {
	if failures <= 0 {
		return resilience.Disabled("http-external")
	}
	return resilience.New("http-external", resilience.Settings{
		Probes:   1,
		Window:   60 * time.Second,
		Cooldown: 30 * time.Second,
		Trip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(failures)
		},
		Classify: func(err error) bool {
			// Caller cancellation says nothing about the remote's health.
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnTransition: func(name string, from, to resilience.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
}

// BreakerState returns the current circuit breaker state
func (c *Client) BreakerState() resilience.State {
	return c.breaker.State()
}

// Do performs req. A response is returned for every status code; errors
// are transport failures, breaker rejections or worker.ErrTimeout.
func (c *Client) Do(ctx context.Context, req worker.Request) (*worker.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, classify(ctx, fmt.Errorf("rate limit error: %w", err))
	}

	var out *worker.Response
	err := c.breaker.Guard(func() error {
		resp, err := c.resty.R().
			SetContext(ctx).
			SetHeaders(req.Headers).
			SetBody(bodyOf(req)).
			Execute(strings.ToUpper(req.Method), req.URL)
		if err != nil {
			return err
		}

		out = &worker.Response{
			StatusCode: resp.StatusCode(),
			Body:       resp.Body(),
			Header:     resp.Header(),
		}
		if resp.StatusCode() >= http.StatusInternalServerError {
			return errServerFailure
		}
		return nil
	})

	switch {
	case errors.Is(err, errServerFailure):
		return out, nil
	case errors.Is(err, resilience.ErrCircuitOpen), errors.Is(err, resilience.ErrTooManyRequests):
		c.logger.Debug("Request rejected by breaker", zap.String("url", req.URL), zap.Error(err))
		return nil, fmt.Errorf("external service unavailable: %w", err)
	case err != nil:
		return nil, classify(ctx, fmt.Errorf("%s %s: %w", req.Method, req.URL, err))
	}
	return out, nil
}

func bodyOf(req worker.Request) any {
	if req.Body == "" {
		return nil
	}
	return req.Body
}

// classify maps deadline errors onto worker.ErrTimeout.
func classify(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", worker.ErrTimeout, err)
	}
	return err
}

// leveled adapts zap to retryablehttp.LeveledLogger.
type leveled struct {
	s *zap.SugaredLogger
}

func (l leveled) Error(msg string, kv ...interface{}) { l.s.Errorw(msg, kv...) }
func (l leveled) Info(msg string, kv ...interface{})  { l.s.Debugw(msg, kv...) }
func (l leveled) Debug(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }
func (l leveled) Warn(msg string, kv ...interface{})  { l.s.Warnw(msg, kv...) }

var _ retryablehttp.LeveledLogger = leveled{}
var _ worker.Requester = (*Client)(nil)
