package clients

import (
	"context"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// RetryConfig controls how upstream HTTP calls are retried
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64
	Jitter         float64 // 0-1
	RetryStatuses  []int
}

// DefaultRetryConfig retries throttling and gateway failures a few times.
// Inventory lookups run inside a user request, so the budget is small.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		BackoffFactor:  2.0,
		Jitter:         0.1,
		RetryStatuses: []int{
			http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout,
		},
	}
}

// Attempt summarises a retried call
type Attempt struct {
	Count      int
	RetryAfter time.Duration
	Elapsed    time.Duration
}

// Retrier re-issues HTTP requests with exponential backoff
type Retrier struct {
	config *RetryConfig
	wait   func(ctx context.Context, d time.Duration) error
}

// NewRetrier creates a retrier. A nil config uses DefaultRetryConfig.
func NewRetrier(config *RetryConfig) *Retrier {
	if config == nil {
		config = DefaultRetryConfig()
	}
	return &Retrier{config: config, wait: sleepContext}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (r *Retrier) retryable(statusCode int) bool {
	for _, code := range r.config.RetryStatuses {
		if statusCode == code {
			return true
		}
	}
	return false
}

// Backoff returns the delay before the given zero-based retry. A Retry-After
// hint from the server takes precedence.
func (r *Retrier) Backoff(attempt int, retryAfter time.Duration) time.Duration {
	if retryAfter > 0 {
		if retryAfter > r.config.MaxBackoff {
			return r.config.MaxBackoff
		}
		return retryAfter
	}

	backoff := float64(r.config.InitialBackoff) * math.Pow(r.config.BackoffFactor, float64(attempt))
	if r.config.Jitter > 0 {
		backoff += backoff * r.config.Jitter * (rand.Float64()*2 - 1)
	}
	if backoff > float64(r.config.MaxBackoff) {
		backoff = float64(r.config.MaxBackoff)
	}
	return time.Duration(backoff)
}

// ParseRetryAfter reads the Retry-After header as seconds or an HTTP date
func ParseRetryAfter(resp *http.Response) time.Duration {
	if resp == nil {
		return 0
	}
	value := resp.Header.Get("Retry-After")
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}
	if t, err := http.ParseTime(value); err == nil {
		return time.Until(t)
	}
	return 0
}

// DoHTTP runs send until it yields a non-retryable response, the retry budget
// is spent or ctx ends. Bodies of discarded responses are closed; the caller
// owns the body of the returned response.
func (r *Retrier) DoHTTP(ctx context.Context, send func(ctx context.Context) (*http.Response, error)) (*http.Response, Attempt, error) {
	var attempt Attempt
	start := time.Now()

	for i := 0; ; i++ {
		attempt.Count = i + 1
		resp, err := send(ctx)

		retry := false
		switch {
		case err != nil:
			retry = ctx.Err() == nil
		case r.retryable(resp.StatusCode):
			retry = true
			attempt.RetryAfter = ParseRetryAfter(resp)
		}

		if !retry || i >= r.config.MaxRetries {
			attempt.Elapsed = time.Since(start)
			return resp, attempt, err
		}
		if resp != nil {
			resp.Body.Close()
		}

		if werr := r.wait(ctx, r.Backoff(i, attempt.RetryAfter)); werr != nil {
			attempt.Elapsed = time.Since(start)
			return nil, attempt, werr
		}
	}
}

// CircuitState is the state of a CircuitBreaker
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

// CircuitBreaker stops calling an upstream after consecutive failures and lets
// a probe through once resetTimeout has passed.
type CircuitBreaker struct {
	mu           sync.Mutex
	failures     int
	state        CircuitState
	openedAt     time.Time
	threshold    int
	resetTimeout time.Duration
	now          func() time.Time
}

// NewCircuitBreaker creates a closed circuit breaker
func NewCircuitBreaker(threshold int, resetTimeout time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 5
	}
	return &CircuitBreaker{threshold: threshold, resetTimeout: resetTimeout, now: time.Now}
}

// Allow reports whether a call may be made
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitOpen:
		if cb.now().Sub(cb.openedAt) >= cb.resetTimeout {
			cb.state = CircuitHalfOpen
			return true
		}
		return false
	default:
		return true
	}
}

// RecordSuccess closes the circuit
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.state = CircuitClosed
}

// RecordFailure counts a failure and opens the circuit at the threshold.
// A failed half-open probe reopens it immediately.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	if cb.state == CircuitHalfOpen || cb.failures >= cb.threshold {
		cb.state = CircuitOpen
		cb.openedAt = cb.now()
	}
}

// State returns the current state
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
