package verify

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel/propagation"
)

// ErrCircuitOpen is returned while the breaker rejects calls.
var ErrCircuitOpen = errors.New("verify: circuit breaker open")

// retryClient wraps http.Client with exponential backoff, jitter and a
// circuit breaker. Trace context from ctx is propagated on every attempt.
type retryClient struct {
	client     *http.Client
	maxRetries int
	baseDelay  time.Duration
	breaker    *circuitBreaker
}

func newRetryClient(hc *http.Client) *retryClient {
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &retryClient{
		client:     hc,
		maxRetries: 3,
		baseDelay:  100 * time.Millisecond,
		breaker:    newCircuitBreaker("explorer", 5, 10*time.Second),
	}
}

// do sends the request built by newReq. 5xx responses and transport errors
// are retried; anything else is returned to the caller.
func (c *retryClient) do(ctx context.Context, newReq func(context.Context) (*http.Request, error)) (*http.Response, error) {
	if !c.breaker.allow() {
		return nil, fmt.Errorf("%w: %s", ErrCircuitOpen, c.breaker.name)
	}

	var (
		resp *http.Response
		err  error
	)
	for i := 0; i <= c.maxRetries; i++ {
		var req *http.Request
		req, err = newReq(ctx)
		if err != nil {
			return nil, err
		}
		propagation.TraceContext{}.Inject(ctx, propagation.HeaderCarrier(req.Header))

		resp, err = c.client.Do(req)
		if err == nil && resp.StatusCode < 500 {
			c.breaker.success()
			return resp, nil
		}
		if i == c.maxRetries {
			break
		}
		if resp != nil {
			_ = resp.Body.Close()
		}

		backoff := c.baseDelay << i
		if n, jerr := rand.Int(rand.Reader, big.NewInt(50)); jerr == nil {
			backoff += time.Duration(n.Int64()) * time.Millisecond
		}
		select {
		case <-ctx.Done():
			c.breaker.failure()
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}

	c.breaker.failure()
	if err == nil {
		err = fmt.Errorf("verify: explorer returned %s", resp.Status)
		_ = resp.Body.Close()
	}
	return nil, err
}

type breakerState int

const (
	closed breakerState = iota
	open
	halfOpen
)

type circuitBreaker struct {
	mu           sync.Mutex
	name         string
	failures     int
	threshold    int
	lastFailure  time.Time
	resetTimeout time.Duration
	state        breakerState
	now          func() time.Time
}

func newCircuitBreaker(name string, threshold int, reset time.Duration) *circuitBreaker {
	return &circuitBreaker{name: name, threshold: threshold, resetTimeout: reset, now: time.Now}
}

func (cb *circuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == open {
		if cb.now().Sub(cb.lastFailure) > cb.resetTimeout {
			cb.state = halfOpen
			return true
		}
		return false
	}
	return true
}

func (cb *circuitBreaker) success() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = closed
	cb.failures = 0
}

func (cb *circuitBreaker) failure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures++
	cb.lastFailure = cb.now()
	if cb.state == halfOpen || cb.failures >= cb.threshold {
		cb.state = open
	}
}
