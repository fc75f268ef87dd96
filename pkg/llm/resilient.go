package llm

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"
)

// Doer executes HTTP requests.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ResilientClient wraps http.Client with retries (exponential backoff and
// jitter) and a circuit breaker. Only transport errors and 5xx/429 replies
// are retried, and only when the request body can be replayed.
type ResilientClient struct {
	client     *http.Client
	maxRetries int
	baseDelay  time.Duration
	breaker    *CircuitBreaker
}

func NewResilientClient(client *http.Client, maxRetries int) *ResilientClient {
	return &ResilientClient{
		client:     client,
		maxRetries: maxRetries,
		baseDelay:  200 * time.Millisecond,
		breaker:    NewCircuitBreaker("llm", 5, 30*time.Second),
	}
}

func retryable(resp *http.Response, err error) bool {
	if err != nil {
		return true
	}
	return resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
}

func replayable(req *http.Request) bool {
	return req.Body == nil || req.Body == http.NoBody || req.GetBody != nil
}

func (c *ResilientClient) Do(req *http.Request) (*http.Response, error) {
	if !c.breaker.Allow() {
		return nil, fmt.Errorf("circuit breaker open for %s", c.breaker.name)
	}

	var (
		resp *http.Response
		err  error
	)
	for attempt := 0; ; attempt++ {
		if attempt > 0 && req.GetBody != nil {
			body, bodyErr := req.GetBody()
			if bodyErr != nil {
				return nil, fmt.Errorf("replay request body: %w", bodyErr)
			}
			req.Body = body
		}

		resp, err = c.client.Do(req)
		if !retryable(resp, err) {
			c.breaker.Success()
			return resp, nil
		}
		if attempt == c.maxRetries || req.Context().Err() != nil || !replayable(req) {
			break
		}
		if resp != nil {
			_ = resp.Body.Close()
		}

		backoff := c.baseDelay << attempt
		if n, randErr := rand.Int(rand.Reader, big.NewInt(50)); randErr == nil {
			backoff += time.Duration(n.Int64()) * time.Millisecond
		}
		select {
		case <-time.After(backoff):
		case <-req.Context().Done():
			c.breaker.Failure()
			return nil, req.Context().Err()
		}
	}

	c.breaker.Failure()
	return resp, err
}

// CircuitBreaker opens after threshold consecutive failures and lets one
// probe through once resetTimeout has passed.
type CircuitBreaker struct {
	mu           sync.Mutex
	name         string
	failureCount int
	threshold    int
	lastFailure  time.Time
	resetTimeout time.Duration
	state        string // "CLOSED", "OPEN", "HALF_OPEN"
	clock        func() time.Time
}

func NewCircuitBreaker(name string, threshold int, timeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		name:         name,
		threshold:    threshold,
		resetTimeout: timeout,
		state:        "CLOSED",
		clock:        time.Now,
	}
}

func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == "OPEN" {
		if cb.clock().Sub(cb.lastFailure) > cb.resetTimeout {
			cb.state = "HALF_OPEN"
			return true
		}
		return false
	}
	return true
}

func (cb *CircuitBreaker) Success() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = "CLOSED"
	cb.failureCount = 0
}

func (cb *CircuitBreaker) Failure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failureCount++
	cb.lastFailure = cb.clock()
	if cb.state == "HALF_OPEN" || cb.failureCount >= cb.threshold {
		cb.state = "OPEN"
	}
}

// State returns the breaker state for diagnostics.
func (cb *CircuitBreaker) State() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
