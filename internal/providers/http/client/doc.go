// Package client is the HTTP capability handed to isolated contexts.
//
// Built on go-resty/resty over a go-retryablehttp transport:
//   - Per-client rate limiting (golang.org/x/time/rate)
//   - Circuit breaker around every request (internal/infrastructure/resilience)
//   - Cookie jar with the public suffix list
//   - Context-based cancellation and timeouts
//
// Non-2xx responses are returned, not treated as errors; a 5xx still counts
// against the breaker. Retries are off unless Config.RetryMax is set.
//
// Example Usage:
//
//	c, err := client.New(client.DefaultConfig(), logger)
//	host := worker.Spawn(reg, worker.WithRequester(c))
package client
