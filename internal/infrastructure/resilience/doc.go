/*
Package resilience provides the circuit breaker that fronts outbound HTTP.

A poller hammering a dead endpoint should fail fast instead of stacking up
requests that cannot succeed. The breaker counts outcomes per generation and
moves between three states:

	Closed --[Trip]--> Open --[Cooldown]--> Half-Open --[Probes succeed]--> Closed
	                                            |
	                                        [failure]
	                                            v
	                                          Open

Outcomes reported for a request admitted in an earlier generation are
dropped, so a slow response cannot close a breaker that tripped after it
was sent.

# Usage

	breaker := resilience.New("http-external", resilience.Settings{
		Cooldown: 30 * time.Second,
		Trip: func(c resilience.Counts) bool {
			return c.ConsecutiveFailures >= 10
		},
	})

	err := breaker.Guard(func() error {
		return fetch(ctx)
	})

Guard covers the common case. Allow is the two-step form for callers whose
outcome arrives later:

	done, err := breaker.Allow()
	if err != nil {
		return err
	}
	go func() { done(send() == nil) }()

Tests drive expiry with a benbjohnson/clock mock through Settings.Clock.
*/
package resilience
