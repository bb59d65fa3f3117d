// Package main is the booster command line: it runs a poller or a socket
// relay inside a worker context and prints what comes back.
//
// Usage:
//
//	# Poll from a profile, one JSON record per line
//	booster poll -profile feed.yaml
//
//	# Poll a URL every 5s, rebuilding the context every 100 requests
//	booster poll -url https://example.com/feed -frequency 5000 -refresh 100
//
//	# Relay stdin lines over a websocket and print inbound frames
//	booster socket -url wss://example.com/ws -transform trim
//
// Configuration comes from the environment (see internal/infrastructure/config).
// BOOSTER_STATUS_ENABLED or -status serves /health, /hosts and /metrics.
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
