// Package config provides 12-factor configuration management for booster.
//
// Configuration is loaded from environment variables with sensible defaults.
// CLI flags can override environment variables.
//
// Configuration Sections:
//   - Status: optional status server (health, metrics, hosts)
//   - Logging: Log level and output format
//   - Worker: close grace period and inbox size
//   - Poll: default timeout and frequency
//   - HTTP: user agent, rate limit, retries, breaker threshold
//   - Socket: send retry interval and handshake timeout
//   - RateLimit: Per-IP rate limiting for the status server
//
// Poll profiles are YAML or TOML files decoded into poll.Settings by
// LoadProfile.
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	settings, err := config.LoadProfile("feed.yaml")
package config
