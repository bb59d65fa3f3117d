// Package server is the optional status server: health, Prometheus
// metrics and the live host fleet, served by gin.
package server
