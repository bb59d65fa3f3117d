/*
Package monitoring provides Prometheus metrics for worker hosts and their jobs.

# Overview

Every collector is registered on a private registry so several boosters,
and tests, can coexist in one process. A nil *Metrics is accepted
everywhere and records nothing.

# Features

- Worker host lifecycle (spawned, active, graceful/forced/failed ends)
- Boundary traffic by direction and message label
- Protocol violations and context faults
- Poll requests by method and outcome, duration histogram, refreshes
- Socket frames and deferred sends
- Status server request metrics (Gin middleware)

# Usage

	metrics := monitoring.NewMetrics()
	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))
*/
package monitoring
