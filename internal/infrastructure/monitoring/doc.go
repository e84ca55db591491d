/*
Package monitoring provides metrics collection for dreamstream.

# Overview

Prometheus metrics for the input-to-request pipeline: input events, pacing
policy firings, prompt submissions, stream frames, live images and the local
preview server. Each Metrics value owns its registry, so several sessions (or
tests) never collide on registration.

# Usage

	metrics := monitoring.NewMetrics()
	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	timer := monitoring.NewTimer(metrics)
	// ... submit prompt ...
	timer.Stop("ok")

A nil *Metrics is valid and records nothing.
*/
package monitoring
