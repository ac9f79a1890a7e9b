// Copyright (c) MemBroker Authors.
// Licensed under the MIT License.

/*
Package main is the membroker server executable.

# Overview

cmd/membroker wires configuration, the storage backends, and the broker
into one HTTP process. It loads YAML configuration with environment
overrides, logs through zap, exports Prometheus metrics and OTLP traces,
and hot-reloads the config file while running.

# Core types

  - Server: process wiring for backends, broker, HTTP, and hot reload
  - Middleware: HTTP middleware signature func(http.Handler) http.Handler
  - IPRateLimiter: per-IP token bucket, retunable at runtime

# Capabilities

  - Subcommands: serve, migrate (up/down/status/version/goto/force/reset),
    version, health
  - Middleware chain: Recovery, RequestID, SecurityHeaders, RequestLogger,
    OTelTracing, MetricsMiddleware, IPRateLimiter, JWTAuth (HS256 bearer)
  - Hot reload: the log level and rate limiter knobs apply to the running
    process; everything else is recorded for the next start
  - Schema migrations run automatically at startup when the analytical
    store is relational and migrate_on_start is set
  - Graceful shutdown: HTTP drain, broker close, telemetry flush
  - Build injection: Version, BuildTime, GitCommit via ldflags
*/
package main
