// Copyright (c) MemBroker Authors.
// Licensed under the MIT License.

/*
Package handlers implements the request handlers of the MemBroker HTTP API.

# Overview

The handlers package carries the request handling for every HTTP endpoint:
storing and querying memory entries, per-agent summaries, system analytics,
broker status, maintenance triggering, runtime configuration, and health
checks, together with the shared response and error envelope.

# Core types

  - MemoryHandler: store, query, get, agent summary, and analytics
  - StatusHandler: broker status snapshot and maintenance trigger
  - ConfigHandler: runtime config read/update/reload/rollback
  - HealthHandler: service health checks (/health, /healthz, /ready)
  - Response: uniform JSON envelope (success + data + error + timestamp)
  - ErrorInfo: structured error with code, message, retryable flag
  - ResponseWriter: wraps http.ResponseWriter to capture the status code
  - HealthCheck: pluggable dependency probe (backends register one each)

# Capabilities

  - Uniform responses through WriteSuccess / WriteError / WriteJSON
  - Request validation: DecodeJSONBody (1 MB cap, strict mode), ValidateContentType
  - Broker error codes map onto HTTP statuses via types.Error.HTTPStatus
  - Request ids from the context are echoed in every envelope
  - Readiness aggregates registered HealthCheck probes with latencies
*/
package handlers
