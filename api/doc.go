// Package api defines the wire types of the MemBroker HTTP API.
//
// # API Overview
//
// MemBroker exposes a RESTful API for:
//   - Storing memory entries into the hybrid fast/analytical store
//   - Querying and reading back entries with filters and ordering
//   - Per-agent memory summaries and system-wide analytics
//   - Broker status, on-demand maintenance, and runtime configuration
//   - Health monitoring and Prometheus metrics
//
// # Authentication
//
// When authentication is enabled, endpoints under /api/v1 require a bearer
// token:
//
//	Authorization: Bearer <jwt>
//
// Health probes, /version, and /metrics stay open so orchestrators and
// scrapers can reach them without credentials.
//
// # Base URL
//
// The default base URL for the API is:
//
//	http://localhost:8080
//
// All request and response bodies are JSON. Responses are wrapped in the
// handlers.Response envelope except for health probes and /metrics.
package api
