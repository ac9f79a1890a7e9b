// Copyright (c) MemBroker Authors.
// Licensed under the MIT License.

// Package server manages an HTTP server's lifecycle: non-blocking
// start, an optional concurrent connection cap, graceful shutdown, and
// SIGINT/SIGTERM handling.
package server
