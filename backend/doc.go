// Copyright (c) MemBroker Authors.
// Licensed under the MIT License.

/*
Package backend provides the storage adapters the broker routes memory
operations across.

# Overview

Every backend implements one capability interface, Adapter: put, get, search,
delete, health check. The broker never talks to a storage client directly;
it talks to adapters selected by the routing policy. Three drivers ship:

  - fastmem: Redis-backed fast store keyed by entry id with owner and
    category index sets, low latency, best-effort scans (driver "redis")
  - tabular: GORM-backed analytical store with one table per category and
    exact filtering, higher latency, complete results (driver "sql";
    sqlite, postgres, and mysql dialects)
  - document: MongoDB-backed analytical store with one collection per
    category, exact filtering via native queries (driver "mongo")

# Health

HealthCheck failures mark an adapter down for the current routing decision
only. Down-state is never persisted; each decision re-checks or infers it
from the immediately preceding operation outcome.

# Deletes

Delete is idempotent: removing an id the backend never held is not an
error. Maintenance sweeps fan deletes across every backend without knowing
which one holds a given entry.
*/
package backend
