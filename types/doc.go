// Copyright (c) MemBroker Authors.
// Licensed under the MIT License.

/*
Package types provides the shared type definitions for the MemBroker memory
broker.

# Overview

types is the lowest-level public package. It depends on no other membroker
package and defines the contracts shared by the cache, the routing policy,
the backend adapters, and the broker facade: the memory entry model, the
query model, the closed category enumeration with its retention table, and
the structured error taxonomy.

# Core types

  - MemoryCategory: closed, 8-value classification; each category carries
    a base retention duration and a static backend preference
  - MemoryEntry: a persisted memory record; ids are derived
    deterministically from category, content hash, creation time, and owner
  - MemoryQuery: retrieval filter (categories, owner, time range,
    substring, importance threshold, limit) with a single shared Matches
    predicate used by the cache and by backend fallback paths
  - Error / ErrorCode: structured errors (VALIDATION, PROVIDER_UNAVAILABLE,
    SERIALIZATION, NOT_FOUND, INTERNAL) with cause chaining

# Invariants

Importance is clamped into [0, 1] at construction. RetentionDuration is
computed once at construction (base * (1 + importance*2)) and never changes.
Only AccessCount and LastAccessedAt mutate after creation, and only as a side
effect of a successful retrieval. Query limits are validated against a hard
ceiling, never silently clamped.
*/
package types
