// Copyright (c) MemBroker Authors.
// Licensed under the MIT License.

// Package migration manages versioned schema migrations for the
// analytical SQL store, built on golang-migrate with embedded
// per-dialect migration files for PostgreSQL, MySQL, and SQLite.
//
// The tabular store can bootstrap its own schema for development and
// tests; production deployments run these migrations instead, either
// at startup via migrate_on_start or through the migrate subcommand
// backed by the CLI type.
package migration
