// Package membroker provides a top-level convenience entry point for
// creating a memory broker with minimal boilerplate.
//
// Usage:
//
//	import "github.com/BaSui01/membroker"
//
//	b, err := membroker.New()
//	b, err := membroker.New(membroker.WithRedis("redis:6379"), membroker.WithPostgres(dsn))
//	b, err := membroker.New(membroker.WithFastAdapter(fast), membroker.WithAnalyticalAdapter(analytical))
//
// Without options New connects to Redis on localhost for the fast store
// and opens an embedded sqlite database for the analytical store, creating
// the schema on first use. The returned broker runs its maintenance loop
// until Close is called.
//
// Deployments that need the full configuration surface (HTTP API, hot
// reload, metrics) should run cmd/membroker instead; this package is for
// embedding the broker in another process.
package membroker

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/membroker/backend"
	"github.com/BaSui01/membroker/broker"
	"github.com/BaSui01/membroker/retention"
)

// Option configures the broker created by [New].
type Option func(*options)

type options struct {
	fast       backend.Adapter
	analytical backend.Adapter
	logger     *zap.Logger

	// Backend shortcut fields, used when the adapters are nil.
	fastConfig       backend.Config
	analyticalConfig backend.Config

	cacheCapacity       int
	maintenanceInterval time.Duration
}

// WithFastAdapter sets a pre-built fast store adapter.
func WithFastAdapter(a backend.Adapter) Option {
	return func(o *options) { o.fast = a }
}

// WithAnalyticalAdapter sets a pre-built analytical store adapter.
func WithAnalyticalAdapter(a backend.Adapter) Option {
	return func(o *options) { o.analytical = a }
}

// WithRedis points the fast store at the given Redis address. The
// password is read from the MEMBROKER_FAST_PASSWORD environment variable
// unless [WithRedisPassword] sets one.
func WithRedis(addr string) Option {
	return func(o *options) {
		o.fastConfig.Driver = backend.DriverRedis
		o.fastConfig.Redis.Addr = addr
		if o.fastConfig.Redis.Password == "" {
			o.fastConfig.Redis.Password = os.Getenv("MEMBROKER_FAST_PASSWORD")
		}
	}
}

// WithRedisPassword overrides the Redis password for [WithRedis].
func WithRedisPassword(password string) Option {
	return func(o *options) { o.fastConfig.Redis.Password = password }
}

// WithRedisTLS connects to Redis over TLS with hardened client defaults.
func WithRedisTLS() Option {
	return func(o *options) { o.fastConfig.Redis.TLS = true }
}

// WithSQLite opens the analytical store on an embedded sqlite database.
func WithSQLite(dsn string) Option {
	return func(o *options) {
		o.analyticalConfig.Driver = backend.DriverSQL
		o.analyticalConfig.SQL.Dialect = backend.DialectSQLite
		o.analyticalConfig.SQL.DSN = dsn
	}
}

// WithPostgres points the analytical store at a PostgreSQL database.
func WithPostgres(dsn string) Option {
	return func(o *options) {
		o.analyticalConfig.Driver = backend.DriverSQL
		o.analyticalConfig.SQL.Dialect = backend.DialectPostgres
		o.analyticalConfig.SQL.DSN = dsn
	}
}

// WithMySQL points the analytical store at a MySQL database.
func WithMySQL(dsn string) Option {
	return func(o *options) {
		o.analyticalConfig.Driver = backend.DriverSQL
		o.analyticalConfig.SQL.Dialect = backend.DialectMySQL
		o.analyticalConfig.SQL.DSN = dsn
	}
}

// WithMongo points the analytical store at a MongoDB database.
func WithMongo(uri, database string) Option {
	return func(o *options) {
		o.analyticalConfig.Driver = backend.DriverMongo
		o.analyticalConfig.Mongo.URI = uri
		o.analyticalConfig.Mongo.Database = database
	}
}

// WithLogger sets a custom zap logger. Defaults to zap.NewNop().
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithCacheCapacity bounds the in-process cache index.
func WithCacheCapacity(n int) Option {
	return func(o *options) { o.cacheCapacity = n }
}

// WithMaintenanceInterval sets the period between background retention
// sweeps.
func WithMaintenanceInterval(d time.Duration) Option {
	return func(o *options) { o.maintenanceInterval = d }
}

// New creates a broker with minimal configuration.
func New(opts ...Option) (*broker.Broker, error) {
	o := &options{
		fastConfig:       backend.DefaultFastConfig(),
		analyticalConfig: backend.DefaultAnalyticalConfig(),
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.logger == nil {
		o.logger = zap.NewNop()
	}

	// Resolve adapters. Pre-built adapters win over shortcuts, and only
	// adapters built here are closed on a failed start.
	fast := o.fast
	builtFast := false
	if fast == nil {
		var err error
		fast, err = backend.New(o.fastConfig, o.logger)
		if err != nil {
			return nil, fmt.Errorf("create fast store: %w", err)
		}
		builtFast = true
	}

	analytical := o.analytical
	builtAnalytical := false
	if analytical == nil {
		var err error
		analytical, err = backend.New(o.analyticalConfig, o.logger)
		if err != nil {
			if builtFast {
				fast.Close()
			}
			return nil, fmt.Errorf("create analytical store: %w", err)
		}
		builtAnalytical = true
	}

	// Embedded relational stores get their schema created in place;
	// callers who bring their own adapter run migrations themselves.
	if builtAnalytical {
		if ts, ok := analytical.(*backend.TabularStore); ok && o.analyticalConfig.SQL.MigrateOnStart {
			if err := ts.EnsureSchema(context.Background()); err != nil {
				if builtFast {
					fast.Close()
				}
				analytical.Close()
				return nil, fmt.Errorf("ensure analytical schema: %w", err)
			}
		}
	}

	cfg := broker.Config{
		CacheCapacity: o.cacheCapacity,
		Maintenance:   retention.Config{Interval: o.maintenanceInterval},
	}

	return broker.New(fast, analytical, cfg, o.logger), nil
}
