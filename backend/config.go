package backend

import "time"

// Driver selects the adapter implementation behind a routing role.
type Driver string

const (
	DriverRedis Driver = "redis"
	DriverSQL   Driver = "sql"
	DriverMongo Driver = "mongo"
)

// SQLDialect selects the relational engine for the tabular driver.
type SQLDialect string

const (
	DialectSQLite   SQLDialect = "sqlite"
	DialectPostgres SQLDialect = "postgres"
	DialectMySQL    SQLDialect = "mysql"
)

// Config is the configuration for one storage adapter.
type Config struct {
	// Driver is the adapter implementation: redis, sql, or mongo.
	Driver Driver `json:"driver" yaml:"driver"`

	// Role is the routing role the adapter serves: fast or analytical.
	Role Role `json:"role" yaml:"role"`

	// Redis configuration (driver "redis").
	Redis RedisConfig `json:"redis" yaml:"redis"`

	// SQL configuration (driver "sql").
	SQL SQLConfig `json:"sql" yaml:"sql"`

	// Mongo configuration (driver "mongo").
	Mongo MongoConfig `json:"mongo" yaml:"mongo"`
}

// RedisConfig contains Redis-specific configuration for the fast store.
type RedisConfig struct {
	// Addr is the host:port of the Redis server.
	Addr string `json:"addr" yaml:"addr"`

	// Password is the Redis password (optional).
	Password string `json:"password" yaml:"password"`

	// TLS connects with the hardened client TLS configuration. Required
	// by most managed Redis offerings.
	TLS bool `json:"tls" yaml:"tls"`

	// DB is the Redis database number.
	DB int `json:"db" yaml:"db"`

	// PoolSize is the connection pool size.
	PoolSize int `json:"pool_size" yaml:"pool_size"`

	// KeyPrefix is the prefix for all keys written by the adapter.
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix"`

	// TokenEncoding names the tiktoken encoding used to annotate blobs
	// with an approximate token count. Empty selects the default.
	TokenEncoding string `json:"token_encoding" yaml:"token_encoding"`
}

// SQLConfig contains configuration for the tabular store.
type SQLConfig struct {
	// Dialect is the relational engine: sqlite, postgres, or mysql.
	Dialect SQLDialect `json:"dialect" yaml:"dialect"`

	// DSN is the engine-specific connection string.
	DSN string `json:"dsn" yaml:"dsn"`

	// MaxOpenConns caps open connections (default 25).
	MaxOpenConns int `json:"max_open_conns" yaml:"max_open_conns"`

	// MaxIdleConns caps idle connections (default 5).
	MaxIdleConns int `json:"max_idle_conns" yaml:"max_idle_conns"`

	// ConnMaxLifetime recycles connections after this age (default 1h).
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" yaml:"conn_max_lifetime"`

	// MigrateOnStart runs the embedded schema migrations when the
	// adapter is created.
	MigrateOnStart bool `json:"migrate_on_start" yaml:"migrate_on_start"`
}

// MongoConfig contains configuration for the document store.
type MongoConfig struct {
	// URI is the MongoDB connection string.
	URI string `json:"uri" yaml:"uri"`

	// Database is the database holding the per-category collections.
	Database string `json:"database" yaml:"database"`

	// ConnectTimeout bounds the initial connection probe (default 10s).
	ConnectTimeout time.Duration `json:"connect_timeout" yaml:"connect_timeout"`
}

// DefaultFastConfig returns the default fast-store configuration:
// Redis on localhost.
func DefaultFastConfig() Config {
	return Config{
		Driver: DriverRedis,
		Role:   RoleFast,
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			DB:        0,
			PoolSize:  10,
			KeyPrefix: "membroker:",
		},
	}
}

// DefaultAnalyticalConfig returns the default analytical-store
// configuration: embedded sqlite.
func DefaultAnalyticalConfig() Config {
	return Config{
		Driver: DriverSQL,
		Role:   RoleAnalytical,
		SQL: SQLConfig{
			Dialect:         DialectSQLite,
			DSN:             "file:membroker.db?mode=rwc",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: time.Hour,
			MigrateOnStart:  true,
		},
		Mongo: MongoConfig{
			ConnectTimeout: 10 * time.Second,
		},
	}
}
