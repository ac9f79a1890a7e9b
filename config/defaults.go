package config

import "time"

// DefaultConfig returns the configuration a bare process starts with:
// Redis on localhost for the fast store, embedded sqlite for the
// analytical store, and a quiet JSON logger.
func DefaultConfig() *Config {
	return &Config{
		Server:          DefaultServerConfig(),
		FastStore:       DefaultFastStoreConfig(),
		AnalyticalStore: DefaultAnalyticalStoreConfig(),
		Broker:          DefaultBrokerConfig(),
		Log:             DefaultLogConfig(),
		Metrics:         DefaultMetricsConfig(),
		Telemetry:       DefaultTelemetryConfig(),
		Auth:            DefaultAuthConfig(),
	}
}

// DefaultServerConfig returns the default HTTP server configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		MaxConns:        0,
		RateLimitRPS:    100,
		RateLimitBurst:  200,
	}
}

// DefaultFastStoreConfig returns the default fast store configuration.
func DefaultFastStoreConfig() FastStoreConfig {
	return FastStoreConfig{
		Driver:    "redis",
		Addr:      "localhost:6379",
		Password:  "",
		DB:        0,
		PoolSize:  10,
		KeyPrefix: "membroker:",
	}
}

// DefaultAnalyticalStoreConfig returns the default analytical store
// configuration: embedded sqlite, migrated on start.
func DefaultAnalyticalStoreConfig() AnalyticalStoreConfig {
	return AnalyticalStoreConfig{
		Driver:          "sql",
		Dialect:         "sqlite",
		DSN:             "file:membroker.db?mode=rwc",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
		MigrateOnStart:  true,
		MongoDatabase:   "membroker",
	}
}

// DefaultBrokerConfig returns the default broker tuning. Zeroes defer to
// the component defaults.
func DefaultBrokerConfig() BrokerConfig {
	return BrokerConfig{
		CacheCapacity:       1000,
		TelemetryCapacity:   1000,
		SuccessFloor:        0.9,
		MaintenanceInterval: 4 * time.Hour,
		ReweightWindow:      100,
	}
}

// DefaultLogConfig returns the default logger configuration.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultMetricsConfig returns the default metrics configuration.
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:   true,
		Namespace: "membroker",
	}
}

// DefaultTelemetryConfig returns the default telemetry configuration.
// Export is off until an endpoint is deliberately configured.
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "membroker",
		SampleRate:   0.1,
	}
}

// DefaultAuthConfig returns the default auth configuration: open.
func DefaultAuthConfig() AuthConfig {
	return AuthConfig{
		Enabled:  false,
		TokenTTL: 24 * time.Hour,
	}
}
