package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full configuration of a membroker process. Sections map to
// the components they configure; the cmd wiring translates them into the
// component-level option structs.
type Config struct {
	// Server configures the HTTP API.
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// FastStore configures the low-latency backend.
	FastStore FastStoreConfig `yaml:"fast_store" env:"FAST"`

	// AnalyticalStore configures the durable query-rich backend.
	AnalyticalStore AnalyticalStoreConfig `yaml:"analytical_store" env:"ANALYTICAL"`

	// Broker configures cache, routing and maintenance.
	Broker BrokerConfig `yaml:"broker" env:"BROKER"`

	// Log configures the zap logger.
	Log LogConfig `yaml:"log" env:"LOG"`

	// Metrics configures Prometheus metric export.
	Metrics MetricsConfig `yaml:"metrics" env:"METRICS"`

	// Telemetry configures OTLP trace and metric export.
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`

	// Auth configures API authentication.
	Auth AuthConfig `yaml:"auth" env:"AUTH"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	// HTTPPort is the API listen port.
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// ReadTimeout bounds reading one request.
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// WriteTimeout bounds writing one response.
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// MaxConns caps concurrently accepted connections. 0 means unlimited.
	MaxConns int `yaml:"max_conns" env:"MAX_CONNS"`
	// RateLimitRPS is the sustained request budget per client.
	RateLimitRPS float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	// RateLimitBurst is the burst allowance on top of RateLimitRPS.
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
}

// FastStoreConfig configures the fast backend. Driver "redis" is the only
// fast driver today; the field exists so the wire format does not change
// when another one lands.
type FastStoreConfig struct {
	Driver    string `yaml:"driver" env:"DRIVER"`
	Addr      string `yaml:"addr" env:"ADDR"`
	Password  string `yaml:"password" env:"PASSWORD"`
	TLS       bool   `yaml:"tls" env:"TLS"`
	DB        int    `yaml:"db" env:"DB"`
	PoolSize  int    `yaml:"pool_size" env:"POOL_SIZE"`
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
}

// AnalyticalStoreConfig configures the analytical backend. Driver selects
// "sql" or "mongo"; the unused section is ignored.
type AnalyticalStoreConfig struct {
	Driver string `yaml:"driver" env:"DRIVER"`

	// SQL driver settings.
	Dialect         string        `yaml:"dialect" env:"DIALECT"`
	DSN             string        `yaml:"dsn" env:"DSN"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
	MigrateOnStart  bool          `yaml:"migrate_on_start" env:"MIGRATE_ON_START"`

	// Mongo driver settings.
	MongoURI      string `yaml:"mongo_uri" env:"MONGO_URI"`
	MongoDatabase string `yaml:"mongo_database" env:"MONGO_DATABASE"`
}

// BrokerConfig tunes the broker internals.
type BrokerConfig struct {
	// CacheCapacity bounds the in-process index. 0 keeps the built-in
	// default.
	CacheCapacity int `yaml:"cache_capacity" env:"CACHE_CAPACITY"`
	// TelemetryCapacity bounds the rolling sample buffer.
	TelemetryCapacity int `yaml:"telemetry_capacity" env:"TELEMETRY_CAPACITY"`
	// SuccessFloor is the success rate under which a backend is dropped
	// from hybrid plans.
	SuccessFloor float64 `yaml:"success_floor" env:"SUCCESS_FLOOR"`
	// MaintenanceInterval is the period between background sweeps.
	MaintenanceInterval time.Duration `yaml:"maintenance_interval" env:"MAINTENANCE_INTERVAL"`
	// ReweightWindow is how many recent samples per backend feed the
	// routing bias.
	ReweightWindow int `yaml:"reweight_window" env:"REWEIGHT_WINDOW"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level" env:"LEVEL"`
	// Format is json or console.
	Format string `yaml:"format" env:"FORMAT"`
	// OutputPaths lists zap sink URLs.
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// EnableCaller annotates entries with file:line.
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// EnableStacktrace attaches stack traces at error level.
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// MetricsConfig configures Prometheus export.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" env:"ENABLED"`
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
}

// TelemetryConfig configures OTLP export.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// AuthConfig configures bearer token authentication on the API.
type AuthConfig struct {
	Enabled   bool          `yaml:"enabled" env:"ENABLED"`
	JWTSecret string        `yaml:"jwt_secret" env:"JWT_SECRET"`
	TokenTTL  time.Duration `yaml:"token_ttl" env:"TOKEN_TTL"`
}

// Loader assembles a Config from defaults, an optional YAML file, and
// environment variables, in that order.
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("membroker.yaml").
//	    Load()
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader creates a loader with the MEMBROKER env prefix.
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "MEMBROKER",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath sets the YAML file to load. A missing file is not an
// error; defaults and env apply.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix overrides the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator appends a validation step run after loading.
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load resolves the configuration. Precedence: defaults, then YAML file,
// then environment variables.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv walks the struct and overrides any field whose
// <prefix>_<env tag> variable is set.
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// time.Duration parses as a duration string, not an integer.
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// Comma-separated lists for string slices.
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// MustLoad loads the configuration from path or panics. For main().
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv loads the configuration from defaults and environment alone.
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

// Validate checks cross-field consistency of the resolved configuration.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if c.Server.RateLimitRPS < 0 {
		errs = append(errs, "rate_limit_rps must not be negative")
	}

	if c.FastStore.Driver != "redis" {
		errs = append(errs, fmt.Sprintf("unknown fast store driver %q", c.FastStore.Driver))
	}

	switch c.AnalyticalStore.Driver {
	case "sql":
		switch c.AnalyticalStore.Dialect {
		case "sqlite", "postgres", "mysql":
		default:
			errs = append(errs, fmt.Sprintf("unknown sql dialect %q", c.AnalyticalStore.Dialect))
		}
	case "mongo":
		if c.AnalyticalStore.MongoURI == "" {
			errs = append(errs, "mongo_uri is required for the mongo driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown analytical store driver %q", c.AnalyticalStore.Driver))
	}

	if c.Broker.SuccessFloor < 0 || c.Broker.SuccessFloor > 1 {
		errs = append(errs, "success_floor must be within [0, 1]")
	}
	if c.Broker.MaintenanceInterval < 0 {
		errs = append(errs, "maintenance_interval must not be negative")
	}

	if c.Auth.Enabled && c.Auth.JWTSecret == "" {
		errs = append(errs, "jwt_secret is required when auth is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}
