package config

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// HotReloadManager applies configuration changes to a running process.
// Changes arrive from the file watcher or from the admin API; each
// applied configuration is validated, diffed against the previous one,
// snapshotted into a bounded history, and rolled back if a consumer
// callback rejects it.
type HotReloadManager struct {
	mu sync.RWMutex

	config     *Config
	configPath string

	// Last successfully applied configuration, kept for rollback.
	previousConfig *Config
	configHistory  []ConfigSnapshot
	maxHistorySize int
	validateFunc   ValidateFunc

	watcher *FileWatcher

	changeCallbacks   []ChangeCallback
	reloadCallbacks   []ReloadCallback
	rollbackCallbacks []RollbackCallback

	changeLog []ConfigChange

	logger *zap.Logger

	running bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// ChangeCallback is invoked once per changed field.
type ChangeCallback func(change ConfigChange)

// ReloadCallback is invoked after a new configuration has been applied.
type ReloadCallback func(oldConfig, newConfig *Config)

// ConfigChange records a single field change.
type ConfigChange struct {
	Timestamp time.Time `json:"timestamp"`

	// Source of the change: file, api, or rollback.
	Source string `json:"source"`

	// Dotted field path, for example "Server.HTTPPort".
	Path string `json:"path"`

	// Values before and after. Sensitive fields are redacted.
	OldValue any `json:"old_value,omitempty"`
	NewValue any `json:"new_value,omitempty"`

	RequiresRestart bool   `json:"requires_restart"`
	Applied         bool   `json:"applied"`
	Error           string `json:"error,omitempty"`
}

// ConfigSnapshot is an applied configuration kept in the history ring.
type ConfigSnapshot struct {
	Config    *Config   `json:"config"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	Version   int       `json:"version"`
	Checksum  string    `json:"checksum"`
}

// ValidateFunc vets a candidate configuration before it is applied.
type ValidateFunc func(newConfig *Config) error

// RollbackCallback is invoked when a configuration is rolled back.
type RollbackCallback func(event RollbackEvent)

// RollbackEvent describes a completed rollback.
type RollbackEvent struct {
	Timestamp      time.Time `json:"timestamp"`
	Reason         string    `json:"reason"`
	FailedConfig   *Config   `json:"failed_config"`
	RestoredConfig *Config   `json:"restored_config"`
	Version        int       `json:"version"`
	Error          error     `json:"error,omitempty"`
}

// HotReloadableField describes how a configuration field may change at
// runtime. The admin API serves the registry, so the descriptive fields
// carry JSON tags; validators stay process-local.
type HotReloadableField struct {
	Path        string `json:"path"`
	Description string `json:"description"`

	// RequiresRestart marks fields that only take effect on the next
	// process start.
	RequiresRestart bool `json:"requires_restart"`

	// Sensitive fields are redacted in logs and API responses.
	Sensitive bool `json:"sensitive,omitempty"`

	Validator func(value any) error `json:"-"`
}

// hotReloadableFields is the registry of fields the admin API may
// update. Only the log level and the rate limiter knobs apply to a
// running process; everything else is captured at construction time by
// the component it configures.
var hotReloadableFields = map[string]HotReloadableField{
	"Log.Level": {
		Path:            "Log.Level",
		Description:     "Log level (debug, info, warn, error)",
		RequiresRestart: false,
	},
	"Server.RateLimitRPS": {
		Path:            "Server.RateLimitRPS",
		Description:     "Request rate limit in requests per second",
		RequiresRestart: false,
	},
	"Server.RateLimitBurst": {
		Path:            "Server.RateLimitBurst",
		Description:     "Request rate limit burst size",
		RequiresRestart: false,
	},

	"Log.Format": {
		Path:            "Log.Format",
		Description:     "Log encoder (json, console)",
		RequiresRestart: true,
	},
	"Server.HTTPPort": {
		Path:            "Server.HTTPPort",
		Description:     "HTTP server port",
		RequiresRestart: true,
	},
	"Server.ReadTimeout": {
		Path:            "Server.ReadTimeout",
		Description:     "HTTP read timeout",
		RequiresRestart: true,
	},
	"Server.WriteTimeout": {
		Path:            "Server.WriteTimeout",
		Description:     "HTTP write timeout",
		RequiresRestart: true,
	},

	"FastStore.Addr": {
		Path:            "FastStore.Addr",
		Description:     "Fast store address",
		RequiresRestart: true,
	},
	"FastStore.Password": {
		Path:            "FastStore.Password",
		Description:     "Fast store password",
		RequiresRestart: true,
		Sensitive:       true,
	},
	"AnalyticalStore.DSN": {
		Path:            "AnalyticalStore.DSN",
		Description:     "Analytical store DSN",
		RequiresRestart: true,
		Sensitive:       true,
	},
	"AnalyticalStore.MongoURI": {
		Path:            "AnalyticalStore.MongoURI",
		Description:     "MongoDB connection URI",
		RequiresRestart: true,
		Sensitive:       true,
	},

	"Broker.CacheCapacity": {
		Path:            "Broker.CacheCapacity",
		Description:     "Cache index capacity",
		RequiresRestart: true,
	},
	"Broker.SuccessFloor": {
		Path:            "Broker.SuccessFloor",
		Description:     "Routing success-rate floor",
		RequiresRestart: true,
	},
	"Broker.MaintenanceInterval": {
		Path:            "Broker.MaintenanceInterval",
		Description:     "Maintenance cycle interval",
		RequiresRestart: true,
	},

	"Metrics.Enabled": {
		Path:            "Metrics.Enabled",
		Description:     "Enable Prometheus metrics",
		RequiresRestart: true,
	},
	"Telemetry.Enabled": {
		Path:            "Telemetry.Enabled",
		Description:     "Enable OpenTelemetry tracing",
		RequiresRestart: true,
	},
	"Telemetry.SampleRate": {
		Path:            "Telemetry.SampleRate",
		Description:     "Trace sampling rate",
		RequiresRestart: true,
	},

	"Auth.JWTSecret": {
		Path:            "Auth.JWTSecret",
		Description:     "JWT signing secret",
		RequiresRestart: true,
		Sensitive:       true,
	},
	"Auth.TokenTTL": {
		Path:            "Auth.TokenTTL",
		Description:     "JWT token lifetime",
		RequiresRestart: true,
	},
}

// HotReloadOption configures the HotReloadManager.
type HotReloadOption func(*HotReloadManager)

// WithHotReloadLogger sets the logger.
func WithHotReloadLogger(logger *zap.Logger) HotReloadOption {
	return func(m *HotReloadManager) {
		m.logger = logger
	}
}

// WithConfigPath sets the configuration file to watch and reload from.
func WithConfigPath(path string) HotReloadOption {
	return func(m *HotReloadManager) {
		m.configPath = path
	}
}

// WithMaxHistorySize bounds the configuration history ring.
func WithMaxHistorySize(size int) HotReloadOption {
	return func(m *HotReloadManager) {
		if size > 0 {
			m.maxHistorySize = size
		}
	}
}

// WithValidateFunc installs a validation hook that runs before any
// candidate configuration is applied.
func WithValidateFunc(fn ValidateFunc) HotReloadOption {
	return func(m *HotReloadManager) {
		m.validateFunc = fn
	}
}

// NewHotReloadManager creates a manager seeded with the given
// configuration. The seed becomes version 1 in the history.
func NewHotReloadManager(config *Config, opts ...HotReloadOption) *HotReloadManager {
	m := &HotReloadManager{
		config:            config,
		configHistory:     make([]ConfigSnapshot, 0, 10),
		maxHistorySize:    10,
		changeCallbacks:   make([]ChangeCallback, 0),
		reloadCallbacks:   make([]ReloadCallback, 0),
		rollbackCallbacks: make([]RollbackCallback, 0),
		changeLog:         make([]ConfigChange, 0, 100),
		logger:            zap.NewNop(),
	}

	for _, opt := range opts {
		opt(m)
	}

	m.pushHistory(config, "init")

	return m
}

func (m *HotReloadManager) pushHistory(config *Config, source string) {
	version := 1
	if len(m.configHistory) > 0 {
		version = m.configHistory[len(m.configHistory)-1].Version + 1
	}
	snapshot := ConfigSnapshot{
		Config:    deepCopyConfig(config),
		Timestamp: time.Now(),
		Source:    source,
		Version:   version,
		Checksum:  computeConfigChecksum(config),
	}
	m.configHistory = append(m.configHistory, snapshot)
	if len(m.configHistory) > m.maxHistorySize {
		m.configHistory = m.configHistory[len(m.configHistory)-m.maxHistorySize:]
	}
}

// deepCopyConfig copies a configuration through a JSON round trip.
func deepCopyConfig(config *Config) *Config {
	data, err := json.Marshal(config)
	if err != nil {
		return config
	}
	var copied Config
	if err := json.Unmarshal(data, &copied); err != nil {
		return config
	}
	return &copied
}

// computeConfigChecksum hashes the serialized configuration (FNV-1a).
func computeConfigChecksum(config *Config) string {
	data, err := json.Marshal(config)
	if err != nil {
		return ""
	}
	var hash uint64
	for _, b := range data {
		hash ^= uint64(b)
		hash *= 1099511628211
	}
	return fmt.Sprintf("%016x", hash)
}

// Start begins watching the configuration file, if one was set.
func (m *HotReloadManager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("hot reload manager already running")
	}

	m.ctx, m.cancel = context.WithCancel(ctx)

	if m.configPath != "" {
		watcher, err := NewFileWatcher(
			[]string{m.configPath},
			WithWatcherLogger(m.logger),
			WithDebounceDelay(500*time.Millisecond),
		)
		if err != nil {
			return fmt.Errorf("failed to create file watcher: %w", err)
		}

		watcher.OnChange(m.handleFileChange)

		if err := watcher.Start(m.ctx); err != nil {
			return fmt.Errorf("failed to start file watcher: %w", err)
		}

		m.watcher = watcher
	}

	m.running = true
	m.logger.Info("hot reload manager started",
		zap.String("config_path", m.configPath))

	return nil
}

// Stop stops the manager and its file watcher.
func (m *HotReloadManager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}

	if m.cancel != nil {
		m.cancel()
	}

	if m.watcher != nil {
		if err := m.watcher.Stop(); err != nil {
			m.logger.Error("failed to stop file watcher", zap.Error(err))
		}
	}

	m.running = false
	m.logger.Info("hot reload manager stopped")

	return nil
}

func (m *HotReloadManager) handleFileChange(event FileEvent) {
	m.logger.Info("configuration file changed",
		zap.String("path", event.Path),
		zap.String("op", event.Op.String()))

	if event.Op == FileOpWrite || event.Op == FileOpCreate {
		if err := m.ReloadFromFile(); err != nil {
			m.logger.Error("failed to reload configuration", zap.Error(err))
		}
	}
}

// ReloadFromFile loads, validates, and applies the configuration file.
// On any failure the current configuration stays in effect.
func (m *HotReloadManager) ReloadFromFile() error {
	if m.configPath == "" {
		return fmt.Errorf("no config path set")
	}

	loader := NewLoader().WithConfigPath(m.configPath)
	newConfig, err := loader.Load()
	if err != nil {
		m.logger.Error("failed to load config from file, keeping current config",
			zap.Error(err), zap.String("path", m.configPath))
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := newConfig.Validate(); err != nil {
		m.logger.Error("invalid config from file, keeping current config",
			zap.Error(err), zap.String("path", m.configPath))
		return fmt.Errorf("invalid config: %w", err)
	}

	if err := m.ApplyConfig(newConfig, "file"); err != nil {
		m.logger.Error("failed to apply config", zap.Error(err))
		return err
	}
	return nil
}

// ApplyConfig validates and applies a new configuration. Validation,
// diffing, and the history update happen under one lock; callbacks run
// outside it, and a callback failure rolls the configuration back.
func (m *HotReloadManager) ApplyConfig(newConfig *Config, source string) error {
	m.mu.Lock()

	oldConfig := m.config

	if m.validateFunc != nil {
		if err := m.validateFunc(newConfig); err != nil {
			m.logger.Warn("config validation hook failed",
				zap.Error(err), zap.String("source", source))
			m.changeLog = append(m.changeLog, ConfigChange{
				Timestamp: time.Now(),
				Source:    source,
				Path:      "(validation_hook)",
				Applied:   false,
				Error:     fmt.Sprintf("validation hook failed: %v", err),
			})
			m.mu.Unlock()
			return fmt.Errorf("config validation failed: %w", err)
		}
	}

	changes := m.detectChanges(oldConfig, newConfig)
	var requiresRestart bool
	var appliedChanges []ConfigChange

	for _, change := range changes {
		change.Source = source
		change.Timestamp = time.Now()
		field, known := hotReloadableFields[change.Path]
		if known {
			change.RequiresRestart = field.RequiresRestart
			if field.Sensitive {
				change.OldValue = "[REDACTED]"
				change.NewValue = "[REDACTED]"
			}
		} else {
			// Fields outside the registry are assumed to need a restart.
			change.RequiresRestart = true
		}
		if change.RequiresRestart {
			requiresRestart = true
		}
		change.Applied = true
		appliedChanges = append(appliedChanges, change)
		m.logChange(change)
	}

	m.previousConfig = deepCopyConfig(oldConfig)
	m.config = newConfig

	m.pushHistory(newConfig, source)
	m.changeLog = append(m.changeLog, appliedChanges...)
	if len(m.changeLog) > 1000 {
		m.changeLog = m.changeLog[len(m.changeLog)-1000:]
	}

	changeCallbacks := append([]ChangeCallback(nil), m.changeCallbacks...)
	reloadCallbacks := append([]ReloadCallback(nil), m.reloadCallbacks...)
	m.mu.Unlock()

	if err := m.notifyCallbacksSafe(changeCallbacks, reloadCallbacks, oldConfig, newConfig, appliedChanges); err != nil {
		m.mu.Lock()
		if m.config == newConfig {
			m.logger.Error("callback failed, rolling back", zap.Error(err))
			m.rollbackLocked(oldConfig, fmt.Sprintf("callback error: %v", err), err)
		} else {
			m.logger.Warn("callback failed but config changed concurrently, skip rollback",
				zap.Error(err))
		}
		m.mu.Unlock()
		return fmt.Errorf("config applied but callback failed: %w", err)
	}

	if requiresRestart {
		m.logger.Warn("some configuration changes require restart to take effect")
	}
	m.logger.Info("configuration reloaded",
		zap.Int("changes", len(appliedChanges)),
		zap.Bool("requires_restart", requiresRestart))
	return nil
}

// notifyCallbacksSafe invokes callbacks, converting a panic into an
// error so ApplyConfig can roll back.
func (m *HotReloadManager) notifyCallbacksSafe(changeCallbacks []ChangeCallback, reloadCallbacks []ReloadCallback, oldConfig, newConfig *Config, changes []ConfigChange) (retErr error) {
	defer func() {
		if r := recover(); r != nil {
			retErr = fmt.Errorf("callback panicked: %v", r)
		}
	}()
	for _, cb := range changeCallbacks {
		for _, change := range changes {
			cb(change)
		}
	}
	for _, cb := range reloadCallbacks {
		cb(oldConfig, newConfig)
	}
	return nil
}

func (m *HotReloadManager) detectChanges(oldConfig, newConfig *Config) []ConfigChange {
	var changes []ConfigChange

	oldVal := reflect.ValueOf(oldConfig).Elem()
	newVal := reflect.ValueOf(newConfig).Elem()

	m.compareStructs("", oldVal, newVal, &changes)

	return changes
}

func (m *HotReloadManager) compareStructs(prefix string, oldVal, newVal reflect.Value, changes *[]ConfigChange) {
	if oldVal.Kind() != reflect.Struct || newVal.Kind() != reflect.Struct {
		return
	}

	t := oldVal.Type()
	for i := 0; i < oldVal.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}

		fieldPath := field.Name
		if prefix != "" {
			fieldPath = prefix + "." + field.Name
		}

		oldField := oldVal.Field(i)
		newField := newVal.Field(i)

		if oldField.Kind() == reflect.Struct {
			m.compareStructs(fieldPath, oldField, newField, changes)
		} else {
			if !reflect.DeepEqual(oldField.Interface(), newField.Interface()) {
				*changes = append(*changes, ConfigChange{
					Path:     fieldPath,
					OldValue: oldField.Interface(),
					NewValue: newField.Interface(),
				})
			}
		}
	}
}

func (m *HotReloadManager) logChange(change ConfigChange) {
	fields := []zap.Field{
		zap.String("path", change.Path),
		zap.String("source", change.Source),
		zap.Bool("requires_restart", change.RequiresRestart),
	}

	field, known := hotReloadableFields[change.Path]
	if !known || !field.Sensitive {
		fields = append(fields,
			zap.Any("old_value", change.OldValue),
			zap.Any("new_value", change.NewValue),
		)
	}

	m.logger.Info("configuration changed", fields...)
}

// OnChange registers a per-field change callback.
func (m *HotReloadManager) OnChange(callback ChangeCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.changeCallbacks = append(m.changeCallbacks, callback)
}

// OnReload registers a callback invoked after each applied reload.
func (m *HotReloadManager) OnReload(callback ReloadCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reloadCallbacks = append(m.reloadCallbacks, callback)
}

// Rollback restores the previously applied configuration.
func (m *HotReloadManager) Rollback() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.previousConfig == nil {
		return fmt.Errorf("no previous config available for rollback")
	}
	m.rollbackLocked(m.previousConfig, "manual rollback", nil)
	return nil
}

// RollbackToVersion restores a specific version from the history.
func (m *HotReloadManager) RollbackToVersion(version int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, snapshot := range m.configHistory {
		if snapshot.Version == version {
			m.rollbackLocked(snapshot.Config, fmt.Sprintf("rollback to version %d", version), nil)
			return nil
		}
	}
	return fmt.Errorf("config version %d not found in history", version)
}

// rollbackLocked restores targetConfig. Caller must hold the write lock.
func (m *HotReloadManager) rollbackLocked(targetConfig *Config, reason string, originalErr error) {
	failedConfig := m.config
	restoredConfig := deepCopyConfig(targetConfig)
	m.config = restoredConfig

	restoredVersion := 0
	checksum := computeConfigChecksum(targetConfig)
	for _, snapshot := range m.configHistory {
		if snapshot.Checksum == checksum {
			restoredVersion = snapshot.Version
			break
		}
	}

	event := RollbackEvent{
		Timestamp:      time.Now(),
		Reason:         reason,
		FailedConfig:   failedConfig,
		RestoredConfig: restoredConfig,
		Version:        restoredVersion,
		Error:          originalErr,
	}

	m.changeLog = append(m.changeLog, ConfigChange{
		Timestamp: time.Now(),
		Source:    "rollback",
		Path:      "(rollback)",
		Applied:   true,
		Error:     reason,
	})

	for _, cb := range m.rollbackCallbacks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error("rollback callback panicked", zap.Any("panic", r))
				}
			}()
			cb(event)
		}()
	}

	m.logger.Warn("configuration rolled back",
		zap.String("reason", reason),
		zap.Int("restored_version", restoredVersion))
}

// OnRollback registers a rollback event callback.
func (m *HotReloadManager) OnRollback(callback RollbackCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollbackCallbacks = append(m.rollbackCallbacks, callback)
}

// GetConfigHistory returns a copy of the configuration history.
func (m *HotReloadManager) GetConfigHistory() []ConfigSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]ConfigSnapshot, len(m.configHistory))
	copy(result, m.configHistory)
	return result
}

// GetCurrentVersion returns the version of the active configuration.
func (m *HotReloadManager) GetCurrentVersion() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.configHistory) == 0 {
		return 0
	}
	return m.configHistory[len(m.configHistory)-1].Version
}

// GetConfig returns a copy of the active configuration.
func (m *HotReloadManager) GetConfig() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return deepCopyConfig(m.config)
}

// GetChangeLog returns the most recent changes, newest last.
func (m *HotReloadManager) GetChangeLog(limit int) []ConfigChange {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 || limit > len(m.changeLog) {
		limit = len(m.changeLog)
	}

	start := len(m.changeLog) - limit
	result := make([]ConfigChange, limit)
	copy(result, m.changeLog[start:])

	return result
}

// UpdateField updates a single registered field. Unknown fields are
// rejected, which makes the registry the allowlist for the admin API.
func (m *HotReloadManager) UpdateField(path string, value any) error {
	m.mu.Lock()

	oldConfigSnapshot := deepCopyConfig(m.config)

	field, known := hotReloadableFields[path]
	if !known {
		m.mu.Unlock()
		return fmt.Errorf("unknown configuration field: %s", path)
	}

	if field.Validator != nil {
		if err := field.Validator(value); err != nil {
			m.mu.Unlock()
			return fmt.Errorf("validation failed for %s: %w", path, err)
		}
	}

	oldValue, err := m.getFieldValue(path)
	if err != nil {
		m.mu.Unlock()
		return fmt.Errorf("failed to get old value: %w", err)
	}

	if err := m.setFieldValue(path, value); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("failed to set value: %w", err)
	}

	change := ConfigChange{
		Timestamp:       time.Now(),
		Source:          "api",
		Path:            path,
		OldValue:        oldValue,
		NewValue:        value,
		RequiresRestart: field.RequiresRestart,
		Applied:         true,
	}

	if field.Sensitive {
		change.OldValue = "[REDACTED]"
		change.NewValue = "[REDACTED]"
	}

	m.logChange(change)
	m.changeLog = append(m.changeLog, change)
	callbacks := append([]ChangeCallback(nil), m.changeCallbacks...)
	// Snapshot under the lock; callbacks must not observe later writes.
	newConfigSnapshot := deepCopyConfig(m.config)
	m.mu.Unlock()

	if err := m.notifyCallbacksSafe(callbacks, nil, oldConfigSnapshot, newConfigSnapshot, []ConfigChange{change}); err != nil {
		m.mu.Lock()
		m.rollbackLocked(oldConfigSnapshot, fmt.Sprintf("callback error: %v", err), err)
		m.mu.Unlock()
		return fmt.Errorf("field updated but callback failed, rolled back: %w", err)
	}

	return nil
}

func (m *HotReloadManager) getFieldValue(path string) (any, error) {
	val := reflect.ValueOf(m.config).Elem()
	return getNestedField(val, path)
}

func (m *HotReloadManager) setFieldValue(path string, value any) error {
	val := reflect.ValueOf(m.config).Elem()
	return setNestedField(val, path, value)
}

func getNestedField(v reflect.Value, path string) (any, error) {
	parts := splitPath(path)

	for _, part := range parts {
		if v.Kind() == reflect.Ptr {
			v = v.Elem()
		}
		if v.Kind() != reflect.Struct {
			return nil, fmt.Errorf("not a struct at %s", part)
		}
		v = v.FieldByName(part)
		if !v.IsValid() {
			return nil, fmt.Errorf("field not found: %s", part)
		}
	}

	return v.Interface(), nil
}

func setNestedField(v reflect.Value, path string, value any) error {
	parts := splitPath(path)

	for i, part := range parts {
		if v.Kind() == reflect.Ptr {
			v = v.Elem()
		}
		if v.Kind() != reflect.Struct {
			return fmt.Errorf("not a struct at %s", part)
		}
		v = v.FieldByName(part)
		if !v.IsValid() {
			return fmt.Errorf("field not found: %s", part)
		}

		if i == len(parts)-1 {
			if !v.CanSet() {
				return fmt.Errorf("cannot set field: %s", part)
			}

			newVal := reflect.ValueOf(value)
			if newVal.Type().ConvertibleTo(v.Type()) {
				v.Set(newVal.Convert(v.Type()))
			} else {
				return fmt.Errorf("type mismatch: expected %s, got %s", v.Type(), newVal.Type())
			}
		}
	}

	return nil
}

func splitPath(path string) []string {
	return strings.FieldsFunc(path, func(c rune) bool { return c == '.' })
}

// GetHotReloadableFields returns a copy of the field registry.
func GetHotReloadableFields() map[string]HotReloadableField {
	result := make(map[string]HotReloadableField, len(hotReloadableFields))
	for k, v := range hotReloadableFields {
		result[k] = v
	}
	return result
}

// IsHotReloadable reports whether a field applies without a restart.
func IsHotReloadable(path string) bool {
	field, known := hotReloadableFields[path]
	return known && !field.RequiresRestart
}

// SanitizedConfig returns the active configuration as a map with
// credential-bearing fields redacted, suitable for the admin API.
func (m *HotReloadManager) SanitizedConfig() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, err := json.Marshal(m.config)
	if err != nil {
		return nil
	}

	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil
	}

	redactSensitiveFields(result)

	return result
}

func redactSensitiveFields(data map[string]any) {
	sensitiveKeys := []string{
		"password",
		"secret",
		"token",
		"credential",
		"apikey",
		"api_key",
		"dsn",
		"uri",
	}

	for key, value := range data {
		lowerKey := strings.ToLower(key)
		for _, sensitiveKey := range sensitiveKeys {
			if strings.Contains(lowerKey, sensitiveKey) {
				if str, ok := value.(string); ok && str != "" {
					data[key] = "[REDACTED]"
				}
				break
			}
		}

		if nested, ok := value.(map[string]any); ok {
			redactSensitiveFields(nested)
		}
	}
}
