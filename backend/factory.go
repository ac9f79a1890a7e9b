package backend

import (
	"fmt"

	"go.uber.org/zap"
)

// New creates an Adapter for the configured driver.
func New(config Config, logger *zap.Logger) (Adapter, error) {
	switch config.Driver {
	case DriverRedis:
		return NewFastStore(config, logger)
	case DriverSQL:
		return NewTabularStore(config, logger)
	case DriverMongo:
		return NewDocumentStore(config, logger)
	default:
		return nil, fmt.Errorf("unsupported backend driver: %s", config.Driver)
	}
}

// MustNew creates an Adapter or panics on error.
//
// Use only during application initialization (main or init); for runtime
// adapter creation use New.
func MustNew(config Config, logger *zap.Logger) Adapter {
	a, err := New(config, logger)
	if err != nil {
		panic(fmt.Sprintf("failed to create backend adapter: %v", err))
	}
	return a
}
