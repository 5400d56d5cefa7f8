package cache

import (
	"fmt"
)

// NewStorage creates the storage backend selected by config.
func NewStorage(config *StorageConfig) (Storage, error) {
	if config == nil {
		config = DefaultStorageConfig()
	}

	switch config.Driver {
	case DriverMemory:
		return NewMemoryStorage(), nil
	case DriverDisk, "":
		if config.Dir == "" {
			return nil, fmt.Errorf("disk storage requires a directory")
		}
		return NewDiskStorage(config.Dir, config.CompressionLevel)
	case DriverSQLite:
		if config.Dir == "" {
			return nil, fmt.Errorf("sqlite storage requires a directory")
		}
		return NewSQLiteStorage(config.Dir)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", config.Driver)
	}
}
