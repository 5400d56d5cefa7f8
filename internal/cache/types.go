package cache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"time"
)

// Common errors for cache operations
var (
	// ErrCacheMiss is returned when an entry is not found in a store
	ErrCacheMiss = errors.New("cache miss")

	// ErrCacheCorrupted is returned when stored entry data cannot be decoded
	ErrCacheCorrupted = errors.New("cache data corrupted")

	// ErrGenerationName is returned for generation names that cannot be used
	// as store identifiers
	ErrGenerationName = errors.New("invalid generation name")

	// ErrClosed is returned by stores whose storage has been closed
	ErrClosed = errors.New("cache storage closed")
)

// Entry is a cached response payload.
type Entry struct {
	Status     int
	StatusText string
	Header     http.Header
	Body       []byte
	Stored     time.Time
}

// Clone returns a deep copy of the entry so that the stored value and the
// value handed to callers never share memory.
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	c := *e
	c.Header = e.Header.Clone()
	if e.Body != nil {
		c.Body = append([]byte(nil), e.Body...)
	}
	return &c
}

// Size returns the body size in bytes.
func (e *Entry) Size() int64 {
	if e == nil {
		return 0
	}
	return int64(len(e.Body))
}

// Store is a single cache generation keyed by request identity.
//
// Keys returns keys in insertion order: oldest first. Writing an existing key
// replaces the entry and moves it to the end of the order.
type Store interface {
	Name() string
	Match(ctx context.Context, key string) (*Entry, error)
	Put(ctx context.Context, key string, entry *Entry) error
	Delete(ctx context.Context, key string) (bool, error)
	Keys(ctx context.Context) ([]string, error)
}

// Storage holds named, isolated cache generations.
type Storage interface {
	Open(ctx context.Context, name string) (Store, error)
	Names(ctx context.Context) ([]string, error)
	Remove(ctx context.Context, name string) (bool, error)
	Stats(ctx context.Context, name string) (CacheStats, error)
	Close() error
}

// CacheStats holds per-generation metrics
type CacheStats struct {
	Generation string

	// Current state
	Size      int64 // Body bytes held
	ItemCount int64 // Number of entries

	// Performance metrics, only tracked for open stores
	Hits      int64
	Misses    int64
	Evictions int64 // Deletes through Delete
	HitRate   float64

	LastAccess time.Time
}

func (s *CacheStats) calculateHitRate() {
	if s.Hits+s.Misses > 0 {
		s.HitRate = float64(s.Hits) / float64(s.Hits+s.Misses)
	}
}

// Driver names a storage backend.
type Driver string

const (
	DriverMemory Driver = "memory"
	DriverDisk   Driver = "disk"
	DriverSQLite Driver = "sqlite"
)

// String returns the driver name
func (d Driver) String() string {
	return string(d)
}

// StorageConfig holds configuration for storage backends
type StorageConfig struct {
	Driver Driver

	// Dir holds generation directories (disk) or the database file (sqlite)
	Dir string

	// Zstd compression level for the disk driver, 0 disables compression
	CompressionLevel int
}

// DefaultStorageConfig returns default storage configuration
func DefaultStorageConfig() *StorageConfig {
	return &StorageConfig{
		Driver:           DriverDisk,
		CompressionLevel: 3,
	}
}

var generationPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// ValidGeneration reports whether name can be used as a generation name.
func ValidGeneration(name string) error {
	if !generationPattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrGenerationName, name)
	}
	return nil
}
