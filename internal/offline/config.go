package offline

const (
	// DefaultGeneration names the cache generation of this release
	DefaultGeneration = "lofiland-v1"

	// DefaultMaxAudioEntries bounds the audio partition after each eviction pass
	DefaultMaxAudioEntries = 80

	// DefaultMaxResponseBytes is the largest decoded body that will be cached
	DefaultMaxResponseBytes int64 = 25 * 1024 * 1024
)

// Config holds the deploy-time constants of the engine.
type Config struct {
	Generation       string
	MaxAudioEntries  int
	MaxResponseBytes int64
}

// DefaultConfig returns the default engine configuration
func DefaultConfig() Config {
	return Config{
		Generation:       DefaultGeneration,
		MaxAudioEntries:  DefaultMaxAudioEntries,
		MaxResponseBytes: DefaultMaxResponseBytes,
	}
}

func (c Config) withDefaults() Config {
	if c.Generation == "" {
		c.Generation = DefaultGeneration
	}
	if c.MaxAudioEntries <= 0 {
		c.MaxAudioEntries = DefaultMaxAudioEntries
	}
	if c.MaxResponseBytes <= 0 {
		c.MaxResponseBytes = DefaultMaxResponseBytes
	}
	return c
}
