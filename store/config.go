package store

import "fmt"

const (
	DriverFile   = "file"
	DriverSQLite = "sqlite"
)

// Config holds store initialization parameters.
type Config struct {
	Driver string `json:"driver,omitempty" toml:"driver"` // "file" or "sqlite"
	Path   string `json:"path,omitempty" toml:"path"`     // directory or database file; empty disables the store.
}

// DefaultConfig returns the default store configuration (disabled).
func DefaultConfig() Config {
	return Config{Driver: DriverFile}
}

// Merge applies non-zero values from source into c.
func (c *Config) Merge(source *Config) {
	if source.Driver != "" {
		c.Driver = source.Driver
	}
	if source.Path != "" {
		c.Path = source.Path
	}
}

// New creates a Store from configuration. It returns a nil Store when Path
// is empty, indicating the store is disabled.
func New(cfg *Config) (Store, error) {
	if cfg.Path == "" {
		return nil, nil
	}
	switch cfg.Driver {
	case "", DriverFile:
		return NewFileStore(cfg.Path), nil
	case DriverSQLite:
		s, err := OpenSQLiteStore(cfg.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
