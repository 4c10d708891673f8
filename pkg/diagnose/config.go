package diagnose

import (
	"github.com/opentriage/diagraph-go/internal/database"
)

// Config exposes a stable wrapper for engine configuration in package mode.
// Most fields map directly to internal/database.Config.
type Config struct {
	URL              string
	AuthToken        string
	ProjectsDir      string
	MultiProjectMode bool
	EmbeddingDims    int
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxIdleSec   int
	ConnMaxLifeSec   int

	// EmbeddingCacheSize bounds the embedding LRU cache. 0 means unbounded,
	// negative selects the default.
	EmbeddingCacheSize int
}

func (c *Config) toInternal() *database.Config {
	dims := c.EmbeddingDims
	if dims <= 0 {
		dims = 4
	}
	return &database.Config{
		URL:              c.URL,
		AuthToken:        c.AuthToken,
		ProjectsDir:      c.ProjectsDir,
		MultiProjectMode: c.MultiProjectMode,
		EmbeddingDims:    dims,
		MaxOpenConns:     c.MaxOpenConns,
		MaxIdleConns:     c.MaxIdleConns,
		ConnMaxIdleSec:   c.ConnMaxIdleSec,
		ConnMaxLifeSec:   c.ConnMaxLifeSec,
	}
}
