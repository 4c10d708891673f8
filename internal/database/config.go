package database

import (
	"os"
	"strconv"
)

// Config holds the store configuration.
type Config struct {
	URL              string
	AuthToken        string
	ProjectsDir      string
	MultiProjectMode bool
	EmbeddingDims    int

	MaxOpenConns   int
	MaxIdleConns   int
	ConnMaxIdleSec int
	ConnMaxLifeSec int
}

// NewConfig creates a new Config from environment variables.
func NewConfig() *Config {
	url := os.Getenv("LIBSQL_URL")
	if url == "" {
		url = "file:./diagraph.db"
	}

	dims := 4
	if v := os.Getenv("EMBEDDING_DIMS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			dims = n
		}
	}

	return &Config{
		URL:           url,
		AuthToken:     os.Getenv("LIBSQL_AUTH_TOKEN"),
		EmbeddingDims: dims,
	}
}
