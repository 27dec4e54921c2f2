// Package config reads the server configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tylerbrawl/rocky/internal/invalidation"
)

type Config struct {
	Addr       string
	LogLevel   string
	LogConsole bool

	// RedisAddr enables the shared remote tile cache when non-empty.
	RedisAddr      string
	CacheTTL       time.Duration
	CacheOpTimeout time.Duration

	// TileSize is the edge length of served elevation grids.
	TileSize int

	// LayersFile points at a JSON document describing the layer stack. When
	// empty the server starts with the built-in demo layers.
	LayersFile string

	Invalidation invalidation.Config
}

func FromEnv() Config {
	return Config{
		Addr:           getenv("ADDR", ":8080"),
		LogLevel:       getenv("LOG_LEVEL", "info"),
		LogConsole:     getbool("LOG_CONSOLE", false),
		RedisAddr:      getenv("REDIS_ADDR", ""),
		CacheTTL:       getduration("CACHE_TTL", 5*time.Minute),
		CacheOpTimeout: getduration("CACHE_OP_TIMEOUT", 250*time.Millisecond),
		TileSize:       getint("TILE_SIZE", 257),
		LayersFile:     getenv("LAYERS_FILE", ""),
		Invalidation:   invalidation.ConfigFromEnv(),
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
