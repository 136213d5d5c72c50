// Package config describes how a simple store is opened and loads that
// description from flags, environment variables and .env files.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/agentic-research/simpledb/internal/backend"
	"github.com/agentic-research/simpledb/internal/cache"
	"github.com/agentic-research/simpledb/internal/coalesce"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Type selects the backend.
type Type string

const (
	TypeJSON   Type = "json"
	TypeYAML   Type = "yaml"
	TypeSQLite Type = "sqlite"
)

const (
	DefaultJSONPath   = "./simple-db.json"
	DefaultYAMLPath   = "./simple-db.yaml"
	DefaultSQLitePath = "./simple-db.sqlite"
	DefaultName       = "simpledb"
)

// Config is everything a store needs to open its backend.
type Config struct {
	Path string
	Type Type
	// CacheType is 0 (passthrough), 1 (isolated copy) or 2 (shared mutable).
	CacheType cache.Mode
	// Check re-reads every write and fails on a mismatch.
	Check bool
	// Name is the SQLite table holding the store.
	Name string
	// FlushDelay is the coalescing window. Zero or less writes through.
	FlushDelay time.Duration
}

// Default returns the configuration used when nothing is set for t.
func Default(t Type) Config {
	c := Config{Type: t, CacheType: cache.ModeIsolatedCopy, Name: DefaultName, FlushDelay: coalesce.DefaultDelay}
	return c.WithDefaults()
}

// TypeFor infers the backend from a file extension.
func TypeFor(path string) Type {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".sqlite", ".sqlite3", ".db":
		return TypeSQLite
	case ".yaml", ".yml":
		return TypeYAML
	}
	return TypeJSON
}

// WithDefaults fills an empty type, path and name.
func (c Config) WithDefaults() Config {
	if c.Type == "" {
		if c.Path == "" {
			c.Type = TypeJSON
		} else {
			c.Type = TypeFor(c.Path)
		}
	}
	if c.Path == "" {
		switch c.Type {
		case TypeSQLite:
			c.Path = DefaultSQLitePath
		case TypeYAML:
			c.Path = DefaultYAMLPath
		default:
			c.Path = DefaultJSONPath
		}
	}
	if c.Name == "" {
		c.Name = DefaultName
	}
	return c
}

// Validate reports the first problem with c.
func (c Config) Validate() error {
	switch c.Type {
	case TypeJSON, TypeYAML, TypeSQLite:
	default:
		return fmt.Errorf("%w: type %q must be json, yaml or sqlite", ErrInvalidConfig, c.Type)
	}
	if strings.TrimSpace(c.Path) == "" {
		return fmt.Errorf("%w: empty path", ErrInvalidConfig)
	}
	if c.CacheType < cache.ModePassthrough || c.CacheType > cache.ModeSharedMutable {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, cache.ErrInvalidMode)
	}
	if c.Type == TypeSQLite {
		if err := backend.ValidateName(c.Name); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	}
	return nil
}

// Viper keys read by Load.
const (
	KeyPath       = "path"
	KeyType       = "type"
	KeyCacheType  = "cache-type"
	KeyCheck      = "check"
	KeyName       = "name"
	KeyFlushDelay = "flush-delay"
)

// InitEnv loads .env and .env.local and makes v read SIMPLEDB_* variables.
func InitEnv(v *viper.Viper) {
	// Missing files are fine.
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	v.SetEnvPrefix("simpledb")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
}

// Load builds a validated Config from v.
func Load(v *viper.Viper) (Config, error) {
	c := Config{
		Path:       v.GetString(KeyPath),
		Type:       Type(strings.ToLower(v.GetString(KeyType))),
		CacheType:  cache.Mode(v.GetInt(KeyCacheType)),
		Check:      v.GetBool(KeyCheck),
		Name:       v.GetString(KeyName),
		FlushDelay: v.GetDuration(KeyFlushDelay),
	}.WithDefaults()
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}
