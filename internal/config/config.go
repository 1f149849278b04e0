// Package config loads perpetua's settings from an optional CUE file.
//
// The file is unified with an embedded schema that supplies defaults and
// constraints, so a missing file and an empty file both yield Default().
//
//	identity: principal: "alice"
//	cache: {
//		backend:   "redis"
//		redis_url: "redis://localhost:6379/0"
//		ttl:       "1m"
//	}
package config

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
)

//go:embed schema.cue
var schemaSource string

// Config is the decoded, validated configuration.
type Config struct {
	Identity struct {
		Principal string `json:"principal"`
	} `json:"identity"`
	Ledger struct {
		Path string `json:"path"`
	} `json:"ledger"`
	Cache struct {
		Backend  string `json:"backend"`
		TTL      string `json:"ttl"`
		RedisURL string `json:"redis_url"`
		Prefix   string `json:"prefix"`
	} `json:"cache"`
	List struct {
		PageSize int `json:"page_size"`
	} `json:"list"`
	Reorder struct {
		MaxMoves int `json:"max_moves"`
	} `json:"reorder"`
	Log struct {
		Level string `json:"level"`
	} `json:"log"`

	ttl time.Duration
}

// Error reports an invalid configuration value with its source position
// when CUE knows it.
type Error struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *Error) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Default returns the schema defaults.
func Default() *Config {
	cfg, err := Parse("", nil)
	if err != nil {
		panic(fmt.Sprintf("config: embedded schema is invalid: %v", err))
	}
	return cfg
}

// Load reads and validates the CUE file at path. An empty path returns
// Default().
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(path, data)
}

// Parse validates CUE source against the schema. name is used in error
// positions.
func Parse(name string, data []byte) (*Config, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	v := schema.LookupPath(cue.ParsePath("#Config"))
	if len(data) > 0 {
		user := ctx.CompileBytes(data, cue.Filename(name))
		if err := user.Err(); err != nil {
			return nil, formatCUEError(err)
		}
		v = v.Unify(user)
	}
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	cfg := &Config{}
	if err := v.Decode(cfg); err != nil {
		return nil, formatCUEError(err)
	}
	if err := cfg.check(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// check covers constraints the schema does not express.
func (c *Config) check() error {
	d, err := time.ParseDuration(c.Cache.TTL)
	if err != nil || d <= 0 {
		return &Error{Field: "cache.ttl", Message: fmt.Sprintf("%q is not a positive duration", c.Cache.TTL)}
	}
	c.ttl = d
	if c.Cache.Backend == "redis" && c.Cache.RedisURL == "" {
		return &Error{Field: "cache.redis_url", Message: "required when cache.backend is redis"}
	}
	return nil
}

// CacheTTL is cache.ttl as a duration.
func (c *Config) CacheTTL() time.Duration { return c.ttl }

// LogLevel maps log.level onto slog.
func (c *Config) LogLevel() slog.Level {
	switch c.Log.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func formatCUEError(err error) error {
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	ce := &Error{Field: "cue", Message: first.Error()}
	if path := first.Path(); len(path) > 0 {
		ce.Field = strings.Join(path, ".")
	}
	if positions := errors.Positions(first); len(positions) > 0 {
		ce.Pos = positions[0]
	}
	return ce
}

