package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "local", cfg.Identity.Principal)
	assert.Equal(t, "perpetua.db", cfg.Ledger.Path)
	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.Equal(t, 30*time.Second, cfg.CacheTTL())
	assert.Equal(t, "perpetua:", cfg.Cache.Prefix)
	assert.Equal(t, 20, cfg.List.PageSize)
	assert.Equal(t, 100, cfg.Reorder.MaxMoves)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel())
}

func TestLoad_EmptyPathIsDefault(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "perpetua.cue")
	src := `
identity: principal: "alice"
cache: {
	backend:   "redis"
	redis_url: "redis://localhost:6379/0"
	ttl:       "2m"
}
list: page_size: 50
log: level: "debug"
`
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "alice", cfg.Identity.Principal)
	assert.Equal(t, "redis", cfg.Cache.Backend)
	assert.Equal(t, 2*time.Minute, cfg.CacheTTL())
	assert.Equal(t, 50, cfg.List.PageSize)
	assert.Equal(t, 100, cfg.Reorder.MaxMoves, "unset keys keep their defaults")
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.cue"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"page size above range", `list: page_size: 500`, "page_size"},
		{"page size zero", `list: page_size: 0`, "page_size"},
		{"max moves zero", `reorder: max_moves: 0`, "max_moves"},
		{"unknown backend", `cache: backend: "memcached"`, "backend"},
		{"unknown key", `cache: size: 10`, "size"},
		{"bad ttl", `cache: ttl: "soon"`, "cache.ttl"},
		{"negative ttl", `cache: ttl: "-1s"`, "cache.ttl"},
		{"redis without url", `cache: backend: "redis"`, "cache.redis_url"},
		{"empty principal", `identity: principal: ""`, "principal"},
		{"syntax", `list: {`, "perpetua.cue"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse("perpetua.cue", []byte(tt.src))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)

			var ce *Error
			assert.ErrorAs(t, err, &ce)
		})
	}
}
