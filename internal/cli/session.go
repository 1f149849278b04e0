package cli

import (
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/roach88/perpetua/internal/cache"
	"github.com/roach88/perpetua/internal/config"
	"github.com/roach88/perpetua/internal/engine"
	"github.com/roach88/perpetua/internal/gateway"
	"github.com/roach88/perpetua/internal/metrics"
	"github.com/roach88/perpetua/internal/model"
	"github.com/roach88/perpetua/internal/normstore"
	"github.com/roach88/perpetua/internal/store"
)

// session is one command's wiring: config, ledger, cache and engine.
type session struct {
	cfg      *config.Config
	ledger   *store.Store
	engine   *engine.Engine
	out      *OutputFormatter
	logger   *slog.Logger
	registry *prometheus.Registry
	closers  []func() error
	dump     bool
}

// openSession loads config, applies flag overrides and builds the engine.
// The gateway's sequence clock resumes after the journal's last entry so
// calls from successive commands stay ordered.
func openSession(cmd *cobra.Command, opts *RootOptions) (*session, error) {
	ctx := cmd.Context()
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.Database != "" {
		cfg.Ledger.Path = opts.Database
	}
	if opts.Principal != "" {
		cfg.Identity.Principal = opts.Principal
	}

	level := cfg.LogLevel()
	if opts.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	s := &session{
		cfg:      cfg,
		out:      opts.formatter(cmd),
		logger:   logger,
		registry: prometheus.NewRegistry(),
		dump:     opts.Metrics,
	}

	logger.Debug("opening ledger", "path", cfg.Ledger.Path)
	s.ledger, err = store.Open(cfg.Ledger.Path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open ledger", err)
	}
	s.closers = append(s.closers, s.ledger.Close)

	backend, err := s.backend(cmd)
	if err != nil {
		s.Close()
		return nil, err
	}

	mt := metrics.New(s.registry)
	c := cache.New(
		cache.WithBackend(backend),
		cache.WithTTL(cfg.CacheTTL()),
		cache.WithMetrics(mt),
		cache.WithLogger(logger),
	)

	seq, err := s.ledger.MaxSeq(ctx)
	if err != nil {
		s.Close()
		return nil, WrapExitError(ExitCommandError, "failed to read journal", err)
	}

	principal := model.Principal(cfg.Identity.Principal)
	st := normstore.New()
	gw := gateway.New(s.ledger.ActorFor(principal), principal, c,
		gateway.WithPermissions(st),
		gateway.WithJournal(s.ledger),
		gateway.WithClock(gateway.NewClockAt(seq)),
		gateway.WithMetrics(mt),
		gateway.WithLogger(logger),
	)
	s.engine = engine.New(gw, st, c,
		engine.WithGestures(engine.UUIDv7Generator{}),
		engine.WithMaxMoves(cfg.Reorder.MaxMoves),
		engine.WithMetrics(mt),
		engine.WithLogger(logger),
		engine.WithNotices(s.notice),
	)
	return s, nil
}

func (s *session) backend(cmd *cobra.Command) (cache.Backend, error) {
	if s.cfg.Cache.Backend != "redis" {
		return cache.NewMemoryBackend(), nil
	}
	s.logger.Debug("connecting to redis cache", "prefix", s.cfg.Cache.Prefix)
	rb, err := cache.NewRedisBackend(cmd.Context(), s.cfg.Cache.RedisURL, s.cfg.Cache.Prefix)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to connect cache", err)
	}
	s.closers = append(s.closers, rb.Close)
	return rb, nil
}

func (s *session) notice(n engine.Notice) {
	kind := string(n.Kind)
	if kind == "" {
		kind = "notice"
	}
	fmt.Fprintf(s.out.GetErrWriter(), "%s: %s %s: %s\n", kind, n.Shelf, n.Op, n.Message)
}

// load pulls a shelf into the local store before a gesture. Each command
// starts with an empty store.
func (s *session) load(cmd *cobra.Command, id model.ShelfID) (model.ShelfSnapshot, error) {
	snap, err := s.engine.LoadShelf(cmd.Context(), id)
	if err != nil {
		return model.ShelfSnapshot{}, s.out.Fail("failed to load shelf "+string(id), err)
	}
	return snap, nil
}

// Close releases the ledger and cache, then dumps metrics when asked.
func (s *session) Close() {
	if s.dump {
		if err := metrics.Dump(s.out.GetErrWriter(), s.registry); err != nil {
			s.logger.Error("metrics dump failed", "error", err)
		}
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			s.logger.Error("close failed", "error", err)
		}
	}
}
