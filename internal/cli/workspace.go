package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/revlog/internal/audit"
	"github.com/roach88/revlog/internal/config"
	"github.com/roach88/revlog/internal/declare"
	"github.com/roach88/revlog/internal/metrics"
	"github.com/roach88/revlog/internal/records"
	"github.com/roach88/revlog/internal/store"
)

// workspace is the engine a command works against: the configured database,
// the declared types and the counters of this invocation.
type workspace struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *store.Store
	records  *records.Store
	engine   *audit.Engine
	registry *prometheus.Registry
}

// openWorkspace resolves configuration (file, environment, flags), opens the
// database and registers the declared types. needTypes makes missing
// declarations an error.
func openWorkspace(opts *RootOptions, errOut io.Writer, needTypes bool) (*workspace, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.Database != "" {
		cfg.Database = opts.Database
	}
	if opts.Declarations != "" {
		cfg.Declarations = opts.Declarations
	}

	level := cfg.SlogLevel()
	if opts.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(errOut, &slog.HandlerOptions{Level: level}))

	if _, err := os.Stat(cfg.Database); os.IsNotExist(err) {
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("database not found: %s", cfg.Database))
	}

	typeRegistry := audit.NewRegistry()
	switch {
	case cfg.Declarations != "":
		res, errs := declare.Load(cfg.Declarations, declare.LoadModeFailFast)
		if len(errs) > 0 {
			return nil, WrapExitError(ExitCommandError, "failed to load declarations", errs[0])
		}
		if err := declare.Register(typeRegistry, res.Specs); err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to register declarations", err)
		}
		logger.Debug("loaded declarations", "path", cfg.Declarations, "files", res.FileCount, "types", len(res.Specs))
	case needTypes:
		return nil, NewExitError(ExitCommandError, "no declarations configured (use --decl or config declarations)")
	}

	st, err := store.Open(cfg.Database)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	promRegistry := prometheus.NewRegistry()
	recs := records.New(st.DB())
	engine := audit.NewEngine(typeRegistry, st, recs,
		audit.WithMaxRecords(cfg.MaxRecords),
		audit.WithLogger(logger),
		audit.WithMetrics(metrics.New(promRegistry)),
	)

	return &workspace{
		cfg:      cfg,
		logger:   logger,
		store:    st,
		records:  recs,
		engine:   engine,
		registry: promRegistry,
	}, nil
}

// context returns ctx carrying the configured actor, if any.
func (w *workspace) context(ctx context.Context) context.Context {
	if w.cfg.Actor.ID == "" {
		return ctx
	}
	a := audit.NewActor(w.cfg.Actor.ID, nil)
	if w.cfg.Actor.Display != "" {
		a.Display = w.cfg.Actor.Display
	}
	return audit.WithActor(ctx, a)
}

// Close logs this invocation's counters at debug level and closes the
// database.
func (w *workspace) Close() error {
	if families, err := w.registry.Gather(); err == nil {
		for _, mf := range families {
			for _, m := range mf.GetMetric() {
				attrs := []any{"name", mf.GetName(), "value", m.GetCounter().GetValue()}
				for _, lp := range m.GetLabel() {
					attrs = append(attrs, lp.GetName(), lp.GetValue())
				}
				w.logger.Debug("metric", attrs...)
			}
		}
	}
	return w.store.Close()
}

// changeByID loads a change by its numeric id argument.
func (w *workspace) changeByID(ctx context.Context, arg string) (*audit.Change, error) {
	id, err := parseChangeID(arg)
	if err != nil {
		return nil, err
	}
	c, err := w.store.Get(ctx, id)
	if err != nil {
		return nil, WrapExitError(ExitFailure, "failed to load change", err)
	}
	return c, nil
}

func parseChangeID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, NewExitError(ExitCommandError, fmt.Sprintf("invalid change id %q", arg))
	}
	return id, nil
}
