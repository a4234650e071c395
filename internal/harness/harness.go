package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/revlog/internal/audit"
	"github.com/roach88/revlog/internal/declare"
	"github.com/roach88/revlog/internal/records"
	"github.com/roach88/revlog/internal/store"
	"github.com/roach88/revlog/internal/testutil"
)

// Harness executes scenario steps against one engine.
type Harness struct {
	engine  *audit.Engine
	session *records.Session
	store   *store.Store
	logger  *slog.Logger

	refs  map[string]audit.Identity
	order []string
}

// Run executes a scenario and returns the result.
//
// Execution flow:
// 1. Load and register the declared types
// 2. Create fresh in-memory database with deterministic clock and keys
// 3. Execute steps, checking expected errors
// 4. Evaluate assertions and capture the history transcript
//
// The returned error is reserved for infrastructure failures; step and
// assertion failures are reported on the Result.
func Run(scenario *Scenario) (*Result, error) {
	registry, err := loadRegistry(scenario.Declarations)
	if err != nil {
		return nil, err
	}

	clock := testutil.NewDeterministicClock()
	st, err := store.Open(":memory:", store.WithClock(clock.Now))
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()
	keys := testutil.NewSequentialKeys(scenario.Name)
	recs := records.New(st.DB(), records.WithKeyGenerator(keys.Generate))
	for _, name := range registry.Types() {
		meta, err := registry.Lookup(name)
		if err != nil {
			return nil, err
		}
		if err := recs.EnsureTable(ctx, meta); err != nil {
			return nil, fmt.Errorf("failed to create table for %s: %w", name, err)
		}
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // Suppress logs in tests
	engine := audit.NewEngine(registry, st, recs,
		audit.WithMaxRecords(scenario.MaxRecords),
		audit.WithLogger(logger),
	)

	h := &Harness{
		engine:  engine,
		session: records.NewSession(recs, registry, engine.Tracker(), records.WithNow(clock.Now)),
		store:   st,
		logger:  logger,
		refs:    make(map[string]audit.Identity),
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		h.executeStep(ctx, i, step, result)
	}

	for _, errMsg := range h.evaluateAssertions(ctx, scenario.Assertions) {
		result.AddError(errMsg)
	}

	transcript, err := h.transcript(ctx, scenario.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to capture history: %w", err)
	}
	result.Transcript = transcript
	return result, nil
}

func loadRegistry(paths []string) (*audit.Registry, error) {
	registry := audit.NewRegistry()
	for _, path := range paths {
		res, errs := declare.Load(path, declare.LoadModeFailFast)
		if len(errs) > 0 {
			return nil, fmt.Errorf("failed to load declarations %s: %w", path, errs[0])
		}
		if err := declare.Register(registry, res.Specs); err != nil {
			return nil, fmt.Errorf("failed to register declarations %s: %w", path, err)
		}
	}
	return registry, nil
}

// executeStep runs one step and records it in the trace. A step that fails
// differently than expected marks the result failed.
func (h *Harness) executeStep(ctx context.Context, seq int, step Step, result *Result) {
	if step.Actor != "" {
		ctx = audit.WithActor(ctx, audit.NewActor(step.Actor, nil))
	}
	if step.Untracked {
		ctx = audit.WithoutTracking(ctx)
	}

	event := TraceEvent{Seq: seq, Op: step.Op, Ref: step.Ref}
	id, err := h.apply(ctx, step)
	event.ItemType, event.ItemID = id.Type, id.ID
	if err != nil {
		event.Error = err.Error()
	}
	result.Trace = append(result.Trace, event)

	got := ""
	if err != nil {
		got = errorCode(err)
	}
	switch {
	case step.ExpectError == "" && err != nil:
		result.AddError(fmt.Sprintf("step %d (%s %s): unexpected error: %v", seq, step.Op, step.Ref, err))
	case step.ExpectError != "" && got != step.ExpectError:
		result.AddError(fmt.Sprintf("step %d (%s %s): expected error %s, got %q", seq, step.Op, step.Ref, step.ExpectError, got))
	}
}

func (h *Harness) apply(ctx context.Context, step Step) (audit.Identity, error) {
	if step.Op == OpCreate {
		return h.create(ctx, step)
	}

	id := h.refs[step.Ref]
	switch step.Op {
	case OpUpdate:
		rec, err := h.session.Find(ctx, id.Type, id.ID)
		if err != nil {
			return id, err
		}
		if err := h.assign(id.Type, rec, step.Values); err != nil {
			return id, err
		}
		return id, h.session.Save(ctx, rec)
	case OpDestroy:
		rec, err := h.session.Find(ctx, id.Type, id.ID)
		if err != nil {
			return id, err
		}
		return id, h.session.Destroy(ctx, rec)
	case OpRevert:
		c, err := h.pick(ctx, id, step.Version)
		if err != nil {
			return id, err
		}
		return id, h.engine.Revert(ctx, c)
	}
	return id, fmt.Errorf("unknown op %q", step.Op)
}

func (h *Harness) create(ctx context.Context, step Step) (audit.Identity, error) {
	id := audit.Identity{Type: step.Type}
	meta, err := h.engine.Registry().Lookup(step.Type)
	if err != nil {
		return id, err
	}
	rec := meta.New()
	if err := h.assign(step.Type, rec, step.Values); err != nil {
		return id, err
	}
	if err := h.session.Create(ctx, rec); err != nil {
		return id, err
	}
	if id.ID, err = meta.Key(rec); err != nil {
		return id, err
	}
	h.refs[step.Ref] = id
	h.order = append(h.order, step.Ref)
	return id, nil
}

func (h *Harness) assign(itemType string, rec any, values map[string]any) error {
	meta, err := h.engine.Registry().Lookup(itemType)
	if err != nil {
		return err
	}
	for name, v := range values {
		if err := meta.Set(rec, name, v); err != nil {
			return fmt.Errorf("set %s.%s: %w", itemType, name, err)
		}
	}
	return nil
}

// pick resolves a version selector against id's history.
func (h *Harness) pick(ctx context.Context, id audit.Identity, version int) (*audit.Change, error) {
	history, err := h.store.History(ctx, id)
	if err != nil {
		return nil, err
	}
	idx := version
	if idx < 0 {
		idx += len(history)
	}
	if idx < 0 || idx >= len(history) {
		return nil, audit.NotFoundError(id.Type, id.ID, fmt.Sprintf("no version %d in %d changes", version, len(history)))
	}
	return &history[idx], nil
}

// transcript captures the history of every created record.
func (h *Harness) transcript(ctx context.Context, name string) (*Transcript, error) {
	t := &Transcript{ScenarioName: name, Records: []RecordHistory{}}
	for _, ref := range h.order {
		id := h.refs[ref]
		history, err := h.store.History(ctx, id)
		if err != nil {
			return nil, err
		}
		rh := RecordHistory{Ref: ref, ItemType: id.Type, ItemID: id.ID, Changes: []ChangeView{}}
		for i := range history {
			c := &history[i]
			version, err := h.engine.VersionIndex(ctx, c)
			if err != nil {
				return nil, err
			}
			rh.Changes = append(rh.Changes, ChangeView{
				ID:        c.ID,
				Version:   version,
				Action:    c.Action,
				ActorID:   c.ActorID,
				ChangeSet: c.ChangeSet,
				Snapshot:  c.Snapshot,
			})
		}
		t.Records = append(t.Records, rh)
	}
	return t, nil
}

func errorCode(err error) string {
	var auditErr *audit.Error
	if errors.As(err, &auditErr) {
		return string(auditErr.Code)
	}
	return "ERROR"
}
