package harness

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/roach88/revlog/internal/audit"
)

// AssertionError is returned when an assertion fails.
// It includes the record's history to help debug the failure.
type AssertionError struct {
	Type     string         // Assertion type for categorization
	Ref      string         // Record the assertion is about
	Expected string         // Human-readable expected outcome
	Actual   string         // Human-readable actual outcome
	History  []audit.Change // Record history for context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s (%s)\n", e.Type, e.Ref)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.History) > 0 {
		fmt.Fprintf(&buf, "\nHistory:\n")
		for i, c := range e.History {
			fmt.Fprintf(&buf, "  [%d] #%d %s %v\n", i, c.ID, c.Action, c.ChangeSet.Fields())
		}
	}
	return buf.String()
}

// evaluateAssertions runs every assertion and returns the failure messages.
func (h *Harness) evaluateAssertions(ctx context.Context, assertions []Assertion) []string {
	var failures []string
	for i, a := range assertions {
		if err := h.evaluate(ctx, a); err != nil {
			failures = append(failures, fmt.Sprintf("assertion %d: %v", i, err))
		}
	}
	return failures
}

func (h *Harness) evaluate(ctx context.Context, a Assertion) error {
	id, ok := h.refs[a.Ref]
	if !ok {
		return fmt.Errorf("ref %q was never created", a.Ref)
	}

	switch a.Type {
	case AssertHistoryCount, AssertHistoryActions, AssertHistoryActors:
		history, err := h.store.History(ctx, id)
		if err != nil {
			return fmt.Errorf("query history: %w", err)
		}
		return assertHistory(a, history)
	case AssertLiveValues:
		return h.assertLiveValues(ctx, id, a)
	case AssertAbsent:
		return h.assertAbsent(ctx, id, a)
	}
	return fmt.Errorf("unknown assertion type %q", a.Type)
}

func assertHistory(a Assertion, history []audit.Change) error {
	var expected, actual string
	switch a.Type {
	case AssertHistoryCount:
		if len(history) == a.Count {
			return nil
		}
		expected = fmt.Sprintf("%d changes", a.Count)
		actual = fmt.Sprintf("%d changes", len(history))
	case AssertHistoryActions:
		got := make([]string, len(history))
		for i, c := range history {
			got[i] = string(c.Action)
		}
		if slices.Equal(got, a.Actions) {
			return nil
		}
		expected = fmt.Sprintf("%v", a.Actions)
		actual = fmt.Sprintf("%v", got)
	case AssertHistoryActors:
		got := make([]string, len(history))
		for i, c := range history {
			if c.ActorID != nil {
				got[i] = *c.ActorID
			}
		}
		if slices.Equal(got, a.Actors) {
			return nil
		}
		expected = fmt.Sprintf("%q", a.Actors)
		actual = fmt.Sprintf("%q", got)
	}
	return &AssertionError{Type: a.Type, Ref: a.Ref, Expected: expected, Actual: actual, History: history}
}

// assertLiveValues checks the live record against a.Expect (subset match,
// compared with audit.LooseEqual).
func (h *Harness) assertLiveValues(ctx context.Context, id audit.Identity, a Assertion) error {
	rec, err := h.engine.Load(ctx, id.Type, id.ID)
	if err != nil {
		return &AssertionError{Type: a.Type, Ref: a.Ref, Expected: "live record", Actual: err.Error()}
	}
	meta, err := h.engine.Registry().Lookup(id.Type)
	if err != nil {
		return err
	}

	fields := make([]string, 0, len(a.Expect))
	for name := range a.Expect {
		fields = append(fields, name)
	}
	sort.Strings(fields)

	var mismatches []string
	for _, name := range fields {
		got, err := meta.Get(rec, name)
		if err != nil {
			return fmt.Errorf("read %s.%s: %w", id.Type, name, err)
		}
		if !audit.LooseEqual(got, a.Expect[name]) {
			mismatches = append(mismatches, fmt.Sprintf("%s=%v (want %v)", name, got, a.Expect[name]))
		}
	}
	if len(mismatches) == 0 {
		return nil
	}
	return &AssertionError{
		Type:     a.Type,
		Ref:      a.Ref,
		Expected: fmt.Sprintf("%v", a.Expect),
		Actual:   strings.Join(mismatches, ", "),
	}
}

func (h *Harness) assertAbsent(ctx context.Context, id audit.Identity, a Assertion) error {
	_, err := h.engine.Load(ctx, id.Type, id.ID)
	if audit.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load %s: %w", id, err)
	}
	return &AssertionError{Type: a.Type, Ref: a.Ref, Expected: "no live record", Actual: "record exists"}
}
