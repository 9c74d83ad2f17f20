package harness

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/marksync/internal/store"
	"github.com/roach88/marksync/internal/view"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s\n", ev.Step, describe(ev))
		}
	}
	return buf.String()
}

func describe(ev TraceEvent) string {
	switch ev.Type {
	case EntryEvent:
		return fmt.Sprintf("event #%d %s/%s from %s", ev.Seq, ev.Kind, ev.Op, ev.Origin)
	case EntryCall:
		if ev.Op == "" {
			return fmt.Sprintf("fetch %s %q -> %d", ev.Kind, ev.Scope, ev.Status)
		}
		return fmt.Sprintf("mutate %s/%s -> %d", ev.Kind, ev.Op, ev.Status)
	default:
		s := fmt.Sprintf("%s %s %s", ev.Action, ev.Kind, ev.Scope)
		if ev.State != "" {
			s += fmt.Sprintf(" [%s %v]", ev.State, ev.IDs)
		}
		if ev.Error != "" {
			s += " error=" + ev.Error
		}
		return s
	}
}

// assertSnapshot checks the status, active ids and pending count of an
// open model.
func assertSnapshot(h *Harness, trace []TraceEvent, a Assertion) error {
	st, ok := h.collections[a.Kind].state(a.Scope)
	if !ok {
		return &AssertionError{
			Type:     AssertSnapshot,
			Expected: fmt.Sprintf("%s %q open", a.Kind, a.Scope),
			Actual:   "not open",
			Trace:    trace,
		}
	}
	if a.Status != "" && st.Status != a.Status {
		return &AssertionError{
			Type:     AssertSnapshot,
			Expected: fmt.Sprintf("%s %q status %s", a.Kind, a.Scope, a.Status),
			Actual:   st.Status,
			Trace:    trace,
		}
	}
	if a.IDs != nil && !slices.Equal(st.IDs, a.IDs) {
		return &AssertionError{
			Type:     AssertSnapshot,
			Expected: fmt.Sprintf("%s %q ids %v", a.Kind, a.Scope, a.IDs),
			Actual:   fmt.Sprintf("%v", st.IDs),
			Trace:    trace,
		}
	}
	if a.Pending != nil && st.Pending != *a.Pending {
		return &AssertionError{
			Type:     AssertSnapshot,
			Expected: fmt.Sprintf("%s %q pending %d", a.Kind, a.Scope, *a.Pending),
			Actual:   fmt.Sprintf("%d", st.Pending),
			Trace:    trace,
		}
	}
	return nil
}

// assertStoredKeys checks the keys persisted for a model's namespace.
func assertStoredKeys(ctx context.Context, st store.Store, a Assertion) error {
	ns := store.NamespaceFor(a.Kind, a.Scope)
	keys, err := st.Keys(ctx, ns)
	if err != nil {
		return fmt.Errorf("stored_keys %s: %w", ns, err)
	}
	if !slices.Equal(keys, a.Keys) && !(len(keys) == 0 && len(a.Keys) == 0) {
		return &AssertionError{
			Type:     AssertStoredKeys,
			Expected: fmt.Sprintf("%s holds %v", ns, a.Keys),
			Actual:   fmt.Sprintf("%v", keys),
		}
	}
	return nil
}

// assertDispatched counts bus events matching the assertion's kind, op and
// origin; empty fields match anything.
func assertDispatched(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, ev := range trace {
		if ev.Type != EntryEvent {
			continue
		}
		if (a.Kind == "" || ev.Kind == a.Kind) &&
			(a.Op == "" || ev.Op == a.Op) &&
			(a.Origin == "" || ev.Origin == a.Origin) {
			count++
		}
	}
	if count != *a.Count {
		return &AssertionError{
			Type:     AssertDispatched,
			Expected: fmt.Sprintf("%d events matching kind=%q op=%q origin=%q", *a.Count, a.Kind, a.Op, a.Origin),
			Actual:   fmt.Sprintf("%d", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertFetches counts the remote fetches of one scope.
func assertFetches(h *Harness, trace []TraceEvent, a Assertion) error {
	got := h.remote.Fetches(a.Kind, a.Scope)
	if got != *a.Count {
		return &AssertionError{
			Type:     AssertFetches,
			Expected: fmt.Sprintf("%d fetches of %s %q", *a.Count, a.Kind, a.Scope),
			Actual:   fmt.Sprintf("%d", got),
			Trace:    trace,
		}
	}
	return nil
}

// assertOverview compares the overview rows, opening the overview when no
// step has.
func assertOverview(ctx context.Context, h *Harness, a Assertion) error {
	o, err := h.openOverview(ctx)
	if err != nil {
		return fmt.Errorf("overview: %w", err)
	}
	tabs, _ := o.Get()
	if len(tabs) != len(a.Tabs) {
		return &AssertionError{
			Type:     AssertOverview,
			Expected: fmt.Sprintf("%d tabs", len(a.Tabs)),
			Actual:   fmt.Sprintf("%d tabs", len(tabs)),
		}
	}
	for i, want := range a.Tabs {
		if msg := compareTab(tabs[i], want); msg != "" {
			return &AssertionError{
				Type:     AssertOverview,
				Expected: fmt.Sprintf("tab %d: %s", i, msg),
				Actual:   formatTab(tabs[i]),
			}
		}
	}
	return nil
}

func compareTab(got view.TabSummary, want TabExpect) string {
	if got.ID != want.ID {
		return "id " + want.ID
	}
	if want.LinkCount != nil && (got.LinkCount == nil || *got.LinkCount != *want.LinkCount) {
		return fmt.Sprintf("%s with %d links", want.ID, *want.LinkCount)
	}
	for id, n := range want.Categories {
		idx := slices.IndexFunc(got.Categories, func(c view.CategorySummary) bool { return c.ID == id })
		if idx < 0 {
			return fmt.Sprintf("%s with category %s", want.ID, id)
		}
		c := got.Categories[idx]
		if c.LinkCount == nil || *c.LinkCount != n {
			return fmt.Sprintf("%s with category %s holding %d links", want.ID, id, n)
		}
	}
	return ""
}

func formatTab(t view.TabSummary) string {
	var buf strings.Builder
	buf.WriteString(t.ID)
	if t.LinkCount != nil {
		fmt.Fprintf(&buf, " (%d)", *t.LinkCount)
	}
	for _, c := range t.Categories {
		fmt.Fprintf(&buf, " %s", c.ID)
		if c.LinkCount != nil {
			fmt.Fprintf(&buf, "(%d)", *c.LinkCount)
		}
	}
	return buf.String()
}

// EvaluateAssertions evaluates all assertions after the steps of a
// scenario have run. Returns a slice of error messages for failed
// assertions.
func EvaluateAssertions(ctx context.Context, h *Harness, result *Result, assertions []Assertion) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertSnapshot:
			err = assertSnapshot(h, result.Trace, assertion)
		case AssertStoredKeys:
			err = assertStoredKeys(ctx, h.local, assertion)
		case AssertDispatched:
			err = assertDispatched(result.Trace, assertion)
		case AssertFetches:
			err = assertFetches(h, result.Trace, assertion)
		case AssertOverview:
			err = assertOverview(ctx, h, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
