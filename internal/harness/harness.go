package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/roach88/marksync/internal/app"
	"github.com/roach88/marksync/internal/bus"
	"github.com/roach88/marksync/internal/config"
	"github.com/roach88/marksync/internal/entity"
	"github.com/roach88/marksync/internal/gateway"
	"github.com/roach88/marksync/internal/model"
	"github.com/roach88/marksync/internal/store"
	"github.com/roach88/marksync/internal/view"
)

// Origin is the client origin of every scenario.
const Origin = "harness"

// DefaultUser is the user of scenarios that name none.
const DefaultUser = "u1"

// Harness is the execution state of one scenario.
type Harness struct {
	client *app.Client
	local  *store.Memory
	remote *gateway.Memory

	collections map[entity.Kind]collection
	overview    *view.Overview
	user        string

	mu     sync.Mutex
	step   int
	events []TraceEvent
	calls  int
}

// Run executes a scenario and returns the result.
//
// Execution flow:
// 1. Write the local seed into a fresh in-memory store
// 2. Load the remote seed into a fresh in-memory backend
// 3. Execute steps, tracing bus events and remote calls per step
// 4. Evaluate assertions
func Run(scenario *Scenario) (*Result, error) {
	ctx := context.Background()

	local := store.NewMemory()
	if err := writeLocal(ctx, local, scenario.Local); err != nil {
		return nil, fmt.Errorf("failed to seed local store: %w", err)
	}
	remote := gateway.NewMemory()
	if err := scenario.Remote.Apply(remote); err != nil {
		return nil, fmt.Errorf("failed to seed remote: %w", err)
	}

	user := scenario.User
	if user == "" {
		user = DefaultUser
	}
	cfg := config.Default()
	cfg.UserID = user
	cfg.Store.Driver = string(store.DriverMemory)
	cfg.Registry.IdleCapacity = scenario.IdleCapacity

	client, err := app.New(ctx, app.Options{
		Config:   cfg,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Store:    local,
		Gateway:  remote,
		Origin:   Origin,
		IDs:      entity.NewFixedGenerator().WithPrefix("gen"),
		Executor: model.Inline,
		Inline:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}
	defer client.Close()

	h := &Harness{
		client:      client,
		local:       local,
		remote:      remote,
		collections: collectionsOf(client.Models),
		user:        user,
	}
	sub := client.Bus().Subscribe(bus.All, h.record)
	defer sub.Unsubscribe()

	result := NewResult()
	for i, step := range scenario.Steps {
		h.execute(ctx, i+1, step, result)
	}

	for _, msg := range EvaluateAssertions(ctx, h, result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

// writeLocal stores every seed record as JSON under the namespace of its
// kind and scope.
func writeLocal(ctx context.Context, st store.Store, seed gateway.Seed) error {
	return seed.Each(func(kind entity.Kind, records []any) error {
		for _, r := range records {
			rec, ok := r.(interface {
				Identifier() string
				ScopeKey() string
			})
			if !ok {
				return fmt.Errorf("%s record %T has no identifier", kind, r)
			}
			data, err := json.Marshal(r)
			if err != nil {
				return fmt.Errorf("encode %s %s: %w", kind, rec.Identifier(), err)
			}
			ns := store.NamespaceFor(kind, rec.ScopeKey())
			if err := st.Set(ctx, ns, rec.Identifier(), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// record appends a bus event to the current step.
func (h *Harness) record(ev bus.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, TraceEvent{
		Step:   h.step,
		Type:   EntryEvent,
		Kind:   ev.Kind,
		Op:     ev.Op,
		Seq:    ev.Seq,
		Origin: ev.Origin,
	})
}

// execute runs one step and appends its entry, the events it caused and
// the remote calls it made to the trace.
func (h *Harness) execute(ctx context.Context, n int, step Step, result *Result) {
	h.mu.Lock()
	h.step = n
	h.mu.Unlock()

	err := h.perform(ctx, step)

	entry := TraceEvent{
		Step:   n,
		Type:   EntryStep,
		Action: step.Action,
		Kind:   step.Kind,
		Scope:  step.Scope,
		Op:     step.Op,
	}
	if err != nil {
		entry.Error = errorCode(err)
	}
	switch {
	case step.Action == ActionOverview:
		entry.IDs = h.overviewTabs()
	case step.Scope != "":
		if st, ok := h.collections[step.Kind].state(step.Scope); ok {
			entry.State = st.Status
			entry.IDs = st.IDs
		}
	}
	result.Trace = append(result.Trace, entry)

	h.mu.Lock()
	result.Trace = append(result.Trace, h.events...)
	h.events = nil
	h.mu.Unlock()

	calls := h.remote.Calls()
	for _, c := range calls[h.calls:] {
		result.Trace = append(result.Trace, TraceEvent{
			Step:   n,
			Type:   EntryCall,
			Kind:   c.Kind,
			Scope:  c.Scope,
			Op:     c.Op,
			Status: c.Status,
		})
	}
	h.calls = len(calls)

	switch {
	case step.Expect == "" && err != nil:
		result.AddError(fmt.Sprintf("step %d (%s): unexpected error: %v", n, step.Action, err))
	case step.Expect != "" && entry.Error != step.Expect:
		got := entry.Error
		if got == "" {
			got = "success"
		}
		result.AddError(fmt.Sprintf("step %d (%s): expected %s, got %s", n, step.Action, step.Expect, got))
	}
}

func (h *Harness) perform(ctx context.Context, step Step) error {
	switch step.Action {
	case ActionOpen:
		return h.collections[step.Kind].open(step.Scope)
	case ActionRelease:
		return h.collections[step.Kind].release(step.Scope)
	case ActionRefresh:
		return h.collections[step.Kind].refresh(ctx, step.Scope)
	case ActionMutate:
		return h.collections[step.Kind].mutate(ctx, step.Scope, step.Op, step.Records)
	case ActionDispatch:
		origin := step.Origin
		if origin == "" {
			origin = "remote"
		}
		h.client.Bus().Dispatch(bus.Event{Kind: step.Kind, Op: step.Op, Origin: origin})
		return nil
	case ActionFail:
		if step.Target == TargetFetch {
			h.remote.FailFetch(step.Kind, step.Status)
		} else {
			h.remote.FailMutate(step.Kind, step.Status)
		}
		return nil
	case ActionOverview:
		_, err := h.openOverview(ctx)
		return err
	default:
		return fmt.Errorf("unknown action %q", step.Action)
	}
}

// openOverview returns the overview of the scenario user, opening it on
// first use.
func (h *Harness) openOverview(ctx context.Context) (*view.Overview, error) {
	if h.overview == nil {
		o, err := h.client.Overview(h.user)
		if err != nil {
			return nil, err
		}
		h.overview = o
	}
	if err := h.client.Drain(ctx); err != nil {
		return nil, err
	}
	return h.overview, h.overview.Err()
}

func (h *Harness) overviewTabs() []string {
	if h.overview == nil {
		return nil
	}
	tabs, _ := h.overview.Get()
	ids := make([]string, len(tabs))
	for i, t := range tabs {
		ids[i] = t.ID
	}
	return ids
}

// errorCode names err in traces and expectations. Steps on a model that is
// not open fail with NOT_OPEN; other errors without a mutation code are
// FAILED.
func errorCode(err error) string {
	if code := model.CodeOf(err); code != "" {
		return string(code)
	}
	if errors.Is(err, errNotOpen) {
		return "NOT_OPEN"
	}
	return "FAILED"
}
