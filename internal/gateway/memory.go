package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/roach88/marksync/internal/entity"
)

// Call records one request handled by Memory.
type Call struct {
	Kind   entity.Kind
	Op     entity.Op // empty for FetchAll
	Scope  string
	Status int
}

// Commit describes a successfully applied mutation.
type Commit struct {
	Kind    entity.Kind
	Op      entity.Op
	Payload json.RawMessage
	Origin  string
}

// object is a record as stored by Memory.
type object = map[string]any

// Memory is an in-process authoritative backend implementing Gateway.
//
// It stores records as decoded JSON objects, filters listings by the kind's
// scope field, soft-deletes on delete, and assigns ULIDs to records created
// without an identifier. Failure injection and blocking make it suitable
// for exercising the optimistic protocol in tests.
type Memory struct {
	mu           sync.Mutex
	records      map[entity.Kind]map[string]object
	order        map[entity.Kind][]string
	fetchStatus  map[entity.Kind]int
	mutateStatus map[entity.Kind]int
	blocks       map[entity.Kind]chan struct{}
	calls        []Call
	onCommit     []func(Commit)
	newID        func() string
}

var _ Gateway = (*Memory)(nil)

// NewMemory returns an empty backend.
func NewMemory() *Memory {
	return &Memory{
		records:      make(map[entity.Kind]map[string]object),
		order:        make(map[entity.Kind][]string),
		fetchStatus:  make(map[entity.Kind]int),
		mutateStatus: make(map[entity.Kind]int),
		blocks:       make(map[entity.Kind]chan struct{}),
		newID:        func() string { return ulid.Make().String() },
	}
}

// Seed stores records of kind without recording calls or firing hooks.
func (m *Memory) Seed(kind entity.Kind, records ...any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		obj, err := toObject(r)
		if err != nil {
			return fmt.Errorf("seed %s: %w", kind, err)
		}
		if idOf(obj) == "" {
			obj["id"] = m.newID()
		}
		m.store(kind, obj)
	}
	return nil
}

// FailFetch makes FetchAll for kind answer status. Zero restores success.
func (m *Memory) FailFetch(kind entity.Kind, status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetchStatus[kind] = status
}

// FailMutate makes Mutate for kind answer status. Zero restores success.
func (m *Memory) FailMutate(kind entity.Kind, status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mutateStatus[kind] = status
}

// Block holds every call for kind until the returned release is called or
// the call's context ends. Release is idempotent.
func (m *Memory) Block(kind entity.Kind) (release func()) {
	ch := make(chan struct{})
	m.mu.Lock()
	m.blocks[kind] = ch
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			if m.blocks[kind] == ch {
				delete(m.blocks, kind)
			}
			m.mu.Unlock()
			close(ch)
		})
	}
}

// OnCommit registers fn to run after every successful mutation.
func (m *Memory) OnCommit(fn func(Commit)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onCommit = append(m.onCommit, fn)
}

// Calls returns a copy of the call log.
func (m *Memory) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// Fetches counts FetchAll calls for kind and scope.
func (m *Memory) Fetches(kind entity.Kind, scope string) int {
	n := 0
	for _, c := range m.Calls() {
		if c.Kind == kind && c.Op == "" && c.Scope == scope {
			n++
		}
	}
	return n
}

// ResetCalls clears the call log.
func (m *Memory) ResetCalls() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// Records returns every stored record of kind in insertion order.
func (m *Memory) Records(kind entity.Kind) []map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]map[string]any, 0, len(m.order[kind]))
	for _, id := range m.order[kind] {
		out = append(out, cloneObject(m.records[kind][id]))
	}
	return out
}

func (m *Memory) wait(ctx context.Context, kind entity.Kind) error {
	m.mu.Lock()
	ch := m.blocks[kind]
	m.mu.Unlock()
	if ch == nil {
		return nil
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FetchAll lists kind filtered by scope.
func (m *Memory) FetchAll(ctx context.Context, kind entity.Kind, scope string) (Response, error) {
	if err := m.wait(ctx, kind); err != nil {
		return Response{}, fmt.Errorf("fetch %s: %w", kind, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !kind.Valid() {
		m.calls = append(m.calls, Call{Kind: kind, Scope: scope, Status: http.StatusNotFound})
		return failure(http.StatusNotFound, "unknown collection"), nil
	}
	if st := m.fetchStatus[kind]; st != 0 {
		m.calls = append(m.calls, Call{Kind: kind, Scope: scope, Status: st})
		return failure(st, "injected failure"), nil
	}

	field := kind.ScopeField()
	list := make([]object, 0, len(m.order[kind]))
	for _, id := range m.order[kind] {
		obj := m.records[kind][id]
		if scope != "" {
			if v, _ := obj[field].(string); v != scope {
				continue
			}
		}
		list = append(list, obj)
	}
	data, err := json.Marshal(list)
	if err != nil {
		return Response{}, fmt.Errorf("fetch %s: encode: %w", kind, err)
	}
	m.calls = append(m.calls, Call{Kind: kind, Scope: scope, Status: http.StatusOK})
	return success(data), nil
}

// Mutate applies op to payload.
func (m *Memory) Mutate(ctx context.Context, kind entity.Kind, op entity.Op, payload any) (Response, error) {
	if err := m.wait(ctx, kind); err != nil {
		return Response{}, fmt.Errorf("mutate %s/%s: %w", kind, op, err)
	}

	objs, err := decodePayload(op, payload)

	m.mu.Lock()
	resp := m.apply(kind, op, objs, err)
	m.calls = append(m.calls, Call{Kind: kind, Op: op, Status: resp.Status})
	var hooks []func(Commit)
	if resp.OK() {
		hooks = append(hooks, m.onCommit...)
	}
	m.mu.Unlock()

	commit := Commit{Kind: kind, Op: op, Payload: resp.Data, Origin: OriginFrom(ctx)}
	for _, fn := range hooks {
		fn(commit)
	}
	return resp, nil
}

// apply runs under m.mu. Validation happens before any write so a rejected
// batch leaves the backend untouched.
func (m *Memory) apply(kind entity.Kind, op entity.Op, objs []object, decodeErr error) Response {
	if !kind.Valid() {
		return failure(http.StatusNotFound, "unknown collection")
	}
	if !op.Valid() {
		return failure(http.StatusBadRequest, "unknown operation")
	}
	if decodeErr != nil {
		return failure(http.StatusBadRequest, decodeErr.Error())
	}
	if st := m.mutateStatus[kind]; st != 0 {
		return failure(st, "injected failure")
	}

	single := op.Single()
	for _, obj := range objs {
		id := idOf(obj)
		if single == entity.OpCreate {
			continue
		}
		if id == "" {
			return failure(http.StatusBadRequest, "record id required")
		}
		if _, ok := m.records[kind][id]; !ok {
			return failure(http.StatusNotFound, fmt.Sprintf("record %s not found", id))
		}
	}

	out := make([]object, 0, len(objs))
	for _, obj := range objs {
		switch single {
		case entity.OpCreate:
			if idOf(obj) == "" {
				obj["id"] = m.newID()
			}
			m.store(kind, obj)
		case entity.OpUpdate:
			m.store(kind, obj)
		case entity.OpDelete:
			stored := m.records[kind][idOf(obj)]
			stored["isDeleted"] = true
			obj = stored
		}
		out = append(out, cloneObject(obj))
	}

	var data []byte
	var err error
	if op.Many() {
		data, err = json.Marshal(out)
	} else {
		data, err = json.Marshal(out[0])
	}
	if err != nil {
		return failure(http.StatusInternalServerError, err.Error())
	}
	return success(data)
}

func (m *Memory) store(kind entity.Kind, obj object) {
	bucket, ok := m.records[kind]
	if !ok {
		bucket = make(map[string]object)
		m.records[kind] = bucket
	}
	id := idOf(obj)
	if _, exists := bucket[id]; !exists {
		m.order[kind] = append(m.order[kind], id)
	}
	bucket[id] = obj
}

func decodePayload(op entity.Op, payload any) ([]object, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	if op.Many() {
		var objs []object
		if err := json.Unmarshal(data, &objs); err != nil {
			return nil, fmt.Errorf("payload must be a list: %w", err)
		}
		if len(objs) == 0 {
			return nil, fmt.Errorf("payload list is empty")
		}
		return objs, nil
	}
	var obj object
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("payload must be an object: %w", err)
	}
	if obj == nil {
		return nil, fmt.Errorf("payload must be an object")
	}
	return []object{obj}, nil
}

func toObject(v any) (object, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var obj object
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, fmt.Errorf("record must be an object")
	}
	return obj, nil
}

func idOf(obj object) string {
	id, _ := obj["id"].(string)
	return id
}

func cloneObject(obj object) object {
	out := make(object, len(obj))
	for k, v := range obj {
		out[k] = v
	}
	return out
}
