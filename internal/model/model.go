package model

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/roach88/marksync/internal/bus"
	"github.com/roach88/marksync/internal/entity"
	"github.com/roach88/marksync/internal/gateway"
	"github.com/roach88/marksync/internal/metrics"
	"github.com/roach88/marksync/internal/notify"
	"github.com/roach88/marksync/internal/store"
)

// Status is the externally visible phase of a model.
type Status string

const (
	StatusBooting Status = "booting"
	StatusReady   Status = "ready"
	StatusStale   Status = "stale"
	StatusError   Status = "error"
)

// Snapshot is the public state of a model. Version increases with every
// change and orders snapshots of one model.
type Snapshot[T any] struct {
	Status  Status `json:"status" yaml:"status"`
	Data    []T    `json:"data" yaml:"data"`
	Version int64  `json:"version" yaml:"version"`
}

// Settled reports whether the model has left Booting.
func (s Snapshot[T]) Settled() bool {
	return s.Status != StatusBooting
}

type pendingOp[T any] struct {
	seq     uint64
	op      entity.Op
	records []T
}

type subscriber[T any] struct {
	fn     func(Snapshot[T])
	last   int64 // guarded by Model.mu
	active atomic.Bool
}

type watcher struct {
	fn     func()
	active atomic.Bool
}

// Model is the entity model for one collection kind and scope.
//
// Thread-safety: all methods are safe from any goroutine. Subscriber
// callbacks run without internal locks held and may call back into the
// model; snapshots reach each subscriber in version order.
type Model[T entity.Record[T]] struct {
	kind   entity.Kind
	scope  string
	ns     store.Namespace
	deps   Deps
	exec   Executor
	ids    entity.IDGenerator
	logger *slog.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	busy      int
	idle      chan struct{}
	busSub    *bus.Subscription
	persistMu sync.Mutex

	mu         sync.Mutex
	status     Status
	confirmed  []T
	pending    []*pendingOp[T]
	next       []T
	version    int64
	emitted    int64
	delivering bool
	inflight   map[string]uint64
	opSeq      uint64
	fetchGen   uint64
	appliedGen uint64
	refreshed  bool
	booted     bool
	started    bool
	closed     bool
	subs       []*subscriber[T]
	watchers   []*watcher
}

// New creates a model for kind under scope and subscribes it to the bus.
// It does no I/O until Start or Boot is called.
func New[T entity.Record[T]](deps Deps, kind entity.Kind, scope string, opts ...Option) *Model[T] {
	deps = deps.withDefaults()
	o := options{executor: deps.Executor, ids: deps.IDs}
	for _, opt := range opts {
		opt(&o)
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Model[T]{
		kind:      kind,
		scope:     scope,
		ns:        store.NamespaceFor(kind, scope),
		deps:      deps,
		exec:      o.executor,
		ids:       o.ids,
		logger:    deps.Logger.With("kind", kind, "scope", scope),
		ctx:       ctx,
		cancel:    cancel,
		status:    StatusBooting,
		confirmed: []T{},
		next:      []T{},
		inflight:  make(map[string]uint64),
	}

	// Subscribe before boot so no invalidation is missed.
	if deps.Bus != nil {
		m.busSub = deps.Bus.Subscribe(bus.ForKind(kind), m.onEvent)
	}
	return m
}

// Kind returns the model's collection kind.
func (m *Model[T]) Kind() entity.Kind { return m.kind }

// Scope returns the model's scope key.
func (m *Model[T]) Scope() string { return m.scope }

// Namespace returns the local store namespace the model persists into.
func (m *Model[T]) Namespace() store.Namespace { return m.ns }

func (m *Model[T]) onEvent(ev bus.Event) {
	m.logger.Debug("invalidated", "seq", ev.Seq, "op", ev.Op, "origin", ev.Origin)
	m.spawn(func() {
		// Failures are reflected in the status.
		_ = m.Refresh(m.ctx)
	})
}

// spawn runs fn on the executor unless the model is closed.
func (m *Model[T]) spawn(fn func()) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	if m.busy == 0 {
		m.idle = make(chan struct{})
	}
	m.busy++
	m.mu.Unlock()

	m.exec(func() {
		defer m.done()
		fn()
	})
}

func (m *Model[T]) done() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.busy--
	if m.busy == 0 {
		close(m.idle)
		m.idle = nil
	}
}

// Start boots the model from the local store and then refreshes it from
// the remote, both on the executor. Only the first call has an effect.
func (m *Model[T]) Start() {
	m.mu.Lock()
	if m.started || m.closed {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()

	m.spawn(func() {
		if err := m.Boot(m.ctx); err != nil {
			return
		}
		_ = m.Refresh(m.ctx)
	})
}

// Boot loads the model's namespace from the local store and moves it to
// Ready. Local store failures are logged and treated as an empty store.
// Only the first call has an effect.
func (m *Model[T]) Boot(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.booted {
		m.mu.Unlock()
		return nil
	}
	m.booted = true
	m.mu.Unlock()

	records := m.load(ctx)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	// A refresh that landed while loading is newer than the cache.
	if !m.refreshed {
		m.confirmed = records
	}
	if m.status == StatusBooting {
		m.status = StatusReady
	}
	m.recomputeLocked()
	m.mu.Unlock()

	m.logger.Info("model booted", "records", len(records))
	m.emit()
	return nil
}

func (m *Model[T]) load(ctx context.Context) []T {
	out := []T{}
	keys, err := m.deps.Store.Keys(ctx, m.ns)
	if err != nil {
		m.logger.Warn("local store read failed", "error", err)
		return out
	}
	for _, key := range keys {
		data, err := m.deps.Store.Get(ctx, m.ns, key)
		if err != nil {
			m.logger.Warn("local store read failed", "key", key, "error", err)
			continue
		}
		var rec T
		if err := json.Unmarshal(data, &rec); err != nil {
			m.logger.Warn("discarding undecodable cached record", "key", key, "error", err)
			continue
		}
		out = append(out, rec)
	}
	return out
}

// Refresh fetches the scope's records from the remote.
//
// On success the server list replaces the confirmed state, pending
// optimistic operations are re-applied on top, and the list is persisted.
// On failure the data is kept and a Ready model becomes Stale. A 200 answer
// whose body cannot be decoded moves the model to Error.
//
// Responses to fetches issued before the last applied response, or before
// the last confirmed write, are dropped.
func (m *Model[T]) Refresh(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.fetchGen++
	gen := m.fetchGen
	m.mu.Unlock()

	resp, err := m.deps.Gateway.FetchAll(ctx, m.kind, m.scope)
	if err == nil && !resp.OK() {
		err = resp.Err()
	}
	if err != nil {
		m.settle(gen, StatusStale, StatusReady)
		m.deps.Metrics.Refresh(m.kind, metrics.OutcomeFailed)
		m.logger.Warn("refresh failed, serving cached data", "error", err)
		return fmt.Errorf("refresh %s %q: %w", m.kind, m.scope, err)
	}

	var list []T
	if err := resp.Decode(&list); err != nil {
		m.settle(gen, StatusError, "")
		m.deps.Metrics.Refresh(m.kind, metrics.OutcomeInvalid)
		m.logger.Error("refresh returned an undecodable body", "error", err)
		return fmt.Errorf("refresh %s %q: %w", m.kind, m.scope, err)
	}
	if list == nil {
		list = []T{}
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if gen <= m.appliedGen {
		m.mu.Unlock()
		m.deps.Metrics.Refresh(m.kind, metrics.OutcomeFenced)
		m.logger.Debug("dropping superseded refresh", "gen", gen)
		return nil
	}
	m.appliedGen = gen
	m.refreshed = true
	m.confirmed = list
	m.status = StatusReady
	m.recomputeLocked()
	m.mu.Unlock()

	m.deps.Metrics.Refresh(m.kind, metrics.OutcomeOK)
	m.logger.Debug("refresh applied", "records", len(list), "gen", gen)
	m.emit()
	m.persistAll()
	return nil
}

// settle moves the model to status after a failed fetch of generation gen.
// When from is non-empty the move only happens from that status.
func (m *Model[T]) settle(gen uint64, status, from Status) {
	m.mu.Lock()
	if m.closed || gen <= m.appliedGen || m.status == status || (from != "" && m.status != from) {
		m.mu.Unlock()
		return
	}
	m.status = status
	m.version++
	m.mu.Unlock()
	m.emit()
}

// recomputeLocked rebuilds the visible snapshot as confirmed ⊕ pending.
// Caller must hold m.mu.
func (m *Model[T]) recomputeLocked() {
	next := cloneList(m.confirmed)
	for _, p := range m.pending {
		next = applyOp(next, p.op, p.records, m.scope)
	}
	m.next = next
	m.version++
}

// Mutate applies op optimistically, forwards it to the remote gateway and
// waits for the answer.
//
// The local snapshot changes and is emitted before the remote call starts.
// On success the change is confirmed, the affected keys are persisted and
// a mutation event is dispatched for the collection. On failure the change
// is rolled back, a notification is raised and a *MutationError returned.
//
// Create assigns an identifier to records that have none. The _many
// variants take one or more records; the single forms take exactly one.
func (m *Model[T]) Mutate(ctx context.Context, op entity.Op, records ...T) error {
	recs, ids, err := m.prepare(op, records)
	if err != nil {
		m.deps.Metrics.Mutation(m.kind, op, metrics.OutcomeInvalid)
		return &MutationError{Code: CodeInvalid, Kind: m.kind, Op: op, Err: err}
	}
	single := op.Single()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return &MutationError{Code: CodeClosed, Kind: m.kind, Op: op, IDs: ids, Err: ErrClosed}
	}
	for _, id := range ids {
		if _, busy := m.inflight[id]; busy {
			m.mu.Unlock()
			m.deps.Metrics.Mutation(m.kind, op, metrics.OutcomeConflict)
			m.logger.Warn("mutation rejected: record busy", "op", op, "id", id)
			return &MutationError{Code: CodeConflict, Kind: m.kind, Op: op, IDs: []string{id}, Err: ErrConflict}
		}
	}
	m.opSeq++
	p := &pendingOp[T]{seq: m.opSeq, op: single, records: recs}
	for _, id := range ids {
		m.inflight[id] = p.seq
	}
	m.pending = append(m.pending, p)
	m.next = applyOp(m.next, single, recs, m.scope)
	m.version++
	m.mu.Unlock()
	m.emit()

	resp, err := m.deps.Gateway.Mutate(gateway.WithOrigin(ctx, m.deps.Origin), m.kind, op, payloadOf(op, recs))
	if err != nil || !resp.OK() {
		m.rollback(p)
		merr := &MutationError{Kind: m.kind, Op: op, IDs: ids, Err: err}
		if err != nil {
			merr.Code = CodeTransport
		} else {
			merr.Code = CodeRejected
			merr.Status = resp.Status
			merr.StatusText = resp.StatusText
			merr.Err = resp.Err()
		}
		m.fail(merr)
		return merr
	}

	acked := decodeAck(resp, op, recs)

	m.mu.Lock()
	m.finishLocked(p)
	if !m.closed {
		m.confirmed = applyOp(m.confirmed, single, acked, m.scope)
		// Fetches issued before this write may predate it.
		m.appliedGen = m.fetchGen
		m.recomputeLocked()
	}
	m.mu.Unlock()
	m.emit()

	m.persistKeys(ids)
	m.deps.Metrics.Mutation(m.kind, op, metrics.OutcomeOK)
	m.logger.Debug("mutation confirmed", "op", op, "ids", ids)

	if m.deps.Bus != nil {
		ev, err := bus.NewEvent(m.kind, op, payloadOf(op, acked))
		if err != nil {
			m.logger.Warn("mutation event not dispatched", "error", err)
			return nil
		}
		ev.Origin = m.deps.Origin
		m.deps.Bus.Dispatch(ev)
	}
	return nil
}

func (m *Model[T]) prepare(op entity.Op, records []T) ([]T, []string, error) {
	if !op.Valid() {
		return nil, nil, fmt.Errorf("unknown operation %q", op)
	}
	if len(records) == 0 {
		return nil, nil, fmt.Errorf("%s needs at least one record", op)
	}
	if !op.Many() && len(records) != 1 {
		return nil, nil, fmt.Errorf("%s takes exactly one record, got %d", op, len(records))
	}

	recs := make([]T, len(records))
	ids := make([]string, len(records))
	seen := make(map[string]bool, len(records))
	for i, r := range records {
		if r.Identifier() == "" {
			if op.Single() != entity.OpCreate {
				return nil, nil, fmt.Errorf("%s: record identifier required", op)
			}
			r = r.WithIdentifier(m.ids.Generate())
		}
		if op.Single() == entity.OpCreate && r.ScopeKey() == "" && m.scope != "" {
			r = r.WithScopeKey(m.scope)
		}
		id := r.Identifier()
		if seen[id] {
			return nil, nil, fmt.Errorf("%s: duplicate identifier %q", op, id)
		}
		seen[id] = true
		recs[i] = r
		ids[i] = id
	}
	return recs, ids, nil
}

func payloadOf[T any](op entity.Op, recs []T) any {
	if op.Many() {
		return recs
	}
	return recs[0]
}

// decodeAck reads the records echoed by the remote. The records that were
// sent are used instead when the body is absent, has another shape, or
// does not echo the sent identifiers in order.
func decodeAck[T entity.Record[T]](resp gateway.Response, op entity.Op, sent []T) []T {
	var out []T
	if op.Many() {
		if err := resp.Decode(&out); err != nil {
			return sent
		}
	} else {
		var one T
		if err := resp.Decode(&one); err != nil {
			return sent
		}
		out = []T{one}
	}
	if len(out) != len(sent) {
		return sent
	}
	for i, r := range out {
		if r.Identifier() != sent[i].Identifier() {
			return sent
		}
	}
	return out
}

func (m *Model[T]) rollback(p *pendingOp[T]) {
	m.mu.Lock()
	m.finishLocked(p)
	if !m.closed {
		m.recomputeLocked()
	}
	m.mu.Unlock()
	m.emit()
}

// finishLocked removes p from the pending list and releases its records.
// Caller must hold m.mu.
func (m *Model[T]) finishLocked(p *pendingOp[T]) {
	for i, q := range m.pending {
		if q == p {
			m.pending = append(m.pending[:i], m.pending[i+1:]...)
			break
		}
	}
	for _, r := range p.records {
		if m.inflight[r.Identifier()] == p.seq {
			delete(m.inflight, r.Identifier())
		}
	}
}

func (m *Model[T]) fail(merr *MutationError) {
	outcome := metrics.OutcomeFailed
	if merr.Code == CodeRejected {
		outcome = metrics.OutcomeRejected
	}
	m.deps.Metrics.Mutation(m.kind, merr.Op, outcome)
	m.logger.Error("mutation rolled back", "op", merr.Op, "ids", merr.IDs, "code", merr.Code, "error", merr.Err)
	m.deps.Notifier.Notify(notify.Notification{
		Level:   notify.LevelError,
		Kind:    m.kind,
		Op:      merr.Op,
		Message: fmt.Sprintf("could not %s %s", merr.Op.Single(), m.kind),
		Err:     merr,
		At:      timeNow(),
	})
}

// persistAll rewrites the namespace from the confirmed state in one batch.
func (m *Model[T]) persistAll() {
	m.persistMu.Lock()
	defer m.persistMu.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	records := cloneList(m.confirmed)
	m.mu.Unlock()

	b := store.NewBatch().Reset()
	for _, r := range records {
		data, err := json.Marshal(r)
		if err != nil {
			m.logger.Warn("record not persisted", "id", r.Identifier(), "error", err)
			continue
		}
		b.Put(r.Identifier(), data)
	}
	if err := m.deps.Store.Apply(m.ctx, m.ns, b); err != nil {
		m.logger.Warn("local store write failed", "error", err)
	}
}

// persistKeys writes the confirmed value of each id, deleting ids that are
// no longer in this model's scope.
func (m *Model[T]) persistKeys(ids []string) {
	m.persistMu.Lock()
	defer m.persistMu.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	b := store.NewBatch()
	for _, id := range ids {
		idx := indexOf(m.confirmed, id)
		if idx < 0 {
			b.Delete(id)
			continue
		}
		data, err := json.Marshal(m.confirmed[idx])
		if err != nil {
			m.logger.Warn("record not persisted", "id", id, "error", err)
			continue
		}
		b.Put(id, data)
	}
	m.mu.Unlock()

	if err := m.deps.Store.Apply(m.ctx, m.ns, b); err != nil {
		m.logger.Warn("local store write failed", "error", err)
	}
}

// Snapshot returns the current state.
func (m *Model[T]) Snapshot() Snapshot[T] {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Model[T]) snapshotLocked() Snapshot[T] {
	return Snapshot[T]{
		Status:  m.status,
		Data:    cloneList(m.next),
		Version: m.version,
	}
}

// Pending returns the number of mutations awaiting a remote answer.
func (m *Model[T]) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// emit delivers the latest snapshot to subscribers that have not seen it
// and to watchers. Only one goroutine delivers at a time; a call made while
// a delivery is running (including from inside a callback) returns at once
// and the running delivery picks up the new version.
func (m *Model[T]) emit() {
	m.mu.Lock()
	if m.delivering {
		m.mu.Unlock()
		return
	}
	m.delivering = true
	for !m.closed {
		snap := m.snapshotLocked()
		var due []*subscriber[T]
		for _, s := range m.subs {
			if s.last < snap.Version {
				s.last = snap.Version
				due = append(due, s)
			}
		}
		fresh := m.emitted != snap.Version
		var watchers []*watcher
		if fresh {
			m.emitted = snap.Version
			watchers = append(watchers, m.watchers...)
		}
		if len(due) == 0 && len(watchers) == 0 {
			break
		}
		m.mu.Unlock()

		if fresh {
			m.deps.Metrics.Emission(m.kind)
		}
		for _, s := range due {
			if s.active.Load() {
				s.fn(snap)
			}
		}
		for _, w := range watchers {
			if w.active.Load() {
				w.fn()
			}
		}

		m.mu.Lock()
	}
	m.delivering = false
	m.mu.Unlock()
}

// Subscribe calls fn with the current snapshot and then with every later
// one. When called from inside another callback of this model, the first
// call happens once that callback returns. The returned function cancels
// the subscription.
func (m *Model[T]) Subscribe(fn func(Snapshot[T])) (cancel func()) {
	s := &subscriber[T]{fn: fn, last: -1}
	s.active.Store(true)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return func() {}
	}
	m.subs = append(m.subs, s)
	m.mu.Unlock()

	m.emit()

	return func() {
		s.active.Store(false)
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, sub := range m.subs {
			if sub == s {
				m.subs = append(m.subs[:i:i], m.subs[i+1:]...)
				return
			}
		}
	}
}

// Watch calls fn after every change, without a snapshot and without an
// initial call. Dataflow nodes use it to schedule recomputation.
func (m *Model[T]) Watch(fn func()) (cancel func()) {
	w := &watcher{fn: fn}
	w.active.Store(true)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return func() {}
	}
	m.watchers = append(m.watchers, w)
	m.mu.Unlock()

	return func() {
		w.active.Store(false)
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, other := range m.watchers {
			if other == w {
				m.watchers = append(m.watchers[:i:i], m.watchers[i+1:]...)
				return
			}
		}
	}
}

var closedChan = func() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}()

// Idle returns a channel that is closed once no background work of the
// model is running. Work spawned before it closes delays it.
func (m *Model[T]) Idle() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.busy == 0 {
		return closedChan
	}
	return m.idle
}

// Wait blocks until the model has no background work running.
func (m *Model[T]) Wait() {
	<-m.Idle()
}

// Close unsubscribes the model from the bus, cancels background work and
// drops all subscribers. Mutations still in flight roll back locally
// without emitting. Close is idempotent.
func (m *Model[T]) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	for _, s := range m.subs {
		s.active.Store(false)
	}
	for _, w := range m.watchers {
		w.active.Store(false)
	}
	m.subs = nil
	m.watchers = nil
	m.mu.Unlock()

	m.busSub.Unsubscribe()
	m.cancel()
	m.logger.Info("model closed")
	return nil
}

// Closed reports whether Close has been called.
func (m *Model[T]) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
