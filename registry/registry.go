// Package registry manages the set of installed topic views and reconciles
// source topic events into reference topic creates, updates, and removals.
//
// Views are ordered by creation sequence: when two views derive the same
// reference path, the earlier view wins. Replacing a view retains its
// sequence. Views that reference a remote server are dormant until the
// server is reported connected.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/c360/topicviews/errors"
	"github.com/c360/topicviews/eval"
	"github.com/c360/topicviews/metric"
	"github.com/c360/topicviews/store"
	"github.com/c360/topicviews/topic"
	"github.com/c360/topicviews/view"
)

// Status of an installed view
type Status string

// View statuses
const (
	StatusActive  Status = "ACTIVE"
	StatusDormant Status = "DORMANT"
)

// Info describes an installed view
type Info struct {
	Name     string `json:"name"`
	Spec     string `json:"spec"`
	Sequence uint64 `json:"sequence"`
	Status   Status `json:"status"`
}

// maxChainDepth bounds re-dispatch of reference topic changes into views
// that select them, guarding against view cycles.
const maxChainDepth = 16

// viewState is the registry's record of one installed view
type viewState struct {
	name    string
	text    string
	spec    *view.Spec
	seq     uint64
	dormant bool

	// derived tracks, per source key, the reference paths this view
	// currently claims.
	derived map[string]map[string]struct{}
}

func (vs *viewState) info() Info {
	status := StatusActive
	if vs.dormant {
		status = StatusDormant
	}
	return Info{Name: vs.name, Spec: vs.text, Sequence: vs.seq, Status: status}
}

// Registry owns the installed views and the reference topics they maintain
type Registry struct {
	evaluator *eval.Evaluator
	sink      store.ReferenceSink
	perms     store.PermissionChecker
	viewStore store.ViewStore
	logger    *slog.Logger
	metrics   *registryMetrics

	mu      sync.Mutex
	views   map[string]*viewState
	refs    map[string]*refRecord
	sources map[string]topic.SourceEvent
	servers map[string]bool
	nextSeq uint64
	closed  bool
}

// Option configures a Registry
type Option func(*Registry)

// WithLogger sets the registry's logger
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

// WithViewStore enables persistence of view definitions
func WithViewStore(vs store.ViewStore) Option {
	return func(r *Registry) { r.viewStore = vs }
}

// WithMetrics registers registry metrics with the given metrics registry
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(r *Registry) {
		m, err := newRegistryMetrics(registry)
		if err != nil {
			r.logger.Warn("metrics registration failed", "error", err)
			return
		}
		r.metrics = m
	}
}

// New creates a Registry that evaluates views with evaluator and maintains
// reference topics through sink.
func New(evaluator *eval.Evaluator, sink store.ReferenceSink, perms store.PermissionChecker, opts ...Option) *Registry {
	r := &Registry{
		evaluator: evaluator,
		sink:      sink,
		perms:     perms,
		logger:    slog.Default(),
		views:     make(map[string]*viewState),
		refs:      make(map[string]*refRecord),
		sources:   make(map[string]topic.SourceEvent),
		servers:   make(map[string]bool),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start restores persisted views. Restored views derive nothing until source
// events arrive.
func (r *Registry) Start(ctx context.Context) error {
	if r.viewStore == nil {
		return nil
	}
	records, err := r.viewStore.Load(ctx)
	if err != nil {
		return errors.WrapTransient(err, "Registry", "Start", "restore views")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rec := range records {
		spec, err := view.Parse(rec.Spec)
		if err != nil {
			r.logger.Error("skipping unparseable persisted view",
				"view", rec.Name, "error", err)
			continue
		}
		r.views[rec.Name] = &viewState{
			name:    rec.Name,
			text:    rec.Spec,
			spec:    spec,
			seq:     rec.Sequence,
			dormant: r.isDormantLocked(spec),
			derived: make(map[string]map[string]struct{}),
		}
		if rec.Sequence >= r.nextSeq {
			r.nextSeq = rec.Sequence + 1
		}
	}
	r.metrics.setViews(len(r.views))
	r.logger.Info("views restored", "count", len(r.views))
	return nil
}

// Close stops all scheduled work. The registry must not be used afterwards.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	for _, rec := range r.refs {
		rec.cancelTimers()
	}
}

func (r *Registry) isDormantLocked(spec *view.Spec) bool {
	return spec.RemoteServer != "" && !r.servers[spec.RemoteServer]
}

// sourceKey distinguishes same-path topics on different servers
func sourceKey(ev topic.SourceEvent) string {
	if ev.RemoteServer == "" {
		return ev.Path
	}
	return ev.RemoteServer + "|" + ev.Path
}

// CreateView installs a view, or replaces the view of the same name while
// retaining its precedence. The view is evaluated against all known source
// topics immediately.
func (r *Registry) CreateView(ctx context.Context, name, specText string) (Info, error) {
	if name == "" {
		return Info{}, errors.WrapInvalid(errors.ErrInvalidSpecification,
			"Registry", "CreateView", "view name must not be empty")
	}
	spec, err := view.Parse(specText)
	if err != nil {
		return Info{}, err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return Info{}, errors.ErrShuttingDown
	}

	seq := r.nextSeq
	if existing, ok := r.views[name]; ok {
		seq = existing.seq
	}

	if r.viewStore != nil {
		rec := store.ViewRecord{Name: name, Spec: specText, Sequence: seq}
		if err := r.viewStore.Save(ctx, rec); err != nil {
			r.mu.Unlock()
			r.metrics.recordError("persist")
			return Info{}, err
		}
	}

	touched := make(map[string]*refRecord)
	if existing, ok := r.views[name]; ok {
		r.dropViewClaimsLocked(existing, touched)
	} else {
		r.nextSeq++
	}

	vs := &viewState{
		name:    name,
		text:    specText,
		spec:    spec,
		seq:     seq,
		dormant: r.isDormantLocked(spec),
		derived: make(map[string]map[string]struct{}),
	}
	r.views[name] = vs

	if !vs.dormant {
		r.evaluateViewLocked(ctx, vs, touched)
	}
	emitted := r.reconcileTouchedLocked(ctx, touched)
	info := vs.info()
	r.metrics.setViews(len(r.views))
	r.mu.Unlock()

	r.dispatch(ctx, emitted, 1)
	r.logger.Info("view installed", "view", name, "sequence", seq, "status", info.Status)
	return info, nil
}

// RemoveView uninstalls a view and removes the reference topics it owns
func (r *Registry) RemoveView(ctx context.Context, name string) error {
	r.mu.Lock()
	vs, ok := r.views[name]
	if !ok {
		r.mu.Unlock()
		return errors.Wrap(errors.ErrViewNotFound, "Registry", "RemoveView",
			fmt.Sprintf("remove view %q", name))
	}

	if r.viewStore != nil {
		if err := r.viewStore.Delete(ctx, name); err != nil && !errors.Is(err, errors.ErrViewNotFound) {
			r.logger.Error("failed to delete persisted view", "view", name, "error", err)
			r.metrics.recordError("persist")
		}
	}

	touched := make(map[string]*refRecord)
	r.dropViewClaimsLocked(vs, touched)
	delete(r.views, name)
	emitted := r.reconcileTouchedLocked(ctx, touched)
	r.metrics.setViews(len(r.views))
	r.mu.Unlock()

	r.dispatch(ctx, emitted, 1)
	r.logger.Info("view removed", "view", name)
	return nil
}

// GetView returns the named view
func (r *Registry) GetView(name string) (Info, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	vs, ok := r.views[name]
	if !ok {
		return Info{}, errors.Wrap(errors.ErrViewNotFound, "Registry", "GetView",
			fmt.Sprintf("get view %q", name))
	}
	return vs.info(), nil
}

// ListViews returns all installed views in precedence order
func (r *Registry) ListViews() []Info {
	r.mu.Lock()
	defer r.mu.Unlock()

	infos := make([]Info, 0, len(r.views))
	for _, vs := range r.views {
		infos = append(infos, vs.info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Sequence < infos[j].Sequence })
	return infos
}

// ReferencePaths returns the paths of all bound reference topics
func (r *Registry) ReferencePaths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	paths := make([]string, 0, len(r.refs))
	for p, rec := range r.refs {
		if rec.created {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)
	return paths
}

// SetServerState reports a remote server's connection state. Views for a
// connected server wake and evaluate; views for a disconnected server become
// dormant and their reference topics are removed.
func (r *Registry) SetServerState(ctx context.Context, server string, connected bool) {
	r.mu.Lock()
	r.servers[server] = connected

	touched := make(map[string]*refRecord)
	for _, vs := range r.viewsBySeqLocked() {
		if vs.spec.RemoteServer != server {
			continue
		}
		switch {
		case connected && vs.dormant:
			vs.dormant = false
			r.evaluateViewLocked(ctx, vs, touched)
		case !connected && !vs.dormant:
			vs.dormant = true
			r.dropViewClaimsLocked(vs, touched)
		}
	}
	if !connected {
		for key, ev := range r.sources {
			if ev.RemoteServer == server {
				delete(r.sources, key)
			}
		}
	}
	emitted := r.reconcileTouchedLocked(ctx, touched)
	r.mu.Unlock()

	r.dispatch(ctx, emitted, 1)
	r.logger.Info("server state changed", "server", server, "connected", connected)
}

// HandleEvent dispatches a source topic event through all installed views.
// Reference topic changes the event causes are re-dispatched so that views
// can be chained.
func (r *Registry) HandleEvent(ctx context.Context, ev topic.SourceEvent) {
	r.dispatch(ctx, []topic.SourceEvent{ev}, 0)
}

func (r *Registry) dispatch(ctx context.Context, events []topic.SourceEvent, depth int) {
	for len(events) > 0 {
		if depth >= maxChainDepth {
			r.logger.Warn("view chain depth exceeded, dropping events",
				"depth", depth, "events", len(events))
			r.metrics.recordEvent("dropped")
			return
		}
		var next []topic.SourceEvent
		for _, ev := range events {
			status := "processed"
			if depth > 0 {
				status = "chained"
			}
			r.metrics.recordEvent(status)
			next = append(next, r.processEvent(ctx, ev)...)
		}
		events = next
		depth++
	}
}

// processEvent applies one event to every matching view and reconciles the
// touched reference records. Returns the reference topic changes as source
// events for chained dispatch.
func (r *Registry) processEvent(ctx context.Context, ev topic.SourceEvent) []topic.SourceEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}

	key := sourceKey(ev)
	if ev.IsRemoval {
		delete(r.sources, key)
	} else {
		r.sources[key] = ev
	}

	touched := make(map[string]*refRecord)
	for _, vs := range r.viewsBySeqLocked() {
		r.applyViewToEventLocked(ctx, vs, ev, touched)
	}
	return r.reconcileTouchedLocked(ctx, touched)
}

func (r *Registry) viewsBySeqLocked() []*viewState {
	views := make([]*viewState, 0, len(r.views))
	for _, vs := range r.views {
		views = append(views, vs)
	}
	sort.Slice(views, func(i, j int) bool { return views[i].seq < views[j].seq })
	return views
}

// evaluateViewLocked applies a view to every cached source event it selects
func (r *Registry) evaluateViewLocked(ctx context.Context, vs *viewState, touched map[string]*refRecord) {
	for _, ev := range r.sources {
		r.applyViewToEventLocked(ctx, vs, ev, touched)
	}
}

// applyViewToEventLocked evaluates one view against one event and adjusts
// the view's claims to match what the event now derives.
func (r *Registry) applyViewToEventLocked(ctx context.Context, vs *viewState, ev topic.SourceEvent, touched map[string]*refRecord) {
	if vs.dormant ||
		vs.spec.RemoteServer != ev.RemoteServer ||
		!vs.spec.Selector.Matches(ev.Path) {
		return
	}

	derived, err := r.evaluator.Evaluate(ctx, vs.spec, ev)
	if err != nil {
		r.logger.Error("view evaluation failed",
			"view", vs.name, "source", ev.Path, "error", err)
		r.metrics.recordError("evaluate")
		return
	}

	key := sourceKey(ev)
	newPaths := make(map[string]struct{}, len(derived))
	for _, d := range derived {
		newPaths[d.Path] = struct{}{}
	}

	// preserved topics survive source value changes, but not source removal
	preserve := vs.spec.Options.PreserveTopics && !ev.IsRemoval

	old := vs.derived[key]
	for p := range old {
		if _, keep := newPaths[p]; keep || preserve {
			continue
		}
		if rec, ok := r.refs[p]; ok && rec.removeClaim(vs, key) {
			touched[p] = rec
		}
		delete(old, p)
	}

	if len(derived) > 0 && old == nil {
		old = make(map[string]struct{})
		vs.derived[key] = old
	}
	for _, d := range derived {
		rec, ok := r.refs[d.Path]
		if !ok {
			rec = &refRecord{path: d.Path}
			r.refs[d.Path] = rec
		}
		rec.upsertClaim(vs, key, d.Value, d.Properties)
		old[d.Path] = struct{}{}
		touched[d.Path] = rec
	}
	if len(old) == 0 {
		delete(vs.derived, key)
	}
}

// dropViewClaimsLocked withdraws every claim a view holds
func (r *Registry) dropViewClaimsLocked(vs *viewState, touched map[string]*refRecord) {
	for key, paths := range vs.derived {
		for p := range paths {
			if rec, ok := r.refs[p]; ok && rec.removeClaim(vs, key) {
				touched[p] = rec
			}
		}
		delete(vs.derived, key)
	}
}

// reconcileTouchedLocked drives the sink toward the claimed state of every
// touched record, in path order for determinism.
func (r *Registry) reconcileTouchedLocked(ctx context.Context, touched map[string]*refRecord) []topic.SourceEvent {
	paths := make([]string, 0, len(touched))
	for p := range touched {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var emitted []topic.SourceEvent
	for _, p := range paths {
		emitted = append(emitted, r.reconcileRecordLocked(ctx, touched[p])...)
	}
	r.metrics.setReferenceTopics(len(r.refs))
	return emitted
}

func (r *Registry) reconcileRecordLocked(ctx context.Context, rec *refRecord) []topic.SourceEvent {
	own := rec.owner()
	if own == nil {
		return r.retireRecordLocked(ctx, rec)
	}

	// a surviving claim cancels any scheduled removal
	if rec.removeTimer != nil {
		rec.removeTimer.Stop()
		rec.removeTimer = nil
	}

	if !r.perms.CanModifyTopic(rec.path) {
		return nil
	}

	// the delay follows the owning view, which can change between reconciles
	rec.delay = own.view.spec.Options.Delay

	var emitted []topic.SourceEvent

	if rec.created && rec.typ != own.value.Type {
		if err := r.sink.Remove(ctx, rec.path); err != nil {
			r.logger.Error("reference remove failed", "path", rec.path, "error", err)
			r.metrics.recordError("remove")
			return nil
		}
		emitted = append(emitted, topic.NewRemovalEvent(rec.path, rec.typ))
		rec.created = false
		rec.hasValue = false
		rec.resetThrottle()
	}

	if !rec.created {
		if err := r.sink.Create(ctx, rec.path, own.value.Type, own.props); err != nil {
			r.logger.Error("reference create failed", "path", rec.path, "error", err)
			r.metrics.recordError("create")
			return emitted
		}
		rec.created = true
		rec.typ = own.value.Type
		rec.props = own.props
	}

	emitted = append(emitted, r.publishLocked(ctx, rec, own)...)
	return emitted
}

// retireRecordLocked handles a record with no remaining claims: immediate
// removal, or a scheduled one for views with a publication delay.
func (r *Registry) retireRecordLocked(ctx context.Context, rec *refRecord) []topic.SourceEvent {
	if !rec.created {
		rec.cancelTimers()
		delete(r.refs, rec.path)
		return nil
	}

	if rec.delay > 0 {
		if rec.removeTimer == nil {
			path := rec.path
			rec.removeTimer = time.AfterFunc(rec.delay, func() { r.delayedRemove(path) })
		}
		return nil
	}

	rec.cancelTimers()
	delete(r.refs, rec.path)
	if err := r.sink.Remove(ctx, rec.path); err != nil {
		r.logger.Error("reference remove failed", "path", rec.path, "error", err)
		r.metrics.recordError("remove")
		return nil
	}
	return []topic.SourceEvent{topic.NewRemovalEvent(rec.path, rec.typ)}
}

// publishLocked pushes the owner's value through the delay and throttle
// gates. Publishing a value canonically equal to the last published value is
// a no-op, except for time series where every update appends.
func (r *Registry) publishLocked(ctx context.Context, rec *refRecord, own *claim) []topic.SourceEvent {
	value := own.value

	if rec.hasValue && rec.typ != topic.TypeTimeSeries && sameValue(rec.lastValue, value) {
		return nil
	}

	if rec.delay > 0 {
		rec.delayPending = &value
		if rec.delayTimer == nil {
			path := rec.path
			rec.delayTimer = time.AfterFunc(rec.delay, func() { r.delayedPublish(path) })
		}
		return nil
	}

	thr := own.view.spec.Options.Throttle
	if thr != nil && rec.typ != topic.TypeTimeSeries {
		now := time.Now()
		if rec.thrWindowStart.IsZero() || now.Sub(rec.thrWindowStart) >= thr.Period {
			rec.thrWindowStart = now
			rec.thrSent = 0
		}
		if rec.thrSent >= thr.Count {
			rec.thrPending = &value
			if rec.thrTimer == nil {
				wait := thr.Period - now.Sub(rec.thrWindowStart)
				path := rec.path
				rec.thrTimer = time.AfterFunc(wait, func() { r.throttleFlush(path) })
			}
			r.metrics.recordThrottled()
			return nil
		}
		rec.thrSent++
	}

	return r.sinkPublishLocked(ctx, rec, value)
}

func (r *Registry) sinkPublishLocked(ctx context.Context, rec *refRecord, value topic.Value) []topic.SourceEvent {
	if err := r.sink.Publish(ctx, rec.path, value); err != nil {
		r.logger.Error("reference publish failed", "path", rec.path, "error", err)
		r.metrics.recordError("publish")
		return nil
	}
	rec.lastValue = value
	rec.hasValue = true
	r.metrics.recordPublished()

	ev := topic.NewSourceEvent(rec.path, rec.typ, value)
	ev.Properties = rec.props
	return []topic.SourceEvent{ev}
}

// throttleFlush publishes the value coalesced during a saturated throttle
// window and opens the next window.
func (r *Registry) throttleFlush(path string) {
	ctx := context.Background()

	r.mu.Lock()
	rec, ok := r.refs[path]
	if !ok || r.closed {
		r.mu.Unlock()
		return
	}
	rec.thrTimer = nil
	pending := rec.thrPending
	rec.thrPending = nil

	var emitted []topic.SourceEvent
	if pending != nil && rec.created {
		rec.thrWindowStart = time.Now()
		rec.thrSent = 1
		emitted = r.sinkPublishLocked(ctx, rec, *pending)
	}
	r.mu.Unlock()

	r.dispatch(ctx, emitted, 1)
}

// delayedPublish fires when a publication delay expires
func (r *Registry) delayedPublish(path string) {
	ctx := context.Background()

	r.mu.Lock()
	rec, ok := r.refs[path]
	if !ok || r.closed {
		r.mu.Unlock()
		return
	}
	rec.delayTimer = nil
	pending := rec.delayPending
	rec.delayPending = nil

	var emitted []topic.SourceEvent
	if pending != nil && rec.created && rec.owner() != nil {
		emitted = r.sinkPublishLocked(ctx, rec, *pending)
	}
	r.mu.Unlock()

	r.dispatch(ctx, emitted, 1)
}

// delayedRemove fires when a removal delay expires. A claim acquired in the
// interim keeps the topic.
func (r *Registry) delayedRemove(path string) {
	ctx := context.Background()

	r.mu.Lock()
	rec, ok := r.refs[path]
	if !ok || r.closed {
		r.mu.Unlock()
		return
	}
	rec.removeTimer = nil
	if rec.owner() != nil {
		r.mu.Unlock()
		return
	}

	rec.cancelTimers()
	delete(r.refs, path)
	var emitted []topic.SourceEvent
	if rec.created {
		if err := r.sink.Remove(ctx, path); err != nil {
			r.logger.Error("reference remove failed", "path", path, "error", err)
			r.metrics.recordError("remove")
		} else {
			emitted = []topic.SourceEvent{topic.NewRemovalEvent(path, rec.typ)}
		}
	}
	r.metrics.setReferenceTopics(len(r.refs))
	r.mu.Unlock()

	r.dispatch(ctx, emitted, 1)
}
