package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/topicviews/errors"
	"github.com/c360/topicviews/eval"
	"github.com/c360/topicviews/pkg/jsonval"
	"github.com/c360/topicviews/store"
	"github.com/c360/topicviews/topic"
)

type fixture struct {
	registry *Registry
	topics   *store.MemoryTopicStore
	sink     *store.MemorySink
	views    *store.MemoryViewStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	topics := store.NewMemoryTopicStore()
	sink := store.NewMemorySink()
	views := store.NewMemoryViewStore()
	evaluator := eval.New(topics, store.AllowAll{})
	r := New(evaluator, sink, store.AllowAll{}, WithViewStore(views))
	require.NoError(t, r.Start(context.Background()))
	t.Cleanup(r.Close)
	return &fixture{registry: r, topics: topics, sink: sink, views: views}
}

// feed stores a source value and dispatches the event through the registry
func (f *fixture) feed(path string, value topic.Value) {
	ev := f.topics.Set(path, value, nil)
	<-f.topics.Events()
	f.registry.HandleEvent(context.Background(), ev)
}

func (f *fixture) remove(path string) {
	ev, ok := f.topics.Remove(path)
	if !ok {
		return
	}
	<-f.topics.Events()
	f.registry.HandleEvent(context.Background(), ev)
}

func stringValue(s string) topic.Value {
	return topic.Value{Type: topic.TypeString, Data: s}
}

func jsonValue(t *testing.T, doc string) topic.Value {
	t.Helper()
	data, err := jsonval.ParseString(doc)
	require.NoError(t, err)
	return topic.Value{Type: topic.TypeJSON, Data: data}
}

func (f *fixture) create(t *testing.T, name, spec string) Info {
	t.Helper()
	info, err := f.registry.CreateView(context.Background(), name, spec)
	require.NoError(t, err)
	return info
}

func TestCreateViewMapsExistingTopics(t *testing.T) {
	f := newFixture(t)
	f.feed("a/x", stringValue("v1"))

	f.create(t, "v", "map ?a// to b/<path(1)>")

	rt, ok := f.sink.Topic("b/x")
	require.True(t, ok)
	assert.Equal(t, "v1", rt.Value.Data)
}

func TestEventAfterViewCreatesTopic(t *testing.T) {
	f := newFixture(t)
	f.create(t, "v", "map ?a// to b/<path(1)>")

	f.feed("a/x", stringValue("v1"))
	rt, ok := f.sink.Topic("b/x")
	require.True(t, ok)
	assert.Equal(t, "v1", rt.Value.Data)

	f.feed("a/x", stringValue("v2"))
	rt, _ = f.sink.Topic("b/x")
	assert.Equal(t, "v2", rt.Value.Data)
}

func TestSourceRemovalRemovesReference(t *testing.T) {
	f := newFixture(t)
	f.create(t, "v", "map ?a// to b/<path(1)>")
	f.feed("a/x", stringValue("v1"))

	f.remove("a/x")
	_, ok := f.sink.Topic("b/x")
	assert.False(t, ok)
}

func TestViewRemovalRemovesReferences(t *testing.T) {
	f := newFixture(t)
	f.create(t, "v", "map ?a// to b/<path(1)>")
	f.feed("a/x", stringValue("v1"))

	require.NoError(t, f.registry.RemoveView(context.Background(), "v"))
	_, ok := f.sink.Topic("b/x")
	assert.False(t, ok)

	err := f.registry.RemoveView(context.Background(), "v")
	assert.ErrorIs(t, err, errors.ErrViewNotFound)
}

func TestPrecedenceLowestSequenceWins(t *testing.T) {
	f := newFixture(t)
	f.create(t, "first", "map a/x to shared")
	f.create(t, "second", "map a/y to shared")

	f.feed("a/y", stringValue("from-second"))
	rt, ok := f.sink.Topic("shared")
	require.True(t, ok)
	assert.Equal(t, "from-second", rt.Value.Data)

	// the earlier view claims the path and displaces the later one
	f.feed("a/x", stringValue("from-first"))
	rt, _ = f.sink.Topic("shared")
	assert.Equal(t, "from-first", rt.Value.Data)

	// when the earlier view stops deriving, the later view takes over
	f.remove("a/x")
	rt, ok = f.sink.Topic("shared")
	require.True(t, ok)
	assert.Equal(t, "from-second", rt.Value.Data)
}

func TestReplaceViewRetainsPrecedence(t *testing.T) {
	f := newFixture(t)
	first := f.create(t, "first", "map a/x to shared")
	f.create(t, "second", "map a/y to shared")

	replaced := f.create(t, "first", "map a/z to shared")
	assert.Equal(t, first.Sequence, replaced.Sequence)

	f.feed("a/y", stringValue("from-second"))
	f.feed("a/z", stringValue("from-first"))
	rt, _ := f.sink.Topic("shared")
	assert.Equal(t, "from-first", rt.Value.Data)
}

// countingSink wraps a MemorySink to observe publish calls
type countingSink struct {
	*store.MemorySink
	publishes int
}

func (s *countingSink) Publish(ctx context.Context, path string, value topic.Value) error {
	s.publishes++
	return s.MemorySink.Publish(ctx, path, value)
}

func TestIdempotentUpdateIsNoOp(t *testing.T) {
	topics := store.NewMemoryTopicStore()
	sink := &countingSink{MemorySink: store.NewMemorySink()}
	r := New(eval.New(topics, store.AllowAll{}), sink, store.AllowAll{})
	require.NoError(t, r.Start(context.Background()))
	t.Cleanup(r.Close)
	f := &fixture{registry: r, topics: topics, sink: sink.MemorySink}

	f.create(t, "v", "map ?a// to b/<path(1)>")
	f.feed("a/x", jsonValue(t, `{"v": 1}`))
	f.feed("a/x", jsonValue(t, `{"v": 1}`))
	assert.Equal(t, 1, sink.publishes)

	// time series references append on every update instead
	f.create(t, "ts", "map ?a// to ts/<path(1)> type TIME_SERIES")
	f.feed("a/x", jsonValue(t, `{"v": 1}`))
	rt, ok := f.sink.Topic("ts/x")
	require.True(t, ok)
	assert.Len(t, rt.Events, 2)
}

func TestScalarPathChangeMovesReference(t *testing.T) {
	f := newFixture(t)
	f.create(t, "v", "map ?a// to b/<scalar(/k)>")

	f.feed("a/x", jsonValue(t, `{"k": "one", "v": 1}`))
	_, ok := f.sink.Topic("b/one")
	require.True(t, ok)

	f.feed("a/x", jsonValue(t, `{"k": "two", "v": 2}`))
	_, ok = f.sink.Topic("b/one")
	assert.False(t, ok)
	_, ok = f.sink.Topic("b/two")
	assert.True(t, ok)
}

func TestPreserveTopicsRetainsStalePaths(t *testing.T) {
	f := newFixture(t)
	f.create(t, "v", "map ?a// to b/<scalar(/k)> preserve topics")

	f.feed("a/x", jsonValue(t, `{"k": "one"}`))
	f.feed("a/x", jsonValue(t, `{"k": "two"}`))
	_, ok := f.sink.Topic("b/one")
	assert.True(t, ok)
	_, ok = f.sink.Topic("b/two")
	assert.True(t, ok)

	// source removal still removes preserved topics
	f.remove("a/x")
	_, ok = f.sink.Topic("b/one")
	assert.False(t, ok)
	_, ok = f.sink.Topic("b/two")
	assert.False(t, ok)
}

func TestExpandReconciliation(t *testing.T) {
	f := newFixture(t)
	f.create(t, "v", "map ?a// to b/<expand()>")

	f.feed("a/x", jsonValue(t, `{"p": 1, "q": 2}`))
	assert.Equal(t, []string{"b/p", "b/q"}, f.sink.Paths())

	// q disappears, r appears
	f.feed("a/x", jsonValue(t, `{"p": 1, "r": 3}`))
	assert.Equal(t, []string{"b/p", "b/r"}, f.sink.Paths())
}

func TestChainedViews(t *testing.T) {
	f := newFixture(t)
	f.create(t, "first", "map ?a// to mid/<path(1)>")
	f.create(t, "second", "map ?mid// to out/<path(1)>")

	f.feed("a/x", stringValue("v1"))
	rt, ok := f.sink.Topic("out/x")
	require.True(t, ok)
	assert.Equal(t, "v1", rt.Value.Data)

	f.remove("a/x")
	_, ok = f.sink.Topic("mid/x")
	assert.False(t, ok)
	_, ok = f.sink.Topic("out/x")
	assert.False(t, ok)
}

func TestViewCycleIsBounded(t *testing.T) {
	f := newFixture(t)
	f.create(t, "ab", "map ?a// to b/<path(1)>")
	f.create(t, "ba", "map ?b// to a/<path(1)>")

	// must terminate despite the cycle
	f.feed("a/x", stringValue("v1"))
	_, ok := f.sink.Topic("b/x")
	assert.True(t, ok)
}

func TestListAndGetViews(t *testing.T) {
	f := newFixture(t)
	f.create(t, "one", "map a to b")
	f.create(t, "two", "map c to d")

	infos := f.registry.ListViews()
	require.Len(t, infos, 2)
	assert.Equal(t, "one", infos[0].Name)
	assert.Equal(t, "two", infos[1].Name)

	info, err := f.registry.GetView("two")
	require.NoError(t, err)
	assert.Equal(t, "map c to d", info.Spec)

	_, err = f.registry.GetView("absent")
	assert.ErrorIs(t, err, errors.ErrViewNotFound)
}

func TestCreateViewRejectsInvalidSpec(t *testing.T) {
	f := newFixture(t)
	_, err := f.registry.CreateView(context.Background(), "bad", "map to nothing")
	assert.Error(t, err)

	_, err = f.registry.CreateView(context.Background(), "", "map a to b")
	assert.ErrorIs(t, err, errors.ErrInvalidSpecification)
}

func TestViewsPersistAcrossRestart(t *testing.T) {
	f := newFixture(t)
	f.create(t, "v", "map ?a// to b/<path(1)>")

	evaluator := eval.New(f.topics, store.AllowAll{})
	restarted := New(evaluator, f.sink, store.AllowAll{}, WithViewStore(f.views))
	require.NoError(t, restarted.Start(context.Background()))
	t.Cleanup(restarted.Close)

	infos := restarted.ListViews()
	require.Len(t, infos, 1)
	assert.Equal(t, "v", infos[0].Name)
}

func TestRemoteViewDormantUntilConnected(t *testing.T) {
	f := newFixture(t)
	info := f.create(t, "remote", "map ?a// from server1 to b/<path(1)>")
	assert.Equal(t, StatusDormant, info.Status)

	ev := topic.NewSourceEvent("a/x", topic.TypeString, stringValue("v1"))
	ev.RemoteServer = "server1"
	f.registry.HandleEvent(context.Background(), ev)
	_, ok := f.sink.Topic("b/x")
	assert.False(t, ok)

	f.registry.SetServerState(context.Background(), "server1", true)
	info, err := f.registry.GetView("remote")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, info.Status)

	f.registry.HandleEvent(context.Background(), ev)
	_, ok = f.sink.Topic("b/x")
	assert.True(t, ok)

	// disconnect makes the view dormant and removes its topics
	f.registry.SetServerState(context.Background(), "server1", false)
	_, ok = f.sink.Topic("b/x")
	assert.False(t, ok)
}

func TestRemoteViewIgnoresLocalEvents(t *testing.T) {
	f := newFixture(t)
	f.registry.SetServerState(context.Background(), "server1", true)
	f.create(t, "remote", "map ?a// from server1 to b/<path(1)>")

	f.feed("a/x", stringValue("local"))
	_, ok := f.sink.Topic("b/x")
	assert.False(t, ok)
}

func TestThrottleCoalescesBursts(t *testing.T) {
	f := newFixture(t)
	f.create(t, "v", "map ?a// to b/<path(1)> type TIME_SERIES throttle to 1 update every 1 seconds")

	// time series updates bypass throttling entirely
	f.feed("a/x", stringValue("v1"))
	f.feed("a/x", stringValue("v2"))
	rt, _ := f.sink.Topic("b/x")
	assert.Len(t, rt.Events, 2)
}

func TestThrottleHoldsBackAndFlushes(t *testing.T) {
	f := newFixture(t)
	f.create(t, "v", "map ?a// to b/<path(1)> throttle to 1 update every 1 seconds")

	f.feed("a/x", stringValue("v1"))
	rt, _ := f.sink.Topic("b/x")
	assert.Equal(t, "v1", rt.Value.Data)

	// saturated window: updates are held and coalesced
	f.feed("a/x", stringValue("v2"))
	f.feed("a/x", stringValue("v3"))
	rt, _ = f.sink.Topic("b/x")
	assert.Equal(t, "v1", rt.Value.Data)

	// the trailing flush publishes the latest coalesced value
	require.Eventually(t, func() bool {
		rt, _ := f.sink.Topic("b/x")
		return rt.Value.Data == "v3"
	}, 3*time.Second, 20*time.Millisecond)
}

func TestDelayPostponesPublication(t *testing.T) {
	f := newFixture(t)
	f.create(t, "v", "map ?a// to b/<path(1)> delay by 1 seconds")

	f.feed("a/x", stringValue("v1"))

	// topic exists immediately but is unpublished
	rt, ok := f.sink.Topic("b/x")
	require.True(t, ok)
	assert.False(t, rt.HasValue)

	require.Eventually(t, func() bool {
		rt, _ := f.sink.Topic("b/x")
		return rt.HasValue && rt.Value.Data == "v1"
	}, 3*time.Second, 20*time.Millisecond)
}

func TestDelayedRemovalCancelledByNewClaim(t *testing.T) {
	f := newFixture(t)
	f.create(t, "v", "map ?a// to b/<path(1)> delay by 1 seconds")

	f.feed("a/x", stringValue("v1"))
	f.remove("a/x")

	// topic still present while the removal delay runs
	_, ok := f.sink.Topic("b/x")
	require.True(t, ok)

	// a new claim within the delay keeps it alive
	f.feed("a/x", stringValue("v2"))
	time.Sleep(1500 * time.Millisecond)
	_, ok = f.sink.Topic("b/x")
	assert.True(t, ok)
}

func TestUnpublishedDelayedTopicBlocksLowerPrecedence(t *testing.T) {
	f := newFixture(t)
	f.create(t, "delayed", "map a/x to shared delay by 1 minutes")
	f.create(t, "eager", "map a/y to shared")

	f.feed("a/x", stringValue("delayed"))
	f.feed("a/y", stringValue("eager"))

	rt, ok := f.sink.Topic("shared")
	require.True(t, ok)
	// the unpublished delayed topic holds the path
	assert.False(t, rt.HasValue)
}

func TestDelayFollowsOwningView(t *testing.T) {
	f := newFixture(t)
	f.create(t, "delayed", "map a/x to shared delay by 1 minutes")
	f.create(t, "eager", "map a/y to shared")

	f.feed("a/y", stringValue("eager1"))
	rt, ok := f.sink.Topic("shared")
	require.True(t, ok)
	assert.Equal(t, "eager1", rt.Value.Data)

	// the delayed view takes ownership and its publication is postponed
	f.feed("a/x", stringValue("held"))
	f.feed("a/y", stringValue("eager2"))
	rt, _ = f.sink.Topic("shared")
	assert.Equal(t, "eager1", rt.Value.Data)

	// ownership passes back to the undelayed view: its value publishes
	// immediately, not on the previous owner's schedule
	f.remove("a/x")
	rt, _ = f.sink.Topic("shared")
	assert.Equal(t, "eager2", rt.Value.Data)
}
