package bridge

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/topicviews/eval"
	"github.com/c360/topicviews/registry"
	"github.com/c360/topicviews/store"
	"github.com/c360/topicviews/topic"
)

type fakeSubscriber struct {
	subjects []string
}

func (f *fakeSubscriber) Subscribe(_ context.Context, subject string, _ func(context.Context, []byte)) error {
	f.subjects = append(f.subjects, subject)
	return nil
}

func newBridge(t *testing.T) (*Bridge, *registry.Registry, *store.MemorySink) {
	t.Helper()

	topics := store.NewMemoryTopicStore()
	sink := store.NewMemorySink()
	reg := registry.New(eval.New(topics, store.AllowAll{}), sink, store.AllowAll{})
	require.NoError(t, reg.Start(context.Background()))
	t.Cleanup(reg.Close)

	b, err := New(nil, reg, Config{})
	require.NoError(t, err)
	require.NoError(t, b.Start(context.Background()))
	t.Cleanup(func() { _ = b.Stop(time.Second) })
	return b, reg, sink
}

func encodeEvent(t *testing.T, ev topic.SourceEvent) []byte {
	t.Helper()
	data, err := json.Marshal(ev)
	require.NoError(t, err)
	return data
}

func TestSourceMessageReachesRegistry(t *testing.T) {
	b, reg, sink := newBridge(t)
	_, err := reg.CreateView(context.Background(), "v", "map ?a// to b/<path(1)>")
	require.NoError(t, err)

	ev := topic.NewSourceEvent("a/x", topic.TypeString, topic.Value{Type: topic.TypeString, Data: "v1"})
	b.HandleSourceMessage(context.Background(), encodeEvent(t, ev))

	require.Eventually(t, func() bool {
		_, ok := sink.Topic("b/x")
		return ok
	}, time.Second, 10*time.Millisecond)
}

func TestUndecodableSourceMessageIsDropped(t *testing.T) {
	b, _, _ := newBridge(t)

	b.HandleSourceMessage(context.Background(), []byte("{not json"))
	b.HandleSourceMessage(context.Background(), encodeEvent(t, topic.SourceEvent{Path: "//bad"}))

	assert.Eventually(t, func() bool {
		return b.Stats().Submitted == 0
	}, time.Second, 10*time.Millisecond)
}

func TestServerStateMessageWakesRemoteView(t *testing.T) {
	b, reg, sink := newBridge(t)
	info, err := reg.CreateView(context.Background(), "remote", "map ?a// from east to b/<path(1)>")
	require.NoError(t, err)
	require.Equal(t, registry.StatusDormant, info.Status)

	b.HandleServerMessage(context.Background(), []byte(`{"server": "east", "connected": true}`))
	info, err = reg.GetView("remote")
	require.NoError(t, err)
	assert.Equal(t, registry.StatusActive, info.Status)

	ev := topic.NewSourceEvent("a/x", topic.TypeString, topic.Value{Type: topic.TypeString, Data: "v1"})
	ev.RemoteServer = "east"
	b.HandleSourceMessage(context.Background(), encodeEvent(t, ev))
	require.Eventually(t, func() bool {
		_, ok := sink.Topic("b/x")
		return ok
	}, time.Second, 10*time.Millisecond)

	b.HandleServerMessage(context.Background(), []byte(`{"server": "east", "connected": false}`))
	_, ok := sink.Topic("b/x")
	assert.False(t, ok)
}

func TestTopicStoreTracksSourceEvents(t *testing.T) {
	topics := store.NewMemoryTopicStore()
	reg := registry.New(eval.New(topics, store.AllowAll{}), store.NewMemorySink(), store.AllowAll{})
	require.NoError(t, reg.Start(context.Background()))
	t.Cleanup(reg.Close)

	b, err := New(nil, reg, Config{}, WithTopicStore(topics))
	require.NoError(t, err)
	require.NoError(t, b.Start(context.Background()))
	t.Cleanup(func() { _ = b.Stop(time.Second) })

	ev := topic.NewSourceEvent("a/x", topic.TypeString, topic.Value{Type: topic.TypeString, Data: "v1"})
	b.HandleSourceMessage(context.Background(), encodeEvent(t, ev))

	require.Eventually(t, func() bool {
		_, _, err := topics.Value(context.Background(), "a/x")
		return err == nil
	}, time.Second, 10*time.Millisecond)

	removal := topic.NewRemovalEvent("a/x", topic.TypeString)
	b.HandleSourceMessage(context.Background(), encodeEvent(t, removal))

	require.Eventually(t, func() bool {
		_, _, err := topics.Value(context.Background(), "a/x")
		return err != nil
	}, time.Second, 10*time.Millisecond)
}

func TestStartSubscribesConfiguredSubjects(t *testing.T) {
	topics := store.NewMemoryTopicStore()
	reg := registry.New(eval.New(topics, store.AllowAll{}), store.NewMemorySink(), store.AllowAll{})
	t.Cleanup(reg.Close)

	sub := &fakeSubscriber{}
	b, err := New(sub, reg, Config{})
	require.NoError(t, err)
	require.NoError(t, b.Start(context.Background()))
	t.Cleanup(func() { _ = b.Stop(time.Second) })

	assert.Equal(t, []string{"topicviews.source.>", "topicviews.server.state"}, sub.subjects)
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "topicviews.source.>", cfg.SourceSubject)
	assert.Equal(t, "topicviews.server.state", cfg.ServerSubject)
	assert.Equal(t, 1024, cfg.QueueSize)

	cfg = Config{QueueSize: -1}
	assert.Error(t, cfg.Validate())
}
