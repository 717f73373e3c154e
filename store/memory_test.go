package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/topicviews/errors"
	"github.com/c360/topicviews/topic"
)

func TestMemoryTopicStoreSetAndValue(t *testing.T) {
	s := NewMemoryTopicStore()
	ctx := context.Background()

	ev := s.Set("a/b", topic.Value{Type: topic.TypeString, Data: "hello"}, nil)
	assert.Equal(t, "a/b", ev.Path)
	assert.False(t, ev.IsRemoval)

	v, _, err := s.Value(ctx, "a/b")
	require.NoError(t, err)
	assert.Equal(t, "hello", v.Data)

	_, _, err = s.Value(ctx, "missing")
	assert.ErrorIs(t, err, errors.ErrTopicNotFound)
}

func TestMemoryTopicStoreRemoveEmitsEvent(t *testing.T) {
	s := NewMemoryTopicStore()
	s.Set("a", topic.Value{Type: topic.TypeInt64, Data: int64(1)}, nil)
	<-s.Events()

	ev, ok := s.Remove("a")
	require.True(t, ok)
	assert.True(t, ev.IsRemoval)
	assert.Equal(t, topic.TypeInt64, ev.Type)
	assert.Equal(t, ev, <-s.Events())

	_, ok = s.Remove("a")
	assert.False(t, ok)
}

func TestMemorySinkLifecycle(t *testing.T) {
	s := NewMemorySink()
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, "ref/a", topic.TypeJSON, topic.Properties{"CONFLATION": "off"}))
	assert.ErrorIs(t, s.Create(ctx, "ref/a", topic.TypeJSON, nil), errors.ErrPathBound)

	require.NoError(t, s.Publish(ctx, "ref/a", topic.Value{Type: topic.TypeJSON, Data: map[string]any{"x": int64(1)}}))
	rt, ok := s.Topic("ref/a")
	require.True(t, ok)
	assert.True(t, rt.HasValue)
	assert.Equal(t, "off", rt.Properties["CONFLATION"])

	assert.ErrorIs(t, s.Publish(ctx, "ref/missing", topic.Value{}), errors.ErrTopicNotFound)

	require.NoError(t, s.Remove(ctx, "ref/a"))
	_, ok = s.Topic("ref/a")
	assert.False(t, ok)
	// idempotent
	require.NoError(t, s.Remove(ctx, "ref/a"))
}

func TestMemorySinkTimeSeriesAppends(t *testing.T) {
	s := NewMemorySink()
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, "ts", topic.TypeTimeSeries, nil))
	for i := int64(1); i <= 3; i++ {
		v := topic.Value{Type: topic.TypeTimeSeries, EventType: topic.TypeInt64, Data: i}
		require.NoError(t, s.Publish(ctx, "ts", v))
	}

	rt, _ := s.Topic("ts")
	require.Len(t, rt.Events, 3)
	assert.Equal(t, int64(3), rt.Events[2].Data)
}

func TestPathPermissionsPrefixes(t *testing.T) {
	p := PathPermissions{DenyRead: []string{"secret"}, DenyModify: []string{"sys/locked"}}

	assert.False(t, p.CanReadTopic("secret"))
	assert.False(t, p.CanReadTopic("secret/inner"))
	assert.True(t, p.CanReadTopic("secrets")) // prefix must end at a separator
	assert.True(t, p.CanModifyTopic("sys"))
	assert.False(t, p.CanModifyTopic("sys/locked/a"))
}

func TestMemoryViewStoreOrdersBySequence(t *testing.T) {
	s := NewMemoryViewStore()
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, ViewRecord{Name: "b", Spec: "map b to y", Sequence: 2}))
	require.NoError(t, s.Save(ctx, ViewRecord{Name: "a", Spec: "map a to x", Sequence: 1}))

	records, err := s.Load(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "a", records[0].Name)

	require.NoError(t, s.Delete(ctx, "a"))
	assert.ErrorIs(t, s.Delete(ctx, "a"), errors.ErrViewNotFound)
}

func TestNATSSinkSubjectEncoding(t *testing.T) {
	s := NewNATSSink(nil, WithSubjectPrefix("views.ref"))

	assert.Equal(t, "views.ref.a.b", s.SubjectFor("a/b"))
	assert.Equal(t, "views.ref.a_b.c_d", s.SubjectFor("a.b/c d"))
	assert.Equal(t, "views.ref.x_", s.SubjectFor("x>"))
}
