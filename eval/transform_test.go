package eval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/topicviews/store"
	"github.com/c360/topicviews/topic"
)

func TestProcessSetCreatesField(t *testing.T) {
	e, _ := newEvaluator(t)
	spec := mustParse(t, `map ?a// to b/<path(1)> process {set(/Name, 'John')}`)

	derived := evaluate(t, e, spec, jsonEvent(t, "a/1", `{"x": 1}`))
	require.Len(t, derived, 1)
	value := derived[0].Value.Data.(map[string]any)
	assert.Equal(t, "John", value["Name"])
	assert.Equal(t, int64(1), value["x"])
}

func TestProcessSetMissingParentDrops(t *testing.T) {
	e, _ := newEvaluator(t)
	spec := mustParse(t, `map ?a// to b/<path(1)> process {set(/a/b, 1)}`)

	assert.Empty(t, evaluate(t, e, spec, jsonEvent(t, "a/1", `{"x": 1}`)))
}

func TestProcessCalcChainReadsOriginal(t *testing.T) {
	e, _ := newEvaluator(t)
	spec := mustParse(t,
		`map ?a// to b/<path(1)> process {set(/Amount, calc "/Value * /Number"); remove(/Value); remove(/Number)}`)

	derived := evaluate(t, e, spec, jsonEvent(t, "a/1", `{"Value": 6, "Number": 7}`))
	require.Len(t, derived, 1)
	value := derived[0].Value.Data.(map[string]any)
	assert.Equal(t, int64(42), value["Amount"])
	_, hasValue := value["Value"]
	assert.False(t, hasValue)
}

func TestProcessCalcNonIntegerDrops(t *testing.T) {
	e, _ := newEvaluator(t)
	spec := mustParse(t, `map ?a// to b/<path(1)> process {set(/y, calc "/x * 2")}`)

	assert.Empty(t, evaluate(t, e, spec, jsonEvent(t, "a/1", `{"x": 1.5}`)))
	assert.Empty(t, evaluate(t, e, spec, jsonEvent(t, "a/1", `{"x": "nope"}`)))
}

func TestProcessCalcDivisionByZeroDrops(t *testing.T) {
	e, _ := newEvaluator(t)
	spec := mustParse(t, `map ?a// to b/<path(1)> process {set(/y, calc "/x / 0")}`)

	assert.Empty(t, evaluate(t, e, spec, jsonEvent(t, "a/1", `{"x": 1}`)))
}

func TestProcessRemoveAbsentContinues(t *testing.T) {
	e, _ := newEvaluator(t)
	spec := mustParse(t, `map ?a// to b/<path(1)> process {remove(/gone)}`)

	derived := evaluate(t, e, spec, jsonEvent(t, "a/1", `{"x": 1}`))
	assert.Len(t, derived, 1)
}

func TestProcessConditionalGate(t *testing.T) {
	e, _ := newEvaluator(t)
	spec := mustParse(t, `map ?a// to b/<path(1)> process {if '/Price gt 50' continue}`)

	derived := evaluate(t, e, spec, jsonEvent(t, "a/1", `{"Price": 60}`))
	assert.Len(t, derived, 1)

	// unsatisfied condition with no else derives nothing
	assert.Empty(t, evaluate(t, e, spec, jsonEvent(t, "a/1", `{"Price": 40}`)))
}

func TestProcessConditionalBranches(t *testing.T) {
	e, _ := newEvaluator(t)
	spec := mustParse(t,
		`map ?a// to b/<path(1)> process {if '/Price lt 50' set(/Tier, 1) elseif '/Price gt 50' set(/Tier, 2) else set(/Tier, 0)}`)

	tier := func(doc string) int64 {
		derived := evaluate(t, e, spec, jsonEvent(t, "a/1", doc))
		require.Len(t, derived, 1)
		return derived[0].Value.Data.(map[string]any)["Tier"].(int64)
	}
	assert.Equal(t, int64(1), tier(`{"Price": 40}`))
	assert.Equal(t, int64(2), tier(`{"Price": 60}`))
	assert.Equal(t, int64(0), tier(`{"Price": 50}`))
}

func TestProcessCompoundCondition(t *testing.T) {
	e, _ := newEvaluator(t)
	spec := mustParse(t,
		`map ?a// to b/<path(1)> process {if '/Age gt 50 & /Department eq "Accounts"' continue}`)

	assert.Len(t, evaluate(t, e, spec, jsonEvent(t, "a/1", `{"Age": 60, "Department": "Accounts"}`)), 1)
	assert.Empty(t, evaluate(t, e, spec, jsonEvent(t, "a/1", `{"Age": 60, "Department": "Sales"}`)))
}

func TestProcessRelationalOnNonIntegerFails(t *testing.T) {
	e, _ := newEvaluator(t)
	spec := mustParse(t, `map ?a// to b/<path(1)> process {if '/x gt 1' continue}`)

	assert.Empty(t, evaluate(t, e, spec, jsonEvent(t, "a/1", `{"x": "2"}`)))
	assert.Empty(t, evaluate(t, e, spec, jsonEvent(t, "a/1", `{"x": 2.5}`)))
}

func TestProcessPointerComparison(t *testing.T) {
	e, _ := newEvaluator(t)
	spec := mustParse(t, `map ?a// to b/<path(1)> process {if '/Age gt /RetirementAge' continue}`)

	assert.Len(t, evaluate(t, e, spec, jsonEvent(t, "a/1", `{"Age": 70, "RetirementAge": 65}`)), 1)
	assert.Empty(t, evaluate(t, e, spec, jsonEvent(t, "a/1", `{"Age": 60, "RetirementAge": 65}`)))
}

func TestPatchAppliesAtomically(t *testing.T) {
	e, _ := newEvaluator(t)
	spec := mustParse(t,
		`map ?a// to b/<path(1)> patch '[{"op":"add", "path":"/price", "value": 22}, {"op":"remove", "path":"/name"}]'`)

	derived := evaluate(t, e, spec, jsonEvent(t, "a/1", `{"name": "thing"}`))
	require.Len(t, derived, 1)
	value := derived[0].Value.Data.(map[string]any)
	assert.Equal(t, int64(22), value["price"])
	_, hasName := value["name"]
	assert.False(t, hasName)
}

func TestPatchTestGuards(t *testing.T) {
	e, _ := newEvaluator(t)
	spec := mustParse(t,
		`map ?a// to b/<path(1)> patch '[{"op":"test", "path":"/price", "value": 22}, {"op":"replace", "path":"/price", "value": 23}]'`)

	derived := evaluate(t, e, spec, jsonEvent(t, "a/1", `{"price": 22}`))
	require.Len(t, derived, 1)
	assert.Equal(t, int64(23), derived[0].Value.Data.(map[string]any)["price"])

	// failed test drops the whole mapping
	assert.Empty(t, evaluate(t, e, spec, jsonEvent(t, "a/1", `{"price": 99}`)))
}

func TestPatchMoveAndCopy(t *testing.T) {
	e, _ := newEvaluator(t)
	spec := mustParse(t,
		`map ?a// to b/<path(1)> patch '[{"op":"move", "from":"/a", "path":"/b"}, {"op":"copy", "from":"/b", "path":"/c"}]'`)

	derived := evaluate(t, e, spec, jsonEvent(t, "a/1", `{"a": 1}`))
	require.Len(t, derived, 1)
	value := derived[0].Value.Data.(map[string]any)
	_, hasA := value["a"]
	assert.False(t, hasA)
	assert.Equal(t, int64(1), value["b"])
	assert.Equal(t, int64(1), value["c"])
}

func TestPatchOnScalarDrops(t *testing.T) {
	e, _ := newEvaluator(t)
	spec := mustParse(t, `map ?a// to b/<path(1)> patch '[{"op":"add", "path":"/x", "value": 1}]'`)

	assert.Empty(t, evaluate(t, e, spec, jsonEvent(t, "a/1", `"scalar"`)))
}

func TestInsertWholeTopicValue(t *testing.T) {
	e, topics := newEvaluator(t)
	topics.Set("AnyTopic", topic.Value{
		Type: topic.TypeJSON,
		Data: map[string]any{"name": "bill"},
	}, nil)

	spec := mustParse(t, "map ?a// to b/<path(1)> insert AnyTopic at /T")
	derived := evaluate(t, e, spec, jsonEvent(t, "a/1", `{"x": 1}`))
	require.Len(t, derived, 1)
	inserted := derived[0].Value.Data.(map[string]any)["T"].(map[string]any)
	assert.Equal(t, "bill", inserted["name"])
}

func TestInsertKeyedValueAppendsToArray(t *testing.T) {
	e, topics := newEvaluator(t)
	topics.Set("AnyTopic", topic.Value{
		Type: topic.TypeJSON,
		Data: map[string]any{"name": "bill"},
	}, nil)

	spec := mustParse(t, "map ?a// to b/<path(1)> insert AnyTopic key /name at /T/-")
	derived := evaluate(t, e, spec, jsonEvent(t, "a/1", `{"T": ["existing"]}`))
	require.Len(t, derived, 1)
	arr := derived[0].Value.Data.(map[string]any)["T"].([]any)
	require.Len(t, arr, 2)
	assert.Equal(t, "bill", arr[1])
}

func TestInsertMissingTopicUsesDefault(t *testing.T) {
	e, _ := newEvaluator(t)
	spec := mustParse(t, `map ?a// to b/<path(1)> insert Missing at /T default "unknown"`)

	derived := evaluate(t, e, spec, jsonEvent(t, "a/1", `{"x": 1}`))
	require.Len(t, derived, 1)
	assert.Equal(t, "unknown", derived[0].Value.Data.(map[string]any)["T"])
}

func TestInsertMissingTopicWithoutDefaultPassesUnchanged(t *testing.T) {
	e, _ := newEvaluator(t)
	spec := mustParse(t, "map ?a// to b/<path(1)> insert Missing at /T")

	derived := evaluate(t, e, spec, jsonEvent(t, "a/1", `{"x": 1}`))
	require.Len(t, derived, 1)
	value := derived[0].Value.Data.(map[string]any)
	_, hasT := value["T"]
	assert.False(t, hasT)
	assert.Equal(t, int64(1), value["x"])
}

func TestInsertPathFromDirectives(t *testing.T) {
	e, topics := newEvaluator(t)
	topics.Set("AC/1/extra", topic.Value{Type: topic.TypeInt64, Data: int64(99)}, nil)

	spec := mustParse(t, "map ?a// to b/<path(1)> insert AC/<path(1,1)>/<scalar(/myval)> at /T")
	derived := evaluate(t, e, spec, jsonEvent(t, "a/1", `{"myval": "extra"}`))
	require.Len(t, derived, 1)
	assert.Equal(t, int64(99), derived[0].Value.Data.(map[string]any)["T"])
}

func TestInsertUnsupportedTopicTypeUsesDefault(t *testing.T) {
	e, topics := newEvaluator(t)
	topics.Set("Bin", topic.Value{Type: topic.TypeBinary, Data: []byte{1, 2}}, nil)

	spec := mustParse(t, `map ?a// to b/<path(1)> insert Bin at /T default "n/a"`)
	derived := evaluate(t, e, spec, jsonEvent(t, "a/1", `{}`))
	require.Len(t, derived, 1)
	assert.Equal(t, "n/a", derived[0].Value.Data.(map[string]any)["T"])
}

func TestInsertIncompatibleSpliceLeavesValueUnchanged(t *testing.T) {
	e, topics := newEvaluator(t)
	topics.Set("AnyTopic", topic.Value{Type: topic.TypeString, Data: "v"}, nil)

	// /T/MyKey requires an object at /T
	spec := mustParse(t, "map ?a// to b/<path(1)> insert AnyTopic at /T/MyKey")
	derived := evaluate(t, e, spec, jsonEvent(t, "a/1", `{"x": 1}`))
	require.Len(t, derived, 1)
	_, hasT := derived[0].Value.Data.(map[string]any)["T"]
	assert.False(t, hasT)
}

func TestInsertAppliesPerExpandedValue(t *testing.T) {
	e, topics := newEvaluator(t)
	topics.Set("Rate", topic.Value{Type: topic.TypeDouble, Data: 1.25}, nil)

	spec := mustParse(t, "map ?a// to b/<expand()> insert Rate at /rate")
	derived := evaluate(t, e, spec, jsonEvent(t, "a/1",
		`{"x": {"v": 1}, "y": {"v": 2}}`))
	require.Len(t, derived, 2)
	for _, d := range derived {
		assert.Equal(t, 1.25, d.Value.Data.(map[string]any)["rate"])
	}
}

func TestInsertDeniedTopicUsesDefault(t *testing.T) {
	topics := store.NewMemoryTopicStore()
	topics.Set("secret/rate", topic.Value{Type: topic.TypeInt64, Data: int64(1)}, nil)
	e := New(topics, store.PathPermissions{DenyRead: []string{"secret"}})

	spec := mustParse(t, `map ?a// to b/<path(1)> insert secret/rate at /T default "redacted"`)
	derived, err := e.Evaluate(context.Background(), spec, jsonEvent(t, "a/1", `{}`))
	require.NoError(t, err)
	require.Len(t, derived, 1)
	assert.Equal(t, "redacted", derived[0].Value.Data.(map[string]any)["T"])
}
