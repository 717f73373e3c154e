package view

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/topicviews/pkg/jsonval"
	"github.com/c360/topicviews/topic"
)

func TestParseSimpleMirror(t *testing.T) {
	spec, err := Parse("map ?a// to b/<path(1)>")
	require.NoError(t, err)

	assert.Equal(t, "?a//", spec.Selector.String())
	assert.Empty(t, spec.RemoteServer)
	assert.Len(t, spec.PathTemplate, 2)
	assert.Empty(t, spec.Transformations)
	assert.False(t, spec.RequiresJSONSource())
}

func TestParseFromClause(t *testing.T) {
	spec, err := Parse("map ?a// from server1 to b/<path(1)>")
	require.NoError(t, err)
	assert.Equal(t, "server1", spec.RemoteServer)
}

func TestParseQuotedClauses(t *testing.T) {
	spec, err := Parse(`map "a topic" to "another topic"`)
	require.NoError(t, err)
	assert.True(t, spec.Selector.Matches("a topic"))
	require.Len(t, spec.PathTemplate, 1)
	assert.Equal(t, "another topic", spec.PathTemplate[0].Text)
}

func TestParseEscapedClauses(t *testing.T) {
	spec, err := Parse(`map a\ topic to another\ topic`)
	require.NoError(t, err)
	assert.True(t, spec.Selector.Matches("a topic"))
	assert.Equal(t, "another topic", spec.PathTemplate[0].Text)
}

func TestParseQuoteEscapeInsideQuotes(t *testing.T) {
	spec, err := Parse(`map 'alice\'s topic' to 'bob\'s topic'`)
	require.NoError(t, err)
	assert.True(t, spec.Selector.Matches("alice's topic"))
	assert.Equal(t, "bob's topic", spec.PathTemplate[0].Text)
}

func TestParseProcessSet(t *testing.T) {
	spec, err := Parse(`map ?a// to b/<path(1)> process {set(/Name, 'John')}`)
	require.NoError(t, err)
	require.Len(t, spec.Transformations, 1)

	pt, ok := spec.Transformations[0].(ProcessTransform)
	require.True(t, ok)
	require.Len(t, pt.Ops, 1)
	assert.Equal(t, OpSet, pt.Ops[0].Kind)
	assert.Equal(t, jsonval.Pointer{"Name"}, pt.Ops[0].Pointer)
	assert.Equal(t, "John", pt.Ops[0].Literal)
	assert.True(t, spec.RequiresJSONSource())
}

func TestParseProcessOperationChain(t *testing.T) {
	spec, err := Parse(
		`map ?a// to b/<path(1)> process {set(/Amount, calc "/Value * /Number"); remove(/Value); remove (/Number)}`)
	require.NoError(t, err)

	pt := spec.Transformations[0].(ProcessTransform)
	require.Len(t, pt.Ops, 3)
	assert.Equal(t, OpSetCalc, pt.Ops[0].Kind)
	assert.Equal(t, OpRemove, pt.Ops[1].Kind)
	assert.Equal(t, OpRemove, pt.Ops[2].Kind)
}

func TestParseProcessConditional(t *testing.T) {
	spec, err := Parse(
		`map ?a// to b/<path(1)> process {if '/Price lt 50' set(/Tier, 1) elseif '/Price gt 50' set(/Tier, 2) else continue}`)
	require.NoError(t, err)

	pt := spec.Transformations[0].(ProcessTransform)
	require.Len(t, pt.Branches, 2)
	assert.True(t, pt.HasElse)
	require.Len(t, pt.Else, 1)
	assert.Equal(t, OpContinue, pt.Else[0].Kind)

	first := pt.Branches[0]
	cmp, ok := first.Cond.(CompareCondition)
	require.True(t, ok)
	assert.Equal(t, OpLt, cmp.Op)
	assert.Equal(t, int64(50), cmp.RHS.Literal)
	assert.Equal(t, int64(1), first.Ops[0].Literal)
}

func TestParseProcessElsf(t *testing.T) {
	spec, err := Parse(
		`map ?a// to b/<path(1)> process {if '/x = 1' continue elsf '/x = 2' set(/y, true)}`)
	require.NoError(t, err)
	pt := spec.Transformations[0].(ProcessTransform)
	assert.Len(t, pt.Branches, 2)
	assert.False(t, pt.HasElse)
}

func TestParseProcessErrors(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"empty block", "map ?a// to b/<path(1)> process {}"},
		{"unknown op", "map ?a// to b/<path(1)> process {frob(/x)}"},
		{"missing separator", "map ?a// to b/<path(1)> process {set(/x, 1) set(/y, 2)}"},
		{"bad condition", "map ?a// to b/<path(1)> process {if '/x ~~ 1' continue}"},
		{"unterminated block", "map ?a// to b/<path(1)> process {set(/x, 1)"},
		{"bad calc", `map ?a// to b/<path(1)> process {set(/x, calc "/y ** 2")}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.text)
			assert.Error(t, err)
		})
	}
}

func TestParsePatch(t *testing.T) {
	spec, err := Parse(
		`map ?a// to b/<path(1)> patch '[{"op":"test", "path":"/price", "value": 22}, {"op":"add", "path":"/price", "value": 23}]'`)
	require.NoError(t, err)

	pt := spec.Transformations[0].(PatchTransform)
	require.Len(t, pt.Ops, 2)
	assert.Equal(t, "test", pt.Ops[0].Op)
	assert.True(t, pt.Ops[0].HasValue)
	assert.Equal(t, int64(22), pt.Ops[0].Value)
	assert.Equal(t, "add", pt.Ops[1].Op)
}

func TestParsePatchErrors(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"not json", "map a to b patch 'nonsense'"},
		{"not array", `map a to b patch '{"op":"remove","path":"/x"}'`},
		{"unknown op", `map a to b patch '[{"op":"frob","path":"/x"}]'`},
		{"missing value", `map a to b patch '[{"op":"add","path":"/x"}]'`},
		{"missing from", `map a to b patch '[{"op":"move","path":"/x"}]'`},
		{"bad pointer", `map a to b patch '[{"op":"remove","path":"x"}]'`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.text)
			assert.Error(t, err)
		})
	}
}

func TestParseInsertFull(t *testing.T) {
	spec, err := Parse(`map ?a// to b/<path(1)> insert AC/<path(1,1)>/<scalar(/myval)> key /name at /T/- default "unknown"`)
	require.NoError(t, err)

	it := spec.Transformations[0].(InsertTransform)
	assert.Len(t, it.PathTemplate, 4)
	assert.True(t, it.HasFromKey)
	assert.Equal(t, jsonval.Pointer{"name"}, it.FromKey)
	assert.Equal(t, jsonval.Pointer{"T", "-"}, it.At)
	assert.True(t, it.HasDefault)
	assert.Equal(t, "unknown", it.Default)
}

func TestParseInsertMinimal(t *testing.T) {
	spec, err := Parse("map ?a// to b/<path(1)> insert AnyTopic at /T")
	require.NoError(t, err)

	it := spec.Transformations[0].(InsertTransform)
	assert.False(t, it.HasFromKey)
	assert.False(t, it.HasDefault)
	assert.Equal(t, jsonval.Pointer{"T"}, it.At)
}

func TestInsertMustBeSuffix(t *testing.T) {
	_, err := Parse(`map ?a// to b/<path(1)> insert X at /T process {set(/y, 1)}`)
	assert.Error(t, err)

	_, err = Parse(`map ?a// to b/<path(1)> process {set(/y, 1)} insert X at /T insert Y at /U`)
	assert.NoError(t, err)
}

func TestParseWithProperties(t *testing.T) {
	for _, text := range []string{
		"map ?a// to b/<path(1)> with properties CONFLATION:off, COMPRESSION:false",
		"map ?a// to b/<path(1)> with properties CONFLATION:off,COMPRESSION:false",
		"map ?a// to b/<path(1)> with properties CONFLATION:off ,COMPRESSION:false",
		"map ?a// to b/<path(1)> with properties CONFLATION:off , COMPRESSION:false",
	} {
		t.Run(text, func(t *testing.T) {
			spec, err := Parse(text)
			require.NoError(t, err)
			require.Len(t, spec.Options.Properties, 2)
			assert.Equal(t, "off", spec.Options.Properties[topic.PropConflation])
			assert.Equal(t, "false", spec.Options.Properties[topic.PropCompression])
		})
	}
}

func TestParseWithPropertiesRejectsNonMappable(t *testing.T) {
	_, err := Parse("map ?a// to b/<path(1)> with properties OWNER:me")
	assert.Error(t, err)
}

func TestParseWithPropertiesRejectsEmptyPair(t *testing.T) {
	for _, text := range []string{
		"map ?a// to b/<path(1)> with properties CONFLATION:off,,COMPRESSION:false",
		"map ?a// to b/<path(1)> with properties CONFLATION:off,COMPRESSION:",
		"map ?a// to b/<path(1)> with properties :off",
	} {
		_, err := Parse(text)
		assert.Error(t, err, text)
	}
}

func TestParseValueOption(t *testing.T) {
	spec, err := Parse("map ?accounts// to balances/<scalar(/account)> as <value(/balance)>")
	require.NoError(t, err)
	require.NotNil(t, spec.Options.Value)
	assert.Equal(t, jsonval.Pointer{"balance"}, spec.Options.Value.Pointer)
	assert.True(t, spec.RequiresJSONSource())
}

func TestParseThrottle(t *testing.T) {
	tests := []struct {
		text   string
		count  int
		period time.Duration
	}{
		{"map ?a// to b/<path(1)> throttle to 2 updates every 5 seconds", 2, 5 * time.Second},
		{"map ?a// to b/<path(1)> throttle to 1 update every minute", 1, time.Minute},
		{"map ?a// to b/<path(1)> throttle to 10 updates every hour", 10, time.Hour},
		{"map ?a// to b/<path(1)> throttle to 3 updates every second", 3, time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			spec, err := Parse(tt.text)
			require.NoError(t, err)
			require.NotNil(t, spec.Options.Throttle)
			assert.Equal(t, tt.count, spec.Options.Throttle.Count)
			assert.Equal(t, tt.period, spec.Options.Throttle.Period)
		})
	}
}

func TestParseThrottleErrors(t *testing.T) {
	for _, text := range []string{
		"map a to b throttle to 0 updates every second",
		"map a to b throttle to x updates every second",
		"map a to b throttle to 2 updates every 0 seconds",
		"map a to b throttle to 2 updates every 5 fortnights",
		"map a to b throttle 2 updates every 5 seconds",
	} {
		t.Run(text, func(t *testing.T) {
			_, err := Parse(text)
			assert.Error(t, err)
		})
	}
}

func TestParseDelay(t *testing.T) {
	spec, err := Parse("map ?a// to b/<path(1)> delay by 5 minutes")
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, spec.Options.Delay)
}

func TestParseSeparator(t *testing.T) {
	spec, err := Parse("map ?a/path/ to b/<scalar(/x/y)> separator '%'")
	require.NoError(t, err)
	assert.Equal(t, "%", spec.Options.Separator)

	for _, bad := range []string{"''", "'//'", "'/x'", "'x/'"} {
		_, err := Parse("map ?a// to b/<scalar(/x)> separator " + bad)
		assert.Error(t, err, bad)
	}
}

func TestParsePreserveTopics(t *testing.T) {
	spec, err := Parse("map ?a/path/ to b/<expand()> preserve topics")
	require.NoError(t, err)
	assert.True(t, spec.Options.PreserveTopics)
	assert.True(t, spec.HasExpand())
}

func TestParseTypeOption(t *testing.T) {
	spec, err := Parse("map ?a/ to b/<path(1)> type STRING")
	require.NoError(t, err)
	assert.Equal(t, topic.TypeString, spec.Options.TargetType)

	spec, err = Parse("map ?a/ to b/<path(1)> type int64")
	require.NoError(t, err)
	assert.Equal(t, topic.TypeInt64, spec.Options.TargetType)

	_, err = Parse("map ?a/ to b/<path(1)> type ROUTING")
	assert.Error(t, err)

	_, err = Parse("map ?a/ to b/<path(1)> type BLOB")
	assert.Error(t, err)
}

func TestDuplicateOptionRejected(t *testing.T) {
	_, err := Parse("map ?a// to b/<path(1)> preserve topics preserve topics")
	assert.Error(t, err)

	_, err = Parse("map ?a// to b/<path(1)> delay by 1 minute delay by 2 minutes")
	assert.Error(t, err)
}

func TestParseGrammarErrors(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"empty", ""},
		{"missing map", "?a// to b"},
		{"missing to", "map ?a// b/<path(1)>"},
		{"missing template", "map ?a// to"},
		{"from without server", "map ?a// from to b"},
		{"trailing garbage", "map ?a// to b/<path(1)> frobnicate"},
		{"bad selector", "map ?a//b// to b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.text)
			assert.Error(t, err)
		})
	}
}

func TestParseAllClausesTogether(t *testing.T) {
	text := `map ?accounts// to currency/<scalar(/balance/currency)>/account/<scalar(/account)> ` +
		`process {if '/balance/amount gt 0' continue} ` +
		`insert rates/<scalar(/balance/currency)> at /rate default "1.0" ` +
		`with properties CONFLATION:off ` +
		`as <value(/balance)> ` +
		`throttle to 2 updates every 5 seconds ` +
		`separator '%' ` +
		`preserve topics`
	spec, err := Parse(text)
	require.NoError(t, err)
	assert.Len(t, spec.Transformations, 2)
	assert.NotNil(t, spec.Options.Value)
	assert.NotNil(t, spec.Options.Throttle)
	assert.True(t, spec.Options.PreserveTopics)
	assert.Equal(t, "%", spec.Options.Separator)
}
