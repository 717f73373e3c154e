package view

import (
	"time"

	"github.com/c360/topicviews/pkg/jsonval"
	"github.com/c360/topicviews/selector"
	"github.com/c360/topicviews/topic"
)

// Spec is a parsed, immutable topic view specification
type Spec struct {
	// Text is the original specification the spec was parsed from
	Text string

	// Selector identifies the source topics
	Selector *selector.Selector

	// RemoteServer names the remote server hosting the source topics, empty
	// for local views.
	RemoteServer string

	// PathTemplate derives reference topic paths from source events
	PathTemplate []Directive

	// Transformations apply to the current value in declaration order.
	// Insert transformations are always a contiguous suffix.
	Transformations []Transformation

	// Options tune publication behavior
	Options Options
}

// Options holds the option clauses of a view specification
type Options struct {
	// Properties from the "with properties" clause
	Properties topic.Properties

	// Value is the "as" clause directive, nil when absent
	Value *Directive

	// Throttle limits the reference topic update rate, nil when absent
	Throttle *Throttle

	// Delay postpones publication of reference topic changes
	Delay time.Duration

	// Separator replaces path separators in text produced by scalar and
	// expand directives. Empty means separators remain structural.
	Separator string

	// PreserveTopics retains reference topics despite source value changes
	PreserveTopics bool

	// TargetType converts the reference topic to a different type, empty
	// when no type clause is present.
	TargetType topic.Type
}

// Throttle is a parsed "throttle to N updates every period" clause
type Throttle struct {
	Count  int
	Period time.Duration
}

// RequiresJSONSource reports whether the view can only apply to JSON-valued
// source topics: any template directive other than path, any transformation,
// or a value option constrains the view to JSON sources.
func (s *Spec) RequiresJSONSource() bool {
	if UsesValueDirectives(s.PathTemplate) {
		return true
	}
	if len(s.Transformations) > 0 {
		return true
	}
	return s.Options.Value != nil
}

// HasExpand reports whether the path template contains an expand directive
func (s *Spec) HasExpand() bool {
	for _, d := range s.PathTemplate {
		if d.Kind == DirectiveExpand {
			return true
		}
	}
	return false
}

// Transformation is one step of the transformation pipeline
type Transformation interface {
	transformationNode()
}

// OpKind discriminates process operations
type OpKind int

const (
	// OpSet writes a literal value at a pointer
	OpSet OpKind = iota
	// OpSetCalc writes the result of a calculation at a pointer
	OpSetCalc
	// OpRemove deletes the node at a pointer; absence is not a failure
	OpRemove
	// OpContinue proceeds with the value unchanged
	OpContinue
)

// Operation is a single process operation
type Operation struct {
	Kind    OpKind
	Pointer jsonval.Pointer
	Literal any
	Calc    *Calc
}

// ProcessBranch is one if/elseif arm of a conditional process statement
type ProcessBranch struct {
	Cond Condition
	Ops  []Operation
}

// ProcessTransform is a parsed process transformation. Either Ops holds an
// unconditional operation list, or Branches holds an if/elseif chain with an
// optional Else.
type ProcessTransform struct {
	Ops      []Operation
	Branches []ProcessBranch
	Else     []Operation
	HasElse  bool
}

// PatchTransform is a parsed JSON patch transformation
type PatchTransform struct {
	Ops []PatchOp
}

// PatchOp is one RFC 6902 operation
type PatchOp struct {
	Op       string
	Path     jsonval.Pointer
	From     jsonval.Pointer
	HasFrom  bool
	Value    any
	HasValue bool
}

// InsertTransform splices another topic's value into the current value
type InsertTransform struct {
	// PathTemplate computes the insertion topic path; path directives index
	// the source topic path, scalar directives the current value.
	PathTemplate []Directive

	// FromKey selects data within the insertion topic value
	FromKey    jsonval.Pointer
	HasFromKey bool

	// At is where the insertion value is spliced into the current value
	At jsonval.Pointer

	// Default is spliced when the insertion value cannot be obtained
	Default    any
	HasDefault bool
}

func (ProcessTransform) transformationNode() {}
func (PatchTransform) transformationNode()   {}
func (InsertTransform) transformationNode()  {}
