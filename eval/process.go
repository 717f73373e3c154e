package eval

import (
	"github.com/c360/topicviews/pkg/jsonval"
	"github.com/c360/topicviews/view"
)

// applyProcess runs a process transformation. Conditional statements select
// the first satisfied branch; when nothing is satisfied and there is no else
// clause, the mapping is dropped.
func applyProcess(pt view.ProcessTransform, data any) (any, bool) {
	if len(pt.Branches) == 0 {
		return applyOperations(pt.Ops, data)
	}

	for _, branch := range pt.Branches {
		if evalCondition(branch.Cond, data) {
			return applyOperations(branch.Ops, data)
		}
	}
	if pt.HasElse {
		return applyOperations(pt.Else, data)
	}
	return nil, false
}

// applyOperations applies a chain of operations. Reads (calculations) see the
// original value; mutations accumulate on a copy applied at the end. A failed
// set drops the mapping, a remove of an absent item does not.
func applyOperations(ops []view.Operation, original any) (any, bool) {
	result := jsonval.DeepCopy(original)

	for _, op := range ops {
		switch op.Kind {
		case view.OpContinue:
			// keep the value as it is

		case view.OpSet:
			next, err := jsonval.Set(result, op.Pointer, op.Literal)
			if err != nil {
				return nil, false
			}
			result = next

		case view.OpSetCalc:
			n, ok := evalCalc(op.Calc, original)
			if !ok {
				return nil, false
			}
			next, err := jsonval.Set(result, op.Pointer, n)
			if err != nil {
				return nil, false
			}
			result = next

		case view.OpRemove:
			result = jsonval.RemoveIfPresent(result, op.Pointer)
		}
	}
	return result, true
}

// evalCondition evaluates a condition tree against the current value. A
// pointer that selects nothing fails the comparison, as does a relational
// operator applied to a non-integer operand.
func evalCondition(cond view.Condition, data any) bool {
	switch c := cond.(type) {
	case view.CompareCondition:
		return evalCompare(c, data)
	case view.AndCondition:
		return evalCondition(c.Left, data) && evalCondition(c.Right, data)
	case view.OrCondition:
		return evalCondition(c.Left, data) || evalCondition(c.Right, data)
	case view.NotCondition:
		return !evalCondition(c.Inner, data)
	default:
		return false
	}
}

func evalCompare(c view.CompareCondition, data any) bool {
	lhs, ok := c.LHS.Resolve(data)
	if !ok {
		return false
	}

	var rhs any
	if c.RHS.IsPointer {
		rhs, ok = c.RHS.Pointer.Resolve(data)
		if !ok {
			return false
		}
	} else {
		rhs = c.RHS.Literal
	}

	if c.Op.Relational() {
		l, lok := jsonval.AsInt64(lhs)
		r, rok := jsonval.AsInt64(rhs)
		if !lok || !rok {
			return false
		}
		switch c.Op {
		case view.OpGt:
			return l > r
		case view.OpLt:
			return l < r
		case view.OpGe:
			return l >= r
		case view.OpLe:
			return l <= r
		}
		return false
	}

	equal := jsonval.CanonicalEqual(lhs, rhs)
	if c.Op == view.OpNe {
		return !equal
	}
	return equal
}

// evalCalc evaluates an integer calculation against the original value.
// Pointers that select non-integer fields and division by zero fail the
// calculation.
func evalCalc(c *view.Calc, data any) (int64, bool) {
	switch c.Kind {
	case view.CalcLiteral:
		return c.Literal, true

	case view.CalcPointer:
		v, ok := c.Pointer.Resolve(data)
		if !ok {
			return 0, false
		}
		return jsonval.AsInt64(v)

	case view.CalcBinary:
		l, ok := evalCalc(c.Left, data)
		if !ok {
			return 0, false
		}
		r, ok := evalCalc(c.Right, data)
		if !ok {
			return 0, false
		}
		switch c.Op {
		case '+':
			return l + r, true
		case '-':
			return l - r, true
		case '*':
			return l * r, true
		case '/':
			if r == 0 {
				return 0, false
			}
			return l / r, true
		}
	}
	return 0, false
}
