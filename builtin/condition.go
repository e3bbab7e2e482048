package builtin

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	watcher "github.com/goliatone/go-watcher"
)

const (
	TypeAlways  = "always"
	TypeNever   = "never"
	TypeCompare = "compare"
)

type staticCondition struct {
	kind string
	met  bool
}

func (c staticCondition) Type() string { return c.kind }

func (c staticCondition) Execute(context.Context, *watcher.ExecutionContext) watcher.ConditionResult {
	return watcher.ConditionResult{Type: c.kind, Status: watcher.StatusSuccess, Met: c.met}
}

// Always is met on every run.
func Always() watcher.Condition { return staticCondition{kind: TypeAlways, met: true} }

// Never is never met.
func Never() watcher.Condition { return staticCondition{kind: TypeNever, met: false} }

type CompareOp string

const (
	OpEq    CompareOp = "eq"
	OpNotEq CompareOp = "not_eq"
	OpGt    CompareOp = "gt"
	OpGte   CompareOp = "gte"
	OpLt    CompareOp = "lt"
	OpLte   CompareOp = "lte"
)

// CompareCondition resolves Path in the payload and compares it to Value.
// A missing path is a failure, not an unmet condition.
type CompareCondition struct {
	Path  string
	Op    CompareOp
	Value any
}

func (c CompareCondition) Type() string { return TypeCompare }

func (c CompareCondition) Execute(_ context.Context, wctx *watcher.ExecutionContext) watcher.ConditionResult {
	result := watcher.ConditionResult{Type: TypeCompare, Status: watcher.StatusSuccess}

	actual, ok := Lookup(map[string]any(wctx.Payload()), c.Path)
	if !ok {
		result.Status = watcher.StatusFailure
		result.Reason = fmt.Sprintf("path %q not found in payload", c.Path)
		return result
	}

	met, err := compare(actual, c.Op, c.Value)
	if err != nil {
		result.Status = watcher.StatusFailure
		result.Reason = err.Error()
		return result
	}
	result.Met = met
	return result
}

func newCompareCondition(opts Options) (watcher.Condition, error) {
	path, ok := opts.String("path")
	if !ok || path == "" {
		return nil, fmt.Errorf("compare condition requires a path")
	}
	opName, _ := opts.String("op")
	op := CompareOp(strings.ToLower(opName))
	if op == "" {
		op = OpEq
	}
	switch op {
	case OpEq, OpNotEq, OpGt, OpGte, OpLt, OpLte:
	default:
		return nil, fmt.Errorf("unknown compare op %q", opName)
	}
	value, ok := opts["value"]
	if !ok {
		return nil, fmt.Errorf("compare condition requires a value")
	}
	return CompareCondition{Path: path, Op: op, Value: value}, nil
}

func compare(actual any, op CompareOp, expected any) (bool, error) {
	af, aNum := asFloat(actual)
	ef, eNum := asFloat(expected)
	numeric := aNum && eNum

	switch op {
	case OpEq, OpNotEq:
		var equal bool
		if numeric {
			equal = af == ef
		} else {
			equal = reflect.DeepEqual(actual, expected)
		}
		if op == OpEq {
			return equal, nil
		}
		return !equal, nil
	}

	var cmp int
	switch {
	case numeric:
		cmp = compareOrdered(af, ef)
	default:
		as, aStr := actual.(string)
		es, eStr := expected.(string)
		if !aStr || !eStr {
			return false, fmt.Errorf("cannot order %T against %T", actual, expected)
		}
		cmp = strings.Compare(as, es)
	}

	switch op {
	case OpGt:
		return cmp > 0, nil
	case OpGte:
		return cmp >= 0, nil
	case OpLt:
		return cmp < 0, nil
	case OpLte:
		return cmp <= 0, nil
	}
	return false, fmt.Errorf("unknown compare op %q", op)
}

func compareOrdered(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
