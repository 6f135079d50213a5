package declarative

import (
	"strings"

	"github.com/xkilldash9x/tmscan/api/schemas"
)

// matchFunc reports whether a resolved value satisfies a criterion.
type matchFunc func(resolved, expected schemas.Value) bool

var matchers = map[schemas.Operator]matchFunc{
	schemas.OpEquals:      matchEquals,
	schemas.OpNotEquals:   matchNotEquals,
	schemas.OpContains:    matchContains,
	schemas.OpNotContains: matchNotContains,
	schemas.OpMissing:     matchMissing,
	schemas.OpExists:      matchExists,
}

// matchEquals compares a boolean expectation against a string leniently, so
// that "True" or "false" stored by an editor match true/false rules.
// Everything else is typed equality.
func matchEquals(resolved, expected schemas.Value) bool {
	if expected.Kind == schemas.KindBool && resolved.Kind == schemas.KindString {
		return strings.EqualFold(resolved.Str, expected.String())
	}
	return resolved.Equal(expected)
}

func matchNotEquals(resolved, expected schemas.Value) bool {
	return !resolved.Equal(expected)
}

func matchContains(resolved, expected schemas.Value) bool {
	return resolved.Truthy() && resolved.Contains(expected)
}

func matchNotContains(resolved, expected schemas.Value) bool {
	return !matchContains(resolved, expected)
}

func matchMissing(resolved, _ schemas.Value) bool {
	return resolved.IsAbsent()
}

func matchExists(resolved, _ schemas.Value) bool {
	return !resolved.IsAbsent()
}

// Match applies op to resolved and expected. Unknown operators never match.
func Match(op schemas.Operator, resolved, expected schemas.Value) bool {
	fn, ok := matchers[op.Normalize()]
	if !ok {
		return false
	}
	return fn(resolved, expected)
}
