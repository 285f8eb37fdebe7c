// Package rule implements the declarative predicate language addon hooks
// use to select traffic events. Rules are parsed and validated once, when
// an addon's hook set is published, and evaluated lock-free on the dispatch
// path. A rule value is immutable after Parse returns it.
package rule

import (
	"regexp"

	"github.com/hookflow-io/hookflow/traffic"
)

type Operator string

const (
	OpEquals   Operator = "eq"
	OpPrefix   Operator = "prefix"
	OpSuffix   Operator = "suffix"
	OpContains Operator = "contains"
	OpWildcard Operator = "wildcard"
	OpRegex    Operator = "regex"
	OpRange    Operator = "range"
)

// Operators returns the closed operator set. Anything else in a declaration
// is rejected at parse time, never at match time.
func Operators() []Operator {
	return []Operator{
		OpEquals, OpPrefix, OpSuffix, OpContains, OpWildcard, OpRegex, OpRange,
	}
}

func (o Operator) Valid() bool {
	switch o {
	case OpEquals, OpPrefix, OpSuffix, OpContains, OpWildcard, OpRegex, OpRange:
		return true
	default:
		return false
	}
}

// Predicate is one compiled field comparison. The regex and port spans are
// compiled by Parse; evaluation never compiles anything.
type Predicate struct {
	Field  string
	Op     Operator
	Value  string
	Negate bool

	pattern *regexp.Regexp
	spans   []portSpan
}

// portSpan is an inclusive port interval; single ports are lo == hi.
type portSpan struct {
	lo int
	hi int
}

func (s portSpan) contains(port int) bool {
	return port >= s.lo && port <= s.hi
}

// Rule is a compiled predicate conjunction bound to one event kind.
// An empty predicate list matches every event of the kind.
type Rule struct {
	Kind       traffic.Kind
	Predicates []Predicate
}
