package rule

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/hookflow-io/hookflow/traffic"
)

// Matches reports whether the event satisfies the rule. It is pure and
// side-effect free: no I/O, no allocation beyond what the pattern libraries
// need, and bounded time for compiled patterns. A kind mismatch returns
// false before any predicate is evaluated.
func (r *Rule) Matches(event *traffic.Event) bool {
	if r == nil || event == nil {
		return false
	}
	if r.Kind != event.Kind {
		return false
	}

	for i := range r.Predicates {
		if !r.Predicates[i].matches(event) {
			return false
		}
	}

	return true
}

func (p *Predicate) matches(event *traffic.Event) bool {
	matched := p.eval(event)
	if p.Negate {
		return !matched
	}
	return matched
}

// eval answers the un-negated comparison. An absent attribute never
// satisfies a comparison, so a negated predicate passes on absence.
func (p *Predicate) eval(event *traffic.Event) bool {
	if len(p.spans) > 0 {
		port, ok := event.NumericAttr(p.Field)
		if !ok {
			return false
		}
		for _, span := range p.spans {
			if span.contains(port) {
				return true
			}
		}
		return false
	}

	value, ok := event.Attr(p.Field)
	if !ok {
		return false
	}

	switch p.Op {
	case OpEquals:
		// An empty expected value asserts bare presence, which is how
		// header existence checks are written.
		if p.Value == "" {
			return true
		}
		return value == p.Value
	case OpPrefix:
		return strings.HasPrefix(value, p.Value)
	case OpSuffix:
		return strings.HasSuffix(value, p.Value)
	case OpContains:
		return strings.Contains(value, p.Value)
	case OpWildcard:
		matched, err := doublestar.Match(p.Value, value)
		return err == nil && matched
	case OpRegex:
		return p.pattern != nil && p.pattern.MatchString(value)
	case OpRange:
		// Range on a non-numeric field is rejected at parse time.
		return false
	default:
		return false
	}
}
