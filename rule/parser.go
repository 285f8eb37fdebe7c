package rule

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/hookflow-io/hookflow/traffic"
)

// PredicateSpec is a raw field comparison as written in an addon manifest.
type PredicateSpec struct {
	Field  string `json:"field" koanf:"field" yaml:"field"`
	Op     string `json:"op" koanf:"op" yaml:"op"`
	Value  string `json:"value" koanf:"value" yaml:"value"`
	Negate bool   `json:"negate,omitempty" koanf:"negate" yaml:"negate,omitempty"`
}

// ValidationError points at a single bad field in a declaration.
type ValidationError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return e.Path + ": " + e.Message
}

// ValidationErrors aggregates every problem found in one declaration, so
// management callers see all bad fields at once instead of one per attempt.
type ValidationErrors []ValidationError

func (ve ValidationErrors) Error() string {
	messages := make([]string, len(ve))
	for i, err := range ve {
		messages[i] = err.Error()
	}
	return strings.Join(messages, "; ")
}

// Parse compiles a declaration into an immutable Rule. All validation of
// the closed operator set happens here, at publish time; Matches never
// reports declaration problems. basePath prefixes error paths, e.g.
// "hooks[0]" yields "hooks[0].rules[2].op".
func Parse(kind string, specs []PredicateSpec, basePath string) (*Rule, ValidationErrors) {
	var errs ValidationErrors

	eventKind := traffic.Kind(kind)
	if !eventKind.Valid() {
		errs = append(errs, ValidationError{
			Path:    basePath + ".event",
			Message: fmt.Sprintf("unknown event kind %q", kind),
		})
	}

	predicates := make([]Predicate, 0, len(specs))
	for i, spec := range specs {
		path := fmt.Sprintf("%s.rules[%d]", basePath, i)
		predicate, specErrs := compilePredicate(spec, path)
		if len(specErrs) > 0 {
			errs = append(errs, specErrs...)
			continue
		}
		predicates = append(predicates, predicate)
	}

	if len(errs) > 0 {
		return nil, errs
	}

	rule := &Rule{Kind: eventKind}
	if len(predicates) > 0 {
		rule.Predicates = predicates
	}
	return rule, nil
}

func compilePredicate(spec PredicateSpec, path string) (Predicate, ValidationErrors) {
	var errs ValidationErrors

	operator := Operator(spec.Op)
	if !operator.Valid() {
		errs = append(errs, ValidationError{
			Path:    path + ".op",
			Message: fmt.Sprintf("unknown operator %q", spec.Op),
		})
	}

	isHeader := strings.HasPrefix(spec.Field, traffic.FieldHeaderPrefix)
	switch {
	case isHeader:
		if strings.TrimPrefix(spec.Field, traffic.FieldHeaderPrefix) == "" {
			errs = append(errs, ValidationError{
				Path:    path + ".field",
				Message: "header field needs a name, e.g. header.Content-Encoding",
			})
		}
	case spec.Field == traffic.FieldHost,
		spec.Field == traffic.FieldPath,
		spec.Field == traffic.FieldMethod,
		spec.Field == traffic.FieldScheme,
		spec.Field == traffic.FieldContentType,
		spec.Field == traffic.FieldPort:
	default:
		errs = append(errs, ValidationError{
			Path:    path + ".field",
			Message: fmt.Sprintf("unknown field %q", spec.Field),
		})
	}

	if len(errs) > 0 {
		return Predicate{}, errs
	}

	predicate := Predicate{
		Field:  spec.Field,
		Op:     operator,
		Value:  spec.Value,
		Negate: spec.Negate,
	}

	if spec.Field == traffic.FieldPort {
		return compilePortPredicate(predicate, path)
	}

	if operator == OpRange {
		return Predicate{}, ValidationErrors{{
			Path:    path + ".op",
			Message: "range applies only to the port field",
		}}
	}

	// Presence-only check: eq with an empty value on a header field.
	if spec.Value == "" && !(operator == OpEquals && isHeader) {
		return Predicate{}, ValidationErrors{{
			Path:    path + ".value",
			Message: "value must not be empty",
		}}
	}

	predicate.Value = normalizeValue(spec.Field, operator, spec.Value)

	switch operator {
	case OpRegex:
		pattern, err := regexp.Compile(spec.Value)
		if err != nil {
			return Predicate{}, ValidationErrors{{
				Path:    path + ".value",
				Message: fmt.Sprintf("invalid regex: %v", err),
			}}
		}
		predicate.pattern = pattern
	case OpWildcard:
		if !doublestar.ValidatePattern(predicate.Value) {
			return Predicate{}, ValidationErrors{{
				Path:    path + ".value",
				Message: fmt.Sprintf("invalid wildcard pattern %q", spec.Value),
			}}
		}
	}

	return predicate, nil
}

func compilePortPredicate(predicate Predicate, path string) (Predicate, ValidationErrors) {
	switch predicate.Op {
	case OpEquals, OpRange:
	default:
		return Predicate{}, ValidationErrors{{
			Path:    path + ".op",
			Message: fmt.Sprintf("operator %q does not apply to the port field", predicate.Op),
		}}
	}

	spans, err := parsePortSpans(predicate.Value, predicate.Op == OpEquals)
	if err != nil {
		return Predicate{}, ValidationErrors{{
			Path:    path + ".value",
			Message: err.Error(),
		}}
	}
	predicate.spans = spans
	return predicate, nil
}

// parsePortSpans accepts "443", "80,443", "8000-8100" and mixtures split by
// commas or slashes. With single set, only one bare port is allowed.
func parsePortSpans(value string, single bool) ([]portSpan, error) {
	tokens := strings.FieldsFunc(value, func(r rune) bool {
		return r == ',' || r == '/'
	})
	if len(tokens) == 0 {
		return nil, fmt.Errorf("empty port expression")
	}
	if single && (len(tokens) > 1 || strings.Contains(tokens[0], "-")) {
		return nil, fmt.Errorf("eq on port takes a single port, use range for %q", value)
	}

	spans := make([]portSpan, 0, len(tokens))
	for _, token := range tokens {
		token = strings.TrimSpace(token)
		lo, hi, found := strings.Cut(token, "-")
		span := portSpan{}

		var err error
		if span.lo, err = parsePort(lo); err != nil {
			return nil, err
		}
		span.hi = span.lo
		if found {
			if span.hi, err = parsePort(hi); err != nil {
				return nil, err
			}
		}
		if span.lo > span.hi {
			return nil, fmt.Errorf("inverted port range %q", token)
		}
		spans = append(spans, span)
	}
	return spans, nil
}

func parsePort(s string) (int, error) {
	port, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	if port < 1 || port > 65535 {
		return 0, fmt.Errorf("port %d out of range", port)
	}
	return port, nil
}

// normalizeValue canonicalizes expected values for fields whose runtime
// attributes are canonicalized the same way by the event adapter.
func normalizeValue(field string, operator Operator, value string) string {
	if operator == OpRegex {
		return value
	}
	switch field {
	case traffic.FieldHost, traffic.FieldScheme:
		return strings.ToLower(value)
	case traffic.FieldMethod:
		return strings.ToUpper(value)
	case traffic.FieldContentType:
		return traffic.NormalizeContentType(value)
	default:
		return value
	}
}
