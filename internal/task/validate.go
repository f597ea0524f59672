package task

import (
	"fmt"
	"math"
	"strings"
)

// Report is the structured outcome of validating one invocation. Validation
// failures are reported, never raised: callers decide how to surface them.
type Report struct {
	OK       bool
	Errors   []string
	Warnings []string
}

// Validate checks supplied parameters against the named task's schema.
// An unknown task name yields a single-error report wrapping ErrUnknownTask
// semantics (use Registry.Resolve when a hard error is wanted).
func (r *Registry) Validate(name string, supplied Params) Report {
	def, err := r.Resolve(name)
	if err != nil {
		return Report{Errors: []string{fmt.Sprintf("task function not found: %s", name)}}
	}
	return ValidateParams(def, supplied)
}

// ValidateParams checks supplied parameters against a schema:
//   - declared but missing: error without a default, warning with one
//   - supplied but undeclared: error
//   - value/type compatibility and constraints per compatible()
func ValidateParams(def *Definition, supplied Params) Report {
	var rep Report
	for _, ps := range def.Params {
		val, present := supplied[ps.Name]
		if !present {
			if ps.Optional {
				rep.Warnings = append(rep.Warnings, fmt.Sprintf("missing optional param: %s, using default value", ps.Name))
			} else {
				rep.Errors = append(rep.Errors, fmt.Sprintf("missing required param: %s", ps.Name))
			}
			continue
		}
		if !compatible(ps.Type, val) {
			rep.Errors = append(rep.Errors, fmt.Sprintf("type mismatch: %s (got %T, expected %s)", ps.Name, val, ps.Type))
			continue
		}
		if msg := checkConstraint(ps, val); msg != "" {
			rep.Errors = append(rep.Errors, msg)
		}
	}
	for name := range supplied {
		if !declared(def, name) {
			rep.Errors = append(rep.Errors, fmt.Sprintf("extra param provided: %s", name))
		}
	}
	rep.OK = len(rep.Errors) == 0
	return rep
}

func declared(def *Definition, name string) bool {
	for _, ps := range def.Params {
		if ps.Name == name {
			return true
		}
	}
	return false
}

// compatible applies the type compatibility rules:
//   - nil is always compatible (optional semantics)
//   - undeclared type defaults to string semantics
//   - bool requires an exact boolean (no truthy coercion)
//   - float accepts integer values
//   - string accepts anything (permissive)
//   - list/map are checked by container kind only, not element type
func compatible(t ParamType, val any) bool {
	if val == nil {
		return true
	}
	switch t {
	case TypeAny, TypeString:
		return true
	case TypeBool:
		_, ok := val.(bool)
		return ok
	case TypeFloat:
		switch val.(type) {
		case float64, float32, int, int64, uint64:
			return true
		}
		return false
	case TypeInt:
		switch v := val.(type) {
		case int, int64, uint64:
			return true
		case float64:
			// JSON round-trips integers as float64; accept whole values.
			return v == math.Trunc(v)
		}
		return false
	case TypeList:
		_, ok := val.([]any)
		return ok
	case TypeMap:
		_, ok := val.(map[string]any)
		return ok
	default:
		return false
	}
}

func checkConstraint(ps ParamSpec, val any) string {
	c := ps.Constraint
	if c == nil || val == nil {
		return ""
	}
	if len(c.Enum) > 0 {
		for _, allowed := range c.Enum {
			if equalValue(allowed, val) {
				return ""
			}
		}
		return fmt.Sprintf("value not allowed: %s = %v (allowed: %s)", ps.Name, val, enumList(c.Enum))
	}
	f, numeric := asFloat(val)
	if !numeric {
		return ""
	}
	if c.Min != nil && f < *c.Min {
		return fmt.Sprintf("out of range: %s = %v (min %v)", ps.Name, val, *c.Min)
	}
	if c.Max != nil && f > *c.Max {
		return fmt.Sprintf("out of range: %s = %v (max %v)", ps.Name, val, *c.Max)
	}
	return ""
}

func equalValue(a, b any) bool {
	if fa, ok := asFloat(a); ok {
		if fb, ok := asFloat(b); ok {
			return fa == fb
		}
		return false
	}
	sa, aok := a.(string)
	sb, bok := b.(string)
	if aok && bok {
		return sa == sb
	}
	return a == b
}

func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint64:
		return float64(x), true
	default:
		return 0, false
	}
}

func enumList(vals []any) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, ", ")
}
