package task

import (
	"context"
	"fmt"
)

// ParamType is the declared shape of one task parameter.
type ParamType int

const (
	// TypeAny marks an undeclared/unannotated parameter. It validates with
	// string semantics (permissive).
	TypeAny ParamType = iota
	TypeString
	TypeBool
	TypeInt
	TypeFloat
	TypeList
	TypeMap
)

func (t ParamType) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeBool:
		return "bool"
	case TypeInt:
		return "int"
	case TypeFloat:
		return "float"
	case TypeList:
		return "list"
	case TypeMap:
		return "map"
	default:
		return "any"
	}
}

// Constraint narrows the accepted values of a parameter: either a closed
// set of allowed values, or a numeric range. Both are enforced at
// validation time.
type Constraint struct {
	Enum []any
	Min  *float64
	Max  *float64
}

// Range builds a numeric range constraint (inclusive).
func Range(min, max float64) *Constraint {
	return &Constraint{Min: &min, Max: &max}
}

// Min builds a lower-bounded range constraint.
func Min(min float64) *Constraint {
	return &Constraint{Min: &min}
}

// OneOf builds an enumerated constraint.
func OneOf(values ...any) *Constraint {
	return &Constraint{Enum: values}
}

// ParamSpec declares one parameter of a task: name, expected type, whether
// a default exists, and an optional constraint.
type ParamSpec struct {
	Name       string
	Type       ParamType
	Unit       string // display hint only (Hz, V, s, ...)
	Optional   bool
	Default    any
	Constraint *Constraint
}

// Params are the supplied arguments of one invocation.
type Params map[string]any

func (p Params) Int(key string) int {
	switch v := p[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

func (p Params) Float(key string) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return 0
	}
}

func (p Params) Bool(key string) bool {
	v, _ := p[key].(bool)
	return v
}

func (p Params) String(key string) string {
	if v, ok := p[key].(string); ok {
		return v
	}
	if v, ok := p[key]; ok && v != nil {
		return fmt.Sprint(v)
	}
	return ""
}

// Copy returns a shallow copy; submitted parameters are immutable from the
// caller's point of view.
func (p Params) Copy() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Definition binds a canonical task name to its parameter schema and
// implementation. The schema is declared alongside the implementation
// instead of being reflected from it, so validation is structural.
type Definition struct {
	Name        string // canonical enumerated name, e.g. "DG4202_TOGGLE"
	Display     string // human-facing value, e.g. "Toggle Output"
	Description string
	Params      []ParamSpec
	Run         func(ctx context.Context, p Params) error
}

// WithDefaults overlays declared defaults under the supplied parameters.
func (d *Definition) WithDefaults(supplied Params) Params {
	out := supplied.Copy()
	for _, ps := range d.Params {
		if _, ok := out[ps.Name]; !ok && ps.Optional {
			out[ps.Name] = ps.Default
		}
	}
	return out
}
