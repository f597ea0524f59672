package task

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ErrUnknownTask reports a lookup against a name that is neither a canonical
// task name nor a display value.
var ErrUnknownTask = errors.New("unknown task")

// Registry is the stable mapping from task identifiers to definitions.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]*Definition // keyed by canonical upper-case name
}

func NewRegistry() *Registry {
	return &Registry{defs: map[string]*Definition{}}
}

func (r *Registry) Register(def *Definition) error {
	if def == nil || strings.TrimSpace(def.Name) == "" {
		return errors.New("task definition requires a name")
	}
	if def.Run == nil {
		return fmt.Errorf("task %s has no implementation", def.Name)
	}
	key := strings.ToUpper(strings.TrimSpace(def.Name))
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.defs[key]; dup {
		return fmt.Errorf("task %s already registered", def.Name)
	}
	r.defs[key] = def
	return nil
}

// Resolve matches a task identifier case-insensitively: exact canonical key
// first, then a scan over canonical names and display values.
func (r *Registry) Resolve(name string) (*Definition, error) {
	key := strings.ToUpper(strings.TrimSpace(name))
	r.mu.RLock()
	defer r.mu.RUnlock()
	if def, ok := r.defs[key]; ok {
		return def, nil
	}
	for _, def := range r.defs {
		if strings.EqualFold(def.Name, key) || strings.EqualFold(def.Display, key) {
			return def, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownTask, name)
}

// Names returns the canonical task names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.defs))
	for k := range r.defs {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
