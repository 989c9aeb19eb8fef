// Package validation evaluates compiled validation sets against instances at
// task completion. Producing the sets (form/validation-set compilation) is
// the model loader's concern; this package only evaluates.
package validation

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/nickerso/physiome-coko/internal/domain"
)

// Condition operators.
const (
	OpPresent  = "present"
	OpEquals   = "eq"
	OpNotEqual = "neq"
	OpNonEmpty = "nonempty"
)

// Condition is one compiled check against an instance field. Field may be a
// dotted path reaching into an eagerly loaded relation.
type Condition struct {
	Field   string `json:"field"`
	Op      string `json:"op"`
	Value   any    `json:"value"`
	Message string `json:"message"`
}

// Set is the compiled validation set bound to a (form, outcome) pair.
// Bindings names the relation fields the conditions reach into; the resolver
// eager-loads the intersection with its declared relations before evaluating.
type Set struct {
	Form     string      `json:"form"`
	Outcome  string      `json:"outcome"`
	Bindings []string    `json:"bindings"`
	Checks   []Condition `json:"checks"`
}

// Evaluate runs every check and returns the messages of the failed ones.
// An empty result means the set passed.
func (s *Set) Evaluate(inst *domain.Instance) []string {
	var failures []string
	for _, c := range s.Checks {
		if !c.holds(inst) {
			failures = append(failures, c.Message)
		}
	}
	return failures
}

func (c *Condition) holds(inst *domain.Instance) bool {
	v, ok := lookup(inst, c.Field)

	switch c.Op {
	case OpPresent:
		return ok && v != nil
	case OpNonEmpty:
		if !ok || v == nil {
			return false
		}
		s, isStr := v.(string)
		return !isStr || strings.TrimSpace(s) != ""
	case OpEquals:
		return ok && v == c.Value
	case OpNotEqual:
		return !ok || v != c.Value
	}
	return false
}

// lookup resolves a dotted field path through eagerly loaded relations.
func lookup(inst *domain.Instance, path string) (any, bool) {
	head, rest, nested := strings.Cut(path, ".")
	v, ok := inst.Get(head)
	if !ok || !nested {
		return v, ok
	}
	rel, isInst := v.(*domain.Instance)
	if !isInst {
		return nil, false
	}
	return lookup(rel, rest)
}

// Registry holds validation sets keyed by form and outcome.
type Registry struct {
	sets map[string]*Set
}

// NewRegistry creates a registry over the given sets.
func NewRegistry(sets ...*Set) *Registry {
	r := &Registry{sets: map[string]*Set{}}
	for _, s := range sets {
		r.sets[key(s.Form, s.Outcome)] = s
	}
	return r
}

// Lookup returns the set bound to (form, outcome), or nil.
func (r *Registry) Lookup(form, outcome string) *Set {
	if r == nil {
		return nil
	}
	return r.sets[key(form, outcome)]
}

func key(form, outcome string) string {
	return form + "\x00" + outcome
}

// LoadFile reads compiled validation sets from a JSON file. A missing file
// yields an empty registry.
func LoadFile(path string) (*Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewRegistry(), nil
		}
		return nil, fmt.Errorf("validation: read %s: %w", path, err)
	}

	var sets []*Set
	if err := json.Unmarshal(raw, &sets); err != nil {
		return nil, fmt.Errorf("validation: parse %s: %w", path, err)
	}

	return NewRegistry(sets...), nil
}
