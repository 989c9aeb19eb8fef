package model

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/nickerso/physiome-coko/internal/acl"
)

// Registry holds the loaded model definitions by type name.
type Registry struct {
	defs     map[string]*Definition
	policies map[string]*acl.Policy
}

// Get returns the definition for a type name, or nil.
func (r *Registry) Get(name string) *Definition {
	return r.defs[name]
}

// Policy returns a loaded policy by name, or nil.
func (r *Registry) Policy(name string) *acl.Policy {
	return r.policies[name]
}

// Names returns the registered type names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.defs))
	for n := range r.defs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// LoadDir reads compiled model definitions from a directory. The optional
// policies.json file declares named ACL policies; every other *.json file is
// one definition, bound to its policy via the "acl" attribute.
func LoadDir(dir string) (*Registry, error) {
	reg := &Registry{
		defs:     map[string]*Definition{},
		policies: map[string]*acl.Policy{},
	}

	policiesPath := filepath.Join(dir, "policies.json")
	if raw, err := os.ReadFile(policiesPath); err == nil {
		var policies []*acl.Policy
		if err := json.Unmarshal(raw, &policies); err != nil {
			return nil, fmt.Errorf("model: parse %s: %w", policiesPath, err)
		}
		for _, p := range policies {
			reg.policies[p.Name] = p
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("model: read %s: %w", policiesPath, err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("model: read dir %s: %w", dir, err)
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") ||
			name == "policies.json" || name == "validations.json" {
			continue
		}

		raw, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("model: read %s: %w", name, err)
		}

		def := &Definition{}
		if err := json.Unmarshal(raw, def); err != nil {
			return nil, fmt.Errorf("model: parse %s: %w", name, err)
		}
		if def.Name == "" {
			return nil, fmt.Errorf("model: %s: definition has no name", name)
		}
		if def.ACLName != "" {
			def.ACL = reg.policies[def.ACLName]
			if def.ACL == nil {
				return nil, fmt.Errorf("model: %s: unknown acl %q", name, def.ACLName)
			}
		}

		reg.defs[def.Name] = def
	}

	return reg, nil
}
