package resolve

import (
	"sort"

	"github.com/nickerso/physiome-coko/internal/acl"
	"github.com/nickerso/physiome-coko/internal/domain"
)

// fixedReadFields are always exposable regardless of the read policy's field
// constraint.
var fixedReadFields = map[string]bool{
	"id":               true,
	"created":          true,
	"updated":          true,
	"tasks":            true,
	"restrictedFields": true,
}

// project rewrites one retrieved entity into its DTO, exposing only the
// fields the per-row read policy allows and reporting everything else in
// restrictedFields. The owner flag is recomputed against this row.
func (r *Resolver) project(inst *domain.Instance, requested []string, identity *domain.Identity) map[string]any {
	top := topLevel(requested)
	dto := map[string]any{"id": inst.ID}

	match := r.evaluate(acl.ActionRead, identity, inst)
	if !match.Allow {
		restricted := make([]string, 0, len(top))
		for _, f := range top {
			if f != "id" {
				restricted = append(restricted, f)
			}
		}
		sort.Strings(restricted)
		dto["restrictedFields"] = restricted
		return dto
	}

	var restricted []string
	for _, f := range top {
		if !r.fieldReadable(f, match) {
			restricted = append(restricted, f)
			continue
		}

		switch f {
		case "id", "restrictedFields", "tasks":
			// id is fixed; the others are resolved by their own operations
		case "created":
			dto["created"] = inst.Created
		case "updated":
			dto["updated"] = inst.Updated
		default:
			if v, ok := inst.Get(f); ok {
				dto[f] = v
			}
		}
	}

	if len(restricted) > 0 {
		sort.Strings(restricted)
		dto["restrictedFields"] = restricted
	}

	return dto
}

// fieldReadable applies both the declared readable set and the policy's
// field constraint, with the fixed additions always allowed.
func (r *Resolver) fieldReadable(field string, match acl.Match) bool {
	if fixedReadFields[field] {
		return true
	}
	if !r.intro.IsReadable(field) {
		return false
	}
	return match.AllowsField(field)
}
