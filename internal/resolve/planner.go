package resolve

import (
	"strings"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/nickerso/physiome-coko/internal/acl"
	"github.com/nickerso/physiome-coko/internal/domain"
	"github.com/nickerso/physiome-coko/internal/model"
)

// DefaultPageSize bounds listings: the default and the maximum page size.
const DefaultPageSize = 200

// FullCountColumn is the synthetic window aggregate the planner projects so
// one round trip yields both the paged slice and the unpaged total.
const FullCountColumn = "internal_full_count"

var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

// ListingInput carries the client-controlled listing parameters. Nil First
// and Offset take the defaults; Sorting maps field names to a boolean
// direction (true = descending).
type ListingInput struct {
	First   *int
	Offset  *int
	Filter  map[string]any
	Sorting map[string]any
}

func (in ListingInput) first() int {
	if in.First == nil || *in.First < 0 {
		return DefaultPageSize
	}
	if *in.First > DefaultPageSize {
		return DefaultPageSize
	}
	return *in.First
}

func (in ListingInput) offset() int {
	if in.Offset == nil || *in.Offset < 0 {
		return 0
	}
	return *in.Offset
}

// PageInfo describes the slice a listing returned.
type PageInfo struct {
	TotalCount int
	Offset     int
	PageSize   int
}

// listingPlan is the planner's output: the page query, a fallback count
// query for pages that come back empty, and the relation prefetch specs.
type listingPlan struct {
	query squirrel.SelectBuilder
	count squirrel.SelectBuilder
	eager []model.EagerSpec
	first int
	offst int
}

// planListing translates requested fields and listing input into SQL.
// The match is the subject's access evaluation; its restriction scope drives
// ownership scoping.
func (r *Resolver) planListing(requested []string, input ListingInput, identity *domain.Identity, match acl.Match) (*listingPlan, error) {
	top := topLevel(requested)

	cols := r.store.ProjectionColumns(top)
	b := psql.Select(cols...).
		Column("COUNT(*) OVER() AS " + FullCountColumn).
		From(r.store.Table())

	count := psql.Select("COUNT(*) AS " + FullCountColumn).From(r.store.Table())

	// Filtering over declared listing-filter fields; unknown keys ignored.
	var err error
	b, count, err = r.applyFilter(b, count, input.Filter)
	if err != nil {
		return nil, err
	}

	// Ownership scoping for subjects without the "all" restriction.
	if r.def.ACL != nil && !match.AllowsAllEntities() {
		if identity == nil {
			return nil, domain.NewAuthorizationError("list")
		}
		scope := r.ownerScope(identity.ID)
		if scope != nil {
			b = b.Where(scope)
			count = count.Where(scope)
		}
	}

	// Sorting over declared sortable fields; non-boolean directions ignored.
	for _, e := range r.intro.SortableFields {
		v, ok := input.Sorting[e.Field]
		if !ok {
			continue
		}
		desc, isBool := v.(bool)
		if !isBool {
			continue
		}
		dir := " ASC"
		if desc {
			dir = " DESC"
		}
		b = b.OrderBy(e.Column() + dir)
	}

	// Listing query extensions may replace the query wholesale.
	for _, ext := range r.def.Extensions {
		if ext.Listing != nil {
			b = ext.Listing(b)
		}
	}

	first, offset := input.first(), input.offset()
	b = b.Limit(uint64(first)).Offset(uint64(offset))

	return &listingPlan{
		query: b,
		count: count,
		eager: r.eagerSpecs(requested),
		first: first,
		offst: offset,
	}, nil
}

// applyFilter translates the filter input field by field. The first
// per-field extension that handles a field short-circuits all further
// processing for it; whole-filter extensions all run afterwards.
func (r *Resolver) applyFilter(b, count squirrel.SelectBuilder, filter map[string]any) (squirrel.SelectBuilder, squirrel.SelectBuilder, error) {
	if filter == nil {
		return b, count, nil
	}

fields:
	for _, e := range r.intro.ListingFilterFields {
		value, ok := filter[e.Field]
		if !ok {
			continue
		}

		for _, ext := range r.def.Extensions {
			if ext.FilterField == nil {
				continue
			}
			if next, handled := ext.FilterField(b, e.Field, value); handled {
				b = next
				continue fields
			}
		}

		if cond := filterCondition(e, value); cond != nil {
			b = b.Where(cond)
			count = count.Where(cond)
		}
	}

	for _, ext := range r.def.Extensions {
		if ext.Filter != nil {
			b = ext.Filter(b, filter)
		}
	}

	return b, count, nil
}

// filterCondition is the default filter translation: null matches NULL,
// multiple-valued fields take IN, and false is tri-state (false or NULL).
// Array values against a field not declared listingFilterMultiple are
// ignored, like unknown keys.
func filterCondition(e *model.Element, value any) squirrel.Sqlizer {
	col := e.Column()

	switch v := value.(type) {
	case nil:
		return squirrel.Eq{col: nil}
	case []any, []string:
		if !e.ListingFilterMultiple {
			return nil
		}
		return squirrel.Eq{col: v}
	case bool:
		if !v {
			return squirrel.Or{squirrel.Eq{col: false}, squirrel.Eq{col: nil}}
		}
		return squirrel.Eq{col: true}
	default:
		return squirrel.Eq{col: value}
	}
}

// ownerScope builds the disjunction over every declared owner join field.
func (r *Resolver) ownerScope(id uuid.UUID) squirrel.Sqlizer {
	if len(r.intro.OwnerFields) == 0 {
		return nil
	}
	or := squirrel.Or{}
	for _, e := range r.intro.OwnerFields {
		or = append(or, squirrel.Eq{e.Column(): id})
	}
	return or
}

// eagerSpecs derives relation prefetch directives from the requested dotted
// field paths. Sub-selections restrict the relation's projection; nested
// relations prefetch without further restriction, and a declared
// defaultEager hint always extends the path.
func (r *Resolver) eagerSpecs(requested []string) []model.EagerSpec {
	var specs []model.EagerSpec

	for _, e := range r.intro.Relations {
		if !fieldRequested(requested, e.Field) {
			continue
		}

		spec := model.EagerSpec{Field: e.Field}
		target := r.registry.Resolver(e.Type)

		for _, sub := range subFields(requested, e.Field) {
			if target != nil && target.intro.Relation(sub) != nil {
				spec.Nested = append(spec.Nested, model.EagerSpec{Field: sub})
				continue
			}
			spec.Fields = append(spec.Fields, sub)
		}

		if e.DefaultEager != "" && !hasNested(spec.Nested, e.DefaultEager) {
			spec.Nested = append(spec.Nested, model.EagerSpec{Field: e.DefaultEager})
		}

		specs = append(specs, spec)
	}

	return specs
}

func hasNested(specs []model.EagerSpec, field string) bool {
	for _, s := range specs {
		if s.Field == field {
			return true
		}
	}
	return false
}

// topLevel filters dotted paths down to their top-level fields.
func topLevel(requested []string) []string {
	var fields []string
	seen := map[string]bool{}
	for _, f := range requested {
		head, _, _ := strings.Cut(f, ".")
		if !seen[head] {
			seen[head] = true
			fields = append(fields, head)
		}
	}
	return fields
}

func fieldRequested(requested []string, field string) bool {
	for _, f := range requested {
		head, _, _ := strings.Cut(f, ".")
		if head == field {
			return true
		}
	}
	return false
}

// subFields returns the immediate sub-selection of a dotted field.
func subFields(requested []string, field string) []string {
	var subs []string
	seen := map[string]bool{}
	prefix := field + "."
	for _, f := range requested {
		if !strings.HasPrefix(f, prefix) {
			continue
		}
		sub, _, _ := strings.Cut(strings.TrimPrefix(f, prefix), ".")
		if sub != "" && !seen[sub] {
			seen[sub] = true
			subs = append(subs, sub)
		}
	}
	return subs
}
