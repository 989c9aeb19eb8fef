package resolve

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/nickerso/physiome-coko/internal/acl"
	"github.com/nickerso/physiome-coko/internal/domain"
	"github.com/nickerso/physiome-coko/internal/model"
)

// ListingResult is one page of projected entities plus its paging metadata.
type ListingResult struct {
	Results  []map[string]any
	PageInfo PageInfo
}

// Get fetches one entity by id and projects it for the subject. The access
// policy (with its restriction scope) gates the read policy.
func (r *Resolver) Get(ctx context.Context, id uuid.UUID, requested []string) (map[string]any, error) {
	if id == uuid.Nil {
		return nil, fmt.Errorf("get: id is required: %w", domain.ErrUserInput)
	}

	identity, err := r.resolveIdentity(ctx)
	if err != nil {
		return nil, err
	}

	inst, err := r.store.Get(ctx, id, nil, r.eagerSpecs(requested))
	if err != nil {
		return nil, err
	}

	if err := r.checkAccess("get", identity, inst); err != nil {
		return nil, err
	}

	return r.project(inst, requested, identity), nil
}

// List returns a filtered, sorted, paged slice of entities, each projected
// per-row for the subject.
func (r *Resolver) List(ctx context.Context, requested []string, input ListingInput) (*ListingResult, error) {
	identity, err := r.resolveIdentity(ctx)
	if err != nil {
		return nil, err
	}

	var match acl.Match
	if r.def.ACL != nil {
		match = r.evaluate(acl.ActionAccess, identity, nil)
		if !match.Allow {
			return nil, domain.NewAuthorizationError("list")
		}
	}

	plan, err := r.planListing(requested, input, identity, match)
	if err != nil {
		return nil, err
	}

	insts, total, err := r.store.Select(ctx, plan.query, plan.eager)
	if err != nil {
		return nil, err
	}

	// An empty page loses the window count; fall back to a plain COUNT so
	// totalCount stays accurate past the last page and at first = 0.
	if len(insts) == 0 {
		if _, total, err = r.store.Select(ctx, plan.count, nil); err != nil {
			return nil, err
		}
	}

	results := make([]map[string]any, 0, len(insts))
	for _, inst := range insts {
		results = append(results, r.project(inst, requested, identity))
	}

	return &ListingResult{
		Results: results,
		PageInfo: PageInfo{
			TotalCount: total,
			Offset:     plan.offst,
			PageSize:   plan.first,
		},
	}, nil
}

// ResolveRelation traverses a declared relation of an entity, memoized via
// the request context. Forward relations (join field on this side) yield one
// instance or nil; reverse relations yield the related slice.
func (r *Resolver) ResolveRelation(ctx context.Context, id uuid.UUID, field string) (any, error) {
	e := r.intro.Relation(field)
	if e == nil {
		return nil, fmt.Errorf("relation %s: %w", field, domain.ErrNotFound)
	}

	target := r.registry.Resolver(e.Type)
	if target == nil {
		return nil, fmt.Errorf("relation %s: no resolver for type %s: %w", field, e.Type, domain.ErrLogic)
	}

	inst, err := r.ResolveInstanceUsingContext(ctx, id)
	if err != nil {
		return nil, err
	}

	if e.JoinField != "" {
		v, ok := inst.Get(e.JoinField)
		if !ok || v == nil {
			return nil, nil
		}
		targetID, err := uuid.Parse(fmt.Sprint(v))
		if err != nil {
			return nil, fmt.Errorf("relation %s: join value %v: %w", field, v, domain.ErrLogic)
		}
		return target.ResolveInstanceUsingContext(ctx, targetID)
	}

	join := target.joinElementTo(r.def.Name)
	if join == nil {
		return nil, fmt.Errorf("relation %s: type %s declares no join back: %w", field, e.Type, domain.ErrLogic)
	}

	b := psql.Select(target.store.ProjectionColumns(nil)...).
		From(target.store.Table()).
		Where(squirrel.Eq{join.Column(): id})

	related, _, err := target.store.Select(ctx, b, nil)
	if err != nil {
		return nil, err
	}
	return related, nil
}

// joinElementTo finds this resolver's relation element pointing at the given
// type through a join field.
func (r *Resolver) joinElementTo(typeName string) *model.Element {
	for _, e := range r.intro.ReadableFields {
		kind := e.Kind()
		if (kind == model.KindRelation || kind == model.KindOwner) &&
			e.Type == typeName && e.JoinField != "" {
			return e
		}
	}
	return nil
}

func notFoundError(typeName string, id uuid.UUID) error {
	return fmt.Errorf("%s %s: %w", typeName, id, domain.ErrNotFound)
}
