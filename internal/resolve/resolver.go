// Package resolve implements the model-driven instance resolver: CRUD,
// listing, relation traversal and workflow-task completion for every modeled
// instance type, derived from a declarative definition and its ACL policy.
package resolve

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/nickerso/physiome-coko/internal/acl"
	"github.com/nickerso/physiome-coko/internal/domain"
	"github.com/nickerso/physiome-coko/internal/model"
	"github.com/nickerso/physiome-coko/internal/pubsub"
	"github.com/nickerso/physiome-coko/internal/validation"
	"github.com/nickerso/physiome-coko/internal/workflow"
)

// InstanceStore is the persistence surface a resolver drives. Implemented by
// the postgres instance store.
type InstanceStore interface {
	Get(ctx context.Context, id uuid.UUID, fields []string, eager []model.EagerSpec) (*domain.Instance, error)
	GetByIDs(ctx context.Context, ids []uuid.UUID, fields []string) (map[uuid.UUID]*domain.Instance, error)
	Select(ctx context.Context, b squirrel.SelectBuilder, eager []model.EagerSpec) ([]*domain.Instance, int, error)
	ProjectionColumns(fields []string) []string
	Insert(ctx context.Context, inst *domain.Instance) error
	Update(ctx context.Context, inst *domain.Instance, changed []string) error
	NextSequenceValue(ctx context.Context, sequence string) (string, error)
	Table() string
}

// IdentityResolver resolves the authenticated subject of a request.
// Anonymous requests resolve to (nil, nil).
type IdentityResolver interface {
	Resolve(ctx context.Context) (*domain.Identity, error)
}

// resolverSeq hands out process-wide unique resolver ids so request-scoped
// caches of different resolvers never collide.
var resolverSeq atomic.Int64

// Resolver serves one modeled instance type. Immutable after construction.
type Resolver struct {
	def        *model.Definition
	intro      *model.Introspection
	store      InstanceStore
	engine     workflow.Engine
	bus        pubsub.Publisher
	identities IdentityResolver
	validators *validation.Registry
	registry   *Registry
	log        *slog.Logger

	id  int64
	now func() time.Time
}

// New creates a resolver for def and registers it with the registry when one
// is given.
func New(
	def *model.Definition,
	store InstanceStore,
	engine workflow.Engine,
	bus pubsub.Publisher,
	identities IdentityResolver,
	validators *validation.Registry,
	registry *Registry,
	log *slog.Logger,
) *Resolver {
	r := &Resolver{
		def:        def,
		intro:      model.Introspect(def),
		store:      store,
		engine:     engine,
		bus:        bus,
		identities: identities,
		validators: validators,
		registry:   registry,
		log:        log.With("resolver", def.Name),
		id:         resolverSeq.Add(1),
		now:        func() time.Time { return time.Now().UTC() },
	}
	if registry != nil {
		registry.Register(r)
	}
	return r
}

// Definition returns the model definition the resolver serves.
func (r *Resolver) Definition() *model.Definition { return r.def }

// Introspection returns the element views the resolver works from.
func (r *Resolver) Introspection() *model.Introspection { return r.intro }

// Registry holds the resolvers of all modeled types, for relation traversal.
type Registry struct {
	resolvers map[string]*Resolver
}

// NewRegistry creates an empty resolver registry.
func NewRegistry() *Registry {
	return &Registry{resolvers: map[string]*Resolver{}}
}

// Register adds a resolver under its definition name.
func (reg *Registry) Register(r *Resolver) {
	reg.resolvers[r.def.Name] = r
}

// Resolver returns the resolver for a type name, or nil.
func (reg *Registry) Resolver(name string) *Resolver {
	if reg == nil {
		return nil
	}
	return reg.resolvers[name]
}

// ---------------------------------------------------------------------------
// Authorization helpers
// ---------------------------------------------------------------------------

// isOwner reports whether the identity matches any declared owner join field
// of the entity. Multiple owner relations combine with logical OR.
func (r *Resolver) isOwner(inst *domain.Instance, identity *domain.Identity) bool {
	if inst == nil || identity == nil {
		return false
	}
	for _, e := range r.intro.OwnerFields {
		if v, ok := inst.Get(e.JoinField); ok && domain.SameID(v, identity.ID) {
			return true
		}
	}
	return false
}

// targets derives the subject target set, recomputing the owner flag against
// the concrete entity (nil for entity-less evaluations).
func (r *Resolver) targets(identity *domain.Identity, inst *domain.Instance) []acl.Target {
	return acl.IdentityTargets(identity, r.isOwner(inst, identity))
}

// evaluate runs the definition's policy for one action. A definition without
// a policy is fully permissive.
func (r *Resolver) evaluate(action acl.Action, identity *domain.Identity, inst *domain.Instance) acl.Match {
	return r.def.ACL.Evaluate(r.targets(identity, inst), action)
}

// checkAccess runs the access policy against a concrete entity, enforcing
// the restriction scope against the recomputed owner flag.
func (r *Resolver) checkAccess(action string, identity *domain.Identity, inst *domain.Instance) error {
	if r.def.ACL == nil {
		return nil
	}
	match := r.evaluate(acl.ActionAccess, identity, inst)
	if !match.Allow {
		return domain.NewAuthorizationError(action)
	}
	if !match.AllowsAllEntities() && !r.isOwner(inst, identity) {
		return domain.NewAuthorizationError(action)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Pub/sub notifications
// ---------------------------------------------------------------------------

// TopicCreated returns the pub/sub topic for creation events of this type.
func (r *Resolver) TopicCreated() string { return r.def.Name + ".created" }

// TopicUpdated returns the pub/sub topic for modification events of this type.
func (r *Resolver) TopicUpdated() string { return r.def.Name + ".updated" }

// publishCreated pushes a creation notification. Delivery failures are
// logged, not surfaced: the mutation itself already succeeded.
func (r *Resolver) publishCreated(ctx context.Context, id uuid.UUID) {
	payload := map[string]any{"created" + r.def.Name: id.String()}
	if err := r.bus.Publish(ctx, r.TopicCreated(), payload); err != nil {
		r.log.ErrorContext(ctx, "publish created event",
			slog.String("id", id.String()),
			slog.String("error", err.Error()),
		)
	}
}

func (r *Resolver) publishUpdated(ctx context.Context, id uuid.UUID) {
	payload := map[string]any{"modified" + r.def.Name: id.String()}
	if err := r.bus.Publish(ctx, r.TopicUpdated(), payload); err != nil {
		r.log.ErrorContext(ctx, "publish updated event",
			slog.String("id", id.String()),
			slog.String("error", err.Error()),
		)
	}
}
