package resolve

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/graph-gophers/dataloader/v7"

	"github.com/nickerso/physiome-coko/internal/domain"
)

type requestCtxKey struct{}

// RequestContext is the per-request memoization bag. Instance lookups are
// cached for the lifetime of one request, keyed by the process-wide unique
// resolver id so different resolvers never collide. Owned by exactly one
// request; the mutex only guards lazily created loaders.
type RequestContext struct {
	mu      sync.Mutex
	loaders map[int64]*dataloader.Loader[uuid.UUID, *domain.Instance]

	identityOnce sync.Once
	identity     *domain.Identity
	identityErr  error
}

// WithRequestContext installs a fresh request context. A context that
// already carries one is returned unchanged.
func WithRequestContext(ctx context.Context) context.Context {
	if requestContextFrom(ctx) != nil {
		return ctx
	}
	rc := &RequestContext{
		loaders: map[int64]*dataloader.Loader[uuid.UUID, *domain.Instance]{},
	}
	return context.WithValue(ctx, requestCtxKey{}, rc)
}

func requestContextFrom(ctx context.Context) *RequestContext {
	rc, _ := ctx.Value(requestCtxKey{}).(*RequestContext)
	return rc
}

// loader returns the request's memoizing loader for one resolver, creating
// it on first use.
func (rc *RequestContext) loader(r *Resolver) *dataloader.Loader[uuid.UUID, *domain.Instance] {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if l, ok := rc.loaders[r.id]; ok {
		return l
	}

	l := dataloader.NewBatchedLoader(newInstanceBatchFn(r.store, r.intro.Definition().Name))
	rc.loaders[r.id] = l
	return l
}

func newInstanceBatchFn(store InstanceStore, typeName string) dataloader.BatchFunc[uuid.UUID, *domain.Instance] {
	return func(ctx context.Context, keys []uuid.UUID) []*dataloader.Result[*domain.Instance] {
		results := make([]*dataloader.Result[*domain.Instance], len(keys))

		byID, err := store.GetByIDs(ctx, keys, nil)
		if err != nil {
			for i := range results {
				results[i] = &dataloader.Result[*domain.Instance]{Error: err}
			}
			return results
		}

		for i, key := range keys {
			if inst, ok := byID[key]; ok {
				results[i] = &dataloader.Result[*domain.Instance]{Data: inst}
				continue
			}
			results[i] = &dataloader.Result[*domain.Instance]{
				Error: notFoundError(typeName, key),
			}
		}
		return results
	}
}

// ResolveInstanceUsingContext returns the entity, memoized for the lifetime
// of the current request. Without a request context it degrades to a plain
// store fetch.
func (r *Resolver) ResolveInstanceUsingContext(ctx context.Context, id uuid.UUID) (*domain.Instance, error) {
	rc := requestContextFrom(ctx)
	if rc == nil {
		return r.store.Get(ctx, id, nil, nil)
	}
	return rc.loader(r).Load(ctx, id)()
}

// resolveIdentity resolves the subject once per request.
func (r *Resolver) resolveIdentity(ctx context.Context) (*domain.Identity, error) {
	rc := requestContextFrom(ctx)
	if rc == nil {
		return r.identities.Resolve(ctx)
	}
	rc.identityOnce.Do(func() {
		rc.identity, rc.identityErr = r.identities.Resolve(ctx)
	})
	return rc.identity, rc.identityErr
}
