package resolve

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/nickerso/physiome-coko/internal/acl"
	"github.com/nickerso/physiome-coko/internal/domain"
	"github.com/nickerso/physiome-coko/internal/workflow"
)

// Create instantiates a new entity: owner join fields take the subject id,
// declared defaults apply (defaultEnum preferred over defaultValue), the
// paired BPM process starts with the entity id as business key, and a
// created event is published.
//
// The entity save and the process start are not transactional: a failed
// start leaves the saved entity without a process instance.
func (r *Resolver) Create(ctx context.Context) (*domain.Instance, error) {
	identity, err := r.resolveIdentity(ctx)
	if err != nil {
		return nil, err
	}

	if r.def.ACL != nil {
		if match := r.evaluate(acl.ActionCreate, identity, nil); !match.Allow {
			return nil, domain.NewAuthorizationError("create")
		}
	}

	inst := domain.NewInstance(r.now())

	if identity != nil {
		for _, e := range r.intro.OwnerFields {
			inst.Set(e.JoinField, identity.ID)
		}
	}

	for _, e := range r.intro.ReadableFields {
		switch {
		case e.DefaultEnum != "":
			if v, ok := r.def.ResolveEnum(e.DefaultEnum + "." + e.DefaultEnumKey); ok {
				inst.Set(e.Field, v)
			}
		case e.DefaultValue != nil:
			inst.Set(e.Field, e.DefaultValue)
		}
	}

	if err := r.store.Insert(ctx, inst); err != nil {
		return nil, err
	}

	if r.def.ProcessKey != "" {
		if err := r.engine.StartProcess(ctx, r.def.ProcessKey, inst.ID.String(), nil, nil); err != nil {
			return nil, err
		}
	}

	r.publishCreated(ctx, inst.ID)
	return inst, nil
}

// Update applies client input to an entity. Input is restricted to the
// intersection of declared input fields and the write policy's field set;
// any disallowed key fails the whole mutation, naming the offending fields.
func (r *Resolver) Update(ctx context.Context, id uuid.UUID, input map[string]any) (*domain.Instance, error) {
	if !r.def.Input {
		return nil, fmt.Errorf("%s does not accept input: %w", r.def.Name, domain.ErrLogic)
	}

	inst, identity, err := r.fetchEntityAndIdentity(ctx, id, nil)
	if err != nil {
		return nil, err
	}

	if err := r.checkAccess("update", identity, inst); err != nil {
		return nil, err
	}

	var writeMatch acl.Match
	if r.def.ACL != nil {
		writeMatch = r.evaluate(acl.ActionWrite, identity, inst)
		if !writeMatch.Allow {
			return nil, domain.NewAuthorizationError("update")
		}
	}

	var disallowed []string
	for field := range input {
		if !r.intro.IsInput(field) || !writeMatch.AllowsField(field) {
			disallowed = append(disallowed, field)
		}
	}
	if len(disallowed) > 0 {
		sort.Strings(disallowed)
		return nil, domain.NewAuthorizationError("update", disallowed...)
	}

	var changed []string
	for field, value := range input {
		if inst.Set(field, value) {
			changed = append(changed, field)
		}
	}

	if len(changed) > 0 {
		sort.Strings(changed)
		inst.Updated = r.now()
		if err := r.store.Update(ctx, inst, changed); err != nil {
			return nil, err
		}
		r.publishUpdated(ctx, inst.ID)
	}

	return inst, nil
}

// Destroy performs the terminal transition: state overrides from the input
// apply without the write policy, the paired process instance is cancelled
// when its business key matches the entity id case-insensitively, and an
// updated event is published.
func (r *Resolver) Destroy(ctx context.Context, id uuid.UUID, state map[string]any) (bool, error) {
	inst, identity, err := r.fetchEntityAndIdentity(ctx, id, nil)
	if err != nil {
		return false, err
	}

	if err := r.checkAccess("destroy", identity, inst); err != nil {
		return false, err
	}
	if r.def.ACL != nil {
		if match := r.evaluate(acl.ActionDestroy, identity, inst); !match.Allow {
			return false, domain.NewAuthorizationError("destroy")
		}
	}

	// Non-state keys in the state input are dropped silently.
	var changed []string
	for field, value := range state {
		if r.intro.StateField(field) == nil {
			continue
		}
		if inst.Set(field, value) {
			changed = append(changed, field)
		}
	}

	if len(changed) > 0 {
		sort.Strings(changed)
		inst.Updated = r.now()
		if err := r.store.Update(ctx, inst, changed); err != nil {
			return false, err
		}
	}

	businessKey := inst.ID.String()
	pi, err := r.engine.FindInstance(ctx, businessKey)
	if err != nil {
		return false, err
	}
	if pi != nil && strings.EqualFold(pi.BusinessKey, businessKey) {
		if err := r.engine.DeleteInstance(ctx, pi.ID); err != nil {
			return false, err
		}
	}

	r.publishUpdated(ctx, inst.ID)
	return true, nil
}

// Restart starts a new process for an existing entity after the given
// activity, passing the current state fields as variables.
func (r *Resolver) Restart(ctx context.Context, id uuid.UUID, activityID string) (bool, error) {
	inst, err := r.store.Get(ctx, id, nil, nil)
	if err != nil {
		return false, err
	}

	state := map[string]any{}
	for _, e := range r.intro.StateFields {
		if v, ok := inst.Get(e.Field); ok {
			state[e.Field] = v
		}
	}

	instructions := []workflow.StartInstruction{workflow.StartAfterActivity(activityID)}
	if err := r.engine.StartProcess(ctx, r.def.ProcessKey, inst.ID.String(), instructions, workflow.FromState(state)); err != nil {
		return false, err
	}

	r.publishUpdated(ctx, inst.ID)
	return true, nil
}

// GetTasks lists the open workflow tasks of an entity, stripped of engine
// transport links and filtered by the task policy's allowed task keys.
func (r *Resolver) GetTasks(ctx context.Context, id uuid.UUID) ([]workflow.Task, error) {
	inst, identity, err := r.fetchEntityAndIdentity(ctx, id, nil)
	if err != nil {
		return nil, err
	}

	var match acl.Match
	if r.def.ACL != nil {
		match = r.evaluate(acl.ActionTask, identity, inst)
		if !match.Allow {
			return nil, domain.NewAuthorizationError("tasks")
		}
	}

	tasks, err := r.engine.ListTasks(ctx, inst.ID.String())
	if err != nil {
		return nil, err
	}

	result := make([]workflow.Task, 0, len(tasks))
	for _, t := range tasks {
		if !match.AllowsTask(t.TaskDefinitionKey) {
			continue
		}
		result = append(result, t.WithoutLinks())
	}

	return result, nil
}

// fetchEntityAndIdentity loads the entity and resolves the subject in
// parallel.
func (r *Resolver) fetchEntityAndIdentity(ctx context.Context, id uuid.UUID, eager []string) (*domain.Instance, *domain.Identity, error) {
	var (
		inst     *domain.Instance
		identity *domain.Identity
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		inst, err = r.store.Get(gctx, id, nil, r.eagerSpecs(eager))
		return err
	})
	g.Go(func() error {
		var err error
		identity, err = r.resolveIdentity(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	return inst, identity, nil
}
