package resolve

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/nickerso/physiome-coko/internal/acl"
	"github.com/nickerso/physiome-coko/internal/domain"
	"github.com/nickerso/physiome-coko/internal/model"
	"github.com/nickerso/physiome-coko/internal/validation"
	"github.com/nickerso/physiome-coko/internal/workflow"
)

// TaskOutcome is the closed result set of CompleteTask. Policy outcomes are
// normal returns; fatal conditions surface as errors.
type TaskOutcome string

const (
	TaskOutcomeSuccess                TaskOutcome = "Success"
	TaskOutcomeValidatedEmailRequired TaskOutcome = "ValidatedEmailRequired"
	TaskOutcomeValidationFailed       TaskOutcome = "ValidationFailed"
)

// CompleteTaskInput carries the arguments of a task completion.
type CompleteTaskInput struct {
	ID      uuid.UUID
	TaskID  string
	Form    string
	Outcome string
	State   map[string]any
}

func (in CompleteTaskInput) validate() error {
	switch {
	case in.ID == uuid.Nil:
		return fmt.Errorf("complete task: id is required: %w", domain.ErrUserInput)
	case in.TaskID == "":
		return fmt.Errorf("complete task: taskId is required: %w", domain.ErrUserInput)
	case in.Form == "":
		return fmt.Errorf("complete task: form is required: %w", domain.ErrUserInput)
	case in.Outcome == "":
		return fmt.Errorf("complete task: outcome is required: %w", domain.ErrUserInput)
	}
	return nil
}

// CompleteTask runs the task-completion pipeline: outcome resolution,
// validation, forced state overlay, sequence and date assignment, a single
// persist, and engine completion. The entity save and the engine call are
// not transactional; an engine failure after the save leaves the entity in
// its new state.
func (r *Resolver) CompleteTask(ctx context.Context, input CompleteTaskInput) (TaskOutcome, error) {
	if err := input.validate(); err != nil {
		return "", err
	}

	form := r.def.Form(input.Form)
	if form == nil {
		return "", fmt.Errorf("form %s: %w", input.Form, domain.ErrNotFound)
	}
	outcome := form.Outcome(input.Outcome)
	if outcome == nil {
		return "", fmt.Errorf("outcome %s of form %s: %w", input.Outcome, input.Form, domain.ErrNotFound)
	}
	if outcome.Result != model.OutcomeResultComplete {
		return "", fmt.Errorf("outcome %s is not of Complete result: %w", input.Outcome, domain.ErrLogic)
	}

	vset := r.validators.Lookup(input.Form, input.Outcome)

	inst, identity, task, err := r.prefetch(ctx, input, r.validationEager(vset))
	if err != nil {
		return "", err
	}

	if err := r.checkAccess("complete task", identity, inst); err != nil {
		return "", err
	}
	var taskMatch acl.Match
	if r.def.ACL != nil {
		taskMatch = r.evaluate(acl.ActionTask, identity, inst)
		if !taskMatch.Allow {
			return "", domain.NewAuthorizationError("complete task")
		}
	}

	if outcome.RequiresValidatedSubmitter {
		if identity == nil {
			return "", domain.NewAuthorizationError("complete task")
		}
		if !identity.EmailVerified {
			return TaskOutcomeValidatedEmailRequired, nil
		}
	}

	if taskMatch.AllowedTasks != nil && !taskMatch.AllowsTask(task.TaskDefinitionKey) {
		return "", domain.NewAuthorizationError("complete task")
	}

	if vset != nil && !outcome.SkipValidations {
		if failures := vset.Evaluate(inst); len(failures) > 0 {
			return TaskOutcomeValidationFailed, nil
		}
	}

	state := r.filteredState(input.State, outcome)

	changed, err := r.assignSequences(ctx, inst, outcome)
	if err != nil {
		return "", err
	}

	now := r.now()
	for _, da := range outcome.DateAssignments {
		e := r.intro.Element(da.Field)
		if e == nil || !e.IsDateTime() {
			continue
		}
		if inst.Set(da.Field, now) {
			changed = append(changed, da.Field)
		}
	}

	for field, value := range state {
		if inst.Set(field, value) {
			changed = append(changed, field)
		}
	}

	if len(changed) > 0 {
		sort.Strings(changed)
		inst.Updated = now
		if err := r.store.Update(ctx, inst, changed); err != nil {
			return "", err
		}
	}

	if err := r.engine.CompleteTask(ctx, task.ID, workflow.FromState(state)); err != nil {
		return "", err
	}

	r.publishUpdated(ctx, inst.ID)
	return TaskOutcomeSuccess, nil
}

// prefetch loads the entity (with the validation set's eager relations), the
// subject, and the addressed task, all in parallel.
func (r *Resolver) prefetch(ctx context.Context, input CompleteTaskInput, eager []model.EagerSpec) (*domain.Instance, *domain.Identity, *workflow.Task, error) {
	var (
		inst     *domain.Instance
		identity *domain.Identity
		task     *workflow.Task
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		inst, err = r.store.Get(gctx, input.ID, nil, eager)
		return err
	})
	g.Go(func() error {
		var err error
		identity, err = r.resolveIdentity(gctx)
		return err
	})
	g.Go(func() error {
		tasks, err := r.engine.ListTasks(gctx, input.ID.String())
		if err != nil {
			return err
		}
		for i := range tasks {
			if tasks[i].ID == input.TaskID {
				task = &tasks[i]
				return nil
			}
		}
		return fmt.Errorf("task %s: %w", input.TaskID, domain.ErrNotFound)
	})
	if err := g.Wait(); err != nil {
		return nil, nil, nil, err
	}

	return inst, identity, task, nil
}

// validationEager computes the relation prefetch the validation set needs:
// the intersection of declared relations and the set's bindings.
func (r *Resolver) validationEager(vset *validation.Set) []model.EagerSpec {
	if vset == nil {
		return nil
	}

	var specs []model.EagerSpec
	for _, binding := range vset.Bindings {
		if r.intro.Relation(binding) != nil {
			specs = append(specs, model.EagerSpec{Field: binding})
		}
	}
	return specs
}

// filteredState restricts the client state to declared state fields, then
// overlays the outcome's forced state. Forced values win; enum references
// that resolve to nothing are dropped.
func (r *Resolver) filteredState(clientState map[string]any, outcome *model.Outcome) map[string]any {
	state := map[string]any{}

	for field, value := range clientState {
		if r.intro.StateField(field) != nil {
			state[field] = value
		}
	}

	for field, change := range outcome.State {
		switch change.Type {
		case model.StateChangeEnum:
			ref, ok := change.Value.(string)
			if !ok {
				continue
			}
			if v, ok := r.def.ResolveEnum(ref); ok {
				state[field] = v
			}
		case model.StateChangeSimple:
			state[field] = change.Value
		}
	}

	return state
}

// assignSequences allocates identifier-sequence values for every assignment
// field still empty on the entity. Allocations run concurrently; any failure
// fails the step.
func (r *Resolver) assignSequences(ctx context.Context, inst *domain.Instance, outcome *model.Outcome) ([]string, error) {
	type slot struct {
		field string
		value string
	}

	var pending []*slot
	for _, field := range outcome.SequenceAssignment {
		e := r.intro.Element(field)
		if e == nil || e.IDSequence == "" {
			continue
		}
		if !inst.IsEmpty(field) {
			continue
		}
		pending = append(pending, &slot{field: field})
	}
	if len(pending) == 0 {
		return nil, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range pending {
		sequence := r.intro.Element(s.field).IDSequence
		g.Go(func() error {
			value, err := r.store.NextSequenceValue(gctx, sequence)
			if err != nil {
				return err
			}
			s.value = value
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	changed := make([]string, 0, len(pending))
	for _, s := range pending {
		if inst.Set(s.field, s.value) {
			changed = append(changed, s.field)
		}
	}
	return changed, nil
}
