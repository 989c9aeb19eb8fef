package resolve

import (
	"context"
	"log/slog"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/nickerso/physiome-coko/internal/acl"
	"github.com/nickerso/physiome-coko/internal/adapter/postgres/instance"
	"github.com/nickerso/physiome-coko/internal/domain"
	"github.com/nickerso/physiome-coko/internal/model"
	"github.com/nickerso/physiome-coko/internal/validation"
	"github.com/nickerso/physiome-coko/internal/workflow"
)

func boolPtr(b bool) *bool { return &b }
func intPtr(i int) *int    { return &i }

func testLogger() *slog.Logger { return slog.Default() }

// submissionDefinition builds the editorial test model: a state machine over
// phase/hidden, an owner link, a curator relation and a manuscript sequence.
func submissionDefinition() *model.Definition {
	return &model.Definition{
		Name:       "Submission",
		Input:      true,
		ProcessKey: "submission-process",
		ACL:        submissionPolicy(),
		Elements: []*model.Element{
			{Field: "title", Type: "String"},
			{Field: "abstract", Type: "String"},
			{Field: "phase", Type: "SubmissionPhase", State: true, Input: boolPtr(false),
				ListingFilter: true, ListingFilterMultiple: true,
				DefaultEnum: "SubmissionPhase", DefaultEnumKey: "Pending"},
			{Field: "hidden", Type: "Boolean", State: true, Input: boolPtr(false), ListingFilter: true},
			{Field: "manuscriptId", Type: "String", Input: boolPtr(false), IDSequence: "manuscript_id_seq"},
			{Field: "publishDate", Type: "DateTime", Input: boolPtr(false)},
			{Field: "created", Type: "DateTime", Input: boolPtr(false), ListingSortable: true},
			{Field: "submitter", Type: "Identity", Owner: true, Input: boolPtr(false), JoinField: "submitterId"},
			{Field: "curator", Type: "Identity", Relation: true, Input: boolPtr(false), JoinField: "curatorId"},
			{Type: "String"}, // no field name, must be ignored
		},
		Enums: map[string]*model.Enum{
			"SubmissionPhase": {Values: map[string]any{
				"Pending":   "pending",
				"Submitted": "submitted",
				"Published": "published",
				"Cancelled": "cancelled",
			}},
		},
		Forms: []*model.Form{
			{
				Form: "submission",
				Outcomes: []*model.Outcome{
					{
						Type:                       "submit",
						Result:                     model.OutcomeResultComplete,
						RequiresValidatedSubmitter: true,
						State: map[string]*model.StateChange{
							"phase": {Type: model.StateChangeEnum, Value: "SubmissionPhase.Submitted"},
						},
					},
					{Type: "park", Result: "Save"},
				},
			},
			{
				Form: "curation",
				Outcomes: []*model.Outcome{
					{
						Type:   "publish",
						Result: model.OutcomeResultComplete,
						State: map[string]*model.StateChange{
							"phase":  {Type: model.StateChangeEnum, Value: "SubmissionPhase.Published"},
							"hidden": {Type: model.StateChangeSimple, Value: false},
						},
						SequenceAssignment: []string{"manuscriptId"},
						DateAssignments:    []*model.DateAssignment{{Field: "publishDate"}},
					},
				},
			},
		},
	}
}

func submissionPolicy() *acl.Policy {
	return &acl.Policy{
		Name: "submission-policy",
		Rules: []*acl.Rule{
			{
				Description:  "administrators see and manage everything",
				Actions:      []acl.Action{acl.ActionAccess, acl.ActionRead, acl.ActionWrite, acl.ActionCreate, acl.ActionDestroy, acl.ActionTask},
				Targets:      []acl.Target{acl.TargetAdministrator},
				Allow:        true,
				Restrictions: []string{acl.RestrictionAll},
			},
			{
				Description:  "owners work on their own submissions",
				Actions:      []acl.Action{acl.ActionAccess, acl.ActionRead, acl.ActionDestroy, acl.ActionTask},
				Targets:      []acl.Target{acl.TargetOwner},
				Allow:        true,
				Restrictions: []string{acl.RestrictionOwner},
			},
			{
				Description: "owners edit the manuscript fields",
				Actions:     []acl.Action{acl.ActionWrite},
				Targets:     []acl.Target{acl.TargetOwner},
				Allow:       true,
				Fields:      []string{"title", "abstract"},
			},
			{
				Description: "authenticated users start submissions",
				Actions:     []acl.Action{acl.ActionCreate},
				Targets:     []acl.Target{acl.TargetUser},
				Allow:       true,
			},
		},
	}
}

func identityDefinition() *model.Definition {
	return &model.Definition{
		Name: "Identity",
		Elements: []*model.Element{
			{Field: "email", Type: "String", Input: boolPtr(false)},
			{Field: "displayName", Type: "String"},
		},
	}
}

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

type storeMock struct {
	proj *instance.Store // real projection-column logic, no pool access

	GetFunc               func(ctx context.Context, id uuid.UUID, fields []string, eager []model.EagerSpec) (*domain.Instance, error)
	GetByIDsFunc          func(ctx context.Context, ids []uuid.UUID, fields []string) (map[uuid.UUID]*domain.Instance, error)
	SelectFunc            func(ctx context.Context, b squirrel.SelectBuilder, eager []model.EagerSpec) ([]*domain.Instance, int, error)
	InsertFunc            func(ctx context.Context, inst *domain.Instance) error
	UpdateFunc            func(ctx context.Context, inst *domain.Instance, changed []string) error
	NextSequenceValueFunc func(ctx context.Context, sequence string) (string, error)

	insertCalls   []*domain.Instance
	updateCalls   [][]string
	sequenceCalls []string
}

func newStoreMock(def *model.Definition) *storeMock {
	return &storeMock{
		proj: instance.New(nil, model.Introspect(def), instance.NewRegistry()),
	}
}

func (m *storeMock) Get(ctx context.Context, id uuid.UUID, fields []string, eager []model.EagerSpec) (*domain.Instance, error) {
	return m.GetFunc(ctx, id, fields, eager)
}

func (m *storeMock) GetByIDs(ctx context.Context, ids []uuid.UUID, fields []string) (map[uuid.UUID]*domain.Instance, error) {
	if m.GetByIDsFunc != nil {
		return m.GetByIDsFunc(ctx, ids, fields)
	}
	byID := map[uuid.UUID]*domain.Instance{}
	for _, id := range ids {
		inst, err := m.GetFunc(ctx, id, fields, nil)
		if err != nil {
			continue
		}
		byID[id] = inst
	}
	return byID, nil
}

func (m *storeMock) Select(ctx context.Context, b squirrel.SelectBuilder, eager []model.EagerSpec) ([]*domain.Instance, int, error) {
	return m.SelectFunc(ctx, b, eager)
}

func (m *storeMock) ProjectionColumns(fields []string) []string {
	return m.proj.ProjectionColumns(fields)
}

func (m *storeMock) Insert(ctx context.Context, inst *domain.Instance) error {
	m.insertCalls = append(m.insertCalls, inst)
	if m.InsertFunc != nil {
		return m.InsertFunc(ctx, inst)
	}
	return nil
}

func (m *storeMock) Update(ctx context.Context, inst *domain.Instance, changed []string) error {
	m.updateCalls = append(m.updateCalls, changed)
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, inst, changed)
	}
	return nil
}

func (m *storeMock) NextSequenceValue(ctx context.Context, sequence string) (string, error) {
	m.sequenceCalls = append(m.sequenceCalls, sequence)
	if m.NextSequenceValueFunc != nil {
		return m.NextSequenceValueFunc(ctx, sequence)
	}
	return "S000042", nil
}

func (m *storeMock) Table() string { return m.proj.Table() }

type engineMock struct {
	StartProcessFunc   func(ctx context.Context, key, businessKey string, instructions []workflow.StartInstruction, variables workflow.Variables) error
	ListTasksFunc      func(ctx context.Context, businessKey string) ([]workflow.Task, error)
	FindInstanceFunc   func(ctx context.Context, businessKey string) (*workflow.ProcessInstance, error)
	DeleteInstanceFunc func(ctx context.Context, instanceID string) error
	CompleteTaskFunc   func(ctx context.Context, taskID string, variables workflow.Variables) error

	startCalls    []string
	deleteCalls   []string
	completeCalls []workflow.Variables
}

func (m *engineMock) StartProcess(ctx context.Context, key, businessKey string, instructions []workflow.StartInstruction, variables workflow.Variables) error {
	m.startCalls = append(m.startCalls, businessKey)
	if m.StartProcessFunc != nil {
		return m.StartProcessFunc(ctx, key, businessKey, instructions, variables)
	}
	return nil
}

func (m *engineMock) ListTasks(ctx context.Context, businessKey string) ([]workflow.Task, error) {
	if m.ListTasksFunc != nil {
		return m.ListTasksFunc(ctx, businessKey)
	}
	return []workflow.Task{}, nil
}

func (m *engineMock) FindInstance(ctx context.Context, businessKey string) (*workflow.ProcessInstance, error) {
	if m.FindInstanceFunc != nil {
		return m.FindInstanceFunc(ctx, businessKey)
	}
	return nil, nil
}

func (m *engineMock) DeleteInstance(ctx context.Context, instanceID string) error {
	m.deleteCalls = append(m.deleteCalls, instanceID)
	if m.DeleteInstanceFunc != nil {
		return m.DeleteInstanceFunc(ctx, instanceID)
	}
	return nil
}

func (m *engineMock) CompleteTask(ctx context.Context, taskID string, variables workflow.Variables) error {
	m.completeCalls = append(m.completeCalls, variables)
	if m.CompleteTaskFunc != nil {
		return m.CompleteTaskFunc(ctx, taskID, variables)
	}
	return nil
}

type busMock struct {
	published []struct {
		Topic   string
		Payload map[string]any
	}
	PublishFunc func(ctx context.Context, topic string, payload map[string]any) error
}

func (m *busMock) Publish(ctx context.Context, topic string, payload map[string]any) error {
	m.published = append(m.published, struct {
		Topic   string
		Payload map[string]any
	}{topic, payload})
	if m.PublishFunc != nil {
		return m.PublishFunc(ctx, topic, payload)
	}
	return nil
}

type identityResolverMock struct {
	identity *domain.Identity
	err      error
}

func (m *identityResolverMock) Resolve(context.Context) (*domain.Identity, error) {
	return m.identity, m.err
}

// testEnv bundles one resolver with its mocks.
type testEnv struct {
	resolver *Resolver
	store    *storeMock
	engine   *engineMock
	bus      *busMock
}

func newTestEnv(def *model.Definition, identity *domain.Identity, validators *validation.Registry) *testEnv {
	store := newStoreMock(def)
	engine := &engineMock{}
	bus := &busMock{}

	r := New(def, store, engine, bus, &identityResolverMock{identity: identity}, validators, NewRegistry(), slog.Default())
	r.now = func() time.Time { return time.Date(2021, 6, 15, 12, 0, 0, 0, time.UTC) }

	return &testEnv{resolver: r, store: store, engine: engine, bus: bus}
}

func adminIdentity() *domain.Identity {
	return &domain.Identity{
		ID:            uuid.New(),
		Email:         "admin@example.org",
		EmailVerified: true,
		Groups:        []string{domain.GroupAdministrator},
	}
}

func ownerIdentity() *domain.Identity {
	return &domain.Identity{
		ID:            uuid.New(),
		Email:         "owner@example.org",
		EmailVerified: true,
	}
}

func submissionInstance(owner *domain.Identity) *domain.Instance {
	inst := domain.NewInstance(time.Date(2021, 6, 1, 9, 0, 0, 0, time.UTC))
	inst.Set("title", "Cardiac electrophysiology model")
	inst.Set("phase", "pending")
	if owner != nil {
		inst.Set("submitterId", owner.ID)
	}
	return inst
}
