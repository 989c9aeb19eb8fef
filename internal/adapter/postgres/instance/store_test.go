package instance

import (
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nickerso/physiome-coko/internal/model"
)

func boolPtr(b bool) *bool { return &b }

func testIntrospection() *model.Introspection {
	return model.Introspect(&model.Definition{
		Name:  "Submission",
		Input: true,
		Elements: []*model.Element{
			{Field: "title", Type: "String"},
			{Field: "phase", Type: "SubmissionPhase", State: true, Input: boolPtr(false)},
			{Field: "manuscriptId", Type: "String", IDSequence: "manuscript_id_seq"},
			{Field: "submitter", Type: "Identity", Owner: true, JoinField: "submitterId"},
			{Field: "curator", Type: "Identity", Relation: true, JoinField: "curatorId"},
		},
	})
}

func newTestStore() *Store {
	return New(nil, testIntrospection(), NewRegistry())
}

func TestProjectionColumns_FixedAndOwnerColumnsAlwaysPresent(t *testing.T) {
	t.Parallel()

	s := newTestStore()

	cols := s.ProjectionColumns([]string{"title"})
	want := []string{"id", "created", "updated", "submitter_id", "title"}
	if !reflect.DeepEqual(cols, want) {
		t.Errorf("columns: got %v, want %v", cols, want)
	}
}

func TestProjectionColumns_RelationKeepsJoinColumnOnly(t *testing.T) {
	t.Parallel()

	s := newTestStore()

	cols := s.ProjectionColumns([]string{"curator", "phase"})
	want := []string{"id", "created", "updated", "submitter_id", "curator_id", "phase"}
	if !reflect.DeepEqual(cols, want) {
		t.Errorf("columns: got %v, want %v", cols, want)
	}
}

func TestProjectionColumns_NilMeansAllReadable(t *testing.T) {
	t.Parallel()

	s := newTestStore()

	cols := s.ProjectionColumns(nil)
	for _, want := range []string{"id", "created", "updated", "title", "phase", "manuscript_id", "submitter_id", "curator_id"} {
		found := false
		for _, c := range cols {
			if c == want {
				found = true
			}
		}
		if !found {
			t.Errorf("columns %v should include %s", cols, want)
		}
	}
}

func TestProjectionColumns_UnknownFieldsSkipped(t *testing.T) {
	t.Parallel()

	s := newTestStore()

	cols := s.ProjectionColumns([]string{"nonsense"})
	want := []string{"id", "created", "updated", "submitter_id"}
	if !reflect.DeepEqual(cols, want) {
		t.Errorf("columns: got %v, want %v", cols, want)
	}
}

func TestFromRow_FixedColumnsCountAndFieldMapping(t *testing.T) {
	t.Parallel()

	s := newTestStore()
	id := uuid.New()
	ownerID := uuid.New()
	created := time.Date(2021, 6, 1, 9, 0, 0, 0, time.UTC)

	inst, count, err := s.fromRow(map[string]any{
		"id":                  id,
		"created":             created,
		"updated":             created.Add(time.Hour),
		"title":               "A title",
		"manuscript_id":       "S000042",
		"submitter_id":        ownerID,
		"internal_full_count": int64(5),
	})
	if err != nil {
		t.Fatalf("fromRow: %v", err)
	}

	if inst.ID != id {
		t.Errorf("id: got %v, want %v", inst.ID, id)
	}
	if !inst.Created.Equal(created) || !inst.Updated.Equal(created.Add(time.Hour)) {
		t.Errorf("timestamps: got %v / %v", inst.Created, inst.Updated)
	}
	if count != 5 {
		t.Errorf("count: got %d, want 5", count)
	}
	if v, _ := inst.Get("title"); v != "A title" {
		t.Errorf("title: got %v", v)
	}
	if v, _ := inst.Get("manuscriptId"); v != "S000042" {
		t.Errorf("manuscriptId: got %v", v)
	}
	// join columns surface under the join field name
	if v, _ := inst.Get("submitterId"); v != ownerID {
		t.Errorf("submitterId: got %v, want %v", v, ownerID)
	}
}

func TestFromRow_UUIDByteArrayNormalized(t *testing.T) {
	t.Parallel()

	s := newTestStore()
	id := uuid.New()

	inst, _, err := s.fromRow(map[string]any{"id": [16]byte(id)})
	if err != nil {
		t.Fatalf("fromRow: %v", err)
	}
	if inst.ID != id {
		t.Errorf("id: got %v, want %v", inst.ID, id)
	}
}

func TestJoinElementTo(t *testing.T) {
	t.Parallel()

	s := newTestStore()

	e := s.joinElementTo("Identity")
	if e == nil || e.Field != "submitter" {
		t.Fatalf("join element: got %+v, want the submitter owner link", e)
	}
	if s.joinElementTo("Nonexistent") != nil {
		t.Error("unknown types have no join element")
	}
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	s := New(nil, testIntrospection(), reg)

	if got := reg.Store("Submission"); got != s {
		t.Errorf("store: got %v, want the registered store", got)
	}
	if reg.Store("Unknown") != nil {
		t.Error("unknown types have no store")
	}
	if s.Table() != "submission" {
		t.Errorf("table: got %q, want submission", s.Table())
	}
}
