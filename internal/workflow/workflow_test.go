package workflow

import (
	"reflect"
	"testing"
)

func TestFromState_ForwardsScalars(t *testing.T) {
	t.Parallel()

	vars := FromState(map[string]any{
		"phase":   "published",
		"version": 3,
		"score":   1.5,
		"note":    nil,
	})

	want := Variables{
		"phase":   {Value: "published"},
		"version": {Value: 3},
		"score":   {Value: 1.5},
		"note":    {Value: nil},
	}
	if !reflect.DeepEqual(vars, want) {
		t.Errorf("variables: got %v, want %v", vars, want)
	}
}

func TestFromState_DropsNonScalarsSilently(t *testing.T) {
	t.Parallel()

	vars := FromState(map[string]any{
		"phase":   "published",
		"tags":    []string{"a", "b"},
		"meta":    map[string]any{"k": "v"},
		"hidden":  true,
		"pointer": &struct{}{},
	})

	if len(vars) != 1 {
		t.Fatalf("variables: got %v, want only phase", vars)
	}
	if vars["phase"].Value != "published" {
		t.Errorf("phase: got %v", vars["phase"])
	}
}

func TestTask_WithoutLinks(t *testing.T) {
	t.Parallel()

	task := Task{
		ID:                "t1",
		TaskDefinitionKey: "curation-task",
		Links:             []Link{{Rel: "self", Href: "http://engine/task/t1"}},
	}

	stripped := task.WithoutLinks()
	if stripped.Links != nil {
		t.Error("links must be stripped")
	}
	if task.Links == nil {
		t.Error("the original task must stay untouched")
	}
	if stripped.ID != "t1" || stripped.TaskDefinitionKey != "curation-task" {
		t.Errorf("task data must survive: %+v", stripped)
	}
}

func TestStartAfterActivity(t *testing.T) {
	t.Parallel()

	in := StartAfterActivity("CurationActivity")
	if in.Type != "startAfterActivity" || in.ActivityID != "CurationActivity" {
		t.Errorf("instruction: %+v", in)
	}
}
