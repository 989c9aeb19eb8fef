package validation

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nickerso/physiome-coko/internal/domain"
)

func testInstance() *domain.Instance {
	inst := domain.NewInstance(time.Date(2021, 6, 1, 9, 0, 0, 0, time.UTC))
	inst.Set("title", "Cardiac electrophysiology model")
	inst.Set("abstract", "   ")
	inst.Set("phase", "pending")
	return inst
}

func TestEvaluate_CollectsFailures(t *testing.T) {
	t.Parallel()

	set := &Set{
		Form:    "submission",
		Outcome: "submit",
		Checks: []Condition{
			{Field: "title", Op: OpNonEmpty, Message: "title required"},
			{Field: "abstract", Op: OpNonEmpty, Message: "abstract required"},
			{Field: "phase", Op: OpEquals, Value: "pending", Message: "wrong phase"},
			{Field: "missing", Op: OpPresent, Message: "missing field"},
		},
	}

	failures := set.Evaluate(testInstance())

	want := map[string]bool{"abstract required": true, "missing field": true}
	if len(failures) != len(want) {
		t.Fatalf("failures: got %v", failures)
	}
	for _, f := range failures {
		if !want[f] {
			t.Errorf("unexpected failure %q", f)
		}
	}
}

func TestEvaluate_DottedPathThroughRelation(t *testing.T) {
	t.Parallel()

	curator := domain.NewInstance(time.Now().UTC())
	curator.Set("displayName", "A Curator")

	inst := testInstance()
	inst.Fields["curator"] = curator

	set := &Set{Checks: []Condition{
		{Field: "curator.displayName", Op: OpNonEmpty, Message: "curator name required"},
		{Field: "curator.email", Op: OpPresent, Message: "curator email required"},
	}}

	failures := set.Evaluate(inst)
	if len(failures) != 1 || failures[0] != "curator email required" {
		t.Errorf("failures: got %v", failures)
	}
}

func TestEvaluate_NotEqual(t *testing.T) {
	t.Parallel()

	set := &Set{Checks: []Condition{
		{Field: "phase", Op: OpNotEqual, Value: "cancelled", Message: "already cancelled"},
	}}

	if failures := set.Evaluate(testInstance()); len(failures) != 0 {
		t.Errorf("failures: got %v", failures)
	}

	inst := testInstance()
	inst.Set("phase", "cancelled")
	if failures := set.Evaluate(inst); len(failures) != 1 {
		t.Errorf("failures: got %v", failures)
	}
}

func TestRegistry_Lookup(t *testing.T) {
	t.Parallel()

	set := &Set{Form: "curation", Outcome: "publish"}
	reg := NewRegistry(set)

	if got := reg.Lookup("curation", "publish"); got != set {
		t.Errorf("lookup: got %v", got)
	}
	if got := reg.Lookup("curation", "reject"); got != nil {
		t.Errorf("unknown outcome: got %v", got)
	}

	var nilReg *Registry
	if got := nilReg.Lookup("curation", "publish"); got != nil {
		t.Errorf("nil registry: got %v", got)
	}
}

func TestLoadFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "validations.json")

	sets := []*Set{{
		Form:     "submission",
		Outcome:  "submit",
		Bindings: []string{"submitter"},
		Checks:   []Condition{{Field: "title", Op: OpNonEmpty, Message: "title required"}},
	}}
	raw, err := json.Marshal(sets)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	reg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	set := reg.Lookup("submission", "submit")
	if set == nil || len(set.Checks) != 1 {
		t.Fatalf("loaded set: %+v", set)
	}
}

func TestLoadFile_MissingFileIsEmptyRegistry(t *testing.T) {
	t.Parallel()

	reg, err := LoadFile(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := reg.Lookup("any", "thing"); got != nil {
		t.Errorf("lookup on empty registry: got %v", got)
	}
}
