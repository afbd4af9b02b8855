package executor

import (
	"errors"
	"testing"

	"github.com/wisbric/forgehost/pkg/store"
)

func seq(actionID string, order int, deps ...string) store.TemplateActionSequence {
	return store.TemplateActionSequence{ActionID: actionID, Order: order, Dependencies: deps}
}

func orderedIDs(seqs []store.TemplateActionSequence) []string {
	out := make([]string, len(seqs))
	for i, s := range seqs {
		out[i] = s.ActionID
	}
	return out
}

func TestTopoSort_NoDependencies_OrdersByFieldThenID(t *testing.T) {
	seqs := []store.TemplateActionSequence{
		seq("b", 1),
		seq("a", 1),
		seq("c", 0),
	}

	got, err := TopoSort(seqs)
	if err != nil {
		t.Fatalf("TopoSort() error = %v", err)
	}
	want := []string{"c", "a", "b"}
	if ids := orderedIDs(got); !equalStrings(ids, want) {
		t.Errorf("order = %v, want %v", ids, want)
	}
}

func TestTopoSort_RespectsDependencies(t *testing.T) {
	seqs := []store.TemplateActionSequence{
		seq("install_pip_requirements", 2, "create_python_venv"),
		seq("create_python_venv", 1, "generate_ssh_key"),
		seq("generate_ssh_key", 0),
	}

	got, err := TopoSort(seqs)
	if err != nil {
		t.Fatalf("TopoSort() error = %v", err)
	}
	want := []string{"generate_ssh_key", "create_python_venv", "install_pip_requirements"}
	if ids := orderedIDs(got); !equalStrings(ids, want) {
		t.Errorf("order = %v, want %v", ids, want)
	}
}

func TestTopoSort_DependencyOverridesOrderField(t *testing.T) {
	// "b" declares a lower order than "a" but depends on it, so it must
	// still come after "a" regardless of the explicit order field.
	seqs := []store.TemplateActionSequence{
		seq("a", 1),
		seq("b", 0, "a"),
	}

	got, err := TopoSort(seqs)
	if err != nil {
		t.Fatalf("TopoSort() error = %v", err)
	}
	want := []string{"a", "b"}
	if ids := orderedIDs(got); !equalStrings(ids, want) {
		t.Errorf("order = %v, want %v", ids, want)
	}
}

func TestTopoSort_UnknownDependencyIsIgnored(t *testing.T) {
	seqs := []store.TemplateActionSequence{
		seq("a", 0, "does_not_exist_in_template"),
	}

	got, err := TopoSort(seqs)
	if err != nil {
		t.Fatalf("TopoSort() error = %v", err)
	}
	if len(got) != 1 || got[0].ActionID != "a" {
		t.Errorf("got = %v, want single action a", orderedIDs(got))
	}
}

func TestTopoSort_CircularDependency(t *testing.T) {
	seqs := []store.TemplateActionSequence{
		seq("a", 0, "b"),
		seq("b", 1, "a"),
	}

	_, err := TopoSort(seqs)
	if err == nil {
		t.Fatal("TopoSort() expected an error for a circular dependency")
	}
	var cycleErr *ErrCircularDependency
	if !errors.As(err, &cycleErr) {
		t.Fatalf("error = %v, want *ErrCircularDependency", err)
	}
	if len(cycleErr.Remaining) != 2 {
		t.Errorf("Remaining = %v, want 2 entries", cycleErr.Remaining)
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
