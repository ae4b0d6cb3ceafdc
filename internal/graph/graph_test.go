package graph

import (
	"errors"
	"slices"
	"testing"
)

func network(t *testing.T) *Graph[string] {
	t.Helper()
	g := New[string]()
	decls := []struct {
		key  string
		deps []string
	}{
		{"rg", nil},
		{"network", []string{"rg"}},
		{"subnet", []string{"network"}},
		{"ip", []string{"rg"}},
		{"nic", []string{"subnet", "ip"}},
		{"vm", []string{"nic"}},
	}
	for _, d := range decls {
		if _, err := g.Add(d.key, d.key, d.deps...); err != nil {
			t.Fatalf("Add(%s) failed: %v", d.key, err)
		}
	}
	return g
}

func TestAddRejectsForwardReference(t *testing.T) {
	g := New[string]()
	_, err := g.Add("nic", "nic", "subnet")

	var missing *MissingRefError
	if !errors.As(err, &missing) {
		t.Fatalf("Expected MissingRefError, got %v", err)
	}
	if missing.From != "nic" || missing.To != "subnet" {
		t.Errorf("Unexpected error fields: %+v", missing)
	}
	if g.Len() != 0 {
		t.Errorf("Rejected node must not be stored, got %d nodes", g.Len())
	}
}

func TestAddRejectsDuplicate(t *testing.T) {
	g := New[string]()
	if _, err := g.Add("rg", "rg"); err != nil {
		t.Fatal(err)
	}
	var dup *DuplicateError
	if _, err := g.Add("rg", "rg"); !errors.As(err, &dup) {
		t.Errorf("Expected DuplicateError, got %v", err)
	}
}

func TestTopoOrderPutsDependenciesFirst(t *testing.T) {
	g := network(t)
	if err := g.Validate(); err != nil {
		t.Fatalf("Validate() failed: %v", err)
	}
	order, err := g.TopoOrder()
	if err != nil {
		t.Fatal(err)
	}

	pos := make(map[string]int)
	for p, i := range order {
		pos[g.Node(i).Key] = p
	}
	for _, n := range g.Nodes() {
		for _, d := range n.Deps {
			if pos[g.Node(d).Key] >= pos[n.Key] {
				t.Errorf("%s must come after %s", n.Key, g.Node(d).Key)
			}
		}
	}
}

func TestReverseOrderPutsVMFirst(t *testing.T) {
	g := network(t)
	order, err := g.ReverseOrder()
	if err != nil {
		t.Fatal(err)
	}
	if g.Node(order[0]).Key != "vm" {
		t.Errorf("Expected vm to be torn down first, got %s", g.Node(order[0]).Key)
	}
	if g.Node(order[len(order)-1]).Key != "rg" {
		t.Errorf("Expected rg to be torn down last, got %s", g.Node(order[len(order)-1]).Key)
	}
}

func TestValidateDetectsCycle(t *testing.T) {
	g := New[string]()
	for _, d := range []struct {
		key, dep string
	}{{"a", "c"}, {"b", "a"}, {"c", "b"}} {
		if _, err := g.AddUnchecked(d.key, d.key, d.dep); err != nil {
			t.Fatal(err)
		}
	}
	if err := g.Validate(); !errors.Is(err, ErrCycle) {
		t.Errorf("Expected ErrCycle, got %v", err)
	}
}

func TestValidateDetectsDanglingReference(t *testing.T) {
	g := New[string]()
	if _, err := g.AddUnchecked("vm", "vm", "nic"); err != nil {
		t.Fatal(err)
	}
	var missing *MissingRefError
	if err := g.Validate(); !errors.As(err, &missing) {
		t.Errorf("Expected MissingRefError, got %v", err)
	}
}

func TestTransitiveDependents(t *testing.T) {
	g := network(t)
	ip, _ := g.Lookup("ip")

	var keys []string
	for _, i := range g.TransitiveDependents(ip.Index) {
		keys = append(keys, g.Node(i).Key)
	}
	if !slices.Equal(keys, []string{"nic", "vm"}) {
		t.Errorf("Expected [nic vm], got %v", keys)
	}

	vm, _ := g.Lookup("vm")
	if deps := g.TransitiveDependents(vm.Index); len(deps) != 0 {
		t.Errorf("Expected no dependents of vm, got %v", deps)
	}
}
