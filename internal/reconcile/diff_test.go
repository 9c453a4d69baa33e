package reconcile

import (
	"reflect"
	"testing"
)

func webSpec() VMSpec {
	return VMSpec{
		Name:      "web",
		VMID:      100,
		ImageKind: "web",
		MemoryMB:  2048,
		Cores:     2,
		Sockets:   1,
		DiskGB:    20,
		Protected: false,
	}
}

func webObserved(spec VMSpec) DeployedVM {
	return DeployedVM{
		VMID:       spec.VMID,
		Name:       spec.Name,
		MemMB:      spec.MemoryMB,
		BootDiskGB: float64(spec.DiskGB),
		Cores:      spec.Cores,
		Sockets:    spec.Sockets,
		Status:     "running",
	}
}

// S1 — create path: desired VM missing from observed goes to ToCreate.
func TestDiffCreate(t *testing.T) {
	desired := DesiredSet{VMs: map[string]VMSpec{"web": webSpec()}}
	plan := Diff(desired, ObservedSet{})

	if len(plan.ToCreate) != 1 || plan.ToCreate[0].Name != "web" {
		t.Fatalf("ToCreate = %#v, want [web]", plan.ToCreate)
	}
	if len(plan.ToUpdate) != 0 || len(plan.ToDelete) != 0 {
		t.Fatalf("expected no updates/deletes, got %#v", plan)
	}
}

// S2 — in-place memory bump.
func TestDiffInPlaceMemory(t *testing.T) {
	spec := webSpec()
	observed := webObserved(spec)
	spec.MemoryMB = 4096
	desired := DesiredSet{VMs: map[string]VMSpec{"web": spec}}

	plan := Diff(desired, ObservedSet{"web": observed})

	if len(plan.ToUpdate) != 1 {
		t.Fatalf("ToUpdate = %#v, want 1 entry", plan.ToUpdate)
	}
	u := plan.ToUpdate[0]
	if u.Action != ActionInPlace {
		t.Fatalf("action = %v, want InPlace", u.Action)
	}
	if !reflect.DeepEqual(u.Changed, FieldChangeSet{FieldMemory}) {
		t.Fatalf("changed = %v, want [memory]", u.Changed)
	}
}

// S3 — disk change triggers rebuild.
func TestDiffDiskTriggersRebuild(t *testing.T) {
	spec := webSpec()
	observed := webObserved(spec)
	spec.DiskGB = 40
	desired := DesiredSet{VMs: map[string]VMSpec{"web": spec}}

	plan := Diff(desired, ObservedSet{"web": observed})

	if len(plan.ToUpdate) != 1 || plan.ToUpdate[0].Action != ActionRebuild {
		t.Fatalf("ToUpdate = %#v, want single Rebuild entry", plan.ToUpdate)
	}
}

// S4 — protected blocks mutation.
func TestDiffProtectedBlocksMutation(t *testing.T) {
	spec := webSpec()
	spec.Protected = true
	observed := webObserved(spec)
	spec.MemoryMB = 8192
	desired := DesiredSet{VMs: map[string]VMSpec{"web": spec}}

	plan := Diff(desired, ObservedSet{"web": observed})

	if len(plan.ToUpdate) != 1 || plan.ToUpdate[0].Action != ActionProtected {
		t.Fatalf("ToUpdate = %#v, want single Protected entry", plan.ToUpdate)
	}
}

// S5 — mixed plan: a unchanged, b created, c deleted.
func TestDiffMixedPlan(t *testing.T) {
	a := VMSpec{Name: "a", VMID: 101, MemoryMB: 1024, Cores: 1, Sockets: 1, DiskGB: 10}
	b := VMSpec{Name: "b", VMID: 102, MemoryMB: 1024, Cores: 1, Sockets: 1, DiskGB: 10}
	desired := DesiredSet{VMs: map[string]VMSpec{"a": a, "b": b}}
	observed := ObservedSet{
		"a": webObserved(a),
		"c": {VMID: 999, Name: "c", MemMB: 512, BootDiskGB: 5, Cores: 1, Sockets: 1},
	}

	plan := Diff(desired, observed)

	if len(plan.ToCreate) != 1 || plan.ToCreate[0].Name != "b" {
		t.Fatalf("ToCreate = %#v, want [b]", plan.ToCreate)
	}
	if len(plan.ToDelete) != 1 || plan.ToDelete[0].Name != "c" {
		t.Fatalf("ToDelete = %#v, want [c]", plan.ToDelete)
	}
	if len(plan.ToUpdate) != 0 {
		t.Fatalf("ToUpdate = %#v, want none", plan.ToUpdate)
	}
}

// Invariant: pure function, equal inputs produce equal outputs.
func TestDiffIsPure(t *testing.T) {
	spec := webSpec()
	desired := DesiredSet{VMs: map[string]VMSpec{"web": spec}}
	observed := ObservedSet{"web": webObserved(spec)}
	observed["web"] = DeployedVM{VMID: 100, Name: "web", MemMB: 1024, BootDiskGB: 20, Cores: 2, Sockets: 1}

	p1 := Diff(desired, observed)
	p2 := Diff(desired, observed)
	if !reflect.DeepEqual(p1, p2) {
		t.Fatalf("Diff not pure: %#v != %#v", p1, p2)
	}
}

// Invariant: the three output sequences are pairwise disjoint by name.
func TestDiffOutputsDisjoint(t *testing.T) {
	spec := webSpec()
	desired := DesiredSet{VMs: map[string]VMSpec{"web": spec}}
	observed := ObservedSet{"web": {VMID: 100, Name: "web", MemMB: 1, BootDiskGB: 1, Cores: 1, Sockets: 1}}

	plan := Diff(desired, observed)

	names := map[string]int{}
	for _, v := range plan.ToCreate {
		names[v.Name]++
	}
	for _, u := range plan.ToUpdate {
		names[u.Name]++
	}
	for _, v := range plan.ToDelete {
		names[v.Name]++
	}
	for name, count := range names {
		if count > 1 {
			t.Fatalf("name %q appears in %d output sequences", name, count)
		}
	}
}

// Invariant: action classification follows protected > rebuild > in-place.
func TestDiffActionClassification(t *testing.T) {
	cases := []struct {
		name      string
		protected bool
		diskDiff  bool
		want      UpdateAction
	}{
		{"in place", false, false, ActionInPlace},
		{"rebuild", false, true, ActionRebuild},
		{"protected wins over rebuild", true, true, ActionProtected},
		{"protected wins with no disk change", true, false, ActionProtected},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			spec := webSpec()
			spec.Protected = tc.protected
			observed := webObserved(spec)
			spec.MemoryMB += 512
			if tc.diskDiff {
				spec.DiskGB += 20
			}
			desired := DesiredSet{VMs: map[string]VMSpec{"web": spec}}
			plan := Diff(desired, ObservedSet{"web": observed})
			if len(plan.ToUpdate) != 1 {
				t.Fatalf("ToUpdate = %#v, want 1 entry", plan.ToUpdate)
			}
			if got := plan.ToUpdate[0].Action; got != tc.want {
				t.Fatalf("action = %v, want %v", got, tc.want)
			}
		})
	}
}

// Invariant: diff(desired, desired-as-observed) is empty.
func TestDiffIdempotentWhenRealityMatches(t *testing.T) {
	a := VMSpec{Name: "a", VMID: 1, MemoryMB: 512, Cores: 1, Sockets: 1, DiskGB: 8}
	b := VMSpec{Name: "b", VMID: 2, MemoryMB: 1024, Cores: 2, Sockets: 1, DiskGB: 16}
	desired := DesiredSet{VMs: map[string]VMSpec{"a": a, "b": b}}
	observed := ObservedSet{"a": webObserved(a), "b": webObserved(b)}

	plan := Diff(desired, observed)

	if len(plan.ToCreate) != 0 || len(plan.ToUpdate) != 0 || len(plan.ToDelete) != 0 {
		t.Fatalf("expected empty plan, got %#v", plan)
	}
}

// Invariant: every ToUpdate entry has a non-empty changed-field set.
func TestDiffUpdateChangedFieldsNeverEmpty(t *testing.T) {
	spec := webSpec()
	observed := webObserved(spec)
	spec.Sockets = 2
	desired := DesiredSet{VMs: map[string]VMSpec{"web": spec}}

	plan := Diff(desired, ObservedSet{"web": observed})

	for _, u := range plan.ToUpdate {
		if len(u.Changed) == 0 {
			t.Fatalf("update %q has empty changed-field set", u.Name)
		}
	}
}
