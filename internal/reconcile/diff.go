package reconcile

import "sort"

// Diff computes the Plan to bring observed state into agreement with
// desired state. It is a pure function: repeated calls with equal inputs
// produce byte-equal (field-for-field equal) outputs, since both maps are
// walked in a stable, name-sorted order.
func Diff(desired DesiredSet, observed ObservedSet) Plan {
	var plan Plan

	names := make([]string, 0, len(desired.VMs))
	for name := range desired.VMs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		spec := desired.VMs[name]
		dvm, ok := observed[name]
		if !ok {
			plan.ToCreate = append(plan.ToCreate, spec)
			continue
		}

		var changed FieldChangeSet
		if spec.MemoryMB != dvm.MemMB {
			changed = append(changed, FieldMemory)
		}
		if float64(spec.DiskGB) != dvm.BootDiskGB {
			changed = append(changed, FieldDisk)
		}
		if spec.Cores != dvm.Cores {
			changed = append(changed, FieldCores)
		}
		if spec.Sockets != dvm.Sockets {
			changed = append(changed, FieldSockets)
		}
		if len(changed) == 0 {
			continue
		}

		changed = changed.sorted()
		action := ActionInPlace
		switch {
		case spec.Protected:
			action = ActionProtected
		case changed.has(FieldDisk):
			action = ActionRebuild
		}
		plan.ToUpdate = append(plan.ToUpdate, VMUpdate{
			Name:    name,
			Spec:    spec,
			Changed: changed,
			Action:  action,
		})
	}

	deletedNames := make([]string, 0, len(observed))
	for name := range observed {
		if _, ok := desired.VMs[name]; !ok {
			deletedNames = append(deletedNames, name)
		}
	}
	sort.Strings(deletedNames)
	for _, name := range deletedNames {
		plan.ToDelete = append(plan.ToDelete, observed[name])
	}

	return plan
}
