// Package reconcile holds the shared VM data model and the diff engine that
// compares desired state (from the Git-declared configuration) against
// observed state (queried live from the hypervisor) and classifies the
// differences into a Plan.
package reconcile

import "sort"

// VMSpec is one desired VM, as declared in the repository's configuration.
type VMSpec struct {
	Name            string
	VMID            int
	ImageKind       string
	Cores           int
	Sockets         int
	MemoryMB        int
	DiskGB          int
	StorageLocation string
	DiskSlot        string
	NetworkBridge   string
	SCSIHW          string
	Protected       bool
	// CloudInitRef is the cloud-init storage reference, or "" when the VM
	// has no cloud-init drive.
	CloudInitRef string
}

// DeployedVM is one observed VM, as reported by the hypervisor.
type DeployedVM struct {
	VMID       int
	Name       string
	MemMB      int
	BootDiskGB float64
	Status     string
	PID        int
	Cores      int
	Sockets    int
}

// DesiredSet maps VM name to its desired spec.
type DesiredSet struct {
	VMs map[string]VMSpec `json:"vms"`
}

// ObservedSet maps VM name to its observed state.
type ObservedSet map[string]DeployedVM

// FieldChange is a tagged field that differs between desired and observed.
type FieldChange string

const (
	FieldMemory  FieldChange = "memory"
	FieldCores   FieldChange = "cores"
	FieldSockets FieldChange = "sockets"
	FieldDisk    FieldChange = "disk"
)

// FieldChangeSet is a non-empty set of changed fields, kept in a
// deterministic (sorted) order for logging and testing.
type FieldChangeSet []FieldChange

var fieldOrder = map[FieldChange]int{
	FieldMemory:  0,
	FieldCores:   1,
	FieldSockets: 2,
	FieldDisk:    3,
}

func (s FieldChangeSet) has(f FieldChange) bool {
	for _, c := range s {
		if c == f {
			return true
		}
	}
	return false
}

func (s FieldChangeSet) sorted() FieldChangeSet {
	out := append(FieldChangeSet(nil), s...)
	sort.Slice(out, func(i, j int) bool { return fieldOrder[out[i]] < fieldOrder[out[j]] })
	return out
}

// UpdateAction is the action the reconciler takes for a ToUpdate entry.
type UpdateAction string

const (
	ActionInPlace   UpdateAction = "in_place"
	ActionRebuild   UpdateAction = "rebuild"
	ActionProtected UpdateAction = "protected"
)

// VMUpdate describes one planned in-place mutation, rebuild, or blocked
// update for an existing VM.
type VMUpdate struct {
	Name    string
	Spec    VMSpec
	Changed FieldChangeSet
	Action  UpdateAction
}

// Plan is the computed transformation from observed to desired state,
// partitioned into three ordered, disjoint-by-name sequences.
type Plan struct {
	ToCreate []VMSpec
	ToUpdate []VMUpdate
	ToDelete []DeployedVM
}

// BuiltImages maps an image kind name to the absolute path of its built
// disk image.
type BuiltImages map[string]string
