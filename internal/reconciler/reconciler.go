// Package reconciler executes a Plan against the hypervisor: it creates,
// deletes and updates VMs to bring observed state into agreement with
// desired state.
package reconciler

import (
	"context"
	"fmt"
	"log"

	"github.com/proxnix/proxnix/internal/qm"
	"github.com/proxnix/proxnix/internal/reconcile"
)

// Error reports that a Plan step failed; the whole reconcile run aborts
// immediately on the first error, with no attempt to roll back already
// applied side effects. The next webhook restarts the pipeline and the
// diff re-derives whatever work remains.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("reconcile: %s: %v", e.Op, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// Reconcile executes plan.ToCreate, then plan.ToDelete, then plan.ToUpdate,
// in that order, against backend. Every desired VM in ToCreate must
// reference an image kind present in images; this is checked before any
// side effect.
func Reconcile(ctx context.Context, logger *log.Logger, plan reconcile.Plan, images reconcile.BuiltImages, backend qm.Backend) error {
	for _, spec := range plan.ToCreate {
		if _, ok := images[spec.ImageKind]; !ok {
			return &Error{Op: "create " + spec.Name, Err: fmt.Errorf("no built image for kind %q", spec.ImageKind)}
		}
	}
	for _, u := range plan.ToUpdate {
		if u.Action != reconcile.ActionRebuild {
			continue
		}
		if _, ok := images[u.Spec.ImageKind]; !ok {
			return &Error{Op: "rebuild " + u.Name, Err: fmt.Errorf("no built image for kind %q", u.Spec.ImageKind)}
		}
	}

	for _, spec := range plan.ToCreate {
		logger.Printf("provisioning VM %s (id %d)", spec.Name, spec.VMID)
		if err := provision(ctx, backend, spec, images[spec.ImageKind]); err != nil {
			return &Error{Op: "create " + spec.Name, Err: err}
		}
		logger.Printf("VM %s provisioned and started", spec.Name)
	}

	for _, vm := range plan.ToDelete {
		logger.Printf("deleting VM %s (id %d)", vm.Name, vm.VMID)
		if err := backend.Destroy(ctx, vm.VMID); err != nil {
			return &Error{Op: "delete " + vm.Name, Err: err}
		}
		logger.Printf("deleted VM %s", vm.Name)
	}

	for _, u := range plan.ToUpdate {
		switch u.Action {
		case reconcile.ActionInPlace:
			logger.Printf("updating VM %s in place (%v)", u.Name, u.Changed)
			if err := backend.SetResources(ctx, u.Spec.VMID, u.Changed, u.Spec); err != nil {
				return &Error{Op: "update " + u.Name, Err: err}
			}
			logger.Printf("updated VM %s", u.Name)
		case reconcile.ActionRebuild:
			logger.Printf("rebuilding VM %s (destroy + provision)", u.Name)
			if err := backend.Destroy(ctx, u.Spec.VMID); err != nil {
				return &Error{Op: "rebuild-destroy " + u.Name, Err: err}
			}
			if err := provision(ctx, backend, u.Spec, images[u.Spec.ImageKind]); err != nil {
				return &Error{Op: "rebuild-provision " + u.Name, Err: err}
			}
		case reconcile.ActionProtected:
			logger.Printf("warning: VM %s is protected (%v changed), no action taken", u.Name, u.Changed)
		}
	}

	return nil
}

// provision creates a VM shell, imports and attaches its disk, enables the
// guest agent, and starts it.
func provision(ctx context.Context, backend qm.Backend, spec reconcile.VMSpec, imagePath string) error {
	if err := backend.Create(ctx, spec); err != nil {
		return err
	}
	diskRef, err := backend.ImportDisk(ctx, spec.VMID, imagePath, spec.StorageLocation)
	if err != nil {
		return err
	}
	if err := backend.SetDisk(ctx, spec.VMID, diskRef, spec.DiskSlot); err != nil {
		return err
	}
	if err := backend.SetAgent(ctx, spec.VMID); err != nil {
		return err
	}
	if _, err := backend.Start(ctx, spec.VMID); err != nil {
		return err
	}
	return nil
}
