// Package qm wraps the hypervisor's qm CLI: VM lifecycle subcommands and the
// table/line parsers needed to turn its text output into structured data.
package qm

import (
	"context"
	"fmt"

	"github.com/proxnix/proxnix/internal/reconcile"
)

// CommandRunner executes a command to completion and returns its stdout.
// Implementations surface a non-zero exit as a *CommandError.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
}

// CommandError carries the exit code and stderr text of a failed invocation,
// verbatim, with no retry: retrying is the caller's policy.
type CommandError struct {
	Cmd      string
	ExitCode int
	Stderr   string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command %s failed (exit %d): %s", e.Cmd, e.ExitCode, e.Stderr)
}

// ParseError reports a malformed qm output the adapter could not parse.
type ParseError struct {
	Source string
	Detail string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %s", e.Source, e.Detail)
}

// Backend is the subprocess adapter contract (spec C1): one method per qm
// subcommand the reconciler drives.
type Backend interface {
	Create(ctx context.Context, spec reconcile.VMSpec) error
	ImportDisk(ctx context.Context, vmid int, imagePath, storage string) (string, error)
	SetDisk(ctx context.Context, vmid int, diskRef, slot string) error
	SetAgent(ctx context.Context, vmid int) error
	SetResources(ctx context.Context, vmid int, changed reconcile.FieldChangeSet, spec reconcile.VMSpec) error
	Start(ctx context.Context, vmid int) (bool, error)
	Destroy(ctx context.Context, vmid int) error
	List(ctx context.Context) ([]ListRow, error)
	Config(ctx context.Context, vmid int) (Config, error)
}

// ListRow is one row of `qm list`'s output.
type ListRow struct {
	VMID       int
	Name       string
	Status     string
	MemMB      int
	BootDiskGB float64
	PID        int
}

// Config is the parsed result of `qm config <id>`.
type Config struct {
	Scalars   map[string]string
	Disks     map[string]string
	Networks  map[string]string
	IPConfigs map[string]string
	Serial    map[string]string
}

var scalarKeys = map[string]bool{
	"agent": true, "balloon": true, "boot": true, "bootdisk": true,
	"cipassword": true, "ciuser": true, "cores": true, "cpu": true,
	"cpuunits": true, "memory": true, "meta": true, "name": true,
	"numa": true, "onboot": true, "protection": true, "sockets": true,
	"sshkeys": true, "vga": true, "vmgenid": true,
}
