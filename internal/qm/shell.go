package qm

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/proxnix/proxnix/internal/reconcile"
)

// ExecRunner runs commands directly via os/exec. It is the default runner.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", commandError(name, args, err, stderr.String())
	}
	return stdout.String(), nil
}

// BashRunner runs commands through a non-interactive bash -c wrapper
// instead of executing them directly.
type BashRunner struct{}

func (BashRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	cmdArgs := append([]string{"-c", `exec "$@"`, "bash", name}, args...)
	cmd := exec.CommandContext(ctx, "bash", cmdArgs...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", commandError(name, args, err, stderr.String())
	}
	return stdout.String(), nil
}

func commandError(name string, args []string, err error, stderr string) error {
	exitCode := -1
	if ee, ok := err.(*exec.ExitError); ok {
		exitCode = ee.ExitCode()
	}
	return &CommandError{
		Cmd:      strings.Join(append([]string{name}, args...), " "),
		ExitCode: exitCode,
		Stderr:   strings.TrimSpace(stderr),
	}
}

// ShellBackend implements Backend by shelling out to qm.
type ShellBackend struct {
	QmPath         string
	Runner         CommandRunner
	CommandTimeout time.Duration
}

var _ Backend = (*ShellBackend)(nil)

func (b *ShellBackend) runner() CommandRunner {
	if b.Runner != nil {
		return b.Runner
	}
	return ExecRunner{}
}

func (b *ShellBackend) qmPath() string {
	if b.QmPath != "" {
		return b.QmPath
	}
	return "qm"
}

func (b *ShellBackend) run(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()
	return b.runner().Run(ctx, b.qmPath(), args...)
}

func (b *ShellBackend) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if b.CommandTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, b.CommandTimeout)
}

func (b *ShellBackend) Create(ctx context.Context, spec reconcile.VMSpec) error {
	_, err := b.run(ctx,
		"create", strconv.Itoa(spec.VMID),
		"--name", spec.Name,
		"--memory", strconv.Itoa(spec.MemoryMB),
		"--cores", strconv.Itoa(spec.Cores),
		"--net0", fmt.Sprintf("virtio,bridge=%s", spec.NetworkBridge),
		"--scsihw", spec.SCSIHW,
	)
	return err
}

func (b *ShellBackend) ImportDisk(ctx context.Context, vmid int, imagePath, storage string) (string, error) {
	out, err := b.run(ctx,
		"importdisk", strconv.Itoa(vmid), imagePath, storage, "--format=qcow2",
	)
	if err != nil {
		return "", err
	}
	return parseImportDiskOutput(out)
}

func (b *ShellBackend) SetDisk(ctx context.Context, vmid int, diskRef, slot string) error {
	_, err := b.run(ctx,
		"set", strconv.Itoa(vmid),
		"--"+slot, diskRef,
		"--boot", "order="+slot,
	)
	return err
}

func (b *ShellBackend) SetAgent(ctx context.Context, vmid int) error {
	_, err := b.run(ctx,
		"set", strconv.Itoa(vmid),
		"--agent", "1",
		"--serial0", "socket",
	)
	return err
}

func (b *ShellBackend) SetResources(ctx context.Context, vmid int, changed reconcile.FieldChangeSet, spec reconcile.VMSpec) error {
	args := []string{"set", strconv.Itoa(vmid)}
	for _, f := range changed {
		switch f {
		case reconcile.FieldMemory:
			args = append(args, "--memory", strconv.Itoa(spec.MemoryMB))
		case reconcile.FieldCores:
			args = append(args, "--cores", strconv.Itoa(spec.Cores))
		case reconcile.FieldSockets:
			args = append(args, "--sockets", strconv.Itoa(spec.Sockets))
		}
	}
	if len(args) == 2 {
		return nil
	}
	_, err := b.run(ctx, args...)
	return err
}

func (b *ShellBackend) Start(ctx context.Context, vmid int) (bool, error) {
	_, err := b.run(ctx, "start", strconv.Itoa(vmid))
	if err == nil {
		return true, nil
	}
	var cmdErr *CommandError
	if e, ok := err.(*CommandError); ok {
		cmdErr = e
	}
	if cmdErr != nil && strings.Contains(cmdErr.Stderr, "already running") {
		return false, nil
	}
	return false, err
}

func (b *ShellBackend) Destroy(ctx context.Context, vmid int) error {
	_, err := b.run(ctx, "destroy", strconv.Itoa(vmid))
	return err
}

func (b *ShellBackend) List(ctx context.Context) ([]ListRow, error) {
	out, err := b.run(ctx, "list")
	if err != nil {
		return nil, err
	}
	return parseListTable(out)
}

func (b *ShellBackend) Config(ctx context.Context, vmid int) (Config, error) {
	out, err := b.run(ctx, "config", strconv.Itoa(vmid))
	if err != nil {
		return Config{}, err
	}
	return parseConfigLines(out), nil
}
