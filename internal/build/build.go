// Package build wraps the declarative build tool: it lists the
// configurations a source tree declares and builds each into a disk image.
package build

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/proxnix/proxnix/internal/reconcile"
)

// outputImageName is the fixed filename the declarative build always
// produces beneath its out-link, per the build tool's own convention.
const outputImageName = "nixos.qcow2"

// Error wraps a build-tool invocation failure, carrying its stderr verbatim.
type Error struct {
	Op     string
	Stderr string
	Err    error
}

func (e *Error) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("build: %s: %v: %s", e.Op, e.Err, e.Stderr)
	}
	return fmt.Sprintf("build: %s: %v", e.Op, e.Err)
}
func (e *Error) Unwrap() error { return e.Err }

// Runner executes the declarative build tool in a given working directory.
// Production wiring uses ExecRunner; tests substitute a fake.
type Runner interface {
	Run(ctx context.Context, dir string, args ...string) (string, error)
}

// ExecRunner runs the build tool via os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "nix", args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", &Error{Op: strings.Join(args, " "), Err: err, Stderr: strings.TrimSpace(stderr.String())}
	}
	return stdout.String(), nil
}

// Builder runs the declarative build tool against a checked-out source tree.
type Builder struct {
	Runner Runner
}

func (b *Builder) runner() Runner {
	if b.Runner != nil {
		return b.Runner
	}
	return ExecRunner{}
}

// ListConfigurations evaluates the top-level nixosConfigurations attribute
// set of the source tree and returns its attribute names.
func (b *Builder) ListConfigurations(ctx context.Context, repoPath string) ([]string, error) {
	out, err := b.runner().Run(ctx, repoPath,
		"eval", ".#nixosConfigurations", "--apply", "builtins.attrNames", "--json")
	if err != nil {
		return nil, err
	}
	var names []string
	if err := json.Unmarshal([]byte(out), &names); err != nil {
		return nil, &Error{Op: "list configurations", Err: fmt.Errorf("decode attrNames: %w", err)}
	}
	sort.Strings(names)
	return names, nil
}

// ensureDirs makes sure <repoPath>/<name> exists for every configuration,
// idempotently, before any build runs.
func ensureDirs(repoPath string, names []string) error {
	for _, name := range names {
		if err := os.MkdirAll(filepath.Join(repoPath, name), 0o755); err != nil {
			return &Error{Op: "ensure build directory for " + name, Err: err}
		}
	}
	return nil
}

// Build runs the declarative build for one configuration and returns the
// absolute path of the produced disk image: <repoPath>/<name>/result/nixos.qcow2.
func (b *Builder) Build(ctx context.Context, repoPath, name string) (string, error) {
	resultLink := filepath.Join(repoPath, name, "result")
	attr := fmt.Sprintf(".#nixosConfigurations.%s.config.system.build.vm", name)
	if _, err := b.runner().Run(ctx, repoPath, "build", attr, "-o", resultLink); err != nil {
		return "", err
	}
	return filepath.Join(resultLink, outputImageName), nil
}

// BuildAllConfigs lists every configuration the source tree declares and
// builds each strictly sequentially; the first failure aborts the run with
// no further builds attempted.
func (b *Builder) BuildAllConfigs(ctx context.Context, repoPath string) (reconcile.BuiltImages, error) {
	names, err := b.ListConfigurations(ctx, repoPath)
	if err != nil {
		return nil, err
	}
	if err := ensureDirs(repoPath, names); err != nil {
		return nil, err
	}

	images := make(reconcile.BuiltImages, len(names))
	for _, name := range names {
		imagePath, err := b.Build(ctx, repoPath, name)
		if err != nil {
			return nil, err
		}
		images[name] = imagePath
	}
	return images, nil
}
