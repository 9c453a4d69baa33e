// Package desiredstate resolves the fleet's desired VM set by evaluating the
// proxnix attribute of a checked-out source tree.
package desiredstate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/proxnix/proxnix/internal/reconcile"
)

// Error wraps an evaluation or decode failure with its stderr or decode
// detail verbatim.
type Error struct {
	Op     string
	Stderr string
	Err    error
}

func (e *Error) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("desiredstate: %s: %v: %s", e.Op, e.Err, e.Stderr)
	}
	return fmt.Sprintf("desiredstate: %s: %v", e.Op, e.Err)
}
func (e *Error) Unwrap() error { return e.Err }

// Runner evaluates the declarative tool against a checked-out source tree.
type Runner interface {
	Run(ctx context.Context, dir string, args ...string) (string, error)
}

// ExecRunner runs the evaluation via os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "nix", args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", &Error{Op: "eval", Err: err, Stderr: strings.TrimSpace(stderr.String())}
	}
	return stdout.String(), nil
}

// Resolver evaluates the proxnix attribute and decodes it into a DesiredSet.
type Resolver struct {
	Runner Runner
}

func (r *Resolver) runner() Runner {
	if r.Runner != nil {
		return r.Runner
	}
	return ExecRunner{}
}

// Resolve evaluates `.#proxnix` of the source tree at repoPath to JSON and
// unmarshals it into a DesiredSet. Any non-zero exit or decode failure
// surfaces the tool's stderr or decode error verbatim.
func (r *Resolver) Resolve(ctx context.Context, repoPath string) (reconcile.DesiredSet, error) {
	out, err := r.runner().Run(ctx, repoPath, "eval", ".#proxnix", "--json")
	if err != nil {
		return reconcile.DesiredSet{}, err
	}

	var desired reconcile.DesiredSet
	if err := json.Unmarshal([]byte(out), &desired); err != nil {
		return reconcile.DesiredSet{}, &Error{Op: "decode proxnix attribute", Err: err}
	}
	return desired, nil
}
