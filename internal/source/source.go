// Package source fetches and checks out an exact commit of the repository
// that declares the fleet's desired state.
package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/ssh"
)

// Error wraps a checkout failure with the operation that produced it.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("source: %s: %v", e.Op, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// CredentialError reports that neither an SSH agent nor any candidate
// private key file was usable for authenticating the clone.
type CredentialError struct {
	Tried []string
}

func (e *CredentialError) Error() string {
	return fmt.Sprintf("no usable SSH credentials (tried agent and %v)", e.Tried)
}

var candidateKeyPaths = []string{
	"~/.ssh/id_ed25519",
	"~/.ssh/id_rsa",
	"~/.ssh/id_ecdsa",
}

// EnsureCommit yields a working tree at destPath checked out to commitHash.
// If destPath does not exist, the repository is cloned there over SSH first.
// If it exists, it is opened in place with no re-clone. Destination layout
// is the caller's responsibility (<base>/<commit_hash> gives per-commit
// isolation so concurrent or historic builds never trample each other).
func EnsureCommit(ctx context.Context, repoURL, destPath, commitHash string) error {
	var repo *git.Repository

	if _, err := os.Stat(destPath); os.IsNotExist(err) {
		auth, err := resolveAuth()
		if err != nil {
			return &Error{Op: "resolve credentials", Err: err}
		}
		repo, err = git.PlainCloneContext(ctx, destPath, false, &git.CloneOptions{
			URL:  repoURL,
			Auth: auth,
		})
		if err != nil {
			return &Error{Op: "clone", Err: err}
		}
	} else if err != nil {
		return &Error{Op: "stat destination", Err: err}
	} else {
		repo, err = git.PlainOpen(destPath)
		if err != nil {
			return &Error{Op: "open", Err: err}
		}
	}

	hash := plumbing.NewHash(commitHash)
	if _, err := repo.CommitObject(hash); err != nil {
		return &Error{Op: "resolve commit", Err: err}
	}

	wt, err := repo.Worktree()
	if err != nil {
		return &Error{Op: "worktree", Err: err}
	}
	if err := wt.Checkout(&git.CheckoutOptions{Hash: hash, Keep: false}); err != nil {
		return &Error{Op: "checkout", Err: err}
	}
	return nil
}

// resolveAuth tries a running SSH agent first, then a fixed candidate list
// of private key files. Both failing is a fatal CredentialError.
func resolveAuth() (transport.AuthMethod, error) {
	if os.Getenv("SSH_AUTH_SOCK") != "" {
		auth, err := ssh.NewSSHAgentAuth("git")
		if err == nil {
			return auth, nil
		}
	}

	home, err := os.UserHomeDir()
	if err != nil {
		home = ""
	}
	for _, p := range candidateKeyPaths {
		path := expandHome(p, home)
		if _, statErr := os.Stat(path); statErr != nil {
			continue
		}
		keys, keyErr := ssh.NewPublicKeysFromFile("git", path, "")
		if keyErr != nil {
			continue
		}
		return keys, nil
	}

	return nil, &CredentialError{Tried: candidateKeyPaths}
}

func expandHome(path, home string) string {
	if len(path) >= 2 && path[:2] == "~/" && home != "" {
		return filepath.Join(home, path[2:])
	}
	return path
}
