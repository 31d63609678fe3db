package source

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// DirtySuffix marks a revision built from a tree with uncommitted changes.
const DirtySuffix = "-dirty"

// Info describes the source tree at build time.
type Info struct {
	// IsRepo is false when the tree is not inside a git work tree.
	IsRepo bool `json:"isRepo"`

	// Commit is the full HEAD commit SHA.
	Commit string `json:"commit,omitempty"`

	// Branch is the short branch name, or "HEAD" when detached.
	Branch string `json:"branch,omitempty"`

	// Dirty reports tracked or untracked changes relative to HEAD.
	Dirty bool `json:"dirty,omitempty"`
}

// Revision returns the value recorded in the OCI revision label: the
// commit with DirtySuffix appended for dirty trees, or "" outside git.
func (i *Info) Revision() string {
	if !i.IsRepo || i.Commit == "" {
		return ""
	}
	if i.Dirty {
		return i.Commit + DirtySuffix
	}
	return i.Commit
}

// Inspect reads git metadata for dir. A directory outside a work tree, a
// repository without commits, or a missing git binary yield an Info with
// IsRepo false and no error.
func Inspect(dir string) (*Info, error) {
	out, err := runGit(dir, "rev-parse", "--is-inside-work-tree")
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) || isGitFailure(err) {
			return &Info{}, nil
		}
		return nil, err
	}
	if strings.TrimSpace(out) != "true" {
		return &Info{}, nil
	}

	commit, err := runGit(dir, "rev-parse", "--verify", "--quiet", "HEAD")
	if err != nil {
		// No commits yet.
		if isGitFailure(err) {
			return &Info{}, nil
		}
		return nil, err
	}

	branch, err := runGit(dir, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return nil, err
	}

	status, err := runGit(dir, "status", "--porcelain", "--untracked-files=normal")
	if err != nil {
		return nil, err
	}

	return &Info{
		IsRepo: true,
		Commit: strings.TrimSpace(commit),
		Branch: strings.TrimSpace(branch),
		Dirty:  strings.TrimSpace(status) != "",
	}, nil
}

// gitError is returned when git ran but exited non-zero.
type gitError struct {
	args   []string
	stderr string
	err    error
}

func (e *gitError) Error() string {
	msg := fmt.Sprintf("git %s failed", strings.Join(e.args, " "))
	if e.stderr != "" {
		msg += ": " + e.stderr
	}
	return msg
}

func (e *gitError) Unwrap() error { return e.err }

// isGitFailure reports whether err came from git exiting non-zero, as
// opposed to git not running at all.
func isGitFailure(err error) bool {
	var ge *gitError
	return errors.As(err, &ge)
}

// runGit executes git against dir and returns its stdout.
func runGit(dir string, args ...string) (string, error) {
	// -C is resolved by git itself and behaves the same for every subcommand.
	fullArgs := append([]string{"-C", dir}, args...)

	// #nosec G204 -- args are constructed internally, not from user input
	cmd := exec.Command("git", fullArgs...)

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", &gitError{args: args, stderr: strings.TrimSpace(stderr.String()), err: err}
		}
		return "", fmt.Errorf("failed to run git: %w", err)
	}
	return stdout.String(), nil
}
