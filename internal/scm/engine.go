// Package scm implements the SCM engine: branch operations, tarball
// archives of a tracked tree, and the atomic per-sandbox snapshot-commit
// protocol, all driven by shelling out to the `git` binary (os/exec,
// captured stdout/stderr, TrimSpace'd output) rather than a cgo/libgit2
// binding.
package scm

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/throwparty/litterbox/internal/domain"
)

const branchPrefix = "litterbox/"

const (
	refUpdateAttempts = 5
	refUpdateBackoff  = 10 * time.Millisecond
)

// Engine is a single-threaded SCM implementation rooted at a working-tree
// path. Concurrent callers must go through Locked (see locked.go).
type Engine struct {
	root string
}

// Open rebases an Engine at the repository containing dir.
func Open(dir string) (*Engine, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, errors.Wrap(err, "resolve repository path")
	}

	e := &Engine{root: abs}
	if _, err := e.run("rev-parse", "--git-dir"); err != nil {
		return nil, domain.NewScmError(domain.ScmStatus, errors.Wrap(err, "not a git repository"))
	}

	return e, nil
}

func (e *Engine) run(args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = e.root
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=Litterbox",
		"GIT_AUTHOR_EMAIL=litterbox@localhost",
		"GIT_COMMITTER_NAME=Litterbox",
		"GIT_COMMITTER_EMAIL=litterbox@localhost",
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}

	return stdout.String(), nil
}

func (e *Engine) runStdin(stdin []byte, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = e.root
	cmd.Stdin = bytes.NewReader(stdin)
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=Litterbox",
		"GIT_AUTHOR_EMAIL=litterbox@localhost",
		"GIT_COMMITTER_NAME=Litterbox",
		"GIT_COMMITTER_EMAIL=litterbox@localhost",
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}

	return stdout.String(), nil
}

func branchName(slug string) string {
	return branchPrefix + slug
}

// CreateBranch creates litterbox/<slug> at HEAD. Refuses if it already
// exists.
func (e *Engine) CreateBranch(slug string) (string, error) {
	name := branchName(slug)

	if _, err := e.run("show-ref", "--verify", "--quiet", "refs/heads/"+name); err == nil {
		return "", domain.ErrSandboxExists
	}

	head, err := e.run("rev-parse", "HEAD")
	if err != nil {
		return "", domain.NewScmError(domain.ScmBranchCreate, err)
	}

	if _, err := e.run("update-ref", "refs/heads/"+name, strings.TrimSpace(head)); err != nil {
		return "", domain.NewScmError(domain.ScmBranchCreate, err)
	}

	return name, nil
}

// DeleteBranch removes litterbox/<slug>.
func (e *Engine) DeleteBranch(slug string) error {
	name := branchName(slug)

	if _, err := e.run("show-ref", "--verify", "--quiet", "refs/heads/"+name); err != nil {
		return domain.ErrSandboxNotFound
	}

	if _, err := e.run("update-ref", "-d", "refs/heads/"+name); err != nil {
		return domain.NewScmError(domain.ScmBranchDelete, err)
	}

	return nil
}

// MakeArchive produces a tar of the tracked tree at ref. git archive
// inherently includes only tracked content and preserves file modes.
func (e *Engine) MakeArchive(ref string) ([]byte, error) {
	cmd := exec.Command("git", "archive", "--format=tar", ref)
	cmd.Dir = e.root

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, domain.NewScmError(domain.ScmArchive, fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String())))
	}

	return stdout.Bytes(), nil
}

// ListSandboxes enumerates local branches under litterbox/, returning the
// deduplicated, sorted slugs.
func (e *Engine) ListSandboxes() ([]string, error) {
	out, err := e.run("for-each-ref", "--format=%(refname:short)", "refs/heads/"+branchPrefix)
	if err != nil {
		return nil, domain.NewScmError(domain.ScmBranchList, err)
	}

	seen := make(map[string]struct{})
	var slugs []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		slug := strings.TrimPrefix(line, branchPrefix)
		if _, ok := seen[slug]; ok {
			continue
		}
		seen[slug] = struct{}{}
		slugs = append(slugs, slug)
	}

	sort.Strings(slugs)
	return slugs, nil
}

// RepoPrefix is the slug of the working-tree directory name, falling back
// to "repo" when that slugifies to empty.
func (e *Engine) RepoPrefix() (string, error) {
	out, err := e.run("rev-parse", "--show-toplevel")
	if err != nil {
		return "", domain.NewScmError(domain.ScmStatus, err)
	}

	base := filepath.Base(strings.TrimSpace(out))
	slug := domain.Slugify(base)
	if slug == "" {
		return "repo", nil
	}

	return slug, nil
}

// ApplyPatch applies a unified diff to the working directory only (no
// --cached / --index, so the git index is untouched).
func (e *Engine) ApplyPatch(diff string) error {
	cmd := exec.Command("git", "apply", "-")
	cmd.Dir = e.root
	cmd.Stdin = strings.NewReader(diff)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return &domain.PatchApplyError{Message: strings.TrimSpace(stderr.String())}
	}

	return nil
}
