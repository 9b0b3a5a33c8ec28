package scm

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/throwparty/litterbox/internal/domain"
)

// SnapshotRef returns the per-sandbox snapshot branch name, or the
// default unscoped one when slug is empty.
func SnapshotRef(slug string) string {
	if slug == "" {
		return "refs/heads/litterbox-snapshots"
	}
	return "refs/heads/litterbox-snapshots-" + slug
}

type treeEntry struct {
	name string
	mode string
	kind string
	sha  string
}

// gitTreeSortKey implements git's tree entry ordering: directories compare
// as if their name had a trailing slash, so "foo.txt" sorts before the
// directory "foo".
func gitTreeSortKey(e treeEntry) string {
	if e.kind == "tree" {
		return e.name + "/"
	}
	return e.name
}

// buildTree walks dir (skipping any ".git" entry at any depth) and returns
// the sha of the git tree object representing it. Blobs are written with
// `git hash-object -w`; subtrees are written recursively with `git
// mktree`. Neither touches the index or working tree.
func (e *Engine) buildTree(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", domain.NewScmError(domain.ScmCommit, err)
	}

	var treeEntries []treeEntry
	for _, ent := range entries {
		if ent.Name() == ".git" {
			continue
		}

		path := filepath.Join(dir, ent.Name())

		if ent.IsDir() {
			sha, err := e.buildTree(path)
			if err != nil {
				return "", err
			}
			treeEntries = append(treeEntries, treeEntry{name: ent.Name(), mode: "040000", kind: "tree", sha: sha})
			continue
		}

		info, err := ent.Info()
		if err != nil {
			return "", domain.NewScmError(domain.ScmCommit, err)
		}

		mode := "100644"
		if info.Mode()&0o111 != 0 {
			mode = "100755"
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return "", domain.NewScmError(domain.ScmCommit, err)
		}

		sha, err := e.runStdin(data, "hash-object", "-w", "--stdin")
		if err != nil {
			return "", domain.NewScmError(domain.ScmCommit, err)
		}

		treeEntries = append(treeEntries, treeEntry{name: ent.Name(), mode: mode, kind: "blob", sha: strings.TrimSpace(sha)})
	}

	sort.Slice(treeEntries, func(i, j int) bool {
		return gitTreeSortKey(treeEntries[i]) < gitTreeSortKey(treeEntries[j])
	})

	var b strings.Builder
	for _, te := range treeEntries {
		fmt.Fprintf(&b, "%s %s %s\t%s\n", te.mode, te.kind, te.sha, te.name)
	}

	sha, err := e.runStdin([]byte(b.String()), "mktree")
	if err != nil {
		return "", domain.NewScmError(domain.ScmCommit, err)
	}

	return strings.TrimSpace(sha), nil
}

// resolveRef returns the commit sha a ref points at, or "" if it does not
// exist.
func (e *Engine) resolveRef(ref string) (string, error) {
	out, err := e.run("rev-parse", "--verify", "--quiet", ref)
	if err != nil {
		return "", nil
	}
	return strings.TrimSpace(out), nil
}

// treeOf returns the tree sha a commit-ish points at.
func (e *Engine) treeOf(commit string) (string, error) {
	out, err := e.run("rev-parse", "--verify", "--quiet", commit+"^{tree}")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// CommitSnapshotFromStaging is the critical atomic snapshot operation:
// build a tree from stagingPath, reuse the snapshot ref's tip (or
// HEAD, or nothing) as parent, skip the commit entirely if the tree is
// unchanged, and otherwise create the commit object before force-updating
// the ref, restoring the ref to its pre-call value on any failure.
func (e *Engine) CommitSnapshotFromStaging(slug, stagingPath, message string) (string, error) {
	ref := SnapshotRef(slug)

	backup, err := e.resolveRef(ref)
	if err != nil {
		return "", domain.NewScmError(domain.ScmReference, err)
	}

	newTree, err := e.buildTree(stagingPath)
	if err != nil {
		return "", err
	}

	parent := backup
	if parent == "" {
		parent, err = e.resolveRef("HEAD")
		if err != nil {
			return "", domain.NewScmError(domain.ScmReference, err)
		}
	}

	if parent != "" {
		parentTree, err := e.treeOf(parent)
		if err == nil && parentTree == newTree {
			return "", nil
		}
	}

	args := []string{"commit-tree", newTree, "-m", message}
	if parent != "" {
		args = []string{"commit-tree", newTree, "-p", parent, "-m", message}
	}

	commitOut, err := e.run(args...)
	if err != nil {
		return "", domain.NewScmError(domain.ScmCommit, err)
	}
	commit := strings.TrimSpace(commitOut)

	if err := e.updateRefWithRetry(ref, commit); err != nil {
		e.restoreRef(ref, backup)
		return "", domain.NewScmError(domain.ScmReference, err)
	}

	return commit, nil
}

// updateRefWithRetry force-updates ref to point at commit, retrying on
// lock contention with linear backoff.
func (e *Engine) updateRefWithRetry(ref, commit string) error {
	var lastErr error
	for attempt := 1; attempt <= refUpdateAttempts; attempt++ {
		_, err := e.run("update-ref", ref, commit)
		if err == nil {
			return nil
		}
		lastErr = err

		if !isLockContention(err) {
			return err
		}

		sleepLinearBackoff(attempt)
	}
	return lastErr
}

func isLockContention(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unable to lock") || strings.Contains(msg, "lock exists") || strings.Contains(msg, "resource temporarily unavailable")
}

// restoreRef puts ref back to backup (deleting it if backup is empty), and
// swallows the restore's own error; the commit object is left in the
// object database, garbage-collectable, rather than risk a torn ref.
func (e *Engine) restoreRef(ref, backup string) {
	if backup == "" {
		_, _ = e.run("update-ref", "-d", ref)
		return
	}
	_, _ = e.run("update-ref", ref, backup)
}
