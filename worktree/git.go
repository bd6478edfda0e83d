// Package worktree isolates each epic's in-flight work into its own git
// worktree, capped per epic, and surfaces merge conflicts rather than
// resolving them automatically.
package worktree

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/petestewart/orch-sub001/errs"
)

// gitRunner wraps the git-porcelain subprocess calls. Grounded directly on
// git/worktree.go's runGit/runGitOutput helpers and porcelain parsing.
type gitRunner struct {
	repoRoot   string
	mainBranch string
}

func newGitRunner(repoRoot, mainBranch string) *gitRunner {
	return &gitRunner{repoRoot: repoRoot, mainBranch: mainBranch}
}

func (g *gitRunner) run(dir, op string, args ...string) error {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return &errs.WorktreeError{Op: op, Stderr: stderr.String(), Err: err}
	}
	return nil
}

func (g *gitRunner) output(dir, op string, args ...string) ([]byte, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, &errs.WorktreeError{Op: op, Stderr: stderr.String(), Err: err}
	}
	return out, nil
}

// createWorktree adds a new worktree at path on a fresh branch, created
// from mainBranch if it doesn't already exist.
func (g *gitRunner) createWorktree(path, branch string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create worktree parent dir: %w", err)
	}
	if g.branchExists(branch) {
		return g.run(g.repoRoot, "worktree-add", "worktree", "add", path, branch)
	}
	return g.run(g.repoRoot, "worktree-add", "worktree", "add", "-b", branch, path, g.mainBranch)
}

func (g *gitRunner) branchExists(branch string) bool {
	return g.run(g.repoRoot, "show-ref", "show-ref", "--verify", "--quiet", "refs/heads/"+branch) == nil
}

// removeWorktree force-removes the worktree directory and prunes git's
// bookkeeping; falls back to a filesystem remove if git itself balks.
func (g *gitRunner) removeWorktree(path string) error {
	if err := g.run(g.repoRoot, "worktree-remove", "worktree", "remove", "--force", path); err != nil {
		if rmErr := os.RemoveAll(path); rmErr != nil {
			return err
		}
		_ = g.run(g.repoRoot, "worktree-prune", "worktree", "prune")
	}
	return nil
}

// listWorktrees parses `git worktree list --porcelain`.
func (g *gitRunner) listWorktrees() ([]string, error) {
	out, err := g.output(g.repoRoot, "worktree-list", "worktree", "list", "--porcelain")
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, line := range strings.Split(string(out), "\n") {
		if strings.HasPrefix(line, "worktree ") {
			paths = append(paths, strings.TrimPrefix(line, "worktree "))
		}
	}
	return paths, nil
}

// merge attempts a regular (non-squash) merge of branch into the checked
// out worktree at path, targeting targetBranch. Returns the conflicting
// paths (empty if the merge succeeded cleanly) and the resulting commit
// on success.
func (g *gitRunner) merge(path, targetBranch, branch string) (conflicts []string, commit string, err error) {
	if err := g.run(path, "checkout", "checkout", targetBranch); err != nil {
		return nil, "", err
	}
	mergeErr := g.run(path, "merge", "merge", "--no-edit", branch)
	if mergeErr == nil {
		out, err := g.output(path, "rev-parse", "rev-parse", "HEAD")
		if err != nil {
			return nil, "", err
		}
		return nil, strings.TrimSpace(string(out)), nil
	}

	out, listErr := g.output(path, "diff-unmerged", "diff", "--name-only", "--diff-filter=U")
	if listErr != nil {
		return nil, "", mergeErr
	}
	files := strings.Fields(string(out))
	if len(files) == 0 {
		// merge failed for a reason other than conflicts (e.g. dirty tree)
		return nil, "", mergeErr
	}
	return files, "", nil
}

// abortMerge discards an in-progress conflicted merge.
func (g *gitRunner) abortMerge(path string) error {
	return g.run(path, "merge-abort", "merge", "--abort")
}

// commitMerge commits a merge after the operator has staged conflict
// resolutions.
func (g *gitRunner) commitMerge(path string) (string, error) {
	out, err := g.output(path, "status-porcelain", "status", "--porcelain")
	if err != nil {
		return "", err
	}
	if len(bytes.TrimSpace(out)) == 0 {
		return "", &errs.NoMergeInProgressError{Path: path}
	}
	if err := g.run(path, "commit", "commit", "--no-edit"); err != nil {
		return "", err
	}
	head, err := g.output(path, "rev-parse", "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(head)), nil
}

var unsafeBranchChars = regexp.MustCompile(`[^a-zA-Z0-9-_]`)

// sanitizeBranchName converts a branch name into a safe directory-name
// component, grounded on git/worktree.go's sanitizeBranchName.
func sanitizeBranchName(branch string) string {
	branch = strings.TrimPrefix(branch, "feat/")
	branch = strings.TrimPrefix(branch, "fix/")
	branch = strings.TrimPrefix(branch, "chore/")
	branch = strings.TrimPrefix(branch, "ticket/")
	return unsafeBranchChars.ReplaceAllString(branch, "-")
}
