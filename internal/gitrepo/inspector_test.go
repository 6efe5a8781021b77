package gitrepo

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

func signature(when time.Time) *object.Signature {
	return &object.Signature{Name: "Tester", Email: "tester@local.test", When: when}
}

// initDocumentRepo lays out a repo the way the platform does: content on
// main, HEAD pointing at main.
func initDocumentRepo(t *testing.T, baseDir, documentID string, when time.Time) *git.Repository {
	t.Helper()
	path := filepath.Join(baseDir, documentID)
	if err := os.MkdirAll(path, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	repo, err := git.PlainInit(path, false)
	if err != nil {
		t.Fatalf("init repo: %v", err)
	}
	worktree, err := repo.Worktree()
	if err != nil {
		t.Fatalf("worktree: %v", err)
	}
	if err := os.WriteFile(filepath.Join(path, "content.json"), []byte(`{"title":"doc"}`), 0o644); err != nil {
		t.Fatalf("write content: %v", err)
	}
	if _, err := worktree.Add("content.json"); err != nil {
		t.Fatalf("add: %v", err)
	}
	hash, err := worktree.Commit("Import document baseline", &git.CommitOptions{Author: signature(when)})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewHashReference(plumbing.NewBranchReferenceName("main"), hash)); err != nil {
		t.Fatalf("set main: %v", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("main"))); err != nil {
		t.Fatalf("set HEAD: %v", err)
	}
	return repo
}

func commitOnMain(t *testing.T, repo *git.Repository, message string, when time.Time) {
	t.Helper()
	worktree, err := repo.Worktree()
	if err != nil {
		t.Fatalf("worktree: %v", err)
	}
	_, err = worktree.Commit(message, &git.CommitOptions{
		Author:            signature(when),
		Committer:         signature(when),
		AllowEmptyCommits: true,
	})
	if err != nil {
		t.Fatalf("commit %q: %v", message, err)
	}
}

func TestBranchMergedAtFindsMergeCommit(t *testing.T) {
	baseDir := t.TempDir()
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	repo := initDocumentRepo(t, baseDir, "doc1", base)

	mergeTime := base.Add(48 * time.Hour)
	commitOnMain(t, repo, "Apply review feedback\n\nmerge: source=proposal-7 target=main actor=ada mode=copy-commit", mergeTime)

	inspector := NewInspector(baseDir)
	mergedAt, merged, err := inspector.BranchMergedAt("doc1", "proposal-7")
	if err != nil {
		t.Fatalf("BranchMergedAt failed: %v", err)
	}
	if !merged {
		t.Fatal("expected merged=true")
	}
	if !mergedAt.Equal(mergeTime) {
		t.Errorf("mergedAt = %v, want %v", mergedAt, mergeTime)
	}
}

func TestBranchMergedAtUnmergedBranch(t *testing.T) {
	baseDir := t.TempDir()
	initDocumentRepo(t, baseDir, "doc1", time.Now())

	inspector := NewInspector(baseDir)
	_, merged, err := inspector.BranchMergedAt("doc1", "proposal-never")
	if err != nil {
		t.Fatalf("BranchMergedAt failed: %v", err)
	}
	if merged {
		t.Error("expected merged=false for branch with no merge commit")
	}
}

func TestBranchMergedAtMissingRepo(t *testing.T) {
	inspector := NewInspector(t.TempDir())
	_, merged, err := inspector.BranchMergedAt("ghost", "proposal-1")
	if err != nil {
		t.Fatalf("missing repo must not error: %v", err)
	}
	if merged {
		t.Error("expected merged=false for missing repo")
	}
}

func TestBranchMergedAtDoesNotMatchOtherBranches(t *testing.T) {
	baseDir := t.TempDir()
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	repo := initDocumentRepo(t, baseDir, "doc1", base)
	commitOnMain(t, repo, "merge: source=proposal-10 target=main actor=ada mode=copy-commit", base.Add(time.Hour))

	inspector := NewInspector(baseDir)
	// proposal-1 is a prefix of proposal-10; the trailer match must not
	// confuse the two.
	_, merged, err := inspector.BranchMergedAt("doc1", "proposal-1")
	if err != nil {
		t.Fatalf("BranchMergedAt failed: %v", err)
	}
	if merged {
		t.Error("proposal-1 reported merged from proposal-10's trailer")
	}
}

func TestLastCommitTime(t *testing.T) {
	baseDir := t.TempDir()
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	initDocumentRepo(t, baseDir, "doc1", base)

	inspector := NewInspector(baseDir)
	when, ok, err := inspector.LastCommitTime("doc1", "main")
	if err != nil {
		t.Fatalf("LastCommitTime failed: %v", err)
	}
	if !ok {
		t.Fatal("expected ok=true")
	}
	if !when.Equal(base) {
		t.Errorf("when = %v, want %v", when, base)
	}

	_, ok, err = inspector.LastCommitTime("doc1", "missing-branch")
	if err != nil {
		t.Fatalf("missing branch must not error: %v", err)
	}
	if ok {
		t.Error("expected ok=false for missing branch")
	}
}
