// Package gitrepo inspects the platform's per-document git repositories.
// The scoring engine never writes to them; it only answers questions the
// staleness evaluator asks.
package gitrepo

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// Inspector reads per-document repositories under a shared base directory,
// one repo per document id, as the platform lays them out.
type Inspector struct {
	baseDir string
}

func NewInspector(baseDir string) *Inspector {
	return &Inspector{baseDir: baseDir}
}

func (i *Inspector) repoPath(documentID string) string {
	return filepath.Join(i.baseDir, documentID)
}

// mergeTrailer is the marker the platform writes into merge commit messages
// ("merge: source=<branch> target=main ...").
func mergeTrailer(branchName string) string {
	return "merge: source=" + branchName + " "
}

// BranchMergedAt scans main's history for the merge commit of the given
// branch and returns its commit time. A document without a repository, or a
// branch that was never merged, reports merged=false without error.
func (i *Inspector) BranchMergedAt(documentID, branchName string) (time.Time, bool, error) {
	repo, err := i.open(documentID)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) || errors.Is(err, git.ErrRepositoryNotExists) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, err
	}

	mainRef, err := repo.Reference(plumbing.NewBranchReferenceName("main"), true)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("resolve main for %s: %w", documentID, err)
	}

	iter, err := repo.Log(&git.LogOptions{From: mainRef.Hash()})
	if err != nil {
		return time.Time{}, false, fmt.Errorf("walk main history for %s: %w", documentID, err)
	}
	defer iter.Close()

	trailer := mergeTrailer(branchName)
	var mergedAt time.Time
	var found bool
	err = iter.ForEach(func(commit *object.Commit) error {
		if strings.Contains(commit.Message, trailer) {
			mergedAt = commit.Committer.When
			found = true
			return errStopIteration
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStopIteration) {
		return time.Time{}, false, fmt.Errorf("scan merges for %s: %w", documentID, err)
	}
	return mergedAt, found, nil
}

// LastCommitTime returns the time of the newest commit on a branch. Used for
// activity cross-checks when the registry's last_activity_at is suspect.
func (i *Inspector) LastCommitTime(documentID, branchName string) (time.Time, bool, error) {
	repo, err := i.open(documentID)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) || errors.Is(err, git.ErrRepositoryNotExists) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, err
	}

	ref, err := repo.Reference(plumbing.NewBranchReferenceName(branchName), true)
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("resolve branch %s for %s: %w", branchName, documentID, err)
	}

	commit, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return time.Time{}, false, fmt.Errorf("load head commit for %s/%s: %w", documentID, branchName, err)
	}
	return commit.Committer.When, true, nil
}

func (i *Inspector) open(documentID string) (*git.Repository, error) {
	path := i.repoPath(documentID)
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	repo, err := git.PlainOpen(path)
	if err != nil {
		return nil, fmt.Errorf("open repo %s: %w", documentID, err)
	}
	return repo, nil
}

var errStopIteration = errors.New("stop iteration")
