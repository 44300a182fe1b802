// Package testutil builds repositories in an in-memory object store for
// tests. Commits are made with go-git through the same virtual filesystem
// the hosting paths read from, so fixtures exercise the real storage
// layout.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/require"

	"github.com/jmgilman/objgit/git"
	"github.com/jmgilman/objgit/repoid"
	"github.com/jmgilman/objgit/storage"
)

// Epoch is the author time of the first fixture commit. Each later commit
// is one minute newer, so history order is deterministic.
var Epoch = time.Date(2024, time.January, 1, 12, 0, 0, 0, time.UTC)

// Repo is a stored repository with a scratch worktree for making commits.
type Repo struct {
	Store    storage.Store
	ID       repoid.ID
	Worktree billy.Filesystem

	repo    *git.Repository
	commits int
}

// NewMemoryRepo creates an empty repository in a fresh memory store.
//
// Example:
//
//	r := testutil.NewMemoryRepo(t)
//	hash := r.CommitFiles(t, "Initial commit", map[string]string{
//	    "README.md": testutil.TestFileContent,
//	})
func NewMemoryRepo(t testing.TB) *Repo {
	t.Helper()
	return NewRepo(t, storage.NewMemory(), repoid.MustNew(TestOwner, TestRepoName))
}

// NewRepo creates id in store and opens it for committing.
func NewRepo(t testing.TB, store storage.Store, id repoid.ID) *Repo {
	t.Helper()

	ctx := context.Background()
	require.NoError(t, git.Create(ctx, store, id))

	wt := memfs.New()
	repo, err := git.OpenWithWorktree(ctx, store, id, wt)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	return &Repo{Store: store, ID: id, Worktree: wt, repo: repo}
}

// Repository returns the open repository handle.
func (r *Repo) Repository() *git.Repository {
	return r.repo
}

// WriteFile writes content to path in the worktree without committing.
func (r *Repo) WriteFile(t testing.TB, path, content string) {
	t.Helper()
	require.NoError(t, util.WriteFile(r.Worktree, path, []byte(content), 0o644))
}

// RemoveFile deletes path from the worktree without committing.
func (r *Repo) RemoveFile(t testing.TB, path string) {
	t.Helper()
	require.NoError(t, r.Worktree.Remove(path))
}

// Commit commits every worktree change on HEAD and returns the hash.
func (r *Repo) Commit(t testing.TB, message string) string {
	t.Helper()

	when := Epoch.Add(time.Duration(r.commits) * time.Minute)
	hash, err := r.repo.CreateCommit(git.CommitOptions{
		Author:  TestAuthor,
		Email:   TestEmail,
		Message: message,
		When:    when,
	})
	require.NoError(t, err)
	r.commits++
	return hash
}

// CommitFiles writes files and commits them in one step.
func (r *Repo) CommitFiles(t testing.TB, message string, files map[string]string) string {
	t.Helper()
	for path, content := range files {
		r.WriteFile(t, path, content)
	}
	return r.Commit(t, message)
}

// Branch points branch at hash.
func (r *Repo) Branch(t testing.TB, branch, hash string) {
	t.Helper()
	require.NoError(t, r.repo.SetBranch(branch, hash))
}
