package git

import (
	stderrors "errors"
	"iter"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"

	"github.com/jmgilman/objgit/errors"
)

// CommitOptions describes a commit made through CreateCommit.
type CommitOptions struct {
	Author  string
	Email   string
	Message string

	// When defaults to the current time.
	When time.Time

	// AllowEmpty permits a commit without changes.
	AllowEmpty bool
}

// CreateCommit stages every change in the worktree and commits it on the
// current HEAD. The repository must have been opened with
// OpenWithWorktree.
//
// Example:
//
//	hash, err := repo.CreateCommit(git.CommitOptions{
//	    Author:  "Jane Doe",
//	    Email:   "jane@example.com",
//	    Message: "Add README",
//	})
func (r *Repository) CreateCommit(opts CommitOptions) (string, error) {
	if opts.Author == "" || opts.Email == "" {
		return "", errors.New(errors.CodeInvalidInput, "commit author and email are required")
	}
	if opts.Message == "" {
		return "", errors.New(errors.CodeInvalidInput, "commit message is required")
	}

	wt, err := r.repo.Worktree()
	if err != nil {
		if stderrors.Is(err, gogit.ErrIsBareRepository) {
			return "", errors.Wrap(err, errors.CodeInvalidInput, "repository was opened without a worktree")
		}
		return "", wrapError(err, "failed to get worktree")
	}

	if err := wt.AddWithOptions(&gogit.AddOptions{All: true}); err != nil {
		return "", wrapError(err, "failed to stage changes")
	}

	when := opts.When
	if when.IsZero() {
		when = time.Now()
	}
	hash, err := wt.Commit(opts.Message, &gogit.CommitOptions{
		Author: &object.Signature{
			Name:  opts.Author,
			Email: opts.Email,
			When:  when,
		},
		AllowEmptyCommits: opts.AllowEmpty,
	})
	if err != nil {
		if stderrors.Is(err, gogit.ErrEmptyCommit) {
			return "", errors.Wrap(err, errors.CodeConflict, "nothing to commit")
		}
		return "", wrapError(err, "failed to create commit")
	}

	return hash.String(), nil
}

// WalkCommits yields the history of branch newest first, ordered by
// committer time.
//
// The iterator streams; break out of the loop to stop early:
//
//	for commit, err := range repo.WalkCommits("main") {
//	    if err != nil {
//	        return err
//	    }
//	    fmt.Println(commit.Hash, commit.Message)
//	}
func (r *Repository) WalkCommits(branch string) iter.Seq2[Commit, error] {
	return func(yield func(Commit, error) bool) {
		tip, err := r.resolveBranch(branch)
		if err != nil {
			yield(Commit{}, err)
			return
		}

		head, err := r.repo.CommitObject(tip)
		if err != nil {
			yield(Commit{}, wrapError(err, "failed to read branch tip"))
			return
		}

		commits := object.NewCommitIterCTime(head, nil, nil)
		defer commits.Close()

		stopped := false
		err = commits.ForEach(func(c *object.Commit) error {
			if !yield(toCommit(c), nil) {
				stopped = true
				return storer.ErrStop
			}
			return nil
		})
		if err != nil && !stopped {
			yield(Commit{}, wrapError(err, "failed to walk commits"))
		}
	}
}

func toCommit(c *object.Commit) Commit {
	return Commit{
		Hash:      c.Hash.String(),
		Author:    c.Author.Name,
		Email:     c.Author.Email,
		Message:   c.Message,
		Timestamp: c.Author.When,
	}
}
