package git

import (
	"slices"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"
)

// ListBranches returns the local branches sorted by name. The branch HEAD
// points at is marked IsDefault. A repository without commits has no
// branches.
//
// Example:
//
//	branches, err := repo.ListBranches()
//	for _, b := range branches {
//	    fmt.Println(b.Name, b.Hash, b.IsDefault)
//	}
func (r *Repository) ListBranches() ([]Branch, error) {
	var defaultBranch plumbing.ReferenceName
	if head, err := r.repo.Storer.Reference(plumbing.HEAD); err == nil && head.Type() == plumbing.SymbolicReference {
		defaultBranch = head.Target()
	} else if err != nil && !isNotFound(err) {
		return nil, wrapError(err, "failed to read HEAD")
	}

	refs, err := r.repo.Branches()
	if err != nil {
		return nil, wrapError(err, "failed to list branches")
	}
	defer refs.Close()

	branches := []Branch{}
	err = refs.ForEach(func(ref *plumbing.Reference) error {
		branches = append(branches, Branch{
			Name:      ref.Name().Short(),
			Hash:      ref.Hash().String(),
			IsDefault: ref.Name() == defaultBranch,
		})
		return nil
	})
	if err != nil {
		return nil, wrapError(err, "failed to iterate branches")
	}

	slices.SortFunc(branches, func(a, b Branch) int {
		return strings.Compare(a.Name, b.Name)
	})
	return branches, nil
}

// SetBranch points branch at the commit hash, creating the branch if it
// does not exist.
func (r *Repository) SetBranch(branch, hash string) error {
	name, err := branchRef(branch)
	if err != nil {
		return err
	}
	if !plumbing.IsHash(hash) {
		return wrapError(plumbing.ErrObjectNotFound, "invalid commit hash")
	}

	h := plumbing.NewHash(hash)
	if _, err := r.repo.CommitObject(h); err != nil {
		return wrapError(err, "failed to resolve commit")
	}
	if err := r.repo.Storer.SetReference(plumbing.NewHashReference(name, h)); err != nil {
		return wrapError(err, "failed to update branch")
	}
	return nil
}

// resolveBranch returns the tip commit hash of branch.
func (r *Repository) resolveBranch(branch string) (plumbing.Hash, error) {
	name, err := branchRef(branch)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	ref, err := r.repo.Reference(name, true)
	if err != nil {
		return plumbing.ZeroHash, wrapError(err, "failed to resolve branch")
	}
	return ref.Hash(), nil
}

// branchRef turns a short branch name into a validated reference name.
func branchRef(branch string) (plumbing.ReferenceName, error) {
	name := plumbing.NewBranchReferenceName(strings.TrimPrefix(branch, "refs/heads/"))
	if err := name.Validate(); err != nil {
		return "", wrapError(err, "invalid branch name")
	}
	return name, nil
}
