package git

import (
	stderrors "errors"
	"io/fs"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/jmgilman/objgit/errors"
)

// wrapError classifies err and wraps it with message. It returns nil when
// err is nil.
func wrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	classified := classifyError(err)
	return errors.Wrap(classified, errors.GetCode(classified), message)
}

// classifyError maps go-git and storage errors to platform errors. Lookups
// that miss become NOT_FOUND. Everything else is treated as a store
// failure and marked retryable.
func classifyError(err error) error {
	if err == nil {
		return nil
	}

	var platformErr errors.PlatformError
	if stderrors.As(err, &platformErr) && platformErr.Code() != errors.CodeNotFound {
		return errors.WithClassification(
			errors.Wrap(err, errors.CodeStorage, "repository storage failed"),
			errors.ClassificationRetryable,
		)
	}

	switch {
	case stderrors.Is(err, gogit.ErrRepositoryNotExists):
		return errors.Wrap(err, errors.CodeNotFound, "repository does not exist")
	case stderrors.Is(err, gogit.ErrRepositoryAlreadyExists):
		return errors.Wrap(err, errors.CodeAlreadyExists, "repository already exists")
	case stderrors.Is(err, plumbing.ErrReferenceNotFound):
		return errors.Wrap(err, errors.CodeNotFound, "reference not found")
	case stderrors.Is(err, plumbing.ErrInvalidReferenceName):
		return errors.Wrap(err, errors.CodeInvalidInput, "invalid reference name")
	case stderrors.Is(err, plumbing.ErrObjectNotFound):
		return errors.Wrap(err, errors.CodeNotFound, "object not found")
	case stderrors.Is(err, object.ErrFileNotFound),
		stderrors.Is(err, object.ErrDirectoryNotFound),
		stderrors.Is(err, object.ErrEntryNotFound):
		return errors.Wrap(err, errors.CodeNotFound, "path not found")
	case stderrors.Is(err, fs.ErrNotExist):
		return errors.Wrap(err, errors.CodeNotFound, "file not found")
	case platformErr != nil:
		return platformErr
	}

	return errors.WithClassification(
		errors.Wrap(err, errors.CodeStorage, "repository storage failed"),
		errors.ClassificationRetryable,
	)
}

// isNotFound reports whether err means the thing being looked up does not
// exist. Reader methods turn these into empty results.
func isNotFound(err error) bool {
	return errors.HasCode(classifyError(err), errors.CodeNotFound)
}

// isInvalidBranch reports whether err came from a malformed branch name.
// A name git could never have created is treated like a missing branch.
func isInvalidBranch(err error) bool {
	return stderrors.Is(err, plumbing.ErrInvalidReferenceName)
}
