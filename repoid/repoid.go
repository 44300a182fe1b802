// Package repoid maps a repository identity to its object store key prefix.
//
// Every storage path for a repository is derived here. Callers never build
// prefixes by hand, so normalization cannot drift between the read path,
// the transport path and repository lifecycle operations.
package repoid

import (
	"regexp"
	"strings"

	"github.com/jmgilman/objgit/errors"
)

const (
	// Suffix is appended to the repository name in storage.
	Suffix = ".git"

	// LockNamespace holds write leases, outside every owner namespace.
	LockNamespace = ".locks/"

	maxNameLength = 100
)

var (
	nameRe  = regexp.MustCompile(`^[a-z0-9_.-]+$`)
	ownerRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)
	spaceRe = regexp.MustCompile(`\s+`)
)

// ID identifies a repository in storage. The zero value is invalid; use New.
type ID struct {
	owner string
	name  string
}

// New validates ownerID and normalizes name.
func New(ownerID, name string) (ID, error) {
	if err := ValidateOwner(ownerID); err != nil {
		return ID{}, err
	}
	normalized, err := NormalizeName(name)
	if err != nil {
		return ID{}, err
	}
	return ID{owner: ownerID, name: normalized}, nil
}

// MustNew is New for constants in tests and tooling. It panics on error.
func MustNew(ownerID, name string) ID {
	id, err := New(ownerID, name)
	if err != nil {
		panic(err)
	}
	return id
}

// Owner returns the owner id.
func (id ID) Owner() string { return id.owner }

// Name returns the normalized repository name without the .git suffix.
func (id ID) Name() string { return id.name }

// Prefix returns "{owner}/{name}.git/".
func (id ID) Prefix() string {
	return id.owner + "/" + id.name + Suffix + "/"
}

// LockKey returns the key of the repository write lease.
func (id ID) LockKey() string {
	return LockNamespace + id.owner + "/" + id.name + Suffix
}

// String returns "{owner}/{name}".
func (id ID) String() string {
	return id.owner + "/" + id.name
}

// IsZero reports whether id was never initialized.
func (id ID) IsZero() bool {
	return id.owner == "" && id.name == ""
}

// NormalizeName lowercases name, trims surrounding whitespace and one
// trailing ".git", and checks the result against the allowed characters.
// A name that still ends in ".git" after trimming is rejected, so the
// result is a fixed point: normalizing it again returns it unchanged.
func NormalizeName(name string) (string, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	n = strings.TrimSuffix(n, Suffix)
	return n, validateName(n, name)
}

// NormalizeNewName is NormalizeName for user-entered names at creation
// time: runs of whitespace become "-" first, so "My Project" is accepted
// as "my-project".
func NormalizeNewName(display string) (string, error) {
	return NormalizeName(spaceRe.ReplaceAllString(strings.TrimSpace(display), "-"))
}

func validateName(n, original string) error {
	switch {
	case n == "":
		return invalidName(original, "name is empty")
	case len(n) > maxNameLength:
		return invalidName(original, "name is too long")
	case strings.HasPrefix(n, "."):
		return invalidName(original, "name must not start with a dot")
	case strings.HasSuffix(n, Suffix):
		return invalidName(original, "name must not end in more than one .git")
	case !nameRe.MatchString(n):
		return invalidName(original, "name may only contain letters, digits, '_', '.' and '-'")
	}
	return nil
}

// ValidateOwner checks that ownerID cannot break out of its namespace.
func ValidateOwner(ownerID string) error {
	if !ownerRe.MatchString(ownerID) {
		return errors.WithContext(
			errors.New(errors.CodeInvalidInput, "invalid owner id"),
			"owner", ownerID,
		)
	}
	return nil
}

func invalidName(name, reason string) error {
	return errors.WithContext(errors.New(errors.CodeInvalidInput, reason), "name", name)
}
