// Package auth identifies callers and decides what they may do with a
// repository.
//
// Identity and repository metadata are collaborators behind small
// interfaces. The static implementations in this package are backed by
// configuration; a deployment with a user database supplies its own.
package auth

import (
	"context"
	"net/http"

	"github.com/jmgilman/objgit/errors"
)

// SessionCookie is the cookie carrying a browser session token.
const SessionCookie = "better-auth.session_token"

// User is an authenticated caller.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// Visibility controls anonymous read access to a repository.
type Visibility string

const (
	// Public repositories can be read by anyone.
	Public Visibility = "public"

	// Private repositories can only be read by their owner.
	Private Visibility = "private"
)

// Valid reports whether v is a known visibility.
func (v Visibility) Valid() bool {
	return v == Public || v == Private
}

// Repository is the metadata needed to serve a repository.
type Repository struct {
	OwnerID       string     `json:"ownerId"`
	OwnerUsername string     `json:"owner"`
	Name          string     `json:"name"`
	Visibility    Visibility `json:"visibility"`
}

// Access is the kind of operation being authorized.
type Access int

const (
	// Read covers clone, fetch and browsing.
	Read Access = iota

	// Write covers push.
	Write
)

func (a Access) String() string {
	if a == Write {
		return "write"
	}
	return "read"
}

// Authenticator resolves the caller of a request. A request without
// valid credentials yields a nil user and a nil error; errors are reserved
// for failures of the identity backend.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) (*User, error)
}

// Registry resolves repository metadata by owner username and repository
// name. An unknown repository yields nil and a nil error.
type Registry interface {
	Lookup(ctx context.Context, owner, name string) (*Repository, error)
}

// Authorize decides whether user may perform access on repo. Reads of
// public repositories need no identity. Private reads and every write need
// the owner. The error is UNAUTHORIZED when there is no user and FORBIDDEN
// when the user is not the owner.
func Authorize(user *User, repo *Repository, access Access) error {
	if access == Read && repo.Visibility == Public {
		return nil
	}
	if user == nil {
		return errors.WithContextMap(
			errors.New(errors.CodeUnauthorized, "authentication required"),
			map[string]any{"access": access.String(), "repository": repo.Name},
		)
	}
	if user.ID != repo.OwnerID {
		return errors.WithContextMap(
			errors.New(errors.CodeForbidden, "only the repository owner may "+access.String()),
			map[string]any{"user": user.Username, "repository": repo.Name},
		)
	}
	return nil
}
