package auth

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/jmgilman/objgit/errors"
	"github.com/jmgilman/objgit/repoid"
)

// Account is a user known to the static authenticator.
type Account struct {
	ID       string
	Username string
	Email    string

	// PasswordHash is a bcrypt hash. An empty hash disables basic auth for
	// the account.
	PasswordHash string

	// Tokens are accepted as bearer tokens and never expire.
	Tokens []string
}

// Session is a token with an expiry, accepted as a bearer token or in the
// session cookie.
type Session struct {
	Token     string
	UserID    string
	ExpiresAt time.Time
}

// HashPassword returns a bcrypt hash of password for use in Account.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New(errors.CodeInvalidInput, "password must not be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", errors.Wrap(err, errors.CodeInvalidInput, "failed to hash password")
	}
	return string(hash), nil
}

// StaticOption configures a Static authenticator.
type StaticOption func(*Static)

// WithClock replaces time.Now for session expiry.
func WithClock(now func() time.Time) StaticOption {
	return func(s *Static) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) StaticOption {
	return func(s *Static) {
		if l != nil {
			s.logger = l
		}
	}
}

// Static authenticates against a fixed set of accounts and sessions.
//
// Credentials are checked in this order: an Authorization Bearer token,
// the session cookie, then Basic credentials where the user part is a
// username or an email address. A Bearer header that does not match is
// final; the cookie and Basic credentials are not consulted.
type Static struct {
	byID       map[string]*Account
	byUsername map[string]*Account
	byEmail    map[string]*Account
	tokens     map[string]*Account

	mu       sync.RWMutex
	sessions map[string]Session

	now    func() time.Time
	logger *slog.Logger
}

// NewStatic builds a Static authenticator. Duplicate ids, usernames,
// emails or tokens are rejected.
func NewStatic(accounts []Account, sessions []Session, opts ...StaticOption) (*Static, error) {
	s := &Static{
		byID:       make(map[string]*Account),
		byUsername: make(map[string]*Account),
		byEmail:    make(map[string]*Account),
		tokens:     make(map[string]*Account),
		sessions:   make(map[string]Session),
		now:        time.Now,
		logger:     slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}

	for i := range accounts {
		a := &accounts[i]
		if err := repoid.ValidateOwner(a.ID); err != nil {
			return nil, errors.WithContext(err, "account", a.Username)
		}
		if a.Username == "" {
			return nil, errors.Newf(errors.CodeInvalidConfig, "account %s has no username", a.ID)
		}
		if err := claim(s.byID, a.ID, a, "id"); err != nil {
			return nil, err
		}
		if err := claim(s.byUsername, a.Username, a, "username"); err != nil {
			return nil, err
		}
		if a.Email != "" {
			if err := claim(s.byEmail, strings.ToLower(a.Email), a, "email"); err != nil {
				return nil, err
			}
		}
		for _, tok := range a.Tokens {
			if err := claim(s.tokens, tok, a, "token"); err != nil {
				return nil, err
			}
		}
	}

	for _, sess := range sessions {
		if err := s.AddSession(sess); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func claim(m map[string]*Account, key string, a *Account, field string) error {
	if key == "" {
		return errors.Newf(errors.CodeInvalidConfig, "account %s has an empty %s", a.Username, field)
	}
	if _, dup := m[key]; dup {
		return errors.Newf(errors.CodeInvalidConfig, "duplicate account %s %q", field, key)
	}
	m[key] = a
	return nil
}

// AddSession registers a session for an existing account.
func (s *Static) AddSession(sess Session) error {
	if sess.Token == "" {
		return errors.New(errors.CodeInvalidInput, "session token is required")
	}
	if _, ok := s.byID[sess.UserID]; !ok {
		return errors.Newf(errors.CodeInvalidInput, "session for unknown user %q", sess.UserID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.Token] = sess
	return nil
}

// Authenticate implements Authenticator.
func (s *Static) Authenticate(_ context.Context, r *http.Request) (*User, error) {
	header := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return s.bearer(strings.TrimSpace(token)), nil
	}

	if c, err := r.Cookie(SessionCookie); err == nil && c.Value != "" {
		if u := s.session(c.Value); u != nil {
			return u, nil
		}
	}

	login, password, ok := r.BasicAuth()
	if !ok || login == "" || password == "" {
		return nil, nil
	}
	return s.basic(login, password), nil
}

func (s *Static) bearer(token string) *User {
	if token == "" {
		return nil
	}
	for tok, a := range s.tokens {
		if subtle.ConstantTimeCompare([]byte(tok), []byte(token)) == 1 {
			return toUser(a)
		}
	}
	return s.session(token)
}

func (s *Static) session(token string) *User {
	s.mu.RLock()
	sess, ok := s.sessions[token]
	s.mu.RUnlock()
	if !ok || !s.now().Before(sess.ExpiresAt) {
		return nil
	}
	return toUser(s.byID[sess.UserID])
}

func (s *Static) basic(login, password string) *User {
	a, ok := s.byUsername[login]
	if !ok {
		a, ok = s.byEmail[strings.ToLower(login)]
	}
	if !ok || a.PasswordHash == "" {
		return nil
	}
	if err := bcrypt.CompareHashAndPassword([]byte(a.PasswordHash), []byte(password)); err != nil {
		s.logger.Debug("basic auth rejected", "login", login)
		return nil
	}
	return toUser(a)
}

func toUser(a *Account) *User {
	return &User{ID: a.ID, Username: a.Username}
}

// StaticRegistry is an in-memory Registry. It is safe for concurrent use.
type StaticRegistry struct {
	mu    sync.RWMutex
	repos map[string]*Repository
}

// NewStaticRegistry returns an empty registry.
func NewStaticRegistry() *StaticRegistry {
	return &StaticRegistry{repos: make(map[string]*Repository)}
}

// Add registers a repository. The name is normalized the same way storage
// paths are, so "Demo.git" and "demo" are the same repository.
func (r *StaticRegistry) Add(repo Repository) (*Repository, error) {
	name, err := repoid.NormalizeName(repo.Name)
	if err != nil {
		return nil, err
	}
	if err := repoid.ValidateOwner(repo.OwnerID); err != nil {
		return nil, err
	}
	if repo.OwnerUsername == "" {
		return nil, errors.New(errors.CodeInvalidInput, "repository owner username is required")
	}
	if repo.Visibility == "" {
		repo.Visibility = Public
	}
	if !repo.Visibility.Valid() {
		return nil, errors.Newf(errors.CodeInvalidInput, "unknown visibility %q", repo.Visibility)
	}
	repo.Name = name

	r.mu.Lock()
	defer r.mu.Unlock()
	key := repo.OwnerUsername + "/" + name
	if _, dup := r.repos[key]; dup {
		return nil, errors.Newf(errors.CodeAlreadyExists, "repository %s already registered", key)
	}
	stored := repo
	r.repos[key] = &stored
	return &stored, nil
}

// Remove unregisters a repository. Removing an unknown repository is a
// no-op.
func (r *StaticRegistry) Remove(owner, name string) {
	normalized, err := repoid.NormalizeName(name)
	if err != nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.repos, owner+"/"+normalized)
}

// Lookup implements Registry.
func (r *StaticRegistry) Lookup(_ context.Context, owner, name string) (*Repository, error) {
	normalized, err := repoid.NormalizeName(name)
	if err != nil {
		return nil, nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	repo, ok := r.repos[owner+"/"+normalized]
	if !ok {
		return nil, nil
	}
	out := *repo
	return &out, nil
}

// List returns every registered repository.
func (r *StaticRegistry) List() []Repository {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Repository, 0, len(r.repos))
	for _, repo := range r.repos {
		out = append(out, *repo)
	}
	return out
}
