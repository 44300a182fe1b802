// Package smarthttp serves git's Smart HTTP protocol and a JSON browse API
// for repositories kept in an object store.
//
// Protocol requests materialize the repository with the bridge package and
// run the native git binary against the scratch copy. Browse requests read
// trees and blobs straight from the store through the git package.
//
// Routes:
//
//	GET  /{owner}/{repo}/info/refs[?service=git-upload-pack|git-receive-pack]
//	POST /{owner}/{repo}/git-upload-pack
//	POST /{owner}/{repo}/git-receive-pack
//	GET  /api/repos/{owner}/{repo}/tree/{branch}/{path...}
//	GET  /api/repos/{owner}/{repo}/blob/{branch}/{path...}
//	GET  /api/repos/{owner}/{repo}/branches
//	GET  /api/repos/{owner}/{repo}/commits/{branch}?limit=N
//
// {branch} is one path segment. A branch name containing "/" is sent with
// the slash escaped, as in /api/repos/alice/demo/tree/feature%2Fx/src.
package smarthttp

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/jmgilman/objgit/auth"
	"github.com/jmgilman/objgit/bridge"
	"github.com/jmgilman/objgit/errors"
	"github.com/jmgilman/objgit/exec"
	"github.com/jmgilman/objgit/git"
	"github.com/jmgilman/objgit/repoid"
)

const (
	// DefaultRealm is sent in the WWW-Authenticate challenge.
	DefaultRealm = "objgit"

	// DefaultMaxBodyBytes bounds a decoded request body.
	DefaultMaxBodyBytes int64 = 512 << 20

	// DefaultTimeout bounds one git subprocess.
	DefaultTimeout = 5 * time.Minute
)

// Config wires a Handler to its collaborators. Reader, Bridge,
// Authenticator and Registry are required.
type Config struct {
	Reader        *git.Reader
	Bridge        *bridge.Bridge
	Authenticator auth.Authenticator
	Registry      auth.Registry

	// Git runs git subcommands. It defaults to the git binary on PATH.
	Git exec.Executor

	Realm        string
	MaxBodyBytes int64
	Timeout      time.Duration
	Logger       *slog.Logger
}

// Handler is an http.Handler for the protocol and browse routes.
type Handler struct {
	reader   *git.Reader
	bridge   *bridge.Bridge
	authn    auth.Authenticator
	registry auth.Registry
	git      exec.Executor

	realm        string
	maxBodyBytes int64
	timeout      time.Duration
	logger       *slog.Logger

	mux *http.ServeMux
}

// NewHandler validates cfg and builds the route table.
func NewHandler(cfg Config) (*Handler, error) {
	switch {
	case cfg.Reader == nil:
		return nil, errors.New(errors.CodeInvalidConfig, "smarthttp: reader is required")
	case cfg.Bridge == nil:
		return nil, errors.New(errors.CodeInvalidConfig, "smarthttp: bridge is required")
	case cfg.Authenticator == nil:
		return nil, errors.New(errors.CodeInvalidConfig, "smarthttp: authenticator is required")
	case cfg.Registry == nil:
		return nil, errors.New(errors.CodeInvalidConfig, "smarthttp: registry is required")
	}

	h := &Handler{
		reader:       cfg.Reader,
		bridge:       cfg.Bridge,
		authn:        cfg.Authenticator,
		registry:     cfg.Registry,
		git:          cfg.Git,
		realm:        cfg.Realm,
		maxBodyBytes: cfg.MaxBodyBytes,
		timeout:      cfg.Timeout,
		logger:       cfg.Logger,
	}
	if h.git == nil {
		h.git = exec.NewWrapper(exec.New(exec.WithInheritEnv()), "git")
	}
	if h.realm == "" {
		h.realm = DefaultRealm
	}
	if h.maxBodyBytes <= 0 {
		h.maxBodyBytes = DefaultMaxBodyBytes
	}
	if h.timeout <= 0 {
		h.timeout = DefaultTimeout
	}
	if h.logger == nil {
		h.logger = slog.New(slog.DiscardHandler)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{owner}/{repo}/info/refs", h.handleInfoRefs)
	mux.HandleFunc("POST /{owner}/{repo}/git-upload-pack", h.handleService(uploadPack))
	mux.HandleFunc("POST /{owner}/{repo}/git-receive-pack", h.handleService(receivePack))

	mux.HandleFunc("GET /api/repos/{owner}/{repo}/tree/{branch}", h.handleTree)
	mux.HandleFunc("GET /api/repos/{owner}/{repo}/tree/{branch}/{path...}", h.handleTree)
	mux.HandleFunc("GET /api/repos/{owner}/{repo}/blob/{branch}/{path...}", h.handleBlob)
	mux.HandleFunc("GET /api/repos/{owner}/{repo}/branches", h.handleBranches)
	mux.HandleFunc("GET /api/repos/{owner}/{repo}/commits/{branch}", h.handleCommits)

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	h.mux = mux
	return h, nil
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// target is a repository resolved from the request path.
type target struct {
	meta *auth.Repository
	id   repoid.ID
	user *auth.User
}

// resolve looks up the repository named in the path and authorizes access.
// It writes the failure response itself and returns false when the request
// must stop.
func (h *Handler) resolve(w http.ResponseWriter, r *http.Request, access auth.Access) (*target, bool) {
	ctx := r.Context()
	owner, name := r.PathValue("owner"), r.PathValue("repo")
	log := h.logger.With("owner", owner, "repo", name, "access", access.String())

	meta, err := h.registry.Lookup(ctx, owner, name)
	if err != nil {
		log.Error("repository lookup failed", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return nil, false
	}
	if meta == nil {
		http.Error(w, "Repository not found", http.StatusNotFound)
		return nil, false
	}

	id, err := repoid.New(meta.OwnerID, meta.Name)
	if err != nil {
		log.Error("registered repository has an invalid id", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return nil, false
	}

	t := &target{meta: meta, id: id}
	if access == auth.Read && meta.Visibility == auth.Public {
		return t, true
	}

	t.user, err = h.authn.Authenticate(ctx, r)
	if err != nil {
		log.Error("authentication backend failed", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return nil, false
	}
	if err := auth.Authorize(t.user, meta, access); err != nil {
		log.Debug("request not authorized", "error", err)
		h.challenge(w)
		return nil, false
	}
	return t, true
}

func (h *Handler) challenge(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Basic realm="`+h.realm+`"`)
	http.Error(w, "Unauthorized", http.StatusUnauthorized)
}

// runGit runs a git subcommand against the materialized repository in dir.
func (h *Handler) runGit(ctx context.Context, dir string, configure func(exec.Executor) exec.Executor, args ...string) (*exec.Result, error) {
	e := h.git.Clone().
		WithContext(ctx).
		WithTimeout(h.timeout).
		WithDir(dir).
		WithEnv(map[string]string{"GIT_DIR": dir})
	if configure != nil {
		e = configure(e)
	}
	return e.Run(args...)
}

// statusFor maps a platform error to an HTTP status.
func statusFor(err error) int {
	switch errors.GetCode(err) {
	case errors.CodeNotFound:
		return http.StatusNotFound
	case errors.CodeInvalidInput:
		return http.StatusBadRequest
	case errors.CodeUnauthorized:
		return http.StatusUnauthorized
	case errors.CodeForbidden:
		return http.StatusForbidden
	case errors.CodeConflict, errors.CodeAlreadyExists:
		return http.StatusConflict
	case errors.CodeLocked, errors.CodeUnavailable:
		return http.StatusServiceUnavailable
	case errors.CodeTimeout:
		return http.StatusGatewayTimeout
	case errors.CodeTransport, errors.CodeStorage, errors.CodeNetwork:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
