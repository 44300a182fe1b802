package smarthttp

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmgilman/objgit/auth"
	"github.com/jmgilman/objgit/bridge"
	"github.com/jmgilman/objgit/errors"
	"github.com/jmgilman/objgit/exec"
	"github.com/jmgilman/objgit/git"
	"github.com/jmgilman/objgit/git/testutil"
	"github.com/jmgilman/objgit/storage"
)

// gitCall is one recorded git invocation.
type gitCall struct {
	args  []string
	dir   string
	env   map[string]string
	stdin []byte
}

type respondFunc func(call gitCall) (*exec.Result, error)

// fakeGit records invocations and answers them with respond. Clones share
// the recording.
type fakeGit struct {
	rec *recorder

	dir    string
	env    map[string]string
	stdin  io.Reader
	stdout io.Writer
}

type recorder struct {
	mu      sync.Mutex
	calls   []gitCall
	respond respondFunc
}

func newFakeGit(respond respondFunc) *fakeGit {
	return &fakeGit{rec: &recorder{respond: respond}, env: map[string]string{}}
}

func (f *fakeGit) WithEnv(env map[string]string) exec.Executor {
	for k, v := range env {
		f.env[k] = v
	}
	return f
}
func (f *fakeGit) WithDir(dir string) exec.Executor          { f.dir = dir; return f }
func (f *fakeGit) WithContext(context.Context) exec.Executor { return f }
func (f *fakeGit) WithTimeout(time.Duration) exec.Executor   { return f }
func (f *fakeGit) WithInheritEnv() exec.Executor             { return f }
func (f *fakeGit) WithStdin(r io.Reader) exec.Executor       { f.stdin = r; return f }
func (f *fakeGit) WithStdout(w io.Writer) exec.Executor      { f.stdout = w; return f }
func (f *fakeGit) Clone() exec.Executor                      { return &fakeGit{rec: f.rec, env: map[string]string{}} }

func (f *fakeGit) Run(args ...string) (*exec.Result, error) {
	call := gitCall{args: args, dir: f.dir, env: f.env}
	if f.stdin != nil {
		call.stdin, _ = io.ReadAll(f.stdin)
	}

	f.rec.mu.Lock()
	f.rec.calls = append(f.rec.calls, call)
	f.rec.mu.Unlock()

	res, err := f.rec.respond(call)
	if res != nil && f.stdout != nil {
		_, _ = f.stdout.Write(res.Stdout)
		res.Stdout = nil
	}
	return res, err
}

func (f *fakeGit) Calls() []gitCall {
	f.rec.mu.Lock()
	defer f.rec.mu.Unlock()
	return append([]gitCall(nil), f.rec.calls...)
}

func ok(stdout string) respondFunc {
	return func(gitCall) (*exec.Result, error) {
		return &exec.Result{Stdout: []byte(stdout)}, nil
	}
}

const (
	ownerUser  = "alice"
	ownerToken = "alice-token"
	otherToken = "bob-token"
)

type fixture struct {
	handler *Handler
	git     *fakeGit
	repo    *testutil.Repo
	store   storage.Store
}

func newFixture(t *testing.T, visibility auth.Visibility, respond respondFunc) *fixture {
	t.Helper()

	repo := testutil.NewMemoryRepo(t)
	repo.CommitFiles(t, "Initial commit", map[string]string{
		"README.md":    testutil.TestFileContent,
		"src/main.go":  testutil.TestGoFileContent,
		"config/a.yml": testutil.TestYAMLContent,
	})

	authn, err := auth.NewStatic([]auth.Account{
		{ID: testutil.TestOwner, Username: ownerUser, Tokens: []string{ownerToken}},
		{ID: "user-2", Username: "bob", Tokens: []string{otherToken}},
	}, nil)
	require.NoError(t, err)

	registry := auth.NewStaticRegistry()
	_, err = registry.Add(auth.Repository{
		OwnerID:       testutil.TestOwner,
		OwnerUsername: ownerUser,
		Name:          testutil.TestRepoName,
		Visibility:    visibility,
	})
	require.NoError(t, err)

	cfg := Config{
		Reader:        git.NewReader(repo.Store),
		Bridge:        bridge.New(repo.Store, bridge.WithScratchRoot(t.TempDir())),
		Authenticator: authn,
		Registry:      registry,
		MaxBodyBytes:  1 << 10,
	}
	// A nil respond runs the real git binary.
	var fake *fakeGit
	if respond != nil {
		fake = newFakeGit(respond)
		cfg.Git = fake
	} else {
		cfg.MaxBodyBytes = 0
	}
	h, err := NewHandler(cfg)
	require.NoError(t, err)

	return &fixture{handler: h, git: fake, repo: repo, store: repo.Store}
}

func (f *fixture) do(t *testing.T, method, target, token string, body io.Reader, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	for k, v := range header {
		req.Header[k] = v
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func TestNewHandler_RequiresCollaborators(t *testing.T) {
	_, err := NewHandler(Config{})
	require.Error(t, err)
	assert.Equal(t, errors.CodeInvalidConfig, errors.GetCode(err))
}

func TestInfoRefs_Advertisement(t *testing.T) {
	f := newFixture(t, auth.Public, ok("0000"))

	rec := f.do(t, http.MethodGet, "/alice/demo.git/info/refs?service=git-upload-pack", "", nil, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/x-git-upload-pack-advertisement", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "001e# service=git-upload-pack\n0000"+"0000", rec.Body.String())

	calls := f.git.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, []string{"upload-pack", "--advertise-refs", "."}, calls[0].args)
	assert.Equal(t, calls[0].dir, calls[0].env["GIT_DIR"])
}

func TestInfoRefs_Authorization(t *testing.T) {
	tests := []struct {
		name       string
		visibility auth.Visibility
		service    string
		token      string
		wantStatus int
	}{
		{name: "public read anonymous", visibility: auth.Public, service: "git-upload-pack", wantStatus: http.StatusOK},
		{name: "private read anonymous", visibility: auth.Private, service: "git-upload-pack", wantStatus: http.StatusUnauthorized},
		{name: "private read other user", visibility: auth.Private, service: "git-upload-pack", token: otherToken, wantStatus: http.StatusUnauthorized},
		{name: "private read owner", visibility: auth.Private, service: "git-upload-pack", token: ownerToken, wantStatus: http.StatusOK},
		{name: "public write anonymous", visibility: auth.Public, service: "git-receive-pack", wantStatus: http.StatusUnauthorized},
		{name: "public write other user", visibility: auth.Public, service: "git-receive-pack", token: otherToken, wantStatus: http.StatusUnauthorized},
		{name: "public write owner", visibility: auth.Public, service: "git-receive-pack", token: ownerToken, wantStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.visibility, ok("0000"))

			rec := f.do(t, http.MethodGet, "/alice/demo/info/refs?service="+tt.service, tt.token, nil, nil)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus == http.StatusUnauthorized {
				assert.Equal(t, `Basic realm="objgit"`, rec.Header().Get("WWW-Authenticate"))
				assert.Empty(t, f.git.Calls(), "git must not run for a rejected request")
			}
		})
	}
}

func TestInfoRefs_UnknownRepository(t *testing.T) {
	f := newFixture(t, auth.Public, ok(""))

	for _, target := range []string{
		"/alice/missing/info/refs?service=git-upload-pack",
		"/nobody/demo/info/refs?service=git-upload-pack",
		"/alice/..bad/info/refs",
	} {
		rec := f.do(t, http.MethodGet, target, ownerToken, nil, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code, target)
		assert.Contains(t, rec.Body.String(), "Repository not found")
	}
}

func TestInfoRefs_UnknownService(t *testing.T) {
	f := newFixture(t, auth.Public, ok(""))

	rec := f.do(t, http.MethodGet, "/alice/demo/info/refs?service=git-upload-archive", "", nil, nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, f.git.Calls())
}

func TestInfoRefs_Dumb(t *testing.T) {
	t.Run("returns info/refs", func(t *testing.T) {
		f := newFixture(t, auth.Public, func(call gitCall) (*exec.Result, error) {
			require.Equal(t, []string{"update-server-info"}, call.args)
			return &exec.Result{}, writeInfoRefs(call.dir, "abc\trefs/heads/main\n")
		})

		rec := f.do(t, http.MethodGet, "/alice/demo/info/refs", "", nil, nil)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))
		assert.Equal(t, "abc\trefs/heads/main\n", rec.Body.String())
	})

	t.Run("empty when git fails", func(t *testing.T) {
		f := newFixture(t, auth.Public, func(gitCall) (*exec.Result, error) {
			return &exec.Result{ExitCode: 1, Stderr: []byte("fatal")}, &exec.ExecError{ExitCode: 1}
		})

		rec := f.do(t, http.MethodGet, "/alice/demo/info/refs", "", nil, nil)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, rec.Body.String())
	})
}

func TestUploadPack(t *testing.T) {
	f := newFixture(t, auth.Public, ok("PACK-DATA"))
	before := f.store.(*storage.Memory).Keys()

	rec := f.do(t, http.MethodPost, "/alice/demo/git-upload-pack", "", strings.NewReader("want abc\n"), nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/x-git-upload-pack-result", rec.Header().Get("Content-Type"))
	assert.Equal(t, "PACK-DATA", rec.Body.String())

	calls := f.git.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, []string{"upload-pack", "--stateless-rpc", "."}, calls[0].args)
	assert.Equal(t, "want abc\n", string(calls[0].stdin))
	assert.Equal(t, before, f.store.(*storage.Memory).Keys(), "fetch must not write to the store")
}

func TestUploadPack_GzipBody(t *testing.T) {
	f := newFixture(t, auth.Public, ok("ok"))

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write([]byte("0032want deadbeef\n0000"))
	require.NoError(t, err)
	require.NoError(t, gz.Close())

	rec := f.do(t, http.MethodPost, "/alice/demo/git-upload-pack", "", &buf,
		http.Header{"Content-Encoding": {"gzip"}})

	require.Equal(t, http.StatusOK, rec.Code)
	calls := f.git.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "0032want deadbeef\n0000", string(calls[0].stdin))
}

func TestUploadPack_BodyTooLarge(t *testing.T) {
	f := newFixture(t, auth.Public, ok(""))

	rec := f.do(t, http.MethodPost, "/alice/demo/git-upload-pack", "", strings.NewReader(strings.Repeat("x", 2<<10)), nil)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Empty(t, f.git.Calls())
}

func TestUploadPack_NonZeroExitReturnsOutput(t *testing.T) {
	f := newFixture(t, auth.Public, func(gitCall) (*exec.Result, error) {
		return &exec.Result{Stdout: []byte("ERR bad"), ExitCode: 128}, &exec.ExecError{ExitCode: 128}
	})

	rec := f.do(t, http.MethodPost, "/alice/demo/git-upload-pack", "", strings.NewReader("x"), nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ERR bad", rec.Body.String())
}

func TestReceivePack(t *testing.T) {
	t.Run("syncs changes back", func(t *testing.T) {
		f := newFixture(t, auth.Public, func(call gitCall) (*exec.Result, error) {
			if err := writeRef(call.dir, "refs/heads/feature", "0123456789012345678901234567890123456789"); err != nil {
				return nil, err
			}
			return &exec.Result{Stdout: []byte("0000")}, nil
		})

		rec := f.do(t, http.MethodPost, "/alice/demo/git-receive-pack", ownerToken, strings.NewReader("push"), nil)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/x-git-receive-pack-result", rec.Header().Get("Content-Type"))
		assert.Equal(t, "0000", rec.Body.String())

		data, err := f.store.Get(context.Background(), f.repo.ID.Prefix()+"refs/heads/feature")
		require.NoError(t, err)
		assert.Equal(t, "0123456789012345678901234567890123456789\n", string(data))
	})

	t.Run("non-zero exit skips sync", func(t *testing.T) {
		f := newFixture(t, auth.Public, func(call gitCall) (*exec.Result, error) {
			if err := writeRef(call.dir, "refs/heads/feature", "0123456789012345678901234567890123456789"); err != nil {
				return nil, err
			}
			return &exec.Result{Stdout: []byte("unpack error"), ExitCode: 1}, &exec.ExecError{ExitCode: 1}
		})

		rec := f.do(t, http.MethodPost, "/alice/demo/git-receive-pack", ownerToken, strings.NewReader("push"), nil)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "unpack error", rec.Body.String())
		_, err := f.store.Head(context.Background(), f.repo.ID.Prefix()+"refs/heads/feature")
		assert.True(t, errors.HasCode(err, errors.CodeNotFound))
	})

	t.Run("requires owner", func(t *testing.T) {
		f := newFixture(t, auth.Public, ok(""))

		rec := f.do(t, http.MethodPost, "/alice/demo/git-receive-pack", otherToken, strings.NewReader("push"), nil)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Empty(t, f.git.Calls())
	})

	t.Run("git not runnable", func(t *testing.T) {
		f := newFixture(t, auth.Public, func(gitCall) (*exec.Result, error) {
			return &exec.Result{ExitCode: -1}, &exec.ExecError{ExitCode: -1}
		})

		rec := f.do(t, http.MethodPost, "/alice/demo/git-receive-pack", ownerToken, strings.NewReader("push"), nil)

		assert.Equal(t, http.StatusBadGateway, rec.Code)
	})
}

func TestBrowse(t *testing.T) {
	f := newFixture(t, auth.Public, ok(""))

	t.Run("tree root", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/repos/alice/demo/tree/main", "", nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var listing git.Listing
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
		assert.False(t, listing.IsEmpty)
		var names []string
		for _, e := range listing.Entries {
			names = append(names, e.Name)
		}
		assert.Equal(t, []string{"config", "src", "README.md"}, names)
	})

	t.Run("tree subdirectory", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/repos/alice/demo/tree/main/src", "", nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var listing git.Listing
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
		require.Len(t, listing.Entries, 1)
		assert.Equal(t, "src/main.go", listing.Entries[0].Path)
		assert.Equal(t, git.EntryBlob, listing.Entries[0].Type)
	})

	t.Run("blob", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/repos/alice/demo/blob/main/src/main.go", "", nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var file git.File
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &file))
		assert.Equal(t, testutil.TestGoFileContent, file.Content)
		assert.Len(t, file.OID, 40)
	})

	t.Run("blob on directory", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/repos/alice/demo/blob/main/src", "", nil, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)

		var body errors.ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, string(errors.CodeNotFound), body.Code)
	})

	t.Run("branches", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/repos/alice/demo/branches", "", nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var body struct {
			Branches []git.Branch `json:"branches"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.Len(t, body.Branches, 1)
		assert.Equal(t, "main", body.Branches[0].Name)
		assert.True(t, body.Branches[0].IsDefault)
	})

	t.Run("commits", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/repos/alice/demo/commits/main?limit=5", "", nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var body struct {
			Commits []git.Commit `json:"commits"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.Len(t, body.Commits, 1)
		assert.Equal(t, "Initial commit", strings.TrimSpace(body.Commits[0].Message))
	})

	t.Run("bad limit", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/repos/alice/demo/commits/main?limit=zero", "", nil, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown branch is empty", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/repos/alice/demo/tree/nope", "", nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"entries":[],"isEmpty":true}`, rec.Body.String())
	})
}

func TestBrowse_BranchWithSlash(t *testing.T) {
	f := newFixture(t, auth.Public, ok(""))
	f.repo.WriteFile(t, "src/feature.go", "package main\n")
	head := f.repo.Commit(t, "Add feature")
	f.repo.Branch(t, "feature/x", head)

	t.Run("tree", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/repos/alice/demo/tree/feature%2Fx/src", "", nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var listing git.Listing
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
		require.Len(t, listing.Entries, 2)
		assert.Equal(t, "src/feature.go", listing.Entries[0].Path)
	})

	t.Run("blob", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/repos/alice/demo/blob/feature%2Fx/src/feature.go", "", nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var file git.File
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &file))
		assert.Equal(t, "package main\n", file.Content)
	})

	t.Run("commits", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/repos/alice/demo/commits/feature%2Fx", "", nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var body struct {
			Commits []git.Commit `json:"commits"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.Len(t, body.Commits, 2)
		assert.Equal(t, head, body.Commits[0].Hash)
	})

	t.Run("unescaped slash is a path", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/repos/alice/demo/tree/feature/x", "", nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"entries":[],"isEmpty":true}`, rec.Body.String())
	})
}

func TestBrowse_PrivateRepository(t *testing.T) {
	f := newFixture(t, auth.Private, ok(""))

	rec := f.do(t, http.MethodGet, "/api/repos/alice/demo/branches", "", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/repos/alice/demo/branches", ownerToken, nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		code errors.ErrorCode
		want int
	}{
		{errors.CodeNotFound, http.StatusNotFound},
		{errors.CodeInvalidInput, http.StatusBadRequest},
		{errors.CodeLocked, http.StatusServiceUnavailable},
		{errors.CodeTransport, http.StatusBadGateway},
		{errors.CodeStorage, http.StatusBadGateway},
		{errors.CodeTimeout, http.StatusGatewayTimeout},
		{errors.CodeInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(errors.New(tt.code, "x")))
		})
	}
}

func writeInfoRefs(dir, content string) error {
	if err := os.MkdirAll(filepath.Join(dir, "info"), 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "info", "refs"), []byte(content), 0o644)
}

func writeRef(dir, ref, hash string) error {
	path := filepath.Join(dir, filepath.FromSlash(ref))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(hash+"\n"), 0o644)
}

func writeFile(dir, name, content string) error {
	return os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644)
}
