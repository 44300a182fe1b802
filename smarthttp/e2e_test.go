package smarthttp

import (
	"context"
	"fmt"
	"net/http/httptest"
	"os"
	osexec "os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmgilman/objgit/auth"
	"github.com/jmgilman/objgit/git"
	"github.com/jmgilman/objgit/git/testutil"
	"github.com/jmgilman/objgit/storage"
)

// gitClient runs the git command line client against a test server.
type gitClient struct {
	t    *testing.T
	home string
}

func newGitClient(t *testing.T) *gitClient {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping git client test in short mode")
	}
	if _, err := osexec.LookPath("git"); err != nil {
		t.Skip("git not found on PATH")
	}
	return &gitClient{t: t, home: t.TempDir()}
}

func (c *gitClient) run(dir string, args ...string) string {
	c.t.Helper()
	base := []string{
		"-c", "user.name=" + testutil.TestAuthor,
		"-c", "user.email=" + testutil.TestEmail,
		"-c", "http.extraHeader=Authorization: Bearer " + ownerToken,
		"-c", "init.defaultBranch=main",
	}
	cmd := osexec.Command("git", append(base, args...)...)
	cmd.Dir = dir
	cmd.Env = []string{
		"HOME=" + c.home,
		"PATH=" + os.Getenv("PATH"),
		"GIT_TERMINAL_PROMPT=0",
		"GIT_CONFIG_NOSYSTEM=1",
	}
	out, err := cmd.CombinedOutput()
	require.NoError(c.t, err, "git %v: %s", args, out)
	return string(out)
}

func TestEndToEnd_CloneAndPush(t *testing.T) {
	client := newGitClient(t)
	f := newFixture(t, auth.Private, nil)
	srv := httptest.NewServer(f.handler)
	defer srv.Close()

	url := srv.URL + "/alice/demo.git"
	ctx := context.Background()
	reader := git.NewReader(f.store)

	first := filepath.Join(t.TempDir(), "first")
	client.run("", "clone", url, first)
	client.run(first, "checkout", "main")

	require.NoError(t, writeFile(first, "NOTES.md", "one\n"))
	client.run(first, "add", "NOTES.md")
	client.run(first, "commit", "-m", "Add notes")
	client.run(first, "push", "origin", "main")

	file, err := reader.ReadFile(ctx, f.repo.ID, "main", "NOTES.md")
	require.NoError(t, err)
	require.NotNil(t, file)
	assert.Equal(t, "one\n", file.Content)

	second := filepath.Join(t.TempDir(), "second")
	client.run("", "clone", url, second)
	require.NoError(t, writeFile(second, "TODO.md", "two\n"))
	client.run(second, "add", "TODO.md")
	client.run(second, "commit", "-m", "Add todo")
	client.run(second, "push", "origin", "main")

	for path, want := range map[string]string{"NOTES.md": "one\n", "TODO.md": "two\n"} {
		file, err := reader.ReadFile(ctx, f.repo.ID, "main", path)
		require.NoError(t, err)
		require.NotNil(t, file, path)
		assert.Equal(t, want, file.Content)
	}

	client.run(first, "checkout", "-b", "feature")
	client.run(first, "push", "origin", "feature")
	branches, err := reader.ListBranches(ctx, f.repo.ID)
	require.NoError(t, err)
	require.Len(t, branches, 2)
	assert.Equal(t, "feature", branches[0].Name)

	commits, err := reader.Log(ctx, f.repo.ID, "main", 10)
	require.NoError(t, err)
	assert.Len(t, commits, 3)
}

func TestEndToEnd_PushKeepsPack(t *testing.T) {
	client := newGitClient(t)
	f := newFixture(t, auth.Private, nil)
	srv := httptest.NewServer(f.handler)
	defer srv.Close()

	url := srv.URL + "/alice/demo.git"
	ctx := context.Background()

	work := filepath.Join(t.TempDir(), "work")
	client.run("", "clone", url, work)
	client.run(work, "checkout", "main")

	// More objects than receive.unpackLimit, so receive-pack keeps the pack.
	const files = 150
	require.NoError(t, os.MkdirAll(filepath.Join(work, "gen"), 0o755))
	for i := range files {
		require.NoError(t, writeFile(work, fmt.Sprintf("gen/file-%03d.txt", i), fmt.Sprintf("content %d\n", i)))
	}
	client.run(work, "add", "gen")
	client.run(work, "commit", "-m", "Generate files")
	client.run(work, "push", "origin", "main")

	objects, err := storage.ListAll(ctx, f.store, f.repo.ID.Prefix()+"objects/pack/")
	require.NoError(t, err)
	var packs, indexes int
	for _, obj := range objects {
		switch {
		case strings.HasSuffix(obj.Key, ".pack"):
			packs++
		case strings.HasSuffix(obj.Key, ".idx"):
			indexes++
		}
	}
	require.Positive(t, packs)
	assert.Equal(t, packs, indexes)

	reader := git.NewReader(f.store)
	listing, err := reader.ListDirectory(ctx, f.repo.ID, "main", "gen")
	require.NoError(t, err)
	assert.Len(t, listing.Entries, files)

	file, err := reader.ReadFile(ctx, f.repo.ID, "main", "gen/file-042.txt")
	require.NoError(t, err)
	require.NotNil(t, file)
	assert.Equal(t, "content 42\n", file.Content)

	again := filepath.Join(t.TempDir(), "again")
	client.run("", "clone", url, again)
	data, err := os.ReadFile(filepath.Join(again, "gen", "file-149.txt"))
	require.NoError(t, err)
	assert.Equal(t, "content 149\n", string(data))
}
