package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmgilman/objgit/git"
	"github.com/jmgilman/objgit/storage"
)

func TestNewMemoryRepo(t *testing.T) {
	t.Run("writes the initial layout", func(t *testing.T) {
		r := NewMemoryRepo(t)

		head, err := r.Store.Get(context.Background(), r.ID.Prefix()+"HEAD")
		require.NoError(t, err)
		assert.Equal(t, git.InitialHead, string(head))
	})

	t.Run("commits land in the store", func(t *testing.T) {
		r := NewMemoryRepo(t)
		hash := r.CommitFiles(t, "Initial commit", map[string]string{"README.md": TestFileContent})
		require.Len(t, hash, 40)

		ref, err := r.Store.Get(context.Background(), r.ID.Prefix()+"refs/heads/main")
		require.NoError(t, err)
		assert.Equal(t, hash+"\n", string(ref))

		objects, err := storage.ListAll(context.Background(), r.Store, r.ID.Prefix()+"objects/")
		require.NoError(t, err)
		assert.NotEmpty(t, objects)
	})

	t.Run("later commits keep earlier files", func(t *testing.T) {
		r := NewMemoryRepo(t)
		r.CommitFiles(t, "first", map[string]string{"a.txt": "a"})
		r.CommitFiles(t, "second", map[string]string{"b.txt": "b"})

		reader := git.NewReader(r.Store)
		listing, err := reader.ListDirectory(context.Background(), r.ID, "main", "")
		require.NoError(t, err)
		require.Len(t, listing.Entries, 2)
	})
}
