package vfs

import (
	"context"
	stderrors "errors"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmgilman/objgit/errors"
	"github.com/jmgilman/objgit/storage"
)

func newTestFS(t *testing.T, opts ...Option) (*FS, *storage.Memory) {
	t.Helper()
	store := storage.NewMemory()
	f, err := New(context.Background(), store, "u1/demo.git/", opts...)
	require.NoError(t, err)
	return f, store
}

func TestNewRequiresPrefix(t *testing.T) {
	_, err := New(context.Background(), storage.NewMemory(), "/")
	assert.Equal(t, errors.CodeInvalidInput, errors.GetCode(err))

	f, err := New(context.Background(), storage.NewMemory(), "u1/demo.git")
	require.NoError(t, err)
	assert.Equal(t, "u1/demo.git/", f.Prefix())
}

func TestCleanPath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "HEAD", want: "HEAD"},
		{in: "/refs/heads/main", want: "refs/heads/main"},
		{in: `refs\heads\main`, want: "refs/heads/main"},
		{in: "../other.git/HEAD", want: "other.git/HEAD"},
		{in: "refs/../../../x", want: "x"},
		{in: "", want: ""},
		{in: ".", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, cleanPath(tt.in))
		})
	}
}

func TestReadWriteFile(t *testing.T) {
	f, store := newTestFS(t)

	require.NoError(t, f.WriteFile("HEAD", []byte("ref: refs/heads/main\n")))
	assert.Equal(t, []string{"u1/demo.git/HEAD"}, store.Keys())

	data, err := f.ReadFile("HEAD")
	require.NoError(t, err)
	assert.Equal(t, "ref: refs/heads/main\n", string(data))

	_, err = f.ReadFile("packed-refs")
	require.Error(t, err)
	assert.True(t, os.IsNotExist(err))
	assert.True(t, stderrors.Is(err, os.ErrNotExist))
}

func TestPrefixIsolation(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	_, err := store.Put(ctx, "u1/other.git/HEAD", []byte("secret"), storage.PutOptions{})
	require.NoError(t, err)

	f, err := New(ctx, store, "u1/demo.git/")
	require.NoError(t, err)

	_, err = f.ReadFile("../other.git/HEAD")
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, f.WriteFile("../../escape", []byte("x")))
	assert.Contains(t, store.Keys(), "u1/demo.git/escape")

	sub, err := f.Chroot("../../")
	require.NoError(t, err)
	assert.Equal(t, "u1/demo.git/", sub.Root())
}

func TestStat(t *testing.T) {
	f, _ := newTestFS(t)
	require.NoError(t, f.WriteFile("refs/heads/main", []byte("abc\n")))

	info, err := f.Stat("refs/heads/main")
	require.NoError(t, err)
	assert.False(t, info.IsDir())
	assert.Equal(t, int64(4), info.Size())
	assert.Equal(t, "main", info.Name())

	info, err = f.Stat("refs/heads")
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	info, err = f.Stat("")
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	_, err = f.Stat("refs/tags")
	assert.True(t, os.IsNotExist(err))
}

func TestStorageErrorsAreNotNotFound(t *testing.T) {
	f, store := newTestFS(t)
	require.NoError(t, f.WriteFile("HEAD", []byte("x")))

	store.SetFault(func(op, key string) error {
		return errors.New(errors.CodeStorage, "bucket offline")
	})

	_, err := f.ReadFile("HEAD")
	require.Error(t, err)
	assert.False(t, os.IsNotExist(err))
	assert.True(t, errors.IsRetryable(err))

	_, err = f.Stat("HEAD")
	assert.False(t, os.IsNotExist(err))

	_, err = f.ReadDir("refs")
	assert.False(t, os.IsNotExist(err))

	_, err = f.Open("HEAD")
	assert.False(t, os.IsNotExist(err))
}

func TestReadDir(t *testing.T) {
	f, _ := newTestFS(t)
	for _, name := range []string{"refs/heads/main", "refs/heads/dev", "refs/heads/feature/x", "refs/tags/v1"} {
		require.NoError(t, f.WriteFile(name, []byte("h")))
	}

	names, err := f.ReadDirNames("refs/heads")
	require.NoError(t, err)
	assert.Equal(t, []string{"dev", "feature", "main"}, names)

	infos, err := f.ReadDir("refs")
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.True(t, infos[0].IsDir())
	assert.Equal(t, "heads", infos[0].Name())

	_, err = f.ReadDir("objects/pack")
	assert.True(t, os.IsNotExist(err))
}

func TestRemove(t *testing.T) {
	f, store := newTestFS(t)
	require.NoError(t, f.WriteFile("refs/heads/old", []byte("h")))
	require.NoError(t, f.WriteFile("refs/heads/main", []byte("h")))

	require.NoError(t, f.Remove("refs/heads/old"))
	assert.Equal(t, []string{"u1/demo.git/refs/heads/main"}, store.Keys())

	assert.True(t, os.IsNotExist(f.Remove("refs/heads/old")))
	assert.Error(t, f.Remove("refs/heads"))

	require.NoError(t, f.RemoveAll("refs"))
	assert.Empty(t, store.Keys())
	require.NoError(t, f.RemoveAll("refs"))
}

func TestOpenFileFlags(t *testing.T) {
	f, _ := newTestFS(t)

	_, err := f.OpenFile("missing", os.O_RDWR, 0)
	assert.True(t, os.IsNotExist(err))

	file, err := f.Create("description")
	require.NoError(t, err)
	_, err = file.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, file.Close())
	require.NoError(t, file.Close())

	_, err = f.OpenFile("description", os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o666)
	assert.True(t, os.IsExist(err))

	file, err = f.OpenFile("description", os.O_WRONLY|os.O_APPEND, 0)
	require.NoError(t, err)
	_, err = file.Write([]byte(" world"))
	require.NoError(t, err)
	require.NoError(t, file.Close())

	data, err := f.ReadFile("description")
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))

	file, err = f.OpenFile("description", os.O_RDWR, 0)
	require.NoError(t, err)
	require.NoError(t, file.Truncate(0))
	_, err = file.Seek(0, io.SeekStart)
	require.NoError(t, err)
	_, err = file.Write([]byte("new"))
	require.NoError(t, err)
	require.NoError(t, file.Close())

	data, err = f.ReadFile("description")
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))

	empty, err := f.Create("empty")
	require.NoError(t, err)
	require.NoError(t, empty.Close())
	data, err = f.ReadFile("empty")
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestRangedReads(t *testing.T) {
	f, store := newTestFS(t, WithBlockSize(4), WithCacheBlocks(2))
	content := "0123456789abcdefghij"
	require.NoError(t, f.WriteFile("objects/pack/pack-1.pack", []byte(content)))

	var gets int
	store.SetFault(func(op, key string) error {
		if op == "get" {
			gets++
		}
		return nil
	})

	file, err := f.Open("objects/pack/pack-1.pack")
	require.NoError(t, err)
	defer func() { _ = file.Close() }()

	buf := make([]byte, 6)
	n, err := file.ReadAt(buf, 3)
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.Equal(t, "345678", string(buf))
	assert.Equal(t, 3, gets)

	n, err = file.ReadAt(buf[:2], 4)
	require.NoError(t, err)
	assert.Equal(t, "45", string(buf[:n]))
	assert.Equal(t, 3, gets, "block served from cache")

	pos, err := file.Seek(-3, io.SeekEnd)
	require.NoError(t, err)
	assert.Equal(t, int64(17), pos)

	rest, err := io.ReadAll(file)
	require.NoError(t, err)
	assert.Equal(t, "hij", string(rest))

	n, err = file.ReadAt(buf, 18)
	assert.Equal(t, 2, n)
	assert.ErrorIs(t, err, io.EOF)

	_, err = file.Write([]byte("x"))
	assert.Error(t, err)
}

func TestTempFileAndRename(t *testing.T) {
	f, store := newTestFS(t)

	tmp, err := f.TempFile("objects/pack", "tmp_obj_")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(tmp.Name(), "objects/pack/tmp_obj_"))
	_, err = tmp.Write([]byte("zlib"))
	require.NoError(t, err)
	require.NoError(t, tmp.Close())

	require.NoError(t, f.Rename(tmp.Name(), "objects/ab/cdef"))
	assert.Equal(t, []string{"u1/demo.git/objects/ab/cdef"}, store.Keys())

	require.NoError(t, f.WriteFile("refs/heads/a", []byte("1")))
	require.NoError(t, f.WriteFile("refs/heads/b", []byte("2")))
	require.NoError(t, f.Rename("refs/heads", "refs/archive"))
	names, err := f.ReadDirNames("refs/archive")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names)

	assert.True(t, os.IsNotExist(f.Rename("nope", "other")))
}

func TestChroot(t *testing.T) {
	f, store := newTestFS(t)
	sub, err := f.Chroot("objects")
	require.NoError(t, err)
	require.NoError(t, util.WriteFile(sub, "ab/cdef", []byte("x"), 0o644))
	assert.Equal(t, []string{"u1/demo.git/objects/ab/cdef"}, store.Keys())
}

func TestUnsupported(t *testing.T) {
	f, _ := newTestFS(t)
	assert.ErrorIs(t, f.Symlink("a", "b"), billy.ErrNotSupported)
	_, err := f.Readlink("b")
	assert.ErrorIs(t, err, billy.ErrNotSupported)
	assert.NoError(t, f.MkdirAll("objects/pack", 0o755))
	assert.False(t, billy.CapabilityCheck(f, billy.ReadAndWriteCapability))
	assert.False(t, billy.CapabilityCheck(f, billy.LockCapability))
}

func TestReadDirHidesPacksWithoutIndex(t *testing.T) {
	f, _ := newTestFS(t)
	for _, name := range []string{
		"objects/pack/pack-aaa.pack",
		"objects/pack/pack-aaa.idx",
		"objects/pack/pack-bbb.pack",
		"refs/heads/pack-ccc.pack",
	} {
		require.NoError(t, f.WriteFile(name, []byte("x")))
	}

	names, err := f.ReadDirNames("objects/pack")
	require.NoError(t, err)
	assert.Equal(t, []string{"pack-aaa.idx", "pack-aaa.pack"}, names)

	names, err = f.ReadDirNames("refs/heads")
	require.NoError(t, err)
	assert.Equal(t, []string{"pack-ccc.pack"}, names, "only the pack directory is filtered")

	require.NoError(t, f.WriteFile("objects/pack/pack-bbb.idx", []byte("x")))
	names, err = f.ReadDirNames("/objects/pack/")
	require.NoError(t, err)
	assert.Len(t, names, 4)
}
