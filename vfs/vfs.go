package vfs

import (
	"context"
	"log/slog"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jmgilman/objgit/errors"
	"github.com/jmgilman/objgit/storage"
)

const (
	defaultBlockSize   = 1 << 20
	defaultCacheBlocks = 16
	renameConcurrency  = 8
)

// Option configures an FS.
type Option func(*FS)

// WithBlockSize sets the size of ranged reads issued by open files.
func WithBlockSize(n int64) Option {
	return func(f *FS) {
		if n > 0 {
			f.blockSize = n
		}
	}
}

// WithCacheBlocks sets how many read blocks each open file keeps.
func WithCacheBlocks(n int) Option {
	return func(f *FS) {
		if n > 0 {
			f.cacheBlocks = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(f *FS) {
		f.logger = l
	}
}

// FS is a billy.Filesystem rooted at a key prefix of a storage.Store.
type FS struct {
	ctx         context.Context
	store       storage.Store
	root        string // key prefix; empty or ending in "/"
	blockSize   int64
	cacheBlocks int
	logger      *slog.Logger
}

// New returns an FS rooted at prefix. ctx bounds every store call made
// through the FS and its files.
func New(ctx context.Context, store storage.Store, prefix string, opts ...Option) (*FS, error) {
	root := cleanPath(prefix)
	if root == "" {
		return nil, errors.New(errors.CodeInvalidInput, "vfs root prefix must not be empty")
	}

	f := &FS{
		ctx:         ctx,
		store:       store,
		root:        root + "/",
		blockSize:   defaultBlockSize,
		cacheBlocks: defaultCacheBlocks,
		logger:      slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Prefix returns the key prefix the FS is rooted at.
func (f *FS) Prefix() string {
	return f.root
}

// cleanPath normalizes name to a slash-separated path relative to the root.
// Cleaning against "/" collapses any leading "..".
func cleanPath(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	return strings.TrimPrefix(path.Clean("/"+name), "/")
}

func (f *FS) key(name string) string {
	return f.root + cleanPath(name)
}

func (f *FS) dirKey(name string) string {
	rel := cleanPath(name)
	if rel == "" {
		return f.root
	}
	return f.root + rel + "/"
}

func notExist(op, name string) error {
	return &os.PathError{Op: op, Path: name, Err: os.ErrNotExist}
}

func pathError(op, name string, err error) error {
	if storage.IsNotFound(err) {
		return notExist(op, name)
	}
	return &os.PathError{Op: op, Path: name, Err: err}
}

// ReadFile returns the content of name.
func (f *FS) ReadFile(name string) ([]byte, error) {
	data, err := f.store.Get(f.ctx, f.key(name))
	if err != nil {
		return nil, pathError("read", name, err)
	}
	return data, nil
}

// WriteFile replaces the content of name.
func (f *FS) WriteFile(name string, data []byte) error {
	if cleanPath(name) == "" {
		return &os.PathError{Op: "write", Path: name, Err: os.ErrInvalid}
	}
	if _, err := f.store.Put(f.ctx, f.key(name), data, storage.PutOptions{}); err != nil {
		return pathError("write", name, err)
	}
	return nil
}

// Stat reports whether name is a file, a directory, or missing.
func (f *FS) Stat(name string) (os.FileInfo, error) {
	rel := cleanPath(name)
	if rel == "" {
		return newDirInfo(path.Base(strings.TrimSuffix(f.root, "/"))), nil
	}

	info, err := f.store.Head(f.ctx, f.key(name))
	if err == nil {
		return newFileInfo(path.Base(rel), info.Size, info.LastModified), nil
	}
	if !storage.IsNotFound(err) {
		return nil, pathError("stat", name, err)
	}

	page, err := f.store.List(f.ctx, f.dirKey(name), storage.ListOptions{Limit: 1})
	if err != nil {
		return nil, pathError("stat", name, err)
	}
	if len(page.Objects) == 0 {
		return nil, notExist("stat", name)
	}
	return newDirInfo(path.Base(rel)), nil
}

// Lstat is Stat; object stores have no symlinks.
func (f *FS) Lstat(name string) (os.FileInfo, error) {
	return f.Stat(name)
}

// ReadDir lists the direct children of name sorted by name.
func (f *FS) ReadDir(name string) ([]os.FileInfo, error) {
	prefix := f.dirKey(name)

	var infos []os.FileInfo
	opts := storage.ListOptions{Delimited: true}
	for {
		page, err := f.store.List(f.ctx, prefix, opts)
		if err != nil {
			return nil, pathError("readdir", name, err)
		}
		for _, obj := range page.Objects {
			base := strings.TrimPrefix(obj.Key, prefix)
			if base == "" {
				continue
			}
			infos = append(infos, newFileInfo(base, obj.Size, obj.LastModified))
		}
		for _, p := range page.CommonPrefixes {
			base := strings.TrimSuffix(strings.TrimPrefix(p, prefix), "/")
			if base == "" {
				continue
			}
			infos = append(infos, newDirInfo(base))
		}
		if page.NextCursor == "" {
			break
		}
		opts.Cursor = page.NextCursor
	}

	if len(infos) == 0 {
		return nil, notExist("readdir", name)
	}
	if cleanPath(name) == "objects/pack" {
		infos = hideUnindexedPacks(infos)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name() < infos[j].Name() })
	return infos, nil
}

// hideUnindexedPacks drops pack files whose index is not stored yet. go-git
// discovers packs by their .pack name and fails when the index is missing,
// which is what a reader sees while a push is still uploading.
func hideUnindexedPacks(infos []os.FileInfo) []os.FileInfo {
	indexed := make(map[string]bool)
	for _, info := range infos {
		if base, ok := strings.CutSuffix(info.Name(), ".idx"); ok {
			indexed[base] = true
		}
	}
	out := infos[:0]
	for _, info := range infos {
		if base, ok := strings.CutSuffix(info.Name(), ".pack"); ok && !indexed[base] {
			continue
		}
		out = append(out, info)
	}
	return out
}

// ReadDirNames lists the names of the direct children of name.
func (f *FS) ReadDirNames(name string) ([]string, error) {
	infos, err := f.ReadDir(name)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(infos))
	for i, info := range infos {
		names[i] = info.Name()
	}
	return names, nil
}

// Remove deletes the file name. Directories cannot be removed this way
// unless they are already empty, which object stores cannot represent.
func (f *FS) Remove(name string) error {
	info, err := f.Stat(name)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return &os.PathError{Op: "remove", Path: name, Err: errors.New(errors.CodeInvalidInput, "directory not empty")}
	}
	if err := f.store.Delete(f.ctx, f.key(name)); err != nil {
		return pathError("remove", name, err)
	}
	return nil
}

// RemoveAll deletes name and everything below it. Missing paths succeed.
func (f *FS) RemoveAll(name string) error {
	if rel := cleanPath(name); rel != "" {
		if err := f.store.Delete(f.ctx, f.key(name)); err != nil {
			return pathError("removeall", name, err)
		}
	}
	if _, err := storage.DeletePrefix(f.ctx, f.store, f.dirKey(name)); err != nil {
		return pathError("removeall", name, err)
	}
	return nil
}

// Create creates or truncates name for writing.
func (f *FS) Create(filename string) (billy.File, error) {
	return f.OpenFile(filename, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o666)
}

// Open opens name read-only.
func (f *FS) Open(filename string) (billy.File, error) {
	return f.OpenFile(filename, os.O_RDONLY, 0)
}

// OpenFile opens name with the given flags. Read-only handles fetch ranges
// on demand; writable handles buffer the whole object and upload it on
// Close.
func (f *FS) OpenFile(filename string, flag int, _ os.FileMode) (billy.File, error) {
	if cleanPath(filename) == "" {
		return nil, &os.PathError{Op: "open", Path: filename, Err: os.ErrInvalid}
	}
	key := f.key(filename)

	if flag&(os.O_WRONLY|os.O_RDWR) == 0 {
		info, err := f.store.Head(f.ctx, key)
		if err != nil {
			if storage.IsNotFound(err) {
				f.logger.Debug("vfs open miss", "key", key)
			}
			return nil, pathError("open", filename, err)
		}
		return newReadFile(f, filename, key, info), nil
	}

	var content []byte
	exists := true
	needContent := flag&os.O_TRUNC == 0
	needExists := flag&os.O_CREATE == 0 || flag&os.O_EXCL != 0
	if needContent || needExists {
		data, err := f.store.Get(f.ctx, key)
		switch {
		case err == nil:
			content = data
		case storage.IsNotFound(err):
			exists = false
		default:
			return nil, pathError("open", filename, err)
		}
	}

	if flag&os.O_EXCL != 0 && flag&os.O_CREATE != 0 && exists {
		return nil, &os.PathError{Op: "open", Path: filename, Err: os.ErrExist}
	}
	if !exists && flag&os.O_CREATE == 0 {
		return nil, notExist("open", filename)
	}
	if flag&os.O_TRUNC != 0 {
		content = nil
	}

	wf := newWriteFile(f, filename, key, flag, content)
	// A freshly created or truncated file exists as soon as it is closed,
	// even if nothing is written.
	wf.dirty = flag&(os.O_CREATE|os.O_TRUNC) != 0
	return wf, nil
}

// TempFile creates a uniquely named file in dir.
func (f *FS) TempFile(dir, prefix string) (billy.File, error) {
	name := path.Join(cleanPath(dir), prefix+uuid.NewString())
	return f.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o666)
}

// Rename moves a file, or every key below a directory, with server-side
// copies followed by deletes. It is not atomic.
func (f *FS) Rename(oldpath, newpath string) error {
	oldKey, newKey := f.key(oldpath), f.key(newpath)
	if oldKey == newKey {
		return nil
	}

	_, err := f.store.Head(f.ctx, oldKey)
	switch {
	case err == nil:
		if err := f.store.Copy(f.ctx, oldKey, newKey); err != nil {
			return pathError("rename", oldpath, err)
		}
		if err := f.store.Delete(f.ctx, oldKey); err != nil {
			return pathError("rename", oldpath, err)
		}
		return nil
	case !storage.IsNotFound(err):
		return pathError("rename", oldpath, err)
	}

	oldDir, newDir := f.dirKey(oldpath), f.dirKey(newpath)
	objects, err := storage.ListAll(f.ctx, f.store, oldDir)
	if err != nil {
		return pathError("rename", oldpath, err)
	}
	if len(objects) == 0 {
		return notExist("rename", oldpath)
	}

	eg, ctx := errgroup.WithContext(f.ctx)
	eg.SetLimit(renameConcurrency)
	for _, obj := range objects {
		eg.Go(func() error {
			dst := newDir + strings.TrimPrefix(obj.Key, oldDir)
			if err := f.store.Copy(ctx, obj.Key, dst); err != nil {
				return err
			}
			return f.store.Delete(ctx, obj.Key)
		})
	}
	if err := eg.Wait(); err != nil {
		return pathError("rename", oldpath, err)
	}
	return nil
}

// MkdirAll is a no-op: directories exist implicitly.
func (f *FS) MkdirAll(string, os.FileMode) error {
	return nil
}

// Join joins path elements with forward slashes.
func (f *FS) Join(elem ...string) string {
	return path.Join(elem...)
}

// Symlink is not supported.
func (f *FS) Symlink(_, link string) error {
	return &os.PathError{Op: "symlink", Path: link, Err: billy.ErrNotSupported}
}

// Readlink is not supported.
func (f *FS) Readlink(link string) (string, error) {
	return "", &os.PathError{Op: "readlink", Path: link, Err: billy.ErrNotSupported}
}

// Chroot returns an FS rooted at p below the current root.
func (f *FS) Chroot(p string) (billy.Filesystem, error) {
	rel := cleanPath(p)
	if rel == "" {
		return f, nil
	}
	clone := *f
	clone.root = f.root + rel + "/"
	return &clone, nil
}

// Root returns the key prefix of the FS.
func (f *FS) Root() string {
	return f.root
}

// Capabilities omits ReadAndWrite and Lock. go-git then rewrites refs by
// replacing whole files, which is the only update an object store offers.
func (f *FS) Capabilities() billy.Capability {
	return billy.WriteCapability | billy.ReadCapability | billy.SeekCapability | billy.TruncateCapability
}

var (
	_ billy.Filesystem = (*FS)(nil)
	_ billy.Capable    = (*FS)(nil)
)
